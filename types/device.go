// SPDX-License-Identifier: Apache-2.0

package types

import "github.com/plan44dev/vdc-host/dsuid"

// ColorClass groups devices for zone-wide color-aware operations (e.g.
// "this room's dominant light color class"), per spec.md §3.
type ColorClass int

const (
	ColorClassUnknown ColorClass = iota
	ColorClassYellowLight
	ColorClassGreyShade
	ColorClassBlueClimate
	ColorClassCyanAudioVideo
	ColorClassMagentaSecurity
	ColorClassRedHeating
	ColorClassGreenAccess
	ColorClassBlackJoker
)

// SceneTable maps scene numbers to Scenes for one device; optional, since
// not every device class supports per-device scene memory (spec.md §3).
type SceneTable struct {
	Scenes map[int]*Scene
}

// NewSceneTable creates an empty SceneTable.
func NewSceneTable() *SceneTable {
	return &SceneTable{Scenes: map[int]*Scene{}}
}

// Scene returns the stored scene for sceneNo, or nil.
func (t *SceneTable) Scene(sceneNo int) *Scene {
	if t == nil {
		return nil
	}
	return t.Scenes[sceneNo]
}

// SetScene stores (or replaces) a scene.
func (t *SceneTable) SetScene(s *Scene) { t.Scenes[s.SceneNo] = s }

// Device is the data model for one addressable backend device, per
// spec.md §3: it owns at most one Output, vectors of Buttons/Inputs/
// Sensors, an optional SceneTable, and serializer bookkeeping. Apply/
// update/scene-pipeline *behavior* lives in the device package, which
// wraps a *Device; this type is pure data so it can be loaded/saved by a
// PersistenceBinder without pulling in goroutines.
type Device struct {
	DSUID dsuid.DSUID

	Output  *OutputBehaviour // nil if the device has no output
	Buttons []*ButtonBehaviour
	Inputs  []*BinaryInputBehaviour
	Sensors []*SensorBehaviour
	Scenes  *SceneTable // nil if unsupported

	ZoneID             int
	ColorClass         ColorClass
	DominantColorClass ColorClass // derived from Output/Buttons, see DeriveDominantColorClass

	// Name and IconBaseName are operator-assigned identity overrides, set
	// via x-p44-setIdentity (SPEC_FULL.md §9); empty means "use the
	// backend-derived default".
	Name         string
	IconBaseName string

	// Serializer flags, per spec.md §3/§4.4, mirrored by
	// device.Serializer.syncData after every apply/update transition.
	// Written only by the device package's Serializer.
	ApplyInProgress     bool
	UpdateInProgress    bool
	MissedApplyAttempts int

	// LocalPriority suppresses non-forced zone-wide operations while
	// true, per spec.md §4.5/GLOSSARY.
	LocalPriority bool

	// Dim-in-progress bookkeeping, per spec.md §4.5, mirrored by
	// device.Device.syncDimData after every dim transition.
	DimInProgress bool
	DimArea       int
	DimChannel    ChannelType
	DimDirection  DimDirection
}

// DeriveDominantColorClass sets DominantColorClass from the Output's kind
// if present, falling back to the first configured button's group,
// matching the original implementation's "output wins, buttons as
// fallback" rule for a device with no explicit ColorClass set.
func (d *Device) DeriveDominantColorClass() {
	if d.ColorClass != ColorClassUnknown {
		d.DominantColorClass = d.ColorClass
		return
	}
	if d.Output != nil {
		switch d.Output.OutputKind {
		case OutputShadow:
			d.DominantColorClass = ColorClassGreyShade
		case OutputVentilation:
			d.DominantColorClass = ColorClassBlueClimate
		default:
			d.DominantColorClass = ColorClassYellowLight
		}
		return
	}
	if len(d.Buttons) > 0 {
		if d.Buttons[0].Group == GroupBlack {
			d.DominantColorClass = ColorClassBlackJoker
		} else {
			d.DominantColorClass = ColorClass(d.Buttons[0].Group)
		}
	}
}
