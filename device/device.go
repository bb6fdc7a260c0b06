// SPDX-License-Identifier: Apache-2.0

package device

import (
	"time"

	"github.com/plan44dev/vdc-host/types"
)

// LegacyDimStepTimeout is the auto-stop timeout used for the legacy
// increment/decrement/stop scene commands, per
// original_source/vdc_common/device.cpp's LEGACY_DIM_STEP_TIMEOUT.
const LegacyDimStepTimeout = 500 * time.Millisecond

// DimStepTimeout is the default MOC_DIM_STEP_TIMEOUT: a dim that started
// and was never retriggered stops after this long, per spec.md §4.5.
const DimStepTimeout = 5 * time.Second

// DimSafetyCap is the emergency ceiling on any dim operation, rearmed
// only when dimming stops and restarts, never by a mere retrigger, per
// spec.md's supplemented "dual dim-channel safety cap" feature.
const DimSafetyCap = 300 * time.Second

// DimFn performs one dim start/stop on the backend for a channel; a
// generic Device has no hardware of its own, so this is always supplied
// by the backend wiring, mirroring device.cpp's dimChannel() being a
// default implementation meant to be overridden.
type DimFn func(ch *types.Channel, dir types.DimDirection)

// OptimizedType distinguishes the two kinds of Vdc-level hardware-native
// batch call a device can be asked to join, per spec.md §4.5.
type OptimizedType int

const (
	OptimizedNone OptimizedType = iota
	OptimizedScene
	OptimizedDim
)

// WhatToApply tells CallSceneExecutePrepared whether a per-device apply
// is still needed, or whether the Vdc already executed a hardware-native
// call that covers every channel (spec.md §4.5).
type WhatToApply int

const (
	ApplyPerDevice WhatToApply = iota
	ApplyNone
)

// DeliveryState is what the Vdc-level optimizer offers each device via
// AddToOptimizedSet, per spec.md §4.5.
type DeliveryState struct {
	OptimizedType       OptimizedType
	ContentID           int
	ContentsHash        uint64
	ActionVariant       types.DimDirection
	ActionParam         types.ChannelType
	AffectedDevicesHash uint64
	RepeatVariant       bool
	RepeatAfter         time.Duration
}

// Device wires the apply/update Serializer to a *types.Device and
// implements the scene-call prepare/execute and dim pipelines of spec.md
// §4.5, grounded on original_source/vdc_common/device.cpp's
// callScenePrepare/callScenePrepare2/callSceneExecutePrepared and
// dimChannelForAreaPrepare/dimChannelExecutePrepared.
//
// Every delayed transition of §4.1/§4.3's other components runs through a
// Scheduler so the main loop stays the single mutator (spec.md §5); a
// Device follows the same discipline rather than spinning its own
// goroutine, keeping it consistent with the Serializer it wraps.
type Device struct {
	Data       *types.Device
	Serializer *Serializer

	// PrepareSceneCall lets device-level code veto an otherwise-affected
	// scene call (spec.md §4.5 step 7); nil means "never veto".
	PrepareSceneCall func(scene *types.Scene) bool
	// PerformSceneActions runs best-effort scene side actions (blinking,
	// etc.); nil means there are none.
	PerformSceneActions func(scene *types.Scene, done func())
	// OptimizeHook lets device-level code refuse to join a Vdc-level
	// hardware-native batch; nil means "always agree".
	OptimizeHook func(ds *DeliveryState) bool

	sched   Scheduler
	dimStep DimFn

	currentDimMode    types.DimDirection
	currentDimChannel types.ChannelType
	areaDimmed        int
	areaDimMode       types.DimDirection
	preparedDim       bool

	dimTimeoutTicket Ticket
	dimSafetyTicket  Ticket

	preparedScene *types.Scene
	previousState *types.Scene // undo pseudo-scene, captured at prepare time

	sceneActionCompleteCB func()
}

// Ticket is the subset of pubsub.Ticket the Device pipeline needs.
type Ticket interface{ Cancel() }

// NewDevice constructs a Device wrapping a fresh Serializer.
func NewDevice(data *types.Device, sched Scheduler, apply ApplyFn, sync SyncFn, enabled func() bool, dimStep DimFn) *Device {
	ser := NewSerializer(sched, apply, sync, enabled)
	ser.bindData(data)
	return &Device{
		Data:       data,
		Serializer: ser,
		sched:      sched,
		dimStep:    dimStep,
	}
}

// syncDimData mirrors the dim pipeline's private state onto Data, so a
// property-tree/persistence consumer reading *types.Device sees the same
// dim-in-progress state this Device tracks internally.
func (d *Device) syncDimData() {
	d.Data.DimInProgress = d.currentDimMode != types.DimNone
	d.Data.DimArea = d.areaDimmed
	d.Data.DimChannel = d.currentDimChannel
	d.Data.DimDirection = d.currentDimMode
}

func (d *Device) defaultDimChannel() types.ChannelType {
	if d.Data.Output != nil && len(d.Data.Output.Channels) > 0 {
		return d.Data.Output.Channels[0].Type
	}
	return 0
}

// DefaultDimChannel exposes defaultDimChannel to callers outside the
// package (the router/vdchost button-event wiring) that need to start a
// dim without already knowing which channel a device's output uses.
func (d *Device) DefaultDimChannel() types.ChannelType {
	return d.defaultDimChannel()
}

func (d *Device) canDim(ch *types.Channel) bool {
	if d.Data.Output == nil {
		return false
	}
	if !d.Data.Output.DimmableWhileOff && d.Data.Output.IsOff() {
		return false
	}
	return ch != nil
}

func (d *Device) finishSceneActionWaiting() {
	if d.sceneActionCompleteCB != nil {
		cb := d.sceneActionCompleteCB
		d.sceneActionCompleteCB = nil
		cb()
	}
}

// CallScenePrepare implements callScenePrepare/callScenePrepare2, per
// spec.md §4.5. It returns proceed=false whenever the scene call has
// already been fully handled (routed as a dim, suppressed, or a no-op),
// and true once the scene is captured in PreparedScene and
// CallSceneExecutePrepared should be called next.
func (d *Device) CallScenePrepare(scene *types.Scene, force bool) (proceed bool) {
	d.finishSceneActionWaiting()
	d.preparedScene = nil
	d.preparedDim = false

	if d.Data.Output == nil || d.Data.Scenes == nil {
		return false
	}

	switch scene.Cmd {
	case types.SceneCmdAreaContinue:
		if d.areaDimmed != 0 && d.areaDimMode != types.DimNone {
			d.DimChannelForAreaPrepare(d.defaultDimChannel(), d.areaDimMode, d.areaDimmed)
			d.DimChannelExecutePrepared(true)
		}
		return false
	case types.SceneCmdIncrement:
		if d.PrepareSceneCall == nil || d.PrepareSceneCall(scene) {
			d.DimChannelForAreaPrepare(d.defaultDimChannel(), types.DimUp, scene.Flags.Area)
			d.DimChannelExecutePrepared(true)
		}
		return false
	case types.SceneCmdDecrement:
		if d.PrepareSceneCall == nil || d.PrepareSceneCall(scene) {
			d.DimChannelForAreaPrepare(d.defaultDimChannel(), types.DimDown, scene.Flags.Area)
			d.DimChannelExecutePrepared(true)
		}
		return false
	case types.SceneCmdStop:
		if d.PrepareSceneCall == nil || d.PrepareSceneCall(scene) {
			d.DimChannelForAreaPrepare(d.defaultDimChannel(), types.DimNone, scene.Flags.Area)
			d.DimChannelExecutePrepared(true)
		}
		return false
	}

	if d.currentDimMode != types.DimNone {
		// any non-dimming scene call interrupts dimming in progress first
		d.DimChannelForAreaPrepare(d.currentDimChannel, types.DimNone, scene.Flags.Area)
		d.DimChannelExecutePrepared(true)
	}

	return d.callScenePrepare2(scene, force)
}

func (d *Device) callScenePrepare2(scene *types.Scene, force bool) bool {
	if scene.Flags.IsAreaScene {
		mainScene := d.Data.Scenes.Scene(types.AreaOnSceneNo(scene.Flags.Area))
		if mainScene != nil {
			if _, dontCare := mainScene.ValueFor(d.defaultDimChannel()); dontCare {
				return false
			}
		}
	}

	if scene.AllDontCare() {
		if d.PerformSceneActions != nil {
			d.sceneActionCompleteCB = nil
			d.PerformSceneActions(scene, d.finishSceneActionWaiting)
		}
		return false
	}

	switch {
	case scene.Flags.IsOffScene:
		d.Data.LocalPriority = false
	case scene.Flags.IsAreaScene:
		d.Data.LocalPriority = true
	}

	forced := force || scene.Flags.Forced
	if !scene.Flags.IsAreaScene && d.Data.LocalPriority {
		if !forced && !scene.Flags.IgnoreLocalPrio {
			return false
		}
		// forced or explicitly ignoring local priority: applied anyway,
		// and this also ends local priority (original_source/vdc_common/
		// device.cpp's callScenePrepare2).
		d.Data.LocalPriority = false
	}

	d.previousState = d.captureUndoScene(scene)

	if d.PrepareSceneCall != nil && !d.PrepareSceneCall(scene) {
		return false
	}

	d.preparedScene = scene
	return true
}

// captureUndoScene snapshots the device's current channel values into a
// pseudo-scene, per spec.md §4.5 step 6. The "precise" query-hardware
// option names in the original are not wired here: this module has no
// generic hardware readback path at the Device level (only the
// Serializer's backend-specific SyncFn), so cached calculated values are
// always used -- documented in DESIGN.md as a deliberate simplification.
func (d *Device) captureUndoScene(scene *types.Scene) *types.Scene {
	undo := &types.Scene{SceneNo: scene.SceneNo}
	if d.Data.Output != nil {
		for _, ch := range d.Data.Output.Channels {
			undo.Values = append(undo.Values, types.ChannelValue{
				Channel: ch.Type,
				Value:   ch.GetChannelValueCalculated(),
			})
		}
	}
	return undo
}

// PreparedScene returns the scene captured by the most recent successful
// CallScenePrepare, or nil.
func (d *Device) PreparedScene() *types.Scene { return d.preparedScene }

// UndoScene returns the pseudo-scene capturing device state just before
// the most recently prepared scene was applied.
func (d *Device) UndoScene() *types.Scene { return d.previousState }

// SaveScene captures the device's current channel values into a scene
// numbered sceneNo and stores it in the device's SceneTable, per
// SPEC_FULL.md §9's saveScene addition. A device with no Output or no
// SceneTable has nothing to capture or store into, so it is a no-op.
func (d *Device) SaveScene(sceneNo int) *types.Scene {
	scene := &types.Scene{SceneNo: sceneNo}
	if d.Data.Output != nil {
		for _, ch := range d.Data.Output.Channels {
			scene.Values = append(scene.Values, types.ChannelValue{
				Channel: ch.Type,
				Value:   ch.GetChannelValueCalculated(),
			})
		}
	}
	if d.Data.Scenes != nil {
		d.Data.Scenes.SetScene(scene)
	}
	return scene
}

// CallSceneExecutePrepared implements callSceneExecutePrepared, per
// spec.md §4.5.
func (d *Device) CallSceneExecutePrepared(whatToApply WhatToApply, done func()) {
	scene := d.preparedScene
	if scene == nil {
		if done != nil {
			done()
		}
		return
	}
	d.preparedScene = nil
	d.applySceneToChannels(scene)

	if whatToApply == ApplyNone {
		d.allChannelsApplied()
		d.sceneValuesApplied(scene, done)
		return
	}
	d.Serializer.RequestApplyingChannels(func() { d.sceneValuesApplied(scene, done) }, false, false)
}

func (d *Device) applySceneToChannels(scene *types.Scene) {
	if d.Data.Output == nil {
		return
	}
	for _, ch := range d.Data.Output.Channels {
		v, dontCare := scene.ValueFor(ch.Type)
		if dontCare {
			continue
		}
		ch.SetChannelValue(v.Value, time.Duration(v.TransitionTime)*time.Millisecond, false)
	}
}

func (d *Device) allChannelsApplied() {
	if d.Data.Output == nil {
		return
	}
	for _, ch := range d.Data.Output.Channels {
		ch.ChannelValueApplied(true)
	}
}

// sceneValuesApplied runs performSceneActions after the apply completes;
// a scene-actions callback still waiting from a previous call is
// confirmed immediately rather than strictly serialized, per spec.md
// §4.5 ("scene actions are best-effort, not strictly serialized across
// scene calls").
func (d *Device) sceneValuesApplied(scene *types.Scene, done func()) {
	d.finishSceneActionWaiting()
	if d.PerformSceneActions != nil {
		d.sceneActionCompleteCB = done
		d.PerformSceneActions(scene, d.finishSceneActionWaiting)
		return
	}
	if done != nil {
		done()
	}
}

// AddToOptimizedSet asks the device whether it can join the Vdc-level
// hardware-native batch call described by ds, per spec.md §4.5. The
// default always agrees; OptimizeHook lets backend wiring refuse.
func (d *Device) AddToOptimizedSet(ds *DeliveryState) bool {
	if d.OptimizeHook != nil {
		return d.OptimizeHook(ds)
	}
	return true
}

// DimChannelForAreaPrepare implements dimChannelForAreaPrepare, per
// spec.md §4.5. It returns retrigger=true when an already-running dim of
// the same mode/channel was merely retriggered (so the caller -- an
// optimizer-aware dim repeater -- knows to reschedule rather than
// restart).
func (d *Device) DimChannelForAreaPrepare(ch types.ChannelType, mode types.DimDirection, area int) (retrigger bool) {
	if d.Data.Output == nil {
		return false
	}
	channel := d.Data.Output.ChannelByType(ch)
	if channel == nil {
		return false
	}
	if mode != types.DimNone && !d.canDim(channel) {
		return false
	}

	d.areaDimmed = area
	d.areaDimMode = types.DimNone
	if area > 0 {
		if d.Data.Scenes != nil {
			mainScene := d.Data.Scenes.Scene(types.AreaOnSceneNo(area))
			if mainScene != nil {
				if _, dontCare := mainScene.ValueFor(ch); dontCare {
					return false
				}
			}
		}
		d.areaDimMode = mode
	} else if area == 0 && d.Data.LocalPriority {
		return false
	}

	if mode != d.currentDimMode || ch != d.currentDimChannel {
		if mode != types.DimNone && d.currentDimMode != types.DimNone {
			// changed direction/channel without a prior stop: force one
			d.executeDim(d.currentDimChannel, types.DimNone)
		}
		d.currentDimMode = mode
		d.currentDimChannel = ch
		d.preparedDim = true
		d.preparedScene = nil
		d.syncDimData()
		return false
	}

	if mode != types.DimNone {
		d.rearmDimTimeout()
		d.syncDimData()
		return true
	}
	return false
}

// DimChannelExecutePrepared implements dimChannelExecutePrepared, per
// spec.md §4.5. apply mirrors the original's aWhatToApply!=ntfy_none:
// false means the optimizer already executed the dim start/stop
// natively, so only bookkeeping (no hardware call, no timer) happens.
func (d *Device) DimChannelExecutePrepared(apply bool) {
	if !d.preparedDim {
		return
	}
	d.preparedDim = false
	if !apply {
		return
	}
	d.executeDim(d.currentDimChannel, d.currentDimMode)
	if d.currentDimMode != types.DimNone {
		d.armDimTimeout(DimStepTimeout)
	} else {
		d.cancelDimTimeout()
	}
	d.syncDimData()
}

func (d *Device) executeDim(ch types.ChannelType, mode types.DimDirection) {
	if d.Data.Output == nil || d.dimStep == nil {
		return
	}
	channel := d.Data.Output.ChannelByType(ch)
	if channel == nil {
		return
	}
	d.dimStep(channel, mode)
}

func (d *Device) armDimTimeout(timeout time.Duration) {
	if d.dimTimeoutTicket != nil {
		d.dimTimeoutTicket.Cancel()
	}
	d.dimTimeoutTicket = d.sched.After(timeout, d.dimTimeoutFired)
	if d.dimSafetyTicket == nil {
		d.dimSafetyTicket = d.sched.After(DimSafetyCap, d.dimSafetyFired)
	}
}

func (d *Device) rearmDimTimeout() {
	if d.dimTimeoutTicket != nil {
		d.dimTimeoutTicket.Cancel()
	}
	d.dimTimeoutTicket = d.sched.After(DimStepTimeout, d.dimTimeoutFired)
	// the safety-cap ticket is deliberately left running: a retrigger
	// reschedules the step timeout but never the emergency cap.
}

func (d *Device) cancelDimTimeout() {
	if d.dimTimeoutTicket != nil {
		d.dimTimeoutTicket.Cancel()
		d.dimTimeoutTicket = nil
	}
	if d.dimSafetyTicket != nil {
		d.dimSafetyTicket.Cancel()
		d.dimSafetyTicket = nil
	}
}

func (d *Device) dimTimeoutFired() {
	d.dimTimeoutTicket = nil
	d.stopDimNow()
}

func (d *Device) dimSafetyFired() {
	d.dimSafetyTicket = nil
	d.stopDimNow()
}

func (d *Device) stopDimNow() {
	if d.currentDimMode == types.DimNone {
		return
	}
	d.currentDimMode = types.DimNone
	d.executeDim(d.currentDimChannel, types.DimNone)
	d.cancelDimTimeout()
	d.syncDimData()
}

// DimState reports the channel and direction currently being dimmed, and
// whether any dim is in progress at all.
func (d *Device) DimState() (ch types.ChannelType, dir types.DimDirection, active bool) {
	return d.currentDimChannel, d.currentDimMode, d.currentDimMode != types.DimNone
}
