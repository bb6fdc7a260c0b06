// SPDX-License-Identifier: Apache-2.0

package types

// BehaviourKind is the discriminator of the Behaviour sum type: every
// device behaviour vector holds exactly one of these, per spec.md §3/§4.
type BehaviourKind int

const (
	BehaviourButton BehaviourKind = iota
	BehaviourBinaryInput
	BehaviourSensor
	BehaviourOutput
)

// Behaviour is the common interface every behaviour variant satisfies:
// a stable ID (derived automatically if not given) and its index, the
// position in the owning device's per-kind vector.
type Behaviour interface {
	Kind() BehaviourKind
	BehaviourID() string
	Index() int
	SetIndex(int)
}

// behaviourBase factors the ID/Index bookkeeping shared by every variant,
// matching the teacher's preference for small embedded structs over deep
// inheritance (types/zedroutertypes.go) and spec.md §9's guidance to model
// scene-like sum types as "common header plus kind-specific payload".
type behaviourBase struct {
	id    string
	index int
}

func (b *behaviourBase) BehaviourID() string { return b.id }
func (b *behaviourBase) Index() int          { return b.index }
func (b *behaviourBase) SetIndex(i int)      { b.index = i }

// DeriveBehaviourID returns id if non-empty, else a stable ID made of
// kindPrefix followed by index, per spec.md §3 ("derived automatically if
// not given"). The ID is unique only within its device; it does not
// include the device's dSUID.
func DeriveBehaviourID(id string, kindPrefix string, index int) string {
	if id != "" {
		return id
	}
	return kindPrefix + itoa(index)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// ClickGroup identifies the dS group a button belongs to (lighting,
// shading, ...); group "black" (0) denotes a global/system button.
type ClickGroup int

// GroupBlack is the global/system button group (PANIC, PRESENT/ABSENT,
// ALARM1, BELL1 per spec.md §4.6).
const GroupBlack ClickGroup = 0

// ButtonMode selects hardware-fixed rocker wiring, per spec.md §3
// ("the mode may be fixed by hardware, e.g. one half of a rocker pair").
type ButtonMode int

const (
	ButtonModeStandard ButtonMode = iota
	ButtonModeRockerUp
	ButtonModeRockerDown
)

// ButtonFunction selects the semantic role a button plays in the local
// controller's button→scene mapping (area 1..4 up/down, global, etc.),
// per spec.md §4.6.
type ButtonFunction int

const (
	ButtonFunctionRoomOnOff ButtonFunction = iota
	ButtonFunctionArea1OnOff
	ButtonFunctionArea2OnOff
	ButtonFunctionArea3OnOff
	ButtonFunctionArea4OnOff
	ButtonFunctionGlobal
)

// ActionMode selects the direct-action bypass of spec.md §4.2: when set
// to anything but ActionModeNone, a single-click/single-tip fires a scene
// action directly instead of going through the click pipeline.
type ActionMode int

const (
	ActionModeNone ActionMode = iota
	ActionModeScene
	ActionModeUndo
)

// ButtonBehaviour is the persistent configuration plus volatile runtime
// state of one button input, per spec.md §3/§4.2.
type ButtonBehaviour struct {
	behaviourBase

	// Persistent configuration.
	Group             ClickGroup
	Mode              ButtonMode
	Function          ButtonFunction
	Channel           ChannelType
	StateMachineMode  StateMachineMode
	LongFunctionDelay int // ms, 0 means "use the default"
	ActionMode        ActionMode
	ActionID          int
	LocalButton       bool // first tip toggles a local output instead of upstream
	BridgeExclusive   bool // spec.md §9: deliver clicks to bridges only

	// Volatile runtime state, mutated only by the ButtonStateMachine
	// that owns this behaviour (spec.md §5 resource discipline).
	State        string
	ClickCounter int
	HoldRepeats  int
	Pressed      bool
	LastAction   string
}

// NewButtonBehaviour constructs a ButtonBehaviour with a derived ID if id
// is empty.
func NewButtonBehaviour(id string, index int) *ButtonBehaviour {
	b := &ButtonBehaviour{}
	b.id = DeriveBehaviourID(id, "B", index)
	b.index = index
	b.StateMachineMode = StateMachineStandard
	return b
}

func (b *ButtonBehaviour) Kind() BehaviourKind { return BehaviourButton }

// BinaryInputBehaviour models a simple on/off sensor input (window
// contact, motion detector digital output, etc.).
type BinaryInputBehaviour struct {
	behaviourBase
	State        bool
	InvertedWire bool
}

// NewBinaryInputBehaviour constructs a BinaryInputBehaviour.
func NewBinaryInputBehaviour(id string, index int) *BinaryInputBehaviour {
	b := &BinaryInputBehaviour{}
	b.id = DeriveBehaviourID(id, "I", index)
	b.index = index
	return b
}

func (b *BinaryInputBehaviour) Kind() BehaviourKind { return BehaviourBinaryInput }

// SensorBehaviour models a scalar measurement input (temperature, lux,
// power, ...).
type SensorBehaviour struct {
	behaviourBase
	Min, Max, Resolution float64
	Value                float64
	UpdateInterval       int // seconds
}

// NewSensorBehaviour constructs a SensorBehaviour.
func NewSensorBehaviour(id string, index int) *SensorBehaviour {
	s := &SensorBehaviour{}
	s.id = DeriveBehaviourID(id, "S", index)
	s.index = index
	return s
}

func (s *SensorBehaviour) Kind() BehaviourKind { return BehaviourSensor }

// OutputKind distinguishes a plain dimmer/switch output from a Shadow
// (blind) output or a ventilation output, per spec.md §3 and the
// supplemented ventilation behaviour (SPEC_FULL.md "Supplemented
// features").
type OutputKind int

const (
	OutputPlain OutputKind = iota
	OutputShadow
	OutputVentilation
)

// OutputBehaviour owns the Channels of a device's single Output, per
// spec.md §3 ("Device owns at most one Output... Output owns its
// Channels").
type OutputBehaviour struct {
	behaviourBase
	OutputKind    OutputKind
	Channels      []*Channel
	DimmableWhileOff bool // if false, an output that is off cannot be dimmed (spec.md §4.5)
}

// NewOutputBehaviour constructs an OutputBehaviour.
func NewOutputBehaviour(id string, index int, kind OutputKind) *OutputBehaviour {
	o := &OutputBehaviour{OutputKind: kind}
	o.id = DeriveBehaviourID(id, "C", index)
	o.index = index
	return o
}

func (o *OutputBehaviour) Kind() BehaviourKind { return BehaviourOutput }

// ChannelByType returns the first channel of the given type, or nil.
func (o *OutputBehaviour) ChannelByType(t ChannelType) *Channel {
	for _, c := range o.Channels {
		if c.Type == t {
			return c
		}
	}
	return nil
}

// IsOff reports whether the output's primary (brightness-like) channel is
// at its minimum, used by the dim pipeline's "lights off cannot dim
// brightness" rule (spec.md §4.5).
func (o *OutputBehaviour) IsOff() bool {
	if len(o.Channels) == 0 {
		return true
	}
	c := o.Channels[0]
	return c.GetChannelValueCalculated() <= c.Min
}
