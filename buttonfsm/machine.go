// SPDX-License-Identifier: Apache-2.0

package buttonfsm

import (
	"errors"
	"time"

	"github.com/plan44dev/vdc-host/pubsub"
	"github.com/plan44dev/vdc-host/types"
)

// Timing constants, per spec.md §4.2.
const (
	ClickLength     = 140 * time.Millisecond
	ClickPause      = 140 * time.Millisecond
	TipTimeout      = 800 * time.Millisecond
	DefaultLongFunctionDelay = 500 * time.Millisecond
	DimRepeat       = 1000 * time.Millisecond
	MaxHoldRepeats  = 30
)

// state is the machine's internal phase. Unlike the original
// implementation's S0..S14 enumeration, nextPauseWait/2ClickWait/
// 3ClickWait/awaitRelease collapse into clickPauseWait and tipWait below:
// what matters observably is the pending counters, not which numbered
// wait-state produced them.
type state int

const (
	stateIdle state = iota
	stateInitialPress
	stateClickPauseWait
	stateHoldOrTip
	stateTipWait
	stateHold
	stateAwaitReleaseTimedOut
)

// Scheduler is the subset of *pubsub.Scheduler the state machine needs;
// declared locally so tests can substitute a fake without importing
// pubsub's concrete type.
type Scheduler interface {
	After(d time.Duration, fn func()) pubsub.Ticket
}

// ErrMixedInputMode is returned by InjectClick/UpdateButtonState when the
// behaviour has already used the other input method, per spec.md §4.2
// ("Cannot be mixed with updateButtonState() on the same behaviour").
var ErrMixedInputMode = errors.New("buttonfsm: cannot mix injectClick with updateButtonState on the same button")

// Machine is the per-button click state machine of spec.md §4.2.
type Machine struct {
	mode              types.StateMachineMode
	longFunctionDelay time.Duration
	sched             Scheduler
	emit              func(ClickType)

	pressed bool
	state   state

	clickCounter int // completed short clicks in the current multi-click run (0..3)
	tipCounter   int // tip sequence counter (0..4, wraps)
	holdRepeats  int

	stepTicket       pubsub.Ticket
	completionTicket pubsub.Ticket

	usedUpdate bool
	usedInject bool

	// Direct-action bypass, per spec.md §4.2.
	ActionMode types.ActionMode
	ActionID   int
	OnDirectAction func(mode types.ActionMode, id int)

	// Local-button convenience wiring, per spec.md §4.2.
	LocalButton bool
	OnLocalToggle func()
}

// NewMachine constructs a Machine. longFunctionDelay<=0 selects
// DefaultLongFunctionDelay (spec.md §4.2: "overridable").
func NewMachine(mode types.StateMachineMode, longFunctionDelay time.Duration, sched Scheduler, emit func(ClickType)) *Machine {
	if longFunctionDelay <= 0 {
		longFunctionDelay = DefaultLongFunctionDelay
	}
	return &Machine{mode: mode, longFunctionDelay: longFunctionDelay, sched: sched, emit: emit}
}

func (m *Machine) cancelStep() {
	if m.stepTicket != nil {
		m.stepTicket.Cancel()
		m.stepTicket = nil
	}
}

func (m *Machine) cancelCompletion() {
	if m.completionTicket != nil {
		m.completionTicket.Cancel()
		m.completionTicket = nil
	}
}

// armCompletion (re)schedules the tip_timeout "give up, emit complete"
// timer from now. Only meaningful while the machine is inside a
// click/tip disambiguation window (not during an active hold).
func (m *Machine) armCompletion() {
	m.cancelCompletion()
	m.completionTicket = m.sched.After(TipTimeout, m.onCompletionTimeout)
}

func (m *Machine) onCompletionTimeout() {
	m.completionTicket = nil
	if m.state == stateIdle || m.state == stateHold {
		return
	}
	m.cancelStep()
	m.resetToIdle()
	m.emit(Complete)
}

func (m *Machine) resetToIdle() {
	m.state = stateIdle
	m.clickCounter = 0
	m.tipCounter = 0
	m.holdRepeats = 0
}

// UpdateButtonState feeds a raw press(true)/release(false) level change.
// Idempotent for a repeated identical state, per spec.md §4.2.
func (m *Machine) UpdateButtonState(pressed bool) error {
	if m.usedInject {
		return ErrMixedInputMode
	}
	m.usedUpdate = true
	if pressed == m.pressed {
		return nil
	}
	m.pressed = pressed

	switch m.mode {
	case types.StateMachineSimple, types.StateMachineTurbo:
		if pressed {
			// Simple mode only reacts to release; a synthesized press
			// needs no action of its own.
			return nil
		}
		m.onSimpleRelease()
	case types.StateMachineDimmerOnly:
		if pressed {
			m.onDimmerPress()
		} else {
			m.onDimmerRelease()
		}
	case types.StateMachineSingleClickOnly:
		if !pressed {
			m.emit(Tip1x)
		}
	default: // StateMachineStandard
		if pressed {
			m.onStandardPress()
		} else {
			m.onStandardRelease()
		}
	}
	return nil
}

// --- standard mode ---

func (m *Machine) onStandardPress() {
	switch m.state {
	case stateIdle, stateClickPauseWait, stateTipWait:
		m.state = stateInitialPress
		if m.state == stateInitialPress && m.clickCounter == 0 && m.tipCounter == 0 {
			m.emit(Progress)
		}
		m.armCompletion()
		m.cancelStep()
		m.stepTicket = m.sched.After(ClickLength, m.onClickLengthElapsed)
	default:
		// spurious press while already tracking one; ignore.
	}
}

func (m *Machine) onClickLengthElapsed() {
	m.stepTicket = nil
	if m.state != stateInitialPress || !m.pressed {
		return
	}
	m.state = stateHoldOrTip
	m.stepTicket = m.sched.After(m.longFunctionDelay, m.onLongDelayElapsed)
}

func (m *Machine) onLongDelayElapsed() {
	m.stepTicket = nil
	if m.state != stateHoldOrTip || !m.pressed {
		return
	}
	m.cancelCompletion()
	m.state = stateHold
	m.holdRepeats = 0
	switch {
	case m.clickCounter >= 2:
		m.emit(ShortShortLong)
	case m.clickCounter == 1:
		m.emit(ShortLong)
	default:
		m.emit(HoldStart)
	}
	m.clickCounter = 0
	m.stepTicket = m.sched.After(DimRepeat, m.onHoldRepeatTick)
}

func (m *Machine) onHoldRepeatTick() {
	if m.state != stateHold {
		m.stepTicket = nil
		return
	}
	m.holdRepeats++
	if m.holdRepeats > MaxHoldRepeats {
		m.emit(HoldEnd)
		m.state = stateAwaitReleaseTimedOut
		m.stepTicket = nil
		return
	}
	m.emit(HoldRepeat)
	m.stepTicket = m.sched.After(DimRepeat, m.onHoldRepeatTick)
}

func (m *Machine) onStandardRelease() {
	m.cancelStep()
	switch m.state {
	case stateInitialPress:
		m.clickCounter++
		if m.clickCounter > 3 {
			m.clickCounter = 3
		}
		m.state = stateClickPauseWait
		m.emit(Progress)
		m.armCompletion()
		m.stepTicket = m.sched.After(ClickPause, m.onClickPauseElapsed)
	case stateHoldOrTip:
		m.tipCounter++
		if m.tipCounter > 4 {
			m.tipCounter = 1
		}
		switch {
		case m.tipCounter == 1 && m.ActionMode != types.ActionModeNone && m.OnDirectAction != nil:
			// single-tip bypasses the click pipeline and directly fires a
			// scene action, mirroring the single-click bypass below.
			m.OnDirectAction(m.ActionMode, m.ActionID)
		case m.tipCounter == 1 && m.LocalButton:
			if m.OnLocalToggle != nil {
				m.OnLocalToggle()
			}
		default:
			m.emit(tipForCount(m.tipCounter))
		}
		m.state = stateTipWait
		m.armCompletion()
	case stateHold:
		m.emit(HoldEnd)
		m.resetToIdle()
		m.cancelCompletion()
	case stateAwaitReleaseTimedOut:
		m.resetToIdle()
		m.cancelCompletion()
	default:
		// release with no matching press tracked; ignore.
	}
}

func (m *Machine) onClickPauseElapsed() {
	m.stepTicket = nil
	if m.state != stateClickPauseWait {
		return
	}
	count := m.clickCounter
	m.clickCounter = 0
	if count == 1 && m.ActionMode != types.ActionModeNone && m.OnDirectAction != nil {
		m.OnDirectAction(m.ActionMode, m.ActionID)
	} else {
		m.emit(clickForCount(count))
	}
	m.state = stateTipWait
	// completionTicket keeps running from the originating release; no rearm.
}

// --- simple / turbo mode ---

func (m *Machine) onSimpleRelease() {
	m.tipCounter++
	if m.tipCounter > 4 {
		m.tipCounter = 1
	}
	m.state = stateTipWait
	m.emit(tipForCount(m.tipCounter))
	m.armCompletion()
}

// --- dimmer-only mode ---

func (m *Machine) onDimmerPress() {
	m.cancelCompletion()
	m.state = stateHold
	m.emit(HoldStart)
	m.stepTicket = m.sched.After(DimRepeat, m.onDimmerRepeatTick)
}

func (m *Machine) onDimmerRepeatTick() {
	if m.state != stateHold {
		return
	}
	m.emit(HoldRepeat)
	m.stepTicket = m.sched.After(DimRepeat, m.onDimmerRepeatTick)
}

func (m *Machine) onDimmerRelease() {
	m.cancelStep()
	if m.state == stateHold {
		m.emit(HoldEnd)
	}
	m.resetToIdle()
}

// InjectClick accepts a pre-classified click from a device that does its
// own debouncing/classification, per spec.md §4.2. Only tips and
// hold-start/hold-end are meaningful here; the machine keeps a minimal
// state so value-source consumers still observe a progression.
func (m *Machine) InjectClick(ct ClickType) error {
	if m.usedUpdate {
		return ErrMixedInputMode
	}
	m.usedInject = true
	switch ct {
	case HoldStart:
		m.state = stateHold
	case HoldEnd:
		m.resetToIdle()
	default:
		m.tipCounter++
		if m.tipCounter > 4 {
			m.tipCounter = 1
		}
	}
	m.emit(ct)
	return nil
}

// State exposes the current phase name for diagnostics/tests.
func (m *Machine) State() string {
	switch m.state {
	case stateIdle:
		return "idle"
	case stateInitialPress:
		return "initialPress"
	case stateClickPauseWait:
		return "clickPauseWait"
	case stateHoldOrTip:
		return "holdOrTip"
	case stateTipWait:
		return "tipWait"
	case stateHold:
		return "hold"
	case stateAwaitReleaseTimedOut:
		return "awaitReleaseTimedOut"
	default:
		return "unknown"
	}
}
