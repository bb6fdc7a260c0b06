// SPDX-License-Identifier: Apache-2.0

// Package shadow implements the Shadow Movement Sequencer of spec.md §4.3:
// it turns a target position/angle pair into a sequence of move/pause
// instructions for a blind's up/down relay, coping with short-move
// restrictions, end contacts and position estimation while a move is in
// flight. Grounded on original_source/behaviours/shadowbehaviour.cpp's
// applyPosition/applyAngle/startMoving/endMove/stop state machine.
package shadow

import (
	"time"

	"github.com/plan44dev/vdc-host/pubsub"
	"github.com/plan44dev/vdc-host/types"
	"github.com/plan44dev/vdc-host/utils"
)

// Timing constants ported from shadowbehaviour.cpp's #defines.
const (
	MinInterruptableMoveTime = 5 * time.Second
	PositionToAngleDelay     = 1 * time.Second
	InterShortMoveDelay      = 1 * time.Second
)

// Kind distinguishes the three blind hardware shapes spec.md §3/§9
// supplements (roller blind, jalousie with angle, awning/sunblind).
type Kind int

const (
	KindRollerBlind Kind = iota
	KindJalousie
	KindSunblind
)

// state is the sequencer's internal movement phase.
type state int

const (
	stateIdle state = iota
	stateStopping
	stateStoppingAfterTurn
	stateStoppingBeforeApply
	statePositioning
	stateStoppingBeforeTurning
	stateTurning
	stateDimming
)

// MoveFn is the hardware callback: direction is 0=stop, -1=down, +1=up.
// done must be invoked once the relay change has actually taken effect.
type MoveFn func(done func(), direction int)

// Scheduler is the subset of *pubsub.Scheduler the sequencer needs.
type Scheduler interface {
	After(d time.Duration, fn func()) pubsub.Ticket
}

// Params are the hardware-derived, constant-during-operation parameters
// of one blind, per shadowbehaviour.hpp's "hardware derived parameters".
type Params struct {
	Kind              Kind
	HasEndContacts    bool
	MinMoveTime       time.Duration
	MaxShortMoveTime  time.Duration // 0 disables short-move segmentation
	MinLongMoveTime   time.Duration
	AbsoluteMovement  bool // device reports its own position; sequencer becomes a no-op pass-through
}

// Settings are the persistent per-device timing calibration,
// shadowbehaviour.hpp's "persistent settings".
type Settings struct {
	OpenTime      time.Duration
	CloseTime     time.Duration
	AngleOpenTime time.Duration
	AngleCloseTime time.Duration
	StopDelay     time.Duration
}

// Sequencer drives one blind's Position and Angle channels to their
// target values via MoveFn, per spec.md §4.3.
type Sequencer struct {
	params   Params
	settings Settings
	sched    Scheduler
	move     MoveFn

	position *types.Channel
	angle    *types.Channel

	state    state
	movingUp bool

	targetPosition, targetAngle     float64
	referencePosition, referenceAngle float64
	referenceTime                   time.Time

	movingTicket   pubsub.Ticket
	sequenceTicket pubsub.Ticket

	runIntoEnd                bool
	updateMoveTimeAtEndReached bool
	endContactDoneCB          func()
}

// NewSequencer constructs a Sequencer for one output's position/angle
// channels. angle may be nil for non-jalousie kinds.
func NewSequencer(params Params, settings Settings, sched Scheduler, move MoveFn, position, angle *types.Channel) *Sequencer {
	return &Sequencer{
		params: params, settings: settings, sched: sched, move: move,
		position: position, angle: angle,
		referencePosition: position.CurrentValue(),
	}
}

func (s *Sequencer) cancelMoving() {
	if s.movingTicket != nil {
		s.movingTicket.Cancel()
		s.movingTicket = nil
	}
}

func (s *Sequencer) cancelSequence() {
	if s.sequenceTicket != nil {
		s.sequenceTicket.Cancel()
		s.sequenceTicket = nil
	}
}

// ApplyBlindChannels starts a movement sequence bringing position (and,
// for jalousies, angle) to their pending channel target values. done is
// called once the sequencer considers the apply complete; for long moves
// this happens before actual movement stops, per spec.md §4.3's
// "interruptable long move" rule.
func (s *Sequencer) ApplyBlindChannels(done func()) {
	if s.params.AbsoluteMovement {
		if done != nil {
			done()
		}
		return
	}
	switch s.state {
	case stateStopping, stateStoppingAfterTurn:
		s.state = stateStoppingBeforeApply
	case stateIdle:
		s.applyPosition(done)
	case statePositioning:
		if !s.position.NeedsApply() && s.angle != nil && s.angle.NeedsApply() {
			// already positioning and only the angle changed: let the
			// move finish instead of interrupting it (spec.md §4.3).
			if done != nil {
				done()
			}
			return
		}
		s.state = stateStoppingBeforeApply
		s.stop(done)
	default:
		s.state = stateStoppingBeforeApply
		s.stop(done)
	}
}

// DimBlind starts (mode!=0) or stops (mode==0) a free-running dim move,
// per spec.md §4.5's scene/dim pipeline calling into the sequencer.
func (s *Sequencer) DimBlind(mode types.DimDirection) {
	if mode == types.DimNone {
		s.stop(nil)
		return
	}
	if s.move != nil {
		// sample current position/angle before starting a fresh free-run
		// move (the hardware callback itself never changes).
		s.state = stateIdle
		s.stopped(nil, false)
	}
	var stopIn time.Duration
	if mode == types.DimUp {
		s.movingUp = true
		stopIn = time.Duration(float64(s.settings.OpenTime) * 1.2)
	} else {
		s.movingUp = false
		stopIn = time.Duration(float64(s.settings.CloseTime) * 1.2)
	}
	s.state = stateDimming
	s.startMoving(stopIn, nil)
}

// EndReached is called by the device backend when an end contact fires.
func (s *Sequencer) EndReached(top bool) {
	if !s.params.HasEndContacts {
		return
	}
	s.cancelMoving()
	if s.updateMoveTimeAtEndReached {
		full := time.Since(s.referenceTime)
		if top {
			s.settings.OpenTime = full
		} else {
			s.settings.CloseTime = full
		}
	}
	s.referenceTime = time.Time{}
	if top {
		s.referencePosition, s.referenceAngle = 100, 100
	} else {
		s.referencePosition, s.referenceAngle = 0, 0
	}
	s.stopped(s.endContactDoneCB, false)
}

func (s *Sequencer) applyPosition(done func()) {
	if s.position.NeedsApply() {
		s.targetPosition = s.position.GetChannelValueCalculated()
		if s.angle != nil {
			s.targetAngle = s.angle.GetChannelValueCalculated()
		}
		var dist, probableDist float64
		var stopIn, probablyEndsIn time.Duration
		s.runIntoEnd = false
		probableDist = s.targetPosition - s.referencePosition
		switch {
		case s.targetPosition >= 100:
			dist = 120
			s.runIntoEnd = true
			if s.referencePosition <= 0 {
				s.updateMoveTimeAtEndReached = true
			}
		case s.targetPosition <= 0:
			dist = -120
			s.runIntoEnd = true
			if s.referencePosition >= 100 {
				s.updateMoveTimeAtEndReached = true
			}
		default:
			dist = probableDist
		}
		switch {
		case dist > 0:
			s.movingUp = true
			stopIn = scaleDuration(s.settings.OpenTime, dist)
			probablyEndsIn = scaleDuration(s.settings.OpenTime, probableDist)
			if stopIn < s.settings.AngleOpenTime {
				stopIn = s.settings.AngleOpenTime
			}
		case dist < 0:
			s.movingUp = false
			stopIn = scaleDuration(s.settings.CloseTime, -dist)
			probablyEndsIn = scaleDuration(s.settings.CloseTime, -probableDist)
			if stopIn < s.settings.AngleCloseTime {
				stopIn = s.settings.AngleCloseTime
			}
		}
		if s.state != statePositioning {
			s.state = statePositioning
			s.position.StartExternallyTimedTransition(probablyEndsIn)
			s.startMoving(stopIn, done)
		}
		return
	}
	if s.angle != nil && s.angle.NeedsApply() {
		s.targetAngle = s.angle.GetChannelValueCalculated()
		s.applyAngle(done)
		return
	}
	s.allDone(done)
}

func scaleDuration(full time.Duration, distPercent float64) time.Duration {
	return time.Duration(float64(full) / 100.0 * distPercent)
}

func (s *Sequencer) applyAngle(done func()) {
	if s.params.Kind != KindJalousie || s.angle == nil {
		s.allDone(done)
		return
	}
	if s.position.GetChannelValueCalculated() >= 100 {
		s.referenceAngle = s.targetAngle
		s.angle.ChannelValueApplied(false)
		s.allDone(done)
		return
	}
	dist := s.targetAngle - s.referenceAngle
	var stopIn time.Duration
	switch {
	case dist > 0:
		s.movingUp = true
		stopIn = scaleDuration(s.settings.AngleOpenTime, dist)
	case dist < 0:
		s.movingUp = false
		stopIn = scaleDuration(s.settings.AngleCloseTime, -dist)
	}
	if s.targetAngle >= 100 || s.targetAngle <= 0 {
		stopIn = time.Duration(float64(stopIn) * 1.2)
	}
	s.state = stateTurning
	s.angle.StartExternallyTimedTransition(stopIn)
	s.startMoving(stopIn, done)
}

func (s *Sequencer) startMoving(stopIn time.Duration, done func()) {
	dir := -1
	if s.movingUp {
		dir = 1
	}
	if stopIn < s.params.MinMoveTime {
		if s.state == statePositioning {
			s.state = stateStoppingBeforeTurning
		}
		s.stopped(done, false)
		return
	}
	s.move(func() { s.moveStarted(stopIn, done) }, dir)
}

func (s *Sequencer) moveStarted(stopIn time.Duration, done func()) {
	s.referenceTime = time.Now()
	if s.params.HasEndContacts && s.runIntoEnd {
		return // let end contacts stop the movement; no timer
	}
	remaining := time.Duration(0)
	if s.params.MaxShortMoveTime > 0 && stopIn < s.params.MinLongMoveTime && stopIn > s.params.MaxShortMoveTime {
		if stopIn < 2*s.params.MinLongMoveTime && stopIn > 2*s.params.MinMoveTime {
			stopIn /= 2
			remaining = stopIn
		} else {
			remaining = stopIn - s.params.MaxShortMoveTime
			stopIn = s.params.MaxShortMoveTime
		}
	}
	if stopIn > MinInterruptableMoveTime {
		if done != nil {
			done()
		}
		done = nil
	}
	s.movingTicket = s.sched.After(stopIn, func() { s.endMove(remaining, done) })
}

func (s *Sequencer) endMove(remaining time.Duration, done func()) {
	if remaining <= 0 {
		s.stop(done)
		return
	}
	s.move(func() { s.movePaused(remaining, done) }, 0)
}

func (s *Sequencer) movePaused(remaining time.Duration, done func()) {
	s.cancelMoving()
	s.sequenceTicket = s.sched.After(InterShortMoveDelay, func() { s.startMoving(remaining, done) })
}

// Stop halts any movement in progress, per spec.md §4.3's dim-stop path.
func (s *Sequencer) Stop() { s.stop(nil) }

func (s *Sequencer) stop(done func()) {
	if s.move == nil {
		s.state = stateIdle
		if done != nil {
			done()
		}
		return
	}
	switch s.state {
	case statePositioning:
		s.state = stateStoppingBeforeTurning
	case stateStoppingBeforeApply:
		// keep, caller wants to apply right after this stop completes
	default:
		if s.state == stateTurning {
			s.state = stateStoppingAfterTurn
		} else {
			s.state = stateStopping
		}
	}
	s.cancelMoving()
	s.move(func() { s.stopped(done, true) }, 0)
}

func (s *Sequencer) stopped(done func(), delay bool) {
	s.updateMoveTimeAtEndReached = false
	s.cancelMoving()
	if delay && s.settings.StopDelay > 0 {
		s.sequenceTicket = s.sched.After(s.settings.StopDelay, func() { s.processStopped(done) })
		return
	}
	s.processStopped(done)
}

func (s *Sequencer) processStopped(done func()) {
	switch s.state {
	case stateStoppingBeforeApply:
		s.state = stateIdle
		fallthrough
	case stateDimming:
		s.applyPosition(done)
	case stateStoppingBeforeTurning:
		s.sequenceTicket = s.sched.After(PositionToAngleDelay, func() { s.applyAngle(done) })
	default:
		s.referencePosition = s.estimatedPosition()
		s.referenceAngle = s.estimatedAngle()
		s.referenceTime = time.Time{}
		s.position.ChannelValueApplied(false)
		if s.angle != nil {
			s.angle.ChannelValueApplied(false)
		}
		s.position.SyncChannelValue(s.referencePosition, true)
		if s.angle != nil {
			s.angle.SyncChannelValue(s.referenceAngle, true)
		}
		s.allDone(done)
	}
}

func (s *Sequencer) allDone(done func()) {
	s.cancelMoving()
	s.state = stateIdle
	if done != nil {
		done()
	}
}

// estimatedPosition projects referencePosition forward by however long the
// current move has been running, using the calibrated open/close time as
// the rate; a device with end contacts corrects any drift via EndReached.
func (s *Sequencer) estimatedPosition() float64 {
	return s.estimate(s.referencePosition, s.settings.OpenTime, s.settings.CloseTime)
}

func (s *Sequencer) estimatedAngle() float64 {
	return s.estimate(s.referenceAngle, s.settings.AngleOpenTime, s.settings.AngleCloseTime)
}

func (s *Sequencer) estimate(base float64, openTime, closeTime time.Duration) float64 {
	if s.referenceTime.IsZero() {
		return base
	}
	rate := openTime
	dir := 1.0
	if !s.movingUp {
		rate = closeTime
		dir = -1.0
	}
	if rate <= 0 {
		return base
	}
	elapsed := time.Since(s.referenceTime)
	delta := dir * 100.0 * float64(elapsed) / float64(rate)
	return utils.Clamp(base+delta, 0, 100)
}

// State exposes the current phase for diagnostics/tests.
func (s *Sequencer) State() string {
	switch s.state {
	case stateIdle:
		return "idle"
	case stateStopping:
		return "stopping"
	case stateStoppingAfterTurn:
		return "stoppingAfterTurn"
	case stateStoppingBeforeApply:
		return "stoppingBeforeApply"
	case statePositioning:
		return "positioning"
	case stateStoppingBeforeTurning:
		return "stoppingBeforeTurning"
	case stateTurning:
		return "turning"
	case stateDimming:
		return "dimming"
	default:
		return "unknown"
	}
}
