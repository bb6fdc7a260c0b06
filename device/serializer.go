// SPDX-License-Identifier: Apache-2.0

// Package device implements the per-device apply/update serializer and
// scene/dim pipeline of spec.md §4.4/§4.5: one Serializer per Device
// guarantees that at most one apply and one update are ever in flight on
// a backend at a time, coalescing requests that arrive while busy.
// Grounded on original_source/vdc_common/device.cpp's
// requestApplyingChannels/requestUpdatingChannels/serializerWatchdog.
package device

import (
	"time"

	"github.com/plan44dev/vdc-host/pubsub"
	"github.com/plan44dev/vdc-host/types"
)

// SerializerWatchdogTimeout force-ends a stuck apply/update, per spec.md
// §4.4 ("a watchdog force-completes a stuck apply/update after a fixed
// timeout"); ported from device.cpp's SERIALIZER_WATCHDOG_TIMEOUT.
const SerializerWatchdogTimeout = 20 * time.Second

// ApplyFn performs the actual hardware write; done must be called once
// the backend has accepted (not necessarily finished moving to) the new
// values.
type ApplyFn func(done func(), forDimming bool)

// SyncFn reads current values back from the backend; done must be called
// once the read is complete.
type SyncFn func(done func())

// Scheduler is the subset of *pubsub.Scheduler the serializer needs.
type Scheduler interface {
	After(d time.Duration, fn func()) pubsub.Ticket
}

// Serializer is the single-apply/single-update-in-flight discipline for
// one device, per spec.md §4.4.
type Serializer struct {
	sched   Scheduler
	apply   ApplyFn
	sync    SyncFn
	enabled func() bool // reports false for a disabled output -> apply becomes a no-op

	applyInProgress  bool
	updateInProgress bool

	// applyQueuedBehindUpdate records that an apply was requested while
	// an update was in flight; the real apply (and applyInProgress) only
	// starts once updatingChannelsComplete runs, so applyInProgress and
	// updateInProgress are never simultaneously true (spec.md §8).
	applyQueuedBehindUpdate bool

	MissedApplyAttempts int

	appliedOrSupersededCB func()
	applyCompleteWaiters  []func()
	updatedOrCachedCB     func()

	watchdogTicket pubsub.Ticket

	// data mirrors the in-flight flags onto the device's data record, so
	// a property-tree/persistence consumer reading *types.Device sees the
	// same state NewDevice's Serializer tracks internally. Set via
	// bindData; nil in Serializer's own unit tests, which only exercise
	// the accessor methods below.
	data *types.Device
}

// bindData wires d as the types.Device whose ApplyInProgress/
// UpdateInProgress/MissedApplyAttempts fields mirror this Serializer's
// state. Called once by NewDevice.
func (s *Serializer) bindData(d *types.Device) { s.data = d }

func (s *Serializer) syncData() {
	if s.data == nil {
		return
	}
	s.data.ApplyInProgress = s.applyInProgress
	s.data.UpdateInProgress = s.updateInProgress
	s.data.MissedApplyAttempts = s.MissedApplyAttempts
}

// NewSerializer constructs a Serializer. enabled may be nil (always
// enabled).
func NewSerializer(sched Scheduler, apply ApplyFn, sync SyncFn, enabled func() bool) *Serializer {
	return &Serializer{sched: sched, apply: apply, sync: sync, enabled: enabled}
}

func (s *Serializer) outputEnabled() bool {
	if s.enabled == nil {
		return true
	}
	return s.enabled()
}

// RequestApplyingChannels asks the backend to accept current channel
// values. done is eventually called once this specific request's values
// have been applied or superseded by a later request, per spec.md §4.4.
// forDimming lets the backend skip expensive settle behavior for a rapid
// dim step; modeChange bypasses the disabled-output no-op shortcut.
func (s *Serializer) RequestApplyingChannels(done func(), forDimming, modeChange bool) {
	if !modeChange && !s.outputEnabled() {
		if done != nil {
			done()
		}
		return
	}
	switch {
	case s.applyInProgress:
		if s.appliedOrSupersededCB != nil {
			cb := s.appliedOrSupersededCB
			s.appliedOrSupersededCB = done
			cb()
		} else {
			s.appliedOrSupersededCB = done
		}
		s.MissedApplyAttempts++
	case s.updateInProgress:
		s.MissedApplyAttempts++
		s.appliedOrSupersededCB = done
		s.applyQueuedBehindUpdate = true
	default:
		s.armWatchdog()
		s.appliedOrSupersededCB = done
		s.applyInProgress = true
		s.apply(s.applyingChannelsComplete, forDimming)
	}
	s.syncData()
}

// WaitForApplyComplete calls done once any apply currently in flight has
// finished, immediately if none is running, so a caller can chain further
// work (e.g. a reapply) behind the apply in flight.
func (s *Serializer) WaitForApplyComplete(done func()) {
	if !s.applyInProgress {
		done()
		return
	}
	s.applyCompleteWaiters = append(s.applyCompleteWaiters, done)
}

func (s *Serializer) armWatchdog() {
	s.cancelWatchdog()
	s.watchdogTicket = s.sched.After(SerializerWatchdogTimeout, s.watchdogFired)
}

func (s *Serializer) cancelWatchdog() {
	if s.watchdogTicket != nil {
		s.watchdogTicket.Cancel()
		s.watchdogTicket = nil
	}
}

func (s *Serializer) watchdogFired() {
	s.watchdogTicket = nil
	if s.applyInProgress {
		s.MissedApplyAttempts = 0
		s.applyingChannelsComplete()
	}
	if s.updateInProgress {
		s.updatingChannelsComplete()
	}
}

// checkForReapply re-requests an apply if any arrived while busy, per
// spec.md §4.4's "missedApplyAttempts coalescing" invariant: many
// requests in flight during one apply collapse into exactly one more.
func (s *Serializer) checkForReapply() bool {
	if s.MissedApplyAttempts > 0 {
		s.MissedApplyAttempts = 0
		s.applyInProgress = false
		cb := s.appliedOrSupersededCB
		s.RequestApplyingChannels(cb, false, false)
		return true
	}
	return false
}

func (s *Serializer) applyingChannelsComplete() {
	s.cancelWatchdog()
	s.applyInProgress = false
	if s.checkForReapply() {
		return
	}
	if s.appliedOrSupersededCB != nil {
		cb := s.appliedOrSupersededCB
		s.appliedOrSupersededCB = nil
		cb()
	}
	if len(s.applyCompleteWaiters) > 0 {
		waiters := s.applyCompleteWaiters
		s.applyCompleteWaiters = nil
		for _, w := range waiters {
			w()
		}
	}
	s.syncData()
}

// RequestUpdatingChannels asks the backend for current values, per
// spec.md §4.4. While an apply is already in flight, the in-memory
// values are considered current (the apply will settle them) and done
// fires immediately with no hardware round trip.
func (s *Serializer) RequestUpdatingChannels(done func()) {
	switch {
	case s.updateInProgress:
		if s.updatedOrCachedCB != nil {
			cb := s.updatedOrCachedCB
			s.updatedOrCachedCB = done
			cb()
		} else {
			s.updatedOrCachedCB = done
		}
	case s.applyInProgress:
		if done != nil {
			done()
		}
	default:
		s.updatedOrCachedCB = done
		s.updateInProgress = true
		s.armWatchdog()
		s.sync(s.updatingChannelsComplete)
	}
	s.syncData()
}

func (s *Serializer) updatingChannelsComplete() {
	s.cancelWatchdog()
	if s.updateInProgress {
		s.updateInProgress = false
		if s.updatedOrCachedCB != nil {
			cb := s.updatedOrCachedCB
			s.updatedOrCachedCB = nil
			cb()
		}
	}
	s.syncData()
	if s.applyQueuedBehindUpdate {
		s.applyQueuedBehindUpdate = false
		cb := s.appliedOrSupersededCB
		s.appliedOrSupersededCB = nil
		s.MissedApplyAttempts = 0
		s.RequestApplyingChannels(cb, false, false)
		return
	}
	s.checkForReapply()
}

// ApplyInProgress reports whether a hardware apply is currently running.
func (s *Serializer) ApplyInProgress() bool { return s.applyInProgress }

// UpdateInProgress reports whether a hardware read-back is currently
// running.
func (s *Serializer) UpdateInProgress() bool { return s.updateInProgress }
