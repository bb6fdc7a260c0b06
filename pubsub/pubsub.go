// SPDX-License-Identifier: Apache-2.0

// Package pubsub is the main-loop plumbing vdc-host is built on: a single
// goroutine drains Bus.Run(), and every other goroutine (backend I/O,
// timers) hands work back to it through Bus.Post instead of touching
// shared state directly, per spec.md §5 ("blocking backend I/O MUST run
// on worker threads and deliver results through a cross-thread callback
// queue that runs on the main loop").
//
// The call-site shape (NewSubscription/Activate/MsgChan/ProcessChange,
// ps.StillRunning) is rebuilt from the teacher's own pubsub usage in
// cmd/ledmanager/ledmanager.go; the package source itself was not in the
// retrieval pack, only its call sites, so this is a reimplementation
// generalized with Go generics rather than a port.
package pubsub

import (
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Bus is the process-wide main loop's callback queue and watchdog.
type Bus struct {
	mainQueue  chan func()
	watchdog   *watchdog
	closedOnce sync.Once
	closed     chan struct{}
}

// NewBus creates a Bus with the given callback queue depth.
func NewBus(queueDepth int) *Bus {
	return &Bus{
		mainQueue: make(chan func(), queueDepth),
		closed:    make(chan struct{}),
	}
}

// Post enqueues fn to run on the goroutine calling Run, preserving the
// single-writer invariant of spec.md §5. Safe to call from any goroutine,
// including Run's own goroutine (it will run after currently queued work).
func (b *Bus) Post(fn func()) {
	select {
	case b.mainQueue <- fn:
	case <-b.closed:
	}
}

// Run drains the callback queue until Close is called or stop fires.
// Intended to be the body of the process's single main-loop goroutine.
func (b *Bus) Run(stop <-chan struct{}) {
	for {
		select {
		case fn := <-b.mainQueue:
			fn()
		case <-stop:
			return
		case <-b.closed:
			return
		}
	}
}

// Close stops Run and causes any pending Post calls to return without
// enqueueing.
func (b *Bus) Close() {
	b.closedOnce.Do(func() { close(b.closed) })
}

// Ticket is a cancellable handle to a scheduled callback, per spec.md §5
// ("any scheduled timer is cancellable by a ticket/handle stored on the
// owning entity... cancellation never invokes the callback").
type Ticket interface {
	Cancel()
}

type ticket struct {
	timer     *time.Timer
	cancelled *int32
}

func (t *ticket) Cancel() {
	t.timer.Stop()
	atomic.StoreInt32(t.cancelled, 1)
}

// Scheduler schedules work to run on a Bus's main loop after a delay.
// Components (ButtonStateMachine, ShadowSequencer, Device) hold a
// Scheduler rather than calling time.AfterFunc directly, so that every
// delayed callback is guaranteed to run serialized with the rest of the
// entity's state mutation, never concurrently with it.
type Scheduler struct {
	bus *Bus
}

// NewScheduler creates a Scheduler posting onto bus.
func NewScheduler(bus *Bus) *Scheduler {
	return &Scheduler{bus: bus}
}

// After schedules fn to run on the main loop after d elapses. Returns a
// Ticket; calling Cancel before the timer fires guarantees fn never runs.
func (s *Scheduler) After(d time.Duration, fn func()) Ticket {
	var cancelled int32
	t := &ticket{cancelled: &cancelled}
	t.timer = time.AfterFunc(d, func() {
		s.bus.Post(func() {
			if atomic.LoadInt32(t.cancelled) == 0 {
				fn()
			}
		})
	})
	return t
}

// watchdog tracks liveness touch deadlines per named component, mirroring
// the teacher's `ps.StillRunning(agentName, warningTime, errorTime)`.
type watchdog struct {
	mu      sync.Mutex
	touched map[string]time.Time
	file    string
}

// Watchdog installs the Bus's watchdog tracker (once; later calls keep the
// first one), touching fname on disk on every StillRunning call (teacher: ledmanager.go's periodic StillRunning
// ticks feed a kernel watchdog file the same way).
func (b *Bus) Watchdog(fname string) {
	if b.watchdog == nil {
		b.watchdog = &watchdog{touched: map[string]time.Time{}, file: fname}
	}
}

// StillRunning records that agentName is alive, and best-effort touches
// the watchdog file on disk. warn/errAfter are advisory thresholds a
// supervisor could use to detect a stuck agent; this package only records
// the timestamp, it does not itself page anyone.
func (b *Bus) StillRunning(agentName string, warnAfter, errAfter time.Duration) {
	if b.watchdog == nil {
		b.Watchdog("")
	}
	b.watchdog.mu.Lock()
	b.watchdog.touched[agentName] = time.Now()
	fname := b.watchdog.file
	b.watchdog.mu.Unlock()
	if fname != "" {
		_ = os.WriteFile(fname, []byte(time.Now().Format(time.RFC3339)), 0644)
	}
}

// LastTouch returns when agentName last called StillRunning, and whether
// it has ever done so.
func (b *Bus) LastTouch(agentName string) (time.Time, bool) {
	if b.watchdog == nil {
		return time.Time{}, false
	}
	b.watchdog.mu.Lock()
	defer b.watchdog.mu.Unlock()
	t, ok := b.watchdog.touched[agentName]
	return t, ok
}
