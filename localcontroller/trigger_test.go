// SPDX-License-Identifier: Apache-2.0

package localcontroller

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/plan44dev/vdc-host/pubsub"
	"github.com/plan44dev/vdc-host/script"
	"github.com/plan44dev/vdc-host/types"
	"github.com/stretchr/testify/require"
)

type fakeTicket struct{ cancelled bool }

func (t *fakeTicket) Cancel() { t.cancelled = true }

type fakeTriggerScheduler struct {
	pending []*pendingCall
}

type pendingCall struct {
	fn        func()
	ticket    *fakeTicket
}

func (s *fakeTriggerScheduler) After(d time.Duration, fn func()) pubsub.Ticket {
	ticket := &fakeTicket{}
	s.pending = append(s.pending, &pendingCall{fn: fn, ticket: ticket})
	return ticket
}

func (s *fakeTriggerScheduler) fireLast() {
	s.pending[len(s.pending)-1].fn()
}

// fakeEngine reports conditionValue for any "-condition" sourceUID and
// records every "-action" run by name, with an optional delay so restart
// semantics (abort-still-running) can be observed.
type fakeEngine struct {
	script.NullEngine
	mu             sync.Mutex
	conditionValue float64
	actionsStarted []string
	actionsFinished []string
	actionDelay    time.Duration
}

func (e *fakeEngine) Run(ctx context.Context, sourceUID, code string) (script.Result, error) {
	if strings.HasSuffix(sourceUID, "-condition") {
		e.mu.Lock()
		v := e.conditionValue
		e.mu.Unlock()
		return script.Result{Value: v}, nil
	}
	e.mu.Lock()
	e.actionsStarted = append(e.actionsStarted, sourceUID)
	e.mu.Unlock()
	select {
	case <-time.After(e.actionDelay):
	case <-ctx.Done():
		return script.Result{}, ctx.Err()
	}
	e.mu.Lock()
	e.actionsFinished = append(e.actionsFinished, sourceUID)
	e.mu.Unlock()
	return script.Result{}, nil
}

func TestEvaluateConditionFiresImmediatelyWithoutHoldoff(t *testing.T) {
	c := New()
	eng := &fakeEngine{}
	trig := &types.Trigger{ID: 1, ConditionScript: "cond", ActionScript: "act"}
	c.AddTrigger(trig, nil, eng)

	eng.conditionValue = 1
	c.evaluateCondition(c.Triggers[0])

	time.Sleep(10 * time.Millisecond)
	eng.mu.Lock()
	defer eng.mu.Unlock()
	require.Len(t, eng.actionsStarted, 1)
}

func TestEvaluateConditionOnlyFiresOnRisingEdge(t *testing.T) {
	c := New()
	eng := &fakeEngine{}
	trig := &types.Trigger{ID: 1, ConditionScript: "cond", ActionScript: "act"}
	c.AddTrigger(trig, nil, eng)

	eng.conditionValue = 1
	c.evaluateCondition(c.Triggers[0])
	c.evaluateCondition(c.Triggers[0])
	c.evaluateCondition(c.Triggers[0])

	time.Sleep(10 * time.Millisecond)
	eng.mu.Lock()
	defer eng.mu.Unlock()
	require.Len(t, eng.actionsStarted, 1, "repeated true evaluations without a drop to false must not refire")
}

func TestEvaluateConditionHoldoffDebouncesBriefTrueSpike(t *testing.T) {
	c := New()
	eng := &fakeEngine{}
	sched := &fakeTriggerScheduler{}
	trig := &types.Trigger{ID: 1, ConditionScript: "cond", ActionScript: "act", Holdoff: 500}
	c.AddTrigger(trig, sched, eng)

	eng.conditionValue = 1
	c.evaluateCondition(c.Triggers[0])
	require.Len(t, sched.pending, 1, "a rising edge with holdoff arms a timer instead of firing immediately")

	eng.conditionValue = 0
	c.evaluateCondition(c.Triggers[0])
	require.True(t, sched.pending[0].ticket.cancelled, "dropping back to false before holdoff elapses cancels the timer")

	eng.mu.Lock()
	require.Empty(t, eng.actionsStarted, "a cancelled holdoff must never fire the action")
	eng.mu.Unlock()
}

func TestEvaluateConditionHoldoffFiresWhenTimerElapsesWhileStillTrue(t *testing.T) {
	c := New()
	eng := &fakeEngine{}
	sched := &fakeTriggerScheduler{}
	trig := &types.Trigger{ID: 1, ConditionScript: "cond", ActionScript: "act", Holdoff: 500}
	c.AddTrigger(trig, sched, eng)

	eng.conditionValue = 1
	c.evaluateCondition(c.Triggers[0])
	sched.fireLast()

	time.Sleep(10 * time.Millisecond)
	eng.mu.Lock()
	defer eng.mu.Unlock()
	require.Len(t, eng.actionsStarted, 1)
}

func TestFireActionAbortsStillRunningPreviousAction(t *testing.T) {
	c := New()
	eng := &fakeEngine{actionDelay: 50 * time.Millisecond}
	trig := &types.Trigger{ID: 1, ConditionScript: "cond", ActionScript: "act"}
	c.AddTrigger(trig, nil, eng)

	c.fireAction(c.Triggers[0])
	time.Sleep(5 * time.Millisecond)
	c.fireAction(c.Triggers[0])

	time.Sleep(80 * time.Millisecond)
	eng.mu.Lock()
	defer eng.mu.Unlock()
	require.Len(t, eng.actionsStarted, 2, "both fires start")
	require.Len(t, eng.actionsFinished, 1, "the first run must be aborted before it finishes")
}

func TestReevaluateTriggersForOnlyMatchingSource(t *testing.T) {
	c := New()
	eng := &fakeEngine{}
	trig := &types.Trigger{
		ID:              1,
		ConditionScript: "cond",
		ActionScript:    "act",
		VarDefs:         []types.VarDef{{VarName: "t", SourceID: "dev1_S0"}},
	}
	c.AddTrigger(trig, nil, eng)
	eng.conditionValue = 1

	c.PublishValue("dev2_S0", "other", 10)
	time.Sleep(5 * time.Millisecond)
	eng.mu.Lock()
	require.Empty(t, eng.actionsStarted, "an unrelated source must not evaluate the trigger")
	eng.mu.Unlock()

	c.PublishValue("dev1_S0", "temp", 10)
	time.Sleep(10 * time.Millisecond)
	eng.mu.Lock()
	defer eng.mu.Unlock()
	require.Len(t, eng.actionsStarted, 1)
}
