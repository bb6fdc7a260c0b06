// SPDX-License-Identifier: Apache-2.0

package shadow

import (
	"testing"
	"time"

	"github.com/plan44dev/vdc-host/pubsub"
	"github.com/plan44dev/vdc-host/types"
	"github.com/stretchr/testify/require"
)

// fakeScheduler queues callbacks instead of running them after a real
// delay; flush drains the queue in FIFO order, including tickets
// scheduled as a side effect of an earlier one firing.
type fakeScheduler struct {
	pending []*fakeTicket
}

type fakeTicket struct {
	fn        func()
	cancelled bool
}

func (t *fakeTicket) Cancel() { t.cancelled = true }

func (s *fakeScheduler) After(d time.Duration, fn func()) pubsub.Ticket {
	t := &fakeTicket{fn: fn}
	s.pending = append(s.pending, t)
	return t
}

func (s *fakeScheduler) flush(max int) {
	for i := 0; i < max && len(s.pending) > 0; i++ {
		t := s.pending[0]
		s.pending = s.pending[1:]
		if !t.cancelled {
			t.fn()
		}
	}
}

func newTestSequencer() (*Sequencer, *fakeScheduler, *[]int) {
	sched := &fakeScheduler{}
	pos := types.NewChannel(types.ChannelTypeShadePosition, 0, 0, 100, 1)
	ang := types.NewChannel(types.ChannelTypeShadeAngle, 0, 0, 100, 1)
	moves := &[]int{}
	move := func(done func(), dir int) {
		*moves = append(*moves, dir)
		if done != nil {
			done()
		}
	}
	seq := NewSequencer(
		Params{Kind: KindJalousie, MinMoveTime: 100 * time.Millisecond},
		Settings{OpenTime: 10 * time.Second, CloseTime: 10 * time.Second, AngleOpenTime: 500 * time.Millisecond, AngleCloseTime: 500 * time.Millisecond},
		sched, move, pos, ang,
	)
	return seq, sched, moves
}

func TestApplyBlindChannelsMovesThenSettles(t *testing.T) {
	seq, sched, moves := newTestSequencer()
	seq.position.SetChannelValue(50, 0, false)

	done := false
	seq.ApplyBlindChannels(func() { done = true })
	sched.flush(20)

	require.True(t, done)
	require.NotEmpty(t, *moves)
	require.Equal(t, "idle", seq.State())
	require.False(t, seq.position.NeedsApply())
}

func TestApplyBlindChannelsDoesNotInterruptPositioningForAngleOnlyChange(t *testing.T) {
	seq, _, moves := newTestSequencer()

	// simulate "already positioning, position settled, only angle pending":
	// position.NeedsApply() is false but the sequencer is still mid-move.
	seq.state = statePositioning
	seq.position.SyncChannelValue(50, true)
	seq.angle.SetChannelValue(80, 0, false)

	done := false
	seq.ApplyBlindChannels(func() { done = true })

	require.True(t, done, "caller must be confirmed immediately, not blocked on the running move")
	require.Empty(t, *moves, "the in-flight positioning move must not be stopped")
	require.Equal(t, "positioning", seq.State(), "state machine must keep running its own sequence")
}

func TestApplyBlindChannelsFullDownRunsIntoEnd(t *testing.T) {
	seq, sched, moves := newTestSequencer()
	seq.params.HasEndContacts = true
	seq.position.SetChannelValue(0, 0, true)

	seq.ApplyBlindChannels(nil)
	sched.flush(20)

	require.Contains(t, *moves, -1)
	require.True(t, seq.runIntoEnd)

	seq.EndReached(false)
	require.Equal(t, "idle", seq.State())
	require.Equal(t, 0.0, seq.referencePosition)
}

func TestStopDelayDefersFinalization(t *testing.T) {
	seq, sched, _ := newTestSequencer()
	seq.settings.StopDelay = 200 * time.Millisecond
	seq.position.SetChannelValue(80, 0, false)

	seq.ApplyBlindChannels(nil)
	require.Len(t, sched.pending, 1, "only the move-stop timer should be queued so far")

	sched.flush(1) // fire it: the move ends and a stop-delay timer is armed
	require.Len(t, sched.pending, 1)
	require.NotEqual(t, "idle", seq.State(), "finalization must wait for the stop delay")

	sched.flush(10)
	require.Equal(t, "idle", seq.State())
}

func TestDimBlindStartsAndStopReturnsToIdle(t *testing.T) {
	seq, sched, moves := newTestSequencer()

	seq.DimBlind(types.DimUp)
	require.True(t, seq.movingUp)
	require.Equal(t, "dimming", seq.State())

	seq.DimBlind(types.DimNone)
	sched.flush(10)

	require.Equal(t, "idle", seq.State())
	require.Contains(t, *moves, 1)
	require.Contains(t, *moves, 0)
}
