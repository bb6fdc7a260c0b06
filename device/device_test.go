// SPDX-License-Identifier: Apache-2.0

package device

import (
	"testing"
	"time"

	"github.com/plan44dev/vdc-host/pubsub"
	"github.com/plan44dev/vdc-host/types"
	"github.com/stretchr/testify/require"
)

type fakeDeviceTicket struct {
	fn        func()
	cancelled bool
}

func (t *fakeDeviceTicket) Cancel() { t.cancelled = true }

type fakeDeviceScheduler struct {
	pending []*fakeDeviceTicket
}

func (s *fakeDeviceScheduler) After(d time.Duration, fn func()) pubsub.Ticket {
	t := &fakeDeviceTicket{fn: fn}
	s.pending = append(s.pending, t)
	return t
}

func newTestDevice() (*Device, *fakeDeviceScheduler, *[]types.DimDirection) {
	sched := &fakeDeviceScheduler{}
	out := types.NewOutputBehaviour("", 0, types.OutputPlain)
	out.Channels = []*types.Channel{types.NewChannel(types.ChannelTypeBrightness, 0, 0, 100, 1)}
	out.DimmableWhileOff = true

	data := &types.Device{Output: out, Scenes: types.NewSceneTable()}

	dimCalls := &[]types.DimDirection{}
	dimStep := func(ch *types.Channel, dir types.DimDirection) {
		*dimCalls = append(*dimCalls, dir)
	}
	apply := func(done func(), forDimming bool) {
		for _, ch := range out.Channels {
			ch.ChannelValueApplied(true)
		}
		if done != nil {
			done()
		}
	}

	dev := NewDevice(data, sched, apply, nil, nil, dimStep)
	return dev, sched, dimCalls
}

func TestCallSceneAppliesChannelsAndCapturesUndo(t *testing.T) {
	dev, _, _ := newTestDevice()
	dev.Data.Output.Channels[0].SyncChannelValue(10, true)

	scene := &types.Scene{
		SceneNo: 5,
		Values:  []types.ChannelValue{{Channel: types.ChannelTypeBrightness, Value: 80}},
	}

	require.True(t, dev.CallScenePrepare(scene, false))
	require.NotNil(t, dev.UndoScene())
	require.Equal(t, 10.0, dev.UndoScene().Values[0].Value)

	done := false
	dev.CallSceneExecutePrepared(ApplyPerDevice, func() { done = true })

	require.True(t, done)
	require.Equal(t, 80.0, dev.Data.Output.Channels[0].CurrentValue())
	require.False(t, dev.Data.Output.Channels[0].NeedsApply())
}

func TestAreaSceneSuppressedWhenAreaOnIsDontCare(t *testing.T) {
	dev, _, _ := newTestDevice()
	dev.Data.Scenes.SetScene(&types.Scene{
		SceneNo: types.AreaOnSceneNo(1),
		Values:  []types.ChannelValue{{Channel: types.ChannelTypeBrightness, DontCare: true}},
	})
	scene := &types.Scene{
		SceneNo: 20,
		Flags:   types.SceneKindFlags{IsAreaScene: true, Area: 1},
		Values:  []types.ChannelValue{{Channel: types.ChannelTypeBrightness, Value: 50}},
	}

	require.False(t, dev.CallScenePrepare(scene, false))
	require.Nil(t, dev.PreparedScene())
}

func TestAreaSceneSetsLocalPriorityAndOffSceneClearsIt(t *testing.T) {
	dev, _, _ := newTestDevice()
	areaScene := &types.Scene{
		SceneNo: 20,
		Flags:   types.SceneKindFlags{IsAreaScene: true, Area: 1},
		Values:  []types.ChannelValue{{Channel: types.ChannelTypeBrightness, Value: 50}},
	}
	require.True(t, dev.CallScenePrepare(areaScene, false))
	require.True(t, dev.Data.LocalPriority)

	offScene := &types.Scene{
		SceneNo: 0,
		Flags:   types.SceneKindFlags{IsOffScene: true},
		Values:  []types.ChannelValue{{Channel: types.ChannelTypeBrightness, Value: 0}},
	}
	require.True(t, dev.CallScenePrepare(offScene, false))
	require.False(t, dev.Data.LocalPriority)
}

func TestLocalPrioritySuppressesNonForcedNonAreaScene(t *testing.T) {
	dev, _, _ := newTestDevice()
	dev.Data.LocalPriority = true
	scene := &types.Scene{
		SceneNo: 5,
		Values:  []types.ChannelValue{{Channel: types.ChannelTypeBrightness, Value: 80}},
	}

	require.False(t, dev.CallScenePrepare(scene, false))
	require.True(t, dev.Data.LocalPriority, "suppressed call must not touch local priority")

	require.True(t, dev.CallScenePrepare(scene, true))
	require.False(t, dev.Data.LocalPriority, "a forced bypass also ends local priority")
}

func TestDimStartsRetriggersThenAutoStops(t *testing.T) {
	dev, sched, moves := newTestDevice()

	retrigger := dev.DimChannelForAreaPrepare(types.ChannelTypeBrightness, types.DimUp, 0)
	require.False(t, retrigger, "a mode change is not a retrigger")
	dev.DimChannelExecutePrepared(true)
	require.Contains(t, *moves, types.DimUp)
	require.Len(t, sched.pending, 2, "step timeout + safety cap should both be armed")

	retrigger = dev.DimChannelForAreaPrepare(types.ChannelTypeBrightness, types.DimUp, 0)
	require.True(t, retrigger, "same mode/channel while dimming is a retrigger")
	dev.DimChannelExecutePrepared(true)
	// retriggering must not re-arm the safety cap ticket
	require.Len(t, sched.pending, 3)
	require.True(t, sched.pending[0].cancelled, "the old step-timeout ticket is replaced")
	require.False(t, sched.pending[1].cancelled, "the safety cap ticket is left alone")

	// the (still live) step-timeout ticket fires: dimming auto-stops
	sched.pending[2].fn()
	_, _, active := dev.DimState()
	require.False(t, active)
	require.Contains(t, *moves, types.DimNone)
}

func TestDimSafetyCapStopsEvenIfRetriggeredForever(t *testing.T) {
	dev, sched, moves := newTestDevice()

	dev.DimChannelForAreaPrepare(types.ChannelTypeBrightness, types.DimDown, 0)
	dev.DimChannelExecutePrepared(true)
	require.Len(t, sched.pending, 2)
	safetyTicket := sched.pending[1]

	for i := 0; i < 5; i++ {
		retrigger := dev.DimChannelForAreaPrepare(types.ChannelTypeBrightness, types.DimDown, 0)
		require.True(t, retrigger)
		dev.DimChannelExecutePrepared(true)
	}
	require.False(t, safetyTicket.cancelled, "retriggers never touch the safety cap ticket")

	safetyTicket.fn()
	_, _, active := dev.DimState()
	require.False(t, active)
	require.Equal(t, types.DimNone, (*moves)[len(*moves)-1])
}

func TestDimSuppressedWhenAreaOnSceneIsDontCare(t *testing.T) {
	dev, _, moves := newTestDevice()
	dev.Data.Scenes.SetScene(&types.Scene{
		SceneNo: types.AreaOnSceneNo(2),
		Values:  []types.ChannelValue{{Channel: types.ChannelTypeBrightness, DontCare: true}},
	})

	retrigger := dev.DimChannelForAreaPrepare(types.ChannelTypeBrightness, types.DimUp, 2)
	require.False(t, retrigger)
	dev.DimChannelExecutePrepared(true)
	require.Empty(t, *moves, "dim must never reach hardware for a dontCare area")
}

func TestDimCannotBrightenAnOffLightThatDisallowsDimWhileOff(t *testing.T) {
	dev, _, moves := newTestDevice()
	dev.Data.Output.DimmableWhileOff = false
	dev.Data.Output.Channels[0].SyncChannelValue(0, true) // off

	dev.DimChannelForAreaPrepare(types.ChannelTypeBrightness, types.DimUp, 0)
	dev.DimChannelExecutePrepared(true)
	require.Empty(t, *moves)
}
