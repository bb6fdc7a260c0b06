// SPDX-License-Identifier: Apache-2.0

package router

import (
	"testing"
	"time"

	"github.com/plan44dev/vdc-host/buttonfsm"
	"github.com/plan44dev/vdc-host/device"
	"github.com/plan44dev/vdc-host/dsuid"
	"github.com/plan44dev/vdc-host/pubsub"
	"github.com/plan44dev/vdc-host/types"
	"github.com/plan44dev/vdc-host/vdc"
	"github.com/stretchr/testify/require"
)

type fakeSched struct{}

func (fakeSched) After(d time.Duration, fn func()) pubsub.Ticket { return nil }

func newRouterDevice(id byte) *device.Device {
	out := types.NewOutputBehaviour("", 0, types.OutputPlain)
	out.Channels = []*types.Channel{types.NewChannel(types.ChannelTypeBrightness, 0, 0, 100, 1)}
	out.DimmableWhileOff = true
	data := &types.Device{Output: out, Scenes: types.NewSceneTable()}
	data.DSUID[0] = id
	apply := func(done func(), forDimming bool) {
		for _, ch := range out.Channels {
			ch.ChannelValueApplied(true)
		}
		if done != nil {
			done()
		}
	}
	return device.NewDevice(data, fakeSched{}, apply, nil, nil, func(ch *types.Channel, dir types.DimDirection) {})
}

type fakeRegistry struct {
	devices map[dsuid.DSUID]*device.Device
	vdcs    map[dsuid.DSUID]*vdc.Vdc
}

func (r *fakeRegistry) Device(id dsuid.DSUID) *device.Device { return r.devices[id] }
func (r *fakeRegistry) VdcOf(id dsuid.DSUID) *vdc.Vdc         { return r.vdcs[id] }

func TestBuildAudienceGroupsByVdcAndSkipsUnknown(t *testing.T) {
	d1, d2 := newRouterDevice(1), newRouterDevice(2)
	v1, v2 := vdc.New("a"), vdc.New("b")
	reg := &fakeRegistry{
		devices: map[dsuid.DSUID]*device.Device{d1.Data.DSUID: d1, d2.Data.DSUID: d2},
		vdcs:    map[dsuid.DSUID]*vdc.Vdc{d1.Data.DSUID: v1, d2.Data.DSUID: v2},
	}
	r := New(reg)

	var unknown dsuid.DSUID
	unknown[0] = 9
	a := r.BuildAudience([]dsuid.DSUID{d1.Data.DSUID, d2.Data.DSUID, unknown})

	require.Len(t, a.ByVdc, 2)
	require.Equal(t, []*device.Device{d1}, a.ByVdc[v1])
	require.Equal(t, []*device.Device{d2}, a.ByVdc[v2])
	require.Len(t, a.Devices(), 2)
}

func TestDeliverSceneCallAppliesEveryDeviceInAudience(t *testing.T) {
	d1, d2 := newRouterDevice(1), newRouterDevice(2)
	v := vdc.New("a")
	reg := &fakeRegistry{
		devices: map[dsuid.DSUID]*device.Device{d1.Data.DSUID: d1, d2.Data.DSUID: d2},
		vdcs:    map[dsuid.DSUID]*vdc.Vdc{d1.Data.DSUID: v, d2.Data.DSUID: v},
	}
	r := New(reg)
	a := r.BuildAudience([]dsuid.DSUID{d1.Data.DSUID, d2.Data.DSUID})

	scene := &types.Scene{SceneNo: 5, Values: []types.ChannelValue{{Channel: types.ChannelTypeBrightness, Value: 80}}}
	results := r.DeliverSceneCall(a, func(d *device.Device) *types.Scene { return scene }, false)

	require.Len(t, results, 2)
	for _, res := range results {
		require.True(t, res.Applied)
		require.Equal(t, 80.0, res.Device.Data.Output.Channels[0].CurrentValue())
	}
}

func TestDeliverSceneCallCoalescesSecondIdenticalCallViaVdc(t *testing.T) {
	d1, d2 := newRouterDevice(1), newRouterDevice(2)
	v := vdc.New("a")
	nativeCalls := 0
	v.NativeAction = func(ds *device.DeliveryState) error { nativeCalls++; return nil }
	reg := &fakeRegistry{
		devices: map[dsuid.DSUID]*device.Device{d1.Data.DSUID: d1, d2.Data.DSUID: d2},
		vdcs:    map[dsuid.DSUID]*vdc.Vdc{d1.Data.DSUID: v, d2.Data.DSUID: v},
	}
	r := New(reg)
	a := r.BuildAudience([]dsuid.DSUID{d1.Data.DSUID, d2.Data.DSUID})

	scene := &types.Scene{SceneNo: 5, Values: []types.ChannelValue{{Channel: types.ChannelTypeBrightness, Value: 80}}}
	resolve := func(d *device.Device) *types.Scene { return scene }

	r.DeliverSceneCall(a, resolve, false)
	require.Equal(t, 0, nativeCalls)

	r.DeliverSceneCall(a, resolve, false)
	require.Equal(t, 1, nativeCalls, "an identical repeat coalesces into one native call")
}

func TestDeliverDimAppliesToEveryDeviceInAudience(t *testing.T) {
	d1, d2 := newRouterDevice(1), newRouterDevice(2)
	v := vdc.New("a")
	reg := &fakeRegistry{
		devices: map[dsuid.DSUID]*device.Device{d1.Data.DSUID: d1, d2.Data.DSUID: d2},
		vdcs:    map[dsuid.DSUID]*vdc.Vdc{d1.Data.DSUID: v, d2.Data.DSUID: v},
	}
	r := New(reg)
	a := r.BuildAudience([]dsuid.DSUID{d1.Data.DSUID, d2.Data.DSUID})

	results := r.DeliverDim(a, types.ChannelTypeBrightness, types.DimUp, 0)

	require.Len(t, results, 2)
	for _, res := range results {
		_, dir, active := res.Device.DimState()
		require.True(t, active)
		require.Equal(t, types.DimUp, dir)
	}
}

type recordingSubscriber struct {
	calls *[]string
}

func newRecordingSubscriber(calls *[]string) *recordingSubscriber {
	return &recordingSubscriber{calls: calls}
}

func (s *recordingSubscriber) NotifyClick(sourceID string, ct buttonfsm.ClickType) {
	*s.calls = append(*s.calls, sourceID)
}

func TestDeliverButtonClickRestrictsToBridgeWhenExclusive(t *testing.T) {
	r := New(&fakeRegistry{})
	var allCalls, bridgeCalls []string
	all := []ClickSubscriber{newRecordingSubscriber(&allCalls)}
	bridge := []ClickSubscriber{newRecordingSubscriber(&bridgeCalls)}

	r.DeliverButtonClick("dev1_B0", buttonfsm.ClickNone, true, all, bridge)
	require.Empty(t, allCalls, "bridgeExclusive must skip normal subscribers")
	require.Equal(t, []string{"dev1_B0"}, bridgeCalls)

	allCalls, bridgeCalls = nil, nil
	r.DeliverButtonClick("dev1_B0", buttonfsm.ClickNone, false, all, bridge)
	require.Equal(t, []string{"dev1_B0"}, allCalls)
	require.Empty(t, bridgeCalls)
}
