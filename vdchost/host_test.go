// SPDX-License-Identifier: Apache-2.0

package vdchost

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/plan44dev/vdc-host/base"
	"github.com/plan44dev/vdc-host/device"
	"github.com/plan44dev/vdc-host/dsuid"
	"github.com/plan44dev/vdc-host/pubsub"
	"github.com/plan44dev/vdc-host/types"
	"github.com/plan44dev/vdc-host/vdc"
)

type fakeHostSched struct{}

func (fakeHostSched) After(d time.Duration, fn func()) pubsub.Ticket { return nil }

func newHostDevice(id byte) *device.Device {
	out := types.NewOutputBehaviour("", 0, types.OutputPlain)
	out.Channels = []*types.Channel{types.NewChannel(types.ChannelTypeBrightness, 0, 0, 100, 1)}
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
	return device.NewDevice(data, fakeHostSched{}, apply, nil, nil, func(ch *types.Channel, dir types.DimDirection) {})
}

func newTestHost() *VdcHost {
	log := base.NewSourceLogObject(logrus.New(), "test", 0)
	bus := pubsub.NewBus(16)
	return New(dsuid.DSUID{1}, log, bus)
}

func TestAddDeviceRejectsDuplicateAndWiresRegistry(t *testing.T) {
	h := newTestHost()
	v := vdc.New("fake")
	h.AddVdc(v)
	d := newHostDevice(7)

	require.NoError(t, h.AddDevice(v, d))
	require.ErrorIs(t, h.AddDevice(v, d), ErrDuplicateDevice)

	require.Same(t, d, h.Device(d.Data.DSUID))
	require.Same(t, v, h.VdcOf(d.Data.DSUID))
	require.Len(t, h.Devices(), 1)
}

func TestRunStopsOnSignal(t *testing.T) {
	h := newTestHost()
	stop := make(chan struct{})

	done := make(chan struct{})
	go func() {
		h.Run(stop)
		close(done)
	}()

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after stop was closed")
	}
}
