// SPDX-License-Identifier: Apache-2.0

package vdc_test

import (
	"testing"

	. "github.com/onsi/gomega"

	"github.com/plan44dev/vdc-host/dsuid"
	"github.com/plan44dev/vdc-host/types"
	"github.com/plan44dev/vdc-host/vdc"
)

// This file exercises the FNV64 hash helpers with gomega's fluent
// matchers rather than testify, the way the teacher's own
// objtonum/map_test.go mixes both assertion styles across its test
// suite rather than standardizing on one.

func TestDeviceHashIsStableForTheSameDSUID(t *testing.T) {
	g := NewWithT(t)

	var id dsuid.DSUID
	id[0] = 7

	g.Expect(vdc.DeviceHash(id)).To(Equal(vdc.DeviceHash(id)))
}

func TestDeviceHashDiffersAcrossDSUIDs(t *testing.T) {
	g := NewWithT(t)

	var a, b dsuid.DSUID
	a[0], b[0] = 1, 2

	g.Expect(vdc.DeviceHash(a)).NotTo(Equal(vdc.DeviceHash(b)))
}

func TestCombineHashOfEmptySetIsZero(t *testing.T) {
	g := NewWithT(t)

	g.Expect(vdc.CombineHash(nil)).To(BeZero())
}

func TestSceneContentsHashIsSensitiveToValueOrder(t *testing.T) {
	g := NewWithT(t)

	s1 := &types.Scene{SceneNo: 5, Values: []types.ChannelValue{
		{Channel: types.ChannelTypeBrightness, Value: 10},
		{Channel: types.ChannelTypeHue, Value: 20},
	}}
	s2 := &types.Scene{SceneNo: 5, Values: []types.ChannelValue{
		{Channel: types.ChannelTypeHue, Value: 20},
		{Channel: types.ChannelTypeBrightness, Value: 10},
	}}

	// Per-device contents hashing streams scene.Values in order; only
	// CombineHash across devices is order-insensitive.
	g.Expect(vdc.SceneContentsHash(s1)).NotTo(Equal(vdc.SceneContentsHash(s2)))
}

func TestCombineHashIsOrderInsensitiveAcrossDevices(t *testing.T) {
	g := NewWithT(t)

	s := &types.Scene{SceneNo: 5, Values: []types.ChannelValue{
		{Channel: types.ChannelTypeBrightness, Value: 10},
	}}
	h1 := vdc.SceneContentsHash(s)
	h2 := vdc.DeviceHash(dsuid.DSUID{1})

	g.Expect(vdc.CombineHash([]uint64{h1, h2})).To(Equal(vdc.CombineHash([]uint64{h2, h1})))
}
