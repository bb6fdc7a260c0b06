// SPDX-License-Identifier: Apache-2.0

// Package vdc implements the Vdc grouping and scene/dim optimizer contract
// of spec.md §4.5: devices of one backend kind share a Vdc, which may
// coalesce identical scene or dim calls across its whole audience into a
// single hardware-native action instead of one apply per device.
package vdc

import (
	"hash/fnv"
	"io"
	"math"

	"github.com/plan44dev/vdc-host/device"
	"github.com/plan44dev/vdc-host/dsuid"
	"github.com/plan44dev/vdc-host/types"
)

// NativeActionFn executes one hardware-native batch call covering every
// device that agreed to join the optimized set, per spec.md §4.5.
type NativeActionFn func(ds *device.DeliveryState) error

// Vdc groups the Devices of one backend kind, per spec.md §2/§4.5.
type Vdc struct {
	DSUID   dsuid.DSUID // this vdc's own identity, distinct from its devices'
	Kind    string
	Devices []*device.Device

	// NativeAction is called once, instead of one per-device apply, when
	// the same (contentsHash, affectedDevicesHash) pair repeats and
	// every device in the audience agreed to join (spec.md §4.5).
	NativeAction NativeActionFn

	lastContentsHash uint64
	lastAffected     uint64
	haveLast         bool
}

// New constructs an empty Vdc of the given backend kind.
func New(kind string) *Vdc { return &Vdc{Kind: kind} }

// AddDevice registers d under this Vdc.
func (v *Vdc) AddDevice(d *device.Device) { v.Devices = append(v.Devices, d) }

// SceneContentsHash is the FNV64 of one device's resolved scene content,
// per spec.md §4.5 ("contentsHash: FNV64 of scene contents"); XOR-mix the
// per-device results with CombineHash to get an order-insensitive hash
// for the whole audience.
func SceneContentsHash(scene *types.Scene) uint64 {
	if scene == nil {
		return 0
	}
	h := fnv.New64a()
	writeUint64(h, uint64(scene.SceneNo))
	for _, cv := range scene.Values {
		writeUint64(h, uint64(cv.Channel))
		writeUint64(h, math.Float64bits(cv.Value))
		if cv.DontCare {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}
	return h.Sum64()
}

// DeviceHash is the FNV64 of one device's dSUID, including its sub-index
// byte so distinct subdevices of the same physical device never collide
// ("subdevice-safe" per spec.md §4.5).
func DeviceHash(id dsuid.DSUID) uint64 {
	h := fnv.New64a()
	h.Write(id[:])
	return h.Sum64()
}

// CombineHash XOR-mixes a set of per-item hashes into one order
// insensitive hash, per spec.md §4.5 ("XOR-mixed across devices, so
// order-insensitive").
func CombineHash(hashes []uint64) uint64 {
	var combined uint64
	for _, h := range hashes {
		combined ^= h
	}
	return combined
}

func writeUint64(w io.Writer, v uint64) {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	w.Write(buf[:])
}

// OptimizeScene asks every device in members whether it can join a
// hardware-native batch call for scene, and decides per-audience whether
// to run NativeAction once instead of requesting an apply on each device,
// per spec.md §4.5's addToOptimizedSet/contentsHash contract.
//
// scenesByDevice supplies each device's own resolved scene (values can
// differ per device, e.g. per-device dontCare), keyed by dSUID.
// OptimizeScene returns, for each device in members (same order), the
// WhatToApply it should use for CallSceneExecutePrepared.
func (v *Vdc) OptimizeScene(sceneNo int, scenesByDevice map[dsuid.DSUID]*types.Scene, members []*device.Device) []device.WhatToApply {
	return v.optimize(device.OptimizedScene, sceneNo, types.DimNone, 0, scenesByDevice, members)
}

// OptimizeDim is OptimizeScene's counterpart for the dim pipeline: all
// devices in members are dimming channel ch in direction dir.
func (v *Vdc) OptimizeDim(ch types.ChannelType, dir types.DimDirection, members []*device.Device) []device.WhatToApply {
	return v.optimize(device.OptimizedDim, 0, dir, ch, nil, members)
}

func (v *Vdc) optimize(kind device.OptimizedType, contentID int, dir types.DimDirection, ch types.ChannelType, scenesByDevice map[dsuid.DSUID]*types.Scene, members []*device.Device) []device.WhatToApply {
	result := make([]device.WhatToApply, len(members))
	for i := range result {
		result[i] = device.ApplyPerDevice
	}
	if len(members) == 0 {
		return result
	}

	var contentHashes, deviceHashes []uint64
	for _, d := range members {
		if scenesByDevice != nil {
			contentHashes = append(contentHashes, SceneContentsHash(scenesByDevice[d.Data.DSUID]))
		}
		deviceHashes = append(deviceHashes, DeviceHash(d.Data.DSUID))
	}
	contentsHash := CombineHash(contentHashes)
	affectedHash := CombineHash(deviceHashes)

	ds := &device.DeliveryState{
		OptimizedType:       kind,
		ContentID:           contentID,
		ContentsHash:        contentsHash,
		ActionVariant:       dir,
		ActionParam:         ch,
		AffectedDevicesHash: affectedHash,
	}

	allAgree := true
	for _, d := range members {
		if !d.AddToOptimizedSet(ds) {
			allAgree = false
			break
		}
	}

	repeat := v.haveLast && v.lastContentsHash == contentsHash && v.lastAffected == affectedHash
	v.lastContentsHash = contentsHash
	v.lastAffected = affectedHash
	v.haveLast = true

	if allAgree && repeat && v.NativeAction != nil {
		if err := v.NativeAction(ds); err == nil {
			for i := range result {
				result[i] = device.ApplyNone
			}
		}
	}
	return result
}
