// SPDX-License-Identifier: Apache-2.0

// Package router implements the NotificationRouter of spec.md §4.6/§9: it
// resolves a notification's targets into an Audience (devices grouped by
// their owning Vdc), then delivers scene calls, dim calls and button-click
// events to that audience. Cross-device delivery is not ordered (spec.md
// §5): every device's prepare/execute pair runs in its own goroutine,
// joined with a sync.WaitGroup, so one slow device never delays another's
// state update.
package router

import (
	"sync"

	"github.com/plan44dev/vdc-host/buttonfsm"
	"github.com/plan44dev/vdc-host/device"
	"github.com/plan44dev/vdc-host/dsuid"
	"github.com/plan44dev/vdc-host/types"
	"github.com/plan44dev/vdc-host/vdc"
)

// Registry resolves a dSUID to its owning Device and Vdc, so Router can
// build an audience without knowing backend internals.
type Registry interface {
	Device(id dsuid.DSUID) *device.Device
	VdcOf(id dsuid.DSUID) *vdc.Vdc
}

// Router builds audiences and fans notifications out to them.
type Router struct {
	reg Registry
}

// New constructs a Router backed by reg.
func New(reg Registry) *Router { return &Router{reg: reg} }

// Audience is the set of devices targeted by one notification, grouped by
// their owning Vdc so each group can be offered to its Vdc's optimizer
// (spec.md GLOSSARY "Audience").
type Audience struct {
	ByVdc map[*vdc.Vdc][]*device.Device
}

// Devices flattens the audience back into a single slice, in no
// particular order; useful for counting or logging.
func (a Audience) Devices() []*device.Device {
	var all []*device.Device
	for _, members := range a.ByVdc {
		all = append(all, members...)
	}
	return all
}

// BuildAudience resolves targets to Devices and groups them by Vdc.
// A target with no registered device (stale zone membership, a device
// that vanished since the zone's device list was last refreshed) is
// silently skipped.
func (r *Router) BuildAudience(targets []dsuid.DSUID) Audience {
	a := Audience{ByVdc: map[*vdc.Vdc][]*device.Device{}}
	for _, id := range targets {
		d := r.reg.Device(id)
		if d == nil {
			continue
		}
		v := r.reg.VdcOf(id)
		a.ByVdc[v] = append(a.ByVdc[v], d)
	}
	return a
}

// DeviceResult is one device's outcome from a fanned-out delivery.
type DeviceResult struct {
	Device  *device.Device
	Applied bool
}

// DeliverSceneCall calls scene on every device in the audience. Each Vdc's
// members are offered to that Vdc's OptimizeScene first, so a
// back-to-back repeat of the same scene can coalesce into one
// hardware-native action (spec.md §4.5); every device then runs its own
// prepare/execute pair concurrently with the rest of the audience.
// resolveScene returns the scene as it applies to one specific device
// (values, in particular dontCare flags, can differ per device).
func (r *Router) DeliverSceneCall(a Audience, resolveScene func(d *device.Device) *types.Scene, force bool) []DeviceResult {
	var results []DeviceResult
	var mu sync.Mutex
	var wg sync.WaitGroup

	for v, members := range a.ByVdc {
		whatToApply := perDeviceDefault(len(members))
		if v != nil {
			scenes := map[dsuid.DSUID]*types.Scene{}
			for _, d := range members {
				scenes[d.Data.DSUID] = resolveScene(d)
			}
			whatToApply = v.OptimizeScene(0, scenes, members)
		}

		for i, d := range members {
			d, wta := d, whatToApply[i]
			wg.Add(1)
			go func() {
				defer wg.Done()
				applied := false
				if d.CallScenePrepare(resolveScene(d), force) {
					done := make(chan struct{})
					d.CallSceneExecutePrepared(wta, func() { close(done) })
					<-done
					applied = true
				}
				mu.Lock()
				results = append(results, DeviceResult{Device: d, Applied: applied})
				mu.Unlock()
			}()
		}
	}
	wg.Wait()
	return results
}

// DeliverDim starts or retriggers dimming of ch in direction dir for
// every device in the audience, applying the same per-Vdc optimization
// and per-device fan-out as DeliverSceneCall.
func (r *Router) DeliverDim(a Audience, ch types.ChannelType, dir types.DimDirection, area int) []DeviceResult {
	var results []DeviceResult
	var mu sync.Mutex
	var wg sync.WaitGroup

	for v, members := range a.ByVdc {
		whatToApply := perDeviceDefault(len(members))
		if v != nil {
			whatToApply = v.OptimizeDim(ch, dir, members)
		}

		for i, d := range members {
			d, wta := d, whatToApply[i]
			wg.Add(1)
			go func() {
				defer wg.Done()
				d.DimChannelForAreaPrepare(ch, dir, area)
				d.DimChannelExecutePrepared(wta == device.ApplyPerDevice)
				mu.Lock()
				results = append(results, DeviceResult{Device: d, Applied: true})
				mu.Unlock()
			}()
		}
	}
	wg.Wait()
	return results
}

func perDeviceDefault(n int) []device.WhatToApply {
	w := make([]device.WhatToApply, n)
	for i := range w {
		w[i] = device.ApplyPerDevice
	}
	return w
}

// ClickSubscriber receives button click events routed from a value
// source, per spec.md GLOSSARY "value source" and §9's bridge delivery.
type ClickSubscriber interface {
	NotifyClick(sourceID string, ct buttonfsm.ClickType)
}

// DeliverButtonClick fans a click event out to subscribers. When
// bridgeExclusive is set on the originating button (§9's Open Question:
// a button can be reserved for bridge consumption only), only
// bridgeSubscribers are notified and local scene/trigger evaluation is
// skipped entirely; otherwise every subscriber in allSubscribers runs.
func (r *Router) DeliverButtonClick(sourceID string, ct buttonfsm.ClickType, bridgeExclusive bool, allSubscribers, bridgeSubscribers []ClickSubscriber) {
	targets := allSubscribers
	if bridgeExclusive {
		targets = bridgeSubscribers
	}
	var wg sync.WaitGroup
	for _, s := range targets {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.NotifyClick(sourceID, ct)
		}()
	}
	wg.Wait()
}
