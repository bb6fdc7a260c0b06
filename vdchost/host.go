// SPDX-License-Identifier: Apache-2.0

package vdchost

import (
	"errors"
	"time"

	"github.com/plan44dev/vdc-host/base"
	"github.com/plan44dev/vdc-host/buttonfsm"
	"github.com/plan44dev/vdc-host/device"
	"github.com/plan44dev/vdc-host/dsuid"
	"github.com/plan44dev/vdc-host/localcontroller"
	"github.com/plan44dev/vdc-host/pubsub"
	"github.com/plan44dev/vdc-host/router"
	"github.com/plan44dev/vdc-host/rpc"
	"github.com/plan44dev/vdc-host/script"
	"github.com/plan44dev/vdc-host/types"
	"github.com/plan44dev/vdc-host/vdc"
)

// WatchdogAgent is the name VdcHost registers itself under on the bus
// watchdog, per SPEC_FULL.md §5's "Go mapping"; Run touches it once a
// second through a job posted onto the main loop.
const WatchdogAgent = "vdchost"

// ErrDuplicateDevice is returned by AddDevice for a dSUID already
// registered.
var ErrDuplicateDevice = errors.New("vdchost: device already registered")

// VdcHost is the top-level object of spec.md §2: it owns identity, every
// Vdc and Device, the NotificationRouter, the LocalController, the RPC
// session, and the single main loop everything else schedules work onto,
// grounded on the teacher's cmd/ledmanager main-loop shape (a pubsub.Bus
// select loop with a periodic watchdog touch) generalized from "one LED
// per model" to "one vdc-host process".
type VdcHost struct {
	DSUID dsuid.DSUID
	Log   *base.LogObject

	Bus       *pubsub.Bus
	Scheduler *pubsub.Scheduler
	Router    *router.Router
	Local     *localcontroller.Controller

	Session *rpc.Session

	// Engine runs x-p44-scriptExec/checkTriggerCondition requests and
	// trigger actions; nil falls back to script.NullEngine.
	Engine script.Engine

	vdcs    []*vdc.Vdc
	devices map[dsuid.DSUID]*device.Device
	vdcOf   map[dsuid.DSUID]*vdc.Vdc

	watchdogWarn time.Duration
	watchdogErr  time.Duration
}

// New constructs an empty VdcHost around bus, which the caller owns
// (created, and eventually run/closed, by cmd/vdchost).
func New(id dsuid.DSUID, log *base.LogObject, bus *pubsub.Bus) *VdcHost {
	h := &VdcHost{
		DSUID:        id,
		Log:          log,
		Bus:          bus,
		Scheduler:    pubsub.NewScheduler(bus),
		Local:        localcontroller.New(),
		devices:      map[dsuid.DSUID]*device.Device{},
		vdcOf:        map[dsuid.DSUID]*vdc.Vdc{},
		watchdogWarn: 10 * time.Second,
		watchdogErr:  30 * time.Second,
	}
	h.Router = router.New(h)
	return h
}

// AddVdc registers v, whose member devices are added separately via
// AddDevice, and announces it to the north-bound controller, per
// spec.md §3's device lifecycle.
func (h *VdcHost) AddVdc(v *vdc.Vdc) {
	h.vdcs = append(h.vdcs, v)
	_ = h.AnnounceVdc(v)
}

// AddDevice registers d under v, indexing it for Device/VdcOf lookups
// (the router.Registry contract) and the north-bound property tree, then
// announces it, acknowledged per device (spec.md §3: "initialized...
// then announced to the north-bound controller, async, acknowledged per
// device").
func (h *VdcHost) AddDevice(v *vdc.Vdc, d *device.Device) error {
	id := d.Data.DSUID
	if _, exists := h.devices[id]; exists {
		return ErrDuplicateDevice
	}
	v.AddDevice(d)
	h.devices[id] = d
	h.vdcOf[id] = v
	_ = h.AnnounceDevice(d)
	return nil
}

// AnnounceVdc pushes an announcevdc notification upstream for v. A host
// with no session connection yet (not dialed in, or running under test)
// silently skips the push; v stays known locally either way, and a
// connected controller can always re-request it via the announcevdc
// method (handleAnnounceVdc).
func (h *VdcHost) AnnounceVdc(v *vdc.Vdc) error {
	if h.Session == nil || h.Session.Conn == nil {
		return nil
	}
	return h.Session.Conn.WriteJSON(rpc.Notification{
		Method: MethodAnnounceVdc,
		Params: map[string]any{"dSUID": v.DSUID.String(), "vdcKind": v.Kind},
	})
}

// AnnounceDevice pushes an announcedevice notification upstream for d,
// per the same lifecycle rule as AnnounceVdc.
func (h *VdcHost) AnnounceDevice(d *device.Device) error {
	if h.Session == nil || h.Session.Conn == nil {
		return nil
	}
	return h.Session.Conn.WriteJSON(rpc.Notification{
		Method: MethodAnnounceDevice,
		Params: map[string]any{"dSUID": d.Data.DSUID.String()},
	})
}

// HandleButtonClick feeds one classified button event from the device
// identified by id into the LocalController's scene/dim dispatch, per
// spec.md §4.6 and the local-controller wiring of SPEC_FULL.md §9: a
// click resolves to a scene via localcontroller.ClickScene and is
// delivered like any other callScene; a hold start/repeat/end resolves a
// dim direction via localcontroller.HoldDirection and is delivered like
// dimChannel. It is a no-op for a dSUID/button index this host doesn't
// know about. A hold start still records the dim in the zone when no
// device shares the button's zone and group.
func (h *VdcHost) HandleButtonClick(id dsuid.DSUID, buttonIndex int, click buttonfsm.ClickType) {
	d := h.Device(id)
	if d == nil || buttonIndex < 0 || buttonIndex >= len(d.Data.Buttons) {
		return
	}
	btn := d.Data.Buttons[buttonIndex]
	zone := h.Local.Zone(d.Data.ZoneID)
	area := localcontroller.AreaForFunction(btn.Function)

	switch click {
	case buttonfsm.HoldStart:
		dir := localcontroller.HoldDirection(zone, btn)
		zone.RecordDimStart(dir, d.DefaultDimChannel())
		h.Router.DeliverDim(h.audienceFor(d.Data.ZoneID, btn.Group), d.DefaultDimChannel(), dir, area)
	case buttonfsm.HoldRepeat:
		// retriggers are driven by the dim pipeline's own timers, not by
		// further button events; nothing to do here.
	case buttonfsm.HoldEnd:
		zone.RecordDimStop()
		h.Router.DeliverDim(h.audienceFor(d.Data.ZoneID, btn.Group), d.DefaultDimChannel(), types.DimNone, area)
	default:
		sceneNo, ok := localcontroller.ClickScene(btn, click)
		if !ok {
			return
		}
		h.deliverSceneToZoneGroup(d.Data.ZoneID, btn.Group, sceneNo)
	}
}

// UpdateSensorValue records a fresh reading from device id's sensor
// behaviour at index and re-evaluates any trigger bound to it, per
// spec.md §4.6 ("any mapped source change re-evaluates the condition").
// It is the production entry point a device backend calls on every
// sensor update; it is a no-op for an unknown device or index.
func (h *VdcHost) UpdateSensorValue(id dsuid.DSUID, index int, value float64) {
	d := h.Device(id)
	if d == nil || index < 0 || index >= len(d.Data.Sensors) {
		return
	}
	s := d.Data.Sensors[index]
	s.Value = value
	h.Local.PublishValue(localcontroller.ValueSourceID(id, s.BehaviourID()), s.BehaviourID(), value)
}

// UpdateBinaryInput records a fresh on/off reading from device id's
// binary input behaviour at index and re-evaluates any bound trigger,
// the BinaryInputBehaviour counterpart of UpdateSensorValue. The state
// is published as 1/0 since localcontroller.ValueSource only carries a
// float64 reading.
func (h *VdcHost) UpdateBinaryInput(id dsuid.DSUID, index int, state bool) {
	d := h.Device(id)
	if d == nil || index < 0 || index >= len(d.Data.Inputs) {
		return
	}
	in := d.Data.Inputs[index]
	in.State = state
	value := 0.0
	if state {
		value = 1.0
	}
	h.Local.PublishValue(localcontroller.ValueSourceID(id, in.BehaviourID()), in.BehaviourID(), value)
}

// audienceFor resolves every device sharing zoneID and group (the dS
// color-class group a button belongs to; GroupBlack addresses every
// device regardless of group) into a router.Audience.
func (h *VdcHost) audienceFor(zoneID int, group types.ClickGroup) router.Audience {
	var targets []dsuid.DSUID
	for _, d := range h.Devices() {
		if d.Data.ZoneID != zoneID {
			continue
		}
		if group != types.GroupBlack && types.ClickGroup(d.Data.DominantColorClass) != group {
			continue
		}
		targets = append(targets, d.Data.DSUID)
	}
	return h.Router.BuildAudience(targets)
}

// deliverSceneToZoneGroup calls sceneNo on every device sharing zoneID
// and group, then applies its effect to the zone's LocalController state
// (spec.md §4.6), mirroring handleCallScene's zone update.
func (h *VdcHost) deliverSceneToZoneGroup(zoneID int, group types.ClickGroup, sceneNo int) {
	resolveScene := func(d *device.Device) *types.Scene { return d.Data.Scenes.Scene(sceneNo) }
	audience := h.audienceFor(zoneID, group)
	results := h.Router.DeliverSceneCall(audience, resolveScene, false)
	h.applyZoneEffects(results, resolveScene)
}

// applyZoneEffects updates each applied result's zone state via
// resolveScene (the same per-device scene lookup the delivery used), per
// spec.md §4.6's zoneState bookkeeping (lightOn, lastLightScene, ...).
// It cannot read device.Device.PreparedScene after the fact: that field
// is cleared by CallSceneExecutePrepared before DeliverSceneCall returns.
func (h *VdcHost) applyZoneEffects(results []router.DeviceResult, resolveScene func(d *device.Device) *types.Scene) {
	for _, res := range results {
		if !res.Applied {
			continue
		}
		scene := resolveScene(res.Device)
		if scene == nil {
			continue
		}
		area := 0
		if scene.Flags.IsAreaScene {
			area = scene.Flags.Area
		}
		h.Local.Zone(res.Device.Data.ZoneID).ApplySceneEffect(scene, area)
	}
}

// Device implements router.Registry.
func (h *VdcHost) Device(id dsuid.DSUID) *device.Device { return h.devices[id] }

// VdcOf implements router.Registry.
func (h *VdcHost) VdcOf(id dsuid.DSUID) *vdc.Vdc { return h.vdcOf[id] }

// Devices returns every registered device, in registration order of
// their owning Vdc.
func (h *VdcHost) Devices() []*device.Device {
	out := make([]*device.Device, 0, len(h.devices))
	for _, v := range h.vdcs {
		out = append(out, v.Devices...)
	}
	return out
}

// Run drives the main loop until stop closes. It posts a periodic
// watchdog touch onto the Bus itself (rather than draining the queue
// directly), so the touch is just one more job interleaved with every
// other piece of scheduled work, and Bus.Run remains the only place that
// reads the callback queue, mirroring the teacher's ledmanager main loop
// ticking StillRunning once per iteration.
func (h *VdcHost) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				h.Bus.Post(func() {
					h.Bus.StillRunning(WatchdogAgent, h.watchdogWarn, h.watchdogErr)
				})
			}
		}
	}()

	h.Bus.Run(stop)
	<-done
}
