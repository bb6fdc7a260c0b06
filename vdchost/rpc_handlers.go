// SPDX-License-Identifier: Apache-2.0

package vdchost

import (
	"context"
	"time"

	"github.com/plan44dev/vdc-host/device"
	"github.com/plan44dev/vdc-host/dsuid"
	"github.com/plan44dev/vdc-host/rpc"
	"github.com/plan44dev/vdc-host/script"
	"github.com/plan44dev/vdc-host/types"
)

// Method names of the north-bound RPC surface, per SPEC_FULL.md §9's
// method-set addition to spec.md §6's session contract.
const (
	MethodHello             = "hello"
	MethodBye               = "bye"
	MethodCallScene         = "callScene"
	MethodCallSceneMin      = "callSceneMin"
	MethodDimChannel        = "dimChannel"
	MethodSetOutputChannel  = "setOutputChannelValue"
	MethodSetLocalPriority  = "setLocalPriority"
	MethodRemove            = "remove"
	MethodScriptExec        = "x-p44-scriptExec"
	MethodCheckTrigger      = "x-p44-checkTriggerCondition"
	MethodAnnounceVdc       = "announcevdc"
	MethodAnnounceDevice    = "announcedevice"
	MethodSaveScene         = "saveScene"
	MethodUndoScene         = "undoScene"
	MethodSetControlValue   = "setControlValue"
	MethodQueryScenes       = "x-p44-queryScenes"
	MethodQueryGroups       = "x-p44-queryGroups"
	MethodTestTriggerAction = "x-p44-testTriggerAction"
	MethodSetIdentity       = "x-p44-setIdentity"
)

// Dispatch routes req to the handler for req.Method, returning the
// Response to send back (never nil: an unknown method or bad params comes
// back as a Response carrying an APIError, per spec.md §6).
func (h *VdcHost) Dispatch(req rpc.Request) rpc.Response {
	switch req.Method {
	case MethodHello:
		return h.handleHello(req)
	case MethodBye:
		return h.handleBye(req)
	case MethodCallScene:
		return h.handleCallScene(req, false)
	case MethodCallSceneMin:
		return h.handleCallScene(req, true)
	case MethodDimChannel:
		return h.handleDimChannel(req)
	case MethodSetOutputChannel:
		return h.handleSetOutputChannelValue(req)
	case MethodSetLocalPriority:
		return h.handleSetLocalPriority(req)
	case MethodRemove:
		return h.handleRemove(req)
	case MethodScriptExec:
		return h.handleScriptExec(req)
	case MethodCheckTrigger:
		return h.handleCheckTrigger(req)
	case MethodAnnounceVdc:
		return h.handleAnnounceVdc(req)
	case MethodAnnounceDevice:
		return h.handleAnnounceDevice(req)
	case MethodSaveScene:
		return h.handleSaveScene(req)
	case MethodUndoScene:
		return h.handleUndoScene(req)
	case MethodSetControlValue:
		return h.handleSetControlValue(req)
	case MethodQueryScenes:
		return h.handleQueryScenes(req)
	case MethodQueryGroups:
		return h.handleQueryGroups(req)
	case MethodTestTriggerAction:
		return h.handleTestTriggerAction(req)
	case MethodSetIdentity:
		return h.handleSetIdentity(req)
	default:
		return errorResponse(req.ID, rpc.ErrUnknownTarget, "unknown method: "+req.Method)
	}
}

func errorResponse(id string, code int, msg string) rpc.Response {
	return rpc.Response{ID: id, Error: &rpc.APIError{Code: code, Message: msg, Domain: "vdc-host"}}
}

func okResponse(id string, result map[string]any) rpc.Response {
	return rpc.Response{ID: id, Result: result}
}

func paramString(params map[string]any, key string) (string, bool) {
	v, ok := params[key].(string)
	return v, ok
}

func paramFloat(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func paramInt(params map[string]any, key string) (int, bool) {
	f, ok := paramFloat(params, key)
	return int(f), ok
}

func paramBool(params map[string]any, key string) (bool, bool) {
	v, ok := params[key].(bool)
	return v, ok
}

func (h *VdcHost) handleHello(req rpc.Request) rpc.Response {
	if h.Session == nil {
		return errorResponse(req.ID, rpc.ErrNoSession, "host has no session object wired")
	}
	id, _ := paramString(req.Params, "dSUID")
	apiVersion, _ := paramInt(req.Params, "api_version")
	resp, err := h.Session.Hello(id, apiVersion)
	if err != nil {
		if apiErr, ok := err.(*rpc.APIError); ok {
			return rpc.Response{ID: req.ID, Error: apiErr}
		}
		return errorResponse(req.ID, rpc.ErrInvalidParams, err.Error())
	}
	resp.ID = req.ID
	return resp
}

func (h *VdcHost) handleBye(req rpc.Request) rpc.Response {
	if h.Session == nil {
		return errorResponse(req.ID, rpc.ErrNoSession, "host has no session object wired")
	}
	h.Session.Bye()
	return okResponse(req.ID, nil)
}

// handleCallScene resolves the target dSUID list and fans the call out
// through Router.DeliverSceneCall. callSceneMin differs only in that it
// never forces (spec.md §4.5's "min" variant skips already-applied
// devices, modeled here as force=false vs. force=true for the plain
// form).
func (h *VdcHost) handleCallScene(req rpc.Request, minimal bool) rpc.Response {
	sceneNo, ok := paramInt(req.Params, "scene")
	if !ok {
		return errorResponse(req.ID, rpc.ErrInvalidParams, "scene is required")
	}
	targets, err := h.resolveTargets(req.Params)
	if err != nil {
		return errorResponse(req.ID, rpc.ErrInvalidDSUID, err.Error())
	}

	resolveScene := func(d *device.Device) *types.Scene { return d.Data.Scenes.Scene(sceneNo) }
	audience := h.Router.BuildAudience(targets)
	force := !minimal
	results := h.Router.DeliverSceneCall(audience, resolveScene, force)
	h.applyZoneEffects(results, resolveScene)
	return okResponse(req.ID, map[string]any{"applied": len(results)})
}

// resolveTargets turns a request's targeting params into a dSUID list.
// A literal "dSUID" addresses exactly one device. Otherwise "zone"
// and/or "group" (the dS color-class group number, matching
// types.ColorClass's iota values) filter the full device set, per
// spec.md §8 Scenario 3 (callScene(PRESET_2, zone=1, group=1)): either
// or both may be given, and they combine as an AND.
func (h *VdcHost) resolveTargets(params map[string]any) ([]dsuid.DSUID, error) {
	if raw, ok := paramString(params, "dSUID"); ok && raw != "" {
		id, err := dsuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		return []dsuid.DSUID{id}, nil
	}

	zone, hasZone := paramInt(params, "zone")
	group, hasGroup := paramInt(params, "group")
	if !hasZone && !hasGroup {
		return nil, nil
	}

	var targets []dsuid.DSUID
	for _, d := range h.Devices() {
		if hasZone && d.Data.ZoneID != zone {
			continue
		}
		if hasGroup && int(d.Data.DominantColorClass) != group {
			continue
		}
		targets = append(targets, d.Data.DSUID)
	}
	return targets, nil
}

func (h *VdcHost) handleDimChannel(req rpc.Request) rpc.Response {
	channel, _ := paramInt(req.Params, "channel")
	mode, _ := paramInt(req.Params, "mode")
	area, _ := paramInt(req.Params, "area")
	targets, err := h.resolveTargets(req.Params)
	if err != nil {
		return errorResponse(req.ID, rpc.ErrInvalidDSUID, err.Error())
	}
	audience := h.Router.BuildAudience(targets)
	dir := types.DimNone
	switch mode {
	case 1:
		dir = types.DimUp
	case -1:
		dir = types.DimDown
	}
	results := h.Router.DeliverDim(audience, types.ChannelType(channel), dir, area)
	return okResponse(req.ID, map[string]any{"applied": len(results)})
}

func (h *VdcHost) handleSetOutputChannelValue(req rpc.Request) rpc.Response {
	raw, ok := paramString(req.Params, "dSUID")
	if !ok {
		return errorResponse(req.ID, rpc.ErrInvalidParams, "dSUID is required")
	}
	id, err := dsuid.Parse(raw)
	if err != nil {
		return errorResponse(req.ID, rpc.ErrInvalidDSUID, err.Error())
	}
	d := h.Device(id)
	if d == nil {
		return errorResponse(req.ID, rpc.ErrUnknownTarget, "unknown device")
	}
	channel, _ := paramInt(req.Params, "channel")
	value, ok := paramFloat(req.Params, "value")
	if !ok {
		return errorResponse(req.ID, rpc.ErrInvalidParams, "value is required")
	}
	transitionMs, _ := paramInt(req.Params, "transitionTime")
	apply, _ := paramBool(req.Params, "apply")

	if d.Data.Output == nil {
		return errorResponse(req.ID, rpc.ErrInvalidParams, "device has no output")
	}
	ch := d.Data.Output.ChannelByType(types.ChannelType(channel))
	if ch == nil {
		return errorResponse(req.ID, rpc.ErrInvalidParams, "device has no such channel")
	}
	ch.SetChannelValue(value, time.Duration(transitionMs)*time.Millisecond, apply)
	if apply {
		d.Serializer.RequestApplyingChannels(func() {}, false, false)
	}
	return okResponse(req.ID, nil)
}

func (h *VdcHost) handleSetLocalPriority(req rpc.Request) rpc.Response {
	raw, ok := paramString(req.Params, "dSUID")
	if !ok {
		return errorResponse(req.ID, rpc.ErrInvalidParams, "dSUID is required")
	}
	id, err := dsuid.Parse(raw)
	if err != nil {
		return errorResponse(req.ID, rpc.ErrInvalidDSUID, err.Error())
	}
	d := h.Device(id)
	if d == nil {
		return errorResponse(req.ID, rpc.ErrUnknownTarget, "unknown device")
	}
	priority, _ := paramBool(req.Params, "localPriority")
	d.Data.LocalPriority = priority
	return okResponse(req.ID, nil)
}

func (h *VdcHost) handleRemove(req rpc.Request) rpc.Response {
	raw, ok := paramString(req.Params, "dSUID")
	if !ok {
		return errorResponse(req.ID, rpc.ErrInvalidParams, "dSUID is required")
	}
	id, err := dsuid.Parse(raw)
	if err != nil {
		return errorResponse(req.ID, rpc.ErrInvalidDSUID, err.Error())
	}
	if h.Device(id) == nil {
		return errorResponse(req.ID, rpc.ErrUnknownTarget, "unknown device")
	}
	if v := h.vdcOf[id]; v != nil {
		for i, d := range v.Devices {
			if d.Data.DSUID == id {
				v.Devices = append(v.Devices[:i], v.Devices[i+1:]...)
				break
			}
		}
	}
	delete(h.devices, id)
	delete(h.vdcOf, id)
	return okResponse(req.ID, nil)
}

// handleScriptExec runs a one-off script against engine, per
// SPEC_FULL.md §9's x-p44-scriptExec addition. h.Local has no engine of
// its own wired at construction time; callers that want trigger actions
// scriptable must AddTrigger with a real script.Engine.
func (h *VdcHost) handleScriptExec(req rpc.Request) rpc.Response {
	code, ok := paramString(req.Params, "script")
	if !ok {
		return errorResponse(req.ID, rpc.ErrInvalidParams, "script is required")
	}
	sourceUID, _ := paramString(req.Params, "context")
	result, err := h.scriptEngine().Run(context.Background(), sourceUID, code)
	if err != nil {
		return errorResponse(req.ID, rpc.ErrInvalidParams, err.Error())
	}
	return okResponse(req.ID, map[string]any{"result": result.Value})
}

func (h *VdcHost) handleCheckTrigger(req rpc.Request) rpc.Response {
	code, ok := paramString(req.Params, "condition")
	if !ok {
		return errorResponse(req.ID, rpc.ErrInvalidParams, "condition is required")
	}
	result, err := h.scriptEngine().Run(context.Background(), "check-trigger", code)
	if err != nil {
		return errorResponse(req.ID, rpc.ErrInvalidParams, err.Error())
	}
	return okResponse(req.ID, map[string]any{"result": result.Value})
}

// scriptEngine returns the engine to run ad hoc scripts against. A host
// with no scripting runtime configured falls back to script.NullEngine,
// which reports "no scripting runtime" rather than panicking.
func (h *VdcHost) scriptEngine() script.Engine {
	if h.Engine != nil {
		return h.Engine
	}
	return script.NullEngine{}
}

// handleAnnounceVdc re-pushes the announcevdc notification for a vdc
// already known by its own dSUID, per spec.md §3's lifecycle. Unlike the
// other handlers this targets a Vdc, not a Device, so it is resolved
// against h.vdcs directly.
func (h *VdcHost) handleAnnounceVdc(req rpc.Request) rpc.Response {
	raw, ok := paramString(req.Params, "dSUID")
	if !ok {
		return errorResponse(req.ID, rpc.ErrInvalidParams, "dSUID is required")
	}
	id, err := dsuid.Parse(raw)
	if err != nil {
		return errorResponse(req.ID, rpc.ErrInvalidDSUID, err.Error())
	}
	for _, v := range h.vdcs {
		if v.DSUID == id {
			_ = h.AnnounceVdc(v)
			return okResponse(req.ID, nil)
		}
	}
	return errorResponse(req.ID, rpc.ErrUnknownTarget, "unknown vdc")
}

func (h *VdcHost) handleAnnounceDevice(req rpc.Request) rpc.Response {
	raw, ok := paramString(req.Params, "dSUID")
	if !ok {
		return errorResponse(req.ID, rpc.ErrInvalidParams, "dSUID is required")
	}
	id, err := dsuid.Parse(raw)
	if err != nil {
		return errorResponse(req.ID, rpc.ErrInvalidDSUID, err.Error())
	}
	d := h.Device(id)
	if d == nil {
		return errorResponse(req.ID, rpc.ErrUnknownTarget, "unknown device")
	}
	_ = h.AnnounceDevice(d)
	return okResponse(req.ID, nil)
}

// handleSaveScene captures a device's current channel values into scene,
// per SPEC_FULL.md §9's saveScene addition.
func (h *VdcHost) handleSaveScene(req rpc.Request) rpc.Response {
	raw, ok := paramString(req.Params, "dSUID")
	if !ok {
		return errorResponse(req.ID, rpc.ErrInvalidParams, "dSUID is required")
	}
	id, err := dsuid.Parse(raw)
	if err != nil {
		return errorResponse(req.ID, rpc.ErrInvalidDSUID, err.Error())
	}
	d := h.Device(id)
	if d == nil {
		return errorResponse(req.ID, rpc.ErrUnknownTarget, "unknown device")
	}
	sceneNo, ok := paramInt(req.Params, "scene")
	if !ok {
		return errorResponse(req.ID, rpc.ErrInvalidParams, "scene is required")
	}
	d.SaveScene(sceneNo)
	return okResponse(req.ID, nil)
}

// handleUndoScene delivers each targeted device's own captured undo
// pseudo-scene (device.Device.UndoScene) through the same scene-call
// pipeline as callScene, per spec.md §4.5 step 6 and SPEC_FULL.md §9's
// undoScene addition. A device with nothing captured yet (no scene has
// been applied to it since the host started) gets an empty, effectively
// no-op scene instead of a nil one.
func (h *VdcHost) handleUndoScene(req rpc.Request) rpc.Response {
	targets, err := h.resolveTargets(req.Params)
	if err != nil {
		return errorResponse(req.ID, rpc.ErrInvalidDSUID, err.Error())
	}
	resolveUndo := func(d *device.Device) *types.Scene {
		if undo := d.UndoScene(); undo != nil {
			return undo
		}
		return &types.Scene{}
	}
	audience := h.Router.BuildAudience(targets)
	results := h.Router.DeliverSceneCall(audience, resolveUndo, true)
	h.applyZoneEffects(results, resolveUndo)
	return okResponse(req.ID, map[string]any{"applied": len(results)})
}

// handleSetControlValue applies an absolute control value (e.g. a
// heating level) to every targeted device's default channel, per
// SPEC_FULL.md §9's setControlValue addition -- the same zone/group
// broadcast shape as dimChannel, but setting a value instead of starting
// a dim.
func (h *VdcHost) handleSetControlValue(req rpc.Request) rpc.Response {
	value, ok := paramFloat(req.Params, "value")
	if !ok {
		return errorResponse(req.ID, rpc.ErrInvalidParams, "value is required")
	}
	targets, err := h.resolveTargets(req.Params)
	if err != nil {
		return errorResponse(req.ID, rpc.ErrInvalidDSUID, err.Error())
	}
	applied := 0
	for _, id := range targets {
		d := h.Device(id)
		if d == nil || d.Data.Output == nil {
			continue
		}
		ch := d.Data.Output.ChannelByType(d.DefaultDimChannel())
		if ch == nil {
			continue
		}
		ch.SetChannelValue(value, 0, true)
		d.Serializer.RequestApplyingChannels(func() {}, false, false)
		applied++
	}
	return okResponse(req.ID, map[string]any{"applied": applied})
}

// handleQueryScenes lists the scene numbers a device has stored values
// for, per SPEC_FULL.md §9's x-p44-queryScenes addition.
func (h *VdcHost) handleQueryScenes(req rpc.Request) rpc.Response {
	raw, ok := paramString(req.Params, "dSUID")
	if !ok {
		return errorResponse(req.ID, rpc.ErrInvalidParams, "dSUID is required")
	}
	id, err := dsuid.Parse(raw)
	if err != nil {
		return errorResponse(req.ID, rpc.ErrInvalidDSUID, err.Error())
	}
	d := h.Device(id)
	if d == nil {
		return errorResponse(req.ID, rpc.ErrUnknownTarget, "unknown device")
	}
	var scenes []int
	if d.Data.Scenes != nil {
		for no := range d.Data.Scenes.Scenes {
			scenes = append(scenes, no)
		}
	}
	return okResponse(req.ID, map[string]any{"scenes": scenes})
}

// handleQueryGroups reports a device's zone and dS color-class group
// membership, per SPEC_FULL.md §9's x-p44-queryGroups addition.
func (h *VdcHost) handleQueryGroups(req rpc.Request) rpc.Response {
	raw, ok := paramString(req.Params, "dSUID")
	if !ok {
		return errorResponse(req.ID, rpc.ErrInvalidParams, "dSUID is required")
	}
	id, err := dsuid.Parse(raw)
	if err != nil {
		return errorResponse(req.ID, rpc.ErrInvalidDSUID, err.Error())
	}
	d := h.Device(id)
	if d == nil {
		return errorResponse(req.ID, rpc.ErrUnknownTarget, "unknown device")
	}
	return okResponse(req.ID, map[string]any{
		"zone":  d.Data.ZoneID,
		"group": int(d.Data.DominantColorClass),
	})
}

// handleTestTriggerAction runs a trigger's action script immediately,
// bypassing its condition, per SPEC_FULL.md §9's x-p44-testTriggerAction
// addition.
func (h *VdcHost) handleTestTriggerAction(req rpc.Request) rpc.Response {
	id, ok := paramInt(req.Params, "triggerID")
	if !ok {
		return errorResponse(req.ID, rpc.ErrInvalidParams, "triggerID is required")
	}
	if !h.Local.RunTriggerAction(id) {
		return errorResponse(req.ID, rpc.ErrUnknownTarget, "unknown trigger")
	}
	return okResponse(req.ID, nil)
}

// handleSetIdentity sets a device's operator-assigned name and/or icon,
// per SPEC_FULL.md §9's x-p44-setIdentity addition.
func (h *VdcHost) handleSetIdentity(req rpc.Request) rpc.Response {
	raw, ok := paramString(req.Params, "dSUID")
	if !ok {
		return errorResponse(req.ID, rpc.ErrInvalidParams, "dSUID is required")
	}
	id, err := dsuid.Parse(raw)
	if err != nil {
		return errorResponse(req.ID, rpc.ErrInvalidDSUID, err.Error())
	}
	d := h.Device(id)
	if d == nil {
		return errorResponse(req.ID, rpc.ErrUnknownTarget, "unknown device")
	}
	if name, ok := paramString(req.Params, "name"); ok {
		d.Data.Name = name
	}
	if icon, ok := paramString(req.Params, "iconBaseName"); ok {
		d.Data.IconBaseName = icon
	}
	return okResponse(req.ID, nil)
}
