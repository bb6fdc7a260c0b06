// SPDX-License-Identifier: Apache-2.0

// Package types holds the vdc-host data model: Channel, the Behaviour sum
// type, Scene, Device, Zone and Trigger, per spec.md §3. Field sets and
// invariants are grounded on original_source/vdc_common/outputbehaviour.hpp
// and the corresponding *behaviour.cpp/.hpp files; the "big struct plus
// small pure helper methods" layout follows the teacher's
// types/zedroutertypes.go and types/dpc.go.
package types

import (
	"time"

	"github.com/plan44dev/vdc-host/utils"
)

// ChannelType enumerates the output dimension a Channel represents.
type ChannelType int

// Channel type identifiers used by the original implementation's channel
// type enum; only the ones exercised by this module's behaviours are
// listed, more can be added without breaking callers.
const (
	ChannelTypeBrightness ChannelType = iota + 1
	ChannelTypeHue
	ChannelTypeSaturation
	ChannelTypeColorTemp
	ChannelTypeShadePosition
	ChannelTypeShadeAngle
	ChannelTypeAirflowIntensity
	ChannelTypeAirflowDirection
)

// Channel holds one scalar output dimension of a device: its bounds,
// current/target value, transition timing and apply bookkeeping, per
// spec.md §3/§4.1.
type Channel struct {
	Type    ChannelType
	ID      int
	Min     float64
	Max     float64
	// Resolution is the smallest meaningful step. It is stored for callers;
	// Channel itself neither rounds values to it nor rejects by it.
	Resolution float64

	currentValue float64
	targetValue  float64
	needsApply   bool

	transitionTimeToNewValue time.Duration
	dimPerMSOverride         float64 // strictly >0 to override native dimPerMS; spec.md §9
	nativeDimPerMS           float64

	transitionStart time.Time
	transitionFrom  float64
	transitioning   bool
	externalTimed   bool // true once startExternallyTimedTransition was used
	externalDur     time.Duration

	lastSync time.Time
}

// NewChannel constructs a Channel clamped to [min,max] with an initial
// value equal to min, matching the original implementation's "channels
// start at their minimum" convention.
func NewChannel(typ ChannelType, id int, min, max, resolution float64) *Channel {
	return &Channel{
		Type:           typ,
		ID:             id,
		Min:            min,
		Max:            max,
		Resolution:     resolution,
		currentValue:   min,
		targetValue:    min,
		nativeDimPerMS: (max - min) / 1000, // a full sweep in ~1s by default
	}
}

// CurrentValue returns the last value reported by hardware or applied
// locally; see GetChannelValueCalculated for the value accounting for an
// in-progress transition.
func (c *Channel) CurrentValue() float64 { return c.currentValue }

// TargetValue returns the value the channel is being driven toward.
func (c *Channel) TargetValue() float64 { return c.targetValue }

// NeedsApply reports whether the backend has not yet accepted TargetValue.
func (c *Channel) NeedsApply() bool { return c.needsApply }

// TransitionTime returns the requested transition duration for the
// current target.
func (c *Channel) TransitionTime() time.Duration { return c.transitionTimeToNewValue }

// SetChannelValue sets a new target value, clamped to [Min,Max]. needsApply
// becomes true if the clamped target differs from the previous target, or
// unconditionally if alwaysApply is set (e.g. for a forced refresh).
// transitionTime records how long the backend should take to get there.
func (c *Channel) SetChannelValue(v float64, transitionTime time.Duration, alwaysApply bool) {
	clamped := utils.Clamp(v, c.Min, c.Max)
	changed := clamped != c.targetValue
	c.transitionFrom = c.GetChannelValueCalculated()
	c.targetValue = clamped
	c.transitionTimeToNewValue = transitionTime
	if transitionTime > 0 {
		c.transitioning = true
		c.transitionStart = time.Now()
	} else {
		c.transitioning = false
		c.currentValue = clamped
	}
	if changed || alwaysApply {
		c.needsApply = true
	}
}

// effectiveDimPerMS returns the per-millisecond dim rate to use: the
// override when it is strictly positive, the native rate otherwise.
// Per spec.md §9, a strictly negative override is rejected by the caller
// (SetDimPerMSOverride), so this never needs to reject here.
func (c *Channel) effectiveDimPerMS() float64 {
	if c.dimPerMSOverride > 0 {
		return c.dimPerMSOverride
	}
	return c.nativeDimPerMS
}

// ErrNegativeDimPerMS is returned by SetDimPerMSOverride for a negative
// argument: spec.md §9 explicitly says not to guess behavior for negative
// overrides and to reject them instead.
var ErrNegativeDimPerMS = negDimPerMSError{}

type negDimPerMSError struct{}

func (negDimPerMSError) Error() string { return "channel: dimPerMS override must not be negative" }

// SetDimPerMSOverride installs a per-channel dim-rate override. Zero
// clears the override (falls back to the native rate); strictly negative
// values are rejected.
func (c *Channel) SetDimPerMSOverride(v float64) error {
	if v < 0 {
		return ErrNegativeDimPerMS
	}
	c.dimPerMSOverride = v
	return nil
}

// SetNativeDimPerMS installs the backend-reported per-millisecond dim
// rate, used as the fallback in effectiveDimPerMS.
func (c *Channel) SetNativeDimPerMS(v float64) { c.nativeDimPerMS = v }

// DimChannelValue applies increment (which may be negative) relative to
// GetChannelValueCalculated -- the value accounting for any transition in
// progress -- not the raw stored target, per spec.md §4.1. perStepTime,
// if non-zero, becomes the new transition time for reaching the result.
func (c *Channel) DimChannelValue(increment float64, perStepTime time.Duration) {
	base := c.GetChannelValueCalculated()
	c.SetChannelValue(base+increment, perStepTime, false)
}

// SyncChannelValue installs a hardware-observed value without marking
// needsApply (it is already what the backend reports), and records
// lastSync. byHardware is carried for API symmetry with the original
// implementation's syncChannelValue(value, byHardware) signature; this
// module only ever calls it with byHardware=true (readback), so the
// parameter has no behavioral effect of its own today.
func (c *Channel) SyncChannelValue(v float64, byHardware bool) {
	clamped := utils.Clamp(v, c.Min, c.Max)
	c.currentValue = clamped
	c.targetValue = clamped
	c.transitioning = false
	c.needsApply = false
	c.lastSync = time.Now()
}

// LastSync returns when SyncChannelValue was last called.
func (c *Channel) LastSync() time.Time { return c.lastSync }

// StartExternallyTimedTransition models a transition whose pace is driven
// by the backend itself (e.g. a native ramp) rather than by this channel's
// own timer: progress is still estimated from wall-clock via
// UpdateTimedTransition, but duration comes from the backend.
func (c *Channel) StartExternallyTimedTransition(duration time.Duration) {
	c.transitionFrom = c.currentValue
	c.transitionStart = time.Now()
	c.externalTimed = true
	c.externalDur = duration
	c.transitioning = true
}

// UpdateTimedTransition recomputes currentValue from elapsed wall-clock
// time against now, clamped at cap (usually 1.0), and tears down the
// transition once complete.
func (c *Channel) UpdateTimedTransition(now time.Time, cap float64) {
	if !c.transitioning {
		return
	}
	dur := c.transitionTimeToNewValue
	if c.externalTimed {
		dur = c.externalDur
	}
	if dur <= 0 {
		c.currentValue = c.targetValue
		c.transitioning = false
		return
	}
	frac := float64(now.Sub(c.transitionStart)) / float64(dur)
	if frac > cap {
		frac = cap
	}
	if frac < 0 {
		frac = 0
	}
	c.currentValue = c.transitionFrom + (c.targetValue-c.transitionFrom)*frac
	if frac >= 1 {
		c.transitioning = false
		c.externalTimed = false
	}
}

// SetTransitionProgress force-sets the fraction [0,1] of an in-progress
// transition, used by backends that report ramp completion directly
// instead of being polled by wall-clock.
func (c *Channel) SetTransitionProgress(frac float64) {
	frac = utils.Clamp(frac, 0, 1)
	c.currentValue = c.transitionFrom + (c.targetValue-c.transitionFrom)*frac
	if frac >= 1 {
		c.transitioning = false
		c.externalTimed = false
	}
}

// GetChannelValueCalculated returns the interpolated current value,
// accounting for an in-progress transition; this is what DimChannelValue
// uses as its base, per spec.md §4.1.
func (c *Channel) GetChannelValueCalculated() float64 {
	if c.transitioning {
		c.UpdateTimedTransition(time.Now(), 1)
	}
	return utils.Clamp(c.currentValue, c.Min, c.Max)
}

// ChannelValueApplied clears needsApply once the backend has accepted the
// value; unlike the transition helpers, it never touches wall-clock state.
// needsApply is cleared whether or not anyway is set; the Device
// serializer is what decides whether a newer request superseded this one.
func (c *Channel) ChannelValueApplied(anyway bool) {
	if anyway {
		c.needsApply = false
		return
	}
	c.needsApply = false
}

// PendingApplyOnly reports whether this channel actually needs an apply,
// so a Device's apply loop can skip channels that don't, per spec.md
// §4.1 ("Channels report themselves in pendingApplyOnly iterations").
func (c *Channel) PendingApplyOnly() bool { return c.needsApply }
