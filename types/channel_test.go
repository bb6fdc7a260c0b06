// SPDX-License-Identifier: Apache-2.0

package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetChannelValueClampsAndMarksApply(t *testing.T) {
	c := NewChannel(ChannelTypeBrightness, 0, 0, 100, 1)
	c.ChannelValueApplied(false)

	c.SetChannelValue(150, 0, false)
	assert.Equal(t, 100.0, c.TargetValue())
	assert.True(t, c.NeedsApply())

	c.ChannelValueApplied(false)
	assert.False(t, c.NeedsApply())

	// Re-setting the same clamped target does not re-mark needsApply...
	c.SetChannelValue(150, 0, false)
	assert.False(t, c.NeedsApply())
	// ...unless alwaysApply is set.
	c.SetChannelValue(150, 0, true)
	assert.True(t, c.NeedsApply())
}

func TestGetChannelValueCalculatedStaysInBounds(t *testing.T) {
	c := NewChannel(ChannelTypeBrightness, 0, 0, 100, 1)
	c.SetChannelValue(100, 500*time.Millisecond, false)
	for i := 0; i < 10; i++ {
		v := c.GetChannelValueCalculated()
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
		time.Sleep(60 * time.Millisecond)
	}
}

func TestDimChannelValueUsesCalculatedBase(t *testing.T) {
	c := NewChannel(ChannelTypeBrightness, 0, 0, 100, 1)
	c.SetChannelValue(50, 0, false)
	c.ChannelValueApplied(false)

	c.DimChannelValue(10, 0)
	assert.Equal(t, 60.0, c.TargetValue())
	assert.True(t, c.NeedsApply())
}

func TestSyncChannelValueDoesNotMarkApply(t *testing.T) {
	c := NewChannel(ChannelTypeBrightness, 0, 0, 100, 1)
	c.SyncChannelValue(42, true)
	assert.Equal(t, 42.0, c.CurrentValue())
	assert.False(t, c.NeedsApply())
	assert.False(t, c.LastSync().IsZero())
}

func TestSetDimPerMSOverrideRejectsNegative(t *testing.T) {
	c := NewChannel(ChannelTypeBrightness, 0, 0, 100, 1)
	assert.ErrorIs(t, c.SetDimPerMSOverride(-1), ErrNegativeDimPerMS)
	assert.NoError(t, c.SetDimPerMSOverride(0))
	assert.NoError(t, c.SetDimPerMSOverride(5))
}

func TestPendingApplyOnly(t *testing.T) {
	c := NewChannel(ChannelTypeBrightness, 0, 0, 100, 1)
	assert.False(t, c.PendingApplyOnly(), "a fresh channel has nothing to apply")
	c.SetChannelValue(10, 0, false)
	assert.True(t, c.PendingApplyOnly())
}
