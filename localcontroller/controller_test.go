// SPDX-License-Identifier: Apache-2.0

package localcontroller

import (
	"testing"
	"time"

	"github.com/plan44dev/vdc-host/dsuid"
	"github.com/plan44dev/vdc-host/types"
	"github.com/stretchr/testify/require"
)

func TestValueSourceIDFormat(t *testing.T) {
	id := dsuid.FromMACAndInstance(nil, 1)
	got := ValueSourceID(id, "S0")
	require.Equal(t, id.String()+"_S0", got)
}

func TestZoneCreatesOnFirstAccess(t *testing.T) {
	c := New()
	z := c.Zone(5)
	require.Equal(t, 5, z.ZoneID)
	require.Same(t, z, c.Zone(5), "a second lookup must return the same zone")
}

func TestPublishValueUpsertsSource(t *testing.T) {
	c := New()
	c.PublishValue("dev1_S0", "temp", 21.5)
	require.Equal(t, 21.5, c.Sources["dev1_S0"].CurrentValue)

	c.PublishValue("dev1_S0", "temp", 22.0)
	require.Equal(t, 22.0, c.Sources["dev1_S0"].CurrentValue)
	require.Len(t, c.Sources, 1, "a repeat publish must update, not duplicate")
}

func TestPublishValueWithUnchangedReadingSkipsTriggerReevaluation(t *testing.T) {
	c := New()
	eng := &fakeEngine{conditionValue: 1}
	trig := &types.Trigger{
		ID:              1,
		ConditionScript: "cond",
		ActionScript:    "act",
		VarDefs:         []types.VarDef{{VarName: "t", SourceID: "dev1_S0"}},
	}
	c.AddTrigger(trig, nil, eng)

	c.PublishValue("dev1_S0", "temp", 21.5)
	time.Sleep(10 * time.Millisecond)
	eng.mu.Lock()
	require.Len(t, eng.actionsStarted, 1)
	eng.mu.Unlock()

	c.PublishValue("dev1_S0", "temp", 21.5)
	time.Sleep(10 * time.Millisecond)
	eng.mu.Lock()
	defer eng.mu.Unlock()
	require.Len(t, eng.actionsStarted, 1, "an unchanged reading must not re-trigger evaluation")
}
