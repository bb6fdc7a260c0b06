// SPDX-License-Identifier: Apache-2.0

package localcontroller

import (
	"testing"

	"github.com/plan44dev/vdc-host/buttonfsm"
	"github.com/plan44dev/vdc-host/types"
	"github.com/stretchr/testify/require"
)

func TestButtonScenesMapForGlobalGroup(t *testing.T) {
	m := ButtonScenesMapFor(types.GroupBlack, types.ButtonFunctionGlobal)
	no, ok := m.SceneForClickCount(2)
	require.True(t, ok)
	require.Equal(t, types.ScenePanic, no)
}

func TestButtonScenesMapForAreaUsesAreaOnScene(t *testing.T) {
	m := ButtonScenesMapFor(types.ClickGroup(1), types.ButtonFunctionArea2OnOff)
	no, ok := m.SceneForClickCount(1)
	require.True(t, ok)
	require.Equal(t, types.AreaOnSceneNo(2), no)
}

func TestClickSceneOnlyResolvesTipAndClickEvents(t *testing.T) {
	btn := types.NewButtonBehaviour("", 0)
	btn.Group = types.ClickGroup(1)
	btn.Function = types.ButtonFunctionArea1OnOff

	no, ok := ClickScene(btn, buttonfsm.Tip1x)
	require.True(t, ok)
	require.Equal(t, types.AreaOnSceneNo(1), no)

	_, ok = ClickScene(btn, buttonfsm.HoldStart)
	require.False(t, ok, "hold events are not resolved by ClickScene")
}

func TestHoldDirectionStartsUpFromOffArea(t *testing.T) {
	zone := &types.Zone{}
	btn := types.NewButtonBehaviour("", 0)
	btn.Function = types.ButtonFunctionArea1OnOff

	require.Equal(t, types.DimUp, HoldDirection(zone, btn))
}

func TestHoldDirectionReversesLastDimWhenAreaAlreadyOn(t *testing.T) {
	zone := &types.Zone{}
	zone.LightOn[1] = true
	zone.LastDim = types.DimUp
	btn := types.NewButtonBehaviour("", 0)
	btn.Function = types.ButtonFunctionArea1OnOff

	require.Equal(t, types.DimDown, HoldDirection(zone, btn))
}

func TestHoldDirectionRockerDownNeverStartsUp(t *testing.T) {
	zone := &types.Zone{}
	btn := types.NewButtonBehaviour("", 0)
	btn.Function = types.ButtonFunctionArea1OnOff
	btn.Mode = types.ButtonModeRockerDown

	require.Equal(t, types.DimDown, HoldDirection(zone, btn))
}
