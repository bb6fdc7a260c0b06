// SPDX-License-Identifier: Apache-2.0

package localcontroller

import "github.com/plan44dev/vdc-host/types"

// ButtonScenesMap resolves a button's click count to the scene that
// click should invoke, per spec.md §4.6 ("a table ButtonScenesMap yields
// sceneForClicks[0..4]"). Index 0 is the "off" click (not currently
// used by click_1x/tip_1x dispatch but kept for completeness); 1..4 are
// the remaining preset slots.
type ButtonScenesMap struct {
	SceneForClicks [5]int
}

// SceneForClickCount returns the scene number for numClicks (1..4) and
// whether this map defines one.
func (m *ButtonScenesMap) SceneForClickCount(numClicks int) (int, bool) {
	if numClicks < 0 || numClicks > 4 {
		return 0, false
	}
	no := m.SceneForClicks[numClicks]
	return no, no != 0 || numClicks == 0
}

// areaOnOffScenesMap builds the per-area ButtonScenesMap: click 1 is the
// area-on preset (reusing types.AreaOnSceneNo, per Open Question decision
// #1 — see DESIGN.md), click 0 is types.SceneOff (the room-wide off
// scene; no per-area off scene is mapped), and clicks 2..4 cycle through
// the remaining generic presets.
func areaOnOffScenesMap(area int) *ButtonScenesMap {
	return &ButtonScenesMap{
		SceneForClicks: [5]int{
			types.SceneOff,
			types.AreaOnSceneNo(area),
			types.ScenePreset2,
			types.ScenePreset3,
			types.ScenePreset4,
		},
	}
}

// globalScenesMap is the GroupBlack (global/system button) mapping, per
// spec.md §4.6: "Global buttons (group=black) map to global scenes
// (PANIC, PRESENT/ABSENT, ALARM1, BELL1)".
func globalScenesMap() *ButtonScenesMap {
	return &ButtonScenesMap{
		SceneForClicks: [5]int{
			types.SceneAbsent,
			types.ScenePresent,
			types.ScenePanic,
			types.SceneAlarm1,
			types.SceneBell1,
		},
	}
}

// AreaForFunction returns the zone area (0 for whole-room/global, 1..4
// for ButtonFunctionAreaNOnOff) a button function addresses. Exported so
// the vdchost button-event entry point can resolve the same area a click
// or hold will affect, without duplicating the function->area table.
func AreaForFunction(fn types.ButtonFunction) int {
	switch fn {
	case types.ButtonFunctionArea1OnOff:
		return 1
	case types.ButtonFunctionArea2OnOff:
		return 2
	case types.ButtonFunctionArea3OnOff:
		return 3
	case types.ButtonFunctionArea4OnOff:
		return 4
	default:
		return 0
	}
}

// ButtonScenesMapFor returns the ButtonScenesMap for a button's group and
// function, per spec.md §4.6.
func ButtonScenesMapFor(group types.ClickGroup, fn types.ButtonFunction) *ButtonScenesMap {
	if group == types.GroupBlack || fn == types.ButtonFunctionGlobal {
		return globalScenesMap()
	}
	return areaOnOffScenesMap(AreaForFunction(fn))
}
