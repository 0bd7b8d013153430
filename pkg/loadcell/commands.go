// Operator commands for the load cell
//
// Copyright (C) 2026  Flashforge Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package loadcell

import (
	"fmt"

	"flashforge-host/pkg/command"
	"flashforge-host/pkg/hosterr"
)

// RegisterCommands installs the load cell operator commands.
func (lc *LoadCell) RegisterCommands(reg *command.Registry) {
	reg.Register("FLASHFORGE_LOAD_CELL_TARE", lc.cmdTare,
		"Starts the weight tare (zeroing) procedure")
	reg.Register("FLASHFORGE_LOAD_CELL_CALIBRATE", lc.cmdCalibrate,
		"Sends a calibration command")
	reg.Register("FLASHFORGE_LOAD_CELL_SAVE_CALIBRATION", lc.cmdSaveCalibration,
		"Sends calibration save command")
	reg.Register("FLASHFORGE_GET_LOAD_CELL_WEIGHT", lc.cmdGetWeight,
		"Queries and displays the current weight")
	reg.Register("FLASHFORGE_LOAD_CELL_TEST", lc.cmdTest,
		"Sends an arbitrary command to the loadcell")
}

func (lc *LoadCell) cmdTare(req *command.Request) error {
	return lc.Tare(req.Respond)
}

func (lc *LoadCell) cmdCalibrate(req *command.Request) error {
	weight, err := req.GetIntMin("WEIGHT", 500, 0)
	if err != nil {
		return err
	}
	if err := lc.Calibrate(weight); err != nil {
		return err
	}
	req.Respondf("%s: Calibrate command sent.", lc.name)
	return nil
}

func (lc *LoadCell) cmdSaveCalibration(req *command.Request) error {
	weight, err := req.GetIntMin("WEIGHT", 200, 100)
	if err != nil {
		return err
	}
	if err := lc.SaveCalibration(weight); err != nil {
		return err
	}
	req.Respondf("%s: Save calibration command sent.", lc.name)
	return nil
}

func (lc *LoadCell) cmdGetWeight(req *command.Request) error {
	weight, err := lc.GetWeight()
	if err != nil {
		return err
	}
	req.Respondf("%s: Weight: %d grams", lc.name, weight)
	return nil
}

func (lc *LoadCell) cmdTest(req *command.Request) error {
	cmdStr, err := req.GetRequired("CMD")
	if err != nil {
		return hosterr.CommandParam(req.Name, "CMD",
			fmt.Sprintf("%s: no CMD parameter provided", lc.name))
	}
	reply, err := lc.RawTest(cmdStr)
	if err != nil {
		return err
	}
	req.Respondf("%s: Response: %s", lc.name, reply.Raw)
	return nil
}

// RegisterCommands installs the safety policy operator command.
func (m *Monitor) RegisterCommands(reg *command.Registry) {
	reg.Register("FLASHFORGE_LOAD_CELL_SET_MAX_FORCE", m.cmdSetMaxForce,
		"Set max force and overload action for loadcell sensor")
}

func (m *Monitor) cmdSetMaxForce(req *command.Request) error {
	reset, err := req.GetIntRange("RESET", 0, 0, 1)
	if err != nil {
		return err
	}

	if reset == 1 {
		maxForce, action := m.ResetPolicy()
		req.Respondf("%s: Max force reset to default value: %dg; "+
			"overload action reset to default value: '%s'", m.name, maxForce, action)
		return nil
	}

	curForce, curAction := m.Policy()
	force, err := req.GetIntMin("FORCE", curForce, 0)
	if err != nil {
		return err
	}
	action, err := req.GetChoice("ACTION", OverloadActions, curAction)
	if err != nil {
		return err
	}

	oldForce, oldAction, err := m.SetPolicy(force, action)
	if err != nil {
		return err
	}
	req.Respondf("%s: Max force changed from %dg to %dg; "+
		"overload action changed from '%s' to '%s'",
		m.name, oldForce, force, oldAction, action)
	return nil
}
