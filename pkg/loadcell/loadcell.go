// Flashforge load cell protocol support
//
// Copyright (C) 2026  Flashforge Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package loadcell drives the flashforge load cell over the MCU message
// link. The firmware exposes a small set of logical commands (arm, calibrate,
// save, read, raw passthrough) that all answer on a single shared response
// message; this package correlates each synchronous request with its reply
// and keeps the last known weight for the safety monitor.
package loadcell

import (
	"fmt"
	"sync"

	"flashforge-host/pkg/config"
	"flashforge-host/pkg/hosterr"
	"flashforge-host/pkg/log"
	"flashforge-host/pkg/mculink"
	"flashforge-host/pkg/reactor"
)

// ResponseName is the shared MCU response message all commands answer on.
const ResponseName = "flashforge_loadcell_response"

// Firmware command templates.
const (
	TemplateH1   = "flashforge_loadcell_h1"
	TemplateH2   = "flashforge_loadcell_h2 weight=%u"
	TemplateH3   = "flashforge_loadcell_h3 weight=%u"
	TemplateH7   = "flashforge_loadcell_h7"
	TemplateTest = "flashforge_loadcell_test_cmd cmd=%*s"
)

// Command is the logical command identity carried in replies.
type Command string

const (
	CmdH1   Command = "H1"
	CmdH2   Command = "H2"
	CmdH3   Command = "H3"
	CmdH7   Command = "H7"
	CmdTest Command = "TEST"
)

var templateCommands = map[string]Command{
	TemplateH1:   CmdH1,
	TemplateH2:   CmdH2,
	TemplateH3:   CmdH3,
	TemplateH7:   CmdH7,
	TemplateTest: CmdTest,
}

// responseTimeout is the reply deadline for one synchronous command.
const responseTimeout = 0.6

// tareRetryPause is the settle time between tare attempts.
const tareRetryPause = 0.2

// MCUCommand is a sendable firmware command handle.
type MCUCommand interface {
	Send(args ...interface{}) error
}

// MCU is the subset of the message link the load cell needs.
type MCU interface {
	TryLookupCommand(template string) MCUCommand
	RegisterResponse(name string, handler mculink.ResponseHandler)
	EstimatedPrintTime(eventtime float64) (float64, error)
}

type pendingCall struct {
	cmd  Command
	comp *reactor.Completion
}

// LoadCell drives one load cell device.
type LoadCell struct {
	name    string
	mcu     MCU
	reactor *reactor.Reactor
	logger  *log.Logger

	tareThreshold int
	tareTimeout   float64

	mu         sync.Mutex
	pending    *pendingCall
	lastWeight int
	supported  map[string]MCUCommand
}

// New creates a LoadCell from its config section and registers its reply
// handler on the link. Command resolution happens later in HandleConnect.
func New(section *config.Section, mcu MCU, r *reactor.Reactor) (*LoadCell, error) {
	tareThreshold, err := section.GetIntMin("tare_threshold", 0, 50)
	if err != nil {
		return nil, err
	}
	tareTimeout, err := section.GetFloatMin("tare_timeout", 0., 10.0)
	if err != nil {
		return nil, err
	}

	lc := &LoadCell{
		name:          section.InstanceName(),
		mcu:           mcu,
		reactor:       r,
		logger:        log.GetLogger("loadcell"),
		tareThreshold: tareThreshold,
		tareTimeout:   tareTimeout,
		supported:     make(map[string]MCUCommand),
	}
	mcu.RegisterResponse(ResponseName, lc.handleResponse)
	return lc, nil
}

// Name returns the device instance name.
func (lc *LoadCell) Name() string {
	return lc.name
}

// HandleConnect resolves every required command template against the
// firmware dictionary. A missing template is fatal; the device cannot
// operate partially.
func (lc *LoadCell) HandleConnect() error {
	resolved := make(map[string]MCUCommand, len(templateCommands))
	for _, template := range []string{
		TemplateH1, TemplateH2, TemplateH3, TemplateH7, TemplateTest,
	} {
		cmd := lc.mcu.TryLookupCommand(template)
		if cmd == nil {
			return hosterr.CommandMissing(lc.name, template)
		}
		resolved[template] = cmd
	}

	lc.mu.Lock()
	lc.supported = resolved
	lc.mu.Unlock()
	return nil
}

// handleResponse runs on the link's read loop for every load cell reply.
// A reply matching the in-flight call's logical command resolves that call
// and is otherwise ignored; unsolicited ok weight reports update the last
// known weight.
func (lc *LoadCell) handleResponse(params mculink.Params) {
	reply := decodeReply(params)
	lc.logger.Debug("%s: response command=%s status=%s value=%d",
		lc.name, reply.Command, reply.Status, reply.Value)

	lc.mu.Lock()
	if p := lc.pending; p != nil && reply.Command == string(p.cmd) {
		// Completed under the lock so a concurrent deadline teardown in
		// abortPending either sees the slot armed or sees the reply.
		if !p.comp.Test() {
			p.comp.Complete(reply)
		}
		lc.mu.Unlock()
		return
	}

	if reply.Command == string(CmdH7) && reply.Status == "ok" {
		lc.lastWeight = reply.Value
	}
	lc.mu.Unlock()
}

// sendAndWait transmits one command and blocks until its correlated reply
// arrives or the deadline passes. Only one call may be in flight at a time;
// a concurrent call fails immediately rather than queueing.
func (lc *LoadCell) sendAndWait(template string, args ...interface{}) (Reply, error) {
	cmdEnum := templateCommands[template]

	lc.mu.Lock()
	if lc.pending != nil {
		lc.mu.Unlock()
		return Reply{}, hosterr.Busy(lc.name)
	}
	cmdObj := lc.supported[template]
	if cmdObj == nil {
		lc.mu.Unlock()
		return Reply{}, hosterr.CommandMissing(lc.name, template)
	}
	comp := lc.reactor.Completion()
	lc.pending = &pendingCall{cmd: cmdEnum, comp: comp}
	lc.mu.Unlock()

	defer func() {
		lc.mu.Lock()
		lc.pending = nil
		lc.mu.Unlock()
	}()

	if err := cmdObj.Send(args...); err != nil {
		return Reply{}, fmt.Errorf("%s: send '%s': %w", lc.name, cmdEnum, err)
	}

	res := comp.WaitUntil(lc.reactor.Monotonic()+responseTimeout, nil)
	if res == nil {
		lc.abortPending(comp)
		return Reply{}, hosterr.Timeout(lc.name, string(cmdEnum))
	}
	reply := res.(Reply)

	if reply.Status != "ok" {
		failedCmd := reply.Command
		if failedCmd == "" {
			failedCmd = string(cmdEnum)
		}
		return reply, hosterr.Remote(lc.name, failedCmd, reply.Status, reply.Raw)
	}
	return reply, nil
}

// abortPending tears down the in-flight slot after a missed deadline. A
// reply can land between the deadline and the teardown and get consumed
// into the abandoned completion; it is drained here so an ok weight report
// still reaches the last known weight, as if it had arrived unsolicited.
func (lc *LoadCell) abortPending(comp *reactor.Completion) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.pending = nil
	late := comp.WaitUntil(reactor.NOW, nil)
	if late == nil {
		return
	}
	if reply, ok := late.(Reply); ok &&
		reply.Command == string(CmdH7) && reply.Status == "ok" {
		lc.lastWeight = reply.Value
	}
}

// GetWeight queries the current weight in grams.
func (lc *LoadCell) GetWeight() (int, error) {
	reply, err := lc.sendAndWait(TemplateH7)
	if err != nil {
		return 0, err
	}

	lc.mu.Lock()
	lc.lastWeight = reply.Value
	lc.mu.Unlock()
	return reply.Value, nil
}

// Tare runs the zeroing procedure: arm the cell, read back the weight, and
// repeat until the reading settles under the threshold or the deadline
// passes. respond (may be nil) receives progress lines.
func (lc *LoadCell) Tare(respond func(msg string)) error {
	report := func(msg string) {
		if respond != nil {
			respond(msg)
		}
	}

	report(fmt.Sprintf("%s: Starting tare procedure...", lc.name))
	deadline := lc.reactor.Monotonic() + lc.tareTimeout
	for lc.reactor.Monotonic() < deadline {
		if _, err := lc.sendAndWait(TemplateH1); err != nil {
			return fmt.Errorf("tare step failed: %w", err)
		}
		reply, err := lc.sendAndWait(TemplateH7)
		if err != nil {
			return fmt.Errorf("tare step failed: %w", err)
		}

		if abs(reply.Value) <= lc.tareThreshold {
			report(fmt.Sprintf("Tare successful. Final weight: %dg", reply.Value))
			return nil
		}

		report(fmt.Sprintf("Weight is %dg, retrying...", reply.Value))
		lc.reactor.Pause(lc.reactor.Monotonic() + tareRetryPause)
	}
	return hosterr.TareTimeout(lc.name, lc.tareTimeout)
}

// Calibrate sends the calibration command for a known reference weight.
func (lc *LoadCell) Calibrate(weight int) error {
	_, err := lc.sendAndWait(TemplateH2, weight)
	return err
}

// SaveCalibration persists the calibration on the device.
func (lc *LoadCell) SaveCalibration(weight int) error {
	_, err := lc.sendAndWait(TemplateH3, weight)
	return err
}

// RawTest passes an arbitrary command string through to the device and
// returns the correlated reply.
func (lc *LoadCell) RawTest(cmd string) (Reply, error) {
	return lc.sendAndWait(TemplateTest, cmd)
}

// PollWeight fires an uncorrelated weight query. The reply arrives
// asynchronously as an unsolicited weight report. The poll is skipped when
// a synchronous call is in flight so it cannot steal that call's reply.
func (lc *LoadCell) PollWeight() error {
	lc.mu.Lock()
	if lc.pending != nil {
		lc.mu.Unlock()
		return nil
	}
	cmd := lc.supported[TemplateH7]
	lc.mu.Unlock()

	if cmd == nil {
		// Not connected yet.
		return nil
	}
	return cmd.Send()
}

// LastWeight returns the last known weight in grams.
func (lc *LoadCell) LastWeight() int {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.lastWeight
}

// EstimatedPrintTime converts a host event time to the device time base.
func (lc *LoadCell) EstimatedPrintTime(eventtime float64) (float64, error) {
	return lc.mcu.EstimatedPrintTime(eventtime)
}

// Status is the telemetry snapshot.
type Status struct {
	ForceG int `json:"force_g"`
}

// GetStatus returns the telemetry snapshot.
func (lc *LoadCell) GetStatus() Status {
	return Status{ForceG: lc.LastWeight()}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
