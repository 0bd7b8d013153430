// Load cell safety monitor
//
// Copyright (C) 2026  Flashforge Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package loadcell

import (
	"math"
	"sync"

	"flashforge-host/pkg/config"
	"flashforge-host/pkg/hosterr"
	"flashforge-host/pkg/log"
	"flashforge-host/pkg/reactor"
	"flashforge-host/pkg/safety"
	"flashforge-host/pkg/sensor"
)

// Overload actions.
const (
	ActionHalt  = "halt"
	ActionPause = "pause"
)

// OverloadActions is the closed set of valid overload actions.
var OverloadActions = []string{ActionHalt, ActionPause}

// JobController is the pause capability the monitor needs from the print
// job layer.
type JobController interface {
	IsJobActive(eventtime float64) bool
	IsPaused() bool
	RequestPause() error
}

// Monitor samples the load cell on a recurring timer and applies the
// overload policy. A halt terminates the schedule; a pause leaves it
// running so a resumed job stays protected.
type Monitor struct {
	name     string
	loadcell *LoadCell
	reactor  *reactor.Reactor
	safety   *safety.Manager
	jobs     JobController
	logger   *log.Logger

	sampleInterval        float64
	checkOnlyWhenPrinting bool

	mu                    sync.Mutex
	maxForce              int
	overloadAction        string
	defaultMaxForce       int
	defaultOverloadAction string
	callback              sensor.Callback
	minValue              float64
	maxValue              float64

	timer *reactor.Timer
}

// NewMonitor creates a Monitor from its config section. The sample timer is
// registered dormant; Start arms it.
func NewMonitor(section *config.Section, lc *LoadCell, r *reactor.Reactor,
	sm *safety.Manager, jobs JobController) (*Monitor, error) {

	sampleInterval, err := section.GetFloatMin("sample_interval", 0.1, 0.2)
	if err != nil {
		return nil, err
	}
	checkOnly, err := section.GetBool("check_only_when_printing", true)
	if err != nil {
		return nil, err
	}
	maxForce, err := section.GetIntMin("max_force", 0, 900)
	if err != nil {
		return nil, err
	}
	action, err := section.GetChoice("overload_action", OverloadActions, ActionHalt)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		name:                  section.InstanceName(),
		loadcell:              lc,
		reactor:               r,
		safety:                sm,
		jobs:                  jobs,
		logger:                log.GetLogger("loadcell"),
		sampleInterval:        sampleInterval,
		checkOnlyWhenPrinting: checkOnly,
		maxForce:              maxForce,
		overloadAction:        action,
		defaultMaxForce:       maxForce,
		defaultOverloadAction: action,
		maxValue:              math.Inf(1),
	}
	m.timer = r.RegisterTimer(m.sample, reactor.NEVER)
	return m, nil
}

// Start arms the sampling timer.
func (m *Monitor) Start() {
	m.reactor.UpdateTimer(m.timer, reactor.NOW)
}

// sample is the recurring timer callback. Every failure inside it is
// downgraded to a log line; a missed tick must never kill the monitor.
func (m *Monitor) sample(eventtime float64) float64 {
	if err := m.loadcell.PollWeight(); err != nil {
		m.logger.Warn("%s: could not send weight poll: %v", m.name, err)
	}

	weight := m.loadcell.LastWeight()

	m.mu.Lock()
	maxForce := m.maxForce
	action := m.overloadAction
	callback := m.callback
	m.mu.Unlock()

	if weight > maxForce {
		if !m.checkOnlyWhenPrinting || m.jobs.IsJobActive(eventtime) {
			if action == ActionHalt {
				m.safety.Overload(m.name, weight, maxForce)
				return reactor.NEVER
			}
			if !m.jobs.IsPaused() {
				m.logger.Warn("%s: max force exceeded. Last weight was: %dg", m.name, weight)
				if err := m.jobs.RequestPause(); err != nil {
					m.logger.Warn("%s: pause request failed: %v", m.name, err)
				}
			}
		}
	}

	measuredTime := m.reactor.Monotonic()
	if callback != nil {
		printTime, err := m.loadcell.EstimatedPrintTime(measuredTime)
		if err != nil {
			m.logger.Debug("%s: print time estimate unavailable: %v", m.name, err)
			printTime = math.NaN()
		}
		callback(printTime, float64(weight))
	}

	return measuredTime + m.sampleInterval
}

// SetPolicy changes the runtime overload policy. An empty action keeps the
// current one. Takes effect on the next tick.
func (m *Monitor) SetPolicy(maxForce int, action string) (oldForce int, oldAction string, err error) {
	if action != "" {
		valid := false
		for _, a := range OverloadActions {
			if action == a {
				valid = true
				break
			}
		}
		if !valid {
			return 0, "", hosterr.New(hosterr.ErrCommandParam,
				"overload action must be 'halt' or 'pause'")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	oldForce, oldAction = m.maxForce, m.overloadAction
	m.maxForce = maxForce
	if action != "" {
		m.overloadAction = action
	}
	return oldForce, oldAction, nil
}

// ResetPolicy restores the configured defaults.
func (m *Monitor) ResetPolicy() (maxForce int, action string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maxForce = m.defaultMaxForce
	m.overloadAction = m.defaultOverloadAction
	return m.maxForce, m.overloadAction
}

// Policy returns the current threshold and action.
func (m *Monitor) Policy() (maxForce int, action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxForce, m.overloadAction
}

// SetupCallback registers the observer invoked each tick.
func (m *Monitor) SetupCallback(cb sensor.Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = cb
}

// GetReportTimeDelta returns the sampling interval.
func (m *Monitor) GetReportTimeDelta() float64 {
	return m.sampleInterval
}

// SetupMinMax records the valid reading bounds.
func (m *Monitor) SetupMinMax(minValue, maxValue float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minValue, m.maxValue = minValue, maxValue
	return nil
}

// GetValue returns the last weight and a zero auxiliary value.
func (m *Monitor) GetValue(eventtime float64) (float64, float64) {
	return float64(m.loadcell.LastWeight()), 0
}

// GetName returns the monitor instance name.
func (m *Monitor) GetName() string {
	return m.name
}

// MonitorStatus is the telemetry snapshot.
type MonitorStatus struct {
	ForceG         int     `json:"force_g"`
	MaxForce       int     `json:"max_force"`
	OverloadAction string  `json:"overload_action"`
	SampleInterval float64 `json:"sample_interval"`
}

// GetStatus returns the telemetry snapshot.
func (m *Monitor) GetStatus() MonitorStatus {
	maxForce, action := m.Policy()
	return MonitorStatus{
		ForceG:         m.loadcell.LastWeight(),
		MaxForce:       maxForce,
		OverloadAction: action,
		SampleInterval: m.sampleInterval,
	}
}
