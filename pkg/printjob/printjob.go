// Print job state tracking for the flashforge host
//
// Copyright (C) 2026  Flashforge Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package printjob tracks whether a print job is active and owns the
// host-side pause capability. Safety monitors consult it to decide whether
// sampling applies and request a pause instead of a shutdown when the
// overload policy allows recovery.
package printjob

import (
	"errors"
	"sync"

	"flashforge-host/pkg/command"
	"flashforge-host/pkg/log"
)

var (
	ErrNoJob     = errors.New("printjob: no job is running")
	ErrNotPaused = errors.New("printjob: no job is paused")
	ErrPaused    = errors.New("printjob: a paused job is pending")
)

// JobState describes the current print job.
type JobState int

const (
	// StateStandby means no job is running.
	StateStandby JobState = iota

	// StatePrinting means a job is actively printing.
	StatePrinting

	// StatePaused means a job is paused and can be resumed.
	StatePaused
)

func (s JobState) String() string {
	switch s {
	case StateStandby:
		return "standby"
	case StatePrinting:
		return "printing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Controller tracks job state and pause transitions.
type Controller struct {
	mu sync.RWMutex

	state        JobState
	jobName      string
	startTime    float64
	pauseCount   int
	lastActivity float64

	onPause  []func()
	onResume []func()

	logger *log.Logger
}

// New creates a Controller in the standby state.
func New() *Controller {
	return &Controller{
		state:  StateStandby,
		logger: log.GetLogger("printjob"),
	}
}

// OnPause registers a callback run whenever a pause takes effect.
func (c *Controller) OnPause(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPause = append(c.onPause, fn)
}

// OnResume registers a callback run whenever a paused job resumes.
func (c *Controller) OnResume(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResume = append(c.onResume, fn)
}

// StartJob transitions to printing. Starting while paused is rejected so a
// half-finished job cannot be silently replaced.
func (c *Controller) StartJob(name string, eventtime float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StatePaused {
		return ErrPaused
	}
	c.state = StatePrinting
	c.jobName = name
	c.startTime = eventtime
	c.pauseCount = 0
	c.lastActivity = eventtime
	c.logger.Info("job started: %s", name)
	return nil
}

// FinishJob returns to standby from any state.
func (c *Controller) FinishJob() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateStandby {
		c.logger.Info("job finished: %s", c.jobName)
	}
	c.state = StateStandby
	c.jobName = ""
}

// State returns the current job state.
func (c *Controller) State() JobState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsJobActive reports whether a job is printing (not standby, not paused).
func (c *Controller) IsJobActive(eventtime float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StatePrinting {
		c.lastActivity = eventtime
		return true
	}
	return false
}

// IsPaused reports whether the current job is paused.
func (c *Controller) IsPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StatePaused
}

// RequestPause pauses the running job. Pausing when already paused is a
// no-op; pausing with no job running is an error.
func (c *Controller) RequestPause() error {
	c.mu.Lock()

	switch c.state {
	case StatePaused:
		c.mu.Unlock()
		return nil
	case StateStandby:
		c.mu.Unlock()
		return ErrNoJob
	}

	c.state = StatePaused
	c.pauseCount++
	callbacks := make([]func(), len(c.onPause))
	copy(callbacks, c.onPause)
	c.mu.Unlock()

	c.logger.Info("job paused")
	for _, fn := range callbacks {
		fn()
	}
	return nil
}

// Resume restarts a paused job.
func (c *Controller) Resume() error {
	c.mu.Lock()

	if c.state != StatePaused {
		c.mu.Unlock()
		return ErrNotPaused
	}

	c.state = StatePrinting
	callbacks := make([]func(), len(c.onResume))
	copy(callbacks, c.onResume)
	c.mu.Unlock()

	c.logger.Info("job resumed")
	for _, fn := range callbacks {
		fn()
	}
	return nil
}

// ClearPause drops the paused state without resuming; the job is abandoned
// and the controller returns to standby.
func (c *Controller) ClearPause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StatePaused {
		c.state = StateStandby
		c.jobName = ""
		c.logger.Info("pause cleared")
	}
}

// Status is a snapshot for the telemetry surface.
type Status struct {
	State      string  `json:"state"`
	JobName    string  `json:"job_name"`
	StartTime  float64 `json:"start_time"`
	PauseCount int     `json:"pause_count"`
	IsPaused   bool    `json:"is_paused"`
}

// GetStatus returns the current status snapshot.
func (c *Controller) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Status{
		State:      c.state.String(),
		JobName:    c.jobName,
		StartTime:  c.startTime,
		PauseCount: c.pauseCount,
		IsPaused:   c.state == StatePaused,
	}
}

// RegisterCommands installs the operator pause commands.
func (c *Controller) RegisterCommands(reg *command.Registry) {
	reg.Register("PAUSE", func(req *command.Request) error {
		if err := c.RequestPause(); err != nil {
			return err
		}
		req.Respond("Print paused")
		return nil
	}, "Pause the running print job")

	reg.Register("RESUME", func(req *command.Request) error {
		if err := c.Resume(); err != nil {
			return err
		}
		req.Respond("Print resumed")
		return nil
	}, "Resume a paused print job")

	reg.Register("CLEAR_PAUSE", func(req *command.Request) error {
		c.ClearPause()
		req.Respond("Pause state cleared")
		return nil
	}, "Abandon a paused print job")
}
