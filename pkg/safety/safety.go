// Package safety manages the host shutdown state. A shutdown is
// unconditional and unrecoverable for the lifetime of the process: once
// invoked, the device state is no longer trusted and every operational
// check fails until the host is restarted.
package safety

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"flashforge-host/pkg/log"
)

// State represents the host's shutdown state.
type State int

const (
	// StateRunning indicates normal operation.
	StateRunning State = iota

	// StateShuttingDown indicates shutdown is in progress.
	StateShuttingDown

	// StateShutdown indicates the host is shut down.
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Reason describes why the host was shut down.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonOverload      Reason = "overload"
	ReasonEmergencyStop Reason = "emergency_stop"
	ReasonCommunication Reason = "communication_error"
	ReasonUserRequest   Reason = "user_request"
)

// ErrShutdown is returned by operational checks after a shutdown.
var ErrShutdown = errors.New("safety: host is shut down")

// Manager owns the shutdown state machine.
type Manager struct {
	mu sync.RWMutex

	state        State
	reason       Reason
	message      string
	shutdownTime time.Time

	onShutdown []func(reason Reason, msg string)

	logger *log.Logger
}

// New creates a new safety Manager in the running state.
func New() *Manager {
	return &Manager{
		state:  StateRunning,
		logger: log.GetLogger("safety"),
	}
}

// OnShutdown registers a callback invoked once when shutdown occurs.
func (m *Manager) OnShutdown(fn func(reason Reason, msg string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onShutdown = append(m.onShutdown, fn)
}

// GetState returns the current state.
func (m *Manager) GetState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsShutdown reports whether the host is shut down.
func (m *Manager) IsShutdown() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state != StateRunning
}

// CheckOperational returns an error if the host is not operational.
func (m *Manager) CheckOperational() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state != StateRunning {
		return fmt.Errorf("%w: %s - %s", ErrShutdown, m.reason, m.message)
	}
	return nil
}

// ShutdownInfo returns the recorded shutdown reason and message.
func (m *Manager) ShutdownInfo() (Reason, string, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason, m.message, m.shutdownTime
}

// Overload invokes a shutdown because a sensor exceeded its force limit.
func (m *Manager) Overload(sensorName string, force, limit int) error {
	msg := fmt.Sprintf("%s: max force exceeded. Last weight was: %dg (limit %dg)",
		sensorName, force, limit)
	return m.InvokeShutdown(ReasonOverload, msg)
}

// EmergencyStop invokes a user-requested emergency shutdown.
func (m *Manager) EmergencyStop(msg string) error {
	return m.InvokeShutdown(ReasonEmergencyStop, msg)
}

// InvokeShutdown transitions to the shutdown state and runs the registered
// callbacks. Calling it again after a shutdown is a no-op.
func (m *Manager) InvokeShutdown(reason Reason, msg string) error {
	m.mu.Lock()

	if m.state != StateRunning {
		m.mu.Unlock()
		return nil
	}

	m.state = StateShuttingDown
	m.reason = reason
	m.message = msg
	m.shutdownTime = time.Now()

	callbacks := make([]func(Reason, string), len(m.onShutdown))
	copy(callbacks, m.onShutdown)
	m.mu.Unlock()

	m.logger.Error("shutdown: %s (%s)", msg, reason)

	for _, fn := range callbacks {
		fn(reason, msg)
	}

	m.mu.Lock()
	m.state = StateShutdown
	m.mu.Unlock()

	return nil
}

// Status is a snapshot for the telemetry surface.
type Status struct {
	State         string
	Reason        string
	Message       string
	ShutdownTime  time.Time
	IsOperational bool
}

// GetStatus returns the current status snapshot.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Status{
		State:         m.state.String(),
		Reason:        string(m.reason),
		Message:       m.message,
		ShutdownTime:  m.shutdownTime,
		IsOperational: m.state == StateRunning,
	}
}
