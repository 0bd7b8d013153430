// Unified error handling for the flashforge host
//
// Copyright (C) 2026  Flashforge Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package hosterr

import (
	"errors"
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// ErrCommandMissing: a required MCU command is not advertised by the
	// firmware. Fatal at startup, never retried.
	ErrCommandMissing ErrorCode = "COMMAND_MISSING"

	// ErrBusy: a synchronous call was attempted while another command was
	// already in flight.
	ErrBusy ErrorCode = "BUSY"

	// ErrTimeout: no matching reply arrived within the deadline.
	ErrTimeout ErrorCode = "TIMEOUT"

	// ErrRemote: the firmware reported a non-ok status.
	ErrRemote ErrorCode = "REMOTE"

	// ErrDecode: a received message could not be decoded. Logged and
	// dropped by the link's read loop, never propagated further.
	ErrDecode ErrorCode = "DECODE"

	// ErrTareTimeout: the tare procedure did not converge in time.
	ErrTareTimeout ErrorCode = "TARE_TIMEOUT"

	// Configuration errors
	ErrConfigSection ErrorCode = "CONFIG_SECTION"
	ErrConfigOption  ErrorCode = "CONFIG_OPTION"

	// Operator command errors
	ErrCommandUnknown ErrorCode = "COMMAND_UNKNOWN"
	ErrCommandParam   ErrorCode = "COMMAND_PARAM"
)

// HostError is the unified error type for the host system
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Device is the device/module instance the error refers to
	Device string

	// Command is the logical command involved (if applicable)
	Command string

	// Status is the remote-reported status string (ErrRemote only)
	Status string

	// Raw is the raw diagnostic text from the firmware (ErrRemote only)
	Raw string

	// Err wraps the underlying error
	Err error
}

// Error implements the error interface
func (e *HostError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Device, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{Code: code, Message: message}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{Code: code, Message: message, Err: err}
}

// CommandMissing creates a fatal startup error for an unadvertised command.
func CommandMissing(device, command string) *HostError {
	e := New(ErrCommandMissing, fmt.Sprintf(
		"required MCU command '%s' is not available, check your firmware", command))
	e.Device = device
	e.Command = command
	return e
}

// Busy creates a concurrency-conflict error.
func Busy(device string) *HostError {
	e := New(ErrBusy, "another command is already in progress")
	e.Device = device
	return e
}

// Timeout creates a reply-timeout error naming the command.
func Timeout(device, command string) *HostError {
	e := New(ErrTimeout, fmt.Sprintf("MCU command '%s' timed out", command))
	e.Device = device
	e.Command = command
	return e
}

// Remote creates an error for a firmware-reported failure status.
func Remote(device, command, status, raw string) *HostError {
	e := New(ErrRemote, fmt.Sprintf(
		"command '%s' failed with status '%s'. MCU response: '%s'", command, status, raw))
	e.Device = device
	e.Command = command
	e.Status = status
	e.Raw = raw
	return e
}

// TareTimeout creates an error for a tare procedure deadline.
func TareTimeout(device string, timeout float64) *HostError {
	e := New(ErrTareTimeout, fmt.Sprintf("tare failed to complete within %.1fs", timeout))
	e.Device = device
	return e
}

// CommandParam creates an operator command argument error.
func CommandParam(command, param, reason string) *HostError {
	e := New(ErrCommandParam, fmt.Sprintf(
		"command '%s': invalid parameter '%s' (%s)", command, param, reason))
	e.Command = command
	return e
}

// Is reports whether err is a HostError with the given code.
func Is(err error, code ErrorCode) bool {
	var he *HostError
	if errors.As(err, &he) {
		return he.Code == code
	}
	return false
}

// Code returns err's error code, or "" for non-host errors.
func Code(err error) ErrorCode {
	var he *HostError
	if errors.As(err, &he) {
		return he.Code
	}
	return ""
}
