// Structured logging for the flashforge host
//
// Provides leveled logging with per-component prefixes and optional
// structured fields.
//
// Copyright (C) 2026  Flashforge Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// DEBUG level for detailed debugging information
	DEBUG LogLevel = iota

	// INFO level for general informational messages
	INFO

	// WARN level for warning messages
	WARN

	// ERROR level for error messages
	ERROR
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a LogLevel
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Fields is a map of structured logging fields
type Fields map[string]interface{}

// Logger writes leveled log messages for one component.
type Logger struct {
	mu         sync.Mutex
	prefix     string
	writer     io.Writer
	level      LogLevel
	timeFormat string
}

// New creates a logger with the given component prefix.
func New(prefix string) *Logger {
	return &Logger{
		prefix:     prefix,
		writer:     os.Stdout,
		level:      INFO,
		timeFormat: "2006-01-02 15:04:05.000",
	}
}

// SetLevel sets the minimum level that will be written.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current minimum level.
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetWriter sets the output writer.
func (l *Logger) SetWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = w
}

// WithPrefix returns a child logger with a nested prefix.
func (l *Logger) WithPrefix(prefix string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	return &Logger{
		prefix:     l.prefix + "." + prefix,
		writer:     l.writer,
		level:      l.level,
		timeFormat: l.timeFormat,
	}
}

func (l *Logger) log(level LogLevel, msg string, args []interface{}, fields Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}

	var b strings.Builder
	b.WriteString(time.Now().Format(l.timeFormat))
	b.WriteString(" [")
	b.WriteString(level.String())
	b.WriteString("] ")
	if l.prefix != "" {
		b.WriteString(l.prefix)
		b.WriteString(": ")
	}
	b.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	b.WriteByte('\n')

	io.WriteString(l.writer, b.String())
}

// Debug logs at DEBUG level with Printf-style formatting.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log(DEBUG, msg, args, nil)
}

// Info logs at INFO level with Printf-style formatting.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.log(INFO, msg, args, nil)
}

// Warn logs at WARN level with Printf-style formatting.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log(WARN, msg, args, nil)
}

// Error logs at ERROR level with Printf-style formatting.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.log(ERROR, msg, args, nil)
}

// WithFields logs msg at the given level together with structured fields.
func (l *Logger) WithFields(level LogLevel, msg string, fields Fields) {
	l.log(level, msg, nil, fields)
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]*Logger)

	// Defaults applied to loggers created through GetLogger.
	defaultLevel  = INFO
	defaultWriter io.Writer = os.Stdout
)

// GetLogger returns the shared logger for a component prefix, creating it
// with the process-wide defaults on first use.
func GetLogger(prefix string) *Logger {
	registryMu.Lock()
	defer registryMu.Unlock()

	if lg, ok := registry[prefix]; ok {
		return lg
	}
	lg := New(prefix)
	lg.SetLevel(defaultLevel)
	lg.SetWriter(defaultWriter)
	registry[prefix] = lg
	return lg
}

// SetDefaultLevel sets the level for all registered and future loggers.
func SetDefaultLevel(level LogLevel) {
	registryMu.Lock()
	defer registryMu.Unlock()

	defaultLevel = level
	for _, lg := range registry {
		lg.SetLevel(level)
	}
}

// SetDefaultWriter sets the writer for all registered and future loggers.
func SetDefaultWriter(w io.Writer) {
	registryMu.Lock()
	defer registryMu.Unlock()

	defaultWriter = w
	for _, lg := range registry {
		lg.SetWriter(w)
	}
}
