// Operator command dispatch for the flashforge host
//
// Commands use the extended G-Code style "NAME KEY=VALUE KEY2=VALUE2" text
// form. Handlers receive a Request with typed parameter access and may emit
// any number of response lines before returning.
//
// Copyright (C) 2026  Flashforge Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package command

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"flashforge-host/pkg/hosterr"
	"flashforge-host/pkg/log"
)

// Handler processes one operator command.
type Handler func(req *Request) error

// Request is one parsed operator command invocation.
type Request struct {
	// Name is the upper-cased command name.
	Name string

	params  map[string]string
	respond func(msg string)
}

// Respond emits a response line to the operator.
func (r *Request) Respond(msg string) {
	if r.respond != nil {
		r.respond(msg)
	}
}

// Respondf emits a formatted response line to the operator.
func (r *Request) Respondf(format string, args ...interface{}) {
	r.Respond(fmt.Sprintf(format, args...))
}

// HasParam reports whether the parameter was given.
func (r *Request) HasParam(name string) bool {
	_, ok := r.params[strings.ToUpper(name)]
	return ok
}

// Get returns a string parameter, or fallback if absent.
func (r *Request) Get(name, fallback string) string {
	if v, ok := r.params[strings.ToUpper(name)]; ok {
		return v
	}
	return fallback
}

// GetRequired returns a string parameter, or an error if absent.
func (r *Request) GetRequired(name string) (string, error) {
	v, ok := r.params[strings.ToUpper(name)]
	if !ok {
		return "", hosterr.CommandParam(r.Name, name, "missing required parameter")
	}
	return v, nil
}

// GetInt returns an integer parameter, or fallback if absent.
func (r *Request) GetInt(name string, fallback int) (int, error) {
	v, ok := r.params[strings.ToUpper(name)]
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, hosterr.CommandParam(r.Name, name, "not an integer")
	}
	return n, nil
}

// GetIntMin returns an integer parameter that must be >= minval.
func (r *Request) GetIntMin(name string, fallback, minval int) (int, error) {
	n, err := r.GetInt(name, fallback)
	if err != nil {
		return 0, err
	}
	if n < minval {
		return 0, hosterr.CommandParam(r.Name, name,
			fmt.Sprintf("must be at least %d", minval))
	}
	return n, nil
}

// GetIntRange returns an integer parameter bounded to [minval, maxval].
func (r *Request) GetIntRange(name string, fallback, minval, maxval int) (int, error) {
	n, err := r.GetIntMin(name, fallback, minval)
	if err != nil {
		return 0, err
	}
	if n > maxval {
		return 0, hosterr.CommandParam(r.Name, name,
			fmt.Sprintf("must be at most %d", maxval))
	}
	return n, nil
}

// GetChoice returns a parameter that must be one of choices. Invalid values
// are rejected, never coerced.
func (r *Request) GetChoice(name string, choices []string, fallback string) (string, error) {
	v := r.Get(name, fallback)
	for _, c := range choices {
		if v == c {
			return v, nil
		}
	}
	return "", hosterr.CommandParam(r.Name, name,
		"must be one of "+strings.Join(choices, ", "))
}

// Registry maps operator command names to handlers.
type Registry struct {
	mu sync.RWMutex

	handlers map[string]Handler
	help     map[string]string
	order    []string

	logger *log.Logger
}

// NewRegistry creates a command registry with the HELP builtin installed.
func NewRegistry() *Registry {
	reg := &Registry{
		handlers: make(map[string]Handler),
		help:     make(map[string]string),
		logger:   log.GetLogger("command"),
	}
	reg.Register("HELP", reg.cmdHelp, "Report available commands")
	return reg
}

// Register installs a handler for a command name.
func (reg *Registry) Register(name string, handler Handler, help string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	name = strings.ToUpper(name)
	if _, exists := reg.handlers[name]; !exists {
		reg.order = append(reg.order, name)
		sort.Strings(reg.order)
	}
	reg.handlers[name] = handler
	reg.help[name] = help
}

// Run parses and executes one command line. Response lines go to respond;
// a failed command surfaces as a single error.
func (reg *Registry) Run(line string, respond func(msg string)) error {
	name, params, err := parseCommandLine(line)
	if err != nil {
		return err
	}

	reg.mu.RLock()
	handler, ok := reg.handlers[name]
	reg.mu.RUnlock()

	if !ok {
		return hosterr.New(hosterr.ErrCommandUnknown,
			fmt.Sprintf("unknown command: %s", name))
	}

	req := &Request{Name: name, params: params, respond: respond}
	if err := handler(req); err != nil {
		reg.logger.Warn("%s failed: %v", name, err)
		return err
	}
	return nil
}

func (reg *Registry) cmdHelp(req *Request) error {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	req.Respond("Available commands:")
	for _, name := range reg.order {
		req.Respondf("  %-36s %s", name, reg.help[name])
	}
	return nil
}

// parseCommandLine splits "NAME K=V K2=V" into an upper-cased name and an
// upper-keyed parameter map. Values keep their case; a bare word with no
// '=' is treated as a flag parameter with value "1".
func parseCommandLine(line string) (string, map[string]string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, hosterr.New(hosterr.ErrCommandUnknown, "empty command")
	}

	name := strings.ToUpper(fields[0])
	params := make(map[string]string, len(fields)-1)
	for _, f := range fields[1:] {
		if eq := strings.IndexByte(f, '='); eq > 0 {
			params[strings.ToUpper(f[:eq])] = f[eq+1:]
		} else {
			params[strings.ToUpper(f)] = "1"
		}
	}
	return name, params, nil
}
