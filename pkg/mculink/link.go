// Package mculink manages the message link to an MCU: a line-framed command
// transport with a background read loop that decodes replies and dispatches
// them to registered response handlers.
//
// Commands are declared by the firmware as format templates (for example
// "flashforge_loadcell_h2 weight=%u"); the dictionary of available templates
// is obtained from the identify handshake after the transport is open. A
// host module looks up the templates it needs and fails startup if the
// firmware does not advertise one of them.
package mculink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"flashforge-host/pkg/hosterr"
	"flashforge-host/pkg/log"
	"flashforge-host/pkg/reactor"
)

var (
	ErrNotIdentified = errors.New("mculink: link not identified")
	ErrClosed        = errors.New("mculink: link closed")
)

// Params holds the decoded key/value parameters of one received message.
// Values are int for numeric fields and string for text fields.
type Params map[string]interface{}

// ResponseHandler is invoked from the read loop for each message whose name
// matches the registration. Handlers must not block.
type ResponseHandler func(params Params)

type paramKind int

const (
	kindInt paramKind = iota
	kindString
)

type templateParam struct {
	name string
	kind paramKind
}

// Command is a resolved, sendable command handle for one firmware template.
type Command struct {
	link     *Link
	name     string
	template string
	params   []templateParam
}

// Name returns the command's message name (first word of the template).
func (c *Command) Name() string {
	return c.name
}

// Template returns the full format template.
func (c *Command) Template() string {
	return c.template
}

// NumParams returns how many arguments Send expects.
func (c *Command) NumParams() int {
	return len(c.params)
}

// Send transmits the command with positional arguments matching the
// template's parameters. Integer parameters accept int; string parameters
// accept string or []byte.
func (c *Command) Send(args ...interface{}) error {
	if len(args) != len(c.params) {
		return fmt.Errorf("mculink: command '%s' wants %d args, got %d",
			c.name, len(c.params), len(args))
	}

	var b strings.Builder
	b.WriteString(c.name)
	for i, p := range c.params {
		b.WriteByte(' ')
		b.WriteString(p.name)
		b.WriteByte('=')
		switch p.kind {
		case kindInt:
			v, ok := args[i].(int)
			if !ok {
				return fmt.Errorf("mculink: command '%s' arg %d: want int, got %T",
					c.name, i, args[i])
			}
			b.WriteString(strconv.Itoa(v))
		case kindString:
			var s string
			switch v := args[i].(type) {
			case string:
				s = v
			case []byte:
				s = string(v)
			default:
				return fmt.Errorf("mculink: command '%s' arg %d: want string, got %T",
					c.name, i, args[i])
			}
			b.WriteString(strconv.Quote(s))
		}
	}
	return c.link.writeLine(b.String())
}

// parseTemplate splits a firmware format template into a message name and
// its parameter declarations.
func parseTemplate(template string) (*Command, error) {
	words := strings.Fields(template)
	if len(words) == 0 {
		return nil, errors.New("mculink: empty command template")
	}

	cmd := &Command{name: words[0], template: template}
	for _, w := range words[1:] {
		eq := strings.IndexByte(w, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("mculink: malformed template param %q in %q", w, template)
		}
		p := templateParam{name: w[:eq]}
		switch w[eq+1:] {
		case "%u", "%i", "%hu", "%hi", "%c":
			p.kind = kindInt
		case "%s", "%.*s", "%*s":
			p.kind = kindString
		default:
			return nil, fmt.Errorf("mculink: unknown param type %q in %q", w[eq+1:], template)
		}
		cmd.params = append(cmd.params, p)
	}
	return cmd, nil
}

// Link is an open message link to one MCU.
type Link struct {
	mu        sync.Mutex
	transport io.ReadWriteCloser
	reactor   *reactor.Reactor
	logger    *log.Logger

	writeMu sync.Mutex

	handlers map[string]ResponseHandler

	// Dictionary resolved by Identify, keyed by full template.
	commands map[string]*Command

	identified bool
	mcuName    string
	mcuVersion string

	// Clock sync state for print time estimation.
	clockAtIdentify float64
	eventAtIdentify float64

	closed bool
	wg     sync.WaitGroup
}

// NewLink creates a link over an open transport and starts its read loop.
func NewLink(transport io.ReadWriteCloser, r *reactor.Reactor) *Link {
	l := &Link{
		transport: transport,
		reactor:   r,
		logger:    log.GetLogger("mculink"),
		handlers:  make(map[string]ResponseHandler),
		commands:  make(map[string]*Command),
	}
	l.wg.Add(1)
	go l.readLoop()
	return l
}

// Identify performs the identify handshake: it requests the firmware's
// command dictionary and clock state and blocks until the response arrives
// or timeout (seconds) elapses.
func (l *Link) Identify(timeout float64) error {
	comp := l.reactor.Completion()
	l.RegisterResponse("identify_response", func(params Params) {
		if !comp.Test() {
			comp.Complete(params)
		}
	})
	defer l.RegisterResponse("identify_response", nil)

	if err := l.writeLine("identify"); err != nil {
		return fmt.Errorf("mculink: identify: %w", err)
	}

	res := comp.WaitUntil(l.reactor.Monotonic()+timeout, nil)
	if res == nil {
		return errors.New("mculink: identify timed out")
	}
	params := res.(Params)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.mcuName, _ = params["mcu"].(string)
	l.mcuVersion, _ = params["version"].(string)

	if templates, ok := params["commands"].(string); ok {
		for _, tmpl := range strings.Split(templates, ";") {
			tmpl = strings.TrimSpace(tmpl)
			if tmpl == "" {
				continue
			}
			cmd, err := parseTemplate(tmpl)
			if err != nil {
				l.logger.Warn("ignoring bad command template: %v", err)
				continue
			}
			cmd.link = l
			l.commands[tmpl] = cmd
		}
	}

	if clock, ok := params["clock"].(int); ok {
		if freq, ok := params["freq"].(int); ok && freq > 0 {
			l.clockAtIdentify = float64(clock) / float64(freq)
			l.eventAtIdentify = l.reactor.Monotonic()
			l.identified = true
		}
	}
	if !l.identified {
		// No usable clock data; the link still works, but print time
		// estimation will report an error.
		l.logger.Warn("identify response carried no clock data")
	}

	l.logger.Info("identified mcu=%s version=%s commands=%d",
		l.mcuName, l.mcuVersion, len(l.commands))
	return nil
}

// TryLookupCommand resolves a command template against the dictionary.
// Returns nil if the firmware does not advertise the template.
func (l *Link) TryLookupCommand(template string) *Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commands[template]
}

// RegisterResponse registers a handler for messages with the given name.
// A nil handler unregisters.
func (l *Link) RegisterResponse(name string, handler ResponseHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if handler == nil {
		delete(l.handlers, name)
	} else {
		l.handlers[name] = handler
	}
}

// EstimatedPrintTime converts a reactor event time to the MCU's print time
// base. Fails if the identify handshake did not establish clock data.
func (l *Link) EstimatedPrintTime(eventtime float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.identified {
		return 0, ErrNotIdentified
	}
	return l.clockAtIdentify + (eventtime - l.eventAtIdentify), nil
}

// MCUInfo returns the identify handshake's name and version strings.
func (l *Link) MCUInfo() (name, version string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mcuName, l.mcuVersion
}

// Close shuts down the link and waits for the read loop to exit.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	err := l.transport.Close()
	l.wg.Wait()
	return err
}

func (l *Link) writeLine(line string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.mu.Unlock()

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_, err := io.WriteString(l.transport, line+"\n")
	return err
}

func (l *Link) readLoop() {
	defer l.wg.Done()

	scanner := bufio.NewScanner(l.transport)
	scanner.Buffer(make([]byte, 4096), 64*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		name, params, err := parseLine(line)
		if err != nil {
			// Garbled traffic is tolerated, never fatal.
			l.logger.Debug("dropping undecodable line %q: %v", line, err)
			continue
		}

		l.mu.Lock()
		handler := l.handlers[name]
		l.mu.Unlock()

		if handler == nil {
			l.logger.Debug("no handler for message '%s'", name)
			continue
		}
		handler(params)
	}

	if err := scanner.Err(); err != nil {
		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if !closed {
			l.logger.Warn("read loop terminated: %v", err)
		}
	}
}

// parseLine decodes "name key=value key2=value2" where values may be quoted
// strings (including embedded spaces) or integers. Failures come back as
// decode errors; the read loop logs and drops them.
func parseLine(line string) (string, Params, error) {
	fields, err := splitFields(line)
	if err != nil {
		return "", nil, err
	}
	if len(fields) == 0 {
		return "", nil, hosterr.New(hosterr.ErrDecode, "empty message")
	}

	name := fields[0]
	params := make(Params, len(fields)-1)
	for _, f := range fields[1:] {
		eq := strings.IndexByte(f, '=')
		if eq <= 0 {
			return "", nil, hosterr.New(hosterr.ErrDecode,
				fmt.Sprintf("malformed field %q", f))
		}
		key, raw := f[:eq], f[eq+1:]
		if strings.HasPrefix(raw, "\"") {
			s, err := strconv.Unquote(raw)
			if err != nil {
				return "", nil, hosterr.New(hosterr.ErrDecode,
					fmt.Sprintf("bad quoted value %q", raw))
			}
			params[key] = s
		} else if n, err := strconv.Atoi(raw); err == nil {
			params[key] = n
		} else {
			params[key] = raw
		}
	}
	return name, params, nil
}

// splitFields splits on spaces but keeps quoted values intact.
func splitFields(line string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	inQuote := false
	escaped := false

	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && inQuote:
			cur.WriteRune(r)
			escaped = true
		case r == '"':
			cur.WriteRune(r)
			inQuote = !inQuote
		case r == ' ' && !inQuote:
			if cur.Len() > 0 {
				fields = append(fields, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if inQuote {
		return nil, hosterr.New(hosterr.ErrDecode, "unterminated quote")
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields, nil
}
