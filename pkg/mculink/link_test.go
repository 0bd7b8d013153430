package mculink

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"flashforge-host/pkg/hosterr"
	"flashforge-host/pkg/reactor"
)

func newTestLink(t *testing.T) (*Link, net.Conn, *reactor.Reactor) {
	t.Helper()
	host, mcu := net.Pipe()
	r := reactor.New()
	t.Cleanup(r.End)
	l := NewLink(host, r)
	t.Cleanup(func() { l.Close() })
	return l, mcu, r
}

func TestParseTemplate(t *testing.T) {
	cmd, err := parseTemplate("flashforge_loadcell_h2 weight=%u")
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Name() != "flashforge_loadcell_h2" || cmd.NumParams() != 1 {
		t.Errorf("unexpected parse: name=%q params=%d", cmd.Name(), cmd.NumParams())
	}

	if _, err := parseTemplate("bad_cmd weight=%q"); err == nil {
		t.Error("unknown param type should be rejected")
	}
}

func TestCommandSendFormatting(t *testing.T) {
	l, mcu, _ := newTestLink(t)

	lines := make(chan string, 4)
	go func() {
		scanner := bufio.NewScanner(mcu)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	cmd, _ := parseTemplate("flashforge_loadcell_h2 weight=%u")
	cmd.link = l
	if err := cmd.Send(500); err != nil {
		t.Fatal(err)
	}
	if got := <-lines; got != "flashforge_loadcell_h2 weight=500" {
		t.Errorf("unexpected wire line: %q", got)
	}

	raw, _ := parseTemplate("flashforge_loadcell_test_cmd cmd=%*s")
	raw.link = l
	if err := raw.Send("M4 test"); err != nil {
		t.Fatal(err)
	}
	if got := <-lines; got != `flashforge_loadcell_test_cmd cmd="M4 test"` {
		t.Errorf("unexpected wire line: %q", got)
	}

	if err := cmd.Send(); err == nil {
		t.Error("arity mismatch should error")
	}
	if err := cmd.Send("notint"); err == nil {
		t.Error("type mismatch should error")
	}
}

func TestResponseDispatch(t *testing.T) {
	l, mcu, _ := newTestLink(t)

	got := make(chan Params, 1)
	l.RegisterResponse("flashforge_loadcell_response", func(p Params) {
		got <- p
	})

	go mcu.Write([]byte("flashforge_loadcell_response status=ok command=\"H7\" value=42 raw_response=\"W 42\"\n"))

	select {
	case p := <-got:
		if p["status"] != "ok" || p["command"] != "H7" || p["value"] != 42 || p["raw_response"] != "W 42" {
			t.Errorf("bad decode: %#v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never called")
	}
}

func TestParseLineDecodeErrors(t *testing.T) {
	for _, line := range []string{
		"msg malformedfield",
		"msg =nokey",
		`msg v="unterminated`,
		`msg v="bad\q"`,
	} {
		if _, _, err := parseLine(line); !hosterr.Is(err, hosterr.ErrDecode) {
			t.Errorf("parseLine(%q): got %v, want DECODE", line, err)
		}
	}
}

func TestGarbledLinesTolerated(t *testing.T) {
	l, mcu, _ := newTestLink(t)

	got := make(chan Params, 1)
	l.RegisterResponse("flashforge_loadcell_response", func(p Params) {
		got <- p
	})

	// Garbage must be dropped without killing the read loop.
	go mcu.Write([]byte("\x00\x01garbage \"unterminated\nmalformedfield=\n=nokey\nflashforge_loadcell_response status=ok value=7\n"))

	select {
	case p := <-got:
		if p["value"] != 7 {
			t.Errorf("bad decode after garbage: %#v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("read loop did not survive garbled traffic")
	}
}

func TestIdentify(t *testing.T) {
	l, mcu, r := newTestLink(t)

	go func() {
		scanner := bufio.NewScanner(mcu)
		for scanner.Scan() {
			if scanner.Text() == "identify" {
				mcu.Write([]byte(`identify_response mcu="stm32f407" version="v1.2" clock=1000 freq=1000 commands="flashforge_loadcell_h1;flashforge_loadcell_h2 weight=%u"` + "\n"))
			}
		}
	}()

	if err := l.Identify(2.0); err != nil {
		t.Fatalf("Identify: %v", err)
	}

	if cmd := l.TryLookupCommand("flashforge_loadcell_h1"); cmd == nil {
		t.Error("h1 should be in the dictionary")
	}
	if cmd := l.TryLookupCommand("flashforge_loadcell_h2 weight=%u"); cmd == nil {
		t.Error("h2 should be in the dictionary")
	}
	if cmd := l.TryLookupCommand("not_advertised"); cmd != nil {
		t.Error("unknown template should resolve to nil")
	}

	name, version := l.MCUInfo()
	if name != "stm32f407" || version != "v1.2" {
		t.Errorf("MCUInfo = %q %q", name, version)
	}

	pt, err := l.EstimatedPrintTime(r.Monotonic())
	if err != nil {
		t.Fatalf("EstimatedPrintTime: %v", err)
	}
	if pt < 1.0 || pt > 2.0 {
		t.Errorf("print time estimate out of range: %f", pt)
	}
}

func TestIdentifyTimeout(t *testing.T) {
	l, mcu, r := newTestLink(t)

	// Firmware that listens but never answers.
	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := mcu.Read(buf); err != nil {
				return
			}
		}
	}()

	start := r.Monotonic()
	err := l.Identify(0.05)
	if err == nil {
		t.Fatal("Identify with mute firmware should time out")
	}
	if r.Monotonic()-start > 1.0 {
		t.Error("timeout took far too long")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("unexpected error: %v", err)
	}

	if _, err := l.EstimatedPrintTime(r.Monotonic()); err == nil {
		t.Error("EstimatedPrintTime should fail before identify")
	}
}
