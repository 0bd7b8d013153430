package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	lg := New("test")
	lg.SetWriter(&buf)
	lg.SetLevel(WARN)

	lg.Debug("debug message")
	lg.Info("info message")
	lg.Warn("warn message")
	lg.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below WARN were written: %q", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("WARN/ERROR messages missing: %q", out)
	}
}

func TestPrefixAndFormat(t *testing.T) {
	var buf bytes.Buffer
	lg := New("loadcell")
	lg.SetWriter(&buf)

	lg.Info("weight is %dg", 42)

	out := buf.String()
	if !strings.Contains(out, "loadcell: weight is 42g") {
		t.Errorf("unexpected output: %q", out)
	}
	if !strings.Contains(out, "[INFO]") {
		t.Errorf("missing level tag: %q", out)
	}
}

func TestFields(t *testing.T) {
	var buf bytes.Buffer
	lg := New("mculink")
	lg.SetWriter(&buf)

	lg.WithFields(INFO, "reply", Fields{"status": "ok", "value": 7})

	out := buf.String()
	if !strings.Contains(out, "status=ok") || !strings.Contains(out, "value=7") {
		t.Errorf("fields missing: %q", out)
	}
}

func TestGetLoggerShared(t *testing.T) {
	a := GetLogger("shared-component")
	b := GetLogger("shared-component")
	if a != b {
		t.Error("GetLogger returned distinct loggers for the same prefix")
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("warning") != WARN {
		t.Error("warning should parse to WARN")
	}
	if ParseLevel("bogus") != INFO {
		t.Error("unknown level should default to INFO")
	}
}
