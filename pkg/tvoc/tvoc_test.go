package tvoc

import (
	"strings"
	"testing"

	"flashforge-host/pkg/command"
	"flashforge-host/pkg/config"
	"flashforge-host/pkg/mculink"
	"flashforge-host/pkg/reactor"
)

type fakeMCU struct {
	handlers map[string]mculink.ResponseHandler
}

func (f *fakeMCU) RegisterResponse(name string, handler mculink.ResponseHandler) {
	f.handlers[name] = handler
}

func (f *fakeMCU) EstimatedPrintTime(eventtime float64) (float64, error) {
	return eventtime, nil
}

func newTestTVOC(t *testing.T) (*TVOC, *fakeMCU, *reactor.Reactor) {
	t.Helper()

	cfg, err := config.LoadString("[flashforge_tvoc chamber]\nmcu: mcu\n")
	if err != nil {
		t.Fatal(err)
	}
	section, _ := cfg.GetSection("flashforge_tvoc chamber")

	r := reactor.New()
	t.Cleanup(r.End)
	f := &fakeMCU{handlers: make(map[string]mculink.ResponseHandler)}

	tv, err := New(section, f, r)
	if err != nil {
		t.Fatal(err)
	}
	return tv, f, r
}

func TestReportCaching(t *testing.T) {
	tv, f, _ := newTestTVOC(t)

	if last := tv.Last(); last.Status != "unknown" {
		t.Errorf("initial status = %q", last.Status)
	}

	f.handlers[ResponseName](mculink.Params{
		"status": "ok", "tvoc": 120, "co2": 800, "hcho": 15,
	})

	last := tv.Last()
	if last.TVOC != 120 || last.CO2 != 800 || last.HCHO != 15 || last.Status != "ok" {
		t.Errorf("cached reading = %+v", last)
	}
}

func TestDecodeDefaults(t *testing.T) {
	r := decodeReading(mculink.Params{"tvoc": "garbage"})
	if r.TVOC != 0 || r.CO2 != 0 || r.HCHO != 0 || r.Status != "unknown" {
		t.Errorf("bad defaults: %+v", r)
	}
}

func TestOperatorCommand(t *testing.T) {
	tv, f, _ := newTestTVOC(t)
	reg := command.NewRegistry()
	tv.RegisterCommands(reg)

	f.handlers[ResponseName](mculink.Params{
		"status": "ok", "tvoc": 42, "co2": 900, "hcho": 7,
	})

	var out []string
	if err := reg.Run("FLASHFORGE_GET_TVOC", func(msg string) { out = append(out, msg) }); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || !strings.Contains(out[0], "TVOC: 42") || !strings.Contains(out[0], "CO2: 900") {
		t.Errorf("unexpected response: %v", out)
	}
}

func TestSensorSurface(t *testing.T) {
	tv, f, r := newTestTVOC(t)
	s := NewSensor(tv, r)

	f.handlers[ResponseName](mculink.Params{"status": "ok", "tvoc": 33})

	if s.GetName() != "chamber" {
		t.Errorf("name = %q", s.GetName())
	}
	if s.GetReportTimeDelta() != ReportTime {
		t.Errorf("report delta = %f", s.GetReportTimeDelta())
	}
	if v, _ := s.GetValue(1.0); v != 33 {
		t.Errorf("value = %f", v)
	}

	var gotValue float64
	s.SetupCallback(func(readTime, value float64) { gotValue = value })
	next := s.sample(1.0)
	if gotValue != 33 {
		t.Errorf("callback value = %f", gotValue)
	}
	if next >= reactor.NEVER {
		t.Error("sensor timer should reschedule")
	}
}
