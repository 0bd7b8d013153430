package main

import (
	"strings"
	"testing"

	"flashforge-host/pkg/command"
	"flashforge-host/pkg/config"
	"flashforge-host/pkg/hosterr"
	"flashforge-host/pkg/mculink"
	"flashforge-host/pkg/printjob"
	"flashforge-host/pkg/reactor"
	"flashforge-host/pkg/safety"
	"flashforge-host/pkg/sensor"
	"flashforge-host/pkg/tvoc"
)

type stubMCU struct {
	handlers map[string]mculink.ResponseHandler
}

func newStubMCU() *stubMCU {
	return &stubMCU{handlers: make(map[string]mculink.ResponseHandler)}
}

func (s *stubMCU) RegisterResponse(name string, handler mculink.ResponseHandler) {
	s.handlers[name] = handler
}

func (s *stubMCU) EstimatedPrintTime(eventtime float64) (float64, error) {
	return eventtime, nil
}

type stubSensor struct {
	name  string
	value float64
	delta float64
}

func (s *stubSensor) SetupCallback(cb sensor.Callback) {}

func (s *stubSensor) GetReportTimeDelta() float64 { return s.delta }

func (s *stubSensor) SetupMinMax(minValue, maxValue float64) error { return nil }

func (s *stubSensor) GetValue(eventtime float64) (float64, float64) {
	return s.value, 0
}

func (s *stubSensor) GetName() string { return s.name }

func sectionFor(t *testing.T, text, name string) *config.Section {
	t.Helper()
	cfg, err := config.LoadString(text)
	if err != nil {
		t.Fatal(err)
	}
	section, err := cfg.GetSection(name)
	if err != nil {
		t.Fatal(err)
	}
	return section
}

func TestTelemetryProducersIncludeAirQuality(t *testing.T) {
	r := reactor.New()
	t.Cleanup(r.End)

	mcu := newStubMCU()
	tv, err := tvoc.New(sectionFor(t,
		"[flashforge_tvoc chamber]\nmcu: mcu\n", "flashforge_tvoc chamber"), mcu, r)
	if err != nil {
		t.Fatal(err)
	}

	sensors := sensor.NewRegistry()
	producers := telemetryProducers("stm32f407", "v1.2", safety.New(), printjob.New(),
		nil, nil, map[string]*tvoc.TVOC{tv.Name(): tv}, sensors)

	for _, name := range []string{"mcu", "safety", "print_job", "sensors", "flashforge_tvoc chamber"} {
		if producers[name] == nil {
			t.Errorf("producer %q missing", name)
		}
	}

	// A fresh broadcast must show up in the snapshot.
	mcu.handlers[tvoc.ResponseName](mculink.Params{
		"tvoc": 12, "co2": 450, "hcho": 3, "status": "good",
	})
	reading, ok := producers["flashforge_tvoc chamber"]().(tvoc.Reading)
	if !ok {
		t.Fatal("air quality producer returned wrong type")
	}
	if reading.TVOC != 12 || reading.CO2 != 450 || reading.Status != "good" {
		t.Errorf("unexpected snapshot: %+v", reading)
	}
}

func TestQuerySensorCommand(t *testing.T) {
	r := reactor.New()
	t.Cleanup(r.End)

	sensors := sensor.NewRegistry()
	sensors.RegisterType("stub", func(section *config.Section) (sensor.Sensor, error) {
		return &stubSensor{name: section.InstanceName(), value: 42, delta: 0.2}, nil
	})
	if _, err := sensors.Create("stub",
		sectionFor(t, "[stub cell0]\n x: 1\n", "stub cell0")); err != nil {
		t.Fatal(err)
	}

	registry := command.NewRegistry()
	registerSensorQuery(registry, sensors, r)

	var lines []string
	err := registry.Run("QUERY_SENSOR NAME=cell0", func(msg string) {
		lines = append(lines, msg)
	})
	if err != nil {
		t.Fatalf("QUERY_SENSOR: %v", err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "cell0: value=42") {
		t.Errorf("unexpected response: %v", lines)
	}

	if err := registry.Run("QUERY_SENSOR NAME=ghost", nil); !hosterr.Is(err, hosterr.ErrCommandParam) {
		t.Errorf("unknown sensor: got %v, want COMMAND_PARAM", err)
	}
	if err := registry.Run("QUERY_SENSOR", nil); !hosterr.Is(err, hosterr.ErrCommandParam) {
		t.Errorf("missing NAME: got %v, want COMMAND_PARAM", err)
	}
}
