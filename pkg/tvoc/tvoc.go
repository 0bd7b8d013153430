// Flashforge air quality sensor support
//
// Copyright (C) 2026  Flashforge Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package tvoc listens for the periodic air quality reports the firmware
// pushes over the MCU link. Unlike the load cell there is no request side;
// the device is a passive broadcaster and the host only caches the latest
// readings.
package tvoc

import (
	"sync"

	"flashforge-host/pkg/command"
	"flashforge-host/pkg/config"
	"flashforge-host/pkg/log"
	"flashforge-host/pkg/mculink"
	"flashforge-host/pkg/reactor"
	"flashforge-host/pkg/sensor"
)

// ResponseName is the MCU broadcast message carrying air quality data.
const ResponseName = "flashforge_tvoc_response"

// ReportTime is the observer callback interval in seconds.
const ReportTime = 0.5

// MCU is the subset of the message link the sensor needs.
type MCU interface {
	RegisterResponse(name string, handler mculink.ResponseHandler)
	EstimatedPrintTime(eventtime float64) (float64, error)
}

// Reading is one decoded air quality report. TVOC and HCHO are in µg/m³,
// CO2 in ppm.
type Reading struct {
	TVOC   int    `json:"tvoc"`
	CO2    int    `json:"co2"`
	HCHO   int    `json:"hcho"`
	Status string `json:"status"`
}

func decodeReading(params mculink.Params) Reading {
	r := Reading{Status: "unknown"}
	if s, ok := params["status"].(string); ok {
		r.Status = s
	}
	if n, ok := params["tvoc"].(int); ok {
		r.TVOC = n
	}
	if n, ok := params["co2"].(int); ok {
		r.CO2 = n
	}
	if n, ok := params["hcho"].(int); ok {
		r.HCHO = n
	}
	return r
}

// TVOC caches the latest air quality report.
type TVOC struct {
	name    string
	mcu     MCU
	reactor *reactor.Reactor
	logger  *log.Logger

	mu   sync.Mutex
	last Reading
}

// New creates a TVOC device from its config section and registers its
// report handler on the link.
func New(section *config.Section, mcu MCU, r *reactor.Reactor) (*TVOC, error) {
	tv := &TVOC{
		name:    section.InstanceName(),
		mcu:     mcu,
		reactor: r,
		logger:  log.GetLogger("tvoc"),
		last:    Reading{Status: "unknown"},
	}
	mcu.RegisterResponse(ResponseName, tv.handleResponse)
	return tv, nil
}

// Name returns the device instance name.
func (tv *TVOC) Name() string {
	return tv.name
}

func (tv *TVOC) handleResponse(params mculink.Params) {
	reading := decodeReading(params)
	tv.logger.Debug("%s: TVOC: %d ug/m3, CO2: %d ppm, HCHO: %d ug/m3, status: %s",
		tv.name, reading.TVOC, reading.CO2, reading.HCHO, reading.Status)

	tv.mu.Lock()
	tv.last = reading
	tv.mu.Unlock()
}

// Last returns the latest cached reading.
func (tv *TVOC) Last() Reading {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	return tv.last
}

// GetStatus returns the telemetry snapshot.
func (tv *TVOC) GetStatus() Reading {
	return tv.Last()
}

// RegisterCommands installs the air quality operator command.
func (tv *TVOC) RegisterCommands(reg *command.Registry) {
	reg.Register("FLASHFORGE_GET_TVOC", func(req *command.Request) error {
		r := tv.Last()
		req.Respondf("%s: TVOC: %d ug/m3, CO2: %d ppm, Formaldehyde: %d ug/m3, Status: %s",
			tv.name, r.TVOC, r.CO2, r.HCHO, r.Status)
		return nil
	}, "Get current TVOC reading from sensor")
}

// Sensor reports the cached TVOC value on a fixed schedule.
type Sensor struct {
	tvoc    *TVOC
	reactor *reactor.Reactor

	mu       sync.Mutex
	callback sensor.Callback

	timer *reactor.Timer
}

// NewSensor creates the periodic report surface for a TVOC device. The
// timer is registered dormant; Start arms it.
func NewSensor(tv *TVOC, r *reactor.Reactor) *Sensor {
	s := &Sensor{tvoc: tv, reactor: r}
	s.timer = r.RegisterTimer(s.sample, reactor.NEVER)
	return s
}

// Start arms the report timer.
func (s *Sensor) Start() {
	s.reactor.UpdateTimer(s.timer, reactor.NOW)
}

func (s *Sensor) sample(eventtime float64) float64 {
	measuredTime := s.reactor.Monotonic()

	s.mu.Lock()
	callback := s.callback
	s.mu.Unlock()

	if callback != nil {
		printTime, err := s.tvoc.mcu.EstimatedPrintTime(measuredTime)
		if err != nil {
			printTime = measuredTime
		}
		callback(printTime, float64(s.tvoc.Last().TVOC))
	}
	return measuredTime + ReportTime
}

// SetupCallback registers the observer invoked each report.
func (s *Sensor) SetupCallback(cb sensor.Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

// GetReportTimeDelta returns the report interval.
func (s *Sensor) GetReportTimeDelta() float64 {
	return ReportTime
}

// SetupMinMax is accepted for interface compatibility; air quality values
// have no configured bounds.
func (s *Sensor) SetupMinMax(minValue, maxValue float64) error {
	return nil
}

// GetValue returns the last TVOC reading and a zero auxiliary value.
func (s *Sensor) GetValue(eventtime float64) (float64, float64) {
	return float64(s.tvoc.Last().TVOC), 0
}

// GetName returns the sensor name.
func (s *Sensor) GetName() string {
	return s.tvoc.name
}
