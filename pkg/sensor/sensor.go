// Sensor registration for flashforge host
// Copyright (C) 2026  Flashforge Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package sensor defines the common interface periodic sensors expose to the
// rest of the host and a factory registry keyed by config section prefix.
package sensor

import (
	"fmt"
	"sync"

	"flashforge-host/pkg/config"
)

// Callback is invoked for each new sensor reading. readTime is the
// estimated print time of the sample.
type Callback func(readTime, value float64)

// Sensor is the interface periodic measurement sources implement.
type Sensor interface {
	// SetupCallback registers a callback for new readings
	SetupCallback(callback Callback)

	// GetReportTimeDelta returns the time between reports
	GetReportTimeDelta() float64

	// SetupMinMax sets the valid reading bounds
	SetupMinMax(minValue, maxValue float64) error

	// GetValue returns the last reading and an auxiliary value at eventtime
	GetValue(eventtime float64) (value, aux float64)

	// GetName returns the sensor name
	GetName() string
}

// Factory creates a sensor from its config section.
type Factory func(section *config.Section) (Sensor, error)

// Registry manages available sensor types and created instances.
type Registry struct {
	mu sync.RWMutex

	factories map[string]Factory
	sensors   map[string]Sensor
}

// NewRegistry creates an empty sensor registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		sensors:   make(map[string]Sensor),
	}
}

// RegisterType registers a factory for a sensor type.
func (r *Registry) RegisterType(sensorType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[sensorType] = factory
}

// Create builds a sensor instance from its config section and records it
// under its name.
func (r *Registry) Create(sensorType string, section *config.Section) (Sensor, error) {
	r.mu.RLock()
	factory, ok := r.factories[sensorType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("sensor: unknown sensor type '%s'", sensorType)
	}

	s, err := factory(section)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sensors[s.GetName()] = s
	r.mu.Unlock()
	return s, nil
}

// Lookup returns a created sensor by name, or nil.
func (r *Registry) Lookup(name string) Sensor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sensors[name]
}

// Names returns the names of all created sensors.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sensors))
	for name := range r.sensors {
		names = append(names, name)
	}
	return names
}
