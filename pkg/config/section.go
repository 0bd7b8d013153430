package config

import (
	"fmt"
	"strconv"
	"strings"

	"flashforge-host/pkg/hosterr"
)

// Section is one configuration section with typed option access.
// Getters accept an optional fallback; without one, a missing option is an
// error. Bounds violations are always errors, never coerced.
type Section struct {
	name    string
	options map[string]string
}

func newSection(name string, options map[string]string) *Section {
	if options == nil {
		options = make(map[string]string)
	}
	return &Section{name: name, options: options}
}

// GetName returns the full section name (e.g. "flashforge_loadcell cell0").
func (s *Section) GetName() string {
	return s.name
}

// InstanceName returns the last word of the section name, which names the
// device instance under the "[type name]" convention.
func (s *Section) InstanceName() string {
	parts := strings.Fields(s.name)
	return parts[len(parts)-1]
}

// HasOption reports whether the option is present.
func (s *Section) HasOption(option string) bool {
	_, ok := s.options[option]
	return ok
}

// Get returns a string option.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	v, ok := s.options[option]
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return "", s.missing(option)
	}
	return v, nil
}

// GetInt returns an integer option.
func (s *Section) GetInt(option string, fallback ...int) (int, error) {
	v, ok := s.options[option]
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return 0, s.missing(option)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, s.badValue(option, v, "integer")
	}
	return n, nil
}

// GetIntMin returns an integer option that must be >= minval.
func (s *Section) GetIntMin(option string, minval int, fallback ...int) (int, error) {
	n, err := s.GetInt(option, fallback...)
	if err != nil {
		return 0, err
	}
	if n < minval {
		return 0, s.outOfBounds(option, fmt.Sprintf("%d", n), fmt.Sprintf("must be at least %d", minval))
	}
	return n, nil
}

// GetFloat returns a float option.
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	v, ok := s.options[option]
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return 0, s.missing(option)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, s.badValue(option, v, "float")
	}
	return f, nil
}

// GetFloatMin returns a float option that must be >= minval.
func (s *Section) GetFloatMin(option string, minval float64, fallback ...float64) (float64, error) {
	f, err := s.GetFloat(option, fallback...)
	if err != nil {
		return 0, err
	}
	if f < minval {
		return 0, s.outOfBounds(option, v2s(f), fmt.Sprintf("must be at least %s", v2s(minval)))
	}
	return f, nil
}

// GetBool returns a boolean option. Accepts true/false, yes/no, on/off, 1/0.
func (s *Section) GetBool(option string, fallback ...bool) (bool, error) {
	v, ok := s.options[option]
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return false, s.missing(option)
	}
	switch strings.ToLower(v) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	}
	return false, s.badValue(option, v, "boolean")
}

// GetChoice returns an option that must be one of choices.
func (s *Section) GetChoice(option string, choices []string, fallback ...string) (string, error) {
	v, err := s.Get(option, fallback...)
	if err != nil {
		return "", err
	}
	for _, c := range choices {
		if v == c {
			return v, nil
		}
	}
	return "", s.outOfBounds(option, v, "must be one of "+strings.Join(choices, ", "))
}

// RawOptions returns a copy of the raw option map.
func (s *Section) RawOptions() map[string]string {
	out := make(map[string]string, len(s.options))
	for k, v := range s.options {
		out[k] = v
	}
	return out
}

func (s *Section) missing(option string) error {
	return hosterr.New(hosterr.ErrConfigOption, fmt.Sprintf(
		"option '%s' not found in section '%s'", option, s.name))
}

func (s *Section) badValue(option, value, kind string) error {
	return hosterr.New(hosterr.ErrConfigOption, fmt.Sprintf(
		"option '%s' in section '%s': unable to parse '%s' as %s",
		option, s.name, value, kind))
}

func (s *Section) outOfBounds(option, value, reason string) error {
	return hosterr.New(hosterr.ErrConfigOption, fmt.Sprintf(
		"option '%s' in section '%s': value %s %s",
		option, s.name, value, reason))
}

func v2s(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
