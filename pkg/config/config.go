// Package config provides access to the host configuration file: INI-style
// sections with typed, bounds-checked option getters and [include path]
// directives.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"flashforge-host/pkg/hosterr"
)

// Config provides access to a parsed configuration file.
type Config struct {
	mu       sync.RWMutex
	sections map[string]*Section
	order    []string
}

// New creates a new empty Config.
func New() *Config {
	return &Config{
		sections: make(map[string]*Section),
	}
}

// Load reads a configuration file and returns a Config.
// Supports [include path] directives for including other config files.
func Load(path string) (*Config, error) {
	c := New()
	visited := make(map[string]bool)
	if err := c.parseFile(path, visited); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses configuration text. Include directives are rejected.
func LoadString(text string) (*Config, error) {
	c := New()
	if err := c.parse(strings.NewReader(text), "<string>", "", nil); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) parseFile(path string, visited map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: invalid path %s: %w", path, err)
	}

	if visited[abs] {
		return fmt.Errorf("config: recursive include: %s", path)
	}
	visited[abs] = true
	defer func() { visited[abs] = false }()

	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("config: unable to open %s: %w", path, err)
	}
	defer f.Close()

	return c.parse(f, path, filepath.Dir(abs), visited)
}

func (c *Config) parse(r io.Reader, path, dir string, visited map[string]bool) error {
	var currentSection string
	var currentOptions map[string]string

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			continue
		}

		// Strip comments
		if idx := strings.IndexAny(line, "#;"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
			if line == "" {
				continue
			}
		}

		// Section header
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			if currentSection != "" {
				c.addSection(currentSection, currentOptions)
			}

			header := strings.TrimSpace(line[1 : len(line)-1])
			if header == "" {
				return fmt.Errorf("config: empty section header at line %d in %s", lineNum, path)
			}

			if strings.HasPrefix(header, "include ") {
				if visited == nil {
					return fmt.Errorf("config: include not allowed at line %d in %s", lineNum, path)
				}
				pattern := strings.TrimSpace(header[8:])
				if pattern == "" {
					return fmt.Errorf("config: empty include at line %d in %s", lineNum, path)
				}
				glob := filepath.Join(dir, pattern)
				matches, err := filepath.Glob(glob)
				if err != nil {
					return fmt.Errorf("config: invalid include pattern %q: %w", pattern, err)
				}
				sort.Strings(matches)
				if len(matches) == 0 && !strings.ContainsAny(glob, "*?[") {
					return fmt.Errorf("config: include file does not exist: %s", glob)
				}
				for _, m := range matches {
					if err := c.parseFile(m, visited); err != nil {
						return err
					}
				}
				currentSection = ""
				currentOptions = nil
				continue
			}

			currentSection = header
			currentOptions = make(map[string]string)
			continue
		}

		if currentSection == "" {
			continue
		}

		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			kv = strings.SplitN(line, "=", 2)
		}
		if len(kv) != 2 {
			continue
		}
		currentOptions[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	if currentSection != "" {
		c.addSection(currentSection, currentOptions)
	}
	return nil
}

func (c *Config) addSection(name string, options map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.sections[name]; ok {
		// Later definitions override earlier options.
		for k, v := range options {
			existing.options[k] = v
		}
		return
	}
	c.sections[name] = newSection(name, options)
	c.order = append(c.order, name)
}

// HasSection reports whether the named section exists.
func (c *Config) HasSection(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sections[name]
	return ok
}

// GetSection returns the named section, or an error if absent.
func (c *Config) GetSection(name string) (*Section, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.sections[name]
	if !ok {
		return nil, hosterr.New(hosterr.ErrConfigSection,
			fmt.Sprintf("section '%s' not found", name))
	}
	return s, nil
}

// GetSectionOrEmpty returns the named section, or an empty section with the
// given name so callers can rely on option fallbacks.
func (c *Config) GetSectionOrEmpty(name string) *Section {
	c.mu.RLock()
	s, ok := c.sections[name]
	c.mu.RUnlock()

	if ok {
		return s
	}
	return newSection(name, nil)
}

// SectionsWithPrefix returns all sections whose name equals prefix or starts
// with "prefix " (the "[type name]" convention), in file order.
func (c *Config) SectionsWithPrefix(prefix string) []*Section {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*Section
	for _, name := range c.order {
		if name == prefix || strings.HasPrefix(name, prefix+" ") {
			out = append(out, c.sections[name])
		}
	}
	return out
}

// SectionNames returns all section names in file order.
func (c *Config) SectionNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}
