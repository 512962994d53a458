// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var specRe = regexp.MustCompile(`^(?:(\w+):)?([\w.]+)(?:\((.*)\))?$`)

// Config lists the plugin instances of a session and their order per message type.
type Config struct {
	ids       []string
	names     map[string]string
	args      map[string]string
	orderings map[byte][]string
}

// NewConfig creates an empty configuration.
func NewConfig() *Config {
	return &Config{
		names:     make(map[string]string),
		args:      make(map[string]string),
		orderings: make(map[byte][]string),
	}
}

// Add adds an instance of plugin name. An empty id defaults to name, then
// name1, name2 and so on until unused.
func (c *Config) Add(name, id, args string) error {
	if name == "" {
		return fmt.Errorf("%w: empty plugin name", ErrConfig)
	}
	if id == "" {
		id = c.defaultID(name)
	}
	if _, ok := c.names[id]; ok {
		return fmt.Errorf("%w: duplicate id %q", ErrConfig, id)
	}
	c.ids = append(c.ids, id)
	c.names[id] = name
	c.args[id] = args
	return nil
}

func (c *Config) defaultID(name string) string {
	id := name
	for i := 1; ; i++ {
		if _, ok := c.names[id]; !ok {
			return id
		}
		id = name + strconv.Itoa(i)
	}
}

// Order sets the order in which instances see messages of type typ.
// Instances not listed run afterwards in configuration order.
func (c *Config) Order(typ byte, ids []string) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return fmt.Errorf("%w: duplicate id %q in ordering of 0x%02x", ErrConfig, id, typ)
		}
		seen[id] = true
		if _, ok := c.names[id]; !ok {
			return fmt.Errorf("%w: no such id %q in ordering of 0x%02x", ErrConfig, id, typ)
		}
	}
	c.orderings[typ] = append([]string(nil), ids...)
	return nil
}

// IDs returns the instance ids in configuration order.
func (c *Config) IDs() []string {
	return append([]string(nil), c.ids...)
}

// Name returns the plugin name of instance id.
func (c *Config) Name(id string) string {
	return c.names[id]
}

// Args returns the argument string of instance id.
func (c *Config) Args(id string) string {
	return c.args[id]
}

// Ordering returns every instance id in the order they see messages of type typ.
func (c *Config) Ordering(typ byte) []string {
	o, ok := c.orderings[typ]
	if !ok {
		return c.IDs()
	}
	out := append([]string(nil), o...)
	listed := make(map[string]bool, len(o))
	for _, id := range o {
		listed[id] = true
	}
	for _, id := range c.ids {
		if !listed[id] {
			out = append(out, id)
		}
	}
	return out
}

// AddSpec adds an instance described as ID:NAME(ARGS); ID and ARGS are optional.
func (c *Config) AddSpec(spec string) error {
	id, name, args, err := ParseSpec(spec)
	if err != nil {
		return err
	}
	return c.Add(name, id, args)
}

// ParseSpec splits an ID:NAME(ARGS) plugin description.
func ParseSpec(spec string) (id, name, args string, err error) {
	m := specRe.FindStringSubmatch(strings.TrimSpace(spec))
	if m == nil {
		return "", "", "", fmt.Errorf("%w: bad plugin spec %q", ErrConfig, spec)
	}
	return m[1], m[2], m[3], nil
}

// SplitSpecs splits a comma separated list of plugin specs, ignoring commas
// inside argument parentheses.
func SplitSpecs(list string) []string {
	var specs []string
	depth, start := 0, 0
	for i, r := range list {
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				specs = appendSpec(specs, list[start:i])
				start = i + 1
			}
		}
	}
	return appendSpec(specs, list[start:])
}

func appendSpec(specs []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		specs = append(specs, s)
	}
	return specs
}

// ParseSpecs builds a configuration from a comma separated list of plugin specs.
func ParseSpecs(list string) (*Config, error) {
	c := NewConfig()
	for _, spec := range SplitSpecs(list) {
		if err := c.AddSpec(spec); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LoadFile reads a configuration file.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads a configuration with one plugin spec per line and optional
// ordering lines of the form
//
//	order 0x03 mute,chatty
//
// Blank lines and lines starting with # are ignored.
func Parse(r io.Reader) (*Config, error) {
	c := NewConfig()
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "order "); ok {
			if err := c.parseOrder(rest); err != nil {
				return nil, fmt.Errorf("line %d: %w", n, err)
			}
			continue
		}
		if err := c.AddSpec(line); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return c, nil
}

func (c *Config) parseOrder(s string) error {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return fmt.Errorf("%w: expected \"order TYPE ID,ID\"", ErrConfig)
	}
	typ, err := strconv.ParseUint(parts[0], 0, 8)
	if err != nil {
		return fmt.Errorf("%w: bad message type %q", ErrConfig, parts[0])
	}
	return c.Order(byte(typ), strings.Split(parts[1], ","))
}
