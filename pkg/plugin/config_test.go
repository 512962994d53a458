// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestConfig_DefaultIDs(t *testing.T) {
	c := NewConfig()
	for _, name := range []string{"log", "log", "mute", "log"} {
		if err := c.Add(name, "", ""); err != nil {
			t.Fatalf("Add(%s) failed: %v", name, err)
		}
	}

	want := []string{"log", "log1", "mute", "log2"}
	if got := c.IDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected ids %v, got %v", want, got)
	}
	if c.Name("log2") != "log" {
		t.Errorf("Expected log2 to be an instance of log, got %q", c.Name("log2"))
	}
}

func TestConfig_DuplicateID(t *testing.T) {
	c := NewConfig()
	if err := c.Add("log", "a", ""); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := c.Add("mute", "a", ""); !errors.Is(err, ErrConfig) {
		t.Errorf("Expected ErrConfig, got %v", err)
	}
}

func TestConfig_Order(t *testing.T) {
	c := NewConfig()
	c.Add("a", "", "")
	c.Add("b", "", "")
	c.Add("c", "", "")

	tests := []struct {
		name    string
		ids     []string
		wantErr bool
	}{
		{"partial", []string{"c", "a"}, false},
		{"duplicate", []string{"a", "a"}, true},
		{"unknown", []string{"a", "z"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Order(0x03, tt.ids)
			if tt.wantErr && !errors.Is(err, ErrConfig) {
				t.Errorf("Expected ErrConfig, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}

	if got := c.Ordering(0x03); !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Errorf("Expected [c a b], got %v", got)
	}
	if got := c.Ordering(0x04); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("Expected default order, got %v", got)
	}
}

func TestParseSpec(t *testing.T) {
	tests := []struct {
		spec    string
		id      string
		name    string
		args    string
		wantErr bool
	}{
		{spec: "mute", name: "mute"},
		{spec: "m:mute", id: "m", name: "mute"},
		{spec: "dvr(-c 3,4 cap)", name: "dvr", args: "-c 3,4 cap"},
		{spec: "rec:dvr(-s * out)", id: "rec", name: "dvr", args: "-s * out"},
		{spec: "pkg.plugin_1", name: "pkg.plugin_1"},
		{spec: "bad name", wantErr: true},
		{spec: ":mute", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			id, name, args, err := ParseSpec(tt.spec)
			if tt.wantErr {
				if !errors.Is(err, ErrConfig) {
					t.Errorf("Expected ErrConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSpec failed: %v", err)
			}
			if id != tt.id || name != tt.name || args != tt.args {
				t.Errorf("Got (%q, %q, %q), want (%q, %q, %q)", id, name, args, tt.id, tt.name, tt.args)
			}
		})
	}
}

func TestSplitSpecs(t *testing.T) {
	got := SplitSpecs("mute, dvr(-c 3,4 cap) ,log,")
	want := []string{"mute", "dvr(-c 3,4 cap)", "log"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestParse(t *testing.T) {
	input := `
# chat plugins
mute
quiet:chatty(loud)
log

order 0x03 quiet,mute
`
	c, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := c.IDs(); !reflect.DeepEqual(got, []string{"mute", "quiet", "log"}) {
		t.Errorf("Unexpected ids %v", got)
	}
	if c.Args("quiet") != "loud" {
		t.Errorf("Expected args loud, got %q", c.Args("quiet"))
	}
	if got := c.Ordering(0x03); !reflect.DeepEqual(got, []string{"quiet", "mute", "log"}) {
		t.Errorf("Unexpected ordering %v", got)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []string{
		"order 0x03 nobody",
		"order 0x1ff mute",
		"order 0x03",
		"mute\nmute:log",
	}

	for _, input := range tests {
		if _, err := Parse(strings.NewReader(input)); !errors.Is(err, ErrConfig) {
			t.Errorf("%q: expected ErrConfig, got %v", input, err)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.conf")
	if err := os.WriteFile(path, []byte("log\nmute\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if len(c.IDs()) != 2 {
		t.Errorf("Expected 2 instances, got %v", c.IDs())
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, ErrConfig) {
		t.Errorf("Expected ErrConfig for missing file, got %v", err)
	}
}
