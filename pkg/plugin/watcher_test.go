// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.conf")
	if err := os.WriteFile(path, []byte("log\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	w, err := NewWatcher(path, 50*time.Millisecond, testLogger)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if got := w.Current().IDs(); len(got) != 1 || got[0] != "log" {
		t.Fatalf("Unexpected initial config %v", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx)
	}()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("log\nmute\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(w.Current().IDs()) != 2 {
		if time.Now().After(deadline) {
			t.Fatal("Config was not reloaded")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// An invalid file keeps the previous configuration.
	if err := os.WriteFile(path, []byte("log\nlog:mute\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if len(w.Current().IDs()) != 2 {
		t.Errorf("Expected previous config to be kept, got %v", w.Current().IDs())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Watch did not stop after cancel")
	}
}

func TestNewWatcher_MissingFile(t *testing.T) {
	if _, err := NewWatcher(filepath.Join(t.TempDir(), "nope"), 0, nil); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestStatic(t *testing.T) {
	cfg := NewConfig()
	var s Source = Static{Config: cfg}
	if s.Current() != cfg {
		t.Error("Expected the fixed configuration")
	}
}
