// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is the fallback reload interval of a Watcher.
const DefaultPollInterval = 30 * time.Second

// Source supplies the plugin configuration for new sessions.
type Source interface {
	Current() *Config
}

// Static is a Source that never changes.
type Static struct {
	Config *Config
}

// Current returns the fixed configuration.
func (s Static) Current() *Config {
	return s.Config
}

// Watcher reloads a plugin configuration file when it changes.
// Sessions keep the configuration they started with; new sessions see the
// latest valid version. Invalid files are logged and ignored.
type Watcher struct {
	path     string
	interval time.Duration
	logger   *slog.Logger
	current  atomic.Pointer[Config]
	modTime  time.Time
	reloads  atomic.Int64
	onReload func(err error)
}

// NewWatcher loads path and returns a watcher serving its contents.
func NewWatcher(path string, interval time.Duration, logger *slog.Logger) (*Watcher, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{path: path, interval: interval, logger: logger}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	w.current.Store(cfg)
	if fi, err := os.Stat(path); err == nil {
		w.modTime = fi.ModTime()
	}
	return w, nil
}

// Current returns the latest valid configuration.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// OnReload registers a callback run after every reload attempt.
// It must be set before Watch is started.
func (w *Watcher) OnReload(fn func(err error)) {
	w.onReload = fn
}

// Reloads returns how many times the configuration was replaced.
func (w *Watcher) Reloads() int64 {
	return w.reloads.Load()
}

// Watch reloads the file on change until ctx is done.
// The directory is watched so editors that replace the file by rename are
// noticed; polling covers filesystems without notifications.
func (w *Watcher) Watch(ctx context.Context) error {
	var events <-chan fsnotify.Event
	var errs <-chan error
	dir, file := filepath.Split(w.path)
	if dir == "" {
		dir = "."
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, polling plugin config", slog.Any("error", err))
	} else {
		defer fw.Close()
		if err := fw.Add(dir); err != nil {
			w.logger.Warn("Failed to watch plugin config directory, polling",
				slog.String("dir", dir),
				slog.Any("error", err))
		} else {
			events, errs = fw.Events, fw.Errors
			w.logger.Info("Watching plugin config", slog.String("path", w.path))
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.reload()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn("fsnotify error", slog.Any("error", err))
		case <-ticker.C:
			if fi, err := os.Stat(w.path); err == nil && !fi.ModTime().Equal(w.modTime) {
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	if fi, err := os.Stat(w.path); err == nil {
		w.modTime = fi.ModTime()
	}
	cfg, err := LoadFile(w.path)
	if w.onReload != nil {
		w.onReload(err)
	}
	if err != nil {
		w.logger.Error("Failed to reload plugin config, keeping previous", slog.Any("error", err))
		return
	}
	w.current.Store(cfg)
	w.reloads.Add(1)
	w.logger.Info("Reloaded plugin config", slog.Any("plugins", cfg.IDs()))
}
