// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/absmach/mc3p/pkg/plugin"
	"github.com/absmach/mc3p/pkg/protocol"
)

// Log logs every message with its decoded fields. Byte payloads such as
// chunk data are logged by size only.
//
// Its argument is the level to log at, "info" by default.
type Log struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLog creates a plugin logging every message at the level given in its arguments.
func NewLog(inj plugin.Injector) plugin.Plugin {
	return &Log{logger: inj.Logger()}
}

func (l *Log) Init(args string) error {
	args = strings.TrimSpace(args)
	if args == "" {
		l.level = slog.LevelInfo
		return nil
	}
	if err := l.level.UnmarshalText([]byte(args)); err != nil {
		return fmt.Errorf("%w: %w", plugin.ErrConfig, err)
	}
	return nil
}

func (l *Log) Destroy() error {
	return nil
}

func (l *Log) HandleMessage(ctx context.Context, msg *protocol.Message, dir protocol.Direction) (plugin.Verdict, error) {
	if !l.logger.Enabled(ctx, l.level) {
		return plugin.Forward, nil
	}
	name := msg.Name()
	if name == "" {
		name = "Unknown"
	}
	size := len(msg.Raw())
	if size == 0 {
		if b, err := msg.Bytes(); err == nil {
			size = len(b)
		}
	}
	l.logger.Log(ctx, l.level, flow(dir),
		slog.String("type", fmt.Sprintf("0x%02x", msg.Type)),
		slog.String("name", name),
		slog.Int("size", size),
		slog.Attr{Key: "fields", Value: fieldAttrs(msg)})
	return plugin.Forward, nil
}

func flow(dir protocol.Direction) string {
	if dir == protocol.Upstream {
		return "Client -> Server"
	}
	return "Server -> Client"
}

func fieldAttrs(msg *protocol.Message) slog.Value {
	def := msg.Def()
	if def == nil {
		return slog.GroupValue()
	}
	attrs := make([]slog.Attr, 0, len(def.Fields))
	for _, fd := range def.Fields {
		v, ok := msg.Get(fd.Name)
		if !ok {
			continue
		}
		if b, isBytes := v.([]byte); isBytes {
			attrs = append(attrs, slog.String(fd.Name, fmt.Sprintf("... (%d bytes)", len(b))))
			continue
		}
		attrs = append(attrs, slog.Any(fd.Name, v))
	}
	return slog.GroupValue(attrs...)
}
