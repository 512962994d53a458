// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package plugins

import (
	"context"
	"log/slog"

	"github.com/absmach/mc3p/pkg/plugin"
	"github.com/absmach/mc3p/pkg/protocol"
)

// Chatty moves server chat from the client to the proxy log.
type Chatty struct {
	logger *slog.Logger
}

// NewChatty creates a plugin that logs server chat and hides it from the player.
func NewChatty(inj plugin.Injector) plugin.Plugin {
	return &Chatty{logger: inj.Logger()}
}

func (c *Chatty) Init(args string) error {
	c.logger.Info("chatty plugin initialized", slog.String("args", args))
	return nil
}

func (c *Chatty) Destroy() error {
	return nil
}

func (c *Chatty) Bindings() []plugin.Binding {
	return []plugin.Binding{{Types: []byte{protocol.TypeChat}, Handle: c.chat}}
}

func (c *Chatty) chat(ctx context.Context, msg *protocol.Message, dir protocol.Direction) (plugin.Verdict, error) {
	if dir == protocol.Upstream {
		return plugin.Forward, nil
	}
	c.logger.InfoContext(ctx, "chat", slog.String("text", msg.String(chatField)))
	return plugin.Drop, nil
}
