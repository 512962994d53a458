// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package plugins

import (
	"context"
	"sort"
	"strings"

	"github.com/absmach/mc3p/pkg/plugin"
	"github.com/absmach/mc3p/pkg/protocol"
)

// Mute lets the client hide chat from other players.
//
// The client controls it with chat commands, which never reach the server:
//
//	/mute NAME      hide messages from NAME
//	/unmute NAME    show messages from NAME again
//	/muted          list muted players
type Mute struct {
	inj   plugin.Injector
	muted map[string]bool
}

// NewMute creates a plugin that hides chat from players muted with /mute.
func NewMute(inj plugin.Injector) plugin.Plugin {
	return &Mute{inj: inj}
}

func (m *Mute) Init(string) error {
	m.muted = make(map[string]bool)
	return nil
}

func (m *Mute) Destroy() error {
	return nil
}

func (m *Mute) Bindings() []plugin.Binding {
	return []plugin.Binding{{Types: []byte{protocol.TypeChat}, Handle: m.chat}}
}

func (m *Mute) chat(_ context.Context, msg *protocol.Message, dir protocol.Direction) (plugin.Verdict, error) {
	text := msg.String(chatField)
	if dir == protocol.Downstream {
		for name := range m.muted {
			if strings.HasPrefix(text, "<"+name+">") {
				return plugin.Drop, nil
			}
		}
		return plugin.Forward, nil
	}

	var reply string
	switch {
	case strings.HasPrefix(text, "/mute "):
		name := strings.TrimPrefix(text, "/mute ")
		m.muted[name] = true
		reply = "Muted " + name
	case strings.HasPrefix(text, "/unmute "):
		name := strings.TrimPrefix(text, "/unmute ")
		if !m.muted[name] {
			reply = name + " is not muted"
			break
		}
		delete(m.muted, name)
		reply = "Unmuted " + name
	case text == "/muted":
		reply = "Currently muted: " + strings.Join(m.names(), ", ")
	default:
		return plugin.Forward, nil
	}
	return plugin.Drop, m.inj.ToClient(chatMessage(reply))
}

func (m *Mute) names() []string {
	names := make([]string, 0, len(m.muted))
	for n := range m.muted {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
