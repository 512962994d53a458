// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package plugins holds the plugins shipped with mc3p.
package plugins

import (
	"github.com/absmach/mc3p/pkg/plugin"
	"github.com/absmach/mc3p/pkg/plugin/external"
	"github.com/absmach/mc3p/pkg/protocol"
)

const chatField = "chat_msg"

var builtin = map[string]plugin.Factory{
	"mute":     NewMute,
	"chatty":   NewChatty,
	"log":      NewLog,
	"dvr":      NewDVR,
	"tap":      NewTap,
	"external": external.New,
}

// Registry returns a registry holding every builtin plugin.
func Registry() *plugin.Registry {
	r := plugin.NewRegistry()
	for name, f := range builtin {
		mustRegister(r, name, f)
	}
	return r
}

func mustRegister(r *plugin.Registry, name string, f plugin.Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

func chatMessage(text string) *protocol.Message {
	return protocol.NewMessage(protocol.TypeChat, protocol.Fields{chatField: text})
}
