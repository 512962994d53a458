// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"context"
	"errors"
	"log/slog"

	"github.com/absmach/mc3p/pkg/protocol"
)

var (
	// ErrConfig is returned for invalid plugin configuration.
	ErrConfig = errors.New("invalid plugin configuration")

	// ErrLoad is returned when a plugin instance can not be created.
	ErrLoad = errors.New("failed to load plugin")

	// ErrUnknownPlugin is returned when no factory is registered under a name.
	ErrUnknownPlugin = errors.New("unknown plugin")

	// ErrOutboxClosed is returned when injecting after the session ended.
	ErrOutboxClosed = errors.New("outbox closed")
)

// Verdict tells the session what to do with a message.
type Verdict int

const (
	// Forward passes the message on, re-encoded if a plugin modified it.
	Forward Verdict = iota
	// Drop discards the message.
	Drop
)

func (v Verdict) String() string {
	if v == Drop {
		return "drop"
	}
	return "forward"
}

// HandlerFunc handles messages of the types it is bound to.
type HandlerFunc func(ctx context.Context, msg *protocol.Message, dir protocol.Direction) (Verdict, error)

type replayKey struct{}

// WithReplay marks ctx as carrying a handshake message replayed to newly
// loaded plugins. Such messages were already forwarded, so verdicts and
// edits made to them have no effect on the wire.
func WithReplay(ctx context.Context) context.Context {
	return context.WithValue(ctx, replayKey{}, true)
}

// IsReplay reports whether ctx was passed to a handler for a replayed message.
func IsReplay(ctx context.Context) bool {
	r, _ := ctx.Value(replayKey{}).(bool)
	return r
}

// Binding binds a handler to a set of message types.
type Binding struct {
	Types  []byte
	Handle HandlerFunc
}

// Plugin is a per-session plugin instance.
//
// An instance is created by its Factory once the protocol version is known
// and receives messages through the optional DefaultHandler and Binder
// interfaces.
type Plugin interface {
	// Init configures the instance with the argument string from the configuration.
	Init(args string) error

	// Destroy releases resources when the session ends.
	Destroy() error
}

// DefaultHandler is implemented by plugins that want to see every message.
// It runs before any type-specific binding.
type DefaultHandler interface {
	HandleMessage(ctx context.Context, msg *protocol.Message, dir protocol.Direction) (Verdict, error)
}

// Binder is implemented by plugins with type-specific handlers.
type Binder interface {
	Bindings() []Binding
}

// Injector lets a plugin send messages that did not come off the wire.
// Injected bytes are written at the next message boundary of the relay
// writing to the destination.
type Injector interface {
	// ToClient encodes msg as a server-to-client message and queues it for the client.
	ToClient(msg *protocol.Message) error
	// ToServer encodes msg as a client-to-server message and queues it for the server.
	ToServer(msg *protocol.Message) error
	// InjectRaw queues already encoded bytes flowing in direction dir.
	InjectRaw(dir protocol.Direction, b []byte) error
	// Version returns the negotiated protocol version.
	Version() int32
	// Logger returns the session logger.
	Logger() *slog.Logger
}

// Factory creates a plugin instance bound to a session's injector.
type Factory func(inj Injector) Plugin
