// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"crypto/x509"
)

// Context contains session metadata gathered while the session runs.
// It is passed to Handler methods.
type Context struct {
	// SessionID is a unique identifier for this session
	SessionID string

	// RemoteAddr is the client's network address
	RemoteAddr string

	// Protocol is always "mc"
	Protocol string

	// Username from the client's login message, empty before login
	Username string

	// ProtocolVersion announced by the client, 0 before login
	ProtocolVersion int32

	// Cert is the client's TLS certificate (if using mTLS)
	Cert *x509.Certificate
}

// Handler defines admission and notification callbacks for session events.
//
// Admission methods (AuthConnect, AuthLogin) run before traffic continues
// and close the session when they return an error. OnDisconnect is a
// notification; its error is only logged.
type Handler interface {
	// AuthConnect admits a client connection before the game server is dialed.
	AuthConnect(ctx context.Context, hctx *Context) error

	// AuthLogin admits a client once its login message was parsed.
	// Username and ProtocolVersion are set on hctx.
	AuthLogin(ctx context.Context, hctx *Context) error

	// OnDisconnect is called once when the session ends.
	OnDisconnect(ctx context.Context, hctx *Context) error
}

// NoopHandler is a Handler implementation that allows everything.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (h *NoopHandler) AuthConnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) AuthLogin(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) OnDisconnect(ctx context.Context, hctx *Context) error {
	return nil
}
