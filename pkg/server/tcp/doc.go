// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the session entry point of mc3p.
//
// # Overview
//
// The server accepts game clients, dials the game server for each of them
// and runs a session.Session between the two connections until either side
// closes.
//
//	┌─────────┐         ┌─────────┐         ┌─────────────┐
//	│ Client  │ ←─TCP─→ │  mc3p   │ ←─TCP─→ │ Game server │
//	└─────────┘         └─────────┘         └─────────────┘
//	                         ↓
//	                    ┌─────────┐
//	                    │ Session │ → plugin pipeline
//	                    └─────────┘
//
// # Connection Flow
//
//  1. Client connects to server
//  2. Per-IP rate limit (optional Limiter)
//  3. TLS handshake and client certificate (optional TLSConfig)
//  4. handler.AuthConnect
//  5. Dial the game server through the circuit breaker (optional Breaker)
//  6. Run the session; it calls handler.AuthLogin once the client logs in
//  7. handler.OnDisconnect
//
// # Graceful Shutdown
//
// When the context is cancelled:
//
//  1. Server stops accepting new connections
//  2. Server waits for running sessions (with timeout)
//  3. After ShutdownTimeout, forcefully closes remaining sessions
//  4. Returns ErrShutdownTimeout if timeout exceeded
//
// # Error Handling
//
// Errors are wrapped in errors.ProxyError with the session id and client
// address, counted by cause and logged. A failed session never stops the
// server.
//
// # Example
//
//	cfg := tcp.Config{
//		Address:         ":34343",
//		TargetAddress:   "localhost:25565",
//		ShutdownTimeout: 30 * time.Second,
//		Session: session.Config{
//			Registry: plugins.Registry(),
//			Plugins:  plugin.Static{Config: pcfg},
//		},
//	}
//
//	server := tcp.New(cfg, &handler.NoopHandler{})
//	if err := server.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
package tcp
