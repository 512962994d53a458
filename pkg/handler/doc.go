// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler provides session lifecycle hooks.
//
// Plugins see individual messages; a Handler sees sessions. The tcp server
// calls AuthConnect when a client is accepted, the session calls AuthLogin
// once the client's login message names a user and a protocol version, and
// OnDisconnect runs when the session ends.
//
//	Client → AuthConnect → dial server → login → AuthLogin → ... → OnDisconnect
//
// # Example
//
//	type Whitelist struct {
//		names map[string]bool
//	}
//
//	func (w *Whitelist) AuthLogin(ctx context.Context, hctx *handler.Context) error {
//		if !w.names[hctx.Username] {
//			return errors.ErrUnauthorized
//		}
//		return nil
//	}
package handler
