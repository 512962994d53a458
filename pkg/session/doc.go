// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package session relays one client connection to the game server while
// decoding every message in both directions.
//
// A Session owns two relays. The client relay reads messages flowing
// upstream and writes them to the server; the server relay does the
// reverse. Both start on the version 0 table, which only knows the login
// and handshake messages. When the client's login names a protocol version
// the shared table is swapped and both relays decode with it from the next
// message on. An unknown version closes the session.
//
// Each decoded message runs through the session's plugin pipeline and is
// forwarded with its original bytes unless a plugin changed it. Injected
// messages are written between whole messages, never inside one.
//
// # Desync
//
// A message type missing from the table or a field that can not be decoded
// means the relay no longer knows where messages start. The relay then
// forwards what it has buffered and everything it reads afterwards
// verbatim. The other direction keeps decoding. With CloseOnDesync the
// session is closed instead.
//
//	Handshake → Active → Desynced
//	    ↘          ↘         ↘
//	              Closed
package session
