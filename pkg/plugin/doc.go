// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package plugin runs decoded messages through per-session plugin instances.
//
// # Plugins
//
// A plugin is created by a Factory registered under a name in a Registry.
// The factory receives an Injector, through which the instance can send
// its own messages to either endpoint. Instances see messages through two
// optional interfaces:
//
//   - DefaultHandler: called for every message, before any binding.
//   - Binder: handlers bound to specific message types.
//
// A handler returns Forward or Drop. The first Drop ends the pipeline for
// that message. Handler errors and panics are logged and treated as Forward,
// so a faulty plugin can not stall a session.
//
// # Configuration
//
// Config names the instances of a session and, optionally, the order in
// which they see each message type. Instances are described as
//
//	ID:NAME(ARGS)
//
// where ID defaults to NAME (then NAME1, NAME2, ...) and ARGS is passed to
// Init verbatim. A configuration file holds one description per line and
// ordering lines such as
//
//	order 0x03 mute,chatty
//
// A Watcher reloads the file when it changes; running sessions keep their
// configuration.
//
// # Handshake
//
// Plugins are instantiated when the server answers the login request, since
// only then is the protocol version known. Earlier messages are forwarded
// untouched, then replayed to the fresh instances with verdicts ignored.
package plugin
