// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package proxy wires the game proxy together: the TCP server, the session
// configuration with its plugins, and the optional circuit breaker, rate
// limiter and metrics.
//
// # Architecture
//
//	Application
//	     ↓
//	┌─────────────┐
//	│   Proxy     │  (Coordinator)
//	└─────────────┘
//	     ↓
//	┌─────────────┐
//	│ tcp.Server  │  (Transport)
//	└─────────────┘
//	     ↓
//	┌─────────────┐
//	│   Session   │  (Parser + plugin pipeline per connection)
//	└─────────────┘
//	     ↓
//	┌─────────────┐
//	│   Handler   │  (Connect, login and disconnect hooks)
//	└─────────────┘
//
// # Usage
//
//	pcfg, err := plugin.ParseSpecs("mute,dvr(-s * /tmp/cap)")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	p, err := proxy.New(proxy.Config{
//		Port:       "34343",
//		TargetHost: "localhost",
//		TargetPort: "25565",
//		Session:    session.Config{Plugins: plugin.Static{Config: pcfg}},
//	}, handler)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	if err := p.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// Pass a plugin.Watcher as Session.Plugins to pick up configuration file
// changes; running sessions keep the configuration they started with.
//
// # Circuit Breaker
//
// With Breaker set, dialing the game server goes through it and its state
// changes are logged and exported through Metrics.
package proxy
