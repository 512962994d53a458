// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package external runs plugins as separate processes.
//
// mc3p starts the binary named in the plugin arguments through
// hashicorp/go-plugin and talks net/rpc to it. The binary sees each message
// as raw bytes and answers with a Response: drop it, replace it or inject
// further messages. A plugin binary is a main package calling Serve:
//
//	type blocker struct{}
//
//	func (blocker) Init(req external.InitRequest) (external.InitResponse, error) {
//		return external.InitResponse{Types: []byte{0x03}}, nil
//	}
//
//	func (blocker) Filter(req external.Request) (external.Response, error) {
//		return external.Response{Drop: true}, nil
//	}
//
//	func (blocker) Close() error { return nil }
//
//	func main() { external.Serve(blocker{}) }
//
// Every session starts its own process, which is killed when the session ends.
package external
