// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package protocol implements the versioned message codec of the Beta game protocol.
//
// # Wire Format
//
// Every message is a single type byte followed by its fields, with no
// length prefix. The only way to find the end of a message is to decode
// every field, so the codec is driven by per-version message tables:
//
//	0x03 | 00 05 | 00 68 00 65 00 6c 00 6c 00 6f
//	type | len   | UTF-16BE "hello"
//
// Integers and floats are big-endian. Strings carry a 16-bit count of code
// units; String16 uses UTF-16BE units and String8 single bytes.
//
// # Streaming
//
// Bytes are appended to a Cursor as they arrive. Fields read from it and
// a short read returns ErrNeedMoreData after rewinding the cursor to the
// start of the current message, so decoding restarts from scratch once
// more data is available. Successful messages are removed with Commit,
// which also yields the exact bytes for verbatim forwarding.
//
// # Tables
//
// A Table holds one MessageDef per type and direction. Version 0 knows only
// the version-independent messages (login, handshake, ping, disconnect);
// later versions are clones of their predecessor with changed entries
// overridden:
//
//	t := v17.Clone(19)
//	t.Define(protocol.Downstream, protocol.Def(0x68, "Window items",
//		protocol.F("window_id", protocol.Byte),
//		protocol.F("inventory", protocol.Inventory2Data)))
//
// Tables are built once at init and shared read-only by every session.
//
// # Messages
//
// A decoded Message keeps its raw bytes. Set marks it modified when the
// value changes, and Bytes re-encodes only modified messages.
package protocol
