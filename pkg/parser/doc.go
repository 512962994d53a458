// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package parser frames and decodes messages from a streaming byte cursor.
//
// # Streaming Model
//
// Relays append every chunk read from a socket to a protocol.Cursor and call
// ParsePacket until it returns an error:
//
//	for {
//		msg, err := parser.ParsePacket(cursor, table, dir)
//		if errors.Is(err, parser.ErrNeedMoreData) {
//			break // wait for the next read
//		}
//		if err != nil {
//			// the stream can no longer be framed
//		}
//		forward(msg)
//	}
//
// A message is only committed once all of its fields decoded, so a message
// split across reads is decoded again from its first byte when the rest
// arrives.
//
// # Errors
//
//   - ErrNeedMoreData: not an error, the message is incomplete.
//   - ErrUnsupportedType (*UnsupportedTypeError): the type byte is unknown
//     to the active table.
//   - ErrMalformedField (*MalformedFieldError): a field failed to decode.
//
// Both failures leave the unparsed bytes in the cursor, so the caller can
// drain them and pass the rest of the stream through untouched.
package parser
