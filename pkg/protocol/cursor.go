// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrNeedMoreData is returned when the buffered bytes do not yet hold a
	// complete value. It is expected during streaming and is not a failure.
	ErrNeedMoreData = errors.New("need more data")

	// ErrNegativeLength is returned when a read of a negative length is requested.
	ErrNegativeLength = errors.New("negative length")
)

// Cursor is an append-only byte buffer with a read offset.
//
// Reads either succeed completely or fail with ErrNeedMoreData, in which
// case the offset is rewound to zero and the buffer is left untouched so
// the caller can restart the message once more bytes arrive. Commit drops
// the bytes consumed by a successfully parsed message.
type Cursor struct {
	buf []byte
	i   int

	// TotalConsumed counts bytes returned by Commit over the cursor's lifetime.
	TotalConsumed int
	// WastedRereads counts bytes read before a rewind caused by ErrNeedMoreData.
	WastedRereads int
}

// NewCursor creates an empty cursor.
func NewCursor() *Cursor {
	return &Cursor{}
}

// Append adds bytes to the end of the buffer.
func (c *Cursor) Append(p []byte) {
	c.buf = append(c.buf, p...)
}

// Read returns the next n bytes and advances the offset.
// The returned slice aliases the buffer and is only valid until the next Commit.
func (c *Cursor) Read(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("read %d bytes: %w", n, ErrNegativeLength)
	}
	if c.i+n > len(c.buf) {
		c.WastedRereads += c.i
		c.i = 0
		return nil, ErrNeedMoreData
	}
	b := c.buf[c.i : c.i+n : c.i+n]
	c.i += n
	return b, nil
}

// Commit removes the bytes consumed since the last commit and returns them.
func (c *Cursor) Commit() []byte {
	if c.i == 0 {
		return nil
	}
	data := make([]byte, c.i)
	copy(data, c.buf[:c.i])
	c.buf = c.buf[c.i:]
	if len(c.buf) == 0 {
		c.buf = nil
	}
	c.TotalConsumed += c.i
	c.i = 0
	return data
}

// Rewind moves the offset back to the start of the buffer without consuming anything.
func (c *Cursor) Rewind() {
	c.i = 0
}

// Drain returns every buffered byte, including any partially read message,
// and empties the buffer.
func (c *Cursor) Drain() []byte {
	data := c.buf
	c.TotalConsumed += len(data)
	c.buf = nil
	c.i = 0
	return data
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.i
}

// Len returns the number of buffered bytes, read or not.
func (c *Cursor) Len() int {
	return len(c.buf)
}
