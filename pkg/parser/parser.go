// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package parser

import (
	"errors"
	"fmt"

	"github.com/absmach/mc3p/pkg/protocol"
)

var (
	// ErrNeedMoreData is returned when the cursor does not yet hold a whole message.
	// The cursor is left rewound; append more bytes and parse again.
	ErrNeedMoreData = protocol.ErrNeedMoreData

	// ErrUnsupportedType is returned when the type byte has no definition in the active table.
	ErrUnsupportedType = errors.New("unsupported message type")

	// ErrMalformedField is returned when a field can not be decoded.
	ErrMalformedField = errors.New("malformed field")
)

// UnsupportedTypeError reports a type byte missing from the active table.
type UnsupportedTypeError struct {
	Type    byte
	Dir     protocol.Direction
	Version int32
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("%s: 0x%02x from %s in version %d", ErrUnsupportedType, e.Type, e.Dir.Source(), e.Version)
}

func (e *UnsupportedTypeError) Unwrap() error {
	return ErrUnsupportedType
}

// MalformedFieldError reports the message and field that failed to decode.
type MalformedFieldError struct {
	Type    byte
	Message string
	Field   string
	Err     error
}

func (e *MalformedFieldError) Error() string {
	return fmt.Sprintf("%s: 0x%02x %q field %q: %v", ErrMalformedField, e.Type, e.Message, e.Field, e.Err)
}

func (e *MalformedFieldError) Unwrap() []error {
	return []error{ErrMalformedField, e.Err}
}

// ParsePacket decodes one message from c using the definitions of table in
// direction dir. On success the message's bytes are committed and kept as
// its raw bytes.
//
// ErrNeedMoreData leaves the cursor rewound to the start of the message.
// Any other error means the stream can no longer be framed.
func ParsePacket(c *protocol.Cursor, table *protocol.Table, dir protocol.Direction) (*protocol.Message, error) {
	b, err := c.Read(1)
	if err != nil {
		return nil, err
	}
	typ := b[0]

	def := table.Lookup(dir, typ)
	if def == nil {
		c.Rewind()
		return nil, &UnsupportedTypeError{Type: typ, Dir: dir, Version: table.Version}
	}

	fields, err := def.Parse(c)
	if err != nil {
		if errors.Is(err, protocol.ErrNeedMoreData) {
			return nil, err
		}
		c.Rewind()
		var mf *protocol.MalformedFieldError
		if errors.As(err, &mf) {
			return nil, &MalformedFieldError{Type: mf.Type, Message: mf.Message, Field: mf.Field, Err: mf.Err}
		}
		return nil, &MalformedFieldError{Type: typ, Message: def.Name, Err: err}
	}

	return protocol.NewParsedMessage(def, dir, fields, c.Commit()), nil
}
