// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	// ErrUnknownField is returned when a message is asked for a field its definition lacks.
	ErrUnknownField = errors.New("unknown field")

	// ErrMissingField is returned when encoding a message that lacks a defined field.
	ErrMissingField = errors.New("missing field")
)

// VersionField names the login field that gates version-dependent fields.
const VersionField = "proto_version"

// FieldDef is a named field of a message definition.
//
// Fields with a non-zero MinVersion or MaxVersion are only present on the
// wire when the message's VersionField value falls in [MinVersion, MaxVersion].
type FieldDef struct {
	Name       string
	Field      Field
	MinVersion int32
	MaxVersion int32
}

func (fd FieldDef) present(prior Fields) bool {
	if fd.MinVersion == 0 && fd.MaxVersion == 0 {
		return true
	}
	v, ok := AsInt(prior[VersionField])
	if !ok {
		return false
	}
	if v < int64(fd.MinVersion) {
		return false
	}
	return fd.MaxVersion == 0 || v <= int64(fd.MaxVersion)
}

// MessageDef describes the wire layout of one message type.
type MessageDef struct {
	Type   byte
	Name   string
	Fields []FieldDef
}

// F is shorthand for an ungated FieldDef.
func F(name string, f Field) FieldDef {
	return FieldDef{Name: name, Field: f}
}

// Def builds a message definition.
func Def(typ byte, name string, fields ...FieldDef) *MessageDef {
	return &MessageDef{Type: typ, Name: name, Fields: fields}
}

// LoginDef builds a 0x01 login definition whose first field is the
// protocol version and whose remaining fields may be gated on it.
func LoginDef(name string, fields ...FieldDef) *MessageDef {
	all := append([]FieldDef{F(VersionField, Int)}, fields...)
	return &MessageDef{Type: 0x01, Name: name, Fields: all}
}

// MalformedFieldError reports a field that could not be decoded.
type MalformedFieldError struct {
	Type    byte
	Message string
	Field   string
	Err     error
}

func (e *MalformedFieldError) Error() string {
	return fmt.Sprintf("message 0x%02x %q field %q: %v", e.Type, e.Message, e.Field, e.Err)
}

func (e *MalformedFieldError) Unwrap() error {
	return e.Err
}

// Parse decodes the fields following the type byte.
// ErrNeedMoreData is returned unwrapped; every other failure is a *MalformedFieldError.
func (d *MessageDef) Parse(c *Cursor) (Fields, error) {
	fields := make(Fields, len(d.Fields))
	for _, fd := range d.Fields {
		if !fd.present(fields) {
			continue
		}
		v, err := fd.Field.Parse(c, fields)
		if err != nil {
			if errors.Is(err, ErrNeedMoreData) {
				return nil, err
			}
			return nil, &MalformedFieldError{Type: d.Type, Message: d.Name, Field: fd.Name, Err: err}
		}
		fields[fd.Name] = v
	}
	return fields, nil
}

// Encode emits the type byte followed by every present field.
func (d *MessageDef) Encode(fields Fields) ([]byte, error) {
	dst := []byte{d.Type}
	for _, fd := range d.Fields {
		if !fd.present(fields) {
			continue
		}
		v, ok := fields[fd.Name]
		if !ok {
			return nil, fmt.Errorf("encode 0x%02x %q: %w %q", d.Type, d.Name, ErrMissingField, fd.Name)
		}
		var err error
		if dst, err = fd.Field.Emit(dst, v, fields); err != nil {
			return nil, fmt.Errorf("encode 0x%02x %q field %q: %w", d.Type, d.Name, fd.Name, err)
		}
	}
	return dst, nil
}

// Has reports whether the definition declares the named field.
func (d *MessageDef) Has(name string) bool {
	for _, fd := range d.Fields {
		if fd.Name == name {
			return true
		}
	}
	return false
}

// Message is a decoded message.
//
// Messages read off the wire keep their exact bytes; they are forwarded
// verbatim unless their fields no longer encode to them.
type Message struct {
	Type byte
	Dir  Direction

	def      *MessageDef
	fields   Fields
	raw      []byte
	modified bool
}

// NewMessage creates a message for injection. It is encoded against the
// destination table when injected.
func NewMessage(typ byte, fields Fields) *Message {
	if fields == nil {
		fields = Fields{}
	}
	return &Message{Type: typ, fields: fields, modified: true}
}

// NewParsedMessage wraps fields decoded by def along with the bytes they came from.
func NewParsedMessage(def *MessageDef, dir Direction, fields Fields, raw []byte) *Message {
	return &Message{
		Type:   def.Type,
		Dir:    dir,
		def:    def,
		fields: fields,
		raw:    raw,
	}
}

// Clone returns a copy that shares no state with m. Decoded messages are
// decoded again from their bytes so compound values are not aliased.
func (m *Message) Clone() *Message {
	out := *m
	if m.raw != nil {
		out.raw = append([]byte(nil), m.raw...)
	}
	if m.def != nil && m.raw != nil && !m.modified {
		c := NewCursor()
		c.Append(out.raw)
		if _, err := c.Read(1); err == nil {
			if fields, err := m.def.Parse(c); err == nil {
				out.fields = fields
				return &out
			}
		}
	}
	out.fields = m.Fields()
	return &out
}

// Name returns the definition name, or an empty string for unbound messages.
func (m *Message) Name() string {
	if m.def == nil {
		return ""
	}
	return m.def.Name
}

// Def returns the definition the message was decoded with.
func (m *Message) Def() *MessageDef {
	return m.def
}

// Get returns the named field value.
func (m *Message) Get(name string) (any, bool) {
	v, ok := m.fields[name]
	return v, ok
}

// String returns the named field as a string, or "" if absent or of another type.
func (m *Message) String(name string) string {
	switch s := m.fields[name].(type) {
	case string:
		return s
	case UTF16:
		return s.String()
	}
	return ""
}

// Int returns the named field as an int64 if it holds an integer.
func (m *Message) Int(name string) (int64, bool) {
	return AsInt(m.fields[name])
}

// Set changes a field value and marks the message modified if the value differs.
func (m *Message) Set(name string, v any) error {
	if m.def != nil && !m.def.Has(name) {
		return fmt.Errorf("message 0x%02x %q: %w %q", m.Type, m.def.Name, ErrUnknownField, name)
	}
	if old, ok := m.fields[name]; ok && reflect.DeepEqual(old, v) {
		return nil
	}
	m.fields[name] = v
	m.modified = true
	return nil
}

// Fields returns a shallow copy of the field values.
func (m *Message) Fields() Fields {
	out := make(Fields, len(m.fields))
	for k, v := range m.fields {
		out[k] = v
	}
	return out
}

// Raw returns the bytes the message was decoded from.
func (m *Message) Raw() []byte {
	return m.raw
}

// Modified reports whether a field was changed since decoding. Edits made
// in place are only noticed once Bytes has run.
func (m *Message) Modified() bool {
	return m.modified
}

// Encode re-serializes the message through its definition.
func (m *Message) Encode() ([]byte, error) {
	if m.def == nil {
		return nil, fmt.Errorf("message 0x%02x: %w", m.Type, ErrUndefined)
	}
	return m.def.Encode(m.fields)
}

// Bytes returns the bytes to forward. The message is always re-encoded, so
// values edited in place after Get are picked up even without Set; the
// original bytes are returned when the encoding matches them. A decoded
// message that was never Set and does not re-encode is forwarded as read.
func (m *Message) Bytes() ([]byte, error) {
	if m.raw == nil {
		return m.Encode()
	}
	b, err := m.Encode()
	switch {
	case err != nil && m.modified:
		return nil, err
	case err != nil:
		return m.raw, nil
	case bytes.Equal(b, m.raw):
		return m.raw, nil
	}
	m.modified = true
	return b, nil
}

func (m *Message) GoString() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "0x%02x %s {", m.Type, m.Name())
	if m.def != nil {
		sep := ""
		for _, fd := range m.def.Fields {
			v, ok := m.fields[fd.Name]
			if !ok {
				continue
			}
			sb.WriteString(sep)
			sep = ", "
			fmt.Fprintf(&sb, "%s: %v", fd.Name, v)
		}
	}
	sb.WriteString("}")
	return sb.String()
}
