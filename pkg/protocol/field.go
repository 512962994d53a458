// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf16"
)

var (
	// ErrMalformed indicates bytes that can not be decoded by a field.
	ErrMalformed = errors.New("malformed field")

	// ErrValueType indicates a value of the wrong Go type was handed to an emitter.
	ErrValueType = errors.New("invalid value type")

	// ErrValueRange indicates a value that does not fit the wire representation.
	ErrValueRange = errors.New("value out of range")
)

// Fields maps field names to decoded values.
type Fields map[string]any

// Field is a parser/emitter pair for one wire type.
//
// prior holds the fields already decoded for the enclosing message, which
// lets a field depend on an earlier count without touching the cursor.
type Field interface {
	Parse(c *Cursor, prior Fields) (any, error)
	Emit(dst []byte, v any, prior Fields) ([]byte, error)
}

// Primitive fields. Integers are big-endian two's complement.
var (
	Byte         Field = intField{size: 1}
	UnsignedByte Field = intField{size: 1, unsigned: true}
	Short        Field = intField{size: 2}
	Int          Field = intField{size: 4}
	Long         Field = intField{size: 8}
	Float        Field = floatField{size: 4}
	Double       Field = floatField{size: 8}
	Bool         Field = boolField{}

	// String16 is a short-prefixed string of UTF-16BE code units.
	String16 Field = stringField{wide: true}
	// String8 is a short-prefixed string of single-byte code units.
	String8 Field = stringField{}
)

type intField struct {
	size     int
	unsigned bool
}

func (f intField) Parse(c *Cursor, _ Fields) (any, error) {
	b, err := c.Read(f.size)
	if err != nil {
		return nil, err
	}
	switch f.size {
	case 1:
		if f.unsigned {
			return b[0], nil
		}
		return int8(b[0]), nil
	case 2:
		return int16(binary.BigEndian.Uint16(b)), nil
	case 4:
		return int32(binary.BigEndian.Uint32(b)), nil
	default:
		return int64(binary.BigEndian.Uint64(b)), nil
	}
}

func (f intField) Emit(dst []byte, v any, _ Fields) ([]byte, error) {
	n, ok := AsInt(v)
	if !ok {
		return dst, fmt.Errorf("%w: %T is not an integer", ErrValueType, v)
	}
	lo, hi := f.bounds()
	if n < lo || n > hi {
		return dst, fmt.Errorf("%w: %d does not fit %d bytes", ErrValueRange, n, f.size)
	}
	switch f.size {
	case 1:
		return append(dst, byte(n)), nil
	case 2:
		return binary.BigEndian.AppendUint16(dst, uint16(n)), nil
	case 4:
		return binary.BigEndian.AppendUint32(dst, uint32(n)), nil
	default:
		return binary.BigEndian.AppendUint64(dst, uint64(n)), nil
	}
}

func (f intField) bounds() (int64, int64) {
	if f.unsigned {
		return 0, math.MaxUint8
	}
	switch f.size {
	case 1:
		return math.MinInt8, math.MaxInt8
	case 2:
		return math.MinInt16, math.MaxInt16
	case 4:
		return math.MinInt32, math.MaxInt32
	default:
		return math.MinInt64, math.MaxInt64
	}
}

// AsInt converts any Go integer value to int64.
func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

type floatField struct {
	size int
}

func (f floatField) Parse(c *Cursor, _ Fields) (any, error) {
	b, err := c.Read(f.size)
	if err != nil {
		return nil, err
	}
	if f.size == 4 {
		return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

func (f floatField) Emit(dst []byte, v any, _ Fields) ([]byte, error) {
	var x float64
	switch n := v.(type) {
	case float32:
		if f.size == 4 {
			return binary.BigEndian.AppendUint32(dst, math.Float32bits(n)), nil
		}
		x = float64(n)
	case float64:
		x = n
	default:
		return dst, fmt.Errorf("%w: %T is not a float", ErrValueType, v)
	}
	if f.size == 4 {
		return binary.BigEndian.AppendUint32(dst, math.Float32bits(float32(x))), nil
	}
	return binary.BigEndian.AppendUint64(dst, math.Float64bits(x)), nil
}

type boolField struct{}

func (boolField) Parse(c *Cursor, _ Fields) (any, error) {
	b, err := c.Read(1)
	if err != nil {
		return nil, err
	}
	return b[0] != 0, nil
}

func (boolField) Emit(dst []byte, v any, _ Fields) ([]byte, error) {
	b, ok := v.(bool)
	if !ok {
		return dst, fmt.Errorf("%w: %T is not a bool", ErrValueType, v)
	}
	if b {
		return append(dst, 1), nil
	}
	return append(dst, 0), nil
}

type stringField struct {
	wide bool
}

func (f stringField) Parse(c *Cursor, _ Fields) (any, error) {
	b, err := c.Read(2)
	if err != nil {
		return nil, err
	}
	n := int(int16(binary.BigEndian.Uint16(b)))
	if n < 0 {
		return nil, fmt.Errorf("%w: string length %d", ErrMalformed, n)
	}
	if !f.wide {
		s, err := c.Read(n)
		if err != nil {
			return nil, err
		}
		return string(s), nil
	}
	s, err := c.Read(2 * n)
	if err != nil {
		return nil, err
	}
	units := make(UTF16, n)
	for i := range units {
		units[i] = binary.BigEndian.Uint16(s[2*i:])
	}
	if units.valid() {
		return units.String(), nil
	}
	return units, nil
}

func (f stringField) Emit(dst []byte, v any, _ Fields) ([]byte, error) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case UTF16:
		if !f.wide {
			return dst, fmt.Errorf("%w: UTF16 value for a narrow string", ErrValueType)
		}
		return appendUnits(dst, t)
	default:
		return dst, fmt.Errorf("%w: %T is not a string", ErrValueType, v)
	}
	if !f.wide {
		if len(s) > math.MaxInt16 {
			return dst, fmt.Errorf("%w: string of %d bytes", ErrValueRange, len(s))
		}
		dst = binary.BigEndian.AppendUint16(dst, uint16(len(s)))
		return append(dst, s...), nil
	}
	return appendUnits(dst, utf16.Encode([]rune(s)))
}

func appendUnits(dst []byte, units []uint16) ([]byte, error) {
	if len(units) > math.MaxInt16 {
		return dst, fmt.Errorf("%w: string of %d code units", ErrValueRange, len(units))
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(units)))
	for _, u := range units {
		dst = binary.BigEndian.AppendUint16(dst, u)
	}
	return dst, nil
}

// UTF16 holds String16 code units that contain unpaired surrogates. Such
// strings are kept as units so they emit unchanged; String decodes them
// with U+FFFD in place of each unpaired surrogate.
type UTF16 []uint16

func (u UTF16) String() string {
	return string(utf16.Decode(u))
}

// valid reports whether decoding and re-encoding u yields the same units.
func (u UTF16) valid() bool {
	for i := 0; i < len(u); i++ {
		switch {
		case u[i] < 0xd800 || u[i] >= 0xe000:
		case u[i] < 0xdc00 && i+1 < len(u) && u[i+1] >= 0xdc00 && u[i+1] < 0xe000:
			i++
		default:
			return false
		}
	}
	return true
}

// readShort, readInt and friends are shorthands used by compound fields.

func readInt8(c *Cursor) (int8, error) {
	b, err := c.Read(1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

func readInt16(c *Cursor) (int16, error) {
	b, err := c.Read(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func readInt32(c *Cursor) (int32, error) {
	b, err := c.Read(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func readBytes(c *Cursor, n int) ([]byte, error) {
	b, err := c.Read(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func appendInt16(dst []byte, v int16) []byte {
	return binary.BigEndian.AppendUint16(dst, uint16(v))
}

func appendInt32(dst []byte, v int32) []byte {
	return binary.BigEndian.AppendUint32(dst, uint32(v))
}
