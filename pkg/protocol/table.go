// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"fmt"
)

// ErrUndefined is returned when a message type has no definition.
var ErrUndefined = errors.New("undefined message type")

// Table maps message types to definitions for one protocol version,
// separately for each direction.
//
// Tables are built once and must not be mutated after they are published.
type Table struct {
	Version int32
	// String is the string field used by this version's definitions.
	String Field

	defs [2][256]*MessageDef
}

// NewTable creates an empty table.
func NewTable(version int32, str Field) *Table {
	return &Table{Version: version, String: str}
}

// Clone copies both directions into a new table for version.
// Definitions added to the clone never appear in t.
func (t *Table) Clone(version int32) *Table {
	c := *t
	c.Version = version
	return &c
}

// Define sets the definition for def.Type in the given direction.
func (t *Table) Define(dir Direction, def *MessageDef) *Table {
	t.defs[dir][def.Type] = def
	return t
}

// DefineBoth sets the definition in both directions.
func (t *Table) DefineBoth(def *MessageDef) *Table {
	return t.Define(Upstream, def).Define(Downstream, def)
}

// Lookup returns the definition of typ in the given direction, or nil.
func (t *Table) Lookup(dir Direction, typ byte) *MessageDef {
	return t.defs[dir][typ]
}

// Known reports whether typ is defined in either direction.
func (t *Table) Known(typ byte) bool {
	return t.defs[Upstream][typ] != nil || t.defs[Downstream][typ] != nil
}

// Types returns the defined types in the given direction in ascending order.
func (t *Table) Types(dir Direction) []byte {
	var out []byte
	for i, d := range t.defs[dir] {
		if d != nil {
			out = append(out, byte(i))
		}
	}
	return out
}

// Encode encodes msg with the definition of its type in the given direction.
// The message is bound to that definition on success.
func (t *Table) Encode(dir Direction, msg *Message) ([]byte, error) {
	def := t.Lookup(dir, msg.Type)
	if def == nil {
		return nil, fmt.Errorf("version %d %s 0x%02x: %w", t.Version, dir, msg.Type, ErrUndefined)
	}
	b, err := def.Encode(msg.fields)
	if err != nil {
		return nil, err
	}
	msg.def = def
	msg.Dir = dir
	return b, nil
}
