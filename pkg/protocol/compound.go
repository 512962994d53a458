// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// metadataEnd terminates a metadata list.
const metadataEnd = 127

// MetadataEntry is one tagged value of an entity metadata list.
// Key is the full tag byte; its top three bits select the value type.
type MetadataEntry struct {
	Key   byte
	Value any
}

// Selector returns the value type selector encoded in the tag.
func (e MetadataEntry) Selector() byte {
	return e.Key >> 5
}

// Metadata is a list of tagged entity metadata values.
type Metadata []MetadataEntry

// MetadataItem is the (short, byte, short) metadata value.
type MetadataItem struct {
	ID     int16
	Count  int8
	Damage int16
}

// Slot is a non-empty inventory slot.
// ExtraSize and Extra are only present on the wire for ExtraDataItems
// when decoded by Slot2.
type Slot struct {
	ItemID    int16
	Count     int8
	Uses      int16
	ExtraSize int16
	Extra     []byte
}

// Inventory is a counted list of optional slots; nil entries are empty slots.
type Inventory []*Slot

// Chunk2 is the chunk payload variant carrying an unused int after the length.
type Chunk2 struct {
	Unused int32
	Data   []byte
}

// MultiBlockChange holds the parallel arrays of a multi-block change.
type MultiBlockChange struct {
	Coords   []int16
	Types    []int8
	Metadata []int8
}

// ExplosionRecord is one affected block offset.
type ExplosionRecord struct {
	X, Y, Z int8
}

// FireballData trails an object spawn; the speeds are only present for a positive thrower.
type FireballData struct {
	ThrowerID int32
	SpeedX    int16
	SpeedY    int16
	SpeedZ    int16
}

// ExtraDataItems lists item ids whose slots carry a trailing data blob.
var ExtraDataItems = map[int16]bool{
	0x15A: true, // fishing rod
	0x167: true, // shears

	// sword, shovel, pickaxe, axe, hoe
	0x10C: true, 0x10D: true, 0x10E: true, 0x10F: true, 0x122: true, // wood
	0x110: true, 0x111: true, 0x112: true, 0x113: true, 0x123: true, // stone
	0x10B: true, 0x100: true, 0x101: true, 0x102: true, 0x124: true, // iron
	0x114: true, 0x115: true, 0x116: true, 0x117: true, 0x125: true, // diamond
	0x11B: true, 0x11C: true, 0x11D: true, 0x11E: true, 0x126: true, // gold

	// helmet, chestplate, leggings, boots
	0x12A: true, 0x12B: true, 0x12C: true, 0x12D: true, // leather
	0x12E: true, 0x12F: true, 0x130: true, 0x131: true, // chain
	0x132: true, 0x133: true, 0x134: true, 0x135: true, // iron
	0x136: true, 0x137: true, 0x138: true, 0x139: true, // diamond
	0x13A: true, 0x13B: true, 0x13C: true, 0x14D: true, // gold
}

// Compound fields.
var (
	MetadataList           Field = metadataField{}
	SlotData               Field = slotField{}
	Slot2Data              Field = slotField{extra: true}
	InventoryData          Field = inventoryField{slot: slotField{}}
	Inventory2Data         Field = inventoryField{slot: slotField{extra: true}}
	Chunk                  Field = chunkField{}
	Chunk2Data             Field = chunk2Field{}
	MultiBlockChangeData   Field = multiBlockChangeField{}
	MultiBlockChangePacked Field = packedBlockChangeField{}
	ExplosionRecordData    Field = explosionRecordField{}
	ItemData               Field = itemDataField{}
	Fireball               Field = fireballField{}
)

type metadataField struct{}

func (metadataField) Parse(c *Cursor, _ Fields) (any, error) {
	md := Metadata{}
	for {
		b, err := c.Read(1)
		if err != nil {
			return nil, err
		}
		key := b[0]
		if key == metadataEnd {
			return md, nil
		}
		var v any
		switch key >> 5 {
		case 0:
			v, err = readInt8(c)
		case 1:
			v, err = readInt16(c)
		case 2:
			v, err = readInt32(c)
		case 3:
			v, err = Float.Parse(c, nil)
		case 4:
			v, err = String16.Parse(c, nil)
		case 5:
			var item MetadataItem
			if item.ID, err = readInt16(c); err != nil {
				return nil, err
			}
			if item.Count, err = readInt8(c); err != nil {
				return nil, err
			}
			item.Damage, err = readInt16(c)
			v = item
		default:
			return nil, fmt.Errorf("%w: unknown metadata type %d", ErrMalformed, key>>5)
		}
		if err != nil {
			return nil, err
		}
		md = append(md, MetadataEntry{Key: key, Value: v})
	}
}

func (metadataField) Emit(dst []byte, v any, _ Fields) ([]byte, error) {
	md, ok := v.(Metadata)
	if !ok {
		return dst, fmt.Errorf("%w: %T is not Metadata", ErrValueType, v)
	}
	var err error
	for _, e := range md {
		if e.Key == metadataEnd {
			return dst, fmt.Errorf("%w: metadata key %d is the terminator", ErrValueRange, e.Key)
		}
		dst = append(dst, e.Key)
		switch e.Selector() {
		case 0:
			dst, err = Byte.Emit(dst, e.Value, nil)
		case 1:
			dst, err = Short.Emit(dst, e.Value, nil)
		case 2:
			dst, err = Int.Emit(dst, e.Value, nil)
		case 3:
			dst, err = Float.Emit(dst, e.Value, nil)
		case 4:
			dst, err = String16.Emit(dst, e.Value, nil)
		case 5:
			item, ok := e.Value.(MetadataItem)
			if !ok {
				return dst, fmt.Errorf("%w: %T is not MetadataItem", ErrValueType, e.Value)
			}
			dst = appendInt16(dst, item.ID)
			dst = append(dst, byte(item.Count))
			dst = appendInt16(dst, item.Damage)
		default:
			return dst, fmt.Errorf("%w: unknown metadata type %d", ErrValueRange, e.Selector())
		}
		if err != nil {
			return dst, err
		}
	}
	return append(dst, metadataEnd), nil
}

type slotField struct {
	extra bool
}

func (f slotField) Parse(c *Cursor, _ Fields) (any, error) {
	return f.parse(c)
}

func (f slotField) parse(c *Cursor) (*Slot, error) {
	id, err := readInt16(c)
	if err != nil {
		return nil, err
	}
	if id == -1 {
		return nil, nil
	}
	s := &Slot{ItemID: id}
	if s.Count, err = readInt8(c); err != nil {
		return nil, err
	}
	if s.Uses, err = readInt16(c); err != nil {
		return nil, err
	}
	if !f.extra || !ExtraDataItems[id] {
		return s, nil
	}
	if s.ExtraSize, err = readInt16(c); err != nil {
		return nil, err
	}
	if s.ExtraSize > 0 {
		if s.Extra, err = readBytes(c, int(s.ExtraSize)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (f slotField) Emit(dst []byte, v any, _ Fields) ([]byte, error) {
	if v == nil {
		return appendInt16(dst, -1), nil
	}
	s, ok := v.(*Slot)
	if !ok {
		return dst, fmt.Errorf("%w: %T is not *Slot", ErrValueType, v)
	}
	return f.emit(dst, s)
}

func (f slotField) emit(dst []byte, s *Slot) ([]byte, error) {
	if s == nil {
		return appendInt16(dst, -1), nil
	}
	if s.ItemID == -1 {
		return dst, fmt.Errorf("%w: item id -1 is reserved for empty slots", ErrValueRange)
	}
	dst = appendInt16(dst, s.ItemID)
	dst = append(dst, byte(s.Count))
	dst = appendInt16(dst, s.Uses)
	if !f.extra || !ExtraDataItems[s.ItemID] {
		return dst, nil
	}
	size := s.ExtraSize
	if size > 0 && int(size) != len(s.Extra) {
		return dst, fmt.Errorf("%w: extra size %d with %d bytes", ErrValueRange, size, len(s.Extra))
	}
	dst = appendInt16(dst, size)
	if size > 0 {
		dst = append(dst, s.Extra...)
	}
	return dst, nil
}

type inventoryField struct {
	slot slotField
}

func (f inventoryField) Parse(c *Cursor, _ Fields) (any, error) {
	n, err := readInt16(c)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: slot count %d", ErrMalformed, n)
	}
	// An empty slot takes two bytes.
	inv := make(Inventory, 0, capHint(c, int(n), 2))
	for range n {
		s, err := f.slot.parse(c)
		if err != nil {
			return nil, err
		}
		inv = append(inv, s)
	}
	return inv, nil
}

func (f inventoryField) Emit(dst []byte, v any, _ Fields) ([]byte, error) {
	inv, ok := v.(Inventory)
	if !ok {
		return dst, fmt.Errorf("%w: %T is not Inventory", ErrValueType, v)
	}
	if len(inv) > math.MaxInt16 {
		return dst, fmt.Errorf("%w: %d slots", ErrValueRange, len(inv))
	}
	dst = appendInt16(dst, int16(len(inv)))
	var err error
	for _, s := range inv {
		if dst, err = f.slot.emit(dst, s); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

type chunkField struct{}

func (chunkField) Parse(c *Cursor, _ Fields) (any, error) {
	n, err := readInt32(c)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: chunk length %d", ErrMalformed, n)
	}
	return readBytes(c, int(n))
}

func (chunkField) Emit(dst []byte, v any, _ Fields) ([]byte, error) {
	data, ok := v.([]byte)
	if !ok {
		return dst, fmt.Errorf("%w: %T is not []byte", ErrValueType, v)
	}
	if len(data) > math.MaxInt32 {
		return dst, fmt.Errorf("%w: chunk of %d bytes", ErrValueRange, len(data))
	}
	dst = appendInt32(dst, int32(len(data)))
	return append(dst, data...), nil
}

type chunk2Field struct{}

func (chunk2Field) Parse(c *Cursor, _ Fields) (any, error) {
	n, err := readInt32(c)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: chunk length %d", ErrMalformed, n)
	}
	var ch Chunk2
	if ch.Unused, err = readInt32(c); err != nil {
		return nil, err
	}
	if ch.Data, err = readBytes(c, int(n)); err != nil {
		return nil, err
	}
	return ch, nil
}

func (chunk2Field) Emit(dst []byte, v any, _ Fields) ([]byte, error) {
	ch, ok := v.(Chunk2)
	if !ok {
		return dst, fmt.Errorf("%w: %T is not Chunk2", ErrValueType, v)
	}
	if len(ch.Data) > math.MaxInt32 {
		return dst, fmt.Errorf("%w: chunk of %d bytes", ErrValueRange, len(ch.Data))
	}
	dst = appendInt32(dst, int32(len(ch.Data)))
	dst = appendInt32(dst, ch.Unused)
	return append(dst, ch.Data...), nil
}

type multiBlockChangeField struct{}

func (multiBlockChangeField) Parse(c *Cursor, _ Fields) (any, error) {
	n, err := readInt16(c)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: block change count %d", ErrMalformed, n)
	}
	b, err := c.Read(4 * int(n))
	if err != nil {
		return nil, err
	}
	mbc := MultiBlockChange{
		Coords:   make([]int16, n),
		Types:    make([]int8, n),
		Metadata: make([]int8, n),
	}
	for i := range mbc.Coords {
		mbc.Coords[i] = int16(binary.BigEndian.Uint16(b[2*i:]))
	}
	b = b[2*int(n):]
	for i := range mbc.Types {
		mbc.Types[i] = int8(b[i])
		mbc.Metadata[i] = int8(b[int(n)+i])
	}
	return mbc, nil
}

func (multiBlockChangeField) Emit(dst []byte, v any, _ Fields) ([]byte, error) {
	mbc, ok := v.(MultiBlockChange)
	if !ok {
		return dst, fmt.Errorf("%w: %T is not MultiBlockChange", ErrValueType, v)
	}
	n := len(mbc.Coords)
	if len(mbc.Types) != n || len(mbc.Metadata) != n {
		return dst, fmt.Errorf("%w: array lengths %d/%d/%d differ", ErrValueRange, n, len(mbc.Types), len(mbc.Metadata))
	}
	if n > math.MaxInt16 {
		return dst, fmt.Errorf("%w: %d block changes", ErrValueRange, n)
	}
	dst = appendInt16(dst, int16(n))
	for _, x := range mbc.Coords {
		dst = appendInt16(dst, x)
	}
	for _, x := range mbc.Types {
		dst = append(dst, byte(x))
	}
	for _, x := range mbc.Metadata {
		dst = append(dst, byte(x))
	}
	return dst, nil
}

type packedBlockChangeField struct{}

func (packedBlockChangeField) Parse(c *Cursor, _ Fields) (any, error) {
	size, err := readInt32(c)
	if err != nil {
		return nil, err
	}
	if size < 0 || size%4 != 0 {
		return nil, fmt.Errorf("%w: packed block change size %d", ErrMalformed, size)
	}
	b, err := c.Read(int(size))
	if err != nil {
		return nil, err
	}
	records := make([]int32, size/4)
	for i := range records {
		records[i] = int32(binary.BigEndian.Uint32(b[4*i:]))
	}
	return records, nil
}

func (packedBlockChangeField) Emit(dst []byte, v any, _ Fields) ([]byte, error) {
	records, ok := v.([]int32)
	if !ok {
		return dst, fmt.Errorf("%w: %T is not []int32", ErrValueType, v)
	}
	if len(records) > math.MaxInt32/4 {
		return dst, fmt.Errorf("%w: %d records", ErrValueRange, len(records))
	}
	dst = appendInt32(dst, int32(len(records)*4))
	for _, r := range records {
		dst = appendInt32(dst, r)
	}
	return dst, nil
}

type explosionRecordField struct{}

func (explosionRecordField) Parse(c *Cursor, _ Fields) (any, error) {
	b, err := c.Read(3)
	if err != nil {
		return nil, err
	}
	return ExplosionRecord{X: int8(b[0]), Y: int8(b[1]), Z: int8(b[2])}, nil
}

func (explosionRecordField) Emit(dst []byte, v any, _ Fields) ([]byte, error) {
	r, ok := v.(ExplosionRecord)
	if !ok {
		return dst, fmt.Errorf("%w: %T is not ExplosionRecord", ErrValueType, v)
	}
	return append(dst, byte(r.X), byte(r.Y), byte(r.Z)), nil
}

type itemDataField struct{}

func (itemDataField) Parse(c *Cursor, _ Fields) (any, error) {
	b, err := c.Read(1)
	if err != nil {
		return nil, err
	}
	return readBytes(c, int(b[0]))
}

func (itemDataField) Emit(dst []byte, v any, _ Fields) ([]byte, error) {
	data, ok := v.([]byte)
	if !ok {
		return dst, fmt.Errorf("%w: %T is not []byte", ErrValueType, v)
	}
	if len(data) > math.MaxUint8 {
		return dst, fmt.Errorf("%w: item data of %d bytes", ErrValueRange, len(data))
	}
	dst = append(dst, byte(len(data)))
	return append(dst, data...), nil
}

type fireballField struct{}

func (fireballField) Parse(c *Cursor, _ Fields) (any, error) {
	var fb FireballData
	var err error
	if fb.ThrowerID, err = readInt32(c); err != nil {
		return nil, err
	}
	if fb.ThrowerID <= 0 {
		return fb, nil
	}
	if fb.SpeedX, err = readInt16(c); err != nil {
		return nil, err
	}
	if fb.SpeedY, err = readInt16(c); err != nil {
		return nil, err
	}
	if fb.SpeedZ, err = readInt16(c); err != nil {
		return nil, err
	}
	return fb, nil
}

func (fireballField) Emit(dst []byte, v any, _ Fields) ([]byte, error) {
	fb, ok := v.(FireballData)
	if !ok {
		return dst, fmt.Errorf("%w: %T is not FireballData", ErrValueType, v)
	}
	dst = appendInt32(dst, fb.ThrowerID)
	if fb.ThrowerID <= 0 {
		return dst, nil
	}
	dst = appendInt16(dst, fb.SpeedX)
	dst = appendInt16(dst, fb.SpeedY)
	return appendInt16(dst, fb.SpeedZ), nil
}

// Repeat decodes elem as many times as the integer field named count,
// which must precede it in the same message.
func Repeat(count string, elem Field) Field {
	return repeatField{count: count, elem: elem}
}

// capHint bounds a capacity taken from a wire count by what the buffered
// bytes could hold, so a bogus count costs nothing until its data arrives.
func capHint(c *Cursor, n, minSize int) int {
	return min(n, c.Remaining()/minSize)
}

type repeatField struct {
	count string
	elem  Field
}

func (f repeatField) n(prior Fields) (int, error) {
	v, ok := prior[f.count]
	if !ok {
		return 0, fmt.Errorf("%w: count field %q not decoded", ErrMalformed, f.count)
	}
	n, ok := AsInt(v)
	if !ok || n < 0 {
		return 0, fmt.Errorf("%w: count field %q is %v", ErrMalformed, f.count, v)
	}
	return int(n), nil
}

func (f repeatField) Parse(c *Cursor, prior Fields) (any, error) {
	n, err := f.n(prior)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, capHint(c, n, 1))
	for range n {
		e, err := f.elem.Parse(c, prior)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (f repeatField) Emit(dst []byte, v any, prior Fields) ([]byte, error) {
	elems, ok := v.([]any)
	if !ok {
		return dst, fmt.Errorf("%w: %T is not []any", ErrValueType, v)
	}
	n, err := f.n(prior)
	if err != nil {
		return dst, err
	}
	if n != len(elems) {
		return dst, fmt.Errorf("%w: %q is %d but %d elements given", ErrValueRange, f.count, n, len(elems))
	}
	for _, e := range elems {
		if dst, err = f.elem.Emit(dst, e, prior); err != nil {
			return dst, err
		}
	}
	return dst, nil
}
