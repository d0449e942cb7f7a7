// Package bsonvalue is the minimal stand-in for "the BSON value model"
// collaborator that spec.md places out of scope for the storage-engine
// core. The core (data page codec, index service) is written against this
// package's Value/Compare/Encode/Decode surface; a real document mapper or
// query planner is not implemented here — see SPEC_FULL.md §3a.
package bsonvalue

import "fmt"

// Type tags a Value. Values match the BSON wire type byte plus the two
// LiteDB-style sentinel extensions (MinValue, MaxValue) described in
// spec.md §6.
type Type byte

const (
	TypeNull     Type = 0x0A
	TypeInt32    Type = 0x10
	TypeInt64    Type = 0x12
	TypeDouble   Type = 0x01
	TypeString   Type = 0x02
	TypeDocument Type = 0x03
	TypeArray    Type = 0x04
	TypeBinary   Type = 0x05
	TypeObjectID Type = 0x07
	TypeBoolean  Type = 0x08
	TypeDateTime Type = 0x09
	TypeMinValue Type = 0xFF
	TypeMaxValue Type = 0x7F
)

// BinarySubtype distinguishes the payload shape of a Binary value.
type BinarySubtype byte

const (
	BinaryGeneric BinarySubtype = 0x00
	// BinaryGUID is the extension named in spec.md §6: a 16-byte GUID
	// carried as Binary subtype 0x04.
	BinaryGUID BinarySubtype = 0x04
)

// ObjectID is a 12-byte identifier, matching the BSON ObjectId shape.
type ObjectID [12]byte

// Value is a tagged union over every BSON type this engine needs to store
// document fragments and index keys. The zero Value is TypeNull.
type Value struct {
	typ Type

	i64 int64   // Int32 (sign-extended), Int64, DateTime ticks
	f64 float64 // Double
	str string  // String
	bin []byte  // Binary payload
	sub BinarySubtype
	oid ObjectID
	b   bool
	arr []Value
	doc *Document
}

// Type reports the value's tag.
func (v Value) Type() Type { return v.typ }

func Null() Value                 { return Value{typ: TypeNull} }
func MinValue() Value             { return Value{typ: TypeMinValue} }
func MaxValue() Value             { return Value{typ: TypeMaxValue} }
func Int32(i int32) Value         { return Value{typ: TypeInt32, i64: int64(i)} }
func Int64(i int64) Value         { return Value{typ: TypeInt64, i64: i} }
func Double(f float64) Value      { return Value{typ: TypeDouble, f64: f} }
func String(s string) Value       { return Value{typ: TypeString, str: s} }
func Boolean(b bool) Value        { return Value{typ: TypeBoolean, b: b} }
func ObjID(o ObjectID) Value      { return Value{typ: TypeObjectID, oid: o} }
func Array(items []Value) Value   { return Value{typ: TypeArray, arr: items} }
func Doc(d *Document) Value       { return Value{typ: TypeDocument, doc: d} }

// DateTimeTicks builds a DateTime value from 100-nanosecond ticks since the
// .NET/LiteDB epoch, matching the "8-byte UTC ticks on read/write" rule in
// spec.md §6.
func DateTimeTicks(ticks int64) Value { return Value{typ: TypeDateTime, i64: ticks} }

// Binary builds a Binary value. subtype 0x04 (BinaryGUID) carries exactly
// 16 bytes per spec.md §6; neither Binary nor Encode checks the length, but
// Decode rejects a GUID payload that is not 16 bytes.
func Binary(sub BinarySubtype, data []byte) Value {
	return Value{typ: TypeBinary, sub: sub, bin: append([]byte(nil), data...)}
}

// AsInt64 returns the value as an int64 for Int32, Int64 and DateTime
// (ticks) values. ok is false for any other type.
func (v Value) AsInt64() (int64, bool) {
	switch v.typ {
	case TypeInt32, TypeInt64, TypeDateTime:
		return v.i64, true
	default:
		return 0, false
	}
}

// AsFloat64 returns the value as a float64 for any numeric type.
func (v Value) AsFloat64() (float64, bool) {
	switch v.typ {
	case TypeDouble:
		return v.f64, true
	case TypeInt32, TypeInt64:
		return float64(v.i64), true
	default:
		return 0, false
	}
}

// AsString returns the string payload; ok is false for non-string values.
func (v Value) AsString() (string, bool) {
	if v.typ != TypeString {
		return "", false
	}

	return v.str, true
}

// AsBoolean returns the boolean payload; ok is false for non-boolean values.
func (v Value) AsBoolean() (bool, bool) {
	if v.typ != TypeBoolean {
		return false, false
	}

	return v.b, true
}

// AsBinary returns the binary payload and subtype; ok is false otherwise.
func (v Value) AsBinary() ([]byte, BinarySubtype, bool) {
	if v.typ != TypeBinary {
		return nil, 0, false
	}

	return v.bin, v.sub, true
}

// AsObjectID returns the ObjectID payload; ok is false otherwise.
func (v Value) AsObjectID() (ObjectID, bool) {
	if v.typ != TypeObjectID {
		return ObjectID{}, false
	}

	return v.oid, true
}

// AsArray returns the array elements; ok is false otherwise.
func (v Value) AsArray() ([]Value, bool) {
	if v.typ != TypeArray {
		return nil, false
	}

	return v.arr, true
}

// AsDocument returns the nested document; ok is false otherwise.
func (v Value) AsDocument() (*Document, bool) {
	if v.typ != TypeDocument {
		return nil, false
	}

	return v.doc, true
}

// IsNumber reports whether v's type participates in the Number ordering
// class from spec.md §9 (Double, Int32, Int64).
func (v Value) IsNumber() bool {
	switch v.typ {
	case TypeDouble, TypeInt32, TypeInt64:
		return true
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.typ {
	case TypeNull:
		return "null"
	case TypeMinValue:
		return "MinValue"
	case TypeMaxValue:
		return "MaxValue"
	case TypeInt32, TypeInt64:
		return fmt.Sprintf("%d", v.i64)
	case TypeDouble:
		return fmt.Sprintf("%g", v.f64)
	case TypeString:
		return v.str
	case TypeBoolean:
		return fmt.Sprintf("%t", v.b)
	case TypeDateTime:
		return fmt.Sprintf("ticks(%d)", v.i64)
	case TypeObjectID:
		return fmt.Sprintf("%x", v.oid[:])
	case TypeBinary:
		return fmt.Sprintf("binary(%d,%d bytes)", v.sub, len(v.bin))
	case TypeArray:
		return fmt.Sprintf("array(%d)", len(v.arr))
	case TypeDocument:
		return "document"
	default:
		return "?"
	}
}

// Document is an ordered key/value map: field order is preserved the way a
// BSON document on disk preserves declaration order, which matters for
// round-tripping encode(decode(d)) == d byte-for-byte.
type Document struct {
	keys   []string
	values []Value
}

// NewDocument builds an empty, ready-to-use Document.
func NewDocument() *Document { return &Document{} }

// Set inserts or replaces a field, preserving first-insertion order.
func (d *Document) Set(key string, v Value) *Document {
	for i, k := range d.keys {
		if k == key {
			d.values[i] = v
			return d
		}
	}

	d.keys = append(d.keys, key)
	d.values = append(d.values, v)

	return d
}

// Get returns the field's value; ok is false if the key is absent.
func (d *Document) Get(key string) (Value, bool) {
	if d == nil {
		return Value{}, false
	}

	for i, k := range d.keys {
		if k == key {
			return d.values[i], true
		}
	}

	return Value{}, false
}

// Keys returns the field names in insertion order. Callers must not mutate
// the returned slice.
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}

	return d.keys
}

// Len reports the number of fields.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}

	return len(d.keys)
}
