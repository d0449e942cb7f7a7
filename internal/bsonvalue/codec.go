package bsonvalue

import (
	"encoding/binary"
	"math"

	"github.com/pagedb/enginecore/internal/enginerr"
)

// Encode serializes v using the type/length framing named in spec.md §6:
// a one-byte type tag followed by a fixed or length-prefixed payload.
// DateTime is encoded as 8-byte UTC ticks (the "except in BSON-spec
// documents" millisecond rule applies only at the document-mapper layer,
// which is out of scope here).
func Encode(v Value) []byte {
	switch v.typ {
	case TypeNull, TypeMinValue, TypeMaxValue:
		return []byte{byte(v.typ)}
	case TypeInt32:
		buf := make([]byte, 5)
		buf[0] = byte(v.typ)
		binary.LittleEndian.PutUint32(buf[1:], uint32(int32(v.i64)))

		return buf
	case TypeInt64, TypeDateTime:
		buf := make([]byte, 9)
		buf[0] = byte(v.typ)
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.i64))

		return buf
	case TypeDouble:
		buf := make([]byte, 9)
		buf[0] = byte(v.typ)
		binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(v.f64))

		return buf
	case TypeBoolean:
		b := byte(0)
		if v.b {
			b = 1
		}

		return []byte{byte(v.typ), b}
	case TypeObjectID:
		buf := make([]byte, 1+len(v.oid))
		buf[0] = byte(v.typ)
		copy(buf[1:], v.oid[:])

		return buf
	case TypeString:
		return encodeLenPrefixed(byte(v.typ), []byte(v.str))
	case TypeBinary:
		payload := make([]byte, 1+len(v.bin))
		payload[0] = byte(v.sub)
		copy(payload[1:], v.bin)

		return encodeLenPrefixed(byte(v.typ), payload)
	case TypeArray:
		buf := []byte{byte(v.typ)}
		countBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(countBuf, uint32(len(v.arr)))
		buf = append(buf, countBuf...)

		for _, item := range v.arr {
			buf = append(buf, Encode(item)...)
		}

		return buf
	case TypeDocument:
		buf := []byte{byte(v.typ)}

		d := v.doc
		if d == nil {
			d = NewDocument()
		}

		countBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(countBuf, uint32(d.Len()))
		buf = append(buf, countBuf...)

		for i, key := range d.keys {
			keyBuf := make([]byte, 2)
			binary.LittleEndian.PutUint16(keyBuf, uint16(len(key)))
			buf = append(buf, keyBuf...)
			buf = append(buf, key...)
			buf = append(buf, Encode(d.values[i])...)
		}

		return buf
	default:
		return []byte{byte(TypeNull)}
	}
}

func encodeLenPrefixed(tag byte, payload []byte) []byte {
	buf := make([]byte, 1+4+len(payload))
	buf[0] = tag
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[5:], payload)

	return buf
}

// Decode parses a single encoded Value from the front of data, returning
// the value and the number of bytes consumed. Malformed input returns
// enginerr.CodeCorruption, matching the data-page codec's contract that a
// shape violation aborts the operation rather than panicking.
func Decode(data []byte) (Value, int, error) {
	if len(data) < 1 {
		return Value{}, 0, enginerr.New(enginerr.CodeCorruption, "bsonvalue: empty buffer")
	}

	typ := Type(data[0])

	switch typ {
	case TypeNull, TypeMinValue, TypeMaxValue:
		return Value{typ: typ}, 1, nil
	case TypeInt32:
		if len(data) < 5 {
			return Value{}, 0, enginerr.New(enginerr.CodeCorruption, "bsonvalue: truncated int32")
		}

		return Int32(int32(binary.LittleEndian.Uint32(data[1:5]))), 5, nil
	case TypeInt64:
		if len(data) < 9 {
			return Value{}, 0, enginerr.New(enginerr.CodeCorruption, "bsonvalue: truncated int64")
		}

		return Int64(int64(binary.LittleEndian.Uint64(data[1:9]))), 9, nil
	case TypeDateTime:
		if len(data) < 9 {
			return Value{}, 0, enginerr.New(enginerr.CodeCorruption, "bsonvalue: truncated datetime")
		}

		return DateTimeTicks(int64(binary.LittleEndian.Uint64(data[1:9]))), 9, nil
	case TypeDouble:
		if len(data) < 9 {
			return Value{}, 0, enginerr.New(enginerr.CodeCorruption, "bsonvalue: truncated double")
		}

		return Double(math.Float64frombits(binary.LittleEndian.Uint64(data[1:9]))), 9, nil
	case TypeBoolean:
		if len(data) < 2 {
			return Value{}, 0, enginerr.New(enginerr.CodeCorruption, "bsonvalue: truncated bool")
		}

		return Boolean(data[1] != 0), 2, nil
	case TypeObjectID:
		if len(data) < 13 {
			return Value{}, 0, enginerr.New(enginerr.CodeCorruption, "bsonvalue: truncated objectid")
		}

		var oid ObjectID
		copy(oid[:], data[1:13])

		return ObjID(oid), 13, nil
	case TypeString:
		payload, n, err := decodeLenPrefixed(data)
		if err != nil {
			return Value{}, 0, err
		}

		return String(string(payload)), n, nil
	case TypeBinary:
		payload, n, err := decodeLenPrefixed(data)
		if err != nil {
			return Value{}, 0, err
		}

		if len(payload) < 1 {
			return Value{}, 0, enginerr.New(enginerr.CodeCorruption, "bsonvalue: truncated binary subtype")
		}

		sub := BinarySubtype(payload[0])
		if sub == BinaryGUID && len(payload[1:]) != 16 {
			return Value{}, 0, enginerr.New(enginerr.CodeCorruption, "bsonvalue: GUID binary must be 16 bytes")
		}

		return Binary(sub, payload[1:]), n, nil
	case TypeArray:
		if len(data) < 5 {
			return Value{}, 0, enginerr.New(enginerr.CodeCorruption, "bsonvalue: truncated array header")
		}

		count := binary.LittleEndian.Uint32(data[1:5])
		off := 5
		items := make([]Value, 0, count)

		for range count {
			item, n, err := Decode(data[off:])
			if err != nil {
				return Value{}, 0, err
			}

			items = append(items, item)
			off += n
		}

		return Array(items), off, nil
	case TypeDocument:
		if len(data) < 5 {
			return Value{}, 0, enginerr.New(enginerr.CodeCorruption, "bsonvalue: truncated document header")
		}

		count := binary.LittleEndian.Uint32(data[1:5])
		off := 5
		doc := NewDocument()

		for range count {
			if len(data) < off+2 {
				return Value{}, 0, enginerr.New(enginerr.CodeCorruption, "bsonvalue: truncated field key length")
			}

			keyLen := int(binary.LittleEndian.Uint16(data[off : off+2]))
			off += 2

			if len(data) < off+keyLen {
				return Value{}, 0, enginerr.New(enginerr.CodeCorruption, "bsonvalue: truncated field key")
			}

			key := string(data[off : off+keyLen])
			off += keyLen

			val, n, err := Decode(data[off:])
			if err != nil {
				return Value{}, 0, err
			}

			doc.Set(key, val)
			off += n
		}

		return Doc(doc), off, nil
	default:
		return Value{}, 0, enginerr.Newf(enginerr.CodeCorruption, "bsonvalue: unknown type tag 0x%02x", byte(typ))
	}
}

func decodeLenPrefixed(data []byte) ([]byte, int, error) {
	if len(data) < 5 {
		return nil, 0, enginerr.New(enginerr.CodeCorruption, "bsonvalue: truncated length prefix")
	}

	n := int(binary.LittleEndian.Uint32(data[1:5]))
	if n < 0 || len(data) < 5+n {
		return nil, 0, enginerr.New(enginerr.CodeCorruption, "bsonvalue: truncated payload")
	}

	return data[5 : 5+n], 5 + n, nil
}
