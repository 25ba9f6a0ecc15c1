// Package encoding is the Encodable capability the core engine is built
// against but never depends on directly: a closed set of scalar kinds
// framed with a one-byte type tag, plus the total key order a database is
// opened with. Adapted from the teacher's pkg/encoding/custom tagged-union
// encoder, trimmed of its Avro/protobuf benchmark harness.
package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"cubdb/pkg/dberrors"
)

// TypeID tags the scalar kind a Value holds.
type TypeID uint8

const (
	TypeInt32 TypeID = iota + 1
	TypeInt64
	TypeFloat32
	TypeFloat64
	TypeBool
	TypeString
	TypeMessage
	TypeList
)

// Value is a tagged union over the supported scalar kinds, message
// (ordered fields), and list shapes.
type Value struct {
	Type    TypeID
	Int32   int32
	Int64   int64
	Float32 float32
	Float64 float64
	Bool    bool
	String  string
	Message []Field
	List    []Value
}

// Field is one numbered field of a Message value.
type Field struct {
	Number uint32
	Value  Value
}

// Comparator imposes the total order keys are compared under.
type Comparator = func(a, b []byte) int

// DefaultComparator orders keys the way bytes.Compare does.
func DefaultComparator(a, b []byte) int { return bytes.Compare(a, b) }

// Encode renders v as a self-describing byte sequence: a one-byte type
// tag followed by the type's fixed or length-prefixed encoding.
func Encode(v Value) ([]byte, error) {
	buf := []byte{byte(v.Type)}

	switch v.Type {
	case TypeInt32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(v.Int32))
		buf = append(buf, b...)

	case TypeInt64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(v.Int64))
		buf = append(buf, b...)

	case TypeFloat32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(v.Float32))
		buf = append(buf, b...)

	case TypeFloat64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(v.Float64))
		buf = append(buf, b...)

	case TypeBool:
		if v.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}

	case TypeString:
		lenBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenBuf, uint32(len(v.String)))
		buf = append(buf, lenBuf...)
		buf = append(buf, v.String...)

	case TypeMessage:
		countBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(countBuf, uint32(len(v.Message)))
		buf = append(buf, countBuf...)

		for _, field := range v.Message {
			numBuf := make([]byte, 4)
			binary.LittleEndian.PutUint32(numBuf, field.Number)
			buf = append(buf, numBuf...)

			fieldData, err := Encode(field.Value)
			if err != nil {
				return nil, err
			}
			buf = append(buf, fieldData...)
		}

	case TypeList:
		if len(v.List) == 0 {
			return nil, dberrors.NewIOError(fmt.Errorf("encoding: empty list"))
		}
		countBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(countBuf, uint32(len(v.List)))
		buf = append(buf, countBuf...)

		for _, item := range v.List {
			itemData, err := Encode(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, itemData...)
		}

	default:
		return nil, dberrors.NewIOError(fmt.Errorf("encoding: unknown type %d", v.Type))
	}

	return buf, nil
}

// Decode reads one Value off the front of data and reports how many bytes
// it consumed.
func Decode(data []byte) (Value, int, error) {
	if len(data) < 1 {
		return Value{}, 0, dberrors.NewIOError(fmt.Errorf("encoding: insufficient data"))
	}

	valueType := TypeID(data[0])
	offset := 1

	switch valueType {
	case TypeInt32:
		if len(data[offset:]) < 4 {
			return Value{}, 0, dberrors.NewIOError(fmt.Errorf("encoding: insufficient data for int32"))
		}
		value := int32(binary.LittleEndian.Uint32(data[offset:]))
		return Value{Type: TypeInt32, Int32: value}, offset + 4, nil

	case TypeInt64:
		if len(data[offset:]) < 8 {
			return Value{}, 0, dberrors.NewIOError(fmt.Errorf("encoding: insufficient data for int64"))
		}
		value := int64(binary.LittleEndian.Uint64(data[offset:]))
		return Value{Type: TypeInt64, Int64: value}, offset + 8, nil

	case TypeFloat32:
		if len(data[offset:]) < 4 {
			return Value{}, 0, dberrors.NewIOError(fmt.Errorf("encoding: insufficient data for float32"))
		}
		bits := binary.LittleEndian.Uint32(data[offset:])
		return Value{Type: TypeFloat32, Float32: math.Float32frombits(bits)}, offset + 4, nil

	case TypeFloat64:
		if len(data[offset:]) < 8 {
			return Value{}, 0, dberrors.NewIOError(fmt.Errorf("encoding: insufficient data for float64"))
		}
		bits := binary.LittleEndian.Uint64(data[offset:])
		return Value{Type: TypeFloat64, Float64: math.Float64frombits(bits)}, offset + 8, nil

	case TypeBool:
		if len(data[offset:]) < 1 {
			return Value{}, 0, dberrors.NewIOError(fmt.Errorf("encoding: insufficient data for bool"))
		}
		return Value{Type: TypeBool, Bool: data[offset] != 0}, offset + 1, nil

	case TypeString:
		if len(data[offset:]) < 4 {
			return Value{}, 0, dberrors.NewIOError(fmt.Errorf("encoding: insufficient data for string length"))
		}
		length := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
		if len(data[offset:]) < length {
			return Value{}, 0, dberrors.NewIOError(fmt.Errorf("encoding: insufficient data for string content"))
		}
		return Value{Type: TypeString, String: string(data[offset : offset+length])}, offset + length, nil

	case TypeMessage:
		if len(data[offset:]) < 4 {
			return Value{}, 0, dberrors.NewIOError(fmt.Errorf("encoding: insufficient data for message field count"))
		}
		fieldCount := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
		fields := make([]Field, 0, fieldCount)

		for i := 0; i < fieldCount; i++ {
			if len(data[offset:]) < 4 {
				return Value{}, 0, dberrors.NewIOError(fmt.Errorf("encoding: insufficient data for field number"))
			}
			number := binary.LittleEndian.Uint32(data[offset:])
			offset += 4

			value, n, err := Decode(data[offset:])
			if err != nil {
				return Value{}, 0, err
			}
			fields = append(fields, Field{Number: number, Value: value})
			offset += n
		}
		return Value{Type: TypeMessage, Message: fields}, offset, nil

	case TypeList:
		if len(data[offset:]) < 4 {
			return Value{}, 0, dberrors.NewIOError(fmt.Errorf("encoding: insufficient data for list length"))
		}
		length := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
		items := make([]Value, 0, length)

		for i := 0; i < length; i++ {
			value, n, err := Decode(data[offset:])
			if err != nil {
				return Value{}, 0, err
			}
			items = append(items, value)
			offset += n
		}
		return Value{Type: TypeList, List: items}, offset, nil

	default:
		return Value{}, 0, dberrors.NewIOError(fmt.Errorf("encoding: unknown type %d", valueType))
	}
}
