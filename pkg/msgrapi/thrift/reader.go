package thrift

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Reader decodes the Thrift Compact Binary protocol (plus the FLOAT
// extension) from an in-memory buffer.
//
// https://github.com/apache/thrift/blob/master/doc/specs/thrift-compact-protocol.md
type Reader struct {
	buf []byte
	pos int

	prevFieldID int16
	stack       []int16

	prevStructID int
}

// NewReader creates a Reader over buf, starting at offset 0.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf, prevStructID: -1}
}

// Reset rewinds the reader to the start of the buffer and clears all
// field-id/struct-id bookkeeping.
func (r *Reader) Reset() {
	r.pos = 0
	r.prevFieldID = 0
	r.stack = r.stack[:0]
	r.prevStructID = -1
}

// Remaining reports how many bytes are left unread.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) pushStack() {
	r.stack = append(r.stack, r.prevFieldID)
	r.prevFieldID = 0
}

func (r *Reader) popStack() {
	if n := len(r.stack); n > 0 {
		r.prevFieldID = r.stack[n-1]
		r.stack = r.stack[:n-1]
	}
}

func (r *Reader) readByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("thrift: unexpected end of buffer")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("thrift: unexpected end of buffer reading %d bytes", n)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func fromZigZag(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}

func toZigZag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

// ReadVarint reads an unsigned LEB128 varint.
func (r *Reader) ReadVarint() (uint64, error) {
	var shift uint
	var result uint64
	for {
		b, err := r.readByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift > 70 {
			return 0, fmt.Errorf("thrift: varint too long")
		}
	}
	return result, nil
}

// ReadInt reads a zig-zag varint and returns it as a signed 64-bit value.
// Callers narrow to the declared field width (i16/i32/i64); all widths use
// the same zig-zag varint wire encoding.
func (r *Reader) ReadInt() (int64, error) {
	v, err := r.ReadVarint()
	if err != nil {
		return 0, err
	}
	return fromZigZag(v), nil
}

// ReadField reads a field header: a 4-bit type tag in the low nibble, and
// either a 4-bit delta (1-15) or an explicit zig-zag varint field id in the
// high nibble/following bytes. Returns (TypeStop, -1) at struct end.
func (r *Reader) ReadField() (TType, int16, error) {
	b, err := r.readByte()
	if err != nil {
		return 0, 0, err
	}
	typ := TType(b & 0x0f)
	if typ == TypeStop {
		return typ, -1, nil
	}
	delta := int16(b >> 4)
	if delta == 0 {
		id, err := r.ReadInt()
		if err != nil {
			return 0, 0, err
		}
		r.prevFieldID = int16(id)
	} else {
		r.prevFieldID += delta
	}
	return typ, r.prevFieldID, nil
}

// ReadVal reads one primitive (non-container, non-struct) value.
func (r *Reader) ReadVal(typ TType) (any, error) {
	switch typ {
	case TypeTrue:
		return true, nil
	case TypeFalse:
		return false, nil
	case TypeByte:
		b, err := r.readByte()
		return b, err
	case TypeBinary:
		n, err := r.ReadVarint()
		if err != nil {
			return nil, err
		}
		b, err := r.readBytes(int(n))
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	case TypeI16, TypeI32, TypeI64:
		return r.ReadInt()
	case TypeDouble:
		b, err := r.readBytes(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	case TypeFloat:
		b, err := r.readBytes(4)
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
	default:
		return nil, fmt.Errorf("thrift: %s is not a primitive type", typ)
	}
}

// ReadListHeader reads the item type and length of a list or set. Facebook
// reuses struct field-type tags for list/set/map element types rather than
// the upstream Thrift list-specific tag values.
func (r *Reader) ReadListHeader() (TType, int, error) {
	b, err := r.readByte()
	if err != nil {
		return 0, 0, err
	}
	itemType := TType(b & 0x0f)
	length := int(b >> 4)
	if length == 0x0f {
		n, err := r.ReadVarint()
		if err != nil {
			return 0, 0, err
		}
		length = int(n)
	}
	return itemType, length, nil
}

// ReadMapHeader reads the key type, value type and length of a map. An
// empty map is encoded as a single zero byte; this is detected by peeking
// one byte and rewinding if it is non-zero.
func (r *Reader) ReadMapHeader() (TType, TType, int, error) {
	pos := r.pos
	b, err := r.readByte()
	if err != nil {
		return 0, 0, 0, err
	}
	if b == 0 {
		return TypeStop, TypeStop, 0, nil
	}
	r.pos = pos
	length, err := r.ReadVarint()
	if err != nil {
		return 0, 0, 0, err
	}
	types, err := r.readByte()
	if err != nil {
		return 0, 0, 0, err
	}
	return TType(types >> 4), TType(types & 0x0f), int(length), nil
}

// Skip discards the next value of the given type, recursing into
// STRUCT/LIST/SET/MAP so unknown fields can be safely ignored.
func (r *Reader) Skip(typ TType) error {
	switch typ {
	case TypeStruct:
		r.pushStack()
		for {
			fieldType, _, err := r.ReadField()
			if err != nil {
				r.popStack()
				return err
			}
			if fieldType == TypeStop {
				break
			}
			if err := r.Skip(fieldType); err != nil {
				r.popStack()
				return err
			}
		}
		r.popStack()
		return nil
	case TypeList, TypeSet:
		itemType, length, err := r.ReadListHeader()
		if err != nil {
			return err
		}
		for i := 0; i < length; i++ {
			if err := r.Skip(itemType); err != nil {
				return err
			}
		}
		return nil
	case TypeMap:
		keyType, valueType, length, err := r.ReadMapHeader()
		if err != nil {
			return err
		}
		for i := 0; i < length; i++ {
			if err := r.Skip(keyType); err != nil {
				return err
			}
			if err := r.Skip(valueType); err != nil {
				return err
			}
		}
		return nil
	default:
		_, err := r.ReadVal(typ)
		return err
	}
}

// ReadValRecursive reads any value described by rtype, validating wire
// types against the schema and recursing into containers/structs.
// fieldPath is used only to build descriptive errors.
func (r *Reader) ReadValRecursive(rtype RecursiveType, fieldPath string) (any, error) {
	switch rtype.Type {
	case TypeStruct:
		r.pushStack()
		val, err := r.ReadStruct(rtype.StructType, fieldPath)
		r.popStack()
		return val, err
	case TypeMap:
		keyType, valueType, length, err := r.ReadMapHeader()
		if err != nil {
			return nil, err
		}
		if length == 0 {
			return map[any]any{}, nil
		}
		if rtype.KeyType == nil || rtype.ValueType == nil {
			return nil, &FieldPathError{Path: fieldPath, Msg: "schema missing key/value type for map"}
		}
		if keyType != rtype.KeyType.Type {
			return nil, &FieldPathError{Path: fieldPath, Msg: fmt.Sprintf("unexpected key type: expected %s, got %s", rtype.KeyType.Type, keyType)}
		}
		if valueType != rtype.ValueType.Type {
			return nil, &FieldPathError{Path: fieldPath, Msg: fmt.Sprintf("unexpected value type: expected %s, got %s", rtype.ValueType.Type, valueType)}
		}
		result := make(map[any]any, length)
		for i := 0; i < length; i++ {
			key, err := r.ReadValRecursive(*rtype.KeyType, fmt.Sprintf("%s[%d::key]", fieldPath, i))
			if err != nil {
				return nil, err
			}
			value, err := r.ReadValRecursive(*rtype.ValueType, fmt.Sprintf("%s[%v]", fieldPath, key))
			if err != nil {
				return nil, err
			}
			result[key] = value
		}
		return result, nil
	case TypeList, TypeSet:
		itemType, length, err := r.ReadListHeader()
		if err != nil {
			return nil, err
		}
		if rtype.ItemType == nil {
			return nil, &FieldPathError{Path: fieldPath, Msg: "schema missing item type for list/set"}
		}
		if itemType != rtype.ItemType.Type {
			return nil, &FieldPathError{Path: fieldPath, Msg: fmt.Sprintf("unexpected item type: expected %s, got %s", rtype.ItemType.Type, itemType)}
		}
		data := make([]any, length)
		for i := 0; i < length; i++ {
			v, err := r.ReadValRecursive(*rtype.ItemType, fmt.Sprintf("%s[%d]", fieldPath, i))
			if err != nil {
				return nil, err
			}
			data[i] = v
		}
		return data, nil
	default:
		if rtype.Type == TypeBinary && rtype.Convert != nil {
			raw, err := r.ReadVal(rtype.Type)
			if err != nil {
				return nil, err
			}
			converted, err := rtype.Convert(string(raw.([]byte)))
			if err != nil {
				return nil, &FieldPathError{Path: fieldPath, Msg: err.Error()}
			}
			return converted, nil
		}
		val, err := r.ReadVal(rtype.Type)
		if err != nil {
			return nil, err
		}
		if rtype.Convert != nil {
			converted, err := rtype.Convert(val)
			if err != nil {
				return nil, &FieldPathError{Path: fieldPath, Msg: err.Error()}
			}
			return converted, nil
		}
		return val, nil
	}
}

// ReadStruct reads a struct value according to its schema, returning a map
// of field name to decoded value. Unknown field ids are skipped by wire
// type. A field whose wire type doesn't match the schema's declared type
// is a hard error identifying the dotted field path.
func (r *Reader) ReadStruct(spec Spec, fieldPath string) (map[string]any, error) {
	args := make(map[string]any, len(spec.Fields))
	for {
		fieldType, fieldID, err := r.ReadField()
		if err != nil {
			return nil, err
		}
		if fieldType == TypeStop {
			break
		}
		fieldMeta, ok := spec.ByID(fieldID)
		if !ok {
			if err := r.Skip(fieldType); err != nil {
				return nil, err
			}
			continue
		}
		expectedType := fieldType
		if fieldType == TypeTrue || fieldType == TypeFalse {
			expectedType = TypeBool
		}
		if fieldMeta.RType.Type != expectedType {
			return nil, &FieldPathError{
				Path: fieldPath,
				Msg: fmt.Sprintf("mismatching type for field %s/#%d: expected %s, got %s",
					fieldMeta.Name, fieldID, fieldMeta.RType.Type, fieldType),
			}
		}
		if expectedType == TypeBool {
			args[fieldMeta.Name] = fieldType == TypeTrue
			continue
		}
		fp := fieldPath + "." + fieldMeta.Name
		val, err := r.ReadValRecursive(fieldMeta.RType, fp)
		if err != nil {
			return nil, err
		}
		args[fieldMeta.Name] = val
	}
	return args, nil
}
