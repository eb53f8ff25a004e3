package thrift

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Writer encodes Go values into the Thrift Compact Binary protocol, plus
// the FLOAT extension.
type Writer struct {
	buf []byte

	prevFieldID int16
	stack       []int16
}

// NewWriter creates an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the encoded buffer so far.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) pushStack() {
	w.stack = append(w.stack, w.prevFieldID)
	w.prevFieldID = 0
}

func (w *Writer) popStack() {
	if n := len(w.stack); n > 0 {
		w.prevFieldID = w.stack[n-1]
		w.stack = w.stack[:n-1]
	}
}

func (w *Writer) writeByte(b byte) {
	w.buf = append(w.buf, b)
}

// WriteVarint writes an unsigned LEB128 varint.
func (w *Writer) WriteVarint(v uint64) {
	for {
		if v&^0x7f == 0 {
			w.writeByte(byte(v))
			return
		}
		w.writeByte(byte(v&0x7f) | 0x80)
		v >>= 7
	}
}

// WriteInt writes a signed value as a zig-zag varint.
func (w *Writer) WriteInt(v int64) {
	w.WriteVarint(toZigZag(v))
}

// writeFieldBegin writes a field header, using a 4-bit delta when the
// field id increases by 1-15 over the previous field, else an explicit
// zig-zag varint id. boolType, when non-zero (TypeTrue/TypeFalse),
// collapses a bool field's value into the header's type nibble so no
// separate value byte follows.
func (w *Writer) writeFieldBegin(typ TType, id int16, boolType TType) {
	effectiveType := typ
	if boolType != 0 {
		effectiveType = boolType
	}
	delta := id - w.prevFieldID
	if delta > 0 && delta <= 15 {
		w.writeByte(byte(delta)<<4 | byte(effectiveType))
		w.prevFieldID = id
		return
	}
	w.writeByte(byte(effectiveType))
	w.WriteInt(int64(id))
	w.prevFieldID = id
}

// WriteStop writes a struct's terminating STOP field.
func (w *Writer) WriteStop() {
	w.writeByte(byte(TypeStop))
}

func (w *Writer) writeString(s string) {
	w.WriteVarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteBinary writes a length-prefixed byte string.
func (w *Writer) WriteBinary(b []byte) {
	w.WriteVarint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteVal writes one primitive value. For TypeTrue/TypeFalse it writes
// nothing (bools are only ever encoded via the field header or a list/map
// element, where WriteListHeader/WriteMap already carry the type tag and
// the caller must still write something for non-field contexts — use
// WriteBoolVal for list/set/map bool elements).
func (w *Writer) WriteVal(typ TType, val any) error {
	switch typ {
	case TypeTrue, TypeFalse:
		return nil
	case TypeByte:
		b, ok := val.(byte)
		if !ok {
			return fmt.Errorf("thrift: expected byte, got %T", val)
		}
		w.writeByte(b)
		return nil
	case TypeBinary:
		switch v := val.(type) {
		case []byte:
			w.WriteBinary(v)
		case string:
			w.writeString(v)
		default:
			return fmt.Errorf("thrift: expected []byte or string, got %T", val)
		}
		return nil
	case TypeI16, TypeI32, TypeI64:
		v, err := asInt64(val)
		if err != nil {
			return err
		}
		w.WriteInt(v)
		return nil
	case TypeDouble:
		v, err := asFloat64(val)
		if err != nil {
			return err
		}
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
		w.buf = append(w.buf, b[:]...)
		return nil
	case TypeFloat:
		v, err := asFloat64(val)
		if err != nil {
			return err
		}
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(v)))
		w.buf = append(w.buf, b[:]...)
		return nil
	default:
		return fmt.Errorf("thrift: %s is not a primitive type", typ)
	}
}

func asInt64(val any) (int64, error) {
	switch v := val.(type) {
	case int:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("thrift: expected integer, got %T", val)
	}
}

func asFloat64(val any) (float64, error) {
	switch v := val.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("thrift: expected float, got %T", val)
	}
}

// WriteListHeader writes the item type and length of a list or set.
func (w *Writer) WriteListHeader(itemType TType, length int) {
	if length < 0x0f {
		w.writeByte(byte(length)<<4 | byte(itemType))
		return
	}
	w.writeByte(0xf0 | byte(itemType))
	w.WriteVarint(uint64(length))
}

// WriteMap writes a map's header and its key/value pairs. The empty-map
// check here guards on len(val) == 0, not a stray bareword:
// the upstream Python writer has a documented bug where `if not map:` tests
// the builtin `map` identifier instead of the `val` argument, which this
// implementation deliberately does not reproduce.
func (w *Writer) WriteMap(keyType, valueType TType, val map[any]any, writeKey, writeValue func(*Writer, any) error) error {
	if len(val) == 0 {
		w.writeByte(0)
		return nil
	}
	w.WriteVarint(uint64(len(val)))
	w.writeByte(byte(keyType)<<4 | byte(valueType))
	for k, v := range val {
		if err := writeKey(w, k); err != nil {
			return err
		}
		if err := writeValue(w, v); err != nil {
			return err
		}
	}
	return nil
}

// WriteStructBegin is a no-op placeholder kept for symmetry with the
// reader's struct push/pop bookkeeping; callers should call PushStruct
// before writing fields and PopStruct after WriteStop.
func (w *Writer) PushStruct() { w.pushStack() }
func (w *Writer) PopStruct()  { w.popStack() }

// WriteField writes a field header followed by its value, recursing for
// containers/structs. val must already be the Go representation matching
// rtype (callers are expected to have converted enums etc. to their
// underlying wire representation before calling this).
func (w *Writer) WriteField(id int16, rtype RecursiveType, val any) error {
	if val == nil {
		return nil
	}
	switch rtype.Type {
	case TypeStruct:
		w.writeFieldBegin(TypeStruct, id, 0)
		w.PushStruct()
		if err := w.WriteStructFields(rtype.StructType, val.(map[int16]any)); err != nil {
			w.PopStruct()
			return err
		}
		w.WriteStop()
		w.PopStruct()
		return nil
	case TypeList, TypeSet:
		items, ok := val.([]any)
		if !ok {
			return fmt.Errorf("thrift: field %d: expected []any for list/set, got %T", id, val)
		}
		w.writeFieldBegin(rtype.Type, id, 0)
		w.WriteListHeader(rtype.ItemType.Type, len(items))
		for _, item := range items {
			if err := w.writeContainerVal(*rtype.ItemType, item); err != nil {
				return err
			}
		}
		return nil
	case TypeMap:
		m, ok := val.(map[any]any)
		if !ok {
			return fmt.Errorf("thrift: field %d: expected map[any]any, got %T", id, val)
		}
		w.writeFieldBegin(TypeMap, id, 0)
		return w.WriteMap(rtype.KeyType.Type, rtype.ValueType.Type, m,
			func(wr *Writer, k any) error { return wr.writeContainerVal(*rtype.KeyType, k) },
			func(wr *Writer, v any) error { return wr.writeContainerVal(*rtype.ValueType, v) })
	case TypeTrue, TypeFalse, TypeBool:
		b, ok := val.(bool)
		if !ok {
			return fmt.Errorf("thrift: field %d: expected bool, got %T", id, val)
		}
		boolType := TypeFalse
		if b {
			boolType = TypeTrue
		}
		w.writeFieldBegin(TypeBool, id, boolType)
		return nil
	default:
		w.writeFieldBegin(rtype.Type, id, 0)
		return w.WriteVal(rtype.Type, val)
	}
}

// writeContainerVal writes one element of a list/set/map (no field header).
func (w *Writer) writeContainerVal(rtype RecursiveType, val any) error {
	switch rtype.Type {
	case TypeStruct:
		w.PushStruct()
		if err := w.WriteStructFields(rtype.StructType, val.(map[int16]any)); err != nil {
			w.PopStruct()
			return err
		}
		w.WriteStop()
		w.PopStruct()
		return nil
	case TypeTrue, TypeFalse, TypeBool:
		b, _ := val.(bool)
		if b {
			return w.WriteVal(TypeTrue, val)
		}
		return w.WriteVal(TypeFalse, val)
	default:
		return w.WriteVal(rtype.Type, val)
	}
}

// WriteStructFields writes every non-nil field present in fields, ordered
// by the struct's declared field-id order, then leaves it to the caller to
// write STOP (so nested and top-level callers share the same helper).
func (w *Writer) WriteStructFields(spec Spec, fields map[int16]any) error {
	for _, f := range spec.Fields {
		val, ok := fields[f.ID]
		if !ok || val == nil {
			continue
		}
		if err := w.WriteField(f.ID, f.RType, val); err != nil {
			return err
		}
	}
	return nil
}

// WriteStruct encodes a complete top-level struct: pushes the field-id
// stack, writes all present fields, writes STOP, and pops the stack.
func (w *Writer) WriteStruct(spec Spec, fields map[int16]any) error {
	w.PushStruct()
	if err := w.WriteStructFields(spec, fields); err != nil {
		w.PopStruct()
		return err
	}
	w.WriteStop()
	w.PopStruct()
	return nil
}
