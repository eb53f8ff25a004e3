// Package thrift implements the Apache Thrift Compact Binary protocol, plus
// a vendor extension used by the messenger's mobile client: a 32-bit
// little-endian FLOAT type (tag 13) that upstream Thrift does not define.
package thrift

import "fmt"

// TType is a Thrift Compact wire type tag. Most values match the upstream
// Apache Thrift Compact protocol; FLOAT is a client-specific extension.
type TType byte

const (
	TypeStop   TType = 0
	TypeTrue   TType = 1
	TypeFalse  TType = 2
	TypeByte   TType = 3
	TypeI16    TType = 4
	TypeI32    TType = 5
	TypeI64    TType = 6
	TypeDouble TType = 7
	TypeBinary TType = 8
	TypeList   TType = 9
	TypeSet    TType = 10
	TypeMap    TType = 11
	TypeStruct TType = 12
	// TypeFloat is the client's proprietary 32-bit float extension, used for
	// things like audio waveform samples. Not part of upstream Thrift.
	TypeFloat TType = 13

	// TypeBool is never seen on the wire; struct fields collapse BOOL into
	// TypeTrue/TypeFalse at the field header. It exists only so schema
	// descriptors can say "this field is a bool" uniformly.
	TypeBool TType = 0xa1
)

func (t TType) String() string {
	switch t {
	case TypeStop:
		return "STOP"
	case TypeTrue:
		return "TRUE"
	case TypeFalse:
		return "FALSE"
	case TypeByte:
		return "BYTE"
	case TypeI16:
		return "I16"
	case TypeI32:
		return "I32"
	case TypeI64:
		return "I64"
	case TypeDouble:
		return "DOUBLE"
	case TypeBinary:
		return "BINARY"
	case TypeList:
		return "LIST"
	case TypeSet:
		return "SET"
	case TypeMap:
		return "MAP"
	case TypeStruct:
		return "STRUCT"
	case TypeFloat:
		return "FLOAT"
	case TypeBool:
		return "BOOL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}

// RecursiveType is the full type descriptor used for schema-driven decode
// and encode. It mirrors the shape of the Python `RecursiveType` named
// tuple: a wire type tag plus, for containers, the element/key/value type
// descriptors, and for scalar fields a constructor used to convert the
// decoded Go value into the field's declared type (used for enums and for
// binary fields that are logically strings/ids rather than raw bytes).
type RecursiveType struct {
	Type TType
	// ItemType is set for LIST/SET.
	ItemType *RecursiveType
	// KeyType/ValueType are set for MAP.
	KeyType   *RecursiveType
	ValueType *RecursiveType
	// StructType names the Go struct type to decode into, for TypeStruct.
	StructType Spec
	// Convert, if non-nil, is applied to a decoded scalar (after any
	// BINARY->UTF8 conversion) to produce the field's Go value, e.g. to
	// construct an enum from an underlying int, or a named string type from
	// a raw string.
	Convert func(raw any) (any, error)
}

// Prim returns a RecursiveType for a plain primitive wire type with no
// conversion.
func Prim(t TType) RecursiveType {
	return RecursiveType{Type: t}
}

// FieldSpec describes one field of a struct for schema-driven decode and
// encode: its name (used in error messages and by the Go struct via
// reflection-free direct field access in generated accessors) and its
// RecursiveType.
type FieldSpec struct {
	ID    int16
	Name  string
	RType RecursiveType
}

// Spec is the per-struct-type schema: an ordered field list, keyed for
// lookup by id during decode. Equivalent to the Python `thrift_spec` class
// attribute populated by a decorator; here it is an explicit literal table
// built by each schema type's package: dynamic introspection used for
// schema binding there maps to an explicit
// compile-time declaration in the target language".
type Spec struct {
	Name   string
	Fields []FieldSpec
}

// ByID returns the field spec for the given field id, or false if the
// struct type has no such field (the field must then be skipped by type).
func (s Spec) ByID(id int16) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// FieldPathError is returned when a decoded value's wire type does not
// match its schema-declared type, or when a struct can't be constructed
// from decoded fields. It identifies the dotted field path for debugging.
type FieldPathError struct {
	Path string
	Msg  string
}

func (e *FieldPathError) Error() string {
	return fmt.Sprintf("thrift: at %s: %s", e.Path, e.Msg)
}
