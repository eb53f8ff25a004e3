package thrift

import (
	"fmt"
	"io"
)

const alphaStart = 'a'
const alphaLength = 'z' - 'a' + 1

// structID returns an incrementing alphabetical identifier (a, b, ..., z,
// aa, ab, ...) used to label structs during schema-less pretty-printing, so
// that a reverse-engineer can cross-reference nested starts/ends in the
// output without a schema to name them by.
func (r *Reader) structID() string {
	r.prevStructID++
	n := r.prevStructID
	return string(rune(alphaStart+n/alphaLength)) + string(rune(alphaStart+n%alphaLength))
}

// PrettyPrint walks the buffer structurally, with no schema, printing a
// human-readable dump to w. Useful for debugging and reverse-engineering
// unknown payloads.
func (r *Reader) PrettyPrint(w io.Writer, fieldType TType, indent, prefix string) error {
	if prefix != "" {
		fmt.Fprintf(w, "%s%s ", indent, prefix)
	}
	switch fieldType {
	case TypeList, TypeSet:
		itemType, length, err := r.ReadListHeader()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s %d items\n", itemType, length)
		for i := 0; i < length; i++ {
			if err := r.PrettyPrint(w, itemType, indent+"  ", fmt.Sprintf("%d.", i+1)); err != nil {
				return err
			}
		}
		return nil
	case TypeMap:
		keyType, valueType, length, err := r.ReadMapHeader()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "<%s: %s> - %d items\n", keyType, valueType, length)
		for i := 0; i < length; i++ {
			key, err := r.ReadVal(keyType)
			if err != nil {
				return err
			}
			if err := r.PrettyPrint(w, valueType, indent+"  ", fmt.Sprintf("%v:", key)); err != nil {
				return err
			}
		}
		return nil
	case TypeStruct:
		id := r.structID()
		fmt.Fprintf(w, "start-%s\n", id)
		r.pushStack()
		for {
			subfieldType, subfieldIndex, err := r.ReadField()
			if err != nil {
				r.popStack()
				return err
			}
			if subfieldType == TypeStop {
				break
			}
			if err := r.PrettyPrint(w, subfieldType, indent+"  ", fmt.Sprintf("%d (%s):", subfieldIndex, subfieldType)); err != nil {
				r.popStack()
				return err
			}
		}
		fmt.Fprintf(w, "%send-%s\n", indent, id)
		r.popStack()
		return nil
	default:
		val, err := r.ReadVal(fieldType)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%v\n", val)
		return nil
	}
}
