package thrift

import (
	"bytes"
	"math"
	"math/rand"
	"testing"
)

func TestZigZagRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 2, -2, math.MaxInt64, math.MinInt64, 1 << 40, -(1 << 40)}
	for _, c := range cases {
		if got := fromZigZag(toZigZag(c)); got != c {
			t.Fatalf("zigzag round trip failed for %d: got %d", c, got)
		}
	}
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		v := int64(r.Uint64())
		if got := fromZigZag(toZigZag(v)); got != v {
			t.Fatalf("zigzag round trip failed for %d: got %d", v, got)
		}
	}
}

func TestVarintRoundTripAndMaxLength(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 2000; i++ {
		v := r.Uint64()
		w := NewWriter()
		w.WriteVarint(v)
		if len(w.Bytes()) > 10 {
			t.Fatalf("varint for %d encoded to %d bytes, want <= 10", v, len(w.Bytes()))
		}
		rd := NewReader(w.Bytes())
		got, err := rd.ReadVarint()
		if err != nil {
			t.Fatal(err)
		}
		if got != v {
			t.Fatalf("varint round trip failed for %d: got %d", v, got)
		}
	}
}

// simpleSpec models a toy struct: 1:i64 id, 2:binary(as string) name,
// 3:list<i32> nums, 4:bool flag, 5: map<string,i32> counts, 6: float sample.
var simpleSpec = Spec{
	Name: "Simple",
	Fields: []FieldSpec{
		{ID: 1, Name: "id", RType: Prim(TypeI64)},
		{ID: 2, Name: "name", RType: RecursiveType{Type: TypeBinary, Convert: func(raw any) (any, error) { return raw.(string), nil }}},
		{ID: 3, Name: "nums", RType: RecursiveType{Type: TypeList, ItemType: ptrRT(Prim(TypeI32))}},
		{ID: 4, Name: "flag", RType: Prim(TypeBool)},
		{ID: 5, Name: "counts", RType: RecursiveType{Type: TypeMap, KeyType: ptrRT(RecursiveType{Type: TypeBinary, Convert: func(raw any) (any, error) { return raw.(string), nil }}), ValueType: ptrRT(Prim(TypeI32))}},
		{ID: 6, Name: "sample", RType: Prim(TypeFloat)},
	},
}

func ptrRT(r RecursiveType) *RecursiveType { return &r }

func TestStructRoundTrip(t *testing.T) {
	fields := map[int16]any{
		1: int64(42),
		2: "hello",
		3: []any{int64(1), int64(2), int64(3)},
		4: true,
		5: map[any]any{"a": int64(1), "b": int64(2)},
		6: float64(1.5),
	}
	w := NewWriter()
	if err := w.WriteStruct(simpleSpec, fields); err != nil {
		t.Fatal(err)
	}
	r := NewReader(w.Bytes())
	decoded, err := r.ReadStruct(simpleSpec, "root")
	if err != nil {
		t.Fatal(err)
	}
	if decoded["id"].(int64) != 42 {
		t.Errorf("id mismatch: %v", decoded["id"])
	}
	if decoded["name"].(string) != "hello" {
		t.Errorf("name mismatch: %v", decoded["name"])
	}
	nums := decoded["nums"].([]any)
	if len(nums) != 3 || nums[0].(int64) != 1 {
		t.Errorf("nums mismatch: %v", nums)
	}
	if decoded["flag"].(bool) != true {
		t.Errorf("flag mismatch: %v", decoded["flag"])
	}
	counts := decoded["counts"].(map[any]any)
	if counts["a"].(int64) != 1 || counts["b"].(int64) != 2 {
		t.Errorf("counts mismatch: %v", counts)
	}
	if math.Abs(decoded["sample"].(float64)-1.5) > 1e-6 {
		t.Errorf("sample mismatch: %v", decoded["sample"])
	}
}

func TestEmptyMapIsSingleZeroByte(t *testing.T) {
	w := NewWriter()
	err := w.WriteMap(TypeBinary, TypeI32, map[any]any{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(w.Bytes(), []byte{0}) {
		t.Fatalf("expected single zero byte for empty map, got %v", w.Bytes())
	}
	r := NewReader(w.Bytes())
	kt, vt, length, err := r.ReadMapHeader()
	if err != nil {
		t.Fatal(err)
	}
	if kt != TypeStop || vt != TypeStop || length != 0 {
		t.Fatalf("expected empty map header, got %v %v %d", kt, vt, length)
	}
}

func TestNonEmptyMapDoesNotCollapseToZeroByte(t *testing.T) {
	// Regression test for the upstream `if not map:` bug: a map with
	// exactly one entry must still be written as a real map, not
	// misdetected as empty.
	w := NewWriter()
	err := w.WriteMap(TypeBinary, TypeI32, map[any]any{"x": 1},
		func(wr *Writer, k any) error { return wr.WriteVal(TypeBinary, k) },
		func(wr *Writer, v any) error { wr.WriteInt(int64(v.(int))); return nil })
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(w.Bytes(), []byte{0}) {
		t.Fatalf("single-entry map must not encode as the empty-map zero byte")
	}
	r := NewReader(w.Bytes())
	_, _, length, err := r.ReadMapHeader()
	if err != nil {
		t.Fatal(err)
	}
	if length != 1 {
		t.Fatalf("expected length 1, got %d", length)
	}
}

func TestSkipUnknownFieldLeavesIdenticalResult(t *testing.T) {
	withExtra := Spec{Name: "WithExtra", Fields: append(append([]FieldSpec{}, simpleSpec.Fields...),
		FieldSpec{ID: 7, Name: "extra", RType: Prim(TypeI64)})}

	fields := map[int16]any{
		1: int64(42),
		2: "hello",
		3: []any{int64(1)},
		4: false,
		5: map[any]any{},
		6: float64(0.5),
		7: int64(999),
	}
	w := NewWriter()
	if err := w.WriteStruct(withExtra, fields); err != nil {
		t.Fatal(err)
	}
	payload := w.Bytes()

	// Decoding with the schema that doesn't know about field 7 must skip it
	// and produce the same result as if it were absent entirely.
	r1 := NewReader(payload)
	decodedWithUnknown, err := r1.ReadStruct(simpleSpec, "root")
	if err != nil {
		t.Fatal(err)
	}

	fieldsWithout := map[int16]any{1: int64(42), 2: "hello", 3: []any{int64(1)}, 4: false, 5: map[any]any{}, 6: float64(0.5)}
	w2 := NewWriter()
	if err := w2.WriteStruct(simpleSpec, fieldsWithout); err != nil {
		t.Fatal(err)
	}
	r2 := NewReader(w2.Bytes())
	decodedWithout, err := r2.ReadStruct(simpleSpec, "root")
	if err != nil {
		t.Fatal(err)
	}

	if len(decodedWithUnknown) != len(decodedWithout) {
		t.Fatalf("skip-by-type changed decoded field count: %v vs %v", decodedWithUnknown, decodedWithout)
	}
	for k, v := range decodedWithout {
		if fv, ok := decodedWithUnknown[k]; !ok || toComparable(fv) != toComparable(v) {
			t.Fatalf("field %s mismatch after skip: %v vs %v", k, fv, v)
		}
	}
}

func toComparable(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func TestTypeMismatchFailsWithFieldPath(t *testing.T) {
	w := NewWriter()
	w.PushStruct()
	// Field 1 is declared i64 in simpleSpec but we write it as binary.
	w.writeFieldBegin(TypeBinary, 1, 0)
	w.WriteBinary([]byte("oops"))
	w.WriteStop()
	w.PopStruct()

	r := NewReader(w.Bytes())
	_, err := r.ReadStruct(simpleSpec, "root")
	if err == nil {
		t.Fatal("expected type mismatch error")
	}
	fpErr, ok := err.(*FieldPathError)
	if !ok {
		t.Fatalf("expected *FieldPathError, got %T: %v", err, err)
	}
	if fpErr.Path != "root" {
		t.Fatalf("expected path 'root', got %q", fpErr.Path)
	}
}

func TestFloatExtensionRoundTrip(t *testing.T) {
	w := NewWriter()
	if err := w.WriteVal(TypeFloat, float64(float32(3.25))); err != nil {
		t.Fatal(err)
	}
	r := NewReader(w.Bytes())
	got, err := r.ReadVal(TypeFloat)
	if err != nil {
		t.Fatal(err)
	}
	if got.(float32) != 3.25 {
		t.Fatalf("float round trip failed: got %v", got)
	}
}
