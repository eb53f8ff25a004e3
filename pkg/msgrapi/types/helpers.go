// Package types holds the concrete Thrift struct schemas and GraphQL query
// shapes the messenger wire client exchanges, built on the generic
// encode/decode machinery in package thrift. Field layouts and field ids
// are grounded on the upstream client's MQTToT type definitions; undocumented
// fields the upstream leaves unexplained are omitted here the same way.
package types

import (
	"go.mau.fi/mautrix-meta/pkg/msgrapi/thrift"
)

func asI64(m map[string]any, key string) int64 {
	v, _ := m[key].(int64)
	return v
}

func asI64Ptr(m map[string]any, key string) *int64 {
	v, ok := m[key]
	if !ok {
		return nil
	}
	i, ok := v.(int64)
	if !ok {
		return nil
	}
	return &i
}

func asStr(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func asBool(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func asBytes(m map[string]any, key string) []byte {
	v, _ := m[key].([]byte)
	return v
}

func asStrSlice(m map[string]any, key string) []string {
	raw, _ := m[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, _ := v.(string)
		out = append(out, s)
	}
	return out
}

func asStrMap(m map[string]any, key string) map[string]string {
	raw, _ := m[key].(map[any]any)
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		ks, _ := k.(string)
		vs, _ := v.(string)
		out[ks] = vs
	}
	return out
}

func strSliceToAny(v []string) []any {
	out := make([]any, len(v))
	for i, s := range v {
		out[i] = s
	}
	return out
}

func strMapToAny(m map[string]string) map[any]any {
	out := make(map[any]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func structRT(spec thrift.Spec) thrift.RecursiveType {
	return thrift.RecursiveType{Type: thrift.TypeStruct, StructType: spec}
}

func listRT(item thrift.RecursiveType) thrift.RecursiveType {
	it := item
	return thrift.RecursiveType{Type: thrift.TypeList, ItemType: &it}
}

func setRT(item thrift.RecursiveType) thrift.RecursiveType {
	it := item
	return thrift.RecursiveType{Type: thrift.TypeSet, ItemType: &it}
}

func mapStrStrRT() thrift.RecursiveType {
	key := thrift.Prim(thrift.TypeBinary)
	val := thrift.Prim(thrift.TypeBinary)
	return thrift.RecursiveType{Type: thrift.TypeMap, KeyType: &key, ValueType: &val}
}
