package adapters

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ValueKind tags the variants of Value.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindBool
	KindList
	KindMap
)

// Value is a tagged union over the property shapes a clinical resource can
// carry (string | number | bool | list | map). It replaces a dynamic
// property bag while keeping the same key-based access contract, and
// marshals to plain JSON.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	list []Value
	m    map[string]Value
}

func StringValue(s string) Value        { return Value{kind: KindString, str: s} }
func NumberValue(n float64) Value       { return Value{kind: KindNumber, num: n} }
func BoolValue(b bool) Value            { return Value{kind: KindBool, b: b} }
func ListValue(items ...Value) Value    { return Value{kind: KindList, list: items} }
func MapValue(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }
func (v Value) AsNumber() (float64, bool) {
	return v.num, v.kind == KindNumber
}
func (v Value) AsBool() (bool, bool)    { return v.b, v.kind == KindBool }
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }
func (v Value) AsMap() (map[string]Value, bool) {
	return v.m, v.kind == KindMap
}

// Get looks a key up in a map value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	item, ok := v.m[key]
	return item, ok
}

// Text renders the value for display regardless of kind.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return trimFloat(v.num)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	default:
		data, _ := v.MarshalJSON()
		return string(data)
	}
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// FromAny converts a decoded JSON value into the union. Unknown types
// degrade to their string rendering.
func FromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return StringValue("")
	case string:
		return StringValue(t)
	case float64:
		return NumberValue(t)
	case int:
		return NumberValue(float64(t))
	case int64:
		return NumberValue(float64(t))
	case bool:
		return BoolValue(t)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return ListValue(items...)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = FromAny(item)
		}
		return MapValue(m)
	default:
		return StringValue(fmt.Sprintf("%v", t))
	}
}

// SortedKeys returns the keys of a map value in stable order.
func (v Value) SortedKeys() []string {
	if v.kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
