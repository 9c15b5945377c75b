package variables

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindMap
	KindList
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a process variable value. It is a closed sum type: exactly one of
// string, number, bool, null, map or list. The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	m    map[string]Value
	list []Value
}

// Null returns the null value
func Null() Value { return Value{} }

// String returns a string value
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a numeric value
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Bool returns a boolean value
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Map returns a nested map value. The map is copied.
func Map(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMap, m: cp}
}

// List returns a list value. The slice is copied.
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Kind returns the variant held by v
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null
func (v Value) IsNull() bool { return v.kind == KindNull }

// Text converts v to a string. Strings are returned as is, numbers and
// booleans are stringified literally, maps and lists are rendered as JSON.
// Null yields ("", false).
func (v Value) Text() (string, bool) {
	switch v.kind {
	case KindString:
		return v.str, true
	case KindNumber:
		return formatNumber(v.num), true
	case KindBool:
		return strconv.FormatBool(v.b), true
	case KindMap, KindList:
		data, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(data), true
	default:
		return "", false
	}
}

// Float converts v to a number. Numbers are returned as is and strings are
// parsed; anything else, or a string that does not parse, yields (0, false).
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Truth converts v to a boolean. Booleans are returned as is and strings are
// parsed with strconv.ParseBool; anything else yields (false, false).
func (v Value) Truth() (bool, bool) {
	switch v.kind {
	case KindBool:
		return v.b, true
	case KindString:
		b, err := strconv.ParseBool(strings.TrimSpace(v.str))
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

// Entries returns a copy of the nested map, or nil when v is not a map
func (v Value) Entries() map[string]Value {
	if v.kind != KindMap {
		return nil
	}
	cp := make(map[string]Value, len(v.m))
	for k, item := range v.m {
		cp[k] = item
	}
	return cp
}

// Items returns a copy of the list, or nil when v is not a list
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	cp := make([]Value, len(v.list))
	copy(cp, v.list)
	return cp
}

// Equal reports whether v and o hold the same variant and content
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, item := range v.m {
			other, ok := o.m[k]
			if !ok || !item.Equal(other) {
				return false
			}
		}
		return true
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Interface returns the plain Go representation used by encoding/json
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.Interface()
		}
		return out
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// GoString renders v for debugging output
func (v Value) GoString() string {
	s, ok := v.Text()
	if !ok {
		return "null"
	}
	if v.kind == KindString {
		return strconv.Quote(s)
	}
	return s
}

// FromInterface converts a decoded JSON value (or any plain Go scalar) into a Value
func FromInterface(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Number(n), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			val, err := FromInterface(item)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = val
		}
		return Value{kind: KindMap, m: m}, nil
	case []any:
		list := make([]Value, len(t))
		for i, item := range t {
			val, err := FromInterface(item)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			list[i] = val
		}
		return Value{kind: KindList, list: list}, nil
	default:
		return Value{}, fmt.Errorf("unsupported variable type %T", x)
	}
}

// MarshalJSON implements json.Marshaler
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindMap:
		// sorted keys keep encoded payloads stable
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			item, err := v.m[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			sb.Write(key)
			sb.WriteByte(':')
			sb.Write(item)
		}
		sb.WriteByte('}')
		return []byte(sb.String()), nil
	case KindList:
		return json.Marshal(v.list)
	default:
		return json.Marshal(v.Interface())
	}
}

// UnmarshalJSON implements json.Unmarshaler
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	val, err := FromInterface(raw)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
