// Package attr implements the per-token attribute store: a map from string
// keys to tagged values (UTF-8 string or unsigned 64-bit integer) that the
// selector engine evaluates boolean formulas against.
package attr

import (
	"encoding/json"
	"fmt"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindString Kind = iota
	KindUint64
)

// Value is a tagged union of string and uint64. The zero value is the empty
// string. Accessors are fallible; there is no panic-on-wrong-variant path.
type Value struct {
	kind Kind
	str  string
	num  uint64
}

func String(s string) Value { return Value{kind: KindString, str: s} }
func Uint64(n uint64) Value { return Value{kind: KindUint64, num: n} }

func (v Value) Kind() Kind { return v.kind }

// AsString returns the string variant, reporting whether the value holds one.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// AsUint64 returns the integer variant, reporting whether the value holds one.
func (v Value) AsUint64() (uint64, bool) {
	if v.kind != KindUint64 {
		return 0, false
	}
	return v.num, true
}

func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.str == o.str && v.num == o.num
}

func (v Value) String() string {
	if v.kind == KindUint64 {
		return fmt.Sprintf("%d", v.num)
	}
	return v.str
}

type valueJSON struct {
	Type   string  `json:"type"`
	String *string `json:"string,omitempty"`
	Uint64 *uint64 `json:"uint64,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindUint64:
		n := v.num
		return json.Marshal(valueJSON{Type: "uint64", Uint64: &n})
	default:
		s := v.str
		return json.Marshal(valueJSON{Type: "string", String: &s})
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw valueJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case "string":
		if raw.String == nil {
			return fmt.Errorf("attr: string value missing payload")
		}
		*v = String(*raw.String)
	case "uint64":
		if raw.Uint64 == nil {
			return fmt.Errorf("attr: uint64 value missing payload")
		}
		*v = Uint64(*raw.Uint64)
	default:
		return fmt.Errorf("attr: unknown value type %q", raw.Type)
	}
	return nil
}

// Map is one token's attribute set. Keys are unique; insertion order is
// irrelevant.
type Map map[string]Value

// Clone returns a shallow copy safe to hand out across the store boundary.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
