package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind identifies the JSON shape held by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a semi-structured JSON value with an explicit kind tag. Trace
// payloads and tool schemas arrive as arbitrary JSON; keeping the kind
// explicit means shape mismatches surface as typed errors instead of being
// swallowed by interface{} assertions.
type Value struct {
	raw json.RawMessage
}

// NewValue builds a Value from any JSON-marshalable Go value.
func NewValue(v any) (Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("value: marshal: %w", err)
	}
	return Value{raw: raw}, nil
}

// MustValue is NewValue for literals in tests and defaults; panics on error.
func MustValue(v any) Value {
	val, err := NewValue(v)
	if err != nil {
		panic(err)
	}
	return val
}

// Clone returns a copy that does not share the underlying raw bytes.
func (v Value) Clone() Value {
	if len(v.raw) == 0 {
		return Value{}
	}
	return Value{raw: append(json.RawMessage(nil), v.raw...)}
}

// IsZero reports whether the value is absent (never unmarshaled or set).
func (v Value) IsZero() bool {
	return len(v.raw) == 0
}

// Kind inspects the first significant byte of the raw JSON.
func (v Value) Kind() ValueKind {
	raw := bytes.TrimSpace(v.raw)
	if len(raw) == 0 {
		return KindNull
	}
	switch raw[0] {
	case '{':
		return KindObject
	case '[':
		return KindArray
	case '"':
		return KindString
	case 't', 'f':
		return KindBool
	case 'n':
		return KindNull
	default:
		return KindNumber
	}
}

// String returns the string payload, or an error for any other kind.
func (v Value) String() (string, error) {
	if v.Kind() != KindString {
		return "", fmt.Errorf("value: kind is %s, not string", v.Kind())
	}
	var s string
	if err := json.Unmarshal(v.raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

// Number returns the numeric payload, or an error for any other kind.
func (v Value) Number() (float64, error) {
	if v.Kind() != KindNumber {
		return 0, fmt.Errorf("value: kind is %s, not number", v.Kind())
	}
	return strconv.ParseFloat(string(bytes.TrimSpace(v.raw)), 64)
}

// Bool returns the boolean payload, or an error for any other kind.
func (v Value) Bool() (bool, error) {
	if v.Kind() != KindBool {
		return false, fmt.Errorf("value: kind is %s, not bool", v.Kind())
	}
	var b bool
	if err := json.Unmarshal(v.raw, &b); err != nil {
		return false, err
	}
	return b, nil
}

// Object returns the object payload as a map, or an error for any other kind.
func (v Value) Object() (map[string]any, error) {
	if v.Kind() != KindObject {
		return nil, fmt.Errorf("value: kind is %s, not object", v.Kind())
	}
	var m map[string]any
	if err := json.Unmarshal(v.raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Array returns the array payload, or an error for any other kind.
func (v Value) Array() ([]any, error) {
	if v.Kind() != KindArray {
		return nil, fmt.Errorf("value: kind is %s, not array", v.Kind())
	}
	var a []any
	if err := json.Unmarshal(v.raw, &a); err != nil {
		return nil, err
	}
	return a, nil
}

// Interface decodes the value into the closest native Go shape.
func (v Value) Interface() any {
	if v.IsZero() {
		return nil
	}
	var out any
	_ = json.Unmarshal(v.raw, &out)
	return out
}

// MarshalJSON emits the raw payload unchanged, or null when absent.
func (v Value) MarshalJSON() ([]byte, error) {
	if len(v.raw) == 0 {
		return []byte("null"), nil
	}
	return v.raw, nil
}

// UnmarshalJSON captures the raw payload without decoding it.
func (v *Value) UnmarshalJSON(data []byte) error {
	v.raw = append(v.raw[:0], data...)
	return nil
}
