package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind identifies which member of the Value union is set.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
)

// Value is a metadata value: a string, a number or a bool.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
}

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// NumberValue returns a numeric Value.
func NumberValue(n float64) Value { return Value{kind: KindNumber, num: n} }

// BoolValue returns a boolean Value.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind returns the union member that is set.
func (v Value) Kind() ValueKind { return v.kind }

// Str returns the string member and whether v holds a string.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Number returns the numeric member and whether v holds a number.
func (v Value) Number() (float64, bool) { return v.num, v.kind == KindNumber }

// Bool returns the boolean member and whether v holds a bool.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// String renders the value for display.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// MarshalJSON encodes the set member as a bare JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a JSON string, number, bool or null.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty metadata value")
	}
	switch data[0] {
	case 'n':
		*v = Value{}
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
		return nil
	case '{', '[':
		return fmt.Errorf("unsupported metadata value: nested objects and arrays are not allowed")
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = NumberValue(n)
		return nil
	}
}
