package alarms

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValueType is the declared type of an argument.
type ValueType string

const (
	ValueNumeric ValueType = "NUMERIC"
	ValueString  ValueType = "STRING"
	ValueBoolean ValueType = "BOOLEAN"
)

// Valid returns true when value type is supported.
func (t ValueType) Valid() bool {
	switch t {
	case ValueNumeric, ValueString, ValueBoolean:
		return true
	default:
		return false
	}
}

// Value is a typed scalar.
type Value struct {
	Type ValueType
	Num  float64
	Str  string
	Bool bool
}

// Number builds a numeric value.
func Number(v float64) Value { return Value{Type: ValueNumeric, Num: v} }

// String builds a string value.
func String(v string) Value { return Value{Type: ValueString, Str: v} }

// Boolean builds a boolean value.
func Boolean(v bool) Value { return Value{Type: ValueBoolean, Bool: v} }

// ParseScalar converts a decoded JSON scalar into a Value.
func ParseScalar(raw any) (Value, bool) {
	switch v := raw.(type) {
	case nil:
		return Value{}, false
	case float64:
		return Number(v), true
	case float32:
		return Number(float64(v)), true
	case int:
		return Number(float64(v)), true
	case int64:
		return Number(float64(v)), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return String(v.String()), true
		}
		return Number(f), true
	case string:
		return String(v), true
	case bool:
		return Boolean(v), true
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return Value{}, false
		}
		return String(string(data)), true
	default:
		return String(fmt.Sprint(v)), true
	}
}

// Float returns the numeric form of the value. Booleans read as 1 or 0.
func (v Value) Float() (float64, bool) {
	switch v.Type {
	case ValueNumeric:
		return v.Num, true
	case ValueBoolean:
		if v.Bool {
			return 1, true
		}
		return 0, true
	case ValueString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Boolean returns the boolean form of the value. Numbers read as > 0.
func (v Value) Boolean() (bool, bool) {
	switch v.Type {
	case ValueBoolean:
		return v.Bool, true
	case ValueNumeric:
		return v.Num > 0, true
	case ValueString:
		b, err := strconv.ParseBool(strings.TrimSpace(v.Str))
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

// Text returns the string form of the value.
func (v Value) Text() (string, bool) {
	switch v.Type {
	case ValueString:
		return v.Str, true
	case ValueNumeric:
		return strconv.FormatFloat(v.Num, 'f', -1, 64), true
	case ValueBoolean:
		return strconv.FormatBool(v.Bool), true
	default:
		return "", false
	}
}

// As converts the value to the given type.
func (v Value) As(t ValueType) (Value, bool) {
	switch t {
	case ValueNumeric:
		f, ok := v.Float()
		return Number(f), ok
	case ValueBoolean:
		b, ok := v.Boolean()
		return Boolean(b), ok
	case ValueString:
		s, ok := v.Text()
		return String(s), ok
	default:
		return Value{}, false
	}
}

func (v Value) String() string {
	s, _ := v.Text()
	return s
}

// MarshalJSON encodes the value as its native JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Type {
	case ValueNumeric:
		return json.Marshal(v.Num)
	case ValueBoolean:
		return json.Marshal(v.Bool)
	case ValueString:
		return json.Marshal(v.Str)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a JSON scalar.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, ok := ParseScalar(raw)
	if !ok {
		*v = Value{}
		return nil
	}
	*v = parsed
	return nil
}

// UnmarshalYAML decodes a YAML scalar.
func (v *Value) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, ok := ParseScalar(raw)
	if !ok {
		*v = Value{}
		return nil
	}
	*v = parsed
	return nil
}
