package models

import (
	"sort"
	"strconv"
)

// ValueKind identifies the type held by a Value
type ValueKind int

const (
	KindFloat ValueKind = iota
	KindInt
	KindBool
	KindString
)

func (k ValueKind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Value is a small tagged union of the parameter types engines can declare
type Value struct {
	kind ValueKind
	f    float64
	i    int64
	b    bool
	s    string
}

func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }
func IntValue(i int64) Value     { return Value{kind: KindInt, i: i} }
func BoolValue(b bool) Value     { return Value{kind: KindBool, b: b} }
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// Kind returns the type tag
func (v Value) Kind() ValueKind { return v.kind }

// Float returns the value as float64. Int values are widened.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

// Int returns the value as int64
func (v Value) Int() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

// Bool returns the value as bool
func (v Value) Bool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// Str returns the value as string
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// String encodes the value the way it is stored as a node attribute
func (v Value) String() string {
	switch v.kind {
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return v.s
	}
}

// ParseValue decodes a string-encoded attribute into a Value of the given kind
func ParseValue(kind ValueKind, raw string) (Value, error) {
	switch kind {
	case KindFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, err
		}
		return FloatValue(f), nil
	case KindInt:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Value{}, err
		}
		return IntValue(i), nil
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Value{}, err
		}
		return BoolValue(b), nil
	default:
		return StringValue(raw), nil
	}
}

// ParameterSet is a typed key/value store scoped to one beam.
// Keys are namespaced as "<engine>.<parameter>".
type ParameterSet map[string]Value

// Get returns the value stored under key
func (p ParameterSet) Get(key string) (Value, bool) {
	v, ok := p[key]
	return v, ok
}

// Set stores a value, overwriting any previous one
func (p ParameterSet) Set(key string, v Value) {
	p[key] = v
}

// SetIfAbsent stores v only when key is not present yet and reports whether
// it did so. Existing values are never overwritten.
func (p ParameterSet) SetIfAbsent(key string, v Value) bool {
	if _, ok := p[key]; ok {
		return false
	}
	p[key] = v
	return true
}

// Keys returns the keys in sorted order
func (p ParameterSet) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
