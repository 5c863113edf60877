package jinja2

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// Value is an abstract value used by the Jinja evaluator.
// It defines string conversion and truthiness semantics.
type Value interface {
	String() string
	Truth() bool
}

// UndefinedValue is the result of a lookup that did not resolve.
type UndefinedValue struct{}

func (UndefinedValue) String() string { return "" }
func (UndefinedValue) Truth() bool    { return false }

func (UndefinedValue) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// NoneValue represents an explicit null from the data context.
type NoneValue struct{}

func (NoneValue) String() string { return "" }
func (NoneValue) Truth() bool    { return false }

func (NoneValue) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// BoolValue wraps a boolean.
type BoolValue bool

func (b BoolValue) String() string {
	if b {
		return "true"
	}
	return "false"
}
func (b BoolValue) Truth() bool { return bool(b) }

func (b BoolValue) MarshalJSON() ([]byte, error) { return []byte(b.String()), nil }

// NumberValue wraps a number. Integral values print without a fraction.
type NumberValue float64

func (n NumberValue) String() string {
	f := float64(n)
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
func (n NumberValue) Truth() bool { return float64(n) != 0 && !math.IsNaN(float64(n)) }

func (n NumberValue) MarshalJSON() ([]byte, error) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return []byte(n.String()), nil
}

// StringValue wraps a string.
type StringValue string

func (s StringValue) String() string { return string(s) }
func (s StringValue) Truth() bool    { return len(string(s)) > 0 }

func (s StringValue) MarshalJSON() ([]byte, error) { return marshalNoEscape(string(s)) }

// ListValue wraps a list of values. Lists are never modified in place;
// appends produce a new backing array.
type ListValue []Value

// String renders the bracketed literal form, e.g. ["a","b"].
func (l ListValue) String() string { return toJSON(l) }
func (l ListValue) Truth() bool    { return len(l) > 0 }

func (l ListValue) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := marshalValue(v)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// DictValue is a string-keyed mapping that remembers insertion order.
type DictValue struct {
	keys  []string
	items map[string]Value
}

// NewDict returns an empty DictValue.
func NewDict() *DictValue {
	return &DictValue{items: map[string]Value{}}
}

// Set stores v under k. A new key is appended to the key order.
func (d *DictValue) Set(k string, v Value) {
	if d.items == nil {
		d.items = map[string]Value{}
	}
	if _, ok := d.items[k]; !ok {
		d.keys = append(d.keys, k)
	}
	d.items[k] = v
}

// Get returns the value stored under k.
func (d *DictValue) Get(k string) (Value, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.items[k]
	return v, ok
}

// Keys returns the keys in insertion order.
func (d *DictValue) Keys() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

func (d *DictValue) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

func (d *DictValue) String() string { return toJSON(d) }

// Truth is always true: objects reached by a bare path are truthy even when empty.
func (d *DictValue) Truth() bool { return true }

func (d *DictValue) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalNoEscape(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalValue(d.items[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Context is the caller-facing mapping of top-level bindings.
type Context map[string]Value

// Lookup implements Scope.
func (c Context) Lookup(name string) (Value, bool) {
	v, ok := c[name]
	return v, ok
}

func marshalValue(v Value) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	if m, ok := v.(json.Marshaler); ok {
		return m.MarshalJSON()
	}
	return marshalNoEscape(v.String())
}

// marshalNoEscape encodes v as JSON without escaping <, > and &; the
// output is embedded in HTML documents verbatim.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func toJSON(v Value) string {
	b, err := marshalValue(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// NewContextFromAny converts a map[string]any into a Value-based Context.
// It recursively converts nested maps/slices into DictValue/ListValue.
func NewContextFromAny(m map[string]any) Context {
	ctx := Context{}
	for k, v := range m {
		ctx[k] = FromGo(v)
	}
	return ctx
}

// FromGo converts a Go value to a Value. Go maps carry no order, so their
// keys are inserted sorted.
func FromGo(v any) Value {
	if v == nil {
		return NoneValue{}
	}
	switch t := v.(type) {
	case Value:
		return t
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case int:
		return NumberValue(t)
	case int32:
		return NumberValue(t)
	case int64:
		return NumberValue(t)
	case uint:
		return NumberValue(t)
	case uint64:
		return NumberValue(t)
	case float32:
		return NumberValue(t)
	case float64:
		return NumberValue(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return StringValue(t.String())
		}
		return NumberValue(f)
	case []byte:
		return StringValue(string(t))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		out := make(ListValue, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, FromGo(rv.Index(i).Interface()))
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			keys := make([]string, 0, rv.Len())
			for _, k := range rv.MapKeys() {
				keys = append(keys, k.String())
			}
			sort.Strings(keys)
			out := NewDict()
			for _, k := range keys {
				out.Set(k, FromGo(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface()))
			}
			return out
		}
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return NoneValue{}
		}
		return FromGo(rv.Elem().Interface())
	}
	// Fallback: string formatting
	return StringValue(fmt.Sprintf("%v", v))
}

// isMissing reports whether v is undefined or null.
func isMissing(v Value) bool {
	switch v.(type) {
	case nil, UndefinedValue, NoneValue:
		return true
	}
	return false
}
