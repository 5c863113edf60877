package starlark

import (
	"fmt"
	"math"

	"github.com/neurodesk/jinjapreview/pkg/jinja2"
	"go.starlark.net/starlark"
)

// ConvertToStarlark converts a template value to a Starlark value. Integral
// numbers become ints, dict order is kept.
func ConvertToStarlark(val jinja2.Value) starlark.Value {
	if val == nil {
		return starlark.None
	}

	switch v := val.(type) {
	case jinja2.StringValue:
		return starlark.String(string(v))
	case jinja2.NumberValue:
		f := float64(v)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return starlark.MakeInt64(int64(f))
		}
		return starlark.Float(f)
	case jinja2.BoolValue:
		return starlark.Bool(bool(v))
	case jinja2.ListValue:
		items := make([]starlark.Value, len(v))
		for i, item := range v {
			items[i] = ConvertToStarlark(item)
		}
		return starlark.NewList(items)
	case *jinja2.DictValue:
		dict := starlark.NewDict(v.Len())
		for _, key := range v.Keys() {
			item, _ := v.Get(key)
			// SetKey only fails for unhashable keys or frozen dicts.
			_ = dict.SetKey(starlark.String(key), ConvertToStarlark(item))
		}
		return dict
	case jinja2.NoneValue, jinja2.UndefinedValue:
		return starlark.None
	default:
		return starlark.String(val.String())
	}
}

// ConvertFromStarlark converts a Starlark value to a template value. Tuples
// and sets become lists; ints too large for a float64 mantissa and values
// without a template counterpart become strings. A list, dict or set that
// contains itself is an error.
func ConvertFromStarlark(val starlark.Value) (jinja2.Value, error) {
	c := converter{active: map[starlark.Value]bool{}}
	return c.convert(val)
}

type converter struct {
	// active holds the mutable containers being converted.
	active map[starlark.Value]bool
}

func (c *converter) convert(val starlark.Value) (jinja2.Value, error) {
	if val == nil || val == starlark.None {
		return jinja2.NoneValue{}, nil
	}

	switch val.(type) {
	case *starlark.List, *starlark.Dict, *starlark.Set:
		if c.active[val] {
			return nil, fmt.Errorf("cannot convert recursive %s", val.Type())
		}
		c.active[val] = true
		defer delete(c.active, val)
	}

	switch v := val.(type) {
	case starlark.String:
		return jinja2.StringValue(string(v)), nil
	case starlark.Int:
		if i, ok := v.Int64(); ok && i > -(1<<53) && i < 1<<53 {
			return jinja2.NumberValue(i), nil
		}
		return jinja2.StringValue(v.String()), nil
	case starlark.Float:
		return jinja2.NumberValue(float64(v)), nil
	case starlark.Bool:
		return jinja2.BoolValue(bool(v)), nil
	case starlark.Indexable:
		// *List, Tuple and range; strings are handled above.
		items := make(jinja2.ListValue, v.Len())
		for i := 0; i < v.Len(); i++ {
			item, err := c.convert(v.Index(i))
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return items, nil
	case *starlark.Set:
		items := make(jinja2.ListValue, 0, v.Len())
		iter := v.Iterate()
		defer iter.Done()
		var x starlark.Value
		for iter.Next(&x) {
			item, err := c.convert(x)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	case *starlark.Dict:
		dict := jinja2.NewDict()
		for _, kv := range v.Items() {
			key := kv[0].String()
			if keyStr, ok := kv[0].(starlark.String); ok {
				key = string(keyStr)
			}
			item, err := c.convert(kv[1])
			if err != nil {
				return nil, err
			}
			dict.Set(key, item)
		}
		return dict, nil
	}
	return jinja2.StringValue(val.String()), nil
}
