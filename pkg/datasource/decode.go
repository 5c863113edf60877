package datasource

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/neurodesk/jinjapreview/pkg/jinja2"
	"github.com/neurodesk/jinjapreview/pkg/starlark"
	"gopkg.in/yaml.v3"
)

// ErrInvalidDataFormat is returned when data cannot be parsed or its top
// level is not an object.
var ErrInvalidDataFormat = errors.New("invalid data format")

// Decode parses data into a template context. The format follows the
// extension of name: .json, .yaml, .yml or .star (a Starlark script whose
// top-level bindings become the context). Other names are sniffed: JSON
// when the first non-blank byte is '{', YAML otherwise.
func Decode(name string, data []byte) (jinja2.Context, error) {
	return decode(name, data, nil, nil)
}

func decode(name string, data []byte, prior jinja2.Context, logger *slog.Logger) (jinja2.Context, error) {
	var (
		v   jinja2.Value
		err error
	)
	switch format(name, data) {
	case "star":
		ev := starlark.NewEvaluator(logger)
		ev.LoadContext(prior)
		if _, err := ev.ExecFile(name, data); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		ctx, err := ev.ExportContext()
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", name, ErrInvalidDataFormat, err)
		}
		return ctx, nil
	case "json":
		v, err = decodeJSON(data)
	default:
		v, err = decodeYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", name, ErrInvalidDataFormat, err)
	}
	return toContext(name, v)
}

func format(name string, data []byte) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	case ".star":
		return "star"
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return "json"
	}
	return "yaml"
}

func toContext(name string, v jinja2.Value) (jinja2.Context, error) {
	d, ok := v.(*jinja2.DictValue)
	if !ok {
		return nil, fmt.Errorf("%s: %w: top level must be an object", name, ErrInvalidDataFormat)
	}
	ctx := make(jinja2.Context, d.Len())
	for _, k := range d.Keys() {
		ctx[k], _ = d.Get(k)
	}
	return ctx, nil
}

// decodeJSON reads a single JSON value token by token so object keys keep
// their document order.
func decodeJSON(data []byte) (jinja2.Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := readJSON(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after top-level value")
	}
	return v, nil
}

func readJSON(dec *json.Decoder) (jinja2.Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			d := jinja2.NewDict()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, _ := kt.(string)
				v, err := readJSON(dec)
				if err != nil {
					return nil, err
				}
				d.Set(key, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return d, nil
		case '[':
			list := jinja2.ListValue{}
			for dec.More() {
				v, err := readJSON(dec)
				if err != nil {
					return nil, err
				}
				list = append(list, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return list, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return jinja2.NumberValue(f), nil
	case string:
		return jinja2.StringValue(t), nil
	case bool:
		return jinja2.BoolValue(t), nil
	case nil:
		return jinja2.NoneValue{}, nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

func decodeYAML(data []byte) (jinja2.Value, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 {
		return nil, errors.New("empty document")
	}
	return FromYAMLNode(&doc)
}

// maxAliasExpansion bounds the number of nodes produced by following
// aliases in one document.
const maxAliasExpansion = 100_000

// FromYAMLNode converts a decoded YAML node tree into a template value.
// Mapping order is kept, aliases are followed and merge keys (<<) are
// expanded. An alias that refers to a node containing it, or aliases that
// expand to more than maxAliasExpansion nodes, are errors.
func FromYAMLNode(n *yaml.Node) (jinja2.Value, error) {
	c := &yamlConverter{active: map[*yaml.Node]bool{}}
	return c.convert(n)
}

type yamlConverter struct {
	// active holds the anchors whose expansion is in progress.
	active map[*yaml.Node]bool
	// aliased counts the nodes converted below an alias.
	aliased int
}

func (c *yamlConverter) convert(n *yaml.Node) (jinja2.Value, error) {
	if len(c.active) > 0 {
		c.aliased++
		if c.aliased > maxAliasExpansion {
			return nil, fmt.Errorf("line %d: aliases expand to more than %d nodes", n.Line, maxAliasExpansion)
		}
	}
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return jinja2.NoneValue{}, nil
		}
		return c.convert(n.Content[0])
	case yaml.AliasNode:
		if n.Alias == nil {
			return nil, fmt.Errorf("line %d: unknown alias %q", n.Line, n.Value)
		}
		if c.active[n.Alias] {
			return nil, fmt.Errorf("line %d: alias %q refers to itself", n.Line, n.Value)
		}
		c.active[n.Alias] = true
		defer delete(c.active, n.Alias)
		return c.convert(n.Alias)
	case yaml.SequenceNode:
		list := make(jinja2.ListValue, 0, len(n.Content))
		for _, item := range n.Content {
			v, err := c.convert(item)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil
	case yaml.MappingNode:
		d := jinja2.NewDict()
		if err := c.mergeMapping(d, n); err != nil {
			return nil, err
		}
		return d, nil
	case yaml.ScalarNode:
		return scalar(n)
	}
	return nil, fmt.Errorf("line %d: unsupported YAML node kind %d", n.Line, n.Kind)
}

func (c *yamlConverter) mergeMapping(d *jinja2.DictValue, n *yaml.Node) error {
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, val := n.Content[i], n.Content[i+1]
		if k.Tag == "!!merge" {
			if err := c.mergeInto(d, val); err != nil {
				return err
			}
			continue
		}
		v, err := c.convert(val)
		if err != nil {
			return err
		}
		d.Set(k.Value, v)
	}
	return nil
}

// mergeInto applies a merge key value: one mapping or a sequence of them.
// Keys already present win over merged ones.
func (c *yamlConverter) mergeInto(d *jinja2.DictValue, n *yaml.Node) error {
	v, err := c.convert(n)
	if err != nil {
		return err
	}
	var sources []jinja2.Value
	switch t := v.(type) {
	case *jinja2.DictValue:
		sources = []jinja2.Value{t}
	case jinja2.ListValue:
		sources = t
	default:
		return fmt.Errorf("line %d: merge value must be a mapping", n.Line)
	}
	for _, src := range sources {
		m, ok := src.(*jinja2.DictValue)
		if !ok {
			return fmt.Errorf("line %d: merge value must be a mapping", n.Line)
		}
		for _, k := range m.Keys() {
			if _, exists := d.Get(k); !exists {
				mv, _ := m.Get(k)
				d.Set(k, mv)
			}
		}
	}
	return nil
}

func scalar(n *yaml.Node) (jinja2.Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return jinja2.NoneValue{}, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, err
		}
		return jinja2.BoolValue(b), nil
	case "!!int", "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return nil, err
		}
		return jinja2.NumberValue(f), nil
	}
	return jinja2.StringValue(n.Value), nil
}
