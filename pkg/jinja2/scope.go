package jinja2

// Scope resolves top-level identifiers during evaluation.
type Scope interface {
	Lookup(name string) (Value, bool)
}

// scope is one layer of bindings. Loop iterations get a child layer so their
// assignments never reach other iterations or the enclosing template. If
// branches share the layer they appear in.
type scope struct {
	parent *scope
	vars   map[string]Value
}

func newRootScope(ctx Context) *scope {
	vars := make(map[string]Value, len(ctx))
	for k, v := range ctx {
		vars[k] = v
	}
	return &scope{vars: vars}
}

func (s *scope) child() *scope {
	return &scope{parent: s, vars: map[string]Value{}}
}

func (s *scope) Lookup(name string) (Value, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (s *scope) define(name string, v Value) {
	s.vars[name] = v
}

// appendTo extends the list bound to name in the layer that owns it. The
// list is copied first so values shared with the caller stay untouched.
func (s *scope) appendTo(name string, v Value) bool {
	for cur := s; cur != nil; cur = cur.parent {
		cv, ok := cur.vars[name]
		if !ok {
			continue
		}
		list, ok := cv.(ListValue)
		if !ok {
			return false
		}
		next := make(ListValue, len(list), len(list)+1)
		copy(next, list)
		cur.vars[name] = append(next, v)
		return true
	}
	return false
}
