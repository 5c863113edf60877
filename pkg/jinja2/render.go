package jinja2

import (
	"log/slog"
	"strings"
)

const (
	// DefaultMaxInputLength bounds the template size a Renderer accepts.
	DefaultMaxInputLength = 1 << 20
	// DefaultMaxDepth bounds for/if nesting.
	DefaultMaxDepth = 64
)

// Renderer evaluates parsed templates. Render never fails: anything that
// cannot be resolved is written out as it appeared in the template.
type Renderer struct {
	Evaluator *Evaluator
	Logger    *slog.Logger
	// MaxInputLength is the longest template rendered; longer input is
	// returned unchanged. Zero means DefaultMaxInputLength.
	MaxInputLength int
	// MaxDepth is the deepest for/if nesting expanded; deeper blocks are
	// written out verbatim. Zero means DefaultMaxDepth.
	MaxDepth int
}

func NewRenderer() *Renderer {
	return &Renderer{Evaluator: NewEvaluator()}
}

var defaultRenderer = NewRenderer()

// Render renders template against ctx with the default limits.
func Render(template string, ctx Context) string {
	return defaultRenderer.Render(template, ctx)
}

// Render parses and renders template. ctx is never modified.
func (r *Renderer) Render(template string, ctx Context) string {
	if limit := r.maxInputLength(); len(template) > limit {
		r.logger().Warn("template too long, rendering skipped", "length", len(template), "max", limit)
		return template
	}
	return r.RenderDocument(parseDepth(template, r.maxDepth()), ctx)
}

// RenderDocument renders an already parsed template.
func (r *Renderer) RenderDocument(doc *Document, ctx Context) string {
	var b strings.Builder
	r.renderNodes(&b, doc.Nodes, newRootScope(ctx), 0)
	return b.String()
}

// renderNodes renders one node list in four passes: assignments, loops,
// interpolation and conditionals. A later pass observes every mutation made
// by an earlier one, regardless of where the nodes sit in the text.
func (r *Renderer) renderNodes(b *strings.Builder, nodes []Node, s *scope, depth int) {
	out := make([]string, len(nodes))

	for _, n := range nodes {
		switch t := n.(type) {
		case *SetNode:
			if t.EmptyList {
				s.define(t.Name, ListValue{})
				continue
			}
			s.define(t.Name, r.eval().Evaluate(t.Expr, s))
		case *DoNode:
			r.execDo(t, s)
		}
	}

	for i, n := range nodes {
		if t, ok := n.(*ForNode); ok {
			out[i] = r.renderFor(t, s, depth+1)
		}
	}

	for i, n := range nodes {
		switch t := n.(type) {
		case *TextNode:
			out[i] = t.Text
		case *OutputNode:
			v := r.eval().Evaluate(t.Expr, s)
			if isMissing(v) {
				r.logger().Debug("unresolved expression", "expr", t.Expr)
				out[i] = t.Source
				continue
			}
			out[i] = v.String()
		}
	}

	for i, n := range nodes {
		if t, ok := n.(*IfNode); ok {
			out[i] = r.renderIf(t, s, depth+1)
		}
	}

	for _, o := range out {
		b.WriteString(o)
	}
}

func (r *Renderer) execDo(n *DoNode, s *scope) {
	if n.Target == "" {
		return
	}
	v := r.eval().Evaluate(n.Expr, s)
	if isMissing(v) || v == StringValue("") {
		return
	}
	if !s.appendTo(n.Target, v) {
		r.logger().Debug("append target is not a list", "target", n.Target)
	}
}

func (r *Renderer) renderFor(n *ForNode, s *scope, depth int) string {
	if depth > r.maxDepth() {
		r.logger().Warn("for block nested too deep, left as is", "depth", depth)
		return n.Source
	}
	items, ok := r.loopSource(n.Iterable, s).(ListValue)
	if !ok || len(items) == 0 {
		return ""
	}
	var b strings.Builder
	length := len(items)
	for i, item := range items {
		iter := s.child()
		iter.define(n.Target, item)
		iter.define("loop", loopRecord(i, length))
		r.renderNodes(&b, n.Body, iter, depth)
	}
	return b.String()
}

// loopSource resolves the iterable of a for tag. Filters are ignored.
func (r *Renderer) loopSource(expr string, s *scope) Value {
	return r.eval().Evaluate(splitPipes(expr)[0], s)
}

func loopRecord(i, length int) *DictValue {
	loop := NewDict()
	loop.Set("index", NumberValue(i+1))
	loop.Set("index0", NumberValue(i))
	loop.Set("first", BoolValue(i == 0))
	loop.Set("last", BoolValue(i == length-1))
	loop.Set("length", NumberValue(length))
	loop.Set("revindex", NumberValue(length-i))
	loop.Set("revindex0", NumberValue(length-i-1))
	return loop
}

func (r *Renderer) renderIf(n *IfNode, s *scope, depth int) string {
	if depth > r.maxDepth() {
		r.logger().Warn("if block nested too deep, left as is", "depth", depth)
		return n.Source
	}
	body, ok := r.chooseBranch(n, s)
	if !ok {
		return ""
	}
	var b strings.Builder
	r.renderNodes(&b, body, s, depth)
	return b.String()
}

func (r *Renderer) chooseBranch(n *IfNode, s *scope) ([]Node, bool) {
	if r.eval().EvaluateCondition(n.Cond, s) {
		return n.Then, true
	}
	for _, e := range n.Elifs {
		if r.eval().EvaluateCondition(e.Cond, s) {
			return e.Body, true
		}
	}
	if n.HasElse {
		return n.Else, true
	}
	return nil, false
}

func (r *Renderer) eval() *Evaluator {
	if r.Evaluator == nil {
		return defaultEvaluator
	}
	return r.Evaluator
}

var defaultEvaluator = NewEvaluator()

func (r *Renderer) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *Renderer) maxInputLength() int {
	if r.MaxInputLength <= 0 {
		return DefaultMaxInputLength
	}
	return r.MaxInputLength
}

func (r *Renderer) maxDepth() int {
	if r.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return r.MaxDepth
}
