package jinja2

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	forHeaderRe = regexp.MustCompile(`^(\w+)\s+in\s+([^%]+)$`)
	setRe       = regexp.MustCompile(`^(\w+)\s*=\s*(.+)$`)
	emptyListRe = regexp.MustCompile(`^\[\s*\]$`)
	appendRe    = regexp.MustCompile(`^(\w+)\.append\((.+)\)$`)
)

// Parse parses a template into a Document. It never fails: comments are
// stripped first, and any directive that cannot be interpreted is kept as
// literal text and reported in Document.Problems. Blocks nested deeper than
// DefaultMaxDepth are kept as literal text.
func Parse(src string) *Document {
	return parseDepth(src, DefaultMaxDepth)
}

func parseDepth(src string, maxDepth int) *Document {
	stripped, cuts := stripComments(src)
	p := &parser{cuts: cuts, maxDepth: maxDepth}
	nodes := p.parse(stripped, 0, 0)
	return &Document{Nodes: nodes, Problems: p.problems}
}

type parser struct {
	cuts     []removed
	problems []Problem
	maxDepth int
}

func (p *parser) report(off int, format string, args ...any) {
	p.problems = append(p.problems, Problem{
		Offset:  originalOffset(off, p.cuts),
		Message: fmt.Sprintf(format, args...),
	})
}

// parse turns text into nodes. base is the offset of text within the
// comment-stripped template and is only used for problem reports. depth is
// the number of blocks enclosing text.
func (p *parser) parse(text string, base, depth int) []Node {
	var nodes []Node
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			nodes = append(nodes, &TextNode{Text: lit.String()})
			lit.Reset()
		}
	}

	// The next output and tag are only searched for again once i has moved
	// past them, so every byte is scanned a bounded number of times.
	i := 0
	out, expr, haveOut := nextOutput(text, 0)
	t, haveTag := nextTag(text, 0)
	for i < len(text) {
		if haveOut && out.Start < i {
			out, expr, haveOut = nextOutput(text, i)
		}
		if haveTag && t.Start < i {
			t, haveTag = nextTag(text, i)
		}
		if !haveOut && !haveTag {
			break
		}

		if haveOut && (!haveTag || out.Start < t.Start) {
			lit.WriteString(text[i:out.Start])
			flush()
			nodes = append(nodes, &OutputNode{Expr: expr, Source: text[out.Start:out.End]})
			i = out.End
			continue
		}

		lit.WriteString(text[i:t.Start])
		switch t.name {
		case "for":
			m := forHeaderRe.FindStringSubmatch(t.args)
			if m == nil {
				p.report(base+t.Start, "malformed for statement %q", t.args)
				lit.WriteString(text[t.Start:t.End])
				i = t.End
				continue
			}
			end, ok := FindEndFor(text, t.End)
			if !ok {
				p.report(base+t.Start, "for block is missing endfor")
				lit.WriteString(text[t.Start:])
				flush()
				return nodes
			}
			if depth >= p.maxDepth {
				p.report(base+t.Start, "for block nested deeper than %d", p.maxDepth)
				lit.WriteString(text[t.Start:end.End])
				i = end.End
				continue
			}
			flush()
			nodes = append(nodes, &ForNode{
				Target:   m[1],
				Iterable: strings.TrimSpace(m[2]),
				Body:     p.parse(text[t.End:end.Start], base+t.End, depth+1),
				Source:   text[t.Start:end.End],
			})
			i = end.End

		case "if":
			if t.args == "" {
				p.report(base+t.Start, "if statement without condition")
				lit.WriteString(text[t.Start:t.End])
				i = t.End
				continue
			}
			m, ok := FindEndIf(text, t.End)
			if !ok {
				p.report(base+t.Start, "if block is missing endif")
				lit.WriteString(text[t.Start:])
				flush()
				return nodes
			}
			if depth >= p.maxDepth {
				p.report(base+t.Start, "if block nested deeper than %d", p.maxDepth)
				lit.WriteString(text[t.Start:m.End.End])
				i = m.End.End
				continue
			}
			flush()
			nodes = append(nodes, p.parseIf(text, base, depth, t, m))
			i = m.End.End

		case "set":
			m := setRe.FindStringSubmatch(t.args)
			if m == nil {
				p.report(base+t.Start, "malformed set statement %q", t.args)
				lit.WriteString(text[t.Start:t.End])
				i = t.End
				continue
			}
			flush()
			value := strings.TrimSpace(m[2])
			nodes = append(nodes, &SetNode{Name: m[1], Expr: value, EmptyList: emptyListRe.MatchString(value)})
			i = t.End

		case "do":
			flush()
			n := &DoNode{}
			if m := appendRe.FindStringSubmatch(t.args); m != nil {
				n.Target, n.Expr = m[1], strings.TrimSpace(m[2])
			} else {
				p.report(base+t.Start, "unsupported do statement %q", t.args)
			}
			nodes = append(nodes, n)
			i = t.End

		default:
			p.report(base+t.Start, "unexpected statement %q", t.name)
			lit.WriteString(text[t.Start:t.End])
			i = t.End
		}
	}
	lit.WriteString(text[i:])
	flush()
	return nodes
}

// parseIf builds an IfNode from the markers found by FindEndIf. Marker
// offsets are relative to text.
func (p *parser) parseIf(text string, base, depth int, open tag, m IfMatch) *IfNode {
	n := &IfNode{Cond: open.args, Source: text[open.Start:m.End.End]}

	bodyEnd := m.End.Start
	switch {
	case len(m.Elifs) > 0:
		bodyEnd = m.Elifs[0].Start
	case m.HasElse:
		bodyEnd = m.Else.Start
	}
	n.Then = p.parse(text[open.End:bodyEnd], base+open.End, depth+1)

	for k, span := range m.Elifs {
		end := m.End.Start
		if k+1 < len(m.Elifs) {
			end = m.Elifs[k+1].Start
		} else if m.HasElse {
			end = m.Else.Start
		}
		_, cond := splitNameArgs(text[span.Start+2 : span.End-2])
		n.Elifs = append(n.Elifs, ElifBranch{
			Cond: cond,
			Body: p.parse(text[span.End:end], base+span.End, depth+1),
		})
	}

	if m.HasElse {
		n.HasElse = true
		n.Else = p.parse(text[m.Else.End:m.End.Start], base+m.Else.End, depth+1)
	}
	return n
}
