package jinja2

import "strings"

// The lexer locates the three delimiter forms in template text: variables
// {{ }}, statements {% %} and comments {# #}. Block structure is recovered by
// depth-tracking scans over statement tags rather than a token stream.

// Span is a half-open byte range [Start, End) covering one tag including
// its delimiters.
type Span struct {
	Start, End int
}

type tag struct {
	Span
	name string
	args string
}

// IfMatch describes the depth-0 markers of an if block.
type IfMatch struct {
	Elifs   []Span
	Else    Span
	HasElse bool
	End     Span
}

// removed records a comment cut out of the source: at is the offset in the
// stripped text where the comment used to start.
type removed struct {
	at, n int
}

// StripComments removes every {# ... #} comment. Comments do not nest and an
// unterminated {# is left in place.
func StripComments(src string) string {
	out, _ := stripComments(src)
	return out
}

func stripComments(src string) (string, []removed) {
	if !strings.Contains(src, "{#") {
		return src, nil
	}
	var b strings.Builder
	var cuts []removed
	i := 0
	for {
		j := strings.Index(src[i:], "{#")
		if j < 0 {
			break
		}
		start := i + j
		k := strings.Index(src[start+2:], "#}")
		if k < 0 {
			break
		}
		end := start + 2 + k + 2
		b.WriteString(src[i:start])
		cuts = append(cuts, removed{at: b.Len(), n: end - start})
		i = end
	}
	b.WriteString(src[i:])
	return b.String(), cuts
}

// originalOffset maps an offset in comment-stripped text back to the source.
func originalOffset(off int, cuts []removed) int {
	shift := 0
	for _, c := range cuts {
		if c.at > off {
			break
		}
		shift += c.n
	}
	return off + shift
}

// nextTag returns the first complete {% ... %} tag at or after from.
func nextTag(src string, from int) (tag, bool) {
	for from < len(src) {
		i := strings.Index(src[from:], "{%")
		if i < 0 {
			return tag{}, false
		}
		start := from + i
		j := strings.Index(src[start+2:], "%}")
		if j < 0 {
			return tag{}, false
		}
		content := src[start+2 : start+2+j]
		// An earlier unclosed "{%" belongs to the text; restart at the inner one.
		if k := strings.LastIndex(content, "{%"); k >= 0 {
			from = start + 2 + k
			continue
		}
		name, args := splitNameArgs(content)
		return tag{Span: Span{Start: start, End: start + 2 + j + 2}, name: name, args: args}, true
	}
	return tag{}, false
}

func (t tag) opens(kind string) bool  { return t.name == kind && t.args != "" }
func (t tag) closes(kind string) bool { return t.name == "end"+kind && t.args == "" }

// FindEndFor scans src from offset from, just past a for tag, and returns the
// span of the endfor tag matching it. Nested for blocks are skipped.
func FindEndFor(src string, from int) (Span, bool) {
	depth := 0
	for {
		t, ok := nextTag(src, from)
		if !ok {
			return Span{}, false
		}
		from = t.End
		switch {
		case t.opens("for"):
			depth++
		case t.closes("for"):
			if depth == 0 {
				return t.Span, true
			}
			depth--
		}
	}
}

// FindEndIf scans src from offset from, just past an if tag, and returns the
// matching endif together with the elif and else tags that belong to the
// same if. Only the first else is kept; elif tags after it are ignored.
func FindEndIf(src string, from int) (IfMatch, bool) {
	var m IfMatch
	depth := 0
	for {
		t, ok := nextTag(src, from)
		if !ok {
			return IfMatch{}, false
		}
		from = t.End
		switch {
		case t.opens("if"):
			depth++
		case depth == 0 && t.opens("elif"):
			if !m.HasElse {
				m.Elifs = append(m.Elifs, t.Span)
			}
		case depth == 0 && t.name == "else" && t.args == "":
			if !m.HasElse {
				m.Else, m.HasElse = t.Span, true
			}
		case t.closes("if"):
			if depth == 0 {
				m.End = t.Span
				return m, true
			}
			depth--
		}
	}
}

// nextOutput returns the first {{ expr }} at or after from whose expression
// is non-blank and free of '}'.
func nextOutput(src string, from int) (Span, string, bool) {
	for from < len(src) {
		i := strings.Index(src[from:], "{{")
		if i < 0 {
			return Span{}, "", false
		}
		start := from + i
		j := strings.IndexByte(src[start+2:], '}')
		if j < 0 {
			return Span{}, "", false
		}
		brace := start + 2 + j
		expr := strings.TrimSpace(src[start+2 : brace])
		if expr != "" && brace+1 < len(src) && src[brace+1] == '}' {
			return Span{Start: start, End: brace + 2}, expr, true
		}
		from = start + 1
	}
	return Span{}, "", false
}

func splitNameArgs(stmt string) (name, args string) {
	s := strings.TrimSpace(stmt)
	if s == "" {
		return "", ""
	}
	// First word is name.
	i := 0
	for i < len(s) && !isSpace(s[i]) {
		i++
	}
	name = s[:i]
	args = strings.TrimSpace(s[i:])
	return
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
