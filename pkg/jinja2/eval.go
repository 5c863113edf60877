package jinja2

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Filter transforms a value. arg is the raw text between the parentheses of
// the filter call, or "" when the filter was written without them.
type Filter func(e *Evaluator, v Value, arg string, s Scope) Value

// Filters is a registry of filter functions keyed by name.
type Filters map[string]Filter

// DefaultFilters returns the filters understood by templates.
func DefaultFilters() Filters {
	return Filters{
		"length": func(_ *Evaluator, v Value, _ string, _ Scope) Value {
			if l, ok := v.(ListValue); ok {
				return NumberValue(len(l))
			}
			return NumberValue(0)
		},
		"join": func(_ *Evaluator, v Value, arg string, _ Scope) Value {
			l, ok := v.(ListValue)
			if !ok {
				return v
			}
			parts := make([]string, len(l))
			for i, item := range l {
				if !isMissing(item) {
					parts[i] = item.String()
				}
			}
			return StringValue(strings.Join(parts, trimQuotes(arg)))
		},
		"upper": func(_ *Evaluator, v Value, _ string, _ Scope) Value {
			return mapScalar(v, upper)
		},
		"lower": func(_ *Evaluator, v Value, _ string, _ Scope) Value {
			return mapScalar(v, lower)
		},
		"title": func(_ *Evaluator, v Value, _ string, _ Scope) Value {
			return mapScalar(v, title)
		},
		"default": func(e *Evaluator, v Value, arg string, s Scope) Value {
			if isMissing(v) || v == StringValue("") {
				return e.defaultArg(arg, s)
			}
			return v
		},
	}
}

// Evaluator resolves expressions and conditions against a Scope. The zero
// value uses DefaultFilters.
type Evaluator struct {
	Filters Filters
}

func NewEvaluator() *Evaluator { return &Evaluator{Filters: DefaultFilters()} }

var (
	numberRe     = regexp.MustCompile(`^-?\d+(?:\.\d+)?$`)
	intRe        = regexp.MustCompile(`^-?\d+$`)
	methodRe     = regexp.MustCompile(`^(.+?)\.(\w+)\((.*)\)$`)
	filterCallRe = regexp.MustCompile(`^(\w+)(?:\((.*)\))?$`)
	pathTokenRe  = regexp.MustCompile(`(\w+)|(\[(.*?)\])`)
	inRe         = regexp.MustCompile(`^["'](.+?)["']\s+in\s+(.+)$`)
	wordRe       = regexp.MustCompile(`\w\S*`)
)

// Evaluate resolves a value expression: a literal, a path, a method call or
// any of these followed by a filter pipeline. Anything that does not
// resolve yields UndefinedValue.
func (e *Evaluator) Evaluate(expr string, s Scope) Value {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return UndefinedValue{}
	}
	parts := splitPipes(expr)
	val := e.operand(parts[0], s)
	for _, f := range parts[1:] {
		m := filterCallRe.FindStringSubmatch(f)
		if m == nil {
			continue
		}
		fn := e.filters()[m[1]]
		if fn == nil {
			continue
		}
		val = fn(e, val, strings.TrimSpace(m[2]), s)
	}
	return val
}

func (e *Evaluator) filters() Filters {
	if e.Filters == nil {
		return defaultFilters
	}
	return e.Filters
}

var defaultFilters = DefaultFilters()

// operand evaluates an expression without filters.
func (e *Evaluator) operand(expr string, s Scope) Value {
	expr = strings.TrimSpace(expr)
	switch {
	case expr == "":
		return UndefinedValue{}
	case isQuoted(expr):
		return StringValue(expr[1 : len(expr)-1])
	case expr == "true":
		return BoolValue(true)
	case expr == "false":
		return BoolValue(false)
	case numberRe.MatchString(expr):
		f, _ := strconv.ParseFloat(expr, 64)
		return NumberValue(f)
	}
	if m := methodRe.FindStringSubmatch(expr); m != nil {
		return callMethod(e.resolvePath(m[1], s), m[2], m[3])
	}
	return e.resolvePath(expr, s)
}

// callMethod emulates the handful of string methods templates use. Methods
// applied to non-strings, and unknown methods, return the receiver as is.
func callMethod(recv Value, method, arg string) Value {
	str, ok := recv.(StringValue)
	if !ok {
		return recv
	}
	switch method {
	case "strip":
		return StringValue(strings.TrimSpace(string(str)))
	case "upper":
		return StringValue(upper(string(str)))
	case "lower":
		return StringValue(lower(string(str)))
	case "split":
		var parts []string
		if sep := unescape(trimQuotes(strings.TrimSpace(arg))); sep != "" {
			parts = strings.Split(string(str), sep)
		} else {
			parts = strings.Fields(string(str))
		}
		out := make(ListValue, len(parts))
		for i, p := range parts {
			out[i] = StringValue(p)
		}
		return out
	}
	return recv
}

// resolvePath walks identifiers and bracket selectors starting at the scope.
func (e *Evaluator) resolvePath(path string, s Scope) Value {
	tokens := pathTokenRe.FindAllStringSubmatch(strings.TrimSpace(path), -1)
	if len(tokens) == 0 {
		return UndefinedValue{}
	}
	var cur Value
	for i, tok := range tokens {
		if tok[1] != "" {
			if i == 0 {
				v, ok := s.Lookup(tok[1])
				if !ok || v == nil {
					return UndefinedValue{}
				}
				cur = v
				continue
			}
			d, ok := cur.(*DictValue)
			if !ok {
				return UndefinedValue{}
			}
			v, ok := d.Get(tok[1])
			if !ok {
				return UndefinedValue{}
			}
			cur = v
			continue
		}
		list, ok := cur.(ListValue)
		if !ok {
			return UndefinedValue{}
		}
		selector := strings.TrimSpace(tok[3])
		if strings.Contains(selector, ":") {
			cur = e.slice(list, selector, s)
		} else {
			cur = e.index(list, selector, s)
		}
	}
	return cur
}

func (e *Evaluator) index(list ListValue, selector string, s Scope) Value {
	var idx int
	if intRe.MatchString(selector) {
		n, err := strconv.Atoi(selector)
		if err != nil {
			return UndefinedValue{}
		}
		idx = n
	} else {
		f, ok := toNumber(e.resolvePath(selector, s))
		if !ok || math.IsInf(f, 0) || f != math.Trunc(f) {
			return UndefinedValue{}
		}
		idx = int(f)
	}
	if idx < 0 {
		idx += len(list)
	}
	if idx < 0 || idx >= len(list) {
		return UndefinedValue{}
	}
	return list[idx]
}

// slice follows Array.prototype.slice: negative bounds count from the end,
// out of range bounds are clamped and bounds that do not resolve to a
// number fall back to the start or the end of the list.
func (e *Evaluator) slice(list ListValue, selector string, s Scope) Value {
	lo, hi, _ := strings.Cut(selector, ":")
	n := len(list)
	start := e.bound(strings.TrimSpace(lo), 0, n, s)
	end := e.bound(strings.TrimSpace(hi), n, n, s)
	if start >= end {
		return ListValue{}
	}
	out := make(ListValue, end-start)
	copy(out, list[start:end])
	return out
}

func (e *Evaluator) bound(expr string, def, n int, s Scope) int {
	if expr == "" {
		return def
	}
	var f float64
	if numberRe.MatchString(expr) {
		f, _ = strconv.ParseFloat(expr, 64)
	} else {
		v, ok := toNumber(e.resolvePath(expr, s))
		if !ok {
			return def
		}
		f = v
	}
	if math.IsNaN(f) {
		return def
	}
	f = math.Trunc(f)
	if f < 0 {
		f += float64(n)
	}
	return int(math.Max(0, math.Min(f, float64(n))))
}

// defaultArg resolves the fallback of the default filter: a quoted literal,
// a number, a path that resolves, or finally the raw argument text.
func (e *Evaluator) defaultArg(arg string, s Scope) Value {
	switch {
	case arg == "":
		return StringValue("")
	case isQuoted(arg):
		return StringValue(arg[1 : len(arg)-1])
	case numberRe.MatchString(arg):
		f, _ := strconv.ParseFloat(arg, 64)
		return NumberValue(f)
	}
	if v := e.resolvePath(arg, s); !isMissing(v) {
		return v
	}
	return StringValue(arg)
}

// EvaluateCondition evaluates the condition of an if or elif tag. The forms
// are tried in order: and, or, a quoted substring test with in, a binary
// comparison, not, then the truthiness of the expression itself.
func (e *Evaluator) EvaluateCondition(cond string, s Scope) bool {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return false
	}

	if parts := splitKeyword(cond, " and "); len(parts) > 1 {
		for _, p := range parts {
			if !e.EvaluateCondition(p, s) {
				return false
			}
		}
		return true
	}
	if parts := splitKeyword(cond, " or "); len(parts) > 1 {
		for _, p := range parts {
			if e.EvaluateCondition(p, s) {
				return true
			}
		}
		return false
	}

	if m := inRe.FindStringSubmatch(cond); m != nil {
		str, ok := e.Evaluate(m[2], s).(StringValue)
		if !ok {
			return false
		}
		return strings.Contains(string(str), unescape(m[1]))
	}

	if left, op, right, ok := splitComparison(cond); ok {
		return compare(e.conditionOperand(left, s), op, e.conditionOperand(right, s))
	}

	if rest, ok := strings.CutPrefix(cond, "not "); ok {
		return !e.EvaluateCondition(rest, s)
	}

	return e.Evaluate(cond, s).Truth()
}

// conditionOperand is Evaluate with escape sequences honoured in string
// literals, and numeric strings read as numbers.
func (e *Evaluator) conditionOperand(expr string, s Scope) Value {
	expr = strings.TrimSpace(expr)
	var v Value
	if isQuoted(expr) {
		v = StringValue(unescape(expr[1 : len(expr)-1]))
	} else {
		v = e.Evaluate(expr, s)
	}
	if str, ok := v.(StringValue); ok && numberRe.MatchString(string(str)) {
		f, _ := strconv.ParseFloat(string(str), 64)
		return NumberValue(f)
	}
	return v
}

var comparisonOps = []string{"==", "!=", ">=", "<=", ">", "<"}

// splitComparison finds the leftmost comparison operator outside quotes and
// parentheses.
func splitComparison(cond string) (left, op, right string, ok bool) {
	var quote byte
	depth := 0
	for i := 0; i < len(cond); i++ {
		c := cond[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
			continue
		case '(':
			depth++
			continue
		case ')':
			if depth > 0 {
				depth--
			}
			continue
		}
		if i == 0 || depth > 0 {
			continue
		}
		for _, candidate := range comparisonOps {
			if !strings.HasPrefix(cond[i:], candidate) {
				continue
			}
			l := strings.TrimSpace(cond[:i])
			r := strings.TrimSpace(cond[i+len(candidate):])
			if l == "" || r == "" {
				break
			}
			return l, candidate, r, true
		}
	}
	return "", "", "", false
}

func compare(a Value, op string, b Value) bool {
	switch op {
	case "==":
		return Equal(a, b)
	case "!=":
		return !Equal(a, b)
	}
	var c int
	switch x := a.(type) {
	case NumberValue:
		y, ok := b.(NumberValue)
		if !ok || math.IsNaN(float64(x)) || math.IsNaN(float64(y)) {
			return false
		}
		c = cmpOrdered(float64(x), float64(y))
	case StringValue:
		y, ok := b.(StringValue)
		if !ok {
			return false
		}
		c = strings.Compare(string(x), string(y))
	default:
		return false
	}
	switch op {
	case ">":
		return c > 0
	case "<":
		return c < 0
	case ">=":
		return c >= 0
	case "<=":
		return c <= 0
	}
	return false
}

func cmpOrdered(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// Equal reports whether two values are equal. Lists and dicts compare by
// content; null and undefined are only equal to themselves.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case UndefinedValue:
		_, ok := b.(UndefinedValue)
		return ok
	case NoneValue:
		_, ok := b.(NoneValue)
		return ok
	case BoolValue:
		y, ok := b.(BoolValue)
		return ok && x == y
	case NumberValue:
		y, ok := b.(NumberValue)
		return ok && x == y
	case StringValue:
		y, ok := b.(StringValue)
		return ok && x == y
	case ListValue:
		y, ok := b.(ListValue)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case *DictValue:
		y, ok := b.(*DictValue)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for _, k := range x.Keys() {
			xv, _ := x.Get(k)
			yv, found := y.Get(k)
			if !found || !Equal(xv, yv) {
				return false
			}
		}
		return true
	}
	return false
}

// splitPipes splits an expression on '|' outside quotes and parentheses.
func splitPipes(s string) []string {
	return splitOutside(s, "|")
}

// splitKeyword splits on sep outside quotes. A single element means sep did
// not occur.
func splitKeyword(s, sep string) []string {
	return splitOutside(s, sep)
}

func splitOutside(s, sep string) []string {
	var parts []string
	var b strings.Builder
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			b.WriteByte(c)
			if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"':
			quote = c
			b.WriteByte(c)
		case c == '(':
			depth++
			b.WriteByte(c)
		case c == ')':
			if depth > 0 {
				depth--
			}
			b.WriteByte(c)
		case depth == 0 && strings.HasPrefix(s[i:], sep):
			parts = append(parts, strings.TrimSpace(b.String()))
			b.Reset()
			i += len(sep) - 1
		default:
			b.WriteByte(c)
		}
	}
	parts = append(parts, strings.TrimSpace(b.String()))
	return parts
}

func isQuoted(s string) bool {
	if len(s) < 2 {
		return false
	}
	return (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'')
}

// trimQuotes drops one leading and one trailing quote character, each
// independently.
func trimQuotes(s string) string {
	if s != "" && (s[0] == '"' || s[0] == '\'') {
		s = s[1:]
	}
	if s != "" && (s[len(s)-1] == '"' || s[len(s)-1] == '\'') {
		s = s[:len(s)-1]
	}
	return s
}

var escapes = strings.NewReplacer(`\\n`, "\n", `\n`, "\n", `\\t`, "\t", `\t`, "\t")

func unescape(s string) string { return escapes.Replace(s) }

// toNumber reads numbers and numeric strings.
func toNumber(v Value) (float64, bool) {
	switch t := v.(type) {
	case NumberValue:
		return float64(t), true
	case StringValue:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
		return f, err == nil
	}
	return 0, false
}

// mapScalar applies fn to the string form of strings, numbers and booleans.
// Missing values and containers pass through.
func mapScalar(v Value, fn func(string) string) Value {
	switch v.(type) {
	case StringValue, NumberValue, BoolValue:
		return StringValue(fn(v.String()))
	}
	return v
}

// Casers hold state, so each call gets its own.
func upper(s string) string { return cases.Upper(language.Und).String(s) }
func lower(s string) string { return cases.Lower(language.Und).String(s) }

// title upper-cases the first character of each word and lower-cases the rest.
func title(s string) string {
	return wordRe.ReplaceAllStringFunc(s, func(w string) string {
		return upper(w[:1]) + lower(w[1:])
	})
}
