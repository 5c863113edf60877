package jinja2

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseTextAndOutput(t *testing.T) {
	doc := Parse("Hello {{ name }}!")
	want := []Node{
		&TextNode{Text: "Hello "},
		&OutputNode{Expr: "name", Source: "{{ name }}"},
		&TextNode{Text: "!"},
	}
	if diff := cmp.Diff(want, doc.Nodes); diff != "" {
		t.Fatalf("nodes mismatch (-want +got):\n%s", diff)
	}
	if len(doc.Problems) != 0 {
		t.Fatalf("unexpected problems: %v", doc.Problems)
	}
}

func TestParseNestedFor(t *testing.T) {
	inner := "{% for e in s.entries %}{{ e }}{% endfor %}"
	src := "{% for s in sections %}" + inner + "{% endfor %}"
	want := []Node{
		&ForNode{
			Target:   "s",
			Iterable: "sections",
			Source:   src,
			Body: []Node{
				&ForNode{
					Target:   "e",
					Iterable: "s.entries",
					Source:   inner,
					Body:     []Node{&OutputNode{Expr: "e", Source: "{{ e }}"}},
				},
			},
		},
	}
	if diff := cmp.Diff(want, Parse(src).Nodes); diff != "" {
		t.Fatalf("nodes mismatch (-want +got):\n%s", diff)
	}
}

func TestParseIfChain(t *testing.T) {
	doc := Parse("{% if a %}A{% elif b %}B{% elif c %}C{% else %}D{% endif %}")
	if len(doc.Nodes) != 1 {
		t.Fatalf("want 1 node, got %d", len(doc.Nodes))
	}
	n, ok := doc.Nodes[0].(*IfNode)
	if !ok {
		t.Fatalf("node0 not If: %#v", doc.Nodes[0])
	}
	if n.Cond != "a" || len(n.Elifs) != 2 || n.Elifs[0].Cond != "b" || n.Elifs[1].Cond != "c" || !n.HasElse {
		t.Fatalf("unexpected if node: %#v", n)
	}
	if diff := cmp.Diff([]Node{&TextNode{Text: "D"}}, n.Else); diff != "" {
		t.Fatalf("else mismatch (-want +got):\n%s", diff)
	}
}

func TestParseStatements(t *testing.T) {
	doc := Parse("{% set xs = [ ] %}{% set n = user.name %}{% do xs.append(n) %}{% do xs.pop() %}")
	want := []Node{
		&SetNode{Name: "xs", Expr: "[ ]", EmptyList: true},
		&SetNode{Name: "n", Expr: "user.name"},
		&DoNode{Target: "xs", Expr: "n"},
		&DoNode{},
	}
	if diff := cmp.Diff(want, doc.Nodes); diff != "" {
		t.Fatalf("nodes mismatch (-want +got):\n%s", diff)
	}
	if len(doc.Problems) != 1 {
		t.Fatalf("want 1 problem for the unsupported do, got %v", doc.Problems)
	}
}

func TestParseProblems(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want []Problem
	}{
		{"unterminated if", "{% if x %}no end", []Problem{{Offset: 0, Message: "if block is missing endif"}}},
		{"unterminated for", "ab{% for x in xs %}", []Problem{{Offset: 2, Message: "for block is missing endfor"}}},
		{"stray endif after comment", "{# note #}{% endif %}", []Problem{{Offset: 10, Message: `unexpected statement "endif"`}}},
		{"malformed for", "{% for xs %}", []Problem{{Offset: 0, Message: `malformed for statement "xs"`}}},
		{"balanced", "{% if a %}{% for x in a %}{% endfor %}{% endif %}", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, Parse(tc.src).Problems); diff != "" {
				t.Fatalf("problems mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFindEndIfSkipsNested(t *testing.T) {
	src := "{% if a %}A{% if b %}B{% else %}x{% endif %}{% elif c %}C{% else %}D{% else %}E{% endif %}tail"
	m, ok := FindEndIf(src, len("{% if a %}"))
	if !ok {
		t.Fatal("no match")
	}
	if len(m.Elifs) != 1 || src[m.Elifs[0].Start:m.Elifs[0].End] != "{% elif c %}" {
		t.Fatalf("elifs: %#v", m.Elifs)
	}
	if !m.HasElse || src[m.Else.End:m.Else.End+1] != "D" {
		t.Fatalf("else should be the first depth-0 else: %#v", m.Else)
	}
	if src[m.End.End:] != "tail" {
		t.Fatalf("end at %d", m.End.End)
	}
	if _, ok := FindEndIf("{% if a %}{% if b %}{% endif %}", len("{% if a %}")); ok {
		t.Fatal("want unmatched for unbalanced if")
	}
}

func TestFindEndFor(t *testing.T) {
	src := "{% for a in b %}{% for c in d %}{% endfor %}{%endfor%}!"
	end, ok := FindEndFor(src, len("{% for a in b %}"))
	if !ok {
		t.Fatal("no match")
	}
	if src[end.Start:end.End] != "{%endfor%}" {
		t.Fatalf("matched %q", src[end.Start:end.End])
	}
}

func TestStripComments(t *testing.T) {
	if got := StripComments("a{# x {# y #}b{# unterminated"); got != "ab{# unterminated" {
		t.Fatalf("got %q", got)
	}
}

func sampleContext() Context {
	return NewContextFromAny(map[string]any{
		"a":      "x",
		"name":   "",
		"skills": []any{"A", "B", "C"},
		"user":   map[string]any{"first": "ada", "last": "LOVELACE", "title": "  Dr  "},
		"n":      2,
		"flag":   true,
		"text":   "line one\nline two",
		"csv":    "go,rust",
	})
}

func TestRender(t *testing.T) {
	cases := []struct {
		name string
		tpl  string
		ctx  Context
		want string
	}{
		{"interpolate", "{{ a }}", Context{"a": StringValue("x")}, "x"},
		{"length empty", "{% if skills|length > 0 %}Y{% else %}N{% endif %}", Context{"skills": ListValue{}}, "N"},
		{"length non-empty", "{% if skills|length > 0 %}Y{% else %}N{% endif %}", Context{"skills": ListValue{StringValue("Go")}}, "Y"},
		{"for", "{% for s in skills %}{{ s }},{% endfor %}", Context{"skills": ListValue{StringValue("A"), StringValue("B")}}, "A,B,"},
		{"negative index", "{{ skills[-1] }}", sampleContext(), "C"},
		{"default", "{{ name|default('Anon') }}", sampleContext(), "Anon"},
		{"unresolved", "Hi {{ missing.name }}!", sampleContext(), "Hi {{ missing.name }}!"},
		{"unterminated", "{% if x %}no end", Context{"x": BoolValue(true)}, "{% if x %}no end"},
		{"comments", "a{# hidden #}b", nil, "ab"},
		{"list literal", "{{ skills }}", sampleContext(), `["A","B","C"]`},
		{"join", "{{ skills|join(' | ') }}", sampleContext(), "A | B | C"},
		{"slice", "{{ skills[1:]|join(',') }}", sampleContext(), "B,C"},
		{"slice variable bound", "{{ skills[:n]|join(',') }}", sampleContext(), "A,B"},
		{"slice negative", "{{ skills[-2:]|join(',') }}", sampleContext(), "B,C"},
		{"title", "{{ user.first|title }} {{ user.last|title }}", sampleContext(), "Ada Lovelace"},
		{"upper lower", "{{ user.first|upper }}{{ user.last|lower }}", sampleContext(), "ADAlovelace"},
		{"strip", "[{{ user.title.strip() }}]", sampleContext(), "[Dr]"},
		{"bool", "{{ flag }}", sampleContext(), "true"},
		{"number", "{{ n }}", sampleContext(), "2"},
		{"split source", `{% for p in csv.split(",") %}[{{ p }}]{% endfor %}`, sampleContext(), "[go][rust]"},
		{"filtered source", "{% for s in skills|length %}{{ s }}{% endfor %}", sampleContext(), "ABC"},
		{"elif", "{% if n == 1 %}one{% elif n == 2 %}two{% else %}many{% endif %}", sampleContext(), "two"},
		{"else", "{% if n == 1 %}one{% elif n == 3 %}three{% else %}many{% endif %}", sampleContext(), "many"},
		{"no branch", "<{% if n == 1 %}one{% endif %}>", sampleContext(), "<>"},
		{"in escape", `{% if "\n" in text %}multi{% else %}single{% endif %}`, sampleContext(), "multi"},
		{"and or", "{% if flag and n > 1 %}a{% endif %}{% if missing or flag %}b{% endif %}", sampleContext(), "ab"},
		{"not", "{% if not name %}anon{% endif %}", sampleContext(), "anon"},
		{"numeric string equality", "{% if v == 3 %}eq{% endif %}", Context{"v": StringValue("3")}, "eq"},
		{"mixed relational fails closed", "{% if flag > 0 %}Y{% else %}N{% endif %}", sampleContext(), "N"},
		{"loop record", "{% for s in skills %}{{ loop.index }}/{{ loop.length }}{% if loop.last %}.{% else %},{% endif %}{% endfor %}", sampleContext(), "1/3,2/3,3/3."},
		{"loop revindex", "{% for s in skills %}{{ loop.revindex0 }}{% if loop.first %}!{% endif %}{% endfor %}", sampleContext(), "2!10"},
		{"empty loop", "[{% for s in missing %}x{% endfor %}]", sampleContext(), "[]"},
		{"set", "{% set who = user.first %}{{ who }}", sampleContext(), "ada"},
		{"set literal", "{% set who = 'Bob' %}{{ who }}", nil, "Bob"},
		{"set before use", "{{ who }}{% set who = 'Bob' %}", nil, "Bob"},
		{"set in branch visible after endif", "{% if a %}{% set who = 'Bob' %}{% endif %}[{% if who %}{{ who }}{% endif %}]", Context{"a": BoolValue(true)}, "[Bob]"},
		{"set in untaken branch", "{% if a %}{% set who = 'Bob' %}{% endif %}[{% if who %}{{ who }}{% endif %}]", Context{"a": BoolValue(false)}, "[]"},
		{"set in elif branch", "{% if a %}{% elif b %}{% set who = 'Eve' %}{% endif %}{% if who %}{{ who }}{% endif %}", Context{"b": BoolValue(true)}, "Eve"},
		{"set does not leak from loop", "{% for s in skills %}{% set last = s %}{% endfor %}{{ last }}", sampleContext(), "{{ last }}"},
		{"stray tag", "a{% endfor %}b", nil, "a{% endfor %}b"},
		{"unknown filter", "{{ a|shout }}", sampleContext(), "x"},
		{"directive in value", "{{ a }}", Context{"a": StringValue("{{ b }}")}, "{{ b }}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Render(tc.tpl, tc.ctx); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRenderNonNumericBounds(t *testing.T) {
	xs := ListValue{StringValue("a"), StringValue("b")}
	bounds := []struct {
		name string
		k    Value
	}{
		{"nan string", StringValue("NaN")},
		{"nan number", NumberValue(math.NaN())},
		{"word", StringValue("abc")},
		{"infinity", NumberValue(math.Inf(-1))},
		{"missing", nil},
	}
	templates := []struct {
		tpl  string
		want string
	}{
		{"{{ xs[k:]|join(',') }}", "a,b"},
		{"{{ xs[:k]|join(',') }}", "a,b"},
		{"{% for x in xs[k:] %}{{ x }}{% endfor %}", "ab"},
		{"{{ xs[k] }}", "{{ xs[k] }}"},
	}
	for _, b := range bounds {
		ctx := Context{"xs": xs}
		if b.k != nil {
			ctx["k"] = b.k
		}
		for _, tc := range templates {
			t.Run(b.name+" "+tc.tpl, func(t *testing.T) {
				if b.name == "infinity" && tc.tpl == "{{ xs[:k]|join(',') }}" {
					tc.want = ""
				}
				if got := Render(tc.tpl, ctx); got != tc.want {
					t.Fatalf("got %q, want %q", got, tc.want)
				}
			})
		}
	}
}

func TestParseDepthLimit(t *testing.T) {
	const levels = DefaultMaxDepth + 5
	tpl := strings.Repeat("{% if a %}", levels) + "x" + strings.Repeat("{% endif %}", levels)
	doc := Parse(tpl)
	if len(doc.Problems) != 1 || doc.Problems[0].Message != fmt.Sprintf("if block nested deeper than %d", DefaultMaxDepth) {
		t.Fatalf("problems = %v", doc.Problems)
	}
	want := strings.Repeat("{% if a %}", 5) + "x" + strings.Repeat("{% endif %}", 5)
	if got := Render(tpl, Context{"a": BoolValue(true)}); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	r := &Renderer{MaxDepth: 2}
	loops := "{% for a in xs %}{% for b in xs %}{% for c in xs %}{{ c }}{% endfor %}{% endfor %}{% endfor %}"
	got := r.Render(loops, Context{"xs": ListValue{StringValue("1")}})
	if got != "{% for c in xs %}{{ c }}{% endfor %}" {
		t.Fatalf("got %q", got)
	}
}

func TestParseManyTagsBeforeOutput(t *testing.T) {
	tpl := strings.Repeat("{% set a = 1 %}", 20000) + "{{ a }}"
	if got := Render(tpl, nil); got != "1" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderAppendAcrossIterations(t *testing.T) {
	tpl := "{{ picked|join(', ') }}{% set picked = [] %}" +
		"{% for x in xs %}{% if x %}{% do picked.append(x) %}{% endif %}{% endfor %}"
	ctx := Context{"xs": ListValue{StringValue("a"), StringValue(""), StringValue("b")}}
	if got := Render(tpl, ctx); got != "a, b" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderDoesNotMutateContext(t *testing.T) {
	xs := ListValue{StringValue("a")}
	ctx := Context{"xs": xs}
	if got := Render("{% do xs.append('b') %}{{ xs|length }}", ctx); got != "2" {
		t.Fatalf("got %q", got)
	}
	if l := ctx["xs"].(ListValue); len(l) != 1 {
		t.Fatalf("caller list modified: %v", l)
	}
	if got := Render("{% do a.append('b') %}{{ a }}", Context{"a": StringValue("x")}); got != "x" {
		t.Fatalf("append to non-list: got %q", got)
	}
}

func TestRenderNestedLoopsDoNotShadow(t *testing.T) {
	sections := NewContextFromAny(map[string]any{
		"sections": []any{
			map[string]any{"title": "Work", "entries": []any{
				map[string]any{"name": "Acme"},
				map[string]any{"name": "Globex"},
			}},
			map[string]any{"title": "School", "entries": []any{
				map[string]any{"name": "MIT"},
			}},
		},
	})
	tpl := "{% for section in sections %}{{ section.title }}:" +
		"{% for entry in section.entries %}{{ entry.name }}{% if not loop.last %},{% endif %}{% endfor %};" +
		"{% endfor %}"
	if got := Render(tpl, sections); got != "Work:Acme,Globex;School:MIT;" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderLimits(t *testing.T) {
	r := &Renderer{MaxDepth: 1}
	tpl := "{% if a %}<{% if a %}x{% endif %}>{% endif %}"
	if got := r.Render(tpl, Context{"a": BoolValue(true)}); got != "<{% if a %}x{% endif %}>" {
		t.Fatalf("depth: got %q", got)
	}
	r = &Renderer{MaxInputLength: 5}
	if got := r.Render("{{ a }}", Context{"a": StringValue("x")}); got != "{{ a }}" {
		t.Fatalf("length: got %q", got)
	}
}

func TestRenderIdempotent(t *testing.T) {
	tpl := "<ul>{% for s in skills %}<li>{{ s|lower }}</li>{% endfor %}</ul>{% if flag %}{{ user.first|title }}{% endif %}"
	ctx := sampleContext()
	once := Render(tpl, ctx)
	if twice := Render(once, ctx); twice != once {
		t.Fatalf("second render changed output:\n%s\n%s", once, twice)
	}
	if strings.Contains(once, "{%") || strings.Contains(once, "{{") {
		t.Fatalf("residual directives in %q", once)
	}
}

func TestTemplateStringValidate(t *testing.T) {
	if err := TemplateString("{% if a %}ok{% endif %}").Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := TemplateString("line\n  {% for x in xs %}").Validate()
	if err == nil {
		t.Fatal("want error")
	}
	if !strings.Contains(err.Error(), "2:3: for block is missing endfor") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPretty(t *testing.T) {
	got := Pretty(Parse("{% set xs = [] %}{% for x in xs %}{{ x }}{% endfor %}"))
	want := "Document\n  Set(xs = [])\n  For(x in \"xs\")\n    Output(\"x\")\n"
	if got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestWalkCountsOutputs(t *testing.T) {
	doc := Parse("{{ a }}{% if b %}{{ c }}{% else %}{% for d in e %}{{ d }}{% endfor %}{% endif %}")
	n := 0
	err := Walk(VisitorFunc(func(node Node) error {
		if _, ok := node.(*OutputNode); ok {
			n++
		}
		return nil
	}), doc)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("want 3 outputs, got %d", n)
	}
}
