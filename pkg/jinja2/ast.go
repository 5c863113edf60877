package jinja2

// Node is any AST node in a parsed Jinja2 template.
type Node interface {
	node()
}

// Document is the root node produced by Parse.
type Document struct {
	Nodes []Node
	// Problems lists the constructs that were left verbatim.
	Problems []Problem
}

func (*Document) node() {}

// Problem describes a directive the parser could not interpret. Offset is a
// byte offset into the template as given to Parse.
type Problem struct {
	Offset  int
	Message string
}

// TextNode represents literal text between tags, including directives that
// are passed through untouched.
type TextNode struct {
	Text string
}

func (*TextNode) node() {}

// OutputNode represents a variable/output expression: {{ expr }}
type OutputNode struct {
	Expr   string
	Source string
}

func (*OutputNode) node() {}

// SetNode represents an assignment: {% set name = expr %} or
// {% set name = [] %} when EmptyList is set.
type SetNode struct {
	Name      string
	Expr      string
	EmptyList bool
}

func (*SetNode) node() {}

// DoNode represents {% do target.append(expr) %}. Target is empty when the
// statement is not an append; such statements are dropped without effect.
type DoNode struct {
	Target string
	Expr   string
}

func (*DoNode) node() {}

// IfNode represents an if/elif/else block.
type IfNode struct {
	Cond    string
	Then    []Node
	Elifs   []ElifBranch
	Else    []Node
	HasElse bool
	Source  string
}

func (*IfNode) node() {}

// ElifBranch is a single elif condition with its body.
type ElifBranch struct {
	Cond string
	Body []Node
}

// ForNode represents a for loop: {% for target in iterable %}
type ForNode struct {
	Target   string
	Iterable string
	Body     []Node
	Source   string
}

func (*ForNode) node() {}
