package jinja2

import (
	"bytes"
	"fmt"
)

type Visitor interface {
	Visit(n Node) error
}

// Walk visits n and then its children depth first, stopping at the first
// error.
func Walk(v Visitor, n Node) error {
	if err := v.Visit(n); err != nil {
		return err
	}
	switch t := n.(type) {
	case *Document:
		return walkAll(v, t.Nodes)
	case *IfNode:
		if err := walkAll(v, t.Then); err != nil {
			return err
		}
		for _, e := range t.Elifs {
			if err := walkAll(v, e.Body); err != nil {
				return err
			}
		}
		return walkAll(v, t.Else)
	case *ForNode:
		return walkAll(v, t.Body)
	}
	return nil
}

func walkAll(v Visitor, nodes []Node) error {
	for _, c := range nodes {
		if err := Walk(v, c); err != nil {
			return err
		}
	}
	return nil
}

// VisitorFunc adapts a function to Visitor.
type VisitorFunc func(n Node) error

func (f VisitorFunc) Visit(n Node) error { return f(n) }

// Pretty returns a line-oriented string representation of the AST.
func Pretty(doc *Document) string {
	var buf bytes.Buffer
	ppNode(&buf, 0, doc)
	return buf.String()
}

func ppNode(buf *bytes.Buffer, indent int, n Node) {
	ind := func() {
		for i := 0; i < indent; i++ {
			buf.WriteByte(' ')
		}
	}
	children := func(nodes []Node) {
		for _, c := range nodes {
			ppNode(buf, indent+2, c)
		}
	}
	switch t := n.(type) {
	case *Document:
		ind()
		buf.WriteString("Document\n")
		children(t.Nodes)
	case *TextNode:
		ind()
		fmt.Fprintf(buf, "Text(%q)\n", t.Text)
	case *OutputNode:
		ind()
		fmt.Fprintf(buf, "Output(%q)\n", t.Expr)
	case *SetNode:
		ind()
		if t.EmptyList {
			fmt.Fprintf(buf, "Set(%s = [])\n", t.Name)
		} else {
			fmt.Fprintf(buf, "Set(%s = %q)\n", t.Name, t.Expr)
		}
	case *DoNode:
		ind()
		if t.Target == "" {
			buf.WriteString("Do(noop)\n")
		} else {
			fmt.Fprintf(buf, "Do(%s.append(%q))\n", t.Target, t.Expr)
		}
	case *IfNode:
		ind()
		fmt.Fprintf(buf, "If(%q)\n", t.Cond)
		children(t.Then)
		for _, e := range t.Elifs {
			ind()
			fmt.Fprintf(buf, "Elif(%q)\n", e.Cond)
			children(e.Body)
		}
		if t.HasElse {
			ind()
			buf.WriteString("Else\n")
			children(t.Else)
		}
	case *ForNode:
		ind()
		fmt.Fprintf(buf, "For(%s in %q)\n", t.Target, t.Iterable)
		children(t.Body)
	}
}
