package jinja2

import (
	"errors"
	"fmt"
	"strings"
)

// TemplateString is template source carried in configuration.
type TemplateString string

// Validate reports every construct the parser had to leave as plain text.
func (t TemplateString) Validate() error {
	doc := Parse(string(t))
	if len(doc.Problems) == 0 {
		return nil
	}
	errs := make([]error, len(doc.Problems))
	for i, p := range doc.Problems {
		line, col := Position(string(t), p.Offset)
		errs[i] = fmt.Errorf("%d:%d: %s", line, col, p.Message)
	}
	return fmt.Errorf("invalid jinja template: %w", errors.Join(errs...))
}

func (t TemplateString) Render(ctx Context) string {
	return Render(string(t), ctx)
}

// Position converts a byte offset in src into a 1-based line and column.
func Position(src string, offset int) (line, col int) {
	if offset > len(src) {
		offset = len(src)
	}
	before := src[:offset]
	line = strings.Count(before, "\n") + 1
	col = offset - strings.LastIndexByte(before, '\n')
	return line, col
}
