package jinja2

import (
	"regexp"
	"strings"
)

var directiveRe = regexp.MustCompile(`\{\{\s*[^}]+?\s*\}\}|\{%\s*[^%]+?\s*%\}`)

// Highlight wraps every {{ ... }} and {% ... %} directive in a span that
// HighlightStyles can target. Directive text is kept unchanged and nothing
// is evaluated. Highlighting already highlighted text nests the spans.
func Highlight(template string) string {
	return directiveRe.ReplaceAllStringFunc(template, func(d string) string {
		if strings.HasPrefix(d, "{{") {
			return `<span class="jinja-variable" data-jinja="variable">` + d + `</span>`
		}
		return `<span class="jinja-block" data-jinja="block">` + d + `</span>`
	})
}

// HighlightStyles is the stylesheet for the spans emitted by Highlight.
const HighlightStyles = `<style>
  .jinja-variable {
    background-color: rgba(255, 193, 7, 0.2);
    border-radius: 3px;
    padding: 2px 4px;
    font-family: 'Courier New', monospace;
    font-size: 0.95em;
    border: 1px solid rgba(255, 193, 7, 0.4);
    display: inline-block;
  }

  .jinja-block {
    background-color: rgba(76, 175, 80, 0.2);
    border-radius: 3px;
    padding: 2px 4px;
    font-family: 'Courier New', monospace;
    font-size: 0.95em;
    border: 1px solid rgba(76, 175, 80, 0.4);
    display: inline-block;
  }
</style>`

// InjectStyles inserts HighlightStyles into an HTML document: before the
// first </head>, else right after the first <body>, else at the start.
func InjectStyles(html string) string {
	if strings.Contains(html, "</head>") {
		return strings.Replace(html, "</head>", HighlightStyles+"\n</head>", 1)
	}
	if strings.Contains(html, "<body>") {
		return strings.Replace(html, "<body>", "<body>\n"+HighlightStyles, 1)
	}
	return HighlightStyles + "\n" + html
}
