package starlark

import (
	"fmt"
	"strings"

	"github.com/neurodesk/jinjapreview/pkg/jinja2"
	"go.starlark.net/starlark"
)

// LoadContext makes every binding of ctx available to scripts as a global.
func (e *Evaluator) LoadContext(ctx jinja2.Context) {
	for key, value := range ctx {
		e.SetGlobal(key, value)
	}
}

// ExportContext returns the globals that can be used as template data.
// Functions, modules and names starting with an underscore are private to
// the script.
func (e *Evaluator) ExportContext() (jinja2.Context, error) {
	ctx := make(jinja2.Context)
	for key, value := range e.globals {
		if !isExportable(key, value) {
			continue
		}
		v, err := ConvertFromStarlark(value)
		if err != nil {
			return nil, fmt.Errorf("global %q: %w", key, err)
		}
		ctx[key] = v
	}
	return ctx, nil
}

func isExportable(key string, value starlark.Value) bool {
	if strings.HasPrefix(key, "_") {
		return false
	}
	if _, ok := value.(starlark.Callable); ok {
		return false
	}
	return value.Type() != "module"
}
