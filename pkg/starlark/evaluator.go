package starlark

import (
	"fmt"
	"log/slog"

	"github.com/neurodesk/jinjapreview/pkg/jinja2"
	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// fileOptions allows top-level loops and global reassignment so data
// scripts can be written as plain sequences of statements.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Evaluator runs Starlark scripts and expressions that produce template data.
type Evaluator struct {
	thread   *starlark.Thread
	builtins starlark.StringDict
	globals  starlark.StringDict
}

// NewEvaluator creates an evaluator whose print output goes to logger at
// info level. A nil logger means slog.Default().
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	thread := &starlark.Thread{
		Name: "jinjapreview",
		Print: func(th *starlark.Thread, msg string) {
			logger.Info(msg, "thread", th.Name, "source", "starlark")
		},
	}
	return &Evaluator{
		thread:   thread,
		builtins: Builtins(),
		globals:  make(starlark.StringDict),
	}
}

// Builtins returns the modules predeclared for every script.
func Builtins() starlark.StringDict {
	return starlark.StringDict{
		"json": starlarkjson.Module,
		"math": starlarkmath.Module,
		"time": starlarktime.Module,
	}
}

// SetGlobal sets a global variable in the Starlark environment
func (e *Evaluator) SetGlobal(name string, value jinja2.Value) {
	e.globals[name] = ConvertToStarlark(value)
}

func (e *Evaluator) predeclared() starlark.StringDict {
	predeclared := make(starlark.StringDict, len(e.builtins)+len(e.globals))
	for k, v := range e.builtins {
		predeclared[k] = v
	}
	for k, v := range e.globals {
		predeclared[k] = v
	}
	return predeclared
}

// Eval evaluates a single Starlark expression.
func (e *Evaluator) Eval(expr string) (jinja2.Value, error) {
	val, err := starlark.EvalOptions(fileOptions, e.thread, "<expr>", expr, e.predeclared())
	if err != nil {
		return nil, fmt.Errorf("starlark evaluation error: %w", err)
	}
	return ConvertFromStarlark(val)
}

// ExecFile executes a script. src may be nil (read filename), a string or a
// []byte. Top-level bindings of the script become globals of the evaluator.
func (e *Evaluator) ExecFile(filename string, src any) (starlark.StringDict, error) {
	globals, err := starlark.ExecFileOptions(fileOptions, e.thread, filename, src, e.predeclared())
	if err != nil {
		if evalErr, ok := err.(*starlark.EvalError); ok {
			return nil, fmt.Errorf("starlark execution error: %s", evalErr.Backtrace())
		}
		return nil, fmt.Errorf("starlark execution error: %w", err)
	}
	for k, v := range globals {
		e.globals[k] = v
	}
	return globals, nil
}
