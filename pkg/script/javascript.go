package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
	"github.com/spf13/afero"
)

// JavaScript evaluates .js scripts with goja. Files pulled in with load()
// are read from fs.
type JavaScript struct {
	fs afero.Fs
}

// NewJavaScript creates the JavaScript interpreter. A nil fs uses the OS
// filesystem.
func NewJavaScript(fs afero.Fs) *JavaScript {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &JavaScript{fs: fs}
}

// Name implements Interpreter
func (j *JavaScript) Name() string { return "JavaScript" }

// Extension implements Interpreter
func (j *JavaScript) Extension() string { return "js" }

// Evaluate implements Interpreter. The completion value of the script is
// its result.
func (j *JavaScript) Evaluate(ctx context.Context, script Script, classPath []string, globals map[string]interface{}, output io.Writer) (interface{}, error) {
	program, err := goja.Compile(script.Path, script.Source, false)
	if err != nil {
		return nil, &EvalError{Kind: InterpreterError, Script: script.Path, Err: err}
	}

	vm := goja.New()

	printFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		fmt.Fprintln(output, strings.Join(parts, " "))
		return goja.Undefined()
	}

	console := vm.NewObject()
	for _, name := range []string{"log", "info", "warn", "error"} {
		if err := console.Set(name, printFn); err != nil {
			return nil, &EvalError{Kind: InterpreterError, Script: script.Path, Err: err}
		}
	}

	bindings := map[string]interface{}{
		"print":   printFn,
		"console": console,
		"load": func(call goja.FunctionCall) goja.Value {
			name := call.Argument(0).String()
			path, err := findOnClassPath(j.fs, name, filepath.Dir(script.Path), classPath)
			if err != nil {
				panic(vm.NewGoError(err))
			}
			src, err := afero.ReadFile(j.fs, path)
			if err != nil {
				panic(vm.NewGoError(err))
			}
			v, err := vm.RunScript(path, string(src))
			if err != nil {
				panic(vm.NewGoError(err))
			}
			return v
		},
	}
	for name, value := range globals {
		bindings[name] = value
	}
	for name, value := range bindings {
		if err := vm.Set(name, value); err != nil {
			return nil, &EvalError{Kind: InterpreterError, Script: script.Path, Err: err}
		}
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-stop:
		}
	}()

	value, err := vm.RunProgram(program)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, &EvalError{Kind: InterpreterError, Script: script.Path, Err: err}
		}
		var exception *goja.Exception
		if errors.As(err, &exception) {
			return nil, &EvalError{Kind: TargetException, Script: script.Path, Err: err}
		}
		return nil, &EvalError{Kind: InterpreterError, Script: script.Path, Err: err}
	}

	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}

// findOnClassPath resolves name against the script directory and then each
// class path entry. The extension may be omitted.
func findOnClassPath(fs afero.Fs, name, scriptDir string, classPath []string) (string, error) {
	dirs := append([]string{scriptDir}, classPath...)
	candidates := []string{name}
	if filepath.Ext(name) == "" {
		candidates = append(candidates, name+".js")
	}

	for _, dir := range dirs {
		for _, candidate := range candidates {
			path := candidate
			if !filepath.IsAbs(path) {
				path = filepath.Join(dir, candidate)
			}
			if info, err := fs.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("cannot find %q on the script class path", name)
}
