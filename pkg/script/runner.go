package script

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/poltergeist/invoker/pkg/logger"
)

// Runner locates hook scripts in a job directory and evaluates them with
// the interpreter registered for their extension.
type Runner struct {
	fs           afero.Fs
	log          logger.Logger
	interpreters []Interpreter
	classPath    []string

	mu      sync.RWMutex
	globals map[string]interface{}
}

// NewRunner creates a runner with the JavaScript and Lua interpreters.
// A nil fs uses the OS filesystem.
func NewRunner(fs afero.Fs, log logger.Logger, classPath []string) *Runner {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Runner{
		fs:           fs,
		log:          log,
		interpreters: []Interpreter{NewJavaScript(fs), NewLua()},
		classPath:    classPath,
		globals:      make(map[string]interface{}),
	}
}

// SetGlobal makes value visible to every script this runner evaluates.
func (r *Runner) SetGlobal(name string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.globals[name] = value
}

// Resolve finds a script by name in basedir. The name may be given with or
// without extension; a bare name is tried as-is first and then with each
// registered extension.
func (r *Runner) Resolve(basedir, name string) (string, Interpreter, bool) {
	if name == "" {
		return "", nil, false
	}

	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(basedir, name)
	}

	if interp := r.interpreterFor(path); interp != nil && r.isFile(path) {
		return path, interp, true
	}
	for _, interp := range r.interpreters {
		candidate := path + "." + interp.Extension()
		if r.isFile(candidate) {
			return candidate, interp, true
		}
	}
	return "", nil, false
}

func (r *Runner) interpreterFor(path string) Interpreter {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, interp := range r.interpreters {
		if interp.Extension() == ext {
			return interp
		}
	}
	return nil
}

func (r *Runner) isFile(path string) bool {
	info, err := r.fs.Stat(path)
	return err == nil && !info.IsDir()
}

// Run evaluates the script called name in basedir. A missing script is a
// success. The context map is shared with the script under the name
// "context"; basedir is exposed too. description names the script in
// messages, for example "pre-build script".
//
// Errors are *EvalError when evaluation failed and *ResultError when the
// script returned something other than nothing, true or "true".
func (r *Runner) Run(ctx context.Context, description, basedir, name string, scriptContext map[string]interface{}, output io.Writer) error {
	path, interp, ok := r.Resolve(basedir, name)
	if !ok {
		if name != "" {
			r.log.Debug(fmt.Sprintf("No %s found", description), logger.WithField("script", name))
		}
		return nil
	}

	fmt.Fprintf(output, "Running %s: %s\n", description, path)
	r.log.Debug(fmt.Sprintf("Running %s", description),
		logger.WithField("script", path),
		logger.WithField("interpreter", interp.Name()))

	source, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return &EvalError{Kind: InterpreterError, Description: description, Script: path, Err: err}
	}

	globals := r.snapshotGlobals()
	globals["basedir"] = basedir
	if scriptContext != nil {
		globals["context"] = scriptContext
	}

	result, err := interp.Evaluate(ctx, Script{Path: path, Source: string(source)}, r.classPath, globals, output)
	if err != nil {
		if evalErr, ok := err.(*EvalError); ok {
			evalErr.Description = description
			return evalErr
		}
		return &EvalError{Kind: InterpreterError, Description: description, Script: path, Err: err}
	}

	if !IsSuccessResult(result) {
		return &ResultError{Description: description, Script: path, Value: result}
	}
	return nil
}

func (r *Runner) snapshotGlobals() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	globals := make(map[string]interface{}, len(r.globals)+2)
	for k, v := range r.globals {
		if m, ok := v.(map[string]string); ok {
			// jobs run in parallel; each script gets its own copy
			c := make(map[string]string, len(m))
			for mk, mv := range m {
				c[mk] = mv
			}
			v = c
		}
		globals[k] = v
	}
	return globals
}

// IsSuccessResult reports whether a script result counts as success:
// no value, boolean true or the string "true".
func IsSuccessResult(result interface{}) bool {
	switch v := result.(type) {
	case nil:
		return true
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}
