// Package script evaluates selector and hook scripts. Two interpreters,
// JavaScript and Lua, implement the same Interpreter interface and are
// chosen by file extension.
package script

import (
	"context"
	"fmt"
	"io"
)

// ErrorKind separates failures raised by the script itself from failures
// of the interpreter.
type ErrorKind int

const (
	// TargetException is an error thrown by the script while it ran. It
	// counts as a failed assertion.
	TargetException ErrorKind = iota
	// InterpreterError is a syntax error, an unreadable script or any
	// other problem of the tooling.
	InterpreterError
)

func (k ErrorKind) String() string {
	if k == TargetException {
		return "target exception"
	}
	return "interpreter error"
}

// EvalError is returned when a script could not be evaluated
type EvalError struct {
	Kind        ErrorKind
	Description string
	Script      string
	Err         error
}

func (e *EvalError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%s: %v", e.Script, e.Err)
	}
	return fmt.Sprintf("The %s did not succeed. %v", e.Description, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// ResultError is returned when a script evaluated to something other than
// nothing or true.
type ResultError struct {
	Description string
	Script      string
	Value       interface{}
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("The %s returned %v.", e.Description, e.Value)
}

// Script is a script file and its source
type Script struct {
	Path   string
	Source string
}

// Interpreter evaluates script source. Output written by the script goes
// to output only; globals are visible as global variables. Maps passed as
// globals are updated with the script's changes.
type Interpreter interface {
	Name() string
	Extension() string
	Evaluate(ctx context.Context, script Script, classPath []string, globals map[string]interface{}, output io.Writer) (interface{}, error)
}
