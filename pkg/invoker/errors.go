package invoker

import (
	"errors"
	"fmt"

	"github.com/poltergeist/invoker/pkg/types"
)

// ErrNoProjects is returned when discovery finds nothing and
// failIfNoProjects is set
var ErrNoProjects = errors.New("no invoker projects found")

// RunFailure ends a job with an ERROR or FAILURE_* result
type RunFailure struct {
	Result  types.Result
	Message string
	Err     error
}

func (f *RunFailure) Error() string {
	return f.Message
}

func (f *RunFailure) Unwrap() error {
	return f.Err
}

// SkipError ends a job as SKIPPED
type SkipError struct {
	Message string
}

func (e *SkipError) Error() string {
	return e.Message
}

func runError(err error, format string, args ...interface{}) *RunFailure {
	message := fmt.Sprintf(format, args...)
	if err != nil {
		message = fmt.Sprintf("%s: %v", message, err)
	}
	return &RunFailure{Result: types.ResultError, Message: message, Err: err}
}

func failure(result types.Result, err error) *RunFailure {
	return &RunFailure{Result: result, Message: err.Error(), Err: err}
}

// classify maps the error of a job pipeline to a result and message
func classify(err error) (types.Result, string) {
	if err == nil {
		return types.ResultSuccess, ""
	}

	var skip *SkipError
	if errors.As(err, &skip) {
		return types.ResultSkipped, skip.Message
	}
	var rf *RunFailure
	if errors.As(err, &rf) {
		return rf.Result, rf.Message
	}
	return types.ResultError, err.Error()
}
