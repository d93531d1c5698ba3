package scheduler

import (
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/poltergeist/invoker/pkg/logger"
)

// SafeGroup runs functions on a bounded errgroup with panic recovery.
// Unlike a plain errgroup it does not stop at the first error: every
// error, including recovered panics, is collected and returned by Wait.
type SafeGroup struct {
	group  errgroup.Group
	logger logger.Logger

	mu   sync.Mutex
	errs error
}

// NewSafeGroup creates a new SafeGroup with panic recovery
func NewSafeGroup(log logger.Logger) *SafeGroup {
	return &SafeGroup{logger: log}
}

// PanicError is a recovered panic
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("goroutine panic: %v", e.Value)
}

// Go runs fn in a new goroutine, blocking while the limit is reached
func (sg *SafeGroup) Go(fn func() error) {
	sg.group.Go(func() error {
		if err := sg.call(fn); err != nil {
			sg.mu.Lock()
			sg.errs = multierr.Append(sg.errs, err)
			sg.mu.Unlock()
		}
		return nil
	})
}

// call runs fn and turns a panic into a *PanicError
func (sg *SafeGroup) call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			sg.logger.Error("Goroutine panic recovered",
				logger.WithField("panic", r),
				logger.WithField("stack_trace", string(stack)))
			err = &PanicError{Value: r, Stack: stack}
		}
	}()
	return fn()
}

// SetLimit sets the maximum number of concurrent goroutines. It must be
// called before the first Go.
func (sg *SafeGroup) SetLimit(n int) {
	sg.group.SetLimit(n)
}

// Wait blocks until all goroutines completed and returns every error
// they produced combined with multierr.
func (sg *SafeGroup) Wait() error {
	_ = sg.group.Wait()
	sg.mu.Lock()
	defer sg.mu.Unlock()
	return sg.errs
}
