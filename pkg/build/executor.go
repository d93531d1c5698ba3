package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/poltergeist/invoker/pkg/logger"
)

// Result is the outcome of one forked build
type Result struct {
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Executor runs a build request. An error means the process could not be
// run at all; a non-zero exit code is not an error.
type Executor interface {
	Execute(ctx context.Context, req *Request, output io.Writer) (*Result, error)
}

// ProcessExecutor forks the build tool as a child process
type ProcessExecutor struct {
	log logger.Logger
}

// NewProcessExecutor creates an executor that forks real processes
func NewProcessExecutor(log logger.Logger) *ProcessExecutor {
	return &ProcessExecutor{log: log}
}

// Execute implements Executor
func (e *ProcessExecutor) Execute(ctx context.Context, req *Request, output io.Writer) (*Result, error) {
	if output == nil {
		output = io.Discard
	}

	name, pre, err := req.Command()
	if err != nil {
		return nil, err
	}

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, name, append(pre, req.Args()...)...)
	cmd.Dir = req.BaseDirectory
	cmd.Env = req.Env()
	cmd.Stdout = output
	cmd.Stderr = output
	// children of a killed build tool may keep the output pipe open
	cmd.WaitDelay = 2 * time.Second

	fmt.Fprintf(output, "Executing: %s\n", req.CommandLine())
	e.log.Debug("Forking build", logger.WithField("command", req.CommandLine()))

	start := time.Now()
	err = cmd.Run()
	result := &Result{Duration: time.Since(start)}

	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			result.TimedOut = true
		}
		return result, nil
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		return result, nil
	}

	return nil, fmt.Errorf("failed to run %s: %w", name, err)
}
