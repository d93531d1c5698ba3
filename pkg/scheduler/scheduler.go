// Package scheduler runs jobs sequentially or on a bounded worker pool.
// Setup jobs always run first, one at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/multierr"

	"github.com/poltergeist/invoker/pkg/logger"
	"github.com/poltergeist/invoker/pkg/types"
)

// JobFunc runs one job and records its result on the job. A returned error
// is a worker error, not a job failure.
type JobFunc func(ctx context.Context, job *types.BuildJob) error

// Scheduler dispatches jobs to a JobFunc
type Scheduler struct {
	threads int
	log     logger.Logger
}

// New creates a scheduler with the given number of worker threads. Values
// below one mean sequential execution.
func New(threads int, log logger.Logger) *Scheduler {
	if threads < 1 {
		threads = 1
	}
	return &Scheduler{threads: threads, log: log}
}

// Threads returns the worker count
func (s *Scheduler) Threads() int {
	return s.threads
}

// Run executes jobs. Setup jobs run sequentially to completion before any
// other job starts; the rest run in order when sequential, otherwise on
// the worker pool with unordered completion. A failing setup job does not
// stop the run. Errors and panics of single jobs are aggregated and
// returned after all jobs finished; a panicking job is marked as ERROR.
func (s *Scheduler) Run(ctx context.Context, jobs []*types.BuildJob, run JobFunc) error {
	var setup, rest []*types.BuildJob
	for _, job := range jobs {
		if job.Type == types.JobTypeSetup {
			setup = append(setup, job)
		} else {
			rest = append(rest, job)
		}
	}

	var errs error

	if len(setup) > 0 {
		s.log.Info(fmt.Sprintf("Running %d setup jobs", len(setup)))
		errs = multierr.Append(errs, s.runSequential(ctx, setup, run))
	}

	if len(rest) > 0 {
		if s.threads == 1 {
			errs = multierr.Append(errs, s.runSequential(ctx, rest, run))
		} else {
			s.log.Info(fmt.Sprintf("Running %d jobs on %d threads", len(rest), s.threads))
			errs = multierr.Append(errs, s.runParallel(ctx, rest, run))
		}
	}

	return errs
}

func (s *Scheduler) runSequential(ctx context.Context, jobs []*types.BuildJob, run JobFunc) error {
	var errs error
	for _, job := range jobs {
		errs = multierr.Append(errs, s.runOne(ctx, job, run))
	}
	return errs
}

func (s *Scheduler) runParallel(ctx context.Context, jobs []*types.BuildJob, run JobFunc) error {
	group := NewSafeGroup(s.log)
	group.SetLimit(s.threads)
	for _, job := range jobs {
		job := job
		group.Go(func() error {
			return s.runOne(ctx, job, run)
		})
	}
	return group.Wait()
}

func (s *Scheduler) runOne(ctx context.Context, job *types.BuildJob, run JobFunc) error {
	if err := s.guard(ctx, job, run); err != nil {
		return fmt.Errorf("job %s: %w", job.Project, err)
	}
	return nil
}

// guard runs the job and marks it as ERROR when it panics or returns an
// error without recording a result.
func (s *Scheduler) guard(ctx context.Context, job *types.BuildJob, run JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			job.Result = types.ResultError
			job.FailureMessage = fmt.Sprintf("%v", r)
			err = &PanicError{Value: r, Stack: debug.Stack()}
			s.log.WithJob(job.Project).Error("Job panicked", logger.WithField("panic", r))
		}
	}()

	err = run(ctx, job)
	if err != nil && job.Result == "" {
		job.Result = types.ResultError
		job.FailureMessage = err.Error()
	}
	return err
}

// IsPanic reports whether err contains a recovered panic
func IsPanic(err error) bool {
	for _, e := range multierr.Errors(err) {
		var panicErr *PanicError
		if errors.As(e, &panicErr) {
			return true
		}
	}
	return false
}
