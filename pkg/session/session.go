// Package session collects job results of a run and derives the summary
// and the aggregate outcome.
package session

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/fatih/color"

	"github.com/poltergeist/invoker/pkg/logger"
	"github.com/poltergeist/invoker/pkg/types"
)

// ErrBuildFailures is returned by HandleFailures when jobs failed
var ErrBuildFailures = errors.New("build failures")

const separator = "-------------------------------------------------"

// Session aggregates the jobs of one run. Partitions are recomputed
// lazily after the job list changed. It is safe for concurrent use.
type Session struct {
	mu    sync.Mutex
	jobs  []*types.BuildJob
	dirty bool

	successful []*types.BuildJob
	failed     []*types.BuildJob
	errored    []*types.BuildJob
	skipped    []*types.BuildJob
}

// New creates a session holding jobs
func New(jobs ...*types.BuildJob) *Session {
	s := &Session{}
	for _, job := range jobs {
		s.AddJob(job)
	}
	return s
}

// AddJob adds a finished job
func (s *Session) AddJob(job *types.BuildJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	s.dirty = true
}

// Jobs returns all jobs in the order they were added
func (s *Session) Jobs() []*types.BuildJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.BuildJob(nil), s.jobs...)
}

// Successful returns the jobs with result success
func (s *Session) Successful() []*types.BuildJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partition()
	return s.successful
}

// Failed returns the jobs with one of the failure results
func (s *Session) Failed() []*types.BuildJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partition()
	return s.failed
}

// Errors returns the jobs with result error
func (s *Session) Errors() []*types.BuildJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partition()
	return s.errored
}

// Skipped returns the skipped jobs
func (s *Session) Skipped() []*types.BuildJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partition()
	return s.skipped
}

// Counts returns passed, failed, errored and skipped counts
func (s *Session) Counts() (passed, failed, errored, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partition()
	return len(s.successful), len(s.failed), len(s.errored), len(s.skipped)
}

// TotalTime sums the elapsed time of all jobs
func (s *Session) TotalTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for _, job := range s.jobs {
		total += job.Elapsed()
	}
	return total
}

// partition must be called with mu held
func (s *Session) partition() {
	if !s.dirty {
		return
	}
	s.successful, s.failed, s.errored, s.skipped = nil, nil, nil, nil
	for _, job := range s.jobs {
		switch {
		case job.Result == types.ResultSuccess:
			s.successful = append(s.successful, job)
		case job.Result == types.ResultSkipped:
			s.skipped = append(s.skipped, job)
		case job.Result.IsFailure():
			s.failed = append(s.failed, job)
		default:
			s.errored = append(s.errored, job)
		}
	}
	s.dirty = false
}

// Validate marks every job without a known result as ERROR. It returns
// the number of jobs it changed.
func (s *Session) Validate() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, job := range s.jobs {
		if job.Result.IsTerminal() {
			continue
		}
		if job.Result == "" {
			job.FailureMessage = "The job did not record a result."
		} else {
			job.FailureMessage = fmt.Sprintf("The job recorded an unknown result %q.", job.Result)
		}
		job.Result = types.ResultError
		changed++
	}
	if changed > 0 {
		s.dirty = true
	}
	return changed
}

// WriteSummary writes the textual summary. Skipped, errored and failed
// jobs are listed after the counts.
func (s *Session) WriteSummary(w io.Writer) {
	passed, failed, errored, skipped := s.Counts()

	fmt.Fprintln(w, separator)
	fmt.Fprintln(w, "Build Summary:")
	fmt.Fprintf(w, "  Passed: %d, Failed: %d, Errors: %d, Skipped: %d\n", passed, failed, errored, skipped)
	fmt.Fprintln(w, separator)

	listJobs := func(title string, jobs []*types.BuildJob, paint func(format string, a ...interface{}) string) {
		if len(jobs) == 0 {
			return
		}
		fmt.Fprintln(w, paint("%s:", title))
		for _, job := range jobs {
			line := "*  " + job.DisplayName()
			if job.FailureMessage != "" {
				line += ": " + job.FailureMessage
			}
			fmt.Fprintln(w, paint("%s", line))
		}
	}

	listJobs("The following builds were skipped", s.Skipped(), color.YellowString)
	listJobs("The following builds finished with error", s.Errors(), color.RedString)
	listJobs("The following builds failed", s.Failed(), color.RedString)
}

// Summary returns the summary as text
func (s *Session) Summary() string {
	var b strings.Builder
	s.WriteSummary(&b)
	return b.String()
}

// LogSummary logs the summary line by line unless suppressed
func (s *Session) LogSummary(log logger.Logger, suppress bool) {
	if suppress {
		return
	}
	for _, line := range strings.Split(strings.TrimRight(s.Summary(), "\n"), "\n") {
		log.Info(line)
	}
	log.Info(fmt.Sprintf("Total time: %s", units.HumanDuration(s.TotalTime())))
}

// HandleFailures applies the aggregate outcome rule. With failures or
// errors it returns an error wrapping ErrBuildFailures unless
// ignoreFailures is set, in which case it only warns.
func (s *Session) HandleFailures(log logger.Logger, ignoreFailures bool) error {
	_, failed, errored, _ := s.Counts()
	if failed+errored == 0 {
		return nil
	}

	var parts []string
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d build%s failed", failed, plural(failed)))
	}
	if errored > 0 {
		parts = append(parts, fmt.Sprintf("%d build%s errored", errored, plural(errored)))
	}
	message := strings.Join(parts, " and ")

	if ignoreFailures {
		log.Warn(message + ", ignoring failures")
		return nil
	}
	return fmt.Errorf("%s: %w", message, ErrBuildFailures)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
