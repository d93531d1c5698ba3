package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poltergeist/invoker/pkg/invoker"
	"github.com/poltergeist/invoker/pkg/logger"
	"github.com/poltergeist/invoker/pkg/notifier"
	"github.com/poltergeist/invoker/pkg/types"
)

// ErrNothingToWatch is returned when discovery finds no jobs
var ErrNothingToWatch = errors.New("no invoker projects to watch")

// Runner runs all jobs once, then re-runs each job when its files change
type Runner struct {
	inv      *invoker.Invoker
	log      logger.Logger
	notifier *notifier.RunNotifier
	settling time.Duration

	// finished holds when each job last finished; changes older than
	// that were made by the run itself
	finished map[string]time.Time

	// ready is closed once the watcher is started, for tests
	ready chan struct{}
}

// NewRunner creates a watch runner. The invoker's own notifier should be
// disabled; n reports the initial run and every re-run job.
func NewRunner(inv *invoker.Invoker, log logger.Logger, n *notifier.RunNotifier) *Runner {
	return &Runner{
		inv:      inv,
		log:      log,
		notifier: n,
		settling: DefaultSettlingDelay,
		finished: make(map[string]time.Time),
		ready:    make(chan struct{}),
	}
}

// SetSettlingDelay sets the quiet period before a re-run
func (r *Runner) SetSettlingDelay(d time.Duration) {
	r.settling = d
}

// Run blocks until ctx is done. Jobs already running when ctx is done
// are completed first.
func (r *Runner) Run(ctx context.Context) error {
	cfg := r.inv.Config()

	jobs, err := r.inv.Discover()
	if err != nil {
		return fmt.Errorf("failed to discover jobs: %w", err)
	}
	if len(jobs) == 0 {
		return ErrNothingToWatch
	}

	runCtx := context.WithoutCancel(ctx)

	if err := r.inv.Clone(jobs, cfg.CloneClean); err != nil {
		return err
	}
	sess, err := r.inv.RunJobs(runCtx, jobs)
	if err != nil {
		r.log.Error("Initial run reported errors", logger.WithError(err))
	}
	done := time.Now()
	for _, job := range jobs {
		r.finished[job.Project] = done
	}
	if sess != nil {
		passed, failed, errored, skipped := sess.Counts()
		r.notifier.NotifyRunComplete(notifier.RunSummary{
			Passed:   passed,
			Failed:   failed,
			Errors:   errored,
			Skipped:  skipped,
			Duration: sess.TotalTime(),
		})
	}

	w, err := NewWatcher(r.log, cfg.ProjectsDirectory, jobs, Exclusions(cfg))
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(); err != nil {
			r.log.Debug("Failed to close watcher", logger.WithError(err))
		}
	}()
	w.SetSettlingDelay(r.settling)

	if err := w.Start(ctx); err != nil {
		return err
	}
	close(r.ready)
	r.log.Info("Watching for changes, press Ctrl+C to stop")

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Stopped watching")
			return nil
		case change := <-w.Changes():
			if !change.Last.After(r.finished[change.Job.Project]) {
				r.log.WithJob(change.Job.Project).Debug("Ignoring changes made while the job ran")
				continue
			}
			r.rerun(runCtx, change)
		}
	}
}

// rerun runs a fresh copy of the changed job
func (r *Runner) rerun(ctx context.Context, change Change) {
	job := types.NewBuildJob(change.Job.Project, change.Job.Type)
	r.log.WithJob(job.Project).Info(fmt.Sprintf("Detected %d changed files, re-running", len(change.Paths)))

	if err := r.inv.Clone([]*types.BuildJob{job}, false); err != nil {
		r.log.WithJob(job.Project).Error("Failed to clone job", logger.WithError(err))
		return
	}

	if _, err := r.inv.RunJobs(ctx, []*types.BuildJob{job}); err != nil {
		r.log.WithJob(job.Project).Error("Re-run reported errors", logger.WithError(err))
	}
	r.finished[job.Project] = time.Now()
	r.notifier.NotifyJobResult(job)
}
