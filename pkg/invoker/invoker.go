// Package invoker runs a set of integration test jobs against a build
// tool: discovery, cloning, the per-job pipeline, reports and metrics.
package invoker

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/poltergeist/invoker/pkg/build"
	"github.com/poltergeist/invoker/pkg/clone"
	pcontext "github.com/poltergeist/invoker/pkg/context"
	"github.com/poltergeist/invoker/pkg/discovery"
	"github.com/poltergeist/invoker/pkg/interpolate"
	"github.com/poltergeist/invoker/pkg/logger"
	"github.com/poltergeist/invoker/pkg/metrics"
	"github.com/poltergeist/invoker/pkg/notifier"
	"github.com/poltergeist/invoker/pkg/report"
	"github.com/poltergeist/invoker/pkg/scheduler"
	"github.com/poltergeist/invoker/pkg/script"
	"github.com/poltergeist/invoker/pkg/selector"
	"github.com/poltergeist/invoker/pkg/session"
	"github.com/poltergeist/invoker/pkg/types"
	"github.com/poltergeist/invoker/pkg/utils"
)

// Invoker orchestrates one run
type Invoker struct {
	cfg      *types.InvokerConfig
	fs       afero.Fs
	log      logger.Logger
	executor build.Executor
	env      *selector.Environment
	notifier *notifier.RunNotifier
	tracker  JobTracker
}

// JobTracker is told about jobs as they start and finish, e.g. to let a
// shutdown wait for running jobs.
type JobTracker interface {
	JobStarted(project string)
	JobFinished(project string)
}

// Option configures an Invoker
type Option func(*Invoker)

// WithFs sets the filesystem used for discovery, cloning and reports
func WithFs(fs afero.Fs) Option {
	return func(inv *Invoker) { inv.fs = fs }
}

// WithExecutor replaces the process executor
func WithExecutor(executor build.Executor) Option {
	return func(inv *Invoker) { inv.executor = executor }
}

// WithEnvironment skips tool version detection
func WithEnvironment(env selector.Environment) Option {
	return func(inv *Invoker) { inv.env = &env }
}

// WithNotifier sets the notifier used after the run
func WithNotifier(n *notifier.RunNotifier) Option {
	return func(inv *Invoker) { inv.notifier = n }
}

// WithJobTracker registers a tracker for running jobs
func WithJobTracker(t JobTracker) Option {
	return func(inv *Invoker) { inv.tracker = t }
}

// New creates an invoker for cfg. Paths in cfg must already be absolute.
func New(cfg *types.InvokerConfig, log logger.Logger, opts ...Option) *Invoker {
	inv := &Invoker{cfg: cfg, log: log}
	for _, opt := range opts {
		opt(inv)
	}
	if inv.fs == nil {
		inv.fs = afero.NewOsFs()
	}
	if inv.executor == nil {
		inv.executor = build.NewProcessExecutor(log)
	}
	if inv.notifier == nil {
		inv.notifier = notifier.New(cfg.Notifications, log)
	}
	return inv
}

// Config returns the run configuration
func (inv *Invoker) Config() *types.InvokerConfig {
	return inv.cfg
}

// Discover returns the jobs of the configured projects directory
func (inv *Invoker) Discover() ([]*types.BuildJob, error) {
	d := discovery.New(inv.fs, inv.log, discovery.OptionsFromConfig(inv.cfg))
	return d.Discover(inv.cfg.ProjectsDirectory)
}

// Run discovers and runs all jobs. The returned session holds every job
// with its result; the error reports run-level problems only. Job
// failures are judged by session.HandleFailures.
func (inv *Invoker) Run(ctx context.Context) (*session.Session, error) {
	if inv.cfg.Skip {
		inv.log.Info("Skipping invoker per configuration")
		return session.New(), nil
	}

	jobs, err := inv.Discover()
	if err != nil {
		return nil, fmt.Errorf("failed to discover jobs: %w", err)
	}
	if len(jobs) == 0 {
		inv.log.Warn("No invoker projects found")
		if inv.cfg.FailIfNoProjects {
			return nil, ErrNoProjects
		}
		return session.New(), nil
	}

	if err := inv.Clone(jobs, inv.cfg.CloneClean); err != nil {
		return nil, err
	}

	return inv.RunJobs(ctx, jobs)
}

// Clone copies the jobs to cloneProjectsTo, if configured. clean empties
// the target first.
func (inv *Invoker) Clone(jobs []*types.BuildJob, clean bool) error {
	if inv.cfg.CloneProjectsTo == "" {
		return nil
	}

	cloner := clone.New(inv.fs, inv.log, clone.Options{
		Source:           inv.cfg.ProjectsDirectory,
		Target:           inv.cfg.CloneProjectsTo,
		AllFiles:         inv.cfg.CloneAllFiles,
		Clean:            clean,
		LocalRepository:  inv.cfg.LocalRepositoryPath,
		FilterProperties: inv.cfg.FilterProperties,
	})
	if _, err := cloner.Clone(jobs); err != nil {
		return fmt.Errorf("failed to clone projects: %w", err)
	}
	return nil
}

// RunJobs runs the given jobs, writes reports and metrics and notifies.
func (inv *Invoker) RunJobs(ctx context.Context, jobs []*types.BuildJob) (*session.Session, error) {
	start := time.Now()
	if !pcontext.HasRunID(ctx) {
		ctx = pcontext.WithRunID(ctx, pcontext.GenerateRunID())
	}
	log := logger.WithContext(ctx, inv.log)

	runner, cleanup, err := inv.newJobRunner(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var store *report.Store
	if !inv.cfg.DisableReports {
		store = report.NewStore(inv.fs, inv.cfg.ReportsDirectory)
	}

	recorder := metrics.NewRecorder()
	sched := scheduler.New(inv.cfg.ParallelThreads, log)
	recorder.SetThreads(sched.Threads())
	sess := session.New()

	log.Info(fmt.Sprintf("Running %d jobs", len(jobs)))

	runErr := sched.Run(ctx, jobs, func(ctx context.Context, job *types.BuildJob) (err error) {
		if inv.tracker != nil {
			inv.tracker.JobStarted(job.Project)
			defer inv.tracker.JobFinished(job.Project)
		}

		// a panicking job is recorded as ERROR with its report before the
		// panic reaches the scheduler
		jobStart := time.Now()
		defer func() {
			r := recover()
			if r != nil {
				job.Result = types.ResultError
				job.FailureMessage = fmt.Sprintf("%v", r)
				job.SetElapsed(time.Since(jobStart))
			}
			if writeErr := inv.record(job, sess, recorder, store); writeErr != nil && err == nil {
				err = writeErr
			}
			if r != nil {
				panic(r)
			}
		}()

		runner.Run(ctx, job)
		return nil
	})
	if runErr != nil {
		log.Error("Some jobs could not be completed", logger.WithError(runErr))
	}

	if n := sess.Validate(); n > 0 {
		log.Warn(fmt.Sprintf("%d jobs ended without a result", n))
	}

	var errs error
	if runErr != nil {
		errs = multierr.Append(errs, fmt.Errorf("job execution: %w", runErr))
	}

	if store != nil {
		if _, err := store.WriteSummaryFile(sess.Jobs()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	sess.LogSummary(log, inv.cfg.SuppressSummaries)

	elapsed := time.Since(start)
	recorder.SetRunDuration(elapsed)
	if inv.cfg.MetricsFile != "" {
		if err := recorder.WriteFile(inv.cfg.MetricsFile); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	passed, failed, errored, skipped := sess.Counts()
	inv.notifier.NotifyRunComplete(notifier.RunSummary{
		Passed:   passed,
		Failed:   failed,
		Errors:   errored,
		Skipped:  skipped,
		Duration: elapsed,
	})

	return sess, errs
}

// record adds a finished job to the session and metrics and writes its
// report
func (inv *Invoker) record(job *types.BuildJob, sess *session.Session, recorder *metrics.Recorder, store *report.Store) error {
	sess.AddJob(job)
	recorder.ObserveJob(job)
	if store == nil {
		return nil
	}
	_, err := store.Write(job)
	return err
}

// newJobRunner prepares everything shared by the jobs of a run: tool
// versions, the script runner, test properties and the settings file.
func (inv *Invoker) newJobRunner(ctx context.Context) (*JobRunner, func(), error) {
	env := inv.environment(ctx)

	scripts := script.NewRunner(inv.fs, inv.log, inv.cfg.ScriptClassPath)
	scripts.SetGlobal("localRepositoryPath", inv.cfg.LocalRepositoryPath)
	scripts.SetGlobal("mavenVersion", env.MavenVersion)
	for name, value := range inv.cfg.ScriptVariables {
		scripts.SetGlobal(name, value)
	}

	runner := NewJobRunner(inv.cfg, inv.fs, inv.log, scripts, inv.executor, env)

	testProps, err := loadTestProperties(inv.fs, inv.cfg.TestProperties)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load test properties: %w", err)
	}
	runner.TestProperties = testProps

	cleanup := func() {}
	if inv.cfg.SettingsFile != "" && inv.cfg.CloneProjectsTo == "" {
		fsu := utils.NewFileSystemUtils(inv.fs)
		if fsu.IsFile(inv.cfg.SettingsFile) {
			target := filepath.Join(filepath.Dir(inv.cfg.SettingsFile), "interpolated-"+filepath.Base(inv.cfg.SettingsFile))
			ip := interpolate.New(interpolate.ValueSource("", inv.cfg.LocalRepositoryPath, inv.cfg.FilterProperties))
			if err := ip.FilterFile(inv.fs, inv.cfg.SettingsFile, target); err != nil {
				return nil, nil, err
			}
			runner.SettingsFile = target
			cleanup = func() {
				if err := fsu.RemoveAll(target); err != nil {
					inv.log.Warn("Failed to remove interpolated settings", logger.WithError(err))
				}
			}
		}
	}

	return runner, cleanup, nil
}

// environment returns the configured or detected tool versions. Unknown
// versions stay empty and do not rule jobs out.
func (inv *Invoker) environment(ctx context.Context) selector.Environment {
	if inv.env != nil {
		return *inv.env
	}

	mavenVersion := inv.cfg.MavenVersion
	if mavenVersion == "" && !inv.cfg.SkipInvocation {
		req := &build.Request{Executable: inv.cfg.MavenExecutable, MavenHome: inv.cfg.MavenHome, JavaHome: inv.cfg.JavaHome}
		if name, pre, err := req.Command(); err == nil {
			v, err := selector.DetectMavenVersion(ctx, append([]string{name}, pre...), req.Env())
			if err != nil {
				inv.log.Debug("Could not detect build tool version", logger.WithError(err))
			}
			mavenVersion = v
		}
	}

	javaVersion := inv.cfg.JavaVersion
	if javaVersion == "" {
		v, err := selector.DetectJavaVersion(ctx, inv.cfg.JavaHome)
		if err != nil {
			inv.log.Debug("Could not detect Java version", logger.WithError(err))
		}
		javaVersion = v
	}

	env := selector.CurrentEnvironment(mavenVersion, javaVersion)
	inv.env = &env
	return env
}
