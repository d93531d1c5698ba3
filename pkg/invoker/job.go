package invoker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/poltergeist/invoker/pkg/build"
	pcontext "github.com/poltergeist/invoker/pkg/context"
	"github.com/poltergeist/invoker/pkg/interpolate"
	"github.com/poltergeist/invoker/pkg/logger"
	"github.com/poltergeist/invoker/pkg/properties"
	"github.com/poltergeist/invoker/pkg/script"
	"github.com/poltergeist/invoker/pkg/selector"
	"github.com/poltergeist/invoker/pkg/types"
	"github.com/poltergeist/invoker/pkg/utils"
)

// Phases of the job pipeline, used in logs
const (
	PhaseSelect    = "select"
	PhasePreBuild  = "pre-build"
	PhaseInvoke    = "invoke"
	PhasePostBuild = "post-build"
)

// JobRunner runs the pipeline of a single job:
// select, pre-build hook, invocations, post-build hook.
type JobRunner struct {
	cfg      *types.InvokerConfig
	fsu      *utils.FileSystemUtils
	log      logger.Logger
	scripts  *script.Runner
	executor build.Executor
	env      selector.Environment

	// SettingsFile overrides the configured settings file, e.g. with an
	// interpolated copy.
	SettingsFile string
	// TestProperties are the values of the configured testProperties file.
	TestProperties map[string]string
}

// NewJobRunner creates a job runner. A nil fs means the OS filesystem.
func NewJobRunner(cfg *types.InvokerConfig, fs afero.Fs, log logger.Logger, scripts *script.Runner, executor build.Executor, env selector.Environment) *JobRunner {
	return &JobRunner{
		cfg:          cfg,
		fsu:          utils.NewFileSystemUtils(fs),
		log:          log,
		scripts:      scripts,
		executor:     executor,
		env:          env,
		SettingsFile: cfg.SettingsFile,
	}
}

// jobContext is the state shared by the phases of one job
type jobContext struct {
	job     *types.BuildJob
	log     logger.Logger
	basedir string
	pom     string
	props   *properties.InvokerProperties
	ip      *interpolate.Interpolator
	output  io.Writer
	logPath string
	shared  map[string]interface{}
}

// Run runs job and records result, message and elapsed time on it
func (r *JobRunner) Run(ctx context.Context, job *types.BuildJob) {
	start := time.Now()
	ctx = pcontext.WithJob(ctx, job.Project)
	ctx = pcontext.WithStartTime(ctx, start)
	log := r.log.WithJob(job.Project)

	log.Info("Building job", logger.WithField("type", job.Type))

	err := r.run(ctx, job, log)
	job.SetElapsed(time.Since(start))
	job.Result, job.FailureMessage = classify(err)

	fields := []logger.Field{logger.WithResult(string(job.Result)), logger.WithDuration(job.Elapsed())}
	switch {
	case job.Result == types.ResultSuccess:
		log.Success("Job passed", fields...)
	case job.Result == types.ResultSkipped:
		log.Info("Job skipped: "+job.FailureMessage, fields...)
	default:
		log.Error("Job failed: "+job.FailureMessage, fields...)
	}
}

func (r *JobRunner) run(ctx context.Context, job *types.BuildJob, log logger.Logger) error {
	basedir, pom, err := r.resolve(job)
	if err != nil {
		return err
	}

	jc := &jobContext{
		job:     job,
		log:     log,
		basedir: basedir,
		pom:     pom,
		shared:  make(map[string]interface{}),
	}
	jc.ip = interpolate.New(interpolate.ValueSource(basedir, r.cfg.LocalRepositoryPath, r.cfg.FilterProperties))

	jc.props, err = properties.Load(r.fsu.Fs(), filepath.Join(basedir, r.cfg.InvokerPropertiesFile), jc.ip)
	if err != nil {
		return runError(err, "Failed to load invoker properties")
	}
	job.Name = jc.props.JobName()
	job.Description = jc.props.JobDescription()

	outcome, err := selector.Evaluate(jc.props, r.env)
	if err != nil {
		return runError(err, "Failed to evaluate run conditions")
	}
	if len(outcome.Unknown) > 0 {
		log.Warn("Run conditions could not be checked: " + strings.Join(outcome.Unknown, ", "))
	}
	if !outcome.Satisfied() {
		return &SkipError{Message: "Skipped due to " + strings.Join(outcome.Unsatisfied, ", ")}
	}

	closeOutput, err := r.openOutput(jc)
	if err != nil {
		return runError(err, "Failed to open build log")
	}
	defer closeOutput()

	if r.cfg.CloneProjectsTo == "" && r.cfg.FilteredPomPrefix != "" && jc.pom != "" {
		filtered := filepath.Join(basedir, r.cfg.FilteredPomPrefix+filepath.Base(jc.pom))
		if err := jc.ip.FilterFile(r.fsu.Fs(), jc.pom, filtered); err != nil {
			return runError(err, "Failed to filter POM")
		}
		defer func() {
			if err := r.fsu.RemoveAll(filtered); err != nil {
				log.Warn("Failed to remove filtered POM", logger.WithError(err))
			}
		}()
		jc.pom = filtered
	}

	if err := r.runHook(ctx, jc, PhaseSelect, "selector script", r.cfg.SelectorScript); err != nil {
		return err
	}
	if err := r.runHook(ctx, jc, PhasePreBuild, "pre-build script", r.cfg.PreBuildHookScript); err != nil {
		return err
	}

	if r.cfg.SkipInvocation {
		log.Info("Skipping invocation")
	} else {
		for _, inv := range jc.props.Invocations() {
			if err := r.invoke(pcontext.WithPhase(ctx, PhaseInvoke), jc, inv); err != nil {
				return err
			}
		}
	}

	return r.runHook(ctx, jc, PhasePostBuild, "post-build script", r.cfg.PostBuildHookScript)
}

// resolve returns the base directory and POM of a job. POM-less jobs have
// an empty POM.
func (r *JobRunner) resolve(job *types.BuildJob) (string, string, error) {
	path := filepath.FromSlash(job.Project)
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.cfg.ProjectsRoot(), path)
	}

	switch {
	case r.fsu.IsFile(path):
		return filepath.Dir(path), path, nil
	case r.fsu.IsDirectory(path):
		if pom := filepath.Join(path, "pom.xml"); r.fsu.IsFile(pom) {
			return path, pom, nil
		}
		return path, "", nil
	default:
		return "", "", runError(nil, "Project does not exist: %s", path)
	}
}

// openOutput sets the job's output sink and returns its closer
func (r *JobRunner) openOutput(jc *jobContext) (func(), error) {
	var tee *logger.LineWriter
	if r.cfg.StreamLogs {
		tee = logger.NewLineWriter(jc.log)
	}

	path := ""
	if !r.cfg.NoLog {
		path = filepath.Join(jc.basedir, build.LogFileName)
	}

	var teeWriter io.Writer
	if tee != nil {
		teeWriter = tee
	}
	buildLog, err := build.OpenLog(r.fsu.Fs(), path, teeWriter)
	if err != nil {
		return nil, err
	}

	jc.output = buildLog
	jc.logPath = buildLog.Path()
	return func() {
		if err := buildLog.Close(); err != nil {
			jc.log.Warn("Failed to close build log", logger.WithError(err))
		}
		if tee != nil {
			_ = tee.Close()
		}
	}, nil
}

// runHook evaluates a hook script and maps its outcome to the phase
func (r *JobRunner) runHook(ctx context.Context, jc *jobContext, phase, description, name string) error {
	if name == "" {
		return nil
	}
	ctx = pcontext.WithPhase(ctx, phase)

	err := r.scripts.Run(ctx, description, jc.basedir, name, jc.shared, jc.output)
	if err == nil {
		return nil
	}
	logger.WithContext(ctx, jc.log).Debug("Hook did not pass", logger.WithError(err))

	var evalErr *script.EvalError
	if errors.As(err, &evalErr) && evalErr.Kind == script.InterpreterError {
		return &RunFailure{Result: types.ResultError, Message: err.Error(), Err: err}
	}

	switch phase {
	case PhaseSelect:
		return &SkipError{Message: err.Error()}
	case PhasePreBuild:
		return failure(types.ResultFailurePreHook, err)
	default:
		return failure(types.ResultFailurePostHook, err)
	}
}

// invoke forks one invocation and checks its exit code
func (r *JobRunner) invoke(ctx context.Context, jc *jobContext, inv properties.Invocation) error {
	req, err := r.request(jc, inv)
	if err != nil {
		return err
	}

	jc.log.Info(fmt.Sprintf("Invocation %d", inv.Index),
		logger.WithPhase(PhaseInvoke),
		logger.WithField("goals", strings.Join(req.Goals, " ")))

	result, err := r.executor.Execute(ctx, req, jc.output)
	if err != nil {
		return runError(err, "Failed to invoke the build")
	}

	if result.TimedOut {
		return &RunFailure{
			Result:  types.ResultFailureBuild,
			Message: "The build timed out after " + req.Timeout.String() + "." + r.seeLog(jc),
		}
	}
	if !inv.IsExpectedResult(result.ExitCode) {
		return &RunFailure{
			Result:  types.ResultFailureBuild,
			Message: fmt.Sprintf("The build exited with code %d.%s", result.ExitCode, r.seeLog(jc)),
		}
	}
	return nil
}

func (r *JobRunner) seeLog(jc *jobContext) string {
	if jc.logPath == "" {
		return ""
	}
	return " See " + jc.logPath + " for details."
}

// request builds the build request for one invocation
func (r *JobRunner) request(jc *jobContext, inv properties.Invocation) (*build.Request, error) {
	req := &build.Request{
		BaseDirectory:   jc.basedir,
		PomFile:         jc.pom,
		LocalRepository: r.cfg.LocalRepositoryPath,
		SettingsFile:    r.SettingsFile,
		ShowErrors:      r.cfg.ShowErrors,
		Debug:           r.cfg.Debug,
		ShowVersion:     r.cfg.ShowVersion,
		NonRecursive:    inv.NonRecursive(),
		Executable:      r.cfg.MavenExecutable,
		MavenHome:       r.cfg.MavenHome,
		JavaHome:        r.cfg.JavaHome,
		MavenOpts:       r.cfg.MavenOpts,
		Timeout:         time.Duration(r.cfg.TimeoutInSeconds) * time.Second,
	}

	if project, ok := inv.Project(); ok {
		req.PomFile = ""
		if project != "" {
			req.PomFile = filepath.Join(jc.basedir, filepath.FromSlash(project))
		}
	}

	goals, err := r.tokens(jc, inv.Goals, r.cfg.GoalsFile, r.cfg.Goals)
	if err != nil {
		return nil, runError(err, "Failed to read goals")
	}
	req.Goals = goals

	profiles, err := r.tokens(jc, inv.Profiles, r.cfg.ProfilesFile, r.cfg.Profiles)
	if err != nil {
		return nil, runError(err, "Failed to read profiles")
	}
	req.Profiles = profiles

	if opts, ok := inv.MavenOpts(); ok {
		req.MavenOpts = opts
	}
	if debug, ok := inv.Debug(); ok {
		req.Debug = debug
	}
	if offline, ok := inv.Offline(); ok {
		req.Offline = offline
	}

	req.FailureBehavior, err = inv.FailureBehavior()
	if err != nil {
		return nil, runError(err, "Invalid invoker properties")
	}

	timeout, err := inv.Timeout()
	if err != nil {
		return nil, runError(err, "Invalid invoker properties")
	}
	if timeout > 0 {
		req.Timeout = timeout
	}

	req.Environment = make(map[string]string, len(r.cfg.EnvironmentVariables))
	for k, v := range r.cfg.EnvironmentVariables {
		req.Environment[k] = v
	}
	for k, v := range inv.EnvironmentVariables() {
		req.Environment[k] = v
	}

	req.Properties, err = r.systemProperties(jc, inv)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// tokens resolves goals or profiles: the invocation property, then the
// job's file, then the configured defaults.
func (r *JobRunner) tokens(jc *jobContext, fromProps func() ([]string, bool), file string, defaults []string) ([]string, error) {
	if values, ok := fromProps(); ok {
		return values, nil
	}

	if file != "" {
		path := filepath.Join(jc.basedir, file)
		if r.fsu.IsFile(path) {
			data, err := r.fsu.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return properties.SplitTokens(jc.ip.Expression(string(data))), nil
		}
	}

	return append([]string(nil), defaults...), nil
}

// systemProperties merges the configured test properties, the configured
// properties and the job's properties file; later sources win.
func (r *JobRunner) systemProperties(jc *jobContext, inv properties.Invocation) (map[string]string, error) {
	merged := make(map[string]string)
	for k, v := range r.TestProperties {
		merged[k] = v
	}
	for k, v := range r.cfg.Properties {
		merged[k] = v
	}

	var path string
	explicit := false
	if file := inv.SystemPropertiesFile(); file != "" {
		path = file
		if !filepath.IsAbs(path) {
			path = filepath.Join(jc.basedir, path)
		}
		explicit = true
	} else if r.cfg.TestPropertiesFile != "" {
		path = filepath.Join(jc.basedir, r.cfg.TestPropertiesFile)
	}

	if path == "" {
		return merged, nil
	}
	if !r.fsu.IsFile(path) {
		if explicit {
			return nil, runError(nil, "System properties file does not exist: %s", path)
		}
		return merged, nil
	}

	values, err := properties.LoadMap(r.fsu.Fs(), path)
	if err != nil {
		return nil, runError(err, "Failed to load system properties")
	}
	for k, v := range values {
		merged[k] = v
	}
	return merged, nil
}

// loadTestProperties reads the configured testProperties file
func loadTestProperties(fs afero.Fs, path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := properties.LoadMap(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return values, nil
}
