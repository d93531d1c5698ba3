// Package types provides core types and configuration for invoker
package types

import (
	"encoding/xml"
	"fmt"
	"math"
	"strings"
	"time"
)

// JobType classifies a discovered job
type JobType string

const (
	// JobTypeSetup jobs run first and sequentially, typically to seed the
	// local repository for the other jobs.
	JobTypeSetup  JobType = "setup"
	JobTypeNormal JobType = "normal"
	// JobTypeDirect jobs were selected explicitly with invokerTest.
	JobTypeDirect JobType = "direct"
)

// Result is the terminal outcome of a job
type Result string

const (
	ResultSuccess         Result = "success"
	ResultSkipped         Result = "skipped"
	ResultFailureBuild    Result = "failure-build"
	ResultFailurePreHook  Result = "failure-pre-hook"
	ResultFailurePostHook Result = "failure-post-hook"
	ResultError           Result = "error"
)

// IsFailure reports whether the result is one of the FAILURE_* kinds.
func (r Result) IsFailure() bool {
	switch r {
	case ResultFailureBuild, ResultFailurePreHook, ResultFailurePostHook:
		return true
	}
	return false
}

// IsTerminal reports whether r is a known result.
func (r Result) IsTerminal() bool {
	switch r {
	case ResultSuccess, ResultSkipped, ResultError:
		return true
	}
	return r.IsFailure()
}

// ParseResult parses a result string as written in reports
func ParseResult(s string) (Result, error) {
	r := Result(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsTerminal() {
		return "", fmt.Errorf("unknown job result: %q", s)
	}
	return r, nil
}

// ParseJobType parses a job type string as written in reports
func ParseJobType(s string) (JobType, error) {
	switch t := JobType(strings.ToLower(strings.TrimSpace(s))); t {
	case JobTypeSetup, JobTypeNormal, JobTypeDirect:
		return t, nil
	case "":
		return JobTypeNormal, nil
	default:
		return "", fmt.Errorf("unknown job type: %q", s)
	}
}

// BuildJob is one test project subjected to one or more build invocations.
// It is created by discovery, mutated by the job pipeline and serialized
// to a BUILD-<job>.xml report.
type BuildJob struct {
	XMLName        xml.Name `xml:"build-job" json:"-" yaml:"-"`
	Project        string   `xml:"project,attr" json:"project" yaml:"project"`
	Type           JobType  `xml:"type,attr" json:"type" yaml:"type"`
	Result         Result   `xml:"result,attr,omitempty" json:"result,omitempty" yaml:"result,omitempty"`
	Time           float64  `xml:"time,attr" json:"time" yaml:"time"`
	Name           string   `xml:"name,omitempty" json:"name,omitempty" yaml:"name,omitempty"`
	Description    string   `xml:"description,omitempty" json:"description,omitempty" yaml:"description,omitempty"`
	FailureMessage string   `xml:"failureMessage,omitempty" json:"failureMessage,omitempty" yaml:"failureMessage,omitempty"`
}

// NewBuildJob creates a job for the given project path
func NewBuildJob(project string, jobType JobType) *BuildJob {
	return &BuildJob{Project: project, Type: jobType}
}

// SetElapsed stores d in seconds rounded to milliseconds.
func (j *BuildJob) SetElapsed(d time.Duration) {
	j.Time = math.Round(d.Seconds()*1000) / 1000
}

// Elapsed returns the recorded time as a duration.
func (j *BuildJob) Elapsed() time.Duration {
	return time.Duration(math.Round(j.Time*1000)) * time.Millisecond
}

// DisplayName is "name (project)" when a name is set, otherwise the project.
func (j *BuildJob) DisplayName() string {
	if j.Name != "" {
		return fmt.Sprintf("%s (%s)", j.Name, j.Project)
	}
	return j.Project
}

// LogLevel represents logging verbosity levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	File  string   `json:"file" yaml:"file"`
	Level LogLevel `json:"level" yaml:"level"`
}

// NotificationConfig represents notification preferences
type NotificationConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	SuccessSound string `json:"successSound,omitempty" yaml:"successSound,omitempty"`
	FailureSound string `json:"failureSound,omitempty" yaml:"failureSound,omitempty"`
}

// InvokerConfig is the run configuration
type InvokerConfig struct {
	ProjectsDirectory string   `json:"projectsDirectory" yaml:"projectsDirectory"`
	CloneProjectsTo   string   `json:"cloneProjectsTo,omitempty" yaml:"cloneProjectsTo,omitempty"`
	CloneAllFiles     bool     `json:"cloneAllFiles,omitempty" yaml:"cloneAllFiles,omitempty"`
	CloneClean        bool     `json:"cloneClean,omitempty" yaml:"cloneClean,omitempty"`
	Pom               string   `json:"pom,omitempty" yaml:"pom,omitempty"`
	PomIncludes       []string `json:"pomIncludes" yaml:"pomIncludes"`
	PomExcludes       []string `json:"pomExcludes,omitempty" yaml:"pomExcludes,omitempty"`
	SetupIncludes     []string `json:"setupIncludes" yaml:"setupIncludes"`
	InvokerTest       string   `json:"invokerTest,omitempty" yaml:"invokerTest,omitempty"`
	FailIfNoProjects  bool     `json:"failIfNoProjects,omitempty" yaml:"failIfNoProjects,omitempty"`

	Goals        []string `json:"goals" yaml:"goals"`
	GoalsFile    string   `json:"goalsFile" yaml:"goalsFile"`
	Profiles     []string `json:"profiles,omitempty" yaml:"profiles,omitempty"`
	ProfilesFile string   `json:"profilesFile" yaml:"profilesFile"`

	InvokerPropertiesFile string            `json:"invokerPropertiesFile" yaml:"invokerPropertiesFile"`
	TestPropertiesFile    string            `json:"testPropertiesFile" yaml:"testPropertiesFile"`
	TestProperties        string            `json:"testProperties,omitempty" yaml:"testProperties,omitempty"`
	Properties            map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
	FilterProperties      map[string]string `json:"filterProperties,omitempty" yaml:"filterProperties,omitempty"`
	FilteredPomPrefix     string            `json:"filteredPomPrefix,omitempty" yaml:"filteredPomPrefix,omitempty"`
	EnvironmentVariables  map[string]string `json:"environmentVariables,omitempty" yaml:"environmentVariables,omitempty"`

	SelectorScript      string            `json:"selectorScript" yaml:"selectorScript"`
	PreBuildHookScript  string            `json:"preBuildHookScript" yaml:"preBuildHookScript"`
	PostBuildHookScript string            `json:"postBuildHookScript" yaml:"postBuildHookScript"`
	ScriptClassPath     []string          `json:"scriptClassPath,omitempty" yaml:"scriptClassPath,omitempty"`
	ScriptVariables     map[string]string `json:"scriptVariables,omitempty" yaml:"scriptVariables,omitempty"`

	LocalRepositoryPath string `json:"localRepositoryPath,omitempty" yaml:"localRepositoryPath,omitempty"`
	SettingsFile        string `json:"settingsFile,omitempty" yaml:"settingsFile,omitempty"`
	MavenExecutable     string `json:"mavenExecutable" yaml:"mavenExecutable"`
	MavenHome           string `json:"mavenHome,omitempty" yaml:"mavenHome,omitempty"`
	JavaHome            string `json:"javaHome,omitempty" yaml:"javaHome,omitempty"`
	MavenOpts           string `json:"mavenOpts,omitempty" yaml:"mavenOpts,omitempty"`
	MavenVersion        string `json:"mavenVersion,omitempty" yaml:"mavenVersion,omitempty"`
	JavaVersion         string `json:"javaVersion,omitempty" yaml:"javaVersion,omitempty"`
	TimeoutInSeconds    int    `json:"timeoutInSeconds,omitempty" yaml:"timeoutInSeconds,omitempty"`

	ShowErrors     bool `json:"showErrors,omitempty" yaml:"showErrors,omitempty"`
	Debug          bool `json:"debug,omitempty" yaml:"debug,omitempty"`
	ShowVersion    bool `json:"showVersion,omitempty" yaml:"showVersion,omitempty"`
	NoLog          bool `json:"noLog,omitempty" yaml:"noLog,omitempty"`
	StreamLogs     bool `json:"streamLogs,omitempty" yaml:"streamLogs,omitempty"`
	SkipInvocation bool `json:"skipInvocation,omitempty" yaml:"skipInvocation,omitempty"`
	Skip           bool `json:"skip,omitempty" yaml:"skip,omitempty"`

	ParallelThreads   int    `json:"parallelThreads" yaml:"parallelThreads"`
	IgnoreFailures    bool   `json:"ignoreFailures,omitempty" yaml:"ignoreFailures,omitempty"`
	SuppressSummaries bool   `json:"suppressSummaries,omitempty" yaml:"suppressSummaries,omitempty"`
	ReportsDirectory  string `json:"reportsDirectory" yaml:"reportsDirectory"`
	DisableReports    bool   `json:"disableReports,omitempty" yaml:"disableReports,omitempty"`
	MetricsFile       string `json:"metricsFile,omitempty" yaml:"metricsFile,omitempty"`

	Notifications NotificationConfig `json:"notifications" yaml:"notifications"`
	Logging       LoggingConfig      `json:"logging" yaml:"logging"`
}

// ProjectsRoot returns the directory jobs actually run in: the clone
// target when cloning is enabled, otherwise the projects directory.
func (c *InvokerConfig) ProjectsRoot() string {
	if c.CloneProjectsTo != "" {
		return c.CloneProjectsTo
	}
	return c.ProjectsDirectory
}
