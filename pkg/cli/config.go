package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/poltergeist/invoker/pkg/config"
	"github.com/poltergeist/invoker/pkg/types"
)

// EnvPrefix prefixes environment overrides, e.g. INVOKER_PARALLEL_THREADS
const EnvPrefix = "INVOKER"

// ConfigName is the base name of the discovered config file
const ConfigName = "invoker"

// Config holds the global CLI options
type Config struct {
	ConfigFile  string
	ProjectRoot string
	Verbose     bool
	LogLevel    string
	Version     string
}

// NewConfig creates a new CLI configuration with defaults
func NewConfig() *Config {
	return &Config{
		ProjectRoot: ".",
		LogLevel:    "info",
	}
}

// binding maps a command flag and its environment variable to a field
// of the run configuration
type binding struct {
	key    string
	flag   string
	target func(cfg *types.InvokerConfig) interface{}
}

var bindings = []binding{
	{"projectsDirectory", "projects-directory", func(c *types.InvokerConfig) interface{} { return &c.ProjectsDirectory }},
	{"cloneProjectsTo", "clone-projects-to", func(c *types.InvokerConfig) interface{} { return &c.CloneProjectsTo }},
	{"pomIncludes", "pom-include", func(c *types.InvokerConfig) interface{} { return &c.PomIncludes }},
	{"pomExcludes", "pom-exclude", func(c *types.InvokerConfig) interface{} { return &c.PomExcludes }},
	{"setupIncludes", "setup-include", func(c *types.InvokerConfig) interface{} { return &c.SetupIncludes }},
	{"invokerTest", "invoker-test", func(c *types.InvokerConfig) interface{} { return &c.InvokerTest }},
	{"goals", "goal", func(c *types.InvokerConfig) interface{} { return &c.Goals }},
	{"profiles", "profile", func(c *types.InvokerConfig) interface{} { return &c.Profiles }},
	{"parallelThreads", "parallel-threads", func(c *types.InvokerConfig) interface{} { return &c.ParallelThreads }},
	{"ignoreFailures", "ignore-failures", func(c *types.InvokerConfig) interface{} { return &c.IgnoreFailures }},
	{"localRepositoryPath", "local-repository", func(c *types.InvokerConfig) interface{} { return &c.LocalRepositoryPath }},
	{"reportsDirectory", "reports-directory", func(c *types.InvokerConfig) interface{} { return &c.ReportsDirectory }},
	{"disableReports", "disable-reports", func(c *types.InvokerConfig) interface{} { return &c.DisableReports }},
	{"mavenExecutable", "maven-executable", func(c *types.InvokerConfig) interface{} { return &c.MavenExecutable }},
	{"streamLogs", "stream-logs", func(c *types.InvokerConfig) interface{} { return &c.StreamLogs }},
	{"skipInvocation", "skip-invocation", func(c *types.InvokerConfig) interface{} { return &c.SkipInvocation }},
	{"metricsFile", "metrics-file", func(c *types.InvokerConfig) interface{} { return &c.MetricsFile }},
	{"notify", "notify", func(c *types.InvokerConfig) interface{} { return &c.Notifications.Enabled }},
}

// envName returns the environment variable overriding a flag
func envName(flag string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// findConfigFile returns the --config file or the invoker.yaml, .yml or
// .json found in the project root; empty when there is none.
func (c *CLI) findConfigFile() (string, error) {
	if c.config.ConfigFile != "" {
		return c.config.ConfigFile, nil
	}

	finder := viper.New()
	finder.AddConfigPath(c.config.ProjectRoot)
	finder.SetConfigName(ConfigName)

	if err := finder.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read config: %w", err)
	}

	path := finder.ConfigFileUsed()
	switch strings.TrimPrefix(filepath.Ext(path), ".") {
	case "yaml", "yml", "json":
		return path, nil
	default:
		return "", fmt.Errorf("unsupported config file %s, use YAML or JSON", path)
	}
}

// loadConfig builds the run configuration: defaults, then the config
// file, then INVOKER_* environment variables, then explicitly set flags.
// Paths are resolved against the project root.
func (c *CLI) loadConfig(cmd *cobra.Command) (*types.InvokerConfig, error) {
	manager := config.NewManager()

	path, err := c.findConfigFile()
	if err != nil {
		return nil, err
	}

	cfg := manager.GetDefaultConfig()
	if path != "" {
		if cfg, err = manager.LoadConfig(path); err != nil {
			return nil, err
		}
		c.configUsed = path
	}

	overrides := viper.New()
	for _, b := range bindings {
		if err := overrides.BindEnv(b.key, envName(b.flag)); err != nil {
			return nil, err
		}
		if f := cmd.Flags().Lookup(b.flag); f != nil {
			if err := overrides.BindPFlag(b.key, f); err != nil {
				return nil, err
			}
		}
	}

	for _, b := range bindings {
		if !overrides.IsSet(b.key) {
			continue
		}
		switch p := b.target(cfg).(type) {
		case *string:
			*p = overrides.GetString(b.key)
		case *bool:
			*p = overrides.GetBool(b.key)
		case *int:
			*p = overrides.GetInt(b.key)
		case *[]string:
			*p = overrides.GetStringSlice(b.key)
		}
	}

	if c.config.Verbose {
		cfg.Logging.Level = types.LogLevelDebug
	} else if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = types.LogLevel(c.config.LogLevel)
	}

	if err := manager.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	root, err := filepath.Abs(c.config.ProjectRoot)
	if err != nil {
		return nil, err
	}
	if err := manager.ResolvePaths(cfg, root); err != nil {
		return nil, err
	}
	return cfg, nil
}

func addRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("projects-directory", "", "directory containing the test projects (default src/it)")
	flags.String("clone-projects-to", "", "copy the test projects here before running them")
	flags.StringSlice("pom-include", nil, "include pattern for job POMs (repeatable)")
	flags.StringSlice("pom-exclude", nil, "exclude pattern for job POMs (repeatable)")
	flags.StringSlice("setup-include", nil, "include pattern for setup jobs (repeatable)")
	flags.String("invoker-test", "", "comma-separated jobs to run, '!' excludes")
	flags.StringSlice("goal", nil, "default goal (repeatable)")
	flags.StringSlice("profile", nil, "default profile (repeatable)")
	flags.IntP("parallel-threads", "T", 1, "number of jobs run in parallel")
	flags.Bool("ignore-failures", false, "do not fail the run on failed jobs")
	flags.String("local-repository", "", "local repository path (default ~/.m2/repository)")
	flags.String("reports-directory", "", "directory for BUILD-*.xml reports")
	flags.Bool("disable-reports", false, "do not write reports")
	flags.String("maven-executable", "", "build tool executable (default mvn)")
	flags.Bool("stream-logs", false, "also log build output")
	flags.Bool("skip-invocation", false, "run hooks without invoking the build")
	flags.String("metrics-file", "", "write Prometheus metrics to this file")
	flags.Bool("notify", false, "send a desktop notification when done")
}
