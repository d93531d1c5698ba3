// Package cli provides the command-line interface for invoker
package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/poltergeist/invoker/pkg/logger"
	"github.com/poltergeist/invoker/pkg/types"
)

// CLI holds the command tree and its options without global state
type CLI struct {
	config     *Config
	rootCmd    *cobra.Command
	output     io.Writer
	errorOut   io.Writer
	configUsed string
}

// NewCLI creates a new CLI instance with the given configuration
func NewCLI(config *Config) *CLI {
	if config == nil {
		config = NewConfig()
	}

	cli := &CLI{
		config:   config,
		output:   os.Stdout,
		errorOut: os.Stderr,
	}

	cli.setupCommands()
	return cli
}

// NewCLIWithOutput creates a CLI with custom output writers (for testing)
func NewCLIWithOutput(config *Config, output, errorOut io.Writer) *CLI {
	cli := NewCLI(config)
	cli.output = output
	cli.errorOut = errorOut
	cli.rootCmd.SetOut(output)
	cli.rootCmd.SetErr(errorOut)
	return cli
}

// Execute runs the CLI with the given arguments
func (c *CLI) Execute(args []string) error {
	return c.ExecuteContext(context.Background(), args)
}

// ExecuteContext runs the CLI with context support
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "invoker",
		Short: "Run integration test projects against a build tool",
		Long: `invoker discovers test projects below a projects directory, runs each one
through its selector and hook scripts and one or more forked builds, and
records the outcome of every job in BUILD-<job>.xml reports.`,

		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	c.setupFlags()

	c.rootCmd.Version = c.config.Version
	c.rootCmd.SetVersionTemplate("invoker v{{.Version}}\n")

	c.rootCmd.AddCommand(c.newRunCmd())
	c.rootCmd.AddCommand(c.newVerifyCmd())
	c.rootCmd.AddCommand(c.newReportCmd())
	c.rootCmd.AddCommand(c.newInstallCmd())
	c.rootCmd.AddCommand(c.newWatchCmd())
	c.rootCmd.AddCommand(c.newVersionCmd())
}

func (c *CLI) setupFlags() {
	flags := c.rootCmd.PersistentFlags()

	flags.StringVar(&c.config.ConfigFile, "config", "", "config file (default: invoker.yaml, invoker.yml or invoker.json in the project root)")
	flags.StringVar(&c.config.ProjectRoot, "project-root", ".", "project root directory")
	flags.BoolVarP(&c.config.Verbose, "verbose", "v", false, "debug logging")
	flags.StringVar(&c.config.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

// newLogger creates the run logger writing to the CLI output
func (c *CLI) newLogger(cfg *types.InvokerConfig) logger.Logger {
	var log logger.Logger
	if c.output == os.Stdout {
		log = logger.CreateLogger(cfg.Logging.File, string(cfg.Logging.Level))
	} else {
		log = logger.CreateLoggerWithOutput(cfg.Logging.File, string(cfg.Logging.Level), c.output)
	}
	if c.configUsed != "" {
		log.Debug("Using config file", logger.WithField("file", c.configUsed))
	}
	return log
}

// ExecuteWithVersion runs the CLI on the process arguments
func ExecuteWithVersion(version string) error {
	config := NewConfig()
	config.Version = version
	return NewCLI(config).Execute(os.Args[1:])
}
