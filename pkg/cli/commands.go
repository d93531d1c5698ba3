package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/poltergeist/invoker/pkg/install"
	"github.com/poltergeist/invoker/pkg/invoker"
	"github.com/poltergeist/invoker/pkg/logger"
	"github.com/poltergeist/invoker/pkg/process"
	"github.com/poltergeist/invoker/pkg/report"
	"github.com/poltergeist/invoker/pkg/session"
	"github.com/poltergeist/invoker/pkg/types"
)

// heartbeatInterval is how often long runs log the jobs still running
const heartbeatInterval = time.Minute

func (c *CLI) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Discover and run the integration test jobs",
		Long: `Discover the jobs below the projects directory, run setup jobs first and
then the remaining jobs, write a report per job and fail when jobs failed
unless --ignore-failures is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runJobs(cmd)
		},
	}
	addRunFlags(cmd)
	return cmd
}

func (c *CLI) runJobs(cmd *cobra.Command) error {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}
	log := c.newLogger(cfg)
	ctx := cmd.Context()

	pm := process.NewManager(log)
	pm.SetHeartbeat(heartbeatInterval, pm.LogRunning())
	pm.Start(ctx)
	defer pm.Stop()

	inv := invoker.New(cfg, log, invoker.WithJobTracker(pm))
	sess, err := inv.Run(ctx)
	if err != nil {
		return err
	}
	return sess.HandleFailures(log, cfg.IgnoreFailures)
}

func (c *CLI) newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the reports of a previous run",
		Long: `Read the BUILD-*.xml reports back and fail when any job failed, for runs
where invocation and verification are separate steps.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.verify(cmd)
		},
	}
	cmd.Flags().String("reports-directory", "", "directory with BUILD-*.xml reports")
	cmd.Flags().Bool("ignore-failures", false, "do not fail on failed jobs")
	return cmd
}

func (c *CLI) verify(cmd *cobra.Command) error {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}
	log := c.newLogger(cfg)

	if cfg.Skip {
		log.Info("Skipping verification per configuration")
		return nil
	}

	jobs, err := report.NewStore(nil, cfg.ReportsDirectory).ReadAll()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		if cfg.FailIfNoProjects {
			return invoker.ErrNoProjects
		}
		log.Warn("No reports found in " + cfg.ReportsDirectory)
		return nil
	}

	sess := session.New(jobs...)
	if !cfg.SuppressSummaries {
		sess.WriteSummary(c.output)
	}
	return sess.HandleFailures(log, cfg.IgnoreFailures)
}

// reportDocument is the machine-readable form of the report command
type reportDocument struct {
	Count       int               `json:"count" yaml:"count"`
	Successes   int               `json:"successes" yaml:"successes"`
	Failures    int               `json:"failures" yaml:"failures"`
	Skipped     int               `json:"skipped" yaml:"skipped"`
	SuccessRate float64           `json:"successRate" yaml:"successRate"`
	TotalTime   float64           `json:"totalTime" yaml:"totalTime"`
	Jobs        []*types.BuildJob `json:"jobs" yaml:"jobs"`
}

func (c *CLI) newReportCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the results of the last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}

			jobs, err := report.NewStore(nil, cfg.ReportsDirectory).ReadAll()
			if err != nil {
				return err
			}
			return c.writeReport(format, jobs)
		},
	}
	cmd.Flags().String("reports-directory", "", "directory with BUILD-*.xml reports")
	cmd.Flags().StringVarP(&format, "format", "o", "table", "output format (table, json, yaml)")
	return cmd
}

func (c *CLI) writeReport(format string, jobs []*types.BuildJob) error {
	if format == "table" {
		if len(jobs) == 0 {
			fmt.Fprintln(c.output, "No reports found")
			return nil
		}
		report.RenderSummary(c.output, jobs)
		fmt.Fprintln(c.output)
		report.RenderJobs(c.output, jobs)
		return nil
	}

	totals := report.Summarize(jobs)
	doc := reportDocument{
		Count:       totals.Count,
		Successes:   totals.Successes,
		Failures:    totals.Failures,
		Skipped:     totals.Skipped,
		SuccessRate: totals.SuccessRate(),
		TotalTime:   totals.TotalTime.Seconds(),
		Jobs:        jobs,
	}
	if doc.Jobs == nil {
		doc.Jobs = []*types.BuildJob{}
	}

	switch format {
	case "json":
		enc := json.NewEncoder(c.output)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml":
		enc := yaml.NewEncoder(c.output)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(doc)
	default:
		return fmt.Errorf("unknown format %q, use table, json or yaml", format)
	}
}

func (c *CLI) newInstallCmd() *cobra.Command {
	var opts install.Options

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Stage an artifact into the local repository",
		Long: `Copy a POM and optionally its artifact into the local repository the jobs
build against, at <groupId as path>/<artifactId>/<version>/.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			log := c.newLogger(cfg)

			opts.Pom = c.resolve(opts.Pom)
			if opts.File != "" {
				opts.File = c.resolve(opts.File)
			}

			result, err := install.New(nil, log, cfg.LocalRepositoryPath).Install(opts)
			if err != nil {
				return err
			}
			for _, file := range result.Files {
				log.Debug("Installed file", logger.WithField("path", file))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Pom, "pom", "pom.xml", "POM of the artifact")
	cmd.Flags().StringVar(&opts.File, "file", "", "artifact file")
	cmd.Flags().StringVar(&opts.Classifier, "classifier", "", "artifact classifier")
	cmd.Flags().String("local-repository", "", "local repository path (default ~/.m2/repository)")
	return cmd
}

// resolve makes path absolute against the project root
func (c *CLI) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.config.ProjectRoot, path)
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			version := c.config.Version
			if version == "" {
				version = "dev"
			}
			fmt.Fprintf(c.output, "invoker v%s\n", version)
		},
	}
}
