package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/poltergeist/invoker/pkg/invoker"
	"github.com/poltergeist/invoker/pkg/notifier"
	"github.com/poltergeist/invoker/pkg/process"
	"github.com/poltergeist/invoker/pkg/types"
	"github.com/poltergeist/invoker/pkg/watch"
)

func (c *CLI) newWatchCmd() *cobra.Command {
	settle := watch.DefaultSettlingDelay

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run all jobs, then re-run jobs whose files change",
		Long: `Run every job once, then watch the job directories and re-run a job when
its files change. Build logs, filtered POMs and target directories are
ignored. Stop with Ctrl+C; a running job is completed first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			log := c.newLogger(cfg)

			pm := process.NewManager(log)
			pm.Start(cmd.Context())
			defer pm.Stop()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			pm.RegisterShutdownHandler(cancel)

			// re-runs are reported per job by the watch runner
			inv := invoker.New(cfg, log,
				invoker.WithJobTracker(pm),
				invoker.WithNotifier(notifier.New(types.NotificationConfig{}, log)),
			)

			runner := watch.NewRunner(inv, log, notifier.New(cfg.Notifications, log))
			runner.SetSettlingDelay(settle)
			return runner.Run(ctx)
		},
	}
	addRunFlags(cmd)
	cmd.Flags().DurationVar(&settle, "settle", settle, "quiet period before a changed job is re-run")
	return cmd
}
