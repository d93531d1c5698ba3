// Package notifier sends desktop notifications about finished runs
package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/poltergeist/invoker/pkg/logger"
	"github.com/poltergeist/invoker/pkg/types"
)

// Sender delivers one notification
type Sender func(title, message string) error

// RunSummary carries the counts shown in a run notification
type RunSummary struct {
	Passed   int
	Failed   int
	Errors   int
	Skipped  int
	Duration time.Duration
}

// RunNotifier notifies about run and job outcomes
type RunNotifier struct {
	enabled      bool
	successSound string
	failureSound string
	logger       logger.Logger
	send         Sender
	beep         func() error
}

// New creates a notifier delivering through beeep
func New(config types.NotificationConfig, log logger.Logger) *RunNotifier {
	return &RunNotifier{
		enabled:      config.Enabled,
		successSound: config.SuccessSound,
		failureSound: config.FailureSound,
		logger:       log,
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		beep: func() error {
			return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
		},
	}
}

// WithSender replaces the delivery function, mostly for tests
func (n *RunNotifier) WithSender(send Sender) *RunNotifier {
	n.send = send
	n.beep = func() error { return nil }
	return n
}

// NotifyRunComplete reports the outcome of a run
func (n *RunNotifier) NotifyRunComplete(s RunSummary) {
	if !n.enabled {
		return
	}

	counts := fmt.Sprintf("%d passed, %d failed, %d errors, %d skipped", s.Passed, s.Failed, s.Errors, s.Skipped)
	message := fmt.Sprintf("%s in %s", counts, formatDuration(s.Duration))

	if s.Failed+s.Errors > 0 {
		n.sendNotification("❌ Integration tests failed", message, n.failureSound)
		return
	}
	n.sendNotification("✅ Integration tests passed", message, n.successSound)
}

// NotifyJobResult reports a single re-run job, as done in watch mode
func (n *RunNotifier) NotifyJobResult(job *types.BuildJob) {
	if !n.enabled {
		return
	}

	switch job.Result {
	case types.ResultSuccess:
		n.sendNotification("✅ "+job.DisplayName(), fmt.Sprintf("passed in %s", formatDuration(job.Elapsed())), n.successSound)
	case types.ResultSkipped:
		// nothing worth interrupting for
	default:
		message := strings.ToUpper(string(job.Result))
		if job.FailureMessage != "" {
			message += ": " + job.FailureMessage
		}
		n.sendNotification("❌ "+job.DisplayName(), message, n.failureSound)
	}
}

func (n *RunNotifier) sendNotification(title, message, soundName string) {
	if err := n.send(title, message); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithField("error", err))
		n.logger.Info(fmt.Sprintf("%s: %s", title, message))
	}

	if soundName != "" {
		if err := n.beep(); err != nil {
			n.logger.Debug("Failed to play sound", logger.WithField("error", err))
		}
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
