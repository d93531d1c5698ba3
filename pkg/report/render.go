package report

import (
	"fmt"
	"io"
	"time"

	"github.com/docker/go-units"
	"github.com/olekukonko/tablewriter"

	"github.com/poltergeist/invoker/pkg/types"
)

// Totals summarizes a set of jobs
type Totals struct {
	Count     int
	Successes int
	Skipped   int
	// Failures counts every unsuccessful job that was not skipped
	Failures  int
	TotalTime time.Duration
}

// SuccessRate returns successes among the jobs that ran, in percent
func (t Totals) SuccessRate() float64 {
	ran := t.Count - t.Skipped
	if ran <= 0 {
		return 0
	}
	return float64(t.Successes) * 100 / float64(ran)
}

// AverageTime returns the mean job time
func (t Totals) AverageTime() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.TotalTime / time.Duration(t.Count)
}

// Summarize computes totals for jobs
func Summarize(jobs []*types.BuildJob) Totals {
	var t Totals
	for _, job := range jobs {
		t.Count++
		t.TotalTime += job.Elapsed()
		switch job.Result {
		case types.ResultSuccess:
			t.Successes++
		case types.ResultSkipped:
			t.Skipped++
		default:
			t.Failures++
		}
	}
	return t
}

// RenderSummary writes the totals table
func RenderSummary(w io.Writer, jobs []*types.BuildJob) {
	t := Summarize(jobs)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Jobs", "Successes", "Failures", "Skipped", "Success rate", "Total time", "Average time"})
	table.Append([]string{
		fmt.Sprint(t.Count),
		fmt.Sprint(t.Successes),
		fmt.Sprint(t.Failures),
		fmt.Sprint(t.Skipped),
		fmt.Sprintf("%.1f%%", t.SuccessRate()),
		formatDuration(t.TotalTime),
		formatDuration(t.AverageTime()),
	})
	table.Render()
}

// RenderJobs writes one table row per job
func RenderJobs(w io.Writer, jobs []*types.BuildJob) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Job", "Type", "Result", "Time", "Message"})
	table.SetAutoWrapText(false)
	for _, job := range jobs {
		name := job.Name
		if name == "" {
			name = job.Project
		}
		table.Append([]string{
			name,
			string(job.Type),
			string(job.Result),
			fmt.Sprintf("%.3fs", job.Time),
			job.FailureMessage,
		})
	}
	table.Render()
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.3fs", d.Seconds())
	}
	return units.HumanDuration(d)
}
