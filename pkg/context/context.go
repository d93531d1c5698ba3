// Package context carries run tracing values (run ID, job, phase, start
// time) through a context.Context.
package context

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

const (
	runIDKey ctxKey = iota
	jobKey
	phaseKey
	startTimeKey
)

const (
	unknownRun   = "unknown-run"
	unknownJob   = "unknown-job"
	unknownPhase = "unknown-phase"
)

// WithRunID adds a run ID to the context, generating one when empty
func WithRunID(parent context.Context, runID string) context.Context {
	if runID == "" {
		runID = GenerateRunID()
	}
	return context.WithValue(parent, runIDKey, runID)
}

// GetRunID retrieves the run ID from context
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok && id != "" {
		return id
	}
	return unknownRun
}

// WithJob adds the relative path of the job being processed
func WithJob(parent context.Context, job string) context.Context {
	return context.WithValue(parent, jobKey, job)
}

// GetJob retrieves the job path from context
func GetJob(ctx context.Context) string {
	if job, ok := ctx.Value(jobKey).(string); ok && job != "" {
		return job
	}
	return unknownJob
}

// WithPhase adds the pipeline phase (select, pre-build, invoke, post-build)
func WithPhase(parent context.Context, phase string) context.Context {
	return context.WithValue(parent, phaseKey, phase)
}

// GetPhase retrieves the pipeline phase from context
func GetPhase(ctx context.Context) string {
	if phase, ok := ctx.Value(phaseKey).(string); ok && phase != "" {
		return phase
	}
	return unknownPhase
}

// WithStartTime adds the operation start time to the context
func WithStartTime(parent context.Context, startTime time.Time) context.Context {
	return context.WithValue(parent, startTimeKey, startTime)
}

// GetStartTime retrieves the start time from context. The zero time is
// returned when none was recorded.
func GetStartTime(ctx context.Context) time.Time {
	if t, ok := ctx.Value(startTimeKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}

// GetDuration calculates the duration since the start time in context, or
// zero when no start time is present.
func GetDuration(ctx context.Context) time.Duration {
	start := GetStartTime(ctx)
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}

// GenerateRunID creates a new unique run ID
func GenerateRunID() string {
	return "run_" + uuid.New().String()
}

// HasRunID reports whether a run ID has been attached.
func HasRunID(ctx context.Context) bool {
	return GetRunID(ctx) != unknownRun
}

// HasJob reports whether a job has been attached.
func HasJob(ctx context.Context) bool {
	return GetJob(ctx) != unknownJob
}

// HasPhase reports whether a phase has been attached.
func HasPhase(ctx context.Context) bool {
	return GetPhase(ctx) != unknownPhase
}
