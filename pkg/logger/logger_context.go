package logger

import (
	"context"

	pcontext "github.com/poltergeist/invoker/pkg/context"
)

// ContextFields returns the run ID, job, phase and elapsed time carried by
// ctx as log fields.
func ContextFields(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}

	var fields []Field
	if pcontext.HasRunID(ctx) {
		fields = append(fields, WithField("run_id", pcontext.GetRunID(ctx)))
	}
	if pcontext.HasJob(ctx) {
		fields = append(fields, WithField("job", pcontext.GetJob(ctx)))
	}
	if pcontext.HasPhase(ctx) {
		fields = append(fields, WithPhase(pcontext.GetPhase(ctx)))
	}
	if elapsed := pcontext.GetDuration(ctx); elapsed > 0 {
		fields = append(fields, WithField("duration_ms", elapsed.Milliseconds()))
	}
	return fields
}

// WithContext returns a logger adding the fields of ctx to every entry.
// A job set with WithJob on log wins over the job of the context.
func WithContext(ctx context.Context, log Logger) Logger {
	if ctx == nil {
		return log
	}
	return &contextLogger{ctx: ctx, next: log}
}

type contextLogger struct {
	ctx  context.Context
	next Logger
}

// jobScoped is implemented by loggers that already carry a job
type jobScoped interface {
	scopedJob() string
}

func (l *JobLogger) scopedJob() string { return l.jobName }

func (c *contextLogger) fields(extra []Field) []Field {
	explicit := false
	if js, ok := c.next.(jobScoped); ok && js.scopedJob() != "" {
		explicit = true
	}

	fields := make([]Field, 0, len(extra)+4)
	for _, f := range ContextFields(c.ctx) {
		if explicit && f.Key == "job" {
			continue
		}
		fields = append(fields, f)
	}
	return append(fields, extra...)
}

func (c *contextLogger) Info(message string, fields ...Field) {
	c.next.Info(message, c.fields(fields)...)
}

func (c *contextLogger) Error(message string, fields ...Field) {
	c.next.Error(message, c.fields(fields)...)
}

func (c *contextLogger) Warn(message string, fields ...Field) {
	c.next.Warn(message, c.fields(fields)...)
}

func (c *contextLogger) Debug(message string, fields ...Field) {
	c.next.Debug(message, c.fields(fields)...)
}

func (c *contextLogger) Success(message string, fields ...Field) {
	c.next.Success(message, c.fields(fields)...)
}

func (c *contextLogger) WithJob(job string) Logger {
	return &contextLogger{ctx: c.ctx, next: c.next.WithJob(job)}
}
