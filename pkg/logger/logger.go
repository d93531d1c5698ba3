// Package logger provides structured logging with job-specific support
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger interface for abstracted logging
type Logger interface {
	Info(message string, fields ...Field)
	Error(message string, fields ...Field)
	Warn(message string, fields ...Field)
	Debug(message string, fields ...Field)
	Success(message string, fields ...Field)
	WithJob(job string) Logger
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// WithField creates a new field
func WithField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// WithPhase tags a message with the pipeline phase that produced it.
func WithPhase(phase string) Field {
	return Field{Key: "phase", Value: phase}
}

// WithResult tags a message with a job result.
func WithResult(result string) Field {
	return Field{Key: "result", Value: result}
}

// WithDuration records an elapsed time rounded to milliseconds.
func WithDuration(d time.Duration) Field {
	return Field{Key: "duration", Value: d.Round(time.Millisecond).String()}
}

// WithError attaches an error.
func WithError(err error) Field {
	return Field{Key: "error", Value: err}
}

// JobLogger writes entries through logrus, prefixed with its job
type JobLogger struct {
	logger  *logrus.Logger
	jobName string
}

// levelStyle is how the formatter renders one level
type levelStyle struct {
	text  string
	color *color.Color
}

var levelStyles = map[logrus.Level]levelStyle{
	logrus.ErrorLevel: {"ERROR", color.New(color.FgRed, color.Bold)},
	logrus.WarnLevel:  {"WARN", color.New(color.FgYellow, color.Bold)},
	logrus.InfoLevel:  {"INFO", color.New(color.FgCyan)},
	logrus.DebugLevel: {"DEBUG", color.New(color.FgWhite, color.Faint)},
}

var (
	jobColor   = color.New(color.FgBlue)
	fieldColor = color.New(color.FgWhite, color.Faint)
)

// CustomFormatter renders "[time] LEVEL: [job] message {key=value, ...}"
// with fields sorted by key.
type CustomFormatter struct {
	TimestampFormat string
	DisableColors   bool
}

func (f *CustomFormatter) paint(c *color.Color, s string) string {
	if f.DisableColors {
		return s
	}
	return c.Sprint(s)
}

// Format implements logrus.Formatter
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	style, ok := levelStyles[entry.Level]
	if !ok {
		style = levelStyle{strings.ToUpper(entry.Level.String()), color.New(color.FgWhite)}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: ", entry.Time.Format(f.TimestampFormat), f.paint(style.color, style.text))

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k == "job" {
			fmt.Fprintf(&b, "[%s] ", f.paint(jobColor, fmt.Sprint(entry.Data[k])))
			continue
		}
		keys = append(keys, k)
	}
	b.WriteString(entry.Message)

	if len(keys) > 0 {
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%v", k, entry.Data[k])
		}
		b.WriteString(" " + f.paint(fieldColor, "{"+strings.Join(parts, ", ")+"}"))
	}

	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// CreateLogger creates a logger writing to stdout and, when logFile is
// set, appending to that file as well.
func CreateLogger(logFile string, logLevel string) Logger {
	return newJobLogger(logFile, logLevel, os.Stdout, false)
}

// CreateLoggerWithOutput creates a logger writing uncolored entries to
// output (for testing)
func CreateLoggerWithOutput(logFile string, logLevel string, output io.Writer) Logger {
	return newJobLogger(logFile, logLevel, output, true)
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &JobLogger{logger: log}
}

func newJobLogger(logFile, logLevel string, output io.Writer, disableColors bool) *JobLogger {
	log := logrus.New()

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&CustomFormatter{
		TimestampFormat: "15:04:05",
		DisableColors:   disableColors,
	})

	if logFile != "" {
		// an unwritable log file leaves console logging in place
		if file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			output = io.MultiWriter(output, file)
		}
	}
	log.SetOutput(output)

	return &JobLogger{logger: log}
}

// WithJob returns a logger prefixing entries with job
func (l *JobLogger) WithJob(job string) Logger {
	return &JobLogger{logger: l.logger, jobName: job}
}

func (l *JobLogger) entry(fields []Field) *logrus.Entry {
	data := make(logrus.Fields, len(fields)+1)
	if l.jobName != "" {
		data["job"] = l.jobName
	}
	for _, f := range fields {
		data[f.Key] = f.Value
	}
	return l.logger.WithFields(data)
}

// Info logs an info message
func (l *JobLogger) Info(message string, fields ...Field) {
	l.entry(fields).Info(message)
}

// Error logs an error message
func (l *JobLogger) Error(message string, fields ...Field) {
	l.entry(fields).Error(message)
}

// Warn logs a warning message
func (l *JobLogger) Warn(message string, fields ...Field) {
	l.entry(fields).Warn(message)
}

// Debug logs a debug message
func (l *JobLogger) Debug(message string, fields ...Field) {
	l.entry(fields).Debug(message)
}

// Success logs at info level with a check mark
func (l *JobLogger) Success(message string, fields ...Field) {
	l.entry(fields).Info("✅ " + message)
}
