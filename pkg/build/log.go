package build

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// LogFileName is the per-job build log written to the job directory
const LogFileName = "build.log"

// Log receives build tool output and script output for one job. It writes
// to build.log and optionally tees to a second writer.
type Log struct {
	mu   sync.Mutex
	file afero.File
	path string
	out  io.Writer
}

// OpenLog truncates or creates the log at path on fs. An empty path gives
// a log that only writes to tee. tee may be nil; a nil fs is the OS
// filesystem.
func OpenLog(fs afero.Fs, path string, tee io.Writer) (*Log, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	l := &Log{path: path}

	var writers []io.Writer
	if path != "" {
		if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open build log: %w", err)
		}
		l.file = file
		writers = append(writers, file)
	}
	if tee != nil {
		writers = append(writers, tee)
	}

	switch len(writers) {
	case 0:
		l.out = io.Discard
	case 1:
		l.out = writers[0]
	default:
		l.out = io.MultiWriter(writers...)
	}

	if l.file != nil {
		fmt.Fprintf(l.file, "=== Build log started at %s ===\n", time.Now().Format("2006-01-02 15:04:05"))
	}
	return l, nil
}

// Path returns the log file path, or "" when nothing is written to disk
func (l *Log) Path() string {
	return l.path
}

// Write implements io.Writer
func (l *Log) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Write(p)
}

// Close closes the log file
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.out = io.Discard
	return err
}
