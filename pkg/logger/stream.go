package logger

import (
	"bytes"
	"strings"
	"sync"
)

// LineWriter forwards complete lines written to it to a Logger at info
// level. It is used to mirror build output to the console.
type LineWriter struct {
	log Logger
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLineWriter creates a LineWriter logging through log.
func NewLineWriter(log Logger) *LineWriter {
	return &LineWriter{log: log}
}

// Write implements io.Writer
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// incomplete line, keep it for the next write
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.log.Info(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// Close flushes a trailing partial line.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() > 0 {
		w.log.Info(strings.TrimRight(w.buf.String(), "\r\n"))
		w.buf.Reset()
	}
	return nil
}
