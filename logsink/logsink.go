// Package logsink provides intercept.Sink implementations that receive the
// formatted run log at the end of each intercepted call.
package logsink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/goliatone/go-intercept/intercept"
)

// Slog forwards each line to logger at debug level, matching the role of
// a trace listener.
func Slog(logger *slog.Logger) intercept.Sink {
	return SlogAt(logger, slog.LevelDebug)
}

// SlogAt forwards each line to logger at level.
func SlogAt(logger *slog.Logger, level slog.Level) intercept.Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return intercept.SinkFunc(func(line string) error {
		logger.Log(context.Background(), level, "intercept", slog.String("entry", line))
		return nil
	})
}

// WriterSink writes one line per entry to an io.Writer. Concurrent runs
// never interleave within a line.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func Writer(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Stderr writes to the process standard error.
func Stderr() *WriterSink {
	return Writer(os.Stderr)
}

func (s *WriterSink) Write(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, line+"\n")
	return err
}

// FileSink appends lines to a file.
type FileSink struct {
	*WriterSink
	f *os.File
}

// File opens path for appending, creating it when missing.
func File(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return &FileSink{WriterSink: Writer(f), f: f}, nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// Nop discards every line.
func Nop() intercept.Sink {
	return intercept.SinkFunc(func(string) error { return nil })
}
