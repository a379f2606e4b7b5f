// Package logging builds the component loggers used across budgetsync.
//
// Components take a *log.Logger with a "[component] " prefix. All of them
// share one sink: stderr by default, or a size-rotated file when a log file
// is configured.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/steveyegge/budgetsync/internal/config"
)

// Sink is the shared destination of every component logger.
type Sink struct {
	w      io.Writer
	closer io.Closer
}

// New creates a Sink from cfg. With an empty File it writes to stderr.
func New(cfg config.LogConfig) (*Sink, error) {
	if cfg.File == "" {
		return &Sink{w: os.Stderr}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	return &Sink{w: rotator, closer: rotator}, nil
}

// Discard returns a Sink that drops everything.
func Discard() *Sink {
	return &Sink{w: io.Discard}
}

// Logger returns a logger for component, e.g. Logger("sync") prefixes lines
// with "[sync] ".
func (s *Sink) Logger(component string) *log.Logger {
	return log.New(s.w, "["+component+"] ", log.LstdFlags)
}

// Writer returns the underlying writer.
func (s *Sink) Writer() io.Writer {
	return s.w
}

// Close flushes and closes a file sink. It is a no-op for stderr.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
