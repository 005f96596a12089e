package build

import (
	"fmt"
	"io"
	"os"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

const (
	// LogTypeDefault writes to both stdout and the rotating file. This is
	// the default selected by log_stdlog.go (`!filelog`).
	LogTypeDefault = iota

	// LogTypeStdOut writes only to the rotating file; stdout writes become
	// a no-op. Selected by the `filelog` build tag, see log_filelog.go.
	LogTypeStdOut
)

// RotatingLogWriter wraps a log rotator and muxes subsystem loggers into it,
// mirroring the teacher's per-subsystem logger registry.
type RotatingLogWriter struct {
	logRotator *rotator.Rotator

	subsystemLoggers map[string]slog.Logger
}

// NewRotatingLogWriter initializes a new rotating log writer with no backing
// rotator. InitLogRotator must be called before any subsystem logger writes
// to disk.
func NewRotatingLogWriter() *RotatingLogWriter {
	return &RotatingLogWriter{
		subsystemLoggers: make(map[string]slog.Logger),
	}
}

// InitLogRotator opens (or creates) the target log file and begins rotating
// it according to the given thresholds.
func (r *RotatingLogWriter) InitLogRotator(logFile string, maxLogFileSize int64, maxLogFiles int) error {
	logDirname := logFile
	if idx := lastSlash(logFile); idx >= 0 {
		logDirname = logFile[:idx]
	}
	if err := os.MkdirAll(logDirname, 0o700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	rot, err := rotator.New(logFile, maxLogFileSize, false, maxLogFiles)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}
	r.logRotator = rot

	return nil
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

// Write writes the given bytes to both stdout (unless suppressed by the
// `filelog` build tag) and the rotating log file.
func (r *RotatingLogWriter) Write(b []byte) (int, error) {
	if LoggingType == LogTypeDefault {
		os.Stdout.Write(b)
	}
	if r.logRotator != nil {
		return r.logRotator.Write(b)
	}
	return len(b), nil
}

// GenSubLogger spins up a new logger backend writing into this rotating
// writer, tagged with the subsystem name.
func (r *RotatingLogWriter) GenSubLogger(tag string, closer func()) slog.Backend {
	return slog.NewBackend(io.MultiWriter(r))
}

// RegisterSubLogger registers a logger instance for a subsystem so that its
// level may later be changed via SetLogLevel.
func (r *RotatingLogWriter) RegisterSubLogger(subsystem string, logger slog.Logger) {
	r.subsystemLoggers[subsystem] = logger
}

// SetLogLevel adjusts the verbosity of a single registered subsystem.
func (r *RotatingLogWriter) SetLogLevel(subsystem, level string) error {
	logger, ok := r.subsystemLoggers[subsystem]
	if !ok {
		return fmt.Errorf("unknown subsystem %q", subsystem)
	}
	lvl, ok := slog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("unknown log level %q", level)
	}
	logger.SetLevel(lvl)
	return nil
}

// SetLogLevels adjusts every registered subsystem to the given level.
func (r *RotatingLogWriter) SetLogLevels(level string) error {
	for subsystem := range r.subsystemLoggers {
		if err := r.SetLogLevel(subsystem, level); err != nil {
			return err
		}
	}
	return nil
}

// NewSubLogger creates a new subsystem logger, backed by genLogger if
// provided (nil during early package init, before the root writer exists).
func NewSubLogger(subsystem string, genLogger func(string, func()) slog.Backend) slog.Logger {
	if genLogger == nil {
		return slog.Disabled
	}
	backend := genLogger(subsystem, func() {})
	return backend.Logger(subsystem)
}
