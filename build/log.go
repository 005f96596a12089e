package build

import (
	"github.com/decred/slog"
)

// replaceableLogger is a thin wrapper around a logger that is used so the
// logger can be replaced easily without some black pointer magic.
type replaceableLogger struct {
	slog.Logger
	subsystem string
}

// subsystemLoggers is a list of all package-level loggers that are
// registered before the root logger is ready. They are tracked here so they
// can be replaced once SetupLoggers is called with the final root logger.
var subsystemLoggers []*replaceableLogger

// NewPkgLogger creates a new replaceable package-level logger and adds it to
// the list of loggers that are replaced once the final root logger is ready.
func NewPkgLogger(subsystem string) slog.Logger {
	l := &replaceableLogger{
		Logger:    NewSubLogger(subsystem, nil),
		subsystem: subsystem,
	}
	subsystemLoggers = append(subsystemLoggers, l)
	return l
}

// SetupLoggers initializes all package-global logger variables obtained via
// NewPkgLogger, swapping the placeholder loggers for ones backed by the
// final root logger.
func SetupLoggers(root *RotatingLogWriter, useLoggers ...func(subsystem string, logger slog.Logger)) {
	for _, l := range subsystemLoggers {
		l.Logger = NewSubLogger(l.subsystem, root.GenSubLogger)
		root.RegisterSubLogger(l.subsystem, l.Logger)

		for _, useLogger := range useLoggers {
			useLogger(l.subsystem, l.Logger)
		}
	}
}

// logClosure is used to provide a closure over expensive logging operations
// so they don't have to be performed when the logging level doesn't warrant
// it.
type logClosure func() string

// String invokes the underlying function and returns the result.
func (c logClosure) String() string {
	return c()
}

// NewLogClosure returns a new closure over a function that returns a string
// which itself provides a Stringer interface so it can be used with the
// logging system without paying the formatting cost unless it is actually
// logged.
func NewLogClosure(c func() string) logClosure {
	return logClosure(c)
}
