//go:build filelog
// +build filelog

package build

// LoggingType is a log type that writes only to the rotating log file;
// stdout is left untouched. Enabled by building with the `filelog` tag.
const LoggingType = LogTypeStdOut
