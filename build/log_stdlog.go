//go:build !filelog
// +build !filelog

package build

// LoggingType is a log type that writes to both stdout and the rotating log
// file. This is the default build; compile with the `filelog` tag to
// restrict output to the file only.
const LoggingType = LogTypeDefault
