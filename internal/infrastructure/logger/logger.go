package logger

import (
	"io"
	"log"
	"os"

	"github.com/hashicorp/go-hclog"
)

var (
	Info  *log.Logger
	Error *log.Logger
	Debug *log.Logger
	Warn  *log.Logger
)

var root hclog.Logger

// Stdout may carry framed host messages, so logs default to stderr.
func init() {
	Configure("info", os.Stderr)
}

// Configure rebuilds the package loggers on top of a fresh hclog root. The
// debug channel carries raw diagnostics (ffmpeg stderr, timeouts) that never
// reach user-facing messages.
func Configure(level string, out io.Writer) {
	root = hclog.New(&hclog.LoggerOptions{
		Name:            "gifcap",
		Level:           hclog.LevelFromString(level),
		Output:          out,
		IncludeLocation: true,
		TimeFormat:      "2006-01-02T15:04:05Z07:00",
	})

	Info = standard(hclog.Info)
	Error = standard(hclog.Error)
	Debug = standard(hclog.Debug)
	Warn = standard(hclog.Warn)
}

// Named returns a sub-logger for components that prefer key/value logging.
func Named(name string) hclog.Logger {
	return root.Named(name)
}

func standard(level hclog.Level) *log.Logger {
	return root.StandardLogger(&hclog.StandardLoggerOptions{
		ForceLevel: level,
	})
}
