// Package logging wires the process-wide structured logger. It follows
// the teacher's convention of a package-level logrus logger imported as
// `log` at call sites, with log rotation via lumberjack when a file path
// is configured.
package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process logger.
type Options struct {
	FilePath   string // empty means stderr only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      string
}

// Configure sets up the standard logrus logger per opts and returns it.
func Configure(opts Options) *log.Logger {
	logger := log.StandardLogger()
	logger.SetFormatter(&log.JSONFormatter{})

	level, err := log.ParseLevel(opts.Level)
	if err != nil {
		level = log.InfoLevel
	}
	logger.SetLevel(level)

	var out io.Writer = os.Stderr
	if opts.FilePath != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		})
	}
	logger.SetOutput(out)

	return logger
}

// AccessEntry logs one dispatched request at info level with the fields
// the spec's "timing observable side effect" (§4.I) calls for.
func AccessEntry(correlationID, routeID, method, path string, status int, durationMS float64) {
	log.WithFields(log.Fields{
		"correlation_id": correlationID,
		"route_id":       routeID,
		"method":         method,
		"path":           path,
		"status":         status,
		"duration_ms":    durationMS,
	}).Info("request")
}
