// Package logging configures the process-wide structured logger used by
// every component. It is built on logrus, with an output splitter that
// routes error-level lines to stderr and everything else to stdout so that
// container log collectors can apply different handling per stream.
package logging

import (
	"bytes"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// outputSplitter routes formatted log lines to stdout or stderr based on
// their level, without parsing structured fields.
type outputSplitter struct{}

func (outputSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Level mirrors logrus levels without exposing the dependency to callers
// that only need to configure a logger.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config configures a new logger instance.
type Config struct {
	Level   Level
	Format  string // "json" or "text"
	Service string
}

// New builds a *logrus.Logger per Config, with the stdout/stderr splitter
// installed and a service field attached to every entry.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(outputSplitter{})

	switch cfg.Level {
	case LevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		logger.SetLevel(logrus.WarnLevel)
	case LevelError:
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	}

	return logger
}

// Component returns a child entry scoped to component, the convention every
// package in this repo uses instead of passing the bare logger around.
func Component(logger *logrus.Logger, component string) *logrus.Entry {
	return logger.WithField("component", component)
}
