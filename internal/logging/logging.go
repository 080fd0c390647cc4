package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/g960059/qsyspanel/internal/config"
)

// New builds the process logger. The returned func closes the log file, if any.
func New(cfg config.Log) (*log.Logger, func(), error) {
	logger := log.New()
	level, err := log.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		return nil, nil, fmt.Errorf("parse log level: %w", err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	cleanup := func() {}
	if path := strings.TrimSpace(cfg.File); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		logger.SetOutput(f)
		cleanup = func() { _ = f.Close() }
	} else {
		logger.SetOutput(os.Stderr)
	}
	return logger, cleanup, nil
}

// Component scopes a logger to one subsystem.
func Component(logger *log.Logger, name string) *log.Entry {
	if logger == nil {
		logger = Discard().Logger
	}
	return logger.WithField("subsystem", name)
}

// Discard returns an entry that drops everything; used when no logger is wired.
func Discard() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}
