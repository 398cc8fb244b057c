package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// New builds the run logger. format is "text" (default) or "json"; when file
// is set, output is appended to it as well as stderr.
func New(level, format, file string) (*log.Logger, io.Closer, error) {
	logger := log.New()
	logger.SetOutput(os.Stderr)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		logger.SetFormatter(&log.TextFormatter{QuoteEmptyFields: true, FullTimestamp: true})
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		return nil, nil, fmt.Errorf("invalid LOG_FORMAT: %q", format)
	}

	lvl := log.InfoLevel
	if strings.TrimSpace(level) != "" {
		parsed, err := log.ParseLevel(strings.TrimSpace(level))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		lvl = parsed
	}
	logger.SetLevel(lvl)

	if file == "" {
		return logger, nopCloser{}, nil
	}
	if dir := filepath.Dir(file); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(file, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		// Cannot open log file. Keep logging to stderr.
		logger.WithError(err).Warn("log file unavailable")
		return logger, nopCloser{}, nil
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, f))
	return logger, f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
