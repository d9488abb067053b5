// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxLogSizeMB  = 10
	maxLogBackups = 5
	maxLogAgeDays = 14
)

type Options struct {
	Level  string // debug, info, warn, error
	Format string // json (default) or text
	File   string // empty logs to stderr
}

// Init builds a logger from opts and installs it as the slog default. The
// returned closer flushes the log file, if any. When the log directory cannot
// be created the logger falls back to stderr and the error is returned.
func Init(opts Options) (*slog.Logger, io.Closer, error) {
	handlerOptions := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	path := strings.TrimSpace(opts.File)
	if path == "" {
		logger := slog.New(newHandler(opts.Format, os.Stderr, handlerOptions))
		slog.SetDefault(logger)
		return logger, nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		logger := slog.New(newHandler(opts.Format, os.Stderr, handlerOptions))
		slog.SetDefault(logger)
		return logger, nopCloser{}, err
	}

	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
		MaxAge:     maxLogAgeDays,
		Compress:   true,
	}
	logger := slog.New(newHandler(opts.Format, writer, handlerOptions))
	slog.SetDefault(logger)
	return logger, writer, nil
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newHandler(format string, out io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
