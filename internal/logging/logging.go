// Package logging builds structured loggers the way
// ipiton-alert-history-service/go-app/pkg/logger does: log/slog handlers
// selected by format, writing to stdout, a lumberjack-rotated file, or
// both at once via io.MultiWriter — the closest idiomatic Go equivalent of
// the original's dual-destination CloudWatch Logs writes
// (log_cleanup_event's default stream plus a dedicated daily log group).
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config mirrors ipiton's logger.Config shape.
type Config struct {
	Level      string // debug|info|warn|error
	Format     string // json|text
	Output     string // stdout|file|both
	Filename   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// New builds a *slog.Logger from cfg.
func New(cfg Config) *slog.Logger {
	level := ParseLevel(cfg.Level)
	writer := setupWriter(cfg)

	opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(handler)
}

// ParseLevel parses a string log level, defaulting to info on anything
// unrecognized.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

func setupWriter(cfg Config) io.Writer {
	fileWriter := &lumberjack.Logger{
		Filename:   orDefault(cfg.Filename, "admitcore.log"),
		MaxSize:    orDefaultInt(cfg.MaxSize, 100),
		MaxBackups: orDefaultInt(cfg.MaxBackups, 5),
		MaxAge:     orDefaultInt(cfg.MaxAge, 28),
		Compress:   cfg.Compress,
	}
	switch strings.ToLower(cfg.Output) {
	case "file":
		return fileWriter
	case "both":
		return io.MultiWriter(os.Stdout, fileWriter)
	default:
		return os.Stdout
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDefaultInt(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
