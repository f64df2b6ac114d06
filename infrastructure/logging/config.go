// Package logging provides the dual-sink logging setup: a concise console
// stream for the operator and a detailed rotating log file.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Config holds logging configuration options.
type Config struct {
	// ConsoleLevel is the minimum level written to stdout.
	ConsoleLevel slog.Level
	// FileLevel is the minimum level written to the log file.
	FileLevel slog.Level
	// File is the log file path. Empty disables the file sink.
	File string
	// MaxSizeMB is the maximum size in megabytes of a single log file before rotation.
	MaxSizeMB int
	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int
	// MaxAgeDays is the maximum number of days to retain old log files.
	MaxAgeDays int
	// Compress determines if rotated log files should be compressed.
	Compress bool
	// AddSource adds source file:line to file entries.
	AddSource bool
}

// DefaultConfig returns the default dual-sink configuration.
func DefaultConfig() *Config {
	return &Config{
		ConsoleLevel: slog.LevelInfo,
		FileLevel:    slog.LevelDebug,
		File:         "visitly.log",
		MaxSizeMB:    50,
		MaxBackups:   10,
		MaxAgeDays:   14,
		Compress:     true,
		AddSource:    false,
	}
}

// ParseLevel converts a level name (debug, info, warn, error) to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// --- Global logger access ---

var globalLogger *slog.Logger

// L returns the global logger. If Setup has not been called, returns slog.Default().
func L() *slog.Logger {
	if globalLogger != nil {
		return globalLogger
	}
	return slog.Default()
}

// setGlobal sets the package-level logger and also slog.SetDefault.
func setGlobal(logger *slog.Logger) {
	globalLogger = logger
	slog.SetDefault(logger)
}

// --- Context-based logging ---

type ctxKey struct{}

// With returns a new context that carries the given logger.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// From extracts the logger from context. If none is present, returns L().
func From(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return L()
	}
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return L()
}

// WithAttrs returns a new context carrying a logger enriched with the given attributes.
func WithAttrs(ctx context.Context, args ...any) context.Context {
	return With(ctx, From(ctx).With(args...))
}
