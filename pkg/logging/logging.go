// Package logging builds the JSON slog logger every service starts with.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// ParseLevel maps "debug" | "info" | "warn" | "error" to a slog level.
// Anything else is info.
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

// New returns a JSON logger on stdout tagged with service. When file is not
// empty every record is also appended to that file. The returned close func
// releases the file and is safe to call when no file was opened.
func New(level, service, file string) (*slog.Logger, func() error, error) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	stdout := slog.NewJSONHandler(os.Stdout, opts)

	if file == "" {
		return slog.New(stdout).With(slog.String("service", service)), func() error { return nil }, nil
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", file, err)
	}
	logger := slog.New(slogmulti.Fanout(stdout, slog.NewJSONHandler(f, opts))).
		With(slog.String("service", service))
	return logger, f.Close, nil
}

// NewWithWriters fans out to both writers. Used by tests.
func NewWithWriters(primary, secondary io.Writer, level, service string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	return slog.New(slogmulti.Fanout(
		slog.NewJSONHandler(primary, opts),
		slog.NewJSONHandler(secondary, opts),
	)).With(slog.String("service", service))
}
