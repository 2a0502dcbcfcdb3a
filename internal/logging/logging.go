// Package logging builds the slog logger used by the command line tool.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects level, format and output of the logger.
type Config struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // console or json
	Output string `toml:"output"` // stderr, stdout or a file path
}

// New returns a logger for cfg. The returned closer releases a log file
// and is a no-op for standard streams.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	output := cfg.Output
	if output == "" {
		output = "stderr"
	}
	var (
		w      io.Writer
		closer io.Closer = nopCloser{}
	)
	switch output {
	case "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %q: %w", output, err)
		}
		w, closer = f, f
	}
	return slog.New(NewHandler(w, cfg)), closer, nil
}

// NewHandler returns a text or JSON handler writing to w.
func NewHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps a level name to slog.Level. Unknown names mean info.
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
