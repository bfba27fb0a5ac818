package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Config holds logger configuration.
type Config struct {
	Level   slog.Level
	Format  string // "json" or "text"
	Output  io.Writer
	NoColor bool
}

// DefaultConfig returns sensible defaults for the logger.
// Uses JSON format in Lambda environment, text format locally.
// Defaults to Info level unless DEBUG env var is set; LOG_FORMAT overrides the format.
func DefaultConfig() Config {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}

	format := "json"
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") == "" {
		format = "text"
	}
	if f := strings.ToLower(os.Getenv("LOG_FORMAT")); f == "json" || f == "text" {
		format = f
	}

	return Config{
		Level:   level,
		Format:  format,
		Output:  os.Stdout,
		NoColor: !isatty.IsTerminal(os.Stdout.Fd()),
	}
}

// New creates a configured slog.Logger. Text output goes through tint.
func New(cfg Config) *slog.Logger {
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(cfg.Output, &slog.HandlerOptions{
			Level: cfg.Level,
		}))
	}

	return slog.New(tint.NewHandler(cfg.Output, &tint.Options{
		Level:      cfg.Level,
		TimeFormat: time.RFC3339,
		NoColor:    cfg.NoColor,
	}))
}

// WithComponent returns a logger with a component attribute.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

// Discard returns a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
