// Package logging builds the slog handlers used across the service.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

// Format selects the stdout handler.
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatColor Format = "color"
)

// Config configures New.
type Config struct {
	// Writer defaults to os.Stdout.
	Writer    io.Writer
	Level     slog.Leveler
	Format    Format
	AddSource bool
}

// NewHandler returns the stdout handler for cfg.
func NewHandler(cfg Config) slog.Handler {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	if cfg.Level == nil {
		cfg.Level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		AddSource: cfg.AddSource,
		Level:     cfg.Level,
	}

	switch cfg.Format {
	case FormatJSON:
		return slog.NewJSONHandler(cfg.Writer, opts)
	case FormatColor:
		return tint.NewHandler(cfg.Writer, &tint.Options{
			Level:      cfg.Level,
			AddSource:  cfg.AddSource,
			TimeFormat: "2006-01-02 15:04:05",
		})
	default:
		return slog.NewTextHandler(cfg.Writer, opts)
	}
}

// New returns a logger writing through extra handlers in addition to the
// stdout handler described by cfg.
func New(cfg Config, extra ...slog.Handler) *slog.Logger {
	h := NewHandler(cfg)
	if len(extra) > 0 {
		h = Multi(append([]slog.Handler{h}, extra...)...)
	}
	return slog.New(h)
}

// ParseLevel maps debug/info/warn/error to a slog level. Unknown values
// yield info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

type ctxKey struct{}

// WithContext stores l in ctx.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
