// Package logging builds the logr loggers used across sumgate.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/pflag"
)

const (
	DefaultFormat Format = "default"
	TextFormat    Format = "text"
	JSONFormat    Format = "json"
)

type (
	// Config selects verbosity and output format.
	Config struct {
		Verbosity int
		Format    string
		// Output defaults to stderr.
		Output io.Writer
	}

	Format string
)

// AddFlags registers logging flags on flags. Values land in cfg once the
// flagset is parsed.
func AddFlags(flags *pflag.FlagSet, cfg *Config) {
	flags.IntVarP(&cfg.Verbosity, "v", "v", 0, "Logging level")
	flags.StringVar(&cfg.Format, "log-format", string(DefaultFormat), "Logging format: default, text or json")
}

// New constructs a logger backed by a slog handler.
func New(cfg Config) (logr.Logger, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	level := toSlogLevel(cfg.Verbosity)

	var h slog.Handler
	switch Format(cfg.Format) {
	case DefaultFormat, "":
		h = &levelHandler{level: level, Handler: slog.Default().Handler()}
	case TextFormat:
		h = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	case JSONFormat:
		h = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	default:
		return logr.Logger{}, fmt.Errorf("unrecognised logging format: %s", cfg.Format)
	}
	return logr.FromSlogHandler(h), nil
}

// Discard returns a logger that drops everything.
func Discard() logr.Logger { return logr.Discard() }

// toSlogLevel converts a logr v-level to a slog level.
func toSlogLevel(verbosity int) slog.Level {
	if verbosity <= 0 {
		return slog.LevelInfo
	}
	return slog.Level(-4 - (verbosity - 1))
}

// levelHandler raises the minimum level of a wrapped handler.
type levelHandler struct {
	level slog.Leveler
	slog.Handler
}

func (h *levelHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, Handler: h.Handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, Handler: h.Handler.WithGroup(name)}
}
