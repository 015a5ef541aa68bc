package log

import (
	"io"
	"log/slog"

	"github.com/caasmo/litepool/config"
	phuslog "github.com/phuslu/log"
)

// DefaultHandlerOptions drops the top level time attribute.
func DefaultHandlerOptions(level slog.Leveler) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	}
}

// New returns a logger writing to w in the configured format: phuslu's JSON
// handler for "json", the standard text handler otherwise.
func New(cfg config.Log, w io.Writer) *slog.Logger {
	opts := DefaultHandlerOptions(cfg.Level.Level)
	if cfg.Format == config.LogFormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(phuslog.SlogNewJSONHandler(w, opts))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
