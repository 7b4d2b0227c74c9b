// Package logutil builds the structured loggers used across edgeinfer.
package logutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"
)

// LevelTrace is below debug and reports per-buffer and per-frame detail.
const LevelTrace slog.Level = -8

// NewLogger returns a text logger at level that prints TRACE for LevelTrace
// and trims source paths to their base name.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				if attr.Value.Any().(slog.Level) == LevelTrace {
					attr.Value = slog.StringValue("TRACE")
				}
			case slog.SourceKey:
				source := attr.Value.Any().(*slog.Source)
				source.File = filepath.Base(source.File)
			}
			return attr
		},
	}))
}

// Trace logs at LevelTrace on logger, attributing the record to the caller.
func Trace(logger *slog.Logger, msg string, args ...any) {
	ctx := context.Background()
	if !logger.Enabled(ctx, LevelTrace) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), LevelTrace, msg, pcs[0])
	r.Add(args...)
	_ = logger.Handler().Handle(ctx, r)
}
