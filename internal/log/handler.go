package log

import (
	"context"
	"log/slog"
)

// NewMirrorHandler sends every record to store and copies records at or above
// threshold to console. A nil console turns the handler into store alone.
func NewMirrorHandler(store, console slog.Handler, threshold slog.Leveler) slog.Handler {
	if threshold == nil {
		threshold = slog.LevelError
	}
	return &mirrorHandler{store: store, console: console, threshold: threshold}
}

type mirrorHandler struct {
	store     slog.Handler
	console   slog.Handler
	threshold slog.Leveler
}

func (h *mirrorHandler) mirrors(ctx context.Context, level slog.Level) bool {
	return h.console != nil && level >= h.threshold.Level() && h.console.Enabled(ctx, level)
}

func (h *mirrorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.store.Enabled(ctx, level) || h.mirrors(ctx, level)
}

func (h *mirrorHandler) Handle(ctx context.Context, record slog.Record) error {
	var storeErr error
	if h.store.Enabled(ctx, record.Level) {
		storeErr = h.store.Handle(ctx, record)
	}
	if !h.mirrors(ctx, record.Level) {
		return storeErr
	}
	// The console still hears about a failure the log file could not take.
	if err := h.console.Handle(ctx, record.Clone()); err != nil && storeErr == nil {
		return err
	}
	return storeErr
}

func (h *mirrorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(inner slog.Handler) slog.Handler { return inner.WithAttrs(attrs) })
}

func (h *mirrorHandler) WithGroup(name string) slog.Handler {
	return h.derive(func(inner slog.Handler) slog.Handler { return inner.WithGroup(name) })
}

func (h *mirrorHandler) derive(apply func(slog.Handler) slog.Handler) slog.Handler {
	next := &mirrorHandler{store: apply(h.store), threshold: h.threshold}
	if h.console != nil {
		next.console = apply(h.console)
	}
	return next
}
