package log

import (
	"context"
	"log/slog"

	"github.com/ErlanBelekov/reminder-dispatch/internal/requestid"
	"github.com/ErlanBelekov/reminder-dispatch/internal/tickid"
)

// ContextHandler wraps an slog.Handler and copies correlation IDs carried by the
// context (request_id, tick_id) onto each log record.
type ContextHandler struct {
	inner slog.Handler
}

func NewContextHandler(inner slog.Handler) *ContextHandler {
	return &ContextHandler{inner: inner}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := requestid.FromContext(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	if id := tickid.FromContext(ctx); id != "" {
		r.AddAttrs(slog.String("tick_id", id))
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name)}
}
