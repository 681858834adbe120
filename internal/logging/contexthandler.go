package logging

import (
	"context"
	"log/slog"
)

// ContextProvider returns attributes describing the live state of the
// service. It receives the context of the log call, so request-scoped
// values such as a request id can be picked up as well.
type ContextProvider func(ctx context.Context) []slog.Attr

// ContextHandler appends the provider's attributes to every record it
// handles. The provider runs once per record, after level filtering.
type ContextHandler struct {
	slog.Handler
	provider ContextProvider
}

func NewContextHandler(inner slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{Handler: inner, provider: provider}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider == nil {
		return h.Handler.Handle(ctx, r)
	}
	if attrs := h.provider(ctx); len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewContextHandler(h.Handler.WithAttrs(attrs), h.provider)
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return NewContextHandler(h.Handler.WithGroup(name), h.provider)
}
