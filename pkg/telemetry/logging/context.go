package logging

import (
	"context"
	"log/slog"

	"github.com/nextcodebr/nxcd-apm/pkg/transaction"
)

// ReqIDKey is the attribute carrying the request id of the active chain.
const ReqIDKey = "req_id"

// ContextHandler adds the request id of the transaction chain bound to the
// record's context.
type ContextHandler struct {
	next slog.Handler
}

// NewContextHandler wraps next.
func NewContextHandler(next slog.Handler) *ContextHandler {
	return &ContextHandler{next: next}
}

// Enabled implements slog.Handler.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		if id, ok := transaction.ReqIDFrom(ctx); ok {
			r.AddAttrs(slog.String(ReqIDKey, id))
		}
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{next: h.next.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{next: h.next.WithGroup(name)}
}

// WithReqID returns logger annotated with the request id bound to ctx, or
// logger itself when ctx carries no chain.
func WithReqID(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id, ok := transaction.ReqIDFrom(ctx); ok {
		return logger.With(ReqIDKey, id)
	}
	return logger
}
