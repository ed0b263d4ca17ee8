package ctxlogger

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// ContextHandler injects attrs previously appended to the context
// via AppendCtx into every record.
type ContextHandler struct {
	slog.Handler
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(ctxKey{}).([]slog.Attr); ok {
		r.AddAttrs(attrs...)
	}

	return h.Handler.Handle(ctx, r)
}

func AppendCtx(ctx context.Context, attr slog.Attr) context.Context {
	if attrs, ok := ctx.Value(ctxKey{}).([]slog.Attr); ok {
		appended := make([]slog.Attr, 0, len(attrs)+1)
		appended = append(appended, attrs...)
		appended = append(appended, attr)
		return context.WithValue(ctx, ctxKey{}, appended)
	}

	return context.WithValue(ctx, ctxKey{}, []slog.Attr{attr})
}
