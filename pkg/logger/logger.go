// Package logger builds the service's JSON slog loggers and carries request
// scoped fields (correlation id, shop, trace ids) through the context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	shopKey          contextKey = "shop"
	loggerKey        contextKey = "logger"
)

// Field names added from the context.
const (
	FieldCorrelationID = "correlation_id"
	FieldShop          = "shop"
	FieldTraceID       = "trace_id"
	FieldSpanID        = "span_id"
)

// New returns a JSON logger on stdout tagged with the service name.
func New(serviceName, level string) *slog.Logger {
	return NewWithWriter(serviceName, level, os.Stdout)
}

// NewWithWriter is New writing to w. Records logged with a context (the
// *Context methods) pick up the context fields automatically.
func NewWithWriter(serviceName, level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	})
	return slog.New(&contextHandler{Handler: h}).With(slog.String("service", serviceName))
}

// ParseLevel maps a textual level to a slog.Level. Unknown values fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// WithCorrelationID returns a new context with the correlation ID set.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext extracts the correlation ID from the context.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// WithShop returns a new context carrying the tenant shop for logging.
func WithShop(ctx context.Context, shop string) context.Context {
	return context.WithValue(ctx, shopKey, shop)
}

// ShopFromContext extracts the shop stored by WithShop.
func ShopFromContext(ctx context.Context) string {
	shop, _ := ctx.Value(shopKey).(string)
	return shop
}

// NewContext returns a new context with the given logger stored in it.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the request-scoped logger stored in context, or
// slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// WithContext binds the context fields to l, for code that logs without
// passing a context.
func WithContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	if attrs := contextAttrs(ctx, nil); len(attrs) > 0 {
		args := make([]any, len(attrs))
		for i, a := range attrs {
			args[i] = a
		}
		l = l.With(args...)
	}
	return l
}

// contextAttrs returns the fields found in ctx, skipping keys in bound.
func contextAttrs(ctx context.Context, bound map[string]bool) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	add := func(key, value string) {
		if value != "" && !bound[key] {
			attrs = append(attrs, slog.String(key, value))
		}
	}
	add(FieldCorrelationID, CorrelationIDFromContext(ctx))
	add(FieldShop, ShopFromContext(ctx))
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		add(FieldTraceID, sc.TraceID().String())
		add(FieldSpanID, sc.SpanID().String())
	}
	return attrs
}

// contextHandler adds the context fields to each record unless the logger
// already carries them from With.
type contextHandler struct {
	slog.Handler
	bound map[string]bool
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := contextAttrs(ctx, h.bound); len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := make(map[string]bool, len(h.bound)+len(attrs))
	for k := range h.bound {
		bound[k] = true
	}
	for _, a := range attrs {
		bound[a.Key] = true
	}
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs), bound: bound}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name), bound: h.bound}
}
