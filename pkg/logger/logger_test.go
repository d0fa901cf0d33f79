package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func tracedContext(t *testing.T) context.Context {
	t.Helper()
	traceID, err := trace.TraceIDFromHex("abcdef1234567890abcdef1234567890")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("1234567890abcdef")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = WithCorrelationID(ctx, "corr-all")
	return WithShop(ctx, "demo.myshopify.com")
}

func TestNewWithWriter_ServiceAttr(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("wishlist-service", "info", &buf).Info("started")

	assert.Equal(t, "wishlist-service", decodeLine(t, &buf)["service"])
}

func TestNewWithWriter_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("test", "warn", &buf).Info("dropped")

	assert.Zero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestContextMethods_AddContextFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("test", "info", &buf)

	l.InfoContext(tracedContext(t), "all fields")

	out := decodeLine(t, &buf)
	assert.Equal(t, "corr-all", out[FieldCorrelationID])
	assert.Equal(t, "demo.myshopify.com", out[FieldShop])
	assert.Equal(t, "abcdef1234567890abcdef1234567890", out[FieldTraceID])
	assert.Equal(t, "1234567890abcdef", out[FieldSpanID])
}

func TestContextMethods_EmptyContext(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("test", "info", &buf).InfoContext(context.Background(), "bare")

	out := decodeLine(t, &buf)
	for _, key := range []string{FieldCorrelationID, FieldShop, FieldTraceID, FieldSpanID} {
		assert.NotContains(t, out, key)
	}
}

func TestWithContext_BindsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("test", "info", &buf)

	WithContext(tracedContext(t), l).Info("bound")

	out := decodeLine(t, &buf)
	assert.Equal(t, "corr-all", out[FieldCorrelationID])
	assert.Equal(t, "demo.myshopify.com", out[FieldShop])
	assert.Equal(t, "abcdef1234567890abcdef1234567890", out[FieldTraceID])
}

func TestWithContext_NoDuplicateKeys(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("test", "info", &buf)
	ctx := tracedContext(t)

	WithContext(ctx, l).InfoContext(ctx, "once")

	assert.Equal(t, 1, strings.Count(buf.String(), `"correlation_id"`))
	assert.Equal(t, 1, strings.Count(buf.String(), `"shop"`))
}

func TestWithContext_EmptyContextReturnsSameLogger(t *testing.T) {
	l := NewWithWriter("test", "info", &bytes.Buffer{})
	assert.Same(t, l, WithContext(context.Background(), l))
}

func TestContextHandler_WithGroupKeepsContextFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("test", "info", &buf).WithGroup("req")

	l.InfoContext(WithCorrelationID(context.Background(), "grouped"), "in group", "k", "v")

	out := decodeLine(t, &buf)
	group, ok := out["req"].(map[string]any)
	require.True(t, ok, "expected req group in %v", out)
	assert.Equal(t, "grouped", group[FieldCorrelationID])
}

func TestFromContext(t *testing.T) {
	l := NewWithWriter("test", "info", &bytes.Buffer{})

	assert.Same(t, l, FromContext(NewContext(context.Background(), l)))
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestContextAccessors(t *testing.T) {
	ctx := WithShop(WithCorrelationID(context.Background(), "c-1"), "s.myshopify.com")
	assert.Equal(t, "c-1", CorrelationIDFromContext(ctx))
	assert.Equal(t, "s.myshopify.com", ShopFromContext(ctx))
	assert.Empty(t, ShopFromContext(context.Background()))
}
