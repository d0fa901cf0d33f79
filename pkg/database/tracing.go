package database

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/utafrali/wishlist-sync/pkg/database"

type queryStartKey struct{}

type queryStart struct {
	at        time.Time
	operation string
	statement string
	span      trace.Span
}

// QueryTracer implements pgx.QueryTracer. Every statement gets a client span
// and, when a threshold is set, statements slower than it are logged as
// warnings. Statements may name themselves with a leading "-- name: X" line.
type QueryTracer struct {
	threshold time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer
}

var _ pgx.QueryTracer = (*QueryTracer)(nil)

// NewQueryTracer creates a tracer. A zero threshold or nil logger disables
// slow query logging.
func NewQueryTracer(threshold time.Duration, logger *slog.Logger) *QueryTracer {
	return &QueryTracer{
		threshold: threshold,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
}

// TraceQueryStart opens the span for a statement.
func (t *QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	op := OperationName(data.SQL)
	ctx, span := t.tracer.Start(ctx, "db."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", op),
			attribute.String("db.statement", data.SQL),
		),
	)
	return context.WithValue(ctx, queryStartKey{}, &queryStart{
		at:        time.Now(),
		operation: op,
		statement: data.SQL,
		span:      span,
	})
}

// TraceQueryEnd closes the span and reports slow statements.
func (t *QueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qs, ok := ctx.Value(queryStartKey{}).(*queryStart)
	if !ok {
		return
	}

	if data.Err != nil {
		qs.span.RecordError(data.Err)
		qs.span.SetStatus(codes.Error, data.Err.Error())
	} else {
		qs.span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	}
	qs.span.End()

	if t.threshold <= 0 || t.logger == nil {
		return
	}
	if elapsed := time.Since(qs.at); elapsed >= t.threshold {
		attrs := []any{
			slog.String("operation", qs.operation),
			slog.String("statement", qs.statement),
			slog.Duration("duration", elapsed),
		}
		if data.Err != nil {
			attrs = append(attrs, slog.String("error", data.Err.Error()))
		}
		t.logger.WarnContext(ctx, "slow query detected", attrs...)
	}
}

// OperationName extracts the statement name from a leading "-- name: X"
// comment, falling back to the upper-cased first SQL keyword.
func OperationName(sql string) string {
	s := strings.TrimSpace(sql)
	if rest, ok := strings.CutPrefix(s, "-- name:"); ok {
		line, _, _ := strings.Cut(rest, "\n")
		if name := strings.TrimSpace(line); name != "" {
			return name
		}
	}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		keyword, _, _ := strings.Cut(line, " ")
		return strings.ToUpper(keyword)
	}
	return "QUERY"
}
