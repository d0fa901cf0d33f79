package middleware

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/utafrali/wishlist-sync/pkg/logger"
)

const tracerName = "github.com/utafrali/wishlist-sync/pkg/middleware"

// Span attribute keys.
const (
	attrMethod        = attribute.Key("http.request.method")
	attrPath          = attribute.Key("url.path")
	attrScheme        = attribute.Key("url.scheme")
	attrUserAgent     = attribute.Key("user_agent.original")
	attrClientAddress = attribute.Key("client.address")
	attrRoute         = attribute.Key("http.route")
	attrStatus        = attribute.Key("http.response.status_code")
	attrUpgrade       = attribute.Key("http.upgrade")
	attrCorrelationID = attribute.Key("correlation_id")
)

// Tracing starts a server span per request, continuing any W3C trace context
// in the inbound headers and writing the span's context back on the
// response. The span is named after the chi route once routing is done, so
// "/items?customerId=1" and "/items?customerId=2" share one name.
func Tracing(serviceName string) func(http.Handler) http.Handler {
	tracer := otel.Tracer(tracerName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			propagator := otel.GetTextMapPropagator()
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			attrs := []attribute.KeyValue{
				semconv.ServiceName(serviceName),
				attrMethod.String(r.Method),
				attrPath.String(r.URL.Path),
				attrScheme.String(scheme(r)),
				attrUserAgent.String(r.UserAgent()),
				attrClientAddress.String(r.RemoteAddr),
			}
			if isUpgrade(r) {
				attrs = append(attrs, attrUpgrade.String("websocket"))
			}
			if id := logger.CorrelationIDFromContext(ctx); id != "" {
				attrs = append(attrs, attrCorrelationID.String(id))
			}

			ctx, span := tracer.Start(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := newStatusRecorder(w)
			r = r.WithContext(ctx)
			next.ServeHTTP(rec, r)

			route := routePattern(r)
			span.SetName(r.Method + " " + route)
			span.SetAttributes(attrRoute.String(route), attrStatus.Int(rec.statusCode))
			if rec.statusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rec.statusCode))
			}
		})
	}
}

// scheme reports the scheme the client used, trusting X-Forwarded-Proto
// from the ingress.
func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}
