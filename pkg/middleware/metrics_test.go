package middleware

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *HTTPMetrics {
	t.Helper()
	m, err := NewHTTPMetrics(prometheus.NewRegistry(), "wishlist-test")
	require.NoError(t, err)
	return m
}

// serveWithChi wraps a handler in a chi router so RouteContext is available.
func serveWithChi(mw func(http.Handler) http.Handler, pattern string, handler http.HandlerFunc) *chi.Mux {
	r := chi.NewRouter()
	r.Use(mw)
	r.Get(pattern, handler)
	return r
}

func TestHTTPMetrics_RequestCounting(t *testing.T) {
	m := newTestMetrics(t)
	handler := serveWithChi(m.Middleware, "/api/v1/admin/wishlist/stats", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/admin/wishlist/stats", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "/api/v1/admin/wishlist/stats", "200"))
	assert.Equal(t, float64(3), got)
}

func TestHTTPMetrics_RouteUsesPattern(t *testing.T) {
	m := newTestMetrics(t)
	handler := serveWithChi(m.Middleware, "/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/42", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/43", nil))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.requests.WithLabelValues("GET", "/items/{id}", "404")))
}

func TestHTTPMetrics_DefaultStatusCode(t *testing.T) {
	m := newTestMetrics(t)
	handler := serveWithChi(m.Middleware, "/test", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("GET", "/test", "200")))
}

func TestHTTPMetrics_InFlightGauge(t *testing.T) {
	m := newTestMetrics(t)
	inFlightSeen := float64(-1)
	handler := serveWithChi(m.Middleware, "/test", func(w http.ResponseWriter, r *http.Request) {
		inFlightSeen = testutil.ToFloat64(m.inFlight)
		w.WriteHeader(http.StatusOK)
	})

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, float64(1), inFlightSeen)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.inFlight))
}

func TestNewHTTPMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewHTTPMetrics(reg, "svc")
	require.NoError(t, err)

	_, err = NewHTTPMetrics(reg, "svc")
	assert.Error(t, err)
}

// --- Flusher and Hijacker delegation ---

type mockFlusherWriter struct {
	http.ResponseWriter
	flushed bool
}

func (m *mockFlusherWriter) Flush() {
	m.flushed = true
}

type mockHijackerWriter struct {
	http.ResponseWriter
	hijacked bool
}

func (m *mockHijackerWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	m.hijacked = true
	return nil, nil, nil
}

// minimalResponseWriter is a bare http.ResponseWriter without Flusher/Hijacker.
type minimalResponseWriter struct {
	header http.Header
}

func (m *minimalResponseWriter) Header() http.Header {
	if m.header == nil {
		m.header = make(http.Header)
	}
	return m.header
}

func (m *minimalResponseWriter) Write(b []byte) (int, error) { return len(b), nil }

func (m *minimalResponseWriter) WriteHeader(int) {}

func TestStatusRecorder_FlushDelegates(t *testing.T) {
	mock := &mockFlusherWriter{ResponseWriter: httptest.NewRecorder()}
	newStatusRecorder(mock).Flush()
	assert.True(t, mock.flushed)
}

func TestStatusRecorder_FlushNoOpWhenNotSupported(t *testing.T) {
	assert.NotPanics(t, func() {
		newStatusRecorder(&minimalResponseWriter{}).Flush()
	})
}

func TestStatusRecorder_HijackDelegates(t *testing.T) {
	mock := &mockHijackerWriter{ResponseWriter: httptest.NewRecorder()}
	rec := newStatusRecorder(mock)

	_, _, err := rec.Hijack()
	require.NoError(t, err)
	assert.True(t, mock.hijacked)
	assert.Equal(t, http.StatusSwitchingProtocols, rec.statusCode)
}

func TestStatusRecorder_HijackNotSupported(t *testing.T) {
	_, _, err := newStatusRecorder(&minimalResponseWriter{}).Hijack()
	assert.ErrorIs(t, err, http.ErrNotSupported)
}

func TestStatusRecorder_FirstStatusWins(t *testing.T) {
	rec := newStatusRecorder(httptest.NewRecorder())
	rec.WriteHeader(http.StatusAccepted)
	rec.WriteHeader(http.StatusInternalServerError)
	assert.Equal(t, http.StatusAccepted, rec.statusCode)
}

func TestStatusRecorder_ReusesExistingRecorder(t *testing.T) {
	inner := newStatusRecorder(httptest.NewRecorder())
	assert.Same(t, inner, newStatusRecorder(inner))
}
