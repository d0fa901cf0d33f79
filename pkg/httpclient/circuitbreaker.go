package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes a gobreaker around one collaborator.
type BreakerConfig struct {
	Name string

	// HalfOpenProbes is how many requests may pass while half-open.
	HalfOpenProbes uint32
	// ResetInterval clears the closed-state counts. 0 never clears.
	ResetInterval time.Duration
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// TripRatio opens the breaker once TripAfter requests were seen.
	TripRatio float64
	TripAfter uint32
}

// DefaultBreakerConfig suits a read-side lookup whose failure only degrades
// a response.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:           name,
		HalfOpenProbes: 1,
		ResetInterval:  time.Minute,
		OpenTimeout:    30 * time.Second,
		TripRatio:      0.5,
		TripAfter:      5,
	}
}

// ErrCircuitOpen is returned while the breaker rejects requests.
var ErrCircuitOpen = gobreaker.ErrOpenState

// ServerError is a 5xx answer. The breaker counts it as a failure.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Body)
}

// BreakerMetrics tracks breaker state and the requests it short-circuits.
type BreakerMetrics struct {
	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	rejected    *prometheus.CounterVec
}

// NewBreakerMetrics registers the breaker collectors with reg.
func NewBreakerMetrics(reg prometheus.Registerer) (*BreakerMetrics, error) {
	m := &BreakerMetrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"name"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state changes by target state.",
		}, []string{"name", "to"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "circuit_breaker_rejected_total",
			Help: "Requests short-circuited by an open or saturated breaker.",
		}, []string{"name"}),
	}
	for _, c := range []prometheus.Collector{m.state, m.transitions, m.rejected} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

var stateValues = map[gobreaker.State]float64{
	gobreaker.StateClosed:   0,
	gobreaker.StateHalfOpen: 1,
	gobreaker.StateOpen:     2,
}

func (m *BreakerMetrics) observe(name string, to gobreaker.State) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(name).Set(stateValues[to])
	m.transitions.WithLabelValues(name, to.String()).Inc()
}

func (m *BreakerMetrics) reject(name string) {
	if m != nil {
		m.rejected.WithLabelValues(name).Inc()
	}
}

// BreakerClient sends requests through a Client guarded by a circuit breaker.
type BreakerClient struct {
	client  *Client
	cb      *gobreaker.CircuitBreaker[*http.Response]
	metrics *BreakerMetrics
	name    string
}

// NewBreakerClient wraps client. metrics may be nil.
func NewBreakerClient(client *Client, cfg BreakerConfig, metrics *BreakerMetrics, logger *slog.Logger) *BreakerClient {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenProbes,
		Interval:    cfg.ResetInterval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= cfg.TripAfter &&
				float64(c.TotalFailures)/float64(c.Requests) >= cfg.TripRatio
		},
		IsSuccessful: func(err error) bool {
			// A cancelled caller says nothing about the collaborator.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			metrics.observe(name, to)
		},
	})
	if metrics != nil {
		metrics.state.WithLabelValues(cfg.Name).Set(0)
	}
	return &BreakerClient{client: client, cb: cb, metrics: metrics, name: cfg.Name}
}

// Do executes req through the breaker. A 5xx response is drained and
// returned as *ServerError.
func (b *BreakerClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := b.cb.Execute(func() (*http.Response, error) {
		resp, err := b.client.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			return nil, &ServerError{StatusCode: resp.StatusCode, Body: string(body)}
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.metrics.reject(b.name)
	}
	return resp, err
}

// State reports the breaker's current state.
func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}
