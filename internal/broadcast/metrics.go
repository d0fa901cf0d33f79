package broadcast

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments the hub and the relay. A nil *Metrics records nothing.
type Metrics struct {
	subscribers   prometheus.Gauge
	dropped       prometheus.Counter
	delivered     prometheus.Counter
	relayed       *prometheus.CounterVec
	relayFailures *prometheus.CounterVec
}

// NewMetrics registers the broadcast collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wishlist_stats_subscribers",
			Help: "Number of open dashboard stats subscriptions on this instance",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wishlist_stats_dropped_total",
			Help: "Stats events dropped because a subscriber buffer was full",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wishlist_stats_delivered_total",
			Help: "Stats events handed to local subscribers",
		}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wishlist_stats_relay_messages_total",
			Help: "Stats events exchanged with other instances",
		}, []string{"direction"}),
		relayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wishlist_stats_relay_failures_total",
			Help: "Relay publish or subscribe failures",
		}, []string{"operation"}),
	}

	for _, c := range []prometheus.Collector{m.subscribers, m.dropped, m.delivered, m.relayed, m.relayFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) subscribed(delta float64) {
	if m != nil {
		m.subscribers.Add(delta)
	}
}

func (m *Metrics) drop() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) deliver(n int) {
	if m != nil && n > 0 {
		m.delivered.Add(float64(n))
	}
}

func (m *Metrics) relay(direction string) {
	if m != nil {
		m.relayed.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) relayFailure(op string) {
	if m != nil {
		m.relayFailures.WithLabelValues(op).Inc()
	}
}
