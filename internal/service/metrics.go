package service

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts wishlist mutations and aggregate reconciliations. A nil
// *Metrics records nothing.
type Metrics struct {
	mutations  *prometheus.CounterVec
	reconciles *prometheus.CounterVec
	drift      prometheus.Counter
}

// NewMetrics registers the wishlist collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wishlist_mutations_total",
			Help: "Wishlist mutations by operation and outcome",
		}, []string{"operation", "outcome"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wishlist_reconciles_total",
			Help: "Aggregate reconciliations by outcome",
		}, []string{"outcome"}),
		drift: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wishlist_aggregate_drift_total",
			Help: "Reconciliations that found the cached aggregate out of step with the entries",
		}),
	}

	for _, c := range []prometheus.Collector{m.mutations, m.reconciles, m.drift} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) mutation(operation, outcome string) {
	if m != nil {
		m.mutations.WithLabelValues(operation, outcome).Inc()
	}
}

func (m *Metrics) reconciled(result string, drifted bool) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(result).Inc()
	if drifted {
		m.drift.Inc()
	}
}
