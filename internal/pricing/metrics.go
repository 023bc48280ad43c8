package pricing

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts catalogue lookups by the strategy that resolved them.
type Metrics struct {
	lookups  *prometheus.CounterVec
	notFound prometheus.Counter
}

// NewMetrics registers pricing collectors. A nil registerer yields unregistered collectors.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charterdesk_pricing_lookups_total",
			Help: "Catalogue price lookups by resolving strategy.",
		}, []string{"strategy"}),
		notFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "charterdesk_pricing_not_found_total",
			Help: "Catalogue lookups that exhausted every strategy.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(m.lookups, m.notFound)
	}
	return m
}

func (m *Metrics) observeLookup(strategy string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(strategy).Inc()
}

func (m *Metrics) observeNotFound() {
	if m == nil {
		return
	}
	m.notFound.Inc()
}
