package queue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes queue observability counters to Prometheus, labeled by
// priority tier.
type Metrics struct {
	processed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	depth     *prometheus.GaugeVec
}

// NewMetrics creates the queue metric set and registers it on the given
// registerer. Pass prometheus.DefaultRegisterer for the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notify",
			Subsystem: "queue",
			Name:      "processed_total",
			Help:      "Notifications dispatched to a terminal successful state.",
		}, []string{"priority"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notify",
			Subsystem: "queue",
			Name:      "failed_total",
			Help:      "Notifications that exhausted their retries.",
		}, []string{"priority"}),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "notify",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Pending notifications per priority tier.",
		}, []string{"priority"}),
	}

	if reg != nil {
		reg.MustRegister(m.processed, m.failed, m.depth)
	}
	return m
}
