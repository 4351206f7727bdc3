package masync

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics for the async engine
type Metrics struct {
	DirtyRanges  prometheus.Gauge
	Drained      prometheus.Counter
	Shortfall    prometheus.Counter
	ReplayErrors prometheus.Counter
}

// NewMetrics creates a new metrics instance
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		DirtyRanges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "async",
			Name:      "dirty_ranges",
			Help:      "Number of ranges waiting to be replicated.",
		}),
		Drained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "async",
			Name:      "drained_total",
			Help:      "Number of ranges replicated.",
		}),
		Shortfall: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "async",
			Name:      "shortfall_total",
			Help:      "Number of drains which replicated fewer ranges than asked for.",
		}),
		ReplayErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "async",
			Name:      "replay_errors_total",
			Help:      "Number of ranges which failed to replicate.",
		}),
	}
}

// Collectors returns all prometheus metrics as collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{
		m.DirtyRanges,
		m.Drained,
		m.Shortfall,
		m.ReplayErrors,
	}
}

func (m *Metrics) dirty(delta int) {
	if m == nil {
		return
	}
	m.DirtyRanges.Add(float64(delta))
}

func (m *Metrics) drained() {
	if m == nil {
		return
	}
	m.Drained.Inc()
}

func (m *Metrics) shortfall() {
	if m == nil {
		return
	}
	m.Shortfall.Inc()
}

func (m *Metrics) replayError() {
	if m == nil {
		return
	}
	m.ReplayErrors.Inc()
}
