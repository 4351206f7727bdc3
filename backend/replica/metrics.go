package replica

import (
	"strconv"

	"github.com/ddn-lixi/mtfs/backend/replica/masync"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mtfs"

// Outcomes of a fan-out operation
const (
	outcomeSuccess = "success" // every branch tried succeeded
	outcomePartial = "partial" // some branches failed
	outcomeFault   = "fault"   // the operation failed
)

// Metrics for the replica engine
type Metrics struct {
	Ops           *prometheus.CounterVec
	Invalidations *prometheus.CounterVec
	Async         *masync.Metrics
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		Ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ops_total",
			Help:      "Number of fan-out operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		Invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "branch_invalidations_total",
			Help:      "Number of times an entry was marked stale on a branch.",
		}, []string{"branch"}),
		Async: masync.NewMetrics(namespace),
	}
}

// Collectors returns all prometheus metrics as collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return append([]prometheus.Collector{
		m.Ops,
		m.Invalidations,
	}, m.Async.Collectors()...)
}

func (m *Metrics) op(op, outcome string) {
	m.Ops.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) invalidated(branch int) {
	m.Invalidations.WithLabelValues(strconv.Itoa(branch)).Inc()
}
