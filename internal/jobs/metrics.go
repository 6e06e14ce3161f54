package jobs

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for task results.
const (
	ResultSuccess   = "success"
	ResultFailed    = "failed"
	ResultDiscarded = "discarded"
)

// Metrics holds counters for background accounting tasks.
type Metrics struct {
	enqueued  *prometheus.CounterVec
	completed *prometheus.CounterVec
	pending   prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stacc",
			Name:      "jobs_enqueued_total",
			Help:      "Total number of accounting tasks accepted by the queue.",
		}, []string{"kind"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stacc",
			Name:      "jobs_completed_total",
			Help:      "Total number of accounting tasks finished, by result.",
		}, []string{"kind", "result"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stacc",
			Name:      "jobs_pending",
			Help:      "Number of accounting tasks waiting for a worker.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.enqueued, m.completed, m.pending} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

func (m *Metrics) recordEnqueued(kind TaskKind) {
	m.enqueued.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) recordCompleted(kind TaskKind, result string) {
	m.completed.WithLabelValues(string(kind), result).Inc()
}

func (m *Metrics) setPending(n int) {
	m.pending.Set(float64(n))
}
