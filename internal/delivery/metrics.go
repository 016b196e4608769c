package delivery

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the pipeline's Prometheus collectors.
type Metrics struct {
	Sends         *prometheus.CounterVec
	Retries       prometheus.Counter
	SeqResets     prometheus.Counter
	QueueRejects  prometheus.Counter
	CleanupRemove *prometheus.CounterVec
	Queued        prometheus.Gauge
}

// Outcome label values for Metrics.Sends.
const (
	OutcomeSent        = "sent"
	OutcomeFailed      = "failed"
	OutcomeRateLimited = "rate_limited"
	OutcomeInvalid     = "invalid"
)

// NewMetrics builds the collectors and registers them on reg (skipped when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groupcast_delivery_sends_total",
			Help: "Send calls by final outcome.",
		}, []string{"outcome"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groupcast_delivery_retries_total",
			Help: "Generic-error retries scheduled.",
		}),
		SeqResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groupcast_delivery_seq_resets_total",
			Help: "Sequence resets after duplicate-sequence rejections.",
		}),
		QueueRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groupcast_delivery_queue_rejects_total",
			Help: "Enqueue calls refused because the group queue was full.",
		}),
		CleanupRemove: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groupcast_delivery_cleanup_removed_total",
			Help: "Entries removed by maintenance passes.",
		}, []string{"kind"}),
		Queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "groupcast_delivery_queued_messages",
			Help: "Messages waiting in all group queues at the last maintenance pass.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Sends, m.Retries, m.SeqResets, m.QueueRejects, m.CleanupRemove, m.Queued)
	}
	return m
}
