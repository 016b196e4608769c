package outbox

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrStopped   = errors.New("outbox stopped")
	ErrDuplicate = errors.New("outbox: duplicate within dedup window")
)

// Event types published on the bus.
const (
	EventQueued  = "outbox.queued"
	EventDeduped = "outbox.deduped"
	EventDropped = "outbox.dropped"
	EventSent    = "outbox.sent"
	EventFailed  = "outbox.failed"
)

// Config controls the outbox. Zero values fall back to defaults in Apply.
type Config struct {
	Enabled         bool
	RatePerSec      int
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
	DisplayID       bool
}

// Event is the Data payload of outbox bus events.
type Event struct {
	GroupID string    `json:"group_id"`
	MsgID   string    `json:"msg_id"`
	MsgType string    `json:"msg_type"`
	Key     string    `json:"key,omitempty"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}

type Metrics struct {
	Submits *prometheus.CounterVec
	Drains  prometheus.Gauge
}

// NewMetrics builds the outbox collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Submits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groupcast_outbox_submits_total",
			Help: "Submit calls by result.",
		}, []string{"result"}),
		Drains: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "groupcast_outbox_active_drains",
			Help: "Groups with a running drain worker.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Submits, m.Drains)
	}
	return m
}
