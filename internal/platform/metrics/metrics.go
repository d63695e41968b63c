package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the sync engine.
type Metrics struct {
	EventsPublished      *prometheus.CounterVec
	EventsReceived       *prometheus.CounterVec
	EventsDuplicate      *prometheus.CounterVec
	MergeDiscarded       *prometheus.CounterVec
	SyncPending          *prometheus.GaugeVec
	RelayPublishFailures prometheus.Counter
	DecryptFailures      prometheus.Counter
	OutboxRetries        prometheus.Counter
}

// New creates and registers all Prometheus metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tillsync_events_published_total",
			Help: "Events successfully published to at least one relay",
		}, []string{"kind"}),
		EventsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tillsync_events_received_total",
			Help: "Events received from relays or the session bus",
		}, []string{"kind"}),
		EventsDuplicate: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tillsync_events_duplicate_total",
			Help: "Events dropped by the processed-id set",
		}, []string{"kind"}),
		MergeDiscarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tillsync_merge_discarded_total",
			Help: "Incoming records discarded as stale by last-write-wins",
		}, []string{"kind"}),
		SyncPending: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tillsync_sync_pending",
			Help: "Locally written records awaiting network confirmation",
		}, []string{"kind"}),
		RelayPublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tillsync_relay_publish_failures_total",
			Help: "Publish attempts where every write relay failed",
		}),
		DecryptFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tillsync_decrypt_failures_total",
			Help: "Payloads skipped because no codec scheme could decode them",
		}),
		OutboxRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tillsync_outbox_retries_total",
			Help: "Outbox rows rescheduled after a failed publish",
		}),
	}
}
