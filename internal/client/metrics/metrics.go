// Package metrics holds the Prometheus collectors of the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PushResults counts pushed queue entries by entity type, operation and
	// outcome (ok, transient, failed, conflict, auth).
	PushResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldsync_push_results_total",
		Help: "Outbox entries pushed to the backend, by outcome",
	}, []string{"entity_type", "operation", "outcome"})

	// PulledRecords counts remote records merged into the local store.
	PulledRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldsync_pulled_records_total",
		Help: "Remote records merged into the local cache",
	}, []string{"entity_type"})

	Conflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldsync_conflicts_total",
		Help: "Records that entered the conflict state, by detecting phase",
	}, []string{"entity_type", "phase"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fieldsync_cycle_duration_seconds",
		Help:    "Duration of a full push and pull cycle",
		Buckets: prometheus.DefBuckets,
	})

	// QueueBacklog is the number of outbox entries not yet confirmed.
	QueueBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fieldsync_queue_backlog",
		Help: "Outbox entries pending or in flight",
	})

	// QueueFailed is the number of entries waiting for the user.
	QueueFailed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fieldsync_queue_failed",
		Help: "Outbox entries that failed and need attention",
	})

	// Online is 1 while the backend is reachable.
	Online = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fieldsync_online",
		Help: "Backend reachability (1 online, 0 offline)",
	})

	// State is 1 for the sync service's current state and 0 for the others.
	State = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fieldsync_sync_state",
		Help: "Current sync service state",
	}, []string{"state"})
)

// SetState flags state as current.
func SetState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		State.WithLabelValues(s).Set(v)
	}
}
