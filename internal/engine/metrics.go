package engine

import "github.com/prometheus/client_golang/prometheus"

// Write outcomes.
const (
	outcomeAcked      = "acked"
	outcomeRejected   = "rejected"
	outcomeStale      = "stale"
	outcomeTransient  = "transient"
	outcomeSuperseded = "superseded"
	outcomeFailed     = "sync_failed"
)

// Event results.
const (
	eventApplied = "applied"
	eventDropped = "dropped"
	eventStashed = "stashed"
	eventMerged  = "merged"
)

type metrics struct {
	writes       *prometheus.CounterVec
	conflicts    *prometheus.CounterVec
	events       *prometheus.CounterVec
	retries      *prometheus.CounterVec
	resubscribes *prometheus.CounterVec
	dirty        *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studiosync",
			Subsystem: "engine",
			Name:      "writes_total",
			Help:      "Remote write attempts by outcome.",
		}, []string{"collection", "outcome"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studiosync",
			Subsystem: "engine",
			Name:      "conflicts_total",
			Help:      "Local edits overruled by the remote store.",
		}, []string{"collection"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studiosync",
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "Remote change events by result.",
		}, []string{"collection", "result"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studiosync",
			Subsystem: "engine",
			Name:      "retries_total",
			Help:      "Writes scheduled for retry after a transient failure.",
		}, []string{"collection"}),
		resubscribes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studiosync",
			Subsystem: "engine",
			Name:      "resubscribes_total",
			Help:      "Subscriptions reopened after a failure.",
		}, []string{"collection"}),
		dirty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "studiosync",
			Subsystem: "engine",
			Name:      "unsynced_records",
			Help:      "Records with a local state other than clean.",
		}, []string{"collection"}),
	}
	if reg != nil {
		reg.MustRegister(m.writes, m.conflicts, m.events, m.retries, m.resubscribes, m.dirty)
	}
	return m
}
