package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	portalEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_events_total",
		Help: "Ledger events received by type and merge outcome.",
	}, []string{"type", "outcome"})

	portalStaleResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_stale_results_total",
		Help: "Async results discarded because their context generation or reload was superseded.",
	}, []string{"kind"})

	portalReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_reloads_total",
		Help: "Snapshot reloads by reason.",
	}, []string{"reason"})

	portalWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_writes_total",
		Help: "Writes by kind and outcome.",
	}, []string{"kind", "outcome"})

	portalEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portal_entries",
		Help: "Entries in the merged sequence.",
	})

	portalBufferedLikes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portal_buffered_likes",
		Help: "Like counts waiting for their entry.",
	})
)

// RecordEvent records a ledger event and how the merger handled it.
func RecordEvent(kind, outcome string) {
	portalEventsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordStale records a discarded async result.
func RecordStale(kind string) {
	portalStaleResultsTotal.WithLabelValues(kind).Inc()
}

// RecordReload records a snapshot reload.
func RecordReload(reason string) {
	portalReloadsTotal.WithLabelValues(reason).Inc()
}

// RecordWrite records the outcome of a write.
func RecordWrite(kind, outcome string) {
	portalWritesTotal.WithLabelValues(kind, outcome).Inc()
}

func recordSequence(entries, buffered int) {
	portalEntries.Set(float64(entries))
	portalBufferedLikes.Set(float64(buffered))
}
