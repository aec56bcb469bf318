package handler

import (
	"fmt"
	"net/http"

	"github.com/selah/selah/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "selah_reminder_runs_total %d\n", snap.ReminderRuns)
	writeMetric(w, "selah_reminder_run_duration_seconds_sum %.6f\n", float64(snap.ReminderRunTotalNs)/1e9)
	writeMetric(w, "selah_reminder_eligible_total %d\n", snap.ReminderEligibleTotal)
	writeMetric(w, "selah_reminders_total{status=\"sent\"} %d\n", snap.RemindersSent)
	writeMetric(w, "selah_reminders_total{status=\"failed\"} %d\n", snap.RemindersFailed)

	writeMetric(w, "selah_experiments_created_total %d\n", snap.ExperimentsCreated)
	writeMetric(w, "selah_checkins_recorded_total %d\n", snap.CheckInsRecorded)

	writeMetric(w, "selah_review_cache_hits_total %d\n", snap.ReviewCacheHits)
	writeMetric(w, "selah_review_cache_misses_total %d\n", snap.ReviewCacheMisses)

	writeMetric(w, "selah_invites_accepted_total %d\n", snap.InvitesAccepted)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
