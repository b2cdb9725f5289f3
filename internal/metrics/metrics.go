// Package metrics exposes Prometheus collectors for the ingestion pipeline
// and the notification fan-out.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	itemsIngestedTotal   *prometheus.CounterVec
	duplicatesTotal      prometheus.Counter
	notificationsTotal   *prometheus.CounterVec
	pollsSkippedTotal    prometheus.Counter
	enrichFallbacksTotal *prometheus.CounterVec
	passDurationSeconds  *prometheus.HistogramVec
	backupsTotal         *prometheus.CounterVec
	reactionTogglesTotal *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call more than once, and every Observe function calls it.
func Init() {
	once.Do(func() {
		itemsIngestedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "news_items_ingested_total",
				Help: "Items persisted, labeled by mode (live or backfill).",
			},
			[]string{"mode"},
		)

		duplicatesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "news_items_duplicate_total",
				Help: "Inserts rejected by the unique external id constraint.",
			},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "news_notifications_total",
				Help: "Per-recipient deliveries, labeled by status.",
			},
			[]string{"status"},
		)

		pollsSkippedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "news_polls_skipped_total",
				Help: "Poll triggers skipped because a pass was still running.",
			},
		)

		enrichFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "news_enrich_fallbacks_total",
				Help: "Local fallbacks taken instead of an enrichment service, labeled by api.",
			},
			[]string{"api"},
		)

		passDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "news_pass_duration_seconds",
				Help:    "Duration of ingestion passes, labeled by mode.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300, 1800},
			},
			[]string{"mode"},
		)

		backupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "news_backups_total",
				Help: "Backup runs, labeled by status.",
			},
			[]string{"status"},
		)

		reactionTogglesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "news_reaction_toggles_total",
				Help: "Reaction toggles, labeled by resulting action.",
			},
			[]string{"action"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveIngested counts a persisted item.
func ObserveIngested(mode string) {
	Init()
	itemsIngestedTotal.WithLabelValues(mode).Inc()
}

// ObserveDuplicate counts a swallowed duplicate insert.
func ObserveDuplicate() {
	Init()
	duplicatesTotal.Inc()
}

// ObserveNotification counts one delivery attempt.
func ObserveNotification(sent bool) {
	Init()
	status := "failed"
	if sent {
		status = "sent"
	}
	notificationsTotal.WithLabelValues(status).Inc()
}

// ObservePollSkipped counts an overlapping poll trigger.
func ObservePollSkipped() {
	Init()
	pollsSkippedTotal.Inc()
}

// ObserveEnrichFallback counts a local fallback for api.
func ObserveEnrichFallback(api string) {
	Init()
	enrichFallbacksTotal.WithLabelValues(api).Inc()
}

// ObservePass records the duration of an ingestion pass.
func ObservePass(mode string, d time.Duration) {
	Init()
	passDurationSeconds.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveBackup counts a backup run.
func ObserveBackup(ok bool) {
	Init()
	status := "failed"
	if ok {
		status = "ok"
	}
	backupsTotal.WithLabelValues(status).Inc()
}

// ObserveReactionToggle counts a reaction change.
func ObserveReactionToggle(action string) {
	Init()
	reactionTogglesTotal.WithLabelValues(action).Inc()
}
