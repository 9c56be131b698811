// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "digest_ticks_total",
			Help: "Total number of scheduled pipeline runs started",
		},
	)

	TicksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "digest_ticks_skipped_total",
			Help: "Ticks skipped because a previous run was still in flight",
		},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "digest_tick_duration_seconds",
			Help:    "Duration of a full pipeline run in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	SubscriberOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_subscriber_outcomes_total",
			Help: "Per-subscriber pipeline outcomes by terminal stage",
		},
		[]string{"stage"},
	)

	PostingsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "digest_postings_fetched_total",
			Help: "Postings returned by the external source across all fetches",
		},
	)

	PostingsInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "digest_postings_inserted_total",
			Help: "New posting rows committed to storage",
		},
	)

	DigestsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "digest_emails_sent_total",
			Help: "Digest emails delivered successfully",
		},
	)

	DigestsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_emails_failed_total",
			Help: "Digest deliveries that failed, by reason",
		},
		[]string{"reason"},
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "digest_fetch_duration_seconds",
			Help:    "Duration of a single source fetch including retries",
			Buckets: prometheus.DefBuckets,
		},
	)
)
