package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "timeline_ingest"

var (
	recordsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "parser",
		Name:      "records_total",
		Help:      "Records seen by the parser, split by dialect and outcome.",
	}, []string{"dialect", "outcome"})

	warningsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "parser",
		Name:      "warnings_total",
		Help:      "Warnings raised while parsing, including suppressed ones.",
	}, []string{"dialect"})

	ingestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "service",
		Name:      "ingests_total",
		Help:      "Completed ingests by result.",
	}, []string{"result"})

	ingestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "service",
		Name:      "ingest_duration_seconds",
		Help:      "Wall time of an ingest from first byte to commit.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"mode"})

	lastIngestGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "persistence",
		Name:      "last_ingest_committed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent committed ingest.",
	})
)

func init() {
	prometheus.MustRegister(recordsCounter, warningsCounter, ingestCounter, ingestDuration, lastIngestGauge)
}

// RecordParse folds a parse summary into the parser counters.
func RecordParse(dialect string, accepted, rejected, warnings int) {
	if accepted > 0 {
		recordsCounter.WithLabelValues(dialect, "accepted").Add(float64(accepted))
	}
	if rejected > 0 {
		recordsCounter.WithLabelValues(dialect, "rejected").Add(float64(rejected))
	}
	if warnings > 0 {
		warningsCounter.WithLabelValues(dialect).Add(float64(warnings))
	}
}

// RecordIngest counts a finished ingest and its duration.
func RecordIngest(mode string, ok bool, elapsed time.Duration) {
	result := "failed"
	if ok {
		result = "loaded"
	}
	ingestCounter.WithLabelValues(result).Inc()
	ingestDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// RecordIngestCommitted updates the commit watermark gauge.
func RecordIngestCommitted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastIngestGauge.Set(float64(ts.Unix()))
}
