package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	dlqHandledCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timeline_ingest",
		Subsystem: "dlq",
		Name:      "entries_handled_total",
		Help:      "DLQ entries handled by the manager, labeled by event type and outcome (requeued, retry, quarantined).",
	}, []string{"event_type", "outcome"})

	dlqSeenCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timeline_ingest",
		Subsystem: "dlq",
		Name:      "entries_seen_total",
		Help:      "DLQ entries picked up for processing, labeled by topic.",
	}, []string{"topic"})

	dlqBacklogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "timeline_ingest",
		Subsystem: "dlq",
		Name:      "queued_messages",
		Help:      "Current number of entries remaining in the DLQ outside quarantine.",
	})
)

func init() {
	prometheus.MustRegister(dlqHandledCounter, dlqSeenCounter, dlqBacklogGauge)
}

func recordDLQProcessed(entry dlqEntry) {
	dlqSeenCounter.WithLabelValues(entry.Topic).Inc()
}

func recordDLQRequeued(entry dlqEntry) {
	dlqHandledCounter.WithLabelValues(entry.EventType, "requeued").Inc()
}

func recordDLQQuarantined(entry dlqEntry) {
	dlqHandledCounter.WithLabelValues(entry.EventType, "quarantined").Inc()
}

func recordDLQRetry(entry dlqEntry) {
	dlqHandledCounter.WithLabelValues(entry.EventType, "retry").Inc()
}

func updateBacklogGauge(ctx context.Context, pool *pgxpool.Pool) {
	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL`).Scan(&count); err != nil {
		return
	}
	dlqBacklogGauge.Set(float64(count))
}
