package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var m dto.Metric
	require.NoError(t, (<-ch).Write(&m))
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestRecordParse(t *testing.T) {
	accepted := recordsCounter.WithLabelValues("android", "accepted")
	rejected := recordsCounter.WithLabelValues("android", "rejected")
	before, beforeRejected := counterValue(t, accepted), counterValue(t, rejected)

	RecordParse("android", 5, 2, 3)
	RecordParse("android", 0, 0, 0)

	require.Equal(t, before+5, counterValue(t, accepted))
	require.Equal(t, beforeRejected+2, counterValue(t, rejected))
}

func TestRecordIngestCommitted(t *testing.T) {
	ts := time.Unix(1_700_000_000, 0)
	RecordIngestCommitted(ts)
	RecordIngestCommitted(time.Time{})
	require.Equal(t, float64(ts.Unix()), counterValue(t, lastIngestGauge))
}

func TestRecordIngest(t *testing.T) {
	loaded := ingestCounter.WithLabelValues("loaded")
	before := counterValue(t, loaded)
	RecordIngest("stream", true, 250*time.Millisecond)
	require.Equal(t, before+1, counterValue(t, loaded))
}
