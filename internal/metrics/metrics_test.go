package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMockCollectorRecordsCountersAndHistograms(t *testing.T) {
	m := NewMockCollector()
	m.IncCounter("requests_total", nil)
	m.IncCounter("requests_total", nil)
	m.ObserveHistogram("stage_latency_ms", 12.5, map[string]string{"stage": "embed"})

	require.Equal(t, 2, m.Counters["requests_total"])
	require.Equal(t, []float64{12.5}, m.Hists["stage_latency_ms"])
	require.Equal(t, "embed", m.Labels["stage_latency_ms"][0]["stage"])
}

func TestPercentileTrackerComputesRollingPercentiles(t *testing.T) {
	now := time.Now()
	tr := NewPercentileTracker(5 * time.Minute)
	tr.now = func() time.Time { return now }

	for _, v := range []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100} {
		tr.Observe("fusion", v)
	}
	snap := tr.Snapshot()
	stats, ok := snap["fusion"]
	require.True(t, ok)
	require.Equal(t, 10, stats.Count)
	require.InDelta(t, 60, stats.P50, 10)
	require.InDelta(t, 100, stats.P99, 10)
}

func TestPercentileTrackerPrunesOldSamples(t *testing.T) {
	now := time.Now()
	tr := NewPercentileTracker(time.Minute)
	tr.now = func() time.Time { return now }
	tr.Observe("embed", 5)

	now = now.Add(2 * time.Minute)
	tr.now = func() time.Time { return now }
	tr.Observe("embed", 500)

	snap := tr.Snapshot()
	require.Equal(t, 1, snap["embed"].Count)
	require.Equal(t, float64(500), snap["embed"].P50)
}
