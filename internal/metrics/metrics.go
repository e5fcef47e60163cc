// Package metrics records the retrieval pipeline's counters and per-stage
// histograms on OpenTelemetry instruments, and keeps a rolling percentile
// tracker for the introspection endpoint.
package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Collector is the capability every pipeline stage depends on to report
// counters and stage latencies. Stages hold the interface, never a
// concrete type, so tests can substitute MockCollector.
type Collector interface {
	IncCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
}

// OtelCollector is a thin adapter over OpenTelemetry metrics.
type OtelCollector struct {
	meter metric.Meter
	mu    sync.RWMutex

	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram

	percentiles *PercentileTracker
}

// NewOtelCollector constructs a Collector using the global meter provider,
// plus a rolling percentile tracker keyed by stage name.
func NewOtelCollector() *OtelCollector {
	return &OtelCollector{
		meter:       otel.Meter("ragcore"),
		counters:    make(map[string]metric.Int64Counter),
		histograms:  make(map[string]metric.Float64Histogram),
		percentiles: NewPercentileTracker(5 * time.Minute),
	}
}

func (o *OtelCollector) IncCounter(name string, labels map[string]string) {
	if o == nil {
		return
	}
	c, ok := o.getCounter(name)
	if !ok {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(toAttrs(labels)...))
}

func (o *OtelCollector) ObserveHistogram(name string, value float64, labels map[string]string) {
	if o == nil {
		return
	}
	h, ok := o.getHistogram(name)
	if !ok {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(toAttrs(labels)...))
	if name == "stage_latency_ms" {
		o.percentiles.Observe(labels["stage"], value)
	}
}

// Snapshot returns rolling percentile stats per stage for the introspection
// endpoint.
func (o *OtelCollector) Snapshot() map[string]StageStats {
	if o == nil {
		return nil
	}
	return o.percentiles.Snapshot()
}

func (o *OtelCollector) getCounter(name string) (metric.Int64Counter, bool) {
	o.mu.RLock()
	c, ok := o.counters[name]
	o.mu.RUnlock()
	if ok {
		return c, true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok = o.counters[name]; ok {
		return c, true
	}
	ctr, err := o.meter.Int64Counter(name)
	if err != nil {
		return ctr, false
	}
	o.counters[name] = ctr
	return ctr, true
}

func (o *OtelCollector) getHistogram(name string) (metric.Float64Histogram, bool) {
	o.mu.RLock()
	h, ok := o.histograms[name]
	o.mu.RUnlock()
	if ok {
		return h, true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok = o.histograms[name]; ok {
		return h, true
	}
	hist, err := o.meter.Float64Histogram(name)
	if err != nil {
		return hist, false
	}
	o.histograms[name] = hist
	return hist, true
}

func toAttrs(labels map[string]string) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		out = append(out, attribute.String(k, v))
	}
	return out
}

// MockCollector is an in-memory sink used by tests.
type MockCollector struct {
	mu       sync.Mutex
	Counters map[string]int
	Hists    map[string][]float64
	Labels   map[string][]map[string]string
}

func NewMockCollector() *MockCollector {
	return &MockCollector{
		Counters: map[string]int{},
		Hists:    map[string][]float64{},
		Labels:   map[string][]map[string]string{},
	}
}

func (m *MockCollector) IncCounter(name string, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[name]++
	m.Labels[name] = append(m.Labels[name], cloneLabels(labels))
}

func (m *MockCollector) ObserveHistogram(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Hists[name] = append(m.Hists[name], value)
	m.Labels[name] = append(m.Labels[name], cloneLabels(labels))
}

func cloneLabels(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// StageStats holds a rolling percentile snapshot for one stage.
type StageStats struct {
	Count int
	P50   float64
	P95   float64
	P99   float64
}

type observation struct {
	at    time.Time
	value float64
}

// PercentileTracker keeps a rolling window of stage-latency observations
// and computes percentiles on demand. Old samples are pruned lazily.
type PercentileTracker struct {
	mu     sync.Mutex
	window time.Duration
	byStage map[string][]observation
	now    func() time.Time
}

func NewPercentileTracker(window time.Duration) *PercentileTracker {
	return &PercentileTracker{window: window, byStage: make(map[string][]observation), now: time.Now}
}

func (p *PercentileTracker) Observe(stage string, value float64) {
	if stage == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byStage[stage] = append(p.prune(p.byStage[stage]), observation{at: p.now(), value: value})
}

func (p *PercentileTracker) prune(obs []observation) []observation {
	cutoff := p.now().Add(-p.window)
	i := 0
	for i < len(obs) && obs[i].at.Before(cutoff) {
		i++
	}
	if i == 0 {
		return obs
	}
	return append([]observation(nil), obs[i:]...)
}

func (p *PercentileTracker) Snapshot() map[string]StageStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]StageStats, len(p.byStage))
	for stage, obs := range p.byStage {
		pruned := p.prune(obs)
		p.byStage[stage] = pruned
		if len(pruned) == 0 {
			continue
		}
		vals := make([]float64, len(pruned))
		for i, o := range pruned {
			vals[i] = o.value
		}
		sort.Float64s(vals)
		out[stage] = StageStats{
			Count: len(vals),
			P50:   percentile(vals, 0.50),
			P95:   percentile(vals, 0.95),
			P99:   percentile(vals, 0.99),
		}
	}
	return out
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
