// Package health implements the read-only introspection surface:
// active model ids, weight set version, cache availability, last-stage
// timing snapshot, and process uptime. It never mutates registry or
// pipeline state; its one write is the cache availability probe, which
// stores a throwaway key with a one-second TTL.
package health

import (
	"context"
	"time"

	"ragcore/internal/cache"
	"ragcore/internal/metrics"
	"ragcore/internal/registry"
)

// Snapshot is the introspection payload returned to external probes.
type Snapshot struct {
	Models         map[string]string         `json:"models"`
	ModelTable     []ModelView               `json:"model_table"`
	WeightsVersion int                       `json:"weights_version"`
	CacheAvailable bool                       `json:"cache_available"`
	Stages         map[string]metrics.StageStats `json:"stages,omitempty"`
	UptimeS        float64                   `json:"uptime_s"`
}

// ModelView is one registry entry in the introspection payload. Deprecated
// entries stay listed for audit; only active ones appear in Models.
type ModelView struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
}

// Reporter composes the registry, cache, and metrics collector into one
// read-only snapshot call.
type Reporter struct {
	registry  *registry.Registry
	cache     cache.Store
	collector *metrics.OtelCollector // optional; nil omits Stages
	startedAt time.Time
}

// New constructs a Reporter. collector may be nil, in which case Stages is
// omitted from every Snapshot.
func New(reg *registry.Registry, c cache.Store, collector *metrics.OtelCollector, startedAt time.Time) *Reporter {
	return &Reporter{registry: reg, cache: c, collector: collector, startedAt: startedAt}
}

// Snapshot reports the current process health. The caller's ctx bounds
// the cache availability probe so a wedged remote cache tier can't hang
// a health check.
func (r *Reporter) Snapshot(ctx context.Context) Snapshot {
	snap := r.registry.Snapshot()
	models := make(map[string]string)
	for _, kind := range []registry.ModelKind{registry.KindEmbedding, registry.KindLTR, registry.KindConceptual} {
		if m, ok := snap.ActiveModel(kind); ok {
			models[string(kind)] = m.ID()
		}
	}
	table := make([]ModelView, 0, len(snap.Models))
	for _, m := range snap.SortedModels() {
		table = append(table, ModelView{ID: m.ID(), Kind: string(m.Kind), Status: string(m.Status)})
	}

	out := Snapshot{
		Models:         models,
		ModelTable:     table,
		WeightsVersion: snap.Weights.Version,
		CacheAvailable: r.probeCache(ctx),
		UptimeS:        time.Since(r.startedAt).Seconds(),
	}
	if r.collector != nil {
		out.Stages = r.collector.Snapshot()
	}
	return out
}

// probeCache checks the cache is reachable by round-tripping a throwaway
// key. A nil cache.Store, or one that rejects the probe, is unavailable.
func (r *Reporter) probeCache(ctx context.Context) bool {
	if r.cache == nil {
		return false
	}
	const probeKey = "health:probe"
	entry := cache.Entry{Payload: []byte("1"), TTL: time.Second}
	if err := r.cache.Set(ctx, probeKey, entry); err != nil {
		return false
	}
	_, _ = r.cache.Get(ctx, probeKey)
	return true
}
