// Package pipeline wires the embedding gateway, vector retriever, feature
// assembler, LTR and conceptual scorers, and fusion engine into the single
// orchestrator entry point: per-stage timing, per-stage metrics, and
// collaborators injected at construction.
package pipeline

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ragcore/internal/cache"
	"ragcore/internal/conceptual"
	"ragcore/internal/embedgw"
	"ragcore/internal/feature"
	"ragcore/internal/fusion"
	"ragcore/internal/ltr"
	"ragcore/internal/metrics"
	"ragcore/internal/observability"
	"ragcore/internal/ragerr"
	"ragcore/internal/registry"
	"ragcore/internal/vectorstore"
)

// Request is the inbound query.
type Request struct {
	Query                 string
	TopK                  int
	Tenant                string
	BypassCache           bool
	FusionWeightsOverride *FusionOverride
}

// FusionOverride lets a single request substitute the fusion pair without
// publishing a new registry version.
type FusionOverride struct {
	LTR        float64
	Conceptual float64
}

// Result is one ranked candidate in the response.
type Result struct {
	ChunkID     string            `json:"chunk_id"`
	Text        string            `json:"text"`
	FusedScore  float64           `json:"fused_score"`
	Components  ResultComponents  `json:"components"`
	Metadata    map[string]string `json:"metadata"`
}

// ResultComponents is the per-candidate score breakdown.
type ResultComponents struct {
	Raw        RawPair `json:"raw"`
	Normalized RawPair `json:"normalized"`
	Distance   float64 `json:"distance"`
}

// RawPair is a (ltr, conceptual) pair, used for both raw and normalized
// breakdowns.
type RawPair struct {
	LTR        float64 `json:"ltr"`
	Conceptual float64 `json:"conceptual"`
}

// WeightsView is the response's weights block.
type WeightsView struct {
	LTR        float64 `json:"ltr"`
	Conceptual float64 `json:"conceptual"`
	Version    int     `json:"version"`
}

// Response is the orchestrator's output.
type Response struct {
	Results    []Result           `json:"results"`
	Weights    WeightsView        `json:"weights"`
	Models     map[string]string  `json:"models"`
	TimingsMS  map[string]float64 `json:"timings_ms"`
	Cache      bool               `json:"cache"`
	Degraded   bool               `json:"degraded"`
	VersionTag string             `json:"version_tag"`
	RequestID  string             `json:"request_id,omitempty"`
}

// QueryError wraps a stage failure with the request_id the failure
// envelope carries: {error_kind, message, stage, request_id}. The wrapped
// Kind is still reachable through ragerr.Of via Unwrap.
type QueryError struct {
	RequestID string
	Err       error
}

func (e *QueryError) Error() string { return e.Err.Error() }
func (e *QueryError) Unwrap() error { return e.Err }

// Clock is swappable for deterministic stage-timing tests.
type Clock interface{ Now() time.Time }

// SystemClock is the default, wall-clock Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Config bundles the orchestrator's tunable knobs, sourced from
// config.RetrievalConfig, config.CacheConfig, and config.TimeoutConfig.
type Config struct {
	TopKDefault         int
	MaxCandidates       int
	CandidateMultiplier int
	RequestBudgetMS     int
	RetrievalStageMS    int
	LTRStageMS          int
	QueryCacheTTLS      int
	FeatureCacheTTLS    int
	TenantRequired      bool
}

// Pipeline is the orchestrator.
type Pipeline struct {
	cfg      Config
	registry *registry.Registry
	cache    cache.Store
	embed    embedgw.Gateway
	vectors  vectorstore.Store
	ltrScorer func(registry.Snapshot) (ltr.Scorer, error)
	clock    Clock
	metrics  metrics.Collector
}

// Option configures a Pipeline during construction.
type Option func(*Pipeline)

// WithClock overrides the wall clock, for deterministic stage-timing tests.
func WithClock(c Clock) Option { return func(p *Pipeline) { p.clock = c } }

// WithMetrics overrides the metrics collector (defaults to an in-memory
// metrics.MockCollector).
func WithMetrics(m metrics.Collector) Option { return func(p *Pipeline) { p.metrics = m } }

// WithLTRScorer overrides how an LTR Scorer is derived from the active
// snapshot's model table. The default reads the active ltr ModelEntry's
// Coefficients and builds an ltr.Linear.
func WithLTRScorer(f func(registry.Snapshot) (ltr.Scorer, error)) Option {
	return func(p *Pipeline) { p.ltrScorer = f }
}

// New constructs a Pipeline from its collaborators.
func New(cfg Config, reg *registry.Registry, c cache.Store, embed embedgw.Gateway, vectors vectorstore.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		registry: reg,
		cache:    c,
		embed:    embed,
		vectors:  vectors,
		clock:    SystemClock{},
		metrics:  metrics.NewMockCollector(),
	}
	p.ltrScorer = defaultLTRScorer
	for _, o := range opts {
		o(p)
	}
	return p
}

func defaultLTRScorer(snap registry.Snapshot) (ltr.Scorer, error) {
	entry, ok := snap.ActiveModel(registry.KindLTR)
	if !ok {
		return ltr.Pluggable{}, nil
	}
	return ltr.NewLinear(entry.Coefficients)
}

// Query runs the full retrieval and ranking pipeline for one user query.
func (p *Pipeline) Query(ctx context.Context, req Request) (Response, error) {
	start := p.clock.Now()
	requestID := newRequestID()

	if strings.TrimSpace(req.Query) == "" || len(req.Query) > 4096 {
		return Response{}, p.fail(ctx, requestID, ragerr.New(ragerr.KindInput, "validate", "query must be 1..4096 chars"))
	}
	topK := req.TopK
	if topK == 0 {
		topK = p.cfg.TopKDefault
	}
	if topK < 1 || topK > 100 {
		return Response{}, p.fail(ctx, requestID, ragerr.New(ragerr.KindInput, "validate", "top_k must be in range 1..100"))
	}
	if p.cfg.TenantRequired && strings.TrimSpace(req.Tenant) == "" {
		return Response{}, p.fail(ctx, requestID, ragerr.New(ragerr.KindInput, "validate", "tenant is required"))
	}

	budget := time.Duration(p.cfg.RequestBudgetMS) * time.Millisecond
	if budget <= 0 {
		budget = 1500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	timings := make(map[string]float64)
	snap := p.registry.Snapshot()
	fusionW, conceptualW := snap.Weights.Normalized()
	weightVersion := snap.Weights.Version
	if req.FusionWeightsOverride != nil {
		fusionW = normalizeOverride(*req.FusionWeightsOverride)
	}
	tag := versionTag(snap)
	queryHash := cache.Hash(req.Query + "|" + strconv.Itoa(topK) + "|" + req.Tenant)
	// A weight override changes the fused scores without changing the key
	// or tag, so an overridden request neither reads nor stores the query
	// cache -- otherwise it could return a non-override response, or
	// poison the cache for plain requests.
	useQueryCache := !req.BypassCache && req.FusionWeightsOverride == nil

	if useQueryCache {
		key := cache.Key(cache.NamespaceQuery, queryHash, tag)
		if entry, ok := p.cache.Get(ctx, key); ok {
			var resp Response
			if err := json.Unmarshal(entry.Payload, &resp); err == nil {
				resp.Cache = true
				resp.RequestID = requestID
				for _, stage := range []string{"embed", "retrieve", "feature", "ltr", "fusion"} {
					resp.TimingsMS[stage] = 0
				}
				resp.TimingsMS["total"] = float64(p.clock.Now().Sub(start).Milliseconds())
				p.metrics.IncCounter("cache_hits_total", map[string]string{"ns": "query"})
				return resp, nil
			}
		}
		p.metrics.IncCounter("cache_misses_total", map[string]string{"ns": "query"})
	}

	// Stage: embed.
	t0 := p.clock.Now()
	vectors, degraded, err := p.embed.Embed(ctx, []string{req.Query})
	timings["embed"] = p.observeStage("embed", t0)
	if err != nil {
		return Response{}, p.fail(ctx, requestID, err)
	}
	if degraded {
		timings["embed"] = -1
	}
	queryVector := vectors[0]

	// Stage: retrieve.
	maxCandidates := p.cfg.MaxCandidates
	multiplier := p.cfg.CandidateMultiplier
	if multiplier <= 0 {
		multiplier = 5
	}
	k := topK * multiplier
	if maxCandidates > 0 && k > maxCandidates {
		k = maxCandidates
	}
	filter := map[string]string{}
	if req.Tenant != "" {
		filter["tenant"] = req.Tenant
	}
	t0 = p.clock.Now()
	retrieveCtx, retrieveCancel := p.withStageDeadline(ctx, p.cfg.RetrievalStageMS)
	candidates, partial, err := vectorstore.Retrieve(retrieveCtx, p.vectors, queryVector, k, filter)
	retrieveCancel()
	timings["retrieve"] = p.observeStage("retrieve", t0)
	if err != nil {
		return Response{}, p.fail(ctx, requestID, err)
	}
	if partial {
		degraded = true
		timings["retrieve"] = -1
	}
	if len(candidates) == 0 {
		timings["total"] = float64(p.clock.Now().Sub(start).Milliseconds())
		return p.emptyResponse(weightVersion, fusionW, timings, tag, snap, requestID), nil
	}

	// Stage: feature assembly, preferring the feat:* cache per candidate
	// over recomputing.
	t0 = p.clock.Now()
	records := feature.AssembleCached(ctx, candidates, p.cache, p.featureCacheTTL())
	timings["feature"] = p.observeStage("feature", t0)

	// Stage: LTR and conceptual scoring, concurrently.
	scorer, err := p.ltrScorer(snap)
	if err != nil {
		return Response{}, p.fail(ctx, requestID, err)
	}
	var ltrScores, conceptualScores []float64
	ltrStart := p.clock.Now()
	ltrCtx, ltrCancel := p.withStageDeadline(ctx, p.cfg.LTRStageMS)
	g, _ := errgroup.WithContext(ltrCtx)
	g.Go(func() error {
		s, err := scorer.Score(records)
		if err != nil {
			return err
		}
		ltrScores = s
		return nil
	})
	g.Go(func() error {
		keywords := conceptual.ExtractKeywords(req.Query)
		conceptualScores = conceptual.Score(candidates, records, keywords, p.clock.Now(), conceptual.Weights{
			Distance: conceptualW[0], Recency: conceptualW[1], Metadata: conceptualW[2],
		})
		return nil
	})
	err = g.Wait()
	if err == nil && ltrCtx.Err() != nil {
		err = ragerr.Timeout("ltr")
	}
	ltrCancel()
	if err != nil {
		return Response{}, p.fail(ctx, requestID, err)
	}
	timings["ltr"] = p.observeStage("ltr", ltrStart)

	// Stage: fuse.
	t0 = p.clock.Now()
	ids := make([]string, len(candidates))
	similarities := make([]float64, len(candidates))
	for i, r := range records {
		ids[i] = r.CandidateID
		similarities[i] = r.Similarity()
	}
	scored := fusion.Fuse(ids, ltrScores, conceptualScores, similarities, fusion.Weights{
		LTR: fusionW[0], Conceptual: fusionW[1], Version: weightVersion,
	})
	scored = fusion.Truncate(scored, topK)
	timings["fusion"] = p.observeStage("fusion", t0)

	byID := make(map[string]candidateView, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = candidateView{Text: c.Text, Metadata: c.Metadata, Distance: c.Distance}
	}
	results := make([]Result, len(scored))
	for i, s := range scored {
		c := byID[s.CandidateID]
		results[i] = Result{
			ChunkID:    s.CandidateID,
			Text:       c.Text,
			FusedScore: s.Fused,
			Components: ResultComponents{
				Raw:        RawPair{LTR: s.Components.RawLTR, Conceptual: s.Components.RawConceptual},
				Normalized: RawPair{LTR: s.Components.NormalizedLTR, Conceptual: s.Components.NormalizedConceptual},
				Distance:   c.Distance,
			},
			Metadata: c.Metadata,
		}
	}

	resp := Response{
		Results:    results,
		Weights:    WeightsView{LTR: fusionW[0], Conceptual: fusionW[1], Version: weightVersion},
		Models:     modelIDs(snap),
		TimingsMS:  timings,
		Cache:      false,
		Degraded:   degraded,
		VersionTag: tag,
	}
	resp.TimingsMS["total"] = float64(p.clock.Now().Sub(start).Milliseconds())

	if useQueryCache {
		if payload, err := json.Marshal(resp); err == nil {
			key := cache.Key(cache.NamespaceQuery, queryHash, tag)
			_ = p.cache.Set(ctx, key, cache.Entry{Payload: payload, TTL: p.queryCacheTTL(), VersionTag: tag})
		}
	}
	p.metrics.IncCounter("requests_total", map[string]string{"degraded": strconv.FormatBool(degraded)})
	resp.RequestID = requestID
	return resp, nil
}

type candidateView struct {
	Text     string
	Metadata map[string]string
	Distance float64
}

func (p *Pipeline) emptyResponse(version int, fusionW [2]float64, timings map[string]float64, tag string, snap registry.Snapshot, requestID string) Response {
	return Response{
		Results:    []Result{},
		Weights:    WeightsView{LTR: fusionW[0], Conceptual: fusionW[1], Version: version},
		Models:     modelIDs(snap),
		TimingsMS:  timings,
		Cache:      false,
		Degraded:   true,
		VersionTag: tag,
		RequestID:  requestID,
	}
}

func modelIDs(snap registry.Snapshot) map[string]string {
	out := make(map[string]string)
	for _, kind := range []registry.ModelKind{registry.KindEmbedding, registry.KindLTR, registry.KindConceptual} {
		if m, ok := snap.ActiveModel(kind); ok {
			out[string(kind)] = m.ID()
		}
	}
	return out
}

// versionTag composes the cache tag from the active embedding/LTR model
// ids and the weight set version, so publishing a new model or weight set
// invalidates every cached response at once.
func versionTag(snap registry.Snapshot) string {
	parts := make([]string, 0, 3)
	for _, kind := range []registry.ModelKind{registry.KindEmbedding, registry.KindLTR} {
		if m, ok := snap.ActiveModel(kind); ok {
			parts = append(parts, m.ID())
		}
	}
	parts = append(parts, "w"+strconv.Itoa(snap.Weights.Version))
	return strings.Join(parts, "|")
}

func normalizeOverride(o FusionOverride) [2]float64 {
	sum := o.LTR + o.Conceptual
	if sum <= 0 {
		return [2]float64{0.5, 0.5}
	}
	return [2]float64{o.LTR / sum, o.Conceptual / sum}
}

func (p *Pipeline) observeStage(stage string, start time.Time) float64 {
	ms := float64(p.clock.Now().Sub(start).Milliseconds())
	p.metrics.ObserveHistogram("stage_latency_ms", ms, map[string]string{"stage": stage})
	return ms
}

// withStageDeadline derives a sub-context bounded by ms as well as by the
// parent's own deadline (RETRIEVAL_TIMEOUT_MS/LTR_TIMEOUT_MS), never loosening
// it: context.WithTimeout already clamps to whichever of parent/child fires
// first. ms <= 0 means the stage carries no timeout of its own, so the
// request-wide budget context is returned unchanged, paired with a no-op
// cancel to keep call sites uniform.
func (p *Pipeline) withStageDeadline(ctx context.Context, ms int) (context.Context, context.CancelFunc) {
	if ms <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
}

// featureCacheTTL is the feat:* entry lifetime (CACHE_TTL_FEATURE_S),
// falling back to a 10 minute default when unset.
func (p *Pipeline) featureCacheTTL() time.Duration {
	if p.cfg.FeatureCacheTTLS <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(p.cfg.FeatureCacheTTLS) * time.Second
}

// queryCacheTTL is the query:* entry lifetime (CACHE_TTL_QUERY_S), falling
// back to a 5 minute default when unset.
func (p *Pipeline) queryCacheTTL() time.Duration {
	if p.cfg.QueryCacheTTLS <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(p.cfg.QueryCacheTTLS) * time.Second
}

// fail logs a stage failure with its trace correlation (if ctx carries a
// span) and wraps it into the QueryError the HTTP layer maps to a
// structured failure envelope.
func (p *Pipeline) fail(ctx context.Context, requestID string, err error) *QueryError {
	kind, _ := ragerr.Of(err)
	p.metrics.IncCounter("errors_total", map[string]string{"kind": string(kind)})
	observability.LoggerWithTrace(ctx).Error().Err(err).Str("request_id", requestID).Str("error_kind", string(kind)).Msg("pipeline_query_failed")
	return &QueryError{RequestID: requestID, Err: err}
}

func newRequestID() string {
	return uuid.NewString()
}
