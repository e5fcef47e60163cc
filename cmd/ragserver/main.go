// Command ragserver boots the hybrid retrieval and ranking core: loads
// configuration, wires the registry, cache, embedding gateway, vector
// store, and pipeline, then serves the HTTP surface until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ragcore/internal/cache"
	"ragcore/internal/config"
	"ragcore/internal/embedgw"
	"ragcore/internal/health"
	"ragcore/internal/httpapi"
	"ragcore/internal/metrics"
	"ragcore/internal/observability"
	"ragcore/internal/pipeline"
	"ragcore/internal/registry"
	"ragcore/internal/vectorstore"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("ragserver")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.Obs.LogPath, cfg.Obs.LogLevel)

	baseCtx := context.Background()
	shutdownOTel, err := observability.InitOTel(baseCtx, cfg.Obs)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}

	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := cache.New(cfg.Cache)
	if err != nil {
		log.Warn().Err(err).Msg("cache: falling back to in-memory tier only")
	}

	startedAt := time.Now()
	reg, err := registry.New(registry.SeedWeights(cfg.Weights), []registry.ModelEntry{
		{
			Name: "linear-default", Kind: registry.KindLTR, Version: 1,
			Status: registry.StatusActive, Coefficients: []float64{1, 0.1, 0.05},
		},
		{
			Name: "embed-default", Kind: registry.KindEmbedding, Version: 1,
			Status: registry.StatusActive, Dimension: cfg.Embed.Dim,
		},
	})
	if err != nil {
		return fmt.Errorf("seed registry: %w", err)
	}

	gateway := embedgw.New(embedgw.Config{
		Endpoint:      cfg.Embed.Endpoint,
		Dim:           cfg.Embed.Dim,
		AllowFallback: cfg.Embed.AllowFallback,
		TimeoutMS:     cfg.Embed.TimeoutMS,
		MaxInFlight:   cfg.Embed.MaxInFlight,
		ModelVersion:  "embed-default@1",
		CacheTTLS:     cfg.Cache.TTLEmbedS,
	}, c)

	store, err := vectorstore.New(ctx, cfg.Vector)
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}
	if cfg.Vector.Backend == "qdrant" || cfg.Vector.Backend == "postgres" {
		store = vectorstore.NewReconnecting(store)
	}
	store = vectorstore.NewBounded(store, cfg.Retrieval.MaxInFlight)

	collector := metrics.NewOtelCollector()

	p := pipeline.New(pipeline.Config{
		TopKDefault:         cfg.Retrieval.TopKDefault,
		MaxCandidates:       cfg.Retrieval.MaxCandidates,
		CandidateMultiplier: cfg.Retrieval.CandidateMultiplier,
		RequestBudgetMS:     cfg.Timeouts.RequestMS,
		RetrievalStageMS:    cfg.Retrieval.TimeoutMS,
		LTRStageMS:          cfg.Timeouts.LTRMS,
		QueryCacheTTLS:      cfg.Cache.TTLQueryS,
		FeatureCacheTTLS:    cfg.Cache.TTLFeatureS,
		TenantRequired:      cfg.TenantRequired,
	}, reg, c, gateway, store,
		pipeline.WithMetrics(collector),
	)

	reporter := health.New(reg, c, collector, startedAt)
	server := httpapi.NewServer(p, reg, reporter)

	httpServer := &http.Server{Addr: cfg.HTTP.Addr, Handler: server}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("ragserver listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("ragserver shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	return nil
}
