package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ragcore/internal/chunk"
	"ragcore/internal/config"
	"ragcore/internal/ragerr"
)

// New selects and constructs the backend named by cfg.Backend. "memory"
// needs no external resources and is the default; "qdrant" connects and
// checks (or creates) its collection during construction; "postgres"
// opens a pgx pool and runs its best-effort schema bootstrap.
func New(ctx context.Context, cfg config.VectorStoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(Metric(cfg.Metric)), nil
	case "qdrant":
		return NewQdrantStore(cfg.DSN, cfg.Collection, cfg.Dimensions, cfg.Metric)
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: connect postgres: %w", err)
		}
		return NewPostgresStore(pool, cfg.Dimensions, cfg.Metric), nil
	default:
		return nil, fmt.Errorf("vectorstore: unknown backend %q", cfg.Backend)
	}
}

// Retrieve bounds a Search call by the stage deadline already present on
// ctx. When the deadline fires before Search returns, Retrieve waits a
// 5 ms grace window: a non-empty candidate set returned in that window
// comes back with partial=true, otherwise the call fails with a
// retrieve-stage TimeoutError. When Search returns an error after ctx has
// expired, a non-empty candidate set is still returned with partial=true;
// any other Search error fails with RetrievalError. A Search that returns
// without error before the deadline yields partial=false.
func Retrieve(ctx context.Context, store Store, vector []float32, k int, filter map[string]string) (candidates []chunk.Candidate, partial bool, err error) {
	type result struct {
		candidates []chunk.Candidate
		err        error
	}
	done := make(chan result, 1)
	go func() {
		c, err := store.Search(ctx, vector, k, filter)
		done <- result{candidates: c, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if ctx.Err() != nil && len(r.candidates) > 0 {
				return r.candidates, true, nil
			}
			return nil, false, ragerr.Wrap(ragerr.KindRetrieval, "retrieve", r.err)
		}
		return r.candidates, false, nil
	case <-ctx.Done():
		// Give the in-flight search a brief grace window to flush
		// whatever it already produced before declaring the stage a
		// full failure.
		select {
		case r := <-done:
			if len(r.candidates) > 0 {
				return r.candidates, true, nil
			}
		case <-time.After(5 * time.Millisecond):
		}
		return nil, false, ragerr.Timeout("retrieve")
	}
}
