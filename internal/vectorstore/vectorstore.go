// Package vectorstore implements the vector retriever: ANN search over
// the chunk store behind one Store interface, with pluggable backends
// (in-memory brute-force, Qdrant, Postgres/pgvector) selected by
// VECTOR_BACKEND.
package vectorstore

import (
	"context"
	"sort"

	"ragcore/internal/chunk"
	"ragcore/internal/ragerr"
)

// Store is the capability the orchestrator depends on. Search returns
// candidates ordered by ascending distance, tie-broken lexicographically
// on candidate id, and must propagate the raw distance verbatim (no
// premature normalization).
type Store interface {
	Search(ctx context.Context, vector []float32, k int, filter map[string]string) ([]chunk.Candidate, error)
}

// sortCandidates applies the ordering contract in place.
func sortCandidates(cands []chunk.Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Distance != cands[j].Distance {
			return cands[i].Distance < cands[j].Distance
		}
		return cands[i].ID < cands[j].ID
	})
}

func validateK(k, maxCandidates int) (int, error) {
	if k <= 0 {
		return 0, ragerr.New(ragerr.KindInput, "retrieve", "k must be >= 1")
	}
	if maxCandidates > 0 && k > maxCandidates {
		k = maxCandidates
	}
	return k, nil
}
