package vectorstore

import (
	"context"

	"golang.org/x/sync/semaphore"

	"ragcore/internal/chunk"
	"ragcore/internal/ragerr"
)

// Bounded wraps a Store with the same semaphore-bounded-acquire pattern
// embedgw.HTTPGateway uses for the embedding gateway, enforcing a maximum
// in-flight concurrency and failing fast with an overload error when the
// wait would outlive the request deadline. It wraps the outermost Store
// in the stack (e.g. a Reconnecting) so one semaphore slot covers a whole
// retry sequence, not just its final attempt.
type Bounded struct {
	inner Store
	sem   *semaphore.Weighted
}

// NewBounded bounds inner to at most maxInFlight concurrent Search calls,
// defaulting to 32 (VECTOR_MAX_INFLIGHT's default) when maxInFlight <= 0.
func NewBounded(inner Store, maxInFlight int) *Bounded {
	if maxInFlight <= 0 {
		maxInFlight = 32
	}
	return &Bounded{inner: inner, sem: semaphore.NewWeighted(int64(maxInFlight))}
}

func (b *Bounded) Search(ctx context.Context, vector []float32, k int, filter map[string]string) ([]chunk.Candidate, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, ragerr.New(ragerr.KindOverload, "retrieve", "vector retriever at capacity")
	}
	defer b.sem.Release(1)
	return b.inner.Search(ctx, vector, k, filter)
}
