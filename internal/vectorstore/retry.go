package vectorstore

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"ragcore/internal/chunk"
)

// Reconnecting wraps a Store whose underlying transport can drop (Qdrant,
// Postgres) with bounded exponential backoff: initial 50ms, factor 2, cap
// 1s, max 3 attempts per request. Every Search error is retried; transport
// errors are not told apart from other failures. A stage
// deadline still wins over the retry budget -- ctx cancellation aborts
// the retry loop immediately and whatever the last attempt returned (nil,
// err) is surfaced.
type Reconnecting struct {
	Inner Store
}

// NewReconnecting wraps inner with the backoff policy above.
func NewReconnecting(inner Store) *Reconnecting {
	return &Reconnecting{Inner: inner}
}

func (r *Reconnecting) Search(ctx context.Context, vector []float32, k int, filter map[string]string) ([]chunk.Candidate, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 1 * time.Second

	return backoff.Retry(ctx, func() ([]chunk.Candidate, error) {
		return r.Inner.Search(ctx, vector, k, filter)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(3))
}
