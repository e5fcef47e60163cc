package vectorstore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/chunk"
	"ragcore/internal/ragerr"
)

func TestMemoryStore_SearchOrdersByAscendingDistance(t *testing.T) {
	m := NewMemoryStore(MetricL2)
	m.Upsert(chunk.Chunk{ID: "far", Primary: []float32{5, 0}, Active: true})
	m.Upsert(chunk.Chunk{ID: "near", Primary: []float32{1, 0}, Active: true})
	m.Upsert(chunk.Chunk{ID: "mid", Primary: []float32{3, 0}, Active: true})

	out, err := m.Search(context.Background(), []float32{0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"near", "mid", "far"}, []string{out[0].ID, out[1].ID, out[2].ID})
}

func TestMemoryStore_SearchTieBreaksLexicographicallyOnEqualDistance(t *testing.T) {
	m := NewMemoryStore(MetricL2)
	m.Upsert(chunk.Chunk{ID: "b", Primary: []float32{1, 0}, Active: true})
	m.Upsert(chunk.Chunk{ID: "a", Primary: []float32{1, 0}, Active: true})
	m.Upsert(chunk.Chunk{ID: "c", Primary: []float32{1, 0}, Active: true})

	out, err := m.Search(context.Background(), []float32{0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{out[0].ID, out[1].ID, out[2].ID})
}

func TestMemoryStore_SearchHonorsTenantFilterAndSkipsInactive(t *testing.T) {
	m := NewMemoryStore(MetricCosine)
	m.Upsert(chunk.Chunk{ID: "tenant-a", Primary: []float32{1, 0}, Active: true, Tenant: "a"})
	m.Upsert(chunk.Chunk{ID: "tenant-b", Primary: []float32{1, 0}, Active: true, Tenant: "b"})
	m.Upsert(chunk.Chunk{ID: "inactive", Primary: []float32{1, 0}, Active: false, Tenant: "a"})

	out, err := m.Search(context.Background(), []float32{1, 0}, 10, map[string]string{"tenant": "a"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "tenant-a", out[0].ID)
}

func TestMemoryStore_SearchCapsAtK(t *testing.T) {
	m := NewMemoryStore(MetricL2)
	for _, id := range []string{"a", "b", "c"} {
		m.Upsert(chunk.Chunk{ID: id, Primary: []float32{1, 0}, Active: true})
	}
	out, err := m.Search(context.Background(), []float32{0, 0}, 2, nil)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestMemoryStore_DeleteRemovesFromIndex(t *testing.T) {
	m := NewMemoryStore(MetricL2)
	m.Upsert(chunk.Chunk{ID: "a", Primary: []float32{1, 0}, Active: true})
	m.Delete("a")
	out, err := m.Search(context.Background(), []float32{0, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMemoryStore_SearchRejectsNonPositiveK(t *testing.T) {
	m := NewMemoryStore(MetricL2)
	_, err := m.Search(context.Background(), []float32{0, 0}, 0, nil)
	require.Error(t, err)
	kind, ok := ragerr.Of(err)
	require.True(t, ok)
	assert.Equal(t, ragerr.KindInput, kind)
}

type stubStore struct {
	candidates []chunk.Candidate
	err        error
	delay      time.Duration
	calls      int32
}

// Search ignores ctx cancellation and sleeps the full delay, simulating a
// backend call that blocks regardless of the caller's deadline -- the
// scenario Retrieve's goroutine+select wrapping exists to bound.
func (s *stubStore) Search(_ context.Context, vector []float32, k int, filter map[string]string) ([]chunk.Candidate, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.candidates, s.err
}

func TestReconnecting_RetriesTransportErrorsUntilSuccess(t *testing.T) {
	failures := 2
	stub := &stubStore{}
	calls := 0
	flaky := &flakySearch{
		fn: func() ([]chunk.Candidate, error) {
			calls++
			if calls <= failures {
				return nil, errors.New("transport reset")
			}
			return stub.candidates, nil
		},
	}
	r := NewReconnecting(flaky)
	_, err := r.Search(context.Background(), []float32{1}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, failures+1, calls)
}

func TestReconnecting_GivesUpAfterMaxTries(t *testing.T) {
	flaky := &flakySearch{fn: func() ([]chunk.Candidate, error) { return nil, errors.New("down") }}
	r := NewReconnecting(flaky)
	_, err := r.Search(context.Background(), []float32{1}, 1, nil)
	require.Error(t, err)
}

type flakySearch struct {
	fn func() ([]chunk.Candidate, error)
}

func (f *flakySearch) Search(_ context.Context, _ []float32, _ int, _ map[string]string) ([]chunk.Candidate, error) {
	return f.fn()
}

func TestBounded_RejectsWhenAtCapacity(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	blocking := &blockingStore{release: release, started: started}
	b := NewBounded(blocking, 1)

	go func() {
		_, _ = b.Search(context.Background(), nil, 1, nil)
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Search(ctx, nil, 1, nil)
	require.Error(t, err)
	kind, ok := ragerr.Of(err)
	require.True(t, ok)
	assert.Equal(t, ragerr.KindOverload, kind)

	close(release)
}

type blockingStore struct {
	release chan struct{}
	started chan struct{}
}

func (b *blockingStore) Search(ctx context.Context, _ []float32, _ int, _ map[string]string) ([]chunk.Candidate, error) {
	b.started <- struct{}{}
	<-b.release
	return nil, nil
}

func TestBounded_AllowsSequentialCallsUnderCapacity(t *testing.T) {
	stub := &stubStore{candidates: []chunk.Candidate{{ID: "a"}}}
	b := NewBounded(stub, 2)
	_, err := b.Search(context.Background(), nil, 1, nil)
	require.NoError(t, err)
	_, err = b.Search(context.Background(), nil, 1, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stub.calls)
}

func TestRetrieve_ReturnsFullResultsOnCleanSearch(t *testing.T) {
	stub := &stubStore{candidates: []chunk.Candidate{{ID: "a"}, {ID: "b"}}}
	out, partial, err := Retrieve(context.Background(), stub, []float32{1}, 2, nil)
	require.NoError(t, err)
	assert.False(t, partial)
	assert.Len(t, out, 2)
}

func TestRetrieve_TimesOutWithNoCandidatesFailsAsRetrievalTimeout(t *testing.T) {
	stub := &stubStore{delay: 200 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, partial, err := Retrieve(ctx, stub, []float32{1}, 2, nil)
	require.Error(t, err)
	assert.False(t, partial)
	kind, ok := ragerr.Of(err)
	require.True(t, ok)
	assert.Equal(t, ragerr.KindTimeout, kind)
}

// TestRetrieve_PartialResultsOnDeadlineAreDegraded:
// the stage deadline fires while the store has already produced at least
// one candidate, so Retrieve surfaces what it has with partial=true instead
// of failing the whole request.
func TestRetrieve_PartialResultsOnDeadlineAreDegraded(t *testing.T) {
	stub := &partialOnCancelStore{candidates: []chunk.Candidate{{ID: "a"}, {ID: "b"}}}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	out, partial, err := Retrieve(ctx, stub, []float32{1}, 10, nil)
	require.NoError(t, err)
	assert.True(t, partial)
	assert.Len(t, out, 2)
}

// partialOnCancelStore blocks until ctx is cancelled, then returns a
// non-empty candidate set alongside ctx.Err(), simulating a backend that
// flushes whatever it already scored when the stage deadline fires.
type partialOnCancelStore struct {
	candidates []chunk.Candidate
}

func (s *partialOnCancelStore) Search(ctx context.Context, _ []float32, _ int, _ map[string]string) ([]chunk.Candidate, error) {
	<-ctx.Done()
	return s.candidates, ctx.Err()
}
