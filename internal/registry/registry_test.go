package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/ragerr"
)

func validWeights() WeightSet {
	return WeightSet{LTR: 0.6, Conceptual: 0.4, Distance: 0.7, Recency: 0.2, Metadata: 0.1}
}

func TestWeightSet_Normalized(t *testing.T) {
	w := WeightSet{LTR: 3, Conceptual: 1, Distance: 2, Recency: 1, Metadata: 1}
	fusion, conceptual := w.Normalized()
	assert.InDelta(t, 0.75, fusion[0], 1e-9)
	assert.InDelta(t, 0.25, fusion[1], 1e-9)
	assert.InDelta(t, 0.5, conceptual[0], 1e-9)
	assert.InDelta(t, 0.25, conceptual[1], 1e-9)
	assert.InDelta(t, 0.25, conceptual[2], 1e-9)
}

func TestWeightSet_Normalized_ZeroSumIsNeutral(t *testing.T) {
	var w WeightSet
	fusion, conceptual := w.Normalized()
	assert.Equal(t, [2]float64{0.5, 0.5}, fusion)
	assert.Equal(t, [3]float64{1.0 / 3, 1.0 / 3, 1.0 / 3}, conceptual)
}

func TestNew_RejectsZeroSumWeights(t *testing.T) {
	_, err := New(WeightSet{}, nil)
	require.Error(t, err)
	kind, ok := ragerr.Of(err)
	require.True(t, ok)
	assert.Equal(t, ragerr.KindInput, kind)
}

func TestNew_RejectsNegativeWeight(t *testing.T) {
	w := validWeights()
	w.Recency = -1
	_, err := New(w, nil)
	require.Error(t, err)
}

func TestPutWeights_MonotonicVersioning(t *testing.T) {
	r, err := New(validWeights(), nil)
	require.NoError(t, err)

	v1, err := r.PutWeights(validWeights())
	require.NoError(t, err)
	v2, err := r.PutWeights(validWeights())
	require.NoError(t, err)
	assert.Greater(t, v2, v1)
}

func TestPutWeights_FailedPutLeavesActiveUnchanged(t *testing.T) {
	r, err := New(validWeights(), nil)
	require.NoError(t, err)
	before := r.Snapshot().Weights

	_, err = r.PutWeights(WeightSet{})
	require.Error(t, err)

	after := r.Snapshot().Weights
	assert.Equal(t, before, after)
}

func TestPutWeights_GetReturnsRenormalizedWeights(t *testing.T) {
	r, err := New(validWeights(), nil)
	require.NoError(t, err)

	_, err = r.PutWeights(WeightSet{LTR: 3, Conceptual: 1, Distance: 1, Recency: 1, Metadata: 1})
	require.NoError(t, err)

	got := r.Snapshot().Weights
	fusion, conceptual := got.Normalized()
	assert.InDelta(t, 0.75, fusion[0], 1e-9)
	assert.InDelta(t, 1.0/3, conceptual[0], 1e-9)
}

func TestPutWeights_ConcurrentSnapshotIsolation(t *testing.T) {
	r, err := New(validWeights(), nil)
	require.NoError(t, err)

	// Request A loads a snapshot before a concurrent PUT lands.
	snapA := r.Snapshot()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = r.PutWeights(WeightSet{LTR: 0.1, Conceptual: 0.9, Distance: 1, Recency: 1, Metadata: 1})
	}()
	wg.Wait()

	// A's snapshot is untouched even though the registry moved on.
	assert.Equal(t, validWeights().LTR, snapA.Weights.LTR)
	assert.NotEqual(t, snapA.Weights.Version, r.Snapshot().Weights.Version)
}

func TestPublishModel_DemotesPreviousActive(t *testing.T) {
	r, err := New(validWeights(), []ModelEntry{
		{Name: "linear-v1", Kind: KindLTR, Version: 1, Status: StatusActive, Coefficients: []float64{1, 0, 0}},
	})
	require.NoError(t, err)

	r.PublishModel(ModelEntry{Name: "linear-v2", Kind: KindLTR, Version: 2, Coefficients: []float64{0.5, 0.5, 0}})

	snap := r.Snapshot()
	active, ok := snap.ActiveModel(KindLTR)
	require.True(t, ok)
	assert.Equal(t, "linear-v2", active.Name)

	var old ModelEntry
	for _, m := range snap.Models {
		if m.Name == "linear-v1" {
			old = m
		}
	}
	assert.Equal(t, StatusDeprecated, old.Status)
}

func TestModelEntry_ID(t *testing.T) {
	m := ModelEntry{Name: "linear", Version: 3}
	assert.Equal(t, "linear@3", m.ID())
}

func TestSnapshot_SortedModels(t *testing.T) {
	snap := Snapshot{Models: []ModelEntry{
		{Kind: KindLTR, Version: 2},
		{Kind: KindEmbedding, Version: 1},
		{Kind: KindLTR, Version: 1},
	}}
	sorted := snap.SortedModels()
	require.Len(t, sorted, 3)
	assert.Equal(t, KindEmbedding, sorted[0].Kind)
	assert.Equal(t, KindLTR, sorted[1].Kind)
	assert.Equal(t, 1, sorted[1].Version)
	assert.Equal(t, 2, sorted[2].Version)
}
