package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/cache"
	"ragcore/internal/registry"
)

func TestSnapshot_ReportsModelsAndVersion(t *testing.T) {
	reg, err := registry.New(registry.WeightSet{LTR: 0.5, Conceptual: 0.5, Distance: 1, Recency: 0, Metadata: 0}, []registry.ModelEntry{
		{Name: "linear-v1", Kind: registry.KindLTR, Version: 1, Status: registry.StatusActive, Coefficients: []float64{1, 0, 0}},
	})
	require.NoError(t, err)
	c := cache.NewMemoryStore()
	r := New(reg, c, nil, time.Now().Add(-time.Minute))

	snap := r.Snapshot(context.Background())
	assert.Equal(t, "linear-v1@1", snap.Models["ltr"])
	assert.Equal(t, 0, snap.WeightsVersion)
	assert.True(t, snap.CacheAvailable)
	assert.Greater(t, snap.UptimeS, 0.0)
	assert.Nil(t, snap.Stages)
}

func TestSnapshot_NilCacheIsUnavailable(t *testing.T) {
	reg, err := registry.New(registry.WeightSet{LTR: 0.5, Conceptual: 0.5, Distance: 1, Recency: 0, Metadata: 0}, nil)
	require.NoError(t, err)
	r := New(reg, nil, nil, time.Now())

	snap := r.Snapshot(context.Background())
	assert.False(t, snap.CacheAvailable)
}

func TestSnapshot_ReflectsWeightVersionAfterPut(t *testing.T) {
	reg, err := registry.New(registry.WeightSet{LTR: 0.5, Conceptual: 0.5, Distance: 1, Recency: 0, Metadata: 0}, nil)
	require.NoError(t, err)
	c := cache.NewMemoryStore()
	r := New(reg, c, nil, time.Now())

	_, err = reg.PutWeights(registry.WeightSet{LTR: 0.8, Conceptual: 0.2, Distance: 1, Recency: 0, Metadata: 0})
	require.NoError(t, err)

	snap := r.Snapshot(context.Background())
	assert.Equal(t, 1, snap.WeightsVersion)
}
