package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_Shape(t *testing.T) {
	assert.Equal(t, "query:abc:v1", Key(NamespaceQuery, "abc", "v1"))
}

func TestHash_StableAndTruncated(t *testing.T) {
	h1 := Hash("hello world")
	h2 := Hash("hello world")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 32) // 128 bits hex-encoded
}

func TestMemoryStore_SetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	err := s.Set(ctx, "k", Entry{Payload: []byte("v"), TTL: time.Minute})
	require.NoError(t, err)
	e, ok := s.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), e.Payload)
}

func TestMemoryStore_MissIsNotError(t *testing.T) {
	s := NewMemoryStore()
	_, ok := s.Get(context.Background(), "missing")
	assert.False(t, ok)
}

func TestMemoryStore_ExpiredEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }
	_ = s.Set(ctx, "k", Entry{Payload: []byte("v"), TTL: time.Second})
	s.now = func() time.Time { return now.Add(2 * time.Second) }
	_, ok := s.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryStore_Flush_OnlyRemovesNamespace(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Set(ctx, Key(NamespaceQuery, "a", "v1"), Entry{Payload: []byte("1")})
	_ = s.Set(ctx, Key(NamespaceFeature, "b", "1"), Entry{Payload: []byte("2")})

	require.NoError(t, s.Flush(ctx, NamespaceQuery))

	_, ok := s.Get(ctx, Key(NamespaceQuery, "a", "v1"))
	assert.False(t, ok)
	_, ok = s.Get(ctx, Key(NamespaceFeature, "b", "1"))
	assert.True(t, ok)
}

func TestTieredStore_LocalHitSkipsRemote(t *testing.T) {
	ctx := context.Background()
	local := NewMemoryStore()
	remote := NewMemoryStore()
	_ = local.Set(ctx, "k", Entry{Payload: []byte("local")})
	_ = remote.Set(ctx, "k", Entry{Payload: []byte("remote")})

	ts := NewTieredStore(local, remote)
	e, ok := ts.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("local"), e.Payload)
}

func TestTieredStore_RemoteHitPopulatesLocal(t *testing.T) {
	ctx := context.Background()
	local := NewMemoryStore()
	remote := NewMemoryStore()
	_ = remote.Set(ctx, "k", Entry{Payload: []byte("remote")})

	ts := NewTieredStore(local, remote)
	e, ok := ts.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("remote"), e.Payload)

	// Now present locally without touching remote.
	localHit, ok := local.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("remote"), localHit.Payload)
}

func TestTieredStore_NilRemoteDegradesGracefully(t *testing.T) {
	ctx := context.Background()
	ts := NewTieredStore(NewMemoryStore(), nil)
	require.NoError(t, ts.Set(ctx, "k", Entry{Payload: []byte("v")}))
	e, ok := ts.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), e.Payload)
}

func TestEncodeDecodeVector_RoundTrip(t *testing.T) {
	v := []float32{0.1, -0.2, 3.5, 0}
	buf := EncodeVector(v)
	got, ok := DecodeVector(buf)
	require.True(t, ok)
	assert.Equal(t, v, got)
}

func TestDecodeVector_RejectsBadLength(t *testing.T) {
	_, ok := DecodeVector([]byte{1, 2, 3})
	assert.False(t, ok)
}

func TestEncodeDecodeEntry_RoundTrip(t *testing.T) {
	e := Entry{Payload: []byte("hello"), CreatedAt: time.Unix(1000, 0), TTL: 5 * time.Second, VersionTag: "v7"}
	buf := encodeEntry(e)
	got, ok := decodeEntry(buf)
	require.True(t, ok)
	assert.Equal(t, e.Payload, got.Payload)
	assert.Equal(t, e.VersionTag, got.VersionTag)
	assert.Equal(t, e.TTL, got.TTL)
	assert.True(t, e.CreatedAt.Equal(got.CreatedAt))
}
