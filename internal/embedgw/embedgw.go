// Package embedgw implements the embedding gateway: batch text to
// fixed-dimension vectors via an external HTTP service, with dimension
// validation and an optional degrade-to-zero-vector fallback. The wire
// contract is a JSON POST of {"inputs":...} answered by
// {"embeddings":..., "dim":...}.
package embedgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"ragcore/internal/cache"
	"ragcore/internal/ragerr"
)

// Gateway is the capability pipeline stages depend on. Embed preserves
// input order and returns vectors of Dimension(), or a degraded all-zero
// vector per text when fallback is enabled and the call failed.
type Gateway interface {
	Embed(ctx context.Context, texts []string) (vectors [][]float32, degraded bool, err error)
	Dimension() int
	ModelVersion() string
}

type request struct {
	Inputs []string `json:"inputs"`
}

type response struct {
	Embeddings [][]float32 `json:"embeddings"`
	Dim        int         `json:"dim"`
}

// HTTPGateway calls an external embedding service over HTTP.
type HTTPGateway struct {
	Endpoint      string
	Dim           int
	AllowFallback bool
	Timeout       time.Duration
	Client        *http.Client
	Version       string
	CacheTTL      time.Duration

	sem *semaphore.Weighted
	c   cache.Store
}

// Config bundles HTTPGateway's construction parameters.
type Config struct {
	Endpoint      string
	Dim           int
	AllowFallback bool
	TimeoutMS     int
	MaxInFlight   int
	ModelVersion  string
	CacheTTLS     int
}

// New constructs an HTTPGateway bounded to cfg.MaxInFlight concurrent
// calls and backed by c for single-text embed caching under the embed:*
// namespace. c may be nil to disable caching.
func New(cfg Config, c cache.Store) *HTTPGateway {
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 16
	}
	version := cfg.ModelVersion
	if version == "" {
		version = "default"
	}
	ttl := time.Duration(cfg.CacheTTLS) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &HTTPGateway{
		Endpoint:      cfg.Endpoint,
		Dim:           cfg.Dim,
		AllowFallback: cfg.AllowFallback,
		Timeout:       time.Duration(cfg.TimeoutMS) * time.Millisecond,
		Client:        http.DefaultClient,
		Version:       version,
		CacheTTL:      ttl,
		sem:           semaphore.NewWeighted(int64(maxInFlight)),
		c:             c,
	}
}

func (g *HTTPGateway) Dimension() int      { return g.Dim }
func (g *HTTPGateway) ModelVersion() string { return g.Version }

// Embed embeds a batch of texts. Each text must be non-empty and at most
// 8 KB; violating that is an input error, not a gateway failure.
// Single-text calls consult the cache first and populate it on a
// successful live call.
func (g *HTTPGateway) Embed(ctx context.Context, texts []string) ([][]float32, bool, error) {
	for _, t := range texts {
		if len(t) == 0 {
			return nil, false, ragerr.New(ragerr.KindInput, "embed", "embedding input text must not be empty")
		}
		if len(t) > 8*1024 {
			return nil, false, ragerr.New(ragerr.KindInput, "embed", "embedding input text exceeds 8 KiB")
		}
	}

	if len(texts) == 1 && g.c != nil {
		key := cache.Key(cache.NamespaceEmbed, cache.Hash(texts[0]), g.Version)
		if entry, ok := g.c.Get(ctx, key); ok {
			if v, ok := cache.DecodeVector(entry.Payload); ok {
				return [][]float32{v}, false, nil
			}
		}
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, false, ragerr.New(ragerr.KindOverload, "embed", "embedding gateway at capacity")
	}
	defer g.sem.Release(1)

	vectors, err := g.call(ctx, texts)
	if err != nil {
		if g.AllowFallback {
			out := make([][]float32, len(texts))
			for i := range out {
				out[i] = make([]float32, g.Dim)
			}
			return out, true, nil
		}
		return nil, false, ragerr.Wrap(ragerr.KindEmbed, "embed", err)
	}

	for _, v := range vectors {
		if len(v) != g.Dim {
			return nil, false, ragerr.New(ragerr.KindConfig, "embed",
				fmt.Sprintf("embedding dimension mismatch: got %d, want %d", len(v), g.Dim))
		}
	}

	if len(texts) == 1 && g.c != nil {
		key := cache.Key(cache.NamespaceEmbed, cache.Hash(texts[0]), g.Version)
		_ = g.c.Set(ctx, key, cache.Entry{Payload: cache.EncodeVector(vectors[0]), TTL: g.CacheTTL, VersionTag: g.Version})
	}

	return vectors, false, nil
}

func (g *HTTPGateway) call(ctx context.Context, texts []string) ([][]float32, error) {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(request{Inputs: texts})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, g.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding gateway: %s: %s", resp.Status, string(b))
	}
	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(out.Embeddings), len(texts))
	}
	return out.Embeddings, nil
}
