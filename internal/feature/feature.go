// Package feature assembles the schema-v1 feature vector for each
// retrieval candidate: similarity_primary, log_length, bias. The
// query-independent fields (log_length, bias) are cacheable under the
// feat:* namespace so a recurring candidate skips recomputing them;
// similarity_primary is recomputed on every call.
package feature

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"ragcore/internal/cache"
	"ragcore/internal/chunk"
)

// SchemaVersion is the active feature schema version. Extensions append
// fields and bump this constant; existing field order and meaning never
// change.
const SchemaVersion = 1

// Names is the ordered field list for SchemaVersion, in the order values
// appear in Record.Values.
var Names = []string{"similarity_primary", "log_length", "bias"}

// Record is one candidate's feature vector, matching the active schema
// version. Values is ordered identically to Names.
type Record struct {
	CandidateID string
	Values      []float64
}

// Similarity returns similarity_primary, Names[0].
func (r Record) Similarity() float64 { return r.Values[0] }

// Assemble computes schema-v1 feature records for candidates, preserving
// candidate order. Feature assembly has no concept of the query text
// beyond what distances and token counts already encode.
func Assemble(candidates []chunk.Candidate) []Record {
	scale := distanceScale(candidates)
	out := make([]Record, len(candidates))
	for i, c := range candidates {
		out[i] = assembleOne(c, scale)
	}
	return out
}

// AssembleCached is Assemble with the feat:* cache lookup/populate wired
// in, keyed by candidate id and the active schema version. Only the
// query-independent fields (log_length, bias) are cached:
// similarity_primary depends on this request's query vector and this
// batch's distance scale, so it is recomputed on every call -- a hit for
// a candidate that recurs under a different query must not replay the
// first query's similarity. A nil store degrades to a plain Assemble.
// distance_scale is always derived from the full batch up front (a cache
// hit for one candidate must not change what a miss for another candidate
// in the same batch computes), exactly as Assemble does.
func AssembleCached(ctx context.Context, candidates []chunk.Candidate, store cache.Store, ttl time.Duration) []Record {
	if store == nil {
		return Assemble(candidates)
	}
	scale := distanceScale(candidates)
	out := make([]Record, len(candidates))
	for i, c := range candidates {
		key := featureKey(c.ID)
		if entry, ok := store.Get(ctx, key); ok {
			if static, ok := decodeStaticValues(entry.Payload); ok {
				out[i] = Record{CandidateID: c.ID, Values: append([]float64{similarity(c, scale)}, static...)}
				continue
			}
		}
		rec := assembleOne(c, scale)
		out[i] = rec
		if payload, err := json.Marshal(rec.Values[1:]); err == nil {
			_ = store.Set(ctx, key, cache.Entry{Payload: payload, TTL: ttl, VersionTag: schemaVersionTag})
		}
	}
	return out
}

var schemaVersionTag = strconv.Itoa(SchemaVersion)

func featureKey(candidateID string) string {
	return cache.Key(cache.NamespaceFeature, candidateID, schemaVersionTag)
}

// decodeStaticValues decodes the cached query-independent tail of a
// record's values (everything after similarity_primary).
func decodeStaticValues(payload []byte) ([]float64, bool) {
	var values []float64
	if err := json.Unmarshal(payload, &values); err != nil || len(values) != len(Names)-1 {
		return nil, false
	}
	return values, true
}

func assembleOne(c chunk.Candidate, scale float64) Record {
	return Record{
		CandidateID: c.ID,
		Values: []float64{
			similarity(c, scale),
			math.Log(float64(tokenCount(c)) + 1),
			1.0,
		},
	}
}

func similarity(c chunk.Candidate, scale float64) float64 {
	sim := 1 - c.Distance/scale
	if sim < 0 {
		sim = 0
	}
	return sim
}

// distanceScale is the 95th percentile of the batch's distances, falling
// back to the max distance when fewer than 5 candidates are present. An
// empty batch, or a scale that comes out non-positive, uses 1.0.
func distanceScale(candidates []chunk.Candidate) float64 {
	if len(candidates) == 0 {
		return 1.0
	}
	if len(candidates) < 5 {
		max := 0.0
		for _, c := range candidates {
			if c.Distance > max {
				max = c.Distance
			}
		}
		if max <= 0 {
			return 1.0
		}
		return max
	}
	dists := make([]float64, len(candidates))
	for i, c := range candidates {
		dists[i] = c.Distance
	}
	sort.Float64s(dists)
	idx := int(math.Ceil(0.95*float64(len(dists)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(dists) {
		idx = len(dists) - 1
	}
	scale := dists[idx]
	if scale <= 0 {
		return 1.0
	}
	return scale
}

// tokenCount returns the candidate's token count, substituting the
// whitespace word count of its text when the token count is absent.
func tokenCount(c chunk.Candidate) int {
	if c.TokenCount > 0 {
		return c.TokenCount
	}
	return len(strings.Fields(c.Text))
}
