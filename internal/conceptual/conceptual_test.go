package conceptual

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ragcore/internal/chunk"
	"ragcore/internal/feature"
)

func TestScore_HappyPath(t *testing.T) {
	candidates := []chunk.Candidate{
		{ID: "a", Distance: 0.1},
		{ID: "b", Distance: 0.2},
		{ID: "c", Distance: 0.3},
	}
	records := feature.Assemble(candidates)
	w := Weights{Distance: 0.7, Recency: 0.2, Metadata: 0.1}
	scores := Score(candidates, records, nil, time.Now(), w)

	assert.InDelta(t, 0.7*(1.0-0.1/0.3), scores[0], 1e-9)
	assert.InDelta(t, 0.7*(1.0-0.2/0.3), scores[1], 1e-9)
	assert.InDelta(t, 0.7*0.0, scores[2], 1e-9)
}

func TestRecencyComponent_MissingTimestampContributesZero(t *testing.T) {
	score := recencyComponent(nil, time.Now())
	assert.Equal(t, 0.0, score)
}

func TestRecencyComponent_HalfLifeDecay(t *testing.T) {
	now := time.Unix(1000000000, 0)
	md := map[string]string{"recency_ts": "997408000"} // exactly 30 days (2,592,000 s) before now
	score := recencyComponent(md, now)
	assert.Greater(t, score, 0.0)
	assert.Less(t, score, 1.0)
}

func TestRecencyComponent_FutureTimestampClampsToOne(t *testing.T) {
	now := time.Unix(1000000000, 0)
	md := map[string]string{"recency_ts": "1000001000"} // in the future relative to now
	score := recencyComponent(md, now)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestMetadataComponent_NoTagsContributesZero(t *testing.T) {
	score := metadataComponent(nil, []string{"go", "rag"})
	assert.Equal(t, 0.0, score)
}

func TestMetadataComponent_CapsAtOne(t *testing.T) {
	md := map[string]string{"topic_tags": "a,b,c,d,e,f,g,h,i,j,k"}
	kw := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"}
	score := metadataComponent(md, kw)
	assert.Equal(t, 1.0, score)
}

func TestMetadataComponent_PartialMatch(t *testing.T) {
	md := map[string]string{"topic_tags": "go, web"}
	score := metadataComponent(md, []string{"go", "rust"})
	assert.InDelta(t, 0.1, score, 1e-9)
}

func TestExtractKeywords_LowercasesAndSplits(t *testing.T) {
	kws := ExtractKeywords("Hybrid RAG Systems")
	assert.Equal(t, []string{"hybrid", "rag", "systems"}, kws)
}

func TestScore_Deterministic(t *testing.T) {
	candidates := []chunk.Candidate{{ID: "a", Distance: 0.2, Metadata: map[string]string{"recency_ts": "1000000000", "topic_tags": "go"}}}
	records := feature.Assemble(candidates)
	w := Weights{Distance: 0.5, Recency: 0.3, Metadata: 0.2}
	now := time.Unix(1000100000, 0)
	a := Score(candidates, records, []string{"go"}, now, w)
	b := Score(candidates, records, []string{"go"}, now, w)
	assert.Equal(t, a, b)
}
