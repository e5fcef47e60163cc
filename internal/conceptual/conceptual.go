// Package conceptual implements the pure, deterministic distance +
// recency + metadata blend. It performs no I/O and never blocks, so
// the pipeline orchestrator can run it on the same goroutine as fusion or
// fan it out alongside the LTR scorer -- either way, its output for a
// given input is bit-identical.
package conceptual

import (
	"math"
	"strconv"
	"strings"
	"time"

	"ragcore/internal/chunk"
	"ragcore/internal/feature"
)

// Weights is the renormalized conceptual sub-weight triple
// (distance, recency, metadata), already summing to 1.
type Weights struct {
	Distance float64
	Recency  float64
	Metadata float64
}

// Score computes the conceptual score for each candidate, in order.
// candidates and records must be the same length and index-aligned
// (records come from feature.Assemble over the same candidate slice).
// queryKeywords are whitespace-tokenized, lowercased query terms used for
// the metadata tag overlap component.
func Score(candidates []chunk.Candidate, records []feature.Record, queryKeywords []string, now time.Time, w Weights) []float64 {
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		sim := records[i].Similarity()
		recency := recencyComponent(c.Metadata, now)
		metadata := metadataComponent(c.Metadata, queryKeywords)
		out[i] = w.Distance*sim + w.Recency*recency + w.Metadata*metadata
	}
	return out
}

// ExtractKeywords whitespace-tokenizes and lowercases query text into the
// keyword set used by metadataComponent.
func ExtractKeywords(query string) []string {
	fields := strings.Fields(query)
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = strings.ToLower(f)
	}
	return out
}

// recencyComponent scores exp(-age_days/30) clamped to [0,1]; a missing
// or unparseable recency_ts contributes 0.
func recencyComponent(metadata map[string]string, now time.Time) float64 {
	raw, ok := metadata["recency_ts"]
	if !ok || raw == "" {
		return 0
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	ts := time.Unix(sec, 0)
	ageDays := now.Sub(ts).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	score := math.Exp(-ageDays / 30)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// metadataComponent sums +0.1 per matching tag between the query keyword
// set and the candidate's topic_tags, capped at 1.0. Missing tags
// contribute 0.
func metadataComponent(metadata map[string]string, queryKeywords []string) float64 {
	raw, ok := metadata["topic_tags"]
	if !ok || raw == "" {
		return 0
	}
	tagSet := make(map[string]struct{})
	for _, t := range strings.Split(raw, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			tagSet[t] = struct{}{}
		}
	}
	matches := 0
	for _, kw := range queryKeywords {
		if _, ok := tagSet[kw]; ok {
			matches++
		}
	}
	score := 0.1 * float64(matches)
	if score > 1.0 {
		return 1.0
	}
	return score
}
