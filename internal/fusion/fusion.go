// Package fusion normalizes the LTR and conceptual score streams and mixes
// them under versioned weights. Ranking is fully deterministic: a
// multi-level comparator breaks fused-score ties on similarity, then on
// candidate id.
package fusion

import "sort"

// ScoreComponents is the raw/normalized breakdown attached to one fused
// candidate, surfaced as the response's "components" object.
type ScoreComponents struct {
	RawLTR            float64
	RawConceptual     float64
	NormalizedLTR     float64
	NormalizedConceptual float64
	WeightLTR         float64
	WeightConceptual  float64
	WeightVersion     int
}

// Scored is one candidate after fusion.
type Scored struct {
	CandidateID  string
	Similarity   float64 // similarity_primary, used as a fusion tie-break
	Fused        float64
	Components   ScoreComponents
}

// Weights is the renormalized fusion pair (w_ltr, w_conceptual) summing to
// 1, plus the weight-set version being applied.
type Weights struct {
	LTR        float64
	Conceptual float64
	Version    int
}

// Fuse normalizes ltrScores and conceptualScores independently via
// min-max, combines them under w, and returns candidates sorted by
// descending fused score (ties broken by descending similarity, then
// lexicographically by candidate id). ids, ltrScores, conceptualScores,
// and similarities must be the same length and index-aligned.
func Fuse(ids []string, ltrScores, conceptualScores, similarities []float64, w Weights) []Scored {
	n := len(ids)
	if n == 0 {
		return nil
	}
	ltrNorm := minMaxNormalize(ltrScores)
	conceptualNorm := minMaxNormalize(conceptualScores)

	out := make([]Scored, n)
	for i := range ids {
		fused := w.LTR*ltrNorm[i] + w.Conceptual*conceptualNorm[i]
		out[i] = Scored{
			CandidateID: ids[i],
			Similarity:  similarities[i],
			Fused:       fused,
			Components: ScoreComponents{
				RawLTR:               ltrScores[i],
				RawConceptual:        conceptualScores[i],
				NormalizedLTR:        ltrNorm[i],
				NormalizedConceptual: conceptualNorm[i],
				WeightLTR:            w.LTR,
				WeightConceptual:     w.Conceptual,
				WeightVersion:        w.Version,
			},
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Fused != out[j].Fused {
			return out[i].Fused > out[j].Fused
		}
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].CandidateID < out[j].CandidateID
	})
	return out
}

// minMaxNormalize maps values into [0,1]; a zero-range stream (including
// the empty and single-element cases) maps every value to the neutral
// 0.5.
func minMaxNormalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	rng := max - min
	if rng == 0 {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	for i, v := range values {
		out[i] = (v - min) / rng
	}
	return out
}

// Truncate caps results to the first k entries (k <= 0 means no cap).
func Truncate(scored []Scored, k int) []Scored {
	if k > 0 && len(scored) > k {
		return scored[:k]
	}
	return scored
}
