// Package ltr implements the learning-to-rank scorer: a pluggable Scorer
// interface over the v1 feature schema, with a linear default. Callers
// hold the interface, never a concrete type.
package ltr

import (
	"ragcore/internal/feature"
	"ragcore/internal/ragerr"
)

// Scorer scores a batch of feature records, in order.
type Scorer interface {
	Score(records []feature.Record) ([]float64, error)
}

// Linear is the default LTR model: score = sum(w_i * f_i) over the v1
// feature schema. The coefficient count must equal the schema's feature
// count; a mismatch is fatal (ModelSchemaError), never silently
// truncated or zero-padded.
type Linear struct {
	Coefficients []float64
}

// NewLinear validates the coefficient count against the active schema
// before returning a usable Scorer.
func NewLinear(coefficients []float64) (Linear, error) {
	if len(coefficients) != len(feature.Names) {
		return Linear{}, ragerr.New(ragerr.KindModelSchema, "ltr",
			"ltr model coefficient count does not match feature schema")
	}
	return Linear{Coefficients: append([]float64(nil), coefficients...)}, nil
}

func (l Linear) Score(records []feature.Record) ([]float64, error) {
	out := make([]float64, len(records))
	for i, r := range records {
		if len(r.Values) != len(l.Coefficients) {
			return nil, ragerr.New(ragerr.KindModelSchema, "ltr",
				"feature record length does not match ltr model coefficient count")
		}
		var s float64
		for j, v := range r.Values {
			s += l.Coefficients[j] * v
		}
		out[i] = s
	}
	return out, nil
}

// Pluggable wraps an arbitrary scoring function, letting the orchestrator
// swap in a different ranking model (or a test double) without depending
// on a concrete implementation type.
type Pluggable struct {
	Fn func(records []feature.Record) ([]float64, error)
}

func (p Pluggable) Score(records []feature.Record) ([]float64, error) {
	if p.Fn == nil {
		return make([]float64, len(records)), nil
	}
	return p.Fn(records)
}
