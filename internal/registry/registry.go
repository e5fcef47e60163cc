// Package registry owns the process-global, copy-on-write state the rest
// of the pipeline reads but never mutates in place: the active fusion
// weight set and the model table. Publication is atomic; a request that
// already loaded a Snapshot keeps seeing it even if a PUT lands
// mid-flight.
package registry

import (
	"sort"
	"strconv"
	"sync/atomic"

	"ragcore/internal/ragerr"
)

// WeightSet is the named, versioned mapping from score-component name to
// non-negative weight described in the data model. Required fusion keys:
// ltr, conceptual. Required conceptual sub-keys: distance, recency,
// metadata.
type WeightSet struct {
	Version    int
	LTR        float64
	Conceptual float64
	Distance   float64
	Recency    float64
	Metadata   float64
}

// Normalized returns the renormalized fusion pair (ltr, conceptual) that
// sum to 1, and the renormalized conceptual sub-weights (distance,
// recency, metadata) that also sum to 1. Readers call it on every use, so
// seeded weights that New accepted as given still yield sums of 1;
// PutWeights stores its result when publishing.
func (w WeightSet) Normalized() (fusion [2]float64, conceptual [3]float64) {
	fusionSum := w.LTR + w.Conceptual
	if fusionSum > 0 {
		fusion = [2]float64{w.LTR / fusionSum, w.Conceptual / fusionSum}
	} else {
		fusion = [2]float64{0.5, 0.5}
	}
	conceptualSum := w.Distance + w.Recency + w.Metadata
	if conceptualSum > 0 {
		conceptual = [3]float64{w.Distance / conceptualSum, w.Recency / conceptualSum, w.Metadata / conceptualSum}
	} else {
		conceptual = [3]float64{1.0 / 3, 1.0 / 3, 1.0 / 3}
	}
	return fusion, conceptual
}

// validate enforces the data model's invariant: weights are non-negative
// and the fusion pair and the conceptual triple must each have a positive
// sum. A zero-sum weight set is rejected at PUT time, never silently
// coerced.
func (w WeightSet) validate() error {
	for _, v := range []float64{w.LTR, w.Conceptual, w.Distance, w.Recency, w.Metadata} {
		if v < 0 {
			return ragerr.New(ragerr.KindInput, "weights", "weights must be non-negative")
		}
	}
	if w.LTR+w.Conceptual <= 0 {
		return ragerr.New(ragerr.KindInput, "weights", "fusion weights (ltr, conceptual) must sum to more than zero")
	}
	if w.Distance+w.Recency+w.Metadata <= 0 {
		return ragerr.New(ragerr.KindInput, "weights", "conceptual sub-weights (distance, recency, metadata) must sum to more than zero")
	}
	return nil
}

// ModelKind enumerates the three kinds of model entry tracked by the
// registry.
type ModelKind string

const (
	KindEmbedding  ModelKind = "embedding"
	KindLTR        ModelKind = "ltr"
	KindConceptual ModelKind = "conceptual"
)

// ModelStatus is the state-machine position of one ModelEntry:
// experimental -> active -> deprecated -> archived. Only active entries
// are selected for scoring; deprecated entries remain readable for audit.
type ModelStatus string

const (
	StatusExperimental ModelStatus = "experimental"
	StatusActive       ModelStatus = "active"
	StatusDeprecated   ModelStatus = "deprecated"
	StatusArchived     ModelStatus = "archived"
)

// ModelEntry names, versions, and locates one model artifact.
type ModelEntry struct {
	Name      string
	Kind      ModelKind
	Version   int
	Dimension int    // meaningful for Kind == KindEmbedding
	Artifact  string // opaque pointer: file path, coefficient blob id, etc.
	Status    ModelStatus
	// Coefficients is the linear LTR model's weight-per-feature vector,
	// in the same order as the active feature schema. Unused for other
	// kinds.
	Coefficients []float64
}

// ID returns the "name@version" identifier used in response payloads.
func (m ModelEntry) ID() string {
	return m.Name + "@" + strconv.Itoa(m.Version)
}

// Snapshot is the immutable (WeightSet, model table) pair a request reads
// once at the start of Query and holds for its entire duration, so
// scorers never reach back into the registry mid-request.
type Snapshot struct {
	Weights WeightSet
	Models  []ModelEntry
}

// ActiveModel returns the single active entry of the given kind, if any.
func (s Snapshot) ActiveModel(kind ModelKind) (ModelEntry, bool) {
	for _, m := range s.Models {
		if m.Kind == kind && m.Status == StatusActive {
			return m, true
		}
	}
	return ModelEntry{}, false
}

// Registry holds the process-wide published Snapshot behind an atomic
// pointer. Updates replace the pointer; they never mutate the Snapshot a
// concurrent reader already holds.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// New constructs a Registry seeded with the given initial weights and
// model table. The initial weights are validated and renormalized inputs
// are accepted as-is; Normalized() handles renormalization at read time.
func New(initial WeightSet, models []ModelEntry) (*Registry, error) {
	if err := initial.validate(); err != nil {
		return nil, err
	}
	r := &Registry{}
	snap := &Snapshot{Weights: initial, Models: append([]ModelEntry(nil), models...)}
	r.current.Store(snap)
	return r, nil
}

// Snapshot returns the currently published Snapshot. Safe to call
// concurrently; the returned value is immutable.
func (r *Registry) Snapshot() Snapshot {
	return *r.current.Load()
}

// PutWeights validates and renormalizes candidate, then atomically
// publishes it with a strictly greater version. A failed PUT leaves the
// active weights unchanged. Returns the new version.
func (r *Registry) PutWeights(candidate WeightSet) (int, error) {
	if err := candidate.validate(); err != nil {
		return 0, err
	}
	fusion, conceptual := candidate.Normalized()
	candidate.LTR, candidate.Conceptual = fusion[0], fusion[1]
	candidate.Distance, candidate.Recency, candidate.Metadata = conceptual[0], conceptual[1], conceptual[2]
	for {
		old := r.current.Load()
		next := candidate
		next.Version = old.Weights.Version + 1
		newSnap := &Snapshot{Weights: next, Models: old.Models}
		if r.current.CompareAndSwap(old, newSnap) {
			return next.Version, nil
		}
	}
}

// PublishModel registers entry as the new active model of its kind,
// atomically demoting the previous active entry (if any) of the same
// kind to deprecated. Other entries, including prior deprecations, are
// carried forward untouched.
func (r *Registry) PublishModel(entry ModelEntry) {
	entry.Status = StatusActive
	for {
		old := r.current.Load()
		models := make([]ModelEntry, 0, len(old.Models)+1)
		for _, m := range old.Models {
			if m.Kind == entry.Kind && m.Status == StatusActive {
				m.Status = StatusDeprecated
			}
			models = append(models, m)
		}
		models = append(models, entry)
		newSnap := &Snapshot{Weights: old.Weights, Models: models}
		if r.current.CompareAndSwap(old, newSnap) {
			return
		}
	}
}

// SortedModels returns a stable-ordered copy of the model table for
// introspection, sorted by (kind, version) so snapshots print
// deterministically in tests and logs.
func (s Snapshot) SortedModels() []ModelEntry {
	out := append([]ModelEntry(nil), s.Models...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Version < out[j].Version
	})
	return out
}
