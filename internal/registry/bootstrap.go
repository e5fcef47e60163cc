package registry

import "ragcore/internal/config"

// SeedWeights builds the initial WeightSet from the process configuration
// (RAG_FUSION_LTR_WEIGHT, RAG_FUSION_CONCEPTUAL_WEIGHT,
// RAG_WEIGHT_DISTANCE, RAG_WEIGHT_RECENCY, RAG_WEIGHT_METADATA), version 1.
func SeedWeights(cfg config.WeightsConfig) WeightSet {
	return WeightSet{
		Version:    1,
		LTR:        cfg.LTR,
		Conceptual: cfg.Conceptual,
		Distance:   cfg.Distance,
		Recency:    cfg.Recency,
		Metadata:   cfg.Metadata,
	}
}
