package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"ragcore/internal/pipeline"
	"ragcore/internal/ragerr"
	"ragcore/internal/registry"
)

type queryRequest struct {
	Query                 string                   `json:"query"`
	TopK                  int                      `json:"top_k"`
	Tenant                string                   `json:"tenant"`
	BypassCache           bool                     `json:"bypass_cache"`
	FusionWeightsOverride *fusionWeightsOverrideDTO `json:"fusion_weights_override"`
}

type fusionWeightsOverrideDTO struct {
	LTR        float64 `json:"ltr"`
	Conceptual float64 `json:"conceptual"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body queryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, ragerr.New(ragerr.KindInput, "decode", "malformed request body"), "", "")
		return
	}
	req := pipeline.Request{
		Query:       body.Query,
		TopK:        body.TopK,
		Tenant:      body.Tenant,
		BypassCache: body.BypassCache,
	}
	if body.FusionWeightsOverride != nil {
		req.FusionWeightsOverride = &pipeline.FusionOverride{
			LTR:        body.FusionWeightsOverride.LTR,
			Conceptual: body.FusionWeightsOverride.Conceptual,
		}
	}

	resp, err := s.pipeline.Query(r.Context(), req)
	if err != nil {
		respondStageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

type weightsDTO struct {
	LTR        float64 `json:"ltr"`
	Conceptual float64 `json:"conceptual"`
	Distance   float64 `json:"distance"`
	Recency    float64 `json:"recency"`
	Metadata   float64 `json:"metadata"`
	Version    int     `json:"version"`
}

func (s *Server) handleGetWeights(w http.ResponseWriter, r *http.Request) {
	snap := s.registry.Snapshot()
	respondJSON(w, http.StatusOK, weightsDTO{
		LTR:        snap.Weights.LTR,
		Conceptual: snap.Weights.Conceptual,
		Distance:   snap.Weights.Distance,
		Recency:    snap.Weights.Recency,
		Metadata:   snap.Weights.Metadata,
		Version:    snap.Weights.Version,
	})
}

func (s *Server) handlePutWeights(w http.ResponseWriter, r *http.Request) {
	var body weightsDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, ragerr.New(ragerr.KindInput, "decode", "malformed request body"), "", "")
		return
	}
	candidate := registry.WeightSet{
		LTR:        body.LTR,
		Conceptual: body.Conceptual,
		Distance:   body.Distance,
		Recency:    body.Recency,
		Metadata:   body.Metadata,
	}
	version, err := s.registry.PutWeights(candidate)
	if err != nil {
		respondStageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"version": version})
}

func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.health.Snapshot(r.Context()))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// errorEnvelope is the structured failure envelope every stage error is
// mapped onto: {error_kind, message, stage, request_id}.
type errorEnvelope struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
	Stage     string `json:"stage,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func respondError(w http.ResponseWriter, status int, err error, stage, requestID string) {
	env := errorEnvelope{ErrorKind: string(ragerr.KindInput), Message: err.Error(), Stage: stage, RequestID: requestID}
	if kind, ok := ragerr.Of(err); ok {
		env.ErrorKind = string(kind)
	}
	respondJSON(w, status, env)
}

// respondStageError maps a stage error's Kind to an HTTP status:
// input -> 400, config/model-schema -> 500, embed/retrieval -> 502,
// timeout -> 504, overload -> 503. Cache errors never reach here -- the
// cache layer treats them as misses.
func respondStageError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	stage := ""
	requestID := ""
	kind, ok := ragerr.Of(err)
	if ok {
		switch kind {
		case ragerr.KindInput:
			status = http.StatusBadRequest
		case ragerr.KindConfig, ragerr.KindModelSchema:
			status = http.StatusInternalServerError
		case ragerr.KindEmbed, ragerr.KindRetrieval:
			status = http.StatusBadGateway
		case ragerr.KindTimeout:
			status = http.StatusGatewayTimeout
		case ragerr.KindOverload:
			status = http.StatusServiceUnavailable
		}
	}
	var re *ragerr.Error
	if errors.As(err, &re) {
		stage = re.Stage
	}
	var qe *pipeline.QueryError
	if errors.As(err, &qe) {
		requestID = qe.RequestID
	}
	respondError(w, status, err, stage, requestID)
}
