// Package httpapi exposes the retrieval core over HTTP: the query
// endpoint, the weights control plane, and the health/introspection
// endpoints. One ServeMux, method+path patterns.
package httpapi

import (
	"net/http"

	"ragcore/internal/health"
	"ragcore/internal/pipeline"
	"ragcore/internal/registry"
)

// Server is the inbound HTTP surface for the retrieval core.
type Server struct {
	pipeline *pipeline.Pipeline
	registry *registry.Registry
	health   *health.Reporter
	mux      *http.ServeMux
}

// NewServer wires a Server to its collaborators and registers routes.
func NewServer(p *pipeline.Pipeline, reg *registry.Registry, h *health.Reporter) *Server {
	s := &Server{pipeline: p, registry: reg, health: h, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/v1/query", s.handleQuery)
	s.mux.HandleFunc("GET /api/v1/weights", s.handleGetWeights)
	s.mux.HandleFunc("PUT /api/v1/weights", s.handlePutWeights)
	s.mux.HandleFunc("GET /api/v1/introspect", s.handleIntrospect)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
}
