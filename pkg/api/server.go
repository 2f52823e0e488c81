package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/veridata/fieldgate/pkg/audit"
	"github.com/veridata/fieldgate/pkg/engine"
	"github.com/veridata/fieldgate/pkg/observability"
)

// Server represents the API server
type Server struct {
	engine  *engine.Engine
	router  *mux.Router
	logger  *observability.Logger
	metrics *observability.Metrics
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithLogger sets the structured logger
func WithLogger(logger *observability.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = metrics }
}

// NewServer creates the API server over the engine. A non-nil searcher wires
// the read-only audit query routes, guarded by the engine's policy table.
func NewServer(eng *engine.Engine, searcher audit.Searcher, opts ...ServerOption) *Server {
	s := &Server{
		engine: eng,
		router: mux.NewRouter(),
		logger: observability.NewLogger(observability.InfoLevel, nil),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes(searcher)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(searcher audit.Searcher) {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	if searcher != nil {
		auditHandlers := audit.NewHandlers(searcher, s.authorizeAuditRead)
		auditHandlers.RegisterRoutes(api)
	}

	// Generic resource routes. The policy table decides which resource types
	// exist; unknown types 404 inside the engine.
	api.HandleFunc("/{resourceType}", s.createResource).Methods("POST")
	api.HandleFunc("/{resourceType}", s.listResources).Methods("GET")
	api.HandleFunc("/{resourceType}/{id}", s.getResource).Methods("GET")
	api.HandleFunc("/{resourceType}/{id}", s.updateResource).Methods("PUT", "PATCH")
	api.HandleFunc("/{resourceType}/{id}", s.deleteResource).Methods("DELETE")
	api.HandleFunc("/{resourceType}/{id}/erase", s.eraseResource).Methods("POST")

	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
}

// authorizeAuditRead gates the audit query surface on the policy table
func (s *Server) authorizeAuditRead(r *http.Request) error {
	a, err := actorFromRequest(r)
	if err != nil {
		return err
	}
	return s.engine.AuthorizeAuditRead(a)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
