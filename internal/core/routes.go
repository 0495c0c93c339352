package core

import (
	"time"

	"github.com/go-chi/chi/v5"
)

// defaultRequestTimeout is the soft deadline applied to request contexts.
// The trigger endpoint runs synchronously when the budget allows, so this
// must exceed the scheduler run budget with headroom; the hosted
// deployment sets the Lambda timeout above this.
const defaultRequestTimeout = 12 * time.Minute

// defaultRedactedHeaders lists header names whose values are masked in
// request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
}

// MountRoutes registers the global middleware chain and all endpoints.
//
// Ordering rationale:
//  1. Recoverer       - outermost, catches all panics
//  2. ContextTimeout  - soft deadline before the platform hard timeout
//  3. RequestID       - correlation ID for tracing
//  4. SecurityHeaders - present on every response, including errors
//  5. RequestLogger   - structured logging with redacted headers
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))

	s.router.Route("/v1", s.mountV1)

	s.router.Get("/health", s.HandleHealth)
	if s.MetricsHandler != nil {
		s.router.Method("GET", "/metrics", s.MetricsHandler)
	}
}

// mountV1 registers the v1 endpoints. The run trigger requires the shared
// token; tracking endpoints are public because they are hit by recipients'
// email clients.
func (s *Server) mountV1(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(s.TriggerAuthMiddleware)
		r.Post("/digests/run", s.HandleRunDigest)
	})

	r.Get("/track/open/{ledgerID}", s.HandleTrackOpen)
	r.Get("/track/click/{ledgerID}", s.HandleTrackClick)
}
