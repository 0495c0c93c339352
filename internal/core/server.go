// Package core provides the HTTP chassis for the dailybrief service. It
// creates a chi router compatible with both standard HTTP (for the
// self-hosted runner) and AWS Lambda Proxy Integration. It enforces
// cross-cutting concerns -- panic recovery, request correlation, logging,
// and error handling -- before requests reach the digest handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dailybrief/internal/config"
	"dailybrief/internal/types"
)

// Runner executes one digest run. Implemented by scheduler.Orchestrator.
type Runner interface {
	Run(ctx context.Context, req types.RunRequest) (*types.RunResult, error)
}

// EngagementLedger records open and click events against ledger entries.
// Implemented by db.LedgerRepository.
type EngagementLedger interface {
	MarkOpened(ctx context.Context, ledgerID string, at time.Time) error
	MarkClicked(ctx context.Context, ledgerID string, at time.Time) error
}

// Server encapsulates the HTTP dependencies, allowing injection during
// testing and distinct wiring for the hosted and self-hosted entry points.
type Server struct {
	Config *config.Config
	Logger *slog.Logger
	Runner Runner
	Ledger EngagementLedger

	// MetricsHandler, when non-nil, is mounted at GET /metrics for
	// Prometheus scraping. Hosted deployments leave it nil and rely on
	// CloudWatch.
	MetricsHandler http.Handler

	// HealthProbes are checked concurrently by GET /health.
	HealthProbes []HealthProbe

	router *chi.Mux
}

// NewServer validates critical dependencies and prepares the router. The
// caller mounts routes via MountRoutes after construction; the separation
// lets tests customize registration.
func NewServer(cfg *config.Config, runner Runner, ledger EngagementLedger, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner must not be nil")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Logger: logger,
		Runner: runner,
		Ledger: ledger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router. Used by
// http.ListenAndServe (self-hosted) and the Lambda adapter (hosted).
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}
