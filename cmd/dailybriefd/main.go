// Package main is the entry point for dailybriefd, the self-hosted
// all-in-one runner. It replaces the EventBridge/SQS/Lambda deployment
// with in-process cron schedules: hourly digest runs for every enabled
// digest type and a nightly retention sweep, alongside the same HTTP
// chassis the hosted API serves (trigger endpoint, tracking endpoints,
// health) plus a Prometheus /metrics endpoint.
//
// Concurrency safety does not depend on single-process deployment: the
// run lock lives in PostgreSQL, so several dailybriefd instances can
// share one database and exactly one wins each hourly run.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"dailybrief/internal/config"
	"dailybrief/internal/content"
	"dailybrief/internal/core"
	"dailybrief/internal/db"
	"dailybrief/internal/external"
	"dailybrief/internal/metrics"
	"dailybrief/internal/scheduler"
	"dailybrief/internal/types"
	"dailybrief/internal/worker"
)

const (
	// Digest runs fire at the top of every hour; eligibility picks the
	// recipients whose preferred local hour just arrived.
	digestSchedule = "0 * * * *"
	// The retention sweep runs once nightly, off the digest hours' peak.
	maintenanceSchedule = "35 3 * * *"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("dailybriefd starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
		"enabled_digests", cfg.Scheduler.EnabledDigests,
	)

	ctx := context.Background()

	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	queueRepo := db.NewQueueRepository(pool)
	ledgerRepo := db.NewLedgerRepository(pool)
	recipientRepo := db.NewRecipientRepository(pool)
	lockRepo := db.NewRunLockRepository(pool)
	historyRepo := db.NewRunHistoryRepository(pool)
	archiveRepo := db.NewArchiveRepository(pool)

	var emailProvider external.EmailProvider
	var contentProvider external.ContentProvider
	if cfg.Environment == "local" {
		logger.Warn("APP_ENV=local: using stub email and content providers")
		emailProvider = external.NewStubEmailProvider(logger)
		contentProvider = external.NewStubContentProvider(logger)
	} else {
		emailProvider = external.NewSendGridClient(
			&http.Client{Timeout: cfg.Email.SendTimeout},
			external.SendGridClientConfig{
				APIKey:  cfg.Email.APIKey.Unmask(),
				BaseURL: cfg.Email.APIBaseURL,
				Logger:  logger,
			},
		)
		contentProvider = content.NewClient(
			&http.Client{Timeout: cfg.Content.FetchTimeout},
			content.ClientConfig{
				BaseURL:     cfg.Content.APIBaseURL,
				APIKey:      cfg.Content.APIKey.Unmask(),
				MaxArticles: cfg.Content.MaxArticles,
				Logger:      logger,
			},
		)
	}

	promMetrics := metrics.NewPrometheusMetrics(cfg.Metrics.Namespace)

	w := worker.New(
		queueRepo,
		ledgerRepo,
		recipientRepo,
		contentProvider,
		emailProvider,
		promMetrics,
		worker.Config{
			BatchSize:       cfg.Scheduler.BatchSize,
			SendRate:        rate.Limit(cfg.Scheduler.SendRate),
			FromAddress:     cfg.Email.FromAddress,
			FromName:        cfg.Email.FromName,
			TrackingURL:     cfg.Server.PublicBaseURL,
			ContentLookback: cfg.Content.Window,
		},
		logger,
	)

	filter := scheduler.NewEligibilityFilter(ledgerRepo, logger)

	// No continuation publisher: the next hourly tick drains any work a
	// budget-bounded run left behind, and operators can trigger a resume
	// through the HTTP endpoint.
	orchestrator := scheduler.NewOrchestrator(
		lockRepo,
		queueRepo,
		recipientRepo,
		historyRepo,
		filter,
		w,
		nil,
		scheduler.RunConfig{
			EnabledDigests:      cfg.Scheduler.EnabledDigests,
			RunBudget:           cfg.Scheduler.RunBudget,
			LockStaleness:       cfg.Scheduler.LockStaleness,
			ProcessingStaleness: cfg.Scheduler.ProcessingStaleness,
		},
		logger,
	)

	maintenance, err := scheduler.NewMaintenance(
		ledgerRepo,
		archiveRepo,
		queueRepo,
		scheduler.MaintenanceConfig{
			LedgerRetention: cfg.Scheduler.LedgerRetention,
		},
		logger,
	)
	if err != nil {
		return fmt.Errorf("creating maintenance sweep: %w", err)
	}

	c, err := buildCron(cfg, orchestrator, maintenance, logger)
	if err != nil {
		return err
	}

	srv, err := core.NewServer(cfg, orchestrator, ledgerRepo, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.MetricsHandler = promMetrics.Handler()
	srv.HealthProbes = []core.HealthProbe{dbProbe{pool: pool}}
	srv.MountRoutes()

	c.Start()
	defer func() {
		// Stop scheduling new jobs, then wait for running ones to finish.
		stopCtx := c.Stop()
		<-stopCtx.Done()
	}()

	return runHTTPServer(srv, cfg, logger)
}

// buildCron registers the hourly digest runs and the nightly retention
// sweep. Job panics are recovered and logged by the cron chain so one bad
// run cannot take the scheduler down.
func buildCron(cfg *config.Config, orchestrator *scheduler.Orchestrator, maintenance *scheduler.Maintenance, logger *slog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))

	for _, digest := range cfg.Scheduler.EnabledDigests {
		digestType := types.DigestType(digest)
		_, err := c.AddFunc(digestSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.RunBudget+2*time.Minute)
			defer cancel()

			result, err := orchestrator.Run(ctx, types.RunRequest{
				DigestType:  digestType,
				TriggeredAt: time.Now().UTC(),
			})
			if err != nil {
				logger.Error("scheduled digest run failed",
					"digest_type", string(digestType),
					"error", err,
				)
				return
			}
			logger.Info("scheduled digest run completed",
				"digest_type", string(digestType),
				"run_id", result.RunID,
				"skipped", result.Skipped,
				"queued", result.Queued,
				"sent", result.Sent,
				"failed", result.Failed,
				"remaining_pending", result.RemainingPending,
			)
		})
		if err != nil {
			return nil, fmt.Errorf("registering digest schedule for %s: %w", digest, err)
		}
	}

	_, err := c.AddFunc(maintenanceSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		result, err := maintenance.Sweep(ctx)
		if err != nil {
			logger.Error("retention sweep failed", "error", err)
			return
		}
		logger.Info("retention sweep completed",
			"archived_entries", result.ArchivedEntries,
			"archives", len(result.ArchiveIDs),
			"purged_queue_rows", result.PurgedQueueRows,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("registering maintenance schedule: %w", err)
	}

	return c, nil
}

// dbProbe reports database health for GET /health.
type dbProbe struct {
	pool *pgxpool.Pool
}

func (p dbProbe) Name() string                    { return "database" }
func (p dbProbe) Check(ctx context.Context) error { return p.pool.Ping(ctx) }

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Scheduler.RunBudget + 2*time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
