// Package main is the entry point for the dailybrief API server.
//
// It loads configuration, connects the PostgreSQL pool, wires the digest
// orchestrator behind the HTTP chassis (middleware, routing, health
// checks), and starts listening for requests. The authenticated
// POST /v1/digests/run endpoint executes a digest run synchronously, so
// the server's request timeout is sized above the run budget.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"dailybrief/internal/config"
	"dailybrief/internal/content"
	"dailybrief/internal/core"
	"dailybrief/internal/db"
	"dailybrief/internal/external"
	"dailybrief/internal/metrics"
	"dailybrief/internal/queue"
	"dailybrief/internal/scheduler"
	"dailybrief/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("dailybrief API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	orchestrator, ledgerRepo, err := buildOrchestrator(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}

	srv, err := core.NewServer(cfg, orchestrator, ledgerRepo, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = []core.HealthProbe{dbProbe{pool: pool}}
	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// buildOrchestrator wires the full digest run pipeline: repositories,
// upstream clients, delivery worker, and the run orchestrator. In local
// mode the email and content providers are replaced with stubs so the
// server boots without real credentials.
func buildOrchestrator(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (*scheduler.Orchestrator, *db.LedgerRepository, error) {
	queueRepo := db.NewQueueRepository(pool)
	ledgerRepo := db.NewLedgerRepository(pool)
	recipientRepo := db.NewRecipientRepository(pool)
	lockRepo := db.NewRunLockRepository(pool)
	historyRepo := db.NewRunHistoryRepository(pool)

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

	// AWS clients are only needed for the continuation publisher and
	// CloudWatch metrics; both are optional.
	var publisher scheduler.ContinuationPublisher
	var metricsSink worker.Metrics
	if cfg.AWS.RunQueueURL != "" || cfg.Metrics.EnableCloudWatch {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, nil, fmt.Errorf("loading AWS configuration: %w", err)
		}
		if cfg.AWS.RunQueueURL != "" {
			sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
				if cfg.AWS.EndpointURL != "" {
					o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				}
			})
			publisher = queue.NewRunTrigger(sqsClient, cfg.AWS, logger)
		}
		if cfg.Metrics.EnableCloudWatch {
			cwClient := cloudwatch.NewFromConfig(awsCfg)
			metricsSink = metrics.NewCloudWatchMetrics(cwClient, cfg.Metrics.Namespace, logger)
		}
	}

	w := worker.New(
		queueRepo,
		ledgerRepo,
		recipientRepo,
		contentProvider,
		emailProvider,
		metricsSink,
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
	orchestrator := scheduler.NewOrchestrator(
		lockRepo,
		queueRepo,
		recipientRepo,
		historyRepo,
		filter,
		w,
		publisher,
		scheduler.RunConfig{
			EnabledDigests:      cfg.Scheduler.EnabledDigests,
			RunBudget:           cfg.Scheduler.RunBudget,
			LockStaleness:       cfg.Scheduler.LockStaleness,
			ProcessingStaleness: cfg.Scheduler.ProcessingStaleness,
		},
		logger,
	)

	return orchestrator, ledgerRepo, nil
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

	// WriteTimeout must exceed the run budget: the trigger endpoint holds
	// the connection open for the whole synchronous run.
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
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
