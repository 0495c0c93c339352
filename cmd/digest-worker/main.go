// Package main is the entrypoint for the Digest Worker Lambda function.
//
// The Digest Worker consumes RunRequest messages from the run SQS queue
// and executes one digest run per message through the orchestrator:
// acquire the run lock, reclaim stale queue entries, enqueue eligible
// recipients, and drain the delivery queue within the run budget.
// Messages arrive from the scheduled hourly trigger, the operator API,
// or a continuation published by a previous budget-bounded run.
//
// Lambda SQS integration uses partial batch responses: records that fail
// processing are returned in batchItemFailures so SQS retries only them.
// A malformed body is a permanent failure and is ACKed after logging; a
// run skipped because another holder owns the lock is a success.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"golang.org/x/time/rate"

	"dailybrief/internal/config"
	"dailybrief/internal/content"
	"dailybrief/internal/core"
	"dailybrief/internal/db"
	"dailybrief/internal/external"
	"dailybrief/internal/metrics"
	"dailybrief/internal/queue"
	"dailybrief/internal/scheduler"
	"dailybrief/internal/types"
	"dailybrief/internal/worker"
)

// Handler holds the dependencies for the digest worker Lambda handler.
type Handler struct {
	runner core.Runner
	logger *slog.Logger
}

// Handle processes an SQS event containing one or more run requests.
// Each record is processed independently; a failed run is reported in
// batchItemFailures so SQS redelivers only that record.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "failed to process run request",
				"message_id", record.MessageId,
				"error", err,
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processRecord executes one digest run from an SQS record.
func (h *Handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	var req types.RunRequest
	if err := json.Unmarshal([]byte(record.Body), &req); err != nil {
		// Permanent parse failure: redelivery cannot fix it, ACK.
		h.logger.ErrorContext(ctx, "malformed run request body, dropping",
			"message_id", record.MessageId,
			"error", err,
		)
		return nil
	}

	if req.DigestType != types.DigestDaily && req.DigestType != types.DigestBreaking {
		h.logger.ErrorContext(ctx, "unknown digest type in run request, dropping",
			"message_id", record.MessageId,
			"digest_type", string(req.DigestType),
		)
		return nil
	}
	if req.TriggeredAt.IsZero() {
		req.TriggeredAt = time.Now().UTC()
	}
	if req.TraceID == "" {
		req.TraceID = record.MessageId
	}

	logger := h.logger.With(
		"message_id", record.MessageId,
		"digest_type", string(req.DigestType),
		"continuation", req.Continuation,
		"trace_id", req.TraceID,
	)
	logger.InfoContext(ctx, "processing run request")

	result, err := h.runner.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("run digest: %w", err)
	}

	logger.InfoContext(ctx, "run request completed",
		"run_id", result.RunID,
		"skipped", result.Skipped,
		"queued", result.Queued,
		"sent", result.Sent,
		"failed", result.Failed,
		"remaining_pending", result.RemainingPending,
	)
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("digest worker initializing (cold start)",
		"environment", cfg.Environment,
		"enabled_digests", cfg.Scheduler.EnabledDigests,
	)

	ctx := context.Background()

	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect database", "error", err)
		os.Exit(1)
	}

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

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS configuration", "error", err)
		os.Exit(1)
	}

	// The worker re-publishes to its own queue when the budget expires
	// with pending entries left.
	var publisher scheduler.ContinuationPublisher
	if cfg.AWS.RunQueueURL != "" {
		sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		publisher = queue.NewRunTrigger(sqsClient, cfg.AWS, logger)
	} else {
		logger.Warn("SQS_RUN_QUEUE not set, continuation publishing disabled")
	}

	var metricsSink worker.Metrics
	if cfg.Metrics.EnableCloudWatch {
		cwClient := cloudwatch.NewFromConfig(awsCfg)
		metricsSink = metrics.NewCloudWatchMetrics(cwClient, cfg.Metrics.Namespace, logger)
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

	handler := &Handler{runner: orchestrator, logger: logger}

	logger.Info("digest worker initialized", "run_queue", cfg.AWS.RunQueueURL)

	// Local mode: read a JSON SQS event from stdin instead of starting the
	// Lambda runtime. Enables local integration testing without the RIE.
	// Usage: echo '{"Records":[{"messageId":"1","body":"{...}"}]}' | go run cmd/digest-worker/main.go
	if cfg.Environment == "local" {
		runLocal(handler, logger)
		return
	}

	lambda.Start(handler.Handle)
}

// runLocal executes the handler once against an SQS event read from stdin.
func runLocal(handler *Handler, logger *slog.Logger) {
	logger.Info("APP_ENV=local: reading SQS event from stdin")
	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		logger.Error("failed to read stdin", "error", err)
		os.Exit(1)
	}
	if len(payload) == 0 {
		logger.Error("no input received on stdin")
		os.Exit(1)
	}

	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(payload, &sqsEvent); err != nil {
		logger.Error("failed to parse stdin as SQS event", "error", err)
		os.Exit(1)
	}

	response, err := handler.Handle(context.Background(), sqsEvent)
	if err != nil {
		logger.Error("handler execution failed", "error", err)
		os.Exit(1)
	}
	if len(response.BatchItemFailures) > 0 {
		logger.Warn("handler reported partial failures",
			"failed_count", len(response.BatchItemFailures),
		)
		respJSON, _ := json.MarshalIndent(response, "", "  ")
		fmt.Fprintln(os.Stderr, string(respJSON))
	}
	logger.Info("handler execution completed",
		"records_processed", len(sqsEvent.Records),
		"failures", len(response.BatchItemFailures),
	)
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
