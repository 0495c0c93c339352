// Package queue provides the SQS-based producer for dispatching digest run
// requests to the delivery worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"dailybrief/internal/config"
	"dailybrief/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// RunTrigger serializes RunRequests onto the run queue. It serves two
// producers: the cron/EventBridge schedule starting fresh runs, and the
// orchestrator publishing continuations when a run's budget expires with
// work still pending.
type RunTrigger struct {
	client      SQSSender
	runQueueURL string
	logger      *slog.Logger
}

// NewRunTrigger creates a RunTrigger reading the queue URL from AWSConfig.
func NewRunTrigger(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *RunTrigger {
	return &RunTrigger{
		client:      client,
		runQueueURL: awsCfg.RunQueueURL,
		logger:      logger,
	}
}

// TriggerRun enqueues a fresh run request for the digest type. A trace ID
// is generated if the caller did not supply one.
func (t *RunTrigger) TriggerRun(ctx context.Context, digestType types.DigestType, reason string) error {
	msg := types.RunRequest{
		DigestType:  digestType,
		TriggeredAt: time.Now().UTC(),
		TraceID:     uuid.New().String(),
	}
	return t.sendMessage(ctx, msg, reason)
}

// PublishContinuation enqueues a follow-up run request to drain work left
// behind by a budget-limited invocation. Implements
// scheduler.ContinuationPublisher.
func (t *RunTrigger) PublishContinuation(ctx context.Context, msg types.RunRequest) error {
	if msg.TraceID == "" {
		msg.TraceID = uuid.New().String()
	}
	return t.sendMessage(ctx, msg, "continuation")
}

// sendMessage serializes the RunRequest to JSON and dispatches it to the
// run queue.
func (t *RunTrigger) sendMessage(ctx context.Context, msg types.RunRequest, reason string) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal RunRequest: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.runQueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	}

	_, err = t.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("queue: failed to send RunRequest to %s: %w", t.runQueueURL, err)
	}

	t.logger.InfoContext(ctx, "run request sent",
		"queue_url", t.runQueueURL,
		"digest_type", string(msg.DigestType),
		"continuation", msg.Continuation,
		"trace_id", msg.TraceID,
		"reason", reason,
	)

	return nil
}
