// Package metrics provides delivery telemetry sinks: a CloudWatch
// publisher for the hosted deployment, a Prometheus registry for
// self-hosted installs, and a fan-out combining them.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"dailybrief/internal/types"
	"dailybrief/internal/worker"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchMetrics implements worker.Metrics.
var _ worker.Metrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics publishes delivery observations to CloudWatch.
//
// Metrics emitted:
//   - DeliveryAttempt: Dims {DigestType, Outcome} -- on every delivery outcome
//   - SendLatency: Dims {DigestType} -- provider round-trip time
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics creates a sink publishing to the given namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordDeliveryAttempt emits one DeliveryAttempt count with DigestType
// and Outcome dimensions. Publish failures are logged, never propagated;
// telemetry loss must not affect delivery.
func (m *CloudWatchMetrics) RecordDeliveryAttempt(ctx context.Context, digestType types.DigestType, outcome string) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("DeliveryAttempt"),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String("DigestType"),
						Value: aws.String(string(digestType)),
					},
					{
						Name:  aws.String("Outcome"),
						Value: aws.String(outcome),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record delivery metric",
			"error", err,
			"digest_type", string(digestType),
			"outcome", outcome,
		)
	}
}

// ObserveSendLatency emits the provider round-trip time in milliseconds
// with the DigestType dimension.
func (m *CloudWatchMetrics) ObserveSendLatency(ctx context.Context, digestType types.DigestType, d time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("SendLatency"),
				Value:      aws.Float64(float64(d.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String("DigestType"),
						Value: aws.String(string(digestType)),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record latency metric",
			"error", err,
			"digest_type", string(digestType),
			"latency_ms", d.Milliseconds(),
		)
	}
}

// Multi fans observations out to several sinks.
type Multi []worker.Metrics

var _ worker.Metrics = (Multi)(nil)

func (m Multi) RecordDeliveryAttempt(ctx context.Context, digestType types.DigestType, outcome string) {
	for _, sink := range m {
		sink.RecordDeliveryAttempt(ctx, digestType, outcome)
	}
}

func (m Multi) ObserveSendLatency(ctx context.Context, digestType types.DigestType, d time.Duration) {
	for _, sink := range m {
		sink.ObserveSendLatency(ctx, digestType, d)
	}
}
