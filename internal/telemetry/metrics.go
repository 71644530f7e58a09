package telemetry

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"flui/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics implements types.AccessMetrics by emitting an
// AccessDecision count with Feature and Status dimensions.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

var _ types.AccessMetrics = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics creates a CloudWatchMetrics. An empty namespace falls
// back to types.MetricNamespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

// RecordDecision emits one AccessDecision datapoint. Failures are logged and
// never surface to the access path.
func (m *CloudWatchMetrics) RecordDecision(ctx context.Context, feature types.Feature, status types.AccessStatus) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricAccessDecision),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(types.DimFeature), Value: aws.String(string(feature))},
					{Name: aws.String(types.DimStatus), Value: aws.String(string(status))},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record access decision metric",
			"error", err.Error(),
			"feature", string(feature),
			"status", string(status),
		)
	}
}

// RecordRollover emits the number of accounts rolled over by one sweep.
func (m *CloudWatchMetrics) RecordRollover(ctx context.Context, rolled, failed int) {
	datum := func(status string, n int) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricCycleRollover),
			Value:      aws.Float64(float64(n)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(types.DimStatus), Value: aws.String(status)},
			},
		}
	}
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum("rolled", rolled), datum("failed", failed)},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record rollover metric",
			"error", err.Error(),
			"rolled", rolled,
			"failed", failed,
		)
	}
}

// MultiMetrics fans a decision out to several recorders.
type MultiMetrics []types.AccessMetrics

func (mm MultiMetrics) RecordDecision(ctx context.Context, feature types.Feature, status types.AccessStatus) {
	for _, m := range mm {
		m.RecordDecision(ctx, feature, status)
	}
}
