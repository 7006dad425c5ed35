package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"ticketwatch/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchEngineMetrics implements EngineMetrics.
var _ EngineMetrics = (*CloudWatchEngineMetrics)(nil)

// CloudWatchEngineMetrics emits engine counters to AWS CloudWatch.
//
// Metrics emitted:
//   - ListingsProcessed / ListingsSkipped: Dims {Category}
//   - AlertsTriggered: Dims {Category}
//   - NotificationsSuppressed: Dims {Reason}
//   - PurchaseIntents, AlertsExpired, HistoryArchived: no dims
//   - DispatchFailures: Dims {Sink}
//   - ProcessingLatency: milliseconds per listing
type CloudWatchEngineMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchEngineMetrics creates a CloudWatchEngineMetrics publishing
// to types.MetricNamespace.
func NewCloudWatchEngineMetrics(client CloudWatchClient, logger types.Logger) *CloudWatchEngineMetrics {
	return &CloudWatchEngineMetrics{
		client:    client,
		namespace: types.MetricNamespace,
		logger:    logger,
	}
}

func (m *CloudWatchEngineMetrics) RecordListing(ctx context.Context, category string, skipped bool) {
	name := types.MetricListingsProcessed
	if skipped {
		name = types.MetricListingsSkipped
	}
	m.put(ctx, counter(name, 1, dim(types.DimCategory, category)))
}

func (m *CloudWatchEngineMetrics) RecordTrigger(ctx context.Context, category string) {
	m.put(ctx, counter(types.MetricAlertsTriggered, 1, dim(types.DimCategory, category)))
}

func (m *CloudWatchEngineMetrics) RecordSuppressed(ctx context.Context, reason types.SuppressedReason) {
	m.put(ctx, counter(types.MetricNotificationsSuppressed, 1, dim(types.DimReason, string(reason))))
}

func (m *CloudWatchEngineMetrics) RecordIntent(ctx context.Context) {
	m.put(ctx, counter(types.MetricPurchaseIntents, 1))
}

func (m *CloudWatchEngineMetrics) RecordDispatchFailure(ctx context.Context, sink string) {
	m.put(ctx, counter(types.MetricDispatchFailures, 1, dim(types.DimSink, sink)))
}

func (m *CloudWatchEngineMetrics) RecordExpired(ctx context.Context, count int) {
	if count == 0 {
		return
	}
	m.put(ctx, counter(types.MetricAlertsExpired, float64(count)))
}

func (m *CloudWatchEngineMetrics) RecordArchived(ctx context.Context, count int) {
	if count == 0 {
		return
	}
	m.put(ctx, counter(types.MetricHistoryArchived, float64(count)))
}

// RecordLatency is recorded in milliseconds for CloudWatch precision.
func (m *CloudWatchEngineMetrics) RecordLatency(ctx context.Context, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricProcessingLatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	})
}

func (m *CloudWatchEngineMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record metric",
			"error", err.Error(),
			"metric", aws.ToString(datum.MetricName),
		)
	}
}

func counter(name string, value float64, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	}
}

func dim(name, value string) cwtypes.Dimension {
	if value == "" {
		value = "unknown"
	}
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}
