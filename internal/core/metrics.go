package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"ticketwatch/internal/types"
)

// CloudWatchPutter is the subset of the CloudWatch client the API needs.
type CloudWatchPutter interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchRequestMetrics records APILatency and APIRequestCount per route.
type CloudWatchRequestMetrics struct {
	client    CloudWatchPutter
	namespace string
	timeout   time.Duration
	logger    types.Logger
}

// NewCloudWatchRequestMetrics creates a collector for the given namespace.
func NewCloudWatchRequestMetrics(client CloudWatchPutter, namespace string, logger types.Logger) *CloudWatchRequestMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchRequestMetrics{
		client:    client,
		namespace: namespace,
		timeout:   2 * time.Second,
		logger:    logger,
	}
}

// RecordRequest publishes both metrics in one call. The request context is
// already done by now, so the put runs on its own deadline.
func (m *CloudWatchRequestMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	dims := []cwtypes.Dimension{
		{Name: aws.String(types.DimMethod), Value: aws.String(method)},
		{Name: aws.String(types.DimEndpoint), Value: aws.String(endpoint)},
		{Name: aws.String(types.DimStatus), Value: aws.String(status)},
	}
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricAPILatency),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dims,
			},
			{
				MetricName: aws.String(types.MetricAPIRequestCount),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
		},
	})
	if err != nil && m.logger != nil {
		m.logger.Warn("failed to record API metrics", "error", err.Error(), "endpoint", endpoint)
	}
}
