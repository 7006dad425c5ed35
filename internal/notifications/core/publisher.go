package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"ticketwatch/internal/types"
)

// maxDelaySeconds is the SQS DelaySeconds ceiling.
const maxDelaySeconds = 900

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

var _ Publisher = (*NotificationPublisher)(nil)

// NotificationPublisher hands NotificationMessages to the dispatcher queue.
// The decision ID travels as a message attribute so the dispatcher can
// deduplicate redriven messages.
type NotificationPublisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// NewNotificationPublisher creates a new NotificationPublisher targeting the
// specified SQS notification queue.
func NewNotificationPublisher(client SQSSender, queueURL string, logger types.Logger) *NotificationPublisher {
	return &NotificationPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Publish serializes msg and sends it with the given delay, clamped to
// [0, 900] seconds. Longer deferrals stay queued in the outbox and are
// released by the sweeper.
func (p *NotificationPublisher) Publish(ctx context.Context, msg types.NotificationMessage, delay time.Duration) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notification publisher: failed to marshal message: %w", err)
	}

	delaySec := int32(delay.Seconds())
	if delaySec > maxDelaySeconds {
		delaySec = maxDelaySeconds
	}
	if delaySec < 0 {
		delaySec = 0
	}

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(p.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySec,
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"DecisionID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.DecisionID),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("notification publisher: failed to send message to %s: %w", p.queueURL, err)
	}

	p.logger.Info("notification decision published",
		"decision_id", msg.DecisionID,
		"alert_id", msg.AlertID,
		"channels", len(msg.Channels),
		"delay_seconds", delaySec,
		"trace_id", msg.TraceID,
	)
	return nil
}
