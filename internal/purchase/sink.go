package purchase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"ticketwatch/internal/types"
)

// Sink accepts purchase intents for execution. Implementations must be
// idempotent on IntentID.
type Sink interface {
	Submit(ctx context.Context, msg types.PurchaseIntentMessage) error
}

// SQSSender abstracts the SQS SendMessage operation for testability.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

var _ Sink = (*QueueSink)(nil)

// QueueSink hands intents to the purchase executor's SQS queue.
type QueueSink struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// NewQueueSink creates a QueueSink for queueURL.
func NewQueueSink(client SQSSender, queueURL string, logger types.Logger) *QueueSink {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &QueueSink{client: client, queueURL: queueURL, logger: logger}
}

// Submit sends msg with the intent ID as the IntentID message attribute.
func (s *QueueSink) Submit(ctx context.Context, msg types.PurchaseIntentMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("purchase sink: failed to marshal intent: %w", err)
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"IntentID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.IntentID),
			},
		},
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("failed to enqueue purchase intent %s", msg.IntentID), err)
	}

	s.logger.Info("purchase intent submitted",
		"intent_id", msg.IntentID,
		"alert_id", msg.AlertID,
		"listing_id", msg.ListingID,
		"price", msg.Price.StringFixed(2),
	)
	return nil
}
