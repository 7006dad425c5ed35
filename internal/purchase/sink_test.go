package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketwatch/internal/types"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func TestQueueSink_Submit(t *testing.T) {
	client := &fakeSQS{}
	sink := NewQueueSink(client, "https://sqs.local/purchase", nil)

	msg := types.PurchaseIntentMessage{IntentID: "i-1", AlertID: "a-1", ListingID: "L-1", Price: decimal.NewFromInt(180), Quantity: 2}
	require.NoError(t, sink.Submit(context.Background(), msg))

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "https://sqs.local/purchase", aws.ToString(in.QueueUrl))
	assert.Equal(t, "i-1", aws.ToString(in.MessageAttributes["IntentID"].StringValue))

	var got types.PurchaseIntentMessage
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &got))
	assert.Equal(t, 2, got.Quantity)
}

func TestQueueSink_SendFailure(t *testing.T) {
	sink := NewQueueSink(&fakeSQS{err: errors.New("throttled")}, "q", nil)
	err := sink.Submit(context.Background(), types.PurchaseIntentMessage{IntentID: "i-1"})

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamQueue, appErr.Code)
}
