package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"ticketwatch/internal/types"
)

// mockSQSSender records all SendMessage calls for verification.
type mockSQSSender struct {
	calls     []*sqs.SendMessageInput
	returnErr error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &sqs.SendMessageOutput{}, nil
}

const testQueueURL = "https://sqs.us-east-1.amazonaws.com/123/notifications"

func TestNotificationPublisher_Publish(t *testing.T) {
	sender := &mockSQSSender{}
	pub := NewNotificationPublisher(sender, testQueueURL, &mockLogger{})

	msg := types.NotificationMessage{
		DecisionID:  "dec-1",
		AlertID:     "alert-1",
		UserID:      "user-1",
		Channels:    []types.ChannelType{types.ChannelEmail, types.ChannelPush},
		Subject:     "Price drop: Lakers vs Celtics",
		BodySummary: "now $135.00",
		TraceID:     "trace-1",
	}

	if err := pub.Publish(context.Background(), msg, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.calls) != 1 {
		t.Fatalf("expected 1 SQS call, got %d", len(sender.calls))
	}

	call := sender.calls[0]
	if *call.QueueUrl != testQueueURL {
		t.Errorf("QueueUrl = %q", *call.QueueUrl)
	}
	if got := *call.MessageAttributes["DecisionID"].StringValue; got != "dec-1" {
		t.Errorf("DecisionID attribute = %q", got)
	}

	var sent types.NotificationMessage
	if err := json.Unmarshal([]byte(*call.MessageBody), &sent); err != nil {
		t.Fatalf("failed to unmarshal sent body: %v", err)
	}
	if sent.AlertID != "alert-1" || len(sent.Channels) != 2 || sent.TraceID != "trace-1" {
		t.Errorf("unexpected body: %+v", sent)
	}
	if strings.Contains(*call.MessageBody, "suppressed_reason") {
		t.Error("empty suppressed_reason should be omitted")
	}
}

func TestNotificationPublisher_ClampsDelay(t *testing.T) {
	sender := &mockSQSSender{}
	pub := NewNotificationPublisher(sender, testQueueURL, &mockLogger{})

	_ = pub.Publish(context.Background(), types.NotificationMessage{DecisionID: "a"}, 2000*time.Second)
	_ = pub.Publish(context.Background(), types.NotificationMessage{DecisionID: "b"}, -5*time.Second)
	_ = pub.Publish(context.Background(), types.NotificationMessage{DecisionID: "c"}, 10*time.Second)

	want := []int32{900, 0, 10}
	for i, w := range want {
		if sender.calls[i].DelaySeconds != w {
			t.Errorf("call %d DelaySeconds = %d, want %d", i, sender.calls[i].DelaySeconds, w)
		}
	}
}

func TestNotificationPublisher_SendError(t *testing.T) {
	sentinel := errors.New("throttled")
	sender := &mockSQSSender{returnErr: sentinel}
	pub := NewNotificationPublisher(sender, testQueueURL, &mockLogger{})

	err := pub.Publish(context.Background(), types.NotificationMessage{DecisionID: "x"}, 0)
	if !errors.Is(err, sentinel) {
		t.Errorf("expected wrapped send error, got %v", err)
	}
}
