// Package main is the entrypoint for the Listing Worker Lambda function.
//
// The worker consumes scraped ticket listings from the listings SQS queue and
// runs each one through the matching pipeline: preference lookup, matching,
// the alert state machine, notification routing and auto-purchase decisions.
// Committed decisions and intents are relayed to the notification and
// purchase queues.
//
// Handler flow:
//
//	For each SQS record in the batch:
//	  1. Unmarshal a ListingMessage. Unparseable bodies are parked on the
//	     listings DLQ (when configured) and acknowledged.
//	  2. Process the parsed listings concurrently.
//	  3. Report listings that failed with a retryable error in
//	     batchItemFailures so SQS redelivers only those messages.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"ticketwatch/internal/alerts"
	"ticketwatch/internal/config"
	"ticketwatch/internal/db"
	"ticketwatch/internal/external"
	notifcore "ticketwatch/internal/notifications/core"
	"ticketwatch/internal/outbox"
	"ticketwatch/internal/pipeline"
	"ticketwatch/internal/purchase"
	"ticketwatch/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// BatchProcessor runs parsed listings through the pipeline. Satisfied by
// *pipeline.Processor.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, listings []types.TicketListing) pipeline.BatchResult
}

// Handler holds the dependencies for the listing worker Lambda handler.
type Handler struct {
	processor BatchProcessor
	dlq       notifcore.SQSSender
	dlqURL    string
	logger    types.Logger
}

// Handle processes an SQS event containing one or more listing messages.
// Lambda SQS integration uses partial batch responses: only messages whose
// listing failed with a retryable error are returned for redelivery.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	listings := make([]types.TicketListing, 0, len(sqsEvent.Records))
	messageIDs := make([]string, 0, len(sqsEvent.Records))

	for _, record := range sqsEvent.Records {
		var msg types.ListingMessage
		if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
			h.logger.Error("failed to unmarshal listing message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			if parkErr := h.park(ctx, record); parkErr != nil {
				response.BatchItemFailures = append(response.BatchItemFailures,
					events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
				)
			}
			continue
		}
		if msg.TraceID != "" {
			h.logger.Info("listing received",
				"message_id", record.MessageId,
				"trace_id", msg.TraceID,
				"listing_id", msg.ID,
			)
		}
		listings = append(listings, msg.Listing())
		messageIDs = append(messageIDs, record.MessageId)
	}

	if len(listings) == 0 {
		return response, nil
	}

	result := h.processor.ProcessBatch(ctx, listings)
	for i, err := range result.Errors {
		if types.IsSkippable(err) {
			continue
		}
		h.logger.Error("listing failed, returning to queue",
			"message_id", messageIDs[i],
			"listing_key", listings[i].Key(),
			"error", err.Error(),
		)
		response.BatchItemFailures = append(response.BatchItemFailures,
			events.SQSBatchItemFailure{ItemIdentifier: messageIDs[i]},
		)
	}

	return response, nil
}

// park forwards an unparseable record to the DLQ. Without a DLQ the record
// is dropped; retrying a body that cannot be decoded never succeeds.
func (h *Handler) park(ctx context.Context, record events.SQSMessage) error {
	if h.dlq == nil || h.dlqURL == "" {
		return nil
	}
	_, err := h.dlq.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(h.dlqURL),
		MessageBody: aws.String(record.Body),
	})
	if err != nil {
		h.logger.Error("failed to park listing message on DLQ",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
	}
	return err
}

// newPurchaseSink picks the intent transport configured by PURCHASE_MODE.
func newPurchaseSink(cfg *config.Config, sqsClient notifcore.SQSSender, logger types.Logger) purchase.Sink {
	if cfg.Purchase.Mode == "http" {
		return external.NewPurchaseExecutionClient(external.PurchaseClientConfig{
			BaseURL: cfg.Purchase.BaseURL,
			APIKey:  cfg.Purchase.APIKey,
			Timeout: cfg.Purchase.Timeout,
		}, external.WithLogger(logger))
	}
	return purchase.NewQueueSink(sqsClient, cfg.AWS.PurchaseQueue, logger)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("Listing Worker Lambda initializing (cold start)")

	typedLogger := &slogAdapter{logger: logger}

	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("Failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to open database pool", "error", err)
		os.Exit(1)
	}

	sqsClient := sqs.NewFromConfig(awsCfg)

	var metrics notifcore.EngineMetrics = notifcore.NopMetrics{}
	if cfg.Observability.EnableMetrics {
		metrics = notifcore.NewCloudWatchEngineMetrics(cloudwatch.NewFromConfig(awsCfg), typedLogger)
	}

	clock := types.RealClock{}
	store := db.NewAlertStore(pool, db.NewPoolTxRunner(pool))
	outboxRepo := db.NewOutboxRepository(pool, db.NewPoolTxRunner(pool))
	prefs := db.NewCachedPreferenceRepository(db.NewPreferenceRepository(pool), cfg.Engine.PreferenceCacheTTL, clock)

	machine := alerts.NewMachine(
		store,
		notifcore.NewRouter(typedLogger),
		purchase.NewDecider(),
		typedLogger,
		alerts.WithClock(clock),
		alerts.WithMaxRetries(cfg.Engine.MaxRetries),
	)

	relay := outbox.NewRelay(
		notifcore.NewNotificationPublisher(sqsClient, cfg.AWS.NotificationQueue, typedLogger),
		newPurchaseSink(cfg, sqsClient, typedLogger),
		outboxRepo,
		outboxRepo,
		metrics,
		clock,
		typedLogger,
	)

	processor := pipeline.NewProcessor(prefs, machine, relay, metrics, clock, typedLogger, pipeline.Config{
		Concurrency:            cfg.Engine.Concurrency,
		PreferenceFetchTimeout: cfg.Engine.PreferenceFetchTimeout,
		DispatchTimeout:        cfg.Engine.DispatchTimeout,
	})

	handler := &Handler{
		processor: processor,
		dlq:       sqsClient,
		dlqURL:    cfg.AWS.ListingDLQ,
		logger:    typedLogger,
	}

	logger.Info("Listing Worker Lambda initialized",
		"notification_queue", cfg.AWS.NotificationQueue,
		"purchase_mode", cfg.Purchase.Mode,
		"concurrency", cfg.Engine.Concurrency,
		"preference_cache_ttl", cfg.Engine.PreferenceCacheTTL.String(),
	)

	lambda.Start(handler.Handle)
}

// Compile-time assertions.
var (
	_ types.Logger   = (*slogAdapter)(nil)
	_ BatchProcessor = (*pipeline.Processor)(nil)
)
