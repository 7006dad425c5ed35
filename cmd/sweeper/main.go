// Package main is the entrypoint for the Sweeper Lambda function.
//
// The Sweeper is a maintenance multiplexer. EventBridge rules send JSON
// payloads naming a TaskType and the handler routes execution to the matching
// scheduler service:
//
//	expire_alerts    move alerts past their expiry to expired
//	flush_coalesced  release hourly/daily notifications whose window elapsed
//	redrive_outbox   republish outbox rows a relay never confirmed
//	archive_history  compress and remove alert history past retention
//
// Each invocation:
//  1. Parses the MaintenancePayload and determines the reference time.
//  2. Acquires the task's job lock so overlapping schedules do not race.
//  3. Records the run in job_history.
//  4. Runs the task and releases the lock.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"ticketwatch/internal/alerts"
	"ticketwatch/internal/config"
	"ticketwatch/internal/db"
	"ticketwatch/internal/external"
	notifcore "ticketwatch/internal/notifications/core"
	"ticketwatch/internal/outbox"
	"ticketwatch/internal/purchase"
	"ticketwatch/internal/scheduler"
	"ticketwatch/internal/types"
)

// lockTTL bounds how long a crashed invocation can block its task. It
// covers the Lambda timeout with margin.
const lockTTL = 15 * time.Minute

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

// ServiceRegistry holds the services the multiplexer routes to. Fields are
// interfaces so tests can substitute fakes.
type ServiceRegistry struct {
	Expiry  ExpiryService
	Flush   FlushService
	Redrive RedriveService
	Archive ArchiveService
}

// ExpiryService expires overdue alerts.
type ExpiryService interface {
	ExpireOverdue(ctx context.Context, now time.Time, batchSize int) (int, error)
}

// FlushService releases queued notifications.
type FlushService interface {
	FlushDue(ctx context.Context, now time.Time, lookahead time.Duration, limit int) (int, error)
}

// RedriveService republishes stale outbox rows.
type RedriveService interface {
	Redrive(ctx context.Context, now time.Time, limit int) (outbox.RedriveResult, error)
}

// ArchiveService archives old alert history.
type ArchiveService interface {
	ArchiveHistory(ctx context.Context, now time.Time, retention time.Duration, batchSize int) (int, error)
}

// JobLocker abstracts the distributed lock.
type JobLocker interface {
	Acquire(ctx context.Context, lockID, workerID string, now time.Time, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID, workerID string) error
}

// JobHistorian abstracts the job history recording.
type JobHistorian interface {
	Start(ctx context.Context, task string, startedAt time.Time) (int64, error)
	Finish(ctx context.Context, id int64, finishedAt time.Time, status string, items int, jobErr error) error
}

// Handler holds the dependencies for the sweeper Lambda handler function.
type Handler struct {
	Services   ServiceRegistry
	Engine     config.EngineConfig
	JobLock    JobLocker
	JobHistory JobHistorian
	WorkerID   string
	Clock      types.Clock
	Logger     *slog.Logger
}

// Handle processes a MaintenancePayload from EventBridge.
func (h *Handler) Handle(ctx context.Context, payload scheduler.MaintenancePayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := h.Clock
	if clock == nil {
		clock = types.RealClock{}
	}

	now := clock.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	taskStr := string(payload.Task)
	logger.InfoContext(ctx, "sweeper handler invoked",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", h.WorkerID,
	)

	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in maintenance payload")
	}

	// One lock per task: a slow run blocks the next tick of the same task
	// but never a different task.
	lockID := "sweeper:" + taskStr
	acquired, err := h.JobLock.Acquire(ctx, lockID, h.WorkerID, clock.Now(), lockTTL)
	if err != nil {
		logger.ErrorContext(ctx, "failed to acquire job lock",
			"lock_id", lockID,
			"error", err,
		)
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "job lock not acquired, another worker is processing",
			"lock_id", lockID,
		)
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}
	defer func() {
		if relErr := h.JobLock.Release(context.WithoutCancel(ctx), lockID, h.WorkerID); relErr != nil {
			logger.WarnContext(ctx, "failed to release job lock",
				"lock_id", lockID,
				"error", relErr,
			)
		}
	}()

	jobID, err := h.JobHistory.Start(ctx, taskStr, clock.Now())
	if err != nil {
		logger.ErrorContext(ctx, "failed to start job history",
			"task", taskStr,
			"error", err,
		)
		// History is best effort; jobID 0 skips Finish.
		jobID = 0
	}

	items, execErr := h.dispatch(ctx, payload.Task, now)

	status := "success"
	if execErr != nil {
		status = "failed"
	}
	if jobID != 0 {
		if finishErr := h.JobHistory.Finish(ctx, jobID, clock.Now(), status, items, execErr); finishErr != nil {
			logger.ErrorContext(ctx, "failed to finish job history",
				"job_id", jobID,
				"task", taskStr,
				"error", finishErr,
			)
		}
	}

	if execErr != nil {
		logger.ErrorContext(ctx, "task execution failed",
			"task", taskStr,
			"error", execErr,
			"items_before_error", items,
		)
		return "", fmt.Errorf("task %s failed: %w", taskStr, execErr)
	}

	result := fmt.Sprintf("task %s complete: %d items processed", taskStr, items)
	logger.InfoContext(ctx, result,
		"task", taskStr,
		"items", items,
	)
	return result, nil
}

// dispatch routes a TaskType to its service and returns the item count.
func (h *Handler) dispatch(ctx context.Context, task scheduler.TaskType, now time.Time) (int, error) {
	switch task {
	case scheduler.TaskExpireAlerts:
		return h.Services.Expiry.ExpireOverdue(ctx, now, h.Engine.ExpiryBatchSize)

	case scheduler.TaskFlushCoalesced:
		return h.Services.Flush.FlushDue(ctx, now, h.Engine.FlushLookahead, h.Engine.FlushBatchSize)

	case scheduler.TaskRedriveOutbox:
		res, err := h.Services.Redrive.Redrive(ctx, now, h.Engine.RedriveBatchSize)
		if res.Failed > 0 && h.Logger != nil {
			h.Logger.WarnContext(ctx, "outbox redrive left rows pending",
				"failed", res.Failed,
			)
		}
		return res.Decisions + res.Intents, err

	case scheduler.TaskArchiveHistory:
		return h.Services.Archive.ArchiveHistory(ctx, now, h.Engine.HistoryRetention, h.Engine.ArchiveBatchSize)

	default:
		return 0, fmt.Errorf("unknown task type: %q", task)
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("Sweeper Lambda initializing (cold start)")

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

	var metrics interface {
		notifcore.EngineMetrics
		scheduler.ExpiredRecorder
		scheduler.ArchivedRecorder
	} = notifcore.NopMetrics{}
	if cfg.Observability.EnableMetrics {
		metrics = notifcore.NewCloudWatchEngineMetrics(cloudwatch.NewFromConfig(awsCfg), typedLogger)
	}

	clock := types.RealClock{}
	tx := db.NewPoolTxRunner(pool)
	store := db.NewAlertStore(pool, tx)
	outboxRepo := db.NewOutboxRepository(pool, tx)
	history := db.NewHistoryRepository(pool)
	prefs := db.NewPreferenceRepository(pool)
	router := notifcore.NewRouter(typedLogger)

	machine := alerts.NewMachine(store, router, purchase.NewDecider(), typedLogger,
		alerts.WithClock(clock),
		alerts.WithMaxRetries(cfg.Engine.MaxRetries),
	)

	var sink purchase.Sink = purchase.NewQueueSink(sqsClient, cfg.AWS.PurchaseQueue, typedLogger)
	if cfg.Purchase.Mode == "http" {
		sink = external.NewPurchaseExecutionClient(external.PurchaseClientConfig{
			BaseURL: cfg.Purchase.BaseURL,
			APIKey:  cfg.Purchase.APIKey,
			Timeout: cfg.Purchase.Timeout,
		}, external.WithLogger(typedLogger))
	}
	relay := outbox.NewRelay(
		notifcore.NewNotificationPublisher(sqsClient, cfg.AWS.NotificationQueue, typedLogger),
		sink,
		outboxRepo,
		outboxRepo,
		metrics,
		clock,
		typedLogger,
	)

	workerID := uuid.New().String()

	handler := &Handler{
		Services: ServiceRegistry{
			Expiry:  scheduler.NewExpiryService(store, machine, metrics, logger),
			Flush:   scheduler.NewFlushService(outboxRepo, prefs, router, relay, logger),
			Redrive: relay,
			Archive: scheduler.NewArchiveService(history, db.NewArchiveRepository(pool), metrics, logger),
		},
		Engine:     cfg.Engine,
		JobLock:    db.NewJobLockRepository(pool),
		JobHistory: db.NewJobHistoryRepository(pool),
		WorkerID:   workerID,
		Clock:      clock,
		Logger:     logger,
	}

	logger.Info("Sweeper Lambda initialized",
		"worker_id", workerID,
		"history_retention", cfg.Engine.HistoryRetention.String(),
	)

	lambda.Start(handler.Handle)
}

// Compile-time assertions.
var (
	_ types.Logger   = (*slogAdapter)(nil)
	_ JobLocker      = (*db.JobLockRepository)(nil)
	_ JobHistorian   = (*db.JobHistoryRepository)(nil)
	_ RedriveService = (*outbox.Relay)(nil)
)
