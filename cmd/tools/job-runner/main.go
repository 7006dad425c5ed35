// Package main implements the job-runner CLI tool for invoking sweeper
// maintenance tasks directly, bypassing the AWS Lambda shim.
//
// It is intended for local development, manual backfills and operational
// debugging. Tasks that only touch Postgres run in-process; tasks that
// publish to SQS can be rendered with --dry-run for manual invocation.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --task=expire_alerts
//	go run ./cmd/tools/job-runner --task=archive_history --reference-time=2026-01-15T02:00:00Z
//	go run ./cmd/tools/job-runner --dry-run --task=flush_coalesced
//	go run ./cmd/tools/job-runner --list
//
// DATABASE_URL is read from the environment (or a .env file).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"ticketwatch/internal/alerts"
	"ticketwatch/internal/config"
	"ticketwatch/internal/db"
	notifcore "ticketwatch/internal/notifications/core"
	"ticketwatch/internal/purchase"
	"ticketwatch/internal/scheduler"
	"ticketwatch/internal/types"
)

// validTasks is the set of TaskType values the sweeper supports.
var validTasks = map[scheduler.TaskType]string{
	scheduler.TaskExpireAlerts:   "Move alerts past their expiry to expired",
	scheduler.TaskFlushCoalesced: "Release hourly/daily notifications whose window elapsed",
	scheduler.TaskRedriveOutbox:  "Republish outbox rows the relay never confirmed",
	scheduler.TaskArchiveHistory: "Compress and remove alert history past retention",
}

// tasksRequiringExternalServices cannot run from the CLI because they
// publish to SQS.
var tasksRequiringExternalServices = map[scheduler.TaskType]string{
	scheduler.TaskFlushCoalesced: "SQS publisher (notification queue)",
	scheduler.TaskRedriveOutbox:  "SQS publisher (notification and purchase queues)",
}

const (
	lockTTL          = 15 * time.Minute
	expiryBatchSize  = 500
	archiveBatchSize = 1000
	historyRetention = 90 * 24 * time.Hour
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

func main() {
	taskFlag := flag.String("task", "", "Task type to execute (e.g., expire_alerts)")
	refTimeFlag := flag.String("reference-time", "", "Override reference time (RFC3339, e.g., 2026-01-15T02:00:00Z)")
	listFlag := flag.Bool("list", false, "List all available task types and exit")
	dryRunFlag := flag.Bool("dry-run", false, "Print the JSON payload without executing")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Invoke sweeper maintenance tasks directly, bypassing Lambda.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nUse --list to see all available task types.\n")
	}

	flag.Parse()

	if *listFlag {
		printAvailableTasks(os.Stderr)
		return
	}

	payload, err := buildPayload(*taskFlag, *refTimeFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	if *dryRunFlag {
		if err := printPayload(os.Stdout, payload); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if reason, ok := tasksRequiringExternalServices[payload.Task]; ok {
		fmt.Fprintf(os.Stderr, "error: task %q requires %s which is not available in CLI context\n", payload.Task, reason)
		fmt.Fprintf(os.Stderr, "  use --dry-run to generate the JSON payload for manual invocation\n")
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file loaded (this is fine in production)", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := executeTask(ctx, payload, logger)
	if err != nil {
		logger.Error("task execution failed",
			"task", string(payload.Task),
			"error", err,
		)
		os.Exit(1)
	}

	logger.Info("task execution succeeded",
		"task", string(payload.Task),
		"result", result,
	)
}

// buildPayload validates the flags and builds the payload the sweeper
// Lambda would receive.
func buildPayload(task, refTime string) (scheduler.MaintenancePayload, error) {
	if task == "" {
		return scheduler.MaintenancePayload{}, fmt.Errorf("--task is required")
	}
	taskType := scheduler.TaskType(task)
	if _, ok := validTasks[taskType]; !ok {
		return scheduler.MaintenancePayload{}, fmt.Errorf("unknown task type %q", task)
	}

	payload := scheduler.MaintenancePayload{Task: taskType}
	if refTime != "" {
		t, err := time.Parse(time.RFC3339, refTime)
		if err != nil {
			return scheduler.MaintenancePayload{}, fmt.Errorf("invalid --reference-time %q: expected RFC3339", refTime)
		}
		t = t.UTC()
		payload.ReferenceTime = &t
	}
	return payload, nil
}

// executeTask connects to Postgres and runs the task under the same job lock
// and history bookkeeping as the sweeper.
func executeTask(ctx context.Context, payload scheduler.MaintenancePayload, logger *slog.Logger) (string, error) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL environment variable is required")
	}

	pool, err := db.NewPool(ctx, config.DatabaseConfig{
		URL:               types.SecretString(databaseURL),
		MaxConns:          2,
		MinConns:          1,
		MaxConnLifetime:   30 * time.Minute,
		AcquireTimeout:    5 * time.Second,
		HealthCheckPeriod: time.Minute,
	})
	if err != nil {
		return "", err
	}
	defer pool.Close()

	logger.Info("database connection established")

	jobLockRepo := db.NewJobLockRepository(pool)
	jobHistoryRepo := db.NewJobHistoryRepository(pool)
	workerID := fmt.Sprintf("job-runner-%s", uuid.New().String())

	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	taskStr := string(payload.Task)
	logger.Info("executing task",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", workerID,
	)

	lockID := "sweeper:" + taskStr
	acquired, err := jobLockRepo.Acquire(ctx, lockID, workerID, time.Now().UTC(), lockTTL)
	if err != nil {
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}
	defer func() {
		if err := jobLockRepo.Release(context.WithoutCancel(ctx), lockID, workerID); err != nil {
			logger.Warn("failed to release job lock", "lock_id", lockID, "error", err)
		}
	}()
	logger.Info("job lock acquired", "lock_id", lockID)

	jobID, err := jobHistoryRepo.Start(ctx, taskStr, time.Now().UTC())
	if err != nil {
		logger.Warn("failed to record job start (continuing anyway)", "error", err)
		jobID = 0
	}

	items, execErr := dispatch(ctx, payload.Task, now, pool, logger)

	status := "success"
	if execErr != nil {
		status = "failed"
	}
	if jobID != 0 {
		if finishErr := jobHistoryRepo.Finish(ctx, jobID, time.Now().UTC(), status, items, execErr); finishErr != nil {
			logger.Error("failed to record job completion", "job_id", jobID, "error", finishErr)
		}
	}

	if execErr != nil {
		return "", fmt.Errorf("task %s failed: %w", taskStr, execErr)
	}
	return fmt.Sprintf("task %s complete: %d items processed", taskStr, items), nil
}

// dispatch runs the Postgres-only tasks. SQS-bound tasks are rejected in
// main before reaching here.
func dispatch(ctx context.Context, task scheduler.TaskType, now time.Time, pool *pgxpool.Pool, logger *slog.Logger) (int, error) {
	typedLogger := &slogAdapter{logger: logger}

	switch task {
	case scheduler.TaskExpireAlerts:
		store := db.NewAlertStore(pool, db.NewPoolTxRunner(pool))
		machine := alerts.NewMachine(store, notifcore.NewRouter(typedLogger), purchase.NewDecider(), typedLogger)
		svc := scheduler.NewExpiryService(store, machine, notifcore.NopMetrics{}, logger)
		return svc.ExpireOverdue(ctx, now, expiryBatchSize)

	case scheduler.TaskArchiveHistory:
		svc := scheduler.NewArchiveService(
			db.NewHistoryRepository(pool),
			db.NewArchiveRepository(pool),
			notifcore.NopMetrics{},
			logger,
		)
		return svc.ArchiveHistory(ctx, now, historyRetention, archiveBatchSize)

	default:
		return 0, fmt.Errorf("task %q cannot be dispatched in CLI context", task)
	}
}

// printAvailableTasks lists task types sorted by name.
func printAvailableTasks(w io.Writer) {
	fmt.Fprintf(w, "Available task types:\n\n")

	tasks := make([]scheduler.TaskType, 0, len(validTasks))
	for t := range validTasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return string(tasks[i]) < string(tasks[j])
	})

	maxLen := 0
	for _, t := range tasks {
		if len(string(t)) > maxLen {
			maxLen = len(string(t))
		}
	}

	for _, t := range tasks {
		suffix := ""
		if _, ok := tasksRequiringExternalServices[t]; ok {
			suffix = " (dry-run only)"
		}
		fmt.Fprintf(w, "  %-*s  %s%s\n", maxLen, string(t), validTasks[t], suffix)
	}
	fmt.Fprintln(w)
}

// printPayload writes the payload as indented JSON.
func printPayload(w io.Writer, payload scheduler.MaintenancePayload) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
