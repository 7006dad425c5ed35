// Package main is the entry point for the TicketWatch API.
//
// The API exposes the alert lifecycle (pause, resume, dismiss, delete), alert
// history, per-preference insights and the matching/quiet-hours previews.
//
// Locally (no Lambda runtime variables) it runs as a plain HTTP server on the
// configured port. Inside Lambda it serves API Gateway HTTP events through
// core.Server.LambdaHandler.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"ticketwatch/internal/alerts"
	"ticketwatch/internal/api/handlers"
	"ticketwatch/internal/config"
	"ticketwatch/internal/core"
	"ticketwatch/internal/db"
	"ticketwatch/internal/insights"
	notifcore "ticketwatch/internal/notifications/core"
	"ticketwatch/internal/purchase"
	"ticketwatch/internal/types"
)

// slogAdapter wraps *slog.Logger to implement types.Logger. slog.Logger's
// With returns *slog.Logger, so it cannot satisfy the interface directly.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// alertService is the part of *alerts.Machine plus the alert store the alert
// handler needs.
type alertService interface {
	handlers.AlertReader
	handlers.AlertLifecycle
}

// apiDeps are the domain services behind the HTTP handlers.
type apiDeps struct {
	Alerts     alertService
	History    handlers.HistoryLister
	Insights   handlers.InsightsService
	PrefAlerts handlers.PreferenceAlertLister
	Probes     []core.HealthProbe
	Metrics    core.MetricsCollector
	Closers    []func()
}

// machineService reads through the store and mutates through the machine.
type machineService struct {
	*alerts.Machine
	store *db.AlertStore
}

func (m machineService) GetStateByID(ctx context.Context, id string) (*types.AlertState, error) {
	return m.store.GetStateByID(ctx, id)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("ticketwatch API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()
	deps, err := wireDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv, err := buildServer(cfg, logger, deps)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	if isLambdaEnvironment() {
		logger.Info("running in Lambda mode")
		lambda.Start(srv.LambdaHandler())
		return nil
	}

	return runHTTPServer(srv, cfg, logger)
}

// wireDeps connects to Postgres and CloudWatch and builds the domain services.
func wireDeps(ctx context.Context, cfg *config.Config, logger *slog.Logger) (apiDeps, error) {
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return apiDeps{}, err
	}

	typedLogger := &slogAdapter{logger: logger}

	store := db.NewAlertStore(pool, db.NewPoolTxRunner(pool))
	history := db.NewHistoryRepository(pool)
	prefs := db.NewPreferenceRepository(pool)

	machine := alerts.NewMachine(
		store,
		notifcore.NewRouter(typedLogger),
		purchase.NewDecider(),
		typedLogger,
		alerts.WithMaxRetries(cfg.Engine.MaxRetries),
	)

	deps := apiDeps{
		Alerts:     machineService{Machine: machine, store: store},
		History:    history,
		Insights:   insights.NewService(history, prefs),
		PrefAlerts: store,
		Probes: []core.HealthProbe{
			core.PingProbe{ProbeName: "database", Ping: pool.Ping},
		},
		Closers: []func(){pool.Close},
	}

	if cfg.Observability.EnableMetrics {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			pool.Close()
			return apiDeps{}, fmt.Errorf("loading AWS config: %w", err)
		}
		deps.Metrics = core.NewCloudWatchRequestMetrics(
			cloudwatch.NewFromConfig(awsCfg),
			cfg.Observability.MetricNamespace,
			typedLogger,
		)
	}
	return deps, nil
}

// buildServer assembles the chassis and registers the domain handlers.
func buildServer(cfg *config.Config, logger *slog.Logger, deps apiDeps) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	srv.Metrics = deps.Metrics
	srv.HealthProbes = deps.Probes
	srv.Closers = deps.Closers

	clock := types.RealClock{}
	alertHandler := handlers.NewAlertHandler(deps.Alerts, deps.Alerts, deps.History, clock, logger)
	prefHandler := handlers.NewPreferenceHandler(deps.Insights, deps.PrefAlerts, clock, logger)
	matchHandler := handlers.NewMatchHandler(srv.Validator, clock, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		alertHandler.RegisterRoutes,
		prefHandler.RegisterRoutes,
		matchHandler.RegisterRoutes,
	)

	srv.MountRoutes()
	return srv, nil
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// Compile-time assertions.
var (
	_ types.Logger = (*slogAdapter)(nil)
	_ alertService = machineService{}
)
