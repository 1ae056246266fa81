package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	fillactivities "github.com/formpilot/formpilot/internal/activities/fill"
	"github.com/formpilot/formpilot/internal/app"
	"github.com/formpilot/formpilot/internal/config"
	"github.com/formpilot/formpilot/internal/observability"
	"github.com/formpilot/formpilot/internal/temporal"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(string(cfg.Env), cfg.GetLogLevel())
	defer logger.Sync()

	logger.Info("Starting FormPilot Worker",
		zap.String("version", cfg.App.Version),
		zap.String("environment", string(cfg.Env)),
		zap.String("temporal_address", cfg.Temporal.Address()),
		zap.String("namespace", cfg.Temporal.Namespace),
		zap.String("task_queue", cfg.Temporal.TaskQueue),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Features.EnableMetrics {
		metrics = observability.NewMetrics(cfg.App.Name)
	}

	// Progress goes to Redis so API observers see it
	a := app.Build(ctx, cfg, metrics, logger, app.Options{})
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("Shutdown incomplete", zap.Error(err))
		}
	}()
	if a.Cache == nil {
		logger.Warn("Redis unavailable, progress from this worker is not visible to API observers")
	}

	// Create Temporal client
	c, err := temporal.NewClient(cfg.Temporal, logger)
	if err != nil {
		logger.Fatal("Failed to create Temporal client", zap.Error(err))
	}
	defer c.Close()

	logger.Info("Connected to Temporal server")

	// WorkerCount bounds how many fills share this worker's browser at once
	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     cfg.Temporal.WorkerCount,
		MaxConcurrentWorkflowTaskExecutionSize: cfg.Temporal.WorkerCount,
	})

	fillactivities.Register(w, fillactivities.NewActivity(a.Fills, metrics, logger.Named("activity")))

	logger.Info("Registered workflows and activities",
		zap.Int("activity_count", 2),
		zap.Int("workflow_count", 1),
	)

	var metricsServer *http.Server
	if metrics != nil {
		r := chi.NewRouter()
		r.Handle("/metrics", metrics.Handler())
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		metricsServer = &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("Worker metrics listening", zap.String("addr", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	// Start worker in goroutine
	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- w.Run(worker.InterruptCh())
	}()

	logger.Info("Worker started successfully",
		zap.String("task_queue", cfg.Temporal.TaskQueue),
	)

	// Wait for shutdown signal or worker error
	select {
	case err := <-workerErrors:
		if err != nil {
			logger.Error("Worker error", zap.Error(err))
		}

	case <-ctx.Done():
		logger.Info("Shutdown signal received")
		w.Stop()
		logger.Info("Worker stopped gracefully")
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
}

func initLogger(env, level string) *zap.Logger {
	var config zap.Config
	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if lvl, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	logger, err := config.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}

	return logger
}
