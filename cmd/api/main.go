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

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/formpilot/formpilot/internal/api"
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

	logger.Info("Starting FormPilot API",
		zap.String("version", cfg.App.Version),
		zap.String("environment", string(cfg.Env)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Features.EnableMetrics {
		metrics = observability.NewMetrics(cfg.App.Name)
	}

	a := app.Build(ctx, cfg, metrics, logger, app.Options{})
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("Shutdown incomplete", zap.Error(err))
		}
	}()

	// Progress published by workers reaches observers connected here
	go a.RelayProgress(ctx)

	routerCfg := api.RouterConfig{
		Fills:           a.Fills,
		Sessions:        a.Sessions,
		Hub:             a.Hub,
		Workbooks:       a.Workbooks,
		Cache:           a.Cache,
		Metrics:         metrics,
		ReadyChecks:     map[string]api.HealthCheck{},
		Logger:          logger,
		UserHeader:      cfg.Security.UserHeader,
		RequireIdentity: cfg.IsProduction(),
		UploadDir:       cfg.Storage.TempDir,
	}
	for name, check := range a.ReadyChecks() {
		routerCfg.ReadyChecks[name] = check
	}
	if cfg.Security.CORSEnabled {
		routerCfg.CORSOrigins = cfg.Security.CORSAllowedOrigins
	}
	if cfg.RateLimit.Enabled {
		routerCfg.RateLimit = cfg.RateLimit.RequestsPerMin
		routerCfg.RateBurst = cfg.RateLimit.BurstSize
	}
	if a.ActivityRepo != nil {
		routerCfg.Activity = a.ActivityRepo
		routerCfg.ActLog = a.Activity
	}
	if a.Storage != nil {
		routerCfg.Uploader = a.Storage
	}

	// Connect to Temporal (optional)
	if cfg.Temporal.Enabled {
		tc, err := temporal.NewClient(cfg.Temporal, logger)
		if err != nil {
			logger.Warn("Failed to connect to Temporal, async fills run in process", zap.Error(err))
		} else {
			defer tc.Close()
			routerCfg.Workflows = tc
			routerCfg.ReadyChecks["temporal"] = func(ctx context.Context) error {
				_, err := tc.CheckHealth(ctx, &client.CheckHealthRequest{})
				return err
			}
			logger.Info("Connected to Temporal",
				zap.String("address", cfg.Temporal.Address()),
				zap.String("namespace", cfg.Temporal.Namespace),
				zap.String("task_queue", tc.TaskQueue()),
			)
		}
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("API server listening", zap.String("addr", server.Addr))
		if cfg.Security.TLSEnabled {
			serverErrors <- server.ListenAndServeTLS(cfg.Security.TLSCertFile, cfg.Security.TLSKeyFile)
			return
		}
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", zap.Error(err))
		}

	case <-ctx.Done():
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Attempt graceful shutdown
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed, forcing close", zap.Error(err))
			server.Close()
		}

		logger.Info("Server stopped gracefully")
	}
}

// initLogger creates a configured zap logger
func initLogger(env, level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var config zap.Config
	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := config.Build()
	if err != nil {
		// Fall back to basic logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
