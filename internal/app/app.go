// Package app assembles the fill service and its optional backing services from configuration.
// Every backing service except the browser is optional: a missing Redis, database or object
// store disables the feature it serves and is logged, never fatal.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/formpilot/formpilot/internal/activity"
	"github.com/formpilot/formpilot/internal/browser"
	"github.com/formpilot/formpilot/internal/config"
	"github.com/formpilot/formpilot/internal/observability"
	"github.com/formpilot/formpilot/internal/progress"
	"github.com/formpilot/formpilot/internal/repository/postgres"
	rediscache "github.com/formpilot/formpilot/internal/repository/redis"
	fillservice "github.com/formpilot/formpilot/internal/services/fill"
	"github.com/formpilot/formpilot/internal/sheet"
	"github.com/formpilot/formpilot/internal/storage"
)

// App holds the wired components of a process
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics

	Cache        *rediscache.Cache
	DB           *postgres.DB
	Activity     *activity.Recorder
	ActivityRepo *postgres.ActivityRepository
	Storage      *storage.MinIOClient
	Workbooks    *storage.WorkbookSource
	Hub          *progress.Hub
	Publisher    progress.Publisher
	Sessions     *browser.Manager
	Fills        *fillservice.Service

	closers []func() error
}

// Options tunes Build
type Options struct {
	// Launcher overrides the browser chosen from configuration
	Launcher browser.Launcher
	// LocalProgress publishes to the in-process hub even when Redis is available.
	// Processes that relay Redis into the hub leave this false to avoid duplicates.
	LocalProgress bool
}

// Build connects the configured backing services and wires the fill service. A backing
// service that cannot be reached is left nil and its feature disabled.
func Build(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger, opts Options) *App {
	a := &App{Config: cfg, Logger: logger, Metrics: metrics}

	if cfg.Redis.Enabled {
		cache, err := rediscache.New(cfg.Redis)
		if err != nil {
			logger.Warn("Failed to connect to Redis, run cache and cross-process progress disabled", zap.Error(err))
		} else {
			a.Cache = cache
			a.closers = append(a.closers, cache.Close)
			logger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr()))
		}
	}

	if cfg.Database.Enabled && cfg.Features.EnableActivityLog {
		db, err := postgres.New(cfg.Database)
		if err != nil {
			logger.Warn("Failed to connect to database, activity log disabled", zap.Error(err))
		} else {
			a.DB = db
			a.closers = append(a.closers, db.Close)
			a.ActivityRepo = postgres.NewActivityRepository(db)
			a.Activity = activity.NewRecorder(a.ActivityRepo, activity.DefaultConfig(), logger.Named("activity"))
			if metrics != nil {
				a.Activity.OnResult(metrics.RecordActivityJob)
			}
			a.closers = append(a.closers, a.Activity.Close)
			logger.Info("Connected to PostgreSQL",
				zap.String("host", cfg.Database.Host),
				zap.Int("port", cfg.Database.Port),
			)
		}
	}

	var objects storage.ObjectGetter
	if cfg.Storage.Enabled {
		client, err := storage.NewMinIOClient(cfg.Storage)
		if err == nil {
			err = client.EnsureBucket(ctx)
		}
		if err != nil {
			logger.Warn("Object storage unavailable, only local workbook paths resolve", zap.Error(err))
		} else {
			a.Storage = client
			objects = client
			logger.Info("Object storage ready",
				zap.String("endpoint", cfg.Storage.Endpoint),
				zap.String("bucket", client.Bucket()),
			)
		}
	}
	a.Workbooks = storage.NewWorkbookSource(objects, cfg.Storage.TempDir, logger.Named("workbooks"))

	hubCfg := progress.HubConfig{}
	if metrics != nil {
		hubCfg.OnDrop = metrics.ProgressEventsDropped.Inc
		hubCfg.OnSubscribers = func(total int) { metrics.ProgressSubscribers.Set(float64(total)) }
	}
	a.Hub = progress.NewHub(hubCfg, logger.Named("progress"))
	a.Publisher = a.Hub
	if a.Cache != nil && !opts.LocalProgress {
		a.Publisher = progress.NewRedisPublisher(a.Cache, logger.Named("progress"))
	}

	launcher := opts.Launcher
	if launcher == nil {
		if cfg.Browser.Mock {
			logger.Warn("Using the in-memory demo browser")
			launcher = browser.NewDemoLauncher(cfg.Form)
		} else {
			launcher = browser.NewPlaywrightLauncher(cfg.Browser, logger.Named("browser"))
		}
	}
	a.Sessions = browser.NewManager(launcher, logger.Named("browser"))
	if metrics != nil {
		a.Sessions.OnLaunch(func(ok bool) {
			metrics.RecordBrowserLaunch(ok)
			if ok {
				metrics.SetBrowserOpen(true)
			}
		})
	}

	svcCfg := fillservice.ServiceConfig{
		Browser:       cfg.Browser,
		Form:          cfg.Form,
		SerializeRuns: cfg.Features.SerializeRuns,
		Workbooks:     a.Workbooks,
		Reader:        sheet.NewReader(logger.Named("sheet")),
		Sessions:      a.Sessions,
		Publisher:     a.Publisher,
		Metrics:       metrics,
		Logger:        logger.Named("fill"),
	}
	if a.Cache != nil {
		svcCfg.Runs = a.Cache
	}
	if a.Activity != nil {
		svcCfg.Activity = a.Activity
	}
	a.Fills = fillservice.NewService(svcCfg)

	return a
}

// RelayProgress forwards progress published by other processes to local observers until
// ctx ends. It returns immediately when Redis is not configured.
func (a *App) RelayProgress(ctx context.Context) {
	if a.Cache == nil {
		return
	}
	sub := a.Cache.SubscribeProgress(ctx)
	defer sub.Close()
	progress.Forward(ctx, sub.Channel(), a.Hub, a.Logger.Named("progress"))
}

// ReadyChecks returns the health checks of the connected backing services
func (a *App) ReadyChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{}
	if a.Cache != nil {
		checks["redis"] = a.Cache.Health
	}
	if a.DB != nil {
		checks["database"] = a.DB.Health
	}
	return checks
}

// Close releases the browser and disconnects backing services, draining the activity log
// before its database goes away.
func (a *App) Close() error {
	var firstErr error
	if a.Sessions != nil {
		if err := a.Sessions.Release(); err != nil {
			firstErr = fmt.Errorf("releasing browser: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out closing backing services")
	}
	return firstErr
}
