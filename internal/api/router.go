package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot/internal/api/handlers"
	"github.com/formpilot/formpilot/internal/api/middleware"
	"github.com/formpilot/formpilot/internal/observability"
	rediscache "github.com/formpilot/formpilot/internal/repository/redis"
	"github.com/formpilot/formpilot/pkg/httputil"
)

// FillService runs fills and owns the shared browser session
type FillService interface {
	handlers.FillRunner
	handlers.BrowserCloser
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// Router holds the HTTP router and its dependencies
type Router struct {
	chi.Router
	logger *zap.Logger
}

// RouterConfig contains configuration for the router. Optional collaborators are left nil
// when the backing service is not configured.
type RouterConfig struct {
	Fills     FillService
	Sessions  handlers.SessionState
	Hub       handlers.ProgressSubscriber
	Workbooks handlers.WorkbookResolver

	Cache     *rediscache.Cache
	Workflows handlers.WorkflowStarter
	Activity  handlers.ActivityLister
	ActLog    handlers.ActivitySubmitter
	Uploader  handlers.WorkbookUploader
	Metrics   *observability.Metrics

	ReadyChecks map[string]HealthCheck

	Logger          *zap.Logger
	UserHeader      string
	RequireIdentity bool
	CORSOrigins     []string
	RateLimit       int
	RateBurst       int
	UploadDir       string
	MaxUpload       int64
	Heartbeat       time.Duration
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	r := chi.NewRouter()

	// Base middleware stack
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(cfg.Logger).Handler)
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Handler)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.HTTPMiddleware)
	}

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", cfg.userHeader()},
			ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Health check endpoints (no identity required)
	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(cfg.readyChecks()))
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware(cfg.userHeader(), middleware.WithRequiredIdentity(cfg.RequireIdentity)).Handler)

		var counter middleware.Counter
		if cfg.Cache != nil {
			counter = cfg.Cache
		}
		if cfg.RateLimit > 0 {
			r.Use(middleware.NewRateLimitMiddleware(counter, cfg.RateLimit, cfg.RateBurst, cfg.Logger).Handler)
		}

		var runCache handlers.RunCache
		var completed handlers.CompletedStore
		if cfg.Cache != nil {
			runCache = cfg.Cache
			completed = cfg.Cache
		}

		fillHandler := handlers.NewFillHandler(cfg.Fills, runCache, cfg.Workflows, cfg.Logger)
		progressHandler := handlers.NewProgressHandler(cfg.Hub, cfg.Heartbeat, cfg.Logger)
		browserHandler := handlers.NewBrowserHandler(cfg.Sessions, cfg.Fills, cfg.Logger)
		sheetHandler := handlers.NewSheetHandler(handlers.SheetHandlerConfig{
			Completed: completed,
			Workbooks: cfg.Workbooks,
			Uploader:  cfg.Uploader,
			Activity:  cfg.ActLog,
			UploadDir: cfg.UploadDir,
			MaxUpload: cfg.MaxUpload,
			Logger:    cfg.Logger,
		})

		// Fills and the progress stream stay open for the length of a run
		r.Route("/fills", func(r chi.Router) {
			r.Post("/", fillHandler.Create)
			r.Post("/cancel", fillHandler.Cancel)
			r.Get("/{id}", fillHandler.Get)
		})
		r.Get("/progress/stream", progressHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(60 * time.Second))

			r.Get("/browser", browserHandler.Get)
			r.Delete("/browser", browserHandler.Close)

			r.Route("/sheets/completed", func(r chi.Router) {
				r.Get("/", sheetHandler.ListCompleted)
				r.Post("/", sheetHandler.MarkCompleted)
				r.Delete("/", sheetHandler.ClearCompleted)
			})

			r.Post("/workbooks", sheetHandler.Upload)
			r.Post("/workbooks/sheets", sheetHandler.Describe)

			if cfg.Activity != nil {
				activityHandler := handlers.NewActivityHandler(cfg.Activity, cfg.Logger)
				r.Get("/activity", activityHandler.List)
			}
		})
	})

	return &Router{
		Router: r,
		logger: cfg.Logger,
	}
}

func (cfg RouterConfig) userHeader() string {
	if cfg.UserHeader == "" {
		return "X-User"
	}
	return cfg.UserHeader
}

func (cfg RouterConfig) readyChecks() map[string]HealthCheck {
	checks := make(map[string]HealthCheck, len(cfg.ReadyChecks)+1)
	for name, check := range cfg.ReadyChecks {
		checks[name] = check
	}
	if _, ok := checks["redis"]; !ok && cfg.Cache != nil {
		checks["redis"] = cfg.Cache.Health
	}
	return checks
}

// healthHandler returns basic health status
func healthHandler(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "formpilot-api",
	})
}

// readyHandler checks if all dependencies are ready
func readyHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		results := make(map[string]string, len(checks))
		allHealthy := true

		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				results[name] = "unhealthy: " + err.Error()
				allHealthy = false
			} else {
				results[name] = "healthy"
			}
		}

		status := http.StatusOK
		statusText := "ready"
		if !allHealthy {
			status = http.StatusServiceUnavailable
			statusText = "not ready"
		}

		httputil.JSON(w, status, map[string]any{
			"status": statusText,
			"checks": results,
		})
	}
}
