package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot/internal/api/middleware"
	"github.com/formpilot/formpilot/internal/domain"
	"github.com/formpilot/formpilot/internal/temporal"
	"github.com/formpilot/formpilot/internal/workflows"
	"github.com/formpilot/formpilot/pkg/httputil"
)

// FillRunner executes fills in this process
type FillRunner interface {
	Run(ctx context.Context, req domain.FillRequest) *domain.FillResult
	Cancel(ctx context.Context, userKey string) error
	Lookup(id uuid.UUID) *domain.RunRecord
	Track(ctx context.Context, run *domain.RunRecord)
}

// RunCache reads run records shared between the API and workers
type RunCache interface {
	GetRun(ctx context.Context, id uuid.UUID) (*domain.RunRecord, error)
}

// WorkflowStarter hands fills to the workflow workers
type WorkflowStarter interface {
	StartFill(ctx context.Context, input workflows.FillInput) (client.WorkflowRun, error)
	GetWorkflowStatus(ctx context.Context, workflowID, runID string) (*temporal.WorkflowStatus, error)
	CancelWorkflow(ctx context.Context, workflowID, runID string) error
}

// FillHandler handles fill run requests
type FillHandler struct {
	runner    FillRunner
	cache     RunCache
	workflows WorkflowStarter
	logger    *zap.Logger

	mu sync.Mutex
	// latest workflow started by each user from this process
	active map[string]string
}

// NewFillHandler creates a fill handler. cache and starter may be nil.
func NewFillHandler(runner FillRunner, cache RunCache, starter WorkflowStarter, logger *zap.Logger) *FillHandler {
	return &FillHandler{
		runner:    runner,
		cache:     cache,
		workflows: starter,
		logger:    logger,
		active:    make(map[string]string),
	}
}

// CreateFillRequest is the request body for starting a fill
type CreateFillRequest struct {
	WorkbookPath string `json:"workbook_path"`
	SheetName    string `json:"sheet_name"`
	Async        bool   `json:"async,omitempty"`
}

// AcceptedFillResponse is returned for fills that run in the background
type AcceptedFillResponse struct {
	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Status     string `json:"status"`
}

// Create handles POST /api/v1/fills
func (h *FillHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateFillRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.ErrorFromDomain(w, err)
		return
	}

	req.WorkbookPath = strings.TrimSpace(req.WorkbookPath)
	req.SheetName = strings.TrimSpace(req.SheetName)
	if req.WorkbookPath == "" {
		httputil.ErrorFromDomain(w, domain.ErrValidationField("workbook_path", "Upload a workbook first"))
		return
	}
	if req.SheetName == "" {
		httputil.ErrorFromDomain(w, domain.ErrValidationField("sheet_name", "Select a sheet"))
		return
	}

	fill := domain.FillRequest{
		RunID:        uuid.New(),
		UserKey:      middleware.GetUser(r.Context()),
		WorkbookPath: req.WorkbookPath,
		SheetName:    req.SheetName,
	}

	if !req.Async {
		// A dropped connection must not leave the form half filled
		result := h.runner.Run(context.WithoutCancel(r.Context()), fill)
		httputil.JSON(w, http.StatusOK, result)
		return
	}

	if h.workflows != nil {
		h.startWorkflow(w, r, fill)
		return
	}

	// No workers: run in the background of this process
	go h.runner.Run(context.WithoutCancel(r.Context()), fill)

	httputil.JSON(w, http.StatusAccepted, AcceptedFillResponse{
		RunID:  fill.RunID.String(),
		Status: string(domain.RunStateIdle),
	})
}

func (h *FillHandler) startWorkflow(w http.ResponseWriter, r *http.Request, fill domain.FillRequest) {
	input := workflows.FillInput{
		RunID:        fill.RunID,
		UserKey:      fill.UserKey,
		WorkbookPath: fill.WorkbookPath,
		SheetName:    fill.SheetName,
	}

	run, err := h.workflows.StartFill(r.Context(), input)
	if err != nil {
		h.logger.Error("Failed to start fill workflow", zap.Error(err))
		httputil.ErrorFromDomain(w, domain.ErrServiceUnavailable("workflow").WithCause(err))
		return
	}

	h.mu.Lock()
	h.active[fill.UserKey] = run.GetID()
	h.mu.Unlock()

	now := time.Now().UTC()
	h.runner.Track(r.Context(), &domain.RunRecord{
		RunID:     fill.RunID,
		UserKey:   fill.UserKey,
		SheetName: fill.SheetName,
		State:     domain.RunStateIdle,
		StartedAt: now,
	})

	httputil.JSON(w, http.StatusAccepted, AcceptedFillResponse{
		RunID:      fill.RunID.String(),
		WorkflowID: run.GetID(),
		Status:     string(domain.RunStateIdle),
	})
}

// Get handles GET /api/v1/fills/{id}
func (h *FillHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "INVALID_ID", "Invalid run ID format", nil)
		return
	}

	if run := h.runner.Lookup(id); run != nil {
		httputil.JSON(w, http.StatusOK, run)
		return
	}

	if h.cache != nil {
		run, err := h.cache.GetRun(r.Context(), id)
		if err != nil {
			h.logger.Warn("Failed to read cached run", zap.String("run_id", id.String()), zap.Error(err))
		} else if run != nil {
			httputil.JSON(w, http.StatusOK, run)
			return
		}
	}

	// A workflow run that has not reported yet is only known to the workflow server
	if h.workflows != nil {
		status, err := h.workflows.GetWorkflowStatus(r.Context(), workflows.WorkflowID(id), "")
		if err == nil {
			httputil.JSON(w, http.StatusOK, &domain.RunRecord{
				RunID:     id,
				State:     status.RunState(),
				StartedAt: status.StartTime,
			})
			return
		}
		h.logger.Debug("Workflow lookup failed", zap.String("run_id", id.String()), zap.Error(err))
	}

	httputil.ErrorFromDomain(w, domain.ErrRunNotFound(id.String()))
}

// Cancel handles POST /api/v1/fills/cancel. The caller's browser in this process is closed
// and, when fills run on workers, the caller's latest workflow is cancelled too.
func (h *FillHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	if h.workflows != nil {
		h.mu.Lock()
		workflowID, ok := h.active[user]
		delete(h.active, user)
		h.mu.Unlock()

		if ok {
			if err := h.workflows.CancelWorkflow(r.Context(), workflowID, ""); err != nil {
				// usually the workflow has already finished
				h.logger.Info("Workflow not cancelled", zap.String("workflow_id", workflowID), zap.Error(err))
			}
		}
	}

	if err := h.runner.Cancel(r.Context(), user); err != nil {
		// the session is gone either way
		h.logger.Warn("Browser did not close cleanly", zap.String("user", user), zap.Error(err))
	}

	httputil.JSON(w, http.StatusOK, map[string]string{
		"message": "Automation cancelled and browser closed",
	})
}
