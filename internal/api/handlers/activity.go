package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/formpilot/formpilot/internal/api/middleware"
	"github.com/formpilot/formpilot/internal/domain"
	"github.com/formpilot/formpilot/internal/repository/postgres"
	"github.com/formpilot/formpilot/pkg/httputil"
)

// ActivityLister reads the activity log
type ActivityLister interface {
	List(ctx context.Context, opts postgres.ListOptions) ([]domain.ActivityEntry, error)
}

// ActivityHandler serves the caller's activity log
type ActivityHandler struct {
	lister ActivityLister
	logger *zap.Logger
}

// NewActivityHandler creates an activity handler
func NewActivityHandler(lister ActivityLister, logger *zap.Logger) *ActivityHandler {
	return &ActivityHandler{lister: lister, logger: logger}
}

// List handles GET /api/v1/activity
func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) {
	pagination := httputil.GetPagination(r, 20, 100)

	entries, err := h.lister.List(r.Context(), postgres.ListOptions{
		UserKey: middleware.GetUser(r.Context()),
		Action:  r.URL.Query().Get("action"),
		Limit:   pagination.PerPage,
		Offset:  pagination.Offset,
	})
	if err != nil {
		h.logger.Error("Failed to list activity", zap.Error(err))
		httputil.ErrorFromDomain(w, domain.ErrDatabase(err))
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, entries, &httputil.Meta{
		Page:    pagination.Page,
		PerPage: pagination.PerPage,
		Count:   len(entries),
	})
}
