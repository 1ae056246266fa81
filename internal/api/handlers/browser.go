package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/formpilot/formpilot/internal/api/middleware"
	"github.com/formpilot/formpilot/internal/browser"
	"github.com/formpilot/formpilot/internal/domain"
	"github.com/formpilot/formpilot/pkg/httputil"
)

// SessionState reports on the shared browser session
type SessionState interface {
	State() browser.State
}

// BrowserCloser releases the shared browser session on behalf of a user
type BrowserCloser interface {
	CloseBrowser(ctx context.Context, userKey string) error
}

// BrowserHandler handles browser session requests
type BrowserHandler struct {
	state  SessionState
	closer BrowserCloser
	logger *zap.Logger
}

// NewBrowserHandler creates a browser handler
func NewBrowserHandler(state SessionState, closer BrowserCloser, logger *zap.Logger) *BrowserHandler {
	return &BrowserHandler{state: state, closer: closer, logger: logger}
}

// Get handles GET /api/v1/browser
func (h *BrowserHandler) Get(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, h.state.State())
}

// Close handles DELETE /api/v1/browser
func (h *BrowserHandler) Close(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if err := h.closer.CloseBrowser(r.Context(), user); err != nil {
		h.logger.Error("Failed to close browser", zap.String("user", user), zap.Error(err))
		httputil.ErrorFromDomain(w, domain.ErrInternal("Failed to close browser").WithCause(err))
		return
	}

	httputil.JSON(w, http.StatusOK, h.state.State())
}
