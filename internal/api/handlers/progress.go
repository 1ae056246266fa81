package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot/internal/api/middleware"
	"github.com/formpilot/formpilot/internal/progress"
)

// ProgressSubscriber hands out observer streams for a channel
type ProgressSubscriber interface {
	Subscribe(channel string) (<-chan progress.Event, func())
}

// ProgressHandler streams a user's progress channel as server-sent events
type ProgressHandler struct {
	hub       ProgressSubscriber
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewProgressHandler creates a progress handler. A non-positive heartbeat defaults to 15s.
func NewProgressHandler(hub ProgressSubscriber, heartbeat time.Duration, logger *zap.Logger) *ProgressHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &ProgressHandler{hub: hub, heartbeat: heartbeat, logger: logger}
}

// Stream handles GET /api/v1/progress/stream. The caller joins its own channel on connect
// and leaves it when the connection closes.
func (h *ProgressHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	user := middleware.GetUser(r.Context())
	events, leave := h.hub.Subscribe(user)
	defer leave()

	w.Header().Set("Content-Type", sse.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(event sse.Event) bool {
		if err := sse.Encode(w, event); err != nil {
			h.logger.Debug("progress stream write failed", zap.String("user", user), zap.Error(err))
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(sse.Event{Event: "connected", Data: map[string]string{"channel": user}}) {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if !send(sse.Event{Id: e.RunID, Event: e.Kind, Data: e}) {
				return
			}
		case t := <-ticker.C:
			if !send(sse.Event{Event: "heartbeat", Data: t.UTC().Unix()}) {
				return
			}
		}
	}
}
