package domain

import (
	"time"

	"github.com/google/uuid"
)

// Activity actions
const (
	ActionFill         = "fill"
	ActionCancel       = "cancel"
	ActionCloseBrowser = "close_browser"
	ActionUpload       = "upload"
)

// Activity statuses
const (
	ActivitySuccess = "success"
	ActivityFailed  = "failed"
	ActivityInfo    = "info"
)

// ActivityEntry records a user-visible action for later review
type ActivityEntry struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Action     string    `json:"action" db:"action"`
	UserKey    string    `json:"user_key" db:"user_key"`
	FileName   string    `json:"file_name,omitempty" db:"file_name"`
	SheetName  string    `json:"sheet_name,omitempty" db:"sheet_name"`
	Status     string    `json:"status" db:"status"`
	DurationMs int64     `json:"duration_ms" db:"duration_ms"`
	Details    string    `json:"details,omitempty" db:"details"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// NewActivityEntry creates an entry stamped with a fresh ID and the current time
func NewActivityEntry(action, userKey, status string) ActivityEntry {
	return ActivityEntry{
		ID:        uuid.New(),
		Action:    action,
		UserKey:   userKey,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
}
