package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunState is the state of a fill run
type RunState string

const (
	RunStateIdle         RunState = "idle"
	RunStateReadingSheet RunState = "reading_sheet"
	RunStateNavigating   RunState = "navigating"
	RunStateScanning     RunState = "scanning"
	RunStateFilling      RunState = "filling"
	RunStateCompleted    RunState = "completed"
	RunStateFailed       RunState = "failed"
)

// IsTerminal returns true if the run has finished
func (s RunState) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateFailed
}

// FillRequest asks for one sheet of a workbook to be entered into the form
type FillRequest struct {
	RunID        uuid.UUID `json:"run_id"`
	UserKey      string    `json:"user_key"`
	WorkbookPath string    `json:"workbook_path"`
	SheetName    string    `json:"sheet_name"`
}

// FillResult is returned to the caller once a run ends
type FillResult struct {
	RunID          uuid.UUID `json:"run_id"`
	IsSuccess      bool      `json:"is_success"`
	Status         string    `json:"status"`
	ProcessedCount int       `json:"processed_count"`
	FailedCount    int       `json:"failed_count"`
	TotalCount     int       `json:"total_count"`
	Logs           []string  `json:"logs"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	PageNumber     int       `json:"page_number,omitempty"`
	Duration       Millis    `json:"duration_ms"`
}

// AddLog appends a log line
func (r *FillResult) AddLog(line string) {
	r.Logs = append(r.Logs, line)
}

// Fail marks the run as failed with err as the error message
func (r *FillResult) Fail(err error) {
	r.IsSuccess = false
	r.ErrorMessage = err.Error()
}

// RunRecord is the cached view of a run used by status lookups
type RunRecord struct {
	RunID     uuid.UUID   `json:"run_id"`
	UserKey   string      `json:"user_key"`
	SheetName string      `json:"sheet_name"`
	State     RunState    `json:"state"`
	Progress  int         `json:"progress"`
	Result    *FillResult `json:"result,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Millis is a duration serialised as integer milliseconds
type Millis int64

// MillisSince returns the milliseconds elapsed since t
func MillisSince(t time.Time) Millis {
	return Millis(time.Since(t).Milliseconds())
}
