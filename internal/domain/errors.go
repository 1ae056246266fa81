package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Error codes for categorization
const (
	// Client errors (4xx)
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeUnsupportedType = "UNSUPPORTED_FILE_TYPE"
	ErrCodePayloadTooLarge = "PAYLOAD_TOO_LARGE"

	// Server errors (5xx)
	ErrCodeInternal       = "INTERNAL_ERROR"
	ErrCodeDatabase       = "DATABASE_ERROR"
	ErrCodeExternalAPI    = "EXTERNAL_API_ERROR"
	ErrCodeServiceUnavail = "SERVICE_UNAVAILABLE"

	// Workbook input errors
	ErrCodeSheetNotFound          = "SHEET_NOT_FOUND"
	ErrCodeEmptySheet             = "EMPTY_SHEET"
	ErrCodeRequiredColumnsMissing = "REQUIRED_COLUMNS_MISSING"
	ErrCodeWorkbookUnreadable     = "WORKBOOK_UNREADABLE"

	// Browser session errors
	ErrCodeSessionStartFailed = "SESSION_START_FAILED"
	ErrCodeBinaryNotFound     = "BROWSER_BINARY_NOT_FOUND"
	ErrCodeSessionClosed      = "SESSION_CLOSED"
	ErrCodeNavigationFailed   = "NAVIGATION_FAILED"

	// Per-item fill errors
	ErrCodeFieldNotFound = "FIELD_NOT_FOUND"
	ErrCodeSelectFailed  = "SELECT_FAILED"
)

// AppError is the base error type for all application errors
type AppError struct {
	// Error code for programmatic handling
	Code string `json:"code"`

	// Human-readable message
	Message string `json:"message"`

	// Detailed description (optional, for developers)
	Details string `json:"details,omitempty"`

	// HTTP status code
	HTTPStatus int `json:"-"`

	// Original error (for error wrapping)
	Cause error `json:"-"`

	// Metadata for additional context
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Timestamp when error occurred
	Timestamp time.Time `json:"timestamp"`

	// Retry information
	Retryable  bool          `json:"retryable"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for error comparison
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithCause adds the underlying cause
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// WithMetadata adds metadata to the error
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithRetry marks the error as retryable
func (e *AppError) WithRetry(after time.Duration) *AppError {
	e.Retryable = true
	e.RetryAfter = after
	return e
}

// Error constructors

// NewError creates a new AppError
func NewError(code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Timestamp:  time.Now().UTC(),
	}
}

// Validation errors

func ErrValidationField(field, message string) *AppError {
	return NewError(ErrCodeValidation, message, http.StatusBadRequest).
		WithMetadata("field", field)
}

// Not found errors

func ErrNotFound(resource, id string) *AppError {
	return NewError(ErrCodeNotFound, fmt.Sprintf("%s not found: %s", resource, id), http.StatusNotFound).
		WithMetadata("resource", resource).
		WithMetadata("id", id)
}

func ErrRunNotFound(id string) *AppError {
	return ErrNotFound("fill_run", id)
}

func ErrUnsupportedFileType(fileName string, allowed []string) *AppError {
	return NewError(ErrCodeUnsupportedType, fmt.Sprintf("Only %s workbooks are supported", strings.Join(allowed, " and ")), http.StatusUnsupportedMediaType).
		WithMetadata("file", fileName)
}

func ErrPayloadTooLarge(limit int64) *AppError {
	return NewError(ErrCodePayloadTooLarge, "Request body too large", http.StatusRequestEntityTooLarge).
		WithMetadata("limit_bytes", limit)
}

// Server errors

func ErrInternal(message string) *AppError {
	if message == "" {
		message = "Internal server error"
	}
	return NewError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func ErrDatabase(err error) *AppError {
	return NewError(ErrCodeDatabase, "Database error", http.StatusInternalServerError).
		WithCause(err)
}

func ErrExternalAPI(service string, err error) *AppError {
	return NewError(ErrCodeExternalAPI, fmt.Sprintf("External API error: %s", service), http.StatusBadGateway).
		WithCause(err).
		WithMetadata("service", service).
		WithRetry(5 * time.Second)
}

func ErrServiceUnavailable(service string) *AppError {
	return NewError(ErrCodeServiceUnavail, fmt.Sprintf("Service unavailable: %s", service), http.StatusServiceUnavailable).
		WithMetadata("service", service).
		WithRetry(30 * time.Second)
}

// Workbook input errors

func ErrSheetNotFound(sheet string) *AppError {
	return NewError(ErrCodeSheetNotFound, fmt.Sprintf("Sheet '%s' not found", sheet), http.StatusNotFound).
		WithMetadata("sheet", sheet)
}

func ErrEmptySheet(sheet string) *AppError {
	return NewError(ErrCodeEmptySheet, fmt.Sprintf("Sheet '%s' is empty", sheet), http.StatusUnprocessableEntity).
		WithMetadata("sheet", sheet)
}

func ErrRequiredColumnsMissing(headers []string) *AppError {
	return NewError(ErrCodeRequiredColumnsMissing, "Required columns not found", http.StatusUnprocessableEntity).
		WithDetails(fmt.Sprintf("Found columns: %s", strings.Join(headers, ", "))).
		WithMetadata("headers", headers)
}

func ErrWorkbookUnreadable(path string, err error) *AppError {
	return NewError(ErrCodeWorkbookUnreadable, fmt.Sprintf("Workbook could not be read: %s", path), http.StatusUnprocessableEntity).
		WithCause(err).
		WithMetadata("path", path)
}

// Browser session errors

func ErrSessionStartFailed(err error) *AppError {
	return NewError(ErrCodeSessionStartFailed, "Browser session could not be started", http.StatusServiceUnavailable).
		WithCause(err)
}

func ErrBinaryNotFound(goos string, candidates []string) *AppError {
	return NewError(ErrCodeBinaryNotFound, fmt.Sprintf("Browser binary not found on %s", goos), http.StatusServiceUnavailable).
		WithMetadata("os", goos).
		WithMetadata("candidates", candidates)
}

func ErrSessionClosed(err error) *AppError {
	return NewError(ErrCodeSessionClosed, "Browser session is closed", http.StatusConflict).
		WithCause(err)
}

func ErrNavigationFailed(url string, err error) *AppError {
	return NewError(ErrCodeNavigationFailed, fmt.Sprintf("Navigation failed: %s", url), http.StatusBadGateway).
		WithCause(err).
		WithMetadata("url", url)
}

// Per-item fill errors

func ErrFieldNotFound(fieldID string, err error) *AppError {
	return NewError(ErrCodeFieldNotFound, fmt.Sprintf("Field not found: %s", fieldID), http.StatusUnprocessableEntity).
		WithCause(err).
		WithMetadata("field", fieldID)
}

func ErrSelectFailed(controlID string, err error) *AppError {
	return NewError(ErrCodeSelectFailed, fmt.Sprintf("Option could not be selected: %s", controlID), http.StatusUnprocessableEntity).
		WithCause(err).
		WithMetadata("control", controlID)
}

// Helper functions

// AsAppError converts an error to AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetErrorCode returns the error code for an error
func GetErrorCode(err error) string {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Sentinel errors for comparison (used with errors.Is)
var (
	ErrSheetNotFoundSentinel      = NewError(ErrCodeSheetNotFound, "sheet not found", http.StatusNotFound)
	ErrEmptySheetSentinel         = NewError(ErrCodeEmptySheet, "empty sheet", http.StatusUnprocessableEntity)
	ErrColumnsMissingSentinel     = NewError(ErrCodeRequiredColumnsMissing, "required columns missing", http.StatusUnprocessableEntity)
	ErrSessionStartFailedSentinel = NewError(ErrCodeSessionStartFailed, "session start failed", http.StatusServiceUnavailable)
	ErrSessionClosedSentinel      = NewError(ErrCodeSessionClosed, "session closed", http.StatusConflict)
)

// IsInputError reports whether err is a workbook problem detected before any browser work
func IsInputError(err error) bool {
	switch GetErrorCode(err) {
	case ErrCodeSheetNotFound, ErrCodeEmptySheet, ErrCodeRequiredColumnsMissing, ErrCodeWorkbookUnreadable:
		return true
	}
	return false
}

// IsSessionError reports whether err is fatal to a run because of the browser session
func IsSessionError(err error) bool {
	switch GetErrorCode(err) {
	case ErrCodeSessionStartFailed, ErrCodeBinaryNotFound, ErrCodeSessionClosed, ErrCodeNavigationFailed:
		return true
	}
	return false
}

// IsItemError reports whether err only affects a single answer
func IsItemError(err error) bool {
	switch GetErrorCode(err) {
	case ErrCodeFieldNotFound, ErrCodeSelectFailed:
		return true
	}
	return false
}
