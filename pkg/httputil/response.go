// Package httputil writes the JSON envelope shared by every API response.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/formpilot/formpilot/internal/domain"
)

// Response represents a standard API response
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
}

// Error represents an API error
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Meta carries pagination for list responses
type Meta struct {
	Page    int `json:"page,omitempty"`
	PerPage int `json:"per_page,omitempty"`
	Count   int `json:"count"`
}

// JSON writes a JSON response
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Response{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

// JSONWithMeta writes a JSON response with pagination metadata
func JSONWithMeta(w http.ResponseWriter, status int, data any, meta *Meta) {
	write(w, status, Response{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

// JSONError writes a JSON error response
func JSONError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	write(w, status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func write(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// ErrorFromDomain writes err as an error envelope. Errors that are not an AppError are
// reported as internal errors without exposing their text.
func ErrorFromDomain(w http.ResponseWriter, err error) {
	appErr, ok := domain.AsAppError(err)
	if !ok {
		JSONError(w, http.StatusInternalServerError, domain.ErrCodeInternal, "Internal server error", nil)
		return
	}

	details := make(map[string]any, len(appErr.Metadata)+1)
	for k, v := range appErr.Metadata {
		details[k] = v
	}
	if appErr.Details != "" {
		details["details"] = appErr.Details
	}
	if len(details) == 0 {
		details = nil
	}
	if appErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(appErr.RetryAfter.Seconds())))
	}
	JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, details)
}

// DecodeJSON decodes a JSON request body into v, rejecting unknown fields
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return domain.ErrValidationField("body", "request body is required")
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.ErrValidationField("body", "request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.ErrPayloadTooLarge(tooLarge.Limit)
		}
		return domain.ErrValidationField("body", "invalid JSON: "+err.Error())
	}

	return nil
}

// Pagination holds the page window requested by a client
type Pagination struct {
	Page    int
	PerPage int
	Offset  int
}

// GetPagination reads page and per_page from the query, clamping per_page to maxPerPage.
// Malformed or non-positive values fall back to the defaults.
func GetPagination(r *http.Request, defaultPerPage, maxPerPage int) Pagination {
	page := positiveQueryInt(r, "page", 1)
	perPage := positiveQueryInt(r, "per_page", defaultPerPage)
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	return Pagination{
		Page:    page,
		PerPage: perPage,
		Offset:  (page - 1) * perPage,
	}
}

func positiveQueryInt(r *http.Request, key string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
