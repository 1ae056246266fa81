package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formpilot/formpilot/internal/domain"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusCreated, map[string]string{"sheet": "Bölüm1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decode(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "Bölüm1", resp.Data.(map[string]any)["sheet"])
	assert.Nil(t, resp.Error)
}

func TestJSONWithMeta(t *testing.T) {
	rec := httptest.NewRecorder()
	JSONWithMeta(rec, http.StatusOK, []string{}, &Meta{Page: 2, PerPage: 20})

	resp := decode(t, rec)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, 2, resp.Meta.Page)
	assert.Equal(t, 0, resp.Meta.Count)
}

func TestErrorFromDomain(t *testing.T) {
	t.Run("app error with metadata and retry", func(t *testing.T) {
		rec := httptest.NewRecorder()
		ErrorFromDomain(rec, domain.ErrServiceUnavailable("redis"))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "30", rec.Header().Get("Retry-After"))

		resp := decode(t, rec)
		assert.False(t, resp.Success)
		require.NotNil(t, resp.Error)
		assert.Equal(t, domain.ErrCodeServiceUnavail, resp.Error.Code)
		assert.Equal(t, "redis", resp.Error.Details["service"])
	})

	t.Run("details are folded in", func(t *testing.T) {
		rec := httptest.NewRecorder()
		ErrorFromDomain(rec, domain.ErrRequiredColumnsMissing([]string{"A", "B"}))

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		resp := decode(t, rec)
		assert.Equal(t, "Found columns: A, B", resp.Error.Details["details"])
	})

	t.Run("wrapped app error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		ErrorFromDomain(rec, errors.Join(errors.New("context"), domain.ErrSheetNotFound("Bölüm9")))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, domain.ErrCodeSheetNotFound, decode(t, rec).Error.Code)
	})

	t.Run("plain error hides its text", func(t *testing.T) {
		rec := httptest.NewRecorder()
		ErrorFromDomain(rec, errors.New("pq: password authentication failed"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		resp := decode(t, rec)
		assert.Equal(t, domain.ErrCodeInternal, resp.Error.Code)
		assert.NotContains(t, rec.Body.String(), "password")
		assert.Nil(t, resp.Error.Details)
	})
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		SheetName string `json:"sheet_name"`
	}

	tests := []struct {
		name     string
		payload  string
		limit    int64
		wantCode string
	}{
		{name: "valid", payload: `{"sheet_name":"Bölüm1"}`},
		{name: "empty", payload: ``, wantCode: domain.ErrCodeValidation},
		{name: "malformed", payload: `{"sheet_name":`, wantCode: domain.ErrCodeValidation},
		{name: "unknown field", payload: `{"sheet":"Bölüm1"}`, wantCode: domain.ErrCodeValidation},
		{name: "too large", payload: `{"sheet_name":"` + strings.Repeat("x", 64) + `"}`, limit: 16, wantCode: domain.ErrCodePayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.payload))
			if tt.limit > 0 {
				req.Body = http.MaxBytesReader(httptest.NewRecorder(), req.Body, tt.limit)
			}

			var got body
			err := DecodeJSON(req, &got)
			if tt.wantCode == "" {
				require.NoError(t, err)
				assert.Equal(t, "Bölüm1", got.SheetName)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domain.GetErrorCode(err))
		})
	}
}

func TestGetPagination(t *testing.T) {
	tests := []struct {
		query string
		want  Pagination
	}{
		{query: "", want: Pagination{Page: 1, PerPage: 20, Offset: 0}},
		{query: "page=3&per_page=10", want: Pagination{Page: 3, PerPage: 10, Offset: 20}},
		{query: "per_page=500", want: Pagination{Page: 1, PerPage: 100, Offset: 0}},
		{query: "page=-2&per_page=abc", want: Pagination{Page: 1, PerPage: 20, Offset: 0}},
		{query: "page=0", want: Pagination{Page: 1, PerPage: 20, Offset: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/activity?"+tt.query, nil)
			assert.Equal(t, tt.want, GetPagination(req, 20, 100))
		})
	}
}
