package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/formpilot/formpilot/internal/activity"
	"github.com/formpilot/formpilot/internal/api/middleware"
	"github.com/formpilot/formpilot/internal/domain"
	"github.com/formpilot/formpilot/pkg/httputil"
)

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, data any) httputil.Response {
	t.Helper()
	var resp struct {
		httputil.Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	if data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp.Response
}

func jsonRequest(t *testing.T, method, target string, body any, user string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req = req.WithContext(middleware.WithUser(req.Context(), user))
	}
	return req
}

// writeWorkbook creates an answer workbook with the given sheet names
func writeWorkbook(t *testing.T, names ...string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, name := range names {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		require.NoError(t, f.SetSheetRow(name, "A1", &[]any{"Soru No", "Cevap", "Açıklama"}))
		require.NoError(t, f.SetSheetRow(name, "A2", &[]any{1, "EVET", "Mevcut"}))
	}

	path := filepath.Join(t.TempDir(), "answers.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

type fakeRunner struct {
	mu        sync.Mutex
	requests  []domain.FillRequest
	tracked   []*domain.RunRecord
	cancelled []string
	closed    []string
	runs      map[uuid.UUID]*domain.RunRecord
	result    *domain.FillResult
	closeErr  error
	ran       chan domain.FillRequest
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		runs: map[uuid.UUID]*domain.RunRecord{},
		result: &domain.FillResult{
			IsSuccess:      true,
			Status:         "Completed",
			ProcessedCount: 1,
			TotalCount:     1,
			Logs:           []string{"Item 1 filled"},
		},
		ran: make(chan domain.FillRequest, 4),
	}
}

func (f *fakeRunner) Run(_ context.Context, req domain.FillRequest) *domain.FillResult {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	result := *f.result
	f.mu.Unlock()

	result.RunID = req.RunID
	f.ran <- req
	return &result
}

func (f *fakeRunner) Cancel(_ context.Context, userKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, userKey)
	return f.closeErr
}

func (f *fakeRunner) CloseBrowser(_ context.Context, userKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, userKey)
	return f.closeErr
}

func (f *fakeRunner) Lookup(id uuid.UUID) *domain.RunRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[id]
}

func (f *fakeRunner) Track(_ context.Context, run *domain.RunRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, run)
}

type memoryActivity struct {
	mu      sync.Mutex
	entries []domain.ActivityEntry
}

func (m *memoryActivity) Submit(entry domain.ActivityEntry) *activity.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryActivity) Entries() []domain.ActivityEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ActivityEntry(nil), m.entries...)
}
