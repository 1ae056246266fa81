package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot/internal/activity"
	"github.com/formpilot/formpilot/internal/api/middleware"
	"github.com/formpilot/formpilot/internal/domain"
	"github.com/formpilot/formpilot/internal/sheet"
	"github.com/formpilot/formpilot/pkg/httputil"
)

// CompletedStore tracks which sheets a user has finished
type CompletedStore interface {
	MarkSheetCompleted(ctx context.Context, userKey, sheet string) error
	UnmarkSheetCompleted(ctx context.Context, userKey, sheet string) error
	CompletedSheets(ctx context.Context, userKey string) ([]string, error)
	ClearCompletedSheets(ctx context.Context, userKey string) error
}

// WorkbookResolver turns a workbook reference into a local file
type WorkbookResolver interface {
	Resolve(ctx context.Context, path string) (string, func(), error)
}

// WorkbookUploader stores uploaded workbooks and returns their reference
type WorkbookUploader interface {
	UploadWorkbook(ctx context.Context, key string, data []byte) (string, error)
}

// ActivitySubmitter queues activity log entries
type ActivitySubmitter interface {
	Submit(entry domain.ActivityEntry) *activity.Job
}

var workbookExtensions = map[string]bool{".xlsx": true, ".xlsm": true}

// SheetHandlerConfig wires a SheetHandler. Completed, Uploader and Activity may be nil.
type SheetHandlerConfig struct {
	Completed CompletedStore
	Workbooks WorkbookResolver
	Uploader  WorkbookUploader
	Activity  ActivitySubmitter
	UploadDir string
	MaxUpload int64
	Logger    *zap.Logger
}

// SheetHandler handles workbook uploads, sheet listing and completed-sheet tracking
type SheetHandler struct {
	completed CompletedStore
	workbooks WorkbookResolver
	uploader  WorkbookUploader
	activity  ActivitySubmitter
	uploadDir string
	maxUpload int64
	logger    *zap.Logger
}

// NewSheetHandler creates a sheet handler
func NewSheetHandler(cfg SheetHandlerConfig) *SheetHandler {
	if cfg.MaxUpload <= 0 {
		cfg.MaxUpload = 20 << 20
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = os.TempDir()
	}
	return &SheetHandler{
		completed: cfg.Completed,
		workbooks: cfg.Workbooks,
		uploader:  cfg.Uploader,
		activity:  cfg.Activity,
		uploadDir: cfg.UploadDir,
		maxUpload: cfg.MaxUpload,
		logger:    cfg.Logger,
	}
}

// CompletedResponse lists a user's completed sheets
type CompletedResponse struct {
	Sheets []string `json:"sheets"`
}

// MarkCompletedRequest is the request body for marking a sheet completed
type MarkCompletedRequest struct {
	SheetName string `json:"sheet_name"`
}

// ListCompleted handles GET /api/v1/sheets/completed
func (h *SheetHandler) ListCompleted(w http.ResponseWriter, r *http.Request) {
	if !h.completedAvailable(w) {
		return
	}

	sheets, err := h.completed.CompletedSheets(r.Context(), middleware.GetUser(r.Context()))
	if err != nil {
		h.logger.Error("Failed to list completed sheets", zap.Error(err))
		httputil.ErrorFromDomain(w, domain.ErrServiceUnavailable("redis").WithCause(err))
		return
	}
	if sheets == nil {
		sheets = []string{}
	}

	httputil.JSON(w, http.StatusOK, CompletedResponse{Sheets: sheets})
}

// MarkCompleted handles POST /api/v1/sheets/completed
func (h *SheetHandler) MarkCompleted(w http.ResponseWriter, r *http.Request) {
	if !h.completedAvailable(w) {
		return
	}

	var req MarkCompletedRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.ErrorFromDomain(w, err)
		return
	}
	req.SheetName = strings.TrimSpace(req.SheetName)
	if req.SheetName == "" {
		httputil.ErrorFromDomain(w, domain.ErrValidationField("sheet_name", "sheet_name is required"))
		return
	}

	if err := h.completed.MarkSheetCompleted(r.Context(), middleware.GetUser(r.Context()), req.SheetName); err != nil {
		h.logger.Error("Failed to mark sheet completed", zap.Error(err))
		httputil.ErrorFromDomain(w, domain.ErrServiceUnavailable("redis").WithCause(err))
		return
	}

	h.ListCompleted(w, r)
}

// ClearCompleted handles DELETE /api/v1/sheets/completed. With ?sheet= only that sheet is
// forgotten; without it the whole list is cleared.
func (h *SheetHandler) ClearCompleted(w http.ResponseWriter, r *http.Request) {
	if !h.completedAvailable(w) {
		return
	}

	user := middleware.GetUser(r.Context())
	var err error
	if name := strings.TrimSpace(r.URL.Query().Get("sheet")); name != "" {
		err = h.completed.UnmarkSheetCompleted(r.Context(), user, name)
	} else {
		err = h.completed.ClearCompletedSheets(r.Context(), user)
	}
	if err != nil {
		h.logger.Error("Failed to clear completed sheets", zap.Error(err))
		httputil.ErrorFromDomain(w, domain.ErrServiceUnavailable("redis").WithCause(err))
		return
	}

	h.ListCompleted(w, r)
}

func (h *SheetHandler) completedAvailable(w http.ResponseWriter) bool {
	if h.completed == nil {
		httputil.ErrorFromDomain(w, domain.ErrServiceUnavailable("redis"))
		return false
	}
	return true
}

// DescribeRequest is the request body for listing a workbook's sheets
type DescribeRequest struct {
	WorkbookPath string `json:"workbook_path"`
}

// WorkbookResponse describes a workbook and the form pages its sheets fill
type WorkbookResponse struct {
	WorkbookPath string       `json:"workbook_path"`
	FileName     string       `json:"file_name,omitempty"`
	Sheets       []sheet.Info `json:"sheets"`
	TotalSheets  int          `json:"total_sheets"`
}

// Describe handles POST /api/v1/workbooks/sheets
func (h *SheetHandler) Describe(w http.ResponseWriter, r *http.Request) {
	var req DescribeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.ErrorFromDomain(w, err)
		return
	}
	req.WorkbookPath = strings.TrimSpace(req.WorkbookPath)
	if req.WorkbookPath == "" {
		httputil.ErrorFromDomain(w, domain.ErrValidationField("workbook_path", "workbook_path is required"))
		return
	}

	local, cleanup, err := h.workbooks.Resolve(r.Context(), req.WorkbookPath)
	defer cleanup()
	if err != nil {
		httputil.ErrorFromDomain(w, err)
		return
	}

	infos, err := sheet.Describe(local)
	if err != nil {
		httputil.ErrorFromDomain(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, WorkbookResponse{
		WorkbookPath: req.WorkbookPath,
		Sheets:       infos,
		TotalSheets:  len(infos),
	})
}

// Upload handles POST /api/v1/workbooks (multipart field "file"). The workbook goes to
// object storage when configured, otherwise it stays in the upload directory.
func (h *SheetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	user := middleware.GetUser(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.recordUpload(user, "", domain.ActivityFailed, start, "upload too large")
			httputil.ErrorFromDomain(w, domain.ErrPayloadTooLarge(tooLarge.Limit))
			return
		}
		h.recordUpload(user, "", domain.ActivityFailed, start, "no file selected")
		httputil.ErrorFromDomain(w, domain.ErrValidationField("file", "Select an Excel workbook"))
		return
	}
	defer file.Close()

	fileName := filepath.Base(header.Filename)
	if !workbookExtensions[strings.ToLower(filepath.Ext(fileName))] {
		h.recordUpload(user, fileName, domain.ActivityFailed, start, "unsupported file type")
		httputil.ErrorFromDomain(w, domain.ErrUnsupportedFileType(fileName, []string{".xlsx", ".xlsm"}))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		h.recordUpload(user, fileName, domain.ActivityFailed, start, "empty or unreadable upload")
		httputil.ErrorFromDomain(w, domain.ErrValidationField("file", "The uploaded file is empty or too large"))
		return
	}

	local, err := h.saveLocal(fileName, data)
	if err != nil {
		h.logger.Error("Failed to save upload", zap.Error(err))
		h.recordUpload(user, fileName, domain.ActivityFailed, start, err.Error())
		httputil.ErrorFromDomain(w, domain.ErrInternal("Failed to save workbook").WithCause(err))
		return
	}

	infos, err := sheet.Describe(local)
	if err != nil {
		os.Remove(local)
		h.recordUpload(user, fileName, domain.ActivityFailed, start, err.Error())
		httputil.ErrorFromDomain(w, err)
		return
	}

	path := local
	if h.uploader != nil {
		key := fmt.Sprintf("%s/%s_%s", sanitizeKey(user), uuid.NewString(), fileName)
		path, err = h.uploader.UploadWorkbook(r.Context(), key, data)
		os.Remove(local)
		if err != nil {
			h.logger.Error("Failed to store workbook", zap.Error(err))
			h.recordUpload(user, fileName, domain.ActivityFailed, start, err.Error())
			httputil.ErrorFromDomain(w, domain.ErrExternalAPI("storage", err))
			return
		}
	}

	h.recordUpload(user, fileName, domain.ActivitySuccess, start, fmt.Sprintf("%d bytes", len(data)))
	h.logger.Info("Workbook uploaded",
		zap.String("user", user),
		zap.String("file", fileName),
		zap.Int("sheets", len(infos)),
	)

	httputil.JSON(w, http.StatusCreated, WorkbookResponse{
		WorkbookPath: path,
		FileName:     fileName,
		Sheets:       infos,
		TotalSheets:  len(infos),
	})
}

func (h *SheetHandler) saveLocal(fileName string, data []byte) (string, error) {
	f, err := os.CreateTemp(h.uploadDir, "upload-*"+filepath.Ext(fileName))
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func (h *SheetHandler) recordUpload(user, fileName, status string, start time.Time, details string) {
	if h.activity == nil {
		return
	}
	entry := domain.NewActivityEntry(domain.ActionUpload, user, status)
	entry.FileName = fileName
	entry.DurationMs = time.Since(start).Milliseconds()
	entry.Details = details
	h.activity.Submit(entry)
}

func sanitizeKey(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '_'
		}
		return r
	}, s)
}
