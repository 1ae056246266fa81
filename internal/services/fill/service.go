package fill

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot/internal/activity"
	"github.com/formpilot/formpilot/internal/browser"
	"github.com/formpilot/formpilot/internal/config"
	"github.com/formpilot/formpilot/internal/domain"
	"github.com/formpilot/formpilot/internal/observability"
	"github.com/formpilot/formpilot/internal/progress"
)

// Progress milestones of a run
const (
	percentStarted = 10
	percentRead    = 20
	percentScanned = 30
	percentFilled  = 95
	percentDone    = 100
)

// WorkbookResolver turns a workbook reference into a local file
type WorkbookResolver interface {
	Resolve(ctx context.Context, path string) (string, func(), error)
}

// Workbook reads answer sheets
type Workbook interface {
	Read(path, sheetName string) (*domain.AnswerSet, error)
	SheetIndex(path, sheetName string) (int, error)
}

// SessionProvider hands out the shared browser session
type SessionProvider interface {
	Acquire(ctx context.Context) (*browser.Session, bool, error)
	Release() error
}

// RunStore caches run records and completed sheets across processes
type RunStore interface {
	SetRun(ctx context.Context, run *domain.RunRecord) error
	MarkSheetCompleted(ctx context.Context, userKey, sheet string) error
}

// ActivitySubmitter queues activity log entries
type ActivitySubmitter interface {
	Submit(entry domain.ActivityEntry) *activity.Job
}

// ServiceConfig wires a Service
type ServiceConfig struct {
	Browser       config.BrowserConfig
	Form          config.FormConfig
	SerializeRuns bool

	Workbooks WorkbookResolver
	Reader    Workbook
	Sessions  SessionProvider
	Publisher progress.Publisher

	// Optional collaborators
	Runs     RunStore
	Activity ActivitySubmitter
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

// Service runs fills end to end: read the sheet, open the page, scan it and fill it,
// reporting progress to the requesting user's channel.
type Service struct {
	browser  config.BrowserConfig
	form     config.FormConfig
	locator  *FieldLocator
	mapper   *ResponseValueMapper
	filler   *Orchestrator
	registry *runRegistry

	workbooks WorkbookResolver
	reader    Workbook
	sessions  SessionProvider
	publisher progress.Publisher
	runs      RunStore
	activity  ActivitySubmitter
	metrics   *observability.Metrics
	logger    *zap.Logger

	serialize bool
	runMu     sync.Mutex
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewService creates a fill service
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = progress.Nop{}
	}

	locator := NewFieldLocator(cfg.Form)
	mapper := NewResponseValueMapper(cfg.Form.UnmappedCategorical)
	filler := NewOrchestrator(OrchestratorConfig{
		FieldTimeout:  cfg.Browser.FieldTimeout,
		SelectTimeout: cfg.Browser.DefaultTimeout,
		ItemDelay:     cfg.Browser.ItemDelay,
	}, locator, mapper, logger.Named("orchestrator"))

	return &Service{
		browser:   cfg.Browser,
		form:      cfg.Form,
		locator:   locator,
		mapper:    mapper,
		filler:    filler,
		registry:  newRunRegistry(256),
		workbooks: cfg.Workbooks,
		reader:    cfg.Reader,
		sessions:  cfg.Sessions,
		publisher: publisher,
		runs:      cfg.Runs,
		activity:  cfg.Activity,
		metrics:   cfg.Metrics,
		logger:    logger,
		serialize: cfg.SerializeRuns,
		sleep:     sleepContext,
	}
}

// Run executes one fill. It always returns a result; IsSuccess is false only when the
// run could not reach the fill loop or was cancelled.
func (s *Service) Run(ctx context.Context, req domain.FillRequest) *domain.FillResult {
	if req.RunID == uuid.Nil {
		req.RunID = uuid.New()
	}
	start := time.Now()

	t := &runTracker{
		svc:       s,
		fillStart: -1,
		record: &domain.RunRecord{
			RunID:     req.RunID,
			UserKey:   req.UserKey,
			SheetName: req.SheetName,
			State:     domain.RunStateIdle,
			StartedAt: start.UTC(),
		},
	}
	// progress and bookkeeping outlive a cancelled request
	bg := context.WithoutCancel(ctx)

	if s.serialize {
		s.runMu.Lock()
		defer s.runMu.Unlock()
	}

	logger := s.logger.With(
		zap.String("run_id", req.RunID.String()),
		zap.String("user", req.UserKey),
		zap.String("sheet", req.SheetName),
	)
	logger.Info("fill run started", zap.String("workbook", req.WorkbookPath))

	result := s.execute(ctx, bg, req, t)
	result.RunID = req.RunID
	result.Duration = domain.MillisSince(start)
	result.Logs = t.merge(result.Logs)

	s.finish(bg, req, t, result, time.Since(start))

	if result.IsSuccess {
		logger.Info("fill run completed",
			zap.Int("processed", result.ProcessedCount),
			zap.Int("failed", result.FailedCount),
			zap.Int("total", result.TotalCount),
			zap.Int("page", result.PageNumber),
		)
	} else {
		logger.Error("fill run failed", zap.String("error", result.ErrorMessage))
	}
	return result
}

func (s *Service) execute(ctx, bg context.Context, req domain.FillRequest, t *runTracker) *domain.FillResult {
	t.advance(bg, domain.RunStateReadingSheet, percentStarted, "Starting automation...")

	local, cleanup, err := s.workbooks.Resolve(ctx, req.WorkbookPath)
	if err != nil {
		return failed(err, 0, 0)
	}
	defer cleanup()

	answers, err := s.reader.Read(local, req.SheetName)
	if err != nil {
		return failed(err, 0, 0)
	}
	ordinal, err := s.reader.SheetIndex(local, req.SheetName)
	if err != nil {
		return failed(err, answers.Len(), 0)
	}
	pr := domain.ResolvePageRange(domain.PageForOrdinal(ordinal), s.form.PageURLTemplate)

	t.log(fmt.Sprintf("Sheet '%s' read: %d answers for %s", req.SheetName, answers.Len(), domain.PageName(pr.PageNumber)))
	t.advance(bg, domain.RunStateNavigating, percentRead, "Sheet read, opening form page...")

	session, created, err := s.sessions.Acquire(ctx)
	if err != nil {
		return failed(err, answers.Len(), pr.PageNumber)
	}
	page := session.Page()

	if created {
		t.log("Browser started")
		if err := page.Goto(s.form.BaseURL, s.browser.NavigationTimeout); err != nil {
			return failed(err, answers.Len(), pr.PageNumber)
		}
		if err := s.sleep(ctx, s.launchSettle()); err != nil {
			return failed(err, answers.Len(), pr.PageNumber)
		}
	}

	if err := page.Goto(pr.URL, s.browser.NavigationTimeout); err != nil {
		return failed(err, answers.Len(), pr.PageNumber)
	}
	t.log(fmt.Sprintf("Opened %s", pr.URL))
	if err := s.sleep(ctx, s.browser.PageSettle); err != nil {
		return failed(err, answers.Len(), pr.PageNumber)
	}

	t.advance(bg, domain.RunStateScanning, percentRead, "Scanning form fields...")
	fieldIDs, err := s.locator.Scan(page)
	if err != nil {
		return failed(err, answers.Len(), pr.PageNumber)
	}
	t.log(fmt.Sprintf("%d fields found on page", len(fieldIDs)))
	t.advance(bg, domain.RunStateFilling, percentScanned, fmt.Sprintf("Filling %d answers...", answers.Len()))
	t.fillStart = len(t.logs)

	return s.filler.Fill(ctx, page, answers, pr, fieldIDs, func(position, total int, outcome ItemOutcome, logs []string) {
		s.recordItem(outcome)
		for _, line := range logs {
			t.log(line)
		}
		percent := percentScanned + position*(percentFilled-percentScanned)/total
		t.progress(bg, percent, fmt.Sprintf("Question %d/%d", position, total))
	})
}

func (s *Service) launchSettle() time.Duration {
	if s.browser.Headless {
		return s.browser.LaunchSettle
	}
	// interactive sessions leave time to log in
	return s.browser.LoginWait
}

func (s *Service) recordItem(outcome ItemOutcome) {
	if s.metrics == nil {
		return
	}
	policy := ""
	if (outcome.Selected || outcome.Mapping.Skip) && !outcome.Mapping.Matched {
		policy = s.mapper.Policy()
	}
	s.metrics.RecordFillItem(outcome.Filled, outcome.Fallback, outcome.Method, policy)
}

func (s *Service) finish(ctx context.Context, req domain.FillRequest, t *runTracker, result *domain.FillResult, elapsed time.Duration) {
	entry := domain.NewActivityEntry(domain.ActionFill, req.UserKey, domain.ActivitySuccess)
	entry.FileName = filepath.Base(req.WorkbookPath)
	entry.SheetName = req.SheetName
	entry.DurationMs = elapsed.Milliseconds()

	if result.IsSuccess {
		entry.Details = fmt.Sprintf("%d filled, %d failed, %d total", result.ProcessedCount, result.FailedCount, result.TotalCount)
		t.record.Result = result
		t.advance(ctx, domain.RunStateCompleted, percentDone, "Completed")
		s.publisher.Publish(ctx, progress.Notification(req.UserKey, progress.NotifySuccess,
			fmt.Sprintf("%s filled: %d of %d answers entered", req.SheetName, result.ProcessedCount, result.TotalCount)))

		if s.runs != nil {
			if err := s.runs.MarkSheetCompleted(ctx, req.UserKey, req.SheetName); err != nil {
				s.logger.Warn("failed to mark sheet completed", zap.String("sheet", req.SheetName), zap.Error(err))
			}
		}
	} else {
		entry.Status = domain.ActivityFailed
		entry.Details = result.ErrorMessage
		t.record.Result = result
		t.advance(ctx, domain.RunStateFailed, 0, "Error: "+result.ErrorMessage)
		s.publisher.Publish(ctx, progress.Notification(req.UserKey, progress.NotifyDanger,
			fmt.Sprintf("%s could not be filled: %s", req.SheetName, result.ErrorMessage)))
	}

	if s.metrics != nil {
		s.metrics.RecordFillRun(result.PageNumber, result.IsSuccess, elapsed)
	}
	s.submit(entry)
}

// Cancel force-closes the shared session. A run in progress fails its next browser call.
func (s *Service) Cancel(ctx context.Context, userKey string) error {
	err := s.sessions.Release()
	s.metricsBrowserClosed()

	s.publisher.Publish(ctx, progress.Progress(userKey, 0, "Operation cancelled", []string{"Browser closed by user"}))
	s.publisher.Publish(ctx, progress.Notification(userKey, progress.NotifyWarning, "Automation cancelled and browser closed"))

	entry := domain.NewActivityEntry(domain.ActionCancel, userKey, domain.ActivityInfo)
	if err != nil {
		entry.Status = domain.ActivityFailed
		entry.Details = err.Error()
	}
	s.submit(entry)

	s.logger.Info("fill cancelled", zap.String("user", userKey), zap.Error(err))
	return err
}

// CloseBrowser releases the shared session without touching any run
func (s *Service) CloseBrowser(ctx context.Context, userKey string) error {
	err := s.sessions.Release()
	s.metricsBrowserClosed()

	s.publisher.Publish(ctx, progress.Status(userKey, "Browser closed"))

	entry := domain.NewActivityEntry(domain.ActionCloseBrowser, userKey, domain.ActivityInfo)
	if err != nil {
		entry.Status = domain.ActivityFailed
		entry.Details = err.Error()
	}
	s.submit(entry)
	return err
}

// Lookup returns a run started by this process, or nil if it is unknown here
func (s *Service) Lookup(id uuid.UUID) *domain.RunRecord {
	return s.registry.get(id)
}

// Track records run state for runs executed elsewhere (e.g. by a workflow worker)
func (s *Service) Track(ctx context.Context, run *domain.RunRecord) {
	run.UpdatedAt = time.Now().UTC()
	s.save(ctx, run)
}

func (s *Service) metricsBrowserClosed() {
	if s.metrics != nil {
		s.metrics.SetBrowserOpen(false)
	}
}

func (s *Service) submit(entry domain.ActivityEntry) {
	if s.activity == nil {
		return
	}
	// job outcomes reach metrics through the recorder's result hook
	s.activity.Submit(entry)
}

func (s *Service) save(ctx context.Context, run *domain.RunRecord) {
	s.registry.put(run)
	if s.runs == nil {
		return
	}
	if err := s.runs.SetRun(ctx, run); err != nil {
		s.logger.Warn("failed to cache run", zap.String("run_id", run.RunID.String()), zap.Error(err))
	}
}

func failed(err error, total, page int) *domain.FillResult {
	result := &domain.FillResult{
		Status:     "Failed",
		TotalCount: total,
		PageNumber: page,
	}
	result.Fail(err)
	result.AddLog("Error: " + err.Error())
	return result
}

// runTracker accumulates a run's log lines and publishes them with every progress update
type runTracker struct {
	svc    *Service
	record *domain.RunRecord
	logs   []string
	// fillStart is the index of the first fill-loop line in logs, -1 before the loop
	fillStart int
}

func (t *runTracker) log(line string) {
	t.logs = append(t.logs, line)
}

// merge prefixes a result's own lines with the setup lines logged before the fill loop
func (t *runTracker) merge(resultLogs []string) []string {
	setup := t.logs
	if t.fillStart >= 0 {
		setup = t.logs[:t.fillStart]
	}
	return append(append([]string(nil), setup...), resultLogs...)
}

func (t *runTracker) progress(ctx context.Context, percent int, status string) {
	t.record.Progress = percent
	logs := append([]string(nil), t.logs...)
	e := progress.Progress(t.record.UserKey, percent, status, logs)
	e.RunID = t.record.RunID.String()
	t.svc.publisher.Publish(ctx, e)
}

func (t *runTracker) advance(ctx context.Context, state domain.RunState, percent int, status string) {
	t.record.State = state
	t.record.UpdatedAt = time.Now().UTC()
	t.progress(ctx, percent, status)
	snapshot := *t.record
	t.svc.save(ctx, &snapshot)
}

// runRegistry keeps the most recent runs of this process
type runRegistry struct {
	mu    sync.RWMutex
	limit int
	order []uuid.UUID
	runs  map[uuid.UUID]domain.RunRecord
}

func newRunRegistry(limit int) *runRegistry {
	return &runRegistry{limit: limit, runs: make(map[uuid.UUID]domain.RunRecord)}
}

func (r *runRegistry) put(run *domain.RunRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.RunID]; !ok {
		r.order = append(r.order, run.RunID)
		if len(r.order) > r.limit {
			delete(r.runs, r.order[0])
			r.order = r.order[1:]
		}
	}
	r.runs[run.RunID] = *run
}

func (r *runRegistry) get(id uuid.UUID) *domain.RunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil
	}
	return &run
}
