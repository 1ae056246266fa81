package fill

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap/zaptest"

	"github.com/formpilot/formpilot/internal/activity"
	"github.com/formpilot/formpilot/internal/browser"
	"github.com/formpilot/formpilot/internal/config"
	"github.com/formpilot/formpilot/internal/domain"
	"github.com/formpilot/formpilot/internal/observability"
	"github.com/formpilot/formpilot/internal/progress"
	"github.com/formpilot/formpilot/internal/sheet"
)

const baseURL = "https://form.example.com/"

type localWorkbooks struct{}

func (localWorkbooks) Resolve(_ context.Context, path string) (string, func(), error) {
	return path, func() {}, nil
}

type fakeRunStore struct {
	mu        sync.Mutex
	states    []domain.RunState
	completed []string
}

func (s *fakeRunStore) SetRun(_ context.Context, run *domain.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, run.State)
	return nil
}

func (s *fakeRunStore) MarkSheetCompleted(_ context.Context, userKey, sheetName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, userKey+"/"+sheetName)
	return nil
}

type memoryActivityStore struct {
	mu      sync.Mutex
	entries []domain.ActivityEntry
}

func (s *memoryActivityStore) InsertBatch(_ context.Context, entries []domain.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *memoryActivityStore) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.entries {
		out = append(out, e.Action)
	}
	return out
}

type serviceFixture struct {
	service  *Service
	launcher *browser.MockLauncher
	pages    []*browser.MockPage
	events   *progress.Recorder
	runs     *fakeRunStore
	store    *memoryActivityStore
	recorder *activity.Recorder
	sleeps   []time.Duration
	workbook string
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	return newServiceFixtureWithMetrics(t, nil)
}

func newServiceFixtureWithMetrics(t *testing.T, metrics *observability.Metrics) *serviceFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	form := testForm
	form.BaseURL = baseURL
	form.UnmappedCategorical = "affirmative"

	f := &serviceFixture{
		launcher: browser.NewDemoLauncher(form),
		events:   progress.NewRecorder(512),
		runs:     &fakeRunStore{},
		store:    &memoryActivityStore{},
		workbook: writeAnswers(t),
	}
	render := f.launcher.NewPage
	f.launcher.NewPage = func() *browser.MockPage {
		page := render()
		f.pages = append(f.pages, page)
		return page
	}

	cfg := activity.DefaultConfig()
	cfg.FlushInterval = 10 * time.Millisecond
	f.recorder = activity.NewRecorder(f.store, cfg, logger)
	if metrics != nil {
		f.recorder.OnResult(metrics.RecordActivityJob)
	}
	t.Cleanup(func() { _ = f.recorder.Close() })

	f.service = NewService(ServiceConfig{
		Browser: config.BrowserConfig{
			Headless:          true,
			DefaultTimeout:    5 * time.Second,
			NavigationTimeout: 60 * time.Second,
			FieldTimeout:      10 * time.Second,
			ItemDelay:         300 * time.Millisecond,
			LaunchSettle:      5 * time.Second,
			LoginWait:         45 * time.Second,
			PageSettle:        3 * time.Second,
		},
		Form:      form,
		Workbooks: localWorkbooks{},
		Reader:    sheet.NewReader(logger),
		Sessions:  browser.NewManager(f.launcher, logger),
		Publisher: f.events,
		Runs:      f.runs,
		Activity:  f.recorder,
		Metrics:   metrics,
		Logger:    logger,
	})
	noSleep := func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return ctx.Err()
	}
	f.service.sleep = noSleep
	f.service.filler.sleep = noSleep
	return f
}

// writeAnswers builds a two-sheet workbook: Bölüm1 with three answers and Bölüm2 with two
func writeAnswers(t *testing.T) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheets := []struct {
		name string
		rows [][]interface{}
	}{
		{"Bölüm1", [][]interface{}{
			{"SN", "CEVAP", "EVET"},
			{"1", "Yanıt 1", "EVET"},
			{"2", "Yanıt 2", "HAYIR"},
			{"3", "Yanıt 3", "YOK"},
		}},
		{"Bölüm2", [][]interface{}{
			{"SN", "CEVAP", "EVET"},
			{"1", "İkinci bölüm 1", "VAR"},
			{"2", "İkinci bölüm 2", "EVET"},
		}},
	}

	for i, s := range sheets {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", s.name))
		} else {
			_, err := f.NewSheet(s.name)
			require.NoError(t, err)
		}
		for j, values := range s.rows {
			cellName, err := excelize.CoordinatesToCellName(1, j+1)
			require.NoError(t, err)
			v := values
			require.NoError(t, f.SetSheetRow(s.name, cellName, &v))
		}
	}

	path := filepath.Join(t.TempDir(), "answers.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func (f *serviceFixture) request(sheetName string) domain.FillRequest {
	return domain.FillRequest{
		RunID:        uuid.New(),
		UserKey:      "ayse",
		WorkbookPath: f.workbook,
		SheetName:    sheetName,
	}
}

func progressEvents(events []progress.Event) []progress.Event {
	var out []progress.Event
	for _, e := range events {
		if e.Kind == progress.KindProgress {
			out = append(out, e)
		}
	}
	return out
}

func notifications(events []progress.Event) []progress.Event {
	var out []progress.Event
	for _, e := range events {
		if e.Kind == progress.KindNotification {
			out = append(out, e)
		}
	}
	return out
}

func countLines(logs []string, line string) int {
	n := 0
	for _, l := range logs {
		if l == line {
			n++
		}
	}
	return n
}

func TestService_Run_Success(t *testing.T) {
	f := newServiceFixture(t)
	req := f.request("Bölüm1")

	result := f.service.Run(context.Background(), req)

	require.True(t, result.IsSuccess, result.ErrorMessage)
	assert.Equal(t, req.RunID, result.RunID)
	assert.Equal(t, "Completed", result.Status)
	assert.Equal(t, 3, result.ProcessedCount)
	assert.Equal(t, 0, result.FailedCount)
	assert.Equal(t, 3, result.TotalCount)
	assert.Equal(t, 1, result.PageNumber)

	assert.Equal(t, "Sheet 'Bölüm1' read: 3 answers for Bölüm 1", result.Logs[0])
	assert.Contains(t, result.Logs, "Browser started")
	assert.Contains(t, result.Logs, "Opened https://form.example.com/raporguncellebolum1.aspx")
	assert.Equal(t, "Done: 3 filled, 0 failed, 3 total", result.Logs[len(result.Logs)-1])
	assert.Equal(t, 1, countLines(result.Logs, "Question 1 -> field 1 filled. Option: Evet (method: exact, selected: Evet)"))

	require.Len(t, f.pages, 1)
	page := f.pages[0]
	assert.Equal(t, []string{baseURL, "https://form.example.com/raporguncellebolum1.aspx"}, page.Visits())
	assert.Equal(t, "Yanıt 2", page.Value("ContentPlaceHolder1_txtsoru2aciklama"))
	selected, ok := page.Selected("ContentPlaceHolder1_drpcevap3")
	require.True(t, ok)
	assert.Equal(t, "Yok", selected)

	assert.Equal(t, []time.Duration{
		5 * time.Second, 3 * time.Second,
		300 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond,
	}, f.sleeps)

	events := f.events.Events()
	updates := progressEvents(events)
	require.NotEmpty(t, updates)

	var percents []int
	for _, e := range updates {
		assert.Equal(t, "ayse", e.Channel)
		assert.Equal(t, req.RunID.String(), e.RunID)
		percents = append(percents, e.Percent)
	}
	assert.Equal(t, []int{10, 20, 20, 30, 51, 73, 95, 100}, percents)
	assert.IsNonDecreasing(t, percents)

	// every update repeats the lines logged so far
	last := updates[len(updates)-1]
	assert.Equal(t, "Completed", last.Status)
	assert.Len(t, last.Logs, len(result.Logs)-1)
	for i := 1; i < len(updates); i++ {
		assert.GreaterOrEqual(t, len(updates[i].Logs), len(updates[i-1].Logs))
	}

	notes := notifications(events)
	require.Len(t, notes, 1)
	assert.Equal(t, progress.NotifySuccess, notes[0].NotificationType)
	assert.Equal(t, "Bölüm1 filled: 3 of 3 answers entered", notes[0].Message)

	assert.Equal(t, []string{"ayse/Bölüm1"}, f.runs.completed)
	assert.Equal(t, domain.RunStateCompleted, f.runs.states[len(f.runs.states)-1])

	record := f.service.Lookup(req.RunID)
	require.NotNil(t, record)
	assert.Equal(t, domain.RunStateCompleted, record.State)
	assert.Equal(t, 100, record.Progress)
	require.NotNil(t, record.Result)
	assert.Equal(t, 3, record.Result.ProcessedCount)

	require.NoError(t, f.recorder.Close())
	require.Len(t, f.store.entries, 1)
	entry := f.store.entries[0]
	assert.Equal(t, domain.ActionFill, entry.Action)
	assert.Equal(t, domain.ActivitySuccess, entry.Status)
	assert.Equal(t, "answers.xlsx", entry.FileName)
	assert.Equal(t, "Bölüm1", entry.SheetName)
	assert.Equal(t, "3 filled, 0 failed, 3 total", entry.Details)
}

func TestService_Run_ReusesSession(t *testing.T) {
	f := newServiceFixture(t)

	first := f.service.Run(context.Background(), f.request("Bölüm1"))
	require.True(t, first.IsSuccess, first.ErrorMessage)
	f.sleeps = nil

	second := f.service.Run(context.Background(), f.request("Bölüm2"))
	require.True(t, second.IsSuccess, second.ErrorMessage)

	assert.Equal(t, int64(1), f.launcher.Launches())
	assert.NotContains(t, second.Logs, "Browser started")
	assert.Equal(t, 2, second.PageNumber)
	assert.Equal(t, 2, second.ProcessedCount)

	require.Len(t, f.pages, 1)
	page := f.pages[0]
	assert.Equal(t, []string{
		baseURL,
		"https://form.example.com/raporguncellebolum1.aspx",
		"https://form.example.com/raporguncellebolum2.aspx",
	}, page.Visits())

	// page 2 starts at field 51
	assert.Equal(t, "İkinci bölüm 1", page.Value("ContentPlaceHolder1_txtsoru51aciklama"))
	assert.Equal(t, "İkinci bölüm 2", page.Value("ContentPlaceHolder1_txtsoru52aciklama"))

	// no launch settle on a reused session
	assert.Equal(t, 3*time.Second, f.sleeps[0])
	assert.ElementsMatch(t, []string{"ayse/Bölüm1", "ayse/Bölüm2"}, f.runs.completed)
}

func TestService_Run_InteractiveLoginWait(t *testing.T) {
	f := newServiceFixture(t)
	f.service.browser.Headless = false

	result := f.service.Run(context.Background(), f.request("Bölüm2"))
	require.True(t, result.IsSuccess, result.ErrorMessage)
	assert.Equal(t, 45*time.Second, f.sleeps[0])
}

func TestService_Run_SheetNotFound(t *testing.T) {
	f := newServiceFixture(t)
	req := f.request("Bölüm9")

	result := f.service.Run(context.Background(), req)

	assert.False(t, result.IsSuccess)
	assert.Equal(t, "Failed", result.Status)
	assert.Contains(t, result.ErrorMessage, "Sheet 'Bölüm9' not found")
	assert.Equal(t, 0, result.ProcessedCount)
	assert.Equal(t, "Error: "+result.ErrorMessage, result.Logs[len(result.Logs)-1])

	assert.Zero(t, f.launcher.Launches())
	assert.Empty(t, f.runs.completed)

	events := f.events.Events()
	updates := progressEvents(events)
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, 0, last.Percent)
	assert.True(t, strings.HasPrefix(last.Status, "Error: "))

	notes := notifications(events)
	require.Len(t, notes, 1)
	assert.Equal(t, progress.NotifyDanger, notes[0].NotificationType)
	assert.Contains(t, notes[0].Message, "Bölüm9 could not be filled")

	record := f.service.Lookup(req.RunID)
	require.NotNil(t, record)
	assert.Equal(t, domain.RunStateFailed, record.State)

	require.NoError(t, f.recorder.Close())
	require.Len(t, f.store.entries, 1)
	assert.Equal(t, domain.ActivityFailed, f.store.entries[0].Status)
}

func TestService_Run_LaunchFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.launcher.Err = errors.New("no display")

	result := f.service.Run(context.Background(), f.request("Bölüm1"))

	assert.False(t, result.IsSuccess)
	assert.Contains(t, result.ErrorMessage, "Browser session could not be started")
	assert.Contains(t, result.ErrorMessage, "no display")
	assert.Equal(t, 3, result.TotalCount)
	assert.Equal(t, 1, result.PageNumber)
	assert.Contains(t, result.Logs, "Sheet 'Bölüm1' read: 3 answers for Bölüm 1")
}

func TestService_Run_CancelledContext(t *testing.T) {
	f := newServiceFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.service.filler.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	result := f.service.Run(ctx, f.request("Bölüm1"))

	assert.False(t, result.IsSuccess)
	assert.Equal(t, 1, result.ProcessedCount)
	assert.Empty(t, f.runs.completed)

	// bookkeeping still lands after the request context is gone
	notes := notifications(f.events.Events())
	require.Len(t, notes, 1)
	assert.Equal(t, progress.NotifyDanger, notes[0].NotificationType)
}

func TestService_Cancel(t *testing.T) {
	f := newServiceFixture(t)
	require.True(t, f.service.Run(context.Background(), f.request("Bölüm1")).IsSuccess)
	f.events.Events()

	require.NoError(t, f.service.Cancel(context.Background(), "ayse"))

	assert.Equal(t, int64(1), f.launcher.Closes())

	events := f.events.Events()
	require.Len(t, events, 2)
	assert.Equal(t, progress.KindProgress, events[0].Kind)
	assert.Equal(t, 0, events[0].Percent)
	assert.Equal(t, "Operation cancelled", events[0].Status)
	assert.Equal(t, progress.NotifyWarning, events[1].NotificationType)

	// the next run starts a new browser
	result := f.service.Run(context.Background(), f.request("Bölüm2"))
	require.True(t, result.IsSuccess, result.ErrorMessage)
	assert.Equal(t, int64(2), f.launcher.Launches())
	assert.Contains(t, result.Logs, "Browser started")

	require.NoError(t, f.recorder.Close())
	assert.Equal(t, []string{domain.ActionFill, domain.ActionCancel, domain.ActionFill}, f.store.actions())
}

func TestService_ActivityJobsCountedOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsWithRegistry("test", reg, reg)
	f := newServiceFixtureWithMetrics(t, metrics)

	require.NoError(t, f.service.Cancel(context.Background(), "ayse"))
	require.NoError(t, f.recorder.Close())

	assert.Equal(t, []string{domain.ActionCancel}, f.store.actions())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ActivityJobs.WithLabelValues("success")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.ActivityJobs.WithLabelValues("failed")))
}

func TestService_CloseBrowser(t *testing.T) {
	f := newServiceFixture(t)

	// closing without a session is a no-op
	require.NoError(t, f.service.CloseBrowser(context.Background(), "ayse"))
	assert.Zero(t, f.launcher.Closes())

	require.True(t, f.service.Run(context.Background(), f.request("Bölüm1")).IsSuccess)
	f.events.Events()

	require.NoError(t, f.service.CloseBrowser(context.Background(), "ayse"))
	assert.Equal(t, int64(1), f.launcher.Closes())

	events := f.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, progress.KindStatus, events[0].Kind)
	assert.Equal(t, "Browser closed", events[0].Status)
}

func TestService_SerializeRuns(t *testing.T) {
	f := newServiceFixture(t)
	f.service.serialize = true

	var wg sync.WaitGroup
	results := make([]*domain.FillResult, 2)
	for i, name := range []string{"Bölüm1", "Bölüm2"} {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i] = f.service.Run(context.Background(), f.request(name))
		}(i, name)
	}
	wg.Wait()

	for _, r := range results {
		require.True(t, r.IsSuccess, r.ErrorMessage)
	}
	assert.Equal(t, int64(1), f.launcher.Launches())
}

func TestService_LookupAndTrack(t *testing.T) {
	f := newServiceFixture(t)

	assert.Nil(t, f.service.Lookup(uuid.New()))

	run := &domain.RunRecord{
		RunID:     uuid.New(),
		UserKey:   "ayse",
		SheetName: "Bölüm3",
		State:     domain.RunStateNavigating,
		Progress:  20,
	}
	f.service.Track(context.Background(), run)

	got := f.service.Lookup(run.RunID)
	require.NotNil(t, got)
	assert.Equal(t, domain.RunStateNavigating, got.State)
	assert.False(t, got.UpdatedAt.IsZero())
	assert.Equal(t, []domain.RunState{domain.RunStateNavigating}, f.runs.states)
}

func TestRunRegistry_Evicts(t *testing.T) {
	r := newRunRegistry(2)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		r.put(&domain.RunRecord{RunID: id})
	}

	assert.Nil(t, r.get(ids[0]))
	assert.NotNil(t, r.get(ids[1]))
	assert.NotNil(t, r.get(ids[2]))
}
