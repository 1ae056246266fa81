package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/formpilot/formpilot/internal/domain"
)

type memoryStore struct {
	mu      sync.Mutex
	err     error
	batches [][]domain.ActivityEntry
}

func (s *memoryStore) InsertBatch(_ context.Context, entries []domain.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, append([]domain.ActivityEntry(nil), entries...))
	return nil
}

func (s *memoryStore) entries() []domain.ActivityEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ActivityEntry
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRecorder_SubmitCompletesJob(t *testing.T) {
	store := &memoryStore{}
	r := NewRecorder(store, Config{FlushInterval: 10 * time.Millisecond}, zaptest.NewLogger(t))
	defer r.Close()

	entry := domain.NewActivityEntry(domain.ActionFill, "ayse", domain.ActivitySuccess)
	job := r.Submit(entry)

	require.NoError(t, job.Wait(waitCtx(t)))
	got := store.entries()
	require.Len(t, got, 1)
	assert.Equal(t, entry.ID, got[0].ID)
}

func TestRecorder_FillsMissingIDAndTime(t *testing.T) {
	store := &memoryStore{}
	r := NewRecorder(store, Config{FlushInterval: 10 * time.Millisecond}, nil)
	defer r.Close()

	job := r.Submit(domain.ActivityEntry{Action: domain.ActionCancel, UserKey: "ayse"})

	require.NoError(t, job.Wait(waitCtx(t)))
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", job.Entry.ID.String())
	assert.False(t, job.Entry.CreatedAt.IsZero())
}

func TestRecorder_BatchesBySize(t *testing.T) {
	store := &memoryStore{}
	r := NewRecorder(store, Config{BatchSize: 3, FlushInterval: time.Hour}, nil)

	var jobs []*Job
	for i := 0; i < 3; i++ {
		jobs = append(jobs, r.Submit(domain.NewActivityEntry(domain.ActionFill, "ayse", domain.ActivitySuccess)))
	}
	for _, job := range jobs {
		require.NoError(t, job.Wait(waitCtx(t)))
	}

	require.NoError(t, r.Close())
	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.batches, 1)
	assert.Len(t, store.batches[0], 3)
}

func TestRecorder_FailuresAreObservable(t *testing.T) {
	store := &memoryStore{err: errors.New("relation \"activity_logs\" does not exist")}
	var results []error
	var mu sync.Mutex
	r := NewRecorder(store, Config{FlushInterval: 10 * time.Millisecond}, zaptest.NewLogger(t))
	r.OnResult(func(err error) {
		mu.Lock()
		results = append(results, err)
		mu.Unlock()
	})
	defer r.Close()

	entry := domain.NewActivityEntry(domain.ActionFill, "ayse", domain.ActivityFailed)
	job := r.Submit(entry)

	err := <-job.Done()
	require.Error(t, err)

	select {
	case f := <-r.Failures():
		assert.Equal(t, entry.ID, f.Entry.ID)
		assert.Error(t, f.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("failure not reported")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, results, 1)
}

func TestRecorder_CloseDrainsQueue(t *testing.T) {
	store := &memoryStore{}
	r := NewRecorder(store, Config{BatchSize: 100, FlushInterval: time.Hour}, nil)

	var jobs []*Job
	for i := 0; i < 10; i++ {
		jobs = append(jobs, r.Submit(domain.NewActivityEntry(domain.ActionFill, "ayse", domain.ActivitySuccess)))
	}

	require.NoError(t, r.Close())
	assert.Len(t, store.entries(), 10)
	for _, job := range jobs {
		assert.NoError(t, <-job.Done())
	}
}

func TestRecorder_SubmitAfterClose(t *testing.T) {
	r := NewRecorder(&memoryStore{}, DefaultConfig(), nil)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	job := r.Submit(domain.NewActivityEntry(domain.ActionFill, "ayse", domain.ActivitySuccess))

	assert.ErrorIs(t, <-job.Done(), ErrClosed)
}

func TestRecorder_FullQueueWritesDirectly(t *testing.T) {
	store := &memoryStore{}
	r := NewRecorder(store, Config{BufferSize: 1, BatchSize: 100, FlushInterval: time.Hour}, nil)

	var jobs []*Job
	for i := 0; i < 5; i++ {
		jobs = append(jobs, r.Submit(domain.NewActivityEntry(domain.ActionFill, "ayse", domain.ActivitySuccess)))
	}
	require.NoError(t, r.Close())

	for _, job := range jobs {
		assert.NoError(t, job.Wait(waitCtx(t)))
	}
	assert.Len(t, store.entries(), 5)
}
