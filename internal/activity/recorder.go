// Package activity records user-visible actions as asynchronous jobs. Every submitted entry
// yields a Job whose completion can be awaited, and failed writes are reported on a channel
// instead of only reaching the log.
package activity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot/internal/domain"
)

// ErrClosed is reported by jobs submitted after Close
var ErrClosed = errors.New("activity recorder closed")

// Store persists activity entries
type Store interface {
	InsertBatch(ctx context.Context, entries []domain.ActivityEntry) error
}

// Job is one submitted entry
type Job struct {
	Entry domain.ActivityEntry
	done  chan error
}

func newJob(entry domain.ActivityEntry) *Job {
	return &Job{Entry: entry, done: make(chan error, 1)}
}

func (j *Job) finish(err error) {
	j.done <- err
	close(j.done)
}

// Done yields the write result once and is then closed
func (j *Job) Done() <-chan error {
	return j.done
}

// Wait blocks until the entry is written or ctx ends
func (j *Job) Wait(ctx context.Context) error {
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failure is a job that could not be written
type Failure struct {
	Entry domain.ActivityEntry
	Err   error
}

// Config holds configuration for the recorder
type Config struct {
	BufferSize    int           // queued jobs before Submit writes directly
	BatchSize     int           // max entries per store write
	FlushInterval time.Duration // time interval for flushing a partial batch
	WriteTimeout  time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		BufferSize:    256,
		BatchSize:     50,
		FlushInterval: 1 * time.Second,
		WriteTimeout:  10 * time.Second,
	}
}

// Recorder batches activity entries to a Store in the background
type Recorder struct {
	store    Store
	cfg      Config
	logger   *zap.Logger
	onResult func(error)

	mu     sync.RWMutex
	closed bool
	queue  chan *Job
	done   chan struct{}
	wg     sync.WaitGroup

	failures chan Failure
}

// NewRecorder creates a recorder and starts its writer
func NewRecorder(store Store, cfg Config, logger *zap.Logger) *Recorder {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Recorder{
		store:    store,
		cfg:      cfg,
		logger:   logger,
		queue:    make(chan *Job, cfg.BufferSize),
		done:     make(chan struct{}),
		failures: make(chan Failure, 32),
	}

	r.wg.Add(1)
	go r.run()

	return r
}

// OnResult registers a hook called with every job's result. Call before submitting.
func (r *Recorder) OnResult(fn func(error)) {
	r.onResult = fn
}

// Failures reports jobs whose write failed. Failures are dropped when nobody reads them.
func (r *Recorder) Failures() <-chan Failure {
	return r.failures
}

// Submit queues entry for writing
func (r *Recorder) Submit(entry domain.ActivityEntry) *Job {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	job := newJob(entry)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.complete([]*Job{job}, ErrClosed)
		return job
	}

	select {
	case r.queue <- job:
	default:
		r.logger.Warn("activity queue full, writing directly",
			zap.String("action", entry.Action),
			zap.String("user", entry.UserKey),
		)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.write([]*Job{job})
		}()
	}
	return job
}

// Close writes everything still queued and stops the writer
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.done)
	r.wg.Wait()
	return nil
}

func (r *Recorder) run() {
	defer r.wg.Done()

	batch := make([]*Job, 0, r.cfg.BatchSize)
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			r.write(batch)
			batch = make([]*Job, 0, r.cfg.BatchSize)
		}
	}

	for {
		select {
		case job := <-r.queue:
			batch = append(batch, job)
			if len(batch) >= r.cfg.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-r.done:
			for {
				select {
				case job := <-r.queue:
					batch = append(batch, job)
					if len(batch) >= r.cfg.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (r *Recorder) write(jobs []*Job) {
	entries := make([]domain.ActivityEntry, len(jobs))
	for i, job := range jobs {
		entries[i] = job.Entry
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()

	err := r.store.InsertBatch(ctx, entries)
	if err != nil {
		r.logger.Error("failed to write activity batch",
			zap.Error(err),
			zap.Int("batch_size", len(jobs)),
		)
	} else {
		r.logger.Debug("wrote activity batch", zap.Int("count", len(jobs)))
	}
	r.complete(jobs, err)
}

func (r *Recorder) complete(jobs []*Job, err error) {
	for _, job := range jobs {
		job.finish(err)
		if r.onResult != nil {
			r.onResult(err)
		}
		if err == nil {
			continue
		}
		select {
		case r.failures <- Failure{Entry: job.Entry, Err: err}:
		default:
			r.logger.Warn("activity failure dropped", zap.String("id", job.Entry.ID.String()))
		}
	}
}
