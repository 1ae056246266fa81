package browser

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot/internal/domain"
)

// Session is the shared browser. Its page stops working once the session is released.
type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time

	handle Handle
	closed atomic.Bool
}

// Page returns the session's tab
func (s *Session) Page() Page {
	return &guardedPage{session: s, inner: s.handle.Page()}
}

// IsOpen returns false once the session has been released
func (s *Session) IsOpen() bool {
	return !s.closed.Load()
}

// State is a snapshot of the manager for status endpoints
type State struct {
	Open      bool      `json:"open"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	URL       string    `json:"url,omitempty"`
	Launches  int64     `json:"launches"`
}

// Manager creates the browser on first use and hands the same session to every caller
// until it is released. Creation and teardown are serialised; use of an open session is not.
type Manager struct {
	mu       sync.Mutex
	launcher Launcher
	session  *Session
	launches atomic.Int64
	logger   *zap.Logger

	onLaunch func(ok bool)
}

// NewManager creates a session manager
func NewManager(launcher Launcher, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		launcher: launcher,
		logger:   logger,
	}
}

// OnLaunch registers a hook called after every launch attempt
func (m *Manager) OnLaunch(fn func(ok bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLaunch = fn
}

// Acquire returns the open session, starting one if none exists.
// created is true when this call launched the browser.
func (m *Manager) Acquire(ctx context.Context) (session *Session, created bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil && m.session.IsOpen() {
		return m.session, false, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, false, domain.ErrSessionStartFailed(err)
	}

	m.logger.Info("starting browser session")
	start := time.Now()

	handle, err := m.launcher.Launch(ctx)
	m.launches.Add(1)
	if m.onLaunch != nil {
		m.onLaunch(err == nil)
	}
	if err != nil {
		m.logger.Error("browser session failed to start", zap.Error(err))
		if appErr, ok := domain.AsAppError(err); ok && appErr.Code == domain.ErrCodeBinaryNotFound {
			return nil, false, appErr
		}
		return nil, false, domain.ErrSessionStartFailed(err)
	}

	m.session = &Session{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
		handle:    handle,
	}

	m.logger.Info("browser session started",
		zap.String("session_id", m.session.ID.String()),
		zap.Duration("duration", time.Since(start)),
	)

	return m.session, true, nil
}

// Release closes the open session. It is a no-op when none exists.
// Runs still holding the session fail their next page operation with SESSION_CLOSED.
func (m *Manager) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}

	s := m.session
	m.session = nil
	s.closed.Store(true)

	m.logger.Info("closing browser session", zap.String("session_id", s.ID.String()))
	if err := s.handle.Close(); err != nil {
		m.logger.Warn("browser session did not close cleanly", zap.Error(err))
		return err
	}
	return nil
}

// IsOpen reports whether a session is currently open
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil && m.session.IsOpen()
}

// Launches returns the number of launch attempts so far
func (m *Manager) Launches() int64 {
	return m.launches.Load()
}

// State returns a snapshot of the session
func (m *Manager) State() State {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()

	st := State{Launches: m.launches.Load()}
	if s == nil || !s.IsOpen() {
		return st
	}
	st.Open = true
	st.SessionID = s.ID.String()
	st.CreatedAt = s.CreatedAt
	st.URL = s.handle.Page().URL()
	return st
}

// guardedPage turns errors raised after release into SESSION_CLOSED
type guardedPage struct {
	session *Session
	inner   Page
}

func (p *guardedPage) check(err error) error {
	if err != nil && !p.session.IsOpen() {
		return domain.ErrSessionClosed(err)
	}
	return err
}

func (p *guardedPage) closed() error {
	if !p.session.IsOpen() {
		return domain.ErrSessionClosed(nil)
	}
	return nil
}

func (p *guardedPage) Goto(url string, timeout time.Duration) error {
	if err := p.closed(); err != nil {
		return err
	}
	return p.check(p.inner.Goto(url, timeout))
}

func (p *guardedPage) URL() string {
	if !p.session.IsOpen() {
		return ""
	}
	return p.inner.URL()
}

func (p *guardedPage) AttributeValues(selector, attr string) ([]string, error) {
	if err := p.closed(); err != nil {
		return nil, err
	}
	v, err := p.inner.AttributeValues(selector, attr)
	return v, p.check(err)
}

func (p *guardedPage) FillText(id, value string, timeout time.Duration) error {
	if err := p.closed(); err != nil {
		return err
	}
	return p.check(p.inner.FillText(id, value, timeout))
}

func (p *guardedPage) OptionLabels(id string, timeout time.Duration) ([]string, error) {
	if err := p.closed(); err != nil {
		return nil, err
	}
	v, err := p.inner.OptionLabels(id, timeout)
	return v, p.check(err)
}

func (p *guardedPage) SelectIndex(id string, index int) (string, error) {
	if err := p.closed(); err != nil {
		return "", err
	}
	v, err := p.inner.SelectIndex(id, index)
	return v, p.check(err)
}
