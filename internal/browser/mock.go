package browser

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/formpilot/formpilot/internal/config"
	"github.com/formpilot/formpilot/internal/domain"
)

var prefixSuffixSelector = regexp.MustCompile(`\[id\^='([^']*)'\]\[id\$='([^']*)'\]`)

// MockPage is an in-memory form used for local development without a browser
type MockPage struct {
	mu       sync.Mutex
	url      string
	visits   []string
	order    []string
	text     map[string]string
	selects  map[string]*mockSelect
	failures map[string]error
	waits    map[string]time.Duration
}

type mockSelect struct {
	labels   []string
	selected int
}

// NewMockPage creates an empty mock page
func NewMockPage() *MockPage {
	return &MockPage{
		url:      "about:blank",
		text:     make(map[string]string),
		selects:  make(map[string]*mockSelect),
		failures: make(map[string]error),
		waits:    make(map[string]time.Duration),
	}
}

// AddTextField adds a free-text control
func (p *MockPage) AddTextField(id string) *MockPage {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.text[id]; !ok {
		p.order = append(p.order, id)
	}
	p.text[id] = ""
	return p
}

// AddSelect adds a select control with the given option labels
func (p *MockPage) AddSelect(id string, labels ...string) *MockPage {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selects[id] = &mockSelect{labels: labels, selected: -1}
	return p
}

// FailOn makes every operation on id return err
func (p *MockPage) FailOn(id string, err error) *MockPage {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[id] = err
	return p
}

// Value returns the text written to id
func (p *MockPage) Value(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text[id]
}

// Selected returns the selected label of a select control
func (p *MockPage) Selected(id string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.selects[id]
	if !ok || s.selected < 0 {
		return "", false
	}
	return s.labels[s.selected], true
}

// Wait returns the timeout the last lookup of id was allowed
func (p *MockPage) Wait(id string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waits[id]
}

// Visits returns every URL navigated to
func (p *MockPage) Visits() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visits...)
}

func (p *MockPage) Goto(url string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failures[url]; err != nil {
		return domain.ErrNavigationFailed(url, err)
	}
	p.url = url
	p.visits = append(p.visits, url)
	return nil
}

func (p *MockPage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *MockPage) AttributeValues(selector, attr string) ([]string, error) {
	if attr != "id" {
		return nil, fmt.Errorf("mock page only supports the id attribute")
	}
	m := prefixSuffixSelector.FindStringSubmatch(selector)
	if m == nil {
		return nil, fmt.Errorf("unsupported selector %q", selector)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for _, id := range p.order {
		if strings.HasPrefix(id, m[1]) && strings.HasSuffix(id, m[2]) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (p *MockPage) FillText(id, value string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits[id] = timeout
	if err := p.failures[id]; err != nil {
		return err
	}
	if _, ok := p.text[id]; !ok {
		return domain.ErrFieldNotFound(id, fmt.Errorf("no element with id %s", id))
	}
	p.text[id] = value
	return nil
}

func (p *MockPage) OptionLabels(id string, timeout time.Duration) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits[id] = timeout
	if err := p.failures[id]; err != nil {
		return nil, err
	}
	s, ok := p.selects[id]
	if !ok {
		return nil, domain.ErrFieldNotFound(id, fmt.Errorf("no element with id %s", id))
	}
	return append([]string(nil), s.labels...), nil
}

func (p *MockPage) SelectIndex(id string, index int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.selects[id]
	if !ok {
		return "", domain.ErrSelectFailed(id, fmt.Errorf("no element with id %s", id))
	}
	if index < 0 || index >= len(s.labels) {
		return "", domain.ErrSelectFailed(id, fmt.Errorf("option index %d out of range", index))
	}
	s.selected = index
	return s.labels[index], nil
}

// MockLauncher hands out mock pages and counts launches
type MockLauncher struct {
	NewPage func() *MockPage
	Err     error

	launches atomic.Int64
	closes   atomic.Int64
}

// NewDemoLauncher returns a launcher whose pages render every field of the five-page form
func NewDemoLauncher(cfg config.FormConfig) *MockLauncher {
	return &MockLauncher{
		NewPage: func() *MockPage {
			page := NewMockPage()
			for id := 1; id <= 254; id++ {
				page.AddTextField(fmt.Sprintf("%s%d%s", cfg.TextFieldPrefix, id, cfg.TextFieldSuffix))
			}
			for q := 1; q <= 51; q++ {
				page.AddSelect(fmt.Sprintf("%s%d", cfg.SelectPrefix, q), "Seçiniz", "Evet", "Hayır", "Var", "Yok", "Uygun", "Uygun Değil")
			}
			return page
		},
	}
}

// Launch returns a new mock handle
func (l *MockLauncher) Launch(ctx context.Context) (Handle, error) {
	l.launches.Add(1)
	if l.Err != nil {
		return nil, l.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page := NewMockPage()
	if l.NewPage != nil {
		page = l.NewPage()
	}
	return &mockHandle{page: page, launcher: l}, nil
}

// Launches returns the number of Launch calls
func (l *MockLauncher) Launches() int64 {
	return l.launches.Load()
}

// Closes returns the number of handles closed
func (l *MockLauncher) Closes() int64 {
	return l.closes.Load()
}

type mockHandle struct {
	page     *MockPage
	launcher *MockLauncher
}

func (h *mockHandle) Page() Page {
	return h.page
}

func (h *mockHandle) Close() error {
	h.launcher.closes.Add(1)
	return nil
}
