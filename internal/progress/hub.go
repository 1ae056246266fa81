package progress

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// HubConfig configures an in-memory hub
type HubConfig struct {
	// Buffer is the per-observer queue length
	Buffer int
	// OnDrop is called for every event an observer could not take
	OnDrop func()
	// OnSubscribers is called with the total observer count after every join and leave
	OnSubscribers func(total int)
}

// Hub fans events out to the observers of each channel
type Hub struct {
	cfg    HubConfig
	logger *zap.Logger

	mu       sync.RWMutex
	channels map[string]map[*observer]struct{}
	total    int

	dropped atomic.Int64
}

type observer struct {
	ch chan Event
}

// NewHub creates a hub
func NewHub(cfg HubConfig, logger *zap.Logger) *Hub {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		channels: make(map[string]map[*observer]struct{}),
	}
}

// Subscribe joins channel. The returned function leaves it and closes the event stream;
// it is safe to call more than once.
func (h *Hub) Subscribe(channel string) (<-chan Event, func()) {
	o := &observer{ch: make(chan Event, h.cfg.Buffer)}

	h.mu.Lock()
	set, ok := h.channels[channel]
	if !ok {
		set = make(map[*observer]struct{})
		h.channels[channel] = set
	}
	set[o] = struct{}{}
	h.total++
	total := h.total
	h.mu.Unlock()

	h.notifySubscribers(total)
	h.logger.Debug("observer joined", zap.String("channel", channel), zap.Int("observers", total))

	var once sync.Once
	leave := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.channels[channel], o)
			if len(h.channels[channel]) == 0 {
				delete(h.channels, channel)
			}
			h.total--
			total := h.total
			close(o.ch)
			h.mu.Unlock()

			h.notifySubscribers(total)
			h.logger.Debug("observer left", zap.String("channel", channel), zap.Int("observers", total))
		})
	}
	return o.ch, leave
}

// Publish delivers e to the current observers of e.Channel without blocking
func (h *Hub) Publish(_ context.Context, e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for o := range h.channels[e.Channel] {
		select {
		case o.ch <- e:
		default:
			h.dropped.Add(1)
			if h.cfg.OnDrop != nil {
				h.cfg.OnDrop()
			}
		}
	}
}

// Observers returns the number of observers of channel
func (h *Hub) Observers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Dropped returns the number of events lost to full observer queues
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) notifySubscribers(total int) {
	if h.cfg.OnSubscribers != nil {
		h.cfg.OnSubscribers(total)
	}
}
