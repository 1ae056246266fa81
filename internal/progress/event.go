// Package progress carries live fill progress from a run to the observers of a user's channel.
// Delivery is best-effort: events are never buffered for absent observers, and a slow
// observer loses events rather than slowing the run.
package progress

import (
	"context"
	"time"
)

// Event kinds
const (
	KindProgress     = "progress"
	KindNotification = "notification"
	KindStatus       = "status"
)

// Notification types
const (
	NotifySuccess = "success"
	NotifyDanger  = "danger"
	NotifyWarning = "warning"
	NotifyInfo    = "info"
)

// Event is one message on a user's channel
type Event struct {
	Channel          string    `json:"channel"`
	Kind             string    `json:"kind"`
	RunID            string    `json:"run_id,omitempty"`
	Percent          int       `json:"percent"`
	Status           string    `json:"status,omitempty"`
	Logs             []string  `json:"logs,omitempty"`
	NotificationType string    `json:"notification_type,omitempty"`
	Message          string    `json:"message,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Publisher sends events. Publish never blocks on observers and never fails the caller.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Progress builds a progress event
func Progress(channel string, percent int, status string, logs []string) Event {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return Event{
		Channel:   channel,
		Kind:      KindProgress,
		Percent:   percent,
		Status:    status,
		Logs:      logs,
		Timestamp: time.Now().UTC(),
	}
}

// Notification builds a notification event
func Notification(channel, notificationType, message string) Event {
	return Event{
		Channel:          channel,
		Kind:             KindNotification,
		NotificationType: notificationType,
		Message:          message,
		Timestamp:        time.Now().UTC(),
	}
}

// Status builds a system status event
func Status(channel, status string) Event {
	return Event{
		Channel:   channel,
		Kind:      KindStatus,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

// Multi publishes to every publisher in order
type Multi []Publisher

// Publish implements Publisher
func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		p.Publish(ctx, e)
	}
}

// Nop discards events
type Nop struct{}

// Publish implements Publisher
func (Nop) Publish(context.Context, Event) {}

// Recorder keeps every event it receives. Useful for the CLI summary and for tests.
type Recorder struct {
	events chan Event
}

// NewRecorder creates a recorder holding up to size events
func NewRecorder(size int) *Recorder {
	return &Recorder{events: make(chan Event, size)}
}

// Publish implements Publisher. Events beyond the recorder's size are dropped.
func (r *Recorder) Publish(_ context.Context, e Event) {
	select {
	case r.events <- e:
	default:
	}
}

// Events drains and returns everything recorded so far
func (r *Recorder) Events() []Event {
	var out []Event
	for {
		select {
		case e := <-r.events:
			out = append(out, e)
		default:
			return out
		}
	}
}
