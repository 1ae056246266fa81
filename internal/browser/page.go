// Package browser owns the shared automated browser session.
package browser

import (
	"context"
	"time"
)

// Page is the subset of a live browser tab the fill engine drives.
// Controls are addressed by element id.
type Page interface {
	// Goto navigates and waits for the load event
	Goto(url string, timeout time.Duration) error
	// URL returns the current address
	URL() string
	// AttributeValues returns attr for every element matching a CSS selector
	AttributeValues(selector, attr string) ([]string, error)
	// FillText waits up to timeout for the element, scrolls to it, clears it and types value
	FillText(id, value string, timeout time.Duration) error
	// OptionLabels returns the trimmed labels of a select control
	OptionLabels(id string, timeout time.Duration) ([]string, error)
	// SelectIndex selects an option and fires change, input and blur. It returns the selected label.
	SelectIndex(id string, index int) (string, error)
}

// Handle is one running browser process with a single tab
type Handle interface {
	Page() Page
	Close() error
}

// Launcher starts browser processes
type Launcher interface {
	Launch(ctx context.Context) (Handle, error)
}
