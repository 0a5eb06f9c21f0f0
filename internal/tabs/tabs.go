// Package tabs defines the tab/page collaborator: querying, opening, and
// navigating browser tabs, plus update/activation notifications.
package tabs

import (
	"context"
	"errors"
)

// Status values mirror the browser's loading lifecycle.
const (
	StatusLoading  = "loading"
	StatusComplete = "complete"
)

type Tab struct {
	ID     int
	URL    string
	Active bool
	Status string
}

type Filter struct {
	Active bool
}

// EventKind distinguishes tab notifications.
type EventKind string

const (
	EventUpdated   EventKind = "updated"
	EventActivated EventKind = "activated"
)

type Event struct {
	Kind EventKind
	Tab  Tab
}

// ErrNoActiveTab is returned when no tab is focused anywhere.
var ErrNoActiveTab = errors.New("no active tab found")

// ErrTabNotFound is returned for unknown tab ids.
var ErrTabNotFound = errors.New("tab not found")

// Service is the tab collaborator.
type Service interface {
	Query(ctx context.Context, f Filter) ([]Tab, error)
	Get(ctx context.Context, id int) (Tab, error)
	Create(ctx context.Context, url string) (Tab, error)
	Update(ctx context.Context, id int, url string) (Tab, error)
	// ActiveTab returns the currently focused tab.
	ActiveTab(ctx context.Context) (Tab, error)
	Events() <-chan Event
}
