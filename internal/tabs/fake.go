package tabs

import (
	"context"
	"sync"
)

// Fake is an in-memory Service for tests and for running the daemon without
// a browser attached.
type Fake struct {
	mu      sync.Mutex
	nextID  int
	byID    map[int]*Tab
	active  int
	events  chan Event
	created []string

	// CompleteOnCreate marks new tabs complete immediately instead of
	// leaving them loading until MarkComplete.
	CompleteOnCreate bool
}

func NewFake() *Fake {
	return &Fake{
		nextID:           1,
		byID:             map[int]*Tab{},
		events:           make(chan Event, 16),
		CompleteOnCreate: true,
	}
}

// AddTab seeds a tab and returns its id.
func (f *Fake) AddTab(url string, active bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.byID[id] = &Tab{ID: id, URL: url, Active: active, Status: StatusComplete}
	if active {
		f.setActiveLocked(id)
	}
	return id
}

// Created returns the URLs opened via Create, in order.
func (f *Fake) Created() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.created))
	copy(out, f.created)
	return out
}

// MarkComplete flips a tab to complete and emits an updated event.
func (f *Fake) MarkComplete(id int) {
	f.mu.Lock()
	t, ok := f.byID[id]
	if ok {
		t.Status = StatusComplete
	}
	var copyT Tab
	if ok {
		copyT = *t
	}
	f.mu.Unlock()
	if ok {
		f.emit(Event{Kind: EventUpdated, Tab: copyT})
	}
}

func (f *Fake) Query(ctx context.Context, filter Filter) ([]Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Tab
	for _, t := range f.byID {
		if filter.Active && !t.Active {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (f *Fake) Get(ctx context.Context, id int) (Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return Tab{}, ErrTabNotFound
	}
	return *t, nil
}

func (f *Fake) Create(ctx context.Context, url string) (Tab, error) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	status := StatusLoading
	if f.CompleteOnCreate {
		status = StatusComplete
	}
	t := &Tab{ID: id, URL: url, Active: true, Status: status}
	f.byID[id] = t
	f.setActiveLocked(id)
	f.created = append(f.created, url)
	copyT := *t
	f.mu.Unlock()

	f.emit(Event{Kind: EventActivated, Tab: copyT})
	return copyT, nil
}

func (f *Fake) Update(ctx context.Context, id int, url string) (Tab, error) {
	f.mu.Lock()
	t, ok := f.byID[id]
	if !ok {
		f.mu.Unlock()
		return Tab{}, ErrTabNotFound
	}
	t.URL = url
	t.Status = StatusComplete
	copyT := *t
	f.mu.Unlock()

	f.emit(Event{Kind: EventUpdated, Tab: copyT})
	return copyT, nil
}

func (f *Fake) ActiveTab(ctx context.Context) (Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[f.active]
	if !ok {
		return Tab{}, ErrNoActiveTab
	}
	return *t, nil
}

func (f *Fake) Events() <-chan Event {
	return f.events
}

func (f *Fake) setActiveLocked(id int) {
	for _, t := range f.byID {
		t.Active = t.ID == id
	}
	f.active = id
}

func (f *Fake) emit(e Event) {
	select {
	case f.events <- e:
	default:
	}
}
