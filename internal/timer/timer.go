// Package timer implements the durable-timer collaborator: named one-shot
// alarms at absolute times that survive daemon restarts. The alarm set is
// persisted to disk on every mutation and reloaded on construction; the
// in-memory goroutine state is re-derived, never trusted across restarts.
package timer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Fire is delivered on the fire channel when an alarm's deadline passes.
type Fire struct {
	ID          string
	ScheduledAt time.Time
}

// Handle describes a live alarm.
type Handle struct {
	ID   string
	When time.Time
}

// Service is the durable-timer facility. At most one live alarm exists per
// id; Create replaces.
type Service interface {
	Create(id string, when time.Time)
	Clear(id string) bool
	ClearAll()
	Get(id string) *Handle
	IDs() []string
	Fires() <-chan Fire
	Close()
}

const alarmsFileName = "alarms.json"

// Durable is the production Service, persisting alarms under dir.
type Durable struct {
	path string

	mu     sync.Mutex
	alarms map[string]time.Time

	fires  chan Fire
	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDurable(dir string) (*Durable, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create timer dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Durable{
		path:   filepath.Join(dir, alarmsFileName),
		alarms: make(map[string]time.Time),
		fires:  make(chan Fire, 64),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if err := d.load(); err != nil {
		cancel()
		return nil, err
	}

	go d.run()
	return d, nil
}

func (d *Durable) Create(id string, when time.Time) {
	d.mu.Lock()
	d.alarms[id] = when
	d.persistLocked()
	d.mu.Unlock()
	d.kick()
}

func (d *Durable) Clear(id string) bool {
	d.mu.Lock()
	_, ok := d.alarms[id]
	if ok {
		delete(d.alarms, id)
		d.persistLocked()
	}
	d.mu.Unlock()
	if ok {
		d.kick()
	}
	return ok
}

func (d *Durable) ClearAll() {
	d.mu.Lock()
	if len(d.alarms) > 0 {
		d.alarms = make(map[string]time.Time)
		d.persistLocked()
	}
	d.mu.Unlock()
	d.kick()
}

func (d *Durable) Get(id string) *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	when, ok := d.alarms[id]
	if !ok {
		return nil
	}
	return &Handle{ID: id, When: when}
}

func (d *Durable) IDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.alarms))
	for id := range d.alarms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d *Durable) Fires() <-chan Fire {
	return d.fires
}

func (d *Durable) Close() {
	d.cancel()
	<-d.done
}

// run sleeps until the earliest alarm, fires it, and repeats. Mutations kick
// the loop awake to recompute the deadline.
func (d *Durable) run() {
	defer close(d.done)

	for {
		id, when, ok := d.next()

		var wait <-chan time.Time
		var tm *time.Timer
		if ok {
			tm = time.NewTimer(time.Until(when))
			wait = tm.C
		}

		select {
		case <-d.ctx.Done():
			if tm != nil {
				tm.Stop()
			}
			return
		case <-d.wake:
			if tm != nil {
				tm.Stop()
			}
			continue
		case <-wait:
		}

		// Deadline passed: remove before delivering so a consumer crash
		// cannot double-fire from our side. The scheduler's own store
		// reconciliation covers the lost-fire case.
		d.mu.Lock()
		cur, still := d.alarms[id]
		if still && cur.Equal(when) {
			delete(d.alarms, id)
			d.persistLocked()
		}
		d.mu.Unlock()
		if !still || !cur.Equal(when) {
			continue
		}

		select {
		case <-d.ctx.Done():
			return
		case d.fires <- Fire{ID: id, ScheduledAt: when}:
		}
	}
}

func (d *Durable) next() (string, time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var (
		bestID string
		best   time.Time
		found  bool
	)
	for id, when := range d.alarms {
		if !found || when.Before(best) {
			bestID, best, found = id, when, true
		}
	}
	return bestID, best, found
}

func (d *Durable) kick() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

type persistedAlarm struct {
	ID   string    `json:"id"`
	When time.Time `json:"when"`
}

func (d *Durable) persistLocked() {
	list := make([]persistedAlarm, 0, len(d.alarms))
	for id, when := range d.alarms {
		list = append(list, persistedAlarm{ID: id, When: when})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	data, err := json.Marshal(list)
	if err != nil {
		return
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return
	}
	_ = os.Rename(tmp, d.path)
}

func (d *Durable) load() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read alarms file: %w", err)
	}
	var list []persistedAlarm
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("decode alarms file: %w", err)
	}
	for _, a := range list {
		d.alarms[a.ID] = a.When
	}
	return nil
}
