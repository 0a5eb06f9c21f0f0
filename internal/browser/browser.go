// Package browser binds the daemon to a live Chrome over the DevTools
// protocol. It implements the tab service, the agent injector and the agent
// transport on top of chromedp, so the rest of the daemon never sees CDP.
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/promptdock/promptdock/internal/agent"
	"github.com/promptdock/promptdock/internal/logging"
	"github.com/promptdock/promptdock/internal/model"
	"github.com/promptdock/promptdock/internal/tabs"
)

type tabEntry struct {
	id       int
	targetID target.ID
	ctx      context.Context
	cancel   context.CancelFunc
	url      string
	status   string
	agent    *agent.Agent
}

// Browser owns the chromedp allocator and browser contexts and the mapping
// from stable small-int tab ids to CDP targets.
type Browser struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc
	logger      *logging.Logger

	mu       sync.Mutex
	entries  map[int]*tabEntry
	byTarget map[target.ID]int
	nextID   int
	activeID int

	events chan tabs.Event
}

// New launches (or attaches to) Chrome per the configuration and returns a
// ready Browser. Close releases it.
func New(ctx context.Context, cfg model.BrowserConfig, logger *logging.Logger) (*Browser, error) {
	var allocCtx context.Context
	var allocCancel context.CancelFunc

	if cfg.DebugURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.DebugURL)
	} else {
		opts := append([]chromedp.ExecAllocatorOption{},
			chromedp.NoFirstRun,
			chromedp.NoDefaultBrowserCheck,
			chromedp.Flag("disable-background-networking", false),
			chromedp.Flag("disable-popup-blocking", true),
		)
		if cfg.ChromePath != "" {
			opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
		}
		if cfg.Headless {
			opts = append(opts, chromedp.Headless)
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	}

	browserCtx, browserStop := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserStop()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	b := &Browser{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		browserCtx:  browserCtx,
		browserStop: browserStop,
		logger:      logger,
		entries:     make(map[int]*tabEntry),
		byTarget:    make(map[target.ID]int),
		nextID:      1,
		events:      make(chan tabs.Event, 16),
	}
	return b, nil
}

func (b *Browser) Close() {
	b.mu.Lock()
	for _, e := range b.entries {
		e.cancel()
	}
	b.mu.Unlock()
	b.browserStop()
	b.allocCancel()
}

// Query lists known tabs, refreshing the target map from Chrome first so
// user-opened tabs appear and closed ones disappear.
func (b *Browser) Query(ctx context.Context, filter tabs.Filter) ([]tabs.Tab, error) {
	if err := b.refresh(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []tabs.Tab
	for _, e := range b.entries {
		t := b.snapshotLocked(e)
		if filter.Active && !t.Active {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (b *Browser) Get(ctx context.Context, id int) (tabs.Tab, error) {
	if err := b.refresh(ctx); err != nil {
		return tabs.Tab{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if !ok {
		return tabs.Tab{}, tabs.ErrTabNotFound
	}
	return b.snapshotLocked(e), nil
}

// Create opens a new tab and starts navigating it. The tab is returned
// immediately in loading state; callers poll Get until it settles.
func (b *Browser) Create(ctx context.Context, url string) (tabs.Tab, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	e := &tabEntry{
		id:     id,
		ctx:    tabCtx,
		cancel: cancel,
		url:    url,
		status: tabs.StatusLoading,
	}
	b.entries[id] = e
	b.activeID = id
	snap := b.snapshotLocked(e)
	b.mu.Unlock()

	go b.navigate(e, url)
	return snap, nil
}

// Update navigates an existing tab. Navigation tears down the tab's agent;
// it must be provisioned again afterwards.
func (b *Browser) Update(ctx context.Context, id int, url string) (tabs.Tab, error) {
	b.mu.Lock()
	e, ok := b.entries[id]
	if !ok {
		b.mu.Unlock()
		return tabs.Tab{}, tabs.ErrTabNotFound
	}
	e.url = url
	e.status = tabs.StatusLoading
	e.agent = nil
	snap := b.snapshotLocked(e)
	b.mu.Unlock()

	go b.navigate(e, url)
	return snap, nil
}

func (b *Browser) ActiveTab(ctx context.Context) (tabs.Tab, error) {
	if err := b.refresh(ctx); err != nil {
		return tabs.Tab{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[b.activeID]
	if !ok {
		return tabs.Tab{}, tabs.ErrNoActiveTab
	}
	return b.snapshotLocked(e), nil
}

func (b *Browser) Events() <-chan tabs.Event {
	return b.events
}

func (b *Browser) navigate(e *tabEntry, url string) {
	err := chromedp.Run(e.ctx, chromedp.Navigate(url))

	b.mu.Lock()
	if err != nil {
		b.logger.Errorf("navigate tab=%d url=%s: %v", e.id, url, err)
	} else {
		if c := chromedp.FromContext(e.ctx); c.Target != nil {
			if e.targetID == "" {
				e.targetID = c.Target.TargetID
				b.byTarget[e.targetID] = e.id
			}
		}
		e.status = tabs.StatusComplete
	}
	snap := b.snapshotLocked(e)
	b.mu.Unlock()

	b.emit(tabs.Event{Kind: tabs.EventUpdated, Tab: snap})
}

// refresh reconciles the tab map with Chrome's live page targets.
func (b *Browser) refresh(ctx context.Context) error {
	infos, err := chromedp.Targets(b.browserCtx)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[target.ID]bool, len(infos))
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		seen[info.TargetID] = true
		if id, ok := b.byTarget[info.TargetID]; ok {
			b.entries[id].url = info.URL
			continue
		}
		// A tab the user opened outside promptdock.
		tabCtx, cancel := chromedp.NewContext(b.browserCtx, chromedp.WithTargetID(info.TargetID))
		id := b.nextID
		b.nextID++
		b.entries[id] = &tabEntry{
			id:       id,
			targetID: info.TargetID,
			ctx:      tabCtx,
			cancel:   cancel,
			url:      info.URL,
			status:   tabs.StatusComplete,
		}
		b.byTarget[info.TargetID] = id
		if b.activeID == 0 {
			b.activeID = id
		}
	}

	for tid, id := range b.byTarget {
		if seen[tid] {
			continue
		}
		if e, ok := b.entries[id]; ok {
			e.cancel()
			delete(b.entries, id)
		}
		delete(b.byTarget, tid)
		if b.activeID == id {
			b.activeID = 0
		}
	}
	return nil
}

func (b *Browser) snapshotLocked(e *tabEntry) tabs.Tab {
	return tabs.Tab{
		ID:     e.id,
		URL:    e.url,
		Active: e.id == b.activeID,
		Status: e.status,
	}
}

func (b *Browser) emit(ev tabs.Event) {
	select {
	case b.events <- ev:
	default:
	}
}

func (b *Browser) entry(id int) (*tabEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	return e, ok
}

// siteRules resolves the adapter rule set for a tab's current URL.
func (b *Browser) siteRules(e *tabEntry) (agent.SiteRules, bool) {
	b.mu.Lock()
	url := e.url
	b.mu.Unlock()
	if _, ok := model.MatchURL(url); !ok {
		return agent.SiteRules{}, false
	}
	return agent.RulesForURL(url)
}
