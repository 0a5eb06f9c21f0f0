package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/promptdock/promptdock/internal/events"
	"github.com/promptdock/promptdock/internal/logging"
	"github.com/promptdock/promptdock/internal/model"
	"github.com/promptdock/promptdock/internal/pipeline"
	"github.com/promptdock/promptdock/internal/store"
)

// StatusChecker is the pipeline slice the monitor polls.
type StatusChecker interface {
	CheckGenerationStatus(ctx context.Context, tabID int) (bool, pipeline.Result)
}

// Monitor watches the LLM after a stored prompt is inserted directly, and
// marks the prompt completed once the site stops generating. Polling is
// bounded: a site that keeps erroring is given up on early, and a site that
// never finishes is marked completed at the attempt cap so a prompt cannot
// stay "inserting" forever.
type Monitor struct {
	checker StatusChecker
	store   store.Store
	bus     *events.Bus
	cfg     model.MonitorConfig
	logger  *logging.Logger

	interval time.Duration

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

func NewMonitor(checker StatusChecker, s store.Store, bus *events.Bus, cfg model.MonitorConfig, logger *logging.Logger) *Monitor {
	return &Monitor{
		checker:  checker,
		store:    s,
		bus:      bus,
		cfg:      cfg,
		logger:   logger,
		interval: time.Duration(cfg.IntervalSec) * time.Second,
		active:   make(map[string]struct{}),
	}
}

// Start begins watching a prompt in the background. A prompt already being
// watched is not watched twice.
func (m *Monitor) Start(ctx context.Context, promptID string, tabID int) {
	if !m.cfg.Enabled {
		return
	}
	m.mu.Lock()
	if _, dup := m.active[promptID]; dup {
		m.mu.Unlock()
		return
	}
	m.active[promptID] = struct{}{}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.active, promptID)
			m.mu.Unlock()
		}()
		m.watch(ctx, promptID, tabID)
	}()
}

// Wait blocks until all in-flight watches finish.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) watch(ctx context.Context, promptID string, tabID int) {
	var errs int
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.interval):
		}

		completed, res := m.checker.CheckGenerationStatus(ctx, tabID)
		if !res.Success {
			errs++
			m.logger.Debugf("status check prompt=%s attempt=%d error=%s", promptID, attempt, res.Error)
			if errs >= m.cfg.ErrorAttempts {
				m.logger.Warnf("prompt=%s status checks keep failing, marking completed", promptID)
				break
			}
			continue
		}
		if completed {
			m.logger.Infof("prompt=%s generation finished after %d checks", promptID, attempt)
			break
		}
	}
	m.markCompleted(promptID)
}

func (m *Monitor) markCompleted(promptID string) {
	_, err := store.UpdateLibrary(m.store, func(lib *model.Library) error {
		p, ok := lib.Prompts[promptID]
		if !ok || p.Status != model.PromptStatusInserting {
			return nil
		}
		return lib.UpdatePrompt(promptID, func(p *model.Prompt) {
			p.Status = model.PromptStatusCompleted
		})
	})
	if err != nil {
		m.logger.Errorf("mark prompt=%s completed: %v", promptID, err)
		return
	}
	m.bus.Publish(events.EventPromptCompleted, map[string]interface{}{
		"prompt_id": promptID,
	})
}
