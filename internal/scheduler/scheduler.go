// Package scheduler turns persisted schedules into durable timers and
// executes them when they fire. It holds no state of its own: every decision
// is re-derived from the store and the timer facility, so the daemon can be
// unloaded and restarted at any point without losing or doubling work.
package scheduler

import (
	"context"
	"time"

	"github.com/promptdock/promptdock/internal/events"
	"github.com/promptdock/promptdock/internal/logging"
	"github.com/promptdock/promptdock/internal/model"
	"github.com/promptdock/promptdock/internal/pipeline"
	"github.com/promptdock/promptdock/internal/store"
	"github.com/promptdock/promptdock/internal/tabs"
	"github.com/promptdock/promptdock/internal/timer"
)

// Inserter is the slice of the insertion pipeline the scheduler drives.
type Inserter interface {
	Insert(ctx context.Context, tabID int, text string) pipeline.Result
	Submit(ctx context.Context, tabID int) pipeline.Result
}

type Config struct {
	TabSettleTimeout time.Duration
	SubmitDelay      time.Duration
	ImmediateDefer   time.Duration
}

func ConfigFrom(cfg model.SchedulerConfig) Config {
	return Config{
		TabSettleTimeout: time.Duration(cfg.TabSettleTimeoutSec) * time.Second,
		SubmitDelay:      time.Duration(cfg.SubmitDelayMs) * time.Millisecond,
		ImmediateDefer:   time.Duration(cfg.ImmediateDeferMs) * time.Millisecond,
	}
}

type Scheduler struct {
	store    store.Store
	timers   timer.Service
	inserter Inserter
	tabs     tabs.Service
	bus      *events.Bus
	cfg      Config
	logger   *logging.Logger

	// now is swappable for tests.
	now func() time.Time
}

func New(s store.Store, t timer.Service, ins Inserter, ts tabs.Service, bus *events.Bus, cfg Config, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		store:    s,
		timers:   t,
		inserter: ins,
		tabs:     ts,
		bus:      bus,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Arm creates (or replaces) the durable timer for a schedule. The timer id
// equals the schedule id, which is the system's idempotency key: re-arming
// clears any existing timer first, so at most one live timer exists per
// schedule.
func (s *Scheduler) Arm(sched model.Schedule) error {
	when, err := sched.Time()
	if err != nil {
		return err
	}

	s.timers.Clear(sched.ID)

	if delay := when.Sub(s.now()); delay <= 0 {
		// Past-due schedules fire through the timer facility after a
		// bounded short defer, never inline, to avoid reentering the
		// caller's handler.
		when = s.now().Add(s.cfg.ImmediateDefer)
	}
	s.timers.Create(sched.ID, when)

	s.logger.Infof("armed schedule=%s at=%s autoSubmit=%v", sched.ID, sched.ScheduleTime, sched.AutoSubmit)
	s.bus.Publish(events.EventScheduleArmed, map[string]interface{}{
		"schedule_id": sched.ID,
		"prompt_id":   sched.PromptID,
		"at":          sched.ScheduleTime,
	})
	return nil
}

// Cancel removes a schedule and clears its timer. There is no persisted
// cancelled state; deletion is the cancellation.
func (s *Scheduler) Cancel(scheduleID string) error {
	_, err := store.UpdateLibrary(s.store, func(lib *model.Library) error {
		lib.RemoveSchedule(scheduleID)
		return nil
	})
	s.timers.Clear(scheduleID)
	if err != nil {
		return err
	}
	s.bus.Publish(events.EventScheduleCancelled, map[string]interface{}{
		"schedule_id": scheduleID,
	})
	return nil
}

// OnFire executes a fired schedule. The schedule is looked up in the store,
// never in memory: the daemon may have restarted since Arm ran. Whatever
// happens during execution, the schedule is deleted and its timer cleared,
// so a broken schedule cannot fire repeatedly.
func (s *Scheduler) OnFire(ctx context.Context, scheduleID string) error {
	lib, err := store.LoadLibrary(s.store)
	if err != nil {
		return err
	}

	sched := lib.Schedule(scheduleID)
	if sched == nil {
		// Orphaned timer: its schedule was deleted without clearing the
		// timer, or a stale timer survived a crash.
		s.logger.Warnf("orphaned timer schedule=%s, clearing", scheduleID)
		s.timers.Clear(scheduleID)
		s.bus.Publish(events.EventOrphanCleared, map[string]interface{}{
			"schedule_id": scheduleID,
		})
		return nil
	}

	prompt, ok := lib.Prompts[sched.PromptID]
	if !ok {
		s.logger.Errorf("schedule=%s references missing prompt=%s, discarding", scheduleID, sched.PromptID)
		s.bus.Publish(events.EventCorruptDiscarded, map[string]interface{}{
			"schedule_id": scheduleID,
			"prompt_id":   sched.PromptID,
		})
		return s.cleanup(scheduleID)
	}

	autoSubmit := sched.AutoSubmit

	tab, ok := s.resolveTarget(ctx, lib.Settings)
	if !ok {
		s.logger.Errorf("schedule=%s could not resolve a target tab", scheduleID)
		return s.cleanup(scheduleID)
	}

	res := s.inserter.Insert(ctx, tab.ID, prompt.Body)
	if res.Success {
		s.logger.Infof("schedule=%s fired tab=%d method=%s", scheduleID, tab.ID, res.Method)
	} else {
		// No retry: a prompt's freshness window is short, and retrying
		// risks double insertion. Logged and dropped.
		s.logger.Errorf("schedule=%s insertion failed: %s", scheduleID, res.Error)
	}

	if res.Success && autoSubmit {
		select {
		case <-ctx.Done():
		case <-time.After(s.cfg.SubmitDelay):
		}
		if sub := s.inserter.Submit(ctx, tab.ID); !sub.Success {
			s.logger.Warnf("schedule=%s auto-submit failed: %s", scheduleID, sub.Error)
		}
	}

	if res.Success {
		s.markUsed(sched.PromptID, res.Method)
	}

	s.bus.Publish(events.EventScheduleFired, map[string]interface{}{
		"schedule_id": scheduleID,
		"prompt_id":   sched.PromptID,
		"tab_id":      tab.ID,
		"success":     res.Success,
		"method":      res.Method,
	})

	return s.cleanup(scheduleID)
}

// ReconcileOnStart re-derives timer state from the store on every daemon
// start. In-memory timers never survive a restart, so all durable timer
// handles are cleared unconditionally; expired schedules are deleted without
// execution, the rest are re-armed. Safe to run any number of times.
func (s *Scheduler) ReconcileOnStart() error {
	s.timers.ClearAll()

	now := s.now()
	var rearm []model.Schedule
	_, err := store.UpdateLibrary(s.store, func(lib *model.Library) error {
		kept := lib.Scheduled[:0]
		for _, sched := range lib.Scheduled {
			when, err := sched.Time()
			if err != nil {
				s.logger.Errorf("schedule=%s has unparseable time %q, discarding", sched.ID, sched.ScheduleTime)
				s.bus.Publish(events.EventCorruptDiscarded, map[string]interface{}{
					"schedule_id": sched.ID,
				})
				continue
			}
			if !when.After(now) {
				// Expired while unloaded. Execute-on-restart is
				// deliberately not attempted: firing far from the
				// intended time surprises the user.
				s.logger.Infof("schedule=%s expired while stopped (was %s), deleting", sched.ID, sched.ScheduleTime)
				s.bus.Publish(events.EventScheduleExpired, map[string]interface{}{
					"schedule_id": sched.ID,
					"prompt_id":   sched.PromptID,
				})
				continue
			}
			kept = append(kept, sched)
			rearm = append(rearm, sched)
		}
		lib.Scheduled = kept
		return nil
	})
	if err != nil {
		return err
	}

	for _, sched := range rearm {
		if err := s.Arm(sched); err != nil {
			s.logger.Errorf("re-arm schedule=%s: %v", sched.ID, err)
		}
	}
	s.logger.Infof("reconciled schedules: %d re-armed", len(rearm))
	return nil
}

// resolveTarget prefers the active tab when it is a supported site and
// otherwise opens the user's preferred site, waiting for it to settle.
func (s *Scheduler) resolveTarget(ctx context.Context, settings model.Settings) (tabs.Tab, bool) {
	if tab, err := s.tabs.ActiveTab(ctx); err == nil && pipeline.SupportedTab(tab) {
		return tab, true
	}

	key := settings.GoToLLM
	if key == "" {
		key = model.DefaultSite
	}
	site, ok := model.SiteByKey(key)
	if !ok {
		site, _ = model.SiteByKey(model.DefaultSite)
	}

	tab, err := s.tabs.Create(ctx, site.URL)
	if err != nil {
		s.logger.Errorf("open site %s: %v", site.URL, err)
		return tabs.Tab{}, false
	}
	return s.waitSettled(ctx, tab)
}

// waitSettled polls the freshly opened tab until it reports complete, within
// the configured bound. A tab that is still loading at the deadline is
// returned as usable anyway: the scheduled prompt must not be dropped, and
// insertion into an unsettled tab degrades to the clipboard fallback.
func (s *Scheduler) waitSettled(ctx context.Context, tab tabs.Tab) (tabs.Tab, bool) {
	deadline := s.now().Add(s.cfg.TabSettleTimeout)
	for {
		cur, err := s.tabs.Get(ctx, tab.ID)
		if err == nil && cur.Status == tabs.StatusComplete {
			return cur, true
		}
		if s.now().After(deadline) {
			s.logger.Warnf("tab=%d did not settle within %s", tab.ID, s.cfg.TabSettleTimeout)
			return tab, err == nil
		}
		select {
		case <-ctx.Done():
			return tab, false
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// cleanup unconditionally removes the schedule and clears its timer.
func (s *Scheduler) cleanup(scheduleID string) error {
	_, err := store.UpdateLibrary(s.store, func(lib *model.Library) error {
		lib.RemoveSchedule(scheduleID)
		return nil
	})
	s.timers.Clear(scheduleID)
	return err
}

func (s *Scheduler) markUsed(promptID, method string) {
	status := model.PromptStatusInserting
	if method == pipeline.MethodClipboard {
		status = model.PromptStatusCompleted
	}
	_, err := store.UpdateLibrary(s.store, func(lib *model.Library) error {
		if _, ok := lib.Prompts[promptID]; !ok {
			return nil
		}
		return lib.UpdatePrompt(promptID, func(p *model.Prompt) {
			p.LastUsed = s.now().UTC().Format(time.RFC3339)
			p.Status = status
		})
	})
	if err != nil {
		s.logger.Warnf("mark prompt=%s used: %v", promptID, err)
	}
}
