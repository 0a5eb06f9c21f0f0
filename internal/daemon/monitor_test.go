package daemon

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/promptdock/promptdock/internal/events"
	"github.com/promptdock/promptdock/internal/logging"
	"github.com/promptdock/promptdock/internal/model"
	"github.com/promptdock/promptdock/internal/pipeline"
	"github.com/promptdock/promptdock/internal/store"
)

// scriptChecker returns each scripted answer once, then repeats the last.
type scriptChecker struct {
	mu      sync.Mutex
	answers []struct {
		completed bool
		res       pipeline.Result
	}
	calls int
}

func (c *scriptChecker) add(completed bool, res pipeline.Result) {
	c.answers = append(c.answers, struct {
		completed bool
		res       pipeline.Result
	}{completed, res})
}

func (c *scriptChecker) CheckGenerationStatus(ctx context.Context, tabID int) (bool, pipeline.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	if i >= len(c.answers) {
		i = len(c.answers) - 1
	}
	a := c.answers[i]
	return a.completed, a.res
}

func (c *scriptChecker) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// blockingChecker holds every call until release is closed, then reports
// generation finished.
type blockingChecker struct {
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (c *blockingChecker) CheckGenerationStatus(ctx context.Context, tabID int) (bool, pipeline.Result) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	<-c.release
	return true, pipeline.Result{Success: true}
}

func (c *blockingChecker) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newMonitorFixture(t *testing.T, checker StatusChecker, cfg model.MonitorConfig) (*Monitor, store.Store, string) {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	var promptID string
	_, err = store.UpdateLibrary(fs, func(lib *model.Library) error {
		p, err := lib.CreatePrompt("Watched", "body", "")
		if err != nil {
			return err
		}
		promptID = p.ID
		return lib.UpdatePrompt(p.ID, func(p *model.Prompt) {
			p.Status = model.PromptStatusInserting
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	m := NewMonitor(checker, fs, events.NewBus(8), cfg, logging.New(io.Discard, logging.LevelError, "test"))
	return m, fs, promptID
}

func promptStatus(t *testing.T, s store.Store, id string) model.PromptStatus {
	t.Helper()
	lib, err := store.LoadLibrary(s)
	if err != nil {
		t.Fatal(err)
	}
	return lib.Prompts[id].Status
}

func TestMonitorMarksCompletedWhenGenerationFinishes(t *testing.T) {
	checker := &scriptChecker{}
	checker.add(false, pipeline.Result{Success: true})
	checker.add(false, pipeline.Result{Success: true})
	checker.add(true, pipeline.Result{Success: true})

	cfg := model.MonitorConfig{Enabled: true, MaxAttempts: 30, ErrorAttempts: 10}
	m, fs, promptID := newMonitorFixture(t, checker, cfg)

	m.Start(context.Background(), promptID, 1)
	m.Wait()

	if got := promptStatus(t, fs, promptID); got != model.PromptStatusCompleted {
		t.Fatalf("status %q, want completed", got)
	}
	if checker.callCount() != 3 {
		t.Fatalf("made %d checks, want 3", checker.callCount())
	}
}

func TestMonitorGivesUpAfterErrorCap(t *testing.T) {
	checker := &scriptChecker{}
	checker.add(false, pipeline.Result{Error: "tab closed"})

	cfg := model.MonitorConfig{Enabled: true, MaxAttempts: 30, ErrorAttempts: 3}
	m, fs, promptID := newMonitorFixture(t, checker, cfg)

	m.Start(context.Background(), promptID, 1)
	m.Wait()

	if got := promptStatus(t, fs, promptID); got != model.PromptStatusCompleted {
		t.Fatalf("status %q, want completed at the error cap", got)
	}
	if checker.callCount() != 3 {
		t.Fatalf("made %d checks, want the error cap of 3", checker.callCount())
	}
}

func TestMonitorAttemptCapStillCompletes(t *testing.T) {
	checker := &scriptChecker{}
	checker.add(false, pipeline.Result{Success: true})

	cfg := model.MonitorConfig{Enabled: true, MaxAttempts: 4, ErrorAttempts: 10}
	m, fs, promptID := newMonitorFixture(t, checker, cfg)

	m.Start(context.Background(), promptID, 1)
	m.Wait()

	if got := promptStatus(t, fs, promptID); got != model.PromptStatusCompleted {
		t.Fatalf("status %q, a prompt must never stay inserting forever", got)
	}
	if checker.callCount() != 4 {
		t.Fatalf("made %d checks, want the attempt cap of 4", checker.callCount())
	}
}

func TestMonitorLeavesOtherStatusesAlone(t *testing.T) {
	checker := &scriptChecker{}
	checker.add(true, pipeline.Result{Success: true})

	cfg := model.MonitorConfig{Enabled: true, MaxAttempts: 2, ErrorAttempts: 2}
	m, fs, promptID := newMonitorFixture(t, checker, cfg)

	// The prompt was re-inserted via clipboard in the meantime.
	if _, err := store.UpdateLibrary(fs, func(lib *model.Library) error {
		return lib.UpdatePrompt(promptID, func(p *model.Prompt) {
			p.Status = model.PromptStatusNone
		})
	}); err != nil {
		t.Fatal(err)
	}

	m.Start(context.Background(), promptID, 1)
	m.Wait()

	if got := promptStatus(t, fs, promptID); got != model.PromptStatusNone {
		t.Fatalf("status %q, want untouched", got)
	}
}

func TestMonitorDisabled(t *testing.T) {
	checker := &scriptChecker{}
	checker.add(true, pipeline.Result{Success: true})

	cfg := model.MonitorConfig{Enabled: false, MaxAttempts: 2, ErrorAttempts: 2}
	m, fs, promptID := newMonitorFixture(t, checker, cfg)

	m.Start(context.Background(), promptID, 1)
	m.Wait()

	if checker.callCount() != 0 {
		t.Fatal("disabled monitor must not poll")
	}
	if got := promptStatus(t, fs, promptID); got != model.PromptStatusInserting {
		t.Fatalf("status %q, want untouched", got)
	}
}

func TestMonitorDeduplicatesPrompt(t *testing.T) {
	checker := &blockingChecker{release: make(chan struct{})}

	cfg := model.MonitorConfig{Enabled: true, MaxAttempts: 30, ErrorAttempts: 10}
	m, _, promptID := newMonitorFixture(t, checker, cfg)

	ctx := context.Background()
	m.Start(ctx, promptID, 1)
	m.Start(ctx, promptID, 1)
	close(checker.release)
	m.Wait()

	if checker.callCount() != 1 {
		t.Fatalf("made %d checks, want 1 from a single watch", checker.callCount())
	}
}

func TestMonitorStopsOnContextCancel(t *testing.T) {
	checker := &scriptChecker{}
	checker.add(false, pipeline.Result{Success: true})

	cfg := model.MonitorConfig{Enabled: true, MaxAttempts: 1000, ErrorAttempts: 1000, IntervalSec: 1}
	m, fs, promptID := newMonitorFixture(t, checker, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx, promptID, 1)
	cancel()

	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop on cancellation")
	}
	if got := promptStatus(t, fs, promptID); got != model.PromptStatusInserting {
		t.Fatalf("status %q, cancellation must not mark completed", got)
	}
}
