package provision

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/promptdock/promptdock/internal/agent"
	"github.com/promptdock/promptdock/internal/logging"
	"github.com/promptdock/promptdock/internal/tabs"
)

// scriptTransport answers PING probes from a queue; once the queue is
// exhausted it keeps returning the last entry.
type scriptTransport struct {
	mu      sync.Mutex
	replies []bool
	errs    []error
	sends   int
}

func (t *scriptTransport) Send(ctx context.Context, tabID int, msg agent.Message) (*agent.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.sends
	t.sends++
	if i >= len(t.replies) {
		i = len(t.replies) - 1
	}
	if i < len(t.errs) && t.errs[i] != nil {
		return nil, t.errs[i]
	}
	return &agent.Response{Success: t.replies[i]}, nil
}

func (t *scriptTransport) sendCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sends
}

type fakeInjector struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeInjector) Inject(ctx context.Context, tabID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeInjector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestProvisioner(tr agent.Transport, inj Injector) *Provisioner {
	cfg := Config{
		ProbeTimeout:  100 * time.Millisecond,
		SettleDelay:   time.Millisecond,
		InjectTimeout: 100 * time.Millisecond,
	}
	return New(tr, inj, cfg, logging.New(io.Discard, logging.LevelError, "test"))
}

func supportedTab() tabs.Tab {
	return tabs.Tab{ID: 1, URL: "https://claude.ai/new", Active: true, Status: tabs.StatusComplete}
}

func TestEnsureAgentProbeSuccessSkipsInjection(t *testing.T) {
	tr := &scriptTransport{replies: []bool{true}}
	inj := &fakeInjector{}
	p := newTestProvisioner(tr, inj)

	for i := 0; i < 2; i++ {
		if !p.EnsureAgent(context.Background(), supportedTab()) {
			t.Fatal("expected success for already-provisioned tab")
		}
	}
	if inj.callCount() != 0 {
		t.Fatalf("Inject called %d times, want 0", inj.callCount())
	}
	if tr.sendCount() != 2 {
		t.Fatalf("sent %d probes, want one per call", tr.sendCount())
	}
}

func TestEnsureAgentInjectsAndReprobes(t *testing.T) {
	tr := &scriptTransport{replies: []bool{false, true}}
	inj := &fakeInjector{}
	p := newTestProvisioner(tr, inj)

	if !p.EnsureAgent(context.Background(), supportedTab()) {
		t.Fatal("expected success after injection")
	}
	if inj.callCount() != 1 {
		t.Fatalf("Inject called %d times, want 1", inj.callCount())
	}
	if tr.sendCount() != 2 {
		t.Fatalf("sent %d probes, want 2", tr.sendCount())
	}
}

func TestEnsureAgentAlreadyInjectedIsSuccess(t *testing.T) {
	tr := &scriptTransport{replies: []bool{false, true}}
	inj := &fakeInjector{err: ErrAlreadyInjected}
	p := newTestProvisioner(tr, inj)

	if !p.EnsureAgent(context.Background(), supportedTab()) {
		t.Fatal("duplicate injection should not fail the operation")
	}
}

func TestEnsureAgentInjectFailure(t *testing.T) {
	tr := &scriptTransport{replies: []bool{false}}
	inj := &fakeInjector{err: errors.New("tab closed")}
	p := newTestProvisioner(tr, inj)

	if p.EnsureAgent(context.Background(), supportedTab()) {
		t.Fatal("expected failure when injection errors")
	}
	// Failed injection must not be followed by a verification probe.
	if tr.sendCount() != 1 {
		t.Fatalf("sent %d probes, want 1", tr.sendCount())
	}
}

func TestEnsureAgentUnresponsiveAfterInjection(t *testing.T) {
	tr := &scriptTransport{replies: []bool{false, false}}
	inj := &fakeInjector{}
	p := newTestProvisioner(tr, inj)

	if p.EnsureAgent(context.Background(), supportedTab()) {
		t.Fatal("expected failure when agent never answers")
	}
	if inj.callCount() != 1 {
		t.Fatalf("Inject called %d times, want 1", inj.callCount())
	}
}

func TestEnsureAgentUnsupportedSiteFailsFast(t *testing.T) {
	tr := &scriptTransport{replies: []bool{true}}
	inj := &fakeInjector{}
	p := newTestProvisioner(tr, inj)

	tab := tabs.Tab{ID: 2, URL: "https://example.com/page"}
	if p.EnsureAgent(context.Background(), tab) {
		t.Fatal("unsupported site must not be provisioned")
	}
	if tr.sendCount() != 0 || inj.callCount() != 0 {
		t.Fatal("unsupported site must not touch the tab")
	}
}

func TestEnsureAgentProbeTransportError(t *testing.T) {
	tr := &scriptTransport{
		replies: []bool{false, true},
		errs:    []error{errors.New("no agent in tab"), nil},
	}
	inj := &fakeInjector{}
	p := newTestProvisioner(tr, inj)

	if !p.EnsureAgent(context.Background(), supportedTab()) {
		t.Fatal("transport error on probe should lead to injection, not failure")
	}
	if inj.callCount() != 1 {
		t.Fatalf("Inject called %d times, want 1", inj.callCount())
	}
}

func TestEnsureAgentConcurrentCallsCollapse(t *testing.T) {
	tr := &scriptTransport{replies: []bool{false, true}}
	inj := &fakeInjector{}
	p := newTestProvisioner(tr, inj)
	tab := supportedTab()

	const callers = 8
	results := make(chan bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- p.EnsureAgent(context.Background(), tab)
		}()
	}
	wg.Wait()
	close(results)

	for ok := range results {
		if !ok {
			t.Fatal("every collapsed caller should see the shared result")
		}
	}
	if inj.callCount() > 1 {
		t.Fatalf("Inject called %d times, want at most 1", inj.callCount())
	}
}
