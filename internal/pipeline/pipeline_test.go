package pipeline

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

type stubProvisioner struct {
	ok bool
}

func (s *stubProvisioner) EnsureAgent(ctx context.Context, tab tabs.Tab) bool {
	return s.ok
}

// stubTransport answers each message type from a fixed response, recording
// what was sent.
type stubTransport struct {
	mu        sync.Mutex
	responses map[string]*agent.Response
	errs      map[string]error
	sent      []agent.Message
}

func newStubTransport() *stubTransport {
	return &stubTransport{
		responses: map[string]*agent.Response{},
		errs:      map[string]error{},
	}
}

func (s *stubTransport) Send(ctx context.Context, tabID int, msg agent.Message) (*agent.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	if err := s.errs[msg.Type]; err != nil {
		return nil, err
	}
	if resp, ok := s.responses[msg.Type]; ok {
		return resp, nil
	}
	return &agent.Response{Success: true}, nil
}

func (s *stubTransport) sentTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.sent {
		out = append(out, m.Type)
	}
	return out
}

type stubClipboard struct {
	mu       sync.Mutex
	content  string
	writeErr error
	readErr  error
	writes   []string
}

func (c *stubClipboard) WriteText(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.content = text
	c.writes = append(c.writes, text)
	return nil
}

func (c *stubClipboard) ReadText(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return "", c.readErr
	}
	return c.content, nil
}

type fixture struct {
	tabs        *tabs.Fake
	provisioner *stubProvisioner
	transport   *stubTransport
	clipboard   *stubClipboard
	pipe        *Pipeline
	tabID       int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tabs:        tabs.NewFake(),
		provisioner: &stubProvisioner{ok: true},
		transport:   newStubTransport(),
		clipboard:   &stubClipboard{},
	}
	f.tabID = f.tabs.AddTab("https://claude.ai/new", true)
	cfg := Config{ReadAttempts: 2, ReadBackoff: time.Millisecond, InsertTimeout: 100 * time.Millisecond}
	f.pipe = New(f.tabs, f.provisioner, f.transport, f.clipboard, cfg, logging.New(io.Discard, logging.LevelError, "test"))
	return f
}

func TestInsertDirect(t *testing.T) {
	f := newFixture(t)

	res := f.pipe.Insert(context.Background(), f.tabID, "hello")
	if !res.Success || res.Method != MethodDirect {
		t.Fatalf("got %+v, want direct success", res)
	}
	sent := f.transport.sentTypes()
	if len(sent) != 1 || sent[0] != agent.MsgInsertPrompt {
		t.Fatalf("sent %v, want one INSERT_PROMPT", sent)
	}
	if len(f.clipboard.writes) != 0 {
		t.Fatal("clipboard must stay untouched on direct success")
	}
}

func TestInsertFallsBackToClipboard(t *testing.T) {
	f := newFixture(t)
	f.transport.responses[agent.MsgInsertPrompt] = &agent.Response{Success: false, Error: "no usable input element found"}

	res := f.pipe.Insert(context.Background(), f.tabID, "hello")
	if !res.Success || res.Method != MethodClipboard {
		t.Fatalf("got %+v, want clipboard success", res)
	}
	if f.clipboard.content != "hello" {
		t.Fatalf("clipboard holds %q, want the prompt text", f.clipboard.content)
	}
}

func TestInsertNoAgentGoesStraightToClipboard(t *testing.T) {
	f := newFixture(t)
	f.provisioner.ok = false

	res := f.pipe.Insert(context.Background(), f.tabID, "hello")
	if !res.Success || res.Method != MethodClipboard {
		t.Fatalf("got %+v, want clipboard success", res)
	}
	if len(f.transport.sentTypes()) != 0 {
		t.Fatal("no agent means no direct attempt")
	}
}

func TestInsertTerminalFailure(t *testing.T) {
	f := newFixture(t)
	f.transport.errs[agent.MsgInsertPrompt] = errors.New("tab navigated away")
	f.clipboard.writeErr = errors.New("no clipboard utility")

	res := f.pipe.Insert(context.Background(), f.tabID, "hello")
	if res.Success {
		t.Fatal("expected terminal failure")
	}
	if res.Error != "failed to insert prompt and copy to clipboard" {
		t.Fatalf("got error %q", res.Error)
	}
	if res.Fail != FailUserAction {
		t.Fatalf("got fail class %q, want %q", res.Fail, FailUserAction)
	}
}

func TestInsertResolvesActiveTabWhenZero(t *testing.T) {
	f := newFixture(t)

	res := f.pipe.Insert(context.Background(), 0, "hello")
	if !res.Success || res.Method != MethodDirect {
		t.Fatalf("got %+v, want direct success against the active tab", res)
	}
}

func TestInsertUnknownTab(t *testing.T) {
	f := newFixture(t)

	res := f.pipe.Insert(context.Background(), 99, "hello")
	if res.Success {
		t.Fatal("expected failure for unknown tab")
	}
	if res.Error == "" {
		t.Fatal("expected an error message")
	}
	if res.Fail != FailNotFound {
		t.Fatalf("got fail class %q, want %q", res.Fail, FailNotFound)
	}
}

func TestReadCurrentInputDirect(t *testing.T) {
	f := newFixture(t)
	f.transport.responses[agent.MsgReadCurrentInput] = &agent.Response{Success: true, Text: "draft text"}

	res := f.pipe.ReadCurrentInput(context.Background(), f.tabID)
	if !res.Success || res.Method != MethodDirect || res.Text != "draft text" {
		t.Fatalf("got %+v", res)
	}
}

func TestReadCurrentInputRetriesThenClipboard(t *testing.T) {
	f := newFixture(t)
	f.transport.responses[agent.MsgReadCurrentInput] = &agent.Response{Success: true, Text: "   "}
	f.clipboard.content = "copied earlier"

	res := f.pipe.ReadCurrentInput(context.Background(), f.tabID)
	if !res.Success || res.Method != MethodClipboard || res.Text != "copied earlier" {
		t.Fatalf("got %+v, want clipboard fallback", res)
	}
	sent := f.transport.sentTypes()
	if len(sent) != 2 {
		t.Fatalf("made %d direct attempts, want 2", len(sent))
	}
}

func TestReadCurrentInputManualEntryTerminal(t *testing.T) {
	f := newFixture(t)
	f.transport.errs[agent.MsgReadCurrentInput] = errors.New("gone")
	f.clipboard.content = ""

	res := f.pipe.ReadCurrentInput(context.Background(), f.tabID)
	if res.Success {
		t.Fatal("expected terminal failure")
	}
	if res.Error != "please copy your text first, then try again, or enter manually" {
		t.Fatalf("got error %q", res.Error)
	}
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)

	res := f.pipe.Submit(context.Background(), f.tabID)
	if !res.Success || res.Method != MethodDirect {
		t.Fatalf("got %+v", res)
	}

	f.transport.responses[agent.MsgSubmitPrompt] = &agent.Response{Success: false, Error: "no submit control could be actuated"}
	res = f.pipe.Submit(context.Background(), f.tabID)
	if res.Success || res.Error != "no submit control could be actuated" {
		t.Fatalf("got %+v", res)
	}
}

func TestSubmitNoAgent(t *testing.T) {
	f := newFixture(t)
	f.provisioner.ok = false

	res := f.pipe.Submit(context.Background(), f.tabID)
	if res.Success || res.Error != "no agent available in tab" {
		t.Fatalf("got %+v", res)
	}
	if res.Fail != FailTransient {
		t.Fatalf("got fail class %q, want %q", res.Fail, FailTransient)
	}
}

func TestCheckGenerationStatus(t *testing.T) {
	f := newFixture(t)
	f.transport.responses[agent.MsgCheckLLMStatus] = &agent.Response{Success: true, Completed: true}

	completed, res := f.pipe.CheckGenerationStatus(context.Background(), f.tabID)
	if !res.Success || !completed {
		t.Fatalf("got completed=%v res=%+v", completed, res)
	}

	f.transport.errs[agent.MsgCheckLLMStatus] = errors.New("tab closed")
	completed, res = f.pipe.CheckGenerationStatus(context.Background(), f.tabID)
	if res.Success || completed {
		t.Fatalf("got completed=%v res=%+v, want undecidable false", completed, res)
	}
}

func TestSupportedTab(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://claude.ai/new", true},
		{"https://chatgpt.com/", true},
		{"https://example.com/", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := SupportedTab(tabs.Tab{URL: tc.url}); got != tc.want {
			t.Errorf("SupportedTab(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}
