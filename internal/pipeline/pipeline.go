// Package pipeline orchestrates delivering text into a tab: direct adapter
// insertion first, clipboard as the fallback, bounded retries, and a
// structured result for every exit. Nothing here throws past the boundary;
// callers always get a Result.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/promptdock/promptdock/internal/agent"
	"github.com/promptdock/promptdock/internal/logging"
	"github.com/promptdock/promptdock/internal/model"
	"github.com/promptdock/promptdock/internal/tabs"
)

// Delivery methods reported in results.
const (
	MethodDirect    = "direct"
	MethodClipboard = "clipboard"
)

// Failure classes. Callers surfacing a failed Result use these to pick an
// error code instead of parsing the message.
const (
	FailNotFound   = "not_found"
	FailTransient  = "transient"
	FailUserAction = "user_action_required"
)

// Result is the structured outcome of a pipeline operation. Error is a
// human-readable description and Fail the failure class, both set only when
// Success is false.
type Result struct {
	Success bool
	Method  string
	Text    string
	Error   string
	Fail    string
}

// Provisioner is the slice of the provisioning service the pipeline needs.
type Provisioner interface {
	EnsureAgent(ctx context.Context, tab tabs.Tab) bool
}

// Clipboard is the clipboard collaborator used for the fallback path.
type Clipboard interface {
	WriteText(ctx context.Context, text string) error
	ReadText(ctx context.Context) (string, error)
}

type Config struct {
	ReadAttempts  int
	ReadBackoff   time.Duration
	InsertTimeout time.Duration
}

func ConfigFrom(cfg model.PipelineConfig) Config {
	return Config{
		ReadAttempts:  cfg.ReadAttempts,
		ReadBackoff:   time.Duration(cfg.ReadBackoffMs) * time.Millisecond,
		InsertTimeout: time.Duration(cfg.InsertTimeoutMs) * time.Millisecond,
	}
}

type Pipeline struct {
	tabs        tabs.Service
	provisioner Provisioner
	transport   agent.Transport
	clipboard   Clipboard
	cfg         Config
	logger      *logging.Logger
}

func New(ts tabs.Service, p Provisioner, tr agent.Transport, cb Clipboard, cfg Config, logger *logging.Logger) *Pipeline {
	if cfg.ReadAttempts <= 0 {
		cfg.ReadAttempts = 2
	}
	return &Pipeline{
		tabs:        ts,
		provisioner: p,
		transport:   tr,
		clipboard:   cb,
		cfg:         cfg,
		logger:      logger,
	}
}

// Insert delivers text into the tab (the active tab when tabID is zero).
// Direct insertion is attempted when an agent can be provisioned; clipboard
// copy is the sole fallback otherwise.
func (p *Pipeline) Insert(ctx context.Context, tabID int, text string) Result {
	tab, res := p.resolveTab(ctx, tabID)
	if res != nil {
		return *res
	}

	if !p.provisioner.EnsureAgent(ctx, tab) {
		return p.clipboardWrite(ctx, text, "could not copy to clipboard")
	}

	insertCtx, cancel := context.WithTimeout(ctx, p.cfg.InsertTimeout)
	resp, err := p.transport.Send(insertCtx, tab.ID, agent.Message{Type: agent.MsgInsertPrompt, Text: text})
	cancel()
	if err == nil && resp != nil && resp.Success {
		p.logger.Debugf("direct insert tab=%d chars=%d", tab.ID, len(text))
		return Result{Success: true, Method: MethodDirect}
	}
	if err != nil {
		p.logger.Warnf("direct insert failed tab=%d error=%v", tab.ID, err)
	} else if resp != nil {
		p.logger.Warnf("direct insert refused tab=%d error=%s", tab.ID, resp.Error)
	}

	// One clipboard retry before declaring terminal failure.
	return p.clipboardWrite(ctx, text, "failed to insert prompt and copy to clipboard")
}

// ReadCurrentInput reads the composer's content from the tab (the active tab
// when tabID is zero), with bounded direct retries, then a clipboard read,
// then the manual-entry terminal state.
func (p *Pipeline) ReadCurrentInput(ctx context.Context, tabID int) Result {
	tab, res := p.resolveTab(ctx, tabID)
	if res != nil {
		return *res
	}

	if !p.provisioner.EnsureAgent(ctx, tab) {
		return p.clipboardRead(ctx)
	}

	// DOM state may not be ready immediately after provisioning; retry the
	// direct read with a short backoff before falling back.
	for attempt := 1; attempt <= p.cfg.ReadAttempts; attempt++ {
		resp, err := p.transport.Send(ctx, tab.ID, agent.Message{Type: agent.MsgReadCurrentInput})
		if err == nil && resp != nil && resp.Success && trimmed(resp.Text) {
			return Result{Success: true, Method: MethodDirect, Text: resp.Text}
		}
		if attempt < p.cfg.ReadAttempts {
			select {
			case <-ctx.Done():
				return p.clipboardRead(ctx)
			case <-time.After(p.cfg.ReadBackoff):
			}
		}
	}

	return p.clipboardRead(ctx)
}

// Submit asks the tab's agent to actuate the send control.
func (p *Pipeline) Submit(ctx context.Context, tabID int) Result {
	tab, res := p.resolveTab(ctx, tabID)
	if res != nil {
		return *res
	}
	if !p.provisioner.EnsureAgent(ctx, tab) {
		return Result{Error: "no agent available in tab", Fail: FailTransient}
	}
	resp, err := p.transport.Send(ctx, tab.ID, agent.Message{Type: agent.MsgSubmitPrompt})
	if err != nil {
		return Result{Error: err.Error(), Fail: FailTransient}
	}
	if !resp.Success {
		return Result{Error: resp.Error, Fail: FailUserAction}
	}
	return Result{Success: true, Method: MethodDirect}
}

// CheckGenerationStatus asks the tab's agent whether the site has finished
// generating a response. Undecidable reports false.
func (p *Pipeline) CheckGenerationStatus(ctx context.Context, tabID int) (completed bool, res Result) {
	tab, failed := p.resolveTab(ctx, tabID)
	if failed != nil {
		return false, *failed
	}
	if !p.provisioner.EnsureAgent(ctx, tab) {
		return false, Result{Error: "no agent available in tab", Fail: FailTransient}
	}
	resp, err := p.transport.Send(ctx, tab.ID, agent.Message{Type: agent.MsgCheckLLMStatus})
	if err != nil {
		return false, Result{Error: err.Error(), Fail: FailTransient}
	}
	if !resp.Success {
		return false, Result{Error: resp.Error, Fail: FailTransient}
	}
	return resp.Completed, Result{Success: true}
}

func (p *Pipeline) resolveTab(ctx context.Context, tabID int) (tabs.Tab, *Result) {
	return ResolveTab(ctx, p.tabs, tabID)
}

// ResolveTab returns the tab with the given id, or the active tab when the
// id is zero. A non-nil Result means resolution failed.
func ResolveTab(ctx context.Context, ts tabs.Service, tabID int) (tabs.Tab, *Result) {
	if tabID != 0 {
		tab, err := ts.Get(ctx, tabID)
		if err != nil {
			return tabs.Tab{}, &Result{Error: "tab not found: " + err.Error(), Fail: FailNotFound}
		}
		return tab, nil
	}
	tab, err := ts.ActiveTab(ctx)
	if err != nil {
		return tabs.Tab{}, &Result{Error: "no active tab found", Fail: FailNotFound}
	}
	return tab, nil
}

func (p *Pipeline) clipboardWrite(ctx context.Context, text, failMsg string) Result {
	if err := p.clipboard.WriteText(ctx, text); err != nil {
		p.logger.Warnf("clipboard write failed error=%v", err)
		return Result{Error: failMsg, Fail: FailUserAction}
	}
	return Result{Success: true, Method: MethodClipboard}
}

func (p *Pipeline) clipboardRead(ctx context.Context) Result {
	text, err := p.clipboard.ReadText(ctx)
	if err == nil && trimmed(text) {
		return Result{Success: true, Method: MethodClipboard, Text: text}
	}
	return Result{Error: "please copy your text first, then try again, or enter manually", Fail: FailUserAction}
}

func trimmed(s string) bool {
	return strings.TrimSpace(s) != ""
}

// SupportedTab reports whether the tab's URL matches a supported site.
func SupportedTab(tab tabs.Tab) bool {
	_, ok := model.MatchURL(tab.URL)
	return ok
}
