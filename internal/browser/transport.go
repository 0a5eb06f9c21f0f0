package browser

import (
	"context"
	"fmt"

	"github.com/promptdock/promptdock/internal/agent"
	"github.com/promptdock/promptdock/internal/provision"
)

// markerExpr guards double injection and detects navigation: the marker
// lives in the page's JS world and is wiped by any navigation, exactly like
// a content script would be.
const (
	markerSet   = `(() => { if (window.__promptdockAgent) return false; window.__promptdockAgent = { version: 1 }; return true; })()`
	markerCheck = `!!window.__promptdockAgent`
)

// Inject provisions an agent session for the tab: it plants the page marker
// and binds an adapter for the tab's site to a CDP-backed page.
func (b *Browser) Inject(ctx context.Context, tabID int) error {
	e, ok := b.entry(tabID)
	if !ok {
		return fmt.Errorf("tab not found: %d", tabID)
	}

	rules, ok := b.siteRules(e)
	if !ok {
		return fmt.Errorf("tab %d is not on a supported site", tabID)
	}

	page := newPage(e.ctx)
	var fresh bool
	if err := page.eval(markerSet, &fresh); err != nil {
		return fmt.Errorf("inject marker: %w", err)
	}

	b.mu.Lock()
	if !fresh && e.agent != nil {
		b.mu.Unlock()
		return provision.ErrAlreadyInjected
	}
	// Marker present but no session: the daemon restarted while the page
	// kept its marker. Rebind instead of refusing.
	e.agent = agent.New(agent.NewAdapter(rules, page))
	b.mu.Unlock()

	b.logger.Infof("agent injected tab=%d site=%s", tabID, rules.Key)
	return nil
}

// Send dispatches a message to the tab's agent session. A wiped marker means
// the page navigated since injection; the session is dropped so the
// provisioner re-injects.
func (b *Browser) Send(ctx context.Context, tabID int, msg agent.Message) (*agent.Response, error) {
	e, ok := b.entry(tabID)
	if !ok {
		return nil, fmt.Errorf("tab not found: %d", tabID)
	}

	page := newPage(e.ctx)
	var alive bool
	if err := page.eval(markerCheck, &alive); err != nil {
		return nil, fmt.Errorf("reach tab %d: %w", tabID, err)
	}

	b.mu.Lock()
	if !alive {
		e.agent = nil
	}
	sess := e.agent
	b.mu.Unlock()

	if sess == nil {
		if msg.Type == agent.MsgPing {
			return &agent.Response{Success: false, Error: "no agent in tab"}, nil
		}
		return nil, fmt.Errorf("no agent in tab %d", tabID)
	}
	return sess.Handle(msg), nil
}
