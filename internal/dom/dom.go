// Package dom is the minimal DOM surface the adapter protocol needs. The
// production implementation evaluates JavaScript in a Chrome tab over the
// DevTools protocol; tests use an in-memory fake.
package dom

// Page is one document the agent can operate on.
type Page interface {
	// Query returns the elements matching a CSS selector, in document
	// order. An invalid selector yields no matches.
	Query(selector string) []Element
}

// Element is a single DOM node. Implementations are responsible for raising
// whatever notification events the host page's reactive framework needs to
// observe a change; callers only state intent.
type Element interface {
	Visible() bool
	Enabled() bool
	Focus()
	// SetText replaces the element's content and notifies the page.
	SetText(text string) error
	Text() string
	Click() error
	// PressEnter dispatches a synthetic Enter key on the element.
	PressEnter() error
}
