// Package agent implements the page agent: the adapter protocol that
// manipulates a chat site's composer, and the message handler through which
// the background daemon drives it.
package agent

import (
	"github.com/promptdock/promptdock/internal/dom"
)

// Adapter drives one site's input field through the generic rule table. It
// is stateless between calls; every operation re-locates its elements.
type Adapter struct {
	rules SiteRules
	page  dom.Page
}

func NewAdapter(rules SiteRules, page dom.Page) *Adapter {
	return &Adapter{rules: rules, page: page}
}

// LocateInput walks the ordered composer locators and returns the first
// visible, interactive match. Order encodes specificity; there is no
// scoring.
func (a *Adapter) LocateInput() dom.Element {
	return a.firstUsable(a.rules.Composer)
}

// InsertText focuses the composer and replaces its content. The Page
// implementation raises the input events the host page needs; the host page
// does not poll.
func (a *Adapter) InsertText(text string) bool {
	el := a.LocateInput()
	if el == nil {
		return false
	}
	el.Focus()
	if err := el.SetText(text); err != nil {
		return false
	}
	return true
}

// Submit activates a send control from the ordered submit locators, falling
// back to a synthetic Enter on the composer. The return value means "some
// control was actuated", not that the site accepted the submission.
func (a *Adapter) Submit() bool {
	if btn := a.firstUsable(a.rules.Submit); btn != nil {
		if err := btn.Click(); err == nil {
			return true
		}
	}
	if el := a.LocateInput(); el != nil {
		if err := el.PressEnter(); err == nil {
			return true
		}
	}
	return false
}

// ReadText returns the composer's current content, or "" when no composer is
// found. Empty is not an error; the caller decides how to interpret it.
func (a *Adapter) ReadText() string {
	el := a.LocateInput()
	if el == nil {
		return ""
	}
	return el.Text()
}

// CheckGenerationStatus reports whether the site appears to have finished
// generating a response, using the absence of a visible stop control as the
// signal. Sites with no stop locators are undecidable and report false, so
// polling callers must bound their own wait.
func (a *Adapter) CheckGenerationStatus() bool {
	if len(a.rules.StopGenerating) == 0 {
		return false
	}
	for _, selector := range a.rules.StopGenerating {
		for _, el := range a.page.Query(selector) {
			if el.Visible() {
				return false // stop control visible: still generating
			}
		}
	}
	return true
}

func (a *Adapter) firstUsable(selectors []string) dom.Element {
	for _, selector := range selectors {
		for _, el := range a.page.Query(selector) {
			if el.Visible() && el.Enabled() {
				return el
			}
		}
	}
	return nil
}
