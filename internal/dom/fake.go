package dom

import (
	"fmt"
	"strings"
	"sync"
)

// FakePage is an in-memory Page for tests. Selectors are matched by exact
// string against each element's registered selector list, which is enough to
// exercise ordered-locator logic without a CSS engine.
type FakePage struct {
	mu       sync.Mutex
	elements []*FakeElement
}

func NewFakePage(elements ...*FakeElement) *FakePage {
	return &FakePage{elements: elements}
}

func (p *FakePage) Add(e *FakeElement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements = append(p.elements, e)
}

func (p *FakePage) Query(selector string) []Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Element
	for _, e := range p.elements {
		for _, s := range e.Selectors {
			if s == selector {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// FakeElement records interactions for assertions.
type FakeElement struct {
	Selectors   []string
	Hidden      bool
	Transparent bool
	ZeroSize    bool
	Disabled    bool
	Content     string

	FailSetText bool

	Focused    bool
	Clicks     int
	EnterKeys  int
	TextEvents []string
}

func (e *FakeElement) Visible() bool { return !e.Hidden && !e.Transparent && !e.ZeroSize }
func (e *FakeElement) Enabled() bool { return !e.Disabled }
func (e *FakeElement) Focus()        { e.Focused = true }

func (e *FakeElement) SetText(text string) error {
	if e.FailSetText {
		return fmt.Errorf("set text failed")
	}
	e.Content = text
	e.TextEvents = append(e.TextEvents, "input", "change")
	return nil
}

func (e *FakeElement) Text() string { return e.Content }

func (e *FakeElement) Click() error {
	if e.Disabled {
		return fmt.Errorf("element disabled")
	}
	e.Clicks++
	return nil
}

func (e *FakeElement) PressEnter() error {
	e.EnterKeys++
	return nil
}

// String helps test failure messages.
func (e *FakeElement) String() string {
	return fmt.Sprintf("FakeElement(%s)", strings.Join(e.Selectors, ","))
}
