package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/promptdock/promptdock/internal/dom"
)

const evalTimeout = 5 * time.Second

// cdpPage implements dom.Page by evaluating JavaScript in a tab. Elements
// are addressed by (selector, index) and re-resolved on every operation, so
// a re-render between calls targets the current node, not a stale handle.
type cdpPage struct {
	ctx context.Context
}

func newPage(tabCtx context.Context) *cdpPage {
	return &cdpPage{ctx: tabCtx}
}

func (p *cdpPage) eval(expr string, out interface{}) error {
	ctx, cancel := context.WithTimeout(p.ctx, evalTimeout)
	defer cancel()
	return chromedp.Run(ctx, chromedp.Evaluate(expr, out))
}

func (p *cdpPage) Query(selector string) []dom.Element {
	sel := jsString(selector)
	var count int
	expr := fmt.Sprintf(`(() => { try { return document.querySelectorAll(%s).length; } catch (e) { return 0; } })()`, sel)
	if err := p.eval(expr, &count); err != nil {
		return nil
	}
	els := make([]dom.Element, 0, count)
	for i := 0; i < count; i++ {
		els = append(els, &cdpElement{page: p, selector: selector, index: i})
	}
	return els
}

type cdpElement struct {
	page     *cdpPage
	selector string
	index    int
}

// ref is a JS expression resolving this element, or undefined when gone.
func (e *cdpElement) ref() string {
	return fmt.Sprintf(`document.querySelectorAll(%s)[%d]`, jsString(e.selector), e.index)
}

// Visible requires the element to be rendered (display/visibility), not
// transparent, and to occupy actual space. Decoy nodes with opacity 0 or a
// collapsed box must lose the locator race to the real composer.
func (e *cdpElement) Visible() bool {
	expr := fmt.Sprintf(`(() => {
		const el = %s;
		if (!el) return false;
		const st = window.getComputedStyle(el);
		if (st.display === 'none' || st.visibility === 'hidden' || st.opacity === '0') return false;
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	})()`, e.ref())
	var visible bool
	if err := e.page.eval(expr, &visible); err != nil {
		return false
	}
	return visible
}

func (e *cdpElement) Enabled() bool {
	expr := fmt.Sprintf(`(() => {
		const el = %s;
		if (!el) return false;
		return !el.disabled && el.getAttribute('aria-disabled') !== 'true'
			&& el.getAttribute('contenteditable') !== 'false';
	})()`, e.ref())
	var enabled bool
	if err := e.page.eval(expr, &enabled); err != nil {
		return false
	}
	return enabled
}

func (e *cdpElement) Focus() {
	expr := fmt.Sprintf(`(() => { const el = %s; if (el) el.focus(); })()`, e.ref())
	_ = e.page.eval(expr, nil)
}

// SetText writes into either a form control or a contenteditable composer,
// firing the input events reactive frameworks listen for.
func (e *cdpElement) SetText(text string) error {
	expr := fmt.Sprintf(`(() => {
		const el = %s;
		if (!el) return 'element not found';
		const text = %s;
		if (el.tagName === 'TEXTAREA' || el.tagName === 'INPUT') {
			const proto = el.tagName === 'TEXTAREA' ? window.HTMLTextAreaElement.prototype : window.HTMLInputElement.prototype;
			const setter = Object.getOwnPropertyDescriptor(proto, 'value').set;
			setter.call(el, text);
		} else {
			el.innerHTML = '';
			for (const line of text.split('\n')) {
				const p = document.createElement('p');
				p.textContent = line;
				el.appendChild(p);
			}
		}
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return '';
	})()`, e.ref(), jsString(text))
	var failure string
	if err := e.page.eval(expr, &failure); err != nil {
		return err
	}
	if failure != "" {
		return fmt.Errorf("%s", failure)
	}
	return nil
}

func (e *cdpElement) Text() string {
	expr := fmt.Sprintf(`(() => {
		const el = %s;
		if (!el) return '';
		if (el.tagName === 'TEXTAREA' || el.tagName === 'INPUT') return el.value;
		return el.innerText;
	})()`, e.ref())
	var text string
	if err := e.page.eval(expr, &text); err != nil {
		return ""
	}
	return text
}

func (e *cdpElement) Click() error {
	expr := fmt.Sprintf(`(() => {
		const el = %s;
		if (!el) return 'element not found';
		el.click();
		return '';
	})()`, e.ref())
	var failure string
	if err := e.page.eval(expr, &failure); err != nil {
		return err
	}
	if failure != "" {
		return fmt.Errorf("%s", failure)
	}
	return nil
}

func (e *cdpElement) PressEnter() error {
	expr := fmt.Sprintf(`(() => {
		const el = %s;
		if (!el) return 'element not found';
		const opts = { key: 'Enter', code: 'Enter', keyCode: 13, which: 13, bubbles: true, cancelable: true };
		el.dispatchEvent(new KeyboardEvent('keydown', opts));
		el.dispatchEvent(new KeyboardEvent('keypress', opts));
		el.dispatchEvent(new KeyboardEvent('keyup', opts));
		return '';
	})()`, e.ref())
	var failure string
	if err := e.page.eval(expr, &failure); err != nil {
		return err
	}
	if failure != "" {
		return fmt.Errorf("%s", failure)
	}
	return nil
}

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
