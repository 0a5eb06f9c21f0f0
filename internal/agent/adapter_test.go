package agent

import (
	"testing"

	"github.com/promptdock/promptdock/internal/dom"
	"github.com/promptdock/promptdock/internal/model"
)

func testRules() SiteRules {
	return SiteRules{
		Key:            model.SiteChatGPT,
		Composer:       []string{"#primary", "#fallback"},
		Submit:         []string{"#send"},
		StopGenerating: []string{"#stop"},
	}
}

func TestLocateInputOrderedPriority(t *testing.T) {
	primary := &dom.FakeElement{Selectors: []string{"#primary"}}
	fallback := &dom.FakeElement{Selectors: []string{"#fallback"}}
	page := dom.NewFakePage(fallback, primary)

	a := NewAdapter(testRules(), page)
	el := a.LocateInput()
	if el != dom.Element(primary) {
		t.Errorf("located %v, want primary locator to win regardless of page order", el)
	}
}

func TestLocateInputSkipsHiddenAndDisabled(t *testing.T) {
	hidden := &dom.FakeElement{Selectors: []string{"#primary"}, Hidden: true}
	disabled := &dom.FakeElement{Selectors: []string{"#primary"}, Disabled: true}
	usable := &dom.FakeElement{Selectors: []string{"#fallback"}}
	page := dom.NewFakePage(hidden, disabled, usable)

	a := NewAdapter(testRules(), page)
	if el := a.LocateInput(); el != dom.Element(usable) {
		t.Errorf("located %v, want the usable fallback", el)
	}
}

func TestLocateInputSkipsTransparentAndCollapsed(t *testing.T) {
	transparent := &dom.FakeElement{Selectors: []string{"#primary"}, Transparent: true}
	collapsed := &dom.FakeElement{Selectors: []string{"#primary"}, ZeroSize: true}
	composer := &dom.FakeElement{Selectors: []string{"#primary"}}
	page := dom.NewFakePage(transparent, collapsed, composer)

	a := NewAdapter(testRules(), page)
	if el := a.LocateInput(); el != dom.Element(composer) {
		t.Errorf("located %v, want the rendered composer", el)
	}
	if !a.InsertText("hello") {
		t.Fatal("insert should succeed against the rendered composer")
	}
	if composer.Content != "hello" {
		t.Errorf("composer holds %q", composer.Content)
	}
	if transparent.Content != "" || collapsed.Content != "" {
		t.Error("text must never land in an invisible element")
	}
}

func TestInsertTextFocusesAndSets(t *testing.T) {
	composer := &dom.FakeElement{Selectors: []string{"#primary"}}
	a := NewAdapter(testRules(), dom.NewFakePage(composer))

	if !a.InsertText("hello") {
		t.Fatal("InsertText failed")
	}
	if !composer.Focused {
		t.Error("composer not focused before write")
	}
	if composer.Content != "hello" {
		t.Errorf("content = %q", composer.Content)
	}
	if len(composer.TextEvents) == 0 {
		t.Error("no input events raised")
	}
}

func TestInsertTextNoComposer(t *testing.T) {
	a := NewAdapter(testRules(), dom.NewFakePage())
	if a.InsertText("hello") {
		t.Fatal("InsertText succeeded with no composer on the page")
	}
}

func TestInsertTextSetFails(t *testing.T) {
	composer := &dom.FakeElement{Selectors: []string{"#primary"}, FailSetText: true}
	a := NewAdapter(testRules(), dom.NewFakePage(composer))
	if a.InsertText("hello") {
		t.Fatal("InsertText reported success despite write failure")
	}
}

func TestSubmitClicksButton(t *testing.T) {
	composer := &dom.FakeElement{Selectors: []string{"#primary"}}
	send := &dom.FakeElement{Selectors: []string{"#send"}}
	a := NewAdapter(testRules(), dom.NewFakePage(composer, send))

	if !a.Submit() {
		t.Fatal("Submit failed")
	}
	if send.Clicks != 1 {
		t.Errorf("send clicks = %d", send.Clicks)
	}
	if composer.EnterKeys != 0 {
		t.Error("Enter fallback used although button was available")
	}
}

func TestSubmitFallsBackToEnter(t *testing.T) {
	composer := &dom.FakeElement{Selectors: []string{"#primary"}}
	a := NewAdapter(testRules(), dom.NewFakePage(composer))

	if !a.Submit() {
		t.Fatal("Submit failed")
	}
	if composer.EnterKeys != 1 {
		t.Errorf("enter presses = %d, want 1", composer.EnterKeys)
	}
}

func TestReadTextEmptyWhenAbsent(t *testing.T) {
	a := NewAdapter(testRules(), dom.NewFakePage())
	if got := a.ReadText(); got != "" {
		t.Errorf("ReadText = %q, want empty", got)
	}
}

func TestCheckGenerationStatus(t *testing.T) {
	stop := &dom.FakeElement{Selectors: []string{"#stop"}}
	page := dom.NewFakePage(stop)
	a := NewAdapter(testRules(), page)

	if a.CheckGenerationStatus() {
		t.Error("visible stop control must mean still generating")
	}

	stop.Hidden = true
	if !a.CheckGenerationStatus() {
		t.Error("hidden stop control must mean finished")
	}

	empty := NewAdapter(testRules(), dom.NewFakePage())
	if !empty.CheckGenerationStatus() {
		t.Error("absent stop control must mean finished")
	}
}

func TestCheckGenerationStatusUndecidable(t *testing.T) {
	rules := testRules()
	rules.StopGenerating = nil
	a := NewAdapter(rules, dom.NewFakePage())
	if a.CheckGenerationStatus() {
		t.Error("site without stop locators must report not finished")
	}
}

func TestRuleTableCoversAllSites(t *testing.T) {
	for _, site := range model.Sites {
		rules, ok := RulesFor(site.Key)
		if !ok {
			t.Errorf("no rules for site %s", site.Key)
			continue
		}
		if len(rules.Composer) == 0 || len(rules.Submit) == 0 {
			t.Errorf("site %s has empty composer or submit locators", site.Key)
		}
	}
}

func TestRulesForURL(t *testing.T) {
	rules, ok := RulesForURL("https://claude.ai/new")
	if !ok || rules.Key != model.SiteClaude {
		t.Errorf("RulesForURL(claude) = %+v, %v", rules, ok)
	}
	if _, ok := RulesForURL("https://example.com"); ok {
		t.Error("unsupported URL resolved rules")
	}
}

func TestAgentHandle(t *testing.T) {
	composer := &dom.FakeElement{Selectors: []string{"#primary"}}
	a := New(NewAdapter(testRules(), dom.NewFakePage(composer)))

	resp := a.Handle(Message{Type: MsgPing})
	if !resp.Success || resp.AgentID == "" {
		t.Errorf("ping response = %+v", resp)
	}

	resp = a.Handle(Message{Type: MsgInsertPrompt, Text: "hi"})
	if !resp.Success {
		t.Fatalf("insert response = %+v", resp)
	}
	if composer.Content != "hi" {
		t.Errorf("content = %q", composer.Content)
	}

	resp = a.Handle(Message{Type: MsgReadCurrentInput})
	if !resp.Success || resp.Text != "hi" {
		t.Errorf("read response = %+v", resp)
	}

	resp = a.Handle(Message{Type: "BOGUS"})
	if resp.Success {
		t.Error("unknown message type answered with success")
	}
}
