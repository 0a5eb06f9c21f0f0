package agent

import "github.com/promptdock/promptdock/internal/model"

// SiteRules is the per-site locator table. The lists are ordered by
// specificity: the first visible, interactive match wins. Adding a site
// means adding a table entry, not code.
type SiteRules struct {
	Key            model.SiteKey
	Composer       []string
	Submit         []string
	StopGenerating []string
}

var ruleTable = map[model.SiteKey]SiteRules{
	model.SiteChatGPT: {
		Key: model.SiteChatGPT,
		Composer: []string{
			`div[contenteditable="true"][data-id*="root"]`,
			`#prompt-textarea`,
			`textarea[data-id*="prompt"]`,
			`div[contenteditable="true"][data-id*="prompt"]`,
			`textarea[placeholder*="Message"]`,
			`div[contenteditable="true"][role="textbox"]`,
			`textarea:not([readonly]):not([disabled])`,
			`[data-testid="composer-text-input"]`,
		},
		Submit: []string{
			`[data-testid="send-button"]`,
			`button[aria-label*="Send"]`,
			`button[type="submit"]:not([disabled])`,
		},
		StopGenerating: []string{
			`button[aria-label*="Stop"]`,
		},
	},
	model.SiteClaude: {
		Key: model.SiteClaude,
		Composer: []string{
			`div[contenteditable="true"].ProseMirror`,
			`div[contenteditable="true"][data-testid="chat-input"]`,
			`div[contenteditable="true"][role="textbox"]`,
			`fieldset div[contenteditable="true"]`,
			`textarea[placeholder*="Talk"]`,
		},
		Submit: []string{
			`button[aria-label="Send message"]`,
			`button[aria-label*="Send"]`,
			`fieldset button[type="button"]:not([disabled])`,
		},
		StopGenerating: []string{
			`button[aria-label="Stop response"]`,
			`button[aria-label*="Stop"]`,
		},
	},
	model.SiteGemini: {
		Key: model.SiteGemini,
		Composer: []string{
			`div[contenteditable="true"].ql-editor`,
			`rich-textarea div[contenteditable="true"]`,
			`div[contenteditable="true"][role="textbox"]`,
			`textarea[aria-label*="prompt"]`,
		},
		Submit: []string{
			`button[aria-label="Send message"]`,
			`button[aria-label*="Send"]`,
			`button.send-button:not([disabled])`,
		},
		StopGenerating: []string{
			`button[aria-label*="Stop"]`,
		},
	},
	model.SitePerplexity: {
		Key: model.SitePerplexity,
		Composer: []string{
			`textarea[placeholder*="Ask"]`,
			`div[contenteditable="true"][role="textbox"]`,
			`textarea:not([readonly]):not([disabled])`,
		},
		Submit: []string{
			`button[aria-label="Submit"]`,
			`button[aria-label*="Submit"]`,
			`button[type="submit"]:not([disabled])`,
		},
	},
}

// RulesFor returns the locator table for a supported site.
func RulesFor(key model.SiteKey) (SiteRules, bool) {
	r, ok := ruleTable[key]
	return r, ok
}

// RulesForURL resolves the rule table by matching the tab's URL against the
// supported-site table.
func RulesForURL(rawURL string) (SiteRules, bool) {
	key, ok := model.MatchURL(rawURL)
	if !ok {
		return SiteRules{}, false
	}
	return RulesFor(key)
}
