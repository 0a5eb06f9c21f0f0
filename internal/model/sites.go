package model

import "net/url"

// SiteKey identifies a supported LLM site.
type SiteKey string

const (
	SiteClaude     SiteKey = "claude"
	SiteChatGPT    SiteKey = "chatgpt"
	SiteGemini     SiteKey = "gemini"
	SitePerplexity SiteKey = "perplexity"
)

// Site describes one supported site. Hosts are matched exactly against the
// tab URL's hostname.
type Site struct {
	Key   SiteKey
	Hosts []string
	URL   string
}

// Sites is the supported-site table, the single source of truth for which
// pages an agent may be provisioned into.
var Sites = []Site{
	{Key: SiteClaude, Hosts: []string{"claude.ai"}, URL: "https://claude.ai"},
	{Key: SiteChatGPT, Hosts: []string{"chatgpt.com", "chat.openai.com"}, URL: "https://chatgpt.com"},
	{Key: SiteGemini, Hosts: []string{"gemini.google.com"}, URL: "https://gemini.google.com"},
	{Key: SitePerplexity, Hosts: []string{"www.perplexity.ai", "perplexity.ai"}, URL: "https://www.perplexity.ai"},
}

// SiteByKey looks up a site by key.
func SiteByKey(key SiteKey) (Site, bool) {
	for _, s := range Sites {
		if s.Key == key {
			return s, true
		}
	}
	return Site{}, false
}

// MatchURL reports which supported site, if any, serves the given URL.
func MatchURL(rawURL string) (SiteKey, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	host := u.Hostname()
	for _, s := range Sites {
		for _, h := range s.Hosts {
			if host == h {
				return s.Key, true
			}
		}
	}
	return "", false
}

// DefaultSite is opened when a scheduled prompt fires with no supported tab
// active and the user has not chosen a preferred site.
const DefaultSite = SiteChatGPT
