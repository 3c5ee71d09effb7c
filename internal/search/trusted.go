package search

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultTrustedDomains is the built-in allowlist of reputable news,
// fact-checking, scientific and government domains.
var DefaultTrustedDomains = []string{
	"reuters.com", "bbc.com", "bbc.co.uk", "apnews.com", "factcheck.org", "snopes.com",
	"cnn.com", "nytimes.com", "washingtonpost.com", "theguardian.com",
	"npr.org", "bloomberg.com", "wsj.com", "pti.com", "ani.com",
	"thehindu.com", "indianexpress.com", "un.org", "news.un.org",
	"who.int", "unesco.org", "worldbank.org", "imf.org", "wto.org",
	"gov.uk", "gov.in", "whitehouse.gov", "state.gov", "europa.eu",
	"ec.europa.eu", "nature.com", "science.org", "nejm.org", "thelancet.com",
	"aljazeera.com", "dw.com", "france24.com", "timesofindia.com",
	"timesofindia.indiatimes.com", "ndtv.com", "scroll.in", "thewire.in",
}

// TrustedDomains matches hosts against an allowlist. A host matches a
// domain when it equals it or is a subdomain of it.
type TrustedDomains struct {
	domains []string
}

func NewTrustedDomains(domains []string) *TrustedDomains {
	t := &TrustedDomains{}
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
		if d != "" {
			t.domains = append(t.domains, d)
		}
	}
	return t
}

// LoadTrustedDomains reads `domains: [...]` from YAML. An empty path gives
// the built-in list.
func LoadTrustedDomains(path string) (*TrustedDomains, error) {
	if path == "" {
		return NewTrustedDomains(DefaultTrustedDomains), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Domains []string `yaml:"domains"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode trusted domains %s: %w", path, err)
	}
	if len(doc.Domains) == 0 {
		return nil, fmt.Errorf("trusted domains file %s is empty", path)
	}
	return NewTrustedDomains(doc.Domains), nil
}

// Match returns the allowlisted domain for a URL or bare host, if any.
func (t *TrustedDomains) Match(urlOrHost string) (string, bool) {
	host := hostOf(urlOrHost)
	if host == "" {
		return "", false
	}
	for _, d := range t.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return d, true
		}
	}
	return "", false
}

func (t *TrustedDomains) IsTrusted(urlOrHost string) bool {
	_, ok := t.Match(urlOrHost)
	return ok
}

func (t *TrustedDomains) List() []string {
	return append([]string(nil), t.domains...)
}

func hostOf(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Hostname()
	} else if i := strings.IndexAny(s, "/:"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimPrefix(s, "www.")
}

// Domain returns the host of a result link without "www.".
func Domain(link string) string {
	return hostOf(link)
}
