package serp

import (
	"context"
	"net/url"
	"sort"
	"strings"
)

// Result represents a single organic search hit from any provider.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Position    int    `json:"position"`
	Domain      string `json:"domain,omitempty"`
}

// Locale carries the country/language hints passed through to the provider.
type Locale struct {
	Country  string
	Language string
}

// Provider is a minimal interface for SERP providers.
type Provider interface {
	Search(ctx context.Context, query string, depth int, loc Locale) ([]Result, error)
	Name() string
}

// NormalizeURL reduces a URL to scheme+host+path with the trailing slash
// stripped and query/fragment dropped. The result is stable under
// re-normalization, which makes it usable as a dedupe key. Unparseable
// input is returned trimmed and lowercase-host-free, so it still maps to
// itself on a second pass.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.User = nil
	return u.String()
}

// DomainOf extracts the lowercased host of a URL, or "" when unparseable.
func DomainOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// QueryKey builds a cache key from a query and locale. Queries differing only
// in case or whitespace share an entry.
func QueryKey(query string, loc Locale) string {
	q := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	return q + "|" + strings.ToLower(loc.Country) + "|" + strings.ToLower(loc.Language)
}

// Merge combines per-query result lists into one list keyed by normalized
// URL. When two queries return the same URL, the lower search-engine
// position wins. The merged list is sorted ascending by position, with
// first-seen order breaking ties.
func Merge(groups [][]Result) []Result {
	index := map[string]int{}
	out := make([]Result, 0, 64)
	for _, g := range groups {
		for _, r := range g {
			if strings.TrimSpace(r.URL) == "" {
				continue
			}
			key := NormalizeURL(r.URL)
			if key == "" {
				continue
			}
			r.URL = key
			if r.Domain == "" {
				r.Domain = DomainOf(key)
			}
			if i, ok := index[key]; ok {
				if r.Position < out[i].Position {
					out[i] = r
				}
				continue
			}
			index[key] = len(out)
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}
