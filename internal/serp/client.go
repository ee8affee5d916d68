package serp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPProvider implements Provider against a JSON search API's /search
// endpoint. The endpoint returns organic results plus a task id used for
// provider-side accounting.
type HTTPProvider struct {
	BaseURL    string
	APIKey     string // optional
	HTTPClient *http.Client
	UserAgent  string // optional custom UA
}

func (p *HTTPProvider) Name() string { return "http" }

func (p *HTTPProvider) Search(ctx context.Context, query string, depth int, loc Locale) ([]Result, error) {
	if p.BaseURL == "" {
		return nil, fmt.Errorf("missing serp base url")
	}
	if depth <= 0 {
		depth = 10
	}
	u, err := url.Parse(p.BaseURL)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(u.Path, "/search") {
		u.Path = strings.TrimRight(u.Path, "/") + "/search"
	}
	q := u.Query()
	q.Set("keyword", query)
	q.Set("depth", fmt.Sprintf("%d", depth))
	if loc.Country != "" {
		q.Set("country", loc.Country)
	}
	if loc.Language != "" {
		q.Set("language", loc.Language)
	}
	if p.APIKey != "" {
		q.Set("apikey", p.APIKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
	hc := p.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("serp status: %d", resp.StatusCode)
	}
	var sr serpResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(sr.Results))
	for i, r := range sr.Results {
		if r.URL == "" || r.Title == "" {
			continue
		}
		pos := r.Position
		if pos <= 0 {
			pos = i + 1
		}
		out = append(out, Result{
			URL:         strings.TrimSpace(r.URL),
			Title:       strings.TrimSpace(r.Title),
			Description: strings.TrimSpace(r.Description),
			Position:    pos,
			Domain:      strings.ToLower(strings.TrimSpace(r.Domain)),
		})
		if len(out) >= depth {
			break
		}
	}
	return out, nil
}

type serpResponse struct {
	TaskID  string `json:"task_id"`
	Results []struct {
		URL         string `json:"url"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Position    int    `json:"position"`
		Domain      string `json:"domain"`
	} `json:"results"`
}
