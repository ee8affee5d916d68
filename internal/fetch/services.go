package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// HeadlessClient calls an external headless render service. The service is
// treated as opaque: (url, timeout, byte cap) in, rendered HTML and text out.
// A transport-level failure trips a sticky "down" flag for the rest of the
// process lifetime; only a restart resets it.
type HeadlessClient struct {
	BaseURL    string
	HTTPClient *http.Client

	down atomic.Bool
}

// Down reports whether the service has been marked unavailable.
func (h *HeadlessClient) Down() bool { return h == nil || h.BaseURL == "" || h.down.Load() }

type headlessRequest struct {
	URL       string `json:"url"`
	TimeoutMS int64  `json:"timeout_ms"`
	MaxBytes  int64  `json:"max_bytes"`
}

type headlessResponse struct {
	HTML string `json:"html"`
	Text string `json:"text"`
}

// Render asks the service to load the page in a real browser and return the
// post-JavaScript document.
func (h *HeadlessClient) Render(ctx context.Context, pageURL string, timeout time.Duration, maxBytes int64) (string, string, error) {
	if h.Down() {
		return "", "", fmt.Errorf("headless service unavailable")
	}
	payload, err := json.Marshal(headlessRequest{URL: pageURL, TimeoutMS: timeout.Milliseconds(), MaxBytes: maxBytes})
	if err != nil {
		return "", "", err
	}
	endpoint := strings.TrimRight(h.BaseURL, "/") + "/render"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	hc := h.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout + 5*time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		// Transport failure: assume the service is gone for this process.
		h.down.Store(true)
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", "", fmt.Errorf("headless status: %d", resp.StatusCode)
	}
	var hr headlessResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return "", "", err
	}
	return hr.HTML, hr.Text, nil
}

// ReaderClient calls a text-proxy service that returns a plain-text rendering
// of a page (reader mode). Best effort with its own timeout.
type ReaderClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func (r *ReaderClient) Text(ctx context.Context, pageURL string) (string, error) {
	if r == nil || r.BaseURL == "" {
		return "", fmt.Errorf("reader proxy not configured")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := strings.TrimRight(r.BaseURL, "/") + "/" + pageURL
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/plain")

	hc := r.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("reader status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// UnlockerClient calls a paid anti-bot-evasion proxy. Every call is billed,
// so the fetcher only reaches for it when all cheaper tiers stayed blocked.
type UnlockerClient struct {
	Endpoint   string
	APIKey     string
	Zone       string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Configured reports whether credentials are present.
func (u *UnlockerClient) Configured() bool {
	return u != nil && u.Endpoint != "" && u.APIKey != ""
}

func (u *UnlockerClient) Fetch(ctx context.Context, pageURL string) (string, error) {
	if !u.Configured() {
		return "", fmt.Errorf("unlocker proxy not configured")
	}
	timeout := u.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint, err := url.Parse(u.Endpoint)
	if err != nil {
		return "", err
	}
	q := endpoint.Query()
	q.Set("url", pageURL)
	if u.Zone != "" {
		q.Set("zone", u.Zone)
	}
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+u.APIKey)

	hc := u.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unlocker status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
