package fetch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/groundlab/webgrounder/internal/cache"
	"github.com/groundlab/webgrounder/internal/extract"
	"github.com/groundlab/webgrounder/internal/serp"
)

const (
	chromeUA  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	firefoxUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:126.0) Gecko/20100101 Firefox/126.0"

	// shortBodyBytes triggers the alternate-UA retry on an implausibly short
	// 200 response.
	shortBodyBytes = 200
	// shortTextChars marks extracted text too thin to be a real article.
	shortTextChars = 80
)

// PageResult is the outcome of the full fallback chain for one URL. Status is
// the effective HTTP status after all tiers (0 means the network never
// answered); Truncated records that the byte budget cut the read mid-stream.
type PageResult struct {
	URL         string   `json:"url"`
	HTML        string   `json:"html,omitempty"`
	Text        string   `json:"text"`
	Title       string   `json:"title,omitempty"`
	TableBlocks []string `json:"table_blocks,omitempty"`
	ListBlocks  []string `json:"list_blocks,omitempty"`
	Status      int      `json:"status"`
	Truncated   bool     `json:"truncated"`
	HTMLLen     int      `json:"html_len"`
}

// Usable reports whether the chain produced content worth extracting from.
func (p PageResult) Usable() bool {
	return strings.TrimSpace(p.Text) != ""
}

// Fetcher resolves a URL to page content through a layered fallback chain:
// direct fetch, alternate-UA retry, headless render, reader proxy, and
// finally the paid unlocker proxy. Tiers that are not configured are skipped.
// Fetch never returns an error; failures surface as an unusable PageResult.
type Fetcher struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	MaxBytes   int64
	// RetryPause precedes the alternate-UA retry.
	RetryPause time.Duration

	Headless *HeadlessClient
	Reader   *ReaderClient
	Unlocker *UnlockerClient

	// Cache is the page cache bucket; successful extractions are stored
	// under the normalized URL.
	Cache *cache.Bucket

	unlockerCalls atomic.Int64
}

// UnlockerCalls reports how many paid unlock calls this fetcher made.
func (f *Fetcher) UnlockerCalls() int64 { return f.unlockerCalls.Load() }

// Fetch runs the fallback chain for one URL.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) PageResult {
	key := serp.NormalizeURL(pageURL)
	if payload, ok := f.Cache.Get(ctx, key); ok {
		var cached PageResult
		if err := json.Unmarshal(payload, &cached); err == nil && cached.Usable() {
			return cached
		}
	}

	res := f.runChain(ctx, pageURL)
	if res.Usable() {
		if payload, err := json.Marshal(res); err == nil {
			f.Cache.Put(ctx, key, payload)
		}
	}
	return res
}

func (f *Fetcher) runChain(ctx context.Context, pageURL string) PageResult {
	// Tier 1: direct fetch with a browser-like header set.
	status, html, truncated := f.direct(ctx, pageURL, chromeUA)

	// Tier 2: alternate UA, only for blocked statuses or an implausibly
	// short 200 body.
	if blockedStatus(status) || (status == http.StatusOK && len(html) < shortBodyBytes) {
		if f.RetryPause > 0 {
			select {
			case <-time.After(f.RetryPause):
			case <-ctx.Done():
			}
		}
		retryStatus, retryHTML, retryTrunc := f.direct(ctx, pageURL, firefoxUA)
		if betterAttempt(retryStatus, len(retryHTML), status, len(html)) {
			status, html, truncated = retryStatus, retryHTML, retryTrunc
		}
	}

	doc := extract.Page(html)
	res := PageResult{
		URL:       pageURL,
		HTML:      string(html),
		Text:      doc.Text,
		Title:     doc.Title,
		Status:    status,
		Truncated: truncated,
		HTMLLen:   len(html),
	}

	// Tier 3: headless render for blocked pages or JS-heavy shells.
	if f.Headless != nil && !f.Headless.Down() &&
		(blockedStatus(status) || jsHeavyShell(string(html), res.Text)) {
		if hHTML, hText, err := f.Headless.Render(ctx, pageURL, f.Timeout, f.MaxBytes); err == nil {
			candidate := hText
			if hHTML != "" {
				if extracted := extract.Page([]byte(hHTML)).Text; len(extracted) > len(candidate) {
					candidate = extracted
				}
			}
			if len(candidate) > len(res.Text) {
				res.Text = candidate
				res.Status = http.StatusOK
				if len(hHTML) > 0 {
					res.HTML = hHTML
					res.HTMLLen = len(hHTML)
					if t := extract.Page([]byte(hHTML)).Title; t != "" {
						res.Title = t
					}
				}
			}
		} else {
			log.Warn().Err(err).Str("url", pageURL).Msg("headless render failed")
		}
	}

	// Tier 4: reader proxy for pages that answered 200 with almost no text
	// and did not look like a JS shell.
	if f.Reader != nil && res.Status == http.StatusOK &&
		len(res.Text) < shortTextChars && !jsHeavyShell(res.HTML, res.Text) {
		if text, err := f.Reader.Text(ctx, pageURL); err == nil {
			if len(text) > len(res.Text) {
				res.Text = text
			}
		} else {
			log.Warn().Err(err).Str("url", pageURL).Msg("reader proxy failed")
		}
	}

	// Tier 5: paid unlocker as last resort for still-blocked pages.
	if f.Unlocker != nil && f.Unlocker.Configured() && stillBlocked(res.Status) {
		f.unlockerCalls.Add(1)
		if uHTML, err := f.Unlocker.Fetch(ctx, pageURL); err == nil {
			udoc := extract.Page([]byte(uHTML))
			if strings.TrimSpace(udoc.Text) != "" {
				res.HTML = uHTML
				res.HTMLLen = len(uHTML)
				res.Text = udoc.Text
				if udoc.Title != "" {
					res.Title = udoc.Title
				}
				res.Status = http.StatusOK
			}
		} else {
			log.Warn().Err(err).Str("url", pageURL).Msg("unlocker proxy failed")
		}
	}

	if res.HTML != "" {
		res.TableBlocks = extract.Tables([]byte(res.HTML))
		res.ListBlocks = extract.Lists([]byte(res.HTML))
	}
	return res
}

// direct issues one GET with the given UA, a per-request timeout, and the
// byte cap enforced by stopping the stream read. Status 0 means the request
// never produced a response.
func (f *Fetcher) direct(ctx context.Context, pageURL, ua string) (int, []byte, bool) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return 0, nil, false
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	hc := f.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", pageURL).Msg("direct fetch failed")
		return 0, nil, false
	}
	defer resp.Body.Close()

	body, truncated := readCapped(resp.Body, f.MaxBytes)
	return resp.StatusCode, body, truncated
}

// readCapped reads up to max bytes and reports whether the stream had more.
// The cap is enforced by stopping the read, never by rejecting the page.
func readCapped(r io.Reader, max int64) ([]byte, bool) {
	if max <= 0 {
		b, _ := io.ReadAll(r)
		return b, false
	}
	b, err := io.ReadAll(io.LimitReader(r, max))
	if err != nil {
		return b, false
	}
	if int64(len(b)) == max {
		var probe [1]byte
		if n, _ := r.Read(probe[:]); n > 0 {
			return b, true
		}
	}
	return b, false
}

func blockedStatus(status int) bool {
	return status == http.StatusForbidden ||
		status == http.StatusTooManyRequests ||
		status == http.StatusServiceUnavailable
}

// stillBlocked includes status 0 (no response at all), which only the
// unlocker tier treats as retryable.
func stillBlocked(status int) bool {
	return status == 0 || blockedStatus(status)
}

// betterAttempt prefers a 2xx over a non-2xx, then the longer body.
func betterAttempt(newStatus, newLen, oldStatus, oldLen int) bool {
	newOK := newStatus >= 200 && newStatus <= 299
	oldOK := oldStatus >= 200 && oldStatus <= 299
	if newOK != oldOK {
		return newOK
	}
	return newLen > oldLen
}

// jsHeavyShell detects pages whose server HTML is just a JavaScript
// application shell: almost no extractable text combined with hydration
// markers, a script-heavy document, or a near-empty body.
func jsHeavyShell(html, text string) bool {
	if len(text) >= 300 {
		return false
	}
	for _, marker := range []string{
		"__NEXT_DATA__", "data-reactroot", "data-react-helmet",
		"id=\"__nuxt\"", "ng-version=", "window.__INITIAL_STATE__",
	} {
		if strings.Contains(html, marker) {
			return true
		}
	}
	if strings.Count(html, "<script") > 20 {
		return true
	}
	return len(text) < shortTextChars && strings.Contains(html, "<script")
}

// Progress is invoked as pages complete; Searched never decreases.
type Progress func(searched int)

// FetchAll fetches every candidate concurrently. One page's failure or
// timeout never blocks the others. Results are returned in candidate order;
// the progress callback observes completion order.
func FetchAll(ctx context.Context, f *Fetcher, urls []string, progress Progress) []PageResult {
	results := make([]PageResult, len(urls))
	var mu sync.Mutex
	searched := 0
	var g errgroup.Group
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			results[i] = f.Fetch(ctx, u)
			if progress != nil {
				// Serialize so observers see a non-decreasing count.
				mu.Lock()
				searched++
				progress(searched)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
