package serp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/groundlab/webgrounder/internal/cache"
)

func TestNormalizeURL_Idempotent(t *testing.T) {
	cases := []string{
		"https://Example.com/Path/?q=1#frag",
		"http://example.com/",
		"https://example.com/a/b/",
		"not a url at all",
		"https://example.com",
	}
	for _, raw := range cases {
		once := NormalizeURL(raw)
		twice := NormalizeURL(once)
		if once != twice {
			t.Fatalf("normalize not idempotent for %q: %q != %q", raw, once, twice)
		}
	}
}

func TestNormalizeURL_StripsQueryFragmentAndSlash(t *testing.T) {
	got := NormalizeURL("https://Example.com/Docs/?utm_source=x&q=1#top")
	want := "https://example.com/Docs"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestMerge_LowestPositionWins(t *testing.T) {
	a := []Result{{URL: "https://a.com/x", Title: "A", Position: 7}}
	b := []Result{{URL: "https://a.com/x/", Title: "A again", Position: 3}}
	merged := Merge([][]Result{a, b})
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged result, got %d", len(merged))
	}
	if merged[0].Position != 3 {
		t.Fatalf("expected position 3 to win, got %d", merged[0].Position)
	}
}

func TestMerge_SortedAscendingByPosition(t *testing.T) {
	merged := Merge([][]Result{{
		{URL: "https://a.com/1", Title: "1", Position: 5},
		{URL: "https://b.com/2", Title: "2", Position: 1},
		{URL: "https://c.com/3", Title: "3", Position: 3},
	}})
	for i := 1; i < len(merged); i++ {
		if merged[i].Position < merged[i-1].Position {
			t.Fatalf("results not sorted ascending: %v", merged)
		}
	}
}

func TestHTTPProvider_ParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("keyword") == "" {
			t.Errorf("missing keyword param")
		}
		fmt.Fprint(w, `{"task_id":"t1","results":[
			{"url":"https://a.com/x","title":"A","description":"d","position":1,"domain":"a.com"},
			{"url":"","title":"dropped"},
			{"url":"https://b.com/y","title":"B","position":2}
		]}`)
	}))
	defer srv.Close()

	p := &HTTPProvider{BaseURL: srv.URL, HTTPClient: srv.Client()}
	results, err := p.Search(context.Background(), "widget X price", 10, Locale{Country: "us", Language: "en"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Domain != "a.com" || results[0].Position != 1 {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
}

type fakeProvider struct {
	calls   int
	results []Result
	err     error
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) Search(context.Context, string, int, Locale) ([]Result, error) {
	f.calls++
	return f.results, f.err
}

func TestCachingProvider_SecondSearchServedFromCache(t *testing.T) {
	store, err := cache.Open(":memory:")
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer store.Close()

	inner := &fakeProvider{results: []Result{{URL: "https://a.com/x", Title: "A", Position: 1}}}
	p := &CachingProvider{Inner: inner, Bucket: &cache.Bucket{Store: store, Name: cache.BucketSERP, TTL: 24 * time.Hour}}

	ctx := context.Background()
	if _, err := p.Search(ctx, "Widget  X", 10, Locale{}); err != nil {
		t.Fatalf("first search: %v", err)
	}
	// Differs only in case/whitespace: must hit the same cache key.
	results, err := p.Search(ctx, "widget x", 10, Locale{})
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected 1 remote call, got %d", inner.calls)
	}
	if p.RemoteCalls() != 1 {
		t.Fatalf("expected RemoteCalls()==1, got %d", p.RemoteCalls())
	}
	if len(results) != 1 || results[0].URL != "https://a.com/x" {
		t.Fatalf("unexpected cached results: %+v", results)
	}
}

func TestFetchAll_OneFailingQueryDoesNotAbortBatch(t *testing.T) {
	good := []Result{{URL: "https://a.com/x", Title: "A", Position: 2}}
	p := &flakyProvider{good: good}
	merged := FetchAll(context.Background(), p, []string{"fail", "ok"}, 10, Locale{})
	if len(merged) != 1 {
		t.Fatalf("expected surviving query's results, got %d", len(merged))
	}
}

type flakyProvider struct{ good []Result }

func (f *flakyProvider) Name() string { return "flaky" }
func (f *flakyProvider) Search(_ context.Context, q string, _ int, _ Locale) ([]Result, error) {
	if q == "fail" {
		return nil, errors.New("boom")
	}
	return f.good, nil
}
