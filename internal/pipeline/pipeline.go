package pipeline

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/groundlab/webgrounder/internal/cache"
	"github.com/groundlab/webgrounder/internal/chunk"
	"github.com/groundlab/webgrounder/internal/fetch"
	"github.com/groundlab/webgrounder/internal/judge"
	"github.com/groundlab/webgrounder/internal/llm"
	"github.com/groundlab/webgrounder/internal/planner"
	"github.com/groundlab/webgrounder/internal/rank"
	selecter "github.com/groundlab/webgrounder/internal/select"
	"github.com/groundlab/webgrounder/internal/serp"
)

const (
	serpCacheTTL = 24 * time.Hour
	pageCacheTTL = 12 * time.Hour

	// retryQueryCap bounds how many suggested queries the retry pass runs.
	retryQueryCap = 2
)

// Pipeline holds the process-scoped dependencies of the retrieval run:
// planner, search provider, evidence judge, embedding service, the optional
// fetch-tier clients, and the shared cache. Per-run state (cost counters,
// progress, caching wrappers) is created inside Run.
type Pipeline struct {
	Planner  planner.Planner
	Serp     serp.Provider
	Judge    judge.Judge
	Embedder llm.Embedder

	Headless *fetch.HeadlessClient
	Reader   *fetch.ReaderClient
	Unlocker *fetch.UnlockerClient

	Cache      *cache.Store
	HTTPClient *http.Client
}

// Run executes the full retrieval flow for one prompt. It never returns an
// error: planner failure degrades to deterministic fallback queries, fetch
// and ranking failures degrade tier by tier, and a judge failure reads as
// insufficient evidence. The Result is always well formed.
func (p *Pipeline) Run(ctx context.Context, prompt string, opts Options) Result {
	opts = opts.withDefaults()

	plan := p.plan(ctx, prompt, opts)
	if !plan.UseWebSearch {
		if opts.AllowSkip {
			return skippedResult(plan.Reason)
		}
		// Skip is disallowed, so search anyway with deterministic queries.
		fb, _ := (&planner.FallbackPlanner{QueryCount: opts.QueryCount}).Plan(ctx, planner.Request{Prompt: prompt})
		plan = fb
	}
	if len(plan.Queries) == 0 {
		return skippedResult("no queries to run")
	}

	r := &run{
		pipe: p,
		opts: opts,
		provider: &serp.CachingProvider{
			Inner:  p.Serp,
			Bucket: &cache.Bucket{Store: p.Cache, Name: cache.BucketSERP, TTL: serpCacheTTL},
		},
		ranker: &rank.Ranker{Embedder: p.Embedder, Options: rank.Options{
			KeywordWeight:  opts.KeywordWeight,
			KindBoost:      opts.KindBoost,
			EmbedPrefilter: opts.EmbedPrefilter,
			Model:          opts.EmbedModel,
		}},
	}
	r.fetcher = &fetch.Fetcher{
		HTTPClient: p.HTTPClient,
		Timeout:    opts.PageTimeout,
		MaxBytes:   opts.PageMaxBytes,
		RetryPause: opts.RetryPause,
		Headless:   p.Headless,
		Reader:     p.Reader,
		Unlocker:   p.Unlocker,
		Cache:      &cache.Bucket{Store: p.Cache, Name: cache.BucketPage, TTL: pageCacheTTL},
	}

	queries := plan.Queries
	initial := r.pass(ctx, prompt, queries, queries)

	out := initial
	allQueries := queries
	if opts.RetryOnGateFailure && !initial.gate.EnoughEvidence && !initial.gateErr {
		if extra := newQueries(initial.gate.SuggestedQueries, allQueries, retryQueryCap); len(extra) > 0 {
			allQueries = append(allQueries, extra...)
			retry := r.pass(ctx, prompt, extra, allQueries)
			// Adopt the retry pass only when it reached sufficiency or at
			// least matched the initial pass's yield.
			if retry.gate.EnoughEvidence || len(retry.selected) >= len(initial.selected) {
				out = retry
			}
		}
	}

	serpCalls := r.provider.RemoteCalls()
	unlocker := r.fetcher.UnlockerCalls()
	return Result{
		Queries:  allQueries,
		Results:  out.merged,
		Chunks:   out.selected,
		Sources:  sourcesOf(out.selected),
		Gate:     out.gate,
		Expanded: out.expanded,
		Cost: Cost{
			SerpRequests:  serpCalls,
			UnlockerCalls: unlocker,
			EstimatedUSD:  float64(serpCalls)*opts.SerpCostUSD + float64(unlocker)*opts.UnlockerCostUSD,
		},
	}
}

// plan runs the configured planner and falls back to deterministic queries on
// any failure. Planning never aborts the run.
func (p *Pipeline) plan(ctx context.Context, prompt string, opts Options) planner.Plan {
	req := planner.Request{
		Prompt:         prompt,
		RecentMessages: opts.RecentMessages,
		CurrentDate:    opts.CurrentDate,
		LocationHint:   opts.LocationHint,
	}
	if p.Planner != nil {
		plan, err := p.Planner.Plan(ctx, req)
		if err == nil {
			return plan
		}
		log.Warn().Err(err).Msg("planner failed; using fallback queries")
	}
	plan, _ := (&planner.FallbackPlanner{QueryCount: opts.QueryCount}).Plan(ctx, req)
	return plan
}

// run is the per-invocation state shared across passes.
type run struct {
	pipe     *Pipeline
	opts     Options
	provider *serp.CachingProvider
	fetcher  *fetch.Fetcher
	ranker   *rank.Ranker

	progressMu sync.Mutex
	searched   int
}

// passOutput is everything one search-fetch-rank-judge pass produced.
type passOutput struct {
	merged   []serp.Result
	selected []chunk.Chunk
	gate     judge.Decision
	gateErr  bool
	expanded bool
}

// pass runs queries through search, fetch, quality filtering, chunking,
// ranking, selection, and the evidence gate. When the gate reports
// insufficient evidence it fetches at most one additional candidate beyond
// the normal limit and re-runs ranking, selection, and the gate once.
func (r *run) pass(ctx context.Context, prompt string, queries, allQueries []string) passOutput {
	opts := r.opts
	merged := serp.FetchAll(ctx, r.provider, queries, opts.SerpDepth, opts.Locale)

	limit := opts.FetchCandidateLimit
	if limit > len(merged) {
		limit = len(merged)
	}
	urls := make([]string, 0, limit)
	for _, res := range merged[:limit] {
		urls = append(urls, res.URL)
	}

	pages := fetch.FetchAll(ctx, r.fetcher, urls, r.step)
	kept := fetch.FilterQuality(pages, opts.MinTextChars, opts.MinContentRatio, opts.PageLimit)
	pool := r.chunkPages(kept)

	out := passOutput{merged: merged}
	out.selected, out.gate, out.gateErr = r.rankSelectJudge(ctx, prompt, allQueries, pool)

	// Expansion: one extra page from the merged list, then one re-judge.
	if !out.gate.EnoughEvidence && !out.gateErr && len(merged) > limit {
		extra := r.fetcher.Fetch(ctx, merged[limit].URL)
		r.step(0)
		if extra.Usable() {
			pool = append(pool, r.chunkPages([]fetch.PageResult{extra})...)
		}
		out.expanded = true
		out.selected, out.gate, out.gateErr = r.rankSelectJudge(ctx, prompt, allQueries, pool)
	}
	return out
}

func (r *run) rankSelectJudge(ctx context.Context, prompt string, queries []string, pool []chunk.Chunk) ([]chunk.Chunk, judge.Decision, bool) {
	ranked := r.ranker.Rank(ctx, queries, pool)
	selected := selecter.Select(ranked, selecter.Options{
		TopK:       r.opts.TopK,
		PerDomain:  r.opts.MaxChunksPerDomain,
		PerURL:     r.opts.MaxChunksPerURL,
		MinNonText: r.opts.MinNonTextChunks,
	})

	if r.pipe.Judge == nil {
		// No gate configured: whatever was selected is the answer.
		return selected, judge.Decision{EnoughEvidence: len(selected) > 0}, false
	}
	excerpts := make([]judge.Excerpt, 0, len(selected))
	for _, c := range selected {
		excerpts = append(excerpts, judge.Excerpt{Text: c.Text, Title: c.Title, URL: c.URL})
	}
	gate, err := r.pipe.Judge.Judge(ctx, prompt, queries, excerpts)
	if err != nil {
		log.Warn().Err(err).Msg("evidence gate failed; treating as insufficient")
		return selected, judge.Decision{}, true
	}
	return selected, gate, false
}

func (r *run) chunkPages(pages []fetch.PageResult) []chunk.Chunk {
	var pool []chunk.Chunk
	for _, p := range pages {
		pool = append(pool, chunk.FromPage(chunk.PageContent{
			URL:    p.URL,
			Title:  p.Title,
			Text:   p.Text,
			Tables: p.TableBlocks,
			Lists:  p.ListBlocks,
		}, r.opts.ChunkSize, r.opts.ChunkOverlap)...)
	}
	return pool
}

// step counts one completed page fetch. The per-batch count from
// fetch.FetchAll is ignored; the run-wide counter keeps the observed sequence
// non-decreasing across passes and expansion fetches.
func (r *run) step(int) {
	if r.opts.OnProgress == nil {
		return
	}
	r.progressMu.Lock()
	r.searched++
	n := r.searched
	r.progressMu.Unlock()
	r.opts.OnProgress(Progress{Searched: n})
}

// newQueries returns up to max entries of suggested that are not already in
// used, compared case-insensitively.
func newQueries(suggested, used []string, max int) []string {
	seen := map[string]struct{}{}
	for _, q := range used {
		seen[strings.ToLower(strings.TrimSpace(q))] = struct{}{}
	}
	var out []string
	for _, q := range suggested {
		key := strings.ToLower(strings.TrimSpace(q))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
		if len(out) >= max {
			break
		}
	}
	return out
}
