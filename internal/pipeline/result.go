package pipeline

import (
	"github.com/groundlab/webgrounder/internal/chunk"
	"github.com/groundlab/webgrounder/internal/judge"
	"github.com/groundlab/webgrounder/internal/serp"
)

// Source is one citable origin of selected evidence.
type Source struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Cost accumulates billable calls across all passes of one run, converted to
// an estimate via fixed per-call rates.
type Cost struct {
	SerpRequests  int64   `json:"serp_requests"`
	UnlockerCalls int64   `json:"unlocker_calls"`
	EstimatedUSD  float64 `json:"estimated_usd"`
}

// Result is the pipeline's complete, always-well-formed output. Failures
// inside the run surface as Skipped, low chunk counts, or
// Gate.EnoughEvidence=false, never as errors.
type Result struct {
	Queries    []string       `json:"queries"`
	Results    []serp.Result  `json:"results"`
	Chunks     []chunk.Chunk  `json:"chunks"`
	Sources    []Source       `json:"sources"`
	Gate       judge.Decision `json:"gate"`
	Expanded   bool           `json:"expanded"`
	Skipped    bool           `json:"skipped,omitempty"`
	SkipReason string         `json:"skip_reason,omitempty"`
	Cost       Cost           `json:"cost"`
}

// skippedResult is a well-formed empty result; collections are empty, not
// nil, so the JSON encoding reads as arrays.
func skippedResult(reason string) Result {
	return Result{
		Queries:    []string{},
		Results:    []serp.Result{},
		Chunks:     []chunk.Chunk{},
		Sources:    []Source{},
		Skipped:    true,
		SkipReason: reason,
	}
}

// sourcesOf derives the URL-title pairs of the selected chunks, deduplicated
// by URL key in selection order.
func sourcesOf(chunks []chunk.Chunk) []Source {
	seen := map[string]struct{}{}
	out := make([]Source, 0, len(chunks))
	for _, c := range chunks {
		if _, ok := seen[c.URLKey]; ok {
			continue
		}
		seen[c.URLKey] = struct{}{}
		out = append(out, Source{URL: c.URL, Title: c.Title})
	}
	return out
}
