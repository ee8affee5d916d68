package pipeline

import (
	"time"

	"github.com/groundlab/webgrounder/internal/serp"
)

// Options covers every knob of one pipeline invocation. Zero values take the
// defaults below; entities built from Options are request-scoped.
type Options struct {
	// Planning
	QueryCount int // max planner queries, default 3

	// SERP
	SerpDepth int // organic results requested per query, default 10
	Locale    serp.Locale

	// Fetching
	FetchCandidateLimit int           // merged results fetched, default 10
	PageTimeout         time.Duration // per-fetch timeout, default 15s
	PageMaxBytes        int64         // per-page byte cap, default 2 MiB
	RetryPause          time.Duration // pause before the alternate-UA retry, default 500ms

	// Quality filter
	PageLimit       int     // pages kept for chunking, default 7
	MinTextChars    int     // minimum extracted text length, default 400
	MinContentRatio float64 // minimum text/HTML ratio, default 0.05

	// Chunking
	ChunkSize    int // token budget per chunk, default 320
	ChunkOverlap int // overlap tail tokens, default 40

	// Ranking. The constants replicate observed behavior; they are exposed
	// rather than re-derived.
	KeywordWeight  float64 // default 0.15
	KindBoost      float64 // default 0.2
	EmbedPrefilter int     // default 80
	EmbedModel     string

	// Selection
	TopK               int // default 12
	MaxChunksPerDomain int // default 3
	MaxChunksPerURL    int // default 2
	MinNonTextChunks   int // table/list floor, default 2

	// Gate loop behavior
	RetryOnGateFailure bool
	AllowSkip          bool

	// Context hints forwarded to the planner
	CurrentDate    string
	LocationHint   string
	RecentMessages []string

	// OnProgress, when set, observes a monotonically non-decreasing count of
	// pages fetched across the whole run.
	OnProgress func(Progress)

	// Fixed per-call cost rates used for the USD estimate.
	SerpCostUSD     float64 // default 0.003
	UnlockerCostUSD float64 // default 0.0015
}

// Progress is one page-fetch progress event.
type Progress struct {
	Searched int `json:"searched"`
}

func (o Options) withDefaults() Options {
	if o.QueryCount <= 0 {
		o.QueryCount = 3
	}
	if o.SerpDepth <= 0 {
		o.SerpDepth = 10
	}
	if o.FetchCandidateLimit <= 0 {
		o.FetchCandidateLimit = 10
	}
	if o.PageTimeout <= 0 {
		o.PageTimeout = 15 * time.Second
	}
	if o.PageMaxBytes <= 0 {
		o.PageMaxBytes = 2 << 20
	}
	if o.RetryPause <= 0 {
		o.RetryPause = 500 * time.Millisecond
	}
	if o.PageLimit <= 0 {
		o.PageLimit = 7
	}
	if o.MinTextChars <= 0 {
		o.MinTextChars = 400
	}
	if o.MinContentRatio <= 0 {
		o.MinContentRatio = 0.05
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 320
	}
	if o.ChunkOverlap < 0 {
		o.ChunkOverlap = 0
	} else if o.ChunkOverlap == 0 {
		o.ChunkOverlap = 40
	}
	if o.KeywordWeight == 0 {
		o.KeywordWeight = 0.15
	}
	if o.KindBoost == 0 {
		o.KindBoost = 0.2
	}
	if o.EmbedPrefilter <= 0 {
		o.EmbedPrefilter = 80
	}
	if o.TopK <= 0 {
		o.TopK = 12
	}
	if o.MaxChunksPerDomain <= 0 {
		o.MaxChunksPerDomain = 3
	}
	if o.MaxChunksPerURL <= 0 {
		o.MaxChunksPerURL = 2
	}
	if o.MinNonTextChunks < 0 {
		o.MinNonTextChunks = 0
	} else if o.MinNonTextChunks == 0 {
		o.MinNonTextChunks = 2
	}
	if o.SerpCostUSD == 0 {
		o.SerpCostUSD = 0.003
	}
	if o.UnlockerCostUSD == 0 {
		o.UnlockerCostUSD = 0.0015
	}
	return o
}
