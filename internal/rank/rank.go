package rank

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/groundlab/webgrounder/internal/chunk"
	"github.com/groundlab/webgrounder/internal/llm"
)

// Options configures scoring. The constants replicate observed behavior and
// are exposed as knobs rather than re-derived.
type Options struct {
	// KeywordWeight scales the keyword-overlap term when combined with the
	// semantic term. Default 0.15.
	KeywordWeight float64
	// KindBoost is added for table/list chunks. Default 0.2.
	KindBoost float64
	// EmbedPrefilter caps how many chunks are sent to the embedding service;
	// when the pool is larger, only the top-N by keyword score are embedded.
	// Default 80.
	EmbedPrefilter int
	// EmbedBatchSize caps strings per embedding request. Default and max 96.
	EmbedBatchSize int
	// EmbedTruncateChars truncates each embedded string. Default 6000.
	EmbedTruncateChars int
	// Model names the embedding model.
	Model string
}

func (o Options) withDefaults() Options {
	if o.KeywordWeight == 0 {
		o.KeywordWeight = 0.15
	}
	if o.KindBoost == 0 {
		o.KindBoost = 0.2
	}
	if o.EmbedPrefilter <= 0 {
		o.EmbedPrefilter = 80
	}
	if o.EmbedBatchSize <= 0 || o.EmbedBatchSize > 96 {
		o.EmbedBatchSize = 96
	}
	if o.EmbedTruncateChars <= 0 {
		o.EmbedTruncateChars = 6000
	}
	return o
}

// Ranker scores chunks by relevance to the planner queries. A nil Embedder,
// or any embedding failure, degrades scoring to keyword-overlap plus kind
// boost; ranking never fails outright.
type Ranker struct {
	Embedder llm.Embedder
	Options  Options
}

// Rank returns the chunks with Score assigned. Order of the returned slice is
// the input order; callers sort during selection.
func (r *Ranker) Rank(ctx context.Context, queries []string, chunks []chunk.Chunk) []chunk.Chunk {
	opts := r.Options.withDefaults()
	terms := queryTerms(queries)

	keyword := make([]float64, len(chunks))
	for i, c := range chunks {
		keyword[i] = overlapScore(terms, c.Text)
	}
	boost := func(c chunk.Chunk) float64 {
		if c.Kind != chunk.KindText {
			return opts.KindBoost
		}
		return 0
	}

	out := make([]chunk.Chunk, len(chunks))
	copy(out, chunks)

	assignFallback := func() {
		for i := range out {
			out[i].Score = keyword[i] + boost(out[i])
		}
	}
	if r.Embedder == nil || len(out) == 0 || len(queries) == 0 {
		assignFallback()
		return out
	}

	// Bound embedding cost: only the strongest keyword candidates get the
	// semantic term; the rest keep keyword-only scores.
	embedIdx := make([]int, len(out))
	for i := range embedIdx {
		embedIdx[i] = i
	}
	if len(embedIdx) > opts.EmbedPrefilter {
		sort.SliceStable(embedIdx, func(a, b int) bool {
			return keyword[embedIdx[a]]+boost(out[embedIdx[a]]) > keyword[embedIdx[b]]+boost(out[embedIdx[b]])
		})
		embedIdx = embedIdx[:opts.EmbedPrefilter]
		sort.Ints(embedIdx)
	}

	inputs := make([]string, 0, len(queries)+len(embedIdx))
	for _, q := range queries {
		inputs = append(inputs, truncate(q, opts.EmbedTruncateChars))
	}
	for _, i := range embedIdx {
		inputs = append(inputs, truncate(out[i].Text, opts.EmbedTruncateChars))
	}

	vectors, err := r.embedAll(ctx, inputs, opts)
	if err != nil {
		log.Warn().Err(err).Msg("embedding unavailable; falling back to keyword ranking")
		assignFallback()
		return out
	}
	queryVecs := vectors[:len(queries)]
	chunkVecs := vectors[len(queries):]

	assignFallback()
	for n, i := range embedIdx {
		best := 0.0
		for _, qv := range queryVecs {
			if sim := cosine(qv, chunkVecs[n]); sim > best {
				best = sim
			}
		}
		out[i].Score = best + opts.KeywordWeight*keyword[i] + boost(out[i])
	}
	return out
}

func (r *Ranker) embedAll(ctx context.Context, inputs []string, opts Options) ([][]float32, error) {
	vectors := make([][]float32, 0, len(inputs))
	for start := 0; start < len(inputs); start += opts.EmbedBatchSize {
		end := start + opts.EmbedBatchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		resp, err := r.Embedder.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: inputs[start:end],
			Model: openai.EmbeddingModel(opts.Model),
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("embedding response length %d != batch %d", len(resp.Data), end-start)
		}
		// Responses are index-aligned to the input batch.
		for _, d := range resp.Data {
			vectors = append(vectors, d.Embedding)
		}
	}
	return vectors, nil
}

// queryTerms collects the unique lowercased query tokens of at least 4
// characters across all queries.
func queryTerms(queries []string) []string {
	seen := map[string]struct{}{}
	var terms []string
	for _, q := range queries {
		for _, tok := range strings.Fields(strings.ToLower(q)) {
			tok = strings.Trim(tok, `.,;:!?"'()[]`)
			if len(tok) < 4 {
				continue
			}
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			terms = append(terms, tok)
		}
	}
	return terms
}

// overlapScore is the fraction of query terms present in the chunk text,
// case-insensitive.
func overlapScore(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
