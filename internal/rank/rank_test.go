package rank

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/groundlab/webgrounder/internal/chunk"
)

func TestRank_KeywordOnlyWithoutEmbedder(t *testing.T) {
	chunks := []chunk.Chunk{
		{Text: "The widget price is forty dollars", Kind: chunk.KindText},
		{Text: "Something about gardening", Kind: chunk.KindText},
	}
	r := &Ranker{}
	scored := r.Rank(context.Background(), []string{"widget price"}, chunks)
	if len(scored) != 2 {
		t.Fatalf("expected 2 scored chunks, got %d", len(scored))
	}
	if scored[0].Score <= scored[1].Score {
		t.Fatalf("expected keyword match to outscore non-match: %v vs %v", scored[0].Score, scored[1].Score)
	}
	if scored[1].Score != 0 {
		t.Fatalf("expected zero score for non-match, got %v", scored[1].Score)
	}
}

func TestRank_KindBoostApplied(t *testing.T) {
	chunks := []chunk.Chunk{
		{Text: "widget price data", Kind: chunk.KindText},
		{Text: "widget price data", Kind: chunk.KindTable},
	}
	r := &Ranker{Options: Options{KindBoost: 0.2}}
	scored := r.Rank(context.Background(), []string{"widget price"}, chunks)
	diff := scored[1].Score - scored[0].Score
	if diff < 0.19 || diff > 0.21 {
		t.Fatalf("expected ~0.2 kind boost, got %v", diff)
	}
}

func TestRank_ShortQueryTokensIgnored(t *testing.T) {
	chunks := []chunk.Chunk{{Text: "of it is at", Kind: chunk.KindText}}
	r := &Ranker{}
	scored := r.Rank(context.Background(), []string{"of it is at"}, chunks)
	if scored[0].Score != 0 {
		t.Fatalf("tokens under 4 chars must not score, got %v", scored[0].Score)
	}
}

type fakeEmbedder struct {
	err     error
	calls   int
	batches []int
	// vec maps input text to a fixed vector; unknown inputs get a default.
	vec map[string][]float32
}

func (f *fakeEmbedder) CreateEmbeddings(_ context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	f.calls++
	if f.err != nil {
		return openai.EmbeddingResponse{}, f.err
	}
	er, _ := req.(openai.EmbeddingRequest)
	inputs, _ := er.Input.([]string)
	f.batches = append(f.batches, len(inputs))
	resp := openai.EmbeddingResponse{}
	for i, s := range inputs {
		v, ok := f.vec[s]
		if !ok {
			v = []float32{1, 0}
		}
		resp.Data = append(resp.Data, openai.Embedding{Index: i, Embedding: v})
	}
	return resp, nil
}

func TestRank_SemanticTermDominates(t *testing.T) {
	emb := &fakeEmbedder{vec: map[string][]float32{
		"widget cost": {1, 0},
		"close match": {0.9, 0.1},
		"far match":   {0, 1},
	}}
	chunks := []chunk.Chunk{
		{Text: "far match", Kind: chunk.KindText},
		{Text: "close match", Kind: chunk.KindText},
	}
	r := &Ranker{Embedder: emb}
	scored := r.Rank(context.Background(), []string{"widget cost"}, chunks)
	if scored[1].Score <= scored[0].Score {
		t.Fatalf("expected semantically close chunk to win: %v vs %v", scored[1].Score, scored[0].Score)
	}
}

func TestRank_EmbedderErrorFallsBackToKeyword(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("service down")}
	chunks := []chunk.Chunk{
		{Text: "widget price info", Kind: chunk.KindText},
		{Text: "unrelated", Kind: chunk.KindText},
	}
	r := &Ranker{Embedder: emb}
	scored := r.Rank(context.Background(), []string{"widget price"}, chunks)
	if scored[0].Score <= scored[1].Score {
		t.Fatalf("fallback must still order by keyword overlap")
	}
}

func TestRank_PrefilterBoundsEmbeddingInputs(t *testing.T) {
	emb := &fakeEmbedder{vec: map[string][]float32{}}
	var chunks []chunk.Chunk
	for i := 0; i < 30; i++ {
		chunks = append(chunks, chunk.Chunk{Text: "filler text block", Kind: chunk.KindText})
	}
	r := &Ranker{Embedder: emb, Options: Options{EmbedPrefilter: 10, EmbedBatchSize: 96}}
	r.Rank(context.Background(), []string{"query terms"}, chunks)
	total := 0
	for _, b := range emb.batches {
		total += b
	}
	// 1 query + 10 prefiltered chunks
	if total != 11 {
		t.Fatalf("expected 11 embedded strings, got %d", total)
	}
}

func TestRank_BatchesCappedAt96(t *testing.T) {
	emb := &fakeEmbedder{vec: map[string][]float32{}}
	var chunks []chunk.Chunk
	for i := 0; i < 120; i++ {
		chunks = append(chunks, chunk.Chunk{Text: "filler", Kind: chunk.KindText})
	}
	r := &Ranker{Embedder: emb, Options: Options{EmbedPrefilter: 200}}
	r.Rank(context.Background(), []string{"q"}, chunks)
	for _, b := range emb.batches {
		if b > 96 {
			t.Fatalf("batch exceeds 96: %d", b)
		}
	}
	if emb.calls < 2 {
		t.Fatalf("expected multiple batches, got %d", emb.calls)
	}
}
