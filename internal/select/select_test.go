package selecter

import (
	"fmt"
	"strings"
	"testing"

	"github.com/groundlab/webgrounder/internal/chunk"
)

func mkChunk(domain, url, text string, score float64, kind chunk.Kind) chunk.Chunk {
	return chunk.Chunk{Text: text, URL: url, Domain: domain, Score: score, Kind: kind, URLKey: url}
}

func TestSelect_PerDomainAndPerURLCaps(t *testing.T) {
	var in []chunk.Chunk
	for i := 0; i < 6; i++ {
		in = append(in, mkChunk("a.com", fmt.Sprintf("https://a.com/%d", i%2),
			fmt.Sprintf("distinct passage number %d about topic %d", i, i), float64(10-i), chunk.KindText))
	}
	out := Select(in, Options{TopK: 10, PerDomain: 3, PerURL: 2})
	if len(out) > 3 {
		t.Fatalf("per-domain cap exceeded: %d chunks from a.com", len(out))
	}
	urlCounts := map[string]int{}
	for _, c := range out {
		urlCounts[c.URLKey]++
		if urlCounts[c.URLKey] > 2 {
			t.Fatalf("per-url cap exceeded for %s", c.URLKey)
		}
	}
}

func TestSelect_TopKBound(t *testing.T) {
	var in []chunk.Chunk
	for i := 0; i < 30; i++ {
		in = append(in, mkChunk(fmt.Sprintf("d%d.com", i), fmt.Sprintf("https://d%d.com/p", i),
			fmt.Sprintf("unique content block %d with its own words", i), float64(i), chunk.KindText))
	}
	out := Select(in, Options{TopK: 12, PerDomain: 3, PerURL: 2})
	if len(out) != 12 {
		t.Fatalf("expected exactly topK=12, got %d", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].Score > out[i-1].Score {
			t.Fatalf("selection not in descending score order")
		}
	}
}

func TestSelect_NearDuplicateSignatureSuppressed(t *testing.T) {
	text := strings.Repeat("the widget costs forty dollars today ", 30)
	in := []chunk.Chunk{
		mkChunk("a.com", "https://a.com/1", text, 2, chunk.KindText),
		mkChunk("b.com", "https://b.com/1", strings.ToUpper(text)+" trailing difference beyond the signature window", 1, chunk.KindText),
	}
	out := Select(in, Options{TopK: 10, PerDomain: 5, PerURL: 5, SignatureChars: 600})
	if len(out) != 1 {
		t.Fatalf("expected signature duplicate suppressed, got %d chunks", len(out))
	}
}

func TestSelect_ContainmentSuppressed(t *testing.T) {
	full := "alpha beta gamma delta epsilon zeta eta theta"
	in := []chunk.Chunk{
		mkChunk("a.com", "https://a.com/1", full, 2, chunk.KindText),
		mkChunk("b.com", "https://b.com/1", "Gamma Delta Epsilon", 1, chunk.KindText),
	}
	out := Select(in, Options{TopK: 10, PerDomain: 5, PerURL: 5})
	if len(out) != 1 {
		t.Fatalf("expected contained chunk suppressed, got %d", len(out))
	}
}

func TestSelect_NonTextFloorSwap(t *testing.T) {
	var in []chunk.Chunk
	for i := 0; i < 5; i++ {
		in = append(in, mkChunk(fmt.Sprintf("t%d.com", i), fmt.Sprintf("https://t%d.com/p", i),
			fmt.Sprintf("text passage %d entirely unlike the others %d", i, i*7), float64(10-i), chunk.KindText))
	}
	in = append(in,
		mkChunk("tab1.com", "https://tab1.com/p", "Table:\nModel | Price\nWidget X | $40", 1, chunk.KindTable),
		mkChunk("tab2.com", "https://tab2.com/p", "List:\n- alpha\n- beta", 0.5, chunk.KindList),
	)
	out := Select(in, Options{TopK: 5, PerDomain: 3, PerURL: 2, MinNonText: 2})
	if len(out) != 5 {
		t.Fatalf("expected 5 selected, got %d", len(out))
	}
	nonText := 0
	for _, c := range out {
		if c.Kind != chunk.KindText {
			nonText++
		}
	}
	if nonText < 2 {
		t.Fatalf("non-text floor not met: %d", nonText)
	}
}

func TestSelect_FloorIsBestEffortWhenNoCandidates(t *testing.T) {
	in := []chunk.Chunk{
		mkChunk("a.com", "https://a.com/1", "only text chunk around", 1, chunk.KindText),
	}
	out := Select(in, Options{TopK: 5, MinNonText: 2})
	if len(out) != 1 || out[0].Kind != chunk.KindText {
		t.Fatalf("expected lone text chunk kept, got %+v", out)
	}
}

func TestSelect_EmptyTextNeverSelected(t *testing.T) {
	in := []chunk.Chunk{mkChunk("a.com", "https://a.com/1", "   ", 5, chunk.KindText)}
	if out := Select(in, Options{}); len(out) != 0 {
		t.Fatalf("expected empty-text chunk rejected")
	}
}
