package chunk

import (
	"math"
	"regexp"
	"strings"

	"github.com/groundlab/webgrounder/internal/serp"
)

// Kind tags where a chunk's text came from.
type Kind string

const (
	KindText  Kind = "text"
	KindTable Kind = "table"
	KindList  Kind = "list"
)

// Chunk is the atomic unit of evidence: a bounded span of extracted text
// attached to one source URL. Score is assigned later by the ranker; it is a
// derived annotation, everything else is immutable after creation.
type Chunk struct {
	Text   string
	URL    string
	Title  string
	Domain string
	Score  float64
	Kind   Kind
	URLKey string
}

// EstimateTokens approximates the token count of s using a word/character
// heuristic (~4 chars per token, never fewer tokens than words). It is
// intentionally not an exact tokenizer: chunk sizing only needs a stable
// upper-bound estimate.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	est := int(math.Ceil(float64(len(s)) / 4.0))
	if w := len(strings.Fields(s)); w > est {
		est = w
	}
	return est
}

var blankLine = regexp.MustCompile(`\n[ \t]*\n+`)

// Split breaks text into chunks of at most size estimated tokens, accumulating
// blank-line-separated paragraphs and seeding each new chunk with a
// word-aligned overlap tail of the previous one. Paragraphs longer than the
// per-piece budget are pre-split by token count so no emitted chunk can
// exceed size.
func Split(text string, size, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if size <= 0 {
		size = 320
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap*2 >= size {
		overlap = size / 4
	}
	// Reserve room for the overlap seed and the paragraph separator so a
	// seeded chunk still fits under size.
	limit := size
	if overlap > 0 {
		limit = size - overlap - 1
	}

	var pieces []string
	for _, p := range blankLine.Split(text, -1) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		pieces = append(pieces, splitLongParagraph(p, limit)...)
	}

	var chunks []string
	cur := ""
	for _, p := range pieces {
		if cur == "" {
			cur = p
			continue
		}
		candidate := cur + "\n\n" + p
		if EstimateTokens(candidate) > size {
			chunks = append(chunks, cur)
			if tail := overlapTail(cur, overlap); tail != "" {
				cur = tail + "\n\n" + p
			} else {
				cur = p
			}
			continue
		}
		cur = candidate
	}
	if strings.TrimSpace(cur) != "" {
		chunks = append(chunks, cur)
	}
	return chunks
}

// splitLongParagraph cuts a paragraph into word-aligned pieces of at most
// limit estimated tokens. A single word over the limit (base64 blob, data
// URI, minified text) is cut by character count so the bound holds even
// without whitespace.
func splitLongParagraph(p string, limit int) []string {
	if EstimateTokens(p) <= limit {
		return []string{p}
	}
	maxChars := limit * 4
	words := strings.Fields(p)
	var out []string
	cur := ""
	flush := func() {
		if cur != "" {
			out = append(out, cur)
			cur = ""
		}
	}
	for _, w := range words {
		if EstimateTokens(w) > limit {
			flush()
			for len(w) > maxChars {
				out = append(out, w[:maxChars])
				w = w[maxChars:]
			}
			cur = w
			continue
		}
		if cur == "" {
			cur = w
			continue
		}
		candidate := cur + " " + w
		if EstimateTokens(candidate) > limit {
			out = append(out, cur)
			cur = w
			continue
		}
		cur = candidate
	}
	flush()
	return out
}

// overlapTail returns the longest word-aligned suffix of s whose estimated
// token count stays at or under n. Returns "" when n <= 0.
func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	words := strings.Fields(s)
	i := len(words)
	for i > 0 {
		if EstimateTokens(strings.Join(words[i-1:], " ")) > n {
			break
		}
		i--
	}
	return strings.Join(words[i:], " ")
}

// PageContent is one fetched page's extracted content ready for chunking.
type PageContent struct {
	URL    string
	Title  string
	Text   string
	Tables []string
	Lists  []string
}

// FromPage chunks a page's prose and its table/list blocks. Table and list
// blocks carry a Table:/List: prefix so downstream consumers know their
// origin, and the prefix is applied before chunking so it counts against the
// token budget.
func FromPage(p PageContent, size, overlap int) []Chunk {
	urlKey := serp.NormalizeURL(p.URL)
	domain := serp.DomainOf(p.URL)
	mk := func(text string, kind Kind) Chunk {
		return Chunk{Text: text, URL: p.URL, Title: p.Title, Domain: domain, Kind: kind, URLKey: urlKey}
	}

	var out []Chunk
	for _, text := range Split(p.Text, size, overlap) {
		out = append(out, mk(text, KindText))
	}
	for _, block := range p.Tables {
		for _, text := range Split("Table:\n"+block, size, overlap) {
			out = append(out, mk(text, KindTable))
		}
	}
	for _, block := range p.Lists {
		for _, text := range Split("List:\n"+block, size, overlap) {
			out = append(out, mk(text, KindList))
		}
	}
	return out
}
