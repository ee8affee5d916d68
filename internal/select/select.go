package selecter

import (
	"sort"
	"strings"

	"github.com/groundlab/webgrounder/internal/chunk"
)

// Options configures selection constraints.
type Options struct {
	TopK      int
	PerDomain int
	PerURL    int
	// MinNonText is the floor of table/list chunks enforced after the main
	// walk by swapping out the lowest-scoring text chunks.
	MinNonText int
	// SignatureChars is the near-duplicate signature length. Default 600.
	SignatureChars int
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = 12
	}
	if o.PerDomain <= 0 {
		o.PerDomain = 3
	}
	if o.PerURL <= 0 {
		o.PerURL = 2
	}
	if o.SignatureChars <= 0 {
		o.SignatureChars = 600
	}
	return o
}

// Select walks the chunks in descending score order, accepting each only if
// its domain and URL are under their caps and it is not a near-duplicate of
// anything already accepted, stopping at TopK. Afterwards it enforces the
// table/list floor by swapping the highest-scoring unselected non-text chunks
// in for the lowest-scoring selected text chunks.
func Select(chunks []chunk.Chunk, opt Options) []chunk.Chunk {
	opt = opt.withDefaults()

	sorted := make([]chunk.Chunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	st := newState(opt)
	selectedSet := map[int]bool{}
	for i, c := range sorted {
		if len(st.picked) >= opt.TopK {
			break
		}
		if st.admit(c) {
			selectedSet[i] = true
		}
	}

	enforceNonTextFloor(st, sorted, selectedSet, opt)

	out := st.picked
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

type state struct {
	opt     Options
	picked  []chunk.Chunk
	domains map[string]int
	urls    map[string]int
	sigs    map[string]struct{}
	norms   []string
}

func newState(opt Options) *state {
	return &state{
		opt:     opt,
		domains: map[string]int{},
		urls:    map[string]int{},
		sigs:    map[string]struct{}{},
	}
}

// admit accepts c when caps allow and it is not a near-duplicate.
func (s *state) admit(c chunk.Chunk) bool {
	if strings.TrimSpace(c.Text) == "" {
		return false
	}
	if s.domains[c.Domain] >= s.opt.PerDomain {
		return false
	}
	if s.urls[c.URLKey] >= s.opt.PerURL {
		return false
	}
	norm := normalizeText(c.Text)
	sig := signature(norm, s.opt.SignatureChars)
	if _, dup := s.sigs[sig]; dup {
		return false
	}
	for _, accepted := range s.norms {
		if strings.Contains(accepted, norm) {
			return false
		}
	}
	s.domains[c.Domain]++
	s.urls[c.URLKey]++
	s.sigs[sig] = struct{}{}
	s.norms = append(s.norms, norm)
	s.picked = append(s.picked, c)
	return true
}

// remove drops the chunk at index i from the picked set, releasing its caps
// and dedupe entries.
func (s *state) remove(i int) chunk.Chunk {
	c := s.picked[i]
	s.picked = append(s.picked[:i], s.picked[i+1:]...)
	s.domains[c.Domain]--
	s.urls[c.URLKey]--
	norm := normalizeText(c.Text)
	delete(s.sigs, signature(norm, s.opt.SignatureChars))
	for j, n := range s.norms {
		if n == norm {
			s.norms = append(s.norms[:j], s.norms[j+1:]...)
			break
		}
	}
	return c
}

// enforceNonTextFloor swaps unselected table/list chunks in for the
// lowest-scoring selected text chunks until the floor is met or no more
// swaps are possible. Swapped-in chunks still respect caps and dedupe.
func enforceNonTextFloor(st *state, sorted []chunk.Chunk, selectedSet map[int]bool, opt Options) {
	if opt.MinNonText <= 0 {
		return
	}
	for countNonText(st.picked) < opt.MinNonText {
		lowestText := -1
		for i := len(st.picked) - 1; i >= 0; i-- {
			if st.picked[i].Kind == chunk.KindText {
				lowestText = i
				break
			}
		}
		if lowestText < 0 {
			return
		}
		removed := st.remove(lowestText)
		swapped := false
		for i, c := range sorted {
			if selectedSet[i] || c.Kind == chunk.KindText {
				continue
			}
			if st.admit(c) {
				selectedSet[i] = true
				swapped = true
				break
			}
		}
		if !swapped {
			// No admissible replacement: restore the text chunk and stop.
			st.admit(removed)
			return
		}
	}
}

func countNonText(chunks []chunk.Chunk) int {
	n := 0
	for _, c := range chunks {
		if c.Kind != chunk.KindText {
			n++
		}
	}
	return n
}

// normalizeText lowercases and collapses whitespace so trivially reflowed
// copies of the same passage compare equal.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func signature(norm string, n int) string {
	if len(norm) <= n {
		return norm
	}
	return norm[:n]
}
