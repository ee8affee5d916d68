package fetch

import (
	"sort"
)

// FilterQuality keeps pages whose extracted text clears a minimum length and
// a minimum text-to-HTML ratio, capped at limit. When too few pages pass, it
// backfills from the remaining fetched pages by raw text length, even below
// threshold: the pipeline must always return something to rank when any
// page produced text. Passing pages keep their fetch order; backfilled pages
// follow, longest text first.
func FilterQuality(pages []PageResult, minText int, minRatio float64, limit int) []PageResult {
	if limit <= 0 {
		limit = len(pages)
	}
	var passing, failing []PageResult
	for _, p := range pages {
		if !p.Usable() {
			continue
		}
		if qualityOK(p, minText, minRatio) {
			passing = append(passing, p)
		} else {
			failing = append(failing, p)
		}
	}
	if len(passing) >= limit {
		return passing[:limit]
	}
	sort.SliceStable(failing, func(i, j int) bool { return len(failing[i].Text) > len(failing[j].Text) })
	out := passing
	for _, p := range failing {
		if len(out) >= limit {
			break
		}
		out = append(out, p)
	}
	return out
}

func qualityOK(p PageResult, minText int, minRatio float64) bool {
	if minText > 0 && len(p.Text) < minText {
		return false
	}
	if minRatio > 0 && p.HTMLLen > 0 {
		if float64(len(p.Text))/float64(p.HTMLLen) < minRatio {
			return false
		}
	}
	return true
}
