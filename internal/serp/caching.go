package serp

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/groundlab/webgrounder/internal/cache"
)

// CachingProvider wraps a Provider with a short-TTL result cache keyed by
// normalized query+locale. Cache failures on either side degrade to remote
// calls / dropped writes. RemoteCalls counts actual provider requests so the
// orchestrator can account cost.
type CachingProvider struct {
	Inner  Provider
	Bucket *cache.Bucket

	remoteCalls atomic.Int64
}

func (p *CachingProvider) Name() string { return p.Inner.Name() }

// RemoteCalls reports how many searches went to the remote provider rather
// than being served from cache.
func (p *CachingProvider) RemoteCalls() int64 { return p.remoteCalls.Load() }

func (p *CachingProvider) Search(ctx context.Context, query string, depth int, loc Locale) ([]Result, error) {
	key := QueryKey(query, loc)
	if payload, ok := p.Bucket.Get(ctx, key); ok {
		var cached []Result
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
		// Corrupt entry: fall through to a fresh fetch which overwrites it.
	}
	p.remoteCalls.Add(1)
	results, err := p.Inner.Search(ctx, query, depth, loc)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(results); err == nil {
		p.Bucket.Put(ctx, key, payload)
	}
	return results, nil
}

// FetchAll runs every query concurrently against the provider and merges the
// per-query lists by normalized URL, lowest position winning. A failed query
// is logged and contributes nothing; it never aborts the batch.
func FetchAll(ctx context.Context, p Provider, queries []string, depth int, loc Locale) []Result {
	groups := make([][]Result, len(queries))
	var g errgroup.Group
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			results, err := p.Search(ctx, q, depth, loc)
			if err != nil {
				log.Warn().Err(err).Str("query", q).Msg("serp query failed; continuing")
				return nil
			}
			groups[i] = results
			return nil
		})
	}
	_ = g.Wait()
	return Merge(groups)
}
