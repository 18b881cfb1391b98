package aggregate

import (
	"context"

	"github.com/atriumhq/omnisearch/internal/analytics"
	"github.com/atriumhq/omnisearch/internal/domain"
	"github.com/atriumhq/omnisearch/internal/domain/search/query"
	"github.com/atriumhq/omnisearch/internal/domain/search/result"
	"github.com/atriumhq/omnisearch/internal/repository/searchcache"
)

// cache is the consumer interface for response memoization (ISP).
type cache interface {
	Get(ctx context.Context, q *query.Query) (searchcache.Payload, bool)
	Put(ctx context.Context, q *query.Query, p searchcache.Payload)
}

// ranker is the consumer interface for result scoring (ISP).
type ranker interface {
	Rank(results []result.Result, queryText string, p domain.Principal)
}

// sink is the consumer interface for search analytics (ISP).
type sink interface {
	Emit(ctx context.Context, rec analytics.Record)
}

// Pool is one query's bounded worker set for the adapter fan-out. A capped
// pool queues overflow submissions until a worker frees; Release reclaims the
// workers once the fan-out has collected or abandoned every source.
type Pool interface {
	Submit(task func()) error
	Release()
}

// PoolFactory creates a Pool running at most size concurrent tasks.
type PoolFactory func(size int) (Pool, error)
