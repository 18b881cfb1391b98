package domain

import "errors"

var (
	// ErrInvalidQuery signals a malformed search query (empty text, bad limit).
	ErrInvalidQuery = errors.New("invalid query")
	// ErrUnknownEntity signals an entity type outside the registered set.
	ErrUnknownEntity = errors.New("unknown entity type")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrAggregationFailed signals a systemic search failure (every source errored).
	ErrAggregationFailed = errors.New("aggregation failed")
	// ErrPermissionDenied signals that the principal may not see a record.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrCacheUnavailable signals an unreachable cache backend.
	ErrCacheUnavailable = errors.New("cache unavailable")
)
