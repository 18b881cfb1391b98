package db

import (
	"context"
	"time"
)

// Store is the main database facade combining all sub-interfaces.
//
//nolint:interfacebloat // facade by design -- consumers use narrow sub-interfaces (ISP)
type Store interface {
	Pinger
	KVStore
	WindowStore
	StreamStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore provides simple key-value operations.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// WindowEntry is one timestamped member of a sliding window.
type WindowEntry struct {
	Member string
	Score  float64
}

// WindowStore provides sorted-set operations backing sliding rate-limit windows.
type WindowStore interface {
	WindowAdd(ctx context.Context, key, member string, score float64) error
	WindowCount(ctx context.Context, key string) (int64, error)
	WindowPrune(ctx context.Context, key string, maxScore float64) error
	WindowOldest(ctx context.Context, key string) (*WindowEntry, error)
}

// StreamStore provides append-only stream operations for analytics records.
type StreamStore interface {
	StreamAdd(ctx context.Context, stream string, fields map[string]string, maxLen int64) error
}
