// Package searchcache memoizes complete search responses in a key-value store
// under entity-version-token keys. Invalidation bumps the per-(tenant, entity)
// token instead of enumerating cached query variants: previously computed keys
// become unreachable and age out via TTL.
package searchcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/atriumhq/omnisearch/internal/db"
	"github.com/atriumhq/omnisearch/internal/domain"
	"github.com/atriumhq/omnisearch/internal/domain/search/query"
	"github.com/atriumhq/omnisearch/internal/domain/search/result"
)

const (
	resultKeyPrefix  = "search_result:"
	versionKeyPrefix = "search_version:"
)

// DefaultTTL is the fixed lifetime of a cached search response.
const DefaultTTL = 5 * time.Minute

// opTimeout bounds each backend round trip independently of the caller's
// deadline. A slow cache must cost a miss, not the fan-out budget.
const opTimeout = 100 * time.Millisecond

// store is the consumer interface for the search cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Payload is the serialized form of a search response stored in the cache.
type Payload struct {
	Results        []result.Result `json:"results"`
	TotalResults   int             `json:"totalResults"`
	ResponseTimeMs int64           `json:"responseTimeMs"`
	CachedAt       time.Time       `json:"cachedAt"`
}

// Cache memoizes search responses keyed by (tenant, normalized query, entity
// set, filters, version tokens) and optionally the principal.
type Cache struct {
	store        store
	ttl          time.Duration
	perPrincipal bool
	cacheTotal   *prometheus.CounterVec
	logger       *zap.Logger

	// Set after the first backend failure; stops hit/miss tracking for the
	// rest of the service lifetime so a dead backend does not spam metrics.
	degraded atomic.Bool
}

// New creates a search cache.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(s store, ttl time.Duration, perPrincipal bool, cacheTotal *prometheus.CounterVec, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:        s,
		ttl:          ttl,
		perPrincipal: perPrincipal,
		cacheTotal:   cacheTotal,
		logger:       logger,
	}
}

// Get returns the cached payload for the query, or false on a miss. Backend
// errors degrade to a miss, never an error.
func (c *Cache) Get(ctx context.Context, q *query.Query) (Payload, bool) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key, err := c.key(ctx, q)
	if err != nil {
		c.markDegraded("derive cache key", err)
		return Payload{}, false
	}

	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.markDegraded("get cached response", err)
			return Payload{}, false
		}
		c.incCache("miss")
		return Payload{}, false
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		c.logger.Warn("Failed to decode cached response", zap.String("key", key), zap.Error(err))
		c.incCache("miss")
		return Payload{}, false
	}

	c.incCache("hit")
	return p, true
}

// Put stores the payload under the query's derived key with the fixed TTL.
// Failures are logged, never surfaced.
func (c *Cache) Put(ctx context.Context, q *query.Query, p Payload) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key, err := c.key(ctx, q)
	if err != nil {
		c.markDegraded("derive cache key", err)
		return
	}

	p.CachedAt = time.Now().UTC()
	data, err := json.Marshal(p)
	if err != nil {
		c.logger.Warn("Failed to encode response for cache", zap.String("key", key), zap.Error(err))
		return
	}

	if err := c.store.SetWithTTL(ctx, key, data, c.ttl); err != nil {
		c.markDegraded("store cached response", err)
	}
}

// Invalidate replaces the version token for each named entity type with a
// fresh random value. Existing cache rows are not touched; their keys simply
// become unreachable and expire via TTL.
func (c *Cache) Invalidate(ctx context.Context, tenantID string, entities []domain.Entity) error {
	if len(entities) == 0 {
		entities = domain.AllEntities()
	}
	for _, e := range entities {
		key := versionKey(tenantID, e)
		if err := c.store.Set(ctx, key, []byte(uuid.NewString())); err != nil {
			return fmt.Errorf("bump version token %s: %w", key, err)
		}
	}
	return nil
}

// key derives the cache key:
// search_result:{tenant}:{sha256(...)[:16]}[:{principal}].
func (c *Cache) key(ctx context.Context, q *query.Query) (string, error) {
	tokens := make([]string, 0, len(q.Entities()))
	for _, e := range q.Entities() {
		token, err := c.versionToken(ctx, q.TenantID(), e)
		if err != nil {
			return "", err
		}
		tokens = append(tokens, token)
	}

	entities := make([]string, 0, len(q.Entities()))
	for _, e := range q.Entities() {
		entities = append(entities, e.String())
	}

	// json.Marshal sorts map keys, so the filter encoding is canonical.
	filtersJSON, err := json.Marshal(q.Filters())
	if err != nil {
		return "", fmt.Errorf("encode filters: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(q.Normalized()))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(entities, ",")))
	h.Write([]byte{0})
	h.Write(filtersJSON)
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(tokens, ",")))
	digest := hex.EncodeToString(h.Sum(nil))[:16]

	key := resultKeyPrefix + q.TenantID() + ":" + digest
	if c.perPrincipal {
		key += ":" + q.Principal().ID
	}
	return key, nil
}

// versionToken reads the per-(tenant, entity) token, lazily initializing a
// missing one to a fresh random value so a tenant's first query is never
// treated as already cached.
func (c *Cache) versionToken(ctx context.Context, tenantID string, e domain.Entity) (string, error) {
	key := versionKey(tenantID, e)
	data, err := c.store.Get(ctx, key)
	if err == nil {
		return string(data), nil
	}
	if !errors.Is(err, db.ErrKeyNotFound) {
		return "", fmt.Errorf("read version token %s: %w", key, err)
	}

	token := uuid.NewString()
	if err := c.store.Set(ctx, key, []byte(token)); err != nil {
		return "", fmt.Errorf("init version token %s: %w", key, err)
	}
	return token, nil
}

func versionKey(tenantID string, e domain.Entity) string {
	return versionKeyPrefix + tenantID + ":" + e.String()
}

func (c *Cache) incCache(outcome string) {
	if c.degraded.Load() || c.cacheTotal == nil {
		return
	}
	c.cacheTotal.WithLabelValues(outcome).Inc()
}

func (c *Cache) markDegraded(op string, err error) {
	if c.degraded.CompareAndSwap(false, true) {
		c.logger.Warn("Cache backend failure, disabling cache analytics",
			zap.String("op", op), zap.Error(err))
		return
	}
	c.logger.Debug("Cache backend failure", zap.String("op", op), zap.Error(err))
}
