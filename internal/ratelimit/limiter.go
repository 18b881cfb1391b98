// Package ratelimit implements sliding-window admission control over a Redis
// sorted set per (tenant, principal-or-IP, endpoint). Each admitted request
// appends its timestamp; entries older than the window are pruned lazily on
// every check. Backend failures fail open: availability beats strict quota
// enforcement during infrastructure outages.
package ratelimit

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/atriumhq/omnisearch/internal/db"
	"github.com/atriumhq/omnisearch/internal/domain"
)

const keyPrefix = "ratelimit:"

// DefaultWindow is the sliding window span.
const DefaultWindow = 5 * time.Minute

// opTimeout bounds the backend round trips for one admission check. A slow
// backend degrades to fail-open rather than stalling the request.
const opTimeout = 100 * time.Millisecond

// windows is the consumer interface for window storage (ISP).
type windows interface {
	WindowAdd(ctx context.Context, key, member string, score float64) error
	WindowCount(ctx context.Context, key string) (int64, error)
	WindowPrune(ctx context.Context, key string, maxScore float64) error
	WindowOldest(ctx context.Context, key string) (*db.WindowEntry, error)
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// Override is a custom per-tenant quota.
type Override struct {
	Limit  int
	Window time.Duration // zero means the global window
}

// Tiers holds per-tier quotas and per-tenant overrides.
type Tiers struct {
	Anonymous       int
	Authenticated   int
	Premium         int
	Window          time.Duration
	TenantOverrides map[string]Override
}

// DefaultTiers returns the documented tier quotas.
func DefaultTiers() Tiers {
	return Tiers{
		Anonymous:     20,
		Authenticated: 100,
		Premium:       500,
		Window:        DefaultWindow,
	}
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter gates requests with a sliding window per key.
type Limiter struct {
	windows    windows
	tiers      Tiers
	rejections *prometheus.CounterVec
	logger     *zap.Logger
	seq        atomic.Int64 // disambiguates members admitted in the same millisecond
}

// New creates a limiter.
// rejections is a counter vec with label "tier", passed explicitly.
func New(w windows, tiers Tiers, rejections *prometheus.CounterVec, logger *zap.Logger) *Limiter {
	if tiers.Window <= 0 {
		tiers.Window = DefaultWindow
	}
	return &Limiter{windows: w, tiers: tiers, rejections: rejections, logger: logger}
}

// Allow checks and, when admitted, records one request for the principal on
// the endpoint. Subject is the principal id or, for anonymous callers, the
// client IP. On rejection the window is left unmodified.
func (l *Limiter) Allow(ctx context.Context, p domain.Principal, subject, endpoint string) Decision {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	limit, window := l.quotaFor(p)
	key := keyPrefix + p.TenantID + ":" + subject + ":" + endpoint
	now := time.Now()

	if err := l.windows.WindowPrune(ctx, key, float64(now.Add(-window).UnixMilli())); err != nil {
		return l.failOpen(limit, window, now, "prune window", err)
	}

	count, err := l.windows.WindowCount(ctx, key)
	if err != nil {
		return l.failOpen(limit, window, now, "count window", err)
	}

	if count >= int64(limit) {
		resetAt := l.resetAt(ctx, key, window, now)
		retryAfter := time.Until(resetAt).Round(time.Second)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		if l.rejections != nil {
			l.rejections.WithLabelValues(string(p.Tier)).Inc()
		}
		return Decision{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt, RetryAfter: retryAfter}
	}

	member := strconv.FormatInt(now.UnixMilli(), 10) + "-" + strconv.FormatInt(l.seq.Add(1), 10)
	if err := l.windows.WindowAdd(ctx, key, member, float64(now.UnixMilli())); err != nil {
		return l.failOpen(limit, window, now, "append window", err)
	}
	// Keep idle windows from lingering: TTL refreshed on every admit.
	if err := l.windows.Expire(ctx, key, window, false); err != nil {
		l.logger.Warn("Failed to set window TTL", zap.String("key", key), zap.Error(err))
	}

	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - int(count) - 1,
		ResetAt:   l.resetAt(ctx, key, window, now),
	}
}

// quotaFor resolves the limit and window for a principal: tenant override
// first, then tier.
func (l *Limiter) quotaFor(p domain.Principal) (int, time.Duration) {
	if o, ok := l.tiers.TenantOverrides[p.TenantID]; ok && o.Limit > 0 {
		window := o.Window
		if window <= 0 {
			window = l.tiers.Window
		}
		return o.Limit, window
	}
	switch p.Tier {
	case domain.TierPremium:
		return l.tiers.Premium, l.tiers.Window
	case domain.TierAuthenticated:
		return l.tiers.Authenticated, l.tiers.Window
	default:
		return l.tiers.Anonymous, l.tiers.Window
	}
}

// resetAt is when the oldest in-window request falls out of the window.
func (l *Limiter) resetAt(ctx context.Context, key string, window time.Duration, now time.Time) time.Time {
	oldest, err := l.windows.WindowOldest(ctx, key)
	if err != nil || oldest == nil {
		return now.Add(window)
	}
	return time.UnixMilli(int64(oldest.Score)).Add(window)
}

// failOpen admits the request when the backend is unreachable.
func (l *Limiter) failOpen(limit int, window time.Duration, now time.Time, op string, err error) Decision {
	l.logger.Warn("Rate limiter backend failure, failing open", zap.String("op", op), zap.Error(err))
	return Decision{Allowed: true, Limit: limit, Remaining: limit, ResetAt: now.Add(window)}
}
