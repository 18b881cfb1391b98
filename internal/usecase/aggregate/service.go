// Package aggregate fans a validated query across the registered entity
// adapters, merges the survivors, and ranks them into a single response.
// Partial failure is the steady state: a slow or broken source costs its own
// results, never the whole query.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/atriumhq/omnisearch/internal/adapter"
	"github.com/atriumhq/omnisearch/internal/analytics"
	"github.com/atriumhq/omnisearch/internal/domain"
	"github.com/atriumhq/omnisearch/internal/domain/search/query"
	"github.com/atriumhq/omnisearch/internal/domain/search/result"
	"github.com/atriumhq/omnisearch/internal/repository/searchcache"
)

// DefaultDeadline is the hard wall-clock limit for the adapter fan-out.
const DefaultDeadline = 5 * time.Second

// DefaultMaxWorkers caps the per-query worker set. Each query gets its own
// pool sized to the number of requested entity types, up to this cap.
const DefaultMaxWorkers = 8

const (
	failureReasonError    = "error"
	failureReasonPanic    = "panic"
	failureReasonDeadline = "deadline"
	failureReasonPool     = "pool"
)

// Service coordinates the search pipeline: cache, fan-out, merge, rank.
type Service struct {
	adapters   map[domain.Entity]adapter.Adapter
	order      []domain.Entity
	cache      cache
	ranker     ranker
	sink       sink
	newPool    PoolFactory
	maxWorkers int
	deadline   time.Duration

	fanout   prometheus.Histogram
	failures *prometheus.CounterVec
	logger   *zap.Logger
}

// New creates the aggregation service. Adapters are consulted in the order
// given, which fixes the tie-break order for equal scores.
func New(
	adapters []adapter.Adapter,
	cache cache,
	ranker ranker,
	sink sink,
	newPool PoolFactory,
	maxWorkers int,
	deadline time.Duration,
	fanout prometheus.Histogram,
	failures *prometheus.CounterVec,
	logger *zap.Logger,
) *Service {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	byEntity := make(map[domain.Entity]adapter.Adapter, len(adapters))
	order := make([]domain.Entity, 0, len(adapters))
	for _, a := range adapters {
		byEntity[a.Name()] = a
		order = append(order, a.Name())
	}
	return &Service{
		adapters:   byEntity,
		order:      order,
		cache:      cache,
		ranker:     ranker,
		sink:       sink,
		newPool:    newPool,
		maxWorkers: maxWorkers,
		deadline:   deadline,
		fanout:     fanout,
		failures:   failures,
		logger:     logger,
	}
}

// outcome is one adapter's contribution to the merge.
type outcome struct {
	entity  domain.Entity
	results []result.Result
	err     error
	reason  string
}

// Search runs the full pipeline for a validated query. It returns an error
// only for queries naming an unregistered entity type; source failures
// degrade the response instead.
func (s *Service) Search(ctx context.Context, q *query.Query) (result.Response, error) {
	for _, e := range q.Entities() {
		if _, ok := s.adapters[e]; !ok {
			return result.Response{}, fmt.Errorf("%w: %q", domain.ErrUnknownEntity, e)
		}
	}

	start := time.Now()
	queryID := uuid.NewString()

	if payload, ok := s.cache.Get(ctx, q); ok {
		resp := result.Response{
			Results:        payload.Results,
			TotalResults:   payload.TotalResults,
			ResponseTimeMs: time.Since(start).Milliseconds(),
			QueryID:        queryID,
			FromCache:      true,
		}
		s.emit(ctx, q, queryID, resp, start)
		return resp, nil
	}

	outcomes, failed := s.fanOut(ctx, q)

	// Merge in adapter registration order so equal scores tie-break
	// deterministically after the stable sort.
	merged := make([]result.Result, 0, q.Limit()*len(q.Entities()))
	for _, e := range q.Entities() {
		merged = append(merged, outcomes[e]...)
	}

	resp := result.Response{QueryID: queryID}
	if len(merged) == 0 && failed == len(q.Entities()) {
		s.logger.Error("All search sources failed",
			zap.String("query_id", queryID), zap.String("tenant", q.TenantID()))
		resp.Results = []result.Result{}
		resp.Error = "search temporarily unavailable"
		resp.ResponseTimeMs = time.Since(start).Milliseconds()
		s.emit(ctx, q, queryID, resp, start)
		return resp, nil
	}

	s.ranker.Rank(merged, q.Text(), q.Principal())
	resp.TotalResults = len(merged)
	if len(merged) > q.Limit() {
		merged = merged[:q.Limit()]
	}
	resp.Results = merged
	resp.ResponseTimeMs = time.Since(start).Milliseconds()

	// Partial responses stay out of the cache: a transient source failure
	// must not serve stale gaps for a full TTL.
	if failed == 0 {
		s.cache.Put(ctx, q, searchcache.Payload{
			Results:        resp.Results,
			TotalResults:   resp.TotalResults,
			ResponseTimeMs: resp.ResponseTimeMs,
		})
	}

	s.emit(ctx, q, queryID, resp, start)
	return resp, nil
}

// fanOut queries every requested adapter concurrently under the hard
// deadline. Each query gets its own worker set, sized to the requested entity
// types and capped at maxWorkers, so load on one query never rejects another.
// Sources that miss the deadline are abandoned: the collector stops waiting
// and their eventual result is discarded into the buffered channel.
func (s *Service) fanOut(ctx context.Context, q *query.Query) (map[domain.Entity][]result.Result, int) {
	defer func(start time.Time) {
		if s.fanout != nil {
			s.fanout.Observe(time.Since(start).Seconds())
		}
	}(time.Now())

	entities := q.Entities()
	size := len(entities)
	if size > s.maxWorkers {
		size = s.maxWorkers
	}

	p, err := s.newPool(size)
	if err != nil {
		for _, e := range entities {
			s.recordFailure(e, failureReasonPool, err)
		}
		return nil, len(entities)
	}
	defer p.Release()

	ch := make(chan outcome, len(entities))
	pending := make(map[domain.Entity]struct{}, len(entities))
	for _, e := range entities {
		pending[e] = struct{}{}
	}

	// Submission runs off the collector so a capped pool's queueing spends
	// the fan-out deadline instead of extending it. Release wakes a blocked
	// Submit, which then reports the remaining entities as pool failures
	// into the buffer.
	go func() {
		for _, e := range entities {
			a := s.adapters[e]
			entity := e
			if err := p.Submit(func() {
				ch <- s.fetch(ctx, a, q)
			}); err != nil {
				ch <- outcome{
					entity: entity,
					err:    fmt.Errorf("submit to worker pool: %w", err),
					reason: failureReasonPool,
				}
			}
		}
	}()

	outcomes := make(map[domain.Entity][]result.Result, len(entities))
	failed := 0
	timer := time.NewTimer(s.deadline)
	defer timer.Stop()

	for len(pending) > 0 {
		select {
		case o := <-ch:
			delete(pending, o.entity)
			if o.err != nil {
				failed++
				s.recordFailure(o.entity, o.reason, o.err)
				continue
			}
			outcomes[o.entity] = o.results
		case <-timer.C:
			for e := range pending {
				failed++
				s.recordFailure(e, failureReasonDeadline, nil)
			}
			return outcomes, failed
		}
	}
	return outcomes, failed
}

// fetch runs one adapter: fetch candidates, drop records the principal may
// not view, format the rest. A panicking adapter is contained and reported
// as a failure.
func (s *Service) fetch(ctx context.Context, a adapter.Adapter, q *query.Query) (o outcome) {
	o.entity = a.Name()
	defer func() {
		if r := recover(); r != nil {
			o.results = nil
			o.err = fmt.Errorf("adapter panic: %v", r)
			o.reason = failureReasonPanic
		}
	}()

	records, err := a.FetchCandidates(ctx, q.TenantID(), q.Text(), q.FiltersFor(a.Name()), q.Limit())
	if err != nil {
		o.err = err
		o.reason = failureReasonError
		return o
	}

	p := q.Principal()
	results := make([]result.Result, 0, len(records))
	for _, rec := range records {
		if !a.CheckPermission(rec, p, adapter.ActionView) {
			continue
		}
		r := a.Format(rec)
		r.Actions = a.Actions(rec, p)
		results = append(results, r)
	}
	o.results = results
	return o
}

// emit publishes the search event without blocking the response path.
func (s *Service) emit(ctx context.Context, q *query.Query, queryID string, resp result.Response, start time.Time) {
	rec := analytics.Record{
		QueryID:     queryID,
		TenantID:    q.TenantID(),
		PrincipalID: q.Principal().ID,
		Tier:        q.Principal().Tier,
		Text:        q.Text(),
		Entities:    q.Entities(),
		ResultCount: resp.TotalResults,
		FromCache:   resp.FromCache,
		Latency:     time.Since(start),
		At:          time.Now().UTC(),
	}
	emitCtx := context.WithoutCancel(ctx)
	go func() {
		emitCtx, cancel := context.WithTimeout(emitCtx, 2*time.Second)
		defer cancel()
		s.sink.Emit(emitCtx, rec)
	}()
}

func (s *Service) recordFailure(e domain.Entity, reason string, err error) {
	if s.failures != nil {
		s.failures.WithLabelValues(e.String(), reason).Inc()
	}
	fields := []zap.Field{zap.String("entity", e.String()), zap.String("reason", reason)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	s.logger.Warn("Search source failed", fields...)
}
