package aggregate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/atriumhq/omnisearch/internal/adapter"
	"github.com/atriumhq/omnisearch/internal/analytics"
	"github.com/atriumhq/omnisearch/internal/domain"
	"github.com/atriumhq/omnisearch/internal/domain/search/query"
	"github.com/atriumhq/omnisearch/internal/domain/search/result"
	"github.com/atriumhq/omnisearch/internal/repository/searchcache"
)

// --- Mocks ---

type fakeAdapter struct {
	name     domain.Entity
	records  []adapter.Record
	err      error
	delay    time.Duration
	denyView bool
	panics   bool
	called   atomic.Bool
}

func (f *fakeAdapter) Name() domain.Entity { return f.name }

func (f *fakeAdapter) FetchCandidates(
	ctx context.Context, _, _ string, _ map[string]string, _ int,
) ([]adapter.Record, error) {
	f.called.Store(true)
	if f.panics {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.records, f.err
}

func (f *fakeAdapter) Format(rec adapter.Record) result.Result {
	return result.Result{Entity: f.name, ID: rec.ID, Title: rec.Title}
}

func (f *fakeAdapter) Actions(adapter.Record, domain.Principal) []result.Action {
	return []result.Action{{Label: "View", Target: "/x", Method: "GET"}}
}

func (f *fakeAdapter) CheckPermission(adapter.Record, domain.Principal, string) bool {
	return !f.denyView
}

func (f *fakeAdapter) SearchableFields() []string { return nil }

type stubCache struct {
	mu      sync.Mutex
	payload searchcache.Payload
	hit     bool
	puts    int
	lastPut searchcache.Payload
}

func (s *stubCache) Get(context.Context, *query.Query) (searchcache.Payload, bool) {
	return s.payload, s.hit
}

func (s *stubCache) Put(_ context.Context, _ *query.Query, p searchcache.Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	s.lastPut = p
}

type stubRanker struct{ calls atomic.Int32 }

func (s *stubRanker) Rank([]result.Result, string, domain.Principal) { s.calls.Add(1) }

type chanSink struct{ ch chan analytics.Record }

func newChanSink() *chanSink { return &chanSink{ch: make(chan analytics.Record, 8)} }

func (s *chanSink) Emit(_ context.Context, rec analytics.Record) {
	select {
	case s.ch <- rec:
	default:
	}
}

// directPool runs every task on its own goroutine.
type directPool struct{}

func (directPool) Submit(task func()) error {
	go task()
	return nil
}

func (directPool) Release() {}

func directFactory(int) (Pool, error) { return directPool{}, nil }

// rejectingPool fails every submission.
type rejectingPool struct{}

func (rejectingPool) Submit(func()) error { return errors.New("pool closed") }

func (rejectingPool) Release() {}

func rejectingFactory(int) (Pool, error) { return rejectingPool{}, nil }

func brokenFactory(int) (Pool, error) { return nil, errors.New("out of workers") }

func antsFactory(size int) (Pool, error) {
	p, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func makeQuery(t *testing.T, entities []domain.Entity, limit int) *query.Query {
	t.Helper()
	q, err := query.New("printer", entities, nil, limit, "acme",
		domain.Principal{TenantID: "acme", ID: "u1", Tier: domain.TierAuthenticated})
	if err != nil {
		t.Fatalf("query.New: %v", err)
	}
	return &q
}

func records(ids ...string) []adapter.Record {
	recs := make([]adapter.Record, 0, len(ids))
	for _, id := range ids {
		recs = append(recs, adapter.Record{ID: id, TenantID: "acme", Title: id})
	}
	return recs
}

func newService(adapters []adapter.Adapter, c cache, deadline time.Duration) (*Service, *stubRanker, *chanSink) {
	ranker := &stubRanker{}
	sink := newChanSink()
	svc := New(adapters, c, ranker, sink, directFactory, 8, deadline, nil, nil, zap.NewNop())
	return svc, ranker, sink
}

// --- Tests ---

func TestSearch_MergesAllAdapters(t *testing.T) {
	people := &fakeAdapter{name: domain.EntityPerson, records: records("p1")}
	tickets := &fakeAdapter{name: domain.EntityTicket, records: records("t1", "t2")}
	workorders := &fakeAdapter{name: domain.EntityWorkOrder, records: records("w1")}
	cache := &stubCache{}
	svc, ranker, _ := newService([]adapter.Adapter{people, tickets, workorders}, cache, time.Second)

	resp, err := svc.Search(context.Background(), makeQuery(t, nil, 10))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if resp.TotalResults != 4 {
		t.Errorf("expected 4 results, got %d", resp.TotalResults)
	}
	if resp.FromCache {
		t.Error("expected FromCache false")
	}
	if resp.QueryID == "" {
		t.Error("expected query id")
	}
	if ranker.calls.Load() == 0 {
		t.Error("expected ranker to run")
	}
	if cache.puts != 1 {
		t.Errorf("expected exactly one cache put, got %d", cache.puts)
	}
}

func TestSearch_CacheHitSkipsAdapters(t *testing.T) {
	tickets := &fakeAdapter{name: domain.EntityTicket, records: records("t1")}
	cache := &stubCache{
		hit: true,
		payload: searchcache.Payload{
			Results:      []result.Result{{Entity: domain.EntityTicket, ID: "cached"}},
			TotalResults: 1,
		},
	}
	svc, _, sink := newService([]adapter.Adapter{tickets}, cache, time.Second)

	resp, err := svc.Search(context.Background(), makeQuery(t, []domain.Entity{domain.EntityTicket}, 10))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if !resp.FromCache {
		t.Error("expected FromCache true")
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "cached" {
		t.Errorf("expected cached result, got %+v", resp.Results)
	}
	if tickets.called.Load() {
		t.Error("expected adapters untouched on cache hit")
	}

	select {
	case rec := <-sink.ch:
		if !rec.FromCache {
			t.Error("expected analytics event marked from cache")
		}
	case <-time.After(time.Second):
		t.Error("expected analytics event")
	}
}

func TestSearch_TruncatesToLimit(t *testing.T) {
	tickets := &fakeAdapter{name: domain.EntityTicket, records: records("t1", "t2", "t3", "t4", "t5")}
	svc, _, _ := newService([]adapter.Adapter{tickets}, &stubCache{}, time.Second)

	resp, err := svc.Search(context.Background(), makeQuery(t, []domain.Entity{domain.EntityTicket}, 3))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(resp.Results) != 3 {
		t.Errorf("expected 3 results, got %d", len(resp.Results))
	}
	if resp.TotalResults != 5 {
		t.Errorf("expected total 5 before truncation, got %d", resp.TotalResults)
	}
}

func TestSearch_OneAdapterFailureIsPartial(t *testing.T) {
	people := &fakeAdapter{name: domain.EntityPerson, err: errors.New("db down")}
	tickets := &fakeAdapter{name: domain.EntityTicket, records: records("t1")}
	workorders := &fakeAdapter{name: domain.EntityWorkOrder, records: records("w1")}
	cache := &stubCache{}
	svc, _, _ := newService([]adapter.Adapter{people, tickets, workorders}, cache, time.Second)

	resp, err := svc.Search(context.Background(), makeQuery(t, nil, 10))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if resp.TotalResults != 2 {
		t.Errorf("expected 2 results from healthy sources, got %d", resp.TotalResults)
	}
	if resp.Error != "" {
		t.Errorf("partial failure must not set response error, got %q", resp.Error)
	}
	if cache.puts != 0 {
		t.Error("partial response must not be cached")
	}
}

func TestSearch_AllAdaptersFailIsDegraded(t *testing.T) {
	people := &fakeAdapter{name: domain.EntityPerson, err: errors.New("db down")}
	tickets := &fakeAdapter{name: domain.EntityTicket, panics: true}
	svc, _, _ := newService([]adapter.Adapter{people, tickets}, &stubCache{}, time.Second)

	q := makeQuery(t, []domain.Entity{domain.EntityPerson, domain.EntityTicket}, 10)
	resp, err := svc.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if resp.Error == "" {
		t.Error("expected degraded response error")
	}
	if len(resp.Results) != 0 {
		t.Errorf("expected empty results, got %d", len(resp.Results))
	}
}

func TestSearch_HungAdapterIsAbandonedAtDeadline(t *testing.T) {
	hung := &fakeAdapter{name: domain.EntityPerson, delay: 5 * time.Second, records: records("late")}
	tickets := &fakeAdapter{name: domain.EntityTicket, records: records("t1")}
	svc, _, _ := newService([]adapter.Adapter{hung, tickets}, &stubCache{}, 100*time.Millisecond)

	start := time.Now()
	resp, err := svc.Search(context.Background(), makeQuery(t, nil, 10))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Errorf("response took %v, expected near the 100ms deadline", elapsed)
	}
	if resp.TotalResults != 1 || resp.Results[0].ID != "t1" {
		t.Errorf("expected only the fast adapter's result, got %+v", resp.Results)
	}
}

func TestSearch_PermissionFilterDropsRecords(t *testing.T) {
	tickets := &fakeAdapter{name: domain.EntityTicket, records: records("t1"), denyView: true}
	svc, _, _ := newService([]adapter.Adapter{tickets}, &stubCache{}, time.Second)

	resp, err := svc.Search(context.Background(), makeQuery(t, []domain.Entity{domain.EntityTicket}, 10))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if resp.TotalResults != 0 {
		t.Errorf("expected view-denied records filtered, got %d", resp.TotalResults)
	}
	if resp.Error != "" {
		t.Errorf("permission filtering is not a failure, got %q", resp.Error)
	}
}

func TestSearch_UnregisteredEntityRejected(t *testing.T) {
	tickets := &fakeAdapter{name: domain.EntityTicket, records: records("t1")}
	svc, _, _ := newService([]adapter.Adapter{tickets}, &stubCache{}, time.Second)

	_, err := svc.Search(context.Background(), makeQuery(t, []domain.Entity{domain.EntityPerson}, 10))
	if !errors.Is(err, domain.ErrUnknownEntity) {
		t.Fatalf("expected ErrUnknownEntity, got %v", err)
	}
}

func TestSearch_PoolConstructionFailureIsDegraded(t *testing.T) {
	tickets := &fakeAdapter{name: domain.EntityTicket, records: records("t1")}
	ranker := &stubRanker{}
	svc := New([]adapter.Adapter{tickets}, &stubCache{}, ranker, newChanSink(), brokenFactory, 8,
		time.Second, nil, nil, zap.NewNop())

	resp, err := svc.Search(context.Background(), makeQuery(t, []domain.Entity{domain.EntityTicket}, 10))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if resp.Error == "" {
		t.Error("expected degraded response when no source could run")
	}
}

func TestSearch_RejectedSubmissionCountsAsFailure(t *testing.T) {
	tickets := &fakeAdapter{name: domain.EntityTicket, records: records("t1")}
	ranker := &stubRanker{}
	svc := New([]adapter.Adapter{tickets}, &stubCache{}, ranker, newChanSink(), rejectingFactory, 8,
		time.Second, nil, nil, zap.NewNop())

	resp, err := svc.Search(context.Background(), makeQuery(t, []domain.Entity{domain.EntityTicket}, 10))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if resp.Error == "" {
		t.Error("expected degraded response when no source could run")
	}
	if tickets.called.Load() {
		t.Error("expected adapter untouched when submission is rejected")
	}
}

func TestSearch_ConcurrentLoadQueuesInsteadOfDegrading(t *testing.T) {
	tickets := &fakeAdapter{name: domain.EntityTicket, records: records("t1"), delay: 20 * time.Millisecond}
	ranker := &stubRanker{}
	svc := New([]adapter.Adapter{tickets}, &stubCache{}, ranker, newChanSink(), antsFactory, 2,
		2*time.Second, nil, nil, zap.NewNop())
	q := makeQuery(t, []domain.Entity{domain.EntityTicket}, 10)

	const queries = 40
	var wg sync.WaitGroup
	var degraded atomic.Int32
	for i := 0; i < queries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := svc.Search(context.Background(), q)
			if err != nil {
				t.Errorf("Search: %v", err)
				return
			}
			if resp.Error != "" {
				degraded.Add(1)
				return
			}
			if resp.TotalResults != 1 {
				t.Errorf("expected 1 result, got %d", resp.TotalResults)
			}
		}()
	}
	wg.Wait()

	if n := degraded.Load(); n > 0 {
		t.Errorf("%d of %d concurrent queries degraded with a healthy source", n, queries)
	}
}

func TestSearch_ConcurrentQueriesAreIndependent(t *testing.T) {
	tickets := &fakeAdapter{name: domain.EntityTicket, records: records("t1")}
	svc, _, _ := newService([]adapter.Adapter{tickets}, &stubCache{}, time.Second)
	q := makeQuery(t, []domain.Entity{domain.EntityTicket}, 10)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := svc.Search(context.Background(), q)
			if err != nil {
				t.Errorf("Search: %v", err)
				return
			}
			if resp.TotalResults != 1 {
				t.Errorf("expected 1 result, got %d", resp.TotalResults)
			}
		}()
	}
	wg.Wait()
}
