package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atriumhq/omnisearch/internal/db"
	"github.com/atriumhq/omnisearch/internal/domain"
)

// --- Mocks ---

type mockWindows struct {
	entries  map[string][]db.WindowEntry
	failAll  bool
	expireNX map[string]time.Duration
}

func newMockWindows() *mockWindows {
	return &mockWindows{
		entries:  make(map[string][]db.WindowEntry),
		expireNX: make(map[string]time.Duration),
	}
}

var errBackend = errors.New("connection refused")

func (m *mockWindows) WindowAdd(_ context.Context, key, member string, score float64) error {
	if m.failAll {
		return errBackend
	}
	m.entries[key] = append(m.entries[key], db.WindowEntry{Member: member, Score: score})
	return nil
}

func (m *mockWindows) WindowCount(_ context.Context, key string) (int64, error) {
	if m.failAll {
		return 0, errBackend
	}
	return int64(len(m.entries[key])), nil
}

func (m *mockWindows) WindowPrune(_ context.Context, key string, maxScore float64) error {
	if m.failAll {
		return errBackend
	}
	kept := m.entries[key][:0]
	for _, e := range m.entries[key] {
		if e.Score > maxScore {
			kept = append(kept, e)
		}
	}
	m.entries[key] = kept
	return nil
}

func (m *mockWindows) WindowOldest(_ context.Context, key string) (*db.WindowEntry, error) {
	if m.failAll {
		return nil, errBackend
	}
	var oldest *db.WindowEntry
	for i := range m.entries[key] {
		e := m.entries[key][i]
		if oldest == nil || e.Score < oldest.Score {
			oldest = &e
		}
	}
	return oldest, nil
}

func (m *mockWindows) Expire(_ context.Context, key string, ttl time.Duration, _ bool) error {
	if m.failAll {
		return errBackend
	}
	m.expireNX[key] = ttl
	return nil
}

func testPrincipal(tier domain.Tier) domain.Principal {
	return domain.Principal{TenantID: "acme", ID: "u1", Tier: tier}
}

// --- Tests ---

func TestAllow_AdmitsUpToLimit(t *testing.T) {
	w := newMockWindows()
	l := New(w, Tiers{Anonymous: 3, Authenticated: 3, Premium: 3, Window: time.Minute}, nil, zap.NewNop())
	p := testPrincipal(domain.TierAuthenticated)

	for i := 0; i < 3; i++ {
		d := l.Allow(context.Background(), p, "u1", "/search")
		if !d.Allowed {
			t.Fatalf("request %d: expected allowed", i+1)
		}
		if d.Remaining != 3-i-1 {
			t.Errorf("request %d: expected remaining %d, got %d", i+1, 3-i-1, d.Remaining)
		}
	}
}

func TestAllow_RejectsOverLimit(t *testing.T) {
	w := newMockWindows()
	tiers := DefaultTiers()
	l := New(w, tiers, nil, zap.NewNop())
	p := testPrincipal(domain.TierAnonymous)

	for i := 0; i < 20; i++ {
		if d := l.Allow(context.Background(), p, "ip1", "/search"); !d.Allowed {
			t.Fatalf("request %d: expected allowed", i+1)
		}
	}

	d := l.Allow(context.Background(), p, "ip1", "/search")
	if d.Allowed {
		t.Fatal("21st request: expected rejection")
	}
	if d.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", d.Remaining)
	}
	if d.RetryAfter < time.Second {
		t.Errorf("expected retry-after >= 1s, got %v", d.RetryAfter)
	}
}

func TestAllow_RejectionDoesNotExtendWindow(t *testing.T) {
	w := newMockWindows()
	l := New(w, Tiers{Anonymous: 2, Authenticated: 2, Premium: 2, Window: time.Minute}, nil, zap.NewNop())
	p := testPrincipal(domain.TierAuthenticated)

	l.Allow(context.Background(), p, "u1", "/search")
	l.Allow(context.Background(), p, "u1", "/search")

	key := keyPrefix + "acme:u1:/search"
	before := len(w.entries[key])

	l.Allow(context.Background(), p, "u1", "/search")

	if len(w.entries[key]) != before {
		t.Errorf("rejected request was recorded: %d entries, expected %d", len(w.entries[key]), before)
	}
}

func TestAllow_WindowSlides(t *testing.T) {
	w := newMockWindows()
	l := New(w, Tiers{Anonymous: 1, Authenticated: 1, Premium: 1, Window: 30 * time.Millisecond}, nil, zap.NewNop())
	p := testPrincipal(domain.TierAuthenticated)

	if d := l.Allow(context.Background(), p, "u1", "/search"); !d.Allowed {
		t.Fatal("first request: expected allowed")
	}
	if d := l.Allow(context.Background(), p, "u1", "/search"); d.Allowed {
		t.Fatal("second request inside window: expected rejection")
	}

	time.Sleep(40 * time.Millisecond)

	if d := l.Allow(context.Background(), p, "u1", "/search"); !d.Allowed {
		t.Fatal("request after window elapsed: expected allowed")
	}
}

func TestAllow_TierQuotas(t *testing.T) {
	w := newMockWindows()
	l := New(w, DefaultTiers(), nil, zap.NewNop())

	cases := []struct {
		tier  domain.Tier
		limit int
	}{
		{domain.TierAnonymous, 20},
		{domain.TierAuthenticated, 100},
		{domain.TierPremium, 500},
	}
	for _, c := range cases {
		d := l.Allow(context.Background(), testPrincipal(c.tier), string(c.tier), "/search")
		if d.Limit != c.limit {
			t.Errorf("%s: expected limit %d, got %d", c.tier, c.limit, d.Limit)
		}
	}
}

func TestAllow_TenantOverrideWins(t *testing.T) {
	w := newMockWindows()
	tiers := DefaultTiers()
	tiers.TenantOverrides = map[string]Override{"acme": {Limit: 2}}
	l := New(w, tiers, nil, zap.NewNop())
	p := testPrincipal(domain.TierPremium)

	d := l.Allow(context.Background(), p, "u1", "/search")
	if d.Limit != 2 {
		t.Errorf("expected override limit 2, got %d", d.Limit)
	}

	l.Allow(context.Background(), p, "u1", "/search")
	if d := l.Allow(context.Background(), p, "u1", "/search"); d.Allowed {
		t.Error("expected rejection at override limit despite premium tier")
	}
}

func TestAllow_FailsOpenOnBackendError(t *testing.T) {
	w := newMockWindows()
	w.failAll = true
	l := New(w, DefaultTiers(), nil, zap.NewNop())

	d := l.Allow(context.Background(), testPrincipal(domain.TierAnonymous), "ip1", "/search")
	if !d.Allowed {
		t.Error("expected fail-open admission when backend is down")
	}
}

func TestAllow_SeparateKeysPerSubject(t *testing.T) {
	w := newMockWindows()
	l := New(w, Tiers{Anonymous: 1, Authenticated: 1, Premium: 1, Window: time.Minute}, nil, zap.NewNop())
	p := testPrincipal(domain.TierAuthenticated)

	if d := l.Allow(context.Background(), p, "u1", "/search"); !d.Allowed {
		t.Fatal("u1: expected allowed")
	}
	if d := l.Allow(context.Background(), p, "u2", "/search"); !d.Allowed {
		t.Error("u2: expected independent window")
	}
	if d := l.Allow(context.Background(), p, "u1", "/invalidate"); !d.Allowed {
		t.Error("other endpoint: expected independent window")
	}
}
