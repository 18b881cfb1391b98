// Package adapter defines the per-entity search capability set and the three
// production adapters (person, ticket, work order). Every adapter statically
// satisfies the same contract; optional capabilities are default methods on
// Base rather than runtime probes.
package adapter

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/atriumhq/omnisearch/internal/domain"
	"github.com/atriumhq/omnisearch/internal/domain/search/result"
)

// ActionView is the permission consulted before a record enters the merge.
const ActionView = "view"

const snippetMaxLen = 160

// Record is the adapter-neutral candidate handed between FetchCandidates,
// Format, Actions, and CheckPermission.
type Record struct {
	ID         string
	TenantID   string
	Title      string
	Subtitle   string
	Snippet    string
	Relevance  *float64 // native full-text rank hint; nil when the source has none
	OwnerID    string
	AssigneeID string
	TeamID     string
	Priority   string
	Status     string
	CreatedAt  time.Time
	DueAt      *time.Time
	Extra      map[string]string
}

// Adapter is the capability set implemented once per entity type.
type Adapter interface {
	// Name returns the entity type this adapter serves.
	Name() domain.Entity

	// FetchCandidates returns at most limit records. Tenant scoping and
	// entity-specific filters are applied before any text matching. An empty
	// queryText returns the filtered set in the adapter's natural order.
	FetchCandidates(ctx context.Context, tenantID, text string, filters map[string]string, limit int) ([]Record, error)

	// Format maps a record to a search result with the score left unset.
	// Missing optional fields become empty strings, never an error.
	Format(rec Record) result.Result

	// Actions returns only the actions the principal is authorized to take.
	// Authorization failures are silent omissions.
	Actions(rec Record, p domain.Principal) []result.Action

	// CheckPermission reports whether the principal may perform action on the
	// record. Tenant mismatch always denies.
	CheckPermission(rec Record, p domain.Principal, action string) bool

	// SearchableFields declares the fields usable for substring or fuzzy
	// comparison when the source has no native full-text ranking.
	SearchableFields() []string
}

// Base supplies the default permission policy for adapters without their own
// check: tenant mismatch denies, everything else is allowed. Read visibility
// relies on the tenant filter already applied in FetchCandidates; the
// fail-open default is deliberate and covered by tests.
type Base struct{}

// CheckPermission is the fail-open default.
func (Base) CheckPermission(rec Record, p domain.Principal, _ string) bool {
	return rec.TenantID == p.TenantID
}

// metadata builds the ranking-facing metadata map shared by all adapters.
func metadata(rec Record) map[string]string {
	m := make(map[string]string, 8+len(rec.Extra))
	if rec.Relevance != nil {
		m[result.MetaRelevance] = strconv.FormatFloat(*rec.Relevance, 'f', -1, 64)
	}
	if !rec.CreatedAt.IsZero() {
		m[result.MetaCreatedAt] = rec.CreatedAt.UTC().Format(time.RFC3339)
	}
	if rec.Priority != "" {
		m[result.MetaPriority] = rec.Priority
	}
	if rec.Status != "" {
		m[result.MetaStatus] = rec.Status
	}
	if overdue(rec) {
		m[result.MetaOverdue] = "true"
	}
	if rec.OwnerID != "" {
		m[result.MetaOwnerID] = rec.OwnerID
	}
	if rec.AssigneeID != "" {
		m[result.MetaAssignee] = rec.AssigneeID
	}
	if rec.TeamID != "" {
		m[result.MetaTeamID] = rec.TeamID
	}
	for k, v := range rec.Extra {
		m[k] = v
	}
	return m
}

// overdue reports whether the record has a past due date and is still open.
func overdue(rec Record) bool {
	if rec.DueAt == nil || rec.DueAt.After(time.Now()) {
		return false
	}
	switch strings.ToLower(rec.Status) {
	case "closed", "completed", "done", "cancelled":
		return false
	}
	return true
}

// snippet truncates s to the snippet length at a rune boundary.
func snippet(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= snippetMaxLen {
		return s
	}
	return strings.TrimSpace(string(runes[:snippetMaxLen])) + "…"
}

// floatPtr converts a nullable relevance into the Record representation.
func floatPtr(valid bool, v float64) *float64 {
	if !valid {
		return nil
	}
	return &v
}

// timePtr converts a nullable timestamp into the Record representation.
func timePtr(valid bool, t time.Time) *time.Time {
	if !valid {
		return nil
	}
	return &t
}
