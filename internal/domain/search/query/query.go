package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/atriumhq/omnisearch/internal/domain"
)

// Search parameter limits.
const (
	MaxTextLength = 500
	DefaultLimit  = 20
	MaxLimit      = 100
)

// Filters maps an entity type to an opaque key/value filter bag.
type Filters map[domain.Entity]map[string]string

// Query is a validated, immutable search query.
type Query struct {
	text       string
	normalized string
	entities   []domain.Entity
	filters    Filters
	limit      int
	tenantID   string
	principal  domain.Principal
}

// New validates and normalizes search parameters.
// Defaults: entities=all registered, limit=20. Entity order is canonicalized
// to registration order so that identical sets always hash identically.
func New(
	text string,
	entities []domain.Entity,
	filters Filters,
	limit int,
	tenantID string,
	principal domain.Principal,
) (Query, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Query{}, fmt.Errorf("%w: query text is required", domain.ErrInvalidQuery)
	}
	if len(text) > MaxTextLength {
		return Query{}, fmt.Errorf("%w: query text too long (max %d chars)", domain.ErrInvalidQuery, MaxTextLength)
	}
	if tenantID == "" {
		return Query{}, fmt.Errorf("%w: tenant is required", domain.ErrInvalidQuery)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	if len(entities) == 0 {
		entities = domain.AllEntities()
	} else {
		seen := make(map[domain.Entity]struct{}, len(entities))
		deduped := make([]domain.Entity, 0, len(entities))
		for _, e := range entities {
			if !e.IsValid() {
				return Query{}, fmt.Errorf("%w: %q", domain.ErrUnknownEntity, e)
			}
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			deduped = append(deduped, e)
		}
		entities = deduped
		sortByRegistration(entities)
	}

	return Query{
		text:       text,
		normalized: strings.ToLower(text),
		entities:   entities,
		filters:    filters,
		limit:      limit,
		tenantID:   tenantID,
		principal:  principal,
	}, nil
}

// Text returns the trimmed query text as entered.
func (q *Query) Text() string { return q.text }

// Normalized returns the lowercased query text used for cache keys.
func (q *Query) Normalized() string { return q.normalized }

// Entities returns the requested entity types in registration order.
func (q *Query) Entities() []domain.Entity { return q.entities }

// Filters returns the per-entity filter bags.
func (q *Query) Filters() Filters { return q.filters }

// FiltersFor returns the filter bag for one entity type (nil when absent).
func (q *Query) FiltersFor(e domain.Entity) map[string]string { return q.filters[e] }

// Limit returns the maximum results to return.
func (q *Query) Limit() int { return q.limit }

// TenantID returns the tenant scope.
func (q *Query) TenantID() string { return q.tenantID }

// Principal returns the requesting identity.
func (q *Query) Principal() domain.Principal { return q.principal }

// sortByRegistration orders entities by their position in domain.AllEntities.
func sortByRegistration(entities []domain.Entity) {
	pos := make(map[domain.Entity]int, len(domain.AllEntities()))
	for i, e := range domain.AllEntities() {
		pos[e] = i
	}
	sort.Slice(entities, func(i, j int) bool { return pos[entities[i]] < pos[entities[j]] })
}
