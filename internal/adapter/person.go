package adapter

import (
	"context"
	"fmt"

	"github.com/atriumhq/omnisearch/internal/domain"
	"github.com/atriumhq/omnisearch/internal/domain/search/result"
	personrepo "github.com/atriumhq/omnisearch/internal/repository/person"
)

// personStore is the consumer interface for person lookups (ISP).
type personStore interface {
	Search(ctx context.Context, tenantID, text string, filters map[string]string, limit int) ([]personrepo.Row, error)
}

// PersonAdapter searches the people directory. It carries no permission check
// of its own: directory entries are visible tenant-wide (Base fail-open).
type PersonAdapter struct {
	Base
	store personStore
}

// NewPersonAdapter creates a person adapter.
func NewPersonAdapter(s personStore) *PersonAdapter {
	return &PersonAdapter{store: s}
}

// Name returns the entity type.
func (a *PersonAdapter) Name() domain.Entity { return domain.EntityPerson }

// FetchCandidates returns tenant-scoped directory matches.
func (a *PersonAdapter) FetchCandidates(
	ctx context.Context, tenantID, text string, filters map[string]string, limit int,
) ([]Record, error) {
	rows, err := a.store.Search(ctx, tenantID, text, filters, limit)
	if err != nil {
		return nil, fmt.Errorf("person search: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, Record{
			ID:        row.ID,
			TenantID:  row.TenantID,
			Title:     row.FullName,
			Subtitle:  personSubtitle(row),
			Snippet:   row.Email,
			Relevance: floatPtr(row.Relevance.Valid, row.Relevance.Float64),
			OwnerID:   row.ID, // a person record belongs to the person it describes
			TeamID:    row.TeamID,
			CreatedAt: row.CreatedAt,
			Extra:     map[string]string{"department": row.Department},
		})
	}
	return records, nil
}

// Format maps a person record to a search result.
func (a *PersonAdapter) Format(rec Record) result.Result {
	return result.Result{
		Entity:   domain.EntityPerson,
		ID:       rec.ID,
		Title:    rec.Title,
		Subtitle: rec.Subtitle,
		Snippet:  snippet(rec.Snippet),
		Metadata: metadata(rec),
	}
}

// Actions returns the operations the principal may take on a person.
func (a *PersonAdapter) Actions(rec Record, p domain.Principal) []result.Action {
	if !a.CheckPermission(rec, p, ActionView) {
		return nil
	}
	actions := []result.Action{
		{Label: "View profile", Target: "/people/" + rec.ID, Method: "GET"},
	}
	if email := rec.Snippet; email != "" {
		actions = append(actions, result.Action{Label: "Send email", Target: "mailto:" + email, Method: "GET"})
	}
	return actions
}

// SearchableFields declares the fuzzy-comparable fields.
func (a *PersonAdapter) SearchableFields() []string {
	return []string{"full_name", "job_title", "department", "email"}
}

func personSubtitle(row personrepo.Row) string {
	switch {
	case row.JobTitle != "" && row.Department != "":
		return row.JobTitle + ", " + row.Department
	case row.JobTitle != "":
		return row.JobTitle
	default:
		return row.Department
	}
}
