package adapter

import (
	"context"
	"fmt"

	"github.com/atriumhq/omnisearch/internal/domain"
	"github.com/atriumhq/omnisearch/internal/domain/search/result"
	workorderrepo "github.com/atriumhq/omnisearch/internal/repository/workorder"
)

const actionComplete = "complete"

// workOrderStore is the consumer interface for work order lookups (ISP).
type workOrderStore interface {
	Search(ctx context.Context, tenantID, text string, filters map[string]string, limit int) ([]workorderrepo.Row, error)
}

// WorkOrderAdapter searches maintenance work orders.
type WorkOrderAdapter struct {
	Base
	store workOrderStore
}

// NewWorkOrderAdapter creates a work order adapter.
func NewWorkOrderAdapter(s workOrderStore) *WorkOrderAdapter {
	return &WorkOrderAdapter{store: s}
}

// Name returns the entity type.
func (a *WorkOrderAdapter) Name() domain.Entity { return domain.EntityWorkOrder }

// FetchCandidates returns tenant-scoped work order matches.
func (a *WorkOrderAdapter) FetchCandidates(
	ctx context.Context, tenantID, text string, filters map[string]string, limit int,
) ([]Record, error) {
	rows, err := a.store.Search(ctx, tenantID, text, filters, limit)
	if err != nil {
		return nil, fmt.Errorf("work order search: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, Record{
			ID:         row.ID,
			TenantID:   row.TenantID,
			Title:      row.Title,
			Subtitle:   workOrderSubtitle(row),
			Snippet:    row.Description,
			Relevance:  floatPtr(row.Relevance.Valid, row.Relevance.Float64),
			OwnerID:    row.RequestedBy,
			AssigneeID: row.AssignedTo,
			TeamID:     row.TeamID,
			Priority:   row.Priority,
			Status:     row.Status,
			CreatedAt:  row.CreatedAt,
			DueAt:      timePtr(row.DueAt.Valid, row.DueAt.Time),
			Extra:      map[string]string{"location": row.Location},
		})
	}
	return records, nil
}

// Format maps a work order record to a search result.
func (a *WorkOrderAdapter) Format(rec Record) result.Result {
	return result.Result{
		Entity:   domain.EntityWorkOrder,
		ID:       rec.ID,
		Title:    rec.Title,
		Subtitle: rec.Subtitle,
		Snippet:  snippet(rec.Snippet),
		Metadata: metadata(rec),
	}
}

// Actions returns the operations the principal may take on a work order.
func (a *WorkOrderAdapter) Actions(rec Record, p domain.Principal) []result.Action {
	if !a.CheckPermission(rec, p, ActionView) {
		return nil
	}
	actions := []result.Action{
		{Label: "View work order", Target: "/work-orders/" + rec.ID, Method: "GET"},
	}
	if a.CheckPermission(rec, p, actionComplete) {
		actions = append(actions, result.Action{
			Label:  "Mark complete",
			Target: "/work-orders/" + rec.ID + "/complete",
			Method: "POST",
		})
	}
	return actions
}

// CheckPermission restricts completion to the assigned technician or their
// team; view stays tenant-wide.
func (a *WorkOrderAdapter) CheckPermission(rec Record, p domain.Principal, action string) bool {
	if rec.TenantID != p.TenantID {
		return false
	}
	if action == actionComplete {
		return p.ID != "" && (p.ID == rec.AssigneeID || p.InTeam(rec.TeamID))
	}
	return true
}

// SearchableFields declares the fuzzy-comparable fields.
func (a *WorkOrderAdapter) SearchableFields() []string {
	return []string{"title", "description", "location", "status"}
}

func workOrderSubtitle(row workorderrepo.Row) string {
	if row.Location == "" {
		return row.Status
	}
	return row.Status + " · " + row.Location
}
