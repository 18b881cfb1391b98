package adapter

import (
	"context"
	"fmt"

	"github.com/atriumhq/omnisearch/internal/domain"
	"github.com/atriumhq/omnisearch/internal/domain/search/result"
	ticketrepo "github.com/atriumhq/omnisearch/internal/repository/ticket"
)

// Ticket actions beyond view.
const (
	actionAssign = "assign"
	actionClose  = "close"
)

// ticketStore is the consumer interface for ticket lookups (ISP).
type ticketStore interface {
	Search(ctx context.Context, tenantID, text string, filters map[string]string, limit int) ([]ticketrepo.Row, error)
}

// TicketAdapter searches helpdesk tickets and enforces its own write-action
// permissions (close/assign restricted to the reporter, assignee, or team).
type TicketAdapter struct {
	Base
	store ticketStore
}

// NewTicketAdapter creates a ticket adapter.
func NewTicketAdapter(s ticketStore) *TicketAdapter {
	return &TicketAdapter{store: s}
}

// Name returns the entity type.
func (a *TicketAdapter) Name() domain.Entity { return domain.EntityTicket }

// FetchCandidates returns tenant-scoped ticket matches.
func (a *TicketAdapter) FetchCandidates(
	ctx context.Context, tenantID, text string, filters map[string]string, limit int,
) ([]Record, error) {
	rows, err := a.store.Search(ctx, tenantID, text, filters, limit)
	if err != nil {
		return nil, fmt.Errorf("ticket search: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, Record{
			ID:         row.ID,
			TenantID:   row.TenantID,
			Title:      row.Title,
			Subtitle:   ticketSubtitle(row),
			Snippet:    row.Body,
			Relevance:  floatPtr(row.Relevance.Valid, row.Relevance.Float64),
			OwnerID:    row.ReporterID,
			AssigneeID: row.AssigneeID,
			TeamID:     row.TeamID,
			Priority:   row.Priority,
			Status:     row.Status,
			CreatedAt:  row.CreatedAt,
			DueAt:      timePtr(row.DueAt.Valid, row.DueAt.Time),
		})
	}
	return records, nil
}

// Format maps a ticket record to a search result.
func (a *TicketAdapter) Format(rec Record) result.Result {
	return result.Result{
		Entity:   domain.EntityTicket,
		ID:       rec.ID,
		Title:    rec.Title,
		Subtitle: rec.Subtitle,
		Snippet:  snippet(rec.Snippet),
		Metadata: metadata(rec),
	}
}

// Actions returns the operations the principal may take on a ticket.
// Unauthorized actions are omitted silently.
func (a *TicketAdapter) Actions(rec Record, p domain.Principal) []result.Action {
	if !a.CheckPermission(rec, p, ActionView) {
		return nil
	}
	actions := []result.Action{
		{Label: "View ticket", Target: "/tickets/" + rec.ID, Method: "GET"},
	}
	if a.CheckPermission(rec, p, actionAssign) {
		actions = append(actions, result.Action{
			Label:   "Assign to me",
			Target:  "/tickets/" + rec.ID + "/assignee",
			Method:  "PUT",
			Payload: map[string]string{"assignee_id": p.ID},
		})
	}
	if a.CheckPermission(rec, p, actionClose) {
		actions = append(actions, result.Action{
			Label:  "Close ticket",
			Target: "/tickets/" + rec.ID + "/close",
			Method: "POST",
		})
	}
	return actions
}

// CheckPermission restricts write actions to involved principals; view stays
// tenant-wide.
func (a *TicketAdapter) CheckPermission(rec Record, p domain.Principal, action string) bool {
	if rec.TenantID != p.TenantID {
		return false
	}
	switch action {
	case actionAssign:
		return !p.IsAnonymous()
	case actionClose:
		return p.ID != "" && (p.ID == rec.OwnerID || p.ID == rec.AssigneeID || p.InTeam(rec.TeamID))
	default:
		return true
	}
}

// SearchableFields declares the fuzzy-comparable fields.
func (a *TicketAdapter) SearchableFields() []string {
	return []string{"title", "body", "status", "priority"}
}

func ticketSubtitle(row ticketrepo.Row) string {
	if row.Priority == "" {
		return row.Status
	}
	return row.Status + " · " + row.Priority
}
