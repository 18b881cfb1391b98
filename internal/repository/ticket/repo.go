package ticket

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Row is a ticket record as stored in Postgres.
type Row struct {
	ID         string
	TenantID   string
	Title      string
	Status     string
	Priority   string
	Body       string
	ReporterID string
	AssigneeID string
	TeamID     string
	CreatedAt  time.Time
	DueAt      sql.NullTime
	Relevance  sql.NullFloat64
}

var filterColumns = map[string]string{
	"status":   "status",
	"priority": "priority",
	"assignee": "assignee_id",
	"team":     "team_id",
}

// Repository reads tenant-scoped ticket records.
type Repository struct {
	db *sql.DB
}

// New creates a ticket repository.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Search returns at most limit tickets for the tenant, full-text ranked when
// query text is present, newest-first otherwise.
func (r *Repository) Search(
	ctx context.Context, tenantID, text string, filters map[string]string, limit int,
) ([]Row, error) {
	args := []interface{}{tenantID}
	where := []string{"tenant_id = $1"}
	argIdx := 2

	for key, val := range filters {
		col, ok := filterColumns[key]
		if !ok {
			continue
		}
		where = append(where, fmt.Sprintf("%s = $%d", col, argIdx))
		args = append(args, val)
		argIdx++
	}

	selectCols := "id, tenant_id, title, status, priority, body, reporter_id, assignee_id, team_id, created_at, due_at"
	orderBy := "created_at DESC"
	if text != "" {
		selectCols += fmt.Sprintf(", ts_rank(search_vector, plainto_tsquery('english', $%d)) AS relevance", argIdx)
		where = append(where, fmt.Sprintf("search_vector @@ plainto_tsquery('english', $%d)", argIdx))
		args = append(args, text)
		argIdx++
		orderBy = "relevance DESC"
	} else {
		selectCols += ", NULL::float AS relevance"
	}

	args = append(args, limit)
	q := fmt.Sprintf(
		"SELECT %s FROM tickets WHERE %s ORDER BY %s LIMIT $%d",
		selectCols, strings.Join(where, " AND "), orderBy, argIdx,
	)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	out := make([]Row, 0, limit)
	for rows.Next() {
		var row Row
		if err := rows.Scan(
			&row.ID, &row.TenantID, &row.Title, &row.Status, &row.Priority, &row.Body,
			&row.ReporterID, &row.AssigneeID, &row.TeamID, &row.CreatedAt, &row.DueAt, &row.Relevance,
		); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return out, nil
}
