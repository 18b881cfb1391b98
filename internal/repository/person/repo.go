package person

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Row is a person record as stored in Postgres.
type Row struct {
	ID         string
	TenantID   string
	FullName   string
	JobTitle   string
	Department string
	Email      string
	TeamID     string
	CreatedAt  time.Time
	Relevance  sql.NullFloat64
}

// filterColumns maps filter bag keys to queryable columns. Unknown keys are
// ignored so that an over-broad filter bag never breaks the query.
var filterColumns = map[string]string{
	"department": "department",
	"team":       "team_id",
}

// Repository reads tenant-scoped person records.
type Repository struct {
	db *sql.DB
}

// New creates a person repository.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Search returns at most limit people for the tenant. With query text it runs
// full-text search ordered by ts_rank (returned as the relevance hint);
// with empty text it returns the filtered set ordered by recency.
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

	selectCols := "id, tenant_id, full_name, job_title, department, email, team_id, created_at"
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
		"SELECT %s FROM people WHERE %s ORDER BY %s LIMIT $%d",
		selectCols, strings.Join(where, " AND "), orderBy, argIdx,
	)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query people: %w", err)
	}
	defer rows.Close()

	out := make([]Row, 0, limit)
	for rows.Next() {
		var row Row
		if err := rows.Scan(
			&row.ID, &row.TenantID, &row.FullName, &row.JobTitle,
			&row.Department, &row.Email, &row.TeamID, &row.CreatedAt, &row.Relevance,
		); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate people: %w", err)
	}
	return out, nil
}
