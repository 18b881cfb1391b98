package result

import "github.com/atriumhq/omnisearch/internal/domain"

// Metadata keys read by the ranking engine. Adapters populate these from
// entity-specific fields; absent keys fall back to documented defaults.
const (
	MetaRelevance = "relevance"
	MetaCreatedAt = "created_at"
	MetaPriority  = "priority"
	MetaStatus    = "status"
	MetaOverdue   = "overdue"
	MetaOwnerID   = "owner_id"
	MetaAssignee  = "assignee_id"
	MetaTeamID    = "team_id"
)

// Action is one operation the principal may take on a result.
type Action struct {
	Label   string            `json:"label"`
	Target  string            `json:"target"`
	Method  string            `json:"method"`
	Payload map[string]string `json:"payload,omitempty"`
}

// Result is a single formatted search hit. Score is assigned by the ranking
// engine, never by adapters.
type Result struct {
	Entity   domain.Entity     `json:"entity"`
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Subtitle string            `json:"subtitle"`
	Snippet  string            `json:"snippet"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Actions  []Action          `json:"actions"`
}

// Response is the full search response returned to the caller.
type Response struct {
	Results        []Result `json:"results"`
	TotalResults   int      `json:"totalResults"`
	ResponseTimeMs int64    `json:"responseTimeMs"`
	QueryID        string   `json:"queryId"`
	FromCache      bool     `json:"fromCache"`
	Error          string   `json:"error,omitempty"`
}
