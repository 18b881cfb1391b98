package adapter

import (
	"strings"
	"testing"
	"time"

	"github.com/atriumhq/omnisearch/internal/domain"
	"github.com/atriumhq/omnisearch/internal/domain/search/result"
)

func acmeRecord() Record {
	return Record{ID: "r1", TenantID: "acme", Title: "Thing"}
}

// --- Base ---

func TestBase_FailOpenWithinTenant(t *testing.T) {
	// The default permission policy allows any action within the tenant;
	// read visibility relies on the tenant filter applied at fetch time.
	p := domain.Principal{TenantID: "acme"}
	if !(Base{}).CheckPermission(acmeRecord(), p, "anything") {
		t.Error("expected fail-open allow within tenant")
	}
}

func TestBase_TenantMismatchDenies(t *testing.T) {
	p := domain.Principal{TenantID: "globex", ID: "u1"}
	if (Base{}).CheckPermission(acmeRecord(), p, ActionView) {
		t.Error("expected deny across tenants")
	}
}

// --- Metadata / formatting helpers ---

func TestMetadata_Overdue(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	rec := Record{ID: "r1", TenantID: "acme", Status: "open", DueAt: &past}

	if metadata(rec)[result.MetaOverdue] != "true" {
		t.Error("expected overdue flag for open past-due record")
	}

	rec.Status = "closed"
	if _, ok := metadata(rec)[result.MetaOverdue]; ok {
		t.Error("closed record must not be overdue")
	}

	future := time.Now().Add(time.Hour)
	rec = Record{ID: "r1", TenantID: "acme", Status: "open", DueAt: &future}
	if _, ok := metadata(rec)[result.MetaOverdue]; ok {
		t.Error("future due date must not be overdue")
	}
}

func TestMetadata_OmitsEmptyFields(t *testing.T) {
	m := metadata(Record{ID: "r1", TenantID: "acme"})
	for _, k := range []string{
		result.MetaRelevance, result.MetaCreatedAt, result.MetaPriority,
		result.MetaStatus, result.MetaOwnerID, result.MetaAssignee, result.MetaTeamID,
	} {
		if _, ok := m[k]; ok {
			t.Errorf("expected %s omitted for empty record", k)
		}
	}
}

func TestSnippet_TruncatesAtRuneBoundary(t *testing.T) {
	long := strings.Repeat("é", 300)
	got := snippet(long)
	if !strings.HasSuffix(got, "…") {
		t.Error("expected ellipsis suffix")
	}
	if len([]rune(got)) > snippetMaxLen+1 {
		t.Errorf("snippet too long: %d runes", len([]rune(got)))
	}

	if got := snippet("short"); got != "short" {
		t.Errorf("short snippet altered: %q", got)
	}
}

// --- Ticket permissions ---

func ticketRecord() Record {
	return Record{
		ID:         "t1",
		TenantID:   "acme",
		Title:      "Printer broken",
		OwnerID:    "reporter",
		AssigneeID: "assignee",
		TeamID:     "helpdesk",
	}
}

func TestTicket_ClosePermission(t *testing.T) {
	a := NewTicketAdapter(nil)
	rec := ticketRecord()

	cases := []struct {
		name string
		p    domain.Principal
		want bool
	}{
		{"reporter", domain.Principal{TenantID: "acme", ID: "reporter"}, true},
		{"assignee", domain.Principal{TenantID: "acme", ID: "assignee"}, true},
		{"team member", domain.Principal{TenantID: "acme", ID: "u9", TeamIDs: []string{"helpdesk"}}, true},
		{"stranger", domain.Principal{TenantID: "acme", ID: "u9"}, false},
		{"anonymous", domain.Principal{TenantID: "acme"}, false},
		{"other tenant", domain.Principal{TenantID: "globex", ID: "reporter"}, false},
	}
	for _, c := range cases {
		if got := a.CheckPermission(rec, c.p, actionClose); got != c.want {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, got)
		}
	}
}

func TestTicket_AssignRequiresIdentity(t *testing.T) {
	a := NewTicketAdapter(nil)
	rec := ticketRecord()

	if a.CheckPermission(rec, domain.Principal{TenantID: "acme"}, actionAssign) {
		t.Error("anonymous must not assign")
	}
	if !a.CheckPermission(rec, domain.Principal{TenantID: "acme", ID: "u1"}, actionAssign) {
		t.Error("authenticated user should assign")
	}
}

func TestTicket_ActionsOmitUnauthorized(t *testing.T) {
	a := NewTicketAdapter(nil)
	rec := ticketRecord()

	// A stranger in the tenant can view and self-assign but not close.
	actions := a.Actions(rec, domain.Principal{TenantID: "acme", ID: "u9"})
	labels := make([]string, 0, len(actions))
	for _, act := range actions {
		labels = append(labels, act.Label)
	}
	if len(actions) != 2 {
		t.Fatalf("expected view+assign, got %v", labels)
	}
	for _, act := range actions {
		if act.Label == "Close ticket" {
			t.Error("close must be omitted for strangers")
		}
	}

	// Cross-tenant principals get nothing.
	if got := a.Actions(rec, domain.Principal{TenantID: "globex", ID: "u1"}); got != nil {
		t.Errorf("expected no actions across tenants, got %v", got)
	}
}

// --- Work order permissions ---

func TestWorkOrder_CompletePermission(t *testing.T) {
	a := NewWorkOrderAdapter(nil)
	rec := Record{
		ID:         "w1",
		TenantID:   "acme",
		AssigneeID: "tech",
		TeamID:     "facilities",
	}

	cases := []struct {
		name string
		p    domain.Principal
		want bool
	}{
		{"assigned tech", domain.Principal{TenantID: "acme", ID: "tech"}, true},
		{"team member", domain.Principal{TenantID: "acme", ID: "u2", TeamIDs: []string{"facilities"}}, true},
		{"stranger", domain.Principal{TenantID: "acme", ID: "u3"}, false},
		{"anonymous", domain.Principal{TenantID: "acme"}, false},
	}
	for _, c := range cases {
		if got := a.CheckPermission(rec, c.p, actionComplete); got != c.want {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, got)
		}
	}
}

// --- Formatting ---

func TestFormat_EmptyOptionalFields(t *testing.T) {
	a := NewPersonAdapter(nil)
	r := a.Format(Record{ID: "p1", TenantID: "acme", Title: "Jane Doe"})

	if r.Title != "Jane Doe" {
		t.Errorf("title: %q", r.Title)
	}
	if r.Subtitle != "" || r.Snippet != "" {
		t.Errorf("expected empty optional fields, got subtitle %q snippet %q", r.Subtitle, r.Snippet)
	}
	if r.Entity != domain.EntityPerson {
		t.Errorf("entity: %s", r.Entity)
	}
}

func TestPersonActions_EmailOnlyWhenPresent(t *testing.T) {
	a := NewPersonAdapter(nil)
	p := domain.Principal{TenantID: "acme", ID: "u1"}

	with := a.Actions(Record{ID: "p1", TenantID: "acme", Snippet: "jane@acme.test"}, p)
	if len(with) != 2 {
		t.Errorf("expected view+email, got %d actions", len(with))
	}

	without := a.Actions(Record{ID: "p1", TenantID: "acme"}, p)
	if len(without) != 1 {
		t.Errorf("expected view only, got %d actions", len(without))
	}
}
