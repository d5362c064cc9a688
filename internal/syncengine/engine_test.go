package syncengine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ticketfs/ticketfs/internal/memcache"
	"github.com/ticketfs/ticketfs/internal/store"
	"github.com/ticketfs/ticketfs/internal/syncstate"
	"github.com/ticketfs/ticketfs/internal/upstream"
)

func strPtr(s string) *string { return &s }

func newTestEngine(t *testing.T, client upstream.Client, workspaces []Workspace, budget int) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	c := memcache.New(0, 0, s)
	st := syncstate.New(0)
	return New(client, s, c, st, workspaces, budget, 0), s
}

// Scenario E: order-clause split.
func TestSplitJQLOrderByNoOrder(t *testing.T) {
	filter, order, hasOrder := SplitJQLOrderBy("project = DEVO")
	if filter != "project = DEVO" || hasOrder || order != "" {
		t.Fatalf("got (%q, %q, %v)", filter, order, hasOrder)
	}
}

func TestSplitJQLOrderByWithOrder(t *testing.T) {
	filter, order, hasOrder := SplitJQLOrderBy("project in (DEVO, DATA) ORDER BY updated DESC")
	if filter != "project in (DEVO, DATA)" || !hasOrder || order != "ORDER BY updated DESC" {
		t.Fatalf("got (%q, %q, %v)", filter, order, hasOrder)
	}
}

func TestSplitJQLOrderByCaseInsensitive(t *testing.T) {
	filter, order, hasOrder := SplitJQLOrderBy("project = X order by updated asc")
	if filter != "project = X" || !hasOrder || order != "order by updated asc" {
		t.Fatalf("got (%q, %q, %v)", filter, order, hasOrder)
	}
}

func TestRunOnceInitialSyncCachesIssuesAndAdvancesCursor(t *testing.T) {
	fc := upstream.NewFakeClient(
		upstream.Issue{Key: "PROJ-2", Updated: strPtr("2024-02-01T00:00:00Z"), Markdown: []byte("# 2")},
		upstream.Issue{Key: "PROJ-1", Updated: strPtr("2024-01-01T00:00:00Z"), Markdown: []byte("# 1")},
	)
	engine, s := newTestEngine(t, fc, []Workspace{{Name: "PROJ", Query: "project = PROJ"}}, 100)

	result := engine.RunOnce(context.Background(), false)
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if result.IssuesCached != 2 {
		t.Fatalf("IssuesCached = %d, want 2", result.IssuesCached)
	}

	cursor, found, err := s.GetCursor(context.Background(), "PROJ")
	if err != nil || !found {
		t.Fatalf("GetCursor: found=%v err=%v", found, err)
	}
	if cursor != "2024-02-01T00:00:00Z" {
		t.Fatalf("cursor = %q, want the first page issue's updated value", cursor)
	}

	issue, found, err := s.GetIssue(context.Background(), "PROJ-1")
	if err != nil || !found {
		t.Fatalf("GetIssue(PROJ-1): found=%v err=%v", found, err)
	}
	if string(issue.Markdown) != "# 1" {
		t.Errorf("Markdown = %q", issue.Markdown)
	}
}

// Property 2: n successive no-op passes leave the cursor unchanged and
// issues_cached = 0.
func TestRunOnceNoOpPassLeavesCursorUnchanged(t *testing.T) {
	fc := upstream.NewFakeClient(
		upstream.Issue{Key: "PROJ-1", Updated: strPtr("2024-01-01T00:00:00Z"), Markdown: []byte("# 1")},
	)
	engine, s := newTestEngine(t, fc, []Workspace{{Name: "PROJ", Query: "project = PROJ"}}, 100)

	first := engine.RunOnce(context.Background(), false)
	if first.IssuesCached != 1 {
		t.Fatalf("first pass IssuesCached = %d, want 1", first.IssuesCached)
	}
	cursorAfterFirst, _, _ := s.GetCursor(context.Background(), "PROJ")

	for i := 0; i < 3; i++ {
		result := engine.RunOnce(context.Background(), false)
		if result.IssuesCached != 0 {
			t.Fatalf("pass %d: IssuesCached = %d, want 0", i, result.IssuesCached)
		}
		if len(result.Errors) != 0 {
			t.Fatalf("pass %d: unexpected errors: %v", i, result.Errors)
		}
		cursor, _, _ := s.GetCursor(context.Background(), "PROJ")
		if cursor != cursorAfterFirst {
			t.Fatalf("pass %d: cursor changed from %q to %q on a no-op pass", i, cursorAfterFirst, cursor)
		}
	}
}

func TestRunOnceBudgetBoundedEarlyExit(t *testing.T) {
	a := upstream.NewFakeClient(
		upstream.Issue{Key: "AAA-1", Updated: strPtr("2024-01-01T00:00:00Z"), Markdown: []byte("a1")},
		upstream.Issue{Key: "AAA-2", Updated: strPtr("2024-01-02T00:00:00Z"), Markdown: []byte("a2")},
	)
	b := upstream.NewFakeClient(
		upstream.Issue{Key: "BBB-1", Updated: strPtr("2024-01-01T00:00:00Z"), Markdown: []byte("b1")},
	)
	client := &routingClient{routes: map[string]upstream.Client{"AAA": a, "BBB": b}}

	engine, s := newTestEngine(t, client, []Workspace{
		{Name: "AAA", Query: "project = AAA"},
		{Name: "BBB", Query: "project = BBB"},
	}, 1)

	result := engine.RunOnce(context.Background(), false)
	if result.IssuesCached != 1 {
		t.Fatalf("IssuesCached = %d, want 1 (budget-bounded)", result.IssuesCached)
	}

	if _, found, _ := s.GetIssue(context.Background(), "BBB-1"); found {
		t.Fatal("BBB-1 should not have been synced once the budget was exhausted by AAA")
	}
}

func TestRunOncePerWorkspaceErrorsDoNotAbortOtherWorkspaces(t *testing.T) {
	good := upstream.NewFakeClient(upstream.Issue{Key: "GOOD-1", Updated: strPtr("2024-01-01T00:00:00Z"), Markdown: []byte("ok")})
	bad := upstream.NewFakeClient()
	bad.SetErr(errors.New("upstream unavailable"))
	client := &routingClient{routes: map[string]upstream.Client{"GOOD": good, "BAD": bad}}

	engine, s := newTestEngine(t, client, []Workspace{
		{Name: "BAD", Query: "project = BAD"},
		{Name: "GOOD", Query: "project = GOOD"},
	}, 100)

	result := engine.RunOnce(context.Background(), false)
	if len(result.Errors) != 1 {
		t.Fatalf("Errors = %v, want exactly 1", result.Errors)
	}
	if result.IssuesCached != 1 {
		t.Fatalf("IssuesCached = %d, want 1 (GOOD still synced)", result.IssuesCached)
	}
	if _, found, _ := s.GetIssue(context.Background(), "GOOD-1"); !found {
		t.Fatal("GOOD-1 should have synced despite BAD's failure")
	}
}

func TestRunOnceMissingDurableStoreReturnsError(t *testing.T) {
	fc := upstream.NewFakeClient()
	c := memcache.New(0, 0, nil)
	st := syncstate.New(0)
	engine := New(fc, nil, c, st, []Workspace{{Name: "PROJ", Query: "project = PROJ"}}, 100, 0)

	result := engine.RunOnce(context.Background(), false)
	if len(result.Errors) != 1 {
		t.Fatalf("Errors = %v, want exactly 1", result.Errors)
	}
	if result.IssuesCached != 0 {
		t.Fatalf("IssuesCached = %d, want 0", result.IssuesCached)
	}
}

func TestTriggerInitialSyncClaimsSingleWriterSlot(t *testing.T) {
	issues := []upstream.Issue{{Key: "PROJ-1", Updated: strPtr("100"), Markdown: []byte("# one")}}
	fc := upstream.NewFakeClient(issues...)
	engine, _ := newTestEngine(t, fc, []Workspace{{Name: "PROJ", Query: "project = PROJ"}}, 100)

	result := engine.TriggerInitialSync(context.Background())
	if result.IssuesCached != 1 {
		t.Fatalf("IssuesCached = %d, want 1", result.IssuesCached)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("Errors = %v, want none", result.Errors)
	}
}

func TestSeedWorkspaceListingsUpsertsRefsFromEachWorkspace(t *testing.T) {
	fc := upstream.NewFakeClient(
		upstream.Issue{Key: "PROJ-2", Updated: strPtr("2024-02-01T00:00:00Z"), Markdown: []byte("# 2")},
		upstream.Issue{Key: "PROJ-1", Updated: strPtr("2024-01-01T00:00:00Z"), Markdown: []byte("# 1")},
	)
	engine, _ := newTestEngine(t, fc, []Workspace{{Name: "PROJ", Query: "project = PROJ"}}, 100)

	seeded := engine.SeedWorkspaceListings(context.Background())
	if seeded != 1 {
		t.Fatalf("seeded = %d, want 1", seeded)
	}

	snap := engine.cache.GetProjectIssuesSnapshot("PROJ")
	if len(snap.Issues) != 2 {
		t.Fatalf("got %d seeded refs, want 2", len(snap.Issues))
	}
}

func TestSeedWorkspaceListingsSkipsFailingWorkspace(t *testing.T) {
	fc := upstream.NewFakeClient()
	fc.SetErr(errors.New("upstream unavailable"))
	engine, _ := newTestEngine(t, fc, []Workspace{{Name: "PROJ", Query: "project = PROJ"}}, 100)

	seeded := engine.SeedWorkspaceListings(context.Background())
	if seeded != 0 {
		t.Fatalf("seeded = %d, want 0", seeded)
	}
}

// routingClient dispatches to a sub-client keyed by a substring of the query.
type routingClient struct {
	routes map[string]upstream.Client
}

func (r *routingClient) ListIssueRefsForJQL(ctx context.Context, query string) ([]upstream.IssueRef, error) {
	for k, c := range r.routes {
		if strings.Contains(query, k) {
			return c.ListIssueRefsForJQL(ctx, query)
		}
	}
	return nil, nil
}

func (r *routingClient) SearchIssuesBulk(ctx context.Context, query string, pageSize int) ([]upstream.Issue, error) {
	for k, c := range r.routes {
		if strings.Contains(query, k) {
			return c.SearchIssuesBulk(ctx, query, pageSize)
		}
	}
	return nil, nil
}
