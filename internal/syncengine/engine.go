// Package syncengine drives cursor-based incremental (and initial, full)
// sync passes against an upstream.Client, one page per workspace per
// pass, writing batched results into the memory cache and durable store.
// Rate limiting is proactive (golang.org/x/time/rate) rather than
// reactive to a 429 response.
package syncengine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ticketfs/ticketfs/internal/memcache"
	"github.com/ticketfs/ticketfs/internal/store"
	"github.com/ticketfs/ticketfs/internal/syncstate"
	"github.com/ticketfs/ticketfs/internal/upstream"
)

// Workspace names one configured workspace and the base query (JQL-like)
// that selects its issues.
type Workspace struct {
	Name  string
	Query string
}

// SyncResult summarizes one RunOnce pass.
type SyncResult struct {
	IssuesCached int
	Errors       []error
}

// Engine is the background sync driver. One Engine serves every
// configured workspace; callers run it via Run (a background loop) or
// drive RunOnce directly (as tests do).
type Engine struct {
	client  upstream.Client
	durable *store.Store
	cache   *memcache.Cache
	state   *syncstate.State

	workspaces []Workspace
	budget     int
	limiter    *rate.Limiter
}

// New builds an Engine. requestsPerSecond <= 0 disables pacing.
func New(client upstream.Client, durable *store.Store, cache *memcache.Cache, state *syncstate.State, workspaces []Workspace, budget int, requestsPerSecond float64) *Engine {
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return &Engine{
		client:     client,
		durable:    durable,
		cache:      cache,
		state:      state,
		workspaces: workspaces,
		budget:     budget,
		limiter:    limiter,
	}
}

// Run loops until ctx is canceled, ticking once a second to check manual
// triggers and the scheduled interval (held by the sync-state
// coordinator), running at most one sync pass at a time via its
// single-writer discipline.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			forceFull := e.state.CheckAndClearManualFullTrigger()
			manual := e.state.CheckAndClearManualTrigger()
			due := e.state.SecondsUntilNextSync() == 0
			if !forceFull && !manual && !due {
				continue
			}
			e.runGuarded(ctx, forceFull)
		}
	}
}

// TriggerInitialSync claims the single-writer slot and runs one full
// sync pass, for the filesystem view's mount-time initial-sync hook.
func (e *Engine) TriggerInitialSync(ctx context.Context) SyncResult {
	return e.runGuarded(ctx, true)
}

// SeedWorkspaceListings populates each workspace's directory listing with
// a fast ref-only query before the first full sync pass completes, so
// projects/<workspace>/ isn't empty while RunOnce is still working
// through its page budget. A workspace that fails to list is logged and
// skipped; it will still pick up issues once RunOnce reaches it.
// Returns the number of workspaces successfully seeded.
func (e *Engine) SeedWorkspaceListings(ctx context.Context) int {
	seeded := 0
	for _, ws := range e.workspaces {
		refs, err := e.client.ListIssueRefsForJQL(ctx, ws.Query)
		if err != nil {
			log.Printf("[syncengine] seed listing for %s failed: %v", ws.Name, err)
			continue
		}
		e.cache.UpsertProjectIssues(ws.Name, refs)
		log.Printf("[syncengine] seeded %s: %d issue refs", ws.Name, len(refs))
		seeded++
	}
	return seeded
}

// runGuarded claims the single-writer slot and runs one pass, losing
// the race silently if another pass is already in flight.
func (e *Engine) runGuarded(ctx context.Context, forceFull bool) SyncResult {
	if !e.state.MarkSyncStart() {
		return SyncResult{}
	}
	defer e.state.MarkSyncEnd()

	result := e.RunOnce(ctx, forceFull)
	e.state.MarkSyncComplete()
	if forceFull {
		e.state.MarkFullSyncComplete()
	}
	return result
}

// RunOnce drives a single sync pass across every configured workspace,
// in order, until the budget is exhausted. It does not itself enforce
// the single-writer discipline; callers that share an Engine across
// goroutines should go through Run or runGuarded.
func (e *Engine) RunOnce(ctx context.Context, forceFull bool) SyncResult {
	passID := uuid.New().String()
	log.Printf("[syncengine] pass %s starting (force_full=%v, workspaces=%d)", passID, forceFull, len(e.workspaces))

	var result SyncResult
	if e.durable == nil {
		err := fmt.Errorf("syncengine: durable store not configured")
		result.Errors = append(result.Errors, err)
		log.Printf("[syncengine] pass %s aborted: %v", passID, err)
		return result
	}

	for _, ws := range e.workspaces {
		if result.IssuesCached >= e.budget {
			break
		}
		cached, err := e.syncWorkspace(ctx, ws, forceFull, e.budget-result.IssuesCached)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", ws.Name, err))
			continue
		}
		result.IssuesCached += cached
	}

	log.Printf("[syncengine] pass %s done: issues_cached=%d errors=%d", passID, result.IssuesCached, len(result.Errors))
	return result
}

// syncWorkspace performs the single-page pull and upsert for one
// workspace, returning the number of issues actually cached.
func (e *Engine) syncWorkspace(ctx context.Context, ws Workspace, forceFull bool, remainingBudget int) (int, error) {
	var cursor string
	if !forceFull {
		if c, found, err := e.durable.GetCursor(ctx, ws.Name); err == nil && found {
			cursor = c
		}
	}

	filter, orderClause, hasOrder := SplitJQLOrderBy(ws.Query)
	query := strings.TrimSpace(ws.Query)
	if cursor != "" {
		if !hasOrder {
			orderClause = "ORDER BY updated DESC"
		}
		query = fmt.Sprintf(`(%s) AND updated > "%s" %s`, filter, cursor, orderClause)
	}

	pageSize := e.budget
	if pageSize > 100 {
		pageSize = 100
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	page, err := e.client.SearchIssuesBulk(ctx, query, pageSize)
	if err != nil {
		return 0, err
	}

	e.mergeProjectIssues(ws.Name, cursor == "", page)

	if len(page) == 0 {
		log.Printf("[syncengine] workspace %s: no changes", ws.Name)
		return 0, nil
	}

	take := len(page)
	if take > remainingBudget {
		take = remainingBudget
	}
	batch := page[:take]

	issueRows := make([]store.IssueUpsert, len(batch))
	sidecarRows := make([]store.SidecarUpsert, len(batch))
	for i, issue := range batch {
		issueRows[i] = store.IssueUpsert{Key: issue.Key, Markdown: issue.Markdown, Updated: issue.Updated}
		sidecarRows[i] = store.SidecarUpsert{
			Key:              issue.Key,
			CommentsMarkdown: renderCommentsMarkdown(issue.Comments),
			CommentsJSONL:    renderCommentsJSONL(issue.Comments),
			Updated:          issue.Updated,
		}
	}

	e.cache.UpsertIssuesBatch(ctx, issueRows)
	if err := e.durable.UpsertIssueSidecarsBatch(ctx, sidecarRows); err != nil {
		return take, fmt.Errorf("upsert sidecars: %w", err)
	}

	if page[0].Updated != nil {
		if err := e.durable.SetCursor(ctx, ws.Name, *page[0].Updated); err != nil {
			return take, fmt.Errorf("set cursor: %w", err)
		}
	}

	return take, nil
}

// mergeProjectIssues folds a page of full issues into the workspace's
// cached ref list: an initial pull overwrites outright, an incremental
// pull replaces updated on matching keys, appends new ones, and
// re-sorts by key.
func (e *Engine) mergeProjectIssues(workspace string, initial bool, page []upstream.Issue) {
	refs := make([]upstream.IssueRef, len(page))
	for i, issue := range page {
		refs[i] = upstream.IssueRef{Key: issue.Key, Updated: issue.Updated}
	}

	if initial {
		sort.Slice(refs, func(i, j int) bool { return refs[i].Key < refs[j].Key })
		e.cache.UpsertProjectIssues(workspace, refs)
		return
	}

	existing := e.cache.GetProjectIssuesSnapshot(workspace).Issues
	byKey := make(map[string]int, len(existing))
	merged := make([]upstream.IssueRef, len(existing))
	copy(merged, existing)
	for i, r := range merged {
		byKey[r.Key] = i
	}
	for _, r := range refs {
		if idx, ok := byKey[r.Key]; ok {
			merged[idx] = r
		} else {
			byKey[r.Key] = len(merged)
			merged = append(merged, r)
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Key < merged[j].Key })
	e.cache.UpsertProjectIssues(workspace, merged)
}

// SplitJQLOrderBy locates a trailing "order by" clause case-insensitively.
// If found, it returns the preceding text (trimmed) as the filter and the
// clause itself (trimmed) as the order clause. If absent, it returns the
// trimmed query as the filter and hasOrder = false.
func SplitJQLOrderBy(query string) (filter string, orderClause string, hasOrder bool) {
	lower := strings.ToLower(query)
	idx := strings.Index(lower, "order by")
	if idx < 0 {
		return strings.TrimSpace(query), "", false
	}
	return strings.TrimSpace(query[:idx]), strings.TrimSpace(query[idx:]), true
}

// renderCommentsMarkdown renders an issue's comments as a flat markdown
// list, one heading per comment.
func renderCommentsMarkdown(comments []upstream.Comment) []byte {
	if len(comments) == 0 {
		return []byte("no comments\n")
	}
	var b strings.Builder
	for _, c := range comments {
		fmt.Fprintf(&b, "### %s\n\n%s\n\n", c.Author, c.Body)
	}
	return []byte(b.String())
}

// renderCommentsJSONL renders an issue's comments as one JSON object per
// line, mirroring store.MarshalJSONL's one-object-per-line shape.
func renderCommentsJSONL(comments []upstream.Comment) []byte {
	if len(comments) == 0 {
		return nil
	}
	var b strings.Builder
	for _, c := range comments {
		fmt.Fprintf(&b, `{"id":%q,"author":%q,"body":%q}`, c.ID, c.Author, c.Body)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
