package upstream

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// FakeClient is an in-memory Client used by tests. It is not a
// production implementation of the upstream collaborator.
type FakeClient struct {
	mu     sync.Mutex
	issues []Issue // ordered as SearchIssuesBulk should return them
	err    error
}

// NewFakeClient builds a FakeClient that returns issues in the given
// order (the order SearchIssuesBulk will hand them back in, page by
// page, for queries using the default ORDER BY updated DESC clause).
func NewFakeClient(issues ...Issue) *FakeClient {
	return &FakeClient{issues: issues}
}

// SetErr makes every subsequent call fail with err until cleared.
func (f *FakeClient) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// SetIssues replaces the backing issue list.
func (f *FakeClient) SetIssues(issues []Issue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issues = issues
}

func (f *FakeClient) ListIssueRefsForJQL(ctx context.Context, query string) ([]IssueRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	refs := make([]IssueRef, len(f.issues))
	for i, iss := range f.issues {
		refs[i] = IssueRef{Key: iss.Key, Updated: iss.Updated}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Key < refs[j].Key })
	return refs, nil
}

// SearchIssuesBulk keeps the issues whose updated value is strictly
// greater (lexically) than any "updated > "..."" clause present, then
// returns up to pageSize of them in the fake's configured order
// (newest-first, matching how a real tracker responds to the default
// ORDER BY updated DESC). Any project filter in the query is ignored:
// every backing issue is a candidate, whatever the query names.
func (f *FakeClient) SearchIssuesBulk(ctx context.Context, query string, pageSize int) ([]Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	cursor := extractCursor(query)
	var out []Issue
	for _, iss := range f.issues {
		if cursor != "" {
			if iss.Updated == nil || !(*iss.Updated > cursor) {
				continue
			}
		}
		out = append(out, iss)
		if len(out) >= pageSize {
			break
		}
	}
	return out, nil
}

// extractCursor pulls the quoted value out of an `updated > "..."` clause,
// mirroring the shape the sync engine composes in its incremental query.
func extractCursor(query string) string {
	const marker = `updated > "`
	idx := strings.Index(query, marker)
	if idx < 0 {
		return ""
	}
	rest := query[idx+len(marker):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return ""
	}
	return rest[:end]
}
