// Package upstream defines the contract ticketfs needs from a remote
// issue-tracker client. The production client (authenticating against a
// real Jira-like API and rendering an issue's markdown body) is an
// external collaborator out of scope for this module; ticketfs depends
// only on the interface below.
package upstream

import "context"

// IssueRef is a lightweight pointer to an issue. Updated is an opaque
// upstream timestamp used only for equality and ordering.
type IssueRef struct {
	Key     string
	Updated *string
}

// Comment is a single comment on an issue, rendered by the sync engine
// into the comments-markdown and comments-jsonl sidecar views.
type Comment struct {
	ID     string
	Author string
	Body   string
}

// Issue carries enough of an upstream issue to render its markdown body
// and comment sidecars. Real issue-tracker payloads carry many more
// fields; ticketfs's core only needs what it persists.
type Issue struct {
	Key      string
	Updated  *string
	Markdown []byte
	Comments []Comment
}

// PageInfo describes whether more results remain after a page.
type PageInfo struct {
	HasNextPage bool
	EndCursor   string
}

// Client is the external collaborator contract (spec.md §6). A
// production implementation authenticates against the real tracker API;
// ticketfs's tests run against FakeClient.
type Client interface {
	// ListIssueRefsForJQL returns lightweight issue pointers for a query.
	ListIssueRefsForJQL(ctx context.Context, query string) ([]IssueRef, error)

	// SearchIssuesBulk returns up to pageSize full issues for a query.
	// When query uses the default order clause, the upstream is assumed
	// to return newest-updated-first.
	SearchIssuesBulk(ctx context.Context, query string, pageSize int) ([]Issue, error)
}
