package fsview

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/ticketfs/ticketfs/internal/store"
	"github.com/ticketfs/ticketfs/internal/upstream"
)

// issueMarkdown answers the stale-safe read path described in §4.2 with
// a fail-fast fetch (no upstream access from a kernel request thread),
// falling back to a synthesized placeholder when nothing is cached yet.
func (v *View) issueMarkdown(ctx context.Context, key string) []byte {
	fetch := func(context.Context) ([]byte, *string, error) {
		return nil, nil, syscall.EAGAIN
	}
	b, err := v.cache.GetIssueMarkdownStaleSafe(ctx, key, fetch)
	if err != nil {
		return []byte(fmt.Sprintf("# %s\n\nnot yet cached\n", key))
	}
	return b
}

// issueFileSize reports the best length estimate for an issue's main
// markdown file: the in-memory length, then the durable length, then a
// non-zero fallback so clients don't treat the file as empty.
func (v *View) issueFileSize(ctx context.Context, key string) uint64 {
	if n, ok := v.cache.CachedIssueLen(key); ok {
		return uint64(n)
	}
	if n, ok := v.cache.PersistentIssueLen(ctx, key); ok {
		return uint64(n)
	}
	return issueSizeFallback
}

// sidecarContent returns the comments-markdown and comments-jsonl bodies
// for key, falling back to placeholders when nothing has been synced. The
// jsonl placeholder is a single well-formed JSON object rather than an
// empty body, so a stat of the file and a read of it agree: both report a
// non-zero, non-misleading sidecar.
func (v *View) sidecarContent(ctx context.Context, key string) (md []byte, jsonl []byte) {
	if v.durable == nil {
		return commentsMarkdownPlaceholder(key), commentsJSONLPlaceholder(key)
	}
	sc, found, err := v.durable.GetSidecar(ctx, key)
	if err != nil || !found {
		return commentsMarkdownPlaceholder(key), commentsJSONLPlaceholder(key)
	}
	return sc.CommentsMarkdown, sc.CommentsJSONL
}

// commentsMarkdownPlaceholder is the comments-markdown body for an issue
// whose sidecar hasn't synced yet.
func commentsMarkdownPlaceholder(key string) []byte {
	return []byte(fmt.Sprintf("# %s comments\n\nComments sidecar is only populated during sync.\n", key))
}

// commentsJSONLPlaceholder is the comments-jsonl body for an issue whose
// sidecar hasn't synced yet: one JSON object, not an empty file.
func commentsJSONLPlaceholder(key string) []byte {
	return []byte(fmt.Sprintf(`{"event":"comment_sidecar_unavailable","id":%q,"reason":"populated_on_sync_only"}`+"\n", key))
}

// sidecarSizes mirrors issueFileSize for the two sidecar views.
func (v *View) sidecarSizes(ctx context.Context, key string) (mdLen, jsonlLen uint64) {
	if v.durable != nil {
		if md, jl, ok := v.cache.SidecarLens(ctx, key); ok {
			return uint64(md), uint64(jl)
		}
	}
	return sidecarSizeFallback, sidecarSizeFallback
}

// snapshotIssue reports whether the workspace's in-memory issue list
// (a non-fetching snapshot) currently contains key, per §4.5's lookup
// rule: an issue file resolves only once it appears in memory.
func (v *View) snapshotIssue(project, key string) (upstream.IssueRef, bool) {
	snap := v.cache.GetProjectIssuesSnapshot(project)
	for _, ref := range snap.Issues {
		if ref.Key == key {
			return ref, true
		}
	}
	return upstream.IssueRef{}, false
}

// deriveProject mirrors store's ticket-index derivation: the key's
// prefix up to its first '-', or "UNKNOWN" if there is none.
func deriveProject(key string) string {
	if idx := strings.Index(key, "-"); idx > 0 {
		return key[:idx]
	}
	return "UNKNOWN"
}

// buildTicketIndexJSONL produces tickets/index.jsonl's content: the
// durable ticket index in ascending key order when available, otherwise
// a synthesis from per-workspace memory snapshots with lines sorted
// lexically, matching §4.5's "otherwise synthesized" fallback.
func (v *View) buildTicketIndexJSONL(ctx context.Context) []byte {
	if v.durable != nil {
		if rows, err := v.durable.ListTicketIndex(ctx, nil); err == nil {
			b, err := store.MarshalJSONL(rows)
			if err == nil {
				return b
			}
		}
	}

	var rows []store.TicketIndexRow
	for _, ws := range v.workspaces {
		snap := v.cache.GetProjectIssuesSnapshot(ws)
		for _, ref := range snap.Issues {
			project := deriveProject(ref.Key)
			rows = append(rows, store.TicketIndexRow{
				ID:        ref.Key,
				Project:   project,
				UpdatedAt: ref.Updated,
				Path:      fmt.Sprintf("projects/%s/%s.md", project, ref.Key),
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}

	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		b, err := store.MarshalJSONL([]store.TicketIndexRow{r})
		if err != nil {
			continue
		}
		lines = append(lines, strings.TrimRight(string(b), "\n"))
	}
	sort.Strings(lines)
	return []byte(strings.Join(lines, "\n") + "\n")
}

// logSyncSummary renders a sync pass's cached-issue count with
// thousands separators for the initial-sync-at-mount log line.
func logSyncSummary(issuesCached int) string {
	return humanize.Comma(int64(issuesCached))
}
