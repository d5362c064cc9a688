package fsview

import (
	"context"
	"strings"
	"testing"

	"github.com/ticketfs/ticketfs/internal/upstream"
)

func strPtr(s string) *string { return &s }

func TestDeriveProjectFromKey(t *testing.T) {
	cases := map[string]string{
		"PROJ-123": "PROJ",
		"X-1":      "X",
		"noproject": "UNKNOWN",
		"-1":        "UNKNOWN",
	}
	for key, want := range cases {
		if got := deriveProject(key); got != want {
			t.Errorf("deriveProject(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestSnapshotIssueFindsCachedRef(t *testing.T) {
	v := newTestView(t, "PROJ")
	v.cache.UpsertProjectIssues("PROJ", []upstream.IssueRef{
		{Key: "PROJ-1", Updated: strPtr("100")},
		{Key: "PROJ-2", Updated: strPtr("200")},
	})

	ref, found := v.snapshotIssue("PROJ", "PROJ-2")
	if !found {
		t.Fatal("expected PROJ-2 to be found in snapshot")
	}
	if ref.Key != "PROJ-2" {
		t.Fatalf("got key %q", ref.Key)
	}

	if _, found := v.snapshotIssue("PROJ", "PROJ-999"); found {
		t.Fatal("expected PROJ-999 to be absent")
	}
}

func TestBuildTicketIndexJSONLFromDurable(t *testing.T) {
	v := newTestView(t, "PROJ")
	ctx := context.Background()
	if err := v.durable.UpsertIssue(ctx, "PROJ-1", []byte("# one"), strPtr("100")); err != nil {
		t.Fatalf("UpsertIssue: %v", err)
	}
	if err := v.durable.UpsertIssue(ctx, "PROJ-2", []byte("# two"), strPtr("200")); err != nil {
		t.Fatalf("UpsertIssue: %v", err)
	}

	out := string(v.buildTicketIndexJSONL(ctx))
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), out)
	}
	if !strings.Contains(lines[0], "PROJ-1") || !strings.Contains(lines[1], "PROJ-2") {
		t.Fatalf("expected ascending key order, got %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("expected trailing newline on non-empty index")
	}
}

func TestBuildTicketIndexJSONLSynthesizedFromMemory(t *testing.T) {
	v := newTestView(t, "PROJ")
	v.durable = nil
	v.cache.UpsertProjectIssues("PROJ", []upstream.IssueRef{
		{Key: "PROJ-2", Updated: strPtr("200")},
		{Key: "PROJ-1", Updated: strPtr("100")},
	})

	out := string(v.buildTicketIndexJSONL(context.Background()))
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), out)
	}
	if !strings.Contains(lines[0], "PROJ-1") {
		t.Fatalf("expected lexical sort to put PROJ-1 first, got %q", out)
	}
}

func TestBuildTicketIndexJSONLEmpty(t *testing.T) {
	v := newTestView(t, "PROJ")
	v.durable = nil
	out := v.buildTicketIndexJSONL(context.Background())
	if out != nil {
		t.Fatalf("expected nil for an empty index, got %q", out)
	}
}

func TestSidecarContentAndSizesAgreeBeforeFirstSync(t *testing.T) {
	v := newTestView(t, "PROJ")
	ctx := context.Background()

	md, jsonl := v.sidecarContent(ctx, "PROJ-1")
	mdLen, jsonlLen := v.sidecarSizes(ctx, "PROJ-1")

	if len(md) == 0 {
		t.Fatal("expected a non-empty comments-markdown placeholder before any sync")
	}
	if len(jsonl) == 0 {
		t.Fatal("expected a non-empty comments-jsonl placeholder before any sync")
	}
	if mdLen == 0 || jsonlLen == 0 {
		t.Fatalf("expected non-zero reported sizes, got mdLen=%d jsonlLen=%d", mdLen, jsonlLen)
	}
	if !strings.Contains(string(jsonl), "comment_sidecar_unavailable") {
		t.Fatalf("expected placeholder event marker, got %q", jsonl)
	}
}

func TestParseIssueFileName(t *testing.T) {
	cases := []struct {
		name     string
		wantKey  string
		wantKind issueFileKind
		wantOK   bool
	}{
		{"PROJ-1.md", "PROJ-1", issueFileMain, true},
		{"PROJ-1.comments.md", "PROJ-1", issueFileCommentsMD, true},
		{"PROJ-1.comments.jsonl", "PROJ-1", issueFileCommentsJSONL, true},
		{"PROJ-1.txt", "", 0, false},
	}
	for _, c := range cases {
		key, kind, ok := parseIssueFileName(c.name)
		if ok != c.wantOK || key != c.wantKey || (ok && kind != c.wantKind) {
			t.Errorf("parseIssueFileName(%q) = (%q, %v, %v), want (%q, %v, %v)",
				c.name, key, kind, ok, c.wantKey, c.wantKind, c.wantOK)
		}
	}
}
