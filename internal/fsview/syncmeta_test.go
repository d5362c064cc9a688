package fsview

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/ticketfs/ticketfs/internal/memcache"
	"github.com/ticketfs/ticketfs/internal/store"
	"github.com/ticketfs/ticketfs/internal/syncstate"
)

func newTestView(t *testing.T, workspaces ...string) *View {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	cache := memcache.New(time.Minute, time.Minute, s)
	state := syncstate.New(5 * time.Minute)
	return NewView(cache, s, state, workspaces)
}

func TestControlFileWriteArmsManualTrigger(t *testing.T) {
	v := newTestView(t)
	node := &controlFileNode{BaseNode: BaseNode{view: v}, kind: controlManual}

	n, errno := node.Write(context.Background(), nil, []byte("true\n"), 0)
	if errno != 0 {
		t.Fatalf("Write errno = %v", errno)
	}
	if n != 5 {
		t.Fatalf("Write returned %d bytes, want 5", n)
	}
	if !v.state.CheckAndClearManualTrigger() {
		t.Fatal("expected manual trigger to be armed")
	}
	if v.state.CheckAndClearManualTrigger() {
		t.Fatal("expected trigger to clear after first check")
	}
}

func TestControlFileWriteArmsFullTrigger(t *testing.T) {
	v := newTestView(t)
	node := &controlFileNode{BaseNode: BaseNode{view: v}, kind: controlFull}

	if _, errno := node.Write(context.Background(), nil, []byte("1"), 0); errno != 0 {
		t.Fatalf("Write errno = %v", errno)
	}
	if !v.state.CheckAndClearManualFullTrigger() {
		t.Fatal("expected full-refresh trigger to be armed")
	}
}

func TestControlFileWriteIgnoresUnrecognizedValue(t *testing.T) {
	v := newTestView(t)
	node := &controlFileNode{BaseNode: BaseNode{view: v}, kind: controlManual}

	if _, errno := node.Write(context.Background(), nil, []byte("nope"), 0); errno != 0 {
		t.Fatalf("Write errno = %v", errno)
	}
	if v.state.CheckAndClearManualTrigger() {
		t.Fatal("expected trigger to remain unarmed for an unrecognized value")
	}
}

func TestControlFileWriteRejectsNonzeroOffset(t *testing.T) {
	v := newTestView(t)
	node := &controlFileNode{BaseNode: BaseNode{view: v}, kind: controlManual}

	_, errno := node.Write(context.Background(), nil, []byte("true"), 1)
	if errno != syscall.EINVAL {
		t.Fatalf("Write at nonzero offset errno = %v, want EINVAL", errno)
	}
}

func TestStatusFileOpenRejectsWrite(t *testing.T) {
	v := newTestView(t)
	node := &statusFileNode{BaseNode: BaseNode{view: v}, kind: statusLastSync}

	if _, _, errno := node.Open(context.Background(), syscall.O_RDONLY); errno != 0 {
		t.Fatalf("read-only open errno = %v", errno)
	}
	if _, _, errno := node.Open(context.Background(), syscall.O_WRONLY); errno != syscall.EROFS {
		t.Fatalf("write-intent open errno = %v, want EROFS", errno)
	}
}

func TestStatusFileSetattrIsReadOnly(t *testing.T) {
	v := newTestView(t)
	node := &statusFileNode{BaseNode: BaseNode{view: v}, kind: statusLastSync}
	if errno := node.Setattr(context.Background(), nil, nil, nil); errno != syscall.EROFS {
		t.Fatalf("Setattr errno = %v, want EROFS", errno)
	}
}

func TestRenderAgoNeverSynced(t *testing.T) {
	if got := renderAgo(time.Time{}, false); got != "never\n" {
		t.Fatalf("renderAgo(false) = %q, want %q", got, "never\n")
	}
}

func TestRenderAgoElapsed(t *testing.T) {
	past := time.Now().Add(-30 * time.Second)
	got := renderAgo(past, true)
	if got == "never\n" || got == "" {
		t.Fatalf("renderAgo(past) = %q, want a seconds-ago string", got)
	}
}

func TestSecondsToNextSyncContent(t *testing.T) {
	v := newTestView(t)
	node := &statusFileNode{BaseNode: BaseNode{view: v}, kind: statusSecondsToNext}
	if got := string(node.content()); got != "0\n" {
		t.Fatalf("seconds_to_next_sync before any sync = %q, want %q", got, "0\n")
	}
}
