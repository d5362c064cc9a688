package fsview

import "testing"

func TestNamespaceHashDeterministic(t *testing.T) {
	a := inodeForIssueMain("PROJ-1")
	b := inodeForIssueMain("PROJ-1")
	if a != b {
		t.Fatalf("expected deterministic hash, got %d then %d", a, b)
	}
}

func TestNamespaceHashDistinguishesKinds(t *testing.T) {
	key := "PROJ-1"
	main := inodeForIssueMain(key)
	md := inodeForCommentsMD(key)
	jsonl := inodeForCommentsJSONL(key)
	proj := inodeForProject(key)

	seen := map[uint64]string{}
	for name, v := range map[string]uint64{"main": main, "md": md, "jsonl": jsonl, "project": proj} {
		if other, ok := seen[v]; ok {
			t.Fatalf("inode collision between %s and %s: %d", name, other, v)
		}
		seen[v] = name
	}
}

func TestNamespaceHashNeverCollidesWithRoot(t *testing.T) {
	for _, key := range []string{"PROJ-1", "A", "", "X-999999"} {
		for _, ino := range []uint64{
			inodeForProject(key),
			inodeForIssueMain(key),
			inodeForCommentsMD(key),
			inodeForCommentsJSONL(key),
		} {
			if ino == 1 {
				t.Fatalf("hash for %q collided with the reserved root inode", key)
			}
			if ino>>63 != 1 {
				t.Fatalf("hash for %q did not have its high bit set: %d", key, ino)
			}
		}
	}
}

func TestNamespaceHashVariesWithKey(t *testing.T) {
	if inodeForIssueMain("PROJ-1") == inodeForIssueMain("PROJ-2") {
		t.Fatal("expected different keys to hash differently")
	}
}
