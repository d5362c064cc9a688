package fsview

import (
	"context"
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// SyncMetaDirNode is .sync_meta/: three read-only status files and two
// read-write control files.
type SyncMetaDirNode struct {
	BaseNode
}

var _ fs.NodeGetattrer = (*SyncMetaDirNode)(nil)
var _ fs.NodeReaddirer = (*SyncMetaDirNode)(nil)
var _ fs.NodeLookuper = (*SyncMetaDirNode)(nil)

func (n *SyncMetaDirNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	now := time.Now()
	out.Mode = 0555 | syscall.S_IFDIR
	out.Nlink = 2
	out.Blksize = 512
	n.SetOwner(out)
	out.SetTimes(&now, &now, &now)
	return 0
}

func (n *SyncMetaDirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries := []fuse.DirEntry{
		{Name: "last_sync", Mode: syscall.S_IFREG, Ino: LastSyncIno},
		{Name: "last_full_sync", Mode: syscall.S_IFREG, Ino: LastFullSyncIno},
		{Name: "seconds_to_next_sync", Mode: syscall.S_IFREG, Ino: SecondsToNextSyncIno},
		{Name: "manual_refresh", Mode: syscall.S_IFREG, Ino: ManualRefreshIno},
		{Name: "full_refresh", Mode: syscall.S_IFREG, Ino: FullRefreshIno},
	}
	return fs.NewListDirStream(entries), 0
}

func (n *SyncMetaDirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	now := time.Now()
	out.Attr.Uid = n.view.uid
	out.Attr.Gid = n.view.gid
	out.Attr.SetTimes(&now, &now, &now)
	out.Attr.Nlink = 1

	switch name {
	case "last_sync":
		node := &statusFileNode{BaseNode: BaseNode{view: n.view}, kind: statusLastSync}
		content := node.content()
		out.Attr.Mode = 0444 | syscall.S_IFREG
		out.Attr.Size = uint64(len(content))
		return n.NewInode(ctx, node, fs.StableAttr{Mode: syscall.S_IFREG, Ino: LastSyncIno}), 0

	case "last_full_sync":
		node := &statusFileNode{BaseNode: BaseNode{view: n.view}, kind: statusLastFullSync}
		content := node.content()
		out.Attr.Mode = 0444 | syscall.S_IFREG
		out.Attr.Size = uint64(len(content))
		return n.NewInode(ctx, node, fs.StableAttr{Mode: syscall.S_IFREG, Ino: LastFullSyncIno}), 0

	case "seconds_to_next_sync":
		node := &statusFileNode{BaseNode: BaseNode{view: n.view}, kind: statusSecondsToNext}
		content := node.content()
		out.Attr.Mode = 0444 | syscall.S_IFREG
		out.Attr.Size = uint64(len(content))
		return n.NewInode(ctx, node, fs.StableAttr{Mode: syscall.S_IFREG, Ino: SecondsToNextSyncIno}), 0

	case "manual_refresh":
		node := &controlFileNode{BaseNode: BaseNode{view: n.view}, kind: controlManual}
		content := node.content()
		out.Attr.Mode = 0644 | syscall.S_IFREG
		out.Attr.Size = uint64(len(content))
		return n.NewInode(ctx, node, fs.StableAttr{Mode: syscall.S_IFREG, Ino: ManualRefreshIno}), 0

	case "full_refresh":
		node := &controlFileNode{BaseNode: BaseNode{view: n.view}, kind: controlFull}
		content := node.content()
		out.Attr.Mode = 0644 | syscall.S_IFREG
		out.Attr.Size = uint64(len(content))
		return n.NewInode(ctx, node, fs.StableAttr{Mode: syscall.S_IFREG, Ino: FullRefreshIno}), 0

	default:
		return nil, syscall.ENOENT
	}
}

type statusKind int

const (
	statusLastSync statusKind = iota
	statusLastFullSync
	statusSecondsToNext
)

// statusFileNode renders one of the three read-only .sync_meta files.
type statusFileNode struct {
	BaseNode
	kind statusKind
}

var _ fs.NodeGetattrer = (*statusFileNode)(nil)
var _ fs.NodeOpener = (*statusFileNode)(nil)
var _ fs.NodeReader = (*statusFileNode)(nil)
var _ fs.NodeSetattrer = (*statusFileNode)(nil)

func (s *statusFileNode) content() []byte {
	switch s.kind {
	case statusLastSync:
		return []byte(renderAgo(s.view.state.LastSync()))
	case statusLastFullSync:
		return []byte(renderAgo(s.view.state.LastFullSync()))
	default:
		return []byte(fmt.Sprintf("%d\n", s.view.state.SecondsUntilNextSync()))
	}
}

func renderAgo(at time.Time, ok bool) string {
	if !ok {
		return "never\n"
	}
	return fmt.Sprintf("%d seconds ago\n", int64(time.Since(at).Seconds()))
}

func (s *statusFileNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0444
	out.Nlink = 1
	s.SetOwner(out)
	out.Size = uint64(len(s.content()))
	return 0
}

func (s *statusFileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return openReadOnly(flags)
}

func (s *statusFileNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	return readBytes(s.content(), dest, off)
}

func (s *statusFileNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return syscall.EROFS
}

type controlKind int

const (
	controlManual controlKind = iota
	controlFull
)

// controlFileNode is one of the two read-write control pseudo-files.
// Reading reports status; writing at offset 0 arms the corresponding
// sync-state trigger when the (lowercased, trimmed) content is "1" or
// "true".
type controlFileNode struct {
	BaseNode
	kind controlKind
}

var _ fs.NodeGetattrer = (*controlFileNode)(nil)
var _ fs.NodeOpener = (*controlFileNode)(nil)
var _ fs.NodeReader = (*controlFileNode)(nil)
var _ fs.NodeWriter = (*controlFileNode)(nil)
var _ fs.NodeSetattrer = (*controlFileNode)(nil)

func (c *controlFileNode) content() []byte {
	if c.view.state.SyncInProgress() {
		return []byte("sync in progress\n")
	}
	if c.kind == controlFull {
		return []byte("write '1' or 'true' to trigger a full sync\n")
	}
	return []byte("write '1' or 'true' to trigger sync\n")
}

func (c *controlFileNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0644
	out.Nlink = 1
	c.SetOwner(out)
	out.Size = uint64(len(c.content()))
	return 0
}

func (c *controlFileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_DIRECT_IO, 0 // never serve a stale cached read of sync status
}

func (c *controlFileNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	return readBytes(c.content(), dest, off)
}

func (c *controlFileNode) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	if off != 0 {
		return 0, syscall.EINVAL
	}
	trimmed := strings.ToLower(strings.TrimSpace(string(data)))
	if trimmed == "1" || trimmed == "true" {
		if c.kind == controlFull {
			c.view.state.TriggerManualFull()
		} else {
			c.view.state.TriggerManual()
		}
	}
	return uint32(len(data)), 0
}

func (c *controlFileNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0644
	out.Size = uint64(len(c.content()))
	c.SetOwner(out)
	return 0
}

// readBytes services a byte-range read from a fully-materialized
// content slice, returning empty bytes (not an error) when off >= size.
func readBytes(content []byte, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if off >= int64(len(content)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(content)) {
		end = int64(len(content))
	}
	return fuse.ReadResultData(content[off:end]), 0
}
