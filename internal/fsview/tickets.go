package fsview

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// TicketsDirNode is tickets/: a single flat index.jsonl file spanning
// every workspace.
type TicketsDirNode struct {
	BaseNode
}

var _ fs.NodeGetattrer = (*TicketsDirNode)(nil)
var _ fs.NodeReaddirer = (*TicketsDirNode)(nil)
var _ fs.NodeLookuper = (*TicketsDirNode)(nil)

func (t *TicketsDirNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	now := time.Now()
	out.Mode = 0555 | syscall.S_IFDIR
	out.Nlink = 2
	out.Blksize = 512
	t.SetOwner(out)
	out.SetTimes(&now, &now, &now)
	return 0
}

func (t *TicketsDirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries := []fuse.DirEntry{
		{Name: "index.jsonl", Mode: syscall.S_IFREG, Ino: IndexJSONLIno},
	}
	return fs.NewListDirStream(entries), 0
}

func (t *TicketsDirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if name != "index.jsonl" {
		return nil, syscall.ENOENT
	}
	now := time.Now()
	out.Attr.Uid = t.view.uid
	out.Attr.Gid = t.view.gid
	out.Attr.SetTimes(&now, &now, &now)
	out.Attr.Mode = 0444 | syscall.S_IFREG
	out.Attr.Nlink = 1

	node := &indexFileNode{BaseNode: BaseNode{view: t.view}}
	out.Attr.Size = uint64(len(t.view.buildTicketIndexJSONL(ctx)))
	return t.NewInode(ctx, node, fs.StableAttr{Mode: syscall.S_IFREG, Ino: IndexJSONLIno}), 0
}

// indexFileNode renders tickets/index.jsonl fresh on every read; the
// index is cheap to rebuild and must never go stale behind a sync pass.
type indexFileNode struct {
	BaseNode
}

var _ fs.NodeGetattrer = (*indexFileNode)(nil)
var _ fs.NodeOpener = (*indexFileNode)(nil)
var _ fs.NodeReader = (*indexFileNode)(nil)
var _ fs.NodeSetattrer = (*indexFileNode)(nil)

func (n *indexFileNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0444
	out.Nlink = 1
	n.SetOwner(out)
	out.Size = uint64(len(n.view.buildTicketIndexJSONL(ctx)))
	return 0
}

func (n *indexFileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (n *indexFileNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	return readBytes(n.view.buildTicketIndexJSONL(ctx), dest, off)
}

func (n *indexFileNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return syscall.EROFS
}
