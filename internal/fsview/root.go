package fsview

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// RootNode is the mount root: .sync_meta, projects, tickets.
type RootNode struct {
	BaseNode
}

var _ fs.NodeGetattrer = (*RootNode)(nil)
var _ fs.NodeReaddirer = (*RootNode)(nil)
var _ fs.NodeLookuper = (*RootNode)(nil)

func (r *RootNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	now := time.Now()
	out.Mode = 0555 | syscall.S_IFDIR
	out.Nlink = 2
	out.Blksize = 512
	r.SetOwner(out)
	out.SetTimes(&now, &now, &now)
	return 0
}

func (r *RootNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries := []fuse.DirEntry{
		{Name: ".sync_meta", Mode: syscall.S_IFDIR, Ino: SyncMetaDirIno},
		{Name: "projects", Mode: syscall.S_IFDIR, Ino: ProjectsDirIno},
		{Name: "tickets", Mode: syscall.S_IFDIR, Ino: TicketsDirIno},
	}
	return fs.NewListDirStream(entries), 0
}

func (r *RootNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	now := time.Now()
	out.Attr.Uid = r.view.uid
	out.Attr.Gid = r.view.gid
	out.Attr.SetTimes(&now, &now, &now)

	switch name {
	case ".sync_meta":
		node := &SyncMetaDirNode{BaseNode: BaseNode{view: r.view}}
		out.Attr.Mode = 0555 | syscall.S_IFDIR
		out.Attr.Nlink = 2
		return r.NewInode(ctx, node, fs.StableAttr{Mode: syscall.S_IFDIR, Ino: SyncMetaDirIno}), 0

	case "projects":
		node := &ProjectsDirNode{BaseNode: BaseNode{view: r.view}}
		out.Attr.Mode = 0555 | syscall.S_IFDIR
		out.Attr.Nlink = 2
		return r.NewInode(ctx, node, fs.StableAttr{Mode: syscall.S_IFDIR, Ino: ProjectsDirIno}), 0

	case "tickets":
		node := &TicketsDirNode{BaseNode: BaseNode{view: r.view}}
		out.Attr.Mode = 0555 | syscall.S_IFDIR
		out.Attr.Nlink = 2
		return r.NewInode(ctx, node, fs.StableAttr{Mode: syscall.S_IFDIR, Ino: TicketsDirIno}), 0

	default:
		return nil, syscall.ENOENT
	}
}
