package fsview

import (
	"context"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// ProjectsDirNode is projects/: one subdirectory per configured
// workspace, in the order given at mount time.
type ProjectsDirNode struct {
	BaseNode
}

var _ fs.NodeGetattrer = (*ProjectsDirNode)(nil)
var _ fs.NodeReaddirer = (*ProjectsDirNode)(nil)
var _ fs.NodeLookuper = (*ProjectsDirNode)(nil)

func (p *ProjectsDirNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	now := time.Now()
	out.Mode = 0555 | syscall.S_IFDIR
	out.Nlink = 2
	out.Blksize = 512
	p.SetOwner(out)
	out.SetTimes(&now, &now, &now)
	return 0
}

func (p *ProjectsDirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries := make([]fuse.DirEntry, 0, len(p.view.workspaces))
	for _, ws := range p.view.workspaces {
		entries = append(entries, fuse.DirEntry{Name: ws, Mode: syscall.S_IFDIR, Ino: inodeForProject(ws)})
	}
	return fs.NewListDirStream(entries), 0
}

func (p *ProjectsDirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	for _, ws := range p.view.workspaces {
		if ws != name {
			continue
		}
		now := time.Now()
		out.Attr.Uid = p.view.uid
		out.Attr.Gid = p.view.gid
		out.Attr.SetTimes(&now, &now, &now)
		out.Attr.Mode = 0555 | syscall.S_IFDIR
		out.Attr.Nlink = 2
		node := &ProjectDirNode{BaseNode: BaseNode{view: p.view}, project: ws}
		return p.NewInode(ctx, node, fs.StableAttr{Mode: syscall.S_IFDIR, Ino: inodeForProject(ws)}), 0
	}
	return nil, syscall.ENOENT
}

// ProjectDirNode is projects/<workspace>/: one issue's main markdown,
// comments markdown and comments jsonl file per issue currently present
// in the workspace's in-memory snapshot.
type ProjectDirNode struct {
	BaseNode
	project string
}

var _ fs.NodeGetattrer = (*ProjectDirNode)(nil)
var _ fs.NodeReaddirer = (*ProjectDirNode)(nil)
var _ fs.NodeLookuper = (*ProjectDirNode)(nil)

func (p *ProjectDirNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	now := time.Now()
	out.Mode = 0555 | syscall.S_IFDIR
	out.Nlink = 2
	out.Blksize = 512
	p.SetOwner(out)
	out.SetTimes(&now, &now, &now)
	return 0
}

func (p *ProjectDirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	snap := p.view.cache.GetProjectIssuesSnapshot(p.project)
	entries := make([]fuse.DirEntry, 0, len(snap.Issues)*3)
	for _, ref := range snap.Issues {
		entries = append(entries,
			fuse.DirEntry{Name: ref.Key + ".md", Mode: syscall.S_IFREG, Ino: inodeForIssueMain(ref.Key)},
			fuse.DirEntry{Name: ref.Key + ".comments.md", Mode: syscall.S_IFREG, Ino: inodeForCommentsMD(ref.Key)},
			fuse.DirEntry{Name: ref.Key + ".comments.jsonl", Mode: syscall.S_IFREG, Ino: inodeForCommentsJSONL(ref.Key)},
		)
	}
	return fs.NewListDirStream(entries), 0
}

func (p *ProjectDirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	key, kind, ok := parseIssueFileName(name)
	if !ok {
		return nil, syscall.ENOENT
	}
	if _, found := p.view.snapshotIssue(p.project, key); !found {
		return nil, syscall.ENOENT
	}

	now := time.Now()
	out.Attr.Uid = p.view.uid
	out.Attr.Gid = p.view.gid
	out.Attr.SetTimes(&now, &now, &now)
	out.Attr.Mode = 0444 | syscall.S_IFREG
	out.Attr.Nlink = 1

	switch kind {
	case issueFileMain:
		node := &issueFileNode{BaseNode: BaseNode{view: p.view}, key: key}
		out.Attr.Size = node.size(ctx)
		return p.NewInode(ctx, node, fs.StableAttr{Mode: syscall.S_IFREG, Ino: inodeForIssueMain(key)}), 0
	case issueFileCommentsMD:
		node := &sidecarFileNode{BaseNode: BaseNode{view: p.view}, key: key, jsonl: false}
		out.Attr.Size = node.size(ctx)
		return p.NewInode(ctx, node, fs.StableAttr{Mode: syscall.S_IFREG, Ino: inodeForCommentsMD(key)}), 0
	default:
		node := &sidecarFileNode{BaseNode: BaseNode{view: p.view}, key: key, jsonl: true}
		out.Attr.Size = node.size(ctx)
		return p.NewInode(ctx, node, fs.StableAttr{Mode: syscall.S_IFREG, Ino: inodeForCommentsJSONL(key)}), 0
	}
}

type issueFileKind int

const (
	issueFileMain issueFileKind = iota
	issueFileCommentsMD
	issueFileCommentsJSONL
)

// parseIssueFileName recognizes the three filenames derived from an
// issue key: "<KEY>.md", "<KEY>.comments.md" and "<KEY>.comments.jsonl".
func parseIssueFileName(name string) (key string, kind issueFileKind, ok bool) {
	switch {
	case strings.HasSuffix(name, ".comments.jsonl"):
		return strings.TrimSuffix(name, ".comments.jsonl"), issueFileCommentsJSONL, true
	case strings.HasSuffix(name, ".comments.md"):
		return strings.TrimSuffix(name, ".comments.md"), issueFileCommentsMD, true
	case strings.HasSuffix(name, ".md"):
		return strings.TrimSuffix(name, ".md"), issueFileMain, true
	default:
		return "", 0, false
	}
}

// issueFileNode is an issue's main markdown body, read through the
// cache's stale-safe path.
type issueFileNode struct {
	BaseNode
	key string
}

var _ fs.NodeGetattrer = (*issueFileNode)(nil)
var _ fs.NodeOpener = (*issueFileNode)(nil)
var _ fs.NodeReader = (*issueFileNode)(nil)
var _ fs.NodeSetattrer = (*issueFileNode)(nil)

func (n *issueFileNode) size(ctx context.Context) uint64 {
	return n.view.issueFileSize(ctx, n.key)
}

func (n *issueFileNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0444
	out.Nlink = 1
	n.SetOwner(out)
	out.Size = n.size(ctx)
	return 0
}

func (n *issueFileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return openReadOnly(flags)
}

func (n *issueFileNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	return readBytes(n.view.issueMarkdown(ctx, n.key), dest, off)
}

func (n *issueFileNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return syscall.EROFS
}

// sidecarFileNode is one of an issue's two comment renderings.
type sidecarFileNode struct {
	BaseNode
	key   string
	jsonl bool
}

var _ fs.NodeGetattrer = (*sidecarFileNode)(nil)
var _ fs.NodeOpener = (*sidecarFileNode)(nil)
var _ fs.NodeReader = (*sidecarFileNode)(nil)
var _ fs.NodeSetattrer = (*sidecarFileNode)(nil)

func (n *sidecarFileNode) content(ctx context.Context) []byte {
	md, jsonl := n.view.sidecarContent(ctx, n.key)
	if n.jsonl {
		return jsonl
	}
	return md
}

func (n *sidecarFileNode) size(ctx context.Context) uint64 {
	mdLen, jsonlLen := n.view.sidecarSizes(ctx, n.key)
	if n.jsonl {
		return jsonlLen
	}
	return mdLen
}

func (n *sidecarFileNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0444
	out.Nlink = 1
	n.SetOwner(out)
	out.Size = n.size(ctx)
	return 0
}

func (n *sidecarFileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return openReadOnly(flags)
}

func (n *sidecarFileNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	return readBytes(n.content(ctx), dest, off)
}

func (n *sidecarFileNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return syscall.EROFS
}
