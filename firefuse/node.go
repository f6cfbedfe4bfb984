package firefuse

import (
	"context"
	"hash/fnv"
	"path"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	common "github.com/404wolf/firefuse/common"
	"github.com/404wolf/firefuse/firefuse/dispatch"
)

// Node is the inode of one path. It holds no state of its own: every
// operation is handed to the dispatcher with the node's path.
type Node struct {
	fs.Inode

	path       string
	dispatcher *dispatch.Dispatcher
}

var _ = (fs.NodeLookuper)((*Node)(nil))
var _ = (fs.NodeReaddirer)((*Node)(nil))
var _ = (fs.NodeOpendirer)((*Node)(nil))
var _ = (fs.NodeGetattrer)((*Node)(nil))
var _ = (fs.NodeSetattrer)((*Node)(nil))
var _ = (fs.NodeOpener)((*Node)(nil))
var _ = (fs.NodeReader)((*Node)(nil))
var _ = (fs.NodeWriter)((*Node)(nil))
var _ = (fs.NodeFlusher)((*Node)(nil))
var _ = (fs.NodeReleaser)((*Node)(nil))
var _ = (fs.NodeRenamer)((*Node)(nil))
var _ = (fs.NodeUnlinker)((*Node)(nil))

// fileHandle carries the dispatcher's handle id between open and release
type fileHandle struct {
	id uint64
}

func newNode(p string, d *dispatch.Dispatcher) *Node {
	return &Node{path: p, dispatcher: d}
}

// inodeNumber derives a stable inode number from a path so repeated lookups
// resolve to the same inode
func inodeNumber(p string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(p))
	// 1 is the root
	return h.Sum64() | 2
}

func handleID(f fs.FileHandle) uint64 {
	if h, ok := f.(*fileHandle); ok {
		return h.id
	}
	return 0
}

func fillAttr(out *fuse.Attr, attr dispatch.Attr) {
	now := time.Now()
	out.Mode = attr.Mode
	out.Size = uint64(attr.Size)
	out.Nlink = 1
	if attr.IsDir() {
		out.Nlink = 2
	}
	out.SetTimes(&now, &now, &now)
}

// Lookup resolves a child by asking the dispatcher for its attributes
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := path.Join(n.path, name)
	attr, err := n.dispatcher.Getattr(child)
	if err != nil {
		return nil, common.ToErrno(err)
	}
	fillAttr(&out.Attr, attr)

	stable := fs.StableAttr{Mode: attr.Mode & syscall.S_IFMT, Ino: inodeNumber(child)}
	return n.NewInode(ctx, newNode(child, n.dispatcher), stable), fs.OK
}

func (n *Node) Opendir(ctx context.Context) syscall.Errno {
	attr, err := n.dispatcher.Getattr(n.path)
	if err != nil {
		return common.ToErrno(err)
	}
	if !attr.IsDir() {
		return syscall.ENOTDIR
	}
	return fs.OK
}

// Readdir lists the children of the directory. The kernel adds "." and ".."
// itself.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	names, err := n.dispatcher.Readdir(n.path)
	if err != nil {
		return nil, common.ToErrno(err)
	}
	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		child := path.Join(n.path, name)
		attr, err := n.dispatcher.Getattr(child)
		if err != nil {
			continue
		}
		entries = append(entries, fuse.DirEntry{
			Name: name,
			Mode: attr.Mode,
			Ino:  inodeNumber(child),
		})
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := n.dispatcher.Getattr(n.path)
	if err != nil {
		return common.ToErrno(err)
	}
	fillAttr(&out.Attr, attr)
	return fs.OK
}

// Setattr only honours size changes; everything else is accepted and ignored
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if err := n.dispatcher.Truncate(n.path, handleID(f), int64(size)); err != nil {
			return common.ToErrno(err)
		}
	}
	return n.Getattr(ctx, f, out)
}

// Open bypasses the page cache since content changes underneath the kernel
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	id, err := n.dispatcher.Open(ctx, n.path, flags)
	if err != nil {
		return nil, 0, common.ToErrno(err)
	}
	return &fileHandle{id: id}, fuse.FOPEN_DIRECT_IO, fs.OK
}

func (n *Node) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	count, err := n.dispatcher.Read(n.path, handleID(f), dest, off)
	if err != nil {
		return nil, common.ToErrno(err)
	}
	return fuse.ReadResultData(dest[:count]), fs.OK
}

func (n *Node) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	if data == nil {
		data = []byte{}
	}
	written, err := n.dispatcher.Write(n.path, handleID(f), data, off)
	if err != nil {
		return 0, common.ToErrno(err)
	}
	return uint32(written), fs.OK
}

// Flush runs on every close, before the asynchronous release
func (n *Node) Flush(ctx context.Context, f fs.FileHandle) syscall.Errno {
	return common.ToErrno(n.dispatcher.Flush(n.path, handleID(f)))
}

func (n *Node) Release(ctx context.Context, f fs.FileHandle) syscall.Errno {
	return common.ToErrno(n.dispatcher.Release(n.path, handleID(f)))
}

func (n *Node) Rename(
	ctx context.Context,
	name string,
	newParent fs.InodeEmbedder,
	newName string,
	flags uint32,
) syscall.Errno {
	parent, ok := newParent.EmbeddedInode().Operations().(*Node)
	if !ok {
		return syscall.ENOENT
	}
	err := n.dispatcher.Rename(path.Join(n.path, name), path.Join(parent.path, newName))
	return common.ToErrno(err)
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return common.ToErrno(n.dispatcher.Unlink(path.Join(n.path, name)))
}
