//go:build fuse

package sixfs

// Adapted from github.com/KarpelesLab/squashfs's inode_fuse.go, which
// implemented a read-only FUSE view over a squashfs image against
// go-fuse's low-level fuse.RawFileSystem surface. This container is
// read-write, so the adapter is rebuilt against go-fuse's higher-level
// fs.InodeEmbedder API instead, which removes the bespoke
// public-inode-number and dirReader bookkeeping the low-level surface
// required while still exercising the same github.com/hanwen/go-fuse/v2
// dependency.

import (
	"context"
	"strings"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Mount exposes fsys as a FUSE mount at mountPoint until ctx is
// cancelled or unmounted externally.
func Mount(ctx context.Context, fsys *Filesystem, mountPoint string) (*fuse.Server, error) {
	root := &fsNode{fsys: fsys, path: "/"}
	server, err := fs.Mount(mountPoint, root, &fs.Options{
		MountOptions: fuse.MountOptions{FsName: "sixfs", Name: "sixfs"},
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		server.Unmount()
	}()
	return server, nil
}

// fsNode is a FUSE inode backed by a container path. The actual state
// lives in the Filesystem; fsNode is just an address into the namespace.
type fsNode struct {
	fs.Inode
	fsys *Filesystem
	path string
}

var (
	_ = (fs.NodeLookuper)((*fsNode)(nil))
	_ = (fs.NodeReaddirer)((*fsNode)(nil))
	_ = (fs.NodeGetattrer)((*fsNode)(nil))
	_ = (fs.NodeOpener)((*fsNode)(nil))
	_ = (fs.NodeCreater)((*fsNode)(nil))
	_ = (fs.NodeMkdirer)((*fsNode)(nil))
	_ = (fs.NodeUnlinker)((*fsNode)(nil))
	_ = (fs.NodeRmdirer)((*fsNode)(nil))
)

func childPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func (n *fsNode) statAttr(out *fuse.AttrOut, h *Handle) {
	size, _ := h.Size()
	mtime, _ := h.ModifiedAt()
	out.Size = uint64(size)
	out.SetTimes(nil, &mtime, nil)
	if h.IsDir() {
		out.Mode = syscall.S_IFDIR | 0o755
	} else {
		out.Mode = syscall.S_IFREG | 0o644
	}
}

func (n *fsNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	h, err := n.fsys.OpenFile(n.path, ModeRO, false)
	if err != nil {
		return toErrno(err)
	}
	defer h.Close()
	n.statAttr(out, h)
	return 0
}

func (n *fsNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := childPath(n.path, name)
	h, err := n.fsys.OpenFile(p, ModeRO, false)
	if err != nil {
		return nil, toErrno(err)
	}
	defer h.Close()
	n.statAttr(&out.Attr, h)

	mode := uint32(fuse.S_IFREG)
	if h.IsDir() {
		mode = fuse.S_IFDIR
	}
	child := n.NewInode(ctx, &fsNode{fsys: n.fsys, path: p}, fs.StableAttr{Mode: mode})
	return child, 0
}

func (n *fsNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	names, err := n.fsys.ReadDir(n.path, nil)
	if err != nil {
		return nil, toErrno(err)
	}
	entries := make([]fuse.DirEntry, 0, len(names))
	for _, full := range names {
		name := strings.TrimPrefix(full, strings.TrimSuffix(n.path, "/")+"/")
		h, err := n.fsys.OpenFile(full, ModeRO, false)
		mode := uint32(fuse.S_IFREG)
		if err == nil {
			if h.IsDir() {
				mode = fuse.S_IFDIR
			}
			h.Close()
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: mode})
	}
	return fs.NewListDirStream(entries), 0
}

func (n *fsNode) Opendir(ctx context.Context) syscall.Errno { return 0 }

func (n *fsNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	mode := ModeRO
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		mode = ModeRW
	}
	h, err := n.fsys.OpenFile(n.path, mode, false)
	if err != nil {
		return nil, 0, toErrno(err)
	}
	return &fsFileHandle{h: h}, fuse.FOPEN_DIRECT_IO, 0
}

func (n *fsNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	p := childPath(n.path, name)
	h, err := n.fsys.OpenFile(p, ModeRW, true)
	if err != nil {
		return nil, nil, 0, toErrno(err)
	}
	n.statAttr(&out.Attr, h)
	child := n.NewInode(ctx, &fsNode{fsys: n.fsys, path: p}, fs.StableAttr{Mode: fuse.S_IFREG})
	return child, &fsFileHandle{h: h}, 0, 0
}

func (n *fsNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := childPath(n.path, name)
	if err := n.fsys.MakeDir(p); err != nil {
		return nil, toErrno(err)
	}
	h, err := n.fsys.OpenFile(p, ModeRO, false)
	if err != nil {
		return nil, toErrno(err)
	}
	defer h.Close()
	n.statAttr(&out.Attr, h)
	child := n.NewInode(ctx, &fsNode{fsys: n.fsys, path: p}, fs.StableAttr{Mode: fuse.S_IFDIR})
	return child, 0
}

func (n *fsNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.fsys.Remove(childPath(n.path, name)))
}

func (n *fsNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.fsys.Remove(childPath(n.path, name)))
}

// fsFileHandle backs FUSE's per-open-file read/write calls with a Handle.
type fsFileHandle struct {
	h *Handle
}

var (
	_ = (fs.FileReader)((*fsFileHandle)(nil))
	_ = (fs.FileWriter)((*fsFileHandle)(nil))
	_ = (fs.FileFlusher)((*fsFileHandle)(nil))
	_ = (fs.FileReleaser)((*fsFileHandle)(nil))
)

func (fh *fsFileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if err := fh.h.Seek(off); err != nil {
		return nil, toErrno(err)
	}
	n, err := fh.h.Read(dest)
	if err != nil {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (fh *fsFileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	if !fh.h.CanWrite() {
		return 0, syscall.EBADF
	}
	if err := fh.h.Seek(off); err != nil {
		return 0, toErrno(err)
	}
	n, err := fh.h.Write(data)
	if err != nil {
		return 0, toErrno(err)
	}
	return uint32(n), 0
}

func (fh *fsFileHandle) Flush(ctx context.Context) syscall.Errno { return 0 }

func (fh *fsFileHandle) Release(ctx context.Context) syscall.Errno {
	return toErrno(fh.h.Close())
}

func toErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var fe *FSError
	if e, ok := err.(*FSError); ok {
		fe = e
	}
	if fe == nil {
		return syscall.EIO
	}
	switch fe.Kind {
	case KindNoSuchFile:
		return syscall.ENOENT
	case KindAlreadyExists:
		return syscall.EEXIST
	case KindInvalidArgument:
		return syscall.EINVAL
	case KindBusy:
		return syscall.EBUSY
	case KindOutOfSpace:
		return syscall.ENOSPC
	case KindOutOfInodes:
		return syscall.ENOSPC
	case KindClosed:
		return syscall.EBADF
	case KindUnsupported:
		return syscall.ENOTSUP
	default:
		return syscall.EIO
	}
}
