package sixfs

import (
	"io"
	"io/fs"
	"path"
	"time"
)

// FS adapts a Filesystem to the standard io/fs.FS (and ReadDirFS/StatFS)
// interfaces, so a container can be handed to anything written against
// the standard library's filesystem abstraction — http.FileServer,
// archive/zip's Reader.AddFS, text/template's ParseFS, and so on. Only
// read access is exposed; there is no io/fs equivalent for writes.
type FS struct {
	fsys *Filesystem
}

// NewFS wraps fsys for read-only access through io/fs.
func NewFS(fsys *Filesystem) *FS { return &FS{fsys: fsys} }

func toContainerPath(name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", fs.ErrInvalid
	}
	if name == "." {
		return "/", nil
	}
	return "/" + name, nil
}

// Open implements fs.FS.
func (a *FS) Open(name string) (fs.File, error) {
	p, err := toContainerPath(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	h, err := a.fsys.OpenFile(p, ModeRO, false)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &fsFile{h: h, name: path.Base(name)}, nil
}

// ReadDir implements fs.ReadDirFS.
func (a *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	p, err := toContainerPath(name)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	children, err := a.fsys.ReadDir(p, nil)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}

	out := make([]fs.DirEntry, 0, len(children))
	for _, childPath := range children {
		info, err := a.statContainerPath(childPath)
		if err != nil {
			return nil, err
		}
		out = append(out, fs.FileInfoToDirEntry(info))
	}
	return out, nil
}

// Stat implements fs.StatFS.
func (a *FS) Stat(name string) (fs.FileInfo, error) {
	p, err := toContainerPath(name)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	info, err := a.statContainerPath(p)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return info, nil
}

func (a *FS) statContainerPath(p string) (fs.FileInfo, error) {
	h, err := a.fsys.OpenFile(p, ModeRO, false)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	size, err := h.Size()
	if err != nil {
		return nil, err
	}
	mtime, err := h.ModifiedAt()
	if err != nil {
		return nil, err
	}
	return &fileInfo{
		name:  path.Base(p),
		size:  size,
		isDir: h.IsDir(),
		mtime: mtime,
	}, nil
}

type fsFile struct {
	h    *Handle
	name string
}

func (f *fsFile) Stat() (fs.FileInfo, error) {
	size, err := f.h.Size()
	if err != nil {
		return nil, err
	}
	mtime, err := f.h.ModifiedAt()
	if err != nil {
		return nil, err
	}
	return &fileInfo{name: f.name, size: size, isDir: f.h.IsDir(), mtime: mtime}, nil
}

func (f *fsFile) Read(buf []byte) (int, error) {
	if f.h.IsDir() {
		return 0, &fs.PathError{Op: "read", Path: f.name, Err: fs.ErrInvalid}
	}
	n, err := f.h.Read(buf)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (f *fsFile) Close() error { return f.h.Close() }

type fileInfo struct {
	name  string
	size  int64
	isDir bool
	mtime time.Time
}

func (i *fileInfo) Name() string       { return i.name }
func (i *fileInfo) Size() int64        { return i.size }
func (i *fileInfo) ModTime() time.Time { return i.mtime }
func (i *fileInfo) IsDir() bool        { return i.isDir }
func (i *fileInfo) Sys() any           { return nil }

func (i *fileInfo) Mode() fs.FileMode {
	if i.isDir {
		return fs.ModeDir | 0o555
	}
	return 0o644
}
