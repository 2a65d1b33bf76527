package sixfs

import (
	"log"
	"os"
	"strings"
	"sync"
)

// RootIno is the inode index of the filesystem root, for both a freshly
// created container and one that is reopened (§3 invariant 1).
const RootIno uint32 = 0

// Filesystem is a single open container. All namespace operations
// (OpenFile, MakeDir, Move, Copy, Remove, ReadDir) serialize through mu,
// the coarse lock described in §4.5; file reads/writes on an already-open
// Handle do not take it.
type Filesystem struct {
	hdr    header
	l      *layout
	dev    *blockDevice
	cache  *pageCache
	blocks *blockAllocator
	inodes *InodeTable
	dirs   *dirOps

	mu     sync.Mutex
	closed bool
	debug  bool
}

func (fsys *Filesystem) logf(format string, args ...any) {
	if fsys.debug {
		log.Printf("sixfs: "+format, args...)
	}
}

// Create formats a new container at hostPath and returns it open for use.
// The root directory is allocated as inode 0.
func Create(hostPath string, opts ...CreateOption) (*Filesystem, error) {
	cfg := defaultCreateConfig()
	for _, o := range opts {
		o(cfg)
	}

	f, err := os.OpenFile(hostPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	hdr := header{
		Magic:      Magic,
		Version:    FormatVersion,
		InodeCount: cfg.inodeCount,
		MaxBlocks:  cfg.maxBlocks,
		PageSize:   cfg.pageSize,
	}
	l := newLayout(&hdr)

	dev := openBlockDevice(f, hdr.PageSize)
	if err := dev.grow(l.totalPages); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.WriteAt(hdr.marshal(), 0); err != nil {
		f.Close()
		return nil, err
	}
	for p := uint64(1); p < l.bitmapPage+1; p++ {
		if err := dev.zeroPage(p); err != nil {
			f.Close()
			return nil, err
		}
	}

	cache := newPageCache(dev, cfg.cacheSlots)
	blocks, err := newBlockAllocator(cache, l)
	if err != nil {
		f.Close()
		return nil, err
	}
	inodes := newInodeTable(l, cache, blocks)

	fsys := &Filesystem{
		hdr:    hdr,
		l:      l,
		dev:    dev,
		cache:  cache,
		blocks: blocks,
		inodes: inodes,
		dirs:   &dirOps{inodes: inodes},
		debug:  cfg.debugLog,
	}

	root, err := inodes.alloc(TypeDir)
	if err != nil {
		fsys.Close()
		return nil, err
	}
	if root != RootIno {
		fsys.Close()
		return nil, wrapErr(KindFormat, hostPath, os.ErrInvalid)
	}
	// The root is never reached by any parent directory entry, so give
	// it a standing link of its own rather than leaving Link at 0 (which
	// would make it immediately reclaimable).
	if err := inodes.link(RootIno); err != nil {
		fsys.Close()
		return nil, err
	}

	fsys.logf("created %s: %d inodes, %d blocks, page size %d", hostPath, hdr.InodeCount, hdr.MaxBlocks, hdr.PageSize)
	return fsys, nil
}

// Open reopens an existing container, validating its header.
func Open(hostPath string, opts ...OpenOption) (*Filesystem, error) {
	cfg := defaultOpenConfig()
	for _, o := range opts {
		o(cfg)
	}

	f, err := os.OpenFile(hostPath, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, wrapErr(KindFormat, hostPath, err)
	}
	var hdr header
	if err := hdr.unmarshal(buf); err != nil {
		f.Close()
		return nil, err
	}
	l := newLayout(&hdr)

	dev := openBlockDevice(f, hdr.PageSize)
	cache := newPageCache(dev, cfg.cacheSlots)
	blocks, err := newBlockAllocator(cache, l)
	if err != nil {
		f.Close()
		return nil, err
	}
	inodes := newInodeTable(l, cache, blocks)

	fsys := &Filesystem{
		hdr:    hdr,
		l:      l,
		dev:    dev,
		cache:  cache,
		blocks: blocks,
		inodes: inodes,
		dirs:   &dirOps{inodes: inodes},
		debug:  cfg.debugLog,
	}
	fsys.logf("opened %s", hostPath)
	return fsys, nil
}

// Close flushes and releases the container. Subsequent operations on
// this Filesystem, or on handles still open against it, fail closed.
func (fsys *Filesystem) Close() error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if fsys.closed {
		return newErr(KindClosed, "")
	}
	fsys.closed = true

	var firstErr error
	if fsys.cache != nil {
		if err := fsys.cache.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if fsys.dev != nil {
		if err := fsys.dev.sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := fsys.dev.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// splitAbs validates that path is absolute and returns its non-empty
// components. Path separators are always "/", matching the fs.FS/io.fs
// convention the adapter in fsio.go exposes.
func splitAbs(path string) ([]string, error) {
	if len(path) == 0 || path[0] != '/' {
		return nil, newErr(KindInvalidArgument, path)
	}
	parts := strings.Split(path, "/")
	comps := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || p == "." {
			continue
		}
		comps = append(comps, p)
	}
	return comps, nil
}

// resolveFullLocked walks every component of comps from root, requiring
// mu already held. Returns the final inode index.
func (fsys *Filesystem) resolveFullLocked(comps []string) (uint32, error) {
	cur := RootIno
	for _, c := range comps {
		child, err := fsys.dirs.lookupDir(cur, c)
		if err != nil {
			return 0, err
		}
		cur = child
	}
	return cur, nil
}

// resolveParentLocked walks all but the last component, requiring mu
// already held. Returns the parent inode index and final name.
func (fsys *Filesystem) resolveParentLocked(comps []string) (uint32, string, error) {
	if len(comps) == 0 {
		return 0, "", newErr(KindInvalidArgument, "/")
	}
	cur := RootIno
	for _, c := range comps[:len(comps)-1] {
		child, err := fsys.dirs.lookupDir(cur, c)
		if err != nil {
			return 0, "", err
		}
		snap, err := fsys.inodes.snapshot(child)
		if err != nil {
			return 0, "", err
		}
		if snap.Type != TypeDir {
			return 0, "", newErr(KindNoSuchFile, c)
		}
		cur = child
	}
	return cur, comps[len(comps)-1], nil
}

// OpenFile resolves path to a Handle. If create is true and the final
// component does not exist, a new regular file is allocated and linked
// into its parent. Opening a directory ModeRW is rejected; directories
// may only ever be opened ModeRO (§4.5).
//
// Resolution acquires a shared path-RO lock on every ancestor directory
// from the root down to (but not including) the target, then the
// mode-specific lock on the target itself. Both persist on the returned
// Handle until Close, per §4.5.
func (fsys *Filesystem) OpenFile(path string, mode OpenFlag, create bool) (*Handle, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if fsys.closed {
		return nil, newErr(KindClosed, path)
	}
	comps, err := splitAbs(path)
	if err != nil {
		return nil, err
	}

	var ancestors []uint32
	cleanup := func() {
		for i := len(ancestors) - 1; i >= 0; i-- {
			fsys.inodes.unlockRO(ancestors[i])
		}
	}

	var target uint32
	if len(comps) == 0 {
		target = RootIno
	} else {
		if err := fsys.inodes.lockRO(RootIno); err != nil {
			return nil, err
		}
		ancestors = append(ancestors, RootIno)
		cur := RootIno

		for _, c := range comps[:len(comps)-1] {
			child, err := fsys.dirs.lookupDir(cur, c)
			if err != nil {
				cleanup()
				return nil, err
			}
			snap, err := fsys.inodes.snapshot(child)
			if err != nil {
				cleanup()
				return nil, err
			}
			if snap.Type != TypeDir {
				cleanup()
				return nil, newErr(KindNoSuchFile, path)
			}
			if err := fsys.inodes.lockRO(child); err != nil {
				cleanup()
				return nil, err
			}
			ancestors = append(ancestors, child)
			cur = child
		}

		name := comps[len(comps)-1]
		child, lookupErr := fsys.dirs.lookupDir(cur, name)
		if lookupErr != nil {
			if !create {
				cleanup()
				return nil, lookupErr
			}
			newIdx, aerr := fsys.inodes.alloc(TypeFile)
			if aerr != nil {
				cleanup()
				return nil, aerr
			}
			if ierr := fsys.dirs.insertDir(cur, name, newIdx); ierr != nil {
				fsys.inodes.unlink(newIdx)
				cleanup()
				return nil, ierr
			}
			child = newIdx
		}
		target = child
	}

	snap, err := fsys.inodes.snapshot(target)
	if err != nil {
		cleanup()
		return nil, err
	}
	if snap.Type == TypeDir && mode == ModeRW {
		cleanup()
		return nil, newErr(KindInvalidArgument, path)
	}

	if mode == ModeRO {
		if err := fsys.inodes.lockRO(target); err != nil {
			cleanup()
			return nil, err
		}
	} else {
		if err := fsys.inodes.lockRW(target); err != nil {
			cleanup()
			return nil, err
		}
	}
	if err := fsys.inodes.ref(target); err != nil {
		if mode == ModeRO {
			fsys.inodes.unlockRO(target)
		} else {
			fsys.inodes.unlockRW(target)
		}
		cleanup()
		return nil, err
	}

	return &Handle{
		fs:        fsys,
		ino:       target,
		mode:      mode,
		isDir:     snap.Type == TypeDir,
		ancestors: ancestors,
	}, nil
}

// MakeDir creates a new, empty directory at path. The parent must
// already exist.
func (fsys *Filesystem) MakeDir(path string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if fsys.closed {
		return newErr(KindClosed, path)
	}
	comps, err := splitAbs(path)
	if err != nil {
		return err
	}
	parent, name, err := fsys.resolveParentLocked(comps)
	if err != nil {
		return err
	}

	idx, err := fsys.inodes.alloc(TypeDir)
	if err != nil {
		return err
	}
	if err := fsys.dirs.insertDir(parent, name, idx); err != nil {
		// Roll back the allocation: nothing references it yet, so
		// unlinking it directly reclaims it.
		fsys.inodes.unlink(idx)
		return err
	}
	return nil
}

// Remove deletes the directory entry at path and unlinks its inode.
// Removing a non-empty directory recursively reclaims its children
// (§4.4 reclaim), since nothing else can reference them once the parent
// entry naming that subtree is gone.
func (fsys *Filesystem) Remove(path string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if fsys.closed {
		return newErr(KindClosed, path)
	}
	comps, err := splitAbs(path)
	if err != nil {
		return err
	}
	parent, name, err := fsys.resolveParentLocked(comps)
	if err != nil {
		return err
	}

	if err := fsys.inodes.lockRW(parent); err != nil {
		return err
	}
	defer fsys.inodes.unlockRW(parent)

	return fsys.dirs.removeDir(parent, name)
}

// Move relinks the inode named by src into dest's parent under dest's
// final name, removing it from src's parent. Link counts compensate so
// the moved inode's net link count is unchanged (§4.5).
func (fsys *Filesystem) Move(src, dest string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if fsys.closed {
		return newErr(KindClosed, src)
	}
	srcComps, err := splitAbs(src)
	if err != nil {
		return err
	}
	destComps, err := splitAbs(dest)
	if err != nil {
		return err
	}

	srcParent, srcName, err := fsys.resolveParentLocked(srcComps)
	if err != nil {
		return err
	}
	destParent, destName, err := fsys.resolveParentLocked(destComps)
	if err != nil {
		return err
	}

	child, err := fsys.dirs.lookupDir(srcParent, srcName)
	if err != nil {
		return err
	}
	if _, err := fsys.dirs.lookupDir(destParent, destName); err == nil {
		return newErr(KindAlreadyExists, dest)
	}

	// Lock both parent inodes exclusively in a deterministic order (by
	// index) to avoid deadlocking against a concurrent reverse move.
	first, second := srcParent, destParent
	if first > second {
		first, second = second, first
	}
	if err := fsys.inodes.lockRW(first); err != nil {
		return err
	}
	if first != second {
		if err := fsys.inodes.lockRW(second); err != nil {
			fsys.inodes.unlockRW(first)
			return err
		}
	}
	defer fsys.inodes.unlockRW(first)
	if first != second {
		defer fsys.inodes.unlockRW(second)
	}

	if err := fsys.dirs.insertDir(destParent, destName, child); err != nil {
		return err
	}
	return fsys.dirs.removeDir(srcParent, srcName)
}

// Copy recursively duplicates the file or directory tree at src into a
// brand-new tree at dest. Regular files get a fresh inode with its own
// content blocks (InodeTable.copyInode); directories are recreated and their
// children copied individually so source and destination never share
// inodes.
func (fsys *Filesystem) Copy(src, dest string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if fsys.closed {
		return newErr(KindClosed, src)
	}
	srcComps, err := splitAbs(src)
	if err != nil {
		return err
	}
	destComps, err := splitAbs(dest)
	if err != nil {
		return err
	}
	srcIno, err := fsys.resolveFullLocked(srcComps)
	if err != nil {
		return err
	}
	destParent, destName, err := fsys.resolveParentLocked(destComps)
	if err != nil {
		return err
	}
	if _, err := fsys.dirs.lookupDir(destParent, destName); err == nil {
		return newErr(KindAlreadyExists, dest)
	}
	return fsys.copyTree(srcIno, destParent, destName)
}

func (fsys *Filesystem) copyTree(srcIno, destParent uint32, destName string) error {
	snap, err := fsys.inodes.snapshot(srcIno)
	if err != nil {
		return err
	}
	if snap.Type == TypeDir {
		newDir, err := fsys.inodes.alloc(TypeDir)
		if err != nil {
			return err
		}
		if err := fsys.dirs.insertDir(destParent, destName, newDir); err != nil {
			fsys.inodes.unlink(newDir)
			return err
		}
		children, err := fsys.dirs.listAll(srcIno)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := fsys.copyTree(c.Inode, newDir, c.Name); err != nil {
				return err
			}
		}
		return nil
	}

	newIno, err := fsys.inodes.copyInode(srcIno)
	if err != nil {
		return err
	}
	if err := fsys.dirs.insertDir(destParent, destName, newIno); err != nil {
		fsys.inodes.unlink(newIno)
		return err
	}
	return nil
}

// ReadDir lists the names of every live entry directly inside the
// directory at path, as fully-qualified child paths. If filter is
// non-nil, only names for which it returns true are included.
func (fsys *Filesystem) ReadDir(path string, filter func(name string) bool) ([]string, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if fsys.closed {
		return nil, newErr(KindClosed, path)
	}
	comps, err := splitAbs(path)
	if err != nil {
		return nil, err
	}
	dirIno, err := fsys.resolveFullLocked(comps)
	if err != nil {
		return nil, err
	}
	snap, err := fsys.inodes.snapshot(dirIno)
	if err != nil {
		return nil, err
	}
	if snap.Type != TypeDir {
		return nil, newErr(KindUnsupported, path)
	}

	entries, err := fsys.dirs.listAll(dirIno)
	if err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(path, "/")
	var out []string
	for _, e := range entries {
		if filter != nil && !filter(e.Name) {
			continue
		}
		out = append(out, base+"/"+e.Name)
	}
	return out, nil
}
