package sixfs

import (
	"sync"
	"time"
)

// OpenFlag selects the access mode a Handle is opened with. Directories
// can only ever be opened ModeRO (§4.5 "Directories may only be opened
// read-only").
type OpenFlag int

const (
	ModeRO OpenFlag = iota
	ModeRW
)

// Handle is a single open reference to a file or directory, returned by
// Filesystem.OpenFile. It owns the per-inode mode lock on its target
// inode plus the shared path-RO locks on every directory ancestor
// traversed to reach it; both are released together on Close (§4.5 "the
// handle releases all path-RO locks on close"). Reads and writes on an
// already-open handle do not take the filesystem's coarse lock.
type Handle struct {
	fs        *Filesystem
	ino       uint32
	mode      OpenFlag
	isDir     bool
	ancestors []uint32

	mu     sync.Mutex
	pos    int64
	closed bool
}

func (h *Handle) ensureOpen() error {
	if h.closed {
		return newErr(KindClosed, "")
	}
	if h.fs.closed {
		return newErr(KindClosed, "")
	}
	return nil
}

// IsDir reports whether the handle was opened against a directory.
func (h *Handle) IsDir() bool { return h.isDir }

// IsFile reports whether the handle was opened against a regular file.
func (h *Handle) IsFile() bool { return !h.isDir }

// CanRead reports whether the handle may Read.
func (h *Handle) CanRead() bool { return !h.isDir }

// CanWrite reports whether the handle may Write or Truncate.
func (h *Handle) CanWrite() bool { return h.mode == ModeRW && !h.isDir }

// Size returns the target inode's current byte length.
func (h *Handle) Size() (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.ensureOpen(); err != nil {
		return 0, err
	}
	snap, err := h.fs.inodes.snapshot(h.ino)
	if err != nil {
		return 0, err
	}
	return int64(snap.Size), nil
}

// CreatedAt returns the target inode's creation timestamp.
func (h *Handle) CreatedAt() (time.Time, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.ensureOpen(); err != nil {
		return time.Time{}, err
	}
	snap, err := h.fs.inodes.snapshot(h.ino)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(snap.CreatedAt), nil
}

// ModifiedAt returns the target inode's last-modified timestamp.
func (h *Handle) ModifiedAt() (time.Time, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.ensureOpen(); err != nil {
		return time.Time{}, err
	}
	snap, err := h.fs.inodes.snapshot(h.ino)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(snap.ModifiedAt), nil
}

// Available returns the number of bytes remaining between the cursor and
// the target's current size.
func (h *Handle) Available() (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.ensureOpen(); err != nil {
		return 0, err
	}
	snap, err := h.fs.inodes.snapshot(h.ino)
	if err != nil {
		return 0, err
	}
	avail := int64(snap.Size) - h.pos
	if avail < 0 {
		avail = 0
	}
	return avail, nil
}

// Reset rewinds the cursor to the beginning.
func (h *Handle) Reset() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.ensureOpen(); err != nil {
		return err
	}
	h.pos = 0
	return nil
}

// Seek moves the cursor to an absolute byte offset, which must lie within
// [0, size].
func (h *Handle) Seek(pos int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.ensureOpen(); err != nil {
		return err
	}
	snap, err := h.fs.inodes.snapshot(h.ino)
	if err != nil {
		return err
	}
	if pos < 0 || pos > int64(snap.Size) {
		return newErr(KindInvalidArgument, "")
	}
	h.pos = pos
	return nil
}

// Read copies up to len(buf) bytes starting at the cursor, advancing it
// by the number of bytes copied. A read that starts at or past the end
// of the file returns (0, nil), matching the format's "read past end of
// file returns 0 bytes, not an error" rule.
func (h *Handle) Read(buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.ensureOpen(); err != nil {
		return 0, err
	}
	if h.isDir {
		return 0, newErr(KindUnsupported, "")
	}
	n, err := h.fs.inodes.read(h.ino, h.pos, buf)
	h.pos += int64(n)
	return n, err
}

// Write copies buf into the target starting at the cursor, advancing it
// by the number of bytes written. Fails unsupported against a directory
// handle or a handle opened ModeRO.
func (h *Handle) Write(buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.ensureOpen(); err != nil {
		return 0, err
	}
	if h.isDir || h.mode != ModeRW {
		return 0, newErr(KindUnsupported, "")
	}
	n, err := h.fs.inodes.write(h.ino, h.pos, buf)
	h.pos += int64(n)
	return n, err
}

// Truncate discards all of the target's content and resets both its
// persisted size and the handle's own cursor to zero.
func (h *Handle) Truncate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.ensureOpen(); err != nil {
		return err
	}
	if h.isDir || h.mode != ModeRW {
		return newErr(KindUnsupported, "")
	}
	if err := h.fs.inodes.truncate(h.ino); err != nil {
		return err
	}
	if err := h.fs.inodes.resetSize(h.ino); err != nil {
		return err
	}
	h.pos = 0
	return nil
}

// Close releases the handle's runtime reference and its per-inode mode
// lock, then releases every ancestor path-RO lock acquired during
// resolution, innermost first.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return newErr(KindClosed, "")
	}
	h.closed = true

	var firstErr error
	if err := h.fs.inodes.unref(h.ino); err != nil && firstErr == nil {
		firstErr = err
	}
	if h.mode == ModeRO {
		h.fs.inodes.unlockRO(h.ino)
	} else {
		h.fs.inodes.unlockRW(h.ino)
	}
	for i := len(h.ancestors) - 1; i >= 0; i-- {
		h.fs.inodes.unlockRO(h.ancestors[i])
	}
	return firstErr
}
