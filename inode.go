package sixfs

import (
	"sync"
	"time"
)

// On-disk inode type tags (§3 "Inode (on-disk portion)").
const (
	TypeUnused uint32 = 0
	TypeFile   uint32 = 1
	TypeDir    uint32 = 2
)

// pointersPerMetaPage and MaxFileSize are derived from the page size;
// with the reference P=4096 they are 1024 and 4 MiB respectively.
func pointersPerMetaPage(pageSize uint64) uint64 { return pageSize / 4 }
func maxFileSize(pageSize uint64) uint64         { return pointersPerMetaPage(pageSize) * pageSize }

// onDiskInode is the fixed 32-byte record described in §3.
type onDiskInode struct {
	Type         uint32
	Link         int32
	Size         int32
	IndirectPage uint32
	CreatedAt    int64
	ModifiedAt   int64
}

func (o *onDiskInode) marshal(buf []byte) {
	order.PutUint32(buf[0:4], o.Type)
	order.PutUint32(buf[4:8], uint32(o.Link))
	order.PutUint32(buf[8:12], uint32(o.Size))
	order.PutUint32(buf[12:16], o.IndirectPage)
	order.PutUint64(buf[16:24], uint64(o.CreatedAt))
	order.PutUint64(buf[24:32], uint64(o.ModifiedAt))
}

func (o *onDiskInode) unmarshal(buf []byte) {
	o.Type = order.Uint32(buf[0:4])
	o.Link = int32(order.Uint32(buf[4:8]))
	o.Size = int32(order.Uint32(buf[8:12]))
	o.IndirectPage = order.Uint32(buf[12:16])
	o.CreatedAt = int64(order.Uint64(buf[16:24]))
	o.ModifiedAt = int64(order.Uint64(buf[24:32]))
}

// inodeMeta is the in-memory portion: the persisted record plus the
// runtime ref/lock fields that never touch disk.
type inodeMeta struct {
	mu sync.Mutex
	onDiskInode

	ref         int32
	writeLocked bool
	readLocked  int32
}

// InodeTable holds the lazily-populated, write-through in-memory cache of
// inodes and owns their on-disk encoding and indirect-page mapping.
type InodeTable struct {
	l     *layout
	cache *pageCache
	blocks *blockAllocator

	mu  sync.Mutex // guards alloc-scan and the mem map itself
	mem map[uint32]*inodeMeta
}

func newInodeTable(l *layout, cache *pageCache, alloc *blockAllocator) *InodeTable {
	return &InodeTable{l: l, cache: cache, blocks: alloc, mem: make(map[uint32]*inodeMeta)}
}

func nowMillis() int64 { return time.Now().UnixNano() / int64(time.Millisecond) }

// get returns the in-memory record for inode i, loading it from disk on
// first access.
func (t *InodeTable) get(i uint32) (*inodeMeta, error) {
	t.mu.Lock()
	if m, ok := t.mem[i]; ok {
		t.mu.Unlock()
		return m, nil
	}
	t.mu.Unlock()

	m := &inodeMeta{}
	page, offt := t.l.inodePageAndOffset(i)
	err := t.cache.withPage(page, func(view []byte) error {
		m.onDiskInode.unmarshal(view[offt : offt+inodeRecordSize])
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if existing, ok := t.mem[i]; ok {
		t.mu.Unlock()
		return existing, nil
	}
	t.mem[i] = m
	t.mu.Unlock()
	return m, nil
}

// writeThrough persists m's on-disk fields for inode i immediately. Must
// be called with m.mu held by the caller's convention (every mutator
// below holds it already).
func (t *InodeTable) writeThrough(i uint32, m *inodeMeta) error {
	page, offt := t.l.inodePageAndOffset(i)
	return t.cache.withPage(page, func(view []byte) error {
		m.onDiskInode.marshal(view[offt : offt+inodeRecordSize])
		return nil
	})
}

// alloc scans for the first Unused inode slot, installs a fresh meta-page
// for it, and write-throughs the result.
func (t *InodeTable) alloc(typ uint32) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := uint64(0); i < t.l.inodeCount; i++ {
		idx := uint32(i)
		m, err := t.getLocked(idx)
		if err != nil {
			return 0, err
		}
		m.mu.Lock()
		if m.Type != TypeUnused {
			m.mu.Unlock()
			continue
		}
		metaPage, err := t.alloc2(m)
		if err != nil {
			m.mu.Unlock()
			return 0, err
		}
		now := nowMillis()
		m.Type = typ
		m.Link = 0
		m.Size = 0
		m.IndirectPage = uint32(metaPage)
		m.CreatedAt = now
		m.ModifiedAt = now
		err = t.writeThrough(idx, m)
		m.mu.Unlock()
		if err != nil {
			return 0, err
		}
		return idx, nil
	}
	return 0, newErr(KindOutOfInodes, "")
}

// alloc2 allocates and zeroes the meta-page backing a freshly allocated
// inode. Split out only so alloc's locked loop reads cleanly.
func (t *InodeTable) alloc2(m *inodeMeta) (uint64, error) {
	return t.blocks.allocate()
}

// getLocked is get() for callers that already hold t.mu (alloc's scan).
func (t *InodeTable) getLocked(i uint32) (*inodeMeta, error) {
	if m, ok := t.mem[i]; ok {
		return m, nil
	}
	m := &inodeMeta{}
	page, offt := t.l.inodePageAndOffset(i)
	err := t.cache.withPage(page, func(view []byte) error {
		m.onDiskInode.unmarshal(view[offt : offt+inodeRecordSize])
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.mem[i] = m
	return m, nil
}

// link increments the persisted link count of inode i.
func (t *InodeTable) link(i uint32) error {
	m, err := t.get(i)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.Link++
	err = t.writeThrough(i, m)
	m.mu.Unlock()
	return err
}

// unlink decrements the persisted link count of inode i and triggers
// reclamation if both counters have reached zero (§3 invariant 7).
func (t *InodeTable) unlink(i uint32) error {
	m, err := t.get(i)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.Link--
	if err := t.writeThrough(i, m); err != nil {
		m.mu.Unlock()
		return err
	}
	reclaimable := m.Link <= 0 && m.ref <= 0
	m.mu.Unlock()
	if reclaimable {
		return t.reclaim(i)
	}
	return nil
}

// ref increments the runtime-only reference count of inode i.
func (t *InodeTable) ref(i uint32) error {
	m, err := t.get(i)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.ref++
	m.mu.Unlock()
	return nil
}

// unref decrements the runtime-only reference count and triggers
// reclamation if both counters have reached zero.
func (t *InodeTable) unref(i uint32) error {
	m, err := t.get(i)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.ref--
	reclaimable := m.Link <= 0 && m.ref <= 0
	m.mu.Unlock()
	if reclaimable {
		return t.reclaim(i)
	}
	return nil
}

// reclaim frees an inode whose link and ref counts have both dropped to
// zero: recursively unlinking directory children, freeing every
// referenced content block plus the meta-page, and marking the slot
// Unused. Cycles are impossible by construction (§9) so no visited-set
// is needed.
func (t *InodeTable) reclaim(i uint32) error {
	m, err := t.get(i)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.Type == TypeUnused || m.Link > 0 || m.ref > 0 {
		m.mu.Unlock()
		return nil
	}
	typ := m.Type
	metaPage := uint64(m.IndirectPage)
	m.mu.Unlock()

	if typ == TypeDir {
		children, err := t.listDirChildren(i)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := t.unlink(c); err != nil {
				return err
			}
		}
	}

	// Free every content block referenced by the meta-page, then the
	// meta-page itself.
	ppm := pointersPerMetaPage(t.l.pageSize)
	entry := make([]byte, 4)
	for k := uint64(0); k < ppm; k++ {
		err := t.cache.withPage(metaPage, func(view []byte) error {
			copy(entry, view[k*4:k*4+4])
			return nil
		})
		if err != nil {
			return err
		}
		block := uint64(order.Uint32(entry))
		if block != 0 {
			if err := t.blocks.free(block); err != nil {
				return err
			}
		}
	}
	if err := t.blocks.free(metaPage); err != nil {
		return err
	}

	m.mu.Lock()
	m.Type = TypeUnused
	m.Link = 0
	m.Size = 0
	m.IndirectPage = 0
	err = t.writeThrough(i, m)
	m.mu.Unlock()
	return err
}

// listDirChildren returns every live (non-tombstone) child inode index of
// directory inode i. Used only by reclaim's recursive unlink.
func (t *InodeTable) listDirChildren(i uint32) ([]uint32, error) {
	m, err := t.get(i)
	if err != nil {
		return nil, err
	}
	size := int64(m.Size)
	var children []uint32
	buf := make([]byte, dirEntrySize)
	for off := int64(0); off+dirEntrySize <= size; off += dirEntrySize {
		n, err := t.read(i, off, buf)
		if err != nil {
			return nil, err
		}
		if n < dirEntrySize {
			break
		}
		child := order.Uint32(buf[0:4])
		if child != 0 {
			children = append(children, child)
		}
	}
	return children, nil
}

// lockRO acquires a shared per-inode lock, failing busy if a writer
// currently holds it (§3 invariant 6).
func (t *InodeTable) lockRO(i uint32) error {
	m, err := t.get(i)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeLocked {
		return newErr(KindBusy, "")
	}
	m.readLocked++
	return nil
}

// lockRW acquires the exclusive per-inode lock, failing busy if any
// reader or writer currently holds it.
func (t *InodeTable) lockRW(i uint32) error {
	m, err := t.get(i)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeLocked || m.readLocked > 0 {
		return newErr(KindBusy, "")
	}
	m.writeLocked = true
	return nil
}

func (t *InodeTable) unlockRO(i uint32) {
	m, err := t.get(i)
	if err != nil {
		return
	}
	m.mu.Lock()
	if m.readLocked > 0 {
		m.readLocked--
	}
	m.mu.Unlock()
}

func (t *InodeTable) unlockRW(i uint32) {
	m, err := t.get(i)
	if err != nil {
		return
	}
	m.mu.Lock()
	m.writeLocked = false
	m.mu.Unlock()
}

// truncate frees every content block of inode i and zeroes its
// meta-page. The caller (the writable handle) is responsible for
// resetting Size and its own cursor.
func (t *InodeTable) truncate(i uint32) error {
	m, err := t.get(i)
	if err != nil {
		return err
	}
	m.mu.Lock()
	metaPage := uint64(m.IndirectPage)
	m.mu.Unlock()

	ppm := pointersPerMetaPage(t.l.pageSize)
	zero := make([]byte, 4)
	for k := uint64(0); k < ppm; k++ {
		var block uint64
		err := t.cache.withPage(metaPage, func(view []byte) error {
			block = uint64(order.Uint32(view[k*4 : k*4+4]))
			copy(view[k*4:k*4+4], zero)
			return nil
		})
		if err != nil {
			return err
		}
		if block != 0 {
			if err := t.blocks.free(block); err != nil {
				return err
			}
		}
	}
	return nil
}

// resetSize sets inode i's persisted Size to 0 and stamps ModifiedAt. Used
// by a writable handle's Truncate after InodeTable.truncate has freed the
// content blocks.
func (t *InodeTable) resetSize(i uint32) error {
	m, err := t.get(i)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.Size = 0
	m.ModifiedAt = nowMillis()
	err = t.writeThrough(i, m)
	m.mu.Unlock()
	return err
}

// copyInode allocates a fresh inode of the same type as src and streams
// its content page by page. Returns the new inode's index.
func (t *InodeTable) copyInode(src uint32) (uint32, error) {
	sm, err := t.get(src)
	if err != nil {
		return 0, err
	}
	sm.mu.Lock()
	typ := sm.Type
	size := int64(sm.Size)
	sm.mu.Unlock()

	dst, err := t.alloc(typ)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, t.l.pageSize)
	for off := int64(0); off < size; off += int64(t.l.pageSize) {
		n, err := t.read(src, off, buf)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			break
		}
		if _, err := t.write(dst, off, buf[:n]); err != nil {
			return 0, err
		}
	}
	return dst, nil
}

// mapPage resolves the k-th content page of inode i to a physical block
// number. On a read path (forWrite=false) an unallocated entry yields
// block 0 (meaning "all zeros") and never allocates; on a write path it
// lazily allocates and writes the new entry back into the meta-page.
func (t *InodeTable) mapPage(i uint32, k uint64, forWrite bool) (uint64, error) {
	m, err := t.get(i)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	metaPage := uint64(m.IndirectPage)
	m.mu.Unlock()

	var block uint64
	err = t.cache.withPage(metaPage, func(view []byte) error {
		block = uint64(order.Uint32(view[k*4 : k*4+4]))
		return nil
	})
	if err != nil {
		return 0, err
	}
	if block != 0 || !forWrite {
		return block, nil
	}

	newBlock, err := t.blocks.allocate()
	if err != nil {
		return 0, err
	}
	err = t.cache.withPage(metaPage, func(view []byte) error {
		order.PutUint32(view[k*4:k*4+4], uint32(newBlock))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newBlock, nil
}

// read copies up to len(buf) bytes starting at offset into buf, clamped
// to the inode's current size, and returns the number of bytes copied.
func (t *InodeTable) read(i uint32, offset int64, buf []byte) (int, error) {
	m, err := t.get(i)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	size := int64(m.Size)
	m.mu.Unlock()

	if offset >= size {
		return 0, nil
	}
	if offset+int64(len(buf)) > size {
		buf = buf[:size-offset]
	}

	ps := int64(t.l.pageSize)
	total := 0
	for len(buf) > 0 {
		k := uint64(offset / ps)
		inPage := offset % ps
		block, err := t.mapPage(i, k, false)
		if err != nil {
			return total, err
		}
		n := int(ps - inPage)
		if n > len(buf) {
			n = len(buf)
		}
		if block == 0 {
			for j := 0; j < n; j++ {
				buf[j] = 0
			}
		} else {
			err := t.cache.withPage(block, func(view []byte) error {
				copy(buf[:n], view[inPage:inPage+int64(n)])
				return nil
			})
			if err != nil {
				return total, err
			}
		}
		buf = buf[n:]
		offset += int64(n)
		total += n
	}
	return total, nil
}

// write copies buf into inode i starting at offset, lazily allocating
// content blocks as needed, and grows Size if the write extended the
// file. Requires offset <= current size and offset+len(buf) <= the
// format's maximum file size.
func (t *InodeTable) write(i uint32, offset int64, buf []byte) (int, error) {
	m, err := t.get(i)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	size := int64(m.Size)
	m.mu.Unlock()

	if offset < 0 || offset > size {
		return 0, newErr(KindInvalidArgument, "")
	}
	maxSize := int64(maxFileSize(t.l.pageSize))
	if offset+int64(len(buf)) > maxSize {
		return 0, newErr(KindInvalidArgument, "")
	}

	ps := int64(t.l.pageSize)
	total := 0
	remaining := buf
	cur := offset
	for len(remaining) > 0 {
		k := uint64(cur / ps)
		inPage := cur % ps
		block, err := t.mapPage(i, k, true)
		if err != nil {
			return total, err
		}
		n := int(ps - inPage)
		if n > len(remaining) {
			n = len(remaining)
		}
		err = t.cache.withPage(block, func(view []byte) error {
			copy(view[inPage:inPage+int64(n)], remaining[:n])
			return nil
		})
		if err != nil {
			return total, err
		}
		remaining = remaining[n:]
		cur += int64(n)
		total += n
	}

	m.mu.Lock()
	if cur > int64(m.Size) {
		m.Size = int32(cur)
	}
	m.ModifiedAt = nowMillis()
	err = t.writeThrough(i, m)
	m.mu.Unlock()
	return total, err
}

// snapshot returns a value copy of inode i's persisted fields, for
// callers (handles, Fsck, fs.FS adapter) that only need to read metadata.
func (t *InodeTable) snapshot(i uint32) (onDiskInode, error) {
	m, err := t.get(i)
	if err != nil {
		return onDiskInode{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onDiskInode, nil
}
