package sixfs

import (
	"sync"

	bitmap "github.com/boljen/go-bitmap"
)

// blockAllocator owns the single bitmap page (page I+1) and hands out
// physical data-block numbers. The bitmap page itself is obtained once
// from the page cache at construction and held by reference for the
// lifetime of the filesystem; all state transitions serialize
// through mu.
type blockAllocator struct {
	cache *pageCache
	l     *layout

	mu  sync.Mutex
	bm  bitmap.Bitmap // view over the bitmap page, zero-copy
	buf []byte        // the raw page bytes backing bm
}

func newBlockAllocator(cache *pageCache, l *layout) (*blockAllocator, error) {
	a := &blockAllocator{cache: cache, l: l}
	// The bitmap page is consulted on every allocate/free call, so it is
	// pinned for the allocator's whole lifetime instead of re-fetched
	// through withPage each time.
	view, err := cache.pinPage(l.bitmapPage)
	if err != nil {
		return nil, err
	}
	a.buf = view
	a.bm = bitmap.Bitmap(view)
	return a, nil
}

// allocate finds the first clear bit, sets it, zeroes the corresponding
// data page, and returns its physical block number.
func (a *blockAllocator) allocate() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := int(a.l.maxBlocks)
	k := -1
	for i := 0; i < n; i++ {
		if !a.bm.Get(i) {
			k = i
			break
		}
	}
	if k == -1 {
		return 0, newErr(KindOutOfSpace, "")
	}
	a.bm.Set(k, true)
	block := a.l.firstDataBlock + uint64(k)
	if err := a.zeroBlockLocked(block); err != nil {
		a.bm.Set(k, false)
		return 0, err
	}
	return block, nil
}

// free clears the bit for block b. Idempotent: freeing an already-free
// block is a no-op.
func (a *blockAllocator) free(b uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b < a.l.firstDataBlock {
		return nil
	}
	k := int(b - a.l.firstDataBlock)
	if k < 0 || k >= int(a.l.maxBlocks) {
		return nil
	}
	a.bm.Set(k, false)
	return nil
}

// markUsed marks block b allocated without zeroing it. Blocks below the
// data region (header, inode table, bitmap) have no bit and are ignored.
func (a *blockAllocator) markUsed(b uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b < a.l.firstDataBlock {
		return
	}
	k := int(b - a.l.firstDataBlock)
	if k >= 0 && k < int(a.l.maxBlocks) {
		a.bm.Set(k, true)
	}
}

// isUsed reports the bitmap bit for physical block b. Blocks below the
// data region always report true.
func (a *blockAllocator) isUsed(b uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b < a.l.firstDataBlock {
		return true
	}
	k := int(b - a.l.firstDataBlock)
	if k < 0 || k >= int(a.l.maxBlocks) {
		return false
	}
	return a.bm.Get(k)
}

func (a *blockAllocator) zeroBlockLocked(block uint64) error {
	return a.cache.withPage(block, func(view []byte) error {
		for i := range view {
			view[i] = 0
		}
		return nil
	})
}

// each calls fn with every allocated physical block number, used by Fsck.
func (a *blockAllocator) each(fn func(block uint64)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i < int(a.l.maxBlocks); i++ {
		if a.bm.Get(i) {
			fn(a.l.firstDataBlock + uint64(i))
		}
	}
}
