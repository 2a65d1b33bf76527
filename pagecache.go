package sixfs

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// DefaultCacheSlots is the reference slot count (C) for the clock cache.
const DefaultCacheSlots = 512

// cacheSlot is one clock-cache frame: a page key, its mmap-backed view,
// a pin count (views currently in use by a withPage callback), and the
// clock "used" bit.
type cacheSlot struct {
	key    uint64
	view   []byte
	pinned int32
	used   bool
	valid  bool
}

// pageCache is a bounded clock-replacement cache over memory-mapped
// pages. Lookup, pin acquisition, and eviction are serialized under mu;
// the callback passed to withPage runs outside that critical section so
// unrelated pages can be read/written concurrently.
type pageCache struct {
	dev   *blockDevice
	mu    sync.Mutex
	slots []cacheSlot
	index map[uint64]int
	hand  int
}

func newPageCache(dev *blockDevice, slots int) *pageCache {
	if slots <= 0 {
		slots = DefaultCacheSlots
	}
	return &pageCache{
		dev:   dev,
		slots: make([]cacheSlot, slots),
		index: make(map[uint64]int, slots),
	}
}

// withPage ensures a slot is resident for page n, pins it, and invokes fn
// with that page's byte view. The pin is held only for the duration of
// fn; concurrent withPage calls on different pages proceed in parallel.
func (c *pageCache) withPage(n uint64, fn func([]byte) error) error {
	for {
		c.mu.Lock()
		if idx, ok := c.index[n]; ok {
			c.slots[idx].used = true
			atomic.AddInt32(&c.slots[idx].pinned, 1)
			view := c.slots[idx].view
			c.mu.Unlock()
			err := fn(view)
			atomic.AddInt32(&c.slots[idx].pinned, -1)
			return err
		}

		idx, ok := c.findVictimLocked()
		if !ok {
			// All slots pinned: spin. Acceptable per spec when C exceeds
			// the maximum number of concurrent in-flight operations.
			c.mu.Unlock()
			runtime.Gosched()
			continue
		}

		if c.slots[idx].valid {
			delete(c.index, c.slots[idx].key)
			c.dev.unmapPage(c.slots[idx].view)
		}

		view, err := c.dev.mapPage(n)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		c.slots[idx] = cacheSlot{key: n, view: view, pinned: 1, used: true, valid: true}
		c.index[n] = idx
		c.mu.Unlock()

		err = fn(view)
		atomic.AddInt32(&c.slots[idx].pinned, -1)
		return err
	}
}

// findVictimLocked runs the clock sweep starting at the rotating hand.
// Must be called with mu held. Returns false if every slot is currently
// pinned.
func (c *pageCache) findVictimLocked() (int, bool) {
	n := len(c.slots)
	for i := 0; i < 2*n; i++ {
		idx := (c.hand + i) % n
		s := &c.slots[idx]
		if atomic.LoadInt32(&s.pinned) > 0 {
			continue
		}
		if !s.valid {
			c.hand = (idx + 1) % n
			return idx, true
		}
		if s.used {
			s.used = false
			continue
		}
		c.hand = (idx + 1) % n
		return idx, true
	}
	return 0, false
}

// pinPage resolves page n and pins it permanently, returning its byte
// view directly. The view stays valid, and the slot stays ineligible for
// eviction, until unpinPage is called. Used for pages a component holds
// a live reference to across calls (the block allocator's bitmap page)
// rather than just for the duration of one callback.
func (c *pageCache) pinPage(n uint64) ([]byte, error) {
	c.mu.Lock()
	if idx, ok := c.index[n]; ok {
		c.slots[idx].used = true
		atomic.AddInt32(&c.slots[idx].pinned, 1)
		view := c.slots[idx].view
		c.mu.Unlock()
		return view, nil
	}
	for {
		idx, ok := c.findVictimLocked()
		if !ok {
			c.mu.Unlock()
			runtime.Gosched()
			c.mu.Lock()
			continue
		}
		if c.slots[idx].valid {
			delete(c.index, c.slots[idx].key)
			c.dev.unmapPage(c.slots[idx].view)
		}
		view, err := c.dev.mapPage(n)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		c.slots[idx] = cacheSlot{key: n, view: view, pinned: 1, used: true, valid: true}
		c.index[n] = idx
		c.mu.Unlock()
		return view, nil
	}
}

// unpinPage releases a pin taken by pinPage, making the slot eligible for
// eviction again.
func (c *pageCache) unpinPage(n uint64) {
	c.mu.Lock()
	idx, ok := c.index[n]
	c.mu.Unlock()
	if ok {
		atomic.AddInt32(&c.slots[idx].pinned, -1)
	}
}

// close unmaps every resident page. Called once, after all withPage
// callers have returned.
func (c *pageCache) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for i := range c.slots {
		if c.slots[i].valid {
			if err := c.dev.unmapPage(c.slots[i].view); err != nil && firstErr == nil {
				firstErr = err
			}
			c.slots[i] = cacheSlot{}
		}
	}
	c.index = make(map[uint64]int)
	return firstErr
}
