package sixfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageCacheWriteThenRead(t *testing.T) {
	dev, l := newTestDevice(t, 8, 8)
	cache := newPageCache(dev, 4)
	defer cache.close()

	err := cache.withPage(l.firstDataBlock, func(view []byte) error {
		copy(view, []byte("hello"))
		return nil
	})
	require.NoError(t, err)

	err = cache.withPage(l.firstDataBlock, func(view []byte) error {
		require.Equal(t, []byte("hello"), view[:5])
		return nil
	})
	require.NoError(t, err)
}

func TestPageCacheEvictsUnderPressure(t *testing.T) {
	dev, l := newTestDevice(t, 8, 64)
	cache := newPageCache(dev, 2) // fewer slots than pages touched below
	defer cache.close()

	for i := uint64(0); i < 10; i++ {
		page := l.firstDataBlock + i
		err := cache.withPage(page, func(view []byte) error {
			view[0] = byte(i + 1)
			return nil
		})
		require.NoError(t, err)
	}

	// Every write should still be durable even though the 2-slot cache
	// had to evict and remap pages to touch all 10.
	for i := uint64(0); i < 10; i++ {
		page := l.firstDataBlock + i
		err := cache.withPage(page, func(view []byte) error {
			require.Equal(t, byte(i+1), view[0])
			return nil
		})
		require.NoError(t, err)
	}
}

func TestPageCachePinPagePersistsAcrossEviction(t *testing.T) {
	dev, l := newTestDevice(t, 8, 64)
	cache := newPageCache(dev, 2)
	defer cache.close()

	pinned := l.firstDataBlock
	view, err := cache.pinPage(pinned)
	require.NoError(t, err)
	view[0] = 0x42

	// Touch enough other pages to force the clock hand around more than
	// once; the pinned slot must never be chosen as a victim.
	for i := uint64(1); i < 20; i++ {
		err := cache.withPage(l.firstDataBlock+i, func(v []byte) error { return nil })
		require.NoError(t, err)
	}

	require.Equal(t, byte(0x42), view[0])
	cache.unpinPage(pinned)
}
