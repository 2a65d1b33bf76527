package sixfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockAllocatorAllocateFree(t *testing.T) {
	dev, l := newTestDevice(t, 8, 4)
	cache := newPageCache(dev, 8)
	defer cache.close()

	a, err := newBlockAllocator(cache, l)
	require.NoError(t, err)

	b1, err := a.allocate()
	require.NoError(t, err)
	require.True(t, a.isUsed(b1))

	b2, err := a.allocate()
	require.NoError(t, err)
	require.NotEqual(t, b1, b2)

	require.NoError(t, a.free(b1))
	require.False(t, a.isUsed(b1))

	// The freed block should be reused before any new block.
	b3, err := a.allocate()
	require.NoError(t, err)
	require.Equal(t, b1, b3)
}

func TestBlockAllocatorOutOfSpace(t *testing.T) {
	dev, l := newTestDevice(t, 8, 2)
	cache := newPageCache(dev, 8)
	defer cache.close()

	a, err := newBlockAllocator(cache, l)
	require.NoError(t, err)

	_, err = a.allocate()
	require.NoError(t, err)
	_, err = a.allocate()
	require.NoError(t, err)

	_, err = a.allocate()
	require.ErrorIs(t, err, ErrOutOfSpace)
}

func TestBlockAllocatorAllocateZeroesBlock(t *testing.T) {
	dev, l := newTestDevice(t, 8, 4)
	cache := newPageCache(dev, 8)
	defer cache.close()

	a, err := newBlockAllocator(cache, l)
	require.NoError(t, err)

	b, err := a.allocate()
	require.NoError(t, err)

	err = cache.withPage(b, func(view []byte) error {
		view[0] = 0x7f
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, a.free(b))

	b2, err := a.allocate()
	require.NoError(t, err)
	require.Equal(t, b, b2)

	err = cache.withPage(b2, func(view []byte) error {
		require.Equal(t, byte(0), view[0])
		return nil
	})
	require.NoError(t, err)
}

func TestBlockAllocatorEach(t *testing.T) {
	dev, l := newTestDevice(t, 8, 4)
	cache := newPageCache(dev, 8)
	defer cache.close()

	a, err := newBlockAllocator(cache, l)
	require.NoError(t, err)

	b1, _ := a.allocate()
	b2, _ := a.allocate()

	seen := map[uint64]bool{}
	a.each(func(b uint64) { seen[b] = true })
	require.True(t, seen[b1])
	require.True(t, seen[b2])
	require.Len(t, seen, 2)
}
