package sixfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestInodeTable(t *testing.T, inodeCount, maxBlocks uint64) *InodeTable {
	t.Helper()
	dev, l := newTestDevice(t, inodeCount, maxBlocks)
	cache := newPageCache(dev, 32)
	t.Cleanup(func() { cache.close() })
	blocks, err := newBlockAllocator(cache, l)
	require.NoError(t, err)
	return newInodeTable(l, cache, blocks)
}

func TestInodeAllocIsSequentialFromUnused(t *testing.T) {
	it := newTestInodeTable(t, 8, 64)
	a, err := it.alloc(TypeFile)
	require.NoError(t, err)
	require.Equal(t, uint32(0), a)
	b, err := it.alloc(TypeDir)
	require.NoError(t, err)
	require.Equal(t, uint32(1), b)
}

func TestInodeOutOfInodes(t *testing.T) {
	it := newTestInodeTable(t, 2, 64)
	_, err := it.alloc(TypeFile)
	require.NoError(t, err)
	_, err = it.alloc(TypeFile)
	require.NoError(t, err)
	_, err = it.alloc(TypeFile)
	require.ErrorIs(t, err, ErrOutOfInodes)
}

func TestInodeWriteReadRoundTrip(t *testing.T) {
	it := newTestInodeTable(t, 8, 64)
	ino, err := it.alloc(TypeFile)
	require.NoError(t, err)

	payload := []byte("the quick brown fox jumps over the lazy dog")
	n, err := it.write(ino, 0, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = it.read(ino, 0, buf)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, buf)
}

func TestInodeWriteSpansMultiplePages(t *testing.T) {
	it := newTestInodeTable(t, 8, 64)
	ino, err := it.alloc(TypeFile)
	require.NoError(t, err)

	payload := make([]byte, DefaultPageSize*3+17)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	n, err := it.write(ino, 0, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = it.read(ino, 0, buf)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, buf)
}

func TestInodeReadPastEndReturnsZero(t *testing.T) {
	it := newTestInodeTable(t, 8, 64)
	ino, err := it.alloc(TypeFile)
	require.NoError(t, err)
	_, err = it.write(ino, 0, []byte("abc"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := it.read(ino, 100, buf)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestInodeWriteRejectsGapAndOversize(t *testing.T) {
	it := newTestInodeTable(t, 8, 64)
	ino, err := it.alloc(TypeFile)
	require.NoError(t, err)

	_, err = it.write(ino, 10, []byte("x"))
	require.ErrorIs(t, err, ErrInvalidArgument)

	maxSize := int64(maxFileSize(DefaultPageSize))
	_, err = it.write(ino, maxSize, []byte("x"))
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestInodeLockProtocol(t *testing.T) {
	it := newTestInodeTable(t, 8, 64)
	ino, err := it.alloc(TypeFile)
	require.NoError(t, err)

	require.NoError(t, it.lockRO(ino))
	require.NoError(t, it.lockRO(ino))
	require.ErrorIs(t, it.lockRW(ino), ErrBusy)
	it.unlockRO(ino)
	it.unlockRO(ino)

	require.NoError(t, it.lockRW(ino))
	require.ErrorIs(t, it.lockRO(ino), ErrBusy)
	require.ErrorIs(t, it.lockRW(ino), ErrBusy)
	it.unlockRW(ino)
	require.NoError(t, it.lockRO(ino))
	it.unlockRO(ino)
}

func TestInodeUnlinkReclaimsAtZero(t *testing.T) {
	it := newTestInodeTable(t, 8, 64)
	ino, err := it.alloc(TypeFile)
	require.NoError(t, err)
	require.NoError(t, it.link(ino))

	_, err = it.write(ino, 0, []byte("payload"))
	require.NoError(t, err)

	require.NoError(t, it.unlink(ino))
	snap, err := it.snapshot(ino)
	require.NoError(t, err)
	require.Equal(t, TypeUnused, snap.Type)
}

func TestInodeReclaimWaitsForRef(t *testing.T) {
	it := newTestInodeTable(t, 8, 64)
	ino, err := it.alloc(TypeFile)
	require.NoError(t, err)
	require.NoError(t, it.link(ino))
	require.NoError(t, it.ref(ino))

	require.NoError(t, it.unlink(ino))
	snap, err := it.snapshot(ino)
	require.NoError(t, err)
	require.Equal(t, TypeFile, snap.Type, "still referenced, must not reclaim yet")

	require.NoError(t, it.unref(ino))
	snap, err = it.snapshot(ino)
	require.NoError(t, err)
	require.Equal(t, TypeUnused, snap.Type)
}

func TestInodeTruncateFreesContentButKeepsSlot(t *testing.T) {
	it := newTestInodeTable(t, 8, 64)
	ino, err := it.alloc(TypeFile)
	require.NoError(t, err)
	_, err = it.write(ino, 0, make([]byte, DefaultPageSize*2))
	require.NoError(t, err)

	require.NoError(t, it.truncate(ino))
	require.NoError(t, it.resetSize(ino))

	snap, err := it.snapshot(ino)
	require.NoError(t, err)
	require.Equal(t, int32(0), snap.Size)
	require.Equal(t, TypeFile, snap.Type)
}

func TestInodeCopyIsIndependent(t *testing.T) {
	it := newTestInodeTable(t, 8, 64)
	src, err := it.alloc(TypeFile)
	require.NoError(t, err)
	_, err = it.write(src, 0, []byte("original"))
	require.NoError(t, err)

	dst, err := it.copyInode(src)
	require.NoError(t, err)
	require.NotEqual(t, src, dst)

	_, err = it.write(src, 0, []byte("mutated!"))
	require.NoError(t, err)

	buf := make([]byte, 8)
	_, err = it.read(dst, 0, buf)
	require.NoError(t, err)
	require.Equal(t, "original", string(buf))
}
