package sixfs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sixfs/sixfs"
)

func newTestContainer(t *testing.T) *sixfs.Filesystem {
	t.Helper()
	path := filepath.Join(t.TempDir(), "container.img")
	fsys, err := sixfs.Create(path, sixfs.WithInodeCount(64), sixfs.WithMaxBlocks(256))
	require.NoError(t, err)
	t.Cleanup(func() { fsys.Close() })
	return fsys
}

func TestCreateThenReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container.img")
	fsys, err := sixfs.Create(path)
	require.NoError(t, err)

	h, err := fsys.OpenFile("/greeting.txt", sixfs.ModeRW, true)
	require.NoError(t, err)
	_, err = h.Write([]byte("hello, container"))
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.NoError(t, fsys.Close())

	reopened, err := sixfs.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	rh, err := reopened.OpenFile("/greeting.txt", sixfs.ModeRO, false)
	require.NoError(t, err)
	defer rh.Close()

	buf := make([]byte, 64)
	n, err := rh.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello, container", string(buf[:n]))
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notacontainer.img")
	require.NoError(t, os.WriteFile(path, []byte("not a sixfs container, just some bytes, padded out to header length"), 0o644))
	_, err := sixfs.Open(path)
	require.Error(t, err)
}

func TestMakeDirAndReadDir(t *testing.T) {
	fsys := newTestContainer(t)
	require.NoError(t, fsys.MakeDir("/docs"))

	h, err := fsys.OpenFile("/docs/readme.txt", sixfs.ModeRW, true)
	require.NoError(t, err)
	_, err = h.Write([]byte("notes"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	entries, err := fsys.ReadDir("/docs", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"/docs/readme.txt"}, entries)
}

func TestReadDirWithFilter(t *testing.T) {
	fsys := newTestContainer(t)
	for _, name := range []string{"a.txt", "b.log", "c.txt"} {
		h, err := fsys.OpenFile("/"+name, sixfs.ModeRW, true)
		require.NoError(t, err)
		require.NoError(t, h.Close())
	}

	entries, err := fsys.ReadDir("/", func(name string) bool {
		return filepath.Ext(name) == ".txt"
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"/a.txt", "/c.txt"}, entries)
}

func TestOpenFileWithoutCreateFailsNoSuchFile(t *testing.T) {
	fsys := newTestContainer(t)
	_, err := fsys.OpenFile("/missing.txt", sixfs.ModeRO, false)
	require.ErrorIs(t, err, sixfs.ErrNoSuchFile)
}

func TestOpenDirectoryForWriteFails(t *testing.T) {
	fsys := newTestContainer(t)
	require.NoError(t, fsys.MakeDir("/sub"))
	_, err := fsys.OpenFile("/sub", sixfs.ModeRW, false)
	require.ErrorIs(t, err, sixfs.ErrInvalidArgument)
}

func TestMoveRenamesAcrossDirectories(t *testing.T) {
	fsys := newTestContainer(t)
	require.NoError(t, fsys.MakeDir("/from"))
	require.NoError(t, fsys.MakeDir("/to"))

	h, err := fsys.OpenFile("/from/file.txt", sixfs.ModeRW, true)
	require.NoError(t, err)
	_, err = h.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	require.NoError(t, fsys.Move("/from/file.txt", "/to/file.txt"))

	_, err = fsys.OpenFile("/from/file.txt", sixfs.ModeRO, false)
	require.ErrorIs(t, err, sixfs.ErrNoSuchFile)

	rh, err := fsys.OpenFile("/to/file.txt", sixfs.ModeRO, false)
	require.NoError(t, err)
	defer rh.Close()
	buf := make([]byte, 16)
	n, err := rh.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "payload", string(buf[:n]))
}

func TestMoveRejectsExistingDestination(t *testing.T) {
	fsys := newTestContainer(t)
	for _, name := range []string{"/a.txt", "/b.txt"} {
		h, err := fsys.OpenFile(name, sixfs.ModeRW, true)
		require.NoError(t, err)
		require.NoError(t, h.Close())
	}
	err := fsys.Move("/a.txt", "/b.txt")
	require.ErrorIs(t, err, sixfs.ErrAlreadyExists)
}

func TestCopyFileIsIndependent(t *testing.T) {
	fsys := newTestContainer(t)
	h, err := fsys.OpenFile("/orig.txt", sixfs.ModeRW, true)
	require.NoError(t, err)
	_, err = h.Write([]byte("v1"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	require.NoError(t, fsys.Copy("/orig.txt", "/copy.txt"))

	wh, err := fsys.OpenFile("/orig.txt", sixfs.ModeRW, false)
	require.NoError(t, err)
	_, err = wh.Write([]byte("v2"))
	require.NoError(t, err)
	require.NoError(t, wh.Close())

	ch, err := fsys.OpenFile("/copy.txt", sixfs.ModeRO, false)
	require.NoError(t, err)
	defer ch.Close()
	buf := make([]byte, 8)
	n, err := ch.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "v1", string(buf[:n]))
}

func TestCopyDirectoryRecurses(t *testing.T) {
	fsys := newTestContainer(t)
	require.NoError(t, fsys.MakeDir("/src"))
	require.NoError(t, fsys.MakeDir("/src/nested"))
	h, err := fsys.OpenFile("/src/nested/leaf.txt", sixfs.ModeRW, true)
	require.NoError(t, err)
	_, err = h.Write([]byte("leaf"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	require.NoError(t, fsys.Copy("/src", "/dst"))

	lh, err := fsys.OpenFile("/dst/nested/leaf.txt", sixfs.ModeRO, false)
	require.NoError(t, err)
	defer lh.Close()
	buf := make([]byte, 8)
	n, err := lh.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "leaf", string(buf[:n]))
}

func TestRemoveReclaimsNonEmptyDirectory(t *testing.T) {
	fsys := newTestContainer(t)
	require.NoError(t, fsys.MakeDir("/tree"))
	h, err := fsys.OpenFile("/tree/leaf.txt", sixfs.ModeRW, true)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	require.NoError(t, fsys.Remove("/tree"))
	_, err = fsys.OpenFile("/tree/leaf.txt", sixfs.ModeRO, false)
	require.ErrorIs(t, err, sixfs.ErrNoSuchFile)
}

func TestHandleTruncateResetsSizeAndCursor(t *testing.T) {
	fsys := newTestContainer(t)
	h, err := fsys.OpenFile("/f.txt", sixfs.ModeRW, true)
	require.NoError(t, err)
	_, err = h.Write([]byte("some content"))
	require.NoError(t, err)

	require.NoError(t, h.Truncate())
	size, err := h.Size()
	require.NoError(t, err)
	require.Equal(t, int64(0), size)
	require.NoError(t, h.Close())
}

func TestHandleSeekBounds(t *testing.T) {
	fsys := newTestContainer(t)
	h, err := fsys.OpenFile("/f.txt", sixfs.ModeRW, true)
	require.NoError(t, err)
	_, err = h.Write([]byte("abcdef"))
	require.NoError(t, err)

	require.NoError(t, h.Seek(3))
	require.Error(t, h.Seek(-1))
	require.Error(t, h.Seek(1000))
	require.NoError(t, h.Close())
}

func TestConcurrentReadHandlesAllowed(t *testing.T) {
	fsys := newTestContainer(t)
	h, err := fsys.OpenFile("/shared.txt", sixfs.ModeRW, true)
	require.NoError(t, err)
	_, err = h.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	r1, err := fsys.OpenFile("/shared.txt", sixfs.ModeRO, false)
	require.NoError(t, err)
	defer r1.Close()
	r2, err := fsys.OpenFile("/shared.txt", sixfs.ModeRO, false)
	require.NoError(t, err)
	defer r2.Close()
}

func TestConcurrentWriteHandleIsExclusive(t *testing.T) {
	fsys := newTestContainer(t)
	h, err := fsys.OpenFile("/excl.txt", sixfs.ModeRW, true)
	require.NoError(t, err)
	defer h.Close()

	_, err = fsys.OpenFile("/excl.txt", sixfs.ModeRO, false)
	require.ErrorIs(t, err, sixfs.ErrBusy)
}
