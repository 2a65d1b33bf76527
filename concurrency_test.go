package sixfs_test

import (
	"errors"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sixfs/sixfs"
)

// TestConcurrentDistinctFileWrites exercises many goroutines each
// creating and writing their own file concurrently, verifying that every
// OpenFile(create) and the following write (outside the coarse lock)
// succeed and that all n entries end up in the root directory.
func TestConcurrentDistinctFileWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container.img")
	fsys, err := sixfs.Create(path, sixfs.WithInodeCount(256), sixfs.WithMaxBlocks(1024))
	require.NoError(t, err)
	defer fsys.Close()

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "/file" + string(rune('a'+i%26)) + string(rune('0'+i/26)) + ".txt"
			h, err := fsys.OpenFile(name, sixfs.ModeRW, true)
			if err != nil {
				errs[i] = err
				return
			}
			defer h.Close()
			payload := []byte(name)
			if _, err := h.Write(payload); err != nil {
				errs[i] = err
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "goroutine %d", i)
	}

	entries, err := fsys.ReadDir("/", nil)
	require.NoError(t, err)
	require.Len(t, entries, n)
}

// TestConcurrentOpenCloseReclaimRace hammers open/close of a handle on a
// path that another goroutine concurrently removes, checking that no
// operation ever observes a half-freed inode (it should only ever see a
// clean no-such-file once the remove wins the race).
func TestConcurrentOpenCloseReclaimRace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container.img")
	fsys, err := sixfs.Create(path, sixfs.WithInodeCount(64), sixfs.WithMaxBlocks(256))
	require.NoError(t, err)
	defer fsys.Close()

	h, err := fsys.OpenFile("/race.txt", sixfs.ModeRW, true)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			rh, err := fsys.OpenFile("/race.txt", sixfs.ModeRO, false)
			if err != nil {
				continue // already removed, expected eventually
			}
			rh.Close()
		}
	}()

	go func() {
		defer wg.Done()
		// Remove fails busy while a reader holds its path-RO lock on the
		// root; retry until the reader loop lets it through.
		for errors.Is(fsys.Remove("/race.txt"), sixfs.ErrBusy) {
			runtime.Gosched()
		}
	}()

	wg.Wait()

	_, err = fsys.OpenFile("/race.txt", sixfs.ModeRO, false)
	require.ErrorIs(t, err, sixfs.ErrNoSuchFile)
}
