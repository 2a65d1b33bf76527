package sixfs

import (
	"os"
	"path/filepath"
	"testing"
)

// newTestDevice builds a blockDevice (and the layout it was sized for)
// backed by a real temp file, sized per l.totalPages, with the file
// header already written.
func newTestDevice(t *testing.T, inodeCount, maxBlocks uint64) (*blockDevice, *layout) {
	t.Helper()
	hdr := header{Magic: Magic, Version: FormatVersion, InodeCount: inodeCount, MaxBlocks: maxBlocks, PageSize: DefaultPageSize}
	l := newLayout(&hdr)

	path := filepath.Join(t.TempDir(), "container.img")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { f.Close() })

	dev := openBlockDevice(f, hdr.PageSize)
	if err := dev.grow(l.totalPages); err != nil {
		t.Fatalf("grow: %v", err)
	}
	if _, err := f.WriteAt(hdr.marshal(), 0); err != nil {
		t.Fatalf("write header: %v", err)
	}
	for p := uint64(1); p < l.bitmapPage+1; p++ {
		if err := dev.zeroPage(p); err != nil {
			t.Fatalf("zero page %d: %v", p, err)
		}
	}
	return dev, l
}
