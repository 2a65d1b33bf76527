package sixfs

import (
	"os"

	"golang.org/x/sys/unix"
)

// blockDevice presents the container file as addressable, fixed-size
// pages. Each mapPage call memory-maps exactly one page-sized window of
// the host file; unmapPage releases it. Pages are mapped MAP_SHARED so
// writes through one view are observable to any other view of the same
// page once the write call returns, matching the guarantee in the block
// device component spec.
type blockDevice struct {
	f        *os.File
	pageSize int64
}

func openBlockDevice(f *os.File, pageSize uint64) *blockDevice {
	return &blockDevice{f: f, pageSize: int64(pageSize)}
}

// mapPage returns a writable []byte view of page n backed directly by the
// host file via mmap. The caller must call unmapPage when done.
func (d *blockDevice) mapPage(n uint64) ([]byte, error) {
	off := int64(n) * d.pageSize
	b, err := unix.Mmap(int(d.f.Fd()), off, int(d.pageSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// unmapPage releases a view obtained from mapPage.
func (d *blockDevice) unmapPage(b []byte) error {
	if b == nil {
		return nil
	}
	return unix.Munmap(b)
}

// zeroPage overwrites page n with zeros.
func (d *blockDevice) zeroPage(n uint64) error {
	b, err := d.mapPage(n)
	if err != nil {
		return err
	}
	defer d.unmapPage(b)
	for i := range b {
		b[i] = 0
	}
	return nil
}

// grow sets the backing file's length to exactly totalPages pages, as
// required before a freshly created container can be mapped.
func (d *blockDevice) grow(totalPages uint64) error {
	return d.f.Truncate(int64(totalPages) * d.pageSize)
}

// sync flushes outstanding writes. Crash durability beyond this is
// explicitly out of scope.
func (d *blockDevice) sync() error {
	return d.f.Sync()
}

// close releases the underlying file handle. Individual page mappings
// must already have been returned to the page cache, which unmaps them
// on eviction.
func (d *blockDevice) close() error {
	return d.f.Close()
}
