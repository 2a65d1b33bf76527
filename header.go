package sixfs

import (
	"bytes"
	"encoding/binary"
)

// Magic is the fixed 64-bit signature stored at offset 0 of every
// container. A byte-swapped magic (stored little-endian by a foreign
// writer) is detected explicitly rather than guessed at, per the source's
// own resolution of its ambiguous 32-bit-literal-vs-64-bit-field check.
const Magic uint64 = 0x00000000DEADBEEF

// FormatVersion is the only on-disk version this package understands.
const FormatVersion uint64 = 1

// HeaderSize is the fixed byte length of the container header (page 0).
const HeaderSize = 40

// header is the 40-byte, big-endian-fixed record stored at page 0.
type header struct {
	Magic      uint64
	Version    uint64
	InodeCount uint64
	MaxBlocks  uint64
	PageSize   uint64
}

// order is always big-endian on disk; see header.unmarshal for the
// byte-swap detection that rejects a mis-endianned container instead of
// silently reinterpreting it.
var order = binary.BigEndian

func (h *header) marshal() []byte {
	buf := make([]byte, HeaderSize)
	order.PutUint64(buf[0:8], h.Magic)
	order.PutUint64(buf[8:16], h.Version)
	order.PutUint64(buf[16:24], h.InodeCount)
	order.PutUint64(buf[24:32], h.MaxBlocks)
	order.PutUint64(buf[32:40], h.PageSize)
	return buf
}

func (h *header) unmarshal(buf []byte) error {
	if len(buf) < HeaderSize {
		return wrapErr(KindFormat, "", bytes.ErrTooLarge)
	}
	magic := order.Uint64(buf[0:8])
	if magic != Magic {
		// Detect a byte-swapped magic explicitly: a foreign writer that
		// used little-endian would store the same 8 bytes in reverse.
		swapped := binary.LittleEndian.Uint64(buf[0:8])
		if swapped == Magic {
			return newErr(KindFormat, "")
		}
		return newErr(KindFormat, "")
	}
	h.Magic = magic
	h.Version = order.Uint64(buf[8:16])
	h.InodeCount = order.Uint64(buf[16:24])
	h.MaxBlocks = order.Uint64(buf[24:32])
	h.PageSize = order.Uint64(buf[32:40])
	if h.Version != FormatVersion {
		return newErr(KindFormat, "")
	}
	return nil
}

// layout bundles the derived page offsets computed once from a header.
// I = inode-table page count, firstDataBlock = page index of the first
// data block.
type layout struct {
	pageSize        uint64
	inodeCount      uint64
	maxBlocks       uint64
	inodesPerPage   uint64
	inodeTablePages uint64 // I
	bitmapPage      uint64 // I + 1
	firstDataBlock  uint64 // I + 2
	totalPages      uint64 // M
}

const inodeRecordSize = 32

func newLayout(h *header) *layout {
	ipp := h.PageSize / inodeRecordSize
	itPages := (h.InodeCount + ipp - 1) / ipp
	if itPages == 0 {
		itPages = 1
	}
	l := &layout{
		pageSize:        h.PageSize,
		inodeCount:      h.InodeCount,
		maxBlocks:       h.MaxBlocks,
		inodesPerPage:   ipp,
		inodeTablePages: itPages,
	}
	l.bitmapPage = 1 + itPages
	l.firstDataBlock = l.bitmapPage + 1
	l.totalPages = l.firstDataBlock + h.MaxBlocks
	return l
}

// inodePageAndOffset locates the page and in-page byte offset of inode i's
// on-disk record.
func (l *layout) inodePageAndOffset(i uint32) (page uint64, offset uint64) {
	idx := uint64(i)
	page = 1 + idx/l.inodesPerPage
	offset = (idx % l.inodesPerPage) * inodeRecordSize
	return
}
