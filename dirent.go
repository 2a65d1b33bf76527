package sixfs

// MaxNameLen is the longest name payload a directory entry can hold.
const MaxNameLen = 255

// dirEntrySize is the fixed width of one directory entry: a 4-byte
// child inode index followed by an 8-byte length-prefixed, zero-padded
// name field (8 + 255 = 263), for 267 bytes total.
const dirEntrySize = 4 + 8 + MaxNameLen

// dirEntry is the decoded form of one fixed-width directory record. An
// Inode of 0 marks a tombstone.
type dirEntry struct {
	Inode uint32
	Name  string
}

func (e *dirEntry) marshal(buf []byte) error {
	if len(e.Name) > MaxNameLen {
		return newErr(KindInvalidArgument, e.Name)
	}
	order.PutUint32(buf[0:4], e.Inode)
	order.PutUint64(buf[4:12], uint64(len(e.Name)))
	for i := 12; i < dirEntrySize; i++ {
		buf[i] = 0
	}
	copy(buf[12:12+len(e.Name)], e.Name)
	return nil
}

func (e *dirEntry) unmarshal(buf []byte) {
	e.Inode = order.Uint32(buf[0:4])
	n := order.Uint64(buf[4:12])
	if n > MaxNameLen {
		n = MaxNameLen
	}
	e.Name = string(buf[12 : 12+n])
}
