package sixfs

// dirOps provides directory-content manipulation in terms of the generic
// InodeTable.read/write used for any inode's byte content — a directory
// inode's content is simply a tightly packed sequence of dirEntry
// records (§4.5).
type dirOps struct {
	inodes *InodeTable
}

// lookupDir scans dirInode's entries and returns the child inode index
// whose name matches, or ErrNoSuchFile.
func (d *dirOps) lookupDir(dirInode uint32, name string) (uint32, error) {
	found := false
	var child uint32
	err := d.forEachEntry(dirInode, func(off int64, e dirEntry) (bool, error) {
		if e.Inode == 0 {
			return true, nil
		}
		if e.Name == name {
			found = true
			child = e.Inode
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, newErr(KindNoSuchFile, name)
	}
	return child, nil
}

// insertDir writes a new (name, child) entry into dirInode, reusing a
// tombstone slot if one exists, and links child. Fails already-exists if
// a live entry with that name is already present.
func (d *dirOps) insertDir(dirInode uint32, name string, child uint32) error {
	if len(name) > MaxNameLen {
		return newErr(KindInvalidArgument, name)
	}

	var tombstoneOff int64 = -1
	m, err := d.inodes.snapshot(dirInode)
	if err != nil {
		return err
	}
	size := int64(m.Size)

	err = d.forEachEntry(dirInode, func(off int64, e dirEntry) (bool, error) {
		if e.Inode == 0 {
			if tombstoneOff == -1 {
				tombstoneOff = off
			}
			return true, nil
		}
		if e.Name == name {
			return false, newErr(KindAlreadyExists, name)
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	off := tombstoneOff
	if off == -1 {
		off = size
	}

	e := dirEntry{Inode: child, Name: name}
	buf := make([]byte, dirEntrySize)
	if err := e.marshal(buf); err != nil {
		return err
	}
	if _, err := d.inodes.write(dirInode, off, buf); err != nil {
		return err
	}
	return d.inodes.link(child)
}

// removeDir overwrites name's live entry with a tombstone and unlinks
// child. The unlink happens after the directory write returns, so the
// inode's own lock protocol governs reclaim instead of the directory
// entry's lock.
func (d *dirOps) removeDir(dirInode uint32, name string) error {
	var targetOff int64 = -1
	var child uint32

	err := d.forEachEntry(dirInode, func(off int64, e dirEntry) (bool, error) {
		if e.Inode != 0 && e.Name == name {
			targetOff = off
			child = e.Inode
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	if targetOff == -1 {
		return newErr(KindNoSuchFile, name)
	}

	tomb := dirEntry{Inode: 0, Name: ""}
	buf := make([]byte, dirEntrySize)
	tomb.marshal(buf)
	if _, err := d.inodes.write(dirInode, targetOff, buf); err != nil {
		return err
	}
	return d.inodes.unlink(child)
}

// readDir returns the index-th live (non-tombstone) entry of dirInode,
// or ok=false once entries are exhausted.
func (d *dirOps) readDir(dirInode uint32, index int) (dirEntry, bool, error) {
	var result dirEntry
	found := false
	cur := 0
	err := d.forEachEntry(dirInode, func(off int64, e dirEntry) (bool, error) {
		if e.Inode == 0 {
			return true, nil
		}
		if cur == index {
			result = e
			found = true
			return false, nil
		}
		cur++
		return true, nil
	})
	if err != nil {
		return dirEntry{}, false, err
	}
	return result, found, nil
}

// listAll returns every live entry of dirInode, in on-disk order.
func (d *dirOps) listAll(dirInode uint32) ([]dirEntry, error) {
	var out []dirEntry
	err := d.forEachEntry(dirInode, func(off int64, e dirEntry) (bool, error) {
		if e.Inode != 0 {
			out = append(out, e)
		}
		return true, nil
	})
	return out, err
}

// forEachEntry linearly scans dirInode's content, invoking fn with the
// byte offset and decoded entry (tombstones included) for every
// dirEntrySize-wide record. fn returns false to stop early.
func (d *dirOps) forEachEntry(dirInode uint32, fn func(off int64, e dirEntry) (bool, error)) error {
	m, err := d.inodes.snapshot(dirInode)
	if err != nil {
		return err
	}
	size := int64(m.Size)
	buf := make([]byte, dirEntrySize)
	for off := int64(0); off+dirEntrySize <= size; off += dirEntrySize {
		n, err := d.inodes.read(dirInode, off, buf)
		if err != nil {
			return err
		}
		if n < dirEntrySize {
			break
		}
		var e dirEntry
		e.unmarshal(buf)
		cont, err := fn(off, e)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}
