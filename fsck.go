package sixfs

// FsckReport summarizes what Fsck found. Counts reflect the state
// observed in a single sweep; if repair is requested, LeakedBlocksFreed
// and OrphanedInodesFreed report what was actually corrected.
type FsckReport struct {
	InodesScanned      int
	LeakedBlocks       int // allocated in the bitmap but unreachable from any live inode
	LeakedBlocksFreed  int
	OrphanedInodes     int // Link<=0 but the slot was never reclaimed
	OrphanedInodesFreed int
}

// Fsck walks every inode and every allocated block looking for two classes
// of damage a crash between a write-through and its bitmap update can
// leave behind: blocks marked used in the bitmap that no live inode's
// meta-page references (leaked blocks), and inode slots whose persisted
// Link has reached zero without the slot having been reclaimed back to
// TypeUnused (orphaned inodes, left behind if a process died between
// unlink's write-through and its reclaim call). With repair=true, leaked
// blocks are freed and orphaned inodes are reclaimed; with repair=false
// the report is advisory only and nothing on disk changes.
//
// Fsck takes the coarse filesystem lock for its entire sweep: no other
// namespace operation (including opening a handle) may interleave with
// it. Reads, writes and Close on already-open handles do not take that
// lock and are not excluded.
func (fsys *Filesystem) Fsck(repair bool) (FsckReport, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if fsys.closed {
		return FsckReport{}, newErr(KindClosed, "")
	}

	var report FsckReport
	reachable := make(map[uint64]bool)

	for i := uint64(0); i < fsys.l.inodeCount; i++ {
		idx := uint32(i)
		snap, err := fsys.inodes.snapshot(idx)
		if err != nil {
			return report, err
		}
		if snap.Type == TypeUnused {
			continue
		}
		report.InodesScanned++

		if snap.Link <= 0 {
			report.OrphanedInodes++
			if repair {
				if err := fsys.inodes.reclaim(idx); err != nil {
					return report, err
				}
				report.OrphanedInodesFreed++
				continue
			}
		}

		reachable[uint64(snap.IndirectPage)] = true
		if err := fsys.markContentBlocksReachable(idx, reachable); err != nil {
			return report, err
		}
	}

	fsys.blocks.each(func(block uint64) {
		if reachable[block] {
			return
		}
		report.LeakedBlocks++
		if repair {
			if err := fsys.blocks.free(block); err == nil {
				report.LeakedBlocksFreed++
			}
		}
	})

	return report, nil
}

func (fsys *Filesystem) markContentBlocksReachable(i uint32, reachable map[uint64]bool) error {
	if _, err := fsys.inodes.snapshot(i); err != nil {
		return err
	}
	ppm := pointersPerMetaPage(fsys.l.pageSize)
	for k := uint64(0); k < ppm; k++ {
		block, err := fsys.inodes.mapPage(i, k, false)
		if err != nil {
			return err
		}
		if block != 0 {
			reachable[block] = true
		}
	}
	return nil
}
