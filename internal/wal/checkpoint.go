package wal

// CheckpointMode selects one of the three checkpoint behaviors (§4.C).
type CheckpointMode int

const (
	CheckpointPassive CheckpointMode = iota
	CheckpointFull
	CheckpointTruncate
)

// MainFileWriter is the subset of *pager.Pager a checkpoint needs:
// writing backfilled pages directly to the main database file and
// recording the new page count.
type MainFileWriter interface {
	WriteBackfilledPage(no uint32, data []byte) error
	SetPageCount(n uint32) error
	SyncMain() error
}

// CheckpointResult reports what a checkpoint actually did, for
// telemetry and for tests asserting PASSIVE's non-blocking behavior.
type CheckpointResult struct {
	FramesBackfilled int
	WALReset         bool
	WALTruncated     bool
}

// Checkpoint copies committed frames back into the main file and,
// depending on mode, resets the WAL. readersPinned reports whether any
// reader handle is still using a pre-checkpoint snapshot of the WAL;
// PASSIVE respects it (skipping the reset) while FULL/TRUNCATE block
// until it reports false.
func (w *WAL) Checkpoint(mode CheckpointMode, main MainFileWriter, readersPinned func() bool) (CheckpointResult, error) {
	w.mu.Lock()
	total := w.lastCommitFrame
	w.mu.Unlock()

	// A PASSIVE checkpoint backfills only up to the oldest frame still
	// pinned by a reader mark, leaving later frames for a future pass
	// rather than blocking; FULL/TRUNCATE ignore reader marks since they
	// wait out readersPinned below instead.
	limit := total
	partial := false
	if mode == CheckpointPassive {
		if oldest, ok := w.index.OldestReaderMark(); ok && int(oldest) < limit {
			limit = int(oldest)
			partial = true
		}
	}

	w.mu.Lock()
	frames := w.frames[:limit]
	w.mu.Unlock()

	// Backfill only the latest version of each page (duplicate
	// page-number frames within the committed range collapse to one
	// write), preserving commit order for the "latest wins" property.
	latest := make(map[uint32][]byte, len(frames))
	order := make([]uint32, 0, len(frames))
	for _, fr := range frames {
		if _, seen := latest[fr.pgno]; !seen {
			order = append(order, fr.pgno)
		}
		latest[fr.pgno] = fr.data
	}
	for _, pgno := range order {
		if err := main.WriteBackfilledPage(pgno, latest[pgno]); err != nil {
			return CheckpointResult{}, err
		}
	}
	if len(frames) > 0 {
		if err := main.SetPageCount(frames[len(frames)-1].dbSizeAfter); err != nil {
			return CheckpointResult{}, err
		}
	}
	if err := main.SyncMain(); err != nil {
		return CheckpointResult{}, err
	}

	res := CheckpointResult{FramesBackfilled: len(order)}

	if mode == CheckpointPassive && partial {
		return res, nil // a reader mark still pins frames past limit; leave them for next time
	}
	if mode == CheckpointPassive && readersPinned != nil && readersPinned() {
		return res, nil // do not reset while a reader holds the old WAL state
	}
	if mode == CheckpointFull || mode == CheckpointTruncate {
		for readersPinned != nil && readersPinned() {
			// FULL/TRUNCATE block until readers release their snapshot.
			// The core has no internal scheduler thread; callers drive
			// this loop's progress by releasing handles on other
			// goroutines, same as the busy-handler retry model in §5.
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = nil
	w.index.Reset()
	w.lastCommitFrame = 0
	res.WALReset = true

	// Every reset rotates the salt and physically truncates the file, not
	// just TRUNCATE mode: a reset that only rewinds in-memory state would
	// leave the already-backfilled frames on disk, so a reopen with no
	// intervening append would rescan and "recover" them again under the
	// old salt. Only TRUNCATE mode is reported as WALTruncated; PASSIVE/
	// FULL still shrink the file, they just don't promise it to callers.
	w.hdr.Salt1, w.hdr.Salt2 = randomUint32(), randomUint32()
	c1, c2 := cksum(0, 0, w.hdr.Encode()[0:24])
	w.hdr.Checksum1, w.hdr.Checksum2 = c1, c2
	buf := w.hdr.Encode()
	if err := w.f.Truncate(0); err != nil {
		return res, err
	}
	if _, err := w.f.WriteAt(buf[:], 0); err != nil {
		return res, err
	}
	w.writePos = FileHeaderSize
	w.ck0, w.ck1 = c1, c2
	if mode == CheckpointTruncate {
		res.WALTruncated = true
	}
	return res, nil
}
