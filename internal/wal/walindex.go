package wal

import (
	"sync"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
)

const (
	// HashSlots is the size of each segment's hash table (u16[8192]).
	HashSlots = 8192
	// SlotMask selects the low 13 bits, i.e. mod 8192.
	SlotMask = 8191
	// HashMultiplier spreads page numbers across the hash table.
	HashMultiplier = 383
	// PgnoArrayLen is a non-zero segment's page-number array length.
	PgnoArrayLen = 4096
	// Segment0HeaderBytes is reserved at the front of segment 0 for the
	// WAL-index header (version, change counter, backfill counter, two
	// checksum words, page size, five 8-byte reader marks, write-lock
	// word -- 136 bytes total, §6).
	Segment0HeaderBytes = 136
	// SegmentSize is the fixed 32 KiB SHM region size (§3).
	SegmentSize = HashSlots*2 + PgnoArrayLen*4 // 32768 for segments > 0
)

// HashSlot computes the WAL-index hash slot for a page number: the
// (pgno*383) & 8191 formula tested directly by §8's invariant.
func HashSlot(pgno uint32) int {
	return int((uint64(pgno) * HashMultiplier) & SlotMask)
}

// SegmentCapacity returns how many distinct page entries segment idx can
// hold: 4,062 for segment 0 (136 header bytes eat 34 page-number
// slots), 4,096 for every later segment.
func SegmentCapacity(idx int) int {
	if idx == 0 {
		return PgnoArrayLen - Segment0HeaderBytes/4
	}
	return PgnoArrayLen
}

// segment is one 32 KiB WAL-index region, decomposed into its hash
// table and page-number array. Index 0 carries the header prefix.
type segment struct {
	hash []uint16 // len HashSlots; 0 = empty, else 1-based index into pgno
	pgno []uint32 // len SegmentCapacity(idx)
	used int
}

func newSegment(idx int) *segment {
	return &segment{hash: make([]uint16, HashSlots), pgno: make([]uint32, SegmentCapacity(idx))}
}

// ReaderMarkSlots is the number of reader-mark slots the WAL-index
// header reserves (five 8-byte marks within Segment0HeaderBytes, §6).
const ReaderMarkSlots = 5

// noReaderMark marks a reader-mark slot as unused.
const noReaderMark = ^uint32(0)

// Index is the in-memory WAL-index: a growable list of segments plus a
// fast authoritative page->frame map used by the pager's read path
// (the segment/hash-table structure below is exercised directly by
// tests asserting the reference layout and by Recovery, which rebuilds
// it from scratch on open).
type Index struct {
	mu       sync.Mutex
	segs     []*segment
	pageToFrame map[uint32]int // pgno -> most recent global frame number (1-based)
	frameCount  int

	readerMarks [ReaderMarkSlots]uint32
}

// NewIndex returns an empty WAL-index.
func NewIndex() *Index {
	x := &Index{pageToFrame: make(map[uint32]int)}
	for i := range x.readerMarks {
		x.readerMarks[i] = noReaderMark
	}
	return x
}

// Reset clears the index, e.g. after a checkpoint TRUNCATE. Reader
// marks survive a reset: a reader that pinned a snapshot before the
// checkpoint is still pinned to it after, independent of the index's
// own page->frame map being rebuilt.
func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.segs = nil
	x.pageToFrame = make(map[uint32]int)
	x.frameCount = 0
}

// AcquireReaderMark records a reader's pinned frame number in a free
// reader-mark slot, returning the slot so the caller can release it
// once its snapshot is no longer needed. Returns ok=false if all
// ReaderMarkSlots slots are already in use.
func (x *Index) AcquireReaderMark(frame uint32) (slot int, ok bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for i := range x.readerMarks {
		if x.readerMarks[i] == noReaderMark {
			x.readerMarks[i] = frame
			return i, true
		}
	}
	return 0, false
}

// ReleaseReaderMark frees a slot previously returned by
// AcquireReaderMark.
func (x *Index) ReleaseReaderMark(slot int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if slot >= 0 && slot < len(x.readerMarks) {
		x.readerMarks[slot] = noReaderMark
	}
}

// OldestReaderMark returns the smallest pinned frame number across
// every active reader-mark slot, the frame a PASSIVE checkpoint must
// not backfill past without invalidating that reader's snapshot.
// ok is false when no reader currently holds a mark.
func (x *Index) OldestReaderMark() (frame uint32, ok bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	oldest := noReaderMark
	for _, m := range x.readerMarks {
		if m != noReaderMark && m < oldest {
			oldest = m
			ok = true
		}
	}
	return oldest, ok
}

// InsertAt inserts pgno into segment idx (allocating it if this is the
// next new segment), returning Full if that specific segment's page
// array is already at SegmentCapacity(idx). This is the low-level
// operation §8 scenario "WAL first segment capacity" exercises
// directly against segment 0.
func (x *Index) InsertAt(idx int, pgno uint32, frameNo int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for len(x.segs) <= idx {
		x.segs = append(x.segs, newSegment(len(x.segs)))
	}
	seg := x.segs[idx]
	slot := HashSlot(pgno)
	for i := 0; i < HashSlots; i++ {
		s := (slot + i) & SlotMask
		if seg.hash[s] == 0 {
			if seg.used >= len(seg.pgno) {
				return fsqliteerr.New(fsqliteerr.Full, "wal-index segment %d full (%d entries)", idx, len(seg.pgno))
			}
			seg.pgno[seg.used] = pgno
			seg.hash[s] = uint16(seg.used + 1)
			seg.used++
			x.pageToFrame[pgno] = frameNo
			x.frameCount++
			return nil
		}
		if seg.pgno[seg.hash[s]-1] == pgno {
			// Revisit: point the existing slot at the newest frame so
			// readers see the latest version (§4.C insertion rule).
			x.pageToFrame[pgno] = frameNo
			return nil
		}
	}
	return fsqliteerr.New(fsqliteerr.Full, "wal-index segment %d hash table exhausted", idx)
}

// Insert adds pgno at the newest frame, growing into a new segment
// automatically once the current one is full.
func (x *Index) Insert(pgno uint32, frameNo int) error {
	idx := 0
	for {
		err := x.InsertAt(idx, pgno, frameNo)
		if err == nil {
			return nil
		}
		fe, ok := err.(*fsqliteerr.Error)
		if !ok || fe.Kind != fsqliteerr.Full {
			return err
		}
		idx++
		if idx > 1<<20 {
			return err // pathological; avoid an infinite loop
		}
	}
}

// Lookup returns the most recent frame number recorded for pgno.
func (x *Index) Lookup(pgno uint32) (int, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	f, ok := x.pageToFrame[pgno]
	return f, ok
}

// SegmentUsed reports how many entries segment idx currently holds,
// for capacity assertions in tests.
func (x *Index) SegmentUsed(idx int) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	if idx < 0 || idx >= len(x.segs) {
		return 0
	}
	return x.segs[idx].used
}
