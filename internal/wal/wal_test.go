package wal

import (
	"testing"

	"github.com/fractalsoft/frankendb/internal/vfs"
)

// fakeMain is a MainFileWriter recording what a checkpoint wrote,
// standing in for the pager's real backfill path.
type fakeMain struct {
	pages     map[uint32][]byte
	pageCount uint32
	synced    bool
}

func newFakeMain() *fakeMain { return &fakeMain{pages: make(map[uint32][]byte)} }

func (m *fakeMain) WriteBackfilledPage(no uint32, data []byte) error {
	m.pages[no] = append([]byte(nil), data...)
	return nil
}
func (m *fakeMain) SetPageCount(n uint32) error { m.pageCount = n; return nil }
func (m *fakeMain) SyncMain() error             { m.synced = true; return nil }

func openTestWAL(t *testing.T) *WAL {
	t.Helper()
	w, err := Open(vfs.NewMemVFS(), "test.db-wal", 4096)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return w
}

func TestHashSlotMatchesReferenceFormula(t *testing.T) {
	if got := HashSlot(1); got != (1*HashMultiplier)&SlotMask {
		t.Fatalf("HashSlot(1) = %d, want %d", got, (1*HashMultiplier)&SlotMask)
	}
}

func TestAppendFrameAndReadPageRoundTrip(t *testing.T) {
	w := openTestWAL(t)
	page := make([]byte, 4096)
	page[0] = 0xAB
	if err := w.AppendFrame(1, page, 1); err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}
	got, ok, err := w.ReadPage(1)
	if err != nil || !ok {
		t.Fatalf("ReadPage: ok=%v err=%v", ok, err)
	}
	if got[0] != 0xAB {
		t.Fatalf("expected page byte 0xAB, got %#x", got[0])
	}
	if w.LastCommitFrame() != 1 {
		t.Fatalf("expected LastCommitFrame 1, got %d", w.LastCommitFrame())
	}
	if w.CommittedPageCount() != 1 {
		t.Fatalf("expected CommittedPageCount 1, got %d", w.CommittedPageCount())
	}
}

// TestPassiveCheckpointBackfillsEverythingWithNoReaders checks the
// baseline: with no reader marks held, PASSIVE backfills every
// committed frame and resets the WAL, same as before reader marks
// existed.
func TestPassiveCheckpointBackfillsEverythingWithNoReaders(t *testing.T) {
	w := openTestWAL(t)
	page1 := make([]byte, 4096)
	page1[0] = 1
	page2 := make([]byte, 4096)
	page2[0] = 2
	if err := w.AppendFrame(1, page1, 0); err != nil {
		t.Fatalf("AppendFrame 1: %v", err)
	}
	if err := w.AppendFrame(2, page2, 2); err != nil {
		t.Fatalf("AppendFrame 2: %v", err)
	}

	main := newFakeMain()
	res, err := w.Checkpoint(CheckpointPassive, main, func() bool { return false })
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if res.FramesBackfilled != 2 {
		t.Fatalf("expected 2 frames backfilled, got %d", res.FramesBackfilled)
	}
	if !res.WALReset {
		t.Fatalf("expected WAL reset when no reader marks are held")
	}
	if main.pages[1][0] != 1 || main.pages[2][0] != 2 {
		t.Fatalf("unexpected backfilled page contents: %+v", main.pages)
	}
}

// TestPassiveCheckpointRespectsReaderMark checks the new behavior: a
// reader pinned to an older snapshot via AcquireReaderMark caps how far
// PASSIVE may backfill, and blocks the WAL reset until that reader
// releases its mark.
func TestPassiveCheckpointRespectsReaderMark(t *testing.T) {
	w := openTestWAL(t)
	page1 := make([]byte, 4096)
	page1[0] = 1
	if err := w.AppendFrame(1, page1, 1); err != nil {
		t.Fatalf("AppendFrame 1: %v", err)
	}

	slot, ok := w.AcquireReaderMark()
	if !ok {
		t.Fatalf("expected a free reader-mark slot")
	}

	page2 := make([]byte, 4096)
	page2[0] = 2
	if err := w.AppendFrame(2, page2, 2); err != nil {
		t.Fatalf("AppendFrame 2: %v", err)
	}

	main := newFakeMain()
	res, err := w.Checkpoint(CheckpointPassive, main, func() bool { return false })
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if res.WALReset {
		t.Fatalf("expected no reset while a reader mark still pins an older frame")
	}
	if _, backfilled := main.pages[2]; backfilled {
		t.Fatalf("expected frame 2 to stay un-backfilled while the reader mark pins frame 1")
	}
	if main.pages[1][0] != 1 {
		t.Fatalf("expected frame 1 to be backfilled up to the reader mark")
	}

	w.ReleaseReaderMark(slot)

	res2, err := w.Checkpoint(CheckpointPassive, main, func() bool { return false })
	if err != nil {
		t.Fatalf("Checkpoint after release: %v", err)
	}
	if !res2.WALReset {
		t.Fatalf("expected reset once the reader mark is released")
	}
}

func TestTruncateCheckpointResetsWALFile(t *testing.T) {
	w := openTestWAL(t)
	page := make([]byte, 4096)
	if err := w.AppendFrame(1, page, 1); err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}
	main := newFakeMain()
	res, err := w.Checkpoint(CheckpointTruncate, main, func() bool { return false })
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if !res.WALTruncated {
		t.Fatalf("expected WALTruncated for CheckpointTruncate")
	}
	if w.FrameCount() != 0 {
		t.Fatalf("expected no frames after truncate, got %d", w.FrameCount())
	}
}
