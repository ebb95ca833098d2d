package wal

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
	"github.com/fractalsoft/frankendb/internal/vfs"
)

// frameRecord is one in-memory, already-validated frame: the durable
// source of truth is the file, but keeping the scanned result resident
// avoids re-parsing on every page lookup and gives Checkpoint/Recovery
// a simple slice to walk.
type frameRecord struct {
	pgno        uint32
	data        []byte
	dbSizeAfter uint32
}

// WAL is one open write-ahead log plus its in-memory index.
type WAL struct {
	mu sync.Mutex

	v    vfs.VFS
	f    vfs.File
	path string

	pageSize uint32
	hdr      FileHeader
	index    *Index
	frames   []frameRecord

	lastCommitFrame int // 0 = none committed
	writePos        int64
	ck0, ck1        uint32 // running checksum state after the last frame
}

// Open opens (creating if absent) the WAL file at path, running
// recovery to discard any uncommitted tail.
func Open(v vfs.VFS, path string, pageSize uint32) (*WAL, error) {
	f, err := v.Open(path, vfs.OpenReadWrite|vfs.OpenCreate)
	if err != nil {
		return nil, err
	}
	w := &WAL{v: v, f: f, path: path, pageSize: pageSize, index: NewIndex()}
	size, err := f.FileSize()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		if err := w.writeFreshHeader(); err != nil {
			return nil, err
		}
		return w, nil
	}
	if err := w.recover(); err != nil {
		return nil, err
	}
	return w, nil
}

func randomUint32() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

func (w *WAL) writeFreshHeader() error {
	salt1, salt2 := randomUint32(), randomUint32()
	w.hdr = FileHeader{Magic: MagicBigEndian, FormatVersion: 3007000, PageSize: w.pageSize, Salt1: salt1, Salt2: salt2}
	c1, c2 := cksum(0, 0, w.hdr.Encode()[0:24])
	w.hdr.Checksum1, w.hdr.Checksum2 = c1, c2
	buf := w.hdr.Encode()
	if _, err := w.f.WriteAt(buf[:], 0); err != nil {
		return err
	}
	w.writePos = FileHeaderSize
	w.ck0, w.ck1 = c1, c2
	w.lastCommitFrame = 0
	w.frames = nil
	w.index = NewIndex()
	return nil
}

// AppendFrame writes a new frame for page no carrying payload data. A
// nonzero dbSizeAfterCommit marks this frame as the final frame of a
// committed transaction.
func (w *WAL) AppendFrame(no uint32, data []byte, dbSizeAfterCommit uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var head [8]byte
	binary.BigEndian.PutUint32(head[0:4], no)
	binary.BigEndian.PutUint32(head[4:8], dbSizeAfterCommit)
	c0, c1 := FrameChecksum(w.ck0, w.ck1, head, data)
	fh := FrameHeader{PageNo: no, DBSizeAfter: dbSizeAfterCommit, Salt1: w.hdr.Salt1, Salt2: w.hdr.Salt2, Checksum1: c0, Checksum2: c1}
	hdrBuf := fh.Encode()
	buf := make([]byte, FrameHeaderSize+len(data))
	copy(buf, hdrBuf[:])
	copy(buf[FrameHeaderSize:], data)
	if _, err := w.f.WriteAt(buf, w.writePos); err != nil {
		return err
	}
	w.writePos += int64(len(buf))
	w.ck0, w.ck1 = c0, c1
	w.frames = append(w.frames, frameRecord{pgno: no, data: append([]byte(nil), data...), dbSizeAfter: dbSizeAfterCommit})
	frameNo := len(w.frames)
	if err := w.index.Insert(no, frameNo); err != nil {
		return err
	}
	if dbSizeAfterCommit != 0 {
		w.lastCommitFrame = frameNo
	}
	return nil
}

// ReadPage satisfies pager.WALHandle: it returns the payload of the
// most recent committed-or-not frame for page no. Uncommitted frames
// are still readable within the same connection/transaction that wrote
// them (a writer must see its own uncommitted writes); visibility
// across transactions is enforced above this layer by MVCC/locking.
func (w *WAL) ReadPage(no uint32) ([]byte, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	frameNo, ok := w.index.Lookup(no)
	if !ok || frameNo > len(w.frames) {
		return nil, false, nil
	}
	return w.frames[frameNo-1].data, true, nil
}

// FrameCount returns the number of valid frames currently in the WAL.
func (w *WAL) FrameCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

// LastCommitFrame returns the 1-based index of the most recent
// committed frame, or 0 if none.
func (w *WAL) LastCommitFrame() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastCommitFrame
}

// CommittedPageCount returns the db_size recorded by the last commit
// frame (the post-commit page count), or 0 if nothing has committed.
func (w *WAL) CommittedPageCount() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastCommitFrame == 0 {
		return 0
	}
	return w.frames[w.lastCommitFrame-1].dbSizeAfter
}

// AcquireReaderMark pins the WAL-index's current frame count into a
// reader-mark slot, so a concurrent PASSIVE checkpoint knows not to
// backfill past the snapshot this reader is using. The returned slot
// must be passed to ReleaseReaderMark once the reader is done.
func (w *WAL) AcquireReaderMark() (slot int, ok bool) {
	w.mu.Lock()
	frame := uint32(w.lastCommitFrame)
	w.mu.Unlock()
	return w.index.AcquireReaderMark(frame)
}

// ReleaseReaderMark frees a slot acquired by AcquireReaderMark.
func (w *WAL) ReleaseReaderMark(slot int) {
	w.index.ReleaseReaderMark(slot)
}

func (w *WAL) Close() error { return w.f.Close() }

// Salts returns the current pair, rotated on every reset.
func (w *WAL) Salts() (uint32, uint32) { return w.hdr.Salt1, w.hdr.Salt2 }

func errShortFrame() error {
	return fsqliteerr.New(fsqliteerr.Corrupt, "wal: truncated frame")
}
