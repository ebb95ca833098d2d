package wal

import "encoding/binary"

// recover implements §4.C's recovery algorithm on (*WAL).Open: scan
// frames sequentially validating the checksum chain, stop at the first
// invalid or truncated frame, then discard everything after the most
// recent committed frame. Re-running it against the same on-disk bytes
// is a pure function of those bytes (idempotence, §8) because the
// final step physically truncates the file to the recovered prefix.
func (w *WAL) recover() error {
	hdrBuf := make([]byte, FileHeaderSize)
	if _, err := w.f.ReadAt(hdrBuf, 0); err != nil {
		return w.writeFreshHeader()
	}
	hdr, ok := DecodeFileHeader(hdrBuf)
	if !ok {
		// Header corruption: treat WAL as empty, leaving the main DB
		// file as authoritative (§4.C Failure modes).
		return w.writeFreshHeader()
	}
	w.hdr = hdr

	var frames []frameRecord
	ck0, ck1 := cksum(0, 0, hdrBuf[0:24])
	ckCommit0, ckCommit1 := ck0, ck1
	pos := int64(FileHeaderSize)
	lastCommit := 0

	for {
		frameHdrBuf := make([]byte, FrameHeaderSize)
		n, err := w.f.ReadAt(frameHdrBuf, pos)
		if err != nil || n < FrameHeaderSize {
			break // partial/absent frame header at EOF: stop (§4.C)
		}
		fh := DecodeFrameHeader(frameHdrBuf)
		if fh.Salt1 != hdr.Salt1 || fh.Salt2 != hdr.Salt2 {
			break // frame belongs to a prior WAL incarnation; stop here
		}
		payload := make([]byte, hdr.PageSize)
		n, err = w.f.ReadAt(payload, pos+FrameHeaderSize)
		if err != nil || n < int(hdr.PageSize) {
			break // truncated payload at EOF
		}
		var head [8]byte
		binary.BigEndian.PutUint32(head[0:4], fh.PageNo)
		binary.BigEndian.PutUint32(head[4:8], fh.DBSizeAfter)
		wantC0, wantC1 := FrameChecksum(ck0, ck1, head, payload)
		if wantC0 != fh.Checksum1 || wantC1 != fh.Checksum2 {
			break // checksum mismatch: truncated or corrupted past here
		}
		ck0, ck1 = wantC0, wantC1
		frames = append(frames, frameRecord{pgno: fh.PageNo, data: payload, dbSizeAfter: fh.DBSizeAfter})
		if fh.DBSizeAfter != 0 {
			lastCommit = len(frames)
			ckCommit0, ckCommit1 = ck0, ck1
		}
		pos += FrameHeaderSize + int64(hdr.PageSize)
	}

	// Discard the uncommitted tail: frames validated past lastCommit are
	// dropped even though their individual checksums matched, because
	// they were never confirmed by a commit frame (§4.C step 3).
	frames = frames[:lastCommit]

	idx := NewIndex()
	for i, fr := range frames {
		if err := idx.Insert(fr.pgno, i+1); err != nil {
			return err
		}
	}

	w.frames = frames
	w.index = idx
	w.lastCommitFrame = lastCommit
	newWritePos := int64(FileHeaderSize)
	for _, fr := range frames {
		newWritePos += FrameHeaderSize + int64(len(fr.data))
	}
	w.writePos = newWritePos
	// The checksum chain continues from the retained prefix, not from the
	// last validated frame: an uncommitted tail is truncated away above,
	// so the next AppendFrame must chain off the committed frame's
	// checksum or its own frame will fail validation on the next recovery.
	w.ck0, w.ck1 = ckCommit0, ckCommit1
	// Physically drop anything beyond the recovered prefix so a second
	// recovery run over the same file sees byte-identical input.
	return w.f.Truncate(newWritePos)
}

// RecoveryResult summarizes a recovery pass for tests asserting
// idempotence: recovering twice must yield an equal RecoveryResult.
type RecoveryResult struct {
	FrameCount      int
	LastCommitFrame int
	PageAtFrame     []uint32
}

// Snapshot captures the current recovered state for comparison.
func (w *WAL) Snapshot() RecoveryResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	pages := make([]uint32, len(w.frames))
	for i, fr := range w.frames {
		pages[i] = fr.pgno
	}
	return RecoveryResult{FrameCount: len(w.frames), LastCommitFrame: w.lastCommitFrame, PageAtFrame: pages}
}
