package pager

import "github.com/fractalsoft/frankendb/internal/wal"

// WALAdapter bridges *wal.WAL's uint32-keyed page methods to the
// PageNumber-keyed WALHandle interface AttachWAL expects. The two
// types don't implement WALHandle directly (wal.WAL predates the
// pager's PageNumber type and its own call sites are all plain
// uint32), so this is a thin method-per-method forwarder rather than
// a behavioral wrapper.
type WALAdapter struct {
	W *wal.WAL
}

func (a WALAdapter) ReadPage(no PageNumber) ([]byte, bool, error) {
	return a.W.ReadPage(uint32(no))
}

func (a WALAdapter) AppendFrame(no PageNumber, data []byte, dbSizeAfterCommit uint32) error {
	return a.W.AppendFrame(uint32(no), data, dbSizeAfterCommit)
}

func (a WALAdapter) FrameCount() int { return a.W.FrameCount() }
