package pager

import (
	"encoding/binary"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
)

// JournalMagic is the reference SQLite rollback-journal header magic.
var JournalMagic = [8]byte{0xd9, 0xd5, 0x05, 0xf9, 0x20, 0xa1, 0x63, 0xd7}

// JournalHeaderSize is the 28-byte fixed header (§6): magic, record
// count, checksum nonce, initial page count, sector size, page size.
const JournalHeaderSize = 28

// JournalHeader is the parsed rollback-journal header.
type JournalHeader struct {
	RecordCount  int32 // -1 means "unknown, scan to EOF"
	Nonce        uint32
	InitialPages uint32
	SectorSize   uint32
	PageSize     uint32
}

func (h JournalHeader) Encode() [JournalHeaderSize]byte {
	var buf [JournalHeaderSize]byte
	copy(buf[0:8], JournalMagic[:])
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.RecordCount))
	binary.BigEndian.PutUint32(buf[12:16], h.Nonce)
	binary.BigEndian.PutUint32(buf[16:20], h.InitialPages)
	binary.BigEndian.PutUint32(buf[20:24], h.SectorSize)
	binary.BigEndian.PutUint32(buf[24:28], h.PageSize)
	return buf
}

func DecodeJournalHeader(buf []byte) (JournalHeader, error) {
	if len(buf) < JournalHeaderSize {
		return JournalHeader{}, fsqliteerr.New(fsqliteerr.Corrupt, "journal: short header")
	}
	for i := range JournalMagic {
		if buf[i] != JournalMagic[i] {
			return JournalHeader{}, fsqliteerr.New(fsqliteerr.Corrupt, "journal: bad magic")
		}
	}
	return JournalHeader{
		RecordCount:  int32(binary.BigEndian.Uint32(buf[8:12])),
		Nonce:        binary.BigEndian.Uint32(buf[12:16]),
		InitialPages: binary.BigEndian.Uint32(buf[16:20]),
		SectorSize:   binary.BigEndian.Uint32(buf[20:24]),
		PageSize:     binary.BigEndian.Uint32(buf[24:28]),
	}, nil
}

// journalChecksum computes the per-page record checksum SQLite uses:
// the nonce folded over every 200th byte of the page image. Using a
// sparse checksum (not a full CRC) matches the reference format, which
// favors speed over catching every possible corruption.
func journalChecksum(nonce uint32, page []byte) uint32 {
	cksum := nonce
	for i := len(page) - 200; i > 0; i -= 200 {
		cksum += uint32(page[i])
	}
	return cksum
}

// JournalRecord is one (pgno, pre-image, checksum) entry.
type JournalRecord struct {
	PageNo  PageNumber
	Content []byte
}

func encodeJournalRecord(nonce uint32, rec JournalRecord) []byte {
	out := make([]byte, 4+len(rec.Content)+4)
	binary.BigEndian.PutUint32(out[0:4], uint32(rec.PageNo))
	copy(out[4:], rec.Content)
	cksum := journalChecksum(nonce, rec.Content)
	binary.BigEndian.PutUint32(out[4+len(rec.Content):], cksum)
	return out
}

func decodeJournalRecord(nonce uint32, pageSize int, buf []byte) (JournalRecord, int, error) {
	recSize := 4 + pageSize + 4
	if len(buf) < recSize {
		return JournalRecord{}, 0, fsqliteerr.New(fsqliteerr.Corrupt, "journal: truncated record")
	}
	pgno := PageNumber(binary.BigEndian.Uint32(buf[0:4]))
	content := buf[4 : 4+pageSize]
	wantCksum := binary.BigEndian.Uint32(buf[4+pageSize : recSize])
	gotCksum := journalChecksum(nonce, content)
	if wantCksum != gotCksum {
		return JournalRecord{}, 0, fsqliteerr.New(fsqliteerr.Corrupt, "journal: checksum mismatch at pgno %d", pgno)
	}
	return JournalRecord{PageNo: pgno, Content: append([]byte(nil), content...)}, recSize, nil
}
