// Package pager implements block-level I/O over a SQLite-format database
// file: the page-1 header, the page buffer cache with its replacement
// policy, the rollback-journal write path, and the freelist. It is
// grounded on the pager/superblock split the teacher codebase used, but
// the header layout and page numbering now follow the real SQLite
// on-disk format (page 1 is 1-based, not a synthetic page 0).
package pager

import (
	"encoding/binary"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
)

// HeaderSize is the fixed 100-byte database header occupying the start
// of page 1.
const HeaderSize = 100

// Magic is the 16-byte header string identifying a SQLite-format file.
var Magic = [16]byte{'S', 'Q', 'L', 'i', 't', 'e', ' ', 'f', 'o', 'r', 'm', 'a', 't', ' ', '3', 0}

const (
	MinPageSize = 512
	MaxPageSize = 65536

	TextEncodingUTF8    = 1
	TextEncodingUTF16LE = 2
	TextEncodingUTF16BE = 3
)

// Header is the parsed form of page 1's first 100 bytes (§3).
type Header struct {
	PageSize            uint32 // stored as uint16 on disk; 1 means 65536
	FileFormatWrite     uint8
	FileFormatRead      uint8
	ReservedPerPage     uint8
	MaxPayloadFrac      uint8 // always 64
	MinPayloadFrac      uint8 // always 32
	LeafPayloadFrac     uint8 // always 32
	FileChangeCounter   uint32
	DBSizePages         uint32
	FreelistTrunkPage   uint32
	FreelistPageCount   uint32
	SchemaCookie        uint32
	SchemaFormat        uint32
	DefaultCacheSize    uint32
	LargestRootBTreePage uint32
	TextEncoding        uint32
	UserVersion         uint32
	IncrementalVacuum   uint32
	ApplicationID       uint32
	VersionValidFor     uint32
	SQLiteVersionNumber uint32
}

// DefaultHeader returns the header for a freshly created database file.
func DefaultHeader(pageSize uint32) Header {
	return Header{
		PageSize:             pageSize,
		FileFormatWrite:      1,
		FileFormatRead:       1,
		ReservedPerPage:      0,
		MaxPayloadFrac:       64,
		MinPayloadFrac:       32,
		LeafPayloadFrac:      32,
		FileChangeCounter:    1,
		DBSizePages:          1,
		TextEncoding:         TextEncodingUTF8,
		SQLiteVersionNumber:  3045000,
		VersionValidFor:      1,
	}
}

// Encode marshals h into the 100-byte on-disk header.
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	copy(buf[0:16], Magic[:])
	pageSizeField := uint16(h.PageSize)
	if h.PageSize == 65536 {
		pageSizeField = 1
	}
	binary.BigEndian.PutUint16(buf[16:18], pageSizeField)
	buf[18] = h.FileFormatWrite
	buf[19] = h.FileFormatRead
	buf[20] = h.ReservedPerPage
	buf[21] = h.MaxPayloadFrac
	buf[22] = h.MinPayloadFrac
	buf[23] = h.LeafPayloadFrac
	binary.BigEndian.PutUint32(buf[24:28], h.FileChangeCounter)
	binary.BigEndian.PutUint32(buf[28:32], h.DBSizePages)
	binary.BigEndian.PutUint32(buf[32:36], h.FreelistTrunkPage)
	binary.BigEndian.PutUint32(buf[36:40], h.FreelistPageCount)
	binary.BigEndian.PutUint32(buf[40:44], h.SchemaCookie)
	binary.BigEndian.PutUint32(buf[44:48], h.SchemaFormat)
	binary.BigEndian.PutUint32(buf[48:52], h.DefaultCacheSize)
	binary.BigEndian.PutUint32(buf[52:56], h.LargestRootBTreePage)
	binary.BigEndian.PutUint32(buf[56:60], h.TextEncoding)
	binary.BigEndian.PutUint32(buf[60:64], h.UserVersion)
	binary.BigEndian.PutUint32(buf[64:68], h.IncrementalVacuum)
	binary.BigEndian.PutUint32(buf[68:72], h.ApplicationID)
	// bytes 72-91 reserved for expansion, left zero
	binary.BigEndian.PutUint32(buf[92:96], h.VersionValidFor)
	binary.BigEndian.PutUint32(buf[96:100], h.SQLiteVersionNumber)
	return buf
}

// DecodeHeader parses the first 100 bytes of page 1. Returns Corrupt if
// the magic string does not match.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fsqliteerr.New(fsqliteerr.Corrupt, "header: short buffer")
	}
	for i := 0; i < 16; i++ {
		if buf[i] != Magic[i] {
			return Header{}, fsqliteerr.New(fsqliteerr.Corrupt, "header: bad magic")
		}
	}
	ps := binary.BigEndian.Uint16(buf[16:18])
	pageSize := uint32(ps)
	if ps == 1 {
		pageSize = 65536
	}
	h := Header{
		PageSize:             pageSize,
		FileFormatWrite:      buf[18],
		FileFormatRead:       buf[19],
		ReservedPerPage:      buf[20],
		MaxPayloadFrac:       buf[21],
		MinPayloadFrac:       buf[22],
		LeafPayloadFrac:      buf[23],
		FileChangeCounter:    binary.BigEndian.Uint32(buf[24:28]),
		DBSizePages:          binary.BigEndian.Uint32(buf[28:32]),
		FreelistTrunkPage:    binary.BigEndian.Uint32(buf[32:36]),
		FreelistPageCount:    binary.BigEndian.Uint32(buf[36:40]),
		SchemaCookie:         binary.BigEndian.Uint32(buf[40:44]),
		SchemaFormat:         binary.BigEndian.Uint32(buf[44:48]),
		DefaultCacheSize:     binary.BigEndian.Uint32(buf[48:52]),
		LargestRootBTreePage: binary.BigEndian.Uint32(buf[52:56]),
		TextEncoding:         binary.BigEndian.Uint32(buf[56:60]),
		UserVersion:          binary.BigEndian.Uint32(buf[60:64]),
		IncrementalVacuum:    binary.BigEndian.Uint32(buf[64:68]),
		ApplicationID:        binary.BigEndian.Uint32(buf[68:72]),
		VersionValidFor:      binary.BigEndian.Uint32(buf[92:96]),
		SQLiteVersionNumber:  binary.BigEndian.Uint32(buf[96:100]),
	}
	if pageSize < MinPageSize || pageSize > MaxPageSize || pageSize&(pageSize-1) != 0 {
		return Header{}, fsqliteerr.New(fsqliteerr.Corrupt, "header: invalid page size %d", pageSize)
	}
	return h, nil
}

// UsableSize returns the bytes per page actually usable for b-tree
// content, after subtracting any per-page reserved space.
func (h Header) UsableSize() int {
	return int(h.PageSize) - int(h.ReservedPerPage)
}
