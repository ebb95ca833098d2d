package pager

import (
	"encoding/binary"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
)

// Freelist pages form a linked list of "trunk" pages, each holding a
// pointer to the next trunk plus an array of free leaf page numbers it
// owns directly (SQLite's real freelist-trunk format). This mirrors the
// teacher's freelist.go chain shape but stores page numbers the real
// SQLite way: 4-byte next-trunk pointer, 4-byte leaf count, then that
// many 4-byte leaf page numbers.
const freelistTrunkHeaderSize = 8

func freelistCapacity(usableSize int) int {
	return (usableSize - freelistTrunkHeaderSize) / 4
}

// encodeFreelistTrunk serializes a trunk page's next pointer and leaves.
func encodeFreelistTrunk(buf []byte, next PageNumber, leaves []PageNumber) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(next))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(leaves)))
	off := 8
	for _, l := range leaves {
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(l))
		off += 4
	}
}

func decodeFreelistTrunk(buf []byte) (next PageNumber, leaves []PageNumber, err error) {
	if len(buf) < freelistTrunkHeaderSize {
		return 0, nil, fsqliteerr.New(fsqliteerr.Corrupt, "freelist: short trunk page")
	}
	next = PageNumber(binary.BigEndian.Uint32(buf[0:4]))
	n := binary.BigEndian.Uint32(buf[4:8])
	maxLeaves := (len(buf) - freelistTrunkHeaderSize) / 4
	if int(n) > maxLeaves {
		return 0, nil, fsqliteerr.New(fsqliteerr.Corrupt, "freelist: leaf count overflow")
	}
	leaves = make([]PageNumber, n)
	off := 8
	for i := range leaves {
		leaves[i] = PageNumber(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
	}
	return next, leaves, nil
}
