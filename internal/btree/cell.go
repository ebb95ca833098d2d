// Package btree implements SQLite's clustered (table) and keyed (index)
// b-trees: cell serialization, cursors, split/merge, and overflow
// chains, all driven through a pager.Pager for page I/O.
package btree

import (
	"encoding/binary"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
	"github.com/fractalsoft/frankendb/internal/pager"
)

// Kind distinguishes the two tree shapes sharing this code (§4.D).
type Kind int

const (
	KindTable Kind = iota // keyed by 64-bit rowid, payload = record
	KindIndex              // keyed by record bytes, payload optional rowid
)

// Cell is the decoded form of one on-page record, uniform across the
// four page shapes (table/index x leaf/interior); fields not relevant
// to a given shape are left zero (§9 "Polymorphism": a tagged variant
// plus a small jump table, rather than four bespoke types).
type Cell struct {
	LeftChild    pager.PageNumber // interior cells only
	Rowid        int64            // table cells
	Key          []byte           // index cells: the encoded index record
	Payload      []byte           // local portion of the payload
	OverflowPage pager.PageNumber // 0 if no overflow
	TotalPayload int              // full payload length including overflow
}

// LocalPayloadLimit returns the maximum payload bytes a cell may store
// inline before the remainder spills to overflow pages, following
// SQLite's table-leaf formula: usable - 35 (usable/4 if that would be
// negative). The minimum inline portion of a spilled payload (MinLocal)
// is applied separately, by splitPayload and the cell decoders.
func LocalPayloadLimit(usable int) int {
	limit := usable - 35
	if limit < 0 {
		limit = usable / 4
	}
	return limit
}

// MinLocal is the minimum number of payload bytes kept inline even for
// maximally-overflowing payloads (usable*32/255 - 23, SQLite's formula).
func MinLocal(usable int) int {
	return (usable*32)/255 - 23
}

func splitPayload(full []byte, usable int) (local []byte, overflowLen int) {
	limit := LocalPayloadLimit(usable)
	if len(full) <= limit {
		return full, 0
	}
	minLocal := MinLocal(usable)
	surplus := minLocal + (len(full)-minLocal)%(usable-4)
	if surplus > limit {
		surplus = minLocal
	}
	return full[:surplus], len(full) - surplus
}

// EncodeTableLeafCell serializes (rowid, payload) with overflow
// spillover already resolved: localPayload is what fits inline and
// overflowPage is nonzero iff the payload spilled.
func EncodeTableLeafCell(rowid int64, localPayload []byte, totalPayloadLen int, overflowPage pager.PageNumber) []byte {
	var buf []byte
	buf = appendVarint(buf, uint64(totalPayloadLen))
	buf = appendVarintZigzag(buf, rowid)
	buf = append(buf, localPayload...)
	if overflowPage != 0 {
		var ov [4]byte
		binary.BigEndian.PutUint32(ov[:], uint32(overflowPage))
		buf = append(buf, ov[:]...)
	}
	return buf
}

// DecodeTableLeafCell parses a cell written by EncodeTableLeafCell.
// usable is the page's usable size, needed to recompute how many bytes
// were stored inline vs. spilled to overflow (SQLite never stores the
// local/overflow split directly; both reader and writer derive it from
// the same formula).
func DecodeTableLeafCell(buf []byte, usable int) (Cell, int, error) {
	total, n1 := decodeVarint(buf)
	if n1 == 0 {
		return Cell{}, 0, fsqliteerr.New(fsqliteerr.Corrupt, "cell: bad payload length")
	}
	rowid, n2 := decodeVarintZigzag(buf[n1:])
	if n2 == 0 {
		return Cell{}, 0, fsqliteerr.New(fsqliteerr.Corrupt, "cell: bad rowid")
	}
	off := n1 + n2
	localLen := int(total)
	hasOverflow := false
	if limit := LocalPayloadLimit(usable); int(total) > limit {
		minLocal := MinLocal(usable)
		surplus := minLocal + (int(total)-minLocal)%(usable-4)
		if surplus > limit {
			surplus = minLocal
		}
		localLen = surplus
		hasOverflow = true
	}
	if off+localLen > len(buf) {
		return Cell{}, 0, fsqliteerr.New(fsqliteerr.Corrupt, "cell: local payload truncated")
	}
	c := Cell{Rowid: rowid, TotalPayload: int(total), Payload: buf[off : off+localLen]}
	end := off + localLen
	if hasOverflow {
		if end+4 > len(buf) {
			return Cell{}, 0, fsqliteerr.New(fsqliteerr.Corrupt, "cell: missing overflow pointer")
		}
		c.OverflowPage = pager.PageNumber(binary.BigEndian.Uint32(buf[end : end+4]))
		end += 4
	}
	return c, end, nil
}

// EncodeTableInteriorCell serializes (leftChild, rowid) for an interior
// page: the separator key used to route descent.
func EncodeTableInteriorCell(leftChild pager.PageNumber, rowid int64) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(leftChild))
	out := append([]byte{}, buf[:]...)
	return appendVarintZigzag(out, rowid)
}

func DecodeTableInteriorCell(buf []byte) (pager.PageNumber, int64, int) {
	child := pager.PageNumber(binary.BigEndian.Uint32(buf[0:4]))
	rowid, n := decodeVarintZigzag(buf[4:])
	return child, rowid, 4 + n
}

// EncodeIndexCell serializes an index cell: the left child pointer
// (interior cells only), the length-prefixed local part of the key
// record, and a trailing overflow page number when the key spilled.
// No separate rowid is stored.
func EncodeIndexCell(leftChild pager.PageNumber, isInterior bool, key []byte, totalKeyLen int, overflowPage pager.PageNumber) []byte {
	var buf []byte
	if isInterior {
		var cb [4]byte
		binary.BigEndian.PutUint32(cb[:], uint32(leftChild))
		buf = append(buf, cb[:]...)
	}
	buf = appendVarint(buf, uint64(totalKeyLen))
	buf = append(buf, key...)
	if overflowPage != 0 {
		var ov [4]byte
		binary.BigEndian.PutUint32(ov[:], uint32(overflowPage))
		buf = append(buf, ov[:]...)
	}
	return buf
}

func appendVarint(buf []byte, v uint64) []byte {
	var tmp [9]byte
	n := encodeVarintLocal(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// zigzag encoding lets negative rowids (legal in SQLite) serialize as
// an unsigned varint without a sign-extension special case.
func appendVarintZigzag(buf []byte, v int64) []byte {
	u := uint64((v << 1) ^ (v >> 63))
	return appendVarint(buf, u)
}

func decodeVarintZigzag(buf []byte) (int64, int) {
	u, n := decodeVarint(buf)
	v := int64(u>>1) ^ -int64(u&1)
	return v, n
}

func decodeVarint(buf []byte) (uint64, int) {
	if len(buf) == 0 {
		return 0, 0
	}
	var v uint64
	for i := 0; i < 8 && i < len(buf); i++ {
		b := buf[i]
		v = (v << 7) | uint64(b&0x7f)
		if b&0x80 == 0 {
			return v, i + 1
		}
	}
	if len(buf) < 9 {
		return v, len(buf)
	}
	v = (v << 8) | uint64(buf[8])
	return v, 9
}

func encodeVarintLocal(buf []byte, v uint64) int {
	if v <= 0x7f {
		buf[0] = byte(v)
		return 1
	}
	var tmp [9]byte
	n := 0
	for {
		tmp[n] = byte(v&0x7f) | 0x80
		v >>= 7
		n++
		if v == 0 {
			break
		}
	}
	tmp[0] &^= 0x80
	for i, j := 0, n-1; j >= 0; j, i = j-1, i+1 {
		buf[i] = tmp[j]
	}
	return n
}
