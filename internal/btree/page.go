package btree

import (
	"encoding/binary"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
	"github.com/fractalsoft/frankendb/internal/pager"
)

// rawPage is the decoded form of one b-tree page: its header fields
// plus the ordered list of already-serialized cell byte slices. This
// stands in for manipulating the slotted cell-pointer-array layout
// cell-by-cell in place; encode/decode materialize the real on-disk
// bytes (header + pointer array + cell content area growing from the
// end of the page) from/to this slice form.
type rawPage struct {
	flag        byte
	rightChild  pager.PageNumber // interior only
	cells       [][]byte
	headerStart int // 0 normally, pager.HeaderSize (100) on page 1
}

func isInterior(flag byte) bool {
	return flag == pager.BTreeFlagIndexInterior || flag == pager.BTreeFlagTableInterior
}

// encode materializes rawPage into a full page-sized buffer. Cells are
// placed back-to-front starting at the end of the page, matching
// SQLite's growth direction (pointer array grows forward, cell content
// area grows backward, meeting in the middle when the page is full).
func (rp rawPage) encode(pageSize int) ([]byte, error) {
	buf := make([]byte, pageSize)
	hdrSize := pager.BTreeHeaderSize(rp.flag)
	base := rp.headerStart
	buf[base] = rp.flag
	binary.BigEndian.PutUint16(buf[base+3:base+5], uint16(len(rp.cells)))
	if isInterior(rp.flag) {
		binary.BigEndian.PutUint32(buf[base+8:base+12], uint32(rp.rightChild))
	}
	ptrArrayStart := base + hdrSize
	contentEnd := pageSize
	for i, cell := range rp.cells {
		contentEnd -= len(cell)
		if contentEnd < ptrArrayStart+2*(len(rp.cells)-i) {
			return nil, fsqliteerr.New(fsqliteerr.Internal, "page: cells exceed page size")
		}
		copy(buf[contentEnd:], cell)
		binary.BigEndian.PutUint16(buf[ptrArrayStart+2*i:ptrArrayStart+2*i+2], uint16(contentEnd))
	}
	binary.BigEndian.PutUint16(buf[base+1:base+3], uint16(contentEnd))
	return buf, nil
}

// decodeRawPage parses header+pointer array+cell bytes back out. It
// does not interpret cell contents (Table vs Index, leaf vs interior
// decoding happens one level up, since that needs the tree Kind).
func decodeRawPage(buf []byte, headerStart int) (rawPage, error) {
	if headerStart+pager.BTreeHeaderSize(buf[headerStart]) > len(buf) {
		return rawPage{}, fsqliteerr.New(fsqliteerr.Corrupt, "page: truncated header")
	}
	flag := buf[headerStart]
	hdrSize := pager.BTreeHeaderSize(flag)
	count := binary.BigEndian.Uint16(buf[headerStart+3 : headerStart+5])
	rp := rawPage{flag: flag, headerStart: headerStart}
	if isInterior(flag) {
		rp.rightChild = pager.PageNumber(binary.BigEndian.Uint32(buf[headerStart+8 : headerStart+12]))
	}
	ptrArrayStart := headerStart + hdrSize
	for i := 0; i < int(count); i++ {
		off := binary.BigEndian.Uint16(buf[ptrArrayStart+2*i : ptrArrayStart+2*i+2])
		if int(off) >= len(buf) {
			return rawPage{}, fsqliteerr.New(fsqliteerr.Corrupt, "page: cell pointer out of range")
		}
		// Cell length is recovered by the shape-specific decoder; hand
		// back the remainder of the page from the pointer onward and
		// let it report how much it consumed.
		rp.cells = append(rp.cells, buf[off:])
	}
	return rp, nil
}

// usedBytes estimates the byte footprint of the page's current cells,
// for the split/merge "balanced by bytes" rule (§4.D).
func (rp rawPage) usedBytes() int {
	n := 0
	for _, c := range rp.cells {
		n += len(c)
	}
	hdrSize := pager.BTreeHeaderSize(rp.flag)
	return n + hdrSize + 2*len(rp.cells)
}
