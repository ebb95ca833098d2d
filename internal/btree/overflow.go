package btree

import (
	"encoding/binary"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
	"github.com/fractalsoft/frankendb/internal/pager"
)

// overflow pages form a singly-linked chain: the first 4 bytes are the
// next overflow page number (0 = end of chain), the rest is payload.

func overflowCapacity(pageSize int) int { return pageSize - 4 }

// writeOverflow stores tail (the payload bytes beyond the local
// portion) across as many overflow pages as needed, returning the
// first page number in the chain.
func (t *Tree) writeOverflow(tail []byte) (pager.PageNumber, error) {
	cap := overflowCapacity(t.pager.PageSize())
	var chain []pager.PageNumber
	for off := 0; off < len(tail); off += cap {
		pg, err := t.pager.Allocate()
		if err != nil {
			return 0, err
		}
		chain = append(chain, pg)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		ref, err := t.pager.FetchForWrite(chain[i])
		if err != nil {
			return 0, err
		}
		buf := ref.Bytes()
		next := pager.PageNumber(0)
		if i+1 < len(chain) {
			next = chain[i+1]
		}
		binary.BigEndian.PutUint32(buf[0:4], uint32(next))
		start := i * cap
		end := start + cap
		if end > len(tail) {
			end = len(tail)
		}
		copy(buf[4:], tail[start:end])
		ref.Unpin()
	}
	if len(chain) == 0 {
		return 0, nil
	}
	return chain[0], nil
}

// readOverflow reads totalLen bytes starting from the overflow chain
// rooted at first, appending to local to reconstruct the full payload.
func (t *Tree) readOverflow(local []byte, first pager.PageNumber, totalLen int) ([]byte, error) {
	out := append([]byte(nil), local...)
	cap := overflowCapacity(t.pager.PageSize())
	remaining := totalLen - len(local)
	pg := first
	for remaining > 0 {
		if pg == 0 {
			return nil, fsqliteerr.New(fsqliteerr.Corrupt, "overflow: chain ended early")
		}
		ref, err := t.pager.Fetch(pg)
		if err != nil {
			return nil, err
		}
		buf := ref.Bytes()
		next := pager.PageNumber(binary.BigEndian.Uint32(buf[0:4]))
		take := cap
		if take > remaining {
			take = remaining
		}
		out = append(out, buf[4:4+take]...)
		remaining -= take
		ref.Unpin()
		pg = next
	}
	return out, nil
}

// freeOverflowChain releases every page in the chain rooted at first.
func (t *Tree) freeOverflowChain(first pager.PageNumber) error {
	pg := first
	for pg != 0 {
		ref, err := t.pager.Fetch(pg)
		if err != nil {
			return err
		}
		next := pager.PageNumber(binary.BigEndian.Uint32(ref.Bytes()[0:4]))
		ref.Unpin()
		if err := t.pager.Free(pg); err != nil {
			return err
		}
		pg = next
	}
	return nil
}
