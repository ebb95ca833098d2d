package btree

import (
	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
	"github.com/fractalsoft/frankendb/internal/pager"
	"github.com/fractalsoft/frankendb/internal/record"
	"github.com/fractalsoft/frankendb/internal/telemetry"
)

// entry is a decoded leaf cell, uniform across table and index trees:
// table trees order by Rowid and store Value as the row record; index
// trees order by Key (an encoded record) and may carry an optional
// Rowid payload (§3 "Value").
type entry struct {
	Rowid int64
	Key   []byte
	Value []byte
}

// Tree is one table or index b-tree rooted at a page the caller
// obtains from the schema (sqlite_master.rootpage) or allocates fresh.
type Tree struct {
	pager *pager.Pager
	root  pager.PageNumber
	kind  Kind

	Stats telemetry.BTreeStats
}

// Create allocates a new empty leaf page and returns a Tree rooted
// there.
func Create(p *pager.Pager, kind Kind) (*Tree, error) {
	pn, err := p.Allocate()
	if err != nil {
		return nil, err
	}
	t := &Tree{pager: p, root: pn, kind: kind}
	if err := t.writeLeaf(pn, nil); err != nil {
		return nil, err
	}
	return t, nil
}

// Open wraps an existing root page (e.g. loaded from sqlite_master).
func Open(p *pager.Pager, root pager.PageNumber, kind Kind) *Tree {
	return &Tree{pager: p, root: root, kind: kind}
}

func (t *Tree) Root() pager.PageNumber { return t.root }

// Pager returns the underlying pager, so callers (e.g. the schema
// catalog) can allocate sibling b-trees sharing the same file.
func (t *Tree) Pager() *pager.Pager { return t.pager }

func (t *Tree) leafFlag() byte {
	if t.kind == KindTable {
		return pager.BTreeFlagTableLeaf
	}
	return pager.BTreeFlagIndexLeaf
}

func (t *Tree) interiorFlag() byte {
	if t.kind == KindTable {
		return pager.BTreeFlagTableInterior
	}
	return pager.BTreeFlagIndexInterior
}

func (t *Tree) headerStart(pn pager.PageNumber) int {
	if pn == 1 {
		return pager.HeaderSize
	}
	return 0
}

func (t *Tree) usable() int { return t.pager.Header().UsableSize() }

// compareKey orders two entries the way the tree's Kind demands:
// table trees by rowid, index trees by the total value ordering over
// their decoded record columns (§3).
func (t *Tree) compareKey(a, b entry) int {
	if t.kind == KindTable {
		switch {
		case a.Rowid < b.Rowid:
			return -1
		case a.Rowid > b.Rowid:
			return 1
		default:
			return 0
		}
	}
	av, aerr := record.DecodeRecord(a.Key)
	bv, berr := record.DecodeRecord(b.Key)
	if aerr != nil || berr != nil {
		if len(a.Key) < len(b.Key) {
			return -1
		} else if len(a.Key) > len(b.Key) {
			return 1
		}
		return 0
	}
	for i := 0; i < len(av) && i < len(bv); i++ {
		if c := record.Compare(av[i], bv[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(av) < len(bv):
		return -1
	case len(av) > len(bv):
		return 1
	default:
		return 0
	}
}

// --- leaf encode/decode ---

func (t *Tree) encodeLeafEntry(e entry) ([]byte, pager.PageNumber, error) {
	usable := t.usable()
	if t.kind == KindTable {
		local, overflowLen := splitPayload(e.Value, usable)
		var ovPage pager.PageNumber
		if overflowLen > 0 {
			pg, err := t.writeOverflow(e.Value[len(local):])
			if err != nil {
				return nil, 0, err
			}
			ovPage = pg
		}
		return EncodeTableLeafCell(e.Rowid, local, len(e.Value), ovPage), ovPage, nil
	}
	local, overflowLen := splitPayload(e.Key, usable)
	var ovPage pager.PageNumber
	if overflowLen > 0 {
		pg, err := t.writeOverflow(e.Key[len(local):])
		if err != nil {
			return nil, 0, err
		}
		ovPage = pg
	}
	return EncodeIndexCell(0, false, local, len(e.Key), ovPage), ovPage, nil
}

func (t *Tree) decodeLeafEntry(buf []byte) (entry, int, error) {
	usable := t.usable()
	if t.kind == KindTable {
		c, n, err := DecodeTableLeafCell(buf, usable)
		if err != nil {
			return entry{}, 0, err
		}
		val := c.Payload
		if c.OverflowPage != 0 {
			full, err := t.readOverflow(c.Payload, c.OverflowPage, c.TotalPayload)
			if err != nil {
				return entry{}, 0, err
			}
			val = full
		}
		return entry{Rowid: c.Rowid, Value: val}, n, nil
	}
	total, n1 := decodeVarint(buf)
	off := n1
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
		return entry{}, 0, fsqliteerr.New(fsqliteerr.Corrupt, "index cell truncated")
	}
	key := buf[off : off+localLen]
	end := off + localLen
	var ovPage pager.PageNumber
	if hasOverflow {
		ovPage = pager.PageNumber(be32(buf[end : end+4]))
		end += 4
	}
	full := key
	if ovPage != 0 {
		k, err := t.readOverflow(key, ovPage, int(total))
		if err != nil {
			return entry{}, 0, err
		}
		full = k
	}
	return entry{Key: full}, end, nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func (t *Tree) loadLeafEntries(pn pager.PageNumber) (rawPage, []entry, error) {
	ref, err := t.pager.Fetch(pn)
	if err != nil {
		return rawPage{}, nil, err
	}
	defer ref.Unpin()
	rp, err := decodeRawPage(ref.Bytes(), t.headerStart(pn))
	if err != nil {
		return rawPage{}, nil, err
	}
	entries := make([]entry, 0, len(rp.cells))
	for _, raw := range rp.cells {
		e, n, err := t.decodeLeafEntry(raw)
		if err != nil {
			return rawPage{}, nil, err
		}
		entries = append(entries, e)
		_ = n
	}
	return rp, entries, nil
}

func (t *Tree) writeLeaf(pn pager.PageNumber, entries []entry) error {
	rp := rawPage{flag: t.leafFlag(), headerStart: t.headerStart(pn)}
	for _, e := range entries {
		cell, _, err := t.encodeLeafEntry(e)
		if err != nil {
			return err
		}
		rp.cells = append(rp.cells, cell)
	}
	buf, err := rp.encode(t.pager.PageSize())
	if err != nil {
		return err
	}
	ref, err := t.pager.FetchForWrite(pn)
	if err != nil {
		return err
	}
	copy(ref.Bytes(), buf)
	ref.Unpin()
	return nil
}

// --- interior encode/decode ---

type interiorChild struct {
	Child pager.PageNumber
	Sep   entry // separator: largest key in Child's subtree
}

func (t *Tree) loadInterior(pn pager.PageNumber) (rawPage, []interiorChild, pager.PageNumber, error) {
	ref, err := t.pager.Fetch(pn)
	if err != nil {
		return rawPage{}, nil, 0, err
	}
	defer ref.Unpin()
	rp, err := decodeRawPage(ref.Bytes(), t.headerStart(pn))
	if err != nil {
		return rawPage{}, nil, 0, err
	}
	children := make([]interiorChild, 0, len(rp.cells))
	for _, raw := range rp.cells {
		if t.kind == KindTable {
			child, rowid, _ := DecodeTableInteriorCell(raw)
			children = append(children, interiorChild{Child: child, Sep: entry{Rowid: rowid}})
		} else {
			child := pager.PageNumber(be32(raw[0:4]))
			e, _, err := t.decodeLeafEntry(raw[4:])
			if err != nil {
				return rawPage{}, nil, 0, err
			}
			children = append(children, interiorChild{Child: child, Sep: e})
		}
	}
	return rp, children, rp.rightChild, nil
}

func (t *Tree) writeInterior(pn pager.PageNumber, children []interiorChild, rightChild pager.PageNumber) error {
	rp := rawPage{flag: t.interiorFlag(), headerStart: t.headerStart(pn), rightChild: rightChild}
	for _, c := range children {
		if t.kind == KindTable {
			rp.cells = append(rp.cells, EncodeTableInteriorCell(c.Child, c.Sep.Rowid))
		} else {
			local, overflowLen := splitPayload(c.Sep.Key, t.usable())
			var ovPage pager.PageNumber
			if overflowLen > 0 {
				pg, err := t.writeOverflow(c.Sep.Key[len(local):])
				if err != nil {
					return err
				}
				ovPage = pg
			}
			rp.cells = append(rp.cells, EncodeIndexCell(c.Child, true, local, len(c.Sep.Key), ovPage))
		}
	}
	buf, err := rp.encode(t.pager.PageSize())
	if err != nil {
		return err
	}
	ref, err := t.pager.FetchForWrite(pn)
	if err != nil {
		return err
	}
	copy(ref.Bytes(), buf)
	ref.Unpin()
	return nil
}

func (t *Tree) isLeafPage(pn pager.PageNumber) (bool, error) {
	ref, err := t.pager.Fetch(pn)
	if err != nil {
		return false, err
	}
	defer ref.Unpin()
	flag := ref.Bytes()[t.headerStart(pn)]
	return !isInterior(flag), nil
}
