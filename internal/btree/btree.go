package btree

import (
	"github.com/fractalsoft/frankendb/internal/pager"
)

// Get looks up rowid in a table tree, returning the decoded payload
// and whether it was found.
func (t *Tree) Get(rowid int64) ([]byte, bool, error) {
	path, found, err := t.descend(rowidEntry(rowid))
	if err != nil || !found {
		return nil, false, err
	}
	leaf := path[len(path)-1]
	_, entries, err := t.loadLeafEntries(leaf.page)
	if err != nil {
		return nil, false, err
	}
	return entries[leaf.childIdx].Value, true, nil
}

// GetKey looks up an index key, reporting presence only (index trees
// carry no separate payload beyond the key itself in this design).
func (t *Tree) GetKey(key []byte) (bool, error) {
	_, found, err := t.descend(keyEntry(key))
	return found, err
}

// Insert stores (rowid, payload) in a table tree, replacing any
// existing row with the same rowid (SQLite's INSERT OR REPLACE
// semantics at the storage layer; uniqueness/conflict policy above
// this layer decides whether replacement is allowed).
func (t *Tree) Insert(rowid int64, payload []byte) error {
	return t.insertEntry(entry{Rowid: rowid, Value: payload})
}

// InsertIndexKey adds an index entry. Duplicate keys are permitted;
// uniqueness is enforced by the schema layer before calling this.
func (t *Tree) InsertIndexKey(key []byte) error {
	return t.insertEntry(entry{Key: append([]byte(nil), key...)})
}

func (t *Tree) insertEntry(e entry) error {
	path, found, err := t.descend(e)
	if err != nil {
		return err
	}
	leaf := path[len(path)-1]
	_, entries, err := t.loadLeafEntries(leaf.page)
	if err != nil {
		return err
	}
	idx := leaf.childIdx
	if found && t.kind == KindTable {
		entries[idx] = e
	} else {
		entries = append(entries, entry{})
		copy(entries[idx+1:], entries[idx:])
		entries[idx] = e
	}
	t.Stats.RecordInsert()
	return t.storeLeafAndMaybeSplit(leaf.page, entries, path[:len(path)-1])
}

// Delete removes rowid (table trees) or the first occurrence of key
// (index trees) and rebalances the tree if the owning leaf underflows.
func (t *Tree) Delete(rowid int64) error {
	return t.deleteEntry(rowidEntry(rowid))
}

func (t *Tree) DeleteIndexKey(key []byte) error {
	return t.deleteEntry(keyEntry(key))
}

func (t *Tree) deleteEntry(e entry) error {
	path, found, err := t.descend(e)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	leaf := path[len(path)-1]
	_, entries, err := t.loadLeafEntries(leaf.page)
	if err != nil {
		return err
	}
	old := entries[leaf.childIdx]
	if t.kind == KindTable && old.Value != nil {
		// writeLeaf re-encodes only the surviving entries and never
		// frees an existing chain itself, so the removed row's overflow
		// chain must be freed here.
		if err := t.freeRowOverflowIfAny(leaf.page, leaf.childIdx); err != nil {
			return err
		}
	}
	entries = append(entries[:leaf.childIdx], entries[leaf.childIdx+1:]...)
	t.Stats.RecordDelete()
	return t.rebalanceAfterDelete(leaf.page, entries, path[:len(path)-1])
}

// freeRowOverflowIfAny releases the overflow chain, if any, of the
// leaf cell at idx before it's dropped from the in-memory entries
// slice (the encode path never sees it again to free it itself).
func (t *Tree) freeRowOverflowIfAny(pn pager.PageNumber, idx int) error {
	ref, err := t.pager.Fetch(pn)
	if err != nil {
		return err
	}
	rp, err := decodeRawPage(ref.Bytes(), t.headerStart(pn))
	ref.Unpin()
	if err != nil {
		return err
	}
	if idx >= len(rp.cells) {
		return nil
	}
	usable := t.usable()
	if t.kind == KindTable {
		c, _, err := DecodeTableLeafCell(rp.cells[idx], usable)
		if err != nil || c.OverflowPage == 0 {
			return nil
		}
		return t.freeOverflowChain(c.OverflowPage)
	}
	return nil
}

// storeLeafAndMaybeSplit writes entries back to pn, splitting by bytes
// into two leaves and propagating the new separator upward through
// parentPath when the page no longer fits (§4.D "split balances by
// bytes, not cell count").
func (t *Tree) storeLeafAndMaybeSplit(pn pager.PageNumber, entries []entry, parentPath []pathEntry) error {
	cells, err := t.encodeAllLeaf(entries)
	if err != nil {
		return err
	}
	usable := t.usable()
	if fits(cells, t.headerStart(pn), pager.BTreeHeaderSize(t.leafFlag()), usable) {
		return t.writeLeaf(pn, entries)
	}
	splitIdx := byteSplitPoint(cells, usable/2)
	left := entries[:splitIdx]
	right := entries[splitIdx:]
	if err := t.writeLeaf(pn, left); err != nil {
		return err
	}
	rightPn, err := t.pager.Allocate()
	if err != nil {
		return err
	}
	if err := t.writeLeaf(rightPn, right); err != nil {
		return err
	}
	t.Stats.RecordSplit()
	sep := left[len(left)-1]
	if t.kind == KindIndex {
		sep = entry{Key: append([]byte(nil), sep.Key...)}
	}
	return t.propagateSplit(parentPath, pn, sep, rightPn)
}

func (t *Tree) encodeAllLeaf(entries []entry) ([][]byte, error) {
	cells := make([][]byte, 0, len(entries))
	for _, e := range entries {
		cell, _, err := t.encodeLeafEntry(e)
		if err != nil {
			return nil, err
		}
		cells = append(cells, cell)
	}
	return cells, nil
}

func fits(cells [][]byte, headerStart, hdrSize, usable int) bool {
	n := hdrSize + 2*len(cells)
	for _, c := range cells {
		n += len(c)
	}
	return headerStart+n <= usable+headerStart && n <= usable
}

// byteSplitPoint returns the smallest cell count whose cumulative size
// reaches target, leaving at least one cell on each side.
func byteSplitPoint(cells [][]byte, target int) int {
	sum := 0
	for i, c := range cells {
		sum += len(c) + 2
		if sum >= target && i+1 < len(cells) {
			return i + 1
		}
	}
	if len(cells) > 1 {
		return len(cells) / 2
	}
	return 1
}

// propagateSplit installs (sep, rightPN) as a new separator above the
// page that just split. oldPN keeps its original page number (it holds
// the left half in place); parentPath[-1].childIdx locates where it
// was referenced from its parent, or an empty parentPath means oldPN
// was the root and a new root must be grown.
func (t *Tree) propagateSplit(parentPath []pathEntry, oldPN pager.PageNumber, sep entry, rightPN pager.PageNumber) error {
	if len(parentPath) == 0 {
		newRoot, err := t.pager.Allocate()
		if err != nil {
			return err
		}
		if err := t.writeInterior(newRoot, []interiorChild{{Child: oldPN, Sep: sep}}, rightPN); err != nil {
			return err
		}
		t.root = newRoot
		return nil
	}
	parent := parentPath[len(parentPath)-1]
	_, children, rightChild, err := t.loadInterior(parent.page)
	if err != nil {
		return err
	}
	idx := parent.childIdx
	var newChildren []interiorChild
	var newRightChild pager.PageNumber
	if idx < len(children) {
		oldSep := children[idx].Sep
		newChildren = make([]interiorChild, 0, len(children)+1)
		newChildren = append(newChildren, children[:idx]...)
		newChildren = append(newChildren, interiorChild{Child: oldPN, Sep: sep})
		newChildren = append(newChildren, interiorChild{Child: rightPN, Sep: oldSep})
		newChildren = append(newChildren, children[idx+1:]...)
		newRightChild = rightChild
	} else {
		newChildren = append(append([]interiorChild{}, children...), interiorChild{Child: oldPN, Sep: sep})
		newRightChild = rightPN
	}
	return t.storeInteriorAndMaybeSplit(parent.page, newChildren, newRightChild, parentPath[:len(parentPath)-1])
}

func (t *Tree) encodeAllInterior(children []interiorChild) ([][]byte, error) {
	cells := make([][]byte, 0, len(children))
	for _, c := range children {
		cell, err := t.encodeInteriorCell(c)
		if err != nil {
			return nil, err
		}
		cells = append(cells, cell)
	}
	return cells, nil
}

func (t *Tree) encodeInteriorCell(c interiorChild) ([]byte, error) {
	if t.kind == KindTable {
		return EncodeTableInteriorCell(c.Child, c.Sep.Rowid), nil
	}
	local, overflowLen := splitPayload(c.Sep.Key, t.usable())
	var ovPage pager.PageNumber
	if overflowLen > 0 {
		pg, err := t.writeOverflow(c.Sep.Key[len(local):])
		if err != nil {
			return nil, err
		}
		ovPage = pg
	}
	return EncodeIndexCell(c.Child, true, local, len(c.Sep.Key), ovPage), nil
}

func (t *Tree) storeInteriorAndMaybeSplit(pn pager.PageNumber, children []interiorChild, rightChild pager.PageNumber, parentPath []pathEntry) error {
	cells, err := t.encodeAllInterior(children)
	if err != nil {
		return err
	}
	usable := t.usable()
	if fits(cells, t.headerStart(pn), pager.BTreeHeaderSize(t.interiorFlag()), usable) {
		return t.writeInterior(pn, children, rightChild)
	}
	m := byteSplitPoint(cells, usable/2)
	if m >= len(children) {
		m = len(children) - 1
	}
	left := children[:m]
	leftRightChild := children[m].Child
	sep := children[m].Sep
	right := children[m+1:]
	if err := t.writeInterior(pn, left, leftRightChild); err != nil {
		return err
	}
	newPn, err := t.pager.Allocate()
	if err != nil {
		return err
	}
	if err := t.writeInterior(newPn, right, rightChild); err != nil {
		return err
	}
	t.Stats.RecordSplit()
	return t.propagateSplit(parentPath, pn, sep, newPn)
}
