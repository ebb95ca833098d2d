package btree

import "github.com/fractalsoft/frankendb/internal/pager"

// underflowThreshold is the ~1/3-of-usable-space floor below which a
// leaf or interior page is merged with, or redistributed against, a
// sibling rather than left sparse (§4.D).
func (t *Tree) underflowThreshold() int { return t.usable() / 3 }

func cellsSize(cells [][]byte, headerStart, hdrSize int) int {
	n := hdrSize + 2*len(cells)
	for _, c := range cells {
		n += len(c)
	}
	return n
}

// childAt returns the child pointer at index i of an interior node's
// (children, rightChild) representation; i == len(children) denotes
// the trailing rightChild pointer.
func childAt(children []interiorChild, rightChild pager.PageNumber, i int) pager.PageNumber {
	if i < len(children) {
		return children[i].Child
	}
	return rightChild
}

// rebalanceAfterDelete writes entries back to pn (a leaf), merging
// with or borrowing from a sibling if the page has fallen below the
// underflow threshold, then fixes up the immediate parent separator.
func (t *Tree) rebalanceAfterDelete(pn pager.PageNumber, entries []entry, parentPath []pathEntry) error {
	usable := t.usable()
	if len(parentPath) == 0 {
		return t.writeLeaf(pn, entries)
	}
	cells, err := t.encodeAllLeaf(entries)
	if err != nil {
		return err
	}
	used := cellsSize(cells, t.headerStart(pn), pager.BTreeHeaderSize(t.leafFlag()))
	if len(entries) > 0 && used >= t.underflowThreshold() {
		if err := t.writeLeaf(pn, entries); err != nil {
			return err
		}
		return t.fixupSeparator(pn, entries[len(entries)-1], parentPath)
	}
	return t.rebalanceLeafUnderflow(pn, entries, parentPath)
}

func (t *Tree) rebalanceLeafUnderflow(pn pager.PageNumber, entries []entry, parentPath []pathEntry) error {
	parent := parentPath[len(parentPath)-1]
	_, children, rightChild, err := t.loadInterior(parent.page)
	if err != nil {
		return err
	}
	idx := parent.childIdx

	if idx+1 <= len(children) {
		rightPn := childAt(children, rightChild, idx+1)
		if rightPn != 0 {
			_, rightEntries, err := t.loadLeafEntries(rightPn)
			if err != nil {
				return err
			}
			merged := append(append([]entry{}, entries...), rightEntries...)
			mergedCells, err := t.encodeAllLeaf(merged)
			if err != nil {
				return err
			}
			if cellsSize(mergedCells, t.headerStart(pn), pager.BTreeHeaderSize(t.leafFlag())) <= usableLeafBudget(t) {
				if err := t.writeLeaf(pn, merged); err != nil {
					return err
				}
				if err := t.pager.Free(rightPn); err != nil {
					return err
				}
				t.Stats.RecordMerge()
				return t.removeChild(parent.page, idx+1, parentPath[:len(parentPath)-1])
			}
			// redistribute: move entries from the right sibling until pn
			// clears the threshold
			return t.redistributeLeaves(pn, entries, rightPn, rightEntries, parent.page, idx, parentPath[:len(parentPath)-1])
		}
	}
	if idx-1 >= 0 {
		leftPn := childAt(children, rightChild, idx-1)
		_, leftEntries, err := t.loadLeafEntries(leftPn)
		if err != nil {
			return err
		}
		merged := append(append([]entry{}, leftEntries...), entries...)
		mergedCells, err := t.encodeAllLeaf(merged)
		if err != nil {
			return err
		}
		if cellsSize(mergedCells, t.headerStart(leftPn), pager.BTreeHeaderSize(t.leafFlag())) <= usableLeafBudget(t) {
			if err := t.writeLeaf(leftPn, merged); err != nil {
				return err
			}
			if err := t.pager.Free(pn); err != nil {
				return err
			}
			t.Stats.RecordMerge()
			return t.removeChild(parent.page, idx, parentPath[:len(parentPath)-1])
		}
		return t.redistributeLeaves(leftPn, leftEntries, pn, entries, parent.page, idx-1, parentPath[:len(parentPath)-1])
	}
	// no sibling at all (sole child): leave as-is, even if sparse
	return t.writeLeaf(pn, entries)
}

func usableLeafBudget(t *Tree) int { return t.usable() }

// redistributeLeaves moves entries across the leftPn/rightPn boundary
// until leftPn (identified by parent child index leftIdx) no longer
// underflows, then rewrites both pages and the separator between them.
func (t *Tree) redistributeLeaves(leftPn pager.PageNumber, left []entry, rightPn pager.PageNumber, right []entry, parentPn pager.PageNumber, leftIdx int, grandParentPath []pathEntry) error {
	for len(left) > 0 && len(right) > 0 {
		lc, _ := t.encodeAllLeaf(left)
		if cellsSize(lc, t.headerStart(leftPn), pager.BTreeHeaderSize(t.leafFlag())) >= t.underflowThreshold() {
			break
		}
		left = append(left, right[0])
		right = right[1:]
	}
	if err := t.writeLeaf(leftPn, left); err != nil {
		return err
	}
	if err := t.writeLeaf(rightPn, right); err != nil {
		return err
	}
	_, children, rightChild, err := t.loadInterior(parentPn)
	if err != nil {
		return err
	}
	if len(left) > 0 {
		newSep := entry{Rowid: left[len(left)-1].Rowid, Key: append([]byte(nil), left[len(left)-1].Key...)}
		if leftIdx < len(children) {
			children[leftIdx].Sep = newSep
		}
	}
	return t.writeInterior(parentPn, children, rightChild)
}

// fixupSeparator keeps the immediate parent's separator for pn in
// sync when pn's maximum key changes without the page count changing
// (a plain delete that didn't trigger merge/redistribution).
func (t *Tree) fixupSeparator(pn pager.PageNumber, newMax entry, parentPath []pathEntry) error {
	if len(parentPath) == 0 {
		return nil
	}
	parent := parentPath[len(parentPath)-1]
	idx := parent.childIdx
	_, children, rightChild, err := t.loadInterior(parent.page)
	if err != nil {
		return err
	}
	if idx >= len(children) {
		return nil // rightmost child has no separator to fix
	}
	children[idx].Sep = entry{Rowid: newMax.Rowid, Key: append([]byte(nil), newMax.Key...)}
	return t.writeInterior(parent.page, children, rightChild)
}

// removeChild drops the child pointer+separator at idx from an
// interior node (after a sibling merge absorbed it), rebalancing that
// interior node in turn, and collapsing the root if it's left with a
// single child.
func (t *Tree) removeChild(pn pager.PageNumber, idx int, parentPath []pathEntry) error {
	_, children, rightChild, err := t.loadInterior(pn)
	if err != nil {
		return err
	}
	var newChildren []interiorChild
	var newRightChild pager.PageNumber
	switch {
	case idx < len(children):
		newChildren = append(append([]interiorChild{}, children[:idx]...), children[idx+1:]...)
		newRightChild = rightChild
	default: // removing the rightChild pointer: the last children entry's
		// Child becomes the new rightChild, and its Sep is dropped
		newChildren = append([]interiorChild{}, children[:len(children)-1]...)
		newRightChild = children[len(children)-1].Child
	}

	if len(parentPath) == 0 {
		if len(newChildren) == 0 {
			t.root = newRightChild
			return nil
		}
		return t.writeInterior(pn, newChildren, newRightChild)
	}

	cells, err := t.encodeAllInterior(newChildren)
	if err != nil {
		return err
	}
	used := cellsSize(cells, t.headerStart(pn), pager.BTreeHeaderSize(t.interiorFlag()))
	if len(newChildren) > 0 && used >= t.underflowThreshold() {
		return t.writeInterior(pn, newChildren, newRightChild)
	}
	return t.rebalanceInteriorUnderflow(pn, newChildren, newRightChild, parentPath)
}

func (t *Tree) rebalanceInteriorUnderflow(pn pager.PageNumber, children []interiorChild, rightChild pager.PageNumber, parentPath []pathEntry) error {
	parent := parentPath[len(parentPath)-1]
	_, pchildren, prightChild, err := t.loadInterior(parent.page)
	if err != nil {
		return err
	}
	idx := parent.childIdx

	if idx+1 <= len(pchildren) {
		rightPn := childAt(pchildren, prightChild, idx+1)
		if rightPn != 0 {
			_, rchildren, rrightChild, err := t.loadInterior(rightPn)
			if err != nil {
				return err
			}
			sep := pchildren[idx].Sep
			merged := append(append(append([]interiorChild{}, children...), interiorChild{Child: rightChild, Sep: sep}), rchildren...)
			mergedCells, err := t.encodeAllInterior(merged)
			if err != nil {
				return err
			}
			if cellsSize(mergedCells, t.headerStart(pn), pager.BTreeHeaderSize(t.interiorFlag())) <= t.usable() {
				if err := t.writeInterior(pn, merged, rrightChild); err != nil {
					return err
				}
				if err := t.pager.Free(rightPn); err != nil {
					return err
				}
				t.Stats.RecordMerge()
				return t.removeChild(parent.page, idx+1, parentPath[:len(parentPath)-1])
			}
		}
	}
	if err := t.writeInterior(pn, children, rightChild); err != nil {
		return err
	}
	return nil
}
