package btree

import (
	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
	"github.com/fractalsoft/frankendb/internal/pager"
)

// pathEntry is one step of a root-to-leaf descent: page is the page
// visited, childIdx is the index (0-based, len(children) == rightmost)
// of the child chosen from it. For the final (leaf) entry, childIdx
// instead holds the cell index within that leaf -- either where a
// matching key sits or where it would be inserted (§4.D: "cursor
// maintains a path from root to leaf as a stack of (page,
// cell-index) pairs").
type pathEntry struct {
	page     pager.PageNumber
	childIdx int
}

// Cursor walks one Tree, maintaining the root-to-leaf path so Next and
// Prev can move across leaf boundaries by backtracking through
// interior ancestors rather than relying on leaf sibling pointers.
type Cursor struct {
	t     *Tree
	path  []pathEntry
	valid bool

	// justDeleted marks that Delete has already repositioned the
	// cursor onto the logical successor of the removed row; the next
	// Next() call consumes this flag instead of moving again (§9
	// "Delete-during-iteration").
	justDeleted bool
}

func (t *Tree) NewCursor() *Cursor { return &Cursor{t: t} }

// descend walks from the root looking for key (table trees: wraps a
// bare rowid in entry.Rowid; index trees: entry.Key), recording the
// path taken. found reports whether an exact match sits at the final
// leaf position; path[len(path)-1].childIdx is always either that match or
// the correct insertion point (first entry >= key).
func (t *Tree) descend(key entry) (path []pathEntry, found bool, err error) {
	pn := t.root
	for {
		leaf, err := t.isLeafPage(pn)
		if err != nil {
			return nil, false, err
		}
		if leaf {
			_, entries, err := t.loadLeafEntries(pn)
			if err != nil {
				return nil, false, err
			}
			idx, ok := searchEntries(t, entries, key)
			path = append(path, pathEntry{page: pn, childIdx: idx})
			return path, ok, nil
		}
		_, children, rightChild, err := t.loadInterior(pn)
		if err != nil {
			return nil, false, err
		}
		ci := searchChildren(t, children, key)
		path = append(path, pathEntry{page: pn, childIdx: ci})
		if ci < len(children) {
			pn = children[ci].Child
		} else {
			pn = rightChild
		}
	}
}

// searchEntries returns the first index i with entries[i] >= key, and
// whether entries[i] == key exactly (linear scan; leaf fanout is small
// enough that this does not dominate, and it keeps the duplicate-key
// tie-break rules in one obvious place per seek variant below).
func searchEntries(t *Tree, entries []entry, key entry) (int, bool) {
	for i, e := range entries {
		c := t.compareKey(e, key)
		if c == 0 {
			return i, true
		}
		if c > 0 {
			return i, false
		}
	}
	return len(entries), false
}

// searchChildren returns the child index to descend into for key: the
// first child whose separator is >= key, or the rightmost child if
// key exceeds every separator (separators are the largest key in
// their left subtree).
func searchChildren(t *Tree, children []interiorChild, key entry) int {
	for i, c := range children {
		if t.compareKey(key, c.Sep) <= 0 {
			return i
		}
	}
	return len(children)
}

func rowidEntry(rowid int64) entry { return entry{Rowid: rowid} }
func keyEntry(key []byte) entry    { return entry{Key: key} }

// First positions the cursor at the smallest key in the tree.
func (c *Cursor) First() (bool, error) {
	c.path = nil
	c.justDeleted = false
	pn := c.t.root
	for {
		leaf, err := c.t.isLeafPage(pn)
		if err != nil {
			return false, err
		}
		if leaf {
			_, entries, err := c.t.loadLeafEntries(pn)
			if err != nil {
				return false, err
			}
			c.path = append(c.path, pathEntry{page: pn, childIdx: 0})
			c.valid = len(entries) > 0
			return c.valid, nil
		}
		_, children, rightChild, err := c.t.loadInterior(pn)
		if err != nil {
			return false, err
		}
		c.path = append(c.path, pathEntry{page: pn, childIdx: 0})
		if len(children) > 0 {
			pn = children[0].Child
		} else {
			pn = rightChild
		}
	}
}

// Last positions the cursor at the largest key in the tree.
func (c *Cursor) Last() (bool, error) {
	c.path = nil
	c.justDeleted = false
	pn := c.t.root
	for {
		leaf, err := c.t.isLeafPage(pn)
		if err != nil {
			return false, err
		}
		if leaf {
			_, entries, err := c.t.loadLeafEntries(pn)
			if err != nil {
				return false, err
			}
			idx := len(entries) - 1
			if idx < 0 {
				idx = 0
			}
			c.path = append(c.path, pathEntry{page: pn, childIdx: idx})
			c.valid = len(entries) > 0
			return c.valid, nil
		}
		_, children, rightChild, err := c.t.loadInterior(pn)
		if err != nil {
			return false, err
		}
		lastIdx := len(children)
		c.path = append(c.path, pathEntry{page: pn, childIdx: lastIdx})
		pn = rightChild
	}
}

// SeekRowid positions at rowid exactly, for table trees.
func (c *Cursor) SeekRowid(rowid int64) (bool, error) {
	return c.seek(rowidEntry(rowid))
}

func (c *Cursor) seek(key entry) (bool, error) {
	path, found, err := c.t.descend(key)
	if err != nil {
		return false, err
	}
	c.path = path
	c.valid = found
	c.justDeleted = false
	return found, nil
}

// SeekGE positions the cursor at the first key >= key, honoring
// duplicate index keys by landing on the leftmost match (§4.D).
func (c *Cursor) SeekGE(key []byte) (bool, error) {
	path, found, err := c.t.descend(keyEntry(key))
	if err != nil {
		return false, err
	}
	c.path = path
	c.valid = c.currentLeafIdx() < c.currentLeafLen()
	_ = found
	return c.valid, nil
}

// SeekGT positions at the first key strictly greater than key.
func (c *Cursor) SeekGT(key []byte) (bool, error) {
	ok, err := c.SeekGE(key)
	if err != nil || !ok {
		return ok, err
	}
	e, err := c.currentEntry()
	if err != nil {
		return false, err
	}
	if c.t.compareKey(e, keyEntry(key)) == 0 {
		return c.Next()
	}
	return true, nil
}

// SeekLE positions at the last key <= key, landing on the rightmost
// duplicate match.
func (c *Cursor) SeekLE(key []byte) (bool, error) {
	ok, err := c.SeekGE(key)
	if err != nil {
		return false, err
	}
	if !ok {
		return c.Last()
	}
	e, err := c.currentEntry()
	if err != nil {
		return false, err
	}
	if c.t.compareKey(e, keyEntry(key)) == 0 {
		// advance through duplicates to the rightmost
		for {
			save := c.snapshot()
			more, err := c.Next()
			if err != nil {
				return false, err
			}
			if !more {
				c.restore(save)
				return true, nil
			}
			e2, err := c.currentEntry()
			if err != nil {
				return false, err
			}
			if c.t.compareKey(e2, keyEntry(key)) != 0 {
				c.restore(save)
				return true, nil
			}
		}
	}
	return c.Prev()
}

// SeekLT positions at the last key strictly less than key.
func (c *Cursor) SeekLT(key []byte) (bool, error) {
	ok, err := c.SeekGE(key)
	if err != nil {
		return false, err
	}
	if !ok {
		return c.Last()
	}
	return c.Prev()
}

func (c *Cursor) snapshot() []pathEntry {
	cp := make([]pathEntry, len(c.path))
	copy(cp, c.path)
	return cp
}

func (c *Cursor) restore(p []pathEntry) {
	c.path = p
	c.valid = true
}

func (c *Cursor) currentLeafIdx() int {
	if len(c.path) == 0 {
		return 0
	}
	return c.path[len(c.path)-1].childIdx
}

func (c *Cursor) currentLeafLen() int {
	if len(c.path) == 0 {
		return 0
	}
	_, entries, err := c.t.loadLeafEntries(c.path[len(c.path)-1].page)
	if err != nil {
		return 0
	}
	return len(entries)
}

func (c *Cursor) currentEntry() (entry, error) {
	if !c.valid || len(c.path) == 0 {
		return entry{}, fsqliteerr.New(fsqliteerr.Misuse, "cursor: not positioned")
	}
	leaf := c.path[len(c.path)-1]
	_, entries, err := c.t.loadLeafEntries(leaf.page)
	if err != nil {
		return entry{}, err
	}
	if leaf.childIdx >= len(entries) {
		return entry{}, fsqliteerr.New(fsqliteerr.Misuse, "cursor: past end")
	}
	return entries[leaf.childIdx], nil
}

// Rowid returns the current row's key, for table-tree cursors.
func (c *Cursor) Rowid() (int64, error) {
	e, err := c.currentEntry()
	return e.Rowid, err
}

// Key returns the current row's key bytes, for index-tree cursors.
func (c *Cursor) Key() ([]byte, error) {
	e, err := c.currentEntry()
	return e.Key, err
}

// Payload returns the current row's value, for table-tree cursors.
func (c *Cursor) Payload() ([]byte, error) {
	e, err := c.currentEntry()
	return e.Value, err
}

func (c *Cursor) Valid() bool { return c.valid }

// Delete removes the entry the cursor currently sits on and
// repositions the cursor at what was that entry's logical successor,
// in the same call (§9 "Delete-during-iteration": the concrete
// scenario requires that inserting 1,2,3, iterating, and deleting
// rowid=2 on visit still visits 1, 2, 3 — not 1, 2 followed by a
// skipped 3). The following Next() consumes this reposition as a
// no-op rather than advancing a second time.
func (c *Cursor) Delete() error {
	e, err := c.currentEntry()
	if err != nil {
		return err
	}
	var target entry
	if c.t.kind == KindTable {
		target = rowidEntry(e.Rowid)
	} else {
		target = keyEntry(append([]byte(nil), e.Key...))
	}
	if err := c.t.deleteEntry(target); err != nil {
		return err
	}
	path, _, err := c.t.descend(target)
	if err != nil {
		return err
	}
	c.path = path
	c.valid = c.currentLeafIdx() < c.currentLeafLen()
	if n := c.currentLeafLen(); !c.valid && n > 0 {
		// The removed entry was the last of its leaf: the successor, if
		// any, is the first entry of a later leaf.
		c.justDeleted = false
		c.path[len(c.path)-1].childIdx = n - 1
		c.valid = true
		if _, err := c.Next(); err != nil {
			return err
		}
	}
	c.justDeleted = true
	return nil
}

// Next advances to the next entry in key order, ascending through
// interior ancestors when the current leaf is exhausted.
func (c *Cursor) Next() (bool, error) {
	if c.justDeleted {
		c.justDeleted = false
		return c.valid, nil
	}
	if len(c.path) == 0 {
		return false, nil
	}
	leaf := &c.path[len(c.path)-1]
	_, entries, err := c.t.loadLeafEntries(leaf.page)
	if err != nil {
		return false, err
	}
	if leaf.childIdx+1 < len(entries) {
		leaf.childIdx++
		c.valid = true
		return true, nil
	}
	// climb until we find an ancestor with a next child to descend into
	for i := len(c.path) - 2; i >= 0; i-- {
		_, children, rightChild, err := c.t.loadInterior(c.path[i].page)
		if err != nil {
			return false, err
		}
		nextChildIdx := c.path[i].childIdx + 1
		if nextChildIdx > len(children) {
			continue
		}
		c.path[i].childIdx = nextChildIdx
		var pn pager.PageNumber
		if nextChildIdx < len(children) {
			pn = children[nextChildIdx].Child
		} else {
			pn = rightChild
		}
		c.path = c.path[:i+1]
		return c.descendLeftmost(pn)
	}
	c.valid = false
	return false, nil
}

// Prev is Next's mirror image, descending rightmost on the way down.
func (c *Cursor) Prev() (bool, error) {
	if len(c.path) == 0 {
		return false, nil
	}
	leaf := &c.path[len(c.path)-1]
	if leaf.childIdx > 0 {
		leaf.childIdx--
		c.valid = true
		return true, nil
	}
	for i := len(c.path) - 2; i >= 0; i-- {
		if c.path[i].childIdx == 0 {
			continue
		}
		_, children, _, err := c.t.loadInterior(c.path[i].page)
		if err != nil {
			return false, err
		}
		prevChildIdx := c.path[i].childIdx - 1
		c.path[i].childIdx = prevChildIdx
		pn := children[prevChildIdx].Child
		c.path = c.path[:i+1]
		return c.descendRightmost(pn)
	}
	c.valid = false
	return false, nil
}

func (c *Cursor) descendLeftmost(pn pager.PageNumber) (bool, error) {
	for {
		leaf, err := c.t.isLeafPage(pn)
		if err != nil {
			return false, err
		}
		if leaf {
			_, entries, err := c.t.loadLeafEntries(pn)
			if err != nil {
				return false, err
			}
			c.path = append(c.path, pathEntry{page: pn, childIdx: 0})
			c.valid = len(entries) > 0
			return c.valid, nil
		}
		_, children, rightChild, err := c.t.loadInterior(pn)
		if err != nil {
			return false, err
		}
		c.path = append(c.path, pathEntry{page: pn, childIdx: 0})
		if len(children) > 0 {
			pn = children[0].Child
		} else {
			pn = rightChild
		}
	}
}

func (c *Cursor) descendRightmost(pn pager.PageNumber) (bool, error) {
	for {
		leaf, err := c.t.isLeafPage(pn)
		if err != nil {
			return false, err
		}
		if leaf {
			_, entries, err := c.t.loadLeafEntries(pn)
			if err != nil {
				return false, err
			}
			idx := len(entries) - 1
			if idx < 0 {
				idx = 0
			}
			c.path = append(c.path, pathEntry{page: pn, childIdx: idx})
			c.valid = len(entries) > 0
			return c.valid, nil
		}
		_, children, rightChild, err := c.t.loadInterior(pn)
		if err != nil {
			return false, err
		}
		c.path = append(c.path, pathEntry{page: pn, childIdx: len(children)})
		pn = rightChild
	}
}
