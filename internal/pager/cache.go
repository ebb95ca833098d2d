package pager

import (
	"container/list"
	"sync"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
)

// frame is one resident page buffer plus cache bookkeeping. A resident
// page also acts as the "swizzled" in-memory handle other pages hold
// once it has been faulted in: callers reference it by *frame pointer
// instead of re-resolving PageNumber -> buffer on every touch.
type frame struct {
	no     PageNumber
	buf    []byte
	dirty  bool
	pinned int
}

// WriteBackFunc flushes a dirty frame's bytes to durable storage (the
// WAL or the main file, depending on journal mode) before it may be
// evicted or the transaction committed.
type WriteBackFunc func(no PageNumber, buf []byte) error

// ARCCache is a page buffer cache using Adaptive Replacement Cache
// (§4.B: "ARC-style with ghost lists OR clock-pro — either is
// acceptable"). It tracks four lists: T1/T2 hold resident pages seen
// once vs. more than once; B1/B2 are ghost lists of evicted page
// numbers used to adapt the T1/T2 split via the target size p.
type ARCCache struct {
	mu sync.Mutex

	capacity int
	p        int // target size of T1

	t1, t2, b1, b2 *list.List
	index          map[PageNumber]*list.Element // -> element in t1, t2, b1, or b2
	resident       map[PageNumber]*frame

	writeBack WriteBackFunc

	// Telemetry (§4.B "report load-factor, probe counts, swizzle
	// counters").
	Hits, Misses     uint64
	Evictions        uint64
	SwizzleFaults    uint64
	SwizzleRetries   uint64
}

// NewARCCache creates a cache bounded to capacity resident pages.
func NewARCCache(capacity int, wb WriteBackFunc) *ARCCache {
	if capacity < 1 {
		capacity = 1
	}
	return &ARCCache{
		capacity:  capacity,
		t1:        list.New(),
		t2:        list.New(),
		b1:        list.New(),
		b2:        list.New(),
		index:     make(map[PageNumber]*list.Element),
		resident:  make(map[PageNumber]*frame),
		writeBack: wb,
	}
}

// listEntry is the value stored in each container/list.Element.
type listEntry struct {
	no PageNumber
}

// Get returns the resident frame for no if present, moving it to the
// frequency list (T2) per ARC's hit rule. Returns nil on a cache miss;
// the caller is responsible for loading the page and calling Insert.
func (c *ARCCache) Get(no PageNumber) *frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fr, ok := c.resident[no]; ok {
		c.Hits++
		c.hitPromote(no)
		return fr
	}
	c.Misses++
	return nil
}

func (c *ARCCache) hitPromote(no PageNumber) {
	if el, ok := c.index[no]; ok {
		// Already in T1 or T2: remove from its current list and push to
		// the front (MRU end) of T2 -- any re-reference promotes to the
		// frequency list.
		owner := c.listOf(el)
		owner.Remove(el)
		ne := c.t2.PushFront(listEntry{no})
		c.index[no] = ne
	}
}

func (c *ARCCache) listOf(el *list.Element) *list.List {
	for _, l := range []*list.List{c.t1, c.t2, c.b1, c.b2} {
		for e := l.Front(); e != nil; e = e.Next() {
			if e == el {
				return l
			}
		}
	}
	return nil
}

// Pin increments the pin count, excluding the page from eviction.
func (c *ARCCache) Pin(no PageNumber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fr, ok := c.resident[no]; ok {
		fr.pinned++
	}
}

// Unpin decrements the pin count.
func (c *ARCCache) Unpin(no PageNumber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fr, ok := c.resident[no]; ok && fr.pinned > 0 {
		fr.pinned--
	}
}

// MarkDirty flags a resident page as needing write-back before eviction
// or commit.
func (c *ARCCache) MarkDirty(no PageNumber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fr, ok := c.resident[no]; ok {
		fr.dirty = true
	}
}

// DirtyPages returns the page numbers of every resident dirty frame.
func (c *ARCCache) DirtyPages() []PageNumber {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []PageNumber
	for no, fr := range c.resident {
		if fr.dirty {
			out = append(out, no)
		}
	}
	return out
}

// Insert adds a freshly-loaded page to the cache, pinned once on
// behalf of the caller, evicting per ARC if at capacity. Returns an
// error only if eviction's write-back of a dirty victim fails.
func (c *ARCCache) Insert(no PageNumber, buf []byte) (*frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, wasB1 := c.find(c.b1, no); wasB1 {
		c.b1.Remove(el)
		c.adapt(+1, len(c.b1entries()), len(c.b2entries()))
		if err := c.ensureRoom(); err != nil {
			return nil, err
		}
		ne := c.t2.PushFront(listEntry{no})
		c.index[no] = ne
	} else if el, wasB2 := c.find(c.b2, no); wasB2 {
		c.b2.Remove(el)
		c.adapt(-1, len(c.b1entries()), len(c.b2entries()))
		if err := c.ensureRoom(); err != nil {
			return nil, err
		}
		ne := c.t2.PushFront(listEntry{no})
		c.index[no] = ne
	} else {
		if err := c.ensureRoom(); err != nil {
			return nil, err
		}
		ne := c.t1.PushFront(listEntry{no})
		c.index[no] = ne
	}

	fr := &frame{no: no, buf: buf, pinned: 1}
	c.resident[no] = fr
	return fr, nil
}

func (c *ARCCache) find(l *list.List, no PageNumber) (*list.Element, bool) {
	for e := l.Front(); e != nil; e = e.Next() {
		if e.Value.(listEntry).no == no {
			return e, true
		}
	}
	return nil, false
}

func (c *ARCCache) b1entries() []PageNumber { return entries(c.b1) }
func (c *ARCCache) b2entries() []PageNumber { return entries(c.b2) }

func entries(l *list.List) []PageNumber {
	out := make([]PageNumber, 0, l.Len())
	for e := l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(listEntry).no)
	}
	return out
}

func (c *ARCCache) adapt(dir int, b1len, b2len int) {
	if dir > 0 {
		delta := 1
		if b2len > 0 && b1len > 0 {
			delta = b2len / b1len
			if delta < 1 {
				delta = 1
			}
		}
		c.p += delta
	} else {
		delta := 1
		if b1len > 0 && b2len > 0 {
			delta = b1len / b2len
			if delta < 1 {
				delta = 1
			}
		}
		c.p -= delta
	}
	if c.p < 0 {
		c.p = 0
	}
	if c.p > c.capacity {
		c.p = c.capacity
	}
}

// ensureRoom evicts resident frames until there is capacity for one
// more, respecting pin counts. Eviction never touches a pinned page
// (§4.B invariant); if every resident page is pinned, ensureRoom
// returns Full rather than blocking.
func (c *ARCCache) ensureRoom() error {
	for len(c.resident) >= c.capacity {
		victim, fromT1, ok := c.chooseVictim()
		if !ok {
			return fsqliteerr.New(fsqliteerr.Full, "page cache exhausted: all %d frames pinned", c.capacity)
		}
		fr := c.resident[victim]
		if fr.dirty && c.writeBack != nil {
			if err := c.writeBack(victim, fr.buf); err != nil {
				return err
			}
		}
		delete(c.resident, victim)
		if el, ok := c.index[victim]; ok {
			if fromT1 {
				c.t1.Remove(el)
				c.b1.PushFront(listEntry{victim})
			} else {
				c.t2.Remove(el)
				c.b2.PushFront(listEntry{victim})
			}
			delete(c.index, victim)
		}
		c.trimGhosts()
		c.Evictions++
	}
	return nil
}

// chooseVictim implements ARC's REPLACE(p): evict from T1 if it
// exceeds target size p (and is non-empty), else from T2 LRU end,
// skipping any pinned page by walking toward the MRU end.
func (c *ARCCache) chooseVictim() (PageNumber, bool, bool) {
	preferT1 := c.t1.Len() > 0 && (c.t1.Len() > c.p || c.t2.Len() == 0)
	if preferT1 {
		if no, ok := c.lruUnpinned(c.t1); ok {
			return no, true, true
		}
		if no, ok := c.lruUnpinned(c.t2); ok {
			return no, false, true
		}
		return 0, false, false
	}
	if no, ok := c.lruUnpinned(c.t2); ok {
		return no, false, true
	}
	if no, ok := c.lruUnpinned(c.t1); ok {
		return no, true, true
	}
	return 0, false, false
}

func (c *ARCCache) lruUnpinned(l *list.List) (PageNumber, bool) {
	for e := l.Back(); e != nil; e = e.Prev() {
		no := e.Value.(listEntry).no
		if fr, ok := c.resident[no]; ok && fr.pinned == 0 {
			return no, true
		}
	}
	return 0, false
}

func (c *ARCCache) trimGhosts() {
	total := c.t1.Len() + c.t2.Len() + c.b1.Len() + c.b2.Len()
	for total > 2*c.capacity {
		if c.b1.Len() > 0 {
			e := c.b1.Back()
			c.b1.Remove(e)
			delete(c.index, e.Value.(listEntry).no)
		} else if c.b2.Len() > 0 {
			e := c.b2.Back()
			c.b2.Remove(e)
			delete(c.index, e.Value.(listEntry).no)
		} else {
			break
		}
		total--
	}
}

// LoadFactor reports resident/capacity, per §4.B telemetry requirements.
func (c *ARCCache) LoadFactor() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(len(c.resident)) / float64(c.capacity)
}

// RecordSwizzleFault records a CAS-losing-the-race-with-eviction retry
// (§4.B): a pointer-interning lookup found its target had been evicted
// out from under it and had to re-fetch.
func (c *ARCCache) RecordSwizzleFault() {
	c.mu.Lock()
	c.SwizzleFaults++
	c.mu.Unlock()
}

func (c *ARCCache) RecordSwizzleRetry() {
	c.mu.Lock()
	c.SwizzleRetries++
	c.mu.Unlock()
}

// Remove evicts no unconditionally (used on page free), skipping
// write-back since a freed page's contents are no longer meaningful.
func (c *ARCCache) Remove(no PageNumber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.resident, no)
	if el, ok := c.index[no]; ok {
		if l := c.listOf(el); l != nil {
			l.Remove(el)
		}
		delete(c.index, no)
	}
}
