// Package jit caches compiled VDBE programs keyed by their exact SQL
// text, promoting frequently-reused programs to "hot" status after
// enough repeat executions (§10 "Configuration" names a JIT promotion
// threshold; §11's DOMAIN STACK table assigns robfig/cron/v3 to this
// package for compile-queue draining).
package jit

import (
	"container/list"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fractalsoft/frankendb/internal/sqlparser"
	"github.com/fractalsoft/frankendb/internal/vdbe"
)

// CompileFunc compiles one parsed statement into a program. Callers
// pass a closure over their own *planner.Compiler; jit never imports
// internal/planner directly so it stays agnostic to the planner's
// unexported EXPLAIN QUERY PLAN bookkeeping.
type CompileFunc func(stmt sqlparser.Statement) (*vdbe.Program, error)

// Entry is one cached compilation.
type Entry struct {
	SQL        string
	Program    *vdbe.Program
	Hits       int
	Hot        bool
	CompiledAt time.Time
}

type cacheEntry struct {
	key string
	e   *Entry
}

// Cache is a fingerprint-keyed (by exact SQL text) compiled-program
// cache with LRU eviction, grounded on tinySQL's own
// internal/engine.QueryCache but generalized from caching a parsed AST
// to caching a compiled VDBE program, and adding a hotness counter.
//
// Unlike the teacher's QueryCache, hit bookkeeping (LRU promotion,
// hotness counting) does not happen inline on every Get: a hit bumps
// the cache-wide hit counter and appends the key to a touch queue, and
// a robfig/cron/v3 tick drains that queue and applies the bookkeeping
// in one batch, so a hit holds the cache's write lock only for that
// brief counter update.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*list.Element
	order   *list.List
	maxSize int

	threshold int // Hits at which an Entry is marked Hot

	touchMu sync.Mutex
	touches []string

	cronSched *cron.Cron

	misses, hits int64
}

// New builds a cache holding at most maxSize compiled programs,
// promoting an entry to Hot once sweeps have counted threshold cache
// hits on it (the miss that compiled it is not counted).
func New(maxSize, threshold int) *Cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if threshold <= 0 {
		threshold = 5
	}
	return &Cache{
		entries:   make(map[string]*list.Element, maxSize),
		order:     list.New(),
		maxSize:   maxSize,
		threshold: threshold,
	}
}

// Get returns the cached program for sql, compiling and inserting it
// via compile on a miss. A hit is recorded for the background sweep to
// process rather than updated synchronously.
func (c *Cache) Get(stmt sqlparser.Statement, sql string, compile CompileFunc) (*Entry, error) {
	c.mu.RLock()
	elem, ok := c.entries[sql]
	c.mu.RUnlock()
	if ok {
		c.recordTouch(sql)
		c.addHit()
		return elem.Value.(*cacheEntry).e, nil
	}
	c.addMiss()

	prog, err := compile(stmt)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[sql]; ok {
		return elem.Value.(*cacheEntry).e, nil
	}
	if c.order.Len() >= c.maxSize {
		c.evictColdLocked()
	}
	entry := &Entry{SQL: sql, Program: prog, CompiledAt: time.Now()}
	elem2 := c.order.PushFront(&cacheEntry{key: sql, e: entry})
	c.entries[sql] = elem2
	return entry, nil
}

// evictColdLocked removes the least-recently-used entry that is not
// Hot, falling back to the tail itself if every entry is currently
// hot (a cache sized smaller than the hot working set has to evict
// something).
func (c *Cache) evictColdLocked() {
	for e := c.order.Back(); e != nil; e = e.Prev() {
		ce := e.Value.(*cacheEntry)
		if !ce.e.Hot {
			c.order.Remove(e)
			delete(c.entries, ce.key)
			return
		}
	}
	if tail := c.order.Back(); tail != nil {
		c.order.Remove(tail)
		delete(c.entries, tail.Value.(*cacheEntry).key)
	}
}

func (c *Cache) recordTouch(sql string) {
	c.touchMu.Lock()
	c.touches = append(c.touches, sql)
	c.touchMu.Unlock()
}

func (c *Cache) addHit()   { c.mu.Lock(); c.hits++; c.mu.Unlock() }
func (c *Cache) addMiss()  { c.mu.Lock(); c.misses++; c.mu.Unlock() }

// Stats reports cumulative hit/miss/size counters.
type Stats struct {
	Hits, Misses int64
	Size         int
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Hits: c.hits, Misses: c.misses, Size: len(c.entries)}
}

// Start registers the sweep on a robfig/cron/v3 schedule (a six-field
// expression, e.g. "*/1 * * * * *" for every second) and starts it.
func (c *Cache) Start(spec string) error {
	c.cronSched = cron.New(cron.WithSeconds())
	if _, err := c.cronSched.AddFunc(spec, c.sweep); err != nil {
		return err
	}
	c.cronSched.Start()
	return nil
}

// Stop halts the scheduler and waits for any in-flight sweep to finish.
func (c *Cache) Stop() {
	if c.cronSched == nil {
		return
	}
	ctx := c.cronSched.Stop()
	<-ctx.Done()
}

// sweep drains the touch queue, promoting each touched entry's LRU
// position and hit count in one batch, and marking entries Hot once
// they cross the promotion threshold.
func (c *Cache) sweep() {
	c.touchMu.Lock()
	pending := c.touches
	c.touches = nil
	c.touchMu.Unlock()
	if len(pending) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sql := range pending {
		elem, ok := c.entries[sql]
		if !ok {
			continue
		}
		c.order.MoveToFront(elem)
		ce := elem.Value.(*cacheEntry)
		ce.e.Hits++
		if ce.e.Hits >= c.threshold {
			ce.e.Hot = true
		}
	}
}

// Sweep runs one drain pass synchronously, for callers (and tests)
// that don't want to wait on the cron schedule.
func (c *Cache) Sweep() { c.sweep() }

// Clear removes every cached entry and resets counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element, c.maxSize)
	c.order.Init()
	c.hits, c.misses = 0, 0
}
