package jit

import (
	"testing"

	"github.com/fractalsoft/frankendb/internal/pager"
	"github.com/fractalsoft/frankendb/internal/planner"
	"github.com/fractalsoft/frankendb/internal/schema"
	"github.com/fractalsoft/frankendb/internal/sqlparser"
	"github.com/fractalsoft/frankendb/internal/vdbe"
	"github.com/fractalsoft/frankendb/internal/vfs"
)

func newTestCompiler(t *testing.T) *planner.Compiler {
	t.Helper()
	p, err := pager.Open(vfs.NewMemVFS(), "jit.db", 4096, 64)
	if err != nil {
		t.Fatalf("open pager: %v", err)
	}
	cat, err := schema.Open(p, 0)
	if err != nil {
		t.Fatalf("open schema: %v", err)
	}
	if err := p.BeginWrite(); err != nil {
		t.Fatalf("begin write: %v", err)
	}
	if _, err := cat.CreateTable("t", []sqlparser.ColumnDef{{Name: "id", Declared: "INTEGER"}}, "CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := p.Commit(); err != nil {
		t.Fatalf("commit create table: %v", err)
	}
	return planner.NewCompiler(cat)
}

// compileFuncFor adapts a *planner.Compiler into a jit.CompileFunc,
// dropping the EXPLAIN QUERY PLAN rows planner.Compile also returns
// since jit's cache only holds the executable program.
func compileFuncFor(c *planner.Compiler) CompileFunc {
	return func(stmt sqlparser.Statement) (*vdbe.Program, error) {
		prog, _, err := c.Compile(stmt)
		return prog, err
	}
}

func parse(t *testing.T, sql string) sqlparser.Statement {
	t.Helper()
	stmt, err := sqlparser.NewParser(sql).ParseStatement()
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	return stmt
}

func TestCacheHitReturnsSameProgram(t *testing.T) {
	c := newTestCompiler(t)
	compile := compileFuncFor(c)
	cache := New(10, 5)

	sql := "SELECT id FROM t"
	e1, err := cache.Get(parse(t, sql), sql, compile)
	if err != nil {
		t.Fatalf("Get (miss): %v", err)
	}
	e2, err := cache.Get(parse(t, sql), sql, compile)
	if err != nil {
		t.Fatalf("Get (hit): %v", err)
	}
	if e1.Program != e2.Program {
		t.Fatalf("expected the cached program to be reused, got distinct instances")
	}

	stats := cache.Stats()
	if stats.Misses != 1 || stats.Hits != 1 {
		t.Fatalf("expected 1 miss and 1 hit, got %+v", stats)
	}
	if stats.Size != 1 {
		t.Fatalf("expected cache size 1, got %d", stats.Size)
	}
}

func TestEntryIsPromotedToHotAfterThreshold(t *testing.T) {
	c := newTestCompiler(t)
	compile := compileFuncFor(c)
	cache := New(10, 3)

	sql := "SELECT id FROM t"
	stmt := parse(t, sql)

	e, err := cache.Get(stmt, sql, compile)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.Hot {
		t.Fatalf("a single miss should not already be hot")
	}

	for i := 0; i < 3; i++ {
		if _, err := cache.Get(stmt, sql, compile); err != nil {
			t.Fatalf("Get hit %d: %v", i, err)
		}
	}
	// Touches are only applied by a sweep, not inline.
	cache.Sweep()

	e, _ = cache.Get(stmt, sql, compile)
	if !e.Hot {
		t.Fatalf("expected entry to be promoted to hot after %d hits", e.Hits)
	}
}

func TestEvictionPrefersColdEntries(t *testing.T) {
	c := newTestCompiler(t)
	compile := compileFuncFor(c)
	cache := New(2, 2)

	hotSQL := "SELECT id FROM t WHERE id = 1"
	hotStmt := parse(t, hotSQL)
	if _, err := cache.Get(hotStmt, hotSQL, compile); err != nil {
		t.Fatalf("Get hot (miss): %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := cache.Get(hotStmt, hotSQL, compile); err != nil {
			t.Fatalf("Get hot (hit): %v", err)
		}
	}
	cache.Sweep()
	if e, _ := cache.Get(hotStmt, hotSQL, compile); !e.Hot {
		t.Fatalf("expected %q to be hot before the eviction probe", hotSQL)
	}

	coldSQL := "SELECT id FROM t WHERE id = 2"
	if _, err := cache.Get(parse(t, coldSQL), coldSQL, compile); err != nil {
		t.Fatalf("Get cold: %v", err)
	}

	// Filling the cache past capacity must evict the cold entry, not
	// the hot one.
	thirdSQL := "SELECT id FROM t WHERE id = 3"
	if _, err := cache.Get(parse(t, thirdSQL), thirdSQL, compile); err != nil {
		t.Fatalf("Get third: %v", err)
	}

	if cache.Stats().Size != 2 {
		t.Fatalf("expected cache capped at 2 entries, got %d", cache.Stats().Size)
	}
	if _, ok := cache.entries[hotSQL]; !ok {
		t.Fatalf("hot entry %q should have survived eviction", hotSQL)
	}
	if _, ok := cache.entries[coldSQL]; ok {
		t.Fatalf("cold entry %q should have been evicted", coldSQL)
	}
}

func TestClearResetsCache(t *testing.T) {
	c := newTestCompiler(t)
	compile := compileFuncFor(c)
	cache := New(10, 5)

	sql := "SELECT id FROM t"
	if _, err := cache.Get(parse(t, sql), sql, compile); err != nil {
		t.Fatalf("Get: %v", err)
	}
	cache.Clear()
	if cache.Stats().Size != 0 {
		t.Fatalf("expected empty cache after Clear")
	}
}
