package canon

import (
	"context"
	"database/sql"
	"sort"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/fractalsoft/frankendb/internal/pager"
	"github.com/fractalsoft/frankendb/internal/planner"
	"github.com/fractalsoft/frankendb/internal/schema"
	"github.com/fractalsoft/frankendb/internal/sqlparser"
	"github.com/fractalsoft/frankendb/internal/vdbe"
	"github.com/fractalsoft/frankendb/internal/vfs"
)

// referenceRows runs schemaSQL and query against modernc.org/sqlite,
// the pure-Go reference engine canon's differential tests diff output
// against, and returns the integer results of query's single column.
func referenceRows(t *testing.T, schemaSQL []string, query string) []int64 {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open reference sqlite: %v", err)
	}
	defer db.Close()

	for _, stmt := range schemaSQL {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("reference exec %q: %v", stmt, err)
		}
	}
	rows, err := db.Query(query)
	if err != nil {
		t.Fatalf("reference query: %v", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			t.Fatalf("reference scan: %v", err)
		}
		out = append(out, v)
	}
	return out
}

func execFrankenDB(t *testing.T, p *pager.Pager, cat *schema.Catalog, c *planner.Compiler, sql string) {
	t.Helper()
	stmt, err := sqlparser.NewParser(sql).ParseStatement()
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	switch s := stmt.(type) {
	case sqlparser.CreateTable:
		if err := p.BeginWrite(); err != nil {
			t.Fatalf("begin write: %v", err)
		}
		if _, err := cat.CreateTable(s.Name, s.Cols, sql); err != nil {
			p.Rollback()
			t.Fatalf("create table: %v", err)
		}
		if err := p.Commit(); err != nil {
			t.Fatalf("commit create table: %v", err)
		}
		return
	}
	prog, _, err := c.Compile(stmt)
	if err != nil {
		t.Fatalf("compile %q: %v", sql, err)
	}
	vm := vdbe.NewVM(prog, p)
	if err := vm.Run(context.Background()); err != nil {
		t.Fatalf("run %q: %v", sql, err)
	}
}

func queryFrankenDB(t *testing.T, p *pager.Pager, c *planner.Compiler, sql string) []int64 {
	t.Helper()
	stmt, err := sqlparser.NewParser(sql).ParseStatement()
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		t.Fatalf("expected a SELECT, got %T", stmt)
	}
	rs, err := c.Execute(context.Background(), p, sel)
	if err != nil {
		t.Fatalf("execute %q: %v", sql, err)
	}
	var out []int64
	for _, row := range rs.Rows {
		out = append(out, row[0].I)
	}
	return out
}

// TestCanonicalizeMatchesReferenceSQLite builds the same table and rows
// in frankendb and in modernc.org/sqlite, canonicalizes the frankendb
// file, re-opens the canonical copy, and checks its query result
// matches the reference engine row-for-row (§12 "Differential
// testing").
func TestCanonicalizeMatchesReferenceSQLite(t *testing.T) {
	schemaSQL := []string{
		"CREATE TABLE widgets (id INTEGER PRIMARY KEY, qty INTEGER)",
		"INSERT INTO widgets (id, qty) VALUES (1, 10)",
		"INSERT INTO widgets (id, qty) VALUES (2, 20)",
		"INSERT INTO widgets (id, qty) VALUES (3, 30)",
		"DELETE FROM widgets WHERE qty = 20",
	}
	query := "SELECT qty FROM widgets"

	want := referenceRows(t, schemaSQL, query)
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	v := vfs.NewMemVFS()
	p, err := pager.Open(v, "src.db", 4096, 64)
	if err != nil {
		t.Fatalf("open src pager: %v", err)
	}
	cat, err := schema.Open(p, 0)
	if err != nil {
		t.Fatalf("open src schema: %v", err)
	}
	c := planner.NewCompiler(cat)
	for _, stmt := range schemaSQL {
		execFrankenDB(t, p, cat, c, stmt)
	}

	if err := Into(v, "src.db", "dst.db", nil); err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	dstPager, err := pager.Open(v, "dst.db", TargetPageSize, TargetCachePages)
	if err != nil {
		t.Fatalf("open dst pager: %v", err)
	}
	dstCat, err := schema.Open(dstPager, 0)
	if err != nil {
		t.Fatalf("open dst schema: %v", err)
	}
	dstCompiler := planner.NewCompiler(dstCat)

	got := queryFrankenDB(t, dstPager, dstCompiler, query)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })

	if len(got) != len(want) {
		t.Fatalf("row count mismatch: reference=%v frankendb=%v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("row %d mismatch: reference=%d frankendb=%d", i, want[i], got[i])
		}
	}
}

// TestCanonicalizeIsStableAcrossPageSize rebuilds the same rows through
// two source pagers opened at different page sizes and checks the
// canonical copies hash identically, the core invariant that makes
// canon useful for content-addressed comparisons.
func TestCanonicalizeIsStableAcrossPageSize(t *testing.T) {
	build := func(dbName string, pageSize int) string {
		v := vfs.NewMemVFS()
		p, err := pager.Open(v, dbName, pageSize, 64)
		if err != nil {
			t.Fatalf("open pager: %v", err)
		}
		cat, err := schema.Open(p, 0)
		if err != nil {
			t.Fatalf("open schema: %v", err)
		}
		c := planner.NewCompiler(cat)
		for _, stmt := range []string{
			"CREATE TABLE t (id INTEGER PRIMARY KEY, v INTEGER)",
			"INSERT INTO t (id, v) VALUES (1, 100)",
			"INSERT INTO t (id, v) VALUES (2, 200)",
		} {
			execFrankenDB(t, p, cat, c, stmt)
		}
		dst := dbName + ".canon"
		if err := Into(v, dbName, dst, nil); err != nil {
			t.Fatalf("canonicalize: %v", err)
		}
		h, err := Hash(v, dst)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		return string(h[:])
	}

	h1 := build("a.db", 512)
	h2 := build("b.db", 8192)
	if h1 != h2 {
		t.Fatalf("canonical hashes differ across source page size")
	}
}
