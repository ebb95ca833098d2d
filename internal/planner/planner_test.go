package planner

import (
	"context"
	"testing"

	"github.com/fractalsoft/frankendb/internal/btree"
	"github.com/fractalsoft/frankendb/internal/pager"
	"github.com/fractalsoft/frankendb/internal/record"
	"github.com/fractalsoft/frankendb/internal/schema"
	"github.com/fractalsoft/frankendb/internal/sqlparser"
	"github.com/fractalsoft/frankendb/internal/vdbe"
	"github.com/fractalsoft/frankendb/internal/vfs"
)

// testDB bundles a pager and catalog the way a real connection would,
// plus helpers to run statements through the compiler without needing
// a full connection layer.
type testDB struct {
	t   *testing.T
	p   *pager.Pager
	cat *schema.Catalog
	c   *Compiler
}

func newTestDB(t *testing.T) *testDB {
	t.Helper()
	p, err := pager.Open(vfs.NewMemVFS(), "test.db", 4096, 64)
	if err != nil {
		t.Fatalf("pager.Open failed: %v", err)
	}
	cat, err := schema.Open(p, 0)
	if err != nil {
		t.Fatalf("schema.Open failed: %v", err)
	}
	return &testDB{t: t, p: p, cat: cat, c: NewCompiler(cat)}
}

func (db *testDB) parse(sql string) sqlparser.Statement {
	db.t.Helper()
	stmt, err := sqlparser.NewParser(sql).ParseStatement()
	if err != nil {
		db.t.Fatalf("parse %q failed: %v", sql, err)
	}
	return stmt
}

// exec runs a CREATE TABLE/INDEX directly against the catalog, or an
// INSERT/UPDATE/DELETE through the compiled bytecode path.
func (db *testDB) exec(sql string) {
	db.t.Helper()
	stmt := db.parse(sql)
	switch s := stmt.(type) {
	case sqlparser.CreateTable:
		if err := db.p.BeginWrite(); err != nil {
			db.t.Fatalf("BeginWrite: %v", err)
		}
		if _, err := db.cat.CreateTable(s.Name, s.Cols, sql); err != nil {
			db.p.Rollback()
			db.t.Fatalf("CreateTable %q: %v", sql, err)
		}
		if err := db.p.Commit(); err != nil {
			db.t.Fatalf("Commit: %v", err)
		}
		return
	case sqlparser.CreateIndex:
		if err := db.p.BeginWrite(); err != nil {
			db.t.Fatalf("BeginWrite: %v", err)
		}
		if _, err := db.cat.CreateIndex(s.Name, s.Table, s.Cols, sql); err != nil {
			db.p.Rollback()
			db.t.Fatalf("CreateIndex %q: %v", sql, err)
		}
		if err := db.p.Commit(); err != nil {
			db.t.Fatalf("Commit: %v", err)
		}
		return
	}
	prog, _, err := db.c.Compile(stmt)
	if err != nil {
		db.t.Fatalf("compile %q: %v", sql, err)
	}
	vm := vdbe.NewVM(prog, db.p)
	if err := vm.Run(context.Background()); err != nil {
		db.t.Fatalf("run %q: %v", sql, err)
	}
}

func (db *testDB) query(sql string) *ResultSet {
	db.t.Helper()
	sel, ok := db.parse(sql).(*sqlparser.Select)
	if !ok {
		db.t.Fatalf("%q is not a SELECT", sql)
	}
	rs, err := db.c.Execute(context.Background(), db.p, sel)
	if err != nil {
		db.t.Fatalf("execute %q: %v", sql, err)
	}
	return rs
}

func intAt(t *testing.T, rs *ResultSet, row, col int) int64 {
	t.Helper()
	if row >= len(rs.Rows) || col >= len(rs.Rows[row]) {
		t.Fatalf("row %d col %d out of range (rows=%d)", row, col, len(rs.Rows))
	}
	v := rs.Rows[row][col]
	if v.Kind != record.KindInteger {
		t.Fatalf("row %d col %d is not an integer: %+v", row, col, v)
	}
	return v.I
}

func textAt(t *testing.T, rs *ResultSet, row, col int) string {
	t.Helper()
	if row >= len(rs.Rows) || col >= len(rs.Rows[row]) {
		t.Fatalf("row %d col %d out of range (rows=%d)", row, col, len(rs.Rows))
	}
	return rs.Rows[row][col].S
}

func TestInsertAndSelectRoundTrip(t *testing.T) {
	db := newTestDB(t)
	db.exec("CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, age INTEGER)")
	db.exec("INSERT INTO users (id, name, age) VALUES (1, 'alice', 30)")
	db.exec("INSERT INTO users (id, name, age) VALUES (2, 'bob', 25)")

	rs := db.query("SELECT id, name, age FROM users WHERE age > 26")
	if len(rs.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rs.Rows))
	}
	if textAt(t, rs, 0, 1) != "alice" {
		t.Fatalf("expected alice, got %q", textAt(t, rs, 0, 1))
	}
}

func TestInsertWithoutExplicitRowidAutoIncrements(t *testing.T) {
	db := newTestDB(t)
	db.exec("CREATE TABLE logs (id INTEGER PRIMARY KEY, msg TEXT)")
	db.exec("INSERT INTO logs (msg) VALUES ('first')")
	db.exec("INSERT INTO logs (msg) VALUES ('second')")

	rs := db.query("SELECT id, msg FROM logs ORDER BY id")
	if len(rs.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rs.Rows))
	}
	if intAt(t, rs, 0, 0) != 1 || intAt(t, rs, 1, 0) != 2 {
		t.Fatalf("expected rowids 1,2, got %d,%d", intAt(t, rs, 0, 0), intAt(t, rs, 1, 0))
	}
}

func TestUpdateRewritesMatchingRows(t *testing.T) {
	db := newTestDB(t)
	db.exec("CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, age INTEGER)")
	db.exec("INSERT INTO users (id, name, age) VALUES (1, 'alice', 30)")
	db.exec("INSERT INTO users (id, name, age) VALUES (2, 'bob', 25)")

	db.exec("UPDATE users SET age = 31 WHERE name = 'alice'")

	rs := db.query("SELECT age FROM users WHERE name = 'alice'")
	if len(rs.Rows) != 1 || intAt(t, rs, 0, 0) != 31 {
		t.Fatalf("expected age 31, got %+v", rs.Rows)
	}
	rsBob := db.query("SELECT age FROM users WHERE name = 'bob'")
	if len(rsBob.Rows) != 1 || intAt(t, rsBob, 0, 0) != 25 {
		t.Fatalf("expected bob untouched, got %+v", rsBob.Rows)
	}
}

func TestDeleteDuringIterationSkipsNoRows(t *testing.T) {
	db := newTestDB(t)
	db.exec("CREATE TABLE nums (id INTEGER PRIMARY KEY, v INTEGER)")
	for i := int64(1); i <= 5; i++ {
		db.exec("INSERT INTO nums (id, v) VALUES (" + itoa(i) + ", " + itoa(i) + ")")
	}
	// deletes every even row while scanning; the cursor's
	// delete-then-next contract must not skip the odd row right after
	// a deleted one.
	db.exec("DELETE FROM nums WHERE v % 2 = 0")

	rs := db.query("SELECT v FROM nums ORDER BY v")
	if len(rs.Rows) != 3 {
		t.Fatalf("expected 3 surviving rows, got %d: %+v", len(rs.Rows), rs.Rows)
	}
	want := []int64{1, 3, 5}
	for i, w := range want {
		if intAt(t, rs, i, 0) != w {
			t.Fatalf("row %d: expected %d, got %d", i, w, intAt(t, rs, i, 0))
		}
	}
}

func TestDeleteAllRows(t *testing.T) {
	db := newTestDB(t)
	db.exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v INTEGER)")
	db.exec("INSERT INTO t (id, v) VALUES (1, 10)")
	db.exec("INSERT INTO t (id, v) VALUES (2, 20)")
	db.exec("DELETE FROM t WHERE v > 0")

	rs := db.query("SELECT v FROM t")
	if len(rs.Rows) != 0 {
		t.Fatalf("expected no rows left, got %d", len(rs.Rows))
	}
}

func TestGroupByCountSum(t *testing.T) {
	db := newTestDB(t)
	db.exec("CREATE TABLE sales (id INTEGER PRIMARY KEY, region TEXT, amount INTEGER)")
	db.exec("INSERT INTO sales (id, region, amount) VALUES (1, 'east', 10)")
	db.exec("INSERT INTO sales (id, region, amount) VALUES (2, 'east', 20)")
	db.exec("INSERT INTO sales (id, region, amount) VALUES (3, 'west', 5)")

	rs := db.query("SELECT region, COUNT(*), SUM(amount) FROM sales GROUP BY region ORDER BY region")
	if len(rs.Rows) != 2 {
		t.Fatalf("expected 2 groups, got %d: %+v", len(rs.Rows), rs.Rows)
	}
	if textAt(t, rs, 0, 0) != "east" || intAt(t, rs, 0, 1) != 2 || intAt(t, rs, 0, 2) != 30 {
		t.Fatalf("unexpected east group: %+v", rs.Rows[0])
	}
	if textAt(t, rs, 1, 0) != "west" || intAt(t, rs, 1, 1) != 1 || intAt(t, rs, 1, 2) != 5 {
		t.Fatalf("unexpected west group: %+v", rs.Rows[1])
	}
}

func TestHavingFiltersGroups(t *testing.T) {
	db := newTestDB(t)
	db.exec("CREATE TABLE sales (id INTEGER PRIMARY KEY, region TEXT, amount INTEGER)")
	db.exec("INSERT INTO sales (id, region, amount) VALUES (1, 'east', 10)")
	db.exec("INSERT INTO sales (id, region, amount) VALUES (2, 'east', 20)")
	db.exec("INSERT INTO sales (id, region, amount) VALUES (3, 'west', 5)")

	rs := db.query("SELECT region, SUM(amount) FROM sales GROUP BY region HAVING SUM(amount) > 15")
	if len(rs.Rows) != 1 || textAt(t, rs, 0, 0) != "east" {
		t.Fatalf("expected only east to survive HAVING, got %+v", rs.Rows)
	}
}

func TestOrderByLimitOffset(t *testing.T) {
	db := newTestDB(t)
	db.exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v INTEGER)")
	for i := int64(1); i <= 5; i++ {
		db.exec("INSERT INTO t (id, v) VALUES (" + itoa(i) + ", " + itoa(6-i) + ")")
	}
	rs := db.query("SELECT v FROM t ORDER BY v LIMIT 2 OFFSET 1")
	if len(rs.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rs.Rows))
	}
	if intAt(t, rs, 0, 0) != 2 || intAt(t, rs, 1, 0) != 3 {
		t.Fatalf("expected [2,3], got [%d,%d]", intAt(t, rs, 0, 0), intAt(t, rs, 1, 0))
	}
}

func TestIndexMaintainedAcrossInsertUpdateDelete(t *testing.T) {
	db := newTestDB(t)
	db.exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
	db.exec("CREATE INDEX idx_v ON t (v)")
	db.exec("INSERT INTO t (id, v) VALUES (1, 'a')")
	db.exec("INSERT INTO t (id, v) VALUES (2, 'b')")

	idx, ok := db.cat.Index("idx_v")
	if !ok {
		t.Fatalf("expected idx_v to exist")
	}
	curBefore := countIndexEntries(t, db, idx)
	if curBefore != 2 {
		t.Fatalf("expected 2 index entries after insert, got %d", curBefore)
	}

	db.exec("UPDATE t SET v = 'c' WHERE id = 1")
	curAfterUpdate := countIndexEntries(t, db, idx)
	if curAfterUpdate != 2 {
		t.Fatalf("expected 2 index entries after update, got %d", curAfterUpdate)
	}

	db.exec("DELETE FROM t WHERE id = 2")
	curAfterDelete := countIndexEntries(t, db, idx)
	if curAfterDelete != 1 {
		t.Fatalf("expected 1 index entry after delete, got %d", curAfterDelete)
	}
}

func countIndexEntries(t *testing.T, db *testDB, idx *schema.IndexInfo) int {
	t.Helper()
	tree := btree.Open(db.p, idx.Root, btree.KindIndex)
	cur := tree.NewCursor()
	n := 0
	ok, err := cur.First()
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	for ok {
		n++
		ok, err = cur.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	return n
}

func TestExplainAndQueryPlanRowShapes(t *testing.T) {
	db := newTestDB(t)
	db.exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
	db.exec("INSERT INTO t (id, v) VALUES (1, 'a')")

	sel, ok := db.parse("SELECT v FROM t WHERE id = 1").(*sqlparser.Select)
	if !ok {
		t.Fatalf("expected *Select")
	}
	prog, planRows, err := db.c.Compile(sel)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	explainRows := ExplainProgram(prog)
	if len(explainRows) == 0 {
		t.Fatalf("expected at least one explain row")
	}
	foundHalt := false
	for _, r := range explainRows {
		if r.Opcode == "Halt" {
			foundHalt = true
		}
	}
	if !foundHalt {
		t.Fatalf("expected a Halt instruction in the explained program")
	}

	qp := QueryPlanRows(planRows)
	if len(qp) != 1 || qp[0].Detail == "" || qp[0].Parent != 0 || qp[0].NotUsed != 0 {
		t.Fatalf("expected 1 query plan row with parent=0, notused=0, and a detail string, got %+v", qp)
	}
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
