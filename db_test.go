package frankendb

import (
	"context"
	"testing"

	"github.com/fractalsoft/frankendb/internal/config"
	"github.com/fractalsoft/frankendb/internal/vfs"
)

func openTestDB(t *testing.T, cfg config.Config) *DB {
	t.Helper()
	db, err := Open(vfs.NewMemVFS(), "test.db", cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustExec(t *testing.T, db *DB, sql string) *Result {
	t.Helper()
	rs, err := db.Exec(context.Background(), sql)
	if err != nil {
		t.Fatalf("Exec(%q): %v", sql, err)
	}
	return rs
}

func TestCreateInsertSelectRoundTrip(t *testing.T) {
	db := openTestDB(t, config.Default())

	mustExec(t, db, `CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT, qty INTEGER)`)
	mustExec(t, db, `INSERT INTO widgets (id, name, qty) VALUES (1, 'sprocket', 10)`)
	mustExec(t, db, `INSERT INTO widgets (id, name, qty) VALUES (2, 'cog', 20)`)

	rs, err := db.Query(context.Background(), `SELECT name, qty FROM widgets WHERE qty > 15`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rs.Rows) != 1 || rs.Rows[0][0].S != "cog" {
		t.Fatalf("unexpected result: %+v", rs.Rows)
	}
}

// TestMultipleSequentialWrites exercises the autocommit fix directly:
// a pager that never committed its first write transaction would
// reject the second BeginWrite with Busy.
func TestMultipleSequentialWrites(t *testing.T) {
	db := openTestDB(t, config.Default())

	mustExec(t, db, `CREATE TABLE counters (id INTEGER PRIMARY KEY, n INTEGER)`)
	for i := 1; i <= 5; i++ {
		mustExec(t, db, `INSERT INTO counters (id, n) VALUES (`+itoaHelper(i)+`, `+itoaHelper(i*10)+`)`)
	}

	rs, err := db.Query(context.Background(), `SELECT n FROM counters`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rs.Rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rs.Rows))
	}
}

func itoaHelper(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestExplicitTransactionCommit(t *testing.T) {
	db := openTestDB(t, config.Default())
	mustExec(t, db, `CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`)

	mustExec(t, db, `BEGIN`)
	mustExec(t, db, `INSERT INTO t (id, v) VALUES (1, 'a')`)
	mustExec(t, db, `INSERT INTO t (id, v) VALUES (2, 'b')`)
	mustExec(t, db, `COMMIT`)

	rs, err := db.Query(context.Background(), `SELECT v FROM t`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rs.Rows) != 2 {
		t.Fatalf("expected 2 rows after commit, got %d", len(rs.Rows))
	}
}

func TestExplicitTransactionRollback(t *testing.T) {
	db := openTestDB(t, config.Default())
	mustExec(t, db, `CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`)

	mustExec(t, db, `BEGIN`)
	mustExec(t, db, `INSERT INTO t (id, v) VALUES (1, 'a')`)
	mustExec(t, db, `ROLLBACK`)

	if _, err := db.Exec(context.Background(), `COMMIT`); err == nil {
		t.Fatalf("expected COMMIT with no active transaction to fail")
	}
}

func TestSavepointReleaseAndRollbackTo(t *testing.T) {
	db := openTestDB(t, config.Default())
	mustExec(t, db, `CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`)

	mustExec(t, db, `BEGIN`)
	mustExec(t, db, `INSERT INTO t (id, v) VALUES (1, 'a')`)
	mustExec(t, db, `SAVEPOINT sp1`)
	mustExec(t, db, `INSERT INTO t (id, v) VALUES (2, 'b')`)
	mustExec(t, db, `ROLLBACK TO sp1`)
	mustExec(t, db, `RELEASE sp1`)
	mustExec(t, db, `COMMIT`)

	if _, err := db.Exec(context.Background(), `RELEASE sp1`); err == nil {
		t.Fatalf("expected RELEASE of an already-released savepoint to fail")
	}
}

func TestPragmaReadAndWrite(t *testing.T) {
	db := openTestDB(t, config.Default())

	rs := mustExec(t, db, `PRAGMA jit_threshold`)
	if rs.Rows[0][0].I != int64(config.Default().JITThreshold) {
		t.Fatalf("unexpected default jit_threshold: %+v", rs.Rows)
	}

	rs = mustExec(t, db, `PRAGMA jit_threshold = 9`)
	if rs.Rows[0][0].I != 9 {
		t.Fatalf("expected pragma assignment to echo the new value, got %+v", rs.Rows)
	}
}

func TestExplainAndExplainQueryPlan(t *testing.T) {
	db := openTestDB(t, config.Default())
	mustExec(t, db, `CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`)
	mustExec(t, db, `INSERT INTO t (id, v) VALUES (1, 'a')`)

	rs := mustExec(t, db, `EXPLAIN SELECT v FROM t WHERE id = 1`)
	if len(rs.Rows) == 0 {
		t.Fatalf("expected EXPLAIN to return bytecode rows")
	}

	rs = mustExec(t, db, `EXPLAIN QUERY PLAN SELECT v FROM t WHERE id = 1`)
	if len(rs.Rows) == 0 {
		t.Fatalf("expected EXPLAIN QUERY PLAN to return plan rows")
	}
}

func TestAttachEnforcesCapAndReservedNames(t *testing.T) {
	db := openTestDB(t, config.Default())

	if _, err := db.Exec(context.Background(), `ATTACH 'x.db' AS main`); err == nil {
		t.Fatalf("expected ATTACH ... AS main to be rejected")
	}

	for i := 0; i < maxAttachments; i++ {
		name := "db" + itoaHelper(i)
		if err := db.attach("attached-"+name+".db", name); err != nil {
			t.Fatalf("attach %s: %v", name, err)
		}
	}
	if err := db.attach("one-too-many.db", "db10"); err == nil {
		t.Fatalf("expected the 11th attachment to be rejected")
	}
}

func TestIntegrityCheckReportsOKOnAHealthyDatabase(t *testing.T) {
	db := openTestDB(t, config.Default())
	mustExec(t, db, `CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`)
	mustExec(t, db, `CREATE INDEX idx_v ON t (v)`)
	for i := 1; i <= 10; i++ {
		mustExec(t, db, `INSERT INTO t (id, v) VALUES (`+itoaHelper(i)+`, 'row`+itoaHelper(i)+`')`)
	}
	mustExec(t, db, `DELETE FROM t WHERE id = 5`)

	rs := mustExec(t, db, `PRAGMA integrity_check`)
	if len(rs.Rows) != 1 || rs.Rows[0][0].S != "ok" {
		t.Fatalf("expected a single \"ok\" row, got %+v", rs.Rows)
	}
}

func TestDropTableAndIndexClearsCompileCache(t *testing.T) {
	db := openTestDB(t, config.Default())
	mustExec(t, db, `CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`)
	mustExec(t, db, `CREATE INDEX idx_v ON t (v)`)
	mustExec(t, db, `INSERT INTO t (id, v) VALUES (1, 'a')`)

	if db.CacheStats().Size == 0 {
		t.Fatalf("expected the INSERT above to populate the compile cache")
	}

	mustExec(t, db, `DROP INDEX idx_v`)
	mustExec(t, db, `DROP TABLE t`)
	if db.CacheStats().Size != 0 {
		t.Fatalf("expected DDL to clear the compile cache, size=%d", db.CacheStats().Size)
	}
}
