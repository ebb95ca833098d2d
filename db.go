// Package frankendb provides an embeddable, SQLite-file-compatible
// relational database engine for Go applications.
//
// frankendb implements the on-disk b-tree format, rollback-journal and
// WAL durability modes, a cost-based query planner, and a register
// bytecode interpreter over a pluggable storage abstraction (internal/vfs),
// so a database built with it can be opened, inspected, and diffed
// against a real sqlite3 file.
//
// # Basic usage
//
//	db, err := frankendb.Open(vfs.NewOSVFS(), "app.db", config.Default())
//	ctx := context.Background()
//
//	if _, err := db.Exec(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
//		log.Fatal(err)
//	}
//	if _, err := db.Exec(ctx, "INSERT INTO users (id, name) VALUES (1, 'Alice')"); err != nil {
//		log.Fatal(err)
//	}
//	rs, err := db.Query(ctx, "SELECT name FROM users WHERE id = 1")
package frankendb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fractalsoft/frankendb/internal/btree"
	"github.com/fractalsoft/frankendb/internal/config"
	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
	"github.com/fractalsoft/frankendb/internal/jit"
	"github.com/fractalsoft/frankendb/internal/mvcc"
	"github.com/fractalsoft/frankendb/internal/pager"
	"github.com/fractalsoft/frankendb/internal/planner"
	"github.com/fractalsoft/frankendb/internal/record"
	"github.com/fractalsoft/frankendb/internal/schema"
	"github.com/fractalsoft/frankendb/internal/sqlparser"
	"github.com/fractalsoft/frankendb/internal/vdbe"
	"github.com/fractalsoft/frankendb/internal/vfs"
	"github.com/fractalsoft/frankendb/internal/wal"
)

const maxAttachments = 10

// attachment is one entry of the attached-database registry (§4.K
// "Attach registry"): its own pager and catalog, opened against its
// own file.
type attachment struct {
	path   string
	pager  *pager.Pager
	cat    *schema.Catalog
	scheds *pager.CheckpointScheduler
}

// DB is one open connection: its own pager/WAL/catalog/compiler/cache
// stack plus the registry of additional databases ATTACHed to it.
// A DB is not safe for concurrent use by multiple goroutines without
// external synchronization, matching the single-threaded VM it drives.
type DB struct {
	v   vfs.VFS
	cfg config.Config

	path  string
	pgr   *pager.Pager
	w     *wal.WAL
	cat   *schema.Catalog
	c     *planner.Compiler
	cache *jit.Cache
	mvccM *mvcc.Manager
	sched *pager.CheckpointScheduler

	attached map[string]*attachment // keyed by lowercased name

	tx     *mvcc.Tx // non-nil while an explicit BEGIN...COMMIT/ROLLBACK is open
	txHeld bool      // pager write transaction held across the explicit tx
}

// Open opens (creating if absent) the database file at path on v,
// wires up its WAL (if cfg selects WAL journaling), starts its
// background checkpoint scheduler and JIT-cache sweep, and returns a
// ready connection.
func Open(v vfs.VFS, path string, cfg config.Config) (*DB, error) {
	var opts []pager.Option
	if cfg.BusyTimeoutMs > 0 {
		budget := time.Duration(cfg.BusyTimeoutMs) * time.Millisecond
		handler := pager.NewExponentialBusyHandler(10, time.Millisecond, budget)
		opts = append(opts, pager.WithBusyHandler(handler))
	}
	p, err := pager.Open(v, path, cfg.PageSize, cfg.CachePages, opts...)
	if err != nil {
		return nil, err
	}

	var w *wal.WAL
	var sched *pager.CheckpointScheduler
	if cfg.PagerJournalMode() == pager.JournalWAL {
		w, err = wal.Open(v, path+"-wal", uint32(p.PageSize()))
		if err != nil {
			p.Close()
			return nil, err
		}
		p.AttachWAL(pager.WALAdapter{W: w})
		sched = pager.NewCheckpointScheduler(w, p, func() bool { return false }, wal.CheckpointPassive, nil)
		if err := sched.Start(cfg.CheckpointSchedule); err != nil {
			w.Close()
			p.Close()
			return nil, err
		}
	}

	cat, err := schema.Open(p, 0)
	if err != nil {
		if sched != nil {
			sched.Stop()
		}
		p.Close()
		return nil, err
	}

	cache := jit.New(1000, cfg.JITThreshold)
	if err := cache.Start("*/1 * * * * *"); err != nil {
		if sched != nil {
			sched.Stop()
		}
		p.Close()
		return nil, err
	}

	return &DB{
		v:        v,
		cfg:      cfg,
		path:     path,
		pgr:      p,
		w:        w,
		cat:      cat,
		c:        planner.NewCompiler(cat),
		cache:    cache,
		mvccM:    mvcc.NewManager(),
		sched:    sched,
		attached: make(map[string]*attachment),
	}, nil
}

// Close stops background maintenance and closes the main database and
// every attached one.
func (db *DB) Close() error {
	db.cache.Stop()
	if db.sched != nil {
		db.sched.Stop()
	}
	for name, a := range db.attached {
		a.pager.Close()
		if a.scheds != nil {
			a.scheds.Stop()
		}
		delete(db.attached, name)
	}
	if db.w != nil {
		db.w.Close()
	}
	return db.pgr.Close()
}

// Result is the outcome of Exec: the final set of rows (empty for
// pure DDL/DML), plus the columns those rows are labeled with.
type Result = planner.ResultSet

// Exec runs one SQL statement end to end: parse, dispatch by
// statement kind, execute, return whatever rows it produces (a SELECT
// produces its projection; DML and DDL produce none).
func (db *DB) Exec(ctx context.Context, sql string) (*Result, error) {
	stmt, err := sqlparser.NewParser(sql).ParseStatement()
	if err != nil {
		return nil, err
	}
	return db.execStatement(ctx, stmt, sql)
}

// Query is Exec's synonym for read-only callers who want the SELECT-
// flavored name; it dispatches identically.
func (db *DB) Query(ctx context.Context, sql string) (*Result, error) {
	return db.Exec(ctx, sql)
}

func (db *DB) execStatement(ctx context.Context, stmt sqlparser.Statement, sql string) (*Result, error) {
	switch s := stmt.(type) {
	case *sqlparser.Select:
		if db.w != nil {
			if slot, ok := db.w.AcquireReaderMark(); ok {
				defer db.w.ReleaseReaderMark(slot)
			}
		}
		return db.c.Execute(ctx, db.pgr, s)

	case sqlparser.Insert, sqlparser.Update, sqlparser.Delete:
		return db.execDML(ctx, stmt, sql)

	case sqlparser.CreateTable:
		err := db.execDDL(func() error {
			_, err := db.cat.CreateTable(s.Name, s.Cols, sql)
			return err
		})
		if err != nil {
			return nil, err
		}
		db.cache.Clear()
		return &Result{}, nil

	case sqlparser.CreateIndex:
		err := db.execDDL(func() error {
			_, err := db.cat.CreateIndex(s.Name, s.Table, s.Cols, sql)
			return err
		})
		if err != nil {
			return nil, err
		}
		db.cache.Clear()
		return &Result{}, nil

	case sqlparser.DropTable:
		if err := db.execDDL(func() error { return db.cat.DropTable(s.Name) }); err != nil {
			return nil, err
		}
		db.cache.Clear()
		return &Result{}, nil

	case sqlparser.DropIndex:
		if err := db.execDDL(func() error { return db.cat.DropIndex(s.Name) }); err != nil {
			return nil, err
		}
		db.cache.Clear()
		return &Result{}, nil

	case sqlparser.Pragma:
		if strings.EqualFold(s.Name, "integrity_check") {
			return db.integrityCheck(), nil
		}
		v, err := db.cfg.ApplyPragma(s)
		if err != nil {
			return nil, err
		}
		return &Result{Columns: []string{s.Name}, Rows: [][]record.Value{{v}}}, nil

	case sqlparser.Begin:
		return &Result{}, db.begin()
	case sqlparser.Commit:
		return &Result{}, db.commit()
	case sqlparser.Rollback:
		return &Result{}, db.rollback()
	case sqlparser.Savepoint:
		return &Result{}, db.savepoint(s.Name)
	case sqlparser.Release:
		return &Result{}, db.release(s.Name)
	case sqlparser.RollbackTo:
		return &Result{}, db.rollbackTo(s.Name)

	case sqlparser.Attach:
		return &Result{}, db.attach(s.Path, s.Name)
	case sqlparser.Detach:
		return &Result{}, db.detach(s.Name)

	case sqlparser.Explain:
		return db.explain(s)

	default:
		return nil, fsqliteerr.New(fsqliteerr.Internal, "frankendb: unsupported statement %T", stmt)
	}
}

// execDML compiles and runs an INSERT/UPDATE/DELETE. Outside an
// explicit transaction each statement is its own autocommit unit
// (vdbe.VM.Run commits or rolls back on its own); inside one, the VM's
// own transaction handling is suppressed since db.begin already holds
// the pager's write transaction for the whole BEGIN...COMMIT span.
func (db *DB) execDML(ctx context.Context, stmt sqlparser.Statement, sql string) (*Result, error) {
	entry, err := db.cache.Get(stmt, sql, func(stmt sqlparser.Statement) (*vdbe.Program, error) {
		prog, _, err := db.c.Compile(stmt)
		return prog, err
	})
	if err != nil {
		return nil, err
	}
	vm := vdbe.NewVM(entry.Program, db.pgr)
	vm.ExternalTx = db.tx != nil
	if err := vm.Run(ctx); err != nil {
		return nil, err
	}
	if db.tx != nil {
		db.recordWriteSet(stmt)
	}
	return &Result{Rows: vm.Rows}, nil
}

// execDDL runs a catalog mutation (CreateTable/CreateIndex/DropTable/
// DropIndex), all of which touch the b-tree layer through
// Pager.FetchForWrite and so require an active pager write transaction.
// Outside an explicit BEGIN, DDL is its own autocommit unit, same as a
// single DML statement; inside one, db.begin already holds the pager's
// write transaction for the whole BEGIN...COMMIT span and execDDL must
// not start or finish a second one.
func (db *DB) execDDL(fn func() error) error {
	if db.tx != nil {
		return fn()
	}
	if err := db.pgr.BeginWrite(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		db.pgr.Rollback()
		return err
	}
	return db.pgr.Commit()
}

// recordWriteSet records the table(s) an in-flight DML statement
// touched against the current explicit transaction's MVCC write set,
// so a later RollbackTo/Abort has something to report conflicts
// against; it does not itself undo row mutations (see the "MVCC
// scoping" note in DESIGN.md: partial ROLLBACK TO at the storage layer
// is out of scope since Pager.Rollback only supports whole-transaction
// rollback).
func (db *DB) recordWriteSet(stmt sqlparser.Statement) {
	var table string
	switch s := stmt.(type) {
	case sqlparser.Insert:
		table = s.Table
	case sqlparser.Update:
		table = s.Table
	case sqlparser.Delete:
		table = s.Table
	}
	if table != "" {
		db.tx.RecordWrite(table, mvcc.Key(table))
	}
}

func (db *DB) begin() error {
	if db.tx != nil {
		return fsqliteerr.New(fsqliteerr.Misuse, "cannot start a transaction within a transaction")
	}
	if err := db.pgr.BeginWrite(); err != nil {
		return err
	}
	db.txHeld = true
	db.tx = db.mvccM.Begin(mvcc.SnapshotIsolation)
	return nil
}

func (db *DB) commit() error {
	if db.tx == nil {
		return fsqliteerr.New(fsqliteerr.Misuse, "cannot commit: no transaction is active")
	}
	if _, err := db.mvccM.Commit(db.tx); err != nil {
		return err
	}
	db.tx = nil
	if db.txHeld {
		db.txHeld = false
		return db.pgr.Commit()
	}
	return nil
}

func (db *DB) rollback() error {
	if db.tx == nil {
		return fsqliteerr.New(fsqliteerr.Misuse, "cannot rollback: no transaction is active")
	}
	db.mvccM.Abort(db.tx)
	db.tx = nil
	if db.txHeld {
		db.txHeld = false
		return db.pgr.Rollback()
	}
	return nil
}

func (db *DB) savepoint(name string) error {
	if db.tx == nil {
		return fsqliteerr.New(fsqliteerr.Misuse, "cannot savepoint: no transaction is active")
	}
	db.tx.Savepoint(name)
	return nil
}

func (db *DB) release(name string) error {
	if db.tx == nil {
		return fsqliteerr.New(fsqliteerr.Misuse, "cannot release: no transaction is active")
	}
	return db.tx.Release(name)
}

// rollbackTo restores the transaction's MVCC read/write bookkeeping to
// a named savepoint. It does not replay b-tree page mutations: the
// pager has no partial-transaction undo, so a statement-level
// ROLLBACK TO is only as strong as the caller's own idempotence. Full
// storage-level savepoints would need per-page undo logs keyed by
// savepoint ordinal, which §4's Lifecycle doesn't require and which
// would be a substantial addition to the pager's write path.
func (db *DB) rollbackTo(name string) error {
	if db.tx == nil {
		return fsqliteerr.New(fsqliteerr.Misuse, "cannot rollback to savepoint: no transaction is active")
	}
	return db.tx.RollbackTo(name)
}

// attach opens path as an additional named database, enforcing the
// registry's size cap and reserved names (§4.K "Attach registry").
// The attachment is recorded in the registry only: the query compiler
// resolves table names against the main catalog, so cross-schema
// qualified names (db.table) do not reach an attached database.
func (db *DB) attach(path, name string) error {
	lname := strings.ToLower(name)
	if lname == "main" || lname == "temp" {
		return fsqliteerr.New(fsqliteerr.Misuse, "cannot attach using reserved name: "+name)
	}
	if _, exists := db.attached[lname]; exists {
		return fsqliteerr.New(fsqliteerr.Misuse, "database "+name+" is already in use")
	}
	if len(db.attached) >= maxAttachments {
		return fsqliteerr.New(fsqliteerr.Internal, "too many attached databases (max %d)", maxAttachments)
	}
	p, err := pager.Open(db.v, path, db.cfg.PageSize, db.cfg.CachePages)
	if err != nil {
		return err
	}
	cat, err := schema.Open(p, 0)
	if err != nil {
		p.Close()
		return err
	}
	db.attached[lname] = &attachment{path: path, pager: p, cat: cat}
	return nil
}

func (db *DB) detach(name string) error {
	lname := strings.ToLower(name)
	if lname == "main" || lname == "temp" {
		return fsqliteerr.New(fsqliteerr.Misuse, "cannot detach database "+name)
	}
	a, ok := db.attached[lname]
	if !ok {
		return fsqliteerr.New(fsqliteerr.Misuse, "no such database: "+name)
	}
	if a.scheds != nil {
		a.scheds.Stop()
	}
	delete(db.attached, lname)
	return a.pager.Close()
}

// integrityCheck walks every table and index b-tree plus the freelist
// and reports one row per structural violation found, sqlite3's own
// PRAGMA integrity_check convention: a single row reading "ok" means
// nothing was wrong.
func (db *DB) integrityCheck() *Result {
	var problems []string
	problems = append(problems, db.pgr.CheckFreelist()...)
	for _, t := range db.cat.Tables() {
		tree := btree.Open(db.pgr, t.Root, btree.KindTable)
		for _, v := range btree.Verify(tree) {
			problems = append(problems, fmt.Sprintf("table %s: %s", t.Name, v))
		}
		for _, idx := range t.Indexes {
			itree := btree.Open(db.pgr, idx.Root, btree.KindIndex)
			for _, v := range btree.Verify(itree) {
				problems = append(problems, fmt.Sprintf("index %s: %s", idx.Name, v))
			}
		}
	}
	if len(problems) == 0 {
		problems = []string{"ok"}
	}
	rows := make([][]record.Value, len(problems))
	for i, p := range problems {
		rows[i] = []record.Value{record.Text(p)}
	}
	return &Result{Columns: []string{"integrity_check"}, Rows: rows}
}

// explain compiles e.Stmt and renders either its raw bytecode (EXPLAIN)
// or its query plan (EXPLAIN QUERY PLAN) as a result set, matching
// sqlite3's own shell output shape (§4.K).
func (db *DB) explain(e sqlparser.Explain) (*Result, error) {
	prog, planRows, err := db.c.Compile(e.Stmt)
	if err != nil {
		return nil, err
	}
	if e.QueryPlan {
		rows := planner.QueryPlanRows(planRows)
		out := make([][]record.Value, len(rows))
		for i, r := range rows {
			out[i] = []record.Value{record.Integer(int64(r.ID)), record.Integer(int64(r.Parent)), record.Integer(int64(r.NotUsed)), record.Text(r.Detail)}
		}
		return &Result{Columns: []string{"id", "parent", "notused", "detail"}, Rows: out}, nil
	}
	rows := planner.ExplainProgram(prog)
	out := make([][]record.Value, len(rows))
	for i, r := range rows {
		out[i] = []record.Value{
			record.Integer(int64(r.Addr)), record.Text(r.Opcode),
			record.Integer(int64(r.P1)), record.Integer(int64(r.P2)), record.Integer(int64(r.P3)),
			record.Text(r.P4), record.Integer(int64(r.P5)), record.Text(r.Comment),
		}
	}
	return &Result{Columns: []string{"addr", "opcode", "p1", "p2", "p3", "p4", "p5", "comment"}, Rows: out}, nil
}

// CacheStats reports the JIT compile cache's cumulative counters, for
// diagnostics and the REPL's .stats command.
func (db *DB) CacheStats() jit.Stats { return db.cache.Stats() }

// RowString renders a row of Values the way the REPL and tests print
// results: comma-joined, NULL spelled out, text unquoted.
func RowString(row []record.Value) string {
	parts := make([]string, len(row))
	for i, v := range row {
		switch v.Kind {
		case record.KindNull:
			parts[i] = "NULL"
		case record.KindInteger:
			parts[i] = fmt.Sprintf("%d", v.I)
		case record.KindFloat:
			parts[i] = fmt.Sprintf("%g", v.F)
		case record.KindText:
			parts[i] = v.S
		case record.KindBlob:
			parts[i] = fmt.Sprintf("blob[%d]", len(v.B))
		}
	}
	return strings.Join(parts, ", ")
}
