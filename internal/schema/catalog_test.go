package schema

import (
	"testing"

	"github.com/fractalsoft/frankendb/internal/pager"
	"github.com/fractalsoft/frankendb/internal/sqlparser"
	"github.com/fractalsoft/frankendb/internal/vfs"
)

func newTestPager(t *testing.T) *pager.Pager {
	t.Helper()
	p, err := pager.Open(vfs.NewMemVFS(), "test.db", 4096, 64)
	if err != nil {
		t.Fatalf("pager.Open failed: %v", err)
	}
	return p
}

func parseCreateTable(t *testing.T, sql string) sqlparser.CreateTable {
	t.Helper()
	stmt, err := sqlparser.NewParser(sql).ParseStatement()
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	ct, ok := stmt.(sqlparser.CreateTable)
	if !ok {
		t.Fatalf("expected CreateTable, got %T", stmt)
	}
	return ct
}

func TestCatalogCreateTableAndReload(t *testing.T) {
	p := newTestPager(t)
	c, err := Open(p, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	sql := "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)"
	ct := parseCreateTable(t, sql)
	if err := p.BeginWrite(); err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	if _, err := c.CreateTable("users", ct.Cols, sql); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if err := p.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if _, ok := c.Table("USERS"); !ok {
		t.Fatalf("expected case-insensitive lookup to find users table")
	}
	if c.Cookie() != 1 {
		t.Fatalf("expected schema_cookie == 1 after one DDL, got %d", c.Cookie())
	}

	reloaded, err := Open(p, c.MasterRoot())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	info, ok := reloaded.Table("users")
	if !ok {
		t.Fatalf("expected reloaded catalog to rebuild users from sqlite_master")
	}
	if len(info.Cols) != 2 || info.Cols[0].Name != "id" {
		t.Fatalf("unexpected reloaded columns: %#v", info.Cols)
	}
}

func TestCatalogDropTable(t *testing.T) {
	p := newTestPager(t)
	c, err := Open(p, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	sql := "CREATE TABLE t (a INTEGER)"
	ct := parseCreateTable(t, sql)
	if err := p.BeginWrite(); err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	if _, err := c.CreateTable("t", ct.Cols, sql); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if err := c.DropTable("t"); err != nil {
		t.Fatalf("DropTable failed: %v", err)
	}
	if _, ok := c.Table("t"); ok {
		t.Fatalf("expected t to be gone after DropTable")
	}
	if err := c.DropTable("t"); err == nil {
		t.Fatalf("expected error dropping already-dropped table")
	}
	if err := p.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func TestAttachRegistryCapAndReserved(t *testing.T) {
	r := NewAttachRegistry()

	if err := r.Attach("main", "x.db"); err == nil {
		t.Fatalf("expected attaching reserved name 'main' to fail")
	}
	for i := 0; i < MaxUserAttachments; i++ {
		name := "db" + string(rune('0'+i))
		if err := r.Attach(name, name+".db"); err != nil {
			t.Fatalf("Attach(%s) failed: %v", name, err)
		}
	}
	if err := r.Attach("db10", "overflow.db"); err == nil {
		t.Fatalf("expected the 11th attach to fail")
	}
	if r.Count() != MaxUserAttachments {
		t.Fatalf("expected %d user attachments, got %d", MaxUserAttachments, r.Count())
	}
	if err := r.Detach("DB0"); err != nil {
		t.Fatalf("case-insensitive Detach failed: %v", err)
	}
	if err := r.Detach("main"); err == nil {
		t.Fatalf("expected detaching 'main' to fail")
	}
}
