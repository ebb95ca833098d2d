package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fractalsoft/frankendb/internal/record"
	"github.com/fractalsoft/frankendb/internal/sqlparser"
)

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frankendb.yaml")
	if err := os.WriteFile(path, []byte("page_size: 8192\njournal_mode: rollback\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PageSize != 8192 {
		t.Fatalf("expected page_size 8192, got %d", cfg.PageSize)
	}
	if cfg.JITThreshold != Default().JITThreshold {
		t.Fatalf("expected unspecified field to keep its default, got %d", cfg.JITThreshold)
	}
	if cfg.PagerJournalMode() != 0 { // pager.JournalRollback
		t.Fatalf("expected rollback journal mode")
	}
}

func parsePragma(t *testing.T, sql string) sqlparser.Pragma {
	t.Helper()
	stmt, err := sqlparser.NewParser(sql).ParseStatement()
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	pr, ok := stmt.(sqlparser.Pragma)
	if !ok {
		t.Fatalf("expected Pragma, got %T", stmt)
	}
	return pr
}

func TestApplyPragmaReadAndWrite(t *testing.T) {
	cfg := Default()

	v, err := cfg.ApplyPragma(parsePragma(t, "PRAGMA page_size"))
	if err != nil {
		t.Fatalf("read page_size: %v", err)
	}
	if v.Kind != record.KindInteger || v.I != int64(Default().PageSize) {
		t.Fatalf("expected default page size, got %+v", v)
	}

	if _, err := cfg.ApplyPragma(parsePragma(t, "PRAGMA page_size = 16384")); err != nil {
		t.Fatalf("write page_size: %v", err)
	}
	if cfg.PageSize != 16384 {
		t.Fatalf("expected page_size updated to 16384, got %d", cfg.PageSize)
	}

	if _, err := cfg.ApplyPragma(parsePragma(t, "PRAGMA journal_mode = WAL")); err != nil {
		t.Fatalf("write journal_mode: %v", err)
	}
	if cfg.JournalMode != "wal" {
		t.Fatalf("expected journal_mode lowercased to wal, got %q", cfg.JournalMode)
	}
}

func TestApplyPragmaUnknownName(t *testing.T) {
	cfg := Default()
	if _, err := cfg.ApplyPragma(parsePragma(t, "PRAGMA not_a_real_pragma")); err == nil {
		t.Fatalf("expected an error for an unknown pragma")
	}
}
