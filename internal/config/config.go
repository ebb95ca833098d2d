// Package config loads engine-wide defaults from YAML and dispatches
// PRAGMA statements against a live per-connection Config (§10
// "Configuration"), mirroring the teacher's use of yaml.v3 for its own
// server configuration.
package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
	"github.com/fractalsoft/frankendb/internal/pager"
	"github.com/fractalsoft/frankendb/internal/record"
	"github.com/fractalsoft/frankendb/internal/sqlparser"
)

// Config holds the knobs a connection is opened with and that PRAGMA
// can subsequently mutate: page size, cache capacity, default journal
// mode, JIT promotion threshold, the checkpoint scheduler's cron.v3
// spec, and the busy-handler timeout.
type Config struct {
	PageSize           int    `yaml:"page_size"`
	CachePages         int    `yaml:"cache_pages"`
	JournalMode        string `yaml:"journal_mode"`
	JITThreshold       int    `yaml:"jit_threshold"`
	CheckpointSchedule string `yaml:"checkpoint_schedule"`
	BusyTimeoutMs      int    `yaml:"busy_timeout_ms"`
}

// Default returns the engine's built-in defaults, used when no config
// file is supplied and as the base a loaded file overlays onto.
func Default() Config {
	return Config{
		PageSize:           4096,
		CachePages:         2000,
		JournalMode:        "wal",
		JITThreshold:       5,
		CheckpointSchedule: "*/5 * * * * *",
		BusyTimeoutMs:      5000,
	}
}

// Load reads path as YAML over Default, leaving any field the file
// doesn't mention at its default value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fsqliteerr.New(fsqliteerr.Misuse, "config: parse %s: %v", path, err)
	}
	return cfg, nil
}

// PagerJournalMode translates the YAML/PRAGMA string form into the
// pager's own enum.
func (c *Config) PagerJournalMode() pager.JournalMode {
	if strings.EqualFold(c.JournalMode, "rollback") {
		return pager.JournalRollback
	}
	return pager.JournalWAL
}

// ApplyPragma mutates c per one parsed PRAGMA statement and returns
// the resulting value (SQLite's own PRAGMA convention: a bare `PRAGMA
// x` is a query returning the current value, `PRAGMA x = v` is a
// mutation that also returns the new value).
func (c *Config) ApplyPragma(p sqlparser.Pragma) (record.Value, error) {
	switch strings.ToLower(p.Name) {
	case "page_size":
		return c.intPragma(&c.PageSize, p.Value)
	case "cache_size", "cache_pages":
		return c.intPragma(&c.CachePages, p.Value)
	case "jit_threshold":
		return c.intPragma(&c.JITThreshold, p.Value)
	case "busy_timeout":
		return c.intPragma(&c.BusyTimeoutMs, p.Value)
	case "journal_mode":
		return c.textPragma(&c.JournalMode, p.Value, true)
	case "checkpoint_schedule":
		return c.textPragma(&c.CheckpointSchedule, p.Value, false)
	default:
		return record.Null(), fsqliteerr.New(fsqliteerr.Misuse, "no such pragma: %s", p.Name)
	}
}

func (c *Config) intPragma(field *int, value sqlparser.Expr) (record.Value, error) {
	if value == nil {
		return record.Integer(int64(*field)), nil
	}
	lit, ok := value.(sqlparser.Literal)
	if !ok || lit.Val.Kind != record.KindInteger {
		return record.Null(), fsqliteerr.New(fsqliteerr.MismatchType, "pragma expects an integer value")
	}
	*field = int(lit.Val.I)
	return record.Integer(int64(*field)), nil
}

// textPragma reads value as either a string literal or a bare
// identifier (PRAGMA journal_mode=WAL parses WAL as a column
// reference, not a string, since it's unquoted), lowercasing when
// foldCase is set (journal_mode names are case-insensitive; a cron
// schedule string is not).
func (c *Config) textPragma(field *string, value sqlparser.Expr, foldCase bool) (record.Value, error) {
	if value == nil {
		return record.Text(*field), nil
	}
	var s string
	switch v := value.(type) {
	case sqlparser.Literal:
		if v.Val.Kind != record.KindText {
			return record.Null(), fsqliteerr.New(fsqliteerr.MismatchType, "pragma expects a text value")
		}
		s = v.Val.S
	case sqlparser.VarRef:
		s = v.Name
	default:
		return record.Null(), fsqliteerr.New(fsqliteerr.MismatchType, "pragma expects a text value")
	}
	if foldCase {
		s = strings.ToLower(s)
	}
	*field = s
	return record.Text(*field), nil
}
