package schema

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fractalsoft/frankendb/internal/btree"
	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
	"github.com/fractalsoft/frankendb/internal/pager"
	"github.com/fractalsoft/frankendb/internal/record"
	"github.com/fractalsoft/frankendb/internal/sqlparser"
)

// EntryType distinguishes the kinds of objects sqlite_master records.
type EntryType string

const (
	EntryTable EntryType = "table"
	EntryIndex EntryType = "index"
	EntryView  EntryType = "view"
)

// Entry is one row of sqlite_master: (type, name, tbl_name, rootpage, sql).
type Entry struct {
	Type     EntryType
	Name     string
	TblName  string
	RootPage pager.PageNumber
	SQL      string
}

// TableInfo is the parsed, queryable shape of a CREATE TABLE entry,
// cached in memory after the schema loads (§4.K).
type TableInfo struct {
	Name    string
	Cols    []sqlparser.ColumnDef
	Root    pager.PageNumber
	Indexes []*IndexInfo
}

type IndexInfo struct {
	Name  string
	Table string
	Cols  []string
	Root  pager.PageNumber
}

// Catalog is the live, in-memory schema for one database file: the
// sqlite_master b-tree plus the parsed TableInfo/IndexInfo maps rebuilt
// from it on connect, and the schema_cookie that invalidates peer
// caches on every DDL (§3, §4.K).
//
// Grounded on tinySQL's storage.CatalogManager, which kept flat
// name-keyed maps behind a single mutex for introspection; this
// generalizes that shape to back the maps with a real sqlite_master
// b-tree and rebuild them from parsed SQL text rather than populating
// them directly from Go struct literals.
type Catalog struct {
	mu     sync.RWMutex
	master *btree.Tree
	cookie atomic.Uint32
	nextRowid int64

	tables  map[string]*TableInfo
	indexes map[string]*IndexInfo
}

// Open loads (or, if masterRoot is zero, creates) the sqlite_master
// b-tree and parses every row to rebuild the in-memory catalog.
// Failures are advisory (§4.K): a row whose record does not decode is
// skipped, and a row whose SQL text does not parse is still registered,
// with no columns; loading continues either way.
func Open(p *pager.Pager, masterRoot pager.PageNumber) (*Catalog, error) {
	var tree *btree.Tree
	if masterRoot == 0 {
		t, err := btree.Create(p, btree.KindTable)
		if err != nil {
			return nil, err
		}
		tree = t
	} else {
		tree = btree.Open(p, masterRoot, btree.KindTable)
	}

	c := &Catalog{
		master:  tree,
		tables:  make(map[string]*TableInfo),
		indexes: make(map[string]*IndexInfo),
	}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// MasterRoot returns the root page of the sqlite_master b-tree, to be
// recorded as LargestRootBTreePage / page 1's schema pointer.
func (c *Catalog) MasterRoot() pager.PageNumber { return c.master.Root() }

// Cookie returns the current schema_cookie value.
func (c *Catalog) Cookie() uint32 { return c.cookie.Load() }

func (c *Catalog) reload() error {
	cur := c.master.NewCursor()
	ok, err := cur.First()
	if err != nil {
		return err
	}
	var maxRowid int64
	for ok {
		rowid, err := cur.Rowid()
		if err != nil {
			return err
		}
		if rowid > maxRowid {
			maxRowid = rowid
		}
		payload, err := cur.Payload()
		if err != nil {
			return err
		}
		entry, err := decodeEntry(payload)
		if err == nil {
			c.indexEntry(entry)
		}
		ok, err = cur.Next()
		if err != nil {
			return err
		}
	}
	c.nextRowid = maxRowid + 1
	return nil
}

func (c *Catalog) indexEntry(e Entry) {
	switch e.Type {
	case EntryTable:
		info := &TableInfo{Name: e.Name, Root: e.RootPage}
		if stmt, err := sqlparser.NewParser(e.SQL).ParseStatement(); err == nil {
			if ct, ok := stmt.(sqlparser.CreateTable); ok {
				info.Cols = ct.Cols
			}
		}
		c.tables[strings.ToLower(e.Name)] = info
	case EntryIndex:
		idx := &IndexInfo{Name: e.Name, Table: e.TblName, Root: e.RootPage}
		if stmt, err := sqlparser.NewParser(e.SQL).ParseStatement(); err == nil {
			if ci, ok := stmt.(sqlparser.CreateIndex); ok {
				idx.Cols = ci.Cols
			}
		}
		c.indexes[strings.ToLower(e.Name)] = idx
		if t, ok := c.tables[strings.ToLower(e.TblName)]; ok {
			t.Indexes = append(t.Indexes, idx)
		}
	}
}

func decodeEntry(payload []byte) (Entry, error) {
	vals, err := record.DecodeRecord(payload)
	if err != nil {
		return Entry{}, err
	}
	if len(vals) != 5 {
		return Entry{}, fmt.Errorf("schema: expected 5 columns, got %d", len(vals))
	}
	return Entry{
		Type:     EntryType(vals[0].S),
		Name:     vals[1].S,
		TblName:  vals[2].S,
		RootPage: pager.PageNumber(vals[3].I),
		SQL:      vals[4].S,
	}, nil
}

func encodeEntry(e Entry) []byte {
	return record.EncodeRecord([]record.Value{
		record.Text(string(e.Type)),
		record.Text(e.Name),
		record.Text(e.TblName),
		record.Integer(int64(e.RootPage)),
		record.Text(e.SQL),
	})
}

// CreateTable registers a new table: allocates its b-tree, inserts the
// sqlite_master row, bumps schema_cookie, and updates the in-memory map.
func (c *Catalog) CreateTable(name string, cols []sqlparser.ColumnDef, sqlText string) (*TableInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := strings.ToLower(name)
	if _, exists := c.tables[key]; exists {
		return nil, fsqliteerr.New(fsqliteerr.Constraint, "table %s already exists", name)
	}
	t, err := btree.Create(c.master.Pager(), btree.KindTable)
	if err != nil {
		return nil, err
	}
	e := Entry{Type: EntryTable, Name: name, TblName: name, RootPage: t.Root(), SQL: sqlText}
	if err := c.master.Insert(c.nextRowid, encodeEntry(e)); err != nil {
		return nil, err
	}
	c.nextRowid++
	c.cookie.Add(1)

	info := &TableInfo{Name: name, Cols: cols, Root: t.Root()}
	c.tables[key] = info
	return info, nil
}

// DropTable removes a table's sqlite_master row and in-memory entry.
// The caller is responsible for freeing the table's own b-tree pages.
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := strings.ToLower(name)
	if _, ok := c.tables[key]; !ok {
		return fsqliteerr.New(fsqliteerr.Misuse, "no such table: %s", name)
	}
	if err := c.deleteMasterRow(EntryTable, name); err != nil {
		return err
	}
	delete(c.tables, key)
	c.cookie.Add(1)
	return nil
}

// CreateIndex mirrors CreateTable for secondary indexes.
func (c *Catalog) CreateIndex(name, table string, cols []string, sqlText string) (*IndexInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := strings.ToLower(name)
	if _, exists := c.indexes[key]; exists {
		return nil, fsqliteerr.New(fsqliteerr.Constraint, "index %s already exists", name)
	}
	t, err := btree.Create(c.master.Pager(), btree.KindIndex)
	if err != nil {
		return nil, err
	}
	e := Entry{Type: EntryIndex, Name: name, TblName: table, RootPage: t.Root(), SQL: sqlText}
	if err := c.master.Insert(c.nextRowid, encodeEntry(e)); err != nil {
		return nil, err
	}
	c.nextRowid++
	c.cookie.Add(1)

	idx := &IndexInfo{Name: name, Table: table, Cols: cols, Root: t.Root()}
	c.indexes[key] = idx
	if ti, ok := c.tables[strings.ToLower(table)]; ok {
		ti.Indexes = append(ti.Indexes, idx)
	}
	return idx, nil
}

func (c *Catalog) DropIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := strings.ToLower(name)
	idx, ok := c.indexes[key]
	if !ok {
		return fsqliteerr.New(fsqliteerr.Misuse, "no such index: %s", name)
	}
	if err := c.deleteMasterRow(EntryIndex, name); err != nil {
		return err
	}
	delete(c.indexes, key)
	if ti, ok := c.tables[strings.ToLower(idx.Table)]; ok {
		for i, x := range ti.Indexes {
			if x == idx {
				ti.Indexes = append(ti.Indexes[:i], ti.Indexes[i+1:]...)
				break
			}
		}
	}
	c.cookie.Add(1)
	return nil
}

func (c *Catalog) deleteMasterRow(typ EntryType, name string) error {
	cur := c.master.NewCursor()
	ok, err := cur.First()
	if err != nil {
		return err
	}
	for ok {
		rowid, err := cur.Rowid()
		if err != nil {
			return err
		}
		payload, err := cur.Payload()
		if err != nil {
			return err
		}
		if e, derr := decodeEntry(payload); derr == nil && e.Type == typ && strings.EqualFold(e.Name, name) {
			return c.master.Delete(rowid)
		}
		ok, err = cur.Next()
		if err != nil {
			return err
		}
	}
	return fsqliteerr.New(fsqliteerr.Internal, "schema row for %s not found", name)
}

// Table looks up a table by case-insensitive name.
func (c *Catalog) Table(name string) (*TableInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[strings.ToLower(name)]
	return t, ok
}

// Index looks up an index by case-insensitive name.
func (c *Catalog) Index(name string) (*IndexInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.indexes[strings.ToLower(name)]
	return idx, ok
}

// Tables returns every registered table, unordered.
func (c *Catalog) Tables() []*TableInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*TableInfo, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t)
	}
	return out
}
