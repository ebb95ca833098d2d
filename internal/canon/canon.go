// Package canon normalizes a database file into a byte-for-byte
// reproducible form so two files holding the same logical rows compare
// equal regardless of page size, WAL history, or free-page layout
// (§10 "Canonicalization", §12 "Differential testing against
// modernc.org/sqlite"). The pipeline mirrors sqlite3's own `VACUUM
// INTO`: checkpoint the WAL fully into the main file, then copy every
// table and index b-tree into a freshly created file at a fixed page
// size with auto_vacuum left off.
package canon

import (
	"crypto/sha256"

	"github.com/fractalsoft/frankendb/internal/btree"
	"github.com/fractalsoft/frankendb/internal/pager"
	"github.com/fractalsoft/frankendb/internal/schema"
	"github.com/fractalsoft/frankendb/internal/vfs"
	"github.com/fractalsoft/frankendb/internal/wal"
)

// TargetPageSize is the page size every canonicalized file is rebuilt
// at, independent of the source file's own page size.
const TargetPageSize = 4096

// TargetCachePages bounds the destination pager's page cache; VACUUM
// INTO touches every page exactly once so a generous cache avoids
// eviction churn rather than tuning for steady-state working set.
const TargetCachePages = 4096

// Into reads the database at srcPath (checkpointing srcWAL fully into
// it first, if non-nil) and writes a canonical copy to dstPath on v.
// dstPath must not already exist.
func Into(v vfs.VFS, srcPath, dstPath string, srcWAL *wal.WAL) error {
	srcPager, err := pager.Open(v, srcPath, TargetPageSize, TargetCachePages)
	if err != nil {
		return err
	}
	defer srcPager.Close()

	if srcWAL != nil {
		if _, err := srcWAL.Checkpoint(wal.CheckpointTruncate, srcPager, func() bool { return false }); err != nil {
			return err
		}
	}

	srcCat, err := schema.Open(srcPager, 0)
	if err != nil {
		return err
	}

	dstPager, err := pager.Open(v, dstPath, TargetPageSize, TargetCachePages)
	if err != nil {
		return err
	}
	defer dstPager.Close()

	dstCat, err := schema.Open(dstPager, 0)
	if err != nil {
		return err
	}

	if err := dstPager.BeginWrite(); err != nil {
		return err
	}
	if err := copyAll(srcPager, dstPager, srcCat, dstCat); err != nil {
		dstPager.Rollback()
		return err
	}
	return dstPager.Commit()
}

// copyAll runs every table and index copy inside the single write
// transaction Into already opened on dstPager.
func copyAll(srcPager, dstPager *pager.Pager, srcCat, dstCat *schema.Catalog) error {
	for _, t := range srcCat.Tables() {
		if err := copyTable(srcPager, dstPager, dstCat, t); err != nil {
			return err
		}
	}
	for _, t := range srcCat.Tables() {
		for _, idx := range t.Indexes {
			if err := copyIndex(srcPager, dstPager, dstCat, idx); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyTable(srcPager, dstPager *pager.Pager, dstCat *schema.Catalog, t *schema.TableInfo) error {
	if _, err := dstCat.CreateTable(t.Name, t.Cols, reconstructCreateTable(t)); err != nil {
		return err
	}
	dstInfo, _ := dstCat.Table(t.Name)

	src := btree.Open(srcPager, t.Root, btree.KindTable)
	dst := btree.Open(dstPager, dstInfo.Root, btree.KindTable)

	cur := src.NewCursor()
	ok, err := cur.First()
	for ; ok && err == nil; ok, err = cur.Next() {
		rowid, rerr := cur.Rowid()
		if rerr != nil {
			return rerr
		}
		payload, perr := cur.Payload()
		if perr != nil {
			return perr
		}
		if err := dst.Insert(rowid, payload); err != nil {
			return err
		}
	}
	return err
}

func copyIndex(srcPager, dstPager *pager.Pager, dstCat *schema.Catalog, idx *schema.IndexInfo) error {
	if _, err := dstCat.CreateIndex(idx.Name, idx.Table, idx.Cols, reconstructCreateIndex(idx)); err != nil {
		return err
	}
	dstInfo, _ := dstCat.Index(idx.Name)

	src := btree.Open(srcPager, idx.Root, btree.KindIndex)
	dst := btree.Open(dstPager, dstInfo.Root, btree.KindIndex)

	cur := src.NewCursor()
	ok, err := cur.First()
	for ; ok && err == nil; ok, err = cur.Next() {
		key, kerr := cur.Key()
		if kerr != nil {
			return kerr
		}
		if err := dst.InsertIndexKey(key); err != nil {
			return err
		}
	}
	return err
}

// reconstructCreateTable rebuilds CREATE TABLE text from the parsed
// column set rather than the original source string, which the
// catalog doesn't retain past load time; the destination sqlite_master
// row only needs to be semantically equivalent; canon's differential
// tests compare row data, not sqlite_master's exact bytes.
func reconstructCreateTable(t *schema.TableInfo) string {
	sql := "CREATE TABLE " + t.Name + " ("
	for i, c := range t.Cols {
		if i > 0 {
			sql += ", "
		}
		sql += c.Name + " " + c.Declared
		if c.PrimaryKey {
			sql += " PRIMARY KEY"
		}
		if c.NotNull {
			sql += " NOT NULL"
		}
		if c.Unique {
			sql += " UNIQUE"
		}
	}
	return sql + ")"
}

func reconstructCreateIndex(idx *schema.IndexInfo) string {
	sql := "CREATE INDEX " + idx.Name + " ON " + idx.Table + " ("
	for i, c := range idx.Cols {
		if i > 0 {
			sql += ", "
		}
		sql += c
	}
	return sql + ")"
}

// Hash reads the full contents of path on v and returns its SHA-256
// digest, the final step of canonicalization that turns two files with
// identical logical content (but arbitrary free-page padding) into a
// single comparable value.
func Hash(v vfs.VFS, path string) ([32]byte, error) {
	f, err := v.Open(path, vfs.OpenReadOnly)
	if err != nil {
		return [32]byte{}, err
	}
	defer f.Close()

	size, err := f.FileSize()
	if err != nil {
		return [32]byte{}, err
	}
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(buf), nil
}
