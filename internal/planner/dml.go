package planner

import (
	"strings"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
	"github.com/fractalsoft/frankendb/internal/record"
	"github.com/fractalsoft/frankendb/internal/schema"
	"github.com/fractalsoft/frankendb/internal/sqlparser"
	"github.com/fractalsoft/frankendb/internal/vdbe"
)

// compileInsert emits a program that opens the target table for
// writing, synthesizes the next rowid the way SQLite's own table
// b-tree does (one more than the current maximum key, or 1 for an
// empty table, §3 "ROWID allocation"), and inserts one encoded record
// per VALUES row, maintaining every secondary index alongside it.
func (c *Compiler) compileInsert(ins sqlparser.Insert) (*vdbe.Program, error) {
	t, err := c.resolveTable(ins.Table)
	if err != nil {
		return nil, err
	}
	colIdx, err := insertColumnOrder(t, ins.Cols)
	if err != nil {
		return nil, err
	}

	b := vdbe.NewBuilder()
	cs := &compileState{b: b}
	b.Emit(vdbe.Inst{Op: vdbe.OpInit, Comment: "start"})
	b.Emit(vdbe.Inst{Op: vdbe.OpTransaction, P1: 1, Comment: "write transaction"})
	cursor := b.OpenCursor(t.Name, uint32(t.Root), false)
	b.Emit(vdbe.Inst{Op: vdbe.OpOpenWrite, P1: cursor, P2: int(t.Root)})

	rowidReg := cs.allocReg()
	oneReg := cs.allocReg()
	b.AllocRegs(cs.nextReg)
	b.Emit(vdbe.Inst{Op: vdbe.OpInteger, P1: 1, P2: oneReg})
	emptyLabel := b.NewLabel()
	afterLabel := b.NewLabel()
	b.EmitJump(vdbe.OpLast, cursor, emptyLabel, 0, vdbe.P4{}, 0)
	b.Emit(vdbe.Inst{Op: vdbe.OpRowid, P1: cursor, P2: rowidReg})
	b.Emit(vdbe.Inst{Op: vdbe.OpAdd, P1: rowidReg, P2: oneReg, P3: rowidReg})
	b.EmitJump(vdbe.OpGoto, 0, afterLabel, 0, vdbe.P4{}, 0)
	b.DefineLabel(emptyLabel)
	b.Emit(vdbe.Inst{Op: vdbe.OpInteger, P1: 1, P2: rowidReg})
	b.DefineLabel(afterLabel)

	for _, row := range ins.Rows {
		if err := cs.compileInsertRow(t, colIdx, row, cursor, rowidReg); err != nil {
			return nil, err
		}
		b.Emit(vdbe.Inst{Op: vdbe.OpAdd, P1: rowidReg, P2: oneReg, P3: rowidReg})
	}

	b.Emit(vdbe.Inst{Op: vdbe.OpHalt, Comment: "done"})
	b.AllocRegs(cs.nextReg)
	return b.Finalize()
}

// insertColumnOrder maps each destination table column to the source
// index within the statement's VALUES row, or -1 when the statement
// didn't name that column and its default (or NULL) applies.
func insertColumnOrder(t *schema.TableInfo, cols []string) ([]int, error) {
	order := make([]int, len(t.Cols))
	if len(cols) == 0 {
		for i := range t.Cols {
			order[i] = i
		}
		return order, nil
	}
	for i := range order {
		order[i] = -1
	}
	for srcIdx, name := range cols {
		found := false
		for ci, col := range t.Cols {
			if strings.EqualFold(col.Name, name) {
				order[ci] = srcIdx
				found = true
				break
			}
		}
		if !found {
			return nil, fsqliteerr.New(fsqliteerr.Internal, "no such column: %s", name)
		}
	}
	return order, nil
}

func (cs *compileState) compileInsertRow(t *schema.TableInfo, colIdx []int, row []sqlparser.Expr, cursor, rowidReg int) error {
	first := cs.nextReg
	cs.nextReg += len(t.Cols)
	cs.b.AllocRegs(cs.nextReg)

	for ci, col := range t.Cols {
		if colIdx[ci] < 0 && col.PrimaryKey && col.Affinity == record.AffinityInteger {
			// An omitted INTEGER PRIMARY KEY takes the synthesized rowid.
			cs.b.Emit(vdbe.Inst{Op: vdbe.OpSCopy, P1: rowidReg, P2: first + ci})
			continue
		}
		var valExpr sqlparser.Expr
		if si := colIdx[ci]; si >= 0 && si < len(row) {
			valExpr = row[si]
		} else if col.Default != nil {
			valExpr = col.Default
		} else {
			valExpr = sqlparser.Literal{Val: record.Null()}
		}
		reg, err := cs.compileExpr(valExpr)
		if err != nil {
			return err
		}
		cs.b.Emit(vdbe.Inst{Op: vdbe.OpCast, P1: reg, P2: first + ci, P5: int(col.Affinity) & vdbe.FlagAffinityMaskBits})
	}

	recReg := cs.allocReg()
	cs.b.AllocRegs(cs.nextReg)
	cs.b.Emit(vdbe.Inst{Op: vdbe.OpMakeRecord, P1: first, P2: len(t.Cols), P3: recReg})
	cs.b.Emit(vdbe.Inst{Op: vdbe.OpInsert, P1: cursor, P2: rowidReg, P3: recReg})

	for _, idx := range t.Indexes {
		if err := cs.emitIndexWrite(idx, t, first, rowidReg, vdbe.OpIdxInsert); err != nil {
			return err
		}
	}
	return nil
}

// emitIndexWrite builds an index-key record (indexed columns followed
// by the rowid, §4.D "index keys carry the rowid as a trailing
// column to disambiguate duplicates and to let an index-only scan
// recover it") from registers already holding the row's column
// values, and emits either IdxInsert or IdxDelete over it.
func (cs *compileState) emitIndexWrite(idx *schema.IndexInfo, t *schema.TableInfo, rowFirst, rowidReg int, op vdbe.Opcode) error {
	first := cs.nextReg
	cs.nextReg += len(idx.Cols) + 1
	cs.b.AllocRegs(cs.nextReg)
	for i, colName := range idx.Cols {
		ci := columnIndex(t, colName)
		if ci < 0 {
			return fsqliteerr.New(fsqliteerr.Internal, "no such column: %s", colName)
		}
		cs.b.Emit(vdbe.Inst{Op: vdbe.OpSCopy, P1: rowFirst + ci, P2: first + i})
	}
	cs.b.Emit(vdbe.Inst{Op: vdbe.OpSCopy, P1: rowidReg, P2: first + len(idx.Cols)})
	keyReg := cs.allocReg()
	cs.b.AllocRegs(cs.nextReg)
	cs.b.Emit(vdbe.Inst{Op: vdbe.OpMakeRecord, P1: first, P2: len(idx.Cols) + 1, P3: keyReg})
	cs.b.Emit(vdbe.Inst{Op: op, P1: cs.indexCursor(idx), P2: keyReg})
	return nil
}

func columnIndex(t *schema.TableInfo, name string) int {
	for i, c := range t.Cols {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// indexCursor opens (once per compile, memoized by index name) a
// write cursor for idx and returns its slot.
func (cs *compileState) indexCursor(idx *schema.IndexInfo) int {
	if cs.idxCursors == nil {
		cs.idxCursors = map[string]int{}
	}
	if slot, ok := cs.idxCursors[idx.Name]; ok {
		return slot
	}
	slot := cs.b.OpenCursor(idx.Name, uint32(idx.Root), true)
	cs.b.Emit(vdbe.Inst{Op: vdbe.OpOpenWrite, P1: slot, P2: int(idx.Root), P5: vdbe.FlagIndexCursor})
	cs.idxCursors[idx.Name] = slot
	return slot
}

// compileUpdate scans the table, and for every row passing Where,
// recomputes the Set columns (column references in the expression
// resolve against the row's pre-update values), deletes and
// re-inserts each affected secondary index entry, and overwrites the
// table row in place under its existing rowid.
func (c *Compiler) compileUpdate(upd sqlparser.Update) (*vdbe.Program, error) {
	t, err := c.resolveTable(upd.Table)
	if err != nil {
		return nil, err
	}
	scope := NewScope()
	scope.Add(upd.Table, t)

	b := vdbe.NewBuilder()
	cs := &compileState{b: b, scope: scope, tables: []*schema.TableInfo{t}, cursors: []int{0}}
	b.Emit(vdbe.Inst{Op: vdbe.OpInit, Comment: "start"})
	b.Emit(vdbe.Inst{Op: vdbe.OpTransaction, P1: 1, Comment: "write transaction"})
	cursor := b.OpenCursor(t.Name, uint32(t.Root), false)
	cs.cursors[0] = cursor
	b.Emit(vdbe.Inst{Op: vdbe.OpOpenWrite, P1: cursor, P2: int(t.Root)})

	exit := b.NewLabel()
	b.EmitJump(vdbe.OpRewind, cursor, exit, 0, vdbe.P4{}, 0)
	top := b.NewLabel()
	b.DefineLabel(top)

	skip := b.NewLabel()
	if upd.Where != nil {
		reg, err := cs.compileExpr(upd.Where)
		if err != nil {
			return nil, err
		}
		b.EmitJump(vdbe.OpIfNot, reg, skip, 0, vdbe.P4{}, 0)
	}

	first := cs.nextReg
	cs.nextReg += len(t.Cols)
	b.AllocRegs(cs.nextReg)
	for ci, col := range t.Cols {
		if setExpr, ok := upd.Sets[col.Name]; ok {
			reg, err := cs.compileExpr(setExpr)
			if err != nil {
				return nil, err
			}
			b.Emit(vdbe.Inst{Op: vdbe.OpCast, P1: reg, P2: first + ci, P5: int(col.Affinity) & vdbe.FlagAffinityMaskBits})
		} else {
			b.Emit(vdbe.Inst{Op: vdbe.OpColumn, P1: cursor, P2: ci, P3: first + ci})
		}
	}

	rowidReg := cs.allocReg()
	b.AllocRegs(cs.nextReg)
	b.Emit(vdbe.Inst{Op: vdbe.OpRowid, P1: cursor, P2: rowidReg})

	old := cs.nextReg
	cs.nextReg += len(t.Cols)
	b.AllocRegs(cs.nextReg)
	for ci := range t.Cols {
		b.Emit(vdbe.Inst{Op: vdbe.OpColumn, P1: cursor, P2: ci, P3: old + ci})
	}
	for _, idx := range t.Indexes {
		if indexTouchedBySets(idx, upd.Sets) {
			if err := cs.emitIndexWrite(idx, t, old, rowidReg, vdbe.OpIdxDelete); err != nil {
				return nil, err
			}
		}
	}

	recReg := cs.allocReg()
	b.AllocRegs(cs.nextReg)
	b.Emit(vdbe.Inst{Op: vdbe.OpMakeRecord, P1: first, P2: len(t.Cols), P3: recReg})
	b.Emit(vdbe.Inst{Op: vdbe.OpInsert, P1: cursor, P2: rowidReg, P3: recReg})

	for _, idx := range t.Indexes {
		if indexTouchedBySets(idx, upd.Sets) {
			if err := cs.emitIndexWrite(idx, t, first, rowidReg, vdbe.OpIdxInsert); err != nil {
				return nil, err
			}
		}
	}

	b.DefineLabel(skip)
	b.EmitJump(vdbe.OpNext, cursor, top, 0, vdbe.P4{}, 0)
	b.DefineLabel(exit)
	b.Emit(vdbe.Inst{Op: vdbe.OpHalt, Comment: "done"})
	b.AllocRegs(cs.nextReg)
	return b.Finalize()
}

func indexTouchedBySets(idx *schema.IndexInfo, sets map[string]sqlparser.Expr) bool {
	for _, c := range idx.Cols {
		for setCol := range sets {
			if strings.EqualFold(c, setCol) {
				return true
			}
		}
	}
	return false
}

// compileDelete scans the table, and for every row passing Where,
// removes its secondary index entries before deleting the row itself
// through the cursor, relying on Cursor.Delete's reposition-to-
// successor behavior (§9) so the loop's own Next never double-advances.
func (c *Compiler) compileDelete(del sqlparser.Delete) (*vdbe.Program, error) {
	t, err := c.resolveTable(del.Table)
	if err != nil {
		return nil, err
	}
	scope := NewScope()
	scope.Add(del.Table, t)

	b := vdbe.NewBuilder()
	cs := &compileState{b: b, scope: scope, tables: []*schema.TableInfo{t}, cursors: []int{0}}
	b.Emit(vdbe.Inst{Op: vdbe.OpInit, Comment: "start"})
	b.Emit(vdbe.Inst{Op: vdbe.OpTransaction, P1: 1, Comment: "write transaction"})
	cursor := b.OpenCursor(t.Name, uint32(t.Root), false)
	cs.cursors[0] = cursor
	b.Emit(vdbe.Inst{Op: vdbe.OpOpenWrite, P1: cursor, P2: int(t.Root)})

	exit := b.NewLabel()
	b.EmitJump(vdbe.OpRewind, cursor, exit, 0, vdbe.P4{}, 0)
	top := b.NewLabel()
	b.DefineLabel(top)

	skip := b.NewLabel()
	if del.Where != nil {
		reg, err := cs.compileExpr(del.Where)
		if err != nil {
			return nil, err
		}
		b.EmitJump(vdbe.OpIfNot, reg, skip, 0, vdbe.P4{}, 0)
	}

	if len(t.Indexes) > 0 {
		first := cs.nextReg
		cs.nextReg += len(t.Cols)
		b.AllocRegs(cs.nextReg)
		for ci := range t.Cols {
			b.Emit(vdbe.Inst{Op: vdbe.OpColumn, P1: cursor, P2: ci, P3: first + ci})
		}
		rowidReg := cs.allocReg()
		b.AllocRegs(cs.nextReg)
		b.Emit(vdbe.Inst{Op: vdbe.OpRowid, P1: cursor, P2: rowidReg})
		for _, idx := range t.Indexes {
			if err := cs.emitIndexWrite(idx, t, first, rowidReg, vdbe.OpIdxDelete); err != nil {
				return nil, err
			}
		}
	}
	b.Emit(vdbe.Inst{Op: vdbe.OpDelete, P1: cursor})

	b.DefineLabel(skip)
	b.EmitJump(vdbe.OpNext, cursor, top, 0, vdbe.P4{}, 0)
	b.DefineLabel(exit)
	b.Emit(vdbe.Inst{Op: vdbe.OpHalt, Comment: "done"})
	b.AllocRegs(cs.nextReg)
	return b.Finalize()
}
