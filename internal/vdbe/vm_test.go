package vdbe

import (
	"context"
	"testing"

	"github.com/fractalsoft/frankendb/internal/btree"
	"github.com/fractalsoft/frankendb/internal/pager"
	"github.com/fractalsoft/frankendb/internal/record"
	"github.com/fractalsoft/frankendb/internal/vfs"
)

func newTestPager(t *testing.T) *pager.Pager {
	t.Helper()
	p, err := pager.Open(vfs.NewMemVFS(), "vm_test.db", 4096, 64)
	if err != nil {
		t.Fatalf("pager.Open failed: %v", err)
	}
	return p
}

func runProgram(t *testing.T, p *pager.Pager, prog *Program) *VM {
	t.Helper()
	vm := NewVM(prog, p)
	if err := vm.Run(context.Background()); err != nil {
		t.Fatalf("vm run failed: %v", err)
	}
	return vm
}

// TestArithmeticAndSCopy exercises register arithmetic plus the
// SCopy opcode's role in landing a computed value into a destination
// slot ahead of ResultRow.
func TestArithmeticAndSCopy(t *testing.T) {
	p := newTestPager(t)
	b := NewBuilder()
	b.Emit(Inst{Op: OpInit})
	b.Emit(Inst{Op: OpInteger, P1: 7, P2: 0})
	b.Emit(Inst{Op: OpInteger, P1: 5, P2: 1})
	b.Emit(Inst{Op: OpAdd, P1: 0, P2: 1, P3: 2})
	b.Emit(Inst{Op: OpSCopy, P1: 2, P2: 3})
	b.Emit(Inst{Op: OpResultRow, P1: 3, P2: 1})
	b.Emit(Inst{Op: OpHalt})
	b.AllocRegs(4)
	prog, err := b.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	vm := runProgram(t, p, prog)
	if len(vm.Rows) != 1 || vm.Rows[0][0].I != 12 {
		t.Fatalf("expected [[12]], got %+v", vm.Rows)
	}
}

// TestTableCursorInsertScanDelete drives a table b-tree directly
// through OpenWrite/Insert/Rewind/Next/Delete, the same cursor
// contract the planner's compiled DML relies on: deleting the row a
// cursor sits on repositions it at the logical successor, so the loop's
// ordinary Next must not skip the row right after a deleted one.
func TestTableCursorInsertScanDelete(t *testing.T) {
	p := newTestPager(t)
	if err := p.BeginWrite(); err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	defer p.Commit()
	tree, err := btree.Create(p, btree.KindTable)
	if err != nil {
		t.Fatalf("btree.Create: %v", err)
	}
	root := uint32(tree.Root())

	// Insert rowids 1..5 with a single-column payload equal to the rowid.
	ib := NewBuilder()
	ib.Emit(Inst{Op: OpInit})
	cur := ib.OpenCursor("t", root, false)
	ib.Emit(Inst{Op: OpOpenWrite, P1: cur, P2: int(root)})
	for i := int64(1); i <= 5; i++ {
		ib.Emit(Inst{Op: OpInteger, P1: int(i), P2: 0})
		ib.Emit(Inst{Op: OpMakeRecord, P1: 0, P2: 1, P3: 1})
		ib.Emit(Inst{Op: OpInsert, P1: cur, P2: 0, P3: 1})
	}
	ib.Emit(Inst{Op: OpHalt})
	ib.AllocRegs(2)
	insertProg, err := ib.Finalize()
	if err != nil {
		t.Fatalf("finalize insert: %v", err)
	}
	runProgram(t, p, insertProg)

	// Scan, deleting every row whose value is even, then project what
	// remains.
	sb := NewBuilder()
	sb.Emit(Inst{Op: OpInit})
	scanCur := sb.OpenCursor("t", root, false)
	sb.Emit(Inst{Op: OpOpenWrite, P1: scanCur, P2: int(root)})
	endLbl := sb.NewLabel()
	sb.EmitJump(OpRewind, scanCur, endLbl, 0, P4{}, 0)
	topLbl := sb.NewLabel()
	sb.DefineLabel(topLbl)
	sb.Emit(Inst{Op: OpColumn, P1: scanCur, P2: 0, P3: 0})
	sb.Emit(Inst{Op: OpInteger, P1: 2, P2: 1})
	sb.Emit(Inst{Op: OpMod, P1: 0, P2: 1, P3: 2})
	sb.Emit(Inst{Op: OpInteger, P1: 0, P2: 3})
	skipDeleteLbl := sb.NewLabel()
	sb.Emit(Inst{Op: OpEq, P1: 2, P2: 3, P3: 4})
	sb.EmitJump(OpIfNot, 4, skipDeleteLbl, 0, P4{}, 0)
	sb.Emit(Inst{Op: OpDelete, P1: scanCur})
	advanceLbl := sb.NewLabel()
	sb.EmitJump(OpGoto, 0, advanceLbl, 0, P4{}, 0)
	sb.DefineLabel(skipDeleteLbl)
	sb.Emit(Inst{Op: OpResultRow, P1: 0, P2: 1})
	sb.DefineLabel(advanceLbl)
	sb.EmitJump(OpNext, scanCur, topLbl, 0, P4{}, 0)
	sb.DefineLabel(endLbl)
	sb.Emit(Inst{Op: OpHalt})
	sb.AllocRegs(5)
	scanProg, err := sb.Finalize()
	if err != nil {
		t.Fatalf("finalize scan: %v", err)
	}
	vm := runProgram(t, p, scanProg)

	if len(vm.Rows) != 3 {
		t.Fatalf("expected 3 surviving odd rows, got %d: %+v", len(vm.Rows), vm.Rows)
	}
	want := []int64{1, 3, 5}
	for i, w := range want {
		if vm.Rows[i][0].I != w {
			t.Fatalf("row %d: expected %d, got %d", i, w, vm.Rows[i][0].I)
		}
	}
}

// TestLikeAndGlobFunctions exercises the __like/__glob scalar
// functions compileBinary's LIKE/GLOB rewrite depends on.
func TestLikeAndGlobFunctions(t *testing.T) {
	p := newTestPager(t)
	b := NewBuilder()
	b.Emit(Inst{Op: OpInit})
	b.Emit(Inst{Op: OpString, P2: 0, P4: P4{Text: "hello world"}})
	b.Emit(Inst{Op: OpString, P2: 1, P4: P4{Text: "hello%"}})
	b.Emit(Inst{Op: OpFunction, P1: 0, P2: 2, P3: 2, P4: P4{Text: "__like"}})
	b.Emit(Inst{Op: OpString, P2: 3, P4: P4{Text: "hello world"}})
	b.Emit(Inst{Op: OpString, P2: 4, P4: P4{Text: "h?llo world"}})
	b.Emit(Inst{Op: OpFunction, P1: 3, P2: 2, P3: 5, P4: P4{Text: "__glob"}})
	b.Emit(Inst{Op: OpResultRow, P1: 2, P2: 1})
	b.Emit(Inst{Op: OpResultRow, P1: 5, P2: 1})
	b.Emit(Inst{Op: OpHalt})
	b.AllocRegs(6)
	prog, err := b.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	vm := runProgram(t, p, prog)
	if len(vm.Rows) != 2 {
		t.Fatalf("expected 2 result rows, got %d", len(vm.Rows))
	}
	if vm.Rows[0][0].Kind != record.KindInteger || vm.Rows[0][0].I != 1 {
		t.Fatalf("expected LIKE match, got %+v", vm.Rows[0][0])
	}
	if vm.Rows[1][0].Kind != record.KindInteger || vm.Rows[1][0].I != 1 {
		t.Fatalf("expected GLOB match, got %+v", vm.Rows[1][0])
	}
}
