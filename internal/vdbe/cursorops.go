package vdbe

import (
	"github.com/fractalsoft/frankendb/internal/btree"
	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
	"github.com/fractalsoft/frankendb/internal/pager"
	"github.com/fractalsoft/frankendb/internal/record"
)

// openCursor implements OpenRead/OpenWrite: p1=cursor slot, p2=root
// page number, p5 bit FlagIndexCursor selects an index tree.
func (vm *VM) openCursor(in Inst) error {
	kind := btree.KindTable
	isIndex := in.P5&FlagIndexCursor != 0
	if isIndex {
		kind = btree.KindIndex
	}
	t := btree.Open(vm.Pager, pager.PageNumber(in.P2), kind)
	vm.cursors[in.P1] = &cursorState{tree: t, cur: t.NewCursor(), isIndex: isIndex}
	return nil
}

func (vm *VM) cursorAt(slot int) (*cursorState, error) {
	if slot < 0 || slot >= len(vm.cursors) || vm.cursors[slot] == nil {
		return nil, fsqliteerr.New(fsqliteerr.Misuse, "vdbe: cursor %d not open", slot)
	}
	return vm.cursors[slot], nil
}

// rewind implements Rewind: p1=cursor, p2=jump target if the tree is
// empty.
func (vm *VM) rewind(in Inst, next *int) error {
	cs, err := vm.cursorAt(in.P1)
	if err != nil {
		return err
	}
	ok, err := cs.cur.First()
	if err != nil {
		return err
	}
	if !ok {
		*next = in.P2
	}
	return nil
}

func (vm *VM) last(in Inst, next *int) error {
	cs, err := vm.cursorAt(in.P1)
	if err != nil {
		return err
	}
	ok, err := cs.cur.Last()
	if err != nil {
		return err
	}
	if !ok {
		*next = in.P2
	}
	return nil
}

// advance implements Next (forward=true) / Prev: p1=cursor, p2=jump
// target while more rows remain (§4.I EXPLAIN comment: "goto p2 if
// more rows").
func (vm *VM) advance(in Inst, next *int, forward bool) error {
	cs, err := vm.cursorAt(in.P1)
	if err != nil {
		return err
	}
	var ok bool
	if forward {
		ok, err = cs.cur.Next()
	} else {
		ok, err = cs.cur.Prev()
	}
	if err != nil {
		return err
	}
	if ok {
		*next = in.P2
	}
	return nil
}

// seekCmp implements SeekGE/GT/LE/LT over index cursors: p1=cursor,
// p2=jump-if-not-found, p3=register holding the encoded seek key.
func (vm *VM) seekCmp(in Inst, next *int) error {
	cs, err := vm.cursorAt(in.P1)
	if err != nil {
		return err
	}
	key := vm.reg(in.P3).B
	var ok bool
	switch in.Op {
	case OpSeekGE:
		ok, err = cs.cur.SeekGE(key)
	case OpSeekGT:
		ok, err = cs.cur.SeekGT(key)
	case OpSeekLE:
		ok, err = cs.cur.SeekLE(key)
	case OpSeekLT:
		ok, err = cs.cur.SeekLT(key)
	}
	if err != nil {
		return err
	}
	if !ok {
		*next = in.P2
	}
	return nil
}

// seekRowid implements SeekRowid over table cursors (§4.D "SeekRowid
// exploits the uniqueness invariant of table b-trees"): p1=cursor,
// p2=jump-if-not-found, p3=register holding the int64 rowid.
func (vm *VM) seekRowid(in Inst, next *int) error {
	cs, err := vm.cursorAt(in.P1)
	if err != nil {
		return err
	}
	ok, err := cs.cur.SeekRowid(vm.reg(in.P3).I)
	if err != nil {
		return err
	}
	if !ok {
		*next = in.P2
	}
	return nil
}

// column implements Column: p1=cursor, p2=column index, p3=dest
// register. Table cursors decode the current row's record payload;
// index cursors decode the key itself (p2 indexes into the key's
// columns, the common case being the trailing rowid column).
func (vm *VM) column(in Inst) error {
	cs, err := vm.cursorAt(in.P1)
	if err != nil {
		return err
	}
	var raw []byte
	if cs.isIndex {
		raw, err = cs.cur.Key()
	} else {
		raw, err = cs.cur.Payload()
	}
	if err != nil {
		return err
	}
	vals, err := record.DecodeRecord(raw)
	if err != nil {
		return err
	}
	if in.P2 < 0 || in.P2 >= len(vals) {
		vm.setReg(in.P3, record.Null())
		return nil
	}
	vm.setReg(in.P3, vals[in.P2])
	return nil
}

// rowid implements Rowid: p1=cursor, p2=dest register.
func (vm *VM) rowid(in Inst) error {
	cs, err := vm.cursorAt(in.P1)
	if err != nil {
		return err
	}
	rid, err := cs.cur.Rowid()
	if err != nil {
		return err
	}
	vm.setReg(in.P2, record.Integer(rid))
	return nil
}

// resultRow implements ResultRow: p1=first register, p2=count. Returns
// true (request halt) when OnRow declines further rows.
func (vm *VM) resultRow(in Inst) bool {
	row := make([]record.Value, in.P2)
	for i := 0; i < in.P2; i++ {
		row[i] = vm.reg(in.P1 + i)
	}
	if vm.OnRow != nil {
		return !vm.OnRow(row)
	}
	vm.Rows = append(vm.Rows, row)
	return false
}

// makeRecord implements MakeRecord: p1=first source register,
// p2=count, p3=dest register holding the encoded blob.
func (vm *VM) makeRecord(in Inst) {
	vals := make([]record.Value, in.P2)
	for i := 0; i < in.P2; i++ {
		vals[i] = vm.reg(in.P1 + i)
	}
	vm.setReg(in.P3, record.Blob(record.EncodeRecord(vals)))
}

// insert implements Insert: p1=cursor, p2=register holding the rowid,
// p3=register holding the encoded record blob.
func (vm *VM) insert(in Inst) error {
	cs, err := vm.cursorAt(in.P1)
	if err != nil {
		return err
	}
	return cs.tree.Insert(vm.reg(in.P2).I, vm.reg(in.P3).B)
}

// delete implements Delete: p1=cursor, deleting the row the cursor
// currently sits on and repositioning it at the logical successor
// (§9); a subsequent Next for this cursor must not also advance.
func (vm *VM) delete(in Inst) error {
	cs, err := vm.cursorAt(in.P1)
	if err != nil {
		return err
	}
	return cs.cur.Delete()
}

// idxInsert implements IdxInsert: p1=cursor, p2=register holding the
// encoded index key (record of indexed columns, optionally followed by
// the rowid as a trailing column).
func (vm *VM) idxInsert(in Inst) error {
	cs, err := vm.cursorAt(in.P1)
	if err != nil {
		return err
	}
	return cs.tree.InsertIndexKey(vm.reg(in.P2).B)
}

// idxDelete implements IdxDelete: p1=cursor, p2=register holding the
// encoded index key to remove.
func (vm *VM) idxDelete(in Inst) error {
	cs, err := vm.cursorAt(in.P1)
	if err != nil {
		return err
	}
	return cs.tree.DeleteIndexKey(vm.reg(in.P2).B)
}

// idxSeek implements IdxGE/IdxGT by running SeekGE/SeekGT with the same
// operands, so the cursor is repositioned: p1 cursor, p2 jump target,
// p3 register holding the comparison key.
func (vm *VM) idxSeek(in Inst, next *int) error {
	return vm.seekCmp(Inst{Op: mapIdxToSeek(in.Op), P1: in.P1, P2: in.P2, P3: in.P3}, next)
}

func mapIdxToSeek(op Opcode) Opcode {
	if op == OpIdxGE {
		return OpSeekGE
	}
	return OpSeekGT
}
