package vdbe

import "fmt"

// CursorDescriptor records what a cursor slot was opened against, for
// EXPLAIN annotation and for the VM to know which tree/index it reads.
type CursorDescriptor struct {
	Name    string // table or index name
	Root    uint32
	IsIndex bool
}

// Program is a finalized, deterministic VDBE bytecode sequence (§4.I
// "Must produce deterministic bytecode for identical ASTs").
type Program struct {
	Insts   []Inst
	Cursors []CursorDescriptor
	NumRegs int
}

// Builder assembles a Program incrementally, supporting forward label
// references resolved on Finalize (§4.I "Program builder").
type Builder struct {
	insts   []Inst
	cursors []CursorDescriptor
	labels  map[int]int // label id -> resolved instruction index, -1 if unresolved
	nextLbl int
	numRegs int
	pending []jumpLabel
}

func NewBuilder() *Builder {
	return &Builder{labels: make(map[int]int)}
}

// NewLabel reserves a label id to be defined later with DefineLabel.
func (b *Builder) NewLabel() int {
	id := b.nextLbl
	b.nextLbl++
	b.labels[id] = -1
	return id
}

// DefineLabel binds a previously reserved label to the next emitted
// instruction's address.
func (b *Builder) DefineLabel(id int) {
	b.labels[id] = len(b.insts)
}

// Emit appends an instruction and returns its address. Any P2 value
// passed as a negative (label id - 1000000) sentinel is NOT supported
// here; use EmitJump for jump instructions instead.
func (b *Builder) Emit(in Inst) int {
	b.insts = append(b.insts, in)
	return len(b.insts) - 1
}

// jumpLabel marks an instruction's P2 as referring to a label, to be
// backpatched on Finalize.
type jumpLabel struct {
	addr  int
	label int
}

// EmitJump appends a jump-style instruction whose P2 will be
// backpatched to the address `label` resolves to.
func (b *Builder) EmitJump(op Opcode, p1 int, label int, p3 int, p4 P4, p5 int) int {
	addr := b.Emit(Inst{Op: op, P1: p1, P3: p3, P4: p4, P5: p5})
	b.pending = append(b.pending, jumpLabel{addr: addr, label: label})
	return addr
}

// OpenCursor registers a cursor descriptor and returns its slot index.
func (b *Builder) OpenCursor(name string, root uint32, isIndex bool) int {
	b.cursors = append(b.cursors, CursorDescriptor{Name: name, Root: root, IsIndex: isIndex})
	return len(b.cursors) - 1
}

// AllocRegs ensures the register file has at least n slots.
func (b *Builder) AllocRegs(n int) {
	if n > b.numRegs {
		b.numRegs = n
	}
}

// Finalize resolves every label reference and returns the completed
// Program. Returns an error if any label was referenced but never
// defined.
func (b *Builder) Finalize() (*Program, error) {
	for _, j := range b.pending {
		addr, ok := b.labels[j.label]
		if !ok || addr < 0 {
			return nil, fmt.Errorf("vdbe: label %d never defined", j.label)
		}
		b.insts[j.addr].P2 = addr
	}
	return &Program{Insts: b.insts, Cursors: b.cursors, NumRegs: b.numRegs}, nil
}
