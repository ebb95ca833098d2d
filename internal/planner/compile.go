package planner

import (
	"fmt"
	"strings"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
	"github.com/fractalsoft/frankendb/internal/schema"
	"github.com/fractalsoft/frankendb/internal/sqlparser"
	"github.com/fractalsoft/frankendb/internal/vdbe"
)

// Compiler turns one parsed statement into a VDBE Program, resolving
// table/column names against a live Catalog (§4.H "Output: VDBE
// program with resolved cursor slots, register allocations, and jump
// labels").
type Compiler struct {
	cat   *schema.Catalog
	Stats map[string]*TableStats // optional, keyed by lowercased table name
}

func NewCompiler(cat *schema.Catalog) *Compiler {
	return &Compiler{cat: cat, Stats: map[string]*TableStats{}}
}

// compileState tracks per-compile mutable bookkeeping: the next free
// register, resolved FROM scope, and the access-path order chosen by
// JoinOrder, so expression compilation and scan emission share one
// register allocator (§4.I "Register allocations").
type compileState struct {
	b        *vdbe.Builder
	scope    *Scope
	nextReg  int
	tables   []*schema.TableInfo
	aliases  []string
	cursors  []int
	order    []int
	planRows []planRow // for EXPLAIN QUERY PLAN, in source order (not join order)

	idxCursors map[string]int // index name -> cursor slot, memoized within one compile
}

// planRow records one EXPLAIN QUERY PLAN node for later formatting.
type planRow struct {
	detail string
	usingIndex string
}

func (cs *compileState) allocReg() int {
	r := cs.nextReg
	cs.nextReg++
	return r
}

// Compile resolves stmt against the compiler's catalog and emits a
// finalized Program. DDL statements (CREATE/DROP TABLE/INDEX) are
// executed directly against the Catalog by the caller (internal/schema
// already models sqlite_master as a b-tree; routing DDL through a
// second bytecode layer on top of that would just re-describe the same
// Insert/Delete the catalog already performs) — Compile only handles
// the DML/query surface that actually benefits from cursor-level
// bytecode.
func (c *Compiler) Compile(stmt sqlparser.Statement) (*vdbe.Program, []planRow, error) {
	switch s := stmt.(type) {
	case *sqlparser.Select:
		return c.compileSelect(s)
	case sqlparser.Insert:
		p, err := c.compileInsert(s)
		return p, nil, err
	case sqlparser.Update:
		p, err := c.compileUpdate(s)
		return p, nil, err
	case sqlparser.Delete:
		p, err := c.compileDelete(s)
		return p, nil, err
	default:
		return nil, nil, fsqliteerr.New(fsqliteerr.Internal, "planner: statement type %T has no bytecode form", stmt)
	}
}

func (c *Compiler) resolveTable(name string) (*schema.TableInfo, error) {
	t, ok := c.cat.Table(name)
	if !ok {
		return nil, fsqliteerr.New(fsqliteerr.Internal, "no such table: %s", name)
	}
	return t, nil
}

// buildSources flattens Select.From + Joins into parallel alias/table
// slices plus per-table join conditions (nil for the first/FROM
// table), in their original left-to-right order; JoinOrder may later
// reorder indices 1..n-1 for cost, but the FROM table conventionally
// anchors position 0 the way SQLite's own planner treats it.
func (c *Compiler) buildSources(sel *sqlparser.Select) ([]*schema.TableInfo, []string, []sqlparser.Expr, error) {
	if sel.From.Sub != nil {
		return nil, nil, nil, fsqliteerr.New(fsqliteerr.Internal, "planner: FROM subqueries are compiled by the connection layer, not the bytecode compiler")
	}
	t, err := c.resolveTable(sel.From.Table)
	if err != nil {
		return nil, nil, nil, err
	}
	alias := sel.From.Alias
	if alias == "" {
		alias = sel.From.Table
	}
	tables := []*schema.TableInfo{t}
	aliases := []string{alias}
	conds := []sqlparser.Expr{nil}
	for _, j := range sel.Joins {
		if j.Item.Sub != nil {
			return nil, nil, nil, fsqliteerr.New(fsqliteerr.Internal, "planner: joined subqueries are compiled by the connection layer")
		}
		jt, err := c.resolveTable(j.Item.Table)
		if err != nil {
			return nil, nil, nil, err
		}
		ja := j.Item.Alias
		if ja == "" {
			ja = j.Item.Table
		}
		tables = append(tables, jt)
		aliases = append(aliases, ja)
		conds = append(conds, j.On)
	}
	return tables, aliases, conds, nil
}

// compileSelect builds a left-deep nested-loop scan: JoinOrder picks
// the table order by estimated cost, then the compiler emits one
// Rewind/loop per table (innermost = last in order), evaluating each
// table's join condition (or the WHERE clause, at the innermost level)
// as soon as all its referenced columns are in scope, pushing failing
// rows to the nearest enclosing Next rather than carrying them to the
// final predicate (the standard "apply filters as early as possible"
// pushdown, §4.H "Rewrites... pushdown of filters through joins").
func (c *Compiler) compileSelect(sel *sqlparser.Select) (*vdbe.Program, []planRow, error) {
	return c.buildJoinScan(sel, func(cs *compileState) error {
		return cs.emitProjectionAndResult(sel)
	})
}

// CompileRawScan compiles sel's FROM/JOIN/WHERE exactly as compileSelect
// does, but projects every column of every source table regardless of
// sel.Projs, and returns the Scope that maps (source, column) to the
// resulting row's flat layout. Execute uses this for GROUP BY and
// aggregate queries, whose projection, HAVING and ORDER BY expressions
// may reference columns the final SELECT list never mentions and so
// must be evaluated over the raw joined row rather than through the
// bytecode projection (§4.I's opcode table has no aggregate
// primitives; see internal/planner/aggregate.go).
func (c *Compiler) CompileRawScan(sel *sqlparser.Select) (*vdbe.Program, *Scope, []planRow, error) {
	var scope *Scope
	prog, rows, err := c.buildJoinScan(sel, func(cs *compileState) error {
		scope = cs.scope
		return cs.emitAllColumns()
	})
	return prog, scope, rows, err
}

// buildJoinScan emits the shared FROM/JOIN/WHERE scaffolding (cursor
// opens, cost-ordered nested loops, join-condition and WHERE pushdown)
// and calls project to emit whatever belongs inside the innermost loop
// body, once all source columns are in scope.
func (c *Compiler) buildJoinScan(sel *sqlparser.Select, project func(*compileState) error) (*vdbe.Program, []planRow, error) {
	tables, aliases, conds, err := c.buildSources(sel)
	if err != nil {
		return nil, nil, err
	}

	scope := NewScope()
	for i, t := range tables {
		scope.Add(aliases[i], t)
	}

	paths := make([]AccessPath, len(tables))
	for i, t := range tables {
		st := c.Stats[strings.ToLower(t.Name)]
		rows := 1000.0
		if st != nil && st.RowCount > 0 {
			rows = float64(st.RowCount)
		}
		paths[i] = AccessPath{Table: t, Alias: aliases[i], EstRows: rows, EstCost: rows}
	}
	order := JoinOrder(paths)
	// The anchor (FROM) table always leads: reordering it away from
	// position 0 would silently change LEFT JOIN semantics, which this
	// planner does not yet track per-pair, so only the join tail is
	// cost-ordered.
	order = anchorFirst(order)

	b := vdbe.NewBuilder()
	cs := &compileState{b: b, scope: scope, tables: tables, aliases: aliases, order: order}

	endLabel := b.NewLabel()
	b.Emit(vdbe.Inst{Op: vdbe.OpInit, Comment: "start"})
	b.Emit(vdbe.Inst{Op: vdbe.OpTransaction, P1: 0, Comment: "read transaction"})

	cursors := make([]int, len(tables))
	for _, ti := range order {
		t := tables[ti]
		slot := b.OpenCursor(aliases[ti], uint32(t.Root), false)
		cursors[ti] = slot
		b.Emit(vdbe.Inst{Op: vdbe.OpOpenRead, P1: slot, P2: int(t.Root), Comment: fmt.Sprintf("root=%d", t.Root)})
	}
	cs.cursors = cursors

	exitLabels := make([]int, len(order))
	nextLabels := make([]int, len(order))
	loopTops := make([]int, len(order))
	for depth, ti := range order {
		exitLabels[depth] = b.NewLabel()
		nextLabels[depth] = b.NewLabel()
		b.EmitJump(vdbe.OpRewind, cursors[ti], exitLabels[depth], 0, vdbe.P4{}, 0)
		b.DefineLabel(loopTopLabel(b, &loopTops[depth]))
		if cond := conds[ti]; cond != nil && depth > 0 {
			reg, err := cs.compileExpr(cond)
			if err != nil {
				return nil, nil, err
			}
			b.EmitJump(vdbe.OpIfNot, reg, nextLabels[depth], 0, vdbe.P4{}, 0)
			_ = reg
		}
	}

	if sel.Where != nil {
		reg, err := cs.compileExpr(sel.Where)
		if err != nil {
			return nil, nil, err
		}
		skip := b.NewLabel()
		b.EmitJump(vdbe.OpIfNot, reg, skip, 0, vdbe.P4{}, 0)
		if err := project(cs); err != nil {
			return nil, nil, err
		}
		b.DefineLabel(skip)
	} else {
		if err := project(cs); err != nil {
			return nil, nil, err
		}
	}

	for depth := len(order) - 1; depth >= 0; depth-- {
		ti := order[depth]
		b.DefineLabel(nextLabels[depth])
		b.EmitJump(vdbe.OpNext, cursors[ti], loopTops[depth], 0, vdbe.P4{}, 0)
		b.DefineLabel(exitLabels[depth])
	}
	b.DefineLabel(endLabel)
	b.Emit(vdbe.Inst{Op: vdbe.OpHalt, Comment: "done"})
	b.AllocRegs(cs.nextReg)

	prog, err := b.Finalize()
	if err != nil {
		return nil, nil, err
	}
	return prog, buildQueryPlanRows(tables, aliases, order, paths), nil
}

// emitAllColumns projects every column of every source table, in
// scope order, the layout Scope.FlatIndex assumes.
func (cs *compileState) emitAllColumns() error {
	count := 0
	for _, t := range cs.tables {
		count += len(t.Cols)
	}
	first := cs.nextReg
	cs.nextReg += count
	cs.b.AllocRegs(cs.nextReg)
	slot := first
	for si, t := range cs.tables {
		for ci := range t.Cols {
			cs.b.Emit(vdbe.Inst{Op: vdbe.OpColumn, P1: cs.cursors[si], P2: ci, P3: slot})
			slot++
		}
	}
	cs.b.Emit(vdbe.Inst{Op: vdbe.OpResultRow, P1: first, P2: count})
	return nil
}

// loopTopLabel is a small helper so the label-creation/definition pair
// for a loop's re-entry point reads as one call at the call site
// above; it stores the created label id into *out for the matching
// OpNext to target.
func loopTopLabel(b *vdbe.Builder, out *int) int {
	id := b.NewLabel()
	*out = id
	return id
}

func anchorFirst(order []int) []int {
	for i, v := range order {
		if v == 0 {
			if i == 0 {
				return order
			}
			reordered := append([]int{0}, append(append([]int{}, order[:i]...), order[i+1:]...)...)
			return reordered
		}
	}
	return order
}

// emitProjectionAndResult evaluates every SelectItem into a reserved,
// contiguous register block and emits ResultRow over it; Star expands
// to every column of every source table in scope order. The block is
// reserved up front so expression evaluation (which allocates its own
// scratch registers past the block) never collides with the
// destination slots ResultRow reads from.
func (cs *compileState) emitProjectionAndResult(sel *sqlparser.Select) error {
	count := 0
	for _, item := range sel.Projs {
		if item.Star {
			for _, t := range cs.tables {
				count += len(t.Cols)
			}
			continue
		}
		count++
	}
	first := cs.nextReg
	cs.nextReg += count
	cs.b.AllocRegs(cs.nextReg)

	slot := first
	for _, item := range sel.Projs {
		if item.Star {
			for si, t := range cs.tables {
				for ci := range t.Cols {
					cs.b.Emit(vdbe.Inst{Op: vdbe.OpColumn, P1: cs.cursors[si], P2: ci, P3: slot})
					slot++
				}
			}
			continue
		}
		reg, err := cs.compileExpr(item.Expr)
		if err != nil {
			return err
		}
		cs.b.Emit(vdbe.Inst{Op: vdbe.OpSCopy, P1: reg, P2: slot})
		slot++
	}
	cs.b.Emit(vdbe.Inst{Op: vdbe.OpResultRow, P1: first, P2: count})
	return nil
}

func buildQueryPlanRows(tables []*schema.TableInfo, aliases []string, order []int, paths []AccessPath) []planRow {
	rows := make([]planRow, 0, len(order))
	for _, ti := range order {
		detail := fmt.Sprintf("SCAN %s", aliases[ti])
		if paths[ti].Index != nil {
			detail = fmt.Sprintf("SEARCH %s USING INDEX %s", aliases[ti], paths[ti].Index.Name)
		}
		rows = append(rows, planRow{detail: detail})
	}
	_ = tables
	return rows
}
