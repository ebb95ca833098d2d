package planner

import (
	"context"
	"strconv"
	"strings"

	"github.com/fractalsoft/frankendb/internal/pager"
	"github.com/fractalsoft/frankendb/internal/record"
	"github.com/fractalsoft/frankendb/internal/sqlparser"
	"github.com/fractalsoft/frankendb/internal/vdbe"
)

// ResultSet is a fully materialized query result: column names (best
// effort — an expression without an alias gets a synthesized label)
// plus the rows after any GROUP BY, HAVING, ORDER BY and LIMIT/OFFSET
// have been applied.
type ResultSet struct {
	Columns []string
	Rows    [][]record.Value
}

// Execute runs sel end to end: compile, drive the VM, and apply
// whatever post-processing the opcode table itself doesn't express
// (§4.I names no Sort/AggStep/AggFinal instructions, so GROUP BY,
// aggregates, ORDER BY and LIMIT/OFFSET all happen here in Go around
// the VM's raw rows, mirroring how the teacher's own tree-walking
// interpreter folds these together in one pass).
func (c *Compiler) Execute(ctx context.Context, p *pager.Pager, sel *sqlparser.Select) (*ResultSet, error) {
	if needsAggregation(sel) {
		return c.executeAggregate(ctx, p, sel)
	}
	return c.executeSimple(ctx, p, sel)
}

func needsAggregation(sel *sqlparser.Select) bool {
	if len(sel.GroupBy) > 0 || sel.Having != nil {
		return true
	}
	for _, item := range sel.Projs {
		if containsAggregate(item.Expr) {
			return true
		}
	}
	return false
}

func containsAggregate(e sqlparser.Expr) bool {
	switch x := e.(type) {
	case sqlparser.FuncCall:
		if isAggregateName(x.Name) {
			return true
		}
		for _, a := range x.Args {
			if containsAggregate(a) {
				return true
			}
		}
	case sqlparser.Binary:
		return containsAggregate(x.Left) || containsAggregate(x.Right)
	case sqlparser.Unary:
		return containsAggregate(x.Expr)
	case sqlparser.Cast:
		return containsAggregate(x.Expr)
	case sqlparser.CaseExpr:
		if containsAggregate(x.Operand) || containsAggregate(x.Else) {
			return true
		}
		for _, w := range x.Whens {
			if containsAggregate(w.Cond) || containsAggregate(w.Result) {
				return true
			}
		}
	}
	return false
}

// executeSimple handles the common case: the compiled projection
// already matches sel.Projs, so the VM's own rows are the answer,
// modulo ORDER BY (resolved against a single-source Scope built from
// the projection's own aliases) and LIMIT/OFFSET.
func (c *Compiler) executeSimple(ctx context.Context, p *pager.Pager, sel *sqlparser.Select) (*ResultSet, error) {
	prog, _, err := c.compileSelect(sel)
	if err != nil {
		return nil, err
	}
	vm := vdbe.NewVM(prog, p)
	if err := vm.Run(ctx); err != nil {
		return nil, err
	}
	rows := vm.Rows

	if len(sel.OrderBy) > 0 {
		scope := projectionScope(sel)
		if err := sortRows(rows, scope, sel.OrderBy); err != nil {
			return nil, err
		}
	}
	rows = applyLimitOffset(rows, sel.Limit, sel.Offset)
	return &ResultSet{Columns: projectionNames(sel), Rows: rows}, nil
}

// executeAggregate scans every source column via CompileRawScan, then
// groups, aggregates, filters (HAVING), sorts and limits entirely in
// Go using the rowEval tree-walker.
func (c *Compiler) executeAggregate(ctx context.Context, p *pager.Pager, sel *sqlparser.Select) (*ResultSet, error) {
	prog, scope, _, err := c.CompileRawScan(sel)
	if err != nil {
		return nil, err
	}
	vm := vdbe.NewVM(prog, p)
	if err := vm.Run(ctx); err != nil {
		return nil, err
	}

	type group struct {
		row  []record.Value // one representative source row, for non-aggregate projections
		aggs []*aggState
	}
	order := []string{}
	groups := map[string]*group{}

	for _, row := range vm.Rows {
		ev := rowEval{scope: scope, row: row}
		var key string
		if len(sel.GroupBy) > 0 {
			keyVals := make([]record.Value, len(sel.GroupBy))
			for i, g := range sel.GroupBy {
				v, err := ev.eval(g)
				if err != nil {
					return nil, err
				}
				keyVals[i] = v
			}
			key = groupKey(keyVals)
		}
		g, ok := groups[key]
		if !ok {
			g = &group{row: row, aggs: newAggStates(sel.Projs)}
			groups[key] = g
			order = append(order, key)
		}
		for i, item := range sel.Projs {
			if fc, ok := aggregateCall(item.Expr); ok {
				var v record.Value
				if !fc.Star {
					var err error
					v, err = ev.eval(fc.Args[0])
					if err != nil {
						return nil, err
					}
				}
				g.aggs[i].step(v)
			}
		}
	}

	rows := make([][]record.Value, 0, len(order))
	for _, key := range order {
		g := groups[key]
		ev := rowEval{scope: scope, row: g.row}
		row := make([]record.Value, len(sel.Projs))
		for i, item := range sel.Projs {
			if g.aggs[i] != nil {
				row[i] = g.aggs[i].final()
				continue
			}
			v, err := ev.eval(item.Expr)
			if err != nil {
				return nil, err
			}
			row[i] = v
		}
		if sel.Having != nil {
			havingEv := aggregateRowEval{scope: scope, row: g.row, aggs: g.aggs, aggVals: row}
			v, err := havingEv.eval(sel.Having)
			if err != nil {
				return nil, err
			}
			if !truthyVal(v) {
				continue
			}
		}
		rows = append(rows, row)
	}

	if len(sel.OrderBy) > 0 {
		resultScope := projectionScope(sel)
		if err := sortRows(rows, resultScope, sel.OrderBy); err != nil {
			return nil, err
		}
	}
	rows = applyLimitOffset(rows, sel.Limit, sel.Offset)
	return &ResultSet{Columns: projectionNames(sel), Rows: rows}, nil
}

func newAggStates(items []sqlparser.SelectItem) []*aggState {
	states := make([]*aggState, len(items))
	for i, item := range items {
		if fc, ok := aggregateCall(item.Expr); ok {
			states[i] = newAggState(fc)
		}
	}
	return states
}

func aggregateCall(e sqlparser.Expr) (sqlparser.FuncCall, bool) {
	fc, ok := e.(sqlparser.FuncCall)
	if !ok || !isAggregateName(fc.Name) {
		return sqlparser.FuncCall{}, false
	}
	return fc, true
}

// aggregateRowEval evaluates HAVING, where a bare aggregate call
// reuses the value already finalized for the matching projection
// column instead of re-scanning the group, and any other expression
// falls back to the group's representative source row.
type aggregateRowEval struct {
	scope   *Scope
	row     []record.Value
	aggs    []*aggState
	aggVals []record.Value
}

func (e aggregateRowEval) eval(expr sqlparser.Expr) (record.Value, error) {
	if fc, ok := aggregateCall(expr); ok {
		for i, a := range e.aggs {
			if a != nil && a.name == strings.ToUpper(fc.Name) {
				return e.aggVals[i], nil
			}
		}
	}
	switch x := expr.(type) {
	case sqlparser.Binary:
		l, err := e.eval(x.Left)
		if err != nil {
			return record.Null(), err
		}
		r, err := e.eval(x.Right)
		if err != nil {
			return record.Null(), err
		}
		return rowEval{scope: e.scope}.evalBinary(sqlparser.Binary{Op: x.Op, Left: sqlparser.Literal{Val: l}, Right: sqlparser.Literal{Val: r}})
	default:
		return rowEval{scope: e.scope, row: e.row}.eval(expr)
	}
}

// projectionScope builds a Scope with one pseudo-source whose columns
// are the SELECT list's own aliases, for resolving ORDER BY references
// to projected-but-not-source column names.
func projectionScope(sel *sqlparser.Select) *Scope {
	cols := make([]sqlparser.ColumnDef, len(sel.Projs))
	for i, item := range sel.Projs {
		cols[i] = sqlparser.ColumnDef{Name: projectionItemName(item, i)}
	}
	s := NewScope()
	s.AddAnonymous(cols)
	return s
}

func projectionNames(sel *sqlparser.Select) []string {
	names := make([]string, len(sel.Projs))
	for i, item := range sel.Projs {
		names[i] = projectionItemName(item, i)
	}
	return names
}

func projectionItemName(item sqlparser.SelectItem, idx int) string {
	if item.Alias != "" {
		return item.Alias
	}
	if ref, ok := item.Expr.(sqlparser.VarRef); ok {
		return ref.Name
	}
	if fc, ok := item.Expr.(sqlparser.FuncCall); ok {
		return fc.Name
	}
	return columnLabel(idx)
}

func columnLabel(idx int) string {
	return "column" + strconv.Itoa(idx+1)
}
