package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
	"github.com/fractalsoft/frankendb/internal/record"
	"github.com/fractalsoft/frankendb/internal/sqlparser"
	"github.com/fractalsoft/frankendb/internal/vdbe"
)

// evaluateArithOp mirrors the VM's own evaluate_arith dispatch (§9) for
// the Go-side evaluator: NULL propagates, integer overflow and
// non-exact integer division promote to real, division by zero
// yields NULL.
func evaluateArithOp(op vdbe.Opcode, lhs, rhs record.Value) (record.Value, error) {
	if lhs.IsNull() || rhs.IsNull() {
		return record.Null(), nil
	}
	if lhs.Kind == record.KindInteger && rhs.Kind == record.KindInteger {
		a, b := lhs.I, rhs.I
		switch op {
		case vdbe.OpAdd:
			if r := a + b; (r > a) == (b > 0) {
				return record.Integer(r), nil
			}
		case vdbe.OpSub:
			if r := a - b; (r < a) == (b > 0) {
				return record.Integer(r), nil
			}
		case vdbe.OpMul:
			if r := a * b; b == 0 || r/b == a {
				return record.Integer(r), nil
			}
		case vdbe.OpDiv:
			if b == 0 {
				return record.Null(), nil
			}
			if a%b == 0 {
				return record.Integer(a / b), nil
			}
			return record.Float(float64(a) / float64(b)), nil
		case vdbe.OpMod:
			if b == 0 {
				return record.Null(), nil
			}
			return record.Integer(a % b), nil
		}
	}
	a, b := lhs.AsFloat64(), rhs.AsFloat64()
	switch op {
	case vdbe.OpAdd:
		return record.Float(a + b), nil
	case vdbe.OpSub:
		return record.Float(a - b), nil
	case vdbe.OpMul:
		return record.Float(a * b), nil
	case vdbe.OpDiv:
		if b == 0 {
			return record.Null(), nil
		}
		return record.Float(a / b), nil
	case vdbe.OpMod:
		return record.Null(), fsqliteerr.New(fsqliteerr.MismatchType, "modulo requires integer operands")
	}
	return record.Null(), fsqliteerr.New(fsqliteerr.Internal, "planner: unsupported arithmetic opcode")
}

// rowEval evaluates expressions directly against one already-materialized
// joined row plus the Scope that produced it, the way the teacher's
// internal/engine/exec.go walks the AST to evaluate a predicate; §4.I's
// opcode table has no Sort/AggStep/AggFinal primitives, so GROUP BY,
// aggregates, ORDER BY and LIMIT/OFFSET are deliberately kept out of
// the bytecode program and run here instead, over the VM's raw output.
type rowEval struct {
	scope *Scope
	row   []record.Value
}

func (e rowEval) eval(expr sqlparser.Expr) (record.Value, error) {
	switch x := expr.(type) {
	case sqlparser.VarRef:
		si, ci, err := e.scope.Resolve(x)
		if err != nil {
			return record.Null(), err
		}
		pos, err := e.scope.FlatIndex(si, ci)
		if err != nil {
			return record.Null(), err
		}
		if pos < 0 || pos >= len(e.row) {
			return record.Null(), nil
		}
		return e.row[pos], nil
	case sqlparser.Literal:
		return x.Val, nil
	case sqlparser.Unary:
		v, err := e.eval(x.Expr)
		if err != nil {
			return record.Null(), err
		}
		switch x.Op {
		case "NOT":
			return record.Integer(boolToInt64Not(truthyVal(v))), nil
		case "-":
			if v.Kind == record.KindInteger {
				return record.Integer(-v.I), nil
			}
			return record.Float(-v.AsFloat64()), nil
		default:
			return v, nil
		}
	case sqlparser.Binary:
		return e.evalBinary(x)
	case sqlparser.IsNull:
		v, err := e.eval(x.Expr)
		if err != nil {
			return record.Null(), err
		}
		r := v.IsNull()
		if x.Negate {
			r = !r
		}
		return record.Integer(boolToInt64(r)), nil
	case sqlparser.Between:
		lo, err := e.eval(x.Low)
		if err != nil {
			return record.Null(), err
		}
		hi, err := e.eval(x.High)
		if err != nil {
			return record.Null(), err
		}
		v, err := e.eval(x.Expr)
		if err != nil {
			return record.Null(), err
		}
		r := record.Compare(v, lo) >= 0 && record.Compare(v, hi) <= 0
		if x.Negate {
			r = !r
		}
		return record.Integer(boolToInt64(r)), nil
	case sqlparser.InList:
		v, err := e.eval(x.Expr)
		if err != nil {
			return record.Null(), err
		}
		found := false
		for _, item := range x.List {
			iv, err := e.eval(item)
			if err != nil {
				return record.Null(), err
			}
			if record.Compare(v, iv) == 0 {
				found = true
				break
			}
		}
		if x.Negate {
			found = !found
		}
		return record.Integer(boolToInt64(found)), nil
	case sqlparser.FuncCall:
		return e.evalFunc(x)
	case sqlparser.Cast:
		v, err := e.eval(x.Expr)
		if err != nil {
			return record.Null(), err
		}
		return record.ApplyAffinity(v, x.Affinity), nil
	case sqlparser.CaseExpr:
		return e.evalCase(x)
	default:
		return record.Null(), fsqliteerr.New(fsqliteerr.Internal, "planner: unsupported expression %T", expr)
	}
}

func (e rowEval) evalBinary(b sqlparser.Binary) (record.Value, error) {
	if b.Op == "AND" || b.Op == "OR" {
		l, err := e.eval(b.Left)
		if err != nil {
			return record.Null(), err
		}
		r, err := e.eval(b.Right)
		if err != nil {
			return record.Null(), err
		}
		if b.Op == "AND" {
			return record.Integer(boolToInt64(truthyVal(l) && truthyVal(r))), nil
		}
		return record.Integer(boolToInt64(truthyVal(l) || truthyVal(r))), nil
	}
	l, err := e.eval(b.Left)
	if err != nil {
		return record.Null(), err
	}
	r, err := e.eval(b.Right)
	if err != nil {
		return record.Null(), err
	}
	if op, ok := arithOps[b.Op]; ok {
		return evaluateArithOp(op, l, r)
	}
	if _, ok := cmpOps[b.Op]; ok {
		cmp, ok := compareVals(l, r)
		if !ok {
			return record.Null(), nil
		}
		return record.Integer(boolToInt64(matchesOp(b.Op, cmp))), nil
	}
	return record.Null(), fsqliteerr.New(fsqliteerr.Internal, "planner: unsupported operator %q", b.Op)
}

func matchesOp(op string, cmp int) bool {
	switch op {
	case "=":
		return cmp == 0
	case "!=":
		return cmp != 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

func compareVals(a, b record.Value) (int, bool) {
	if a.IsNull() || b.IsNull() {
		return 0, false
	}
	return record.Compare(a, b), true
}

func truthyVal(v record.Value) bool {
	switch v.Kind {
	case record.KindNull:
		return false
	case record.KindInteger:
		return v.I != 0
	case record.KindFloat:
		return v.F != 0
	case record.KindText:
		return v.S != ""
	default:
		return len(v.B) != 0
	}
}

func boolToInt64Not(b bool) int64 { return boolToInt64(!b) }

func (e rowEval) evalFunc(f sqlparser.FuncCall) (record.Value, error) {
	if isAggregateName(f.Name) {
		return record.Null(), fsqliteerr.New(fsqliteerr.Internal, "planner: aggregate %s evaluated outside an aggregation context", f.Name)
	}
	args := make([]record.Value, len(f.Args))
	for i, a := range f.Args {
		v, err := e.eval(a)
		if err != nil {
			return record.Null(), err
		}
		args[i] = v
	}
	return evalScalarFunc(f.Name, args)
}

// evalScalarFunc mirrors the VM's callScalarFunction for the handful
// of pure builtins (§4.I "Function"), duplicated here rather than
// exported from vdbe because this evaluator runs entirely in Go,
// outside any register file.
func evalScalarFunc(name string, args []record.Value) (record.Value, error) {
	switch strings.ToUpper(name) {
	case "LENGTH":
		if len(args) != 1 {
			return record.Null(), fsqliteerr.New(fsqliteerr.MismatchType, "length() takes 1 argument")
		}
		a := args[0]
		switch a.Kind {
		case record.KindText:
			return record.Integer(int64(len([]rune(a.S)))), nil
		case record.KindBlob:
			return record.Integer(int64(len(a.B))), nil
		case record.KindNull:
			return record.Null(), nil
		default:
			return record.Integer(int64(len(valueKeyText(a)))), nil
		}
	case "UPPER":
		return record.Text(record.FoldUpper(args[0].S)), nil
	case "LOWER":
		return record.Text(strings.ToLower(args[0].S)), nil
	case "ABS":
		a := args[0]
		if a.Kind == record.KindInteger {
			if a.I < 0 {
				return record.Integer(-a.I), nil
			}
			return a, nil
		}
		f := a.AsFloat64()
		if f < 0 {
			f = -f
		}
		return record.Float(f), nil
	case "COALESCE":
		for _, a := range args {
			if !a.IsNull() {
				return a, nil
			}
		}
		return record.Null(), nil
	case "TYPEOF":
		return record.Text(typeofNamePlanner(args[0])), nil
	default:
		return record.Null(), fsqliteerr.New(fsqliteerr.Internal, "unknown function %s", name)
	}
}

func typeofNamePlanner(v record.Value) string {
	switch v.Kind {
	case record.KindNull:
		return "null"
	case record.KindInteger:
		return "integer"
	case record.KindFloat:
		return "real"
	case record.KindText:
		return "text"
	default:
		return "blob"
	}
}

func (e rowEval) evalCase(ce sqlparser.CaseExpr) (record.Value, error) {
	for _, w := range ce.Whens {
		cond := w.Cond
		var match bool
		if ce.Operand != nil {
			opv, err := e.eval(ce.Operand)
			if err != nil {
				return record.Null(), err
			}
			cv, err := e.eval(cond)
			if err != nil {
				return record.Null(), err
			}
			match = record.Compare(opv, cv) == 0
		} else {
			cv, err := e.eval(cond)
			if err != nil {
				return record.Null(), err
			}
			match = truthyVal(cv)
		}
		if match {
			return e.eval(w.Result)
		}
	}
	if ce.Else != nil {
		return e.eval(ce.Else)
	}
	return record.Null(), nil
}

// isAggregateName reports whether name is one of the five aggregate
// functions this planner recognizes (§ GLOSSARY "aggregate function").
func isAggregateName(name string) bool {
	switch strings.ToUpper(name) {
	case "COUNT", "SUM", "AVG", "MIN", "MAX":
		return true
	}
	return false
}

// aggState accumulates one aggregate function call across a group.
type aggState struct {
	name  string
	star  bool
	count int64
	sum   float64
	sumIsFloat bool
	min, max record.Value
	haveMin, haveMax bool
}

func newAggState(f sqlparser.FuncCall) *aggState {
	return &aggState{name: strings.ToUpper(f.Name), star: f.Star}
}

func (a *aggState) step(v record.Value) {
	if a.star {
		a.count++
		return
	}
	if v.IsNull() {
		return
	}
	a.count++
	switch a.name {
	case "SUM", "AVG":
		a.sum += v.AsFloat64()
		if v.Kind == record.KindFloat {
			a.sumIsFloat = true
		}
	case "MIN":
		if !a.haveMin || record.Compare(v, a.min) < 0 {
			a.min, a.haveMin = v, true
		}
	case "MAX":
		if !a.haveMax || record.Compare(v, a.max) > 0 {
			a.max, a.haveMax = v, true
		}
	}
}

func (a *aggState) final() record.Value {
	switch a.name {
	case "COUNT":
		return record.Integer(a.count)
	case "SUM":
		if a.count == 0 {
			return record.Null()
		}
		if a.sumIsFloat {
			return record.Float(a.sum)
		}
		return record.Integer(int64(a.sum))
	case "AVG":
		if a.count == 0 {
			return record.Null()
		}
		return record.Float(a.sum / float64(a.count))
	case "MIN":
		if !a.haveMin {
			return record.Null()
		}
		return a.min
	case "MAX":
		if !a.haveMax {
			return record.Null()
		}
		return a.max
	}
	return record.Null()
}

// groupKey renders a row's GROUP BY column values into one comparable
// string, good enough for the map-keyed grouping below since every
// record.Value already has a total order (§3).
func groupKey(vals []record.Value) string {
	var b strings.Builder
	for _, v := range vals {
		fmt.Fprintf(&b, "%d:%s\x00", v.Kind, valueKeyText(v))
	}
	return b.String()
}

func valueKeyText(v record.Value) string {
	switch v.Kind {
	case record.KindText:
		return v.S
	case record.KindBlob:
		return string(v.B)
	case record.KindInteger:
		return fmt.Sprintf("%d", v.I)
	case record.KindFloat:
		return fmt.Sprintf("%g", v.F)
	default:
		return ""
	}
}

// sortRows orders rows per ORDER BY, evaluating each key expression
// against the Scope that produced the rows (post-projection rows for
// a plain select, pre-projection source rows for an aggregate query,
// matching SQLite's own rule that ORDER BY may reference ungrouped
// source columns only when they're functionally dependent on the
// GROUP BY key — a constraint this planner does not itself enforce,
// trusting the caller to build a well-formed ORDER BY list).
func sortRows(rows [][]record.Value, scope *Scope, order []sqlparser.OrderItem) error {
	var sortErr error
	sort.SliceStable(rows, func(i, j int) bool {
		for _, item := range order {
			vi, err := rowEval{scope: scope, row: rows[i]}.eval(item.Expr)
			if err != nil {
				sortErr = err
				return false
			}
			vj, err := rowEval{scope: scope, row: rows[j]}.eval(item.Expr)
			if err != nil {
				sortErr = err
				return false
			}
			cmp := record.Compare(vi, vj)
			if item.Desc {
				cmp = -cmp
			}
			if cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
	return sortErr
}

func applyLimitOffset(rows [][]record.Value, limit, offset *int) [][]record.Value {
	start := 0
	if offset != nil && *offset > 0 {
		start = *offset
	}
	if start >= len(rows) {
		return nil
	}
	rows = rows[start:]
	if limit != nil && *limit >= 0 && *limit < len(rows) {
		rows = rows[:*limit]
	}
	return rows
}
