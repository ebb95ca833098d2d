package vdbe

import (
	"math"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
	"github.com/fractalsoft/frankendb/internal/record"
)

// ArithOp identifies the binary arithmetic operators evaluate_arith
// dispatches on (§9 "Error-returning arithmetic in VDBE").
type ArithOp int

const (
	ArithAdd ArithOp = iota
	ArithSub
	ArithMul
	ArithDiv
	ArithMod
)

// evaluateArith implements §9's evaluate_arith: a single dispatch point
// for +, -, *, /, % that promotes integer overflow to real rather than
// relying on Go's platform-defined wraparound, and surfaces division by
// zero as NULL (matching SQLite's own behavior) instead of panicking.
func evaluateArith(lhs, rhs record.Value, op ArithOp) (record.Value, error) {
	if lhs.IsNull() || rhs.IsNull() {
		return record.Null(), nil
	}
	if lhs.Kind == record.KindInteger && rhs.Kind == record.KindInteger {
		if v, ok := tryIntArith(lhs.I, rhs.I, op); ok {
			return record.Integer(v), nil
		}
		// Overflow: promote to real rather than wrap.
		return record.Float(floatArith(lhs.AsFloat64(), rhs.AsFloat64(), op)), nil
	}
	a, b := lhs.AsFloat64(), rhs.AsFloat64()
	if op == ArithDiv && b == 0 {
		return record.Null(), nil
	}
	if op == ArithMod {
		return record.Null(), fsqliteerr.New(fsqliteerr.MismatchType, "modulo requires integer operands")
	}
	return record.Float(floatArith(a, b, op)), nil
}

func tryIntArith(a, b int64, op ArithOp) (int64, bool) {
	switch op {
	case ArithAdd:
		r := a + b
		if (r-b != a) || ((a > 0 && b > 0 && r < 0) || (a < 0 && b < 0 && r > 0)) {
			return 0, false
		}
		return r, true
	case ArithSub:
		r := a - b
		if (r+b != a) || ((a > 0 && b < 0 && r < 0) || (a < 0 && b > 0 && r > 0)) {
			return 0, false
		}
		return r, true
	case ArithMul:
		if a == 0 || b == 0 {
			return 0, true
		}
		r := a * b
		if r/b != a {
			return 0, false
		}
		return r, true
	case ArithDiv:
		if b == 0 {
			return 0, false // caller falls through to float path, which yields NULL
		}
		if a%b == 0 {
			return a / b, true
		}
		return 0, false // non-exact integer division promotes to real
	case ArithMod:
		if b == 0 {
			return 0, false
		}
		return a % b, true
	}
	return 0, false
}

func floatArith(a, b float64, op ArithOp) float64 {
	switch op {
	case ArithAdd:
		return a + b
	case ArithSub:
		return a - b
	case ArithMul:
		return a * b
	case ArithDiv:
		if b == 0 {
			return math.NaN()
		}
		return a / b
	default:
		return math.NaN()
	}
}

// compareValues orders per record.Compare but treats NULL specially
// for the VDBE's Eq/Ne/Lt/Le/Gt/Ge family: any comparison against NULL
// yields "unknown" (false), represented here by the ok=false return.
func compareValues(a, b record.Value) (cmp int, ok bool) {
	if a.IsNull() || b.IsNull() {
		return 0, false
	}
	return record.Compare(a, b), true
}
