package vdbe

import (
	"strconv"
	"strings"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
	"github.com/fractalsoft/frankendb/internal/record"
)

// arith implements Add/Sub/Mul/Div/Mod: p1, p2 source registers,
// p3 dest register, routed through evaluate_arith (§9).
func (vm *VM) arith(in Inst) error {
	op := map[Opcode]ArithOp{
		OpAdd: ArithAdd, OpSub: ArithSub, OpMul: ArithMul,
		OpDiv: ArithDiv, OpMod: ArithMod,
	}[in.Op]
	v, err := evaluateArith(vm.reg(in.P1), vm.reg(in.P2), op)
	if err != nil {
		return err
	}
	vm.setReg(in.P3, v)
	return nil
}

// compare implements Eq/Ne/Lt/Le/Gt/Ge as conditional jumps when P2 is
// set (p1, p3 are the compared registers; this mirrors SQLite's own
// jump-opcode convention rather than producing a boolean register,
// since every comparison in a WHERE clause is ultimately a branch) and
// as boolean-producing registers otherwise (p1, p2 operands, p3 dest)
// for use inside larger expressions. FlagJumpIfNull controls NULL
// handling per §4.I p5.
func (vm *VM) compare(in Inst, next *int) error {
	if in.P5&flagCompareAsJump != 0 {
		a, b := vm.reg(in.P1), vm.reg(in.P3)
		cmp, ok := compareValues(a, b)
		if !ok {
			if in.P5&FlagJumpIfNull != 0 {
				*next = in.P2
			}
			return nil
		}
		if compareMatches(in.Op, cmp) {
			*next = in.P2
		}
		return nil
	}
	a, b := vm.reg(in.P1), vm.reg(in.P2)
	cmp, ok := compareValues(a, b)
	if !ok {
		vm.setReg(in.P3, record.Null())
		return nil
	}
	vm.setReg(in.P3, record.Integer(boolToInt(compareMatches(in.Op, cmp))))
	return nil
}

// flagCompareAsJump is a private p5 bit (on top of the spec's two
// named flags) distinguishing the jump form of the comparison
// opcodes from the register-producing form; the program builder sets
// it for WHERE-clause predicates compiled as branches.
const flagCompareAsJump = 1 << 3

func compareMatches(op Opcode, cmp int) bool {
	switch op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	}
	return false
}

func (vm *VM) logical(in Inst, combine func(a, b bool) bool) {
	a, b := vm.reg(in.P1), vm.reg(in.P2)
	vm.setReg(in.P3, record.Integer(boolToInt(combine(truthy(a), truthy(b)))))
}

// affinity implements Affinity: p1=first register, p2=count, p4.Text
// holds one affinity code per register ('I','T','N','R','B').
func (vm *VM) affinity(in Inst) {
	codes := in.P4.Text
	for i := 0; i < in.P2 && i < len(codes); i++ {
		a := affinityFromCode(codes[i])
		vm.setReg(in.P1+i, record.ApplyAffinity(vm.reg(in.P1+i), a))
	}
}

func affinityFromCode(c byte) record.Affinity {
	switch c {
	case 'I':
		return record.AffinityInteger
	case 'T':
		return record.AffinityText
	case 'N':
		return record.AffinityNumeric
	case 'R':
		return record.AffinityReal
	default:
		return record.AffinityBlob
	}
}

// cast implements Cast: p1=src, p2=dest, p5 low bits hold the target
// Affinity (§4.I p5 "affinity mask").
func (vm *VM) cast(in Inst) {
	a := record.Affinity(in.P5 & FlagAffinityMaskBits)
	vm.setReg(in.P2, record.ApplyAffinity(vm.reg(in.P1), a))
}

// FlagAffinityMaskBits isolates the affinity value packed into p5's
// low bits by Cast, distinct from the single-bit FlagJumpIfNull/
// FlagAffinityMask markers used elsewhere.
const FlagAffinityMaskBits = 0x7

// function implements Function: p1=first arg register, p2=arg count,
// p3=dest register, p4.Text=function name. Only a minimal, pure
// builtin set is implemented directly; aggregate step/final state
// lives in the planner's aggregate accumulator and is fed back through
// MakeRecord-style register writes rather than through this opcode.
func (vm *VM) function(in Inst) error {
	args := make([]record.Value, in.P2)
	for i := 0; i < in.P2; i++ {
		args[i] = vm.reg(in.P1 + i)
	}
	v, err := callScalarFunction(in.P4.Text, args)
	if err != nil {
		return err
	}
	vm.setReg(in.P3, v)
	return nil
}

func callScalarFunction(name string, args []record.Value) (record.Value, error) {
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
			return record.Integer(int64(len(formatNumberText(a)))), nil
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
		return record.Text(typeofName(args[0])), nil
	case "__CONCAT":
		if args[0].IsNull() || args[1].IsNull() {
			return record.Null(), nil
		}
		return record.Text(textOf(args[0]) + textOf(args[1])), nil
	case "__ISNULL":
		return record.Integer(boolToInt(args[0].IsNull())), nil
	case "__LIKE":
		if args[0].IsNull() || args[1].IsNull() {
			return record.Null(), nil
		}
		return record.Integer(boolToInt(matchLike(textOf(args[1]), textOf(args[0])))), nil
	case "__GLOB":
		if args[0].IsNull() || args[1].IsNull() {
			return record.Null(), nil
		}
		return record.Integer(boolToInt(matchGlob(textOf(args[1]), textOf(args[0])))), nil
	default:
		return record.Null(), fsqliteerr.New(fsqliteerr.Internal, "unknown function %s", name)
	}
}

func textOf(v record.Value) string {
	if v.Kind == record.KindText {
		return v.S
	}
	if v.Kind == record.KindBlob {
		return string(v.B)
	}
	return formatNumberText(v)
}

// matchLike implements SQL LIKE: '%' matches any run of characters,
// '_' matches exactly one, case-insensitively (no ESCAPE clause
// support, matching the function-call surface this compiles from).
func matchLike(pattern, s string) bool {
	return likeMatch([]rune(record.FoldUpper(pattern)), []rune(record.FoldUpper(s)))
}

func likeMatch(p, s []rune) bool {
	for len(p) > 0 {
		switch p[0] {
		case '%':
			for len(p) > 0 && p[0] == '%' {
				p = p[1:]
			}
			if len(p) == 0 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if likeMatch(p, s[i:]) {
					return true
				}
			}
			return false
		case '_':
			if len(s) == 0 {
				return false
			}
			p, s = p[1:], s[1:]
		default:
			if len(s) == 0 || s[0] != p[0] {
				return false
			}
			p, s = p[1:], s[1:]
		}
	}
	return len(s) == 0
}

// matchGlob implements SQL GLOB: '*' matches any run, '?' matches one,
// case-sensitive (the Unix-glob convention SQLite itself follows).
func matchGlob(pattern, s string) bool {
	return globMatch([]rune(pattern), []rune(s))
}

func globMatch(p, s []rune) bool {
	for len(p) > 0 {
		switch p[0] {
		case '*':
			for len(p) > 0 && p[0] == '*' {
				p = p[1:]
			}
			if len(p) == 0 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if globMatch(p, s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
			p, s = p[1:], s[1:]
		default:
			if len(s) == 0 || s[0] != p[0] {
				return false
			}
			p, s = p[1:], s[1:]
		}
	}
	return len(s) == 0
}

func typeofName(v record.Value) string {
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

func formatNumberText(v record.Value) string {
	if v.Kind == record.KindInteger {
		return strconv.FormatInt(v.I, 10)
	}
	return strconv.FormatFloat(v.F, 'g', -1, 64)
}

func parseFloatLoose(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
