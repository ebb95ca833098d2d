package record

import (
	"bytes"
	"math"
)

// Kind identifies which alternative of Value is populated.
type Kind int

const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindText
	KindBlob
)

// Value is the single sum type flowing through every layer above the
// byte level: record columns, VDBE registers, and expression results all
// share this representation so coercion rules live in one place.
type Value struct {
	Kind Kind
	I    int64
	F    float64
	S    string
	B    []byte
}

func Null() Value             { return Value{Kind: KindNull} }
func Integer(i int64) Value   { return Value{Kind: KindInteger, I: i} }
func Float(f float64) Value   { return Value{Kind: KindFloat, F: f} }
func Text(s string) Value     { return Value{Kind: KindText, S: s} }
func Blob(b []byte) Value     { return Value{Kind: KindBlob, B: b} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsFloat64 returns v's value coerced to float64, for numeric contexts.
func (v Value) AsFloat64() float64 {
	switch v.Kind {
	case KindInteger:
		return float64(v.I)
	case KindFloat:
		return v.F
	default:
		return 0
	}
}

// Affinity is a column's preferred storage class (§3, GLOSSARY).
type Affinity int

const (
	AffinityBlob Affinity = iota
	AffinityText
	AffinityNumeric
	AffinityInteger
	AffinityReal
)

func ParseAffinity(declaredType string) Affinity {
	t := normalizeTypeName(declaredType)
	switch {
	case containsAny(t, "INT"):
		return AffinityInteger
	case containsAny(t, "CHAR", "CLOB", "TEXT"):
		return AffinityText
	case containsAny(t, "BLOB") || t == "":
		return AffinityBlob
	case containsAny(t, "REAL", "FLOA", "DOUB"):
		return AffinityReal
	default:
		return AffinityNumeric
	}
}

func normalizeTypeName(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if bytes.Contains([]byte(s), []byte(sub)) {
			return true
		}
	}
	return false
}

// ApplyAffinity coerces v per SQLite's column-affinity rules on insert.
func ApplyAffinity(v Value, a Affinity) Value {
	if v.IsNull() {
		return v
	}
	switch a {
	case AffinityInteger, AffinityReal, AffinityNumeric:
		return numericAffinity(v, a)
	case AffinityText:
		if v.Kind == KindInteger || v.Kind == KindFloat {
			return Text(formatNumber(v))
		}
		return v
	default: // AffinityBlob: no coercion
		return v
	}
}

func numericAffinity(v Value, a Affinity) Value {
	switch v.Kind {
	case KindInteger, KindFloat:
		if a == AffinityReal {
			if v.Kind == KindInteger {
				return Float(float64(v.I))
			}
			return v
		}
		if v.Kind == KindFloat && v.F == math.Trunc(v.F) && !math.IsInf(v.F, 0) {
			return Integer(int64(v.F))
		}
		return v
	case KindText:
		if i, f, ok := parseNumericText(v.S); ok {
			if f == nil {
				if a != AffinityReal {
					return Integer(*i)
				}
				return Float(float64(*i))
			}
			if a != AffinityReal && *f == math.Trunc(*f) {
				return Integer(int64(*f))
			}
			return Float(*f)
		}
		return v
	default:
		return v
	}
}

// Compare implements the total ordering from §3: NULL < Integer/Float
// (numerically, mixed int/float compared as numbers) < Text < Blob.
func Compare(a, b Value) int {
	ra, rb := classRank(a.Kind), classRank(b.Kind)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch a.Kind {
	case KindNull:
		return 0
	case KindInteger, KindFloat:
		af, bf := a.AsFloat64(), b.AsFloat64()
		if a.Kind == KindInteger && b.Kind == KindInteger {
			if a.I < b.I {
				return -1
			} else if a.I > b.I {
				return 1
			}
			return 0
		}
		if af < bf {
			return -1
		} else if af > bf {
			return 1
		}
		return 0
	case KindText:
		return bytes.Compare([]byte(a.S), []byte(b.S))
	default: // KindBlob
		return bytes.Compare(a.B, b.B)
	}
}

func classRank(k Kind) int {
	switch k {
	case KindNull:
		return 0
	case KindInteger, KindFloat:
		return 1
	case KindText:
		return 2
	default:
		return 3
	}
}

func formatNumber(v Value) string {
	if v.Kind == KindInteger {
		return itoa(v.I)
	}
	return ftoa(v.F)
}
