package planner

import (
	"github.com/fractalsoft/frankendb/internal/record"
)

// clamp01 enforces §8's "selectivities fall in [0,1]" invariant on
// every value this file produces.
func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// defaultRangeSelectivity is §4.H's fallback when no histogram covers
// a range predicate.
const defaultRangeSelectivity = 1.0 / 3.0

// EqSelectivity implements §4.H's equality rule: 1/NDV, or the
// histogram bucket's local count/ndv when val falls inside one.
func EqSelectivity(cs *ColumnStats, val record.Value) float64 {
	if cs == nil || cs.RowCount == 0 {
		return defaultRangeSelectivity
	}
	if b := findBucket(cs, val); b != nil && b.NDV > 0 {
		return clamp01(float64(b.Count) / float64(b.NDV) / float64(cs.RowCount))
	}
	ndv := cs.NDV
	if ndv <= 0 {
		ndv = 1
	}
	return clamp01(1.0 / float64(ndv))
}

// RangeSelectivity estimates the fraction of rows between lo and hi
// (inclusive bounds may be nil to mean unbounded on that side) as the
// summed Count of every histogram bucket whose range overlaps them,
// over RowCount. A bucket only partly inside the range counts in full;
// there is no interpolation within a bucket. With no histogram it
// returns the 1/3 default.
func RangeSelectivity(cs *ColumnStats, lo, hi *record.Value) float64 {
	if cs == nil || len(cs.Buckets) == 0 || cs.RowCount == 0 {
		return defaultRangeSelectivity
	}
	var matched int64
	for _, b := range cs.Buckets {
		if lo != nil && record.Compare(b.Upper, *lo) < 0 {
			continue
		}
		if hi != nil && record.Compare(b.Lower, *hi) > 0 {
			continue
		}
		matched += b.Count
	}
	return clamp01(float64(matched) / float64(cs.RowCount))
}

// NotSelectivity implements §4.H's "NOT and <>: 1 − eq_sel" rule.
func NotSelectivity(eqSel float64) float64 {
	return clamp01(1 - eqSel)
}

// NullSelectivity implements §4.H's "NULL predicate: null_count /
// row_count" rule.
func NullSelectivity(cs *ColumnStats) float64 {
	if cs == nil || cs.RowCount == 0 {
		return 0
	}
	return clamp01(float64(cs.NullCount) / float64(cs.RowCount))
}

func findBucket(cs *ColumnStats, val record.Value) *HistogramBucket {
	for i := range cs.Buckets {
		b := &cs.Buckets[i]
		if record.Compare(val, b.Lower) >= 0 && record.Compare(val, b.Upper) <= 0 {
			return b
		}
	}
	return nil
}
