// Package planner turns a parsed AST into a cost-estimated logical
// plan and then into VDBE bytecode (§4.H, §4.I "Program builder"). It
// has no direct analog in the teacher codebase, which walks the AST
// and executes it directly (internal/engine/exec.go, optimizations.go
// for its handful of rewrites); this package generalizes tinySQL's
// optimizer pass into the histogram/selectivity/join-ordering model
// the spec names, and adds the compilation step to bytecode tinySQL
// never had.
package planner

import (
	"sort"
	"strconv"

	"github.com/fractalsoft/frankendb/internal/btree"
	"github.com/fractalsoft/frankendb/internal/record"
)

// HistogramBucket is one equi-depth bucket: holds roughly rowCount/B
// rows between Lower and Upper, with a within-bucket NDV estimate
// (§4.H "Statistics").
type HistogramBucket struct {
	Lower, Upper record.Value
	Count        int64
	NDV          int64
}

// ColumnStats holds the per-column cardinality estimates the
// selectivity formulas in §4.H consume.
type ColumnStats struct {
	RowCount  int64
	NullCount int64
	NDV       int64
	Min, Max  record.Value
	AvgWidth  float64
	Buckets   []HistogramBucket
}

// TableStats aggregates one table's row count and its columns' stats,
// keyed by column index (matching schema.TableInfo.Cols order).
type TableStats struct {
	RowCount int64
	Columns  map[int]*ColumnStats
}

// DefaultTableStats returns a stub used when no column has been
// gathered yet: callers fall back to the spec's default selectivity
// constants rather than refusing to plan.
func DefaultTableStats(rowCount int64) *TableStats {
	return &TableStats{RowCount: rowCount, Columns: map[int]*ColumnStats{}}
}

// Gather scans a table b-tree to build per-column statistics: row
// count, null count, exact NDV (counted over the sorted column),
// min/max, and an equi-depth histogram with up to
// maxBuckets buckets. This is the engine's ANALYZE equivalent; §4.H
// leaves the gathering mechanism unspecified beyond naming the
// statistics it must produce.
func Gather(t *btree.Tree, numCols int, maxBuckets int) (*TableStats, error) {
	ts := &TableStats{Columns: make(map[int]*ColumnStats, numCols)}
	columns := make([][]record.Value, numCols)

	cur := t.NewCursor()
	ok, err := cur.First()
	if err != nil {
		return nil, err
	}
	for ok {
		ts.RowCount++
		payload, err := cur.Payload()
		if err != nil {
			return nil, err
		}
		vals, err := record.DecodeRecord(payload)
		if err == nil {
			for i := 0; i < numCols && i < len(vals); i++ {
				columns[i] = append(columns[i], vals[i])
			}
		}
		ok, err = cur.Next()
		if err != nil {
			return nil, err
		}
	}

	for i := 0; i < numCols; i++ {
		ts.Columns[i] = buildColumnStats(columns[i], ts.RowCount, maxBuckets)
	}
	return ts, nil
}

func buildColumnStats(vals []record.Value, rowCount int64, maxBuckets int) *ColumnStats {
	cs := &ColumnStats{RowCount: rowCount}
	if len(vals) == 0 {
		return cs
	}
	sorted := append([]record.Value(nil), vals...)
	sort.Slice(sorted, func(i, j int) bool { return record.Compare(sorted[i], sorted[j]) < 0 })

	distinct := int64(0)
	for i, v := range sorted {
		if v.IsNull() {
			cs.NullCount++
			continue
		}
		if i == 0 || record.Compare(v, sorted[i-1]) != 0 {
			distinct++
		}
	}
	cs.NDV = distinct
	if cs.NDV == 0 {
		cs.NDV = 1
	}
	nonNull := sorted
	for len(nonNull) > 0 && nonNull[0].IsNull() {
		nonNull = nonNull[1:]
	}
	if len(nonNull) > 0 {
		cs.Min = nonNull[0]
		cs.Max = nonNull[len(nonNull)-1]
	}
	cs.Buckets = buildHistogram(nonNull, maxBuckets)
	return cs
}

// buildHistogram partitions sorted, non-null values into up to B
// equi-depth buckets.
func buildHistogram(sorted []record.Value, maxBuckets int) []HistogramBucket {
	if len(sorted) == 0 || maxBuckets <= 0 {
		return nil
	}
	n := len(sorted)
	bucketSize := (n + maxBuckets - 1) / maxBuckets
	if bucketSize == 0 {
		bucketSize = 1
	}
	var buckets []HistogramBucket
	for start := 0; start < n; start += bucketSize {
		end := start + bucketSize
		if end > n {
			end = n
		}
		seen := map[string]bool{}
		for _, v := range sorted[start:end] {
			seen[bucketKey(v)] = true
		}
		buckets = append(buckets, HistogramBucket{
			Lower: sorted[start],
			Upper: sorted[end-1],
			Count: int64(end - start),
			NDV:   int64(len(seen)),
		})
	}
	return buckets
}

func bucketKey(v record.Value) string {
	switch v.Kind {
	case record.KindText:
		return "t:" + v.S
	case record.KindBlob:
		return "b:" + string(v.B)
	case record.KindInteger:
		return "i:" + strconv.FormatInt(v.I, 10)
	default:
		return "f:" + strconv.FormatFloat(v.F, 'g', -1, 64)
	}
}
