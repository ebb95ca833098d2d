package planner

import (
	"fmt"

	"github.com/fractalsoft/frankendb/internal/schema"
	"github.com/fractalsoft/frankendb/internal/sqlparser"
)

// AccessPath describes one candidate way to read rows from a single
// FROM-item: a full table scan, or a seek through one of its indexes.
// §4.H "Indexes available, unique, covering, ordering are considered."
type AccessPath struct {
	Table     *schema.TableInfo
	Alias     string
	Index     *schema.IndexInfo // nil for a full scan
	EstRows   float64
	EstCost   float64
}

// Scope maps an unqualified or table-qualified column reference to the
// (source index, column index) pair the compiler resolves it to,
// where source index is the order in which sources were added (the
// FROM table first, then each JOIN in source order), not the
// cost-chosen loop order.
type Scope struct {
	sources []scopeSource
}

type scopeSource struct {
	alias string
	table *schema.TableInfo
}

func NewScope() *Scope { return &Scope{} }

func (s *Scope) Add(alias string, t *schema.TableInfo) int {
	s.sources = append(s.sources, scopeSource{alias: alias, table: t})
	return len(s.sources) - 1
}

// AddAnonymous adds a pseudo-source with no table identity (nothing
// else in Scope can be qualified with it), used to resolve ORDER BY
// column references against a projection's own aliases.
func (s *Scope) AddAnonymous(cols []sqlparser.ColumnDef) int {
	return s.Add("", &schema.TableInfo{Cols: cols})
}

// FlatIndex converts a (sourceIdx, colIdx) pair into its position in a
// row built by projecting every column of every source in Scope order
// (the layout emitProjectionAndResult produces for a Star query), for
// the Go-side evaluator that runs over such rows post-VM.
func (s *Scope) FlatIndex(sourceIdx, colIdx int) (int, error) {
	if sourceIdx < 0 || sourceIdx >= len(s.sources) {
		return 0, fmt.Errorf("planner: source index %d out of range", sourceIdx)
	}
	pos := 0
	for i := 0; i < sourceIdx; i++ {
		pos += len(s.sources[i].table.Cols)
	}
	if colIdx < 0 || colIdx >= len(s.sources[sourceIdx].table.Cols) {
		return 0, fmt.Errorf("planner: column index %d out of range", colIdx)
	}
	return pos + colIdx, nil
}

// Resolve finds (sourceIdx, colIdx) for a VarRef: when Table is set
// only sources whose alias or table name matches it are searched,
// otherwise every source is. It returns the first column name match
// in Scope order; a name present in several sources is not reported
// as ambiguous.
func (s *Scope) Resolve(ref sqlparser.VarRef) (sourceIdx, colIdx int, err error) {
	for si, src := range s.sources {
		if ref.Table != "" && !equalFoldAlias(ref.Table, src.alias) && !equalFoldAlias(ref.Table, src.table.Name) {
			continue
		}
		for ci, col := range src.table.Cols {
			if equalFoldAlias(col.Name, ref.Name) {
				return si, ci, nil
			}
		}
	}
	return 0, 0, fmt.Errorf("planner: no such column %s", qualifiedName(ref))
}

func qualifiedName(ref sqlparser.VarRef) string {
	if ref.Table == "" {
		return ref.Name
	}
	return ref.Table + "." + ref.Name
}

func equalFoldAlias(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// JoinOrder runs a left-deep dynamic-programming search over access
// paths (§4.H "Join order... DP over access paths; cost = I/O + CPU").
// For the table counts realistic in an embedded engine's query surface
// (single digits), the DP state is the subset bitmask of tables placed
// so far; this is the standard System-R formulation.
func JoinOrder(paths []AccessPath) []int {
	n := len(paths)
	if n <= 1 {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order
	}
	best := make(map[uint32]joinState)
	for i, p := range paths {
		mask := uint32(1) << i
		best[mask] = joinState{cost: p.EstCost, prev: []int{i}}
	}
	full := uint32(1)<<n - 1
	for mask := uint32(1); mask <= full; mask++ {
		cur, ok := best[mask]
		if !ok {
			continue
		}
		for i, p := range paths {
			bit := uint32(1) << i
			if mask&bit != 0 {
				continue
			}
			nextMask := mask | bit
			// Joining adds this path's scan cost plus a per-row probe
			// cost proportional to the rows already accumulated
			// (nested-loop join cost model).
			joinCost := cur.cost + p.EstCost + cur.rowsEstimate(paths)*p.EstCost/estRowsOr1(p)
			if existing, ok := best[nextMask]; !ok || joinCost < existing.cost {
				prev := append(append([]int(nil), cur.prev...), i)
				best[nextMask] = joinState{cost: joinCost, prev: prev}
			}
		}
	}
	return best[full].prev
}

// joinState is one DP cell: the cheapest known cost to have placed
// exactly the tables named in prev (in that order), keyed externally
// by their subset bitmask.
type joinState struct {
	cost float64
	prev []int
}

func (s joinState) rowsEstimate(paths []AccessPath) float64 {
	r := 1.0
	for _, i := range s.prev {
		if paths[i].EstRows > 0 {
			r *= paths[i].EstRows
		}
	}
	return r
}

func estRowsOr1(p AccessPath) float64 {
	if p.EstRows <= 0 {
		return 1
	}
	return p.EstRows
}
