// Package telemetry collects the counters the engine's subsystems are
// required to expose for introspection: page-cache hit/miss/eviction
// rates, b-tree split/merge counts, and MVCC conflict/retry
// statistics. Nothing here drives behavior: the b-tree and MVCC layers
// update these counters, and no PRAGMA or test in the module reads
// them back.
package telemetry

import "sync/atomic"

// BTreeStats counts structural mutations a single tree has performed,
// satisfying the observability requirement that split/merge activity
// be inspectable without re-walking the tree.
type BTreeStats struct {
	Splits       uint64
	Merges       uint64
	Redistributs uint64
	Inserts      uint64
	Deletes      uint64
}

func (s *BTreeStats) RecordSplit()       { atomic.AddUint64(&s.Splits, 1) }
func (s *BTreeStats) RecordMerge()       { atomic.AddUint64(&s.Merges, 1) }
func (s *BTreeStats) RecordRedistribute() { atomic.AddUint64(&s.Redistributs, 1) }
func (s *BTreeStats) RecordInsert()      { atomic.AddUint64(&s.Inserts, 1) }
func (s *BTreeStats) RecordDelete()      { atomic.AddUint64(&s.Deletes, 1) }

// CacheStats mirrors the ARC page cache's counters (§4.B).
type CacheStats struct {
	Hits           uint64
	Misses         uint64
	Evictions      uint64
	SwizzleFaults  uint64
	SwizzleRetries uint64
}

func (s *CacheStats) LoadFactor(resident, capacity int) float64 {
	if capacity == 0 {
		return 0
	}
	return float64(resident) / float64(capacity)
}

// MVCCStats tracks the per-manager counters the spec requires for
// transaction conflict observability: running mean/variance of pages
// visited per transaction (Welford's algorithm, so no history buffer
// is retained), plus conflict and merge/rebase outcome counts.
type MVCCStats struct {
	Conflicts        uint64
	Commits          uint64
	MergeSuccesses   uint64
	RebaseSuccesses  uint64
	pagesVisitedMean float64
	pagesVisitedM2   float64
	pagesVisitedN    uint64
	writeWidthMean   float64
	writeWidthN      uint64
}

func (s *MVCCStats) RecordConflict()       { atomic.AddUint64(&s.Conflicts, 1) }
func (s *MVCCStats) RecordCommit()         { atomic.AddUint64(&s.Commits, 1) }
func (s *MVCCStats) RecordMergeSuccess()   { atomic.AddUint64(&s.MergeSuccesses, 1) }
func (s *MVCCStats) RecordRebaseSuccess()  { atomic.AddUint64(&s.RebaseSuccesses, 1) }

// RecordPagesVisited folds one transaction's page-visit count into the
// running mean/variance via Welford's online algorithm.
func (s *MVCCStats) RecordPagesVisited(n int) {
	s.pagesVisitedN++
	delta := float64(n) - s.pagesVisitedMean
	s.pagesVisitedMean += delta / float64(s.pagesVisitedN)
	delta2 := float64(n) - s.pagesVisitedMean
	s.pagesVisitedM2 += delta * delta2
}

// PagesVisitedMeanVariance reports the current running mean and sample
// variance of pages-visited-per-transaction.
func (s *MVCCStats) PagesVisitedMeanVariance() (mean, variance float64) {
	if s.pagesVisitedN == 0 {
		return 0, 0
	}
	if s.pagesVisitedN < 2 {
		return s.pagesVisitedMean, 0
	}
	return s.pagesVisitedMean, s.pagesVisitedM2 / float64(s.pagesVisitedN-1)
}

// RecordWriteWidth folds one transaction's write-set size into a
// running mean, giving an estimate of typical write-width for capacity
// planning without retaining per-transaction history.
func (s *MVCCStats) RecordWriteWidth(n int) {
	s.writeWidthN++
	delta := float64(n) - s.writeWidthMean
	s.writeWidthMean += delta / float64(s.writeWidthN)
}

func (s *MVCCStats) WriteWidthEstimate() float64 { return s.writeWidthMean }
