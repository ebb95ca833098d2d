// Package mvcc implements the engine's multi-version concurrency
// control core: per-row version chains, snapshot isolation, and
// serializable conflict detection keyed on individual rows rather than
// whole tables.
package mvcc

import (
	"sync"
	"sync/atomic"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
	"github.com/fractalsoft/frankendb/internal/telemetry"
)

type TxID uint64
type Timestamp uint64

type TxStatus uint8

const (
	StatusInProgress TxStatus = iota
	StatusCommitted
	StatusAborted
)

type IsolationLevel uint8

const (
	ReadCommitted IsolationLevel = iota
	RepeatableRead
	SnapshotIsolation
	Serializable
)

// Key identifies one versioned row within a table: a table-tree rowid
// or an index-tree key, stringified so both fit the same set type.
type Key string

func RowKey(rowid int64) Key { return Key("#" + itoa(rowid)) }
func BytesKey(b []byte) Key  { return Key(b) }

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

type keySet map[string]map[Key]bool

func (s keySet) add(table string, k Key) {
	if s[table] == nil {
		s[table] = make(map[Key]bool)
	}
	s[table][k] = true
}

func (s keySet) clone() keySet {
	out := make(keySet, len(s))
	for t, ks := range s {
		cp := make(map[Key]bool, len(ks))
		for k := range ks {
			cp[k] = true
		}
		out[t] = cp
	}
	return out
}

func (s keySet) intersects(other keySet) bool {
	for t, ks := range s {
		oks, ok := other[t]
		if !ok {
			continue
		}
		for k := range ks {
			if oks[k] {
				return true
			}
		}
	}
	return false
}

// savepointMark is a deep-copied checkpoint of a transaction's read
// and write sets, restored wholesale by RollbackTo.
type savepointMark struct {
	name     string
	writeSet keySet
	readSet  keySet
}

// Tx is a single transaction's MVCC context.
type Tx struct {
	ID             TxID
	StartTime      Timestamp
	ReadSnapshot   Timestamp
	Status         TxStatus
	IsolationLevel IsolationLevel

	mu         sync.RWMutex
	writeSet   keySet
	readSet    keySet
	savepoints []savepointMark
}

func newTx(id TxID, start Timestamp, level IsolationLevel) *Tx {
	return &Tx{
		ID:             id,
		StartTime:      start,
		ReadSnapshot:   start,
		Status:         StatusInProgress,
		IsolationLevel: level,
		writeSet:       make(keySet),
		readSet:        make(keySet),
	}
}

func (tx *Tx) RecordRead(table string, k Key) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.readSet.add(table, k)
}

func (tx *Tx) RecordWrite(table string, k Key) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.writeSet.add(table, k)
}

// Savepoint pushes a named checkpoint of the current read/write sets.
func (tx *Tx) Savepoint(name string) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.savepoints = append(tx.savepoints, savepointMark{
		name:     name,
		writeSet: tx.writeSet.clone(),
		readSet:  tx.readSet.clone(),
	})
}

// RollbackTo restores read/write sets to the state at Savepoint(name),
// discarding it and any savepoints nested inside it. The caller is
// responsible for undoing the corresponding row mutations in the
// b-tree layer; this only restores MVCC bookkeeping.
func (tx *Tx) RollbackTo(name string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for i := len(tx.savepoints) - 1; i >= 0; i-- {
		if tx.savepoints[i].name == name {
			mark := tx.savepoints[i]
			tx.writeSet = mark.writeSet
			tx.readSet = mark.readSet
			tx.savepoints = tx.savepoints[:i]
			return nil
		}
	}
	return fsqliteerr.New(fsqliteerr.Misuse, "mvcc: no such savepoint "+name)
}

// Release drops a savepoint without restoring state (RELEASE SAVEPOINT).
func (tx *Tx) Release(name string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for i := len(tx.savepoints) - 1; i >= 0; i-- {
		if tx.savepoints[i].name == name {
			tx.savepoints = tx.savepoints[:i]
			return nil
		}
	}
	return fsqliteerr.New(fsqliteerr.Misuse, "mvcc: no such savepoint "+name)
}

// Version is one row's MVCC metadata, chained to older versions.
type Version struct {
	XMin, XMax           TxID
	CreatedAt, DeletedAt Timestamp
	Data                 []byte
	Next                 *Version
}

type commitRecord struct {
	txID     TxID
	commitTS Timestamp
	writes   keySet
}

// Manager coordinates transaction IDs, commit ordering, and
// visibility across a single database's version chains.
type Manager struct {
	mu sync.RWMutex

	nextTxID      atomic.Uint64
	nextTimestamp atomic.Uint64

	active   map[TxID]*Tx
	commits  []commitRecord // pruned as oldestActive advances
	oldest   TxID
	gcMark   Timestamp

	Stats telemetry.MVCCStats
}

func NewManager() *Manager {
	m := &Manager{active: make(map[TxID]*Tx)}
	m.nextTxID.Store(1)
	m.nextTimestamp.Store(1)
	return m
}

func (m *Manager) Begin(level IsolationLevel) *Tx {
	id := TxID(m.nextTxID.Add(1))
	start := Timestamp(m.nextTimestamp.Add(1))
	tx := newTx(id, start, level)

	m.mu.Lock()
	m.active[id] = tx
	m.recomputeWatermark()
	m.mu.Unlock()
	return tx
}

// Commit finalizes tx, running the serializable conflict check first
// when the transaction asked for that isolation level. The check
// aborts iff a transaction committed after tx began and its write set
// intersects tx's read set or write set (§4.F).
func (m *Manager) Commit(tx *Tx) (Timestamp, error) {
	if tx.Status != StatusInProgress {
		return 0, fsqliteerr.New(fsqliteerr.Misuse, "mvcc: transaction not active")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.IsolationLevel == Serializable {
		tx.mu.RLock()
		conflict := false
		for _, rec := range m.commits {
			if rec.txID == tx.ID || rec.commitTS <= tx.StartTime {
				continue
			}
			if rec.writes.intersects(tx.readSet) || rec.writes.intersects(tx.writeSet) {
				conflict = true
				break
			}
		}
		tx.mu.RUnlock()
		if conflict {
			m.Stats.RecordConflict()
			return 0, fsqliteerr.New(fsqliteerr.Busy, "could not serialize access due to concurrent update")
		}
	}

	commitTS := Timestamp(m.nextTimestamp.Add(1))
	tx.mu.Lock()
	tx.Status = StatusCommitted
	writes := tx.writeSet.clone()
	writeWidth := 0
	for _, ks := range writes {
		writeWidth += len(ks)
	}
	tx.mu.Unlock()

	m.commits = append(m.commits, commitRecord{txID: tx.ID, commitTS: commitTS, writes: writes})
	delete(m.active, tx.ID)
	m.recomputeWatermark()
	m.Stats.RecordCommit()
	m.Stats.RecordWriteWidth(writeWidth)
	return commitTS, nil
}

func (m *Manager) Abort(tx *Tx) {
	if tx.Status != StatusInProgress {
		return
	}
	tx.mu.Lock()
	tx.Status = StatusAborted
	tx.mu.Unlock()

	m.mu.Lock()
	delete(m.active, tx.ID)
	m.recomputeWatermark()
	m.mu.Unlock()
}

// IsVisible reports whether version rv is visible within tx's
// snapshot, per the standard begin/end-sequence visibility rule.
func (m *Manager) IsVisible(tx *Tx, rv *Version) bool {
	if rv.XMin == tx.ID {
		return rv.XMax == 0 || rv.XMax != tx.ID
	}
	creatorTS, creatorCommitted := m.commitTimestamp(rv.XMin)
	if !creatorCommitted || creatorTS > tx.ReadSnapshot {
		return false
	}
	if rv.XMax == 0 {
		return true
	}
	if rv.XMax == tx.ID {
		return false
	}
	deleterTS, deleterCommitted := m.commitTimestamp(rv.XMax)
	if !deleterCommitted || deleterTS > tx.ReadSnapshot {
		return true
	}
	return false
}

func (m *Manager) commitTimestamp(id TxID) (Timestamp, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.commits {
		if rec.txID == id {
			return rec.commitTS, true
		}
	}
	return 0, false
}

// recomputeWatermark updates the oldest-active transaction and prunes
// commit records no active transaction could ever conflict-check
// against again (commitTS at or before every active tx's start time).
func (m *Manager) recomputeWatermark() {
	var oldest TxID
	oldestStart := Timestamp(m.nextTimestamp.Load())
	for id, tx := range m.active {
		if oldest == 0 || id < oldest {
			oldest = id
			oldestStart = tx.StartTime
		}
	}
	m.oldest = oldest
	if oldest == 0 {
		m.gcMark = Timestamp(m.nextTimestamp.Load())
	} else {
		m.gcMark = oldestStart
	}

	kept := m.commits[:0]
	for _, rec := range m.commits {
		if rec.commitTS <= m.gcMark && oldest != 0 {
			continue
		}
		kept = append(kept, rec)
	}
	m.commits = kept
}

func (m *Manager) GCWatermark() Timestamp {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gcMark
}

// Table pairs version chains with the page storage for one relation's
// MVCC overlay, used when the connection runs with MVCC enabled
// rather than falling back to serialized writers (§4.F "Degradation").
type Table struct {
	Name string

	mu       sync.RWMutex
	versions map[Key]*Version
}

func NewTable(name string) *Table {
	return &Table{Name: name, versions: make(map[Key]*Version)}
}

func (t *Table) Insert(tx *Tx, k Key, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rv := &Version{XMin: tx.ID, CreatedAt: tx.StartTime, Data: data}
	t.versions[k] = rv
	tx.RecordWrite(t.Name, k)
}

func (t *Table) Update(tx *Tx, k Key, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.versions[k]
	if old == nil {
		return fsqliteerr.New(fsqliteerr.Internal, "mvcc: row not found")
	}
	old.XMax = tx.ID
	nv := &Version{XMin: tx.ID, CreatedAt: tx.StartTime, Data: data, Next: old}
	t.versions[k] = nv
	tx.RecordWrite(t.Name, k)
	return nil
}

func (t *Table) Delete(tx *Tx, k Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.versions[k]
	if v == nil {
		return fsqliteerr.New(fsqliteerr.Internal, "mvcc: row not found")
	}
	v.XMax = tx.ID
	tx.RecordWrite(t.Name, k)
	return nil
}

// Visible walks k's version chain for the first entry visible to tx,
// recording the read for conflict detection.
func (t *Table) Visible(m *Manager, tx *Tx, k Key) *Version {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pagesVisited := 0
	for v := t.versions[k]; v != nil; v = v.Next {
		pagesVisited++
		if m.IsVisible(tx, v) {
			tx.RecordRead(t.Name, k)
			m.Stats.RecordPagesVisited(pagesVisited)
			return v
		}
	}
	m.Stats.RecordPagesVisited(pagesVisited)
	return nil
}

// GC drops version-chain entries no longer reachable from any
// snapshot at or after watermark.
func (t *Table) GC(watermark Timestamp) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	collected := 0
	for k, head := range t.versions {
		if head.XMax != 0 && head.DeletedAt != 0 && head.DeletedAt < watermark {
			delete(t.versions, k)
			for v := head; v != nil; v = v.Next {
				collected++
			}
			continue
		}
		prev := head
		for cur := head.Next; cur != nil; {
			if cur.CreatedAt < watermark && cur.XMax != 0 {
				prev.Next = cur.Next
				collected++
				cur = prev.Next
				continue
			}
			prev = cur
			cur = cur.Next
		}
	}
	return collected
}
