package pager

import (
	"fmt"
	"sync"
	"time"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
	"github.com/fractalsoft/frankendb/internal/vfs"
)

// JournalMode selects which of the two commit paths in §3's Lifecycle
// a write transaction uses: pre-image rollback journal, or post-image
// WAL frames.
type JournalMode int

const (
	JournalRollback JournalMode = iota
	JournalWAL
)

// WALHandle is the subset of *wal.WAL the pager needs. It is an
// interface (rather than a direct import) so the wal package can in
// turn depend on pager.Header/PageNumber without an import cycle; the
// concrete *wal.WAL is wired in via AttachWAL after both are
// constructed.
type WALHandle interface {
	ReadPage(no PageNumber) ([]byte, bool, error)
	AppendFrame(no PageNumber, data []byte, dbSizeAfterCommit uint32) error
	FrameCount() int
}

// Pager owns the page buffer cache and the durable write path for one
// open database file. It is the single owner of page identity: cursors
// and b-tree code hold PageNumbers and re-fetch through the Pager on
// each use rather than holding long-lived pointers (§9 "Cyclic
// references").
type Pager struct {
	mu sync.Mutex

	v    vfs.VFS
	file vfs.File
	path string

	header     Header
	cache      *ARCCache
	mode       JournalMode
	wal        WALHandle
	journal    vfs.File
	journalPath string
	journalHdr  JournalHeader
	journaled   map[PageNumber]bool // pages already pre-image-logged this tx

	inWriteTx bool
	freeList  []PageNumber // pages freed this tx, pending freelist flush
	busy      BusyHandler

	Splits, Merges uint64 // exposed to b-tree telemetry passthrough
}

// BusyHandler is invoked when BeginWrite finds the pager already
// holding a write transaction. It receives the zero-based retry count
// and reports whether BeginWrite should wait and try again; a nil
// handler (the default) means BeginWrite fails immediately with Busy.
type BusyHandler func(attempt int) bool

// Option configures a Pager at Open time.
type Option func(*Pager)

// WithBusyHandler installs h as the pager's retry strategy for
// BeginWrite contention (§5 "Cancellation & timeouts").
func WithBusyHandler(h BusyHandler) Option {
	return func(p *Pager) { p.busy = h }
}

// NewExponentialBusyHandler returns a BusyHandler that sleeps
// base*2^attempt (capped at max) before each retry, giving up once
// attempt reaches maxAttempts.
func NewExponentialBusyHandler(maxAttempts int, base, max time.Duration) BusyHandler {
	return func(attempt int) bool {
		if attempt >= maxAttempts {
			return false
		}
		d := base << uint(attempt)
		if d <= 0 || d > max {
			d = max
		}
		time.Sleep(d)
		return true
	}
}

// Open opens (creating if absent) a database file at path using v,
// with the given default page size (used only when creating).
func Open(v vfs.VFS, path string, pageSize int, cachePages int, opts ...Option) (*Pager, error) {
	exists, err := v.Exists(path)
	if err != nil {
		return nil, err
	}
	f, err := v.Open(path, vfs.OpenReadWrite|vfs.OpenCreate)
	if err != nil {
		return nil, err
	}
	p := &Pager{v: v, file: f, path: path, journaled: make(map[PageNumber]bool)}
	size, err := f.FileSize()
	if err != nil {
		return nil, err
	}
	if !exists || size == 0 {
		p.header = DefaultHeader(uint32(pageSize))
		if err := p.flushHeaderPage(); err != nil {
			return nil, err
		}
	} else {
		buf := make([]byte, HeaderSize)
		if _, err := f.ReadAt(buf, 0); err != nil {
			return nil, err
		}
		h, err := DecodeHeader(buf)
		if err != nil {
			return nil, err
		}
		p.header = h
	}
	p.cache = NewARCCache(cachePages, p.writeBackPage)
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// AttachWAL switches the pager into WAL journal mode backed by w.
func (p *Pager) AttachWAL(w WALHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wal = w
	p.mode = JournalWAL
}

func (p *Pager) Mode() JournalMode { return p.mode }
func (p *Pager) Header() Header    { return p.header }
func (p *Pager) PageSize() int     { return int(p.header.PageSize) }
func (p *Pager) PageCount() uint32 { return p.header.DBSizePages }

func (p *Pager) writeBackPage(no PageNumber, buf []byte) error {
	// Cache-driven eviction write-back always goes to the main file: by
	// the time a dirty page is chosen as an eviction victim it has
	// already been durably logged to the WAL/journal by fetch_for_write,
	// so this is just filling the buffer-cache hole, not the commit path.
	return p.writePageRaw(no, buf)
}

func (p *Pager) pageOffset(no PageNumber) int64 {
	return int64(no-1) * int64(p.header.PageSize)
}

func (p *Pager) readPageRaw(no PageNumber) ([]byte, error) {
	buf := make([]byte, p.header.PageSize)
	if _, err := p.file.ReadAt(buf, p.pageOffset(no)); err != nil {
		return nil, fsqliteerr.NewIoErr(fsqliteerr.IoRead, err, "read page %d", no)
	}
	return buf, nil
}

func (p *Pager) writePageRaw(no PageNumber, buf []byte) error {
	if _, err := p.file.WriteAt(buf, p.pageOffset(no)); err != nil {
		return fsqliteerr.NewIoErr(fsqliteerr.IoWrite, err, "write page %d", no)
	}
	return nil
}

func (p *Pager) flushHeaderPage() error {
	buf := make([]byte, p.header.PageSize)
	hdr := p.header.Encode()
	copy(buf, hdr[:])
	return p.writePageRaw(1, buf)
}

// Fetch returns a pinned read handle for page no (§4.B fetch). On a
// cache miss it is read from the WAL (if attached and the page has a
// committed frame) or the main file, per ARC insertion policy.
func (p *Pager) Fetch(no PageNumber) (*PageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetchLocked(no)
}

func (p *Pager) fetchLocked(no PageNumber) (*PageRef, error) {
	if fr := p.cache.Get(no); fr != nil {
		fr.pinned++
		return &PageRef{p: p, no: no, buf: fr.buf}, nil
	}
	var buf []byte
	if p.wal != nil {
		if b, ok, err := p.wal.ReadPage(no); err != nil {
			return nil, err
		} else if ok {
			buf = b
		}
	}
	if buf == nil {
		var err error
		buf, err = p.readPageRaw(no)
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.cache.Insert(no, buf); err != nil {
		return nil, err
	}
	return &PageRef{p: p, no: no, buf: buf}, nil
}

// FetchForWrite returns a mutable handle and, the first time this page
// is touched within the current write transaction, logs its pre-image
// to the rollback journal (JournalRollback mode) so the page is safe to
// overwrite in place; in WAL mode no pre-image logging happens because
// the WAL itself holds the post-image and the main file is untouched
// until checkpoint.
func (p *Pager) FetchForWrite(no PageNumber) (*PageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inWriteTx {
		return nil, fsqliteerr.New(fsqliteerr.Misuse, "fetch_for_write outside a write transaction")
	}
	ref, err := p.fetchLocked(no)
	if err != nil {
		return nil, err
	}
	if p.mode == JournalRollback && !p.journaled[no] {
		if err := p.logPreImage(no, ref.buf); err != nil {
			return nil, err
		}
		p.journaled[no] = true
	}
	p.cache.MarkDirty(no)
	return ref, nil
}

func (p *Pager) logPreImage(no PageNumber, preImage []byte) error {
	if p.journal == nil {
		return nil // no journal open yet (WAL mode never reaches here)
	}
	rec := JournalRecord{PageNo: no, Content: preImage}
	data := encodeJournalRecord(p.journalHdr.Nonce, rec)
	off := int64(JournalHeaderSize) + int64(p.journalHdr.RecordCount)*int64(4+len(preImage)+4)
	if _, err := p.journal.WriteAt(data, off); err != nil {
		return err
	}
	p.journalHdr.RecordCount++
	return nil
}

// BeginWrite starts a write transaction. In rollback mode it opens the
// journal file and writes its header; in WAL mode it simply marks the
// pager as the current writer (the WAL file itself is append-only and
// needs no separate "begin" record). When the pager is already in a
// write transaction and a BusyHandler was installed via WithBusyHandler,
// BeginWrite consults it before giving up, sleeping outside the lock
// between attempts so the holder of the transaction can finish and
// release it.
func (p *Pager) BeginWrite() error {
	for attempt := 0; ; attempt++ {
		acquired, err := p.tryBeginWrite()
		if acquired {
			return err
		}
		p.mu.Lock()
		h := p.busy
		p.mu.Unlock()
		if h == nil || !h(attempt) {
			return fsqliteerr.New(fsqliteerr.Busy, "a write transaction is already active")
		}
	}
}

// tryBeginWrite makes one attempt to take the write lock. acquired is
// false (with a nil error) when another write transaction already holds
// the pager, the only case BeginWrite's busy-handler retry applies to;
// acquired is true for both success and a genuine failure (e.g. the
// rollback journal file could not be opened).
func (p *Pager) tryBeginWrite() (acquired bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inWriteTx {
		return false, nil
	}
	p.inWriteTx = true
	p.journaled = make(map[PageNumber]bool)
	p.freeList = nil
	if p.mode == JournalRollback {
		f, err := p.v.Open(p.path+"-journal", vfs.OpenReadWrite|vfs.OpenCreate)
		if err != nil {
			p.inWriteTx = false
			return true, err
		}
		p.journal = f
		p.journalHdr = JournalHeader{
			RecordCount:  0,
			Nonce:        0x9e3779b9,
			InitialPages: p.header.DBSizePages,
			SectorSize:   512,
			PageSize:     p.header.PageSize,
		}
		hdr := p.journalHdr.Encode()
		if _, err := p.journal.WriteAt(hdr[:], 0); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Commit finalizes the current write transaction. Rollback mode
// truncates the journal to zero (the "journal marker cleared" step);
// WAL mode appends a commit frame with a nonzero post-commit page
// count, making the transaction atomically visible.
func (p *Pager) Commit() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inWriteTx {
		return fsqliteerr.New(fsqliteerr.Misuse, "commit outside a write transaction")
	}
	defer func() { p.inWriteTx = false }()

	p.header.FileChangeCounter++
	if err := p.flushHeaderPage(); err != nil {
		return err
	}

	switch p.mode {
	case JournalRollback:
		for _, no := range p.cache.DirtyPages() {
			fr := p.cache.Get(no)
			if fr == nil {
				continue
			}
			if err := p.writePageRaw(no, fr.buf); err != nil {
				return err
			}
		}
		if err := p.file.Sync(vfs.SyncFull); err != nil {
			return err
		}
		if p.journal != nil {
			if err := p.journal.Truncate(0); err != nil {
				return err
			}
			if err := p.journal.Close(); err != nil {
				return err
			}
			p.journal = nil
			_ = p.v.Delete(p.path + "-journal")
		}
	case JournalWAL:
		dirty := p.cache.DirtyPages()
		for i, no := range dirty {
			fr := p.cache.Get(no)
			if fr == nil {
				continue
			}
			dbSize := uint32(0)
			if i == len(dirty)-1 {
				dbSize = p.header.DBSizePages
			}
			if err := p.wal.AppendFrame(no, fr.buf, dbSize); err != nil {
				return err
			}
		}
		if len(dirty) == 0 {
			// An empty write transaction still needs a commit marker so
			// recovery has something to call "last_commit_frame" if this
			// was, e.g., a schema-only no-op; append a frame for page 1.
			ref, err := p.fetchLocked(1)
			if err == nil {
				_ = p.wal.AppendFrame(1, ref.buf, p.header.DBSizePages)
			}
		}
	}
	return nil
}

// Rollback abandons the current write transaction. In rollback mode,
// every journaled pre-image is replayed back over the main file and the
// in-cache copies are dropped so the next Fetch re-reads the restored
// bytes; in WAL mode, nothing was ever written to the main file, so
// rollback just drops the dirty in-cache pages (their WAL frames, if
// any were appended, are simply never referenced as committed because
// no commit frame followed them).
func (p *Pager) Rollback() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inWriteTx {
		return fsqliteerr.New(fsqliteerr.Misuse, "rollback outside a write transaction")
	}
	defer func() { p.inWriteTx = false }()

	if p.mode == JournalRollback && p.journal != nil {
		buf := make([]byte, JournalHeaderSize)
		if _, err := p.journal.ReadAt(buf, 0); err == nil {
			if hdr, err := DecodeJournalHeader(buf); err == nil {
				off := int64(JournalHeaderSize)
				for i := int32(0); i < hdr.RecordCount; i++ {
					recBuf := make([]byte, 4+int(hdr.PageSize)+4)
					if _, err := p.journal.ReadAt(recBuf, off); err != nil {
						break
					}
					rec, n, err := decodeJournalRecord(hdr.Nonce, int(hdr.PageSize), recBuf)
					if err != nil {
						break
					}
					_ = p.writePageRaw(rec.PageNo, rec.Content)
					p.cache.Remove(rec.PageNo)
					off += int64(n)
				}
			}
		}
		_ = p.journal.Truncate(0)
		_ = p.journal.Close()
		p.journal = nil
		_ = p.v.Delete(p.path + "-journal")
	} else {
		for _, no := range p.cache.DirtyPages() {
			p.cache.Remove(no)
		}
	}
	return nil
}

// CheckFreelist walks the freelist trunk chain starting at the
// header's FreelistTrunkPage and cross-checks the number of pages it
// visits against the header's own FreelistPageCount, returning one
// message per discrepancy (a nil/empty result means the freelist is
// consistent).
func (p *Pager) CheckFreelist() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var violations []string
	seen := make(map[PageNumber]bool)
	visited := 0
	trunk := PageNumber(p.header.FreelistTrunkPage)
	for trunk != 0 {
		if seen[trunk] {
			violations = append(violations, fmt.Sprintf("freelist: trunk page %d revisited (cycle)", trunk))
			break
		}
		seen[trunk] = true
		visited++
		ref, err := p.fetchLocked(trunk)
		if err != nil {
			violations = append(violations, fmt.Sprintf("freelist: trunk page %d: %v", trunk, err))
			break
		}
		next, leaves, err := decodeFreelistTrunk(ref.buf)
		if err != nil {
			violations = append(violations, fmt.Sprintf("freelist: trunk page %d: %v", trunk, err))
			break
		}
		visited += len(leaves)
		trunk = next
	}
	if uint32(visited) != p.header.FreelistPageCount {
		violations = append(violations, fmt.Sprintf(
			"freelist: header reports %d free pages but the trunk chain visits %d",
			p.header.FreelistPageCount, visited))
	}
	return violations
}

// Allocate returns a fresh page number, recycling from the freelist
// trunk chain if non-empty, else extending the logical file size.
func (p *Pager) Allocate() (PageNumber, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.header.FreelistTrunkPage != 0 {
		ref, err := p.fetchLocked(p.header.FreelistTrunkPage)
		if err != nil {
			return 0, err
		}
		next, leaves, err := decodeFreelistTrunk(ref.buf)
		if err != nil {
			return 0, err
		}
		if len(leaves) > 0 {
			leaf := leaves[len(leaves)-1]
			leaves = leaves[:len(leaves)-1]
			buf := make([]byte, p.header.PageSize)
			encodeFreelistTrunk(buf, next, leaves)
			p.header.FreelistPageCount--
			if err := p.writePageRaw(p.header.FreelistTrunkPage, buf); err != nil {
				return 0, err
			}
			p.cache.Remove(p.header.FreelistTrunkPage)
			return leaf, nil
		}
		// Trunk itself is now empty of leaves; recycle the trunk page.
		p.header.FreelistTrunkPage = next
		p.header.FreelistPageCount--
		return ref.no, nil
	}
	p.header.DBSizePages++
	return PageNumber(p.header.DBSizePages), nil
}

// Free links no onto the freelist, creating a new trunk page if none
// exists or the current trunk is full.
func (p *Pager) Free(no PageNumber) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Remove(no)
	cap := freelistCapacity(p.header.UsableSize())
	if p.header.FreelistTrunkPage != 0 {
		ref, err := p.fetchLocked(p.header.FreelistTrunkPage)
		if err == nil {
			next, leaves, err := decodeFreelistTrunk(ref.buf)
			if err == nil && len(leaves) < cap {
				leaves = append(leaves, no)
				buf := make([]byte, p.header.PageSize)
				encodeFreelistTrunk(buf, next, leaves)
				p.header.FreelistPageCount++
				p.cache.Remove(p.header.FreelistTrunkPage)
				return p.writePageRaw(p.header.FreelistTrunkPage, buf)
			}
		}
	}
	buf := make([]byte, p.header.PageSize)
	encodeFreelistTrunk(buf, p.header.FreelistTrunkPage, nil)
	p.header.FreelistTrunkPage = no
	p.header.FreelistPageCount++
	return p.writePageRaw(no, buf)
}

// Close flushes the header and closes the underlying file.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.flushHeaderPage(); err != nil {
		return err
	}
	return p.file.Close()
}

// PageRef is a pinned read handle returned by Fetch/FetchForWrite.
type PageRef struct {
	p   *Pager
	no  PageNumber
	buf []byte
}

func (r *PageRef) No() PageNumber { return r.no }
func (r *PageRef) Bytes() []byte  { return r.buf }

// Unpin releases the pin taken by Fetch/FetchForWrite.
func (r *PageRef) Unpin() {
	r.p.cache.Unpin(r.no)
}
