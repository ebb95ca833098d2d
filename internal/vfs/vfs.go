// Package vfs abstracts the filesystem surface the pager and WAL need:
// a byte-addressable file plus a shared-memory region for the WAL-index.
// Two implementations exist: an OS-backed VFS for real use and an
// in-memory VFS that the module's tests run against so they never
// touch a real disk.
package vfs

import "io"

// LockLevel mirrors the file-level lock hierarchy: SHARED < RESERVED <
// PENDING < EXCLUSIVE. Upgrades must be requested in order; downgrades
// may jump directly to Unlocked or Shared.
type LockLevel int

const (
	LockNone LockLevel = iota
	LockShared
	LockReserved
	LockPending
	LockExclusive
)

// SyncLevel controls how hard Sync flushes to stable storage.
type SyncLevel int

const (
	SyncNormal SyncLevel = iota
	SyncFull
	SyncDataOnly
)

// File is the per-handle surface the pager and WAL writer use.
type File interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Sync(level SyncLevel) error
	FileSize() (int64, error)
	Lock(level LockLevel) error
	Unlock(level LockLevel) error
	Close() error
}

// SharedSegment is the WAL-index SHM abstraction (§9 "Shared mutable
// state"): a byte arena that multiple connections can map concurrently,
// with an explicit memory-barrier primitive standing in for the OS
// mmap+fence semantics used by real SQLite.
type SharedSegment interface {
	// Map returns (creating if needed and extend is true) a byte slice
	// backing the given region index, each region sized regionSize.
	Map(region int, regionSize int, extend bool) ([]byte, error)
	// Barrier establishes a happens-before edge: writes issued by this
	// connection before Barrier are visible to any connection that calls
	// Barrier after. The OS VFS backs this by writing its mapped regions
	// back to the -shm file and fsyncing it; the in-memory VFS is already
	// sequentially consistent under its mutex and Barrier is a no-op.
	Barrier()
	// Unmap releases all regions. Safe to call on an already-unmapped
	// segment.
	Unmap() error
}

// OpenFlags controls how VFS.Open treats a missing/existing path.
type OpenFlags int

const (
	OpenReadOnly OpenFlags = 1 << iota
	OpenReadWrite
	OpenCreate
)

// VFS is the abstract filesystem the pager and WAL are written against.
type VFS interface {
	Open(path string, flags OpenFlags) (File, error)
	Delete(path string) error
	Exists(path string) (bool, error)
	// OpenShm returns the SharedSegment backing path+"-shm".
	OpenShm(path string) (SharedSegment, error)
}
