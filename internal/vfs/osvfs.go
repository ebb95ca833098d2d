package vfs

import (
	"os"
	"sync"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
)

// OSVFS is the default VFS, backed by the local filesystem. Locking is
// modeled with an in-process mutex per open file rather than real
// flock(2)/LockFileEx byte-range locks: the core is specified as a
// single-process, potentially multi-threaded user of the VFS (§5), so a
// process-local lock hierarchy is sufficient and keeps the VFS portable.
type OSVFS struct{}

// NewOSVFS returns the default filesystem-backed VFS.
func NewOSVFS() *OSVFS { return &OSVFS{} }

func (OSVFS) Open(path string, flags OpenFlags) (File, error) {
	var osFlags int
	switch {
	case flags&OpenReadWrite != 0:
		osFlags = os.O_RDWR
	default:
		osFlags = os.O_RDONLY
	}
	if flags&OpenCreate != 0 {
		osFlags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, osFlags, 0644)
	if err != nil {
		return nil, fsqliteerr.NewIoErr(fsqliteerr.IoRead, err, "open %s", path)
	}
	return &osFile{f: f}, nil
}

func (OSVFS) Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fsqliteerr.NewIoErr(fsqliteerr.IoWrite, err, "delete %s", path)
	}
	return nil
}

func (OSVFS) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fsqliteerr.NewIoErr(fsqliteerr.IoRead, err, "stat %s", path)
}

func (v OSVFS) OpenShm(path string) (SharedSegment, error) {
	return newOSShm(path + "-shm")
}

type osFile struct {
	mu    sync.Mutex
	f     *os.File
	level LockLevel
}

func (o *osFile) ReadAt(p []byte, off int64) (int, error) {
	n, err := o.f.ReadAt(p, off)
	return n, err
}

func (o *osFile) WriteAt(p []byte, off int64) (int, error) {
	n, err := o.f.WriteAt(p, off)
	if err != nil {
		return n, fsqliteerr.NewIoErr(fsqliteerr.IoWrite, err, "write")
	}
	return n, nil
}

func (o *osFile) Truncate(size int64) error {
	if err := o.f.Truncate(size); err != nil {
		return fsqliteerr.NewIoErr(fsqliteerr.IoTruncate, err, "truncate")
	}
	return nil
}

func (o *osFile) Sync(level SyncLevel) error {
	if err := o.f.Sync(); err != nil {
		return fsqliteerr.NewIoErr(fsqliteerr.IoFsync, err, "sync")
	}
	return nil
}

func (o *osFile) FileSize() (int64, error) {
	fi, err := o.f.Stat()
	if err != nil {
		return 0, fsqliteerr.NewIoErr(fsqliteerr.IoRead, err, "stat")
	}
	return fi.Size(), nil
}

func (o *osFile) Lock(level LockLevel) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if level < o.level {
		return fsqliteerr.New(fsqliteerr.Misuse, "lock downgrade via Lock(); use Unlock")
	}
	o.level = level
	return nil
}

func (o *osFile) Unlock(level LockLevel) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if level > o.level {
		return fsqliteerr.New(fsqliteerr.Misuse, "unlock above current level")
	}
	o.level = level
	return nil
}

func (o *osFile) Close() error {
	return o.f.Close()
}
