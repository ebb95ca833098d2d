package vfs

import (
	"sync"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
)

// MemVFS is a process-local, in-memory VFS. The pager, planner, WAL and
// DB tests open their files through it so they never touch a real
// disk; none of them simulates a crash with it.
type MemVFS struct {
	mu    sync.Mutex
	files map[string]*memFileData
	shms  map[string]*memShm
}

// NewMemVFS returns an empty in-memory VFS.
func NewMemVFS() *MemVFS {
	return &MemVFS{files: make(map[string]*memFileData), shms: make(map[string]*memShm)}
}

type memFileData struct {
	mu   sync.Mutex
	data []byte
}

// Snapshot returns a copy of a file's current bytes, for crash-injection
// tests that want to truncate a WAL mid-frame and reopen.
func (v *MemVFS) Snapshot(path string) []byte {
	v.mu.Lock()
	fd, ok := v.files[path]
	v.mu.Unlock()
	if !ok {
		return nil
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	out := make([]byte, len(fd.data))
	copy(out, fd.data)
	return out
}

// Restore overwrites a file's bytes, e.g. to truncate it to simulate a
// torn write at the tail of the WAL.
func (v *MemVFS) Restore(path string, data []byte) {
	v.mu.Lock()
	fd, ok := v.files[path]
	if !ok {
		fd = &memFileData{}
		v.files[path] = fd
	}
	v.mu.Unlock()
	fd.mu.Lock()
	fd.data = append([]byte(nil), data...)
	fd.mu.Unlock()
}

func (v *MemVFS) Open(path string, flags OpenFlags) (File, error) {
	v.mu.Lock()
	fd, ok := v.files[path]
	if !ok {
		if flags&OpenCreate == 0 {
			v.mu.Unlock()
			return nil, fsqliteerr.NewIoErr(fsqliteerr.IoRead, nil, "no such file %s", path)
		}
		fd = &memFileData{}
		v.files[path] = fd
	}
	v.mu.Unlock()
	return &memFile{fd: fd}, nil
}

func (v *MemVFS) Delete(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.files, path)
	return nil
}

func (v *MemVFS) Exists(path string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.files[path]
	return ok, nil
}

func (v *MemVFS) OpenShm(path string) (SharedSegment, error) {
	key := path + "-shm"
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.shms[key]
	if !ok {
		s = &memShm{regions: make(map[int][]byte)}
		v.shms[key] = s
	}
	return s, nil
}

type memFile struct {
	fd    *memFileData
	level LockLevel
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	f.fd.mu.Lock()
	defer f.fd.mu.Unlock()
	if off >= int64(len(f.fd.data)) {
		return 0, fsqliteerr.NewIoErr(fsqliteerr.IoShortRead, nil, "read past EOF")
	}
	n := copy(p, f.fd.data[off:])
	if n < len(p) {
		return n, fsqliteerr.NewIoErr(fsqliteerr.IoShortRead, nil, "short read")
	}
	return n, nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	f.fd.mu.Lock()
	defer f.fd.mu.Unlock()
	need := off + int64(len(p))
	if need > int64(len(f.fd.data)) {
		grown := make([]byte, need)
		copy(grown, f.fd.data)
		f.fd.data = grown
	}
	copy(f.fd.data[off:], p)
	return len(p), nil
}

func (f *memFile) Truncate(size int64) error {
	f.fd.mu.Lock()
	defer f.fd.mu.Unlock()
	if size <= int64(len(f.fd.data)) {
		f.fd.data = f.fd.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, f.fd.data)
	f.fd.data = grown
	return nil
}

func (f *memFile) Sync(level SyncLevel) error { return nil }

func (f *memFile) FileSize() (int64, error) {
	f.fd.mu.Lock()
	defer f.fd.mu.Unlock()
	return int64(len(f.fd.data)), nil
}

func (f *memFile) Lock(level LockLevel) error {
	if level < f.level {
		return fsqliteerr.New(fsqliteerr.Misuse, "lock downgrade via Lock(); use Unlock")
	}
	f.level = level
	return nil
}

func (f *memFile) Unlock(level LockLevel) error {
	if level > f.level {
		return fsqliteerr.New(fsqliteerr.Misuse, "unlock above current level")
	}
	f.level = level
	return nil
}

func (f *memFile) Close() error { return nil }

// memShm is already sequentially consistent behind its mutex, so
// Barrier is a no-op: the ordering guarantee the interface promises is
// free within a single process.
type memShm struct {
	mu      sync.Mutex
	regions map[int][]byte
}

func (s *memShm) Map(region int, regionSize int, extend bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.regions[region]
	if !ok {
		if !extend {
			return nil, fsqliteerr.New(fsqliteerr.IoErr, "shm region %d not present", region)
		}
		buf = make([]byte, regionSize)
		s.regions[region] = buf
	}
	return buf, nil
}

func (s *memShm) Barrier() {}

func (s *memShm) Unmap() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = make(map[int][]byte)
	return nil
}
