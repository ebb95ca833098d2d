package vfs

import (
	"os"
	"sync"

	"github.com/fractalsoft/frankendb/internal/fsqliteerr"
)

// osShm backs SharedSegment with a real "-shm" companion file. True
// mmap semantics would need a live syscall mapping; instead each region
// is cached in memory after first Map and the same backing array is
// returned on every call (so writes through the returned slice are
// visible without a re-Map), and Barrier writes all cached regions back
// to the file plus fsyncs — standing in for the mmap+msync fence real
// SQLite uses.
type osShm struct {
	mu      sync.Mutex
	f       *os.File
	size    int64
	cached  map[int][]byte
	rsize   map[int]int
}

func newOSShm(path string) (*osShm, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fsqliteerr.NewIoErr(fsqliteerr.IoShmMap, err, "open shm %s", path)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fsqliteerr.NewIoErr(fsqliteerr.IoShmMap, err, "stat shm")
	}
	return &osShm{f: f, size: fi.Size(), cached: make(map[int][]byte), rsize: make(map[int]int)}, nil
}

func (s *osShm) Map(region int, regionSize int, extend bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if buf, ok := s.cached[region]; ok {
		return buf, nil
	}
	off := int64(region) * int64(regionSize)
	need := off + int64(regionSize)
	if need > s.size {
		if !extend {
			return nil, fsqliteerr.New(fsqliteerr.IoErr, "shm region %d not present", region)
		}
		if err := s.f.Truncate(need); err != nil {
			return nil, fsqliteerr.NewIoErr(fsqliteerr.IoShmMap, err, "extend shm")
		}
		s.size = need
	}
	buf := make([]byte, regionSize)
	if _, err := s.f.ReadAt(buf, off); err != nil {
		return nil, fsqliteerr.NewIoErr(fsqliteerr.IoShmMap, err, "read shm region")
	}
	s.cached[region] = buf
	s.rsize[region] = regionSize
	return buf, nil
}

func (s *osShm) Barrier() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for region, buf := range s.cached {
		off := int64(region) * int64(s.rsize[region])
		_, _ = s.f.WriteAt(buf, off)
	}
	_ = s.f.Sync()
}

func (s *osShm) Unmap() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = make(map[int][]byte)
	return s.f.Close()
}
