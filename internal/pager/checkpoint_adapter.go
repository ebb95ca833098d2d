package pager

import "github.com/fractalsoft/frankendb/internal/vfs"

// WriteBackfilledPage implements wal.MainFileWriter: a checkpoint
// copying a committed WAL frame into the main file.
func (p *Pager) WriteBackfilledPage(no uint32, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Remove(PageNumber(no))
	return p.writePageRaw(PageNumber(no), data)
}

// SetPageCount implements wal.MainFileWriter.
func (p *Pager) SetPageCount(n uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n == 0 {
		return nil
	}
	p.header.DBSizePages = n
	return p.flushHeaderPage()
}

// SyncMain implements wal.MainFileWriter.
func (p *Pager) SyncMain() error {
	return p.file.Sync(vfs.SyncFull)
}
