package pager

import (
	"testing"
	"time"

	"github.com/fractalsoft/frankendb/internal/vfs"
)

func openTestPager(t *testing.T, opts ...Option) *Pager {
	t.Helper()
	p, err := Open(vfs.NewMemVFS(), "test.db", 4096, 64, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return p
}

func TestBeginWriteFailsBusyWithNoHandler(t *testing.T) {
	p := openTestPager(t)
	if err := p.BeginWrite(); err != nil {
		t.Fatalf("first BeginWrite: %v", err)
	}
	if err := p.BeginWrite(); err == nil {
		t.Fatalf("expected a second concurrent BeginWrite to fail with Busy")
	}
}

// TestBusyHandlerRetriesUntilTheFirstWriterCommits checks the new
// WithBusyHandler path: a second BeginWrite blocked on a still-open
// write transaction should succeed once a background goroutine commits
// the first one, rather than failing immediately.
func TestBusyHandlerRetriesUntilTheFirstWriterCommits(t *testing.T) {
	attempts := 0
	handler := func(attempt int) bool {
		attempts = attempt + 1
		if attempt >= 20 {
			return false
		}
		time.Sleep(time.Millisecond)
		return true
	}
	p := openTestPager(t, WithBusyHandler(handler))

	if err := p.BeginWrite(); err != nil {
		t.Fatalf("first BeginWrite: %v", err)
	}
	done := make(chan struct{})
	go func() {
		time.Sleep(5 * time.Millisecond)
		p.Commit()
		close(done)
	}()

	if err := p.BeginWrite(); err != nil {
		t.Fatalf("second BeginWrite should have retried until commit, got: %v", err)
	}
	<-done
	if attempts == 0 {
		t.Fatalf("expected the busy handler to be consulted at least once")
	}
	p.Commit()
}

func TestExponentialBusyHandlerGivesUpAfterMaxAttempts(t *testing.T) {
	h := NewExponentialBusyHandler(3, time.Microsecond, time.Millisecond)
	calls := 0
	for h(calls) {
		calls++
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 successful retries before giving up, got %d", calls)
	}
}
