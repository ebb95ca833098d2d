package pager

import (
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/fractalsoft/frankendb/internal/wal"
)

// Logger is the logging seam the checkpoint scheduler reports through,
// modelled on cron.v3's own injectable Logger interface (§10 "Logging")
// since the teacher repo logs with bare fmt/log rather than a
// structured logger.
type Logger interface {
	Printf(format string, args ...any)
}

type stdLogger struct{ l *log.Logger }

func (s stdLogger) Printf(format string, args ...any) { s.l.Printf(format, args...) }

// DefaultLogger wraps the standard library's default *log.Logger.
func DefaultLogger() Logger { return stdLogger{l: log.Default()} }

// CheckpointScheduler runs periodic WAL checkpoints on a cron.v3
// schedule instead of a hand-rolled ticker goroutine (§10 "Background
// maintenance... scheduled with cron.v3, which already owns this
// concern in the teacher").
type CheckpointScheduler struct {
	cronSched     *cron.Cron
	w             *wal.WAL
	main          wal.MainFileWriter
	readersPinned func() bool
	mode          wal.CheckpointMode
	logger        Logger

	mu      sync.Mutex
	running bool
}

// NewCheckpointScheduler builds a scheduler for one WAL/main-file pair.
// logger may be nil, in which case DefaultLogger is used.
func NewCheckpointScheduler(w *wal.WAL, main wal.MainFileWriter, readersPinned func() bool, mode wal.CheckpointMode, logger Logger) *CheckpointScheduler {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &CheckpointScheduler{
		cronSched:     cron.New(cron.WithSeconds()),
		w:             w,
		main:          main,
		readersPinned: readersPinned,
		mode:          mode,
		logger:        logger,
	}
}

// Start registers the checkpoint tick on spec (a six-field cron.v3
// expression, e.g. "*/5 * * * * *" for every 5 seconds) and starts the
// scheduler.
func (s *CheckpointScheduler) Start(spec string) error {
	if _, err := s.cronSched.AddFunc(spec, s.tick); err != nil {
		return err
	}
	s.cronSched.Start()
	return nil
}

// Stop halts the scheduler and waits for any in-flight tick to finish.
func (s *CheckpointScheduler) Stop() {
	ctx := s.cronSched.Stop()
	<-ctx.Done()
}

// tick runs one checkpoint attempt, skipping if the previous tick is
// still running rather than letting ticks queue up behind a slow
// TRUNCATE checkpoint.
func (s *CheckpointScheduler) tick() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	result, err := s.w.Checkpoint(s.mode, s.main, s.readersPinned)
	if err != nil {
		s.logger.Printf("pager: wal checkpoint failed: %v", err)
		return
	}
	s.logger.Printf("pager: wal checkpoint backfilled=%d reset=%v truncated=%v",
		result.FramesBackfilled, result.WALReset, result.WALTruncated)
}
