package recsync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Default trigger intervals.
const (
	DefaultScanInterval    = 15 * time.Minute
	DefaultCleanupInterval = 60 * time.Minute
)

// Scheduler runs the two periodic triggers: the recording scan and the
// temp-file janitor. The triggers are independent and share no locks.
// Start/Stop give it an explicit lifecycle; Stop waits for both loops.
type Scheduler struct {
	scanner         *Scanner
	janitor         *Janitor
	scanInterval    time.Duration
	cleanupInterval time.Duration
	clock           Clock
	logger          *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler. Non-positive intervals fall back to the
// 15 min / 60 min defaults.
func NewScheduler(scanner *Scanner, janitor *Janitor, scanInterval, cleanupInterval time.Duration, logger *zap.Logger) *Scheduler {
	if scanInterval <= 0 {
		scanInterval = DefaultScanInterval
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		scanner:         scanner,
		janitor:         janitor,
		scanInterval:    scanInterval,
		cleanupInterval: cleanupInterval,
		clock:           SystemClock,
		logger:          logger,
	}
}

// SetClock replaces the wall clock (tests).
func (s *Scheduler) SetClock(c Clock) { s.clock = c }

// Start registers the periodic triggers. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
	s.logger.Info("recording sync scheduler started",
		zap.Duration("scan_interval", s.scanInterval),
		zap.Duration("cleanup_interval", s.cleanupInterval))
}

// Stop cancels both triggers and waits for them to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("recording sync scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.scanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.scanner.ScanAll(ctx)
			}
		}
	}()

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.janitor.Sweep(s.clock.Now())
			}
		}
	}()

	wg.Wait()
}
