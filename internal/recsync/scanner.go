package recsync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vidya-academy/backend/internal/models"
	"github.com/vidya-academy/backend/pkg/lock"
)

// batchLeaseTTL bounds how long a crashed pass can keep a batch locked.
const batchLeaseTTL = 10 * time.Minute

// Scanner finds batches with pending meetings and fans out the Session
// Processor over their sessions, sequentially. Per-session errors are absorbed
// by the processor; a batch whose lease is held by another pass is skipped.
type Scanner struct {
	store  Store
	proc   *Processor
	locker *lock.Locker // nil disables leasing
	logger *zap.Logger
}

// NewScanner creates a batch scanner. locker may be nil when Redis is not
// configured; overlapping passes are then only guarded by the conditional
// sync-state update.
func NewScanner(store Store, proc *Processor, locker *lock.Locker, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{store: store, proc: proc, locker: locker, logger: logger}
}

// ScanAll processes every batch holding at least one session with a pending
// meeting. Errors are logged, never propagated.
func (s *Scanner) ScanAll(ctx context.Context) {
	started := time.Now()
	batches, err := s.store.FindPendingBatches(ctx)
	if err != nil {
		s.logger.Error("scan: load pending batches failed", zap.Error(err))
		return
	}
	if len(batches) == 0 {
		return
	}
	s.logger.Info("recording scan started", zap.Int("batches", len(batches)))
	for i := range batches {
		s.scanBatch(ctx, &batches[i], false)
	}
	s.logger.Info("recording scan finished",
		zap.Int("batches", len(batches)),
		zap.Duration("elapsed", time.Since(started)))
}

// ScanBatch processes a single batch by ID (manual trigger). force resets
// exhausted attempt counters before processing.
func (s *Scanner) ScanBatch(ctx context.Context, batchID uuid.UUID, force bool) error {
	batch, err := s.store.FindBatchByID(ctx, batchID)
	if err != nil {
		return fmt.Errorf("find batch %s: %w", batchID, err)
	}
	if batch == nil {
		return fmt.Errorf("batch %s not found", batchID)
	}
	s.scanBatch(ctx, batch, force)
	return nil
}

func (s *Scanner) scanBatch(ctx context.Context, batch *models.Batch, force bool) {
	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, "batch:"+batch.ID.String(), batchLeaseTTL)
		if err != nil {
			s.logger.Warn("batch lease acquire failed, skipping batch",
				zap.String("batch_id", batch.ID.String()), zap.Error(err))
			return
		}
		if !ok {
			s.logger.Info("batch lease held by another pass, skipping",
				zap.String("batch_id", batch.ID.String()))
			return
		}
		defer release()
	}

	for i := range batch.Sessions {
		sess := &batch.Sessions[i]
		if sess.Meeting == nil || sess.Meeting.RecordingSynced {
			continue
		}
		select {
		case <-ctx.Done():
			s.logger.Info("scan cancelled mid-batch", zap.String("batch_id", batch.ID.String()))
			return
		default:
		}
		s.proc.ProcessSession(ctx, batch, sess, force)
	}
}
