// Package recsync reconciles completed Zoom meetings with durable recordings:
// it discovers recording files for ended meetings, transfers them to S3, and
// attaches RecordedLesson rows to the owning session, with bounded retries.
package recsync

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vidya-academy/backend/internal/models"
	"github.com/vidya-academy/backend/internal/zoom"
)

// Provider is the conferencing API surface the processor needs.
// *zoom.Client implements it.
type Provider interface {
	GetMeeting(ctx context.Context, meetingID string) (*zoom.Meeting, error)
	ListRecordings(ctx context.Context, meetingID string) ([]zoom.RecordingFile, error)
	Download(ctx context.Context, downloadURL string) (io.ReadCloser, int64, error)
}

// ObjectStore uploads a payload under a key and returns the object URL.
// *storage.S3 implements it.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
}

// Store is the batch/session persistence surface the pipeline reads and
// writes. *batches.Repository implements it.
type Store interface {
	FindPendingBatches(ctx context.Context) ([]models.Batch, error)
	FindBatchByID(ctx context.Context, id uuid.UUID) (*models.Batch, error)
	FirstEnrolledStudent(ctx context.Context, batchID uuid.UUID) (string, error)
	AppendRecordedLesson(ctx context.Context, lesson *models.RecordedLesson) error
	// UpdateSyncState persists ref for the session only if the row still has
	// recording_synced = false and sync_attempts = expectedAttempts. Returns
	// false when a concurrent pass won the row.
	UpdateSyncState(ctx context.Context, sessionID uuid.UUID, ref models.MeetingRef, expectedAttempts int) (bool, error)
	SyncedFileURLs(ctx context.Context, sessionID uuid.UUID, meetingID string) (map[string]bool, error)
}

// Outcome classifies one session-processing step.
type Outcome int

const (
	// OutcomeSkipped: no attempt counted (already synced, not yet ended,
	// retry-gated, or attempts exhausted).
	OutcomeSkipped Outcome = iota
	// OutcomeSynced: every recording file transferred; session marked synced.
	OutcomeSynced
	// OutcomeFailed: a counted failed attempt; backoff state persisted.
	OutcomeFailed
	// OutcomeRaceLost: a concurrent pass updated the session first; this pass
	// abandoned it without persisting anything.
	OutcomeRaceLost
)

// Processor syncs one session's recordings: completion check, recording
// discovery, per-file transfer, lesson attachment. All errors are absorbed
// here; a failing session never aborts the surrounding scan.
type Processor struct {
	provider Provider
	store    Store
	objects  ObjectStore
	policy   Policy
	clock    Clock
	tempDir  string
	logger   *zap.Logger
}

// NewProcessor creates a session processor. tempDir is the spool directory for
// downloads; empty means os.TempDir().
func NewProcessor(provider Provider, store Store, objects ObjectStore, policy Policy, tempDir string, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Processor{
		provider: provider,
		store:    store,
		objects:  objects,
		policy:   policy,
		clock:    SystemClock,
		tempDir:  tempDir,
		logger:   logger,
	}
}

// SetClock replaces the wall clock (tests).
func (p *Processor) SetClock(c Clock) { p.clock = c }

// TempDir returns the spool directory for downloads.
func (p *Processor) TempDir() string { return p.tempDir }

// ProcessSession runs one sync attempt for the session if it is eligible.
// force treats an exhausted attempt counter as reset (manual trigger
// semantics); the periodic scan never forces.
func (p *Processor) ProcessSession(ctx context.Context, batch *models.Batch, sess *models.Session, force bool) Outcome {
	ref := sess.Meeting
	if ref == nil || ref.MeetingID == "" || ref.RecordingSynced {
		return OutcomeSkipped
	}
	now := p.clock.Now()
	// expectedAttempts guards the conditional update against concurrent passes;
	// it must be the value read from the store, even when force resets it below.
	expectedAttempts := ref.SyncAttempts

	if p.policy.Exhausted(ref) {
		if !force {
			p.logger.Debug("session skipped: sync attempts exhausted",
				zap.String("session_id", sess.ID.String()),
				zap.String("meeting_id", ref.MeetingID))
			return OutcomeSkipped
		}
		p.policy.ResetForManualRetry(ref)
		p.logger.Info("manual trigger reset exhausted sync attempts",
			zap.String("session_id", sess.ID.String()),
			zap.String("meeting_id", ref.MeetingID))
	}
	if p.policy.RetryGated(ref, now) {
		return OutcomeSkipped
	}

	meeting, err := p.provider.GetMeeting(ctx, ref.MeetingID)
	if err != nil {
		return p.fail(ctx, batch, sess, ref, expectedAttempts, err)
	}
	if now.Before(meeting.EndTime().Add(p.policy.SettleBuffer)) {
		// Not yet ended (plus settle buffer): not a failure, not an attempt.
		return OutcomeSkipped
	}

	files, err := p.provider.ListRecordings(ctx, ref.MeetingID)
	if err != nil {
		return p.fail(ctx, batch, sess, ref, expectedAttempts, err)
	}
	if len(files) == 0 {
		return p.fail(ctx, batch, sess, ref, expectedAttempts,
			fmt.Errorf("no recordings available for meeting %s", ref.MeetingID))
	}

	// Files already transferred in an earlier (partially failed) pass are
	// skipped so a retry never double-appends a lesson.
	already, err := p.store.SyncedFileURLs(ctx, sess.ID, ref.MeetingID)
	if err != nil {
		return p.fail(ctx, batch, sess, ref, expectedAttempts, fmt.Errorf("load synced files: %w", err))
	}

	var studentID string
	if batch.Kind == models.BatchKindIndividual {
		studentID, err = p.store.FirstEnrolledStudent(ctx, batch.ID)
		if err != nil {
			return p.fail(ctx, batch, sess, ref, expectedAttempts, fmt.Errorf("resolve enrolled student: %w", err))
		}
	}
	prefix := ResolveUploadPath(batch.Kind, batch.ID.String(), studentID)

	for _, f := range files {
		if already[f.DownloadURL] {
			continue
		}
		if err := p.transferFile(ctx, batch, sess, ref, prefix, f); err != nil {
			// Stop at the first failing file. Files transferred in this pass
			// keep their lessons; there is no rollback.
			return p.fail(ctx, batch, sess, ref, expectedAttempts, err)
		}
	}

	p.policy.MarkSuccess(ref, p.clock.Now())
	won, err := p.store.UpdateSyncState(ctx, sess.ID, *ref, expectedAttempts)
	if err != nil {
		p.logger.Error("persist sync success failed",
			zap.String("session_id", sess.ID.String()),
			zap.String("meeting_id", ref.MeetingID),
			zap.Error(err))
		return OutcomeFailed
	}
	if !won {
		p.logger.Warn("sync state update lost race, abandoning session",
			zap.String("session_id", sess.ID.String()),
			zap.String("meeting_id", ref.MeetingID))
		return OutcomeRaceLost
	}
	p.logger.Info("session recordings synced",
		zap.String("batch_id", batch.ID.String()),
		zap.String("session_id", sess.ID.String()),
		zap.String("meeting_id", ref.MeetingID),
		zap.Int("files", len(files)))
	return OutcomeSynced
}

// transferFile downloads one recording file via the spool directory, uploads
// it to S3, and appends a RecordedLesson with full provenance.
func (p *Processor) transferFile(ctx context.Context, batch *models.Batch, sess *models.Session, ref *models.MeetingRef, prefix string, f zoom.RecordingFile) error {
	body, size, err := p.provider.Download(ctx, f.DownloadURL)
	if err != nil {
		return err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(p.tempDir, "zoom-dl-*")
	if err != nil {
		return fmt.Errorf("spool temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // stray files are reaped by the janitor

	written, copyErr := io.Copy(tmp, body)
	if closeErr := tmp.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		return fmt.Errorf("spool download: %w", copyErr)
	}
	if size <= 0 {
		size = written
	}

	spool, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("open spool file: %w", err)
	}
	defer spool.Close()

	now := p.clock.Now()
	key := path.Join(prefix, RecordingFileName(sess.ScheduledDate, f.FileType, now))
	objectURL, err := p.objects.Upload(ctx, key, ContentTypeForFileType(f.FileType), spool, size)
	if err != nil {
		return err
	}

	recordedDate := f.RecordingStart
	if recordedDate.IsZero() {
		recordedDate = sess.ScheduledDate
	}
	fileSize := f.FileSize
	if fileSize == 0 {
		fileSize = size
	}
	lesson := &models.RecordedLesson{
		SessionID:    sess.ID,
		Title:        fmt.Sprintf("%s - %s (%s)", batch.Name, sess.ScheduledDate.Format("02 Jan 2006"), f.FileType),
		URL:          objectURL,
		RecordedDate: recordedDate,
		Source:       models.LessonSourceZoomSync,
		Provenance: models.RecordingProvenance{
			MeetingID:      ref.MeetingID,
			FileType:       f.FileType,
			FileSize:       fileSize,
			RecordingStart: f.RecordingStart,
			RecordingEnd:   f.RecordingEnd,
			DownloadURL:    f.DownloadURL,
			SyncedAt:       now,
		},
	}
	if err := p.store.AppendRecordedLesson(ctx, lesson); err != nil {
		return fmt.Errorf("append recorded lesson: %w", err)
	}
	p.logger.Debug("recording file transferred",
		zap.String("session_id", sess.ID.String()),
		zap.String("file_type", f.FileType),
		zap.String("key", key),
		zap.Int64("size", fileSize))
	return nil
}

func (p *Processor) fail(ctx context.Context, batch *models.Batch, sess *models.Session, ref *models.MeetingRef, expectedAttempts int, cause error) Outcome {
	now := p.clock.Now()
	p.policy.MarkFailure(ref, cause.Error(), now)

	fields := []zap.Field{
		zap.String("batch_id", batch.ID.String()),
		zap.String("session_id", sess.ID.String()),
		zap.String("meeting_id", ref.MeetingID),
		zap.Int("sync_attempts", ref.SyncAttempts),
		zap.Error(cause),
	}
	if p.policy.Exhausted(ref) {
		p.logger.Warn("recording sync attempts exhausted, giving up until manual trigger", fields...)
	} else {
		p.logger.Error("recording sync attempt failed", append(fields, zap.Timep("next_retry_at", ref.NextRetryAt))...)
	}

	won, err := p.store.UpdateSyncState(ctx, sess.ID, *ref, expectedAttempts)
	if err != nil {
		p.logger.Error("persist sync failure state failed",
			zap.String("session_id", sess.ID.String()), zap.Error(err))
		return OutcomeFailed
	}
	if !won {
		p.logger.Warn("sync state update lost race, abandoning session",
			zap.String("session_id", sess.ID.String()))
		return OutcomeRaceLost
	}
	return OutcomeFailed
}
