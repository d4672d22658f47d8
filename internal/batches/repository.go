package batches

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vidya-academy/backend/internal/models"
)

// Repository handles batch, session, and recorded-lesson persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a batches repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sessionColumns = `id, batch_id, scheduled_date, start_time, duration_minutes,
	meeting_id, recording_synced, sync_attempts, last_sync_error, next_retry_at, last_sync_date,
	created_at, updated_at`

// FindPendingBatches returns every batch containing at least one session with
// a linked meeting whose recording is not yet synced, sessions loaded.
func (r *Repository) FindPendingBatches(ctx context.Context) ([]models.Batch, error) {
	const q = `SELECT id, name, kind, created_at, updated_at FROM batches b
		WHERE EXISTS (
			SELECT 1 FROM sessions s
			WHERE s.batch_id = b.id AND s.meeting_id IS NOT NULL AND s.recording_synced = FALSE
		)
		ORDER BY b.created_at`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Batch
	for rows.Next() {
		var b models.Batch
		if err := rows.Scan(&b.ID, &b.Name, &b.Kind, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range list {
		sessions, err := r.sessionsByBatch(ctx, list[i].ID)
		if err != nil {
			return nil, err
		}
		list[i].Sessions = sessions
	}
	return list, nil
}

// FindBatchByID returns a batch with its sessions, or nil when absent.
func (r *Repository) FindBatchByID(ctx context.Context, id uuid.UUID) (*models.Batch, error) {
	const q = `SELECT id, name, kind, created_at, updated_at FROM batches WHERE id = $1`
	var b models.Batch
	err := r.pool.QueryRow(ctx, q, id).Scan(&b.ID, &b.Name, &b.Kind, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	sessions, err := r.sessionsByBatch(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	b.Sessions = sessions
	return &b, nil
}

// ListBatches returns all batches without sessions (operator listing).
func (r *Repository) ListBatches(ctx context.Context) ([]models.Batch, error) {
	const q = `SELECT id, name, kind, created_at, updated_at FROM batches ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Batch
	for rows.Next() {
		var b models.Batch
		if err := rows.Scan(&b.ID, &b.Name, &b.Kind, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

func (r *Repository) sessionsByBatch(ctx context.Context, batchID uuid.UUID) ([]models.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE batch_id = $1 ORDER BY scheduled_date, start_time`
	rows, err := r.pool.Query(ctx, q, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *sess)
	}
	return list, rows.Err()
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var (
		sess        models.Session
		meetingID   *string
		synced      bool
		attempts    int
		lastError   *string
		nextRetryAt *time.Time
		lastSync    *time.Time
	)
	err := row.Scan(&sess.ID, &sess.BatchID, &sess.ScheduledDate, &sess.StartTime, &sess.DurationMinutes,
		&meetingID, &synced, &attempts, &lastError, &nextRetryAt, &lastSync,
		&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if meetingID != nil && *meetingID != "" {
		sess.Meeting = &models.MeetingRef{
			MeetingID:       *meetingID,
			RecordingSynced: synced,
			SyncAttempts:    attempts,
			LastSyncError:   lastError,
			NextRetryAt:     nextRetryAt,
			LastSyncDate:    lastSync,
		}
	}
	return &sess, nil
}

// UpdateSyncState persists a session's meeting sync state, guarded by an
// optimistic check on the attempt counter and the monotonic synced flag.
// Returns false when no row matched, meaning a concurrent pass won.
func (r *Repository) UpdateSyncState(ctx context.Context, sessionID uuid.UUID, ref models.MeetingRef, expectedAttempts int) (bool, error) {
	const q = `UPDATE sessions
		SET recording_synced = $1, sync_attempts = $2, last_sync_error = $3,
		    next_retry_at = $4, last_sync_date = $5, updated_at = NOW()
		WHERE id = $6 AND recording_synced = FALSE AND sync_attempts = $7`
	tag, err := r.pool.Exec(ctx, q,
		ref.RecordingSynced, ref.SyncAttempts, ref.LastSyncError,
		ref.NextRetryAt, ref.LastSyncDate, sessionID, expectedAttempts)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AppendRecordedLesson inserts a lesson with its provenance. Append-only.
func (r *Repository) AppendRecordedLesson(ctx context.Context, lesson *models.RecordedLesson) error {
	const q = `INSERT INTO recorded_lessons
		(id, session_id, title, url, recorded_date, source, meeting_id, file_type, file_size,
		 recording_start, recording_end, download_url, synced_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`
	p := lesson.Provenance
	return r.pool.QueryRow(ctx, q,
		lesson.SessionID, lesson.Title, lesson.URL, lesson.RecordedDate, lesson.Source,
		p.MeetingID, p.FileType, p.FileSize, p.RecordingStart, p.RecordingEnd, p.DownloadURL, p.SyncedAt).
		Scan(&lesson.ID, &lesson.CreatedAt)
}

// SyncedFileURLs returns the download URLs of pipeline-created lessons already
// attached to the session for this meeting, so retried passes skip them.
func (r *Repository) SyncedFileURLs(ctx context.Context, sessionID uuid.UUID, meetingID string) (map[string]bool, error) {
	const q = `SELECT download_url FROM recorded_lessons
		WHERE session_id = $1 AND meeting_id = $2 AND source = $3 AND download_url <> ''`
	rows, err := r.pool.Query(ctx, q, sessionID, meetingID, models.LessonSourceZoomSync)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	urls := make(map[string]bool)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls[u] = true
	}
	return urls, rows.Err()
}

// ListLessonsBySession returns a session's recorded lessons, newest first.
func (r *Repository) ListLessonsBySession(ctx context.Context, sessionID uuid.UUID) ([]models.RecordedLesson, error) {
	const q = `SELECT id, session_id, title, url, recorded_date, source, meeting_id, file_type, file_size,
		COALESCE(recording_start, 'epoch'::timestamptz), COALESCE(recording_end, 'epoch'::timestamptz),
		download_url, COALESCE(synced_at, 'epoch'::timestamptz), created_at
		FROM recorded_lessons WHERE session_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.RecordedLesson
	for rows.Next() {
		var l models.RecordedLesson
		if err := rows.Scan(&l.ID, &l.SessionID, &l.Title, &l.URL, &l.RecordedDate, &l.Source,
			&l.Provenance.MeetingID, &l.Provenance.FileType, &l.Provenance.FileSize,
			&l.Provenance.RecordingStart, &l.Provenance.RecordingEnd,
			&l.Provenance.DownloadURL, &l.Provenance.SyncedAt, &l.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, l)
	}
	return list, rows.Err()
}

// FirstEnrolledStudent returns the earliest-enrolled student ID for the batch,
// or "" when the batch has no enrollments.
func (r *Repository) FirstEnrolledStudent(ctx context.Context, batchID uuid.UUID) (string, error) {
	const q = `SELECT student_id FROM enrollments WHERE batch_id = $1 ORDER BY enrolled_at LIMIT 1`
	var studentID uuid.UUID
	err := r.pool.QueryRow(ctx, q, batchID).Scan(&studentID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return studentID.String(), nil
}
