package models

import (
	"time"

	"github.com/google/uuid"
)

// Batch kinds; the kind selects the storage path prefix for recording uploads.
const (
	BatchKindGroup      = "group"
	BatchKindIndividual = "individual"
)

// Batch is a group of scheduled sessions sharing a course/instructor context.
type Batch struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Sessions  []Session `json:"sessions,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session is one scheduled occurrence within a Batch, optionally linked to a Zoom meeting.
type Session struct {
	ID              uuid.UUID   `json:"id"`
	BatchID         uuid.UUID   `json:"batch_id"`
	ScheduledDate   time.Time   `json:"scheduled_date"`
	StartTime       string      `json:"start_time"`
	DurationMinutes int         `json:"duration_minutes"`
	Meeting         *MeetingRef `json:"meeting,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// MeetingRef ties a Session to a Zoom meeting and carries its recording-sync state.
// RecordingSynced is monotonic: once true the session is never reprocessed.
type MeetingRef struct {
	MeetingID       string     `json:"meeting_id"`
	RecordingSynced bool       `json:"recording_synced"`
	SyncAttempts    int        `json:"sync_attempts"`
	LastSyncError   *string    `json:"last_sync_error,omitempty"`
	NextRetryAt     *time.Time `json:"next_retry_at,omitempty"`
	LastSyncDate    *time.Time `json:"last_sync_date,omitempty"`
}

// Enrollment links a student to a batch. The earliest enrollment decides the
// storage path for individual-batch recordings.
type Enrollment struct {
	ID         uuid.UUID `json:"id"`
	BatchID    uuid.UUID `json:"batch_id"`
	StudentID  uuid.UUID `json:"student_id"`
	EnrolledAt time.Time `json:"enrolled_at"`
}
