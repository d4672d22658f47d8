package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordedLesson sources (provenance tag).
const (
	LessonSourceZoomSync = "zoom-sync"
	LessonSourceManual   = "manual"
)

// RecordedLesson is a durable artifact reference attached to a Session after a
// recording file has been transferred to S3. Append-only: the pipeline never
// removes entries.
type RecordedLesson struct {
	ID           uuid.UUID           `json:"id"`
	SessionID    uuid.UUID           `json:"session_id"`
	Title        string              `json:"title"`
	URL          string              `json:"url"`
	RecordedDate time.Time           `json:"recorded_date"`
	Source       string              `json:"source"`
	Provenance   RecordingProvenance `json:"provenance"`
	CreatedAt    time.Time           `json:"created_at"`
}

// RecordingProvenance preserves the origin of a synced recording file for
// audit/debugging after the binary has moved to S3.
type RecordingProvenance struct {
	MeetingID      string    `json:"meeting_id"`
	FileType       string    `json:"file_type"`
	FileSize       int64     `json:"file_size"`
	RecordingStart time.Time `json:"recording_start"`
	RecordingEnd   time.Time `json:"recording_end"`
	DownloadURL    string    `json:"download_url"`
	SyncedAt       time.Time `json:"synced_at"`
}
