package recsync

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/vidya-academy/backend/internal/models"
)

// FolderVideos is the S3 prefix for synced recording objects.
const FolderVideos = "videos"

// UnknownStudentSegment is the path segment used for individual batches with
// no enrolled student. A degenerate case, not an error.
const UnknownStudentSegment = "unknown"

// Zoom file-type codes mapped to MIME types; anything unrecognized is treated
// as video/mp4.
var contentTypes = map[string]string{
	"MP4":  "video/mp4",
	"M4A":  "audio/mp4",
	"TXT":  "text/plain",
	"VTT":  "text/vtt",
	"JSON": "application/json",
}

var fileExtensions = map[string]string{
	"MP4":  ".mp4",
	"M4A":  ".m4a",
	"TXT":  ".txt",
	"VTT":  ".vtt",
	"JSON": ".json",
}

// ContentTypeForFileType returns the MIME type for a Zoom recording file type.
func ContentTypeForFileType(fileType string) string {
	if ct, ok := contentTypes[strings.ToUpper(fileType)]; ok {
		return ct
	}
	return "video/mp4"
}

// fileExtension returns the filename extension for a Zoom recording file type.
func fileExtension(fileType string) string {
	if ext, ok := fileExtensions[strings.ToUpper(fileType)]; ok {
		return ext
	}
	return ".mp4"
}

// ResolveUploadPath returns the S3 key prefix for a batch's recordings.
// Group batches store under videos/{batchID}; individual batches under
// videos/student/{firstEnrolledStudentID}, falling back to "unknown" when the
// batch has no enrollment.
func ResolveUploadPath(batchKind, batchID, firstEnrolledStudentID string) string {
	if batchKind == models.BatchKindIndividual {
		student := firstEnrolledStudentID
		if student == "" {
			student = UnknownStudentSegment
		}
		return path.Join(FolderVideos, "student", student)
	}
	return path.Join(FolderVideos, batchID)
}

// RecordingFileName generates the object filename for one recording file:
// zoom-recording-{sessionDate}-{fileType}-{timestamp} plus extension.
func RecordingFileName(sessionDate time.Time, fileType string, now time.Time) string {
	return fmt.Sprintf("zoom-recording-%s-%s-%d%s",
		sessionDate.Format("2006-01-02"),
		strings.ToLower(fileType),
		now.UnixMilli(),
		fileExtension(fileType),
	)
}
