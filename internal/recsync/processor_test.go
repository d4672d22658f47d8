package recsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidya-academy/backend/internal/models"
	"github.com/vidya-academy/backend/internal/zoom"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeProvider struct {
	meeting       *zoom.Meeting
	meetingErr    error
	files         []zoom.RecordingFile
	listErr       error
	downloadErr   error
	meetingCalls  int
	listCalls     int
	downloadCalls int
}

func (f *fakeProvider) GetMeeting(_ context.Context, _ string) (*zoom.Meeting, error) {
	f.meetingCalls++
	if f.meetingErr != nil {
		return nil, f.meetingErr
	}
	return f.meeting, nil
}

func (f *fakeProvider) ListRecordings(_ context.Context, _ string) ([]zoom.RecordingFile, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.files, nil
}

func (f *fakeProvider) Download(_ context.Context, _ string) (io.ReadCloser, int64, error) {
	f.downloadCalls++
	if f.downloadErr != nil {
		return nil, 0, f.downloadErr
	}
	payload := []byte("recording-bytes")
	return io.NopCloser(bytes.NewReader(payload)), int64(len(payload)), nil
}

type fakeObjects struct {
	uploads   []string // keys in upload order
	failOnKey string   // substring; uploads matching it fail
}

func (f *fakeObjects) Upload(_ context.Context, key, _ string, body io.Reader, _ int64) (string, error) {
	if f.failOnKey != "" && strings.Contains(key, f.failOnKey) {
		return "", errors.New("s3 upload: connection reset")
	}
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	f.uploads = append(f.uploads, key)
	return "https://bucket.s3.us-east-1.amazonaws.com/" + key, nil
}

type fakeStore struct {
	batches      []models.Batch
	lessons      []models.RecordedLesson
	syncedURLs   map[string]bool
	student      string
	studentErr   error
	appendErr    error
	updates      []models.MeetingRef
	updateExpect []int
	updateLose   bool
	updateErr    error
}

func (f *fakeStore) FindPendingBatches(_ context.Context) ([]models.Batch, error) {
	return f.batches, nil
}

func (f *fakeStore) FindBatchByID(_ context.Context, id uuid.UUID) (*models.Batch, error) {
	for i := range f.batches {
		if f.batches[i].ID == id {
			return &f.batches[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FirstEnrolledStudent(_ context.Context, _ uuid.UUID) (string, error) {
	return f.student, f.studentErr
}

func (f *fakeStore) AppendRecordedLesson(_ context.Context, lesson *models.RecordedLesson) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.lessons = append(f.lessons, *lesson)
	return nil
}

func (f *fakeStore) UpdateSyncState(_ context.Context, _ uuid.UUID, ref models.MeetingRef, expectedAttempts int) (bool, error) {
	if f.updateErr != nil {
		return false, f.updateErr
	}
	f.updates = append(f.updates, ref)
	f.updateExpect = append(f.updateExpect, expectedAttempts)
	return !f.updateLose, nil
}

func (f *fakeStore) SyncedFileURLs(_ context.Context, _ uuid.UUID, _ string) (map[string]bool, error) {
	if f.syncedURLs == nil {
		return map[string]bool{}, nil
	}
	return f.syncedURLs, nil
}

var testNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func endedMeeting(endedAgo time.Duration) *zoom.Meeting {
	start := testNow.Add(-endedAgo - 60*time.Minute)
	return &zoom.Meeting{ID: "meeting-1", StartTime: start, Duration: 60}
}

func testBatch(kind string) (*models.Batch, *models.Session) {
	batch := &models.Batch{
		ID:   uuid.New(),
		Name: "Physics Evening",
		Kind: kind,
	}
	sess := &models.Session{
		ID:            uuid.New(),
		BatchID:       batch.ID,
		ScheduledDate: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		StartTime:     "18:00",
		Meeting:       &models.MeetingRef{MeetingID: "meeting-1"},
	}
	batch.Sessions = []models.Session{*sess}
	return batch, sess
}

func twoFiles() []zoom.RecordingFile {
	return []zoom.RecordingFile{
		{FileType: "MP4", FileSize: 1024, DownloadURL: "https://zoom.example/rec/video",
			RecordingStart: testNow.Add(-70 * time.Minute), RecordingEnd: testNow.Add(-10 * time.Minute)},
		{FileType: "M4A", FileSize: 256, DownloadURL: "https://zoom.example/rec/audio",
			RecordingStart: testNow.Add(-70 * time.Minute), RecordingEnd: testNow.Add(-10 * time.Minute)},
	}
}

func newTestProcessor(t *testing.T, provider *fakeProvider, store *fakeStore, objects *fakeObjects) *Processor {
	t.Helper()
	p := NewProcessor(provider, store, objects, DefaultPolicy(), t.TempDir(), nil)
	p.SetClock(fixedClock{t: testNow})
	return p
}

func TestProcessSessionSkipsSyncedSession(t *testing.T) {
	provider := &fakeProvider{}
	store := &fakeStore{}
	batch, sess := testBatch(models.BatchKindGroup)
	sess.Meeting.RecordingSynced = true

	p := newTestProcessor(t, provider, store, &fakeObjects{})
	out := p.ProcessSession(context.Background(), batch, sess, false)

	assert.Equal(t, OutcomeSkipped, out)
	assert.Zero(t, provider.meetingCalls)
	assert.Zero(t, provider.listCalls)
	assert.Empty(t, store.updates)
}

func TestProcessSessionSkipsRetryGated(t *testing.T) {
	provider := &fakeProvider{}
	store := &fakeStore{}
	batch, sess := testBatch(models.BatchKindGroup)
	retryAt := testNow.Add(10 * time.Minute)
	sess.Meeting.NextRetryAt = &retryAt
	sess.Meeting.SyncAttempts = 1

	p := newTestProcessor(t, provider, store, &fakeObjects{})
	out := p.ProcessSession(context.Background(), batch, sess, false)

	assert.Equal(t, OutcomeSkipped, out)
	assert.Zero(t, provider.meetingCalls, "gated session must cost zero provider calls")
	assert.Empty(t, store.updates)
}

func TestProcessSessionSkipsNotYetEnded(t *testing.T) {
	provider := &fakeProvider{meeting: endedMeeting(3 * time.Minute)} // inside 5 min settle buffer
	store := &fakeStore{}
	batch, sess := testBatch(models.BatchKindGroup)

	p := newTestProcessor(t, provider, store, &fakeObjects{})
	out := p.ProcessSession(context.Background(), batch, sess, false)

	assert.Equal(t, OutcomeSkipped, out)
	assert.Equal(t, 1, provider.meetingCalls)
	assert.Zero(t, provider.listCalls, "recordings API must not be called before settle")
	assert.Empty(t, store.updates, "no attempt counted")
}

func TestProcessSessionNoRecordingsCountsFailure(t *testing.T) {
	provider := &fakeProvider{meeting: endedMeeting(10 * time.Minute)}
	store := &fakeStore{}
	batch, sess := testBatch(models.BatchKindGroup)

	p := newTestProcessor(t, provider, store, &fakeObjects{})
	out := p.ProcessSession(context.Background(), batch, sess, false)

	assert.Equal(t, OutcomeFailed, out)
	require.Len(t, store.updates, 1)
	ref := store.updates[0]
	assert.False(t, ref.RecordingSynced)
	assert.Equal(t, 1, ref.SyncAttempts)
	require.NotNil(t, ref.NextRetryAt)
	assert.Equal(t, testNow.Add(30*time.Minute), *ref.NextRetryAt)
	require.NotNil(t, ref.LastSyncError)
	assert.Contains(t, *ref.LastSyncError, "no recordings available")
}

func TestProcessSessionFullSuccess(t *testing.T) {
	provider := &fakeProvider{meeting: endedMeeting(10 * time.Minute), files: twoFiles()}
	store := &fakeStore{}
	objects := &fakeObjects{}
	batch, sess := testBatch(models.BatchKindGroup)

	p := newTestProcessor(t, provider, store, objects)
	out := p.ProcessSession(context.Background(), batch, sess, false)

	assert.Equal(t, OutcomeSynced, out)
	require.Len(t, store.lessons, 2)
	require.Len(t, objects.uploads, 2)
	for _, key := range objects.uploads {
		assert.True(t, strings.HasPrefix(key, "videos/"+batch.ID.String()+"/"), key)
	}
	assert.Equal(t, models.LessonSourceZoomSync, store.lessons[0].Source)
	assert.Equal(t, "meeting-1", store.lessons[0].Provenance.MeetingID)
	assert.Equal(t, "https://zoom.example/rec/video", store.lessons[0].Provenance.DownloadURL)

	require.Len(t, store.updates, 1)
	ref := store.updates[0]
	assert.True(t, ref.RecordingSynced)
	assert.Zero(t, ref.SyncAttempts)
	assert.Nil(t, ref.NextRetryAt)
	assert.Nil(t, ref.LastSyncError)
	require.NotNil(t, ref.LastSyncDate)
	assert.Equal(t, testNow, *ref.LastSyncDate)
}

func TestProcessSessionPartialFailureStopsAtFirstFailingFile(t *testing.T) {
	provider := &fakeProvider{meeting: endedMeeting(10 * time.Minute), files: twoFiles()}
	store := &fakeStore{}
	objects := &fakeObjects{failOnKey: "-m4a-"}
	batch, sess := testBatch(models.BatchKindGroup)

	p := newTestProcessor(t, provider, store, objects)
	out := p.ProcessSession(context.Background(), batch, sess, false)

	assert.Equal(t, OutcomeFailed, out)
	require.Len(t, store.lessons, 1, "first file stays recorded, no rollback")
	assert.Equal(t, "MP4", store.lessons[0].Provenance.FileType)

	require.Len(t, store.updates, 1)
	ref := store.updates[0]
	assert.False(t, ref.RecordingSynced)
	assert.Equal(t, 1, ref.SyncAttempts)
	require.NotNil(t, ref.LastSyncError)
	assert.Contains(t, *ref.LastSyncError, "connection reset")
}

func TestProcessSessionSkipsAlreadyTransferredFiles(t *testing.T) {
	provider := &fakeProvider{meeting: endedMeeting(10 * time.Minute), files: twoFiles()}
	store := &fakeStore{syncedURLs: map[string]bool{"https://zoom.example/rec/video": true}}
	objects := &fakeObjects{}
	batch, sess := testBatch(models.BatchKindGroup)

	p := newTestProcessor(t, provider, store, objects)
	out := p.ProcessSession(context.Background(), batch, sess, false)

	assert.Equal(t, OutcomeSynced, out)
	assert.Equal(t, 1, provider.downloadCalls, "already-synced file must not be re-fetched")
	require.Len(t, store.lessons, 1)
	assert.Equal(t, "M4A", store.lessons[0].Provenance.FileType)
}

func TestProcessSessionExhaustedSkipsUnlessForced(t *testing.T) {
	provider := &fakeProvider{meeting: endedMeeting(10 * time.Minute), files: twoFiles()}
	store := &fakeStore{}
	batch, sess := testBatch(models.BatchKindGroup)
	sess.Meeting.SyncAttempts = 3

	p := newTestProcessor(t, provider, store, &fakeObjects{})
	out := p.ProcessSession(context.Background(), batch, sess, false)
	assert.Equal(t, OutcomeSkipped, out)
	assert.Zero(t, provider.meetingCalls)

	out = p.ProcessSession(context.Background(), batch, sess, true)
	assert.Equal(t, OutcomeSynced, out)
	require.Len(t, store.updates, 1)
	assert.True(t, store.updates[0].RecordingSynced)
	assert.Equal(t, 3, store.updateExpect[0], "conditional update must use the attempts value read from the store")
}

func TestProcessSessionThirdFailureGivesUp(t *testing.T) {
	provider := &fakeProvider{meetingErr: fmt.Errorf("%w: status 502", zoom.ErrProviderUnavailable)}
	store := &fakeStore{}
	batch, sess := testBatch(models.BatchKindGroup)
	sess.Meeting.SyncAttempts = 2

	p := newTestProcessor(t, provider, store, &fakeObjects{})
	out := p.ProcessSession(context.Background(), batch, sess, false)

	assert.Equal(t, OutcomeFailed, out)
	require.Len(t, store.updates, 1)
	ref := store.updates[0]
	assert.Equal(t, 3, ref.SyncAttempts)
	assert.Nil(t, ref.NextRetryAt, "giving up clears next_retry_at")
}

func TestProcessSessionLostRaceAbandons(t *testing.T) {
	provider := &fakeProvider{meeting: endedMeeting(10 * time.Minute), files: twoFiles()}
	store := &fakeStore{updateLose: true}
	batch, sess := testBatch(models.BatchKindGroup)

	p := newTestProcessor(t, provider, store, &fakeObjects{})
	out := p.ProcessSession(context.Background(), batch, sess, false)

	assert.Equal(t, OutcomeRaceLost, out)
}

func TestProcessSessionIndividualBatchUploadPath(t *testing.T) {
	studentID := uuid.New().String()
	provider := &fakeProvider{meeting: endedMeeting(10 * time.Minute), files: twoFiles()[:1]}
	store := &fakeStore{student: studentID}
	objects := &fakeObjects{}
	batch, sess := testBatch(models.BatchKindIndividual)

	p := newTestProcessor(t, provider, store, objects)
	out := p.ProcessSession(context.Background(), batch, sess, false)

	assert.Equal(t, OutcomeSynced, out)
	require.Len(t, objects.uploads, 1)
	assert.True(t, strings.HasPrefix(objects.uploads[0], "videos/student/"+studentID+"/"), objects.uploads[0])
}

func TestProcessSessionIndividualBatchWithoutEnrollmentUsesUnknown(t *testing.T) {
	provider := &fakeProvider{meeting: endedMeeting(10 * time.Minute), files: twoFiles()[:1]}
	store := &fakeStore{}
	objects := &fakeObjects{}
	batch, sess := testBatch(models.BatchKindIndividual)

	p := newTestProcessor(t, provider, store, objects)
	out := p.ProcessSession(context.Background(), batch, sess, false)

	assert.Equal(t, OutcomeSynced, out)
	require.Len(t, objects.uploads, 1)
	assert.True(t, strings.HasPrefix(objects.uploads[0], "videos/student/unknown/"), objects.uploads[0])
}
