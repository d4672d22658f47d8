package recsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidya-academy/backend/config"
	"github.com/vidya-academy/backend/internal/models"
)

func TestEligible(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		ref        models.MeetingRef
		meetingEnd time.Time
		want       bool
	}{
		{
			name:       "ended past settle buffer, fresh ref",
			ref:        models.MeetingRef{MeetingID: "m"},
			meetingEnd: now.Add(-10 * time.Minute),
			want:       true,
		},
		{
			name:       "already synced",
			ref:        models.MeetingRef{MeetingID: "m", RecordingSynced: true},
			meetingEnd: now.Add(-10 * time.Minute),
			want:       false,
		},
		{
			name:       "inside settle buffer",
			ref:        models.MeetingRef{MeetingID: "m"},
			meetingEnd: now.Add(-3 * time.Minute),
			want:       false,
		},
		{
			name:       "exactly at settle boundary",
			ref:        models.MeetingRef{MeetingID: "m"},
			meetingEnd: now.Add(-5 * time.Minute),
			want:       true,
		},
		{
			name: "retry gated in the future",
			ref: models.MeetingRef{MeetingID: "m", SyncAttempts: 1,
				NextRetryAt: timePtr(now.Add(10 * time.Minute))},
			meetingEnd: now.Add(-10 * time.Minute),
			want:       false,
		},
		{
			name: "retry time reached",
			ref: models.MeetingRef{MeetingID: "m", SyncAttempts: 1,
				NextRetryAt: timePtr(now.Add(-time.Second))},
			meetingEnd: now.Add(-10 * time.Minute),
			want:       true,
		},
		{
			name:       "attempts exhausted",
			ref:        models.MeetingRef{MeetingID: "m", SyncAttempts: 3},
			meetingEnd: now.Add(-10 * time.Minute),
			want:       false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Eligible(&tt.ref, tt.meetingEnd, now))
		})
	}
}

func TestMarkFailureSchedulesRetryThenGivesUp(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	ref := &models.MeetingRef{MeetingID: "m"}

	p.MarkFailure(ref, "no recordings available", now)
	assert.Equal(t, 1, ref.SyncAttempts)
	require.NotNil(t, ref.NextRetryAt)
	assert.Equal(t, now.Add(30*time.Minute), *ref.NextRetryAt)
	require.NotNil(t, ref.LastSyncError)
	assert.Equal(t, "no recordings available", *ref.LastSyncError)

	p.MarkFailure(ref, "download timeout", now.Add(30*time.Minute))
	assert.Equal(t, 2, ref.SyncAttempts)
	require.NotNil(t, ref.NextRetryAt)

	p.MarkFailure(ref, "download timeout", now.Add(time.Hour))
	assert.Equal(t, 3, ref.SyncAttempts)
	assert.Nil(t, ref.NextRetryAt, "third failure clears next_retry_at")
	assert.True(t, p.Exhausted(ref))
}

func TestMarkSuccessResetsState(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	ref := &models.MeetingRef{
		MeetingID:     "m",
		SyncAttempts:  2,
		LastSyncError: strPtr("transient"),
		NextRetryAt:   timePtr(now.Add(-time.Minute)),
	}

	p.MarkSuccess(ref, now)
	assert.True(t, ref.RecordingSynced)
	assert.Zero(t, ref.SyncAttempts)
	assert.Nil(t, ref.NextRetryAt)
	assert.Nil(t, ref.LastSyncError)
	require.NotNil(t, ref.LastSyncDate)
	assert.Equal(t, now, *ref.LastSyncDate)
}

func TestResetForManualRetry(t *testing.T) {
	p := DefaultPolicy()
	ref := &models.MeetingRef{MeetingID: "m", SyncAttempts: 3, LastSyncError: strPtr("gone")}

	p.ResetForManualRetry(ref)
	assert.Zero(t, ref.SyncAttempts)
	assert.Nil(t, ref.NextRetryAt)
	assert.Nil(t, ref.LastSyncError)
	assert.False(t, p.Exhausted(ref))
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.SyncConfig{RetryIntervalMin: 45, MaxAttempts: 5, SettleBufferMin: 2})
	assert.Equal(t, 45*time.Minute, p.RetryInterval)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 2*time.Minute, p.SettleBuffer)

	p = PolicyFromConfig(config.SyncConfig{})
	assert.Equal(t, DefaultPolicy(), p)
}

func timePtr(t time.Time) *time.Time { return &t }
func strPtr(s string) *string        { return &s }
