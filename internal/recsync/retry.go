package recsync

import (
	"time"

	"github.com/vidya-academy/backend/config"
	"github.com/vidya-academy/backend/internal/models"
)

// Default retry policy. The values are behavioral constants of the pipeline.
const (
	DefaultSettleBuffer  = 5 * time.Minute
	DefaultRetryInterval = 30 * time.Minute
	DefaultMaxAttempts   = 3
)

// Policy decides, for one session's MeetingRef, whether a sync attempt may run
// now, and how the sync state moves on success or failure. Pure logic: no I/O,
// no clock of its own.
type Policy struct {
	SettleBuffer  time.Duration // wait after meeting end before the first attempt
	RetryInterval time.Duration // backoff after a failed attempt
	MaxAttempts   int           // failed attempts before giving up
}

// DefaultPolicy returns the stock 5min/30min/3 policy.
func DefaultPolicy() Policy {
	return Policy{
		SettleBuffer:  DefaultSettleBuffer,
		RetryInterval: DefaultRetryInterval,
		MaxAttempts:   DefaultMaxAttempts,
	}
}

// PolicyFromConfig builds a Policy from SyncConfig, falling back to defaults
// for non-positive values.
func PolicyFromConfig(cfg config.SyncConfig) Policy {
	p := DefaultPolicy()
	if cfg.SettleBufferMin > 0 {
		p.SettleBuffer = time.Duration(cfg.SettleBufferMin) * time.Minute
	}
	if cfg.RetryIntervalMin > 0 {
		p.RetryInterval = time.Duration(cfg.RetryIntervalMin) * time.Minute
	}
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	return p
}

// Exhausted reports whether automatic retries have stopped for this ref.
func (p Policy) Exhausted(ref *models.MeetingRef) bool {
	return ref.SyncAttempts >= p.MaxAttempts
}

// RetryGated reports whether a scheduled retry time is still in the future.
func (p Policy) RetryGated(ref *models.MeetingRef, now time.Time) bool {
	return ref.NextRetryAt != nil && ref.NextRetryAt.After(now)
}

// Eligible reports whether a sync attempt may run now: not yet synced, retries
// not exhausted, the meeting ended at least SettleBuffer ago, and no future
// retry time pending.
func (p Policy) Eligible(ref *models.MeetingRef, meetingEnd, now time.Time) bool {
	if ref.RecordingSynced || p.Exhausted(ref) {
		return false
	}
	if now.Before(meetingEnd.Add(p.SettleBuffer)) {
		return false
	}
	return !p.RetryGated(ref, now)
}

// MarkFailure records a failed attempt: bump the counter, keep the error
// message, and either schedule the next retry or give up when the cap is hit.
func (p Policy) MarkFailure(ref *models.MeetingRef, errMsg string, now time.Time) {
	ref.SyncAttempts++
	ref.LastSyncError = &errMsg
	if ref.SyncAttempts < p.MaxAttempts {
		next := now.Add(p.RetryInterval)
		ref.NextRetryAt = &next
	} else {
		ref.NextRetryAt = nil
	}
}

// MarkSuccess records a fully successful pass. RecordingSynced is monotonic:
// once set the session is never reprocessed.
func (p Policy) MarkSuccess(ref *models.MeetingRef, now time.Time) {
	ref.RecordingSynced = true
	ref.LastSyncDate = &now
	ref.NextRetryAt = nil
	ref.SyncAttempts = 0
	ref.LastSyncError = nil
}

// ResetForManualRetry clears an exhausted counter so a forced trigger can
// attempt the session again.
func (p Policy) ResetForManualRetry(ref *models.MeetingRef) {
	ref.SyncAttempts = 0
	ref.NextRetryAt = nil
	ref.LastSyncError = nil
}
