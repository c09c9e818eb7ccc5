// Package tracker maintains the pending-sync markers of local records.
//
// A Tracker is bound to the repositories it is given; bind them to a
// transaction (see repomanager) to combine tracking with a record write.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/wardsync/internal/client/models"
	"github.com/dmitrijs2005/wardsync/internal/client/repositories/jobs"
	"github.com/dmitrijs2005/wardsync/internal/client/repositories/records"
	"github.com/dmitrijs2005/wardsync/internal/common"
)

// Policy bounds automatic retries.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultPolicy retries for roughly half an hour before giving up.
var DefaultPolicy = Policy{
	BaseDelay:   2 * time.Second,
	MaxDelay:    5 * time.Minute,
	MaxAttempts: 8,
}

// Backoff returns the delay after the given number of consecutive failures
// (1-based): BaseDelay * 2^(failures-1), capped at MaxDelay.
func (p Policy) Backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := p.BaseDelay
	for i := 1; i < failures; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// AckResult says what MarkClean did with an acknowledgement.
type AckResult int

const (
	// AckCleaned: the acked revision is current, the record is clean.
	AckCleaned AckResult = iota
	// AckBehind: the record changed after the push was sent; it stays pending.
	AckBehind
	// AckStale: the ack is a duplicate or older than the last one, ignored.
	AckStale
)

func (a AckResult) String() string {
	switch a {
	case AckCleaned:
		return "cleaned"
	case AckBehind:
		return "behind"
	default:
		return "stale"
	}
}

type Tracker struct {
	records records.Repository
	jobs    jobs.Repository
	policy  Policy
	now     func() time.Time
}

func New(recs records.Repository, js jobs.Repository, policy Policy, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{records: recs, jobs: js, policy: policy, now: now}
}

// MarkPending ensures one job exists for key. Repeated calls collapse;
// a dead-lettered or conflicted job is re-armed. Call it for local edits.
func (t *Tracker) MarkPending(ctx context.Context, key models.Key) error {
	return t.jobs.Upsert(ctx, key, t.now())
}

// Rebase keeps key queued after a pulled copy was folded into a record that
// still has to be pushed. A parked job stays parked and the record keeps its
// failed or conflict state until a local edit or Retry re-arms it.
func (t *Tracker) Rebase(ctx context.Context, key models.Key) error {
	job, err := t.jobs.Get(ctx, key)
	if errors.Is(err, common.ErrNotFound) {
		return t.jobs.Upsert(ctx, key, t.now())
	}
	if err != nil {
		return err
	}
	switch job.State {
	case models.JobDeadLettered:
		return t.setRecordState(ctx, key, models.StateFailed)
	case models.JobConflict:
		return t.setRecordState(ctx, key, models.StateConflict)
	}
	return nil
}

// MarkClean applies a push acknowledgement. pushed is the record state that
// was sent; its payload becomes the new merge base.
func (t *Tracker) MarkClean(ctx context.Context, key models.Key, ack models.Ack, pushed models.Record) (AckResult, error) {
	rec, err := t.records.Load(ctx, key)
	if errors.Is(err, common.ErrNotFound) {
		return AckStale, t.jobs.Delete(ctx, key)
	}
	if err != nil {
		return AckStale, err
	}

	if ack.Revision <= rec.SyncedRevision || ack.Revision > rec.LocalRevision {
		return AckStale, nil
	}

	rec.SyncedRevision = ack.Revision
	if ack.Version > rec.RemoteVersion {
		rec.RemoteVersion = ack.Version
	}
	if pushed.Deleted {
		rec.BasePayload = nil
	} else {
		rec.BasePayload = pushed.Payload
	}

	if ack.Revision == rec.LocalRevision {
		rec.SyncState = models.StateClean
		rec.SyncedAt = t.now()
		if err := t.records.Save(ctx, *rec); err != nil {
			return AckStale, err
		}
		return AckCleaned, t.jobs.Delete(ctx, key)
	}

	rec.SyncState = models.StatePending
	if err := t.records.Save(ctx, *rec); err != nil {
		return AckStale, err
	}
	return AckBehind, t.rearm(ctx, key)
}

func (t *Tracker) rearm(ctx context.Context, key models.Key) error {
	job, err := t.jobs.Get(ctx, key)
	if errors.Is(err, common.ErrNotFound) {
		return t.jobs.Upsert(ctx, key, t.now())
	}
	if err != nil {
		return err
	}
	job.State = models.JobCreated
	job.AttemptCount = 0
	job.RebaseCount = 0
	job.LastError = ""
	job.NextAttemptAt = t.now()
	return t.jobs.Update(ctx, *job)
}

// MarkFailed records a transient failure and schedules the next attempt.
// After MaxAttempts failures the job is dead-lettered and the record is
// marked failed.
func (t *Tracker) MarkFailed(ctx context.Context, key models.Key, cause error) (models.SyncJob, error) {
	job, err := t.jobs.Get(ctx, key)
	if err != nil {
		return models.SyncJob{}, err
	}

	job.AttemptCount++
	job.LastError = errText(cause)

	if t.policy.MaxAttempts > 0 && job.AttemptCount >= t.policy.MaxAttempts {
		job.State = models.JobDeadLettered
		if err := t.setRecordState(ctx, key, models.StateFailed); err != nil {
			return models.SyncJob{}, err
		}
	} else {
		job.State = models.JobBackoff
		job.NextAttemptAt = t.now().Add(t.policy.Backoff(job.AttemptCount))
	}

	if err := t.jobs.Update(ctx, *job); err != nil {
		return models.SyncJob{}, err
	}
	return *job, nil
}

// Requeue makes a job due immediately after its record was rebased on a
// newer remote copy. The remote answered, so the failure streak ends;
// rebases are counted on their own and a record that keeps conflicting is
// parked for an operator after MaxAttempts of them.
func (t *Tracker) Requeue(ctx context.Context, key models.Key, cause error) (models.SyncJob, error) {
	job, err := t.jobs.Get(ctx, key)
	if errors.Is(err, common.ErrNotFound) {
		if err := t.jobs.Upsert(ctx, key, t.now()); err != nil {
			return models.SyncJob{}, err
		}
		job, err = t.jobs.Get(ctx, key)
	}
	if err != nil {
		return models.SyncJob{}, err
	}

	job.RebaseCount++
	if t.policy.MaxAttempts > 0 && job.RebaseCount >= t.policy.MaxAttempts {
		return t.park(ctx, *job, cause, models.JobConflict, models.StateConflict)
	}
	job.AttemptCount = 0
	job.LastError = errText(cause)
	job.State = models.JobCreated
	job.NextAttemptAt = t.now()
	if err := t.jobs.Update(ctx, *job); err != nil {
		return models.SyncJob{}, err
	}
	return *job, nil
}

// MarkRejected dead-letters a job whose payload the remote refused.
func (t *Tracker) MarkRejected(ctx context.Context, key models.Key, cause error) (models.SyncJob, error) {
	job, err := t.jobs.Get(ctx, key)
	if err != nil {
		return models.SyncJob{}, err
	}
	job.AttemptCount++
	return t.park(ctx, *job, cause, models.JobDeadLettered, models.StateFailed)
}

// MarkConflict parks a job that needs manual reconciliation.
func (t *Tracker) MarkConflict(ctx context.Context, key models.Key, cause error) (models.SyncJob, error) {
	job, err := t.jobs.Get(ctx, key)
	if err != nil {
		return models.SyncJob{}, err
	}
	job.RebaseCount++
	return t.park(ctx, *job, cause, models.JobConflict, models.StateConflict)
}

func (t *Tracker) park(ctx context.Context, job models.SyncJob, cause error, js models.JobState, rs models.SyncState) (models.SyncJob, error) {
	job.LastError = errText(cause)
	job.State = js

	if err := t.setRecordState(ctx, job.Key(), rs); err != nil {
		return models.SyncJob{}, err
	}
	if err := t.jobs.Update(ctx, job); err != nil {
		return models.SyncJob{}, err
	}
	return job, nil
}

// Retry re-arms a dead-lettered or conflicted job on operator request.
func (t *Tracker) Retry(ctx context.Context, key models.Key) error {
	job, err := t.jobs.Get(ctx, key)
	if err != nil {
		return err
	}
	if !job.State.Terminal() {
		return fmt.Errorf("%w: job %s is %s", common.ErrValidation, key, job.State)
	}
	if err := t.setRecordState(ctx, key, models.StatePending); err != nil {
		return err
	}
	return t.rearm(ctx, key)
}

// Drop removes the job for key. Used once the record is reconciled clean.
func (t *Tracker) Drop(ctx context.Context, key models.Key) error {
	return t.jobs.Delete(ctx, key)
}

func (t *Tracker) setRecordState(ctx context.Context, key models.Key, state models.SyncState) error {
	rec, err := t.records.Load(ctx, key)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.SyncState == state {
		return nil
	}
	rec.SyncState = state
	return t.records.Save(ctx, *rec)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
