package syncer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/wardsync/internal/client/models"
	"github.com/dmitrijs2005/wardsync/internal/client/remote"
	"github.com/dmitrijs2005/wardsync/internal/client/repositories/jobs"
	"github.com/dmitrijs2005/wardsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/wardsync/internal/client/repositories/records"
	"github.com/dmitrijs2005/wardsync/internal/client/repositories/superseded"
	"github.com/dmitrijs2005/wardsync/internal/client/resolver"
	"github.com/dmitrijs2005/wardsync/internal/client/tracker"
	"github.com/dmitrijs2005/wardsync/internal/common"
	"github.com/dmitrijs2005/wardsync/internal/dbx"
)

// unit bundles repositories bound to one handle, usually a transaction.
type unit struct {
	records    records.Repository
	jobs       jobs.Repository
	superseded superseded.Repository
	metadata   metadata.Repository
	tracker    *tracker.Tracker
}

func (m *Manager) bind(db dbx.DBTX) unit {
	u := unit{
		records:    m.repos.Records(db),
		jobs:       m.repos.Jobs(db),
		superseded: m.repos.Superseded(db),
		metadata:   m.repos.Metadata(db),
	}
	u.tracker = tracker.New(u.records, u.jobs, m.cfg.Retry, m.now)
	return u
}

func (m *Manager) inTx(ctx context.Context, fn func(ctx context.Context, u unit) error) error {
	return dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, m.bind(tx))
	})
}

func cursorKey(entityType string) string { return "cursor:" + entityType }

// SyncOnce runs one tick: probe, push ready jobs, pull, purge. Sync
// failures are reported in TickReport.Err; the returned error is reserved
// for local storage failures.
func (m *Manager) SyncOnce(ctx context.Context) (TickReport, error) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	report := TickReport{StartedAt: m.now(), Pulled: map[string]int{}}
	err := m.runTick(ctx, &report)
	report.FinishedAt = m.now()

	m.mu.Lock()
	m.lastTick = report.FinishedAt
	if report.Err != nil {
		m.lastErr = report.Err
	} else if err != nil {
		m.lastErr = err
	} else if report.Online {
		m.lastErr = nil
	}
	m.mu.Unlock()

	return report, err
}

func (m *Manager) runTick(ctx context.Context, report *TickReport) error {
	if m.isPaused() {
		report.Paused = true
		return nil
	}

	if err := m.remote.Ping(ctx); err != nil {
		if errors.Is(err, remote.ErrUnauthorized) {
			m.pause(ctx, err)
			report.Paused = true
		} else {
			m.setMode(ModeOffline)
		}
		report.Err = err
		return nil
	}
	m.setMode(ModeOnline)
	report.Online = true

	if err := m.drain(ctx, report); err != nil {
		return err
	}
	if m.isPaused() {
		report.Paused = true
		return nil
	}

	if err := m.pull(ctx, report); err != nil {
		return err
	}

	if m.cfg.TombstoneRetention > 0 {
		n, err := m.repos.Records(m.db).PurgeTombstones(ctx, m.now().Add(-m.cfg.TombstoneRetention))
		if err != nil {
			return err
		}
		report.Purged = n
	}
	return nil
}

// drain pushes ready jobs in creation order, FanOut at a time.
func (m *Manager) drain(ctx context.Context, report *TickReport) error {
	ready, err := m.repos.Jobs(m.db).Ready(ctx, m.now(), m.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(ready) == 0 {
		return nil
	}

	tasks := make([]PushTask, len(ready))
	errs := make([]error, len(ready))

	var g errgroup.Group
	g.SetLimit(m.cfg.FanOut)
	for i, job := range ready {
		key := job.Key()
		tasks[i] = PushTask{Key: key, Attempt: job.AttemptCount + 1, Outcome: OutcomeSkipped}
		if !m.claim(key) {
			continue
		}
		g.Go(func() error {
			defer m.release(key)
			tasks[i].StartedAt = m.now()
			errs[i] = m.push(ctx, &tasks[i])
			tasks[i].FinishedAt = m.now()
			return nil
		})
	}
	_ = g.Wait()

	report.Pushes = tasks
	for _, t := range tasks {
		if t.Err != nil && report.Err == nil {
			report.Err = t.Err
		}
	}
	return errors.Join(errs...)
}

// push runs one task. Remote failures end up in task.Err; the returned error
// is a local storage failure.
func (m *Manager) push(ctx context.Context, task *PushTask) error {
	if m.isPaused() {
		task.Outcome = OutcomePaused
		return nil
	}

	u := m.bind(m.db)
	rec, err := u.records.Load(ctx, task.Key)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	if rec == nil || !rec.HasUnsyncedEdits() {
		task.Outcome = OutcomeStale
		return u.tracker.Drop(ctx, task.Key)
	}
	task.Revision = rec.LocalRevision

	ack, err := m.remote.Push(ctx, remote.PushRequest{Record: *rec, BaseVersion: rec.RemoteVersion})
	if err == nil {
		return m.acked(ctx, task, ack, *rec)
	}
	task.Err = err

	var ce *remote.ConflictError
	switch {
	case errors.As(err, &ce):
		return m.conflicted(ctx, task, ce.Remote)

	case errors.Is(err, remote.ErrUnauthorized):
		m.pause(ctx, err)
		task.Outcome = OutcomePaused
		return nil

	case errors.Is(err, remote.ErrRejected):
		task.Outcome = OutcomeRejected
		return m.inTx(ctx, func(ctx context.Context, u unit) error {
			_, rerr := u.tracker.MarkRejected(ctx, task.Key, task.Err)
			return rerr
		})

	default:
		m.logger.Debug(ctx, "push failed", "key", task.Key.String(), "error", err)
		return m.inTx(ctx, func(ctx context.Context, u unit) error {
			job, ferr := u.tracker.MarkFailed(ctx, task.Key, task.Err)
			if ferr != nil {
				return ferr
			}
			task.Outcome = OutcomeRetry
			if job.State == models.JobDeadLettered {
				task.Outcome = OutcomeDeadLettered
			}
			return nil
		})
	}
}

func (m *Manager) acked(ctx context.Context, task *PushTask, ack models.Ack, pushed models.Record) error {
	return m.inTx(ctx, func(ctx context.Context, u unit) error {
		res, err := u.tracker.MarkClean(ctx, task.Key, ack, pushed)
		if err != nil {
			return err
		}
		task.Outcome = OutcomeAcked
		if res == tracker.AckStale {
			task.Outcome = OutcomeStale
		}
		return nil
	})
}

// conflicted reconciles a push the remote refused because its copy moved on.
func (m *Manager) conflicted(ctx context.Context, task *PushTask, rr models.RemoteRecord) error {
	task.Outcome = OutcomeConflict
	return m.inTx(ctx, func(ctx context.Context, u unit) error {
		local, err := u.records.Load(ctx, task.Key)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}

		res := m.resolver.Reconcile(local, rr)
		task.Resolution = res.Kind.String()

		if res.Echo {
			if local == nil {
				return u.tracker.Drop(ctx, task.Key)
			}
			// The remote claims a conflict with a version we already hold.
			_, err := u.tracker.MarkConflict(ctx, task.Key, task.Err)
			return err
		}
		if err := m.store(ctx, u, res); err != nil {
			return err
		}
		if res.Kind == resolver.KeepRemote {
			return u.tracker.Drop(ctx, task.Key)
		}
		_, err = u.tracker.Requeue(ctx, task.Key, task.Err)
		return err
	})
}

// store writes a resolution and its superseded copy, if any.
func (m *Manager) store(ctx context.Context, u unit, res resolver.Resolution) error {
	if res.Superseded != nil {
		if _, err := u.superseded.Insert(ctx, *res.Superseded); err != nil {
			return err
		}
	}
	return u.records.Save(ctx, res.Record)
}

func (m *Manager) entityTypes(ctx context.Context) ([]string, error) {
	local, err := m.repos.Records(m.db).EntityTypes(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(local)+len(m.cfg.EntityTypes))
	for _, t := range local {
		set[t] = struct{}{}
	}
	for _, t := range m.cfg.EntityTypes {
		set[t] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set)), nil
}

func (m *Manager) pull(ctx context.Context, report *TickReport) error {
	types, err := m.entityTypes(ctx)
	if err != nil {
		return err
	}
	for _, et := range types {
		if err := m.pullType(ctx, et, report); err != nil {
			if errors.Is(err, common.ErrStorage) {
				return err
			}
			if errors.Is(err, remote.ErrUnauthorized) {
				m.pause(ctx, err)
				report.Paused = true
			}
			if report.Err == nil {
				report.Err = fmt.Errorf("pull %s: %w", et, err)
			}
			if m.isPaused() {
				return nil
			}
		}
	}
	return nil
}

// pullType pages through entityType from its cursor. Each page is applied
// together with the cursor advance in one transaction.
func (m *Manager) pullType(ctx context.Context, entityType string, report *TickReport) error {
	since, err := m.repos.Metadata(m.db).GetInt64(ctx, cursorKey(entityType))
	if err != nil {
		return err
	}

	for {
		batch, err := m.remote.Pull(ctx, entityType, since, m.cfg.PullLimit)
		if err != nil {
			return err
		}
		report.Pulled[entityType] += len(batch)
		if len(batch) == 0 {
			return nil
		}

		next, applied, lost := since, 0, 0
		err = m.inTx(ctx, func(ctx context.Context, u unit) error {
			for _, rr := range batch {
				if rr.Position() > next {
					next = rr.Position()
				}
				changed, err := m.apply(ctx, u, rr)
				if err != nil {
					return err
				}
				if changed.applied {
					applied++
				}
				if changed.superseded {
					lost++
				}
			}
			return u.metadata.SetInt64(ctx, cursorKey(entityType), next)
		})
		if err != nil {
			return err
		}
		report.Applied += applied
		report.Superseded += lost

		if next <= since || len(batch) < m.cfg.PullLimit {
			return nil
		}
		since = next
	}
}

type applyResult struct {
	applied    bool
	superseded bool
}

// apply reconciles one pulled record into the local store.
func (m *Manager) apply(ctx context.Context, u unit, rr models.RemoteRecord) (applyResult, error) {
	local, err := u.records.Load(ctx, rr.Key())
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return applyResult{}, err
	}

	res := m.resolver.Reconcile(local, rr)
	if res.Echo {
		return applyResult{}, nil
	}
	if res.Superseded != nil {
		m.logger.Info(ctx, "conflict resolved",
			"key", rr.Key().String(),
			"kept", res.Kind.String(),
			"reason", res.Reason)
	}
	if err := m.store(ctx, u, res); err != nil {
		return applyResult{}, err
	}

	if res.Kind == resolver.KeepRemote {
		err = u.tracker.Drop(ctx, rr.Key())
	} else {
		err = u.tracker.Rebase(ctx, rr.Key())
	}
	return applyResult{applied: true, superseded: res.Superseded != nil}, err
}
