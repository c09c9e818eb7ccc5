// Package services contains application services for the wardsync client.
// They combine repositories inside transactions and are what the CLI talks
// to; the sync dispatcher lives in package syncer.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/wardsync/internal/client/models"
	"github.com/dmitrijs2005/wardsync/internal/client/repositories/records"
	"github.com/dmitrijs2005/wardsync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/wardsync/internal/client/tracker"
	"github.com/dmitrijs2005/wardsync/internal/dbx"
)

// RecordService is the write path for local mutations. Every write commits
// the record and its pending-sync marker together.
type RecordService interface {
	Put(ctx context.Context, rec models.Record) (models.Record, error)
	Delete(ctx context.Context, entityType, id string) (models.Record, error)
	Get(ctx context.Context, entityType, id string) (*models.Record, error)
	Query(ctx context.Context, entityType string, pred records.Predicate) iter.Seq2[models.Record, error]
	Lookup(ctx context.Context, entityType, field, value string) ([]models.Record, error)
}

type recordService struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	now      func() time.Time
	onChange func()
}

// NewRecordService binds the service to db. now schedules new sync jobs
// (nil means time.Now). onChange, if set, is called after every committed
// write; the CLI uses it to nudge the dispatcher.
func NewRecordService(db *sql.DB, repos repomanager.RepositoryManager, now func() time.Time, onChange func()) RecordService {
	return &recordService{db: db, repos: repos, now: now, onChange: onChange}
}

// Put stores rec as a local mutation stamped with the store clock. A missing
// id gets a fresh uuid.
func (s *recordService) Put(ctx context.Context, rec models.Record) (models.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.UpdatedAt = time.Time{}

	var stored models.Record
	err := s.write(ctx, func(ctx context.Context, recs records.Repository, t *tracker.Tracker) error {
		var err error
		stored, err = recs.Put(ctx, rec)
		if err != nil {
			return err
		}
		return t.MarkPending(ctx, stored.Key())
	})
	if err != nil {
		return models.Record{}, fmt.Errorf("put %s/%s: %w", rec.EntityType, rec.ID, err)
	}
	return stored, nil
}

func (s *recordService) Delete(ctx context.Context, entityType, id string) (models.Record, error) {
	var stored models.Record
	err := s.write(ctx, func(ctx context.Context, recs records.Repository, t *tracker.Tracker) error {
		var err error
		stored, err = recs.Delete(ctx, entityType, id)
		if err != nil {
			return err
		}
		return t.MarkPending(ctx, stored.Key())
	})
	if err != nil {
		return models.Record{}, fmt.Errorf("delete %s/%s: %w", entityType, id, err)
	}
	return stored, nil
}

func (s *recordService) write(ctx context.Context, fn func(context.Context, records.Repository, *tracker.Tracker) error) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		recs := s.repos.Records(tx)
		t := tracker.New(recs, s.repos.Jobs(tx), tracker.DefaultPolicy, s.now)
		return fn(ctx, recs, t)
	})
	if err == nil && s.onChange != nil {
		s.onChange()
	}
	return err
}

func (s *recordService) Get(ctx context.Context, entityType, id string) (*models.Record, error) {
	return s.repos.Records(s.db).Get(ctx, entityType, id)
}

func (s *recordService) Query(ctx context.Context, entityType string, pred records.Predicate) iter.Seq2[models.Record, error] {
	return s.repos.Records(s.db).Query(ctx, entityType, pred)
}

func (s *recordService) Lookup(ctx context.Context, entityType, field, value string) ([]models.Record, error) {
	return s.repos.Records(s.db).Lookup(ctx, entityType, field, value)
}
