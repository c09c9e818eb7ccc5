// Package services holds the authority's business logic: optimistic
// concurrency on push and version-ordered paging on pull.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/wardsync/internal/common"
	"github.com/dmitrijs2005/wardsync/internal/dbx"
	"github.com/dmitrijs2005/wardsync/internal/server/config"
	"github.com/dmitrijs2005/wardsync/internal/server/models"
	"github.com/dmitrijs2005/wardsync/internal/server/repositories/repomanager"
)

// ConflictError is returned by Push when the stored version differs from
// the writer's base. Current is the stored copy.
type ConflictError struct {
	Current models.Record
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s/%s (current %d)", e.Current.EntityType, e.Current.ID, e.Current.Version)
}

func (e *ConflictError) Unwrap() error { return common.ErrVersionConflict }

type RecordService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *config.Config
	allowed     map[string]struct{}
	now         func() time.Time
}

func NewRecordService(db *sql.DB, repomanager repomanager.RepositoryManager, cfg *config.Config) *RecordService {
	allowed := make(map[string]struct{}, len(cfg.AllowedEntityTypes))
	for _, t := range cfg.AllowedEntityTypes {
		allowed[t] = struct{}{}
	}
	return &RecordService{
		db:          db,
		repomanager: repomanager,
		config:      cfg,
		allowed:     allowed,
		now:         time.Now,
	}
}

func (s *RecordService) checkType(entityType string) error {
	if entityType == "" {
		return fmt.Errorf("%w: empty entity type", common.ErrValidation)
	}
	if len(s.allowed) == 0 {
		return nil
	}
	if _, ok := s.allowed[entityType]; !ok {
		return fmt.Errorf("%w: entity type %q not allowed", common.ErrValidation, entityType)
	}
	return nil
}

func (s *RecordService) validate(rec *models.Record) error {
	if err := s.checkType(rec.EntityType); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("%w: empty id", common.ErrValidation)
	}
	if rec.Deleted {
		rec.Payload = nil
		return nil
	}
	if len(rec.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", common.ErrInvalidRecord)
	}
	if len(rec.Payload) > s.config.MaxPayloadBytes {
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", common.ErrInvalidRecord, len(rec.Payload), s.config.MaxPayloadBytes)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(rec.Payload, &obj); err != nil || obj == nil {
		return fmt.Errorf("%w: payload is not a JSON object", common.ErrInvalidRecord)
	}
	return nil
}

// Push stores rec if the stored version equals baseVersion, or if nothing is
// stored yet. deviceID, when set, overrides rec.Origin. The stored record,
// carrying its new version, is returned. A mismatch yields *ConflictError.
func (s *RecordService) Push(ctx context.Context, deviceID string, rec models.Record, baseVersion int64) (models.Record, error) {
	if err := s.validate(&rec); err != nil {
		return models.Record{}, err
	}
	if deviceID != "" {
		rec.Origin = deviceID
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now()
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Records(tx)

		if err := repo.LockEntityType(ctx, rec.EntityType); err != nil {
			return err
		}

		cur, err := repo.Get(ctx, rec.EntityType, rec.ID)
		switch {
		case errors.Is(err, common.ErrNotFound):
		case err != nil:
			return err
		case cur.Version != baseVersion:
			return &ConflictError{Current: *cur}
		}

		version, err := repo.Upsert(ctx, &rec)
		if err != nil {
			return err
		}
		rec.Version = version
		return nil
	})
	if err != nil {
		return models.Record{}, err
	}
	return rec, nil
}

// Pull pages records of entityType with Version > since. A non-positive or
// oversized limit is clamped to the configured maximum.
func (s *RecordService) Pull(ctx context.Context, entityType string, since int64, limit int) ([]models.Record, error) {
	if err := s.checkType(entityType); err != nil {
		return nil, err
	}
	if since < 0 {
		return nil, fmt.Errorf("%w: negative cursor", common.ErrValidation)
	}
	if limit <= 0 || limit > s.config.MaxPullLimit {
		limit = s.config.MaxPullLimit
	}
	return s.repomanager.Records(s.db).SelectSince(ctx, entityType, since, limit)
}
