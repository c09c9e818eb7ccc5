// Package superseded keeps the losing copies of reconciled conflicts.
package superseded

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/wardsync/internal/client/models"
	"github.com/dmitrijs2005/wardsync/internal/client/repositories/records"
	"github.com/dmitrijs2005/wardsync/internal/common"
	"github.com/dmitrijs2005/wardsync/internal/dbx"
	"github.com/google/uuid"
)

type Repository interface {
	Insert(ctx context.Context, v models.SupersededVersion) (models.SupersededVersion, error)
	List(ctx context.Context) ([]models.SupersededVersion, error)
	ListForRecord(ctx context.Context, key models.Key) ([]models.SupersededVersion, error)
}

type SQLiteRepository struct {
	db     dbx.DBTX
	sealer records.Sealer
	now    func() time.Time
}

// NewSQLiteRepository binds the repository to db. sealer may be nil.
func NewSQLiteRepository(db dbx.DBTX, sealer records.Sealer) *SQLiteRepository {
	return &SQLiteRepository{db: db, sealer: sealer, now: time.Now}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", common.ErrStorage, op, err)
}

// Insert stores v, assigning ID and RecordedAt when empty.
func (r *SQLiteRepository) Insert(ctx context.Context, v models.SupersededVersion) (models.SupersededVersion, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.RecordedAt.IsZero() {
		v.RecordedAt = r.now()
	}
	v.RecordedAt = v.RecordedAt.UTC()
	v.UpdatedAt = v.UpdatedAt.UTC()

	var payload, nonce []byte = v.Payload, nil
	if r.sealer != nil && len(v.Payload) > 0 {
		var err error
		payload, nonce, err = r.sealer.Seal(v.Payload, []byte(v.ID))
		if err != nil {
			return models.SupersededVersion{}, storageErr("seal superseded payload", err)
		}
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO superseded
		(id, entity_type, record_id, side, payload, nonce, updated_at, deleted, revision, reason, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.EntityType, v.RecordID, string(v.Side), nullable(payload), nullable(nonce),
		v.UpdatedAt.UnixNano(), v.Deleted, v.Revision, v.Reason, v.RecordedAt.UnixNano())
	if err != nil {
		return models.SupersededVersion{}, storageErr("insert superseded", err)
	}
	return v, nil
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

const selectColumns = `id, entity_type, record_id, side, payload, nonce, updated_at, deleted, revision, reason, recorded_at`

func (r *SQLiteRepository) List(ctx context.Context) ([]models.SupersededVersion, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM superseded ORDER BY recorded_at, id`)
	if err != nil {
		return nil, storageErr("list superseded", err)
	}
	return r.collect(rows)
}

func (r *SQLiteRepository) ListForRecord(ctx context.Context, key models.Key) ([]models.SupersededVersion, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM superseded
		WHERE entity_type=? AND record_id=? ORDER BY recorded_at, id`, key.EntityType, key.ID)
	if err != nil {
		return nil, storageErr("list superseded", err)
	}
	return r.collect(rows)
}

func (r *SQLiteRepository) collect(rows *sql.Rows) ([]models.SupersededVersion, error) {
	defer rows.Close()

	var result []models.SupersededVersion
	for rows.Next() {
		var (
			v                   models.SupersededVersion
			side                string
			payload, nonce      []byte
			updated, recordedAt int64
		)
		err := rows.Scan(&v.ID, &v.EntityType, &v.RecordID, &side, &payload, &nonce,
			&updated, &v.Deleted, &v.Revision, &v.Reason, &recordedAt)
		if err != nil {
			return nil, storageErr("scan superseded", err)
		}
		if len(nonce) > 0 {
			if r.sealer == nil {
				return nil, storageErr("open superseded payload", fmt.Errorf("row %s is sealed but no key is configured", v.ID))
			}
			if payload, err = r.sealer.Open(payload, nonce, []byte(v.ID)); err != nil {
				return nil, storageErr("open superseded payload", err)
			}
		}
		v.Side = models.Side(side)
		v.Payload = payload
		v.UpdatedAt = time.Unix(0, updated).UTC()
		v.RecordedAt = time.Unix(0, recordedAt).UTC()
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate superseded", err)
	}
	return result, nil
}
