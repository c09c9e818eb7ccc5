// Package records provides the PostgreSQL-backed record repository of the
// authority server.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/wardsync/internal/common"
	"github.com/dmitrijs2005/wardsync/internal/dbx"
	"github.com/dmitrijs2005/wardsync/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) LockEntityType(ctx context.Context, entityType string) error {
	if _, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entityType); err != nil {
		return fmt.Errorf("%w: lock %s: %w", common.ErrStorage, entityType, err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, entityType, id string) (*models.Record, error) {
	query := `
		SELECT entity_type, id, payload, updated_at, deleted, version, origin, revision
		FROM records
		WHERE entity_type = $1 AND id = $2`

	var rec models.Record
	err := r.db.QueryRowContext(ctx, query, entityType, id).Scan(
		&rec.EntityType, &rec.ID, &rec.Payload, &rec.UpdatedAt, &rec.Deleted,
		&rec.Version, &rec.Origin, &rec.Revision,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s/%s: %w", common.ErrStorage, entityType, id, err)
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// payloadArg binds an empty payload as NULL and anything else as JSON text.
func payloadArg(p []byte) any {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}

func (r *PostgresRepository) Upsert(ctx context.Context, rec *models.Record) (int64, error) {
	query := `
		INSERT INTO records (entity_type, id, payload, updated_at, deleted, origin, revision, version)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7, nextval('record_version_seq'))
		ON CONFLICT (entity_type, id)
		DO UPDATE SET
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at,
			deleted = EXCLUDED.deleted,
			origin = EXCLUDED.origin,
			revision = EXCLUDED.revision,
			version = EXCLUDED.version
		RETURNING version`

	var version int64
	err := r.db.QueryRowContext(ctx, query,
		rec.EntityType, rec.ID, payloadArg(rec.Payload), rec.UpdatedAt.UTC(), rec.Deleted, rec.Origin, rec.Revision,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("%w: upsert %s/%s: %w", common.ErrStorage, rec.EntityType, rec.ID, err)
	}
	return version, nil
}

func (r *PostgresRepository) SelectSince(ctx context.Context, entityType string, since int64, limit int) ([]models.Record, error) {
	query := `
		SELECT entity_type, id, payload, updated_at, deleted, version, origin, revision
		FROM records
		WHERE entity_type = $1 AND version > $2
		ORDER BY version
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, entityType, since, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: select %s: %w", common.ErrStorage, entityType, err)
	}
	defer rows.Close()

	var result []models.Record
	for rows.Next() {
		var rec models.Record
		if err := rows.Scan(
			&rec.EntityType, &rec.ID, &rec.Payload, &rec.UpdatedAt, &rec.Deleted,
			&rec.Version, &rec.Origin, &rec.Revision,
		); err != nil {
			return nil, fmt.Errorf("%w: scan %s: %w", common.ErrStorage, entityType, err)
		}
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: select %s: %w", common.ErrStorage, entityType, err)
	}
	return result, nil
}
