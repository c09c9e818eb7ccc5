// Package jobs stores the outbound sync queue in the local SQLite database.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/wardsync/internal/client/models"
	"github.com/dmitrijs2005/wardsync/internal/common"
	"github.com/dmitrijs2005/wardsync/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", common.ErrStorage, op, err)
}

func (r *SQLiteRepository) Upsert(ctx context.Context, key models.Key, now time.Time) error {
	ts := now.UTC().UnixNano()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_jobs (entity_type, record_id, attempt_count, last_error, next_attempt_at, state, created_at)
		VALUES (?, ?, 0, '', ?, ?, ?)
		ON CONFLICT(entity_type, record_id) DO UPDATE SET
			attempt_count   = CASE WHEN state IN (?, ?) THEN 0 ELSE attempt_count END,
			rebase_count    = CASE WHEN state IN (?, ?) THEN 0 ELSE rebase_count END,
			last_error      = CASE WHEN state IN (?, ?) THEN '' ELSE last_error END,
			next_attempt_at = CASE WHEN state IN (?, ?) THEN excluded.next_attempt_at ELSE next_attempt_at END,
			state           = CASE WHEN state IN (?, ?) THEN excluded.state ELSE state END
	`, key.EntityType, key.ID, ts, string(models.JobCreated), ts,
		string(models.JobDeadLettered), string(models.JobConflict),
		string(models.JobDeadLettered), string(models.JobConflict),
		string(models.JobDeadLettered), string(models.JobConflict),
		string(models.JobDeadLettered), string(models.JobConflict),
		string(models.JobDeadLettered), string(models.JobConflict))
	if err != nil {
		return storageErr("upsert job "+key.String(), err)
	}
	return nil
}

const selectColumns = `seq, entity_type, record_id, attempt_count, rebase_count, last_error, next_attempt_at, state, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (models.SyncJob, error) {
	var (
		j             models.SyncJob
		next, created int64
		state         string
	)
	if err := row.Scan(&j.Seq, &j.EntityType, &j.RecordID, &j.AttemptCount, &j.RebaseCount, &j.LastError, &next, &state, &created); err != nil {
		return models.SyncJob{}, err
	}
	j.NextAttemptAt = time.Unix(0, next).UTC()
	j.CreatedAt = time.Unix(0, created).UTC()
	j.State = models.JobState(state)
	return j, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, key models.Key) (*models.SyncJob, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM sync_jobs WHERE entity_type=? AND record_id=?`, key.EntityType, key.ID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get job "+key.String(), err)
	}
	return &j, nil
}

func (r *SQLiteRepository) Ready(ctx context.Context, now time.Time, limit int) ([]models.SyncJob, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM sync_jobs
		WHERE state IN (?, ?) AND next_attempt_at <= ?
		ORDER BY seq LIMIT ?`,
		string(models.JobCreated), string(models.JobBackoff), now.UTC().UnixNano(), limit)
	if err != nil {
		return nil, storageErr("select ready jobs", err)
	}
	return collect(rows)
}

func (r *SQLiteRepository) Update(ctx context.Context, job models.SyncJob) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sync_jobs
		SET attempt_count=?, rebase_count=?, last_error=?, next_attempt_at=?, state=?
		WHERE entity_type=? AND record_id=?`,
		job.AttemptCount, job.RebaseCount, job.LastError, job.NextAttemptAt.UTC().UnixNano(), string(job.State),
		job.EntityType, job.RecordID)
	if err != nil {
		return storageErr("update job "+job.Key().String(), err)
	}
	if err := dbx.ExpectOne(res); err != nil {
		if errors.Is(err, dbx.ErrNoRowsAffected) {
			return common.ErrNotFound
		}
		return storageErr("update job "+job.Key().String(), err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, key models.Key) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_jobs WHERE entity_type=? AND record_id=?`, key.EntityType, key.ID)
	if err != nil {
		return storageErr("delete job "+key.String(), err)
	}
	return nil
}

func (r *SQLiteRepository) ListByState(ctx context.Context, states ...models.JobState) ([]models.SyncJob, error) {
	query := `SELECT ` + selectColumns + ` FROM sync_jobs`
	args := make([]any, 0, len(states))
	if len(states) > 0 {
		marks := make([]string, len(states))
		for i, s := range states {
			marks[i] = "?"
			args = append(args, string(s))
		}
		query += ` WHERE state IN (` + strings.Join(marks, ",") + `)`
	}
	query += ` ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list jobs", err)
	}
	return collect(rows)
}

func (r *SQLiteRepository) CountByState(ctx context.Context) (map[models.JobState]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM sync_jobs GROUP BY state`)
	if err != nil {
		return nil, storageErr("count jobs", err)
	}
	defer rows.Close()

	out := make(map[models.JobState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, storageErr("scan job count", err)
		}
		out[models.JobState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate job counts", err)
	}
	return out, nil
}

func collect(rows *sql.Rows) ([]models.SyncJob, error) {
	defer rows.Close()

	var result []models.SyncJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, storageErr("scan job", err)
		}
		result = append(result, j)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate jobs", err)
	}
	return result, nil
}
