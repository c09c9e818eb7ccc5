package jobs

import (
	"context"
	"time"

	"github.com/dmitrijs2005/wardsync/internal/client/models"
)

// Repository persists sync jobs, one per record.
type Repository interface {
	// Upsert creates a job for key or re-arms a terminal one. An active job
	// keeps its position and schedule.
	Upsert(ctx context.Context, key models.Key, now time.Time) error
	Get(ctx context.Context, key models.Key) (*models.SyncJob, error)
	// Ready lists created or backoff jobs due at now, oldest first.
	Ready(ctx context.Context, now time.Time, limit int) ([]models.SyncJob, error)
	Update(ctx context.Context, job models.SyncJob) error
	Delete(ctx context.Context, key models.Key) error
	ListByState(ctx context.Context, states ...models.JobState) ([]models.SyncJob, error)
	CountByState(ctx context.Context) (map[models.JobState]int, error)
}
