package records

import (
	"context"

	"github.com/dmitrijs2005/wardsync/internal/server/models"
)

// Repository is the authority's record storage.
type Repository interface {
	// LockEntityType serializes writers of one entity type until the
	// surrounding transaction ends, so versions commit in the order they are
	// drawn from the sequence.
	LockEntityType(ctx context.Context, entityType string) error
	// Get returns the stored record or common.ErrNotFound.
	Get(ctx context.Context, entityType, id string) (*models.Record, error)
	// Upsert writes rec under a fresh version and returns that version.
	Upsert(ctx context.Context, rec *models.Record) (int64, error)
	// SelectSince returns up to limit records of entityType with
	// Version > since, ordered by version.
	SelectSince(ctx context.Context, entityType string, since int64, limit int) ([]models.Record, error)
}
