package records

import (
	"context"
	"iter"
	"time"

	"github.com/dmitrijs2005/wardsync/internal/client/models"
)

// Predicate filters records in Query. A nil Predicate matches everything.
type Predicate func(models.Record) bool

// Repository describes the Local Record Store.
type Repository interface {
	// Put validates and writes a local mutation: it bumps LocalRevision,
	// stamps UpdatedAt when zero and marks the record pending.
	Put(ctx context.Context, rec models.Record) (models.Record, error)

	// Get returns a live record or common.ErrNotFound (tombstones included).
	Get(ctx context.Context, entityType, id string) (*models.Record, error)

	// Load returns the stored row, tombstone or not, or common.ErrNotFound.
	Load(ctx context.Context, key models.Key) (*models.Record, error)

	// Query lazily yields live records of one entity type in id order.
	// The sequence may be ranged over again to restart it.
	Query(ctx context.Context, entityType string, pred Predicate) iter.Seq2[models.Record, error]

	// Lookup returns live records whose indexed field equals value.
	Lookup(ctx context.Context, entityType, field, value string) ([]models.Record, error)

	// Delete writes a tombstone for a live record.
	Delete(ctx context.Context, entityType, id string) (models.Record, error)

	// Save writes rec verbatim, bookkeeping included.
	Save(ctx context.Context, rec models.Record) error

	// PurgeTombstones physically removes clean tombstones updated before cutoff.
	PurgeTombstones(ctx context.Context, cutoff time.Time) (int64, error)

	// CountByState counts rows per sync state, tombstones included.
	CountByState(ctx context.Context) (map[models.SyncState]int, error)

	// EntityTypes lists the entity types present locally.
	EntityTypes(ctx context.Context) ([]string, error)
}
