// Package remote talks to the remote authority. Implementations are
// stateless apart from their connection and never retry: retry policy
// belongs to the sync dispatcher.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/wardsync/internal/client/models"
)

// Error categories. Every error an Authority returns matches exactly one of
// them via errors.Is / errors.As.
var (
	// ErrTransient covers network failures, timeouts and server-side
	// trouble; the push may be retried.
	ErrTransient = errors.New("transient remote failure")
	// ErrRejected means the remote refused the payload; retrying the same
	// state will not help.
	ErrRejected = errors.New("rejected by remote")
	// ErrUnauthorized pauses sync until the device is re-authenticated.
	ErrUnauthorized = errors.New("unauthorized")
)

// ConflictError reports that the remote copy moved past the push's base
// version. Remote is the authority's current copy.
type ConflictError struct {
	Remote models.RemoteRecord
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s (remote version %d)", e.Remote.Key(), e.Remote.Version)
}

// PushRequest carries the current local state of one record.
type PushRequest struct {
	Record models.Record
	// BaseVersion is the remote version the local copy is based on.
	BaseVersion int64
}

// Authority is the remote backend as seen by the sync dispatcher.
type Authority interface {
	// Ping probes connectivity.
	Ping(ctx context.Context) error
	// Push upserts (or tombstones) one record.
	Push(ctx context.Context, req PushRequest) (models.Ack, error)
	// Pull returns up to limit records of entityType positioned after since,
	// ordered by Position. An implementation may return records at or before
	// since again; applying them twice is harmless.
	Pull(ctx context.Context, entityType string, since int64, limit int) ([]models.RemoteRecord, error)
}

// Category names the error class of err for logs and reports.
func Category(err error) string {
	var ce *ConflictError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ce):
		return "conflict"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRejected):
		return "rejected"
	default:
		return "transient"
	}
}

func transient(err error) error { return fmt.Errorf("%w: %w", ErrTransient, err) }
func rejected(err error) error  { return fmt.Errorf("%w: %w", ErrRejected, err) }
