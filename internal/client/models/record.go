// Package models defines client-side data models used by the wardsync
// sync core: local records, sync jobs, superseded versions and the remote
// view of a record.
package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/dmitrijs2005/wardsync/internal/common"
)

// SyncState tracks whether a record's local state has reached the remote.
type SyncState string

const (
	StateClean    SyncState = "clean"
	StatePending  SyncState = "pending"
	StateConflict SyncState = "conflict"
	StateFailed   SyncState = "failed"
)

var entityTypeRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Key addresses a record. Ids are unique only within their entity type.
type Key struct {
	EntityType string
	ID         string
}

func (k Key) String() string { return k.EntityType + "/" + k.ID }

// Record is a locally persisted domain entity (patient, admission, order,
// chart, session) together with its sync bookkeeping.
type Record struct {
	ID         string
	EntityType string

	// Payload is the entity body, a JSON document. Empty for tombstones.
	Payload json.RawMessage

	// UpdatedAt is the writer's wall clock at the last mutation, UTC.
	UpdatedAt time.Time

	// LocalRevision strictly increases on every local mutation.
	LocalRevision int64
	// SyncedRevision is the last LocalRevision acknowledged by the remote.
	SyncedRevision int64
	// RemoteVersion is the last remote version observed for this record.
	RemoteVersion int64

	SyncState SyncState

	// Deleted marks a tombstone.
	Deleted bool

	// BasePayload is the payload both sides last agreed on.
	BasePayload json.RawMessage

	// SyncedAt is when the current state was confirmed by the remote, set
	// only while the record is clean. Tombstone retention counts from it.
	SyncedAt time.Time
}

func (r Record) Key() Key { return Key{EntityType: r.EntityType, ID: r.ID} }

// HasUnsyncedEdits reports local mutations newer than the last ack.
func (r Record) HasUnsyncedEdits() bool { return r.LocalRevision > r.SyncedRevision }

// Validate checks the fields a writer must supply.
func (r Record) Validate() error {
	if r.EntityType == "" {
		return fmt.Errorf("%w: entity type is required", common.ErrInvalidRecord)
	}
	if !entityTypeRe.MatchString(r.EntityType) {
		return fmt.Errorf("%w: bad entity type %q", common.ErrInvalidRecord, r.EntityType)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", common.ErrInvalidRecord)
	}
	if !r.Deleted && len(r.Payload) > 0 && !json.Valid(r.Payload) {
		return fmt.Errorf("%w: payload is not valid JSON", common.ErrInvalidRecord)
	}
	return nil
}

// RemoteRecord is the remote authority's copy of a record.
type RemoteRecord struct {
	ID         string
	EntityType string
	Payload    json.RawMessage
	UpdatedAt  time.Time
	Deleted    bool

	// Version is assigned by the remote and grows with every accepted write
	// to this record. It is the optimistic-concurrency base of the next push.
	Version int64

	// Cursor is the pull position of this copy when the remote orders pulls
	// by something other than Version. Zero means Version.
	Cursor int64

	// Origin identifies the device that wrote this version, when known.
	Origin string
}

func (r RemoteRecord) Key() Key { return Key{EntityType: r.EntityType, ID: r.ID} }

// Position is the value a puller stores as its cursor after applying r.
func (r RemoteRecord) Position() int64 {
	if r.Cursor != 0 {
		return r.Cursor
	}
	return r.Version
}

// Ack is the remote's acknowledgement of a push.
type Ack struct {
	// Revision is the pushed LocalRevision the remote accepted.
	Revision int64
	// Version is the remote version assigned to the write.
	Version int64
}
