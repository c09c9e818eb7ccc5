// Package models holds the server-side representation of synchronized records.
package models

import "time"

// Record is the authority's copy of one record. Version is assigned from a
// single sequence on every accepted write and doubles as the pull cursor.
type Record struct {
	EntityType string
	ID         string
	Payload    []byte
	UpdatedAt  time.Time
	Deleted    bool
	Version    int64
	// Origin is the device that wrote this version.
	Origin string
	// Revision is the writer's local revision at push time.
	Revision int64
}
