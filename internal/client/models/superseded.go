package models

import (
	"encoding/json"
	"time"
)

// Side names which copy of a record lost a reconciliation.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// SupersededVersion is the losing side of a conflict, kept for audit and
// manual recovery.
type SupersededVersion struct {
	ID         string
	EntityType string
	RecordID   string
	Side       Side
	Payload    json.RawMessage
	UpdatedAt  time.Time
	Deleted    bool
	// Revision is the local revision (SideLocal) or remote version
	// (SideRemote) of the lost copy.
	Revision   int64
	Reason     string
	RecordedAt time.Time
}
