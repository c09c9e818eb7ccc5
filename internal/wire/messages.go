// Package wire defines the wardsync.v1.Authority gRPC service: its protobuf
// schema, the Go view of its messages and the client and server bindings.
package wire

import (
	"encoding/json"
	"time"
)

const ServiceName = "wardsync.v1.Authority"

const (
	MethodPing = "/" + ServiceName + "/Ping"
	MethodPush = "/" + ServiceName + "/Push"
	MethodPull = "/" + ServiceName + "/Pull"
)

// Record is a record as exchanged with the authority. Payload must be a JSON
// object; it travels as a google.protobuf.Struct.
type Record struct {
	EntityType string
	ID         string
	Payload    json.RawMessage
	UpdatedAt  time.Time
	Deleted    bool
	Version    int64
	Origin     string
}

type PingRequest struct{}

type PingResponse struct {
	Status     string
	ServerTime time.Time
}

// PushRequest upserts one record. BaseVersion is the version the writer last
// saw (0 for a record it believes is new); a mismatch is a conflict.
type PushRequest struct {
	Record      Record
	Revision    int64
	BaseVersion int64
}

// PushResponse reports the outcome. When Accepted is false, Current holds
// the authority's copy.
type PushResponse struct {
	Accepted bool
	Revision int64
	Version  int64
	Current  *Record
}

// PullRequest asks for records of one type with Version > Since, oldest
// first, at most Limit of them.
type PullRequest struct {
	EntityType string
	Since      int64
	Limit      int
}

type PullResponse struct {
	Records []Record
}
