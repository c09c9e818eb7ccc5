package models

import "time"

// JobState is the lifecycle position of a SyncJob:
//
//	created -> inFlight -> {clean | backoff -> created | conflict | deadLettered}
//
// A clean job is deleted, so there is no stored "clean" state.
type JobState string

const (
	JobCreated      JobState = "created"
	JobInFlight     JobState = "inFlight"
	JobBackoff      JobState = "backoff"
	JobConflict     JobState = "conflict"
	JobDeadLettered JobState = "deadLettered"
)

// Terminal reports states that are not retried automatically.
func (s JobState) Terminal() bool {
	return s == JobConflict || s == JobDeadLettered
}

// SyncJob is the pending-push marker for one record. Repeated edits before a
// push collapse into the same job; the push always carries the latest state.
type SyncJob struct {
	EntityType string
	RecordID   string

	// AttemptCount counts consecutive failed attempts.
	AttemptCount int
	// RebaseCount counts pushes answered with a conflict and rebased on the
	// remote copy since the job was last armed.
	RebaseCount int

	LastError     string
	NextAttemptAt time.Time
	State         JobState
	Seq           int64
	CreatedAt     time.Time
}

func (j SyncJob) Key() Key { return Key{EntityType: j.EntityType, ID: j.RecordID} }
