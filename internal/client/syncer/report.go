package syncer

import (
	"time"

	"github.com/dmitrijs2005/wardsync/internal/client/models"
)

// Outcome is the recorded result of one push task.
type Outcome string

// Stale means nothing needed pushing once the task ran, Skipped that another
// push for the record was in flight, Paused that sync stopped for
// re-authentication (the job is kept).
const (
	OutcomeAcked        Outcome = "acked"
	OutcomeStale        Outcome = "stale"
	OutcomeRetry        Outcome = "retry"
	OutcomeDeadLettered Outcome = "deadLettered"
	OutcomeRejected     Outcome = "rejected"
	OutcomeConflict     Outcome = "conflict"
	OutcomeSkipped      Outcome = "skipped"
	OutcomePaused       Outcome = "paused"
)

// PushTask is one push attempt.
type PushTask struct {
	Key        models.Key
	Revision   int64
	Attempt    int
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    Outcome
	// Resolution names the resolver's decision for conflicts.
	Resolution string
	Err        error
}

// TickReport accounts for everything one tick did.
type TickReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Online     bool
	Paused     bool

	Pushes []PushTask

	// Pulled counts remote records received per entity type.
	Pulled map[string]int
	// Applied counts pulled records that changed the local store.
	Applied    int
	Superseded int
	Purged     int64

	// Err is the first sync failure of the tick, if any.
	Err error
}

// Count returns how many pushes ended with o.
func (r TickReport) Count(o Outcome) int {
	n := 0
	for _, p := range r.Pushes {
		if p.Outcome == o {
			n++
		}
	}
	return n
}

// Mode is the dispatcher's view of the remote.
type Mode string

const (
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"
	ModePaused  Mode = "paused"
)

// Status is the aggregate surfaced to the user.
type Status struct {
	Mode    Mode
	Running bool
	// Pending counts records with unpushed local changes.
	Pending int
	// NeedsAttention counts records that will not sync without help:
	// failed (dead-lettered) and conflicted ones.
	NeedsAttention int
	LastTick       time.Time
	LastError      string
}
