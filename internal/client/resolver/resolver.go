// Package resolver reconciles a pulled remote record with its local copy.
//
// Reconcile is pure: it returns the canonical record and, when user data is
// discarded, the superseded copy to retain. Writing them is the caller's job.
package resolver

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/wardsync/internal/client/models"
)

// Kind tags a Resolution.
type Kind int

const (
	KeepLocal Kind = iota
	KeepRemote
	Merged
)

func (k Kind) String() string {
	switch k {
	case KeepLocal:
		return "keepLocal"
	case KeepRemote:
		return "keepRemote"
	case Merged:
		return "merged"
	default:
		return "unknown"
	}
}

// Policy selects how diverged live records are reconciled.
type Policy int

const (
	// LastWriterWins keeps the copy with the later UpdatedAt.
	LastWriterWins Policy = iota
	// FieldMerge merges top-level payload fields against the last agreed
	// payload and falls back to LastWriterWins per conflicting field.
	FieldMerge
)

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(s string) (Policy, bool) {
	switch s {
	case "", "lww", "last-writer-wins":
		return LastWriterWins, true
	case "merge", "field-merge":
		return FieldMerge, true
	}
	return LastWriterWins, false
}

// Resolution is the outcome of Reconcile.
type Resolution struct {
	Kind Kind

	// Record is the canonical local row to store. For KeepRemote it is
	// clean; for KeepLocal and Merged it is pending and must be pushed.
	Record models.Record

	// Superseded is the discarded copy, set when user data lost.
	Superseded *models.SupersededVersion

	// Echo means the remote copy is already reflected locally and nothing
	// needs to be written.
	Echo bool

	Reason string
}

type Resolver struct {
	policy Policy
}

func New(policy Policy) *Resolver {
	return &Resolver{policy: policy}
}

// Reconcile decides between local (nil when the record is unknown locally)
// and remote.
func (r *Resolver) Reconcile(local *models.Record, remote models.RemoteRecord) Resolution {
	if local == nil {
		if remote.Deleted {
			return Resolution{Kind: KeepRemote, Echo: true, Reason: "unknown tombstone"}
		}
		return Resolution{Kind: KeepRemote, Record: fromRemote(nil, remote), Reason: "new remote record"}
	}

	if remote.Version <= local.RemoteVersion {
		return Resolution{Kind: KeepLocal, Record: *local, Echo: true, Reason: "already seen"}
	}

	if !local.HasUnsyncedEdits() {
		return Resolution{Kind: KeepRemote, Record: fromRemote(local, remote), Reason: "fast-forward"}
	}

	if sameContent(local, remote) {
		rec := fromRemote(local, remote)
		return Resolution{Kind: KeepRemote, Record: rec, Reason: "converged"}
	}

	switch {
	case local.Deleted && !remote.Deleted:
		if remote.UpdatedAt.After(local.UpdatedAt) {
			return Resolution{Kind: KeepRemote, Record: fromRemote(local, remote), Reason: "update newer than local delete"}
		}
		return Resolution{
			Kind:       KeepLocal,
			Record:     keepLocal(local, remote),
			Superseded: remoteLoser(remote, "local delete wins"),
			Reason:     "local delete wins",
		}

	case !local.Deleted && remote.Deleted:
		if local.UpdatedAt.After(remote.UpdatedAt) {
			return Resolution{Kind: KeepLocal, Record: keepLocal(local, remote), Reason: "local update newer than remote delete"}
		}
		return Resolution{
			Kind:       KeepRemote,
			Record:     fromRemote(local, remote),
			Superseded: localLoser(local, "remote delete wins"),
			Reason:     "remote delete wins",
		}
	}

	if r.policy == FieldMerge {
		if res, ok := r.merge(local, remote); ok {
			return res
		}
	}
	return lww(local, remote)
}

// lww applies last-writer-wins to a diverged live pair. Ties go to the local
// copy because it carries an unsynced edit.
func lww(local *models.Record, remote models.RemoteRecord) Resolution {
	if remote.UpdatedAt.After(local.UpdatedAt) {
		return Resolution{
			Kind:       KeepRemote,
			Record:     fromRemote(local, remote),
			Superseded: localLoser(local, "remote newer"),
			Reason:     "remote newer",
		}
	}
	return Resolution{
		Kind:       KeepLocal,
		Record:     keepLocal(local, remote),
		Superseded: remoteLoser(remote, "local newer or tied"),
		Reason:     "local newer or tied",
	}
}

func (r *Resolver) merge(local *models.Record, remote models.RemoteRecord) (Resolution, bool) {
	base := map[string]json.RawMessage{}
	if len(local.BasePayload) > 0 {
		if err := json.Unmarshal(local.BasePayload, &base); err != nil {
			return Resolution{}, false
		}
	}
	var mine, theirs map[string]json.RawMessage
	if err := json.Unmarshal(local.Payload, &mine); err != nil || mine == nil {
		return Resolution{}, false
	}
	if err := json.Unmarshal(remote.Payload, &theirs); err != nil || theirs == nil {
		return Resolution{}, false
	}

	remoteWinsTies := remote.UpdatedAt.After(local.UpdatedAt)
	out := make(map[string]json.RawMessage, len(mine)+len(theirs))
	conflicted := false

	keys := make(map[string]struct{}, len(mine)+len(theirs))
	for k := range mine {
		keys[k] = struct{}{}
	}
	for k := range theirs {
		keys[k] = struct{}{}
	}

	for k := range keys {
		l, lok := mine[k]
		t, tok := theirs[k]
		b, bok := base[k]

		var v json.RawMessage
		var keep bool
		switch {
		case equalField(l, lok, t, tok):
			v, keep = l, lok
		case equalField(l, lok, b, bok):
			v, keep = t, tok
		case equalField(t, tok, b, bok):
			v, keep = l, lok
		default:
			conflicted = true
			if remoteWinsTies {
				v, keep = t, tok
			} else {
				v, keep = l, lok
			}
		}
		if keep {
			out[k] = v
		}
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return Resolution{}, false
	}

	if jsonEqual(payload, remote.Payload) {
		res := Resolution{Kind: KeepRemote, Record: fromRemote(local, remote), Reason: "merge equals remote"}
		if conflicted {
			res.Superseded = localLoser(local, "field conflict, remote newer")
		}
		return res, true
	}

	res := Resolution{Kind: Merged, Record: keepLocal(local, remote), Reason: "fields merged"}
	res.Record.Payload = payload
	if conflicted {
		if remoteWinsTies {
			res.Superseded = localLoser(local, "field conflict, remote newer")
		} else {
			res.Superseded = remoteLoser(remote, "field conflict, local newer or tied")
		}
	}
	return res, true
}

func equalField(a json.RawMessage, aok bool, b json.RawMessage, bok bool) bool {
	if aok != bok {
		return false
	}
	if !aok {
		return true
	}
	return jsonEqual(a, b)
}

func jsonEqual(a, b []byte) bool {
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	if bytes.Equal(ca.Bytes(), cb.Bytes()) {
		return true
	}
	// Objects may differ only in key order.
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	ra, _ := json.Marshal(va)
	rb, _ := json.Marshal(vb)
	return bytes.Equal(ra, rb)
}

func sameContent(local *models.Record, remote models.RemoteRecord) bool {
	if local.Deleted || remote.Deleted {
		return local.Deleted && remote.Deleted
	}
	return jsonEqual(local.Payload, remote.Payload)
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a.UTC()
	}
	return b.UTC()
}

// fromRemote builds the clean row that mirrors remote.
func fromRemote(local *models.Record, remote models.RemoteRecord) models.Record {
	rec := models.Record{
		ID:            remote.ID,
		EntityType:    remote.EntityType,
		UpdatedAt:     remote.UpdatedAt.UTC(),
		Deleted:       remote.Deleted,
		LocalRevision: 1,
		RemoteVersion: remote.Version,
		SyncState:     models.StateClean,
	}
	if !remote.Deleted {
		rec.Payload = remote.Payload
		rec.BasePayload = remote.Payload
	}
	if local != nil {
		rec.LocalRevision = local.LocalRevision + 1
		rec.UpdatedAt = maxTime(local.UpdatedAt, remote.UpdatedAt)
	}
	rec.SyncedRevision = rec.LocalRevision
	return rec
}

// keepLocal rebases the local row on remote so the next push carries the
// right base version.
func keepLocal(local *models.Record, remote models.RemoteRecord) models.Record {
	rec := *local
	rec.LocalRevision++
	rec.UpdatedAt = maxTime(local.UpdatedAt, remote.UpdatedAt)
	rec.RemoteVersion = remote.Version
	rec.SyncState = models.StatePending
	rec.BasePayload = nil
	if !remote.Deleted {
		rec.BasePayload = remote.Payload
	}
	return rec
}

func localLoser(local *models.Record, reason string) *models.SupersededVersion {
	return &models.SupersededVersion{
		EntityType: local.EntityType,
		RecordID:   local.ID,
		Side:       models.SideLocal,
		Payload:    local.Payload,
		UpdatedAt:  local.UpdatedAt,
		Deleted:    local.Deleted,
		Revision:   local.LocalRevision,
		Reason:     reason,
	}
}

func remoteLoser(remote models.RemoteRecord, reason string) *models.SupersededVersion {
	return &models.SupersededVersion{
		EntityType: remote.EntityType,
		RecordID:   remote.ID,
		Side:       models.SideRemote,
		Payload:    remote.Payload,
		UpdatedAt:  remote.UpdatedAt,
		Deleted:    remote.Deleted,
		Revision:   remote.Version,
		Reason:     reason,
	}
}
