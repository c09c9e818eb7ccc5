package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/wardsync/internal/client/models"
	"github.com/dmitrijs2005/wardsync/internal/client/report"
	"github.com/dmitrijs2005/wardsync/internal/client/syncer"
)

// Put writes a record. args: entity, id ("-" for a new one) and the JSON
// payload, which may contain spaces.
func (a *App) Put(ctx context.Context, args []string) error {
	id := args[1]
	if id == "-" {
		id = ""
	}
	payload := strings.Join(args[2:], " ")
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("payload is not valid JSON")
	}

	rec, err := a.records.Put(ctx, models.Record{EntityType: args[0], ID: id, Payload: json.RawMessage(payload)})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "saved %s rev %d\n", rec.Key(), rec.LocalRevision)
	return nil
}

func (a *App) Get(ctx context.Context, args []string) error {
	rec, err := a.records.Get(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, rec.Payload, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(rec.Payload)
	}
	fmt.Fprintf(a.out, "%s rev %d %s updated %s\n%s\n",
		rec.Key(), rec.LocalRevision, rec.SyncState, rec.UpdatedAt.Format(time.RFC3339), pretty.String())
	return nil
}

// List prints the records of an entity type, or with a field=value filter
// the indexed matches.
func (a *App) List(ctx context.Context, args []string) error {
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREV\tSTATE\tUPDATED")
	row := func(rec models.Record) {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", rec.ID, rec.LocalRevision, rec.SyncState, rec.UpdatedAt.Format(time.RFC3339))
	}

	if len(args) > 1 {
		field, value, ok := strings.Cut(args[1], "=")
		if !ok {
			return fmt.Errorf("filter must be field=value")
		}
		found, err := a.records.Lookup(ctx, args[0], field, value)
		if err != nil {
			return err
		}
		for _, rec := range found {
			row(rec)
		}
		return w.Flush()
	}

	for rec, err := range a.records.Query(ctx, args[0], nil) {
		if err != nil {
			return err
		}
		row(rec)
	}
	return w.Flush()
}

func (a *App) Delete(ctx context.Context, args []string) error {
	rec, err := a.records.Delete(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "deleted %s rev %d\n", rec.Key(), rec.LocalRevision)
	return nil
}

func (a *App) Status(ctx context.Context) error {
	st, err := a.sync.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "mode: %s\npending: %d\nneeds attention: %d\n", st.Mode, st.Pending, st.NeedsAttention)
	if !st.LastTick.IsZero() {
		fmt.Fprintf(a.out, "last sync: %s\n", st.LastTick.Format(time.RFC3339))
	}
	if st.LastError != "" {
		fmt.Fprintf(a.out, "last error: %s\n", st.LastError)
	}
	return nil
}

func (a *App) DeadLetters(ctx context.Context) error {
	jobs, err := a.sync.DeadLetters(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RECORD\tSTATE\tATTEMPTS\tLAST ERROR")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", j.Key(), j.State, j.AttemptCount, j.LastError)
	}
	return w.Flush()
}

func (a *App) Superseded(ctx context.Context) error {
	lost, err := a.sync.Superseded(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RECORD\tSIDE\tREV\tRECORDED\tREASON")
	for _, v := range lost {
		key := models.Key{EntityType: v.EntityType, ID: v.RecordID}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", key, v.Side, v.Revision, v.RecordedAt.Format(time.RFC3339), v.Reason)
	}
	return w.Flush()
}

func (a *App) Retry(ctx context.Context, args []string) error {
	key := models.Key{EntityType: args[0], ID: args[1]}
	if err := a.sync.Retry(ctx, key); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "re-queued %s\n", key)
	return nil
}

// Export writes dead letters and superseded versions to an xlsx file.
func (a *App) Export(ctx context.Context, args []string) error {
	dead, err := a.sync.DeadLetters(ctx)
	if err != nil {
		return err
	}
	lost, err := a.sync.Superseded(ctx)
	if err != nil {
		return err
	}

	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	if err := report.Write(f, dead, lost); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "exported %d dead letters and %d superseded versions to %s\n", len(dead), len(lost), args[0])
	return nil
}

// Sync runs one tick in the foreground and prints what it did.
func (a *App) Sync(ctx context.Context) error {
	r, err := a.sync.SyncOnce(ctx)
	if err != nil {
		return err
	}
	switch {
	case r.Paused:
		fmt.Fprintln(a.out, "sync is paused until re-authentication (see 'resume')")
	case !r.Online:
		fmt.Fprintln(a.out, "remote unreachable, changes stay queued")
	default:
		fmt.Fprintf(a.out, "pushed %d, retrying %d, dead-lettered %d, conflicts %d, pulled %d applied %d\n",
			r.Count(syncer.OutcomeAcked), r.Count(syncer.OutcomeRetry),
			r.Count(syncer.OutcomeDeadLettered)+r.Count(syncer.OutcomeRejected),
			r.Count(syncer.OutcomeConflict), pulled(r), r.Applied)
	}
	if r.Err != nil {
		fmt.Fprintf(a.out, "last error: %v\n", r.Err)
	}
	return nil
}

func pulled(r syncer.TickReport) int {
	n := 0
	for _, c := range r.Pulled {
		n += c
	}
	return n
}

// Resume lifts an authentication pause and syncs right away.
func (a *App) Resume(ctx context.Context) error {
	a.sync.Resume()
	a.sync.Trigger()
	fmt.Fprintln(a.out, "sync resumed")
	return nil
}
