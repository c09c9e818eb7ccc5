package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/wardsync/internal/client/localdb"
	"github.com/dmitrijs2005/wardsync/internal/client/models"
	"github.com/dmitrijs2005/wardsync/internal/client/remote"
	"github.com/dmitrijs2005/wardsync/internal/client/repositories/records"
	"github.com/dmitrijs2005/wardsync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/wardsync/internal/client/resolver"
	"github.com/dmitrijs2005/wardsync/internal/client/services"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeRemote is an in-memory authority with optimistic concurrency on the
// base version, like the real server.
type fakeRemote struct {
	mu      sync.Mutex
	version int64
	rows    map[models.Key]models.RemoteRecord

	pingErr error
	pushErr error
	onPush  func(req remote.PushRequest)
	delay   time.Duration

	pushed    []remote.PushRequest
	active    int
	maxActive int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{rows: map[models.Key]models.RemoteRecord{}}
}

func (f *fakeRemote) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeRemote) Push(ctx context.Context, req remote.PushRequest) (models.Ack, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	hook, delay := f.onPush, f.delay
	f.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.active--
	f.pushed = append(f.pushed, req)
	if f.pushErr != nil {
		return models.Ack{}, f.pushErr
	}

	rec := req.Record
	if cur, ok := f.rows[rec.Key()]; ok && cur.Version != req.BaseVersion {
		return models.Ack{}, &remote.ConflictError{Remote: cur}
	}
	v := f.write(models.RemoteRecord{
		ID:         rec.ID,
		EntityType: rec.EntityType,
		Payload:    rec.Payload,
		UpdatedAt:  rec.UpdatedAt,
		Deleted:    rec.Deleted,
		Origin:     "device-a",
	})
	return models.Ack{Revision: rec.LocalRevision, Version: v}, nil
}

func (f *fakeRemote) Pull(ctx context.Context, entityType string, since int64, limit int) ([]models.RemoteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.RemoteRecord
	for _, rr := range f.rows {
		if rr.EntityType == entityType && rr.Version > since {
			out = append(out, rr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRemote) write(rr models.RemoteRecord) int64 {
	f.version++
	rr.Version = f.version
	f.rows[rr.Key()] = rr
	return rr.Version
}

// foreign simulates a write by another device.
func (f *fakeRemote) foreign(rr models.RemoteRecord) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	rr.Origin = "device-b"
	return f.write(rr)
}

func (f *fakeRemote) row(key models.Key) (models.RemoteRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rr, ok := f.rows[key]
	return rr, ok
}

func (f *fakeRemote) setPushErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushErr = err
}

func (f *fakeRemote) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func (f *fakeRemote) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushed)
}

type fixture struct {
	t      *testing.T
	db     *sql.DB
	clock  *clock
	remote *fakeRemote
	repos  repomanager.RepositoryManager
	svc    services.RecordService
	m      *Manager
}

var t0 = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, cfg Config, policy resolver.Policy) *fixture {
	t.Helper()
	db, err := localdb.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clk := &clock{t: t0}
	repos := repomanager.NewSQLiteRepositoryManager(records.Options{Now: clk.Now})
	fr := newFakeRemote()

	m := New(db, repos, fr, resolver.New(policy), cfg, nil)
	m.now = clk.Now
	t.Cleanup(m.Stop)

	return &fixture{
		t:      t,
		db:     db,
		clock:  clk,
		remote: fr,
		repos:  repos,
		svc:    services.NewRecordService(db, repos, clk.Now, nil),
		m:      m,
	}
}

func (f *fixture) put(entityType, id, payload string) models.Record {
	f.t.Helper()
	rec, err := f.svc.Put(context.Background(), models.Record{EntityType: entityType, ID: id, Payload: json.RawMessage(payload)})
	require.NoError(f.t, err)
	return rec
}

func (f *fixture) load(key models.Key) *models.Record {
	f.t.Helper()
	rec, err := f.repos.Records(f.db).Load(context.Background(), key)
	require.NoError(f.t, err)
	return rec
}

func (f *fixture) sync() TickReport {
	f.t.Helper()
	report, err := f.m.SyncOnce(context.Background())
	require.NoError(f.t, err)
	return report
}

func (f *fixture) job(key models.Key) *models.SyncJob {
	f.t.Helper()
	job, err := f.repos.Jobs(f.db).Get(context.Background(), key)
	require.NoError(f.t, err)
	return job
}

func (f *fixture) superseded() []models.SupersededVersion {
	f.t.Helper()
	list, err := f.m.Superseded(context.Background())
	require.NoError(f.t, err)
	return list
}
