package services

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/wardsync/internal/common"
	"github.com/dmitrijs2005/wardsync/internal/dbx"
	"github.com/dmitrijs2005/wardsync/internal/server/config"
	"github.com/dmitrijs2005/wardsync/internal/server/models"
	"github.com/dmitrijs2005/wardsync/internal/server/repositories/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- fakes ----

type fakeRepo struct {
	rows      map[string]models.Record
	seq       int64
	locked    []string
	getErr    error
	upsertErr error
	lastLimit int
}

func newFakeRepo() *fakeRepo { return &fakeRepo{rows: map[string]models.Record{}} }

func key(t, id string) string { return t + "/" + id }

func (f *fakeRepo) LockEntityType(_ context.Context, entityType string) error {
	f.locked = append(f.locked, entityType)
	return nil
}

func (f *fakeRepo) Get(_ context.Context, entityType, id string) (*models.Record, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	r, ok := f.rows[key(entityType, id)]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &r, nil
}

func (f *fakeRepo) Upsert(_ context.Context, rec *models.Record) (int64, error) {
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	f.seq++
	stored := *rec
	stored.Version = f.seq
	f.rows[key(rec.EntityType, rec.ID)] = stored
	return f.seq, nil
}

func (f *fakeRepo) SelectSince(_ context.Context, entityType string, since int64, limit int) ([]models.Record, error) {
	f.lastLimit = limit
	var out []models.Record
	for _, r := range f.rows {
		if r.EntityType == entityType && r.Version > since {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeManager struct{ repo *fakeRepo }

func (m fakeManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m fakeManager) Records(dbx.DBTX) records.Repository          { return m.repo }

func newService(t *testing.T) (*RecordService, *fakeRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.MaxPayloadBytes = 64
	cfg.MaxPullLimit = 3

	repo := newFakeRepo()
	s := NewRecordService(db, fakeManager{repo: repo}, cfg)
	s.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return s, repo, mock
}

func order(id, payload string) models.Record {
	return models.Record{
		EntityType: "orders", ID: id, Payload: []byte(payload),
		UpdatedAt: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC), Revision: 1,
	}
}

// ---- tests ----

func TestPush_NewRecordGetsVersion(t *testing.T) {
	s, repo, mock := newService(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	got, err := s.Push(context.Background(), "dev-a", order("o1", `{"drug":"x"}`), 0)
	require.NoError(t, err)

	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "dev-a", got.Origin)
	assert.Equal(t, []string{"orders"}, repo.locked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPush_MatchingBaseOverwrites(t *testing.T) {
	s, repo, mock := newService(t)
	repo.rows[key("orders", "o1")] = models.Record{EntityType: "orders", ID: "o1", Version: 7, Payload: []byte(`{}`)}
	repo.seq = 7
	mock.ExpectBegin()
	mock.ExpectCommit()

	got, err := s.Push(context.Background(), "dev-a", order("o1", `{"drug":"y"}`), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(8), got.Version)
	assert.JSONEq(t, `{"drug":"y"}`, string(repo.rows[key("orders", "o1")].Payload))
}

func TestPush_StaleBaseConflicts(t *testing.T) {
	s, repo, mock := newService(t)
	current := models.Record{EntityType: "orders", ID: "o1", Version: 9, Payload: []byte(`{"drug":"z"}`), Origin: "dev-b"}
	repo.rows[key("orders", "o1")] = current
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := s.Push(context.Background(), "dev-a", order("o1", `{"drug":"y"}`), 4)

	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, current, ce.Current)
	assert.ErrorIs(t, err, common.ErrVersionConflict)
	assert.Equal(t, int64(9), repo.rows[key("orders", "o1")].Version, "stored copy untouched")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPush_TombstoneDropsPayload(t *testing.T) {
	s, repo, mock := newService(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	rec := order("o1", `{"drug":"x"}`)
	rec.Deleted = true
	_, err := s.Push(context.Background(), "", rec, 0)
	require.NoError(t, err)

	stored := repo.rows[key("orders", "o1")]
	assert.True(t, stored.Deleted)
	assert.Nil(t, stored.Payload)
}

func TestPush_KeepsClientOriginWithoutDevice(t *testing.T) {
	s, repo, mock := newService(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	rec := order("o1", `{}`)
	rec.Origin = "dev-c"
	rec.UpdatedAt = time.Time{}
	_, err := s.Push(context.Background(), "", rec, 0)
	require.NoError(t, err)

	stored := repo.rows[key("orders", "o1")]
	assert.Equal(t, "dev-c", stored.Origin)
	assert.Equal(t, s.now(), stored.UpdatedAt)
}

func TestPush_Validation(t *testing.T) {
	tests := []struct {
		name string
		rec  models.Record
		want error
	}{
		{"empty type", models.Record{ID: "x", Payload: []byte(`{}`)}, common.ErrValidation},
		{"unknown type", models.Record{EntityType: "invoices", ID: "x", Payload: []byte(`{}`)}, common.ErrValidation},
		{"empty id", models.Record{EntityType: "orders", Payload: []byte(`{}`)}, common.ErrValidation},
		{"empty payload", models.Record{EntityType: "orders", ID: "x"}, common.ErrInvalidRecord},
		{"array payload", models.Record{EntityType: "orders", ID: "x", Payload: []byte(`[1]`)}, common.ErrInvalidRecord},
		{"null payload", models.Record{EntityType: "orders", ID: "x", Payload: []byte(`null`)}, common.ErrInvalidRecord},
		{"too large", models.Record{EntityType: "orders", ID: "x", Payload: []byte(`{"n":"` + strings.Repeat("a", 80) + `"}`)}, common.ErrInvalidRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, repo, mock := newService(t)
			_, err := s.Push(context.Background(), "dev-a", tt.rec, 0)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, repo.rows)
			assert.NoError(t, mock.ExpectationsWereMet(), "no transaction for invalid input")
		})
	}
}

func TestPush_StorageErrorRollsBack(t *testing.T) {
	s, repo, mock := newService(t)
	repo.upsertErr = errors.New("disk full")
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := s.Push(context.Background(), "dev-a", order("o1", `{}`), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPush_GetErrorRollsBack(t *testing.T) {
	s, repo, mock := newService(t)
	repo.getErr = common.ErrStorage
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := s.Push(context.Background(), "dev-a", order("o1", `{}`), 0)
	assert.ErrorIs(t, err, common.ErrStorage)
}

func TestPull_PagesAndClampsLimit(t *testing.T) {
	s, repo, mock := newService(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		mock.ExpectBegin()
		mock.ExpectCommit()
		_, err := s.Push(context.Background(), "dev-a", order(id, `{}`), 0)
		require.NoError(t, err)
	}

	page, err := s.Pull(context.Background(), "orders", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, repo.lastLimit)
	require.Len(t, page, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{page[0].Version, page[1].Version, page[2].Version})

	page, err = s.Pull(context.Background(), "orders", 3, 100)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "d", page[0].ID)

	page, err = s.Pull(context.Background(), "orders", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.lastLimit)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)
}

func TestPull_Validation(t *testing.T) {
	s, _, _ := newService(t)

	_, err := s.Pull(context.Background(), "invoices", 0, 10)
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = s.Pull(context.Background(), "orders", -1, 10)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestAllowedTypes_EmptyAllowsAny(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := &config.Config{MaxPayloadBytes: 100, MaxPullLimit: 10}
	repo := newFakeRepo()
	s := NewRecordService(db, fakeManager{repo: repo}, cfg)

	mock.ExpectBegin()
	mock.ExpectCommit()
	_, err = s.Push(context.Background(), "dev-a", models.Record{EntityType: "anything", ID: "1", Payload: []byte(`{}`)}, 0)
	require.NoError(t, err)
}
