package records

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/wardsync/internal/common"
	"github.com/dmitrijs2005/wardsync/internal/server/models"
)

var columns = []string{"entity_type", "id", "payload", "updated_at", "deleted", "version", "origin", "revision"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestLockEntityType(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtext($1))`)).
		WithArgs("orders").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.LockEntityType(context.Background(), "orders"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLockEntityType_Error(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnError(errors.New("conn reset"))

	err := repo.LockEntityType(context.Background(), "orders")
	if !errors.Is(err, common.ErrStorage) {
		t.Fatalf("want ErrStorage, got %v", err)
	}
}

func TestGet_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .* FROM records\s+WHERE entity_type = \$1 AND id = \$2`).
		WithArgs("patients", "p1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("patients", "p1", []byte(`{"mrn":"7"}`), at, false, int64(12), "dev-a", int64(3)))

	rec, err := repo.Get(context.Background(), "patients", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := models.Record{
		EntityType: "patients", ID: "p1", Payload: []byte(`{"mrn":"7"}`), UpdatedAt: at,
		Version: 12, Origin: "dev-a", Revision: 3,
	}
	if rec.ID != want.ID || rec.Version != want.Version || rec.Origin != want.Origin ||
		rec.Revision != want.Revision || string(rec.Payload) != string(want.Payload) || !rec.UpdatedAt.Equal(at) {
		t.Fatalf("got %+v, want %+v", *rec, want)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM records`).
		WithArgs("patients", "nope").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "patients", "nope")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestGet_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM records`).WillReturnError(errors.New("db is down"))

	_, err := repo.Get(context.Background(), "patients", "p1")
	if !errors.Is(err, common.ErrStorage) {
		t.Fatalf("want ErrStorage, got %v", err)
	}
	if !regexp.MustCompile(`get patients/p1: db is down`).MatchString(err.Error()) {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestUpsert_ReturnsVersion(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	q := `INSERT INTO records .* VALUES \(.*nextval\('record_version_seq'\)\)\s+ON CONFLICT \(entity_type, id\)\s+DO UPDATE SET .* RETURNING version`
	mock.ExpectQuery(q).
		WithArgs("orders", "o1", `{"drug":"x"}`, at, false, "dev-a", int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(41)))

	v, err := repo.Upsert(context.Background(), &models.Record{
		EntityType: "orders", ID: "o1", Payload: []byte(`{"drug":"x"}`), UpdatedAt: at,
		Origin: "dev-a", Revision: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 41 {
		t.Fatalf("version = %d, want 41", v)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsert_TombstoneBindsNullPayload(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO records`).
		WithArgs("orders", "o1", nil, at, true, "dev-a", int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(42)))

	if _, err := repo.Upsert(context.Background(), &models.Record{
		EntityType: "orders", ID: "o1", UpdatedAt: at, Deleted: true, Origin: "dev-a", Revision: 5,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpsert_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO records`).WillReturnError(errors.New("unique violation"))

	_, err := repo.Upsert(context.Background(), &models.Record{EntityType: "orders", ID: "o1"})
	if !errors.Is(err, common.ErrStorage) {
		t.Fatalf("want ErrStorage, got %v", err)
	}
}

func TestSelectSince_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .* FROM records\s+WHERE entity_type = \$1 AND version > \$2\s+ORDER BY version\s+LIMIT \$3`).
		WithArgs("charts", int64(10), 2).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("charts", "c1", []byte(`{"bp":"120/80"}`), at, false, int64(11), "dev-a", int64(1)).
			AddRow("charts", "c2", nil, at, true, int64(14), "dev-b", int64(4)))

	got, err := repo.SelectSince(context.Background(), "charts", 10, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "c1" || got[0].Version != 11 {
		t.Fatalf("first = %+v", got[0])
	}
	if got[1].ID != "c2" || !got[1].Deleted || got[1].Payload != nil {
		t.Fatalf("second = %+v", got[1])
	}
}

func TestSelectSince_ScanError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM records`).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("charts", "c1", nil, "not-a-time", false, int64(11), "", int64(1)))

	_, err := repo.SelectSince(context.Background(), "charts", 0, 10)
	if !errors.Is(err, common.ErrStorage) {
		t.Fatalf("want ErrStorage, got %v", err)
	}
}

func TestSelectSince_RowsError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Now().UTC()
	mock.ExpectQuery(`SELECT .* FROM records`).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("charts", "c1", nil, at, false, int64(1), "", int64(1)).
			RowError(0, errors.New("row broke")))

	_, err := repo.SelectSince(context.Background(), "charts", 0, 10)
	if !errors.Is(err, common.ErrStorage) {
		t.Fatalf("want ErrStorage, got %v", err)
	}
}
