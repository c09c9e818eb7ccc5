package records

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/dmitrijs2005/wardsync/internal/client/models"
	"github.com/dmitrijs2005/wardsync/internal/common"
	"github.com/dmitrijs2005/wardsync/internal/dbx"
)

const defaultPageSize = 128

// Sealer encrypts payloads at rest. *cryptox.Sealer implements it.
type Sealer interface {
	Seal(plaintext, additional []byte) (ciphertext, nonce []byte, err error)
	Open(ciphertext, nonce, additional []byte) ([]byte, error)
	Blind(value string) string
}

// Options tunes a SQLiteRepository. The zero value is usable.
type Options struct {
	// Indexes maps entity type to the top-level payload fields indexed for Lookup.
	Indexes map[string][]string
	// Sealer, when set, encrypts payloads and blinds index values.
	Sealer Sealer
	// Now stamps UpdatedAt on writes that leave it zero.
	Now func() time.Time
	// PageSize bounds the rows fetched per Query round trip.
	PageSize int
}

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db   dbx.DBTX
	opts Options
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX, opts Options) *SQLiteRepository {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	return &SQLiteRepository{db: db, opts: opts}
}

// WithDB returns a copy of the repository bound to another DBTX, typically a
// transaction, keeping the options.
func (r *SQLiteRepository) WithDB(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db, opts: r.opts}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", common.ErrStorage, op, err)
}

// Put writes a local mutation on top of whatever is stored for the key.
func (r *SQLiteRepository) Put(ctx context.Context, rec models.Record) (models.Record, error) {
	if err := rec.Validate(); err != nil {
		return models.Record{}, err
	}

	cur, err := r.Load(ctx, rec.Key())
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return models.Record{}, err
	}

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = r.opts.Now()
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	rec.Deleted = false
	rec.SyncState = models.StatePending
	rec.SyncedAt = time.Time{}

	if cur != nil {
		rec.LocalRevision = cur.LocalRevision + 1
		rec.SyncedRevision = cur.SyncedRevision
		rec.RemoteVersion = cur.RemoteVersion
		rec.BasePayload = cur.BasePayload
	} else {
		rec.LocalRevision = 1
		rec.SyncedRevision = 0
		rec.RemoteVersion = 0
		rec.BasePayload = nil
	}

	if err := r.Save(ctx, rec); err != nil {
		return models.Record{}, err
	}
	return rec, nil
}

// Delete writes a tombstone. Deleting a missing or already deleted record
// returns common.ErrNotFound.
func (r *SQLiteRepository) Delete(ctx context.Context, entityType, id string) (models.Record, error) {
	cur, err := r.Load(ctx, models.Key{EntityType: entityType, ID: id})
	if err != nil {
		return models.Record{}, err
	}
	if cur.Deleted {
		return models.Record{}, common.ErrNotFound
	}

	tomb := *cur
	tomb.Deleted = true
	tomb.Payload = nil
	tomb.LocalRevision++
	tomb.UpdatedAt = r.opts.Now().UTC()
	tomb.SyncState = models.StatePending
	tomb.SyncedAt = time.Time{}

	if err := r.Save(ctx, tomb); err != nil {
		return models.Record{}, err
	}
	return tomb, nil
}

// Save upserts every column of rec and rewrites its index rows.
func (r *SQLiteRepository) Save(ctx context.Context, rec models.Record) error {
	ad := []byte(rec.Key().String())

	payload, nonce, err := r.seal(rec.Payload, ad)
	if err != nil {
		return storageErr("seal payload", err)
	}
	base, baseNonce, err := r.seal(rec.BasePayload, ad)
	if err != nil {
		return storageErr("seal base payload", err)
	}

	// synced_at is only meaningful while the row is clean.
	var syncedAt any
	if rec.SyncState == models.StateClean {
		if rec.SyncedAt.IsZero() {
			rec.SyncedAt = r.opts.Now()
		}
		syncedAt = rec.SyncedAt.UTC().UnixNano()
	}

	query := `INSERT INTO records (entity_type, id, payload, nonce, base_payload, base_nonce, updated_at,
			local_revision, synced_revision, remote_version, sync_state, deleted, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET
			payload = excluded.payload,
			nonce = excluded.nonce,
			base_payload = excluded.base_payload,
			base_nonce = excluded.base_nonce,
			updated_at = excluded.updated_at,
			local_revision = excluded.local_revision,
			synced_revision = excluded.synced_revision,
			remote_version = excluded.remote_version,
			sync_state = excluded.sync_state,
			deleted = excluded.deleted,
			synced_at = excluded.synced_at`
	_, err = r.db.ExecContext(ctx, query,
		rec.EntityType, rec.ID, blob(payload), blob(nonce), blob(base), blob(baseNonce), rec.UpdatedAt.UTC().UnixNano(),
		rec.LocalRevision, rec.SyncedRevision, rec.RemoteVersion, string(rec.SyncState), rec.Deleted, syncedAt)
	if err != nil {
		return storageErr("upsert record", err)
	}

	return r.reindex(ctx, rec)
}

func (r *SQLiteRepository) reindex(ctx context.Context, rec models.Record) error {
	fields := r.opts.Indexes[rec.EntityType]
	if len(fields) == 0 {
		return nil
	}

	_, err := r.db.ExecContext(ctx, `DELETE FROM record_index WHERE entity_type=? AND record_id=?`, rec.EntityType, rec.ID)
	if err != nil {
		return storageErr("clear index", err)
	}
	if rec.Deleted || len(rec.Payload) == 0 {
		return nil
	}

	values := indexValues(rec.Payload, fields)
	for _, field := range fields {
		v, ok := values[field]
		if !ok {
			continue
		}
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO record_index (entity_type, field, value, record_id) VALUES (?, ?, ?, ?)`,
			rec.EntityType, field, r.indexValue(v), rec.ID)
		if err != nil {
			return storageErr("write index", err)
		}
	}
	return nil
}

// indexValues extracts scalar top-level fields in their canonical text form.
func indexValues(payload json.RawMessage, fields []string) map[string]string {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil
	}

	out := make(map[string]string, len(fields))
	for _, f := range fields {
		switch v := doc[f].(type) {
		case string:
			out[f] = v
		case json.Number:
			out[f] = v.String()
		case bool:
			out[f] = strconv.FormatBool(v)
		}
	}
	return out
}

func (r *SQLiteRepository) indexValue(v string) string {
	if r.opts.Sealer == nil {
		return v
	}
	return r.opts.Sealer.Blind(v)
}

// blob binds empty slices as NULL so they read back as nil.
func blob(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func (r *SQLiteRepository) seal(plain []byte, ad []byte) ([]byte, []byte, error) {
	if len(plain) == 0 {
		return nil, nil, nil
	}
	if r.opts.Sealer == nil {
		return plain, nil, nil
	}
	return r.opts.Sealer.Seal(plain, ad)
}

func (r *SQLiteRepository) open(stored, nonce, ad []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, nil
	}
	if len(nonce) == 0 {
		return stored, nil
	}
	if r.opts.Sealer == nil {
		return nil, errors.New("record is sealed but no key is configured")
	}
	return r.opts.Sealer.Open(stored, nonce, ad)
}

const selectColumns = `entity_type, id, payload, nonce, base_payload, base_nonce, updated_at,
	local_revision, synced_revision, remote_version, sync_state, deleted, synced_at`

type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) scan(row scanner) (*models.Record, error) {
	var (
		rec                             models.Record
		payload, nonce, base, baseNonce []byte
		updatedAt                       int64
		syncedAt                        sql.NullInt64
		state                           string
	)
	err := row.Scan(&rec.EntityType, &rec.ID, &payload, &nonce, &base, &baseNonce, &updatedAt,
		&rec.LocalRevision, &rec.SyncedRevision, &rec.RemoteVersion, &state, &rec.Deleted, &syncedAt)
	if err != nil {
		return nil, err
	}

	ad := []byte(rec.Key().String())
	if rec.Payload, err = r.open(payload, nonce, ad); err != nil {
		return nil, storageErr("open payload", err)
	}
	if rec.BasePayload, err = r.open(base, baseNonce, ad); err != nil {
		return nil, storageErr("open base payload", err)
	}
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if syncedAt.Valid {
		rec.SyncedAt = time.Unix(0, syncedAt.Int64).UTC()
	}
	rec.SyncState = models.SyncState(state)
	return &rec, nil
}

// Load returns the stored row for key, tombstones included.
func (r *SQLiteRepository) Load(ctx context.Context, key models.Key) (*models.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM records WHERE entity_type=? AND id=?`, key.EntityType, key.ID)
	rec, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		if errors.Is(err, common.ErrStorage) {
			return nil, err
		}
		return nil, storageErr("load record", err)
	}
	return rec, nil
}

// Get returns a live record.
func (r *SQLiteRepository) Get(ctx context.Context, entityType, id string) (*models.Record, error) {
	rec, err := r.Load(ctx, models.Key{EntityType: entityType, ID: id})
	if err != nil {
		return nil, err
	}
	if rec.Deleted {
		return nil, common.ErrNotFound
	}
	return rec, nil
}

// Query pages through live records with keyset pagination so no connection
// is held while the caller consumes the sequence.
func (r *SQLiteRepository) Query(ctx context.Context, entityType string, pred Predicate) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		after := ""
		for {
			page, err := r.page(ctx, entityType, after)
			if err != nil {
				yield(models.Record{}, err)
				return
			}
			for _, rec := range page {
				if pred != nil && !pred(rec) {
					continue
				}
				if !yield(rec, nil) {
					return
				}
			}
			if len(page) < r.opts.PageSize {
				return
			}
			after = page[len(page)-1].ID
		}
	}
}

func (r *SQLiteRepository) page(ctx context.Context, entityType, after string) ([]models.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM records
		WHERE entity_type=? AND deleted=0 AND id>?
		ORDER BY id LIMIT ?`, entityType, after, r.opts.PageSize)
	if err != nil {
		return nil, storageErr("select records", err)
	}
	defer rows.Close()

	var result []models.Record
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, storageErr("scan record", err)
		}
		result = append(result, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate records", err)
	}
	return result, nil
}

// Lookup answers an equality query on an indexed field.
func (r *SQLiteRepository) Lookup(ctx context.Context, entityType, field, value string) ([]models.Record, error) {
	indexed := false
	for _, f := range r.opts.Indexes[entityType] {
		if f == field {
			indexed = true
			break
		}
	}
	if !indexed {
		return nil, fmt.Errorf("%w: %s.%s is not indexed", common.ErrValidation, entityType, field)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT r.entity_type, r.id, r.payload, r.nonce, r.base_payload, r.base_nonce, r.updated_at,
			r.local_revision, r.synced_revision, r.remote_version, r.sync_state, r.deleted, r.synced_at
		FROM record_index i
		JOIN records r ON r.entity_type = i.entity_type AND r.id = i.record_id
		WHERE i.entity_type=? AND i.field=? AND i.value=? AND r.deleted=0
		ORDER BY r.id`, entityType, field, r.indexValue(value))
	if err != nil {
		return nil, storageErr("lookup", err)
	}
	defer rows.Close()

	var result []models.Record
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, storageErr("scan record", err)
		}
		result = append(result, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate lookup", err)
	}
	return result, nil
}

// PurgeTombstones removes clean tombstones the remote confirmed before cutoff.
func (r *SQLiteRepository) PurgeTombstones(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM records WHERE deleted=1 AND sync_state=? AND synced_at<?`,
		string(models.StateClean), cutoff.UTC().UnixNano())
	if err != nil {
		return 0, storageErr("purge tombstones", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("purge tombstones", err)
	}
	return n, nil
}

// CountByState counts rows per sync state.
func (r *SQLiteRepository) CountByState(ctx context.Context) (map[models.SyncState]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT sync_state, COUNT(*) FROM records GROUP BY sync_state`)
	if err != nil {
		return nil, storageErr("count records", err)
	}
	defer rows.Close()

	out := make(map[models.SyncState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, storageErr("scan count", err)
		}
		out[models.SyncState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate counts", err)
	}
	return out, nil
}

// EntityTypes lists distinct entity types in the store.
func (r *SQLiteRepository) EntityTypes(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT entity_type FROM records ORDER BY entity_type`)
	if err != nil {
		return nil, storageErr("list entity types", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, storageErr("scan entity type", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate entity types", err)
	}
	return out, nil
}
