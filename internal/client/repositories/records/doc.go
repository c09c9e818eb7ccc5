// Package records is the on-device Local Record Store.
//
// # Overview
//
// Records of every entity type (patients, admissions, orders, charts, ...)
// live in one SQLite table keyed by (entity_type, id). The Repository
// interface covers the CRUD surface used by services and the raw Save used by
// the change tracker and the sync dispatcher. SQLiteRepository works over a
// dbx.DBTX so it can join a caller's transaction; a Put and the matching
// sync-job upsert commit together.
//
// # Tombstones
//
// Delete never removes a row. It writes a tombstone (payload dropped,
// deleted=1, revision bumped, pending) so the deletion itself is synced.
// PurgeTombstones removes tombstones that are clean and older than the
// retention cutoff.
//
// # Secondary indexes
//
// Indexes maps an entity type to top-level payload fields. Every write
// rewrites the record's rows in record_index; Lookup answers equality
// queries from it. With a Sealer configured, payloads are encrypted and
// index values are blinded.
//
// Typical Usage
//
//	repo := records.NewSQLiteRepository(db, records.Options{Indexes: idx})
//	rec, _ := repo.Put(ctx, models.Record{EntityType: "patients", ID: id, Payload: body})
//	for rec, err := range repo.Query(ctx, "patients", nil) { ... }
package records
