// Package repomanager vends the client's SQLite repositories bound to a DBTX,
// so a caller can run several of them inside one transaction.
package repomanager

import (
	"github.com/dmitrijs2005/wardsync/internal/client/repositories/jobs"
	"github.com/dmitrijs2005/wardsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/wardsync/internal/client/repositories/records"
	"github.com/dmitrijs2005/wardsync/internal/client/repositories/superseded"
	"github.com/dmitrijs2005/wardsync/internal/dbx"
)

type RepositoryManager interface {
	Records(db dbx.DBTX) records.Repository
	Jobs(db dbx.DBTX) jobs.Repository
	Superseded(db dbx.DBTX) superseded.Repository
	Metadata(db dbx.DBTX) metadata.Repository
}

// SQLiteRepositoryManager shares one set of record options (indexes, sealer,
// clock) across every repository it vends.
type SQLiteRepositoryManager struct {
	opts records.Options
}

func NewSQLiteRepositoryManager(opts records.Options) *SQLiteRepositoryManager {
	return &SQLiteRepositoryManager{opts: opts}
}

func (m *SQLiteRepositoryManager) Records(db dbx.DBTX) records.Repository {
	return records.NewSQLiteRepository(db, m.opts)
}

func (m *SQLiteRepositoryManager) Jobs(db dbx.DBTX) jobs.Repository {
	return jobs.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Superseded(db dbx.DBTX) superseded.Repository {
	return superseded.NewSQLiteRepository(db, m.opts.Sealer)
}

func (m *SQLiteRepositoryManager) Metadata(db dbx.DBTX) metadata.Repository {
	return metadata.NewSQLiteRepository(db)
}
