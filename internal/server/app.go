// Package server wires the authority: it opens PostgreSQL, applies
// migrations and serves the record service over gRPC until the context ends.
package server

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/wardsync/internal/logging"
	"github.com/dmitrijs2005/wardsync/internal/server/config"
	"github.com/dmitrijs2005/wardsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/wardsync/internal/server/services"

	gs "github.com/dmitrijs2005/wardsync/internal/server/grpc"
)

type App struct {
	config        *config.Config
	logger        logging.Logger
	db            *sql.DB
	recordService *services.RecordService
}

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	db, err := sqlOpen("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	rs := services.NewRecordService(db, rm, c)

	return &App{config: c, logger: logger, db: db, recordService: rs}, nil
}

// Run serves until ctx is cancelled or the listener fails.
func (app *App) Run(ctx context.Context) error {
	app.logger.Info(ctx, "Starting app...", "allowed_types", app.config.AllowedEntityTypes)

	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.recordService, app.config.SecretKey)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "grpc server stopped", "error", err)
		return err
	}
	return nil
}

func (app *App) Close() error {
	return app.db.Close()
}
