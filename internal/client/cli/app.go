package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/wardsync/internal/client/config"
	"github.com/dmitrijs2005/wardsync/internal/client/localdb"
	"github.com/dmitrijs2005/wardsync/internal/client/models"
	"github.com/dmitrijs2005/wardsync/internal/client/remote"
	"github.com/dmitrijs2005/wardsync/internal/client/repositories/records"
	"github.com/dmitrijs2005/wardsync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/wardsync/internal/client/resolver"
	"github.com/dmitrijs2005/wardsync/internal/client/services"
	"github.com/dmitrijs2005/wardsync/internal/client/syncer"
	"github.com/dmitrijs2005/wardsync/internal/client/tracker"
	"github.com/dmitrijs2005/wardsync/internal/logging"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// syncManager is the part of *syncer.Manager the CLI drives.
type syncManager interface {
	Start(ctx context.Context) error
	Stop()
	Trigger()
	Resume()
	SyncOnce(ctx context.Context) (syncer.TickReport, error)
	Status(ctx context.Context) (syncer.Status, error)
	DeadLetters(ctx context.Context) ([]models.SyncJob, error)
	Superseded(ctx context.Context) ([]models.SupersededVersion, error)
	Retry(ctx context.Context, key models.Key) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	config  *config.Config
	db      *sql.DB
	records services.RecordService
	sync    syncManager
	remote  pinger
	closers []io.Closer
	logger  logging.Logger
	out     io.Writer

	mu   sync.Mutex
	Mode Mode
}

// NewApp opens the local store, connects the configured remote authority and
// builds the sync dispatcher. With encryption enabled it prompts for the
// store passphrase.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	db, err := localdb.Open(ctx, c.DataFile)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	opts := records.Options{Indexes: c.Indexes}
	if c.Encrypt {
		pass, err := GetPassword(os.Stderr)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		sealer, err := services.NewKeyService(db).Unlock(ctx, pass)
		clear(pass)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		opts.Sealer = sealer
	}

	auth, closer, err := newAuthority(ctx, c)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	policy, _ := resolver.ParsePolicy(c.ConflictPolicy)
	repos := repomanager.NewSQLiteRepositoryManager(opts)
	mgr := syncer.New(db, repos, auth, resolver.New(policy), syncer.Config{
		Interval:           c.SyncInterval,
		FanOut:             c.FanOut,
		BatchSize:          c.BatchSize,
		PullLimit:          c.PullLimit,
		TombstoneRetention: c.TombstoneRetention,
		EntityTypes:        c.EntityTypes,
		Retry: tracker.Policy{
			BaseDelay:   c.RetryBaseDelay,
			MaxDelay:    c.RetryMaxDelay,
			MaxAttempts: c.MaxAttempts,
		},
	}, logger)

	app := &App{
		config:  c,
		db:      db,
		records: services.NewRecordService(db, repos, nil, mgr.Trigger),
		sync:    mgr,
		remote:  auth,
		logger:  logger.With("module", "cli"),
		out:     os.Stdout,
	}
	if closer != nil {
		app.closers = append(app.closers, closer)
	}
	app.closers = append(app.closers, db)
	return app, nil
}

func newAuthority(ctx context.Context, c *config.Config) (remote.Authority, io.Closer, error) {
	switch c.Remote {
	case config.RemoteS3:
		a, err := remote.NewS3Authority(ctx, remote.S3Config{
			Bucket:          c.S3.Bucket,
			Region:          c.S3.Region,
			Endpoint:        c.S3.Endpoint,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
			Prefix:          c.S3.Prefix,
			UsePathStyle:    c.S3.UsePathStyle,
		}, c.DeviceID)
		return a, nil, err
	default:
		a, err := remote.NewGRPCAuthority(c.ServerEndpointAddr, c.AccessToken, c.DeviceID)
		if err != nil {
			return nil, nil, err
		}
		return a, a, nil
	}
}

// Run starts the dispatcher and the connectivity watcher, then serves the
// REPL on stdin until the user exits or ctx is done.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.Close()

	if err := a.sync.Start(ctx); err != nil {
		a.logger.Error(ctx, "start sync", "error", err)
		return
	}
	defer a.sync.Stop()

	go a.StartOnlineStatusWatcher(ctx, a.config.OnlineCheckInterval)

	fmt.Fprintln(a.out, "wardsync CLI (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, bufio.NewScanner(os.Stdin))
}

// Close releases the remote connection and the database.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) setMode(ctx context.Context, mode Mode) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Mode == mode {
		return false
	}
	a.Mode = mode
	a.logger.Info(ctx, "connectivity changed", "mode", string(mode))
	return true
}

func (a *App) getStatus() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Mode == "" {
		return ""
	}
	return fmt.Sprintf("(%s)", a.Mode)
}

// StartOnlineStatusWatcher probes the remote every interval. Coming back
// online triggers a sync tick.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.checkOnline(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) checkOnline(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err := a.remote.Ping(pctx)
	cancel()

	if err != nil {
		a.setMode(ctx, ModeOffline)
		return
	}
	if a.setMode(ctx, ModeOnline) {
		a.sync.Trigger()
	}
}
