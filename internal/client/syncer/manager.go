// Package syncer runs the sync dispatcher: it pushes pending local records
// to the remote authority and pulls foreign changes back through the
// conflict resolver.
//
// All mutable sync state (in-flight set, pause flag, timer, trigger) belongs
// to a Manager; independent managers never interfere.
package syncer

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/wardsync/internal/client/models"
	"github.com/dmitrijs2005/wardsync/internal/client/remote"
	"github.com/dmitrijs2005/wardsync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/wardsync/internal/client/resolver"
	"github.com/dmitrijs2005/wardsync/internal/client/tracker"
	"github.com/dmitrijs2005/wardsync/internal/logging"
)

var ErrAlreadyRunning = errors.New("sync manager already running")

// Config tunes a Manager. Zero fields take the defaults below.
type Config struct {
	// Interval between timer-driven ticks.
	Interval time.Duration
	// FanOut bounds concurrent pushes.
	FanOut int
	// BatchSize bounds the jobs drained per tick; 0 drains all ready jobs.
	BatchSize int
	// PullLimit is the page size of pulls.
	PullLimit int
	// TombstoneRetention is how long clean tombstones are kept; 0 keeps them.
	TombstoneRetention time.Duration
	// EntityTypes are pulled even when no local record of the type exists.
	EntityTypes []string
	Retry       tracker.Policy
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.FanOut <= 0 {
		c.FanOut = 4
	}
	if c.PullLimit <= 0 {
		c.PullLimit = 200
	}
	if c.Retry == (tracker.Policy{}) {
		c.Retry = tracker.DefaultPolicy
	}
	return c
}

type Manager struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	remote   remote.Authority
	resolver *resolver.Resolver
	cfg      Config
	logger   logging.Logger
	now      func() time.Time

	// tickMu serializes ticks.
	tickMu sync.Mutex

	mu       sync.Mutex
	inFlight map[models.Key]struct{}
	paused   bool
	mode     Mode
	lastTick time.Time
	lastErr  error
	cancel   context.CancelFunc
	done     chan struct{}

	trigger chan struct{}
}

func New(db *sql.DB, repos repomanager.RepositoryManager, auth remote.Authority, res *resolver.Resolver, cfg Config, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	if res == nil {
		res = resolver.New(resolver.LastWriterWins)
	}
	return &Manager{
		db:       db,
		repos:    repos,
		remote:   auth,
		resolver: res,
		cfg:      cfg.withDefaults(),
		logger:   logger.With("module", "syncer"),
		now:      time.Now,
		inFlight: make(map[models.Key]struct{}),
		mode:     ModeOffline,
		trigger:  make(chan struct{}, 1),
	}
}

// Start launches the background loop: one tick immediately, then one per
// Interval and one per Trigger. It returns ErrAlreadyRunning if started twice.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)
	return nil
}

// Stop cancels the loop, including an in-progress tick, and waits for it.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Trigger requests a tick soon, e.g. when connectivity comes back.
// Requests made while one is pending collapse.
func (m *Manager) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Resume lifts an authentication pause. Call it after re-authenticating.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused {
		m.paused = false
		m.mode = ModeOffline
	}
}

func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		case <-m.trigger:
			m.tick(ctx)
		}
	}
}

func (m *Manager) tick(ctx context.Context) {
	report, err := m.SyncOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Error(ctx, "sync tick failed", "error", err)
		}
		return
	}
	if len(report.Pushes) > 0 || report.Applied > 0 {
		m.logger.Info(ctx, "sync tick",
			"pushed", report.Count(OutcomeAcked),
			"retry", report.Count(OutcomeRetry),
			"dead_lettered", report.Count(OutcomeDeadLettered),
			"conflicts", report.Count(OutcomeConflict),
			"applied", report.Applied,
			"superseded", report.Superseded)
	}
}

func (m *Manager) isPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

func (m *Manager) pause(ctx context.Context, err error) {
	m.mu.Lock()
	already := m.paused
	m.paused = true
	m.mode = ModePaused
	m.lastErr = err
	m.mu.Unlock()

	if !already {
		m.logger.Warn(ctx, "sync paused until re-authentication", "error", err)
	}
}

func (m *Manager) setMode(mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.paused {
		m.mode = mode
	}
}

func (m *Manager) recordErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
}

// claim marks key in flight; false if it already is.
func (m *Manager) claim(key models.Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inFlight[key]; busy {
		return false
	}
	m.inFlight[key] = struct{}{}
	return true
}

func (m *Manager) release(key models.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, key)
}

// Status summarizes pending and stuck work.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	counts, err := m.repos.Records(m.db).CountByState(ctx)
	if err != nil {
		return Status{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Mode:           m.mode,
		Running:        m.cancel != nil,
		Pending:        counts[models.StatePending],
		NeedsAttention: counts[models.StateFailed] + counts[models.StateConflict],
		LastTick:       m.lastTick,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st, nil
}

// DeadLetters lists jobs that are no longer retried automatically.
func (m *Manager) DeadLetters(ctx context.Context) ([]models.SyncJob, error) {
	return m.repos.Jobs(m.db).ListByState(ctx, models.JobDeadLettered, models.JobConflict)
}

// Superseded lists retained conflict losers.
func (m *Manager) Superseded(ctx context.Context) ([]models.SupersededVersion, error) {
	return m.repos.Superseded(m.db).List(ctx)
}

// Retry re-arms a dead-lettered or conflicted job and requests a tick.
func (m *Manager) Retry(ctx context.Context, key models.Key) error {
	err := m.inTx(ctx, func(ctx context.Context, u unit) error {
		return u.tracker.Retry(ctx, key)
	})
	if err != nil {
		return err
	}
	m.Trigger()
	return nil
}
