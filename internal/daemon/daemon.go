package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"storyreel/internal/api"
	"storyreel/internal/assets"
	"storyreel/internal/config"
	"storyreel/internal/engine"
	"storyreel/internal/generator"
	"storyreel/internal/logging"
	"storyreel/internal/ratelimit"
	"storyreel/internal/recovery"
	"storyreel/internal/session"
	"storyreel/internal/storyboard"
)

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	storyboards *storyboard.Store
	assetStore  *assets.Store
	sessions    *session.Manager
	limiter     *ratelimit.Limiter
	engine      *engine.Engine
	scanner     *recovery.Scanner
	server      *api.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	StoryboardDir  string
	AssetDBPath    string
	LockFilePath   string
	ActiveSessions int
}

// New constructs a daemon and all of its collaborators from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	assetStore, err := assets.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open asset store: %w", err)
	}
	storyboards, err := storyboard.Open(cfg,
		storyboard.WithLogger(logging.NewComponentLogger(logger, "storyboard-store")),
		storyboard.WithAssetChecker(assetStore),
	)
	if err != nil {
		_ = assetStore.Close()
		return nil, fmt.Errorf("open storyboard store: %w", err)
	}

	registry, err := generator.NewRegistry(cfg)
	if err != nil {
		_ = assetStore.Close()
		return nil, fmt.Errorf("configure providers: %w", err)
	}

	sessions := session.NewManager()
	limiter := ratelimit.New(cfg, ratelimit.WithLogger(logger))
	eng := engine.New(storyboards, assetStore, registry, limiter, logger)
	scanner := recovery.New(cfg, storyboards, sessions, eng, logger)
	server := api.NewServer(cfg, storyboards, assetStore, sessions, eng, limiter, logger)

	lockPath := filepath.Join(cfg.Paths.LogDir, "storyreeld.lock")
	return &Daemon{
		cfg:         cfg,
		logger:      logger,
		storyboards: storyboards,
		assetStore:  assetStore,
		sessions:    sessions,
		limiter:     limiter,
		engine:      eng,
		scanner:     scanner,
		server:      server,
		lockPath:    lockPath,
		lock:        flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the API server and recovery
// scanner.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another storyreel daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.server.Start(runCtx); err != nil {
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return err
	}
	if d.cfg.Recovery.Enabled {
		d.scanner.Start(runCtx)
	}

	d.running.Store(true)
	d.logger.Info("storyreel daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api_bind", d.server.Addr()),
	)
	return nil
}

// Stop halts background services and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.scanner.Stop()
	d.server.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("storyreel daemon stopped")
}

// Close stops the daemon and releases held resources.
func (d *Daemon) Close() error {
	d.Stop()
	if d.assetStore != nil {
		return d.assetStore.Close()
	}
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:        d.running.Load(),
		StoryboardDir:  d.cfg.StoryboardDir(),
		AssetDBPath:    d.cfg.AssetDBPath(),
		LockFilePath:   d.lockPath,
		ActiveSessions: d.sessions.Count(),
	}
}
