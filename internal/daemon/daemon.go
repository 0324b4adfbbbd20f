package daemon

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/nsma/nsma/internal/taxonomy"
)

// DefaultSweepInterval is how often the Sweeper looks for config changes.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper re-imports projects whose config documents changed since their
// last import.
type Sweeper struct {
	registry  Registry
	refresher *Refresher
	interval  time.Duration
	logger    *zap.Logger
}

// NewSweeper returns a Sweeper. A non-positive interval means
// DefaultSweepInterval.
func NewSweeper(registry Registry, refresher *Refresher, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{registry: registry, refresher: refresher, interval: interval, logger: logger}
}

// Sweep checks every active project once and returns the slugs that were
// re-imported.
func (s *Sweeper) Sweep(ctx context.Context) []string {
	projects, err := s.registry.Active()
	if err != nil {
		s.logger.Warn("sweep: failed to list projects", zap.Error(err))
		return nil
	}

	var refreshed []string
	for _, p := range projects {
		if ctx.Err() != nil {
			break
		}
		log := s.logger.With(zap.String("project", p.Slug))

		changed, err := taxonomy.HasConfigChanged(p.Path, p.ConfigMtimes)
		if err != nil {
			log.Warn("sweep: cannot check config documents", zap.Error(err))
			continue
		}
		if !changed {
			continue
		}
		if _, err := s.refresher.RefreshConfig(ctx, p.Slug); err != nil {
			if !errors.Is(err, taxonomy.ErrNoConfigFiles) {
				log.Warn("sweep: refresh failed", zap.Error(err))
			}
			continue
		}
		refreshed = append(refreshed, p.Slug)
	}
	if len(refreshed) > 0 {
		s.logger.Info("sweep re-imported projects", zap.Strings("projects", refreshed))
	}
	return refreshed
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Config holds configuration for the daemon.
type Config struct {
	Watch         WatchConfig
	SweepInterval time.Duration
	Logger        *zap.Logger
}

// Daemon watches every active project and sweeps periodically.
type Daemon struct {
	registry Registry
	watchers *Watchers
	sweeper  *Sweeper
	logger   *zap.Logger
}

// New returns a daemon over the projects in registry.
func New(registry Registry, refresher *Refresher, cfg Config) *Daemon {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Daemon{
		registry: registry,
		watchers: NewWatchers(refresher, cfg.Watch, logger),
		sweeper:  NewSweeper(registry, refresher, cfg.SweepInterval, logger),
		logger:   logger,
	}
}

// Watchers returns the daemon's watch handle registry.
func (d *Daemon) Watchers() *Watchers { return d.watchers }

// Start runs an initial sweep, starts a watch handle per active project
// and blocks until ctx is cancelled. Projects that cannot be watched are
// logged and left to the sweeper.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Info("starting daemon")

	projects, err := d.registry.Active()
	if err != nil {
		return err
	}

	d.sweeper.Sweep(ctx)

	for _, p := range projects {
		if err := d.watchers.Start(p); err != nil {
			d.logger.Warn("cannot watch project", zap.String("project", p.Slug), zap.Error(err))
		}
	}
	defer d.watchers.StopAll()

	d.sweeper.Run(ctx)

	d.logger.Info("daemon stopped")
	return nil
}
