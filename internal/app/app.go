// Package app wires the configured adapters into the migration orchestrator.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/melih/lighthouse-migrator/internal/adapters/docker"
	"github.com/melih/lighthouse-migrator/internal/adapters/events"
	"github.com/melih/lighthouse-migrator/internal/adapters/gitrepo"
	"github.com/melih/lighthouse-migrator/internal/adapters/journal"
	"github.com/melih/lighthouse-migrator/internal/adapters/metrics"
	"github.com/melih/lighthouse-migrator/internal/adapters/refresh"
	"github.com/melih/lighthouse-migrator/internal/adapters/routetable"
	"github.com/melih/lighthouse-migrator/internal/adapters/upstream"
	"github.com/melih/lighthouse-migrator/internal/config"
	"github.com/melih/lighthouse-migrator/internal/core/migration"
	"github.com/melih/lighthouse-migrator/internal/core/ports"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// App is a fully wired migrator.
type App struct {
	Service *migration.Orchestrator
	Metrics *metrics.Recorder

	cfg     *config.Config
	log     *zap.Logger
	jobs    *cron.Cron
	closers []func() error
}

// Routing is the routing backend selected by configuration.
type Routing struct {
	Router    ports.Router
	Reloader  ports.Reloader
	Upstreams ports.UpstreamEditor
}

// New connects to the Docker daemon and builds every configured adapter.
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	runtime, err := docker.NewAdapter(
		docker.WithDefaultNetwork(cfg.Docker.DefaultNetwork),
		docker.WithMemoryFloor(cfg.Docker.MemoryFloor),
		docker.WithLogger(log.Named("docker")),
	)
	if err != nil {
		return nil, err
	}
	return build(cfg, runtime, log)
}

func build(cfg *config.Config, runtime *docker.Adapter, log *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log}

	routing, err := NewRouting(cfg, runtime, log)
	if err != nil {
		return nil, err
	}

	store, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	a.Metrics = metrics.NewRecorder()

	opts := []migration.Option{
		migration.WithJournal(store),
		migration.WithRecorder(a.Metrics),
		migration.WithLogger(log.Named("migration")),
		migration.WithStopTimeout(cfg.Migration.StopTimeout),
		migration.WithPolicy(migration.Policy{
			StepTimeout: cfg.Migration.StepTimeout,
			MaxAttempts: cfg.Migration.MaxAttempts,
			Backoff:     cfg.Migration.Backoff,
		}),
	}
	if routing.Upstreams != nil {
		opts = append(opts, migration.WithUpstreams(routing.Upstreams))
	}
	if cfg.Events.Enabled {
		pub, err := events.NewPublisher(cfg.Events.URL, log.Named("events"))
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() error { pub.Close(); return nil })
		opts = append(opts, migration.WithEvents(pub, cfg.Events.Subject))
	}

	a.Service = migration.New(runtime, routing.Router, routing.Reloader, opts...)
	return a, nil
}

// NewRouting builds the router and reloader for the configured routing mode.
func NewRouting(cfg *config.Config, runtime *docker.Adapter, log *zap.Logger) (Routing, error) {
	switch cfg.Routing.Mode {
	case config.ModeGateway:
		ropts := []routetable.RouterOption{routetable.WithLogger(log.Named("routes"))}
		if cfg.History.Enabled {
			history, err := gitrepo.Open(filepath.Dir(cfg.Gateway.RoutesFile), cfg.History.AuthorName, cfg.History.AuthorEmail, log.Named("history"))
			if err != nil {
				return Routing{}, err
			}
			ropts = append(ropts, routetable.WithHistory(history))
		}
		return Routing{
			Router:   routetable.NewRouter(routetable.NewStore(cfg.Gateway.RoutesFile, cfg.Gateway.Section), ropts...),
			Reloader: refresh.NewGateway(cfg.Gateway.RefreshURL, cfg.Gateway.RefreshTimeout, log.Named("refresh")),
		}, nil
	case config.ModeProxy:
		if runtime == nil {
			return Routing{}, errors.New("proxy routing needs the docker runtime to reload nginx")
		}
		file := upstream.NewFile(cfg.Proxy.ConfigFile, log.Named("nginx"))
		return Routing{
			Router:    file,
			Reloader:  docker.NewExecReloader(runtime, cfg.Proxy.Container, cfg.Proxy.ReloadCommand),
			Upstreams: file,
		}, nil
	default:
		return Routing{}, fmt.Errorf("unknown routing mode %q", cfg.Routing.Mode)
	}
}

// StartSweeper schedules the orphan sweep. It is a no-op when the sweep is disabled.
func (a *App) StartSweeper(ctx context.Context) error {
	if !a.cfg.Sweep.Enabled {
		return nil
	}
	jobs, err := NewSweeper(ctx, a.Service, a.cfg.Sweep.Schedule, a.log.Named("sweep"))
	if err != nil {
		return err
	}
	a.jobs = jobs
	jobs.Start()
	a.log.Info("orphan sweep scheduled", zap.String("schedule", a.cfg.Sweep.Schedule))
	return nil
}

// NewSweeper returns a cron scheduler that runs svc.Sweep on schedule.
// Overlapping runs are skipped.
func NewSweeper(ctx context.Context, svc ports.MigrationService, schedule string, log *zap.Logger) (*cron.Cron, error) {
	jobs := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := jobs.AddFunc(schedule, func() {
		report, err := svc.Sweep(ctx)
		if err != nil {
			log.Error("orphan sweep failed", zap.Error(err))
			return
		}
		log.Info("orphan sweep finished",
			zap.Strings("removed", report.Removed),
			zap.Strings("adopted", report.Adopted),
			zap.Strings("failures", report.Failures))
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return jobs, nil
}

// Close stops the scheduler and releases the journal and event connection.
func (a *App) Close() error {
	if a.jobs != nil {
		<-a.jobs.Stop().Done()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
