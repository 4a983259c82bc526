// Package app assembles the pipeline's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/tcga-expression-pipeline/internal/database"
	"github.com/tcga-expression-pipeline/internal/domain"
	"github.com/tcga-expression-pipeline/internal/lock"
	"github.com/tcga-expression-pipeline/internal/metrics"
	"github.com/tcga-expression-pipeline/internal/repository"
	"github.com/tcga-expression-pipeline/internal/service"
	"github.com/tcga-expression-pipeline/internal/source"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config     *domain.Config
	Records    domain.RecordStore
	Cohorts    domain.CohortStore
	Source     domain.ContentSource
	Scratch    *service.ScratchDir
	Metrics    *metrics.Collector
	Ingestion  *service.IngestionService
	Statistics *service.StatisticsService
	Scheduler  *service.Scheduler

	// HealthCheck pings the backing database; nil for in-process stores.
	HealthCheck func(ctx context.Context) error

	logger  *logrus.Logger
	closers []func() error
}

type options struct {
	observer    service.ProgressObserver
	fs          afero.Fs
	autoMigrate bool
	metrics     *metrics.Collector
}

// Option customises New.
type Option func(*options)

// WithObserver streams ingestion progress to o.
func WithObserver(o service.ProgressObserver) Option {
	return func(opts *options) { opts.observer = o }
}

// WithFs replaces the OS filesystem used by the local source and scratch space.
func WithFs(fs afero.Fs) Option {
	return func(opts *options) { opts.fs = fs }
}

// WithAutoMigrate applies pending Postgres migrations before opening stores.
func WithAutoMigrate() Option {
	return func(opts *options) { opts.autoMigrate = true }
}

// WithMetrics records on c instead of a fresh collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(opts *options) { opts.metrics = c }
}

// New wires stores, source, locker, services and scheduler from cfg.
func New(ctx context.Context, cfg *domain.Config, logger *logrus.Logger, opts ...Option) (*App, error) {
	o := options{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewCollector()
	}

	a := &App{Config: cfg, Metrics: o.metrics, logger: logger}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	if err := a.openStores(ctx, o.autoMigrate); err != nil {
		return nil, err
	}

	locker, err := a.openLocker()
	if err != nil {
		return nil, err
	}

	a.Source, err = source.Open(ctx, cfg.Storage, o.fs, logger)
	if err != nil {
		return nil, fmt.Errorf("opening content source: %w", err)
	}
	archive, err := source.OpenArchive(ctx, cfg.Storage, o.fs, logger)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	a.Scratch = service.NewScratchDir(o.fs, cfg.Ingestion.ScratchDir, logger)

	ingestOpts := []service.IngestionOption{
		service.WithLocker(locker),
		service.WithMetrics(a.Metrics),
	}
	if archive != nil {
		ingestOpts = append(ingestOpts, service.WithArchive(archive))
	}
	if o.observer != nil {
		ingestOpts = append(ingestOpts, service.WithObserver(o.observer))
	}

	a.Ingestion = service.NewIngestionService(a.Source, a.Records, a.Cohorts, a.Scratch, cfg.Ingestion, logger, ingestOpts...)
	a.Statistics = service.NewStatisticsService(a.Records, a.Cohorts, logger)
	a.Scheduler = service.NewScheduler(a.Ingestion, a.Scratch, cfg.Cohorts, cfg.Scheduler, logger)

	logger.WithFields(logrus.Fields{
		"database": cfg.Database.Driver,
		"storage":  cfg.Storage.Driver,
		"archive":  cfg.Storage.ArchiveDriver,
		"redis":    cfg.Cache.RedisURL != "",
	}).Info("Pipeline components initialized")
	ready = true
	return a, nil
}

func (a *App) openStores(ctx context.Context, autoMigrate bool) error {
	cfg := a.Config.Database
	var cohorts domain.CohortStore

	switch strings.ToLower(cfg.Driver) {
	case "postgres":
		dbConfig := database.ConfigFrom(cfg)
		if autoMigrate {
			if err := Migrate(ctx, dbConfig.URL(), cfg.MigrationsPath, a.logger); err != nil {
				return err
			}
		}

		db, err := database.NewConnection(ctx, dbConfig, a.logger)
		if err != nil {
			return err
		}
		a.onClose(func() error { db.Close(); return nil })
		a.HealthCheck = db.Health
		a.Records = repository.NewPostgresRecordStore(db.Pool, a.logger)

		pgCohorts, err := repository.OpenPostgresCohortStore(ctx, dbConfig.DSN(), cfg, a.logger)
		if err != nil {
			return err
		}
		a.onClose(pgCohorts.Close)
		cohorts = pgCohorts

	case "sqlite":
		store, err := repository.NewSQLiteStore(cfg.SQLitePath, a.logger)
		if err != nil {
			return err
		}
		a.onClose(store.Close)
		a.Records = store
		cohorts = store

	case "memory":
		store := repository.NewMemoryStore()
		a.Records = store
		cohorts = store

	default:
		return fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	cached, err := repository.NewCachedCohortStore(cohorts, a.Config.Cache.CohortCacheLen, a.logger)
	if err != nil {
		return err
	}
	a.Cohorts = cached
	return nil
}

func (a *App) openLocker() (domain.CohortLocker, error) {
	if a.Config.Cache.RedisURL == "" {
		return lock.NewLocal(), nil
	}
	locker, err := lock.NewRedis(a.Config.Cache, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	a.onClose(locker.Close)
	return locker, nil
}

// Migrate applies every pending migration.
func Migrate(ctx context.Context, databaseURL, migrationsPath string, logger *logrus.Logger) error {
	runner, err := database.NewMigrationRunner(databaseURL, migrationsPath, logger)
	if err != nil {
		return err
	}
	defer runner.Close()
	return runner.Up(ctx)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases every opened resource.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
