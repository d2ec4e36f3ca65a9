// Package config provides the configuration loader for docsync.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/docsync/internal/core/ports"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DOCSYNC_"

// Loader implements ports.ConfigLoader. Values are layered: defaults, then the YAML file,
// then DOCSYNC_* environment variables.
type Loader struct {
	logger ports.Logger
}

// NewLoader creates a new Loader.
func NewLoader(logger ports.Logger) *Loader {
	return &Loader{logger: logger}
}

// Load implements ports.ConfigLoader.
func (l *Loader) Load(path string) (*domain.Config, error) {
	file := fromDomain(domain.DefaultConfig())

	data, err := os.ReadFile(path) //nolint:gosec // path is provided by user
	switch {
	case errors.Is(err, fs.ErrNotExist):
		l.logger.Info("config file not found, using defaults", "path", path)
	case err != nil:
		return nil, zerr.With(errors.Join(domain.ErrConfigReadFailed, err), "path", path)
	default:
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, zerr.With(errors.Join(domain.ErrConfigParseFailed, err), "path", path)
		}
	}

	if err := env.ParseWithOptions(&file, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, errors.Join(domain.ErrConfigParseFailed, err)
	}

	return file.toDomain()
}

func (f File) toDomain() (*domain.Config, error) {
	var p problems

	cfg := &domain.Config{
		MetricsAddr: f.MetricsAddr,
		Cache: domain.CacheConfig{
			TTL:          p.duration("cache.ttl", f.Cache.TTL),
			Shards:       p.positive("cache.shards", f.Cache.Shards),
			FetchTimeout: p.duration("cache.fetchTimeout", f.Cache.FetchTimeout),
			BatchWorkers: p.positive("cache.batchWorkers", f.Cache.BatchWorkers),
		},
		Mutations: domain.MutationConfig{
			RemoteTimeout:  p.duration("mutations.remoteTimeout", f.Mutations.RemoteTimeout),
			ResumeAttempts: p.positive("mutations.resumeAttempts", f.Mutations.ResumeAttempts),
		},
		Local: domain.LocalConfig{Driver: f.Local.Driver, Path: f.Local.Path},
		Remote: domain.RemoteConfig{
			Driver:       f.Remote.Driver,
			DSN:          f.Remote.DSN,
			PollInterval:    p.duration("remote.pollInterval", f.Remote.PollInterval),
			ChangeRetention: p.positive("remote.changeRetention", f.Remote.ChangeRetention),
			PruneSchedule:   f.Remote.PruneSchedule,
		},
		Feed: domain.FeedConfig{
			BatchSize:    p.positive("feed.batchSize", f.Feed.BatchSize),
			Overfetch:    p.positive("feed.overfetch", f.Feed.Overfetch),
			DefaultLimit: p.positive("feed.defaultLimit", f.Feed.DefaultLimit),
			MaxLimit:     p.positive("feed.maxLimit", f.Feed.MaxLimit),
		},
		Reconcile: domain.ReconcileConfig{
			PageSize:    p.positive("reconcile.pageSize", f.Reconcile.PageSize),
			Concurrency: p.positive("reconcile.concurrency", f.Reconcile.Concurrency),
			Schedule:    f.Reconcile.Schedule,
			MaxAttempts: p.positive("reconcile.maxAttempts", f.Reconcile.MaxAttempts),
		},
		Recovery: domain.RecoveryConfig{
			RatePerSecond: f.Recovery.RatePerSecond,
			Burst:         p.positive("recovery.burst", f.Recovery.Burst),
			MaxAttempts:   p.positive("recovery.maxAttempts", f.Recovery.MaxAttempts),
			User:          f.Recovery.User,
		},
		Counters: domain.CounterConfig{DedupeSize: p.positive("counters.dedupeSize", f.Counters.DedupeSize)},
		Logging:  domain.LoggingConfig{JSON: f.Logging.JSON},
	}

	switch cfg.Local.Driver {
	case domain.DriverLevelDB, domain.DriverFile:
		if cfg.Local.Path == "" {
			p.add("local.path", "is required for driver "+cfg.Local.Driver)
		}
	case domain.DriverMemory:
	default:
		p.add("local.driver", "is not supported: "+cfg.Local.Driver)
	}

	switch cfg.Remote.Driver {
	case domain.DriverSQLite:
		if cfg.Remote.DSN == "" {
			p.add("remote.dsn", "is required for driver sqlite")
		}
	case domain.DriverMemory:
	default:
		p.add("remote.driver", "is not supported: "+cfg.Remote.Driver)
	}

	if cfg.Feed.BatchSize > domain.MaxQueryIDs {
		p.add("feed.batchSize", "must not exceed the query id limit")
	}
	if cfg.Feed.DefaultLimit > cfg.Feed.MaxLimit {
		p.add("feed.defaultLimit", "must not exceed feed.maxLimit")
	}
	if cfg.Recovery.RatePerSecond <= 0 {
		p.add("recovery.ratePerSecond", "must be positive")
	}
	if _, err := cron.ParseStandard(cfg.Reconcile.Schedule); err != nil {
		p.add("reconcile.schedule", "is not a cron schedule: "+err.Error())
	}
	if _, err := cron.ParseStandard(cfg.Remote.PruneSchedule); err != nil {
		p.add("remote.pruneSchedule", "is not a cron schedule: "+err.Error())
	}
	if cfg.Recovery.User != "" {
		if err := domain.ValidateID("recovery.user", cfg.Recovery.User); err != nil {
			p.add("recovery.user", "is not a valid id")
		}
	}

	if len(p) > 0 {
		return nil, errors.Join(domain.ErrInvalidConfig, zerr.New(strings.Join(p, "; ")))
	}
	return cfg, nil
}
