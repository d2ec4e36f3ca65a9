package config

import (
	"strconv"
	"time"

	"go.trai.ch/docsync/internal/core/domain"
)

// File represents the structure of the docsync.yaml configuration file. Every field can also
// be set from the environment; the env tags below are prefixed with DOCSYNC_.
type File struct {
	Version     string       `yaml:"version"`
	MetricsAddr string       `yaml:"metricsAddr" env:"METRICS_ADDR"`
	Cache       CacheDTO     `yaml:"cache" envPrefix:"CACHE_"`
	Mutations   MutationDTO  `yaml:"mutations" envPrefix:"MUTATIONS_"`
	Local       LocalDTO     `yaml:"local" envPrefix:"LOCAL_"`
	Remote      RemoteDTO    `yaml:"remote" envPrefix:"REMOTE_"`
	Feed        FeedDTO      `yaml:"feed" envPrefix:"FEED_"`
	Reconcile   ReconcileDTO `yaml:"reconcile" envPrefix:"RECONCILE_"`
	Recovery    RecoveryDTO  `yaml:"recovery" envPrefix:"RECOVERY_"`
	Counters    CountersDTO  `yaml:"counters" envPrefix:"COUNTERS_"`
	Logging     LoggingDTO   `yaml:"logging" envPrefix:"LOG_"`
}

// CacheDTO configures the entity cache.
type CacheDTO struct {
	TTL          string `yaml:"ttl" env:"TTL"`
	Shards       int    `yaml:"shards" env:"SHARDS"`
	FetchTimeout string `yaml:"fetchTimeout" env:"FETCH_TIMEOUT"`
	BatchWorkers int    `yaml:"batchWorkers" env:"BATCH_WORKERS"`
}

// MutationDTO configures optimistic mutations.
type MutationDTO struct {
	RemoteTimeout  string `yaml:"remoteTimeout" env:"REMOTE_TIMEOUT"`
	ResumeAttempts int    `yaml:"resumeAttempts" env:"RESUME_ATTEMPTS"`
}

// LocalDTO selects the local store.
type LocalDTO struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	Path   string `yaml:"path" env:"PATH"`
}

// RemoteDTO selects the remote store.
type RemoteDTO struct {
	Driver       string `yaml:"driver" env:"DRIVER"`
	DSN          string `yaml:"dsn" env:"DSN"`
	PollInterval    string `yaml:"pollInterval" env:"POLL_INTERVAL"`
	ChangeRetention int    `yaml:"changeRetention" env:"CHANGE_RETENTION"`
	PruneSchedule   string `yaml:"pruneSchedule" env:"PRUNE_SCHEDULE"`
}

// FeedDTO configures feed assembly.
type FeedDTO struct {
	BatchSize    int `yaml:"batchSize" env:"BATCH_SIZE"`
	Overfetch    int `yaml:"overfetch" env:"OVERFETCH"`
	DefaultLimit int `yaml:"defaultLimit" env:"DEFAULT_LIMIT"`
	MaxLimit     int `yaml:"maxLimit" env:"MAX_LIMIT"`
}

// ReconcileDTO configures the reconciliation job.
type ReconcileDTO struct {
	PageSize    int    `yaml:"pageSize" env:"PAGE_SIZE"`
	Concurrency int    `yaml:"concurrency" env:"CONCURRENCY"`
	Schedule    string `yaml:"schedule" env:"SCHEDULE"`
	MaxAttempts int    `yaml:"maxAttempts" env:"MAX_ATTEMPTS"`
}

// RecoveryDTO configures the local-only recovery sync.
type RecoveryDTO struct {
	RatePerSecond float64 `yaml:"ratePerSecond" env:"RATE_PER_SECOND"`
	Burst         int     `yaml:"burst" env:"BURST"`
	MaxAttempts   int     `yaml:"maxAttempts" env:"MAX_ATTEMPTS"`
	User          string  `yaml:"user" env:"USER"`
}

// CountersDTO configures the counter sync.
type CountersDTO struct {
	DedupeSize int `yaml:"dedupeSize" env:"DEDUPE_SIZE"`
}

// LoggingDTO configures the logger.
type LoggingDTO struct {
	JSON bool `yaml:"json" env:"JSON"`
}

// fromDomain renders cfg as a File, so that defaults can be layered under the YAML document.
func fromDomain(cfg domain.Config) File {
	return File{
		Version:     "1",
		MetricsAddr: cfg.MetricsAddr,
		Cache: CacheDTO{
			TTL:          cfg.Cache.TTL.String(),
			Shards:       cfg.Cache.Shards,
			FetchTimeout: cfg.Cache.FetchTimeout.String(),
			BatchWorkers: cfg.Cache.BatchWorkers,
		},
		Mutations: MutationDTO{
			RemoteTimeout:  cfg.Mutations.RemoteTimeout.String(),
			ResumeAttempts: cfg.Mutations.ResumeAttempts,
		},
		Local: LocalDTO{Driver: cfg.Local.Driver, Path: cfg.Local.Path},
		Remote: RemoteDTO{
			Driver:       cfg.Remote.Driver,
			DSN:          cfg.Remote.DSN,
			PollInterval:    cfg.Remote.PollInterval.String(),
			ChangeRetention: cfg.Remote.ChangeRetention,
			PruneSchedule:   cfg.Remote.PruneSchedule,
		},
		Feed: FeedDTO{
			BatchSize:    cfg.Feed.BatchSize,
			Overfetch:    cfg.Feed.Overfetch,
			DefaultLimit: cfg.Feed.DefaultLimit,
			MaxLimit:     cfg.Feed.MaxLimit,
		},
		Reconcile: ReconcileDTO{
			PageSize:    cfg.Reconcile.PageSize,
			Concurrency: cfg.Reconcile.Concurrency,
			Schedule:    cfg.Reconcile.Schedule,
			MaxAttempts: cfg.Reconcile.MaxAttempts,
		},
		Recovery: RecoveryDTO{
			RatePerSecond: cfg.Recovery.RatePerSecond,
			Burst:         cfg.Recovery.Burst,
			MaxAttempts:   cfg.Recovery.MaxAttempts,
			User:          cfg.Recovery.User,
		},
		Counters: CountersDTO{DedupeSize: cfg.Counters.DedupeSize},
		Logging:  LoggingDTO{JSON: cfg.Logging.JSON},
	}
}

// problems collects validation failures while a File is converted.
type problems []string

func (p *problems) add(field, reason string) {
	*p = append(*p, field+" "+reason)
}

func (p *problems) duration(field, s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		p.add(field, "is not a duration: "+strconv.Quote(s))
		return 0
	}
	if d <= 0 {
		p.add(field, "must be positive")
	}
	return d
}

func (p *problems) positive(field string, n int) int {
	if n <= 0 {
		p.add(field, "must be positive")
	}
	return n
}
