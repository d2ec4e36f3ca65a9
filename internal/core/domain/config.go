package domain

import "time"

// Storage driver names.
const (
	DriverMemory  = "memory"
	DriverSQLite  = "sqlite"
	DriverLevelDB = "leveldb"
	DriverFile    = "file"
)

// Config is the validated runtime configuration.
type Config struct {
	Cache       CacheConfig
	Mutations   MutationConfig
	Local       LocalConfig
	Remote      RemoteConfig
	Feed        FeedConfig
	Reconcile   ReconcileConfig
	Recovery    RecoveryConfig
	Counters    CounterConfig
	Logging     LoggingConfig
	MetricsAddr string
}

// CacheConfig configures the TTL cache and the fetch coalescer.
type CacheConfig struct {
	TTL          time.Duration
	Shards       int
	FetchTimeout time.Duration
	BatchWorkers int
}

// MutationConfig configures the optimistic mutator.
type MutationConfig struct {
	RemoteTimeout  time.Duration
	ResumeAttempts int
}

// LocalConfig selects the durable local stores for pending mutations and collected items.
type LocalConfig struct {
	Driver string
	Path   string
}

// RemoteConfig selects the remote document store adapter.
type RemoteConfig struct {
	Driver       string
	DSN          string
	PollInterval time.Duration
	// ChangeRetention is how many delivered change log entries are kept; PruneSchedule is
	// when older ones are removed. Stores without a change log ignore both.
	ChangeRetention int
	PruneSchedule   string
}

// FeedConfig configures the multi-partition feed assembler.
type FeedConfig struct {
	BatchSize    int
	Overfetch    int
	DefaultLimit int
	MaxLimit     int
}

// ReconcileConfig configures the reconciliation job.
type ReconcileConfig struct {
	PageSize    int
	Concurrency int
	Schedule    string
	MaxAttempts int
}

// RecoveryConfig configures the local-only recovery sync.
type RecoveryConfig struct {
	RatePerSecond float64
	Burst         int
	MaxAttempts   int
	// User, when set, is the user whose local-only items serve uploads on start.
	User string
}

// CounterConfig configures the denormalized counter sync.
type CounterConfig struct {
	DedupeSize int
}

// LoggingConfig configures the logger adapter.
type LoggingConfig struct {
	JSON bool
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Cache: CacheConfig{
			TTL:          5 * time.Minute,
			Shards:       16,
			FetchTimeout: 10 * time.Second,
			BatchWorkers: 8,
		},
		Mutations: MutationConfig{
			RemoteTimeout:  15 * time.Second,
			ResumeAttempts: 5,
		},
		Local: LocalConfig{
			Driver: DriverLevelDB,
			Path:   ".docsync",
		},
		Remote: RemoteConfig{
			Driver:          DriverMemory,
			PollInterval:    2 * time.Second,
			ChangeRetention: 10000,
			PruneSchedule:   "@every 10m",
		},
		Feed: FeedConfig{
			BatchSize:    10,
			Overfetch:    2,
			DefaultLimit: 20,
			MaxLimit:     100,
		},
		Reconcile: ReconcileConfig{
			PageSize:    100,
			Concurrency: 4,
			Schedule:    "@every 1h",
			MaxAttempts: 5,
		},
		Recovery: RecoveryConfig{
			RatePerSecond: 5,
			Burst:         5,
			MaxAttempts:   5,
		},
		Counters: CounterConfig{
			DedupeSize: 4096,
		},
	}
}
