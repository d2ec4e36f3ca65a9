package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/docsync/internal/adapters/config"
	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/docsync/internal/core/ports/mocks"
	"go.uber.org/mock/gomock"
)

func newLoader(t *testing.T) *config.Loader {
	t.Helper()
	logger := mocks.NewMockLogger(gomock.NewController(t))
	logger.EXPECT().Info(gomock.Any(), gomock.Any()).AnyTimes()
	return config.NewLoader(logger)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docsync.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoad_Success(t *testing.T) {
	path := writeConfig(t, `
version: "1"
metricsAddr: ":9090"
cache:
  ttl: 30s
  shards: 4
local:
  driver: file
  path: /tmp/docsync.json
remote:
  driver: sqlite
  dsn: /tmp/remote.db
  pollInterval: 500ms
feed:
  batchSize: 5
  overfetch: 3
reconcile:
  schedule: "0 3 * * *"
`)

	cfg, err := newLoader(t).Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 4, cfg.Cache.Shards)
	assert.Equal(t, domain.DriverFile, cfg.Local.Driver)
	assert.Equal(t, domain.DriverSQLite, cfg.Remote.Driver)
	assert.Equal(t, 500*time.Millisecond, cfg.Remote.PollInterval)
	assert.Equal(t, 5, cfg.Feed.BatchSize)
	assert.Equal(t, 3, cfg.Feed.Overfetch)
	assert.Equal(t, "0 3 * * *", cfg.Reconcile.Schedule)

	// Unset values keep their defaults.
	defaults := domain.DefaultConfig()
	assert.Equal(t, defaults.Cache.FetchTimeout, cfg.Cache.FetchTimeout)
	assert.Equal(t, defaults.Mutations, cfg.Mutations)
	assert.Equal(t, defaults.Recovery, cfg.Recovery)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := newLoader(t).Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	defaults := domain.DefaultConfig()
	assert.Equal(t, &defaults, cfg)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
cache:
  ttl: 30s
remote:
  driver: memory
`)
	t.Setenv("DOCSYNC_CACHE_TTL", "2m")
	t.Setenv("DOCSYNC_REMOTE_DRIVER", "sqlite")
	t.Setenv("DOCSYNC_REMOTE_DSN", "file:remote.db")
	t.Setenv("DOCSYNC_LOG_JSON", "true")
	t.Setenv("DOCSYNC_REMOTE_CHANGE_RETENTION", "50")
	t.Setenv("DOCSYNC_RECOVERY_USER", "ada")

	cfg, err := newLoader(t).Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, domain.DriverSQLite, cfg.Remote.Driver)
	assert.Equal(t, "file:remote.db", cfg.Remote.DSN)
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, 50, cfg.Remote.ChangeRetention)
	assert.Equal(t, "ada", cfg.Recovery.User)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "cache: [unclosed")

	_, err := newLoader(t).Load(path)
	require.ErrorIs(t, err, domain.ErrConfigParseFailed)
}

func TestLoad_InvalidEnvironment(t *testing.T) {
	t.Setenv("DOCSYNC_CACHE_SHARDS", "many")

	_, err := newLoader(t).Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, domain.ErrConfigParseFailed)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		problem string
	}{
		{"bad duration", "cache:\n  ttl: soon\n", "cache.ttl"},
		{"negative duration", "mutations:\n  remoteTimeout: -1s\n", "mutations.remoteTimeout"},
		{"zero shards", "cache:\n  shards: 0\n", "cache.shards"},
		{"unknown local driver", "local:\n  driver: floppy\n", "local.driver"},
		{"unknown remote driver", "remote:\n  driver: postgres\n", "remote.driver"},
		{"sqlite without dsn", "remote:\n  driver: sqlite\n", "remote.dsn"},
		{"batch too large", "feed:\n  batchSize: 11\n", "feed.batchSize"},
		{"default above max", "feed:\n  defaultLimit: 50\n  maxLimit: 10\n", "feed.defaultLimit"},
		{"bad schedule", "reconcile:\n  schedule: whenever\n", "reconcile.schedule"},
		{"zero rate", "recovery:\n  ratePerSecond: 0\n", "recovery.ratePerSecond"},
		{"bad prune schedule", "remote:\n  pruneSchedule: sometimes\n", "remote.pruneSchedule"},
		{"zero retention", "remote:\n  changeRetention: 0\n", "remote.changeRetention"},
		{"bad recovery user", "recovery:\n  user: a/b\n", "recovery.user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newLoader(t).Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
			assert.ErrorContains(t, err, tt.problem)
		})
	}
}
