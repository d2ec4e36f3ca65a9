package commands_test

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/docsync/cmd/docsync/commands"
	"go.trai.ch/docsync/internal/adapters/filestore"
	"go.trai.ch/docsync/internal/adapters/telemetry"
	"go.trai.ch/docsync/internal/app"
	"go.trai.ch/docsync/internal/build"
	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/docsync/internal/core/ports/mocks"
	"go.trai.ch/docsync/internal/engine/scheduler"
	"go.uber.org/mock/gomock"
)

func newCLI(t *testing.T, cfg *domain.Config, configPath string) (*commands.CLI, *bytes.Buffer) {
	t.Helper()
	ctrl := gomock.NewController(t)

	mockLoader := mocks.NewMockConfigLoader(ctrl)
	if cfg != nil {
		mockLoader.EXPECT().Load(configPath).Return(cfg, nil).Times(1)
	}
	mockLogger := mocks.NewMockLogger(ctrl)
	mockLogger.EXPECT().Info(gomock.Any(), gomock.Any()).AnyTimes()
	mockLogger.EXPECT().Warn(gomock.Any(), gomock.Any()).AnyTimes()

	a := app.New(mockLoader, mockLogger, telemetry.NewNoOpTracer(), scheduler.NewScheduler(mockLogger))
	cli := commands.New(a)
	var out bytes.Buffer
	cli.SetOutput(&out)
	return cli, &out
}

func memoryConfig() *domain.Config {
	cfg := domain.DefaultConfig()
	cfg.Local.Driver = domain.DriverMemory
	return &cfg
}

func TestReconcile_UsesConfigFlag(t *testing.T) {
	cli, out := newCLI(t, memoryConfig(), "custom.yaml")
	cli.SetArgs([]string{"--config", "custom.yaml", "reconcile"})

	require.NoError(t, cli.Execute(context.Background()))
	assert.Equal(t, "corrected 0 counters\n", out.String())
}

func TestRecover_RequiresUser(t *testing.T) {
	cli, _ := newCLI(t, nil, "")
	cli.SetArgs([]string{"recover"})

	require.Error(t, cli.Execute(context.Background()))
}

func TestRecover_Success(t *testing.T) {
	cli, out := newCLI(t, memoryConfig(), app.DefaultConfigPath)
	cli.SetArgs([]string{"recover", "ada"})

	require.NoError(t, cli.Execute(context.Background()))
	assert.Equal(t, "uploaded 0 items\n", out.String())
}

func TestResume_ReportsCounts(t *testing.T) {
	cfg := memoryConfig()
	cfg.Local.Driver = domain.DriverFile
	cfg.Local.Path = t.TempDir()

	store, err := filestore.NewStore(filepath.Join(cfg.Local.Path, "local.json"))
	require.NoError(t, err)
	follow := domain.Follow{FollowerID: "a", FolloweeID: "b"}
	payload, err := json.Marshal(follow)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), domain.PendingMutation{
		LocalID: "l1",
		Kind:    follow.Kind(),
		Key:     follow.Key(),
		Payload: payload,
	}))

	cli, out := newCLI(t, cfg, app.DefaultConfigPath)
	cli.SetArgs([]string{"resume"})

	require.NoError(t, cli.Execute(context.Background()))
	assert.Equal(t, "replayed 1, dropped 0, kept 0\n", out.String())
}

func TestFeed_EmptyFeed(t *testing.T) {
	cli, out := newCLI(t, memoryConfig(), app.DefaultConfigPath)
	cli.SetArgs([]string{"feed", "ada", "--limit", "5"})

	require.NoError(t, cli.Execute(context.Background()))
	assert.Empty(t, out.String())
}

func TestFeed_RejectsBadCursor(t *testing.T) {
	cli, _ := newCLI(t, memoryConfig(), app.DefaultConfigPath)
	cli.SetArgs([]string{"feed", "ada", "--cursor", "%%%"})

	require.ErrorIs(t, cli.Execute(context.Background()), domain.ErrValidation)
}

func TestVersion(t *testing.T) {
	cli, out := newCLI(t, nil, "")
	cli.SetArgs([]string{"version"})

	require.NoError(t, cli.Execute(context.Background()))
	assert.Equal(t, "docsync version "+build.Version+"\n", out.String())
}

func TestRoot_Help(t *testing.T) {
	cli, _ := newCLI(t, nil, "")
	cli.SetArgs([]string{"--help"})

	require.NoError(t, cli.Execute(context.Background()))
}
