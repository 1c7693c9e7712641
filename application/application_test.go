package application

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-matchmaking/internal/eventloop"
	"github.com/lk2023060901/danmu-garden-matchmaking/internal/menu"
	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/merr"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigPriority(t *testing.T) {
	envPath := writeConfig(t, "provider:\n  kind: none\n")
	cliPath := writeConfig(t, "provider:\n  kind: etcd\n")

	t.Setenv(envConfigFilePath, envPath)
	a := &Application{}
	cfg, err := a.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.GetString("provider.kind"))
	assert.Equal(t, ActionIdle, cfg.GetString("menu.action"))

	a.args = []string{"--config", cliPath}
	cfg, err = a.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "etcd", cfg.GetString("provider.kind"))

	a.args = []string{"--config=" + envPath}
	cfg, err = a.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.GetString("provider.kind"))

	a.args = []string{"--config"}
	_, err = a.loadConfig()
	assert.Error(t, err)

	a.args = []string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}
	_, err = a.loadConfig()
	assert.Error(t, err)
}

func TestSettingsDefaults(t *testing.T) {
	path := writeConfig(t, "menu:\n  matchType: Duel\n")
	a := &Application{args: []string{"--config", path}}
	cfg, err := a.loadConfig()
	require.NoError(t, err)

	var s Settings
	require.NoError(t, cfg.Unmarshal(&s))
	assert.Equal(t, ProviderNull, s.Provider.Kind)
	assert.Equal(t, 10*time.Second, s.Provider.RequestTimeout)
	assert.Equal(t, []string{"localhost:2379"}, s.Provider.Etcd.Endpoints)
	assert.Equal(t, "Duel", s.Menu.MatchType)
	assert.EqualValues(t, menu.DefaultNumPublicConnections, s.Menu.NumPublicConnections)
	assert.Equal(t, menu.DefaultLobbyPath, s.Menu.LobbyPath)
	assert.EqualValues(t, 1, s.Matchmaking.BuildUniqueID)
}

func TestGetenv(t *testing.T) {
	t.Setenv("MATCHMAKING_TEST_BOOL", "on")
	assert.True(t, getenvBool("MATCHMAKING_TEST_BOOL", false))
	t.Setenv("MATCHMAKING_TEST_BOOL", "maybe")
	assert.True(t, getenvBool("MATCHMAKING_TEST_BOOL", true))
	assert.Equal(t, "def", getenvDefault("MATCHMAKING_TEST_UNSET", "def"))
}

func TestNewProvider(t *testing.T) {
	loop := eventloop.New()
	ctx := context.Background()

	p, err := newProvider(ctx, &Settings{Provider: ProviderSettings{Kind: ProviderNone}}, loop, nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = newProvider(ctx, &Settings{Provider: ProviderSettings{Kind: "NULL"}}, loop, nil)
	require.NoError(t, err)
	assert.Equal(t, online.NullSubsystemName, p.SubsystemName())
	assert.NoError(t, p.Close(ctx))

	_, err = newProvider(ctx, &Settings{Provider: ProviderSettings{Kind: "steam"}}, loop, nil)
	assert.ErrorIs(t, err, merr.ErrProviderUnknown)
}

func TestRunRejectsUnknownAction(t *testing.T) {
	path := writeConfig(t, "menu:\n  action: dance\n")
	a := New()
	a.args = []string{"--config", path}
	err := a.Run(context.Background())
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
}

func TestRunHost(t *testing.T) {
	path := writeConfig(t, `
provider:
  kind: null
  hostAddress: 127.0.0.1:17777
matchmaking:
  identity: host-player
menu:
  action: host
  matchType: FFA
`)
	a := New()
	a.args = []string{"--config", path}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
	}()

	select {
	case <-a.Ready():
	case err := <-errCh:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for application")
	}

	require.Eventually(t, func() bool {
		var travelled []string
		if err := a.loop.Do(ctx, func() { travelled = append(travelled, a.traveler.servers...) }); err != nil {
			return false
		}
		return len(travelled) == 1 && travelled[0] == menu.DefaultLobbyPath+"?listen"
	}, 5*time.Second, 10*time.Millisecond)

	session, ok := a.Orchestrator().Provider().NamedSession(online.GameSessionName)
	require.True(t, ok)
	assert.True(t, session.Hosting)
	assert.Equal(t, "127.0.0.1:17777", session.HostAddress)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for shutdown")
	}
}
