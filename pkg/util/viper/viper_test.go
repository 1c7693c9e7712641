package viper

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileWithDefaultsAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
provider:
  kind: etcd
  etcd:
    endpoints:
      - 127.0.0.1:2379
menu:
  matchType: FreeForAll
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("VIPERTEST_MENU_CONNECTIONS", "8")

	cfg := New("VIPERTEST")
	cfg.SetDefaults(map[string]any{
		"menu.connections":  6,
		"provider.etcd.ttl": "10s",
	})
	require.NoError(t, cfg.LoadFile(path))

	assert.Equal(t, "etcd", cfg.GetString("provider.kind"))
	assert.Equal(t, []string{"127.0.0.1:2379"}, cfg.GetStringSlice("provider.etcd.endpoints"))
	assert.Equal(t, 8, cfg.GetInt("menu.connections"))
	assert.Equal(t, 10*time.Second, cfg.GetDuration("provider.etcd.ttl"))
	assert.False(t, cfg.IsSet("provider.redis.addr"))

	var menu struct {
		MatchType   string `mapstructure:"matchType"`
		Connections int    `mapstructure:"connections"`
	}
	require.NoError(t, cfg.UnmarshalKey("menu", &menu))
	assert.Equal(t, "FreeForAll", menu.MatchType)
}

func TestLoadFileMissing(t *testing.T) {
	cfg := New()
	assert.Error(t, cfg.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")))
}
