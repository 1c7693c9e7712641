package application

import (
	"time"

	"github.com/lk2023060901/danmu-garden-matchmaking/internal/menu"
	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online/etcdsub"
	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online/redissub"
)

const (
	envPrefix         = "MATCHMAKING"
	envConfigFilePath = "MATCHMAKING_CONFIG_FILE_PATH"
	defaultConfigPath = "./config.yaml"
)

// Provider kinds accepted by provider.kind.
const (
	ProviderNull  = "null"
	ProviderEtcd  = "etcd"
	ProviderRedis = "redis"
	ProviderNone  = "none"
)

// Menu actions accepted by menu.action.
const (
	ActionHost = "host"
	ActionJoin = "join"
	ActionIdle = "idle"
)

// Settings is the typed view of the configuration file.
type Settings struct {
	Provider    ProviderSettings    `mapstructure:"provider"`
	Matchmaking MatchmakingSettings `mapstructure:"matchmaking"`
	Menu        MenuSettings        `mapstructure:"menu"`
	Metrics     MetricsSettings     `mapstructure:"metrics"`
	Pool        PoolSettings        `mapstructure:"pool"`
}

type ProviderSettings struct {
	Kind              string        `mapstructure:"kind"`
	HostAddress       string        `mapstructure:"hostAddress"`
	OwnerName         string        `mapstructure:"ownerName"`
	BuildVersion      string        `mapstructure:"buildVersion"`
	BuildVersionRange string        `mapstructure:"buildVersionRange"`
	Latency           time.Duration `mapstructure:"latency"`
	PingMs            int32         `mapstructure:"pingMs"`
	RequestTimeout    time.Duration `mapstructure:"requestTimeout"`

	Etcd  etcdsub.Config  `mapstructure:"etcd"`
	Redis redissub.Config `mapstructure:"redis"`
}

type MatchmakingSettings struct {
	// Identity is the local player id, a random one is generated when empty.
	Identity      string `mapstructure:"identity"`
	BuildUniqueID int32  `mapstructure:"buildUniqueId"`
}

type MenuSettings struct {
	menu.Config `mapstructure:",squash"`
	Action      string `mapstructure:"action"`
}

type MetricsSettings struct {
	// Listen is the address of the /metrics endpoint, empty disables it.
	Listen string `mapstructure:"listen"`
}

type PoolSettings struct {
	Size int `mapstructure:"size"`
}

func defaultSettings() map[string]any {
	return map[string]any{
		"provider.kind":             ProviderNull,
		"provider.hostAddress":      "127.0.0.1:7777",
		"provider.requestTimeout":   "10s",
		"provider.etcd.endpoints":   []string{"localhost:2379"},
		"provider.etcd.dialTimeout": "5s",
		"provider.etcd.metaRoot":    "danmu-garden",
		"provider.redis.addr":       "localhost:6379",
		"matchmaking.buildUniqueId": 1,
		"menu.connections":          menu.DefaultNumPublicConnections,
		"menu.matchType":            menu.DefaultMatchType,
		"menu.lobbyPath":            menu.DefaultLobbyPath,
		"menu.maxSearchResults":     menu.DefaultMaxSearchResults,
		"menu.action":               ActionIdle,
		"pool.size":                 0,
	}
}
