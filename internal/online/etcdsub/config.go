package etcdsub

import (
	"time"

	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/etcd"
)

// Config 为 etcd Provider 的配置。
type Config struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dialTimeout"`
	// MetaRoot 为所有 key 的公共前缀。
	MetaRoot string `mapstructure:"metaRoot"`
	// TTL 为会话租约时长，单位秒。
	TTL             int64 `mapstructure:"ttl"`
	RetryAttempts   uint  `mapstructure:"retryAttempts"`
	WatchAdvertised bool  `mapstructure:"watchAdvertised"`

	Embed EmbedConfig `mapstructure:"embed"`
}

// EmbedConfig 控制是否在进程内启动 etcd。
type EmbedConfig struct {
	Enable           bool `mapstructure:"enable"`
	etcd.EmbedConfig `mapstructure:",squash"`
}

func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = defaultTTL
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = defaultRetryAttempts
	}
}
