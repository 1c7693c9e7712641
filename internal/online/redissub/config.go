package redissub

import "time"

const (
	defaultKeyPrefix     = "matchmaking:"
	defaultTTL           = 30 * time.Second
	defaultRetryAttempts = 5
)

// Config 为 Redis Provider 的配置。
type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// KeyPrefix 为所有 key 的公共前缀。
	KeyPrefix     string        `mapstructure:"keyPrefix"`
	TTL           time.Duration `mapstructure:"ttl"`
	RetryAttempts uint          `mapstructure:"retryAttempts"`
}

func (c *Config) applyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = defaultKeyPrefix
	}
	if c.TTL <= 0 {
		c.TTL = defaultTTL
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = defaultRetryAttempts
	}
}
