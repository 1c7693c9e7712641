package viper

import (
	"path/filepath"
	"strings"
	"time"

	spfviper "github.com/spf13/viper"
)

// Config 封装 spf13/viper 实例，对外提供精简的 YAML/JSON 配置加载接口。
type Config struct {
	v *spfviper.Viper
}

// New 创建一个空的 Config。
// 可选的 envPrefix 开启环境变量覆盖，例如前缀 MATCHMAKING 时
// provider.etcd.root 对应 MATCHMAKING_PROVIDER_ETCD_ROOT。
func New(envPrefix ...string) *Config {
	v := spfviper.New()
	if len(envPrefix) > 0 && envPrefix[0] != "" {
		v.SetEnvPrefix(envPrefix[0])
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}
	return &Config{
		v: v,
	}
}

// SetDefaults 批量设置默认值，key 使用点号分隔的路径。
func (c *Config) SetDefaults(defaults map[string]any) {
	for k, val := range defaults {
		c.v.SetDefault(k, val)
	}
}

// Set 覆盖指定 key 的值，优先级高于配置文件与环境变量。
func (c *Config) Set(key string, val any) {
	c.v.Set(key, val)
}

func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

func (c *Config) GetDuration(key string) time.Duration {
	return c.v.GetDuration(key)
}

// IsSet 判断 key 是否在配置文件、环境变量或默认值中出现过。
func (c *Config) IsSet(key string) bool {
	return c.v.IsSet(key)
}

// LoadFile 将 YAML 或 JSON 配置文件加载到 Config 中。
// 文件类型通过扩展名（.yaml/.yml/.json）推断。
func (c *Config) LoadFile(path string) error {
	if c.v == nil {
		c.v = spfviper.New()
	}

	c.v.SetConfigFile(path)

	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		c.v.SetConfigType("yaml")
	case ".json":
		c.v.SetConfigType("json")
	default:
		// 让 viper 自行推断类型，或在读取时返回清晰的错误信息。
	}

	return c.v.ReadInConfig()
}

// Unmarshal 将完整配置反序列化到 dst。
// dst 应为结构体或 map 的指针。
func (c *Config) Unmarshal(dst interface{}) error {
	if c.v == nil {
		return nil
	}
	return c.v.Unmarshal(dst)
}

// UnmarshalKey 将指定 key 对应的子配置反序列化到 dst。
// dst 应为结构体或 map 的指针。
func (c *Config) UnmarshalKey(key string, dst interface{}) error {
	if c.v == nil {
		return nil
	}
	return c.v.UnmarshalKey(key, dst)
}
