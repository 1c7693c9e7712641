// Package nullsub 实现离线/局域网的 "NULL" Provider，会话只在进程内可见。
package nullsub

import (
	"time"

	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online"
)

// Config 为 NULL Provider 的配置。
type Config struct {
	HostAddress  string        `mapstructure:"hostAddress"`
	OwnerName    string        `mapstructure:"ownerName"`
	BuildVersion string        `mapstructure:"buildVersion"`
	Latency      time.Duration `mapstructure:"latency"`
	PoolSize     int           `mapstructure:"poolSize"`
}

// Provider 为 NULL 子系统的 Provider。
type Provider struct {
	*online.StoreProvider

	registry *Registry
}

// NewProvider 创建 NULL Provider，registry 为 nil 时使用进程级共享的会话表。
func NewProvider(cfg Config, registry *Registry, dispatcher online.Dispatcher) (*Provider, error) {
	if registry == nil {
		registry = DefaultRegistry()
	}
	sp, err := online.NewStoreProvider(online.ProviderConfig{
		Subsystem:    online.NullSubsystemName,
		HostAddress:  cfg.HostAddress,
		OwnerName:    cfg.OwnerName,
		BuildVersion: cfg.BuildVersion,
		Latency:      cfg.Latency,
		PoolSize:     cfg.PoolSize,
	}, registry, dispatcher)
	if err != nil {
		return nil, err
	}
	return &Provider{
		StoreProvider: sp,
		registry:      registry,
	}, nil
}

// Registry 返回 Provider 使用的会话表。
func (p *Provider) Registry() *Registry {
	return p.registry
}
