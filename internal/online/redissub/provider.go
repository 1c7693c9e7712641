// Package redissub 实现基于 Redis 的在线 Provider。
package redissub

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/merr"
)

// SubsystemName 为 Redis Provider 的子系统名。
const SubsystemName = "REDIS"

const defaultAddr = "localhost:6379"

// Provider 为 Redis 子系统的 Provider。
type Provider struct {
	*online.StoreProvider

	client    redis.UniversalClient
	ownsClient bool
}

// NewProvider 使用已有的 Redis 客户端创建 Provider。
func NewProvider(client redis.UniversalClient, cfg Config, base online.ProviderConfig, dispatcher online.Dispatcher) (*Provider, error) {
	base.Subsystem = SubsystemName
	sp, err := online.NewStoreProvider(base, NewStore(client, cfg), dispatcher)
	if err != nil {
		return nil, err
	}
	return &Provider{StoreProvider: sp, client: client}, nil
}

// NewClient 按配置创建 Redis 客户端并检查连通性。
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = defaultAddr
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, merr.WrapErrServiceUnavailable("redis ping failed", err.Error())
	}
	return client, nil
}

// Connect 创建 Redis 客户端并基于它创建 Provider。
func Connect(ctx context.Context, cfg Config, base online.ProviderConfig, dispatcher online.Dispatcher) (*Provider, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p, err := NewProvider(client, cfg, base, dispatcher)
	if err != nil {
		client.Close()
		return nil, err
	}
	p.ownsClient = true
	return p, nil
}

// Close 关闭 Provider，由 Connect 创建的客户端一并关闭。
func (p *Provider) Close(ctx context.Context) error {
	err := p.StoreProvider.Close(ctx)
	if p.ownsClient {
		return merr.Combine(err, p.client.Close())
	}
	return err
}
