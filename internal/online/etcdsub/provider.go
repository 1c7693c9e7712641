// Package etcdsub 实现基于 etcd 的在线 Provider。
package etcdsub

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/etcd"
)

// SubsystemName 为 etcd Provider 的子系统名。
const SubsystemName = "ETCD"

// Provider 为 etcd 子系统的 Provider。
type Provider struct {
	*online.StoreProvider

	cli     *clientv3.Client
	ownsCli bool
}

// NewProvider 使用已有的 etcd 客户端创建 Provider。
func NewProvider(cli *clientv3.Client, cfg Config, base online.ProviderConfig, dispatcher online.Dispatcher) (*Provider, error) {
	base.Subsystem = SubsystemName
	sp, err := online.NewStoreProvider(base, NewStore(cli, cfg), dispatcher)
	if err != nil {
		return nil, err
	}
	return &Provider{StoreProvider: sp, cli: cli}, nil
}

// Connect 按配置连接 etcd（嵌入式或远程），检查可用后创建 Provider。
func Connect(ctx context.Context, cfg Config, base online.ProviderConfig, dispatcher online.Dispatcher) (*Provider, error) {
	var (
		cli *clientv3.Client
		err error
	)
	if cfg.Embed.Enable {
		if err = etcd.InitEtcdServer(cfg.Embed.EmbedConfig); err != nil {
			return nil, err
		}
		cli, err = etcd.GetEmbedEtcdClient()
	} else {
		cli, err = etcd.GetRemoteEtcdClient(cfg.Endpoints, cfg.DialTimeout)
	}
	if err != nil {
		return nil, err
	}
	if err := etcd.HealthCheck(ctx, cli, 3); err != nil {
		cli.Close()
		return nil, err
	}

	p, err := NewProvider(cli, cfg, base, dispatcher)
	if err != nil {
		cli.Close()
		return nil, err
	}
	p.ownsCli = true
	return p, nil
}

// Close 关闭 Provider，由 Connect 创建的客户端一并关闭。
func (p *Provider) Close(ctx context.Context) error {
	err := p.StoreProvider.Close(ctx)
	if p.ownsCli {
		p.cli.Close()
	}
	return err
}
