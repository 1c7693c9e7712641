package etcd

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/log"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/retry"
)

const defaultDialTimeout = 5 * time.Second

// GetRemoteEtcdClient 根据 endpoints 创建远程 etcd 客户端。
func GetRemoteEtcdClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("etcd endpoints is empty")
	}
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      log.L().Named("etcd-client"),
	})
}

// HealthCheck 通过读取一个任意 key 检查 etcd 是否可用，失败时按 retry 默认策略重试。
func HealthCheck(ctx context.Context, cli *clientv3.Client, attempts uint) error {
	return retry.Do(ctx, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
		_, err := cli.Get(reqCtx, "health", clientv3.WithCountOnly())
		if err != nil {
			log.Ctx(ctx).Warn("etcd health check failed", zap.Strings("endpoints", cli.Endpoints()), zap.Error(err))
		}
		return err
	}, retry.Attempts(attempts), retry.Sleep(100*time.Millisecond))
}
