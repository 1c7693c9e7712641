package etcd

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
	"go.etcd.io/etcd/server/v3/etcdserver/api/v3client"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/log"
)

const embedReadyTimeout = 30 * time.Second

// 嵌入式 etcd 服务单例。
var (
	initOnce   sync.Once
	closeOnce  sync.Once
	etcdServer *embed.Etcd
)

// EmbedConfig 描述嵌入式 etcd 的启动参数。
type EmbedConfig struct {
	// ConfigPath 为 etcd 原生配置文件路径，留空使用默认配置。
	ConfigPath string `mapstructure:"config"`
	// DataDir 为数据目录。
	DataDir string `mapstructure:"dir"`
	// LogPath 为 etcd 自身日志输出，默认 stderr。
	LogPath string `mapstructure:"logPath"`
	// LogLevel 为 etcd 自身日志级别，默认 warn。
	LogLevel string `mapstructure:"logLevel"`
}

// GetEmbedEtcdClient 返回嵌入式 etcd 服务对应的 v3 客户端。
func GetEmbedEtcdClient() (*clientv3.Client, error) {
	if etcdServer == nil {
		return nil, errors.New("embedded etcd server not started")
	}
	return v3client.New(etcdServer.Server), nil
}

// InitEtcdServer 初始化嵌入式 etcd 单例服务，并等待其可以对外提供服务。
func InitEtcdServer(cfg EmbedConfig) error {
	var initError error
	initOnce.Do(func() {
		var ecfg *embed.Config
		if len(cfg.ConfigPath) > 0 {
			cfgFromFile, err := embed.ConfigFromFile(cfg.ConfigPath)
			if err != nil {
				initError = errors.Wrapf(err, "load embed etcd config %s", cfg.ConfigPath)
				return
			}
			ecfg = cfgFromFile
		} else {
			ecfg = embed.NewConfig()
		}
		if cfg.DataDir != "" {
			ecfg.Dir = cfg.DataDir
		}
		if cfg.LogPath != "" {
			ecfg.LogOutputs = []string{cfg.LogPath}
		} else {
			ecfg.LogOutputs = []string{"stderr"}
		}
		ecfg.LogLevel = "warn"
		if cfg.LogLevel != "" {
			ecfg.LogLevel = cfg.LogLevel
		}

		e, err := embed.StartEtcd(ecfg)
		if err != nil {
			log.Error("failed to init embedded Etcd server", zap.Error(err))
			initError = err
			return
		}
		select {
		case <-e.Server.ReadyNotify():
		case <-time.After(embedReadyTimeout):
			e.Server.Stop()
			e.Close()
			initError = errors.Newf("embedded etcd not ready after %s", embedReadyTimeout)
			return
		}
		etcdServer = e
		log.Info("embedded Etcd server started",
			zap.String("config", cfg.ConfigPath),
			zap.String("data", ecfg.Dir))
	})
	return initError
}

func HasServer() bool {
	return etcdServer != nil
}

// StopEtcdServer 关闭嵌入式 etcd 单例服务。
func StopEtcdServer() {
	if etcdServer != nil {
		closeOnce.Do(func() {
			etcdServer.Close()
		})
	}
}
