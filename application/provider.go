package application

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online"
	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online/etcdsub"
	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online/nullsub"
	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online/redissub"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/log"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/merr"
)

// closableProvider is a provider that owns background resources.
type closableProvider interface {
	online.Provider
	Close(ctx context.Context) error
}

// newProvider builds the provider named by provider.kind.
// It returns nil for "none", which leaves the orchestrator without a provider.
func newProvider(ctx context.Context, s *Settings, dispatcher online.Dispatcher, logger *log.MLogger) (closableProvider, error) {
	ps := s.Provider
	base := online.ProviderConfig{
		HostAddress:       ps.HostAddress,
		OwnerName:         ps.OwnerName,
		BuildVersion:      ps.BuildVersion,
		BuildVersionRange: ps.BuildVersionRange,
		Latency:           ps.Latency,
		PingMs:            ps.PingMs,
		RequestTimeout:    ps.RequestTimeout,
		PoolSize:          s.Pool.Size,
	}

	var (
		provider closableProvider
		err      error
	)
	switch kind := strings.ToLower(strings.TrimSpace(ps.Kind)); kind {
	case ProviderNone:
		return nil, nil
	case ProviderNull, "":
		var p *nullsub.Provider
		p, err = nullsub.NewProvider(nullsub.Config{
			HostAddress:  ps.HostAddress,
			OwnerName:    ps.OwnerName,
			BuildVersion: ps.BuildVersion,
			Latency:      ps.Latency,
			PoolSize:     s.Pool.Size,
		}, nil, dispatcher)
		if err == nil {
			provider = p
		}
	case ProviderEtcd:
		var p *etcdsub.Provider
		p, err = etcdsub.Connect(ctx, ps.Etcd, base, dispatcher)
		if err == nil {
			provider = p
		}
	case ProviderRedis:
		var p *redissub.Provider
		p, err = redissub.Connect(ctx, ps.Redis, base, dispatcher)
		if err == nil {
			provider = p
		}
	default:
		return nil, merr.WrapErrProviderUnknown(kind)
	}
	if err != nil {
		return nil, err
	}
	if b, ok := provider.(log.LoggerBinder); ok && logger != nil {
		b.SetLogger(logger.With(zap.String("subsystem", provider.SubsystemName())))
	}
	return provider, nil
}
