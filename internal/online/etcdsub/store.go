package etcdsub

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.etcd.io/etcd/api/v3/mvccpb"
	v3rpc "go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-matchmaking/internal/json"
	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/log"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/merr"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/retry"
)

const (
	// DefaultSessionRoot 为会话记录在 etcd 中的目录。
	DefaultSessionRoot = "matchmaking/sessions"

	defaultTTL           = 10
	defaultRetryAttempts = 5
)

// Store 基于 etcd 的会话存储。
//
// 存储结构：
//
//	key: metaRoot + "/matchmaking/sessions/" + sessionID
//	value: JSON 序列化后的 SessionRecord
//
// 房主写入的记录绑定租约，由 keepalive 循环续期，进程异常退出后记录随租约过期。
type Store struct {
	log.Binder

	cli      *clientv3.Client
	root     string
	ttl      int64
	attempts uint

	mu     sync.Mutex
	leases map[string]*hostedLease

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type hostedLease struct {
	id     clientv3.LeaseID
	cancel context.CancelFunc
}

var _ online.SessionStore = (*Store)(nil)

// NewStore 创建 etcd 会话存储，cli 的生命周期由调用方管理。
func NewStore(cli *clientv3.Client, cfg Config) *Store {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		cli:      cli,
		root:     path.Join(cfg.MetaRoot, DefaultSessionRoot),
		ttl:      cfg.TTL,
		attempts: cfg.RetryAttempts,
		leases:   make(map[string]*hostedLease),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.SetLogger(log.With(log.FieldComponent("etcd-session-store"), zap.String("root", s.root)))
	if cfg.WatchAdvertised {
		s.wg.Add(1)
		go s.watchAdvertised()
	}
	return s
}

func (s *Store) key(sessionID string) string {
	return path.Join(s.root, sessionID)
}

func (s *Store) prefix() string {
	return s.root + "/"
}

func encodeRecord(record *online.SessionRecord) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", errors.Wrap(err, "marshal session record")
	}
	return string(data), nil
}

func decodeRecord(data []byte) (*online.SessionRecord, error) {
	record := &online.SessionRecord{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, errors.Wrap(err, "unmarshal session record")
	}
	return record, nil
}

// Put 以 Version == 0 为条件写入记录，记录绑定新租约并启动保活。
func (s *Store) Put(ctx context.Context, record *online.SessionRecord) error {
	key := s.key(record.SessionID)
	value, err := encodeRecord(record)
	if err != nil {
		return err
	}

	lease, err := s.cli.Grant(ctx, s.ttl)
	if err != nil {
		return merr.WrapErrIoFailed(key, err)
	}
	txnResp, err := s.cli.Txn(ctx).If(
		clientv3.Compare(
			clientv3.Version(key),
			"=",
			0)).
		Then(clientv3.OpPut(key, value, clientv3.WithLease(lease.ID))).Commit()
	if err != nil || !txnResp.Succeeded {
		s.revoke(lease.ID)
		if err != nil {
			return merr.WrapErrIoFailed(key, err)
		}
		return merr.WrapErrSessionExists(record.SessionID)
	}

	s.Logger().Info("session registered", zap.String("key", key), zap.Int64("leaseID", int64(lease.ID)))
	s.startKeepAlive(record.SessionID, lease.ID)
	return nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*online.SessionRecord, error) {
	key := s.key(sessionID)
	resp, err := s.cli.Get(ctx, key)
	if err != nil {
		return nil, merr.WrapErrIoFailed(key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, merr.WrapErrSessionNotFound(sessionID)
	}
	return decodeRecord(resp.Kvs[0].Value)
}

// Update 读取记录、应用 fn，再以 ModRevision 未变为条件写回，冲突时重试。
// 写回时沿用原记录的租约。
func (s *Store) Update(ctx context.Context, sessionID string, fn func(record *online.SessionRecord) error) (*online.SessionRecord, error) {
	key := s.key(sessionID)
	var updated *online.SessionRecord

	err := retry.Do(ctx, func() error {
		resp, err := s.cli.Get(ctx, key)
		if err != nil {
			return merr.WrapErrIoFailed(key, err)
		}
		if len(resp.Kvs) == 0 {
			return merr.WrapErrSessionNotFound(sessionID)
		}
		kv := resp.Kvs[0]
		record, err := decodeRecord(kv.Value)
		if err != nil {
			return err
		}
		if err := fn(record); err != nil {
			return err
		}
		value, err := encodeRecord(record)
		if err != nil {
			return err
		}

		txnResp, err := s.cli.Txn(ctx).If(
			clientv3.Compare(
				clientv3.ModRevision(key),
				"=",
				kv.ModRevision)).
			Then(clientv3.OpPut(key, value, clientv3.WithLease(clientv3.LeaseID(kv.Lease)))).Commit()
		if err != nil {
			return merr.WrapErrIoFailed(key, err)
		}
		if !txnResp.Succeeded {
			return merr.WrapErrSessionConflict(sessionID)
		}
		updated = record
		return nil
	}, retry.Attempts(s.attempts), retry.Sleep(10*time.Millisecond), retry.MaxSleepTime(200*time.Millisecond),
		retry.RetryErr(merr.IsRetryableErr))
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete 删除记录。本进程持有租约时同时停止保活并撤销租约。
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	key := s.key(sessionID)
	hosted := s.stopKeepAlive(sessionID)

	resp, err := s.cli.Delete(ctx, key)
	if hosted != nil {
		s.revoke(hosted.id)
	}
	if err != nil {
		return merr.WrapErrIoFailed(key, err)
	}
	if resp.Deleted == 0 && hosted == nil {
		return merr.WrapErrSessionNotFound(sessionID)
	}
	return nil
}

// List 按 key 顺序返回所有会话记录，无法解析的记录会被跳过。
func (s *Store) List(ctx context.Context) ([]*online.SessionRecord, error) {
	records, _, err := s.list(ctx)
	return records, err
}

func (s *Store) list(ctx context.Context) ([]*online.SessionRecord, int64, error) {
	resp, err := s.cli.Get(ctx, s.prefix(), clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, 0, merr.WrapErrIoFailed(s.prefix(), err)
	}
	records := make([]*online.SessionRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		record, err := decodeRecord(kv.Value)
		if err != nil {
			s.Logger().Warn("skip malformed session record", zap.String("key", string(kv.Key)), zap.Error(err))
			continue
		}
		records = append(records, record)
	}
	return records, resp.Header.Revision, nil
}

// Close 停止所有保活并撤销租约。
func (s *Store) Close() error {
	s.mu.Lock()
	leases := s.leases
	s.leases = make(map[string]*hostedLease)
	s.mu.Unlock()

	for _, l := range leases {
		l.cancel()
		s.revoke(l.id)
	}
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Store) revoke(id clientv3.LeaseID) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := s.cli.Revoke(ctx, id); err != nil && !errors.Is(err, v3rpc.ErrLeaseNotFound) {
		s.Logger().Warn("failed to revoke lease", zap.Int64("leaseID", int64(id)), zap.Error(err))
	}
}

func (s *Store) startKeepAlive(sessionID string, id clientv3.LeaseID) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.leases[sessionID] = &hostedLease{id: id, cancel: cancel}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.keepAlive(ctx, sessionID, id)
	}()
}

func (s *Store) stopKeepAlive(sessionID string) *hostedLease {
	s.mu.Lock()
	l, ok := s.leases[sessionID]
	delete(s.leases, sessionID)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	l.cancel()
	return l
}

// keepAlive 持续为租约续期，KeepAlive 通道断开后按指数退避重建。
// 租约已不存在时说明会话已过期，直接退出。
func (s *Store) keepAlive(ctx context.Context, sessionID string, id clientv3.LeaseID) {
	logger := s.Logger().With(zap.String("session", sessionID), zap.Int64("leaseID", int64(id)))

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = time.Duration(s.ttl) * time.Second / 2
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for {
		if ctx.Err() != nil {
			return
		}
		if lastErr != nil {
			next := bo.NextBackOff()
			logger.Warn("failed to keep alive, wait for retry", zap.Error(lastErr), zap.Duration("nextBackoffInterval", next))
			select {
			case <-time.After(next):
			case <-ctx.Done():
				return
			}
		}

		ttlResp, err := s.cli.TimeToLive(ctx, id)
		if err != nil {
			if errors.Is(err, v3rpc.ErrLeaseNotFound) {
				logger.Error("lease not found, session expired")
				return
			}
			lastErr = errors.Wrap(err, "failed to check TTL")
			continue
		}
		if ttlResp.TTL <= 0 {
			logger.Error("lease expired, session expired")
			return
		}

		ch, err := s.cli.KeepAlive(ctx, id)
		if err != nil {
			lastErr = errors.Wrap(err, "failed to keep alive")
			continue
		}
		logger.Debug("keep alive started")
		for range ch {
		}

		lastErr = errors.New("keep alive channel closed")
		bo.Reset()
	}
}

// watchAdvertised 监听会话目录，维护公开会话数量指标。
func (s *Store) watchAdvertised() {
	defer s.wg.Done()
	gauge := metrics.AdvertisedSessions.WithLabelValues(SubsystemName)

	for s.ctx.Err() == nil {
		records, revision, err := s.list(s.ctx)
		if err != nil {
			s.Logger().Warn("list sessions before watch failed", zap.Error(err))
			select {
			case <-time.After(time.Second):
				continue
			case <-s.ctx.Done():
				return
			}
		}
		count := len(records)
		gauge.Set(float64(count))

		rch := s.cli.Watch(s.ctx, s.prefix(), clientv3.WithPrefix(), clientv3.WithRev(revision+1))
		for wresp := range rch {
			if err := wresp.Err(); err != nil {
				if errors.Is(err, v3rpc.ErrCompacted) {
					s.Logger().Info("session watch compacted, rewatch")
				} else {
					s.Logger().Warn("session watch failed", zap.Error(err))
				}
				break
			}
			for _, ev := range wresp.Events {
				switch ev.Type {
				case mvccpb.PUT:
					if ev.IsCreate() {
						count++
					}
				case mvccpb.DELETE:
					count--
				}
			}
			gauge.Set(float64(count))
		}
	}
}
