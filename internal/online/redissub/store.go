package redissub

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-matchmaking/internal/json"
	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/log"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/merr"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/retry"
)

const scanBatch = 100

// Store 基于 Redis 的会话存储。
//
// 每个会话对应一个带过期时间的 key：prefix + "session:" + sessionID，
// 房主进程周期性刷新过期时间，进程退出后记录自然过期。
type Store struct {
	log.Binder

	client   redis.UniversalClient
	prefix   string
	ttl      time.Duration
	attempts uint

	mu        sync.Mutex
	refreshes map[string]context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ online.SessionStore = (*Store)(nil)

// NewStore 创建 Redis 会话存储，client 的生命周期由调用方管理。
func NewStore(client redis.UniversalClient, cfg Config) *Store {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		client:    client,
		prefix:    cfg.KeyPrefix,
		ttl:       cfg.TTL,
		attempts:  cfg.RetryAttempts,
		refreshes: make(map[string]context.CancelFunc),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.SetLogger(log.With(log.FieldComponent("redis-session-store"), zap.String("prefix", s.prefix)))
	return s
}

func (s *Store) key(sessionID string) string {
	return s.prefix + "session:" + sessionID
}

func (s *Store) pattern() string {
	return s.prefix + "session:*"
}

func encodeRecord(record *online.SessionRecord) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, errors.Wrap(err, "marshal session record")
	}
	return data, nil
}

func decodeRecord(data []byte) (*online.SessionRecord, error) {
	record := &online.SessionRecord{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, errors.Wrap(err, "unmarshal session record")
	}
	return record, nil
}

// Put 使用 SET NX 写入记录，成功后启动过期时间刷新。
func (s *Store) Put(ctx context.Context, record *online.SessionRecord) error {
	key := s.key(record.SessionID)
	data, err := encodeRecord(record)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, key, data, s.ttl).Result()
	if err != nil {
		return merr.WrapErrIoFailed(key, err)
	}
	if !ok {
		return merr.WrapErrSessionExists(record.SessionID)
	}
	s.Logger().Info("session registered", zap.String("key", key), zap.Duration("ttl", s.ttl))
	s.startRefresh(record.SessionID)
	return nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*online.SessionRecord, error) {
	key := s.key(sessionID)
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, merr.WrapErrSessionNotFound(sessionID)
	}
	if err != nil {
		return nil, merr.WrapErrIoFailed(key, err)
	}
	return decodeRecord(data)
}

// Update 使用 WATCH + MULTI 做乐观更新，写回时保留原有的过期时间。
func (s *Store) Update(ctx context.Context, sessionID string, fn func(record *online.SessionRecord) error) (*online.SessionRecord, error) {
	key := s.key(sessionID)
	var updated *online.SessionRecord

	err := retry.Do(ctx, func() error {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return merr.WrapErrSessionNotFound(sessionID)
			}
			if err != nil {
				return merr.WrapErrIoFailed(key, err)
			}
			record, err := decodeRecord(data)
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
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, value, redis.KeepTTL)
				return nil
			})
			if err != nil {
				return err
			}
			updated = record
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			return merr.WrapErrSessionConflict(sessionID)
		}
		return err
	}, retry.Attempts(s.attempts), retry.Sleep(10*time.Millisecond), retry.MaxSleepTime(200*time.Millisecond),
		retry.RetryErr(merr.IsRetryableErr))
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete 删除记录并停止刷新。
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	key := s.key(sessionID)
	hosted := s.stopRefresh(sessionID)
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return merr.WrapErrIoFailed(key, err)
	}
	if n == 0 && !hosted {
		return merr.WrapErrSessionNotFound(sessionID)
	}
	return nil
}

// List 通过 SCAN 遍历会话 key，再用 MGET 批量读取。
func (s *Store) List(ctx context.Context) ([]*online.SessionRecord, error) {
	var (
		cursor  uint64
		records []*online.SessionRecord
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.pattern(), scanBatch).Result()
		if err != nil {
			return nil, merr.WrapErrIoFailed(s.pattern(), err)
		}
		if len(keys) > 0 {
			values, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, merr.WrapErrIoFailed(s.pattern(), err)
			}
			for i, v := range values {
				str, ok := v.(string)
				if !ok {
					// 在 SCAN 与 MGET 之间过期
					continue
				}
				record, err := decodeRecord([]byte(str))
				if err != nil {
					s.Logger().Warn("skip malformed session record", zap.String("key", keys[i]), zap.Error(err))
					continue
				}
				records = append(records, record)
			}
		}
		cursor = next
		if cursor == 0 {
			return records, nil
		}
	}
}

// Close 停止所有刷新。
func (s *Store) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Store) startRefresh(sessionID string) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.refreshes[sessionID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.refresh(ctx, sessionID)
	}()
}

func (s *Store) stopRefresh(sessionID string) bool {
	s.mu.Lock()
	cancel, ok := s.refreshes[sessionID]
	delete(s.refreshes, sessionID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// refresh 每隔 ttl/3 刷新一次过期时间，失败时按指数退避重试。
// key 已不存在时说明会话已过期，直接退出。
func (s *Store) refresh(ctx context.Context, sessionID string) {
	key := s.key(sessionID)
	logger := s.Logger().With(zap.String("session", sessionID))
	interval := s.ttl / 3

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = interval
	bo.MaxElapsedTime = 0
	bo.Reset()

	wait := interval
	for {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}

		ok, err := s.client.Expire(ctx, key, s.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait = bo.NextBackOff()
			logger.Warn("failed to refresh session ttl, wait for retry", zap.Error(err), zap.Duration("nextBackoffInterval", wait))
			continue
		}
		if !ok {
			logger.Error("session key not found, session expired")
			return
		}
		bo.Reset()
		wait = interval
	}
}
