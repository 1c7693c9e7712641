package online

import (
	"context"
	"time"

	"github.com/blang/semver/v4"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/log"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/conc"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/merr"
)

// SessionStore 为会话记录的存储后端。
//
// 约定：
//   - Put 在记录已存在时返回 ErrSessionExists，写入成功后由存储负责保活，直到 Delete；
//   - Get/Update 在记录不存在时返回 ErrSessionNotFound；
//   - Update 中 fn 返回错误时不得写入，冲突重试由存储自己处理；
//   - List 返回所有未过期的记录，顺序不限。
type SessionStore interface {
	Put(ctx context.Context, record *SessionRecord) error
	Get(ctx context.Context, sessionID string) (*SessionRecord, error)
	Update(ctx context.Context, sessionID string, fn func(record *SessionRecord) error) (*SessionRecord, error)
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]*SessionRecord, error)
	Close() error
}

// ProviderConfig 为基于 SessionStore 的 Provider 配置。
type ProviderConfig struct {
	// Subsystem 为子系统名，"NULL" 表示局域网。
	Subsystem string
	// HostAddress 为本机作为房主时对外公布的连接地址。
	HostAddress string
	OwnerName   string
	// BuildVersion 为本机构建版本，搜索时只返回主版本号相同的会话。
	BuildVersion string
	// BuildVersionRange 显式指定可接受的版本范围，优先于 BuildVersion。
	BuildVersionRange string
	// Latency 为每个请求额外的模拟延迟。
	Latency        time.Duration
	PingMs         int32
	RequestTimeout time.Duration
	PoolSize       int
}

const (
	defaultRequestTimeout = 10 * time.Second
	defaultPoolSize       = 16
)

// StoreProvider 基于 SessionStore 实现 Provider。
// 所有存储访问都在协程池中执行，完成回调通过 Dispatcher 投递。
type StoreProvider struct {
	*Delegates

	cfg          ProviderConfig
	store        SessionStore
	local        *LocalSessions
	pool         *conc.Pool[any]
	versionRange semver.Range

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

var _ Provider = (*StoreProvider)(nil)

func NewStoreProvider(cfg ProviderConfig, store SessionStore, dispatcher Dispatcher) (*StoreProvider, error) {
	if store == nil {
		return nil, merr.WrapErrParameterMissing("store")
	}
	if dispatcher == nil {
		return nil, merr.WrapErrParameterMissing("dispatcher")
	}
	versionRange, err := CompatibleRange(cfg.BuildVersion, cfg.BuildVersionRange)
	if err != nil {
		return nil, err
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &StoreProvider{
		Delegates:    NewDelegates(dispatcher),
		cfg:          cfg,
		store:        store,
		local:        NewLocalSessions(),
		pool:         conc.NewPool[any](cfg.PoolSize, conc.WithName(cfg.Subsystem), conc.WithNonBlocking(true), conc.WithConcealPanic(true)),
		versionRange: versionRange,
		ctx:          ctx,
		cancel:       cancel,
	}
	p.SetLogger(log.With(log.FieldComponent("provider"), zap.String("subsystem", cfg.Subsystem)))
	return p, nil
}

func (p *StoreProvider) SubsystemName() string {
	return p.cfg.Subsystem
}

// Store 返回底层存储。
func (p *StoreProvider) Store() SessionStore {
	return p.store
}

// submit 在协程池中执行 fn，提交失败时返回错误，此时 fn 不会被执行。
func (p *StoreProvider) submit(kind OpKind, sessionName string, fn func(ctx context.Context) error) error {
	if p.closed.Load() {
		return merr.WrapErrServiceNotReady(p.cfg.Subsystem, "closed")
	}
	started := atomic.NewBool(false)
	future := p.pool.Submit(func() (any, error) {
		started.Store(true)
		if p.cfg.Latency > 0 {
			select {
			case <-time.After(p.cfg.Latency):
			case <-p.ctx.Done():
			}
		}
		ctx, cancel := context.WithTimeout(p.ctx, p.cfg.RequestTimeout)
		defer cancel()
		ctx = log.WithFields(ctx, log.FieldOperation(kind.String()), log.FieldSession(sessionName))

		err := fn(ctx)
		if err != nil {
			log.Ctx(ctx).Warn("session request failed", zap.String("subsystem", p.cfg.Subsystem), zap.Error(err))
		}
		return nil, err
	})

	select {
	case <-future.Inner():
		if !started.Load() {
			return future.Err()
		}
	default:
	}
	return nil
}

func (p *StoreProvider) reject(kind OpKind, sessionName string, err error) bool {
	p.Logger().Info("reject session request",
		log.FieldOperation(kind.String()),
		log.FieldSession(sessionName),
		zap.Error(err))
	return false
}

func (p *StoreProvider) CreateSession(hostID UniqueNetID, sessionName string, settings *SessionSettings) bool {
	if settings == nil {
		return p.reject(OpCreate, sessionName, merr.WrapErrParameterMissing("settings"))
	}
	if !hostID.IsValid() {
		return p.reject(OpCreate, sessionName, merr.WrapErrParameterMissing("hostID"))
	}

	record := NewSessionRecord(uuid.NewString(), sessionName, hostID, p.cfg.OwnerName, p.cfg.HostAddress, settings)
	placeholder := &NamedSession{
		SessionName: sessionName,
		SessionID:   record.SessionID,
		OwnerID:     hostID,
		OwnerName:   p.cfg.OwnerName,
		PlayerID:    hostID,
		Hosting:     true,
		Settings:    record.Settings.Clone(),
		State:       SessionStateCreating,
		HostAddress: p.cfg.HostAddress,
	}
	if err := p.local.BeginCreate(OpCreate, placeholder); err != nil {
		return p.reject(OpCreate, sessionName, err)
	}

	err := p.submit(OpCreate, sessionName, func(ctx context.Context) error {
		err := p.store.Put(ctx, record)
		if err != nil {
			p.local.Remove(sessionName)
		} else {
			p.local.SetState(sessionName, SessionStatePending)
		}
		p.local.End(OpCreate, sessionName)
		p.FireCreateSessionComplete(sessionName, err == nil)
		return err
	})
	if err != nil {
		p.local.Remove(sessionName)
		p.local.End(OpCreate, sessionName)
		return p.reject(OpCreate, sessionName, err)
	}
	return true
}

// findKey 为搜索在进行中请求表里使用的名字。
const findKey = "*"

func (p *StoreProvider) FindSessions(searcherID UniqueNetID, search *SessionSearch) bool {
	if search == nil {
		return p.reject(OpFind, findKey, merr.WrapErrParameterMissing("search"))
	}
	if err := p.local.Begin(OpFind, findKey); err != nil {
		return p.reject(OpFind, findKey, err)
	}

	query := *search
	query.Results = nil
	err := p.submit(OpFind, findKey, func(ctx context.Context) error {
		records, err := p.store.List(ctx)
		var results []SearchResult
		if err == nil {
			metrics.AdvertisedSessions.WithLabelValues(p.cfg.Subsystem).Set(float64(len(records)))
			results = SelectResults(records, &query, searcherID, p.versionRange, p.cfg.PingMs)
		}
		p.local.End(OpFind, findKey)
		p.FireFindSessionsComplete(search, results, err == nil)
		return err
	})
	if err != nil {
		p.local.End(OpFind, findKey)
		return p.reject(OpFind, findKey, err)
	}
	return true
}

func (p *StoreProvider) JoinSession(playerID UniqueNetID, sessionName string, result SearchResult) bool {
	if !result.IsValid() {
		return p.reject(OpJoin, sessionName, merr.WrapErrParameterInvalidMsg("invalid search result"))
	}
	if !playerID.IsValid() {
		return p.reject(OpJoin, sessionName, merr.WrapErrParameterMissing("playerID"))
	}

	placeholder := &NamedSession{
		SessionName: sessionName,
		SessionID:   result.SessionID,
		OwnerID:     result.OwnerID,
		OwnerName:   result.OwnerName,
		PlayerID:    playerID,
		Settings:    result.Settings.Clone(),
		State:       SessionStateCreating,
	}
	if err := p.local.BeginCreate(OpJoin, placeholder); err != nil {
		if errors.Is(err, merr.ErrSessionExists) {
			err = merr.WrapErrAlreadyInSession(sessionName)
		}
		return p.reject(OpJoin, sessionName, err)
	}

	err := p.submit(OpJoin, sessionName, func(ctx context.Context) error {
		record, err := p.store.Update(ctx, result.SessionID, func(r *SessionRecord) error {
			if r.HostAddress == "" {
				return merr.WrapErrNoAddress(r.SessionID)
			}
			return r.Reserve(playerID)
		})
		if err != nil {
			p.local.Remove(sessionName)
		} else {
			_ = p.local.Update(sessionName, func(s *NamedSession) error {
				s.HostAddress = record.HostAddress
				s.Settings = record.Settings.Clone()
				s.State = record.State
				return nil
			})
		}
		p.local.End(OpJoin, sessionName)
		p.FireJoinSessionComplete(sessionName, JoinResultFromError(err))
		return err
	})
	if err != nil {
		p.local.Remove(sessionName)
		p.local.End(OpJoin, sessionName)
		return p.reject(OpJoin, sessionName, err)
	}
	return true
}

func (p *StoreProvider) StartSession(sessionName string) bool {
	prev, err := p.local.BeginExisting(OpStart, sessionName, SessionStateStarting, SessionStatePending)
	if err != nil {
		return p.reject(OpStart, sessionName, err)
	}

	err = p.submit(OpStart, sessionName, func(ctx context.Context) error {
		var err error
		if prev.Hosting {
			_, err = p.store.Update(ctx, prev.SessionID, func(r *SessionRecord) error {
				r.State = SessionStateInProgress
				return nil
			})
		}
		if err != nil {
			p.local.SetState(sessionName, prev.State)
		} else {
			p.local.SetState(sessionName, SessionStateInProgress)
		}
		p.local.End(OpStart, sessionName)
		p.FireStartSessionComplete(sessionName, err == nil)
		return err
	})
	if err != nil {
		p.local.SetState(sessionName, prev.State)
		p.local.End(OpStart, sessionName)
		return p.reject(OpStart, sessionName, err)
	}
	return true
}

func (p *StoreProvider) DestroySession(sessionName string) bool {
	prev, err := p.local.BeginExisting(OpDestroy, sessionName, SessionStateDestroying,
		SessionStatePending, SessionStateStarting, SessionStateInProgress, SessionStateEnded)
	if err != nil {
		return p.reject(OpDestroy, sessionName, err)
	}

	err = p.submit(OpDestroy, sessionName, func(ctx context.Context) error {
		err := p.leave(ctx, prev)
		if err != nil {
			p.local.SetState(sessionName, prev.State)
		} else {
			p.local.Remove(sessionName)
		}
		p.local.End(OpDestroy, sessionName)
		p.FireDestroySessionComplete(sessionName, err == nil)
		return err
	})
	if err != nil {
		p.local.SetState(sessionName, prev.State)
		p.local.End(OpDestroy, sessionName)
		return p.reject(OpDestroy, sessionName, err)
	}
	return true
}

// leave 房主删除会话记录，其他玩家释放占用的位置。
func (p *StoreProvider) leave(ctx context.Context, s *NamedSession) error {
	if s.Hosting {
		err := p.store.Delete(ctx, s.SessionID)
		if errors.Is(err, merr.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	_, err := p.store.Update(ctx, s.SessionID, func(r *SessionRecord) error {
		r.Release(s.PlayerID)
		return nil
	})
	if errors.Is(err, merr.ErrSessionNotFound) {
		return nil
	}
	return err
}

func (p *StoreProvider) NamedSession(sessionName string) (*NamedSession, bool) {
	return p.local.Get(sessionName)
}

func (p *StoreProvider) ResolvedConnectString(sessionName string) (string, bool) {
	return p.local.ConnectString(sessionName)
}

// Close 离开所有本地会话并关闭存储，之后的请求都会被同步拒绝。
func (p *StoreProvider) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	for _, name := range p.local.Names() {
		s, ok := p.local.Remove(name)
		if !ok || s.State == SessionStateCreating {
			continue
		}
		if err := p.leave(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	p.cancel()
	p.pool.Release()
	if err := p.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return merr.Combine(errs...)
}
