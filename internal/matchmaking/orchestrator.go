package matchmaking

import (
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/log"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/metrics"
)

const (
	moduleName = "matchmaking"

	noneSubsystem = "none"
)

// FindResult 为搜索完成通知的内容。
type FindResult struct {
	Results []online.SearchResult
	Success bool
}

// pendingRecreate 保存在销毁旧会话期间被推迟的创建请求。
type pendingRecreate struct {
	active bool
	params online.SessionRequestParams
}

// Orchestrator 负责单个命名会话 GameSession 的生命周期编排。
//
// Orchestrator 不是并发安全的：所有公开方法和 Provider 的完成回调
// 都必须在同一个串行执行上下文中调用（见 eventloop.Loop）。
type Orchestrator struct {
	log.Binder

	provider  online.Provider
	identity  online.UniqueNetID
	subsystem string
	opts      *options

	requests   [online.NumOpKinds]request
	pending    pendingRecreate
	lastSearch *online.SessionSearch

	onCreate  *Broadcaster[bool]
	onFind    *Broadcaster[FindResult]
	onJoin    *Broadcaster[online.JoinResult]
	onStart   *Broadcaster[bool]
	onDestroy *Broadcaster[bool]
}

// New 创建编排器。provider 为 nil 表示 Provider 不可用。
func New(provider online.Provider, identity online.UniqueNetID, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:  provider,
		identity:  identity,
		subsystem: noneSubsystem,
		opts:      defaultOptions(),
		onCreate:  NewBroadcaster[bool]("create"),
		onFind:    NewBroadcaster[FindResult]("find"),
		onJoin:    NewBroadcaster[online.JoinResult]("join"),
		onStart:   NewBroadcaster[bool]("start"),
		onDestroy: NewBroadcaster[bool]("destroy"),
	}
	for _, opt := range opts {
		opt(o.opts)
	}
	if provider != nil {
		o.subsystem = provider.SubsystemName()
	}
	return o
}

// SetLogger 同时为各通知通道设置 Logger。
func (o *Orchestrator) SetLogger(logger *log.MLogger) {
	o.Binder.SetLogger(logger)
	o.onCreate.SetLogger(logger)
	o.onFind.SetLogger(logger)
	o.onJoin.SetLogger(logger)
	o.onStart.SetLogger(logger)
	o.onDestroy.SetLogger(logger)
}

func (o *Orchestrator) OnCreateComplete() *Broadcaster[bool]            { return o.onCreate }
func (o *Orchestrator) OnFindComplete() *Broadcaster[FindResult]        { return o.onFind }
func (o *Orchestrator) OnJoinComplete() *Broadcaster[online.JoinResult] { return o.onJoin }
func (o *Orchestrator) OnStartComplete() *Broadcaster[bool]             { return o.onStart }
func (o *Orchestrator) OnDestroyComplete() *Broadcaster[bool]           { return o.onDestroy }

// Provider 返回编排器使用的 Provider，可能为 nil。
func (o *Orchestrator) Provider() online.Provider {
	return o.provider
}

// PendingRecreate 返回被推迟的创建参数。
func (o *Orchestrator) PendingRecreate() (online.SessionRequestParams, bool) {
	return o.pending.params, o.pending.active
}

// InFlight 判断 kind 类请求是否已安装完成回调且尚未完成。
func (o *Orchestrator) InFlight(kind online.OpKind) bool {
	if kind < 0 || int(kind) >= online.NumOpKinds {
		return false
	}
	return o.requests[kind].installed()
}

func (o *Orchestrator) isLAN() bool {
	return o.provider != nil && o.provider.SubsystemName() == online.NullSubsystemName
}

func (o *Orchestrator) buildSettings(params online.SessionRequestParams) *online.SessionSettings {
	settings := &online.SessionSettings{
		NumPublicConnections:  params.MaxPublicConnections,
		ShouldAdvertise:       true,
		AllowJoinInProgress:   true,
		AllowJoinViaPresence:  true,
		UsesPresence:          true,
		UseLobbiesIfAvailable: true,
		IsLANMatch:            o.isLAN(),
		BuildUniqueID:         o.opts.buildUniqueID,
		BuildVersion:          o.opts.buildVersion,
	}
	settings.Set(online.SettingMatchType, params.MatchType)
	return settings
}

func (o *Orchestrator) skip(kind online.OpKind) {
	o.Logger().Debug("online provider unavailable, skip request", log.FieldOperation(kind.String()))
	metrics.SessionRequests.WithLabelValues(o.subsystem, kind.String(), metrics.OutcomeSkipped).Inc()
}

// CreateSession 创建会话。同名会话已存在时先销毁它，销毁成功后再用相同参数重建。
// 销毁进行中时只更新待重建的参数，以最后一次请求为准。
func (o *Orchestrator) CreateSession(maxPublicConnections uint32, matchType string) {
	if o.provider == nil {
		o.skip(online.OpCreate)
		return
	}
	if o.duplicate(online.OpCreate) {
		o.onCreate.Broadcast(false)
		return
	}
	params := online.SessionRequestParams{
		MaxPublicConnections: maxPublicConnections,
		MatchType:            matchType,
	}

	if o.InFlight(online.OpDestroy) {
		o.pending = pendingRecreate{active: true, params: params}
		o.Logger().Info("destroy in flight, defer session creation",
			zap.Uint32("maxPublicConnections", maxPublicConnections),
			zap.String("matchType", matchType))
		return
	}
	if _, ok := o.provider.NamedSession(online.GameSessionName); ok {
		o.pending = pendingRecreate{active: true, params: params}
		o.Logger().Info("session exists, destroy it before recreating",
			log.FieldSession(online.GameSessionName),
			zap.Uint32("maxPublicConnections", maxPublicConnections),
			zap.String("matchType", matchType))
		o.DestroySession()
		return
	}

	o.install(online.OpCreate)
	settings := o.buildSettings(params)
	accepted := o.provider.CreateSession(o.identity, online.GameSessionName, settings)
	o.recordRequest(online.OpCreate, accepted)
	if !accepted {
		o.clear(online.OpCreate)
		o.onCreate.Broadcast(false)
	}
}

// FindSessions 搜索可加入的会话，搜索结果为空视为失败。
func (o *Orchestrator) FindSessions(maxSearchResults uint32) {
	if o.provider == nil {
		o.skip(online.OpFind)
		return
	}

	if o.duplicate(online.OpFind) {
		o.onFind.Broadcast(FindResult{})
		return
	}
	o.install(online.OpFind)
	o.lastSearch = &online.SessionSearch{
		MaxSearchResults: maxSearchResults,
		IsLANQuery:       o.isLAN(),
		PresenceOnly:     true,
		BuildUniqueID:    o.opts.buildUniqueID,
	}
	accepted := o.provider.FindSessions(o.identity, o.lastSearch)
	o.recordRequest(online.OpFind, accepted)
	if !accepted {
		o.clear(online.OpFind)
		o.lastSearch = nil
		o.onFind.Broadcast(FindResult{})
	}
}

// JoinSession 加入搜索结果对应的会话，结果码原样通知调用方。
func (o *Orchestrator) JoinSession(result online.SearchResult) {
	if o.provider == nil {
		o.skip(online.OpJoin)
		o.onJoin.Broadcast(online.JoinUnknownError)
		return
	}

	if o.duplicate(online.OpJoin) {
		o.onJoin.Broadcast(online.JoinUnknownError)
		return
	}
	o.install(online.OpJoin)
	accepted := o.provider.JoinSession(o.identity, online.GameSessionName, result)
	o.recordRequest(online.OpJoin, accepted)
	if !accepted {
		o.clear(online.OpJoin)
		o.onJoin.Broadcast(online.JoinUnknownError)
	}
}

// StartSession 开始会话。
func (o *Orchestrator) StartSession() {
	if o.provider == nil {
		o.skip(online.OpStart)
		return
	}

	if o.duplicate(online.OpStart) {
		o.onStart.Broadcast(false)
		return
	}
	o.install(online.OpStart)
	accepted := o.provider.StartSession(online.GameSessionName)
	o.recordRequest(online.OpStart, accepted)
	if !accepted {
		o.clear(online.OpStart)
		o.onStart.Broadcast(false)
	}
}

// DestroySession 销毁会话。
func (o *Orchestrator) DestroySession() {
	if o.provider == nil {
		o.skip(online.OpDestroy)
		o.onDestroy.Broadcast(false)
		return
	}

	if o.duplicate(online.OpDestroy) {
		o.onDestroy.Broadcast(false)
		return
	}
	o.install(online.OpDestroy)
	accepted := o.provider.DestroySession(online.GameSessionName)
	o.recordRequest(online.OpDestroy, accepted)
	if !accepted {
		o.clear(online.OpDestroy)
		o.dropPending("destroy rejected")
		o.onDestroy.Broadcast(false)
	}
}

func (o *Orchestrator) dropPending(reason string) {
	if !o.pending.active {
		return
	}
	o.Logger().Warn("drop deferred session creation",
		zap.String("reason", reason),
		zap.Uint32("maxPublicConnections", o.pending.params.MaxPublicConnections),
		zap.String("matchType", o.pending.params.MatchType))
	o.pending = pendingRecreate{}
}

func (o *Orchestrator) onCreateSessionComplete(sessionName string, ok bool) {
	log.Ctx(o.requestCtx(online.OpCreate)).Info("create session complete", zap.Bool("success", ok))
	o.clear(online.OpCreate)
	o.recordCompletion(online.OpCreate, ok)
	o.onCreate.Broadcast(ok)
}

func (o *Orchestrator) onFindSessionsComplete(ok bool) {
	o.clear(online.OpFind)
	search := o.lastSearch
	o.lastSearch = nil

	if search == nil || len(search.Results) == 0 {
		o.Logger().Debug("find sessions complete without results", zap.Bool("reported", ok))
		o.recordCompletion(online.OpFind, false)
		o.onFind.Broadcast(FindResult{})
		return
	}
	o.recordCompletion(online.OpFind, ok)
	o.onFind.Broadcast(FindResult{Results: search.Results, Success: ok})
}

func (o *Orchestrator) onJoinSessionComplete(sessionName string, result online.JoinResult) {
	log.Ctx(o.requestCtx(online.OpJoin)).Info("join session complete", zap.Stringer("result", result))
	o.clear(online.OpJoin)
	o.recordCompletion(online.OpJoin, result == online.JoinSuccess)
	o.onJoin.Broadcast(result)
}

func (o *Orchestrator) onStartSessionComplete(sessionName string, ok bool) {
	o.clear(online.OpStart)
	o.recordCompletion(online.OpStart, ok)
	o.onStart.Broadcast(ok)
}

func (o *Orchestrator) onDestroySessionComplete(sessionName string, ok bool) {
	log.Ctx(o.requestCtx(online.OpDestroy)).Info("destroy session complete", zap.Bool("success", ok))
	o.clear(online.OpDestroy)
	o.recordCompletion(online.OpDestroy, ok)

	if ok && o.pending.active {
		params := o.pending.params
		o.pending = pendingRecreate{}
		metrics.DeferredRecreates.Inc()
		o.CreateSession(params.MaxPublicConnections, params.MatchType)
	} else if !ok {
		o.dropPending("destroy failed")
	}
	o.onDestroy.Broadcast(ok)
}
