// Package onlinetest 提供可编排的 online.Provider 假实现，供测试使用。
package onlinetest

import (
	"sync"

	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online"
)

var _ online.Provider = (*Provider)(nil)

// Call 记录一次对 Provider 的请求。
type Call struct {
	Op          online.OpKind
	PlayerID    online.UniqueNetID
	SessionName string
	Settings    *online.SessionSettings
	Search      *online.SessionSearch
	Result      online.SearchResult
}

// Provider 记录所有请求与回调的安装情况，完成回调由测试手动触发。
type Provider struct {
	*online.Delegates

	mu        sync.Mutex
	subsystem string
	reject    [online.NumOpKinds]bool
	calls     []Call
	installs  [online.NumOpKinds]int
	clears    [online.NumOpKinds]int
	peak      [online.NumOpKinds]int
	sessions  map[string]*online.NamedSession
	search    *online.SessionSearch
}

// NewProvider 创建假 Provider。dispatcher 为 nil 时回调在调用方 goroutine 上直接执行。
func NewProvider(subsystem string, dispatcher online.Dispatcher) *Provider {
	if dispatcher == nil {
		dispatcher = online.ImmediateDispatcher{}
	}
	return &Provider{
		Delegates: online.NewDelegates(dispatcher),
		subsystem: subsystem,
		sessions:  make(map[string]*online.NamedSession),
	}
}

// Reject 设置某类请求是否同步拒绝。
func (p *Provider) Reject(kind online.OpKind, reject bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reject[kind] = reject
}

// SetNamedSession 预置一个本地命名会话。
func (p *Provider) SetNamedSession(session *online.NamedSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[session.SessionName] = session
}

func (p *Provider) RemoveNamedSession(sessionName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sessionName)
}

// Calls 返回 kind 类请求的调用记录。
func (p *Provider) Calls(kind online.OpKind) []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	var calls []Call
	for _, c := range p.calls {
		if c.Op == kind {
			calls = append(calls, c)
		}
	}
	return calls
}

// Ops 按顺序返回所有请求的类型。
func (p *Provider) Ops() []online.OpKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	ops := make([]online.OpKind, 0, len(p.calls))
	for _, c := range p.calls {
		ops = append(ops, c.Op)
	}
	return ops
}

// Installs 返回 kind 类回调累计安装次数。
func (p *Provider) Installs(kind online.OpKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.installs[kind]
}

// Clears 返回 kind 类回调累计清除次数。
func (p *Provider) Clears(kind online.OpKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clears[kind]
}

// PeakInstalled 返回 kind 类回调同时安装数量的峰值。
func (p *Provider) PeakInstalled(kind online.OpKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak[kind]
}

func (p *Provider) record(call Call) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	return !p.reject[call.Op]
}

func (p *Provider) onAdd(kind online.OpKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.installs[kind]++
	if n := p.Delegates.Installed(kind); n > p.peak[kind] {
		p.peak[kind] = n
	}
}

func (p *Provider) onClear(kind online.OpKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clears[kind]++
}

func (p *Provider) SubsystemName() string {
	return p.subsystem
}

func (p *Provider) CreateSession(hostID online.UniqueNetID, sessionName string, settings *online.SessionSettings) bool {
	return p.record(Call{Op: online.OpCreate, PlayerID: hostID, SessionName: sessionName, Settings: settings})
}

func (p *Provider) FindSessions(searcherID online.UniqueNetID, search *online.SessionSearch) bool {
	accepted := p.record(Call{Op: online.OpFind, PlayerID: searcherID, Search: search})
	if accepted {
		p.mu.Lock()
		p.search = search
		p.mu.Unlock()
	}
	return accepted
}

func (p *Provider) JoinSession(playerID online.UniqueNetID, sessionName string, result online.SearchResult) bool {
	return p.record(Call{Op: online.OpJoin, PlayerID: playerID, SessionName: sessionName, Result: result})
}

func (p *Provider) StartSession(sessionName string) bool {
	return p.record(Call{Op: online.OpStart, SessionName: sessionName})
}

func (p *Provider) DestroySession(sessionName string) bool {
	return p.record(Call{Op: online.OpDestroy, SessionName: sessionName})
}

func (p *Provider) NamedSession(sessionName string) (*online.NamedSession, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sessionName]
	if !ok {
		return nil, false
	}
	c := *s
	return &c, true
}

func (p *Provider) ResolvedConnectString(sessionName string) (string, bool) {
	s, ok := p.NamedSession(sessionName)
	if !ok || s.HostAddress == "" {
		return "", false
	}
	return s.HostAddress, true
}

// CompleteCreate 触发创建完成回调，成功时同时登记命名会话。
func (p *Provider) CompleteCreate(ok bool) {
	if ok {
		p.SetNamedSession(&online.NamedSession{
			SessionName: online.GameSessionName,
			Hosting:     true,
			State:       online.SessionStatePending,
		})
	}
	p.FireCreateSessionComplete(online.GameSessionName, ok)
}

// CompleteFind 把结果写入最近一次搜索并触发搜索完成回调。
func (p *Provider) CompleteFind(ok bool, results ...online.SearchResult) {
	p.mu.Lock()
	search := p.search
	p.search = nil
	p.mu.Unlock()
	p.FireFindSessionsComplete(search, results, ok)
}

// CompleteJoin 触发加入完成回调，成功时登记命名会话。
func (p *Provider) CompleteJoin(result online.JoinResult, hostAddress string) {
	if result == online.JoinSuccess {
		p.SetNamedSession(&online.NamedSession{
			SessionName: online.GameSessionName,
			HostAddress: hostAddress,
			State:       online.SessionStatePending,
		})
	}
	p.FireJoinSessionComplete(online.GameSessionName, result)
}

func (p *Provider) CompleteStart(ok bool) {
	p.FireStartSessionComplete(online.GameSessionName, ok)
}

// CompleteDestroy 触发销毁完成回调，成功时移除命名会话。
func (p *Provider) CompleteDestroy(ok bool) {
	if ok {
		p.RemoveNamedSession(online.GameSessionName)
	}
	p.FireDestroySessionComplete(online.GameSessionName, ok)
}

func (p *Provider) AddOnCreateSessionComplete(fn online.CreateSessionCompleteFunc) online.DelegateHandle {
	h := p.Delegates.AddOnCreateSessionComplete(fn)
	p.onAdd(online.OpCreate)
	return h
}

func (p *Provider) ClearOnCreateSessionComplete(handle online.DelegateHandle) {
	p.Delegates.ClearOnCreateSessionComplete(handle)
	p.onClear(online.OpCreate)
}

func (p *Provider) AddOnFindSessionsComplete(fn online.FindSessionsCompleteFunc) online.DelegateHandle {
	h := p.Delegates.AddOnFindSessionsComplete(fn)
	p.onAdd(online.OpFind)
	return h
}

func (p *Provider) ClearOnFindSessionsComplete(handle online.DelegateHandle) {
	p.Delegates.ClearOnFindSessionsComplete(handle)
	p.onClear(online.OpFind)
}

func (p *Provider) AddOnJoinSessionComplete(fn online.JoinSessionCompleteFunc) online.DelegateHandle {
	h := p.Delegates.AddOnJoinSessionComplete(fn)
	p.onAdd(online.OpJoin)
	return h
}

func (p *Provider) ClearOnJoinSessionComplete(handle online.DelegateHandle) {
	p.Delegates.ClearOnJoinSessionComplete(handle)
	p.onClear(online.OpJoin)
}

func (p *Provider) AddOnStartSessionComplete(fn online.StartSessionCompleteFunc) online.DelegateHandle {
	h := p.Delegates.AddOnStartSessionComplete(fn)
	p.onAdd(online.OpStart)
	return h
}

func (p *Provider) ClearOnStartSessionComplete(handle online.DelegateHandle) {
	p.Delegates.ClearOnStartSessionComplete(handle)
	p.onClear(online.OpStart)
}

func (p *Provider) AddOnDestroySessionComplete(fn online.DestroySessionCompleteFunc) online.DelegateHandle {
	h := p.Delegates.AddOnDestroySessionComplete(fn)
	p.onAdd(online.OpDestroy)
	return h
}

func (p *Provider) ClearOnDestroySessionComplete(handle online.DelegateHandle) {
	p.Delegates.ClearOnDestroySessionComplete(handle)
	p.onClear(online.OpDestroy)
}
