package online

import (
	"sync"

	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/merr"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/typeutil"
)

// LocalSessions 维护本地玩家的命名会话以及进行中的请求，供各 Provider 复用。
type LocalSessions struct {
	mu       sync.RWMutex
	sessions map[string]*NamedSession
	inflight *typeutil.ConcurrentSet[string]
}

func NewLocalSessions() *LocalSessions {
	return &LocalSessions{
		sessions: make(map[string]*NamedSession),
		inflight: typeutil.NewConcurrentSet[string](),
	}
}

func inflightKey(kind OpKind, sessionName string) string {
	return kind.String() + "/" + sessionName
}

// Begin 标记某个会话上的操作开始，同一操作重复进行时返回 ErrRequestInFlight。
func (l *LocalSessions) Begin(kind OpKind, sessionName string) error {
	if !l.inflight.Insert(inflightKey(kind, sessionName)) {
		return merr.WrapErrRequestInFlight(kind.String(), sessionName)
	}
	return nil
}

// End 标记操作结束。
func (l *LocalSessions) End(kind OpKind, sessionName string) {
	l.inflight.TryRemove(inflightKey(kind, sessionName))
}

// InFlight 判断操作是否正在进行。
func (l *LocalSessions) InFlight(kind OpKind, sessionName string) bool {
	return l.inflight.Contain(inflightKey(kind, sessionName))
}

// Add 添加命名会话，同名会话已存在时返回 ErrSessionExists。
func (l *LocalSessions) Add(session *NamedSession) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sessions[session.SessionName]; ok {
		return merr.WrapErrSessionExists(session.SessionName)
	}
	l.sessions[session.SessionName] = session
	return nil
}

// Get 返回命名会话的副本。
func (l *LocalSessions) Get(sessionName string) (*NamedSession, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.sessions[sessionName]
	if !ok {
		return nil, false
	}
	c := *s
	c.Settings = s.Settings.Clone()
	return &c, true
}

// Update 在锁内修改命名会话，会话不存在时返回 ErrSessionNotFound。
func (l *LocalSessions) Update(sessionName string, fn func(s *NamedSession) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[sessionName]
	if !ok {
		return merr.WrapErrSessionNotFound(sessionName)
	}
	return fn(s)
}

// Remove 移除命名会话。
func (l *LocalSessions) Remove(sessionName string) (*NamedSession, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[sessionName]
	if ok {
		delete(l.sessions, sessionName)
	}
	return s, ok
}

// Names 返回当前所有命名会话的名称。
func (l *LocalSessions) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.sessions))
	for name := range l.sessions {
		names = append(names, name)
	}
	return names
}

// ConnectString 返回会话的房主地址。
func (l *LocalSessions) ConnectString(sessionName string) (string, bool) {
	s, ok := l.Get(sessionName)
	if !ok || s.HostAddress == "" {
		return "", false
	}
	return s.HostAddress, true
}

// BeginCreate 校验并登记一个新建或加入中的会话，成功后由调用方在完成时 End。
func (l *LocalSessions) BeginCreate(kind OpKind, placeholder *NamedSession) error {
	if err := l.Begin(kind, placeholder.SessionName); err != nil {
		return err
	}
	if err := l.Add(placeholder); err != nil {
		l.End(kind, placeholder.SessionName)
		return err
	}
	return nil
}

// BeginExisting 校验会话存在并处于允许的状态，登记操作开始并把状态切换为 next。
// 返回切换前的会话快照，失败时调用方可据此恢复状态。
func (l *LocalSessions) BeginExisting(kind OpKind, sessionName string, next SessionState, allowed ...SessionState) (*NamedSession, error) {
	if err := l.Begin(kind, sessionName); err != nil {
		return nil, err
	}
	var snapshot NamedSession
	err := l.Update(sessionName, func(s *NamedSession) error {
		if len(allowed) > 0 && !containsState(allowed, s.State) {
			return merr.WrapErrSessionStateInvalid(sessionName, allowed, s.State)
		}
		snapshot = *s
		s.State = next
		return nil
	})
	if err != nil {
		l.End(kind, sessionName)
		return nil, err
	}
	return &snapshot, nil
}

func containsState(states []SessionState, s SessionState) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

// SetState 更新会话状态，会话不存在时忽略。
func (l *LocalSessions) SetState(sessionName string, state SessionState) {
	_ = l.Update(sessionName, func(s *NamedSession) error {
		s.State = state
		return nil
	})
}
