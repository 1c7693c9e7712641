package online

// OpKind 为会话操作类型。
type OpKind int

const (
	OpCreate OpKind = iota
	OpFind
	OpJoin
	OpStart
	OpDestroy

	NumOpKinds = 5
)

var opKindNames = [NumOpKinds]string{"create", "find", "join", "start", "destroy"}

func (k OpKind) String() string {
	if k < 0 || int(k) >= NumOpKinds {
		return "unknown"
	}
	return opKindNames[k]
}

// OpKinds 返回全部操作类型。
func OpKinds() []OpKind {
	return []OpKind{OpCreate, OpFind, OpJoin, OpStart, OpDestroy}
}

// Provider 为平台会话服务的抽象。
//
// 所有请求方法都是异步的：返回 false 表示同步拒绝，此时不会再有完成回调；
// 返回 true 表示请求已受理，稍后通过对应的完成回调通知结果。
// 完成回调总是投递到 Dispatcher 上执行，不会在调用方的栈上直接触发。
type Provider interface {
	// SubsystemName 返回子系统名，"NULL" 表示离线/局域网。
	SubsystemName() string

	CreateSession(hostID UniqueNetID, sessionName string, settings *SessionSettings) bool
	FindSessions(searcherID UniqueNetID, search *SessionSearch) bool
	JoinSession(playerID UniqueNetID, sessionName string, result SearchResult) bool
	StartSession(sessionName string) bool
	DestroySession(sessionName string) bool

	// NamedSession 返回本地玩家创建或加入的会话副本。
	NamedSession(sessionName string) (*NamedSession, bool)
	// ResolvedConnectString 返回加入会话后用于连接房主的地址。
	ResolvedConnectString(sessionName string) (string, bool)

	AddOnCreateSessionComplete(fn CreateSessionCompleteFunc) DelegateHandle
	ClearOnCreateSessionComplete(handle DelegateHandle)
	AddOnFindSessionsComplete(fn FindSessionsCompleteFunc) DelegateHandle
	ClearOnFindSessionsComplete(handle DelegateHandle)
	AddOnJoinSessionComplete(fn JoinSessionCompleteFunc) DelegateHandle
	ClearOnJoinSessionComplete(handle DelegateHandle)
	AddOnStartSessionComplete(fn StartSessionCompleteFunc) DelegateHandle
	ClearOnStartSessionComplete(handle DelegateHandle)
	AddOnDestroySessionComplete(fn DestroySessionCompleteFunc) DelegateHandle
	ClearOnDestroySessionComplete(handle DelegateHandle)
}

type (
	CreateSessionCompleteFunc  func(sessionName string, ok bool)
	FindSessionsCompleteFunc   func(ok bool)
	JoinSessionCompleteFunc    func(sessionName string, result JoinResult)
	StartSessionCompleteFunc   func(sessionName string, ok bool)
	DestroySessionCompleteFunc func(sessionName string, ok bool)
)

// Dispatcher 为完成回调的执行上下文。
type Dispatcher interface {
	// Post 投递一个任务，返回 false 表示上下文已停止，任务被丢弃。
	Post(fn func()) bool
}

// ImmediateDispatcher 在调用方 goroutine 上直接执行任务，仅用于测试。
type ImmediateDispatcher struct{}

func (ImmediateDispatcher) Post(fn func()) bool {
	fn()
	return true
}
