package online

import (
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/log"
)

// DelegateHandle 为完成回调的注册句柄，零值无效。
type DelegateHandle uint64

func (h DelegateHandle) IsValid() bool {
	return h != 0
}

var handleSeq = atomic.NewUint64(0)

func nextHandle() DelegateHandle {
	return DelegateHandle(handleSeq.Inc())
}

type delegateEntry[F any] struct {
	handle DelegateHandle
	fn     F
}

// DelegateList 为按句柄管理的多播回调列表，并发安全。
type DelegateList[F any] struct {
	mu      sync.RWMutex
	entries []delegateEntry[F]
}

// Add 注册回调并返回句柄。
func (l *DelegateList[F]) Add(fn F) DelegateHandle {
	h := nextHandle()
	l.mu.Lock()
	l.entries = append(l.entries, delegateEntry[F]{handle: h, fn: fn})
	l.mu.Unlock()
	return h
}

// Clear 移除句柄对应的回调，句柄不存在时返回 false。
func (l *DelegateList[F]) Clear(handle DelegateHandle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.handle == handle {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot 复制当前的回调列表，调用方在锁外逐个执行。
func (l *DelegateList[F]) Snapshot() []F {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fns := make([]F, 0, len(l.entries))
	for _, e := range l.entries {
		fns = append(fns, e.fn)
	}
	return fns
}

func (l *DelegateList[F]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Delegates 聚合五类完成回调，Provider 通过内嵌它实现 Add/Clear 方法。
// Fire* 方法把回调投递到 Dispatcher 执行，回调列表在执行时才取快照。
type Delegates struct {
	log.Binder

	dispatcher Dispatcher

	create  DelegateList[CreateSessionCompleteFunc]
	find    DelegateList[FindSessionsCompleteFunc]
	join    DelegateList[JoinSessionCompleteFunc]
	start   DelegateList[StartSessionCompleteFunc]
	destroy DelegateList[DestroySessionCompleteFunc]
}

func NewDelegates(dispatcher Dispatcher) *Delegates {
	return &Delegates{dispatcher: dispatcher}
}

func (d *Delegates) AddOnCreateSessionComplete(fn CreateSessionCompleteFunc) DelegateHandle {
	return d.create.Add(fn)
}

func (d *Delegates) ClearOnCreateSessionComplete(handle DelegateHandle) {
	d.create.Clear(handle)
}

func (d *Delegates) AddOnFindSessionsComplete(fn FindSessionsCompleteFunc) DelegateHandle {
	return d.find.Add(fn)
}

func (d *Delegates) ClearOnFindSessionsComplete(handle DelegateHandle) {
	d.find.Clear(handle)
}

func (d *Delegates) AddOnJoinSessionComplete(fn JoinSessionCompleteFunc) DelegateHandle {
	return d.join.Add(fn)
}

func (d *Delegates) ClearOnJoinSessionComplete(handle DelegateHandle) {
	d.join.Clear(handle)
}

func (d *Delegates) AddOnStartSessionComplete(fn StartSessionCompleteFunc) DelegateHandle {
	return d.start.Add(fn)
}

func (d *Delegates) ClearOnStartSessionComplete(handle DelegateHandle) {
	d.start.Clear(handle)
}

func (d *Delegates) AddOnDestroySessionComplete(fn DestroySessionCompleteFunc) DelegateHandle {
	return d.destroy.Add(fn)
}

func (d *Delegates) ClearOnDestroySessionComplete(handle DelegateHandle) {
	d.destroy.Clear(handle)
}

// Installed 返回某类操作当前注册的回调数量。
func (d *Delegates) Installed(kind OpKind) int {
	switch kind {
	case OpCreate:
		return d.create.Len()
	case OpFind:
		return d.find.Len()
	case OpJoin:
		return d.join.Len()
	case OpStart:
		return d.start.Len()
	case OpDestroy:
		return d.destroy.Len()
	}
	return 0
}

func (d *Delegates) post(kind OpKind, sessionName string, fn func()) {
	if d.dispatcher.Post(fn) {
		return
	}
	d.Logger().Warn("dispatcher stopped, drop completion",
		log.FieldOperation(kind.String()),
		log.FieldSession(sessionName))
}

func (d *Delegates) FireCreateSessionComplete(sessionName string, ok bool) {
	d.post(OpCreate, sessionName, func() {
		for _, fn := range d.create.Snapshot() {
			fn(sessionName, ok)
		}
	})
}

// FireFindSessionsComplete 在执行上下文中写入搜索结果后再触发回调。
func (d *Delegates) FireFindSessionsComplete(search *SessionSearch, results []SearchResult, ok bool) {
	d.post(OpFind, "", func() {
		if search != nil {
			search.Results = results
		}
		for _, fn := range d.find.Snapshot() {
			fn(ok)
		}
	})
}

func (d *Delegates) FireJoinSessionComplete(sessionName string, result JoinResult) {
	d.post(OpJoin, sessionName, func() {
		if result != JoinSuccess {
			d.Logger().Debug("join session completed with failure",
				log.FieldSession(sessionName),
				zap.Stringer("result", result))
		}
		for _, fn := range d.join.Snapshot() {
			fn(sessionName, result)
		}
	})
}

func (d *Delegates) FireStartSessionComplete(sessionName string, ok bool) {
	d.post(OpStart, sessionName, func() {
		for _, fn := range d.start.Snapshot() {
			fn(sessionName, ok)
		}
	})
}

func (d *Delegates) FireDestroySessionComplete(sessionName string, ok bool) {
	d.post(OpDestroy, sessionName, func() {
		for _, fn := range d.destroy.Snapshot() {
			fn(sessionName, ok)
		}
	})
}
