package matchmaking

import (
	"runtime/debug"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/log"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/metrics"
)

// ListenerID 为监听者的注册标识。
type ListenerID uint64

type listener[T any] struct {
	id ListenerID
	fn func(T)
}

// Broadcaster 为多监听者的结果通知通道。
// 监听者按注册顺序同步调用，单个监听者 panic 不影响其余监听者。
type Broadcaster[T any] struct {
	log.Binder

	channel   string
	mu        sync.RWMutex
	listeners []listener[T]
	nextID    atomic.Uint64
}

func NewBroadcaster[T any](channel string) *Broadcaster[T] {
	return &Broadcaster[T]{channel: channel}
}

// AddListener 注册监听者。
func (b *Broadcaster[T]) AddListener(fn func(T)) ListenerID {
	id := ListenerID(b.nextID.Inc())
	b.mu.Lock()
	b.listeners = append(b.listeners, listener[T]{id: id, fn: fn})
	b.mu.Unlock()
	return id
}

// RemoveListener 移除监听者，不存在时返回 false。
func (b *Broadcaster[T]) RemoveListener(id ListenerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l.id == id {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Broadcast 通知所有监听者，没有监听者时什么也不做。
func (b *Broadcaster[T]) Broadcast(v T) {
	b.mu.RLock()
	snapshot := make([]listener[T], len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.RUnlock()

	if len(snapshot) == 0 {
		return
	}
	metrics.Broadcasts.WithLabelValues(b.channel).Inc()
	for _, l := range snapshot {
		b.safeCall(l, v)
	}
}

func (b *Broadcaster[T]) safeCall(l listener[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			b.Logger().Error("listener panicked",
				zap.String("channel", b.channel),
				zap.Uint64("listener", uint64(l.id)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	l.fn(v)
}
