package eventloop

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/log"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/merr"
)

// ErrLoopStopped 表示事件循环已停止，任务不会再被执行。
var ErrLoopStopped = errors.New("event loop stopped")

// Loop 为单 goroutine 的串行执行上下文，按投递顺序执行任务。
// 编排器的所有调用与 Provider 的完成回调都在这里执行。
type Loop struct {
	log.Binder

	mu      sync.Mutex
	tasks   []func()
	stopped bool

	notify   chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	runOnce  sync.Once
}

func New() *Loop {
	return &Loop{
		notify: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Post 投递一个任务，不阻塞调用方。循环已停止时返回 false。
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
	return true
}

// Do 投递任务并等待其执行完成。
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return merr.WrapErrServiceNotReady("eventloop", "stopped")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.doneCh:
		// 循环在退出前会执行完已投递的任务。
		select {
		case <-done:
			return nil
		default:
			return ErrLoopStopped
		}
	}
}

// Run 在当前 goroutine 上运行事件循环，直到 ctx 取消或 Stop 被调用。
// 退出前会执行完已投递的任务。
func (l *Loop) Run(ctx context.Context) error {
	started := false
	l.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("event loop already running")
	}
	defer close(l.doneCh)

	l.Logger().Info("event loop started")
	for {
		l.drain()
		select {
		case <-l.notify:
		case <-ctx.Done():
			l.shutdown()
			return nil
		case <-l.stopCh:
			l.shutdown()
			return nil
		}
	}
}

// Stop 停止事件循环，之后的 Post 返回 false。
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// Done 在 Run 返回后关闭。
func (l *Loop) Done() <-chan struct{} {
	return l.doneCh
}

// Pending 返回尚未执行的任务数。
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

func (l *Loop) shutdown() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.drain()
	l.Logger().Info("event loop stopped")
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.tasks) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.tasks[0]
		l.tasks[0] = nil
		l.tasks = l.tasks[1:]
		l.mu.Unlock()

		l.exec(fn)
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.Logger().Error("event loop task panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	fn()
}
