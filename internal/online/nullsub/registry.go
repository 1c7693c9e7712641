package nullsub

import (
	"context"
	"sync"

	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/merr"
)

// Registry 为进程内的会话表，同一进程中的多个 Provider 共享它来模拟局域网广播。
//
// 特性：
//   - 使用读写锁保证并发安全；
//   - Put 在遇到重复 ID 时返回错误，避免覆盖旧会话；
//   - 读取与遍历都返回副本，调用方修改不会影响表内数据。
type Registry struct {
	mu      sync.RWMutex
	records map[string]*online.SessionRecord
}

var _ online.SessionStore = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*online.SessionRecord),
	}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry 返回进程级共享的会话表。
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Put 注册一个新会话。
func (r *Registry) Put(ctx context.Context, record *online.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.SessionID]; exists {
		return merr.WrapErrSessionExists(record.SessionID)
	}
	r.records[record.SessionID] = record.Clone()
	return nil
}

func (r *Registry) Get(ctx context.Context, sessionID string) (*online.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[sessionID]
	if !ok {
		return nil, merr.WrapErrSessionNotFound(sessionID)
	}
	return record.Clone(), nil
}

// Update 在锁内修改会话，fn 返回错误时不做任何修改。
func (r *Registry) Update(ctx context.Context, sessionID string, fn func(record *online.SessionRecord) error) (*online.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[sessionID]
	if !ok {
		return nil, merr.WrapErrSessionNotFound(sessionID)
	}
	updated := record.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	r.records[sessionID] = updated
	return updated.Clone(), nil
}

// Delete 移除会话。
func (r *Registry) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[sessionID]; !exists {
		return merr.WrapErrSessionNotFound(sessionID)
	}
	delete(r.records, sessionID)
	return nil
}

func (r *Registry) List(ctx context.Context) ([]*online.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var records []*online.SessionRecord
	r.Range(func(record *online.SessionRecord) bool {
		records = append(records, record)
		return true
	})
	return records, nil
}

// Range 遍历所有会话的副本，fn 返回 false 时停止。
func (r *Registry) Range(fn func(record *online.SessionRecord) bool) {
	if fn == nil {
		return
	}

	r.mu.RLock()
	snapshot := make([]*online.SessionRecord, 0, len(r.records))
	for _, record := range r.records {
		snapshot = append(snapshot, record.Clone())
	}
	r.mu.RUnlock()

	for _, record := range snapshot {
		if !fn(record) {
			return
		}
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Close 共享的会话表不随单个 Provider 关闭。
func (r *Registry) Close() error {
	return nil
}
