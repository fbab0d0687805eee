// Package activecontext 提供活动检查点的进程内存储
//
// BasicStore 在进程内共享一个槽位；ContextStore 把槽位放进工作单元的 context，
// 不同请求互不干扰。Redis 后端见 infrastructure/persistence/redis。
package activecontext

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"revision-engine/internal/domain/entity"
	"revision-engine/internal/domain/repository"
	"revision-engine/pkg/errors"
	"revision-engine/pkg/logger"
)

// BasicStore 进程级活动检查点
type BasicStore struct {
	mu sync.RWMutex
	cp *entity.Checkpoint
}

// NewBasicStore 创建进程级存储
func NewBasicStore() *BasicStore {
	return &BasicStore{}
}

// Store 设置活动检查点
func (s *BasicStore) Store(_ context.Context, cp *entity.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp = clone(cp)
	return nil
}

// Retrieve 获取活动检查点
func (s *BasicStore) Retrieve(_ context.Context) (*entity.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.cp), nil
}

// Clear 清除活动检查点
func (s *BasicStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp = nil
	return nil
}

type slotKey struct{}

type slot struct {
	mu sync.Mutex
	cp *entity.Checkpoint
}

// NewUnitOfWork 开启一个工作单元：分配会话 ID，并放入空的活动检查点槽位
func NewUnitOfWork(ctx context.Context) context.Context {
	id := uuid.NewString()
	ctx = repository.WithSession(ctx, id)
	ctx = logger.WithContext(ctx, logger.SessionIDKey, id)
	return context.WithValue(ctx, slotKey{}, &slot{})
}

// ContextStore 工作单元作用域的活动检查点
type ContextStore struct{}

// NewContextStore 创建 context 作用域存储
func NewContextStore() *ContextStore {
	return &ContextStore{}
}

// Store 写入当前工作单元的槽位
func (ContextStore) Store(ctx context.Context, cp *entity.Checkpoint) error {
	s, ok := ctx.Value(slotKey{}).(*slot)
	if !ok {
		return errors.ErrInvalidParam.WithDetail("no unit of work in context")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp = clone(cp)
	return nil
}

// Retrieve 读取当前工作单元的槽位，工作单元外返回 nil
func (ContextStore) Retrieve(ctx context.Context) (*entity.Checkpoint, error) {
	s, ok := ctx.Value(slotKey{}).(*slot)
	if !ok {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.cp), nil
}

// Clear 清空当前工作单元的槽位
func (ContextStore) Clear(ctx context.Context) error {
	s, ok := ctx.Value(slotKey{}).(*slot)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp = nil
	return nil
}

func clone(cp *entity.Checkpoint) *entity.Checkpoint {
	if cp == nil {
		return nil
	}
	out := *cp
	out.TimelineID = cp.TimelineRef()
	return &out
}
