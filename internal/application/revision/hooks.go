package revision

import (
	"context"
	"sync"

	"revision-engine/internal/domain/entity"
	"revision-engine/internal/domain/repository"
)

// AnyType 对所有实体类型生效的钩子键
const AnyType = "*"

// RevisioningHook 修订开始前调用；返回 false 跳过本次修订，返回错误则中止
type RevisioningHook func(ctx context.Context, rec *entity.Record, changes repository.Row) (bool, error)

// RevisionedHook 修订提交后调用
type RevisionedHook func(ctx context.Context, res *Result)

// Hooks 按实体类型注册的回调
type Hooks struct {
	mu          sync.RWMutex
	revisioning map[string][]RevisioningHook
	revisioned  map[string][]RevisionedHook
}

// NewHooks 创建空的钩子集合
func NewHooks() *Hooks {
	return &Hooks{
		revisioning: make(map[string][]RevisioningHook),
		revisioned:  make(map[string][]RevisionedHook),
	}
}

// OnRevisioning 注册修订前钩子
func (h *Hooks) OnRevisioning(entityType string, fn RevisioningHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.revisioning[entityType] = append(h.revisioning[entityType], fn)
}

// OnRevisioned 注册修订后钩子
func (h *Hooks) OnRevisioned(entityType string, fn RevisionedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.revisioned[entityType] = append(h.revisioned[entityType], fn)
}

func (h *Hooks) beforeRevision(ctx context.Context, rec *entity.Record, changes repository.Row) (bool, error) {
	h.mu.RLock()
	fns := append(append([]RevisioningHook(nil), h.revisioning[AnyType]...), h.revisioning[rec.Type]...)
	h.mu.RUnlock()

	for _, fn := range fns {
		ok, err := fn(ctx, rec, changes)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (h *Hooks) afterRevision(ctx context.Context, res *Result) {
	h.mu.RLock()
	fns := append(append([]RevisionedHook(nil), h.revisioned[AnyType]...), h.revisioned[res.Entity.Type]...)
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(ctx, res)
	}
}
