package repository

import (
	"context"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"revision-engine/internal/domain/entity"
)

// RevisionRepository 修订账本：维护每条谱系的修订链
type RevisionRepository interface {
	// Start 为物理行创建初始修订，该行已有修订时返回 InvariantViolation
	Start(ctx context.Context, rev *entity.Revision) error

	// ChainTo 为新物理行创建 old 的后继修订，继承 lineage_id
	ChainTo(ctx context.Context, old *entity.Revision, next *entity.Revision) error

	// RepairOnDelete 物理删除前修复链，幂等
	RepairOnDelete(ctx context.Context, rev *entity.Revision) error

	// Delete 删除修订记录
	Delete(ctx context.Context, id uint64) error

	// GetByID 根据 ID 获取修订
	GetByID(ctx context.Context, id uint64) (*entity.Revision, error)

	// GetByEntity 根据物理行获取修订
	GetByEntity(ctx context.Context, entityType string, entityID uint64) (*entity.Revision, error)

	// UpdateMetadata 覆盖修订元数据
	UpdateMetadata(ctx context.Context, id uint64, meta datatypes.JSONMap) error

	// Previous 前驱修订
	Previous(ctx context.Context, rev *entity.Revision) (*entity.Revision, error)

	// Next 后继修订
	Next(ctx context.Context, rev *entity.Revision) (*entity.Revision, error)

	// Initial 谱系的初始修订
	Initial(ctx context.Context, rev *entity.Revision) (*entity.Revision, error)

	// Latest 谱系中没有后继的修订
	Latest(ctx context.Context, rev *entity.Revision) (*entity.Revision, error)

	// IsLatest 是否没有后继
	IsLatest(ctx context.Context, rev *entity.Revision) (bool, error)

	// Lineage 谱系的全部修订，按 ID 升序
	Lineage(ctx context.Context, entityType string, lineageID uint64) ([]*entity.Revision, error)

	// Chain 从 rev 沿前驱回溯到初始修订，发现环或断链时返回 InvariantViolation
	Chain(ctx context.Context, rev *entity.Revision) ([]*entity.Revision, error)

	// ListByType 分页列出某类型的修订
	ListByType(ctx context.Context, entityType string, pagination Pagination) (*PagedResult[*entity.Revision], error)

	// VisibleIDs 窗口内每条谱系可见的修订 ID
	VisibleIDs(ctx context.Context, entityType string, window entity.Window) ([]uint64, error)

	// Scope 返回按窗口过滤实体表的 gorm scope
	Scope(entityType, table, primaryKey string, window entity.Window) func(*gorm.DB) *gorm.DB
}
