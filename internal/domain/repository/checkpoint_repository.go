package repository

import (
	"context"
	"time"

	"revision-engine/internal/domain/entity"
)

// CheckpointRepository 检查点仓储接口
type CheckpointRepository interface {
	// Create 创建检查点
	Create(ctx context.Context, cp *entity.Checkpoint) error

	// GetByID 根据 ID 获取检查点
	GetByID(ctx context.Context, id uint64) (*entity.Checkpoint, error)

	// Update 更新标题、日期与时间线
	Update(ctx context.Context, cp *entity.Checkpoint) error

	// Delete 删除检查点本身，不处理关联修订
	Delete(ctx context.Context, id uint64) error

	// Nearest 查找 moment 附近最近的检查点
	Nearest(ctx context.Context, moment time.Time, direction entity.Direction, timeline entity.TimelineFilter) (*entity.Checkpoint, error)

	// NearestStrict 查找严格早于 moment 的最近检查点
	NearestStrict(ctx context.Context, moment time.Time, timeline entity.TimelineFilter) (*entity.Checkpoint, error)

	// CheckpointsOf 时间线中的检查点，按 checkpoint_date 升序
	CheckpointsOf(ctx context.Context, timeline entity.TimelineFilter) ([]*entity.Checkpoint, error)

	// OfLineage 谱系发生修改的全部检查点
	OfLineage(ctx context.Context, entityType string, lineageID uint64) ([]*entity.Checkpoint, error)

	// Revisions 挂在检查点上的修订
	Revisions(ctx context.Context, checkpointID uint64) ([]*entity.Revision, error)

	// EntityIDs 检查点上某类型修订对应的物理行 ID
	EntityIDs(ctx context.Context, checkpointID uint64, entityType string) ([]uint64, error)

	// SetRevisionTimeline 将检查点上所有修订的 timeline_id 改为给定值，单条语句
	SetRevisionTimeline(ctx context.Context, checkpointID uint64, timelineID *uint64) (int64, error)

	// DetachRevisions 清空检查点上所有修订的 checkpoint_id 与 timeline_id
	DetachRevisions(ctx context.Context, checkpointID uint64) (int64, error)
}

// TimelineRepository 时间线仓储接口
type TimelineRepository interface {
	// Create 创建时间线
	Create(ctx context.Context, tl *entity.Timeline) error

	// GetByID 根据 ID 获取时间线
	GetByID(ctx context.Context, id uint64) (*entity.Timeline, error)

	// Update 更新标题
	Update(ctx context.Context, tl *entity.Timeline) error

	// Delete 删除时间线，并清空检查点与修订上的 timeline_id
	Delete(ctx context.Context, id uint64) error

	// List 全部时间线
	List(ctx context.Context) ([]*entity.Timeline, error)
}

// CheckpointStore 活动检查点存储，作用域为一个逻辑工作单元
type CheckpointStore interface {
	// Store 设置活动检查点
	Store(ctx context.Context, cp *entity.Checkpoint) error

	// Retrieve 获取活动检查点，没有时返回 nil
	Retrieve(ctx context.Context) (*entity.Checkpoint, error)

	// Clear 清除活动检查点
	Clear(ctx context.Context) error
}

// SessionKey 工作单元会话 ID 的上下文键
type SessionKey struct{}

// WithSession 在上下文中记录会话 ID
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionKey{}, sessionID)
}

// SessionFrom 读取会话 ID，没有时返回空串
func SessionFrom(ctx context.Context) string {
	if id, ok := ctx.Value(SessionKey{}).(string); ok {
		return id
	}
	return ""
}
