// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"revision-engine/internal/domain/entity"
)

// CheckpointRepository 检查点仓储实现
type CheckpointRepository struct {
	client *Client
}

// NewCheckpointRepository 创建检查点仓储
func NewCheckpointRepository(client *Client) *CheckpointRepository {
	return &CheckpointRepository{client: client}
}

// Create 创建检查点
func (r *CheckpointRepository) Create(ctx context.Context, cp *entity.Checkpoint) error {
	ctx, span := tracer.Start(ctx, "postgres.CheckpointRepository.Create")
	defer span.End()

	cp.CheckpointDate = cp.CheckpointDate.UTC()
	db := getDB(ctx, r.client.db)
	if err := db.Create(cp).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取检查点，不存在时返回 nil
func (r *CheckpointRepository) GetByID(ctx context.Context, id uint64) (*entity.Checkpoint, error) {
	ctx, span := tracer.Start(ctx, "postgres.CheckpointRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var cp entity.Checkpoint
	if err := db.Take(&cp, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return &cp, nil
}

// Update 更新检查点
func (r *CheckpointRepository) Update(ctx context.Context, cp *entity.Checkpoint) error {
	ctx, span := tracer.Start(ctx, "postgres.CheckpointRepository.Update")
	defer span.End()

	db := getDB(ctx, r.client.db)
	err := db.Model(&entity.Checkpoint{}).Where("id = ?", cp.ID).Updates(map[string]any{
		"title":           cp.Title,
		"checkpoint_date": cp.CheckpointDate.UTC(),
		"timeline_id":     cp.TimelineID,
	}).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update checkpoint: %w", err)
	}
	return nil
}

// Delete 删除检查点
func (r *CheckpointRepository) Delete(ctx context.Context, id uint64) error {
	ctx, span := tracer.Start(ctx, "postgres.CheckpointRepository.Delete")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Delete(&entity.Checkpoint{}, "id = ?", id).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Nearest Older 取 checkpoint_date <= moment 中最新的，Newer 取 > moment 中最早的
func (r *CheckpointRepository) Nearest(ctx context.Context, moment time.Time, direction entity.Direction, timeline entity.TimelineFilter) (*entity.Checkpoint, error) {
	ctx, span := tracer.Start(ctx, "postgres.CheckpointRepository.Nearest")
	defer span.End()

	db := getDB(ctx, r.client.db)
	q := withTimeline(db.Model(&entity.Checkpoint{}), timeline)
	if direction == entity.Newer {
		q = q.Where("checkpoint_date > ?", moment.UTC()).Order("checkpoint_date ASC").Order("id ASC")
	} else {
		q = q.Where("checkpoint_date <= ?", moment.UTC()).Order("checkpoint_date DESC").Order("id DESC")
	}
	return r.first(q, "failed to find nearest checkpoint")
}

// NearestStrict 严格早于 moment 的最近检查点
func (r *CheckpointRepository) NearestStrict(ctx context.Context, moment time.Time, timeline entity.TimelineFilter) (*entity.Checkpoint, error) {
	ctx, span := tracer.Start(ctx, "postgres.CheckpointRepository.NearestStrict")
	defer span.End()

	db := getDB(ctx, r.client.db)
	q := withTimeline(db.Model(&entity.Checkpoint{}), timeline).
		Where("checkpoint_date < ?", moment.UTC()).
		Order("checkpoint_date DESC").
		Order("id DESC")
	return r.first(q, "failed to find previous checkpoint")
}

// CheckpointsOf 时间线中的检查点
func (r *CheckpointRepository) CheckpointsOf(ctx context.Context, timeline entity.TimelineFilter) ([]*entity.Checkpoint, error) {
	ctx, span := tracer.Start(ctx, "postgres.CheckpointRepository.CheckpointsOf")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var cps []*entity.Checkpoint
	if err := withTimeline(db.Model(&entity.Checkpoint{}), timeline).
		Order("checkpoint_date ASC").Order("id ASC").
		Find(&cps).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return cps, nil
}

// OfLineage 谱系中任一修订挂载过的检查点
func (r *CheckpointRepository) OfLineage(ctx context.Context, entityType string, lineageID uint64) ([]*entity.Checkpoint, error) {
	ctx, span := tracer.Start(ctx, "postgres.CheckpointRepository.OfLineage")
	defer span.End()

	db := getDB(ctx, r.client.db)
	sub := db.Session(&gorm.Session{NewDB: true}).Model(&entity.Revision{}).
		Select("checkpoint_id").
		Where("entity_type = ? AND lineage_id = ? AND checkpoint_id IS NOT NULL", entityType, lineageID)

	var cps []*entity.Checkpoint
	if err := db.Where("id IN (?)", sub).Order("checkpoint_date ASC").Order("id ASC").Find(&cps).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list lineage checkpoints: %w", err)
	}
	return cps, nil
}

// Revisions 挂在检查点上的修订
func (r *CheckpointRepository) Revisions(ctx context.Context, checkpointID uint64) ([]*entity.Revision, error) {
	ctx, span := tracer.Start(ctx, "postgres.CheckpointRepository.Revisions")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var revs []*entity.Revision
	if err := db.Where("checkpoint_id = ?", checkpointID).Order("id ASC").Find(&revs).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list checkpoint revisions: %w", err)
	}
	return revs, nil
}

// EntityIDs 检查点上某类型修订的物理行 ID
func (r *CheckpointRepository) EntityIDs(ctx context.Context, checkpointID uint64, entityType string) ([]uint64, error) {
	ctx, span := tracer.Start(ctx, "postgres.CheckpointRepository.EntityIDs")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var ids []uint64
	if err := db.Model(&entity.Revision{}).
		Where("checkpoint_id = ? AND entity_type = ?", checkpointID, entityType).
		Order("entity_id ASC").
		Pluck("entity_id", &ids).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list checkpoint entities: %w", err)
	}
	return ids, nil
}

// SetRevisionTimeline 单条语句更新检查点上所有修订的时间线
func (r *CheckpointRepository) SetRevisionTimeline(ctx context.Context, checkpointID uint64, timelineID *uint64) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.CheckpointRepository.SetRevisionTimeline")
	defer span.End()

	db := getDB(ctx, r.client.db)
	res := db.Model(&entity.Revision{}).Where("checkpoint_id = ?", checkpointID).Update("timeline_id", timelineID)
	if res.Error != nil {
		span.RecordError(res.Error)
		return 0, fmt.Errorf("failed to cascade checkpoint timeline: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DetachRevisions 清空检查点上所有修订的 checkpoint_id 与 timeline_id
func (r *CheckpointRepository) DetachRevisions(ctx context.Context, checkpointID uint64) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.CheckpointRepository.DetachRevisions")
	defer span.End()

	db := getDB(ctx, r.client.db)
	res := db.Model(&entity.Revision{}).Where("checkpoint_id = ?", checkpointID).Updates(map[string]any{
		"checkpoint_id": nil,
		"timeline_id":   nil,
	})
	if res.Error != nil {
		span.RecordError(res.Error)
		return 0, fmt.Errorf("failed to detach checkpoint revisions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *CheckpointRepository) first(q *gorm.DB, failure string) (*entity.Checkpoint, error) {
	var cp entity.Checkpoint
	if err := q.Take(&cp).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", failure, err)
	}
	return &cp, nil
}

func withTimeline(q *gorm.DB, timeline entity.TimelineFilter) *gorm.DB {
	switch timeline.Mode {
	case entity.TimelineGlobal:
		return q.Where("timeline_id IS NULL")
	case entity.TimelineExact:
		return q.Where("timeline_id = ?", timeline.ID)
	default:
		return q
	}
}
