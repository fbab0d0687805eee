// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"revision-engine/internal/domain/entity"
)

// TimelineRepository 时间线仓储实现
type TimelineRepository struct {
	client *Client
}

// NewTimelineRepository 创建时间线仓储
func NewTimelineRepository(client *Client) *TimelineRepository {
	return &TimelineRepository{client: client}
}

// Create 创建时间线
func (r *TimelineRepository) Create(ctx context.Context, tl *entity.Timeline) error {
	ctx, span := tracer.Start(ctx, "postgres.TimelineRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(tl).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create timeline: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取时间线，不存在时返回 nil
func (r *TimelineRepository) GetByID(ctx context.Context, id uint64) (*entity.Timeline, error) {
	ctx, span := tracer.Start(ctx, "postgres.TimelineRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var tl entity.Timeline
	if err := db.Take(&tl, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get timeline: %w", err)
	}
	return &tl, nil
}

// Update 更新标题
func (r *TimelineRepository) Update(ctx context.Context, tl *entity.Timeline) error {
	ctx, span := tracer.Start(ctx, "postgres.TimelineRepository.Update")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Model(&entity.Timeline{}).Where("id = ?", tl.ID).Update("title", tl.Title).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update timeline: %w", err)
	}
	return nil
}

// Delete 删除时间线，检查点与修订上的 timeline_id 置空
func (r *TimelineRepository) Delete(ctx context.Context, id uint64) error {
	ctx, span := tracer.Start(ctx, "postgres.TimelineRepository.Delete")
	defer span.End()

	db := getDB(ctx, r.client.db)
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&entity.Checkpoint{}).Where("timeline_id = ?", id).Update("timeline_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&entity.Revision{}).Where("timeline_id = ?", id).Update("timeline_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&entity.Timeline{}, "id = ?", id).Error
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete timeline: %w", err)
	}
	return nil
}

// List 全部时间线
func (r *TimelineRepository) List(ctx context.Context) ([]*entity.Timeline, error) {
	ctx, span := tracer.Start(ctx, "postgres.TimelineRepository.List")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var tls []*entity.Timeline
	if err := db.Order("id ASC").Find(&tls).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list timelines: %w", err)
	}
	return tls, nil
}
