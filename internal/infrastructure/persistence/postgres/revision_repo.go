// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"revision-engine/internal/domain/entity"
	"revision-engine/internal/domain/repository"
	"revision-engine/pkg/errors"
	"revision-engine/pkg/metrics"
)

// RevisionRepository 修订账本实现
type RevisionRepository struct {
	client *Client
}

// NewRevisionRepository 创建修订账本
func NewRevisionRepository(client *Client) *RevisionRepository {
	return &RevisionRepository{client: client}
}

// Start 创建初始修订：先插入，再把 lineage_id 回填为自身 ID
func (r *RevisionRepository) Start(ctx context.Context, rev *entity.Revision) error {
	ctx, span := tracer.Start(ctx, "postgres.RevisionRepository.Start")
	defer span.End()
	span.SetAttributes(attribute.String("entity_type", rev.EntityType), attribute.Int64("entity_id", int64(rev.EntityID)))

	db := getDB(ctx, r.client.db)

	var count int64
	if err := db.Model(&entity.Revision{}).
		Where("entity_type = ? AND entity_id = ?", rev.EntityType, rev.EntityID).
		Count(&count).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to check existing revision: %w", err)
	}
	if count > 0 {
		return errors.Invariant("revision already exists for %s#%d", rev.EntityType, rev.EntityID)
	}

	rev.ID = 0
	rev.LineageID = 0
	rev.PreviousRevisionID = nil

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rev).Error; err != nil {
			return err
		}
		rev.LineageID = rev.ID
		return tx.Model(&entity.Revision{}).Where("id = ?", rev.ID).Update("lineage_id", rev.ID).Error
	})
	if err != nil {
		span.RecordError(err)
		if isUniqueViolation(err) {
			return errors.Invariant("revision already exists for %s#%d", rev.EntityType, rev.EntityID).WithError(err)
		}
		return fmt.Errorf("failed to start revision: %w", err)
	}
	return nil
}

// ChainTo 创建 old 的后继修订
func (r *RevisionRepository) ChainTo(ctx context.Context, old *entity.Revision, next *entity.Revision) error {
	ctx, span := tracer.Start(ctx, "postgres.RevisionRepository.ChainTo")
	defer span.End()

	if old == nil || old.ID == 0 {
		return errors.ErrInvalidParam.WithDetail("chain source revision is not persisted")
	}
	if next.EntityType == "" {
		next.EntityType = old.EntityType
	}
	if next.EntityType != old.EntityType {
		return errors.Invariant("cannot chain %s revision %d to entity type %s", old.EntityType, old.ID, next.EntityType)
	}

	db := getDB(ctx, r.client.db)

	var successors int64
	if err := db.Model(&entity.Revision{}).Where("previous_revision_id = ?", old.ID).Count(&successors).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to check successor: %w", err)
	}
	if successors > 0 {
		return errors.Invariant("revision %d already has a successor", old.ID)
	}

	prev := old.ID
	next.ID = 0
	next.PreviousRevisionID = &prev
	next.LineageID = old.LineageID

	if err := db.Create(next).Error; err != nil {
		span.RecordError(err)
		if isUniqueViolation(err) {
			return errors.Invariant("revision already exists for %s#%d", next.EntityType, next.EntityID).WithError(err)
		}
		return fmt.Errorf("failed to chain revision: %w", err)
	}
	return nil
}

// RepairOnDelete 修复链：后继改指向被删修订的前驱；被删的是初始修订时，后继成为新的谱系根
func (r *RevisionRepository) RepairOnDelete(ctx context.Context, rev *entity.Revision) error {
	ctx, span := tracer.Start(ctx, "postgres.RevisionRepository.RepairOnDelete")
	defer span.End()

	current, err := r.GetByID(ctx, rev.ID)
	if err != nil {
		return err
	}
	if current == nil {
		metrics.ChainRepairsTotal.WithLabelValues(rev.EntityType, "noop").Inc()
		return nil
	}

	mode := "tail"
	db := getDB(ctx, r.client.db)
	err = db.Transaction(func(tx *gorm.DB) error {
		var succ entity.Revision
		if err := tx.Where("previous_revision_id = ?", current.ID).Order("id ASC").Take(&succ).Error; err != nil {
			if isNotFound(err) {
				// 没有后继：前驱自动成为最新
				return nil
			}
			return err
		}

		if current.PreviousRevisionID != nil && *current.PreviousRevisionID == succ.ID {
			return errors.Invariant("revision %d and its successor %d point at each other", current.ID, succ.ID)
		}
		if err := tx.Model(&entity.Revision{}).Where("id = ?", succ.ID).
			Update("previous_revision_id", current.PreviousRevisionID).Error; err != nil {
			return err
		}
		if err := checkAcyclic(tx, succ.ID, current.ID); err != nil {
			return err
		}
		mode = "relink"

		if current.IsNew() {
			if err := tx.Model(&entity.Revision{}).
				Where("entity_type = ? AND lineage_id = ? AND id <> ?", current.EntityType, current.LineageID, current.ID).
				Update("lineage_id", succ.ID).Error; err != nil {
				return err
			}
			mode = "reroot"
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to repair revision chain: %w", err)
	}

	metrics.ChainRepairsTotal.WithLabelValues(current.EntityType, mode).Inc()
	return nil
}

// checkAcyclic 从 start 沿前驱回溯，重复访问或回到正在删除的修订即为环
func checkAcyclic(tx *gorm.DB, start, deleting uint64) error {
	visited := map[uint64]struct{}{deleting: {}}
	id := start
	for {
		if _, seen := visited[id]; seen {
			return errors.Invariant("cycle in revision chain at revision %d", id)
		}
		visited[id] = struct{}{}

		var cur entity.Revision
		if err := tx.Select("id", "previous_revision_id").Where("id = ?", id).Take(&cur).Error; err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		if cur.PreviousRevisionID == nil {
			return nil
		}
		id = *cur.PreviousRevisionID
	}
}

// Delete 删除修订记录
func (r *RevisionRepository) Delete(ctx context.Context, id uint64) error {
	ctx, span := tracer.Start(ctx, "postgres.RevisionRepository.Delete")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Delete(&entity.Revision{}, "id = ?", id).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete revision: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取修订，不存在时返回 nil
func (r *RevisionRepository) GetByID(ctx context.Context, id uint64) (*entity.Revision, error) {
	ctx, span := tracer.Start(ctx, "postgres.RevisionRepository.GetByID")
	defer span.End()

	return r.take(ctx, "failed to get revision", "id = ?", id)
}

// GetByEntity 根据物理行获取修订，不存在时返回 nil
func (r *RevisionRepository) GetByEntity(ctx context.Context, entityType string, entityID uint64) (*entity.Revision, error) {
	ctx, span := tracer.Start(ctx, "postgres.RevisionRepository.GetByEntity")
	defer span.End()

	return r.take(ctx, "failed to get revision by entity", "entity_type = ? AND entity_id = ?", entityType, entityID)
}

// UpdateMetadata 覆盖修订元数据
func (r *RevisionRepository) UpdateMetadata(ctx context.Context, id uint64, meta datatypes.JSONMap) error {
	ctx, span := tracer.Start(ctx, "postgres.RevisionRepository.UpdateMetadata")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Model(&entity.Revision{}).Where("id = ?", id).Update("metadata", meta).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update revision metadata: %w", err)
	}
	return nil
}

// Previous 前驱修订
func (r *RevisionRepository) Previous(ctx context.Context, rev *entity.Revision) (*entity.Revision, error) {
	if rev.PreviousRevisionID == nil {
		return nil, nil
	}
	return r.GetByID(ctx, *rev.PreviousRevisionID)
}

// Next 后继修订
func (r *RevisionRepository) Next(ctx context.Context, rev *entity.Revision) (*entity.Revision, error) {
	ctx, span := tracer.Start(ctx, "postgres.RevisionRepository.Next")
	defer span.End()

	return r.take(ctx, "failed to get next revision", "previous_revision_id = ?", rev.ID)
}

// Initial 谱系的初始修订
func (r *RevisionRepository) Initial(ctx context.Context, rev *entity.Revision) (*entity.Revision, error) {
	ctx, span := tracer.Start(ctx, "postgres.RevisionRepository.Initial")
	defer span.End()

	return r.take(ctx, "failed to get initial revision",
		"entity_type = ? AND id = ? AND previous_revision_id IS NULL", rev.EntityType, rev.LineageID)
}

// Latest 谱系中没有后继的修订
func (r *RevisionRepository) Latest(ctx context.Context, rev *entity.Revision) (*entity.Revision, error) {
	ctx, span := tracer.Start(ctx, "postgres.RevisionRepository.Latest")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var out entity.Revision
	err := db.Where("entity_type = ? AND lineage_id = ?", rev.EntityType, rev.LineageID).
		Where("NOT EXISTS (SELECT 1 FROM revisions AS s WHERE s.previous_revision_id = revisions.id)").
		Order("id DESC").
		Take(&out).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get latest revision: %w", err)
	}
	return &out, nil
}

// IsLatest 是否没有后继
func (r *RevisionRepository) IsLatest(ctx context.Context, rev *entity.Revision) (bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.RevisionRepository.IsLatest")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var count int64
	if err := db.Model(&entity.Revision{}).Where("previous_revision_id = ?", rev.ID).Count(&count).Error; err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to count successors: %w", err)
	}
	return count == 0, nil
}

// Lineage 谱系的全部修订
func (r *RevisionRepository) Lineage(ctx context.Context, entityType string, lineageID uint64) ([]*entity.Revision, error) {
	ctx, span := tracer.Start(ctx, "postgres.RevisionRepository.Lineage")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var revs []*entity.Revision
	if err := db.Where("entity_type = ? AND lineage_id = ?", entityType, lineageID).
		Order("id ASC").Find(&revs).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list lineage: %w", err)
	}
	return revs, nil
}

// Chain 沿前驱回溯，返回从 rev 到初始修订的序列
func (r *RevisionRepository) Chain(ctx context.Context, rev *entity.Revision) ([]*entity.Revision, error) {
	ctx, span := tracer.Start(ctx, "postgres.RevisionRepository.Chain")
	defer span.End()

	visited := make(map[uint64]struct{})
	chain := make([]*entity.Revision, 0, 4)
	cur := rev
	for {
		if _, seen := visited[cur.ID]; seen {
			return nil, errors.Invariant("cycle in revision chain at revision %d", cur.ID)
		}
		visited[cur.ID] = struct{}{}
		chain = append(chain, cur)

		if cur.PreviousRevisionID == nil {
			if cur.ID != rev.LineageID {
				return nil, errors.Invariant("initial revision %d does not match lineage %d", cur.ID, rev.LineageID)
			}
			return chain, nil
		}

		prev, err := r.GetByID(ctx, *cur.PreviousRevisionID)
		if err != nil {
			return nil, err
		}
		if prev == nil {
			return nil, errors.Invariant("revision %d points to missing predecessor %d", cur.ID, *cur.PreviousRevisionID)
		}
		if prev.LineageID != rev.LineageID || prev.EntityType != rev.EntityType {
			return nil, errors.Invariant("revision %d crosses lineage boundary", prev.ID)
		}
		cur = prev
	}
}

// ListByType 分页列出某类型的修订
func (r *RevisionRepository) ListByType(ctx context.Context, entityType string, pagination repository.Pagination) (*repository.PagedResult[*entity.Revision], error) {
	ctx, span := tracer.Start(ctx, "postgres.RevisionRepository.ListByType")
	defer span.End()

	db := getDB(ctx, r.client.db)
	base := db.Model(&entity.Revision{}).Where("entity_type = ?", entityType)

	var total int64
	if err := base.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count revisions: %w", err)
	}

	var revs []*entity.Revision
	if err := db.Where("entity_type = ?", entityType).
		Order("id ASC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&revs).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}

	return repository.NewPagedResult(revs, total, pagination), nil
}

// VisibleIDs 窗口内每条谱系可见的修订 ID（升序）
func (r *RevisionRepository) VisibleIDs(ctx context.Context, entityType string, window entity.Window) ([]uint64, error) {
	ctx, span := tracer.Start(ctx, "postgres.RevisionRepository.VisibleIDs")
	defer span.End()

	resolved := window.Resolved()
	metrics.TemporalQueriesTotal.WithLabelValues(entityType, resolved.Until.Kind.String(), resolved.Since.Kind.String()).Inc()

	var ids []uint64
	if err := visibleRevisions(getDB(ctx, r.client.db), entityType, resolved).Scan(&ids).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to resolve visible revisions: %w", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Scope 返回按窗口过滤实体表的 scope
func (r *RevisionRepository) Scope(entityType, table, primaryKey string, window entity.Window) func(*gorm.DB) *gorm.DB {
	return TemporalScope(entityType, table, primaryKey, window)
}

func (r *RevisionRepository) take(ctx context.Context, failure string, query string, args ...any) (*entity.Revision, error) {
	db := getDB(ctx, r.client.db)
	var rev entity.Revision
	if err := db.Where(query, args...).Take(&rev).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", failure, err)
	}
	return &rev, nil
}
