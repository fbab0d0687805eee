package postgres

import (
	"gorm.io/gorm"

	"revision-engine/internal/domain/entity"
)

// TemporalScope 只保留窗口内每条谱系可见修订对应的物理行
//
//	table.pk IN (SELECT entity_id FROM revisions WHERE id IN (
//	    SELECT MAX(id) FROM revisions WHERE entity_type = ? AND <window> GROUP BY lineage_id))
func TemporalScope(entityType, table, primaryKey string, window entity.Window) func(*gorm.DB) *gorm.DB {
	resolved := window.Resolved()
	return func(db *gorm.DB) *gorm.DB {
		base := db.Session(&gorm.Session{NewDB: true})
		visible := visibleRevisions(base, entityType, resolved)
		entityIDs := base.Model(&entity.Revision{}).Select("entity_id").Where("id IN (?)", visible)
		return db.Where(quoteIdent(table)+"."+quoteIdent(primaryKey)+" IN (?)", entityIDs)
	}
}

// visibleRevisions 构造每条谱系取最大修订 ID 的查询，窗口须已解析
func visibleRevisions(db *gorm.DB, entityType string, w entity.Window) *gorm.DB {
	q := db.Model(&entity.Revision{}).Select("MAX(id)").Where("entity_type = ?", entityType)

	switch w.Until.Kind {
	case entity.BoundInstant:
		q = q.Where("created_at <= ?", w.Until.Instant)
	case entity.BoundCheckpoint:
		q = q.Where("checkpoint_id IN (?)", checkpointsWhere(db, "checkpoint_date <= ?", w.Until.Checkpoint))
	}

	switch w.Since.Kind {
	case entity.BoundInstant:
		q = q.Where("created_at > ?", w.Since.Instant)
	case entity.BoundCheckpoint:
		q = q.Where("checkpoint_id IN (?)", checkpointsWhere(db, "checkpoint_date > ?", w.Since.Checkpoint))
	}

	switch w.Timeline.Mode {
	case entity.TimelineGlobal:
		q = q.Where("timeline_id IS NULL")
	case entity.TimelineExact:
		q = q.Where("timeline_id = ?", w.Timeline.ID)
	}

	return q.Group("lineage_id")
}

func checkpointsWhere(db *gorm.DB, cond string, cp *entity.Checkpoint) *gorm.DB {
	return db.Session(&gorm.Session{NewDB: true}).
		Model(&entity.Checkpoint{}).
		Select("id").
		Where(cond, cp.CheckpointDate)
}
