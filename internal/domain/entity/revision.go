// Package entity 定义领域实体
package entity

import (
	"time"

	"gorm.io/datatypes"
)

// Revision 修订标记，串联同一实体谱系的不可变版本
//
// LineageID 等于谱系中 PreviousRevisionID 为空的那条修订的 ID。
// 是否为最新修订由链推导（没有后继即最新），不单独存储。
type Revision struct {
	ID                 uint64            `gorm:"column:id;primaryKey;autoIncrement;index:idx_revisions_lineage_type_id,priority:3" json:"id"`
	EntityType         string            `gorm:"column:entity_type;type:varchar(191);not null;index:idx_revisions_type_lineage,priority:1;index:idx_revisions_lineage_type_id,priority:2;uniqueIndex:uq_revisions_entity,priority:1" json:"entity_type"`
	EntityID           uint64            `gorm:"column:entity_id;not null;uniqueIndex:uq_revisions_entity,priority:2" json:"entity_id"`
	LineageID          uint64            `gorm:"column:lineage_id;not null;default:0;index:idx_revisions_type_lineage,priority:2;index:idx_revisions_lineage_type_id,priority:1" json:"lineage_id"`
	PreviousRevisionID *uint64           `gorm:"column:previous_revision_id;index" json:"previous_revision_id,omitempty"`
	CheckpointID       *uint64           `gorm:"column:checkpoint_id;index" json:"checkpoint_id,omitempty"`
	TimelineID         *uint64           `gorm:"column:timeline_id;index" json:"timeline_id,omitempty"`
	Metadata           datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt          time.Time         `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt          time.Time         `gorm:"column:updated_at" json:"updated_at"`
}

// TableName 表名
func (Revision) TableName() string { return "revisions" }

// IsNew 是否为谱系的初始修订
func (r *Revision) IsNew() bool {
	return r.PreviousRevisionID == nil
}

// IsNewAt 在给定检查点上是否为新建
func (r *Revision) IsNewAt(cp *Checkpoint) bool {
	if r.CheckpointID != nil {
		return r.IsNew() && cp != nil && *r.CheckpointID == cp.ID
	}
	return r.IsNew()
}

// IsUpdatedAt 在给定检查点上是否为更新
func (r *Revision) IsUpdatedAt(cp *Checkpoint) bool {
	if r.IsNew() {
		return false
	}
	return r.CheckpointID == nil || (cp != nil && *r.CheckpointID == cp.ID)
}

// MetaValue 读取迁移到修订元数据中的列值
func (r *Revision) MetaValue(column string) (any, bool) {
	if r.Metadata == nil {
		return nil, false
	}
	v, ok := r.Metadata[column]
	return v, ok
}

// AttachCheckpoint 关联检查点，时间线随检查点保持一致
func (r *Revision) AttachCheckpoint(cp *Checkpoint) {
	if cp == nil {
		r.CheckpointID = nil
		r.TimelineID = nil
		return
	}
	id := cp.ID
	r.CheckpointID = &id
	r.TimelineID = cp.TimelineRef()
}
