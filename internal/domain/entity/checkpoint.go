package entity

import (
	"time"
)

// Checkpoint 命名的时间点，按 CheckpointDate 排序而不是按 ID
type Checkpoint struct {
	ID             uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TimelineID     *uint64   `gorm:"column:timeline_id;index" json:"timeline_id,omitempty"`
	Title          string    `gorm:"column:title;type:varchar(255);not null" json:"title"`
	CheckpointDate time.Time `gorm:"column:checkpoint_date;not null;index" json:"checkpoint_date"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName 表名
func (Checkpoint) TableName() string { return "checkpoints" }

// NewCheckpoint 创建检查点
func NewCheckpoint(title string, date time.Time, timeline *Timeline) *Checkpoint {
	cp := &Checkpoint{
		Title:          title,
		CheckpointDate: date.UTC(),
	}
	if timeline != nil {
		id := timeline.ID
		cp.TimelineID = &id
	}
	return cp
}

// TimelineRef 返回时间线 ID 的副本
func (c *Checkpoint) TimelineRef() *uint64 {
	if c.TimelineID == nil {
		return nil
	}
	id := *c.TimelineID
	return &id
}

// InTimeline 判断检查点是否属于给定时间线，nil 表示全局时间线
func (c *Checkpoint) InTimeline(timelineID *uint64) bool {
	if c.TimelineID == nil || timelineID == nil {
		return c.TimelineID == nil && timelineID == nil
	}
	return *c.TimelineID == *timelineID
}

// Direction 最近检查点的查找方向
type Direction int

const (
	// Older 查找 checkpoint_date <= moment 中最近的
	Older Direction = iota
	// Newer 查找 checkpoint_date > moment 中最近的
	Newer
)

// String 实现 fmt.Stringer
func (d Direction) String() string {
	if d == Newer {
		return "newer"
	}
	return "older"
}
