package entity

// Timeline 时间线，将检查点（间接地包括修订）分组为独立的历史分支
type Timeline struct {
	ID    uint64 `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Title string `gorm:"column:title;type:varchar(255);not null" json:"title"`
}

// TableName 表名
func (Timeline) TableName() string { return "timelines" }

// NewTimeline 创建时间线
func NewTimeline(title string) *Timeline {
	return &Timeline{Title: title}
}
