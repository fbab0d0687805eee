package repository

import (
	"context"

	"gorm.io/gorm"
)

// Row 按列名索引的一行数据
type Row map[string]any

// Clone 浅拷贝
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RecordStore 通用实体表访问，供修订引擎做行复制与外键更新
type RecordStore interface {
	// Load 读取一行，不存在时返回 nil
	Load(ctx context.Context, table, primaryKey string, id uint64) (Row, error)

	// Insert 插入一行并返回主键，primaryKey 为空时不取回主键
	Insert(ctx context.Context, table, primaryKey string, values Row) (uint64, error)

	// Duplicate 复制一行：排除主键与 exclude 中的列，再应用 overrides
	Duplicate(ctx context.Context, table, primaryKey string, id uint64, exclude []string, overrides Row) (uint64, error)

	// Update 按主键更新
	Update(ctx context.Context, table, primaryKey string, id uint64, values Row) error

	// Delete 按主键删除
	Delete(ctx context.Context, table, primaryKey string, id uint64) error

	// FindBy 按条件读取多行，按 orderBy 升序
	FindBy(ctx context.Context, table string, where Row, orderBy string) ([]Row, error)

	// Scan 读取表中经 scopes 过滤后的全部行
	Scan(ctx context.Context, table, orderBy string, scopes ...func(*gorm.DB) *gorm.DB) ([]Row, error)

	// UpdateWhere 集合更新
	UpdateWhere(ctx context.Context, table string, where Row, values Row) (int64, error)

	// IDsAfter 主键大于 after 的一批 ID，bootstrap 分批遍历使用
	IDsAfter(ctx context.Context, table, primaryKey string, after uint64, limit int) ([]uint64, error)
}
