// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"revision-engine/internal/domain/repository"
)

// RecordStore 基于表名与列名的通用行访问
type RecordStore struct {
	client *Client
}

// NewRecordStore 创建通用行存储
func NewRecordStore(client *Client) *RecordStore {
	return &RecordStore{client: client}
}

// Load 读取一行，不存在时返回 nil
func (s *RecordStore) Load(ctx context.Context, table, primaryKey string, id uint64) (repository.Row, error) {
	ctx, span := tracer.Start(ctx, "postgres.RecordStore.Load")
	defer span.End()
	span.SetAttributes(attribute.String("table", table), attribute.Int64("id", int64(id)))

	db := getDB(ctx, s.client.db)
	row := map[string]any{}
	if err := db.Table(table).Where(quoteIdent(primaryKey)+" = ?", id).Take(&row).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load %s row: %w", table, err)
	}
	return repository.Row(row), nil
}

// Insert 插入一行，返回主键；primaryKey 为空表示无主键表（如中间表），返回 0
func (s *RecordStore) Insert(ctx context.Context, table, primaryKey string, values repository.Row) (uint64, error) {
	ctx, span := tracer.Start(ctx, "postgres.RecordStore.Insert")
	defer span.End()
	span.SetAttributes(attribute.String("table", table))

	cols := sortedColumns(values, primaryKey)

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(quoteIdent(table))
	args := make([]any, 0, len(cols))
	if len(cols) == 0 {
		sb.WriteString(" DEFAULT VALUES")
	} else {
		quoted := make([]string, len(cols))
		marks := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = quoteIdent(c)
			marks[i] = "?"
			args = append(args, values[c])
		}
		sb.WriteString(" (" + strings.Join(quoted, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")")
	}
	db := getDB(ctx, s.client.db)
	if primaryKey == "" {
		if err := db.Exec(sb.String(), args...).Error; err != nil {
			span.RecordError(err)
			return 0, fmt.Errorf("failed to insert %s row: %w", table, err)
		}
		return 0, nil
	}

	sb.WriteString(" RETURNING ")
	sb.WriteString(quoteIdent(primaryKey))

	var id uint64
	if err := db.Raw(sb.String(), args...).Scan(&id).Error; err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to insert %s row: %w", table, err)
	}
	if id == 0 {
		return 0, fmt.Errorf("failed to insert %s row: no primary key returned", table)
	}
	return id, nil
}

// Duplicate 复制一行为新物理行
func (s *RecordStore) Duplicate(ctx context.Context, table, primaryKey string, id uint64, exclude []string, overrides repository.Row) (uint64, error) {
	ctx, span := tracer.Start(ctx, "postgres.RecordStore.Duplicate")
	defer span.End()

	row, err := s.Load(ctx, table, primaryKey, id)
	if err != nil {
		return 0, err
	}
	if row == nil {
		return 0, fmt.Errorf("failed to duplicate %s row %d: %w", table, id, gorm.ErrRecordNotFound)
	}

	delete(row, primaryKey)
	for _, c := range exclude {
		delete(row, c)
	}
	for k, v := range overrides {
		row[k] = v
	}
	return s.Insert(ctx, table, primaryKey, row)
}

// Update 按主键更新
func (s *RecordStore) Update(ctx context.Context, table, primaryKey string, id uint64, values repository.Row) error {
	ctx, span := tracer.Start(ctx, "postgres.RecordStore.Update")
	defer span.End()

	if len(values) == 0 {
		return nil
	}
	db := getDB(ctx, s.client.db)
	if err := db.Table(table).Where(quoteIdent(primaryKey)+" = ?", id).Updates(map[string]any(values)).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update %s row: %w", table, err)
	}
	return nil
}

// Delete 按主键删除
func (s *RecordStore) Delete(ctx context.Context, table, primaryKey string, id uint64) error {
	ctx, span := tracer.Start(ctx, "postgres.RecordStore.Delete")
	defer span.End()

	db := getDB(ctx, s.client.db)
	sql := "DELETE FROM " + quoteIdent(table) + " WHERE " + quoteIdent(primaryKey) + " = ?"
	if err := db.Exec(sql, id).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete %s row: %w", table, err)
	}
	return nil
}

// FindBy 按等值条件读取多行，nil 值匹配 IS NULL
func (s *RecordStore) FindBy(ctx context.Context, table string, where repository.Row, orderBy string) ([]repository.Row, error) {
	ctx, span := tracer.Start(ctx, "postgres.RecordStore.FindBy")
	defer span.End()

	db := getDB(ctx, s.client.db)
	q := applyEquals(db.Table(table), where)
	if orderBy != "" {
		q = q.Order(quoteIdent(orderBy) + " ASC")
	}

	var rows []map[string]any
	if err := q.Find(&rows).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to find %s rows: %w", table, err)
	}
	out := make([]repository.Row, len(rows))
	for i, r := range rows {
		out[i] = repository.Row(r)
	}
	return out, nil
}

// Scan 读取经 scopes 过滤后的行，时间范围查询经此读取实体表
func (s *RecordStore) Scan(ctx context.Context, table, orderBy string, scopes ...func(*gorm.DB) *gorm.DB) ([]repository.Row, error) {
	ctx, span := tracer.Start(ctx, "postgres.RecordStore.Scan")
	defer span.End()

	db := getDB(ctx, s.client.db)
	q := db.Table(table).Scopes(scopes...)
	if orderBy != "" {
		q = q.Order(quoteIdent(table) + "." + quoteIdent(orderBy) + " ASC")
	}

	var rows []map[string]any
	if err := q.Find(&rows).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to scan %s rows: %w", table, err)
	}
	out := make([]repository.Row, len(rows))
	for i, r := range rows {
		out[i] = repository.Row(r)
	}
	return out, nil
}

// UpdateWhere 集合更新，返回受影响行数
func (s *RecordStore) UpdateWhere(ctx context.Context, table string, where repository.Row, values repository.Row) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.RecordStore.UpdateWhere")
	defer span.End()

	if len(values) == 0 {
		return 0, nil
	}
	db := getDB(ctx, s.client.db)
	res := applyEquals(db.Table(table), where).Updates(map[string]any(values))
	if res.Error != nil {
		span.RecordError(res.Error)
		return 0, fmt.Errorf("failed to update %s rows: %w", table, res.Error)
	}
	return res.RowsAffected, nil
}

// IDsAfter 主键大于 after 的一批 ID
func (s *RecordStore) IDsAfter(ctx context.Context, table, primaryKey string, after uint64, limit int) ([]uint64, error) {
	ctx, span := tracer.Start(ctx, "postgres.RecordStore.IDsAfter")
	defer span.End()

	db := getDB(ctx, s.client.db)
	var ids []uint64
	if err := db.Table(table).
		Where(quoteIdent(primaryKey)+" > ?", after).
		Order(quoteIdent(primaryKey) + " ASC").
		Limit(limit).
		Pluck(primaryKey, &ids).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list %s ids: %w", table, err)
	}
	return ids, nil
}

func applyEquals(q *gorm.DB, where repository.Row) *gorm.DB {
	for _, col := range sortedColumns(where, "") {
		if where[col] == nil {
			q = q.Where(quoteIdent(col) + " IS NULL")
			continue
		}
		q = q.Where(quoteIdent(col)+" = ?", where[col])
	}
	return q
}

// sortedColumns 返回列名（排除 skip）排序后的列表，保证生成的 SQL 稳定
func sortedColumns(values repository.Row, skip string) []string {
	cols := make([]string, 0, len(values))
	for c := range values {
		if c == skip {
			continue
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
