// Package testutil 提供测试用的内存数据库与示例表
package testutil

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"revision-engine/internal/domain/entity"
)

// NewDB 打开单连接的内存 SQLite 并建好修订相关表
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 内存库只存在于单个连接
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&entity.Timeline{}, &entity.Checkpoint{}, &entity.Revision{}))
	return db
}

var blogTables = []string{
	`CREATE TABLE authors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		author_id INTEGER,
		title TEXT NOT NULL DEFAULT '',
		slug TEXT UNIQUE,
		body TEXT,
		views INTEGER NOT NULL DEFAULT 0,
		deleted_at DATETIME
	)`,
	`CREATE TABLE post_settings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		post_id INTEGER NOT NULL,
		theme TEXT
	)`,
	`CREATE TABLE comments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		post_id INTEGER NOT NULL,
		body TEXT
	)`,
	`CREATE TABLE tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE post_tag (
		post_id INTEGER NOT NULL,
		tag_id INTEGER NOT NULL,
		position INTEGER
	)`,
}

// CreateBlogTables 建立博客示例表：
// posts 属于 authors，拥有 post_settings（单个）与 comments（多个），经 post_tag 关联 tags
func CreateBlogTables(t testing.TB, db *gorm.DB) {
	t.Helper()
	for _, ddl := range blogTables {
		require.NoError(t, db.Exec(ddl).Error)
	}
}

// Clock 可手动推进的测试时钟
type Clock struct {
	now time.Time
}

// NewClock 从给定时间开始
func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

// Now 当前时间
func (c *Clock) Now() time.Time { return c.now }

// Set 设置当前时间
func (c *Clock) Set(t time.Time) { c.now = t.UTC() }

// Advance 推进时间
func (c *Clock) Advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}
