// Package config 提供配置加载和管理功能
package config

import (
	"time"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Revisioning   RevisioningConfig   `yaml:"revisioning" mapstructure:"revisioning"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Database        string        `yaml:"database" mapstructure:"database"`
	SSLMode         string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" mapstructure:"slow_threshold"`
	LogLevel        string        `yaml:"log_level" mapstructure:"log_level"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Port    int    `yaml:"port" mapstructure:"port"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// 活动检查点存储后端
const (
	ActiveStoreMemory  = "memory"
	ActiveStoreContext = "context"
	ActiveStoreRedis   = "redis"
)

// RevisioningConfig 修订引擎配置
type RevisioningConfig struct {
	// ActiveStore 活动检查点存储后端：memory / context / redis
	ActiveStore string `yaml:"active_store" mapstructure:"active_store"`
	// ActiveTTL redis 后端中活动检查点的过期时间
	ActiveTTL time.Duration `yaml:"active_ttl" mapstructure:"active_ttl"`
	// ActiveKeyPrefix redis 键前缀
	ActiveKeyPrefix string `yaml:"active_key_prefix" mapstructure:"active_key_prefix"`
	// MaxCascadeDepth 级联修订的最大递归深度
	MaxCascadeDepth int `yaml:"max_cascade_depth" mapstructure:"max_cascade_depth"`

	Events    EventsConfig    `yaml:"events" mapstructure:"events"`
	Bootstrap BootstrapConfig `yaml:"bootstrap" mapstructure:"bootstrap"`
}

// EventsConfig 修订事件发布到 Redis Streams 的配置
type EventsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Stream  string `yaml:"stream" mapstructure:"stream"`
	MaxLen  int64  `yaml:"max_len" mapstructure:"max_len"`
}

// BootstrapConfig 存量数据初始化修订的配置
type BootstrapConfig struct {
	BatchSize   int               `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency int               `yaml:"concurrency" mapstructure:"concurrency"`
	Tables      []BootstrapTarget `yaml:"tables" mapstructure:"tables"`
}

// BootstrapTarget 需要初始化修订的实体表
type BootstrapTarget struct {
	EntityType string `yaml:"entity_type" mapstructure:"entity_type"`
	Table      string `yaml:"table" mapstructure:"table"`
	PrimaryKey string `yaml:"primary_key" mapstructure:"primary_key"`
}
