//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"github.com/google/wire"

	"revision-engine/internal/application/revision"
	"revision-engine/internal/config"
	"revision-engine/internal/domain/repository"
	"revision-engine/internal/infrastructure/persistence/postgres"
)

// InitializePostgresOnly 仅初始化 PostgreSQL 数据层（用于 bootstrap）
func InitializePostgresOnly(ctx context.Context, cfg *config.Config) (*DataLayer, func(), error) {
	wire.Build(
		PostgresSet,
		wire.Struct(new(DataLayer), "*"),
	)
	return nil, nil, nil
}

// InitializeRevisioning 初始化修订引擎、读取器与检查点服务
func InitializeRevisioning(ctx context.Context, cfg *config.Config, registry *revision.Registry) (*Revisioning, func(), error) {
	wire.Build(
		RepoSet,
		ActiveStoreSet,
		RevisionSet,
		wire.Struct(new(Revisioning), "*"),
	)
	return nil, nil, nil
}

// PostgresSet PostgreSQL 提供者集合
var PostgresSet = wire.NewSet(
	ProvidePostgresClient,
	postgres.NewTxManager,
	postgres.NewRevisionRepository,
	postgres.NewCheckpointRepository,
	postgres.NewTimelineRepository,
	postgres.NewRecordStore,
)

// RepoSet 整合了具体实现与接口绑定的集合
var RepoSet = wire.NewSet(
	PostgresSet,
	// 接口绑定
	wire.Bind(new(repository.Transactor), new(*postgres.TxManager)),
	wire.Bind(new(repository.RevisionRepository), new(*postgres.RevisionRepository)),
	wire.Bind(new(repository.CheckpointRepository), new(*postgres.CheckpointRepository)),
	wire.Bind(new(repository.TimelineRepository), new(*postgres.TimelineRepository)),
	wire.Bind(new(repository.RecordStore), new(*postgres.RecordStore)),
)

// ActiveStoreSet 活动检查点存储
var ActiveStoreSet = wire.NewSet(
	ProvideCheckpointStore,
)

// RevisionSet 应用层服务
var RevisionSet = wire.NewSet(
	ProvideHooks,
	ProvideEngine,
	ProvideReader,
	ProvideCheckpointService,
)
