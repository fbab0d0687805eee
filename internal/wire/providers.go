package wire

import (
	"context"
	"fmt"

	"revision-engine/internal/application/activecontext"
	"revision-engine/internal/application/checkpoint"
	"revision-engine/internal/application/revision"
	"revision-engine/internal/config"
	"revision-engine/internal/domain/repository"
	"revision-engine/internal/infrastructure/messaging"
	"revision-engine/internal/infrastructure/persistence/postgres"
	"revision-engine/internal/infrastructure/persistence/redis"
	"revision-engine/pkg/logger"
)

// DataLayer 数据层依赖容器
type DataLayer struct {
	PgClient    *postgres.Client
	TxManager   *postgres.TxManager
	Revisions   *postgres.RevisionRepository
	Checkpoints *postgres.CheckpointRepository
	Timelines   *postgres.TimelineRepository
	Records     *postgres.RecordStore
}

// Revisioning 应用层依赖容器
type Revisioning struct {
	Engine      *revision.Engine
	Reader      *revision.Reader
	Checkpoints *checkpoint.Service
	Active      repository.CheckpointStore
}

// ProvidePostgresClient 提供 PostgreSQL 客户端
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		client.Close()
	}
	return client, cleanup, nil
}

// ProvideCheckpointStore 按配置选择活动检查点后端，redis 后端才建立连接
func ProvideCheckpointStore(ctx context.Context, cfg *config.Config) (repository.CheckpointStore, func(), error) {
	rc := cfg.Revisioning
	switch rc.ActiveStore {
	case "", config.ActiveStoreMemory:
		return activecontext.NewBasicStore(), func() {}, nil
	case config.ActiveStoreContext:
		return activecontext.NewContextStore(), func() {}, nil
	case config.ActiveStoreRedis:
		client, err := redis.NewClient(&cfg.Cache.Redis)
		if err != nil {
			return nil, nil, err
		}
		logger.Info(ctx, "active checkpoint stored in redis", "prefix", rc.ActiveKeyPrefix, "ttl", rc.ActiveTTL.String())
		cleanup := func() {
			client.Close()
		}
		return redis.NewCheckpointStore(client, rc.ActiveKeyPrefix, rc.ActiveTTL), cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown active checkpoint store %q", rc.ActiveStore)
	}
}

// ProvideHooks 提供钩子集合；启用事件发布时注册一个向 Redis Streams 写入的 OnRevisioned 钩子
func ProvideHooks(ctx context.Context, cfg *config.Config) (*revision.Hooks, func(), error) {
	hooks := revision.NewHooks()
	ec := cfg.Revisioning.Events
	if !ec.Enabled {
		return hooks, func() {}, nil
	}

	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	producer := messaging.NewProducer(client.Redis(), messaging.Stream(ec.Stream), ec.MaxLen)
	hooks.OnRevisioned(revision.AnyType, PublishRevisions(producer))
	logger.Info(ctx, "revision events enabled", "stream", string(producer.Stream()))

	cleanup := func() {
		client.Close()
	}
	return hooks, cleanup, nil
}

// PublishRevisions 把修订结果转换为事件发布；发布失败只记录日志，不影响已提交的修订
func PublishRevisions(producer *messaging.Producer) revision.RevisionedHook {
	return func(ctx context.Context, res *revision.Result) {
		if res.Skipped || res.Revision == nil {
			return
		}
		ev := &messaging.RevisionEventMessage{
			EntityType:   res.Entity.Type,
			EntityID:     res.Entity.ID,
			RevisionID:   res.Revision.ID,
			LineageID:    res.Revision.LineageID,
			CheckpointID: res.Revision.CheckpointID,
			TimelineID:   res.Revision.TimelineID,
		}
		if res.Previous != nil {
			ev.PreviousEntityID = res.Previous.EntityID
		}
		if _, err := producer.PublishRevision(ctx, ev); err != nil {
			logger.Warn(ctx, "failed to publish revision event", "error", err.Error(), "entity_id", ev.EntityID)
		}
	}
}

// ProvideEngine 提供修订引擎
func ProvideEngine(
	cfg *config.Config,
	registry *revision.Registry,
	hooks *revision.Hooks,
	tx repository.Transactor,
	ledger repository.RevisionRepository,
	records repository.RecordStore,
	active repository.CheckpointStore,
) *revision.Engine {
	return revision.NewEngine(registry, tx, ledger, records, active,
		revision.WithMaxDepth(cfg.Revisioning.MaxCascadeDepth),
		revision.WithHooks(hooks),
	)
}

// ProvideReader 提供时间范围读取器
func ProvideReader(
	registry *revision.Registry,
	ledger repository.RevisionRepository,
	records repository.RecordStore,
	active repository.CheckpointStore,
) *revision.Reader {
	return revision.NewReader(registry, ledger, records, active, nil)
}

// ProvideCheckpointService 提供检查点服务
func ProvideCheckpointService(
	tx repository.Transactor,
	checkpoints repository.CheckpointRepository,
	timelines repository.TimelineRepository,
	active repository.CheckpointStore,
) *checkpoint.Service {
	return checkpoint.NewService(tx, checkpoints, timelines, active)
}
