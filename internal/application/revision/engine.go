package revision

import (
	"context"
	"fmt"
	"time"

	"revision-engine/internal/domain/entity"
	"revision-engine/internal/domain/repository"
	"revision-engine/pkg/errors"
	"revision-engine/pkg/logger"
	"revision-engine/pkg/metrics"
	"revision-engine/pkg/tracer"
)

const defaultMaxDepth = 16

// Result 一次修订的结果
//
// Skipped 为 true 表示前置判断拒绝了修订，此时 Revision 为空，不是错误。
type Result struct {
	Entity   *entity.Record
	Previous *entity.Revision
	Revision *entity.Revision
	Skipped  bool
}

// Option 引擎选项
type Option func(*Engine)

// WithClock 替换时钟，修订的 created_at 取自该时钟
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMaxDepth 级联递归的最大深度
func WithMaxDepth(depth int) Option {
	return func(e *Engine) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

// WithHooks 使用外部创建的钩子集合
func WithHooks(h *Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// Engine 写时复制修订引擎
type Engine struct {
	registry *Registry
	tx       repository.Transactor
	ledger   repository.RevisionRepository
	records  repository.RecordStore
	active   repository.CheckpointStore
	hooks    *Hooks
	now      func() time.Time
	maxDepth int
}

// NewEngine 创建修订引擎
func NewEngine(
	registry *Registry,
	tx repository.Transactor,
	ledger repository.RevisionRepository,
	records repository.RecordStore,
	active repository.CheckpointStore,
	opts ...Option,
) *Engine {
	e := &Engine{
		registry: registry,
		tx:       tx,
		ledger:   ledger,
		records:  records,
		active:   active,
		hooks:    NewHooks(),
		now:      time.Now,
		maxDepth: defaultMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry 返回注册表
func (e *Engine) Registry() *Registry { return e.registry }

// Hooks 返回钩子集合
func (e *Engine) Hooks() *Hooks { return e.hooks }

// Create 插入新实体并创建其初始修订
func (e *Engine) Create(ctx context.Context, typeName string, values repository.Row) (*entity.Record, error) {
	et, err := e.entityType(typeName)
	if err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "revision.Engine.Create")
	defer span.End()

	active, err := e.activeCheckpoint(ctx)
	if err != nil {
		return nil, err
	}

	var rec *entity.Record
	err = e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		id, err := e.records.Insert(ctx, et.Table, et.PrimaryKey, values)
		if err != nil {
			return err
		}
		if err := e.ledger.Start(ctx, e.newRevision(et.Name, id, active)); err != nil {
			return err
		}
		row, err := e.records.Load(ctx, et.Table, et.PrimaryKey, id)
		if err != nil {
			return err
		}
		rec = entity.NewRecord(et.Name, id, row)
		return nil
	})
	if err != nil {
		tracer.Fail(span, err)
		return nil, errors.Persistence(err, "failed to create "+typeName)
	}
	return rec, nil
}

// Load 读取实体的一个物理行，唯一列已迁出时从修订元数据回读
func (e *Engine) Load(ctx context.Context, typeName string, id uint64) (*entity.Record, error) {
	et, err := e.entityType(typeName)
	if err != nil {
		return nil, err
	}
	row, err := e.records.Load(ctx, et.Table, et.PrimaryKey, id)
	if err != nil {
		return nil, errors.Persistence(err, "failed to load "+typeName)
	}
	if row == nil {
		return nil, errors.ErrNotFound.WithDetail(fmt.Sprintf("%s#%d", typeName, id))
	}
	rec := entity.NewRecord(typeName, id, row)
	if err := resolveMeta(ctx, e.ledger, et, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Start 为已存在但尚无修订的行创建初始修订
func (e *Engine) Start(ctx context.Context, rec *entity.Record) (*entity.Revision, error) {
	if _, err := e.entityType(rec.Type); err != nil {
		return nil, err
	}
	active, err := e.activeCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	rev := e.newRevision(rec.Type, rec.ID, active)
	if err := e.ledger.Start(ctx, rev); err != nil {
		return nil, errors.Persistence(err, "failed to start revisioning "+rec.String())
	}
	return rev, nil
}

// Update 写入变更：仅涉及忽略列时原地更新，否则先复制出新修订再把变更写到新行
func (e *Engine) Update(ctx context.Context, rec *entity.Record, changes repository.Row) (*Result, error) {
	et, err := e.entityType(rec.Type)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return &Result{Entity: rec, Skipped: true}, nil
	}
	if onlyIgnored(et, changes) {
		if err := e.updateInPlace(ctx, et, rec, changes); err != nil {
			return nil, err
		}
		return &Result{Entity: rec, Skipped: true}, nil
	}
	return e.revise(ctx, et, rec, changes)
}

// PerformRevision 不带变更地复制出新修订
func (e *Engine) PerformRevision(ctx context.Context, rec *entity.Record) (*Result, error) {
	et, err := e.entityType(rec.Type)
	if err != nil {
		return nil, err
	}
	return e.revise(ctx, et, rec, nil)
}

// SoftDelete 先修订，再在新行上写入删除时间
func (e *Engine) SoftDelete(ctx context.Context, rec *entity.Record) (*Result, error) {
	et, err := e.entityType(rec.Type)
	if err != nil {
		return nil, err
	}
	if et.SoftDeleteColumn == "" {
		return nil, errors.ErrInvalidParam.WithDetail(rec.Type + " does not support soft delete")
	}
	return e.revise(ctx, et, rec, repository.Row{et.SoftDeleteColumn: e.now().UTC()})
}

// Delete 物理删除：修复修订链，删除修订与行
func (e *Engine) Delete(ctx context.Context, rec *entity.Record) error {
	et, err := e.entityType(rec.Type)
	if err != nil {
		return err
	}
	ctx, span := tracer.StartEntity(ctx, "revision.Engine.Delete", rec.Type, rec.ID)
	defer span.End()

	err = e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		rev, err := e.ledger.GetByEntity(ctx, rec.Type, rec.ID)
		if err != nil {
			return err
		}
		if rev != nil {
			if err := e.ledger.RepairOnDelete(ctx, rev); err != nil {
				return err
			}
			if err := e.ledger.Delete(ctx, rev.ID); err != nil {
				return err
			}
		}
		return e.records.Delete(ctx, et.Table, et.PrimaryKey, rec.ID)
	})
	if err != nil {
		tracer.Fail(span, err)
		return errors.Persistence(err, "failed to delete "+rec.String())
	}
	logger.Info(ctx, "revisioned entity deleted", "entity", rec.String())
	return nil
}

// revise 状态机 Created/Revisioned -> Revisioning -> Revisioned，失败时回到原状态
func (e *Engine) revise(ctx context.Context, et *EntityType, rec *entity.Record, changes repository.Row) (*Result, error) {
	ctx, span := tracer.StartEntity(ctx, "revision.Engine.PerformRevision", rec.Type, rec.ID)
	defer span.End()
	ctx = logger.WithContext(ctx, logger.EntityTypeKey, rec.Type)

	if rec.State == entity.StateRevisioning {
		return nil, errors.Invariant("%s is already being revisioned", rec)
	}
	begin := time.Now()

	proceed, err := e.guard(ctx, et, rec, changes)
	if err != nil {
		tracer.Fail(span, err)
		return nil, err
	}
	if !proceed {
		if len(changes) > 0 {
			if err := e.updateInPlace(ctx, et, rec, changes); err != nil {
				return nil, err
			}
		}
		metrics.RecordRevision(rec.Type, "skipped", 0)
		logger.Debug(ctx, "revision skipped by policy", "entity", rec.String())
		return &Result{Entity: rec, Skipped: true}, nil
	}

	active, err := e.activeCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	if active != nil {
		ctx = logger.WithContext(ctx, logger.CheckpointIDKey, active.ID)
	}

	prevState := rec.State
	rec.State = entity.StateRevisioning

	var (
		out *outcome
		row repository.Row
		cas = newCascade(e, active)
	)
	err = e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := cas.revise(ctx, et, rec.ID, changes, 0)
		if err != nil {
			return err
		}
		loaded, err := e.records.Load(ctx, et.Table, et.PrimaryKey, o.entityID)
		if err != nil {
			return err
		}
		if loaded == nil {
			return fmt.Errorf("copied %s row %d disappeared", et.Name, o.entityID)
		}
		out, row = o, loaded
		return nil
	})
	if err != nil {
		rec.State = prevState
		tracer.Fail(span, err)
		metrics.RecordRevision(rec.Type, "failed", 0)
		logger.Error(ctx, "revision failed", err, "entity", rec.String())
		return nil, errors.Persistence(err, "failed to revision "+rec.String())
	}

	// 句柄重定向到新物理行
	rec.ID = out.entityID
	rec.Attributes = row
	rec.State = entity.StateRevisioned

	res := &Result{Entity: rec, Previous: out.previous, Revision: out.revision}
	metrics.RecordRevision(rec.Type, "revisioned", time.Since(begin).Seconds())
	logger.Debug(ctx, "entity revisioned",
		"entity", rec.String(),
		"revision_id", out.revision.ID,
		"previous_revision_id", out.previous.ID,
	)
	// 子实体先于父实体通知
	for _, child := range cas.revised {
		metrics.RevisionsTotal.WithLabelValues(child.Entity.Type, "revisioned").Inc()
		e.hooks.afterRevision(ctx, child)
	}
	e.hooks.afterRevision(ctx, res)
	return res, nil
}

func (e *Engine) guard(ctx context.Context, et *EntityType, rec *entity.Record, changes repository.Row) (bool, error) {
	if et.ShouldRevision != nil && !et.ShouldRevision(ctx, rec, changes) {
		return false, nil
	}
	return e.hooks.beforeRevision(ctx, rec, changes)
}

func (e *Engine) updateInPlace(ctx context.Context, et *EntityType, rec *entity.Record, changes repository.Row) error {
	if err := e.records.Update(ctx, et.Table, et.PrimaryKey, rec.ID, changes); err != nil {
		return errors.Persistence(err, "failed to update "+rec.String())
	}
	if rec.Attributes == nil {
		rec.Attributes = make(map[string]any, len(changes))
	}
	for k, v := range changes {
		rec.Attributes[k] = v
	}
	return nil
}

func (e *Engine) activeCheckpoint(ctx context.Context) (*entity.Checkpoint, error) {
	if e.active == nil {
		return nil, nil
	}
	cp, err := e.active.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve active checkpoint: %w", err)
	}
	return cp, nil
}

// newRevision 新修订带上活动检查点及其时间线
func (e *Engine) newRevision(typeName string, entityID uint64, active *entity.Checkpoint) *entity.Revision {
	rev := &entity.Revision{
		EntityType: typeName,
		EntityID:   entityID,
		CreatedAt:  e.now().UTC(),
	}
	rev.AttachCheckpoint(active)
	return rev
}

func (e *Engine) entityType(name string) (*EntityType, error) {
	et, ok := e.registry.Lookup(name)
	if !ok {
		return nil, errors.ErrInvalidParam.WithDetail("unregistered entity type " + name)
	}
	return et, nil
}

func onlyIgnored(et *EntityType, changes repository.Row) bool {
	if len(et.Ignored) == 0 {
		return false
	}
	for col := range changes {
		if !et.isIgnored(col) {
			return false
		}
	}
	return true
}

// resolveMeta 行上为空的唯一列从该行修订的元数据回读
func resolveMeta(ctx context.Context, ledger repository.RevisionRepository, et *EntityType, rec *entity.Record) error {
	var missing []string
	for _, col := range et.Meta {
		if rec.Get(col) == nil {
			missing = append(missing, col)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	rev, err := ledger.GetByEntity(ctx, rec.Type, rec.ID)
	if err != nil {
		return errors.Persistence(err, "failed to load revision of "+rec.String())
	}
	if rev == nil {
		return nil
	}
	for _, col := range missing {
		if v, ok := rev.MetaValue(col); ok {
			rec.Attributes[col] = v
		}
	}
	return nil
}
