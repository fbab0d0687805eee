package revision

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"revision-engine/internal/domain/entity"
	"revision-engine/internal/domain/repository"
	"revision-engine/pkg/errors"
	"revision-engine/pkg/tracer"
)

// QueryOption 时间范围查询选项
type QueryOption func(*query)

type query struct {
	window   entity.Window
	untilSet    bool
	bypass      bool
	withTrashed bool
}

func collect(opts []QueryOption) *query {
	q := &query{}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Until 上界；传 entity.Unbounded() 表示不设上界
func Until(b entity.Bound) QueryOption {
	return func(q *query) {
		q.window.Until = b
		q.untilSet = true
	}
}

// Since 下界
func Since(b entity.Bound) QueryOption {
	return func(q *query) { q.window.Since = b }
}

// At 截止到某一时刻
func At(t time.Time) QueryOption {
	return Until(entity.AtInstant(t))
}

// AtCheckpoint 截止到某一检查点，未指定时间线时沿用检查点的时间线
func AtCheckpoint(cp *entity.Checkpoint) QueryOption {
	return Until(entity.AtCheckpoint(cp))
}

// OnTimeline 显式时间线过滤
func OnTimeline(f entity.TimelineFilter) QueryOption {
	return func(q *query) {
		q.window.Timeline = f
		q.window.TimelineSet = true
	}
}

// Bypass 不做任何修订过滤，返回所有物理行
func Bypass() QueryOption {
	return func(q *query) { q.bypass = true }
}

// WithTrashed 保留已软删除的行；默认按软删除列过滤
func WithTrashed() QueryOption {
	return func(q *query) { q.withTrashed = true }
}

// Reader 时间范围读取与修订链导航
type Reader struct {
	registry *Registry
	ledger   repository.RevisionRepository
	records  repository.RecordStore
	active   repository.CheckpointStore
	now      func() time.Time
}

// NewReader 创建读取器，now 为空时使用 time.Now
func NewReader(
	registry *Registry,
	ledger repository.RevisionRepository,
	records repository.RecordStore,
	active repository.CheckpointStore,
	now func() time.Time,
) *Reader {
	if now == nil {
		now = time.Now
	}
	return &Reader{
		registry: registry,
		ledger:   ledger,
		records:  records,
		active:   active,
		now:      now,
	}
}

// Window 解析查询窗口：未给上界时取活动检查点，没有活动检查点则取当前时刻
func (r *Reader) Window(ctx context.Context, opts ...QueryOption) (entity.Window, bool, error) {
	q := collect(opts)
	if q.bypass {
		return entity.Window{}, true, nil
	}
	if !q.untilSet {
		var active *entity.Checkpoint
		if r.active != nil {
			cp, err := r.active.Retrieve(ctx)
			if err != nil {
				return entity.Window{}, false, fmt.Errorf("failed to retrieve active checkpoint: %w", err)
			}
			active = cp
		}
		if active != nil {
			q.window.Until = entity.AtCheckpoint(active)
		} else {
			q.window.Until = entity.AtInstant(r.now())
		}
	}
	return q.window.Resolved(), false, nil
}

// VisibleRevisionIDs 窗口内每条谱系可见的修订 ID
func (r *Reader) VisibleRevisionIDs(ctx context.Context, typeName string, opts ...QueryOption) ([]uint64, error) {
	if _, err := r.entityType(typeName); err != nil {
		return nil, err
	}
	window, bypass, err := r.Window(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if bypass {
		return nil, errors.ErrInvalidParam.WithDetail("bypass has no visible revision set")
	}
	ids, err := r.ledger.VisibleIDs(ctx, typeName, window)
	if err != nil {
		return nil, errors.Persistence(err, "failed to resolve visible revisions")
	}
	return ids, nil
}

// Scope 可直接用于 gorm 查询的过滤，作用于实体类型的表。
// Bypass 时不做任何过滤；否则在时间窗口之外还会排除已软删除的行，除非给出 WithTrashed。
func (r *Reader) Scope(ctx context.Context, typeName string, opts ...QueryOption) (func(*gorm.DB) *gorm.DB, error) {
	et, err := r.entityType(typeName)
	if err != nil {
		return nil, err
	}
	window, bypass, err := r.Window(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if bypass {
		return func(db *gorm.DB) *gorm.DB { return db }, nil
	}
	temporal := r.ledger.Scope(et.Name, et.Table, et.PrimaryKey, window)
	if et.SoftDeleteColumn == "" || collect(opts).withTrashed {
		return temporal, nil
	}
	live := clause.Eq{Column: clause.Column{Table: et.Table, Name: et.SoftDeleteColumn}, Value: nil}
	return func(db *gorm.DB) *gorm.DB {
		return temporal(db).Where(live)
	}, nil
}

// Find 读取窗口内可见的实体，按主键升序
func (r *Reader) Find(ctx context.Context, typeName string, opts ...QueryOption) ([]*entity.Record, error) {
	ctx, span := tracer.Start(ctx, "revision.Reader.Find")
	defer span.End()

	et, err := r.entityType(typeName)
	if err != nil {
		return nil, err
	}
	scope, err := r.Scope(ctx, typeName, opts...)
	if err != nil {
		return nil, err
	}
	rows, err := r.records.Scan(ctx, et.Table, et.PrimaryKey, scope)
	if err != nil {
		tracer.Fail(span, err)
		return nil, errors.Persistence(err, "failed to query "+typeName)
	}

	out := make([]*entity.Record, 0, len(rows))
	for _, row := range rows {
		id, ok := entity.ToUint64(row[et.PrimaryKey])
		if !ok {
			return nil, fmt.Errorf("%s.%s: unreadable primary key %v", et.Table, et.PrimaryKey, row[et.PrimaryKey])
		}
		rec := entity.NewRecord(typeName, id, row)
		rec.State = entity.StateRevisioned
		if err := resolveMeta(ctx, r.ledger, et, rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Step 修订链上的导航方向
type Step int

const (
	// StepInitial 谱系的第一个修订
	StepInitial Step = iota
	// StepPrevious 直接前驱
	StepPrevious
	// StepNext 直接后继
	StepNext
	// StepLatest 谱系的最新修订
	StepLatest
)

// RevisionOf 物理行的修订，未受修订控制时返回 ErrRevisionNotFound
func (r *Reader) RevisionOf(ctx context.Context, rec *entity.Record) (*entity.Revision, error) {
	rev, err := r.ledger.GetByEntity(ctx, rec.Type, rec.ID)
	if err != nil {
		return nil, errors.Persistence(err, "failed to load revision of "+rec.String())
	}
	if rev == nil {
		return nil, errors.ErrRevisionNotFound.WithDetail(rec.String())
	}
	return rev, nil
}

// Navigate 沿修订链移动，返回目标物理行 ID；不存在时第二个返回值为 false
func (r *Reader) Navigate(ctx context.Context, rec *entity.Record, step Step) (uint64, bool, error) {
	rev, err := r.RevisionOf(ctx, rec)
	if err != nil {
		return 0, false, err
	}

	var target *entity.Revision
	switch step {
	case StepInitial:
		target, err = r.ledger.Initial(ctx, rev)
	case StepPrevious:
		target, err = r.ledger.Previous(ctx, rev)
	case StepNext:
		target, err = r.ledger.Next(ctx, rev)
	case StepLatest:
		target, err = r.ledger.Latest(ctx, rev)
	default:
		return 0, false, errors.ErrInvalidParam.WithDetail(fmt.Sprintf("unknown step %d", step))
	}
	if err != nil {
		return 0, false, errors.Persistence(err, "failed to navigate revisions of "+rec.String())
	}
	if target == nil {
		return 0, false, nil
	}
	return target.EntityID, true, nil
}

// IsLatest 物理行是否为谱系的最新版本
func (r *Reader) IsLatest(ctx context.Context, rec *entity.Record) (bool, error) {
	rev, err := r.RevisionOf(ctx, rec)
	if err != nil {
		return false, err
	}
	latest, err := r.ledger.IsLatest(ctx, rev)
	if err != nil {
		return false, errors.Persistence(err, "failed to check latest revision")
	}
	return latest, nil
}

// History 谱系的全部修订，按 ID 升序
func (r *Reader) History(ctx context.Context, rec *entity.Record) ([]*entity.Revision, error) {
	rev, err := r.RevisionOf(ctx, rec)
	if err != nil {
		return nil, err
	}
	revs, err := r.ledger.Lineage(ctx, rev.EntityType, rev.LineageID)
	if err != nil {
		return nil, errors.Persistence(err, "failed to load lineage")
	}
	return revs, nil
}

// Others 谱系中除自身外的修订
func (r *Reader) Others(ctx context.Context, rec *entity.Record) ([]*entity.Revision, error) {
	revs, err := r.History(ctx, rec)
	if err != nil {
		return nil, err
	}
	out := revs[:0]
	for _, rev := range revs {
		if rev.EntityID != rec.ID {
			out = append(out, rev)
		}
	}
	return out, nil
}

// Chain 从当前修订回溯到初始修订并校验链的完整性
func (r *Reader) Chain(ctx context.Context, rec *entity.Record) ([]*entity.Revision, error) {
	rev, err := r.RevisionOf(ctx, rec)
	if err != nil {
		return nil, err
	}
	return r.ledger.Chain(ctx, rev)
}

// Revisions 分页列出某类型的全部修订，不受时间窗口约束
func (r *Reader) Revisions(ctx context.Context, typeName string, page, pageSize int) (*repository.PagedResult[*entity.Revision], error) {
	et, err := r.entityType(typeName)
	if err != nil {
		return nil, err
	}
	res, err := r.ledger.ListByType(ctx, et.Name, repository.NewPagination(page, pageSize))
	if err != nil {
		return nil, errors.Persistence(err, "failed to list revisions")
	}
	return res, nil
}

func (r *Reader) entityType(name string) (*EntityType, error) {
	et, ok := r.registry.Lookup(name)
	if !ok {
		return nil, errors.ErrInvalidParam.WithDetail("unregistered entity type " + name)
	}
	return et, nil
}
