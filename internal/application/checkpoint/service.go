// Package checkpoint 提供检查点与时间线的应用服务
package checkpoint

import (
	"context"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"revision-engine/internal/domain/entity"
	"revision-engine/internal/domain/repository"
	"revision-engine/pkg/errors"
	"revision-engine/pkg/logger"
	"revision-engine/pkg/metrics"
	"revision-engine/pkg/tracer"
)

// Option 服务选项
type Option func(*Service)

// WithClock 替换时钟，Current 以该时钟为准
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service 检查点服务
type Service struct {
	tx          repository.Transactor
	checkpoints repository.CheckpointRepository
	timelines   repository.TimelineRepository
	active      repository.CheckpointStore
	now         func() time.Time

	// 并发读取同一检查点时只查一次库
	lookups singleflight.Group
}

// NewService 创建检查点服务
func NewService(
	tx repository.Transactor,
	checkpoints repository.CheckpointRepository,
	timelines repository.TimelineRepository,
	active repository.CheckpointStore,
	opts ...Option,
) *Service {
	s := &Service{
		tx:          tx,
		checkpoints: checkpoints,
		timelines:   timelines,
		active:      active,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create 创建检查点，timeline 为空表示全局时间线
func (s *Service) Create(ctx context.Context, title string, date time.Time, timeline *entity.Timeline) (*entity.Checkpoint, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.ErrInvalidParam.WithDetail("checkpoint title is required")
	}
	if date.IsZero() {
		return nil, errors.ErrInvalidParam.WithDetail("checkpoint date is required")
	}
	if timeline != nil {
		if _, err := s.timeline(ctx, timeline.ID); err != nil {
			return nil, err
		}
	}

	cp := entity.NewCheckpoint(title, date, timeline)
	if err := s.checkpoints.Create(ctx, cp); err != nil {
		return nil, errors.Persistence(err, "failed to create checkpoint")
	}
	logger.Info(ctx, "checkpoint created", "checkpoint_id", cp.ID, "title", cp.Title)
	return cp, nil
}

// Get 获取检查点，不存在时返回 ErrCheckpointNotFound。
// 事务内的读取不参与合并，只看本事务的数据。
func (s *Service) Get(ctx context.Context, id uint64) (*entity.Checkpoint, error) {
	var (
		cp  *entity.Checkpoint
		err error
	)
	if ctx.Value(repository.TxKey{}) != nil {
		cp, err = s.checkpoints.GetByID(ctx, id)
	} else {
		cp, err = s.lookup(ctx, id)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Persistence(err, "failed to get checkpoint")
	}
	if cp == nil {
		return nil, errors.ErrCheckpointNotFound.WithDetail(strconv.FormatUint(id, 10))
	}
	// 共享结果，返回副本
	out := *cp
	out.TimelineID = cp.TimelineRef()
	return &out, nil
}

// lookup 合并并发读取；查询不随某个调用者取消
func (s *Service) lookup(ctx context.Context, id uint64) (*entity.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shared := context.WithoutCancel(ctx)
	ch := s.lookups.DoChan(strconv.FormatUint(id, 10), func() (any, error) {
		return s.checkpoints.GetByID(shared, id)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		cp, _ := res.Val.(*entity.Checkpoint)
		return cp, nil
	}
}

// Update 更新标题与日期；时间线变化时级联到挂在该检查点上的修订
func (s *Service) Update(ctx context.Context, cp *entity.Checkpoint) error {
	ctx, span := tracer.Start(ctx, "checkpoint.Service.Update")
	defer span.End()

	current, err := s.Get(ctx, cp.ID)
	if err != nil {
		return err
	}
	if cp.TimelineID != nil {
		if _, err := s.timeline(ctx, *cp.TimelineID); err != nil {
			return err
		}
	}

	moved := !current.InTimeline(cp.TimelineID)
	var touched int64
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.checkpoints.Update(ctx, cp); err != nil {
			return err
		}
		if !moved {
			return nil
		}
		n, err := s.checkpoints.SetRevisionTimeline(ctx, cp.ID, cp.TimelineRef())
		touched = n
		return err
	})
	if err != nil {
		tracer.Fail(span, err)
		return errors.Persistence(err, "failed to update checkpoint")
	}

	if moved {
		metrics.CheckpointCascadesTotal.WithLabelValues("move").Inc()
		logger.Info(ctx, "checkpoint moved to another timeline",
			"checkpoint_id", cp.ID,
			"revisions", touched,
		)
	}
	return s.refreshActive(ctx, cp)
}

// MoveToTimeline 把检查点及其修订移到另一条时间线，nil 表示全局时间线
func (s *Service) MoveToTimeline(ctx context.Context, id uint64, timelineID *uint64) (*entity.Checkpoint, error) {
	cp, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if timelineID != nil {
		tid := *timelineID
		timelineID = &tid
	}
	cp.TimelineID = timelineID
	if err := s.Update(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// Delete 删除检查点；修订保留，只清空其检查点与时间线。活动检查点指向它时一并清除
func (s *Service) Delete(ctx context.Context, id uint64) error {
	ctx, span := tracer.Start(ctx, "checkpoint.Service.Delete")
	defer span.End()

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	var detached int64
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		n, err := s.checkpoints.DetachRevisions(ctx, id)
		if err != nil {
			return err
		}
		detached = n
		return s.checkpoints.Delete(ctx, id)
	})
	if err != nil {
		tracer.Fail(span, err)
		return errors.Persistence(err, "failed to delete checkpoint")
	}
	metrics.CheckpointCascadesTotal.WithLabelValues("delete").Inc()

	if s.active != nil {
		active, err := s.active.Retrieve(ctx)
		if err != nil {
			return errors.ErrCacheError.WithError(err)
		}
		if active != nil && active.ID == id {
			if err := s.active.Clear(ctx); err != nil {
				return errors.ErrCacheError.WithError(err)
			}
		}
	}

	logger.Info(ctx, "checkpoint deleted", "checkpoint_id", id, "revisions", detached)
	return nil
}

// Activate 设置当前工作单元的活动检查点
func (s *Service) Activate(ctx context.Context, id uint64) (*entity.Checkpoint, error) {
	cp, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.active.Store(ctx, cp); err != nil {
		return nil, err
	}
	logger.Debug(ctx, "checkpoint activated", "checkpoint_id", cp.ID)
	return cp, nil
}

// Active 当前活动检查点，没有时返回 nil
func (s *Service) Active(ctx context.Context) (*entity.Checkpoint, error) {
	return s.active.Retrieve(ctx)
}

// Deactivate 清除活动检查点
func (s *Service) Deactivate(ctx context.Context) error {
	return s.active.Clear(ctx)
}

// Nearest 按方向查找最近的检查点，没有时返回 nil
func (s *Service) Nearest(ctx context.Context, moment time.Time, direction entity.Direction, timeline entity.TimelineFilter) (*entity.Checkpoint, error) {
	cp, err := s.checkpoints.Nearest(ctx, moment.UTC(), direction, timeline)
	if err != nil {
		return nil, errors.Persistence(err, "failed to find nearest checkpoint")
	}
	return cp, nil
}

// Current 严格早于当前时刻的最近检查点
func (s *Service) Current(ctx context.Context, timeline entity.TimelineFilter) (*entity.Checkpoint, error) {
	cp, err := s.checkpoints.NearestStrict(ctx, s.now().UTC(), timeline)
	if err != nil {
		return nil, errors.Persistence(err, "failed to find current checkpoint")
	}
	return cp, nil
}

// Previous 同一时间线上的前一个检查点
func (s *Service) Previous(ctx context.Context, cp *entity.Checkpoint) (*entity.Checkpoint, error) {
	prev, err := s.checkpoints.NearestStrict(ctx, cp.CheckpointDate, entity.TimelineOf(cp.TimelineID))
	if err != nil {
		return nil, errors.Persistence(err, "failed to find previous checkpoint")
	}
	return prev, nil
}

// Next 同一时间线上的后一个检查点
func (s *Service) Next(ctx context.Context, cp *entity.Checkpoint) (*entity.Checkpoint, error) {
	return s.Nearest(ctx, cp.CheckpointDate, entity.Newer, entity.TimelineOf(cp.TimelineID))
}

// CheckpointsOf 时间线中的检查点，按日期升序
func (s *Service) CheckpointsOf(ctx context.Context, timeline entity.TimelineFilter) ([]*entity.Checkpoint, error) {
	cps, err := s.checkpoints.CheckpointsOf(ctx, timeline)
	if err != nil {
		return nil, errors.Persistence(err, "failed to list checkpoints")
	}
	return cps, nil
}

// Revisions 挂在检查点上的修订
func (s *Service) Revisions(ctx context.Context, id uint64) ([]*entity.Revision, error) {
	revs, err := s.checkpoints.Revisions(ctx, id)
	if err != nil {
		return nil, errors.Persistence(err, "failed to list checkpoint revisions")
	}
	return revs, nil
}

// EntityIDsOf 检查点上某类型被修改的物理行
func (s *Service) EntityIDsOf(ctx context.Context, id uint64, entityType string) ([]uint64, error) {
	ids, err := s.checkpoints.EntityIDs(ctx, id, entityType)
	if err != nil {
		return nil, errors.Persistence(err, "failed to list checkpoint entities")
	}
	return ids, nil
}

// OfLineage 谱系发生修改的全部检查点
func (s *Service) OfLineage(ctx context.Context, entityType string, lineageID uint64) ([]*entity.Checkpoint, error) {
	cps, err := s.checkpoints.OfLineage(ctx, entityType, lineageID)
	if err != nil {
		return nil, errors.Persistence(err, "failed to list lineage checkpoints")
	}
	return cps, nil
}

// CreateTimeline 创建时间线
func (s *Service) CreateTimeline(ctx context.Context, title string) (*entity.Timeline, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.ErrInvalidParam.WithDetail("timeline title is required")
	}
	tl := entity.NewTimeline(title)
	if err := s.timelines.Create(ctx, tl); err != nil {
		return nil, errors.Persistence(err, "failed to create timeline")
	}
	return tl, nil
}

// RenameTimeline 修改时间线标题
func (s *Service) RenameTimeline(ctx context.Context, id uint64, title string) (*entity.Timeline, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.ErrInvalidParam.WithDetail("timeline title is required")
	}
	tl, err := s.timeline(ctx, id)
	if err != nil {
		return nil, err
	}
	tl.Title = title
	if err := s.timelines.Update(ctx, tl); err != nil {
		return nil, errors.Persistence(err, "failed to rename timeline")
	}
	return tl, nil
}

// DeleteTimeline 删除时间线，检查点与修订退回全局时间线
func (s *Service) DeleteTimeline(ctx context.Context, id uint64) error {
	if _, err := s.timeline(ctx, id); err != nil {
		return err
	}
	if err := s.timelines.Delete(ctx, id); err != nil {
		return errors.Persistence(err, "failed to delete timeline")
	}
	metrics.CheckpointCascadesTotal.WithLabelValues("timeline_delete").Inc()

	if s.active == nil {
		return nil
	}
	active, err := s.active.Retrieve(ctx)
	if err != nil || active == nil || active.InTimeline(nil) || *active.TimelineID != id {
		return err
	}
	active.TimelineID = nil
	return s.active.Store(ctx, active)
}

// Timelines 全部时间线
func (s *Service) Timelines(ctx context.Context) ([]*entity.Timeline, error) {
	tls, err := s.timelines.List(ctx)
	if err != nil {
		return nil, errors.Persistence(err, "failed to list timelines")
	}
	return tls, nil
}

func (s *Service) timeline(ctx context.Context, id uint64) (*entity.Timeline, error) {
	tl, err := s.timelines.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Persistence(err, "failed to get timeline")
	}
	if tl == nil {
		return nil, errors.ErrTimelineNotFound.WithDetail(strconv.FormatUint(id, 10))
	}
	return tl, nil
}

// refreshActive 活动检查点被修改时同步存储中的副本
func (s *Service) refreshActive(ctx context.Context, cp *entity.Checkpoint) error {
	if s.active == nil {
		return nil
	}
	active, err := s.active.Retrieve(ctx)
	if err != nil {
		return errors.ErrCacheError.WithError(err)
	}
	if active == nil || active.ID != cp.ID {
		return nil
	}
	if err := s.active.Store(ctx, cp); err != nil {
		return errors.ErrCacheError.WithError(err)
	}
	return nil
}
