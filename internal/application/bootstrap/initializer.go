// Package bootstrap 为存量数据建立初始修订
package bootstrap

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"revision-engine/internal/domain/entity"
	"revision-engine/internal/domain/repository"
	"revision-engine/pkg/errors"
	"revision-engine/pkg/logger"
	"revision-engine/pkg/metrics"
)

const (
	defaultBatchSize   = 500
	defaultConcurrency = 4
)

// Target 需要初始化修订的实体表
type Target struct {
	EntityType string
	Table      string
	PrimaryKey string
}

// Report 单张表的处理结果
type Report struct {
	Table   string
	Started int64
	Skipped int64
}

// Initializer 分批遍历实体表，为没有修订的行调用 Start
type Initializer struct {
	ledger      repository.RevisionRepository
	records     repository.RecordStore
	batchSize   int
	concurrency int
	now         func() time.Time
}

// NewInitializer 创建初始化器，batchSize 与 concurrency 非正时取默认值
func NewInitializer(ledger repository.RevisionRepository, records repository.RecordStore, batchSize, concurrency int) *Initializer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Initializer{
		ledger:      ledger,
		records:     records,
		batchSize:   batchSize,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Run 按表并发执行，同一张表内按主键顺序分批；任一表失败即取消其余表
func (i *Initializer) Run(ctx context.Context, targets []Target) ([]Report, error) {
	for _, target := range targets {
		if target.EntityType == "" || target.Table == "" {
			return nil, errors.ErrInvalidParam.WithDetail("bootstrap target requires entity_type and table")
		}
	}
	reports := make([]Report, len(targets))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)
	for idx, target := range targets {
		if target.PrimaryKey == "" {
			target.PrimaryKey = "id"
		}
		g.Go(func() error {
			report, err := i.table(ctx, target)
			reports[idx] = report
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}

func (i *Initializer) table(ctx context.Context, target Target) (Report, error) {
	ctx = logger.WithContext(ctx, logger.EntityTypeKey, target.EntityType)
	report := Report{Table: target.Table}

	var after uint64
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		ids, err := i.records.IDsAfter(ctx, target.Table, target.PrimaryKey, after, i.batchSize)
		if err != nil {
			return report, errors.Persistence(err, "failed to scan "+target.Table)
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			existing, err := i.ledger.GetByEntity(ctx, target.EntityType, id)
			if err != nil {
				return report, errors.Persistence(err, "failed to check revision")
			}
			if existing != nil {
				report.Skipped++
				metrics.BootstrapRowsTotal.WithLabelValues(target.Table, "skipped").Inc()
				continue
			}
			rev := &entity.Revision{EntityType: target.EntityType, EntityID: id, CreatedAt: i.now().UTC()}
			if err := i.ledger.Start(ctx, rev); err != nil {
				metrics.BootstrapRowsTotal.WithLabelValues(target.Table, "failed").Inc()
				return report, errors.Persistence(err, "failed to start revision")
			}
			report.Started++
			metrics.BootstrapRowsTotal.WithLabelValues(target.Table, "started").Inc()
		}

		after = ids[len(ids)-1]
		logger.Debug(ctx, "bootstrap batch done", "table", target.Table, "last_id", after, "started", report.Started)
		if len(ids) < i.batchSize {
			break
		}
	}

	logger.Info(ctx, "bootstrap table done",
		"table", target.Table,
		"started", report.Started,
		"skipped", report.Skipped,
	)
	return report, nil
}
