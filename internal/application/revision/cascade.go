package revision

import (
	"context"
	"fmt"

	"gorm.io/datatypes"

	"revision-engine/internal/domain/entity"
	"revision-engine/internal/domain/repository"
	"revision-engine/pkg/errors"
	"revision-engine/pkg/logger"
	"revision-engine/pkg/metrics"
)

type visitKey struct {
	entityType string
	id         uint64
}

type outcome struct {
	entityID uint64
	previous *entity.Revision
	revision *entity.Revision
}

// cascade 单次修订内的级联状态，必须在同一事务中使用
//
// revised 按完成顺序记录级联中修订的子实体，提交后逐个触发 OnRevisioned。
type cascade struct {
	engine  *Engine
	active  *entity.Checkpoint
	visited map[visitKey]*outcome
	revised []*Result
}

func newCascade(e *Engine, active *entity.Checkpoint) *cascade {
	return &cascade{
		engine:  e,
		active:  active,
		visited: make(map[visitKey]*outcome),
	}
}

// revise 复制一个物理行并级联到其拥有的关系，返回新行与新旧修订
//
// 同一物理行在一次级联中只复制一次，再次到达时直接返回已有结果。
func (c *cascade) revise(ctx context.Context, et *EntityType, id uint64, overrides repository.Row, depth int) (*outcome, error) {
	key := visitKey{entityType: et.Name, id: id}
	if o, ok := c.visited[key]; ok {
		return o, nil
	}
	if depth > c.engine.maxDepth {
		return nil, errors.Invariant("cascade depth %d exceeded at %s#%d", c.engine.maxDepth, et.Name, id)
	}
	e := c.engine

	row, err := e.records.Load(ctx, et.Table, et.PrimaryKey, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errors.ErrNotFound.WithDetail(fmt.Sprintf("%s#%d", et.Name, id))
	}

	rev, err := e.ledger.GetByEntity(ctx, et.Name, id)
	if err != nil {
		return nil, err
	}
	if rev == nil {
		rev = e.newRevision(et.Name, id, c.active)
		if err := e.ledger.Start(ctx, rev); err != nil {
			return nil, err
		}
		logger.Debug(ctx, "started revisioning before first copy", "entity_type", et.Name, "entity_id", id)
	}

	values := make(repository.Row, len(et.Defaults)+len(overrides))
	for k, v := range et.Defaults {
		values[k] = v
	}
	metaValues := repository.Row{}
	for _, col := range et.Meta {
		if v, ok := row[col]; ok {
			metaValues[col] = v
		}
	}
	for k, v := range overrides {
		if et.isMeta(k) {
			metaValues[k] = v
			continue
		}
		values[k] = v
	}

	newID, err := e.records.Duplicate(ctx, et.Table, et.PrimaryKey, id, et.copyExclusions(), values)
	if err != nil {
		return nil, err
	}
	o := &outcome{entityID: newID, previous: rev}
	c.visited[key] = o

	if len(et.Meta) > 0 {
		if err := c.moveMeta(ctx, et, rev, id, newID, row, metaValues); err != nil {
			return nil, err
		}
	}

	for _, rel := range et.Relations {
		if et.relationExcluded(rel.Name) {
			continue
		}
		if err := c.relation(ctx, et, rel, id, newID, depth); err != nil {
			return nil, err
		}
	}

	next := e.newRevision(et.Name, newID, c.active)
	if err := e.ledger.ChainTo(ctx, rev, next); err != nil {
		return nil, err
	}
	o.revision = next
	return o, nil
}

// moveMeta 唯一列：旧值写入旧修订元数据并在旧行上置空，再写到新行
func (c *cascade) moveMeta(
	ctx context.Context,
	et *EntityType,
	rev *entity.Revision,
	oldID, newID uint64,
	row repository.Row,
	metaValues repository.Row,
) error {
	e := c.engine

	meta := make(datatypes.JSONMap, len(rev.Metadata)+len(et.Meta))
	for k, v := range rev.Metadata {
		meta[k] = v
	}
	release := repository.Row{}
	for _, col := range et.Meta {
		v, ok := row[col]
		if !ok {
			continue
		}
		if v != nil {
			meta[col] = jsonValue(v)
		}
		release[col] = nil
	}
	if len(release) == 0 {
		return nil
	}

	if err := e.ledger.UpdateMetadata(ctx, rev.ID, meta); err != nil {
		return err
	}
	rev.Metadata = meta

	// 先释放旧行，唯一约束才允许新行接收同一值
	if err := e.records.Update(ctx, et.Table, et.PrimaryKey, oldID, release); err != nil {
		return err
	}
	if len(metaValues) == 0 {
		return nil
	}
	return e.records.Update(ctx, et.Table, et.PrimaryKey, newID, metaValues)
}

func (c *cascade) relation(ctx context.Context, et *EntityType, rel Relation, oldID, newID uint64, depth int) error {
	kind := c.engine.registry.Classify(rel)
	switch kind {
	case KindParent:
		return nil
	case KindOwnedSingle, KindOwnedMultiple:
		return c.owned(ctx, et, rel, kind, oldID, newID, depth)
	case KindPivot:
		return c.pivot(ctx, et, rel, oldID, newID)
	default:
		metrics.UnknownRelationsTotal.WithLabelValues(et.Name, rel.Name).Inc()
		logger.Warn(ctx, "skipping relation during cascade",
			"entity_type", et.Name,
			"relation", rel.Name,
			"error", errors.ErrClassificationUnknown.Error(),
		)
		return nil
	}
}

// owned 拥有的子行：受修订控制的子行递归修订，其余直接复制后挂到新行
func (c *cascade) owned(
	ctx context.Context,
	et *EntityType,
	rel Relation,
	kind RelationKind,
	oldID, newID uint64,
	depth int,
) error {
	e := c.engine

	var child *EntityType
	table, pk := rel.Table, rel.PrimaryKey
	if rel.RelatedType != "" {
		child, _ = e.registry.Lookup(rel.RelatedType)
		table = child.Table
		if pk == "" {
			pk = child.PrimaryKey
		}
	}

	rows, err := e.records.FindBy(ctx, table, repository.Row{rel.ForeignKey: oldID}, pk)
	if err != nil {
		return err
	}

	ids := make([]uint64, 0, len(rows))
	kept := make([]repository.Row, 0, len(rows))
	for _, row := range rows {
		id, ok := entity.ToUint64(row[pk])
		if !ok {
			return fmt.Errorf("%s.%s: unreadable primary key %v", table, pk, row[pk])
		}
		if child != nil {
			latest, err := c.isLatest(ctx, child.Name, id)
			if err != nil {
				return err
			}
			// 子谱系的旧版本仍指向旧父行，不再参与级联
			if !latest {
				continue
			}
		}
		ids = append(ids, id)
		kept = append(kept, row)
	}

	if kind == KindOwnedSingle && len(ids) > 1 {
		logger.Warn(ctx, "single owned relation has several rows, cascading the first",
			"entity_type", et.Name,
			"relation", rel.Name,
			"rows", len(ids),
		)
		ids = ids[:1]
	}

	for i, id := range ids {
		override := repository.Row{rel.ForeignKey: newID}
		if child != nil {
			if err := c.child(ctx, child, id, kept[i], override, depth+1); err != nil {
				return err
			}
			continue
		}
		if _, err := e.records.Duplicate(ctx, table, pk, id, nil, override); err != nil {
			return err
		}
	}

	metrics.CascadeRows.WithLabelValues(et.Name, kind.String()).Observe(float64(len(ids)))
	return nil
}

// child 受修订控制的子行走完整的前置判断；被拒绝时只把外键原地改到新父行
func (c *cascade) child(ctx context.Context, et *EntityType, id uint64, row, override repository.Row, depth int) error {
	if _, ok := c.visited[visitKey{entityType: et.Name, id: id}]; ok {
		return nil
	}
	e := c.engine

	rec := entity.NewRecord(et.Name, id, row)
	proceed, err := e.guard(ctx, et, rec, override)
	if err != nil {
		return err
	}
	if !proceed {
		metrics.RecordRevision(et.Name, "skipped", 0)
		logger.Debug(ctx, "cascaded revision skipped by policy", "entity", rec.String())
		return e.records.Update(ctx, et.Table, et.PrimaryKey, id, override)
	}

	o, err := c.revise(ctx, et, id, override, depth)
	if err != nil {
		return err
	}
	loaded, err := e.records.Load(ctx, et.Table, et.PrimaryKey, o.entityID)
	if err != nil {
		return err
	}
	rec.ID = o.entityID
	rec.Attributes = loaded
	rec.State = entity.StateRevisioned
	c.revised = append(c.revised, &Result{Entity: rec, Previous: o.previous, Revision: o.revision})
	return nil
}

// pivot 中间表：为新行复制关联记录，对端不复制
func (c *cascade) pivot(ctx context.Context, et *EntityType, rel Relation, oldID, newID uint64) error {
	e := c.engine

	links, err := e.records.FindBy(ctx, rel.Table, repository.Row{rel.ForeignKey: oldID}, rel.RelatedKey)
	if err != nil {
		return err
	}
	for _, link := range links {
		cp := link.Clone()
		if rel.PrimaryKey != "" {
			delete(cp, rel.PrimaryKey)
		}
		cp[rel.ForeignKey] = newID
		if _, err := e.records.Insert(ctx, rel.Table, rel.PrimaryKey, cp); err != nil {
			return err
		}
	}

	metrics.CascadeRows.WithLabelValues(et.Name, KindPivot.String()).Observe(float64(len(links)))
	return nil
}

func (c *cascade) isLatest(ctx context.Context, entityType string, id uint64) (bool, error) {
	rev, err := c.engine.ledger.GetByEntity(ctx, entityType, id)
	if err != nil {
		return false, err
	}
	if rev == nil {
		return true, nil
	}
	return c.engine.ledger.IsLatest(ctx, rev)
}

// jsonValue 元数据以 JSON 存储，字节串按文本保存
func jsonValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
