// Package revision 实现写时复制的修订引擎与时间范围查询
package revision

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"revision-engine/internal/domain/entity"
	"revision-engine/internal/domain/repository"
	"revision-engine/pkg/errors"
)

// RelationKind 关系在级联修订中的处理方式
type RelationKind int

const (
	// KindUnknown 无法归类，级联时跳过
	KindUnknown RelationKind = iota
	// KindParent 父级，永不复制
	KindParent
	// KindOwnedSingle 拥有的单个子行，复制并重新挂到新行
	KindOwnedSingle
	// KindOwnedMultiple 拥有的多个子行
	KindOwnedMultiple
	// KindPivot 多对多中间表，重新关联而不复制对端
	KindPivot
)

// String 实现 fmt.Stringer
func (k RelationKind) String() string {
	switch k {
	case KindParent:
		return "parent"
	case KindOwnedSingle:
		return "owned_single"
	case KindOwnedMultiple:
		return "owned_multiple"
	case KindPivot:
		return "pivot"
	default:
		return "unknown"
	}
}

// Relation 静态声明的关系
//
// Owned：Table 为子表，ForeignKey 为子表中指向本实体的列，PrimaryKey 为子表主键，
// RelatedType 非空时子行本身受修订控制。
// Pivot：Table 为中间表，ForeignKey 指向本实体，RelatedKey 指向对端，PrimaryKey 可为空。
type Relation struct {
	Name        string
	Kind        RelationKind
	Table       string
	PrimaryKey  string
	ForeignKey  string
	RelatedKey  string
	RelatedType string
}

// Guard 修订前置判断，返回 false 时跳过修订
type Guard func(ctx context.Context, rec *entity.Record, changes repository.Row) bool

// EntityType 受修订控制的实体类型声明
type EntityType struct {
	Name       string
	Table      string
	PrimaryKey string

	// Excluded 不复制到新行的列
	Excluded []string
	// Ignored 仅这些列变化时原地更新，不产生修订；同样不复制
	Ignored []string
	// Meta 唯一列：旧值移入旧修订的元数据，新行接收该值
	Meta []string
	// Defaults 复制时覆盖的默认值
	Defaults map[string]any
	// SoftDeleteColumn 软删除时间列，为空表示不支持软删除
	SoftDeleteColumn string

	Relations         []Relation
	ExcludedRelations []string

	ShouldRevision Guard
}

func (t *EntityType) isIgnored(column string) bool {
	return contains(t.Ignored, column)
}

func (t *EntityType) isMeta(column string) bool {
	return contains(t.Meta, column)
}

func (t *EntityType) relationExcluded(name string) bool {
	return contains(t.ExcludedRelations, name)
}

// copyExclusions 复制时需要排除的列，排序后返回
func (t *EntityType) copyExclusions() []string {
	seen := make(map[string]struct{})
	for _, group := range [][]string{t.Excluded, t.Ignored, t.Meta} {
		for _, c := range group {
			seen[c] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Registry 实体类型与关系的静态注册表
type Registry struct {
	mu    sync.RWMutex
	types map[string]*EntityType
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*EntityType)}
}

// Register 注册实体类型，主键默认为 id
func (r *Registry) Register(t EntityType) error {
	if t.Name == "" || t.Table == "" {
		return errors.ErrInvalidParam.WithDetail("entity type requires name and table")
	}
	if t.PrimaryKey == "" {
		t.PrimaryKey = "id"
	}

	names := make(map[string]struct{}, len(t.Relations))
	for _, rel := range t.Relations {
		if rel.Name == "" {
			return errors.ErrInvalidParam.WithDetail(fmt.Sprintf("%s: relation requires a name", t.Name))
		}
		if _, dup := names[rel.Name]; dup {
			return errors.ErrInvalidParam.WithDetail(fmt.Sprintf("%s: duplicate relation %s", t.Name, rel.Name))
		}
		names[rel.Name] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[t.Name]; exists {
		return errors.ErrInvalidParam.WithDetail(fmt.Sprintf("entity type %s already registered", t.Name))
	}
	r.types[t.Name] = &t
	return nil
}

// MustRegister 注册失败时 panic，用于启动期的静态声明
func (r *Registry) MustRegister(t EntityType) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Lookup 查找实体类型
func (r *Registry) Lookup(name string) (*EntityType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Types 已注册的类型名，排序后返回
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for name := range r.types {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Classify 归类关系；声明不完整或引用了未注册类型的关系视为 Unknown
func (r *Registry) Classify(rel Relation) RelationKind {
	switch rel.Kind {
	case KindParent:
		return KindParent
	case KindOwnedSingle, KindOwnedMultiple:
		if rel.Table == "" || rel.ForeignKey == "" {
			return KindUnknown
		}
		if rel.RelatedType != "" {
			if _, ok := r.Lookup(rel.RelatedType); !ok {
				return KindUnknown
			}
		} else if rel.PrimaryKey == "" {
			return KindUnknown
		}
		return rel.Kind
	case KindPivot:
		if rel.Table == "" || rel.ForeignKey == "" || rel.RelatedKey == "" {
			return KindUnknown
		}
		return KindPivot
	default:
		return KindUnknown
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
