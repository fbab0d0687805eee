package entity

import (
	"fmt"
	"strconv"
	"time"
)

// RecordState 记录在修订流程中的状态
type RecordState int

const (
	// StateCreated 已写入，尚未发生修订
	StateCreated RecordState = iota
	// StateRevisioning 正在执行写时复制
	StateRevisioning
	// StateRevisioned 已指向新的物理行
	StateRevisioned
)

// String 实现 fmt.Stringer
func (s RecordState) String() string {
	switch s {
	case StateRevisioning:
		return "revisioning"
	case StateRevisioned:
		return "revisioned"
	default:
		return "created"
	}
}

// Record 受修订控制的领域记录在内存中的句柄
//
// ID 是当前指向的物理行；修订后句柄被重定向到新行。
type Record struct {
	Type       string         `json:"type"`
	ID         uint64         `json:"id"`
	Attributes map[string]any `json:"attributes"`
	State      RecordState    `json:"-"`
}

// NewRecord 创建记录句柄
func NewRecord(entityType string, id uint64, attrs map[string]any) *Record {
	if attrs == nil {
		attrs = make(map[string]any)
	}
	return &Record{Type: entityType, ID: id, Attributes: attrs}
}

// Get 读取属性
func (r *Record) Get(column string) any {
	if r.Attributes == nil {
		return nil
	}
	return r.Attributes[column]
}

// String 返回 type#id 形式
func (r *Record) String() string {
	return fmt.Sprintf("%s#%d", r.Type, r.ID)
}

// ToUint64 将数据库驱动返回的各类整型值转换为 uint64
func ToUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		return uint64(n), n >= 0
	case int:
		return uint64(n), n >= 0
	case int32:
		return uint64(n), n >= 0
	case uint:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case float64:
		return uint64(n), n >= 0
	case []byte:
		u, err := strconv.ParseUint(string(n), 10, 64)
		return u, err == nil
	case string:
		u, err := strconv.ParseUint(n, 10, 64)
		return u, err == nil
	default:
		return 0, false
	}
}

// BoundKind 时间边界的形式
type BoundKind int

const (
	// BoundNone 无边界
	BoundNone BoundKind = iota
	// BoundInstant 原始时间点
	BoundInstant
	// BoundCheckpoint 以检查点成员关系表达的边界
	BoundCheckpoint
)

// String 实现 fmt.Stringer
func (k BoundKind) String() string {
	switch k {
	case BoundInstant:
		return "instant"
	case BoundCheckpoint:
		return "checkpoint"
	default:
		return "none"
	}
}

// Bound 时间边界：无、时间点或检查点
type Bound struct {
	Kind       BoundKind
	Instant    time.Time
	Checkpoint *Checkpoint
}

// Unbounded 无边界
func Unbounded() Bound { return Bound{} }

// AtInstant 以时间点为边界
func AtInstant(t time.Time) Bound {
	return Bound{Kind: BoundInstant, Instant: t.UTC()}
}

// AtCheckpoint 以检查点为边界，nil 视为无边界
func AtCheckpoint(cp *Checkpoint) Bound {
	if cp == nil {
		return Unbounded()
	}
	return Bound{Kind: BoundCheckpoint, Checkpoint: cp}
}

// IsSet 是否设置了边界
func (b Bound) IsSet() bool { return b.Kind != BoundNone }

// TimelineMode 时间线过滤方式
type TimelineMode int

const (
	// TimelineAny 不按时间线过滤
	TimelineAny TimelineMode = iota
	// TimelineGlobal 仅匹配 timeline_id 为空的修订
	TimelineGlobal
	// TimelineExact 仅匹配指定时间线
	TimelineExact
)

// TimelineFilter 时间线过滤条件
type TimelineFilter struct {
	Mode TimelineMode
	ID   uint64
}

// AnyTimeline 不过滤时间线
func AnyTimeline() TimelineFilter { return TimelineFilter{} }

// GlobalTimeline 全局（无时间线）
func GlobalTimeline() TimelineFilter { return TimelineFilter{Mode: TimelineGlobal} }

// OnTimeline 指定时间线
func OnTimeline(id uint64) TimelineFilter { return TimelineFilter{Mode: TimelineExact, ID: id} }

// TimelineOf 将可空的时间线 ID 转换为过滤条件，nil 表示全局
func TimelineOf(id *uint64) TimelineFilter {
	if id == nil {
		return GlobalTimeline()
	}
	return OnTimeline(*id)
}

// Window 时间查询窗口
type Window struct {
	Until    Bound
	Since    Bound
	Timeline TimelineFilter
	// TimelineSet 为 true 时 Timeline 由调用方显式指定，不再从检查点继承
	TimelineSet bool
}

// Resolved 返回解析后的窗口：检查点边界的时间线在未显式指定时作为过滤条件
func (w Window) Resolved() Window {
	if w.TimelineSet {
		return w
	}
	switch {
	case w.Until.Kind == BoundCheckpoint:
		w.Timeline = TimelineOf(w.Until.Checkpoint.TimelineID)
	case w.Since.Kind == BoundCheckpoint:
		w.Timeline = TimelineOf(w.Since.Checkpoint.TimelineID)
	default:
		w.Timeline = AnyTimeline()
	}
	w.TimelineSet = true
	return w
}
