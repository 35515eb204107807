package xjob

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/omeyang/xjob/pkg/util/xid"
)

// DefaultType 未指定类型时的执行器类型。
const DefaultType = "noop"

// Job 作业记录。
//
// Key 是加锁的资源键，多个作业共享同一 Key 时按创建顺序串行执行。
type Job struct {
	ID         string            `json:"id" bson:"_id"`
	Key        string            `json:"key" bson:"key"`
	Name       string            `json:"name,omitempty" bson:"name,omitempty"`
	Type       string            `json:"type" bson:"type"`
	Params     map[string]string `json:"params,omitempty" bson:"params,omitempty"`
	Status     Status            `json:"status" bson:"status"`
	Node       string            `json:"node,omitempty" bson:"node,omitempty"`
	Message    string            `json:"message,omitempty" bson:"message,omitempty"`
	CreatedAt  time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at" bson:"updated_at"`
	StartedAt  time.Time         `json:"started_at,omitzero" bson:"started_at"`
	FinishedAt time.Time         `json:"finished_at,omitzero" bson:"finished_at"`
}

// Option 新建作业的选项。
type Option func(*Job)

// WithName 设置作业名称。
func WithName(name string) Option { return func(j *Job) { j.Name = name } }

// WithType 设置执行器类型。
func WithType(typ string) Option {
	return func(j *Job) {
		if typ != "" {
			j.Type = typ
		}
	}
}

// WithParam 设置单个参数。
func WithParam(key, value string) Option {
	return func(j *Job) {
		if j.Params == nil {
			j.Params = make(map[string]string)
		}
		j.Params[key] = value
	}
}

// WithParams 合并参数。
func WithParams(params map[string]string) Option {
	return func(j *Job) {
		if len(params) == 0 {
			return
		}
		if j.Params == nil {
			j.Params = make(map[string]string, len(params))
		}
		maps.Copy(j.Params, params)
	}
}

// WithID 指定作业 ID，默认由 xid 生成。
func WithID(id string) Option { return func(j *Job) { j.ID = id } }

// New 创建 READY 状态的作业。
func New(key string, opts ...Option) (*Job, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	j := &Job{Key: key, Type: DefaultType, Status: StatusReady, CreatedAt: now, UpdatedAt: now}
	for _, opt := range opts {
		opt(j)
	}
	if j.ID == "" {
		id, err := xid.NewString()
		if err != nil {
			return nil, fmt.Errorf("xjob: generate id: %w", err)
		}
		j.ID = id
	}
	return j, nil
}

// ReservedKeyPrefix 调度器内部使用的 jobKey 前缀，作业不能使用。
const ReservedKeyPrefix = "_xjob_"

// ValidateKey jobKey 非空且不含 "/"，以便直接作为锁路径的最后一段；
// 以 ReservedKeyPrefix 开头的 key 保留给调度器。
func ValidateKey(key string) error {
	if key == "" || strings.Contains(key, "/") {
		return fmt.Errorf("%w: job key %q", ErrInvalidJob, key)
	}
	if IsReservedKey(key) {
		return fmt.Errorf("%w: job key %q uses reserved prefix %q", ErrInvalidJob, key, ReservedKeyPrefix)
	}
	return nil
}

// IsReservedKey 判断 key 是否保留给调度器。
func IsReservedKey(key string) bool {
	return strings.HasPrefix(key, ReservedKeyPrefix)
}

// Clone 深拷贝。
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Params = maps.Clone(j.Params)
	return &c
}

// Transition 校验并应用状态转换，更新相关时间戳。
// 存储实现在各自的原子写入内调用。
func (j *Job) Transition(to Status, now time.Time, opts ...UpdateOption) error {
	if err := ValidateTransition(j.Status, to); err != nil {
		return fmt.Errorf("job %s: %w", j.ID, err)
	}
	u := applyUpdateOptions(opts)
	j.Status = to
	j.UpdatedAt = now
	switch {
	case to == StatusRunning:
		j.StartedAt = now
	case to.IsTerminal():
		j.FinishedAt = now
	}
	if u.node != nil {
		j.Node = *u.node
	}
	if u.message != nil {
		j.Message = *u.message
	}
	return nil
}

// CompareAge 按创建时间、再按 ID 数值排序，用于挑选同一 jobKey 下最早的作业。
func CompareAge(a, b *Job) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	// base36 ID：位数少的更小
	if len(a.ID) != len(b.ID) {
		return len(a.ID) - len(b.ID)
	}
	return strings.Compare(a.ID, b.ID)
}
