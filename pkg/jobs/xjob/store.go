package xjob

import (
	"context"
	"slices"
)

// Store 作业存储。实现必须并发安全，且按记录原子地校验状态转换。
type Store interface {
	// CreateJob 保存新作业，ID 重复返回 ErrJobExists。
	CreateJob(ctx context.Context, job *Job) error

	// GetJob 读取作业，不存在返回 ErrJobNotFound。
	GetJob(ctx context.Context, id string) (*Job, error)

	// ListJobs 按过滤条件列出作业，零值 Filter 返回全部。
	ListJobs(ctx context.Context, filter Filter) ([]*Job, error)

	// SetStatus 原子地校验并转换状态，返回更新后的作业。
	SetStatus(ctx context.Context, id string, status Status, opts ...UpdateOption) (*Job, error)

	// DeleteJob 删除作业，不存在返回 ErrJobNotFound。
	DeleteJob(ctx context.Context, id string) error
}

// Getter 只读取单个作业，等待函数只依赖它。
type Getter interface {
	GetJob(ctx context.Context, id string) (*Job, error)
}

// Filter 列表过滤条件。
type Filter struct {
	// Statuses 非空时只返回这些状态的作业。
	Statuses []Status
	// Key 非空时只返回该 jobKey 的作业。
	Key string
}

// Match 判断作业是否满足过滤条件。
func (f Filter) Match(j *Job) bool {
	if f.Key != "" && j.Key != f.Key {
		return false
	}
	return len(f.Statuses) == 0 || slices.Contains(f.Statuses, j.Status)
}

// UpdateOption SetStatus 的附加字段。
type UpdateOption func(*update)

type update struct {
	node    *string
	message *string
}

// WithNode 记录执行节点。
func WithNode(node string) UpdateOption {
	return func(u *update) { u.node = &node }
}

// WithMessage 记录状态说明（错误信息、诊断）。
func WithMessage(msg string) UpdateOption {
	return func(u *update) { u.message = &msg }
}

func applyUpdateOptions(opts []UpdateOption) update {
	var u update
	for _, opt := range opts {
		if opt != nil {
			opt(&u)
		}
	}
	return u
}
