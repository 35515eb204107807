package xjobstore

import (
	"time"

	"github.com/omeyang/xjob/pkg/observability/xlog"
)

const (
	// DefaultEtcdPrefix etcd 作业键前缀。
	DefaultEtcdPrefix = "/xjob/jobs"

	// DefaultRedisPrefix redis 作业键前缀。
	DefaultRedisPrefix = "xjob:jobs"

	// DefaultConflictRetries 并发写入冲突的最大尝试次数。
	DefaultConflictRetries uint = 5

	// DefaultConflictDelay 冲突重试的初始间隔，指数退避。
	DefaultConflictDelay = 10 * time.Millisecond
)

// Option 存储选项。
type Option func(*options)

type options struct {
	prefix          string
	logger          xlog.Logger
	conflictRetries uint
	conflictDelay   time.Duration
	now             func() time.Time
}

func defaultOptions() *options {
	return &options{
		logger:          xlog.Default(),
		conflictRetries: DefaultConflictRetries,
		conflictDelay:   DefaultConflictDelay,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func applyOptions(defaultPrefix string, opts []Option) *options {
	o := defaultOptions()
	o.prefix = defaultPrefix
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// WithPrefix 设置键前缀，多个环境可共享同一后端。
func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithLogger 设置日志器。
func WithLogger(logger xlog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithConflictRetries 设置冲突重试次数与初始间隔。
func WithConflictRetries(attempts uint, delay time.Duration) Option {
	return func(o *options) {
		if attempts > 0 {
			o.conflictRetries = attempts
		}
		if delay > 0 {
			o.conflictDelay = delay
		}
	}
}

// WithClock 设置时间来源，测试用。
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
