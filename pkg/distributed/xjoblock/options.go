package xjoblock

import (
	"strings"
	"time"

	"github.com/omeyang/xjob/pkg/observability/xlog"
	"github.com/omeyang/xjob/pkg/observability/xmetrics"
)

// 默认值
const (
	DefaultLockRoot       = "/xjob/job_engine/lock"
	DefaultNamespace      = "xjob_metadata"
	DefaultVerifyAttempts = 3
	DefaultVerifyDelay    = 100 * time.Millisecond
)

type options struct {
	root           string
	namespace      string
	verifyAttempts uint
	verifyDelay    time.Duration
	logger         xlog.Logger
	observer       xmetrics.Observer
}

func defaultOptions() *options {
	return &options{
		root:           DefaultLockRoot,
		namespace:      DefaultNamespace,
		verifyAttempts: DefaultVerifyAttempts,
		verifyDelay:    DefaultVerifyDelay,
		logger:         xlog.Default(),
		observer:       xmetrics.NoopObserver{},
	}
}

// Option 锁选项。
type Option func(*options)

// WithLockRoot 设置锁根路径。
func WithLockRoot(root string) Option {
	return func(o *options) {
		if root = strings.TrimRight(root, "/"); root != "" {
			o.root = root
		}
	}
}

// WithNamespace 设置元数据命名空间，隔离共享同一协调服务的多个环境。
func WithNamespace(ns string) Option {
	return func(o *options) {
		if ns = strings.Trim(ns, "/"); ns != "" {
			o.namespace = ns
		}
	}
}

// WithVerifyAttempts 设置获取结果未知时核对持有者的次数与初始间隔。
func WithVerifyAttempts(attempts uint, delay time.Duration) Option {
	return func(o *options) {
		if attempts > 0 {
			o.verifyAttempts = attempts
		}
		if delay > 0 {
			o.verifyDelay = delay
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger xlog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver 设置观测器。
func WithObserver(observer xmetrics.Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observer = observer
		}
	}
}
