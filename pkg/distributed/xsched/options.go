package xsched

import (
	"time"

	"github.com/omeyang/xjob/pkg/jobs/xjob"
	"github.com/omeyang/xjob/pkg/observability/xlog"
	"github.com/omeyang/xjob/pkg/observability/xmetrics"
)

// 默认值。
const (
	DefaultPollInterval      = 5 * time.Second
	DefaultStopCheckInterval = time.Second
	DefaultMaxConcurrent     = 16
	DefaultMaintenanceSpec   = "@every 1h"
	DefaultTerminalTimeout   = 10 * time.Second

	// MaintenanceKey 清理任务使用的 jobKey，位于 xjob.ReservedKeyPrefix 下，作业无法创建。
	MaintenanceKey = xjob.ReservedKeyPrefix + "maintenance"
)

// Option 节点选项。
type Option func(*options)

type options struct {
	pollInterval      time.Duration
	stopCheckInterval time.Duration
	jobTimeout        time.Duration
	maxConcurrent     int
	orphanRecovery    bool
	resubmitOrphans   bool
	releaseWatch      bool
	retention         time.Duration
	maintenanceSpec   string
	terminalTimeout   time.Duration
	releaseAttempts   uint
	logger            xlog.Logger
	observer          xmetrics.Observer
	now               func() time.Time
}

func defaultOptions() *options {
	return &options{
		pollInterval:      DefaultPollInterval,
		stopCheckInterval: DefaultStopCheckInterval,
		maxConcurrent:     DefaultMaxConcurrent,
		orphanRecovery:    true,
		releaseWatch:      true,
		maintenanceSpec:   DefaultMaintenanceSpec,
		terminalTimeout:   DefaultTerminalTimeout,
		releaseAttempts:   3,
		logger:            xlog.Default(),
		observer:          xmetrics.NoopObserver{},
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// WithPollInterval 设置调度周期。
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithStopCheckInterval 设置执行期间检查外部停止与锁归属的间隔。
func WithStopCheckInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.stopCheckInterval = d
		}
	}
}

// WithJobTimeout 设置单个作业的最长执行时间，0 表示不限制。
func WithJobTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.jobTimeout = d
		}
	}
}

// WithMaxConcurrent 设置本节点同时执行的作业上限。
func WithMaxConcurrent(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithOrphanRecovery 开关孤儿作业恢复，默认开启。
func WithOrphanRecovery(enabled bool) Option {
	return func(o *options) { o.orphanRecovery = enabled }
}

// WithResubmitOrphans 恢复孤儿作业时是否提交一个 READY 副本。
func WithResubmitOrphans(enabled bool) Option {
	return func(o *options) { o.resubmitOrphans = enabled }
}

// WithReleaseWatch 开关锁释放订阅。开启时其他节点释放锁会立即触发一次调度，
// 关闭后只按调度周期轮询。默认开启。
func WithReleaseWatch(enabled bool) Option {
	return func(o *options) { o.releaseWatch = enabled }
}

// WithRetention 开启过期终态作业清理。spec 为空时使用 DefaultMaintenanceSpec。
func WithRetention(age time.Duration, spec string) Option {
	return func(o *options) {
		o.retention = age
		if spec != "" {
			o.maintenanceSpec = spec
		}
	}
}

// WithTerminalTimeout 设置终态写入与锁释放的超时，
// 这些操作不随执行上下文取消。
func WithTerminalTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.terminalTimeout = d
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

// WithObserver 设置观测器。
func WithObserver(observer xmetrics.Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observer = observer
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}
