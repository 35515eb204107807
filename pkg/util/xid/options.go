package xid

import "time"

type options struct {
	machineID     func() (uint16, error)
	maxWait       time.Duration
	retryInterval time.Duration
}

// Option 生成器选项。
type Option func(*options)

// WithMachineID 自定义机器 ID 来源，默认为 [DefaultMachineID]。
func WithMachineID(fn func() (uint16, error)) Option {
	return func(o *options) {
		if fn != nil {
			o.machineID = fn
		}
	}
}

// WithMaxWait 设置 NewWithRetry 的最长等待时间，默认 500ms。
func WithMaxWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maxWait = d
		}
	}
}

// WithRetryInterval 设置 NewWithRetry 的重试间隔，默认 10ms（Sonyflake 时间精度）。
func WithRetryInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retryInterval = d
		}
	}
}
