package xetcd

import (
	"context"
	"time"
)

const defaultHealthCheckKey = "xetcd-health-check"

type options struct {
	ctx            context.Context
	healthCheck    bool
	healthTimeout  time.Duration
	healthCheckKey string
}

func defaultOptions() *options {
	return &options{
		ctx:            context.Background(),
		healthTimeout:  10 * time.Second,
		healthCheckKey: defaultHealthCheckKey,
	}
}

// Option 定义客户端配置选项。
type Option func(*options)

// WithContext 设置 NewClient 内部操作（健康检查）使用的 context。
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}

// WithHealthCheck 创建后执行一次 Get 验证连接，timeout 默认 10 秒。
//
// 节点启动时开启此选项，连接失败即在初始化阶段暴露。
func WithHealthCheck(enabled bool, timeout time.Duration) Option {
	return func(o *options) {
		o.healthCheck = enabled
		if timeout > 0 {
			o.healthTimeout = timeout
		}
	}
}

// WithHealthCheckKey 设置健康检查使用的 key，用于 RBAC 前缀授权场景。
func WithHealthCheckKey(key string) Option {
	return func(o *options) {
		if key != "" {
			o.healthCheckKey = key
		}
	}
}
