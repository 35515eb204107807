package xlog

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// 全局 Logger，定位于 CLI 与未注入 logger 的组件。
var globalLogger atomic.Pointer[LoggerWithLevel]

// Default 返回全局 Logger，首次调用时惰性创建（stderr、Info、text）。
func Default() LoggerWithLevel {
	if l := globalLogger.Load(); l != nil {
		return *l
	}
	logger, _, err := New().Build()
	if err != nil {
		// 默认参数不会失败；保底使用 slog 默认 handler
		logger = &xlogger{handler: slog.Default().Handler(), levelVar: new(slog.LevelVar)}
	}
	globalLogger.CompareAndSwap(nil, &logger)
	return *globalLogger.Load()
}

// SetDefault 替换全局 Logger，nil 会被忽略。
func SetDefault(l LoggerWithLevel) {
	if l == nil {
		return
	}
	globalLogger.Store(&l)
}

// Info 使用全局 Logger 记录 Info 级别日志
func Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	Default().Info(ctx, msg, attrs...)
}

// Warn 使用全局 Logger 记录 Warn 级别日志
func Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	Default().Warn(ctx, msg, attrs...)
}

// Error 使用全局 Logger 记录 Error 级别日志
func Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	Default().Error(ctx, msg, attrs...)
}
