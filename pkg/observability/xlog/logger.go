package xlog

import (
	"context"
	"io"
	"log/slog"
	"time"
)

var (
	_ Logger          = (*xlogger)(nil)
	_ LoggerWithLevel = (*xlogger)(nil)
)

type xlogger struct {
	handler  slog.Handler
	levelVar *slog.LevelVar
}

func (l *xlogger) log(ctx context.Context, level slog.Level, msg string, attrs []slog.Attr) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.handler.Enabled(ctx, level) {
		return
	}
	r := slog.NewRecord(time.Now(), level, msg, 0)
	r.AddAttrs(attrs...)
	// 日志写入失败不扩散到业务调用链
	_ = l.handler.Handle(ctx, r) //nolint:errcheck // best-effort
}

func (l *xlogger) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelDebug, msg, attrs)
}

func (l *xlogger) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelInfo, msg, attrs)
}

func (l *xlogger) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelWarn, msg, attrs)
}

func (l *xlogger) Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelError, msg, attrs)
}

func (l *xlogger) With(attrs ...slog.Attr) Logger {
	if len(attrs) == 0 {
		return l
	}
	return &xlogger{handler: l.handler.WithAttrs(attrs), levelVar: l.levelVar}
}

func (l *xlogger) WithGroup(name string) Logger {
	if name == "" {
		return l
	}
	return &xlogger{handler: l.handler.WithGroup(name), levelVar: l.levelVar}
}

func (l *xlogger) SetLevel(level Level) { l.levelVar.Set(slog.Level(level)) }

func (l *xlogger) GetLevel() Level { return Level(l.levelVar.Level()) }

func (l *xlogger) Enabled(ctx context.Context, level Level) bool {
	return l.handler.Enabled(ctx, slog.Level(level))
}

// Discard 返回丢弃全部输出的 Logger，用于测试。
func Discard() LoggerWithLevel {
	levelVar := new(slog.LevelVar)
	return &xlogger{
		handler:  slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: levelVar}),
		levelVar: levelVar,
	}
}
