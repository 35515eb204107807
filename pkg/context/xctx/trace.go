package xctx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

// Trace Key 常量，遵循 OpenTelemetry 语义约定（下划线分隔）
const (
	KeyTraceID    = "trace_id"
	KeySpanID     = "span_id"
	KeyTraceFlags = "trace_flags"
)

const (
	// TraceIDSize W3C: 128-bit -> 32 hex chars
	TraceIDSize = 16
	// SpanIDSize W3C: 64-bit -> 16 hex chars
	SpanIDSize = 8
)

const (
	keyTraceID    = contextKey("xctx:trace_id")
	keySpanID     = contextKey("xctx:span_id")
	keyTraceFlags = contextKey("xctx:trace_flags")
)

// WithTraceID 将 trace ID 注入 context
func WithTraceID(ctx context.Context, traceID string) (context.Context, error) {
	return withString(ctx, keyTraceID, traceID)
}

// TraceID 从 context 提取 trace ID，不存在返回空字符串
func TraceID(ctx context.Context) string { return stringValue(ctx, keyTraceID) }

// WithSpanID 将 span ID 注入 context
func WithSpanID(ctx context.Context, spanID string) (context.Context, error) {
	return withString(ctx, keySpanID, spanID)
}

// SpanID 从 context 提取 span ID，不存在返回空字符串
func SpanID(ctx context.Context) string { return stringValue(ctx, keySpanID) }

// WithTraceFlags 将 W3C trace-flags（如 "01"）注入 context
func WithTraceFlags(ctx context.Context, flags string) (context.Context, error) {
	return withString(ctx, keyTraceFlags, flags)
}

// TraceFlags 从 context 提取 trace flags，不存在返回空字符串
func TraceFlags(ctx context.Context) string { return stringValue(ctx, keyTraceFlags) }

// GenerateTraceID 生成 32 位小写十六进制的 W3C trace-id，保证非全零。
//
// crypto/rand 不可用时 panic，与 OpenTelemetry SDK 的策略一致。
func GenerateTraceID() string { return randomHex(TraceIDSize) }

// GenerateSpanID 生成 16 位小写十六进制的 W3C span-id，保证非全零。
func GenerateSpanID() string { return randomHex(SpanIDSize) }

func randomHex(n int) string {
	buf := make([]byte, n)
	for {
		if _, err := rand.Read(buf); err != nil {
			panic("xctx: crypto/rand unavailable: " + err.Error())
		}
		if !isAllZeros(buf) {
			return hex.EncodeToString(buf)
		}
	}
}

func isAllZeros(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

// EnsureTrace 确保 context 中存在 trace_id 与 span_id，缺失时自动生成。
func EnsureTrace(ctx context.Context) (context.Context, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	var err error
	if TraceID(ctx) == "" {
		if ctx, err = WithTraceID(ctx, GenerateTraceID()); err != nil {
			return nil, err
		}
	}
	if SpanID(ctx) == "" {
		if ctx, err = WithSpanID(ctx, GenerateSpanID()); err != nil {
			return nil, err
		}
	}
	return ctx, nil
}
