package xctx

import (
	"context"
	"log/slog"
)

// AppendTraceAttrs 将 context 中的追踪信息追加到 attrs，只追加非空字段。
func AppendTraceAttrs(attrs []slog.Attr, ctx context.Context) []slog.Attr {
	if ctx == nil {
		return attrs
	}
	if v := TraceID(ctx); v != "" {
		attrs = append(attrs, slog.String(KeyTraceID, v))
	}
	if v := SpanID(ctx); v != "" {
		attrs = append(attrs, slog.String(KeySpanID, v))
	}
	if v := TraceFlags(ctx); v != "" {
		attrs = append(attrs, slog.String(KeyTraceFlags, v))
	}
	return attrs
}

// AppendJobAttrs 将 context 中的节点与作业信息追加到 attrs，只追加非空字段。
func AppendJobAttrs(attrs []slog.Attr, ctx context.Context) []slog.Attr {
	if ctx == nil {
		return attrs
	}
	if v := NodeID(ctx); v != "" {
		attrs = append(attrs, slog.String(KeyNodeID, v))
	}
	if v := JobID(ctx); v != "" {
		attrs = append(attrs, slog.String(KeyJobID, v))
	}
	if v := JobKey(ctx); v != "" {
		attrs = append(attrs, slog.String(KeyJobKey, v))
	}
	return attrs
}

// LogAttrs 返回 context 中全部可记录字段，全为空时返回 nil。
func LogAttrs(ctx context.Context) []slog.Attr {
	attrs := AppendJobAttrs(AppendTraceAttrs(make([]slog.Attr, 0, 6), ctx), ctx)
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}
