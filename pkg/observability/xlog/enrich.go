package xlog

import (
	"context"
	"log/slog"

	"github.com/omeyang/xjob/pkg/context/xctx"
)

// EnrichHandler 自动从 context 提取追踪和作业信息并注入日志
//
// 注入字段：trace_id、span_id、trace_flags、node_id、job_id、job_key。
// context 中缺少的字段直接跳过。
type EnrichHandler struct {
	base slog.Handler
}

// NewEnrichHandler 包装 base handler，base 为 nil 时返回 nil。
func NewEnrichHandler(base slog.Handler) *EnrichHandler {
	if base == nil {
		return nil
	}
	return &EnrichHandler{base: base}
}

// Enabled 委托给底层 handler
func (h *EnrichHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// maxEnrichAttrs trace 3 + job 3
const maxEnrichAttrs = 6

// Handle 按 slog 契约先 Clone record 再追加字段。
func (h *EnrichHandler) Handle(ctx context.Context, r slog.Record) error {
	var buf [maxEnrichAttrs]slog.Attr
	attrs := xctx.AppendTraceAttrs(buf[:0], ctx)
	attrs = xctx.AppendJobAttrs(attrs, ctx)
	if len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.base.Handle(ctx, r)
}

// WithAttrs 返回带额外属性的新 handler
func (h *EnrichHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &EnrichHandler{base: h.base.WithAttrs(attrs)}
}

// WithGroup 返回带分组的新 handler
func (h *EnrichHandler) WithGroup(name string) slog.Handler {
	return &EnrichHandler{base: h.base.WithGroup(name)}
}
