// Package xctx 提供调度节点使用的轻量级 context 字段管理。
//
// 两类字段：
//
// 追踪信息（Trace）- 与 OpenTelemetry span 同步：
//   - trace_id    : 追踪标识（W3C，128-bit）
//   - span_id     : 跨度标识（W3C，64-bit）
//   - trace_flags : 追踪标志（采样决策）
//
// 作业信息（Job）- 标识当前执行上下文：
//   - node_id : 调度节点身份（NodeIdentity）
//   - job_id  : 作业唯一标识
//   - job_key : 作业锁作用域（如 cube/segment 名称）
//
// # 命名约定
//
//	WithXxx(ctx, value) - 注入
//	Xxx(ctx)            - 读取，缺失时返回空字符串
//
// # 日志集成
//
// AppendTraceAttrs / AppendJobAttrs 将字段追加为 slog.Attr，
// xlog 的 EnrichHandler 在每条日志上自动调用。
package xctx
