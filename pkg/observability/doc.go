// Package observability 提供可观测性相关的子包。
//
// 子包列表：
//   - xlog: 结构化日志，基于 log/slog 扩展，支持动态级别与文件轮转
//   - xmetrics: 统一观测接口，OpenTelemetry 实现（span 与指标）
//
// 设计原则：
//   - 遵循 OpenTelemetry 语义规范
//   - 自动从 context 中提取追踪与作业信息注入日志
package observability
