// Package xlog 基于 log/slog 的结构化日志库。
//
// # 核心功能
//
//   - Builder 模式配置（输出目标、级别、格式、文件轮转）
//   - 自动从 context 注入 trace_id、node_id、job_id、job_key（EnrichHandler，默认启用）
//   - 动态级别调整，配置热更新时无需重启节点
//   - 全局 Logger 便利函数
//
// # 创建 Logger
//
// Builder 采用 first-error-wins：遇到第一个配置错误后，后续 Set 操作被跳过，
// 错误在 Build 时返回。
//
//	logger, cleanup, err := xlog.New().
//		SetLevelString("debug").
//		SetFormat("json").
//		SetRotation("/var/log/xjob/node.log", xlog.RotationConfig{MaxSizeMB: 100}).
//		Build()
//	if err != nil {
//		return err
//	}
//	defer cleanup()
//
// # 派生 Logger 与级别控制
//
// With 和 WithGroup 返回的派生 logger 共享父级的 LevelVar，
// 对任一 logger 调用 SetLevel 会同步生效。
//
// # 全局 Logger
//
// 组件未注入 logger 时使用 [Default]。测试中可用 [Discard] 静默输出。
package xlog
