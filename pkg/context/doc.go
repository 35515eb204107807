// Package context 提供上下文相关的子包。
//
// 子包列表：
//   - xctx: 在 context 中携带追踪、节点与作业标识，供日志自动提取
package context
