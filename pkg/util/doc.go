// Package util 提供通用工具相关的子包。
//
// 子包列表：
//   - xid: 基于 sonyflake 的分布式 ID 生成
//   - xjson: 命令行 JSON 输出
package util
