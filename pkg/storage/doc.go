// Package storage 提供数据存储客户端相关的子包。
//
// 子包列表：
//   - xetcd: etcd 客户端封装，配置校验、KV、CAS 与 Watch
package storage
