// Package xetcd 提供 etcd 客户端封装。
//
//   - 简化的 KV 操作 (Get/Put/Delete/List/Exists)
//   - 乐观并发原语：Create（不存在才写入）与 CompareAndSwap（按 ModRevision 写入）
//   - Watch，监听键或前缀的变化
//
// 租约、会话、带租约的事务等高级能力通过 RawClient 使用原生客户端，
// xcoord 的 etcd 协调后端即基于此构建临时节点。
//
//	cfg := xetcd.DefaultConfig()
//	cfg.Endpoints = []string{"localhost:2379"}
//	client, err := xetcd.NewClient(cfg, xetcd.WithHealthCheck(true, 5*time.Second))
//	if err != nil {
//		return err
//	}
//	defer client.Close()
package xetcd
