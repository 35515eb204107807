// Package xcoord 提供协调服务客户端：会话与会话绑定的临时节点。
//
// 临时节点在创建它的会话存活期间存在，会话结束（进程退出、网络分区、
// 显式关闭）时由协调服务删除。调用方以节点消失作为持有者失效的信号，
// 不需要自行维护心跳。
//
// 三种实现：
//
//   - EtcdClient：节点绑定 etcd 租约，会话为 concurrency.Session
//   - RedisClient：SET NX PX 创建节点，会话 goroutine 定期比较续期
//   - MemoryClient：进程内实现，多个客户端共享一个 MemoryServer，
//     支持模拟会话过期与故障注入，用于单进程内的多节点测试
//
// 错误分类：
//
//   - ErrNodeExists：节点已存在，属于正常竞争
//   - ErrUnavailable：与协调服务通信失败，写操作的结果可能未知
//   - ErrSessionExpired：会话已过期，下次调用将建立新会话
package xcoord
