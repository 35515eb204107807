// Package distributed 提供分布式协调与调度相关的子包。
//
// 子包列表：
//   - xcoord: 协调服务客户端，会话绑定的临时节点，支持 etcd、Redis 与进程内后端
//   - xjoblock: 基于临时节点的作业执行锁
//   - xsched: 调度节点，轮询作业、按 jobKey 加锁执行并写回终态
//
// 设计原则：
//   - 锁的存活只取决于持有者的会话，不依赖续期时间窗口
//   - 协调服务不可达时不猜测锁状态，由调用方显式处理
package distributed
