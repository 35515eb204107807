// Package xjobstore 提供 xjob.Store 的多种实现。
//
//   - MemoryStore：进程内存，用于测试与单机模拟多节点
//   - EtcdStore：每个作业一个键，ModRevision 比较写入
//   - RedisStore：每个作业一个字符串键加 ID 索引集合，WATCH/MULTI 写入
//   - MongoStore：每个作业一个文档，以旧状态为条件更新
//
// 所有实现都在单条记录上原子地执行"读取、校验转换、写入"，
// 并发写入冲突时有界重试，耗尽后返回 xjob.ErrConflict。
// 后端不可达统一包装为 xjob.ErrStoreUnavailable。
//
// WithBreaker 为任意 Store 加上熔断：熔断打开期间直接返回
// xjob.ErrStoreUnavailable，调度循环按周期重试。
package xjobstore
