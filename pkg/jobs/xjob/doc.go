// Package xjob 定义作业模型、状态机与作业存储契约。
//
// # 状态机
//
//	READY ──> RUNNING ──> SUCCEED | ERROR
//	  │          │
//	  └──────────┴──────> STOPPED | DISCARDED
//
// 四个终态不可离开。READY → RUNNING 只能由持有该 jobKey 执行锁的节点执行，
// 该约束由锁而不是状态机保证；状态机只校验转换本身是否合法。
//
// # 存储
//
// Store 的每个实现都必须以单条记录为粒度原子地校验并应用状态转换，
// 且写入后任何节点的读取都能看到新状态，不允许跨写入边界缓存状态。
//
// # 等待
//
// WaitForStatus 与 WaitForTerminal 按调用方给定的间隔轮询，
// 观察到的状态最多滞后一个间隔。
package xjob
