// Package xsched 实现调度节点：发现可运行作业、按 jobKey 获取执行锁、
// 驱动作业状态机，并在完成、丢锁或关闭时释放锁。
//
// # 调度周期
//
// 每个周期 PollAndDispatch 依次：
//
//  1. 重试上一周期写入失败的终态（锁仍持有）
//  2. 认领获取结果未知的锁（锁数据等于本节点标识时）
//  3. 协调服务曾不可用时，先核对本节点持有的全部锁，释放以本节点标识持有但未跟踪的锁
//  4. 列出 READY 作业，每个 jobKey 取最早的一个尝试加锁，被占用则本周期跳过
//  5. 恢复孤儿作业：RUNNING 但锁已空闲的作业标记为 ERROR
//
// 加锁成功后重新读取该 jobKey 下的 READY 作业，仍为 READY 才置为 RUNNING。
// RUNNING 写入失败时锁不释放：下一周期重新读取作业，已由本节点置为 RUNNING 则直接执行，
// 仍为 READY 则重试，作业离开这两个状态后才释放锁。
//
// # 执行
//
// 每个作业在独立 goroutine 中执行，以下任一情况取消执行上下文：
// 定期检查发现作业被外部置为 STOPPED / DISCARDED、锁丢失、超时、节点关闭。
// 结果映射：成功 → SUCCEED，失败或丢锁 → ERROR，外部停止 → 保留外部状态。
//
// 终态总是先写入再释放锁。写入失败时作业保持 RUNNING 且锁不释放，
// 下一周期重试写入。
//
// # 维护
//
// 配置保留期后，节点按 cron 表达式清理过期的终态作业，
// 清理由保留键 MaintenanceKey 上的执行锁保证集群内同一时刻只有一个节点执行。
package xsched
