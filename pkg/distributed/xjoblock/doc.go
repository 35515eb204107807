// Package xjoblock 实现按 jobKey 互斥的执行锁。
//
// 锁是协调服务中的临时节点，路径为 <lockRoot>/<namespace>/<jobKey>，
// 数据为持有者的节点标识。节点随持有者会话结束而消失，
// 因此持有者崩溃后无需任何节点探测，锁会被协调服务自动释放。
//
// 返回值约定：
//
//   - TryAcquire 返回 (nil, nil) 表示锁被其他节点持有，属于正常竞争
//   - ErrCoordinationUnavailable 表示确定未获得锁，但协调服务出现故障
//   - ErrAmbiguousAcquisition 表示无法确认是否获得了锁，
//     调用方在协调服务恢复后用 Reclaim 认领，不可直接假定成功
//
// 释放采用比较删除：只有节点数据仍等于调用方标识时才删除。
// Locker.Release 对非持有者是记录日志的空操作；Lease.Release 返回
// ErrStaleRelease 以便持有者得知锁已在此前丢失。
package xjoblock
