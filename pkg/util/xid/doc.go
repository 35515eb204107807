// Package xid 基于 Sonyflake v2 生成分布式唯一 ID，用于作业 ID。
//
// ID 为 63 位正整数（39 位时间 + 8 位序列 + 16 位机器），
// 字符串形式使用 base36 编码，按生成时间单调递增，
// 同一毫秒内生成的 ID 也保持大小顺序，可作为 READY 作业的次级排序键。
//
// 机器 ID 按以下顺序确定：
//
//  1. XJOB_MACHINE_ID 环境变量（0-65535）
//  2. POD_NAME 的 FNV 哈希
//  3. 主机名的 FNV 哈希
//  4. 私有 IPv4 地址的低 16 位
//
// 哈希方式存在碰撞可能，节点较多时应显式设置 XJOB_MACHINE_ID。
package xid
