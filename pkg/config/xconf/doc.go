// Package xconf 加载 YAML/JSON 配置文件并支持热重载，基于 koanf。
//
// 职责限于加载、反序列化与文件监视。默认值与校验由调用方负责：
// 先以默认值填充目标结构体，再调用 Unmarshal，缺失的键保持默认值。
//
// # 并发
//
// Reload 串行执行，解析成功后原子替换 koanf 实例。Koanf() 返回的实例是
// 调用时刻的快照，Reload 之后仍可使用但数据已过期，应按需重新获取。
//
// # 监视
//
// Watcher 监视配置文件所在目录，兼容编辑器先写临时文件再 rename 的保存方式，
// 防抖后调用 Reload 并回调。Watcher 实现 Run(ctx)，可直接作为 xrun 服务运行。
package xconf
