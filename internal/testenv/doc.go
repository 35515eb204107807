// Package testenv 为集成测试启动外部依赖（etcd、redis、MongoDB）。
//
// 优先使用环境变量指定的已有实例，否则通过 testcontainers 启动容器；
// Docker 不可用时跳过测试。仅在 integration 构建标签下编译容器相关代码。
package testenv
