// Package xrun 提供基于 errgroup + context 的进程生命周期管理。
//
// 任一服务返回错误或收到终止信号时，共享 context 被取消，
// 其余服务监听 ctx.Done() 后退出。调度节点进程用它同时运行
// 调度循环与配置监听：
//
//	err := xrun.RunServices(ctx, node, xrun.ServiceFunc(watchConfig))
//	if errors.Is(err, xrun.ErrSignal) {
//		// 正常的信号退出
//	}
package xrun
