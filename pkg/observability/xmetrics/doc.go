// Package xmetrics 提供统一的可观测性接口（metrics + tracing）。
//
// 组件只依赖 Observer/Span/Attr 接口，默认实现基于 OpenTelemetry。
// 未配置 observer 时 [Start] 返回空跨度，调用方无需判空。
//
//	ctx, span := xmetrics.Start(ctx, obs, xmetrics.SpanOptions{
//		Component: "xjoblock",
//		Operation: "acquire",
//		Kind:      xmetrics.KindClient,
//	})
//	defer func() { span.End(xmetrics.Result{Err: err}) }()
//
// # 指标命名
//
//   - xjob.operation.total     调用次数
//   - xjob.operation.duration  调用耗时（秒）
//
// 统一属性：component / operation / status。
// status 除 ok / error 外，锁竞争失败记为 contended，调度跳过记为 skipped。
package xmetrics
