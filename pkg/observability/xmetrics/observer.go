package xmetrics

import (
	"context"
)

// Kind 表示观测跨度类型。
type Kind int

const (
	// KindInternal 表示节点内部操作（调度循环、状态机）。
	KindInternal Kind = iota
	// KindClient 表示对协调服务或作业存储的远程调用。
	KindClient
)

// String 返回 Kind 的可读表示。
func (k Kind) String() string {
	if k == KindClient {
		return "Client"
	}
	return "Internal"
}

// Status 表示观测结果状态。
type Status string

const (
	StatusOK        Status = "ok"
	StatusError     Status = "error"
	StatusContended Status = "contended"
	StatusSkipped   Status = "skipped"
)

// Attr 表示观测属性。
type Attr struct {
	Key   string
	Value any
}

// SpanOptions 定义观测跨度的创建参数。
type SpanOptions struct {
	Component string
	Operation string
	Kind      Kind
	Attrs     []Attr
}

// Result 表示观测跨度结束时的结果。
type Result struct {
	// Status 为空时根据 Err 推导。
	Status Status
	Err    error
	Attrs  []Attr
}

// Span 表示一次观测跨度。
type Span interface {
	End(result Result)
}

// Observer 定义统一观测接口。
type Observer interface {
	Start(ctx context.Context, opts SpanOptions) (context.Context, Span)
}

// NoopObserver 是空实现。
type NoopObserver struct{}

// Start 返回 ctx 和空跨度。
func (NoopObserver) Start(ctx context.Context, _ SpanOptions) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, NoopSpan{}
}

// NoopSpan 是空跨度实现。
type NoopSpan struct{}

// End 空实现。
func (NoopSpan) End(Result) {}

// Start 使用 observer 开始观测，保证返回非 nil 的 context 和 Span。
func Start(ctx context.Context, observer Observer, opts SpanOptions) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	if observer == nil {
		return ctx, NoopSpan{}
	}
	retCtx, span := observer.Start(ctx, opts)
	if retCtx == nil {
		retCtx = ctx
	}
	if span == nil {
		span = NoopSpan{}
	}
	return retCtx, span
}
