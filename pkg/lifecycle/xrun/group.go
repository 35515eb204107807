package xrun

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xjob/pkg/observability/xlog"
)

// Group 基于 errgroup + context 管理多个服务的并发运行和协调关闭。
//
// Go、GoWithName、Cancel 可并发调用；Wait 只应调用一次。
type Group struct {
	eg       *errgroup.Group
	ctx      context.Context
	causeCtx context.Context
	cancel   context.CancelCauseFunc
	opts     *groupOptions
}

// NewGroup 创建 Group，返回的 context 在任一服务出错或 Cancel 时取消。
func NewGroup(ctx context.Context, opts ...Option) (*Group, context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	options := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	causeCtx, cancel := context.WithCancelCause(ctx)
	eg, egCtx := errgroup.WithContext(causeCtx)
	return &Group{eg: eg, ctx: egCtx, causeCtx: causeCtx, cancel: cancel, opts: options}, egCtx
}

// Go 启动一个 goroutine 执行 fn，fn 返回错误时取消其余服务。
func (g *Group) Go(fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		if fn == nil {
			return ErrNilFunc
		}
		return fn(g.ctx)
	})
}

// GoWithName 与 Go 相同，额外记录服务启停日志。
func (g *Group) GoWithName(name string, fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		if fn == nil {
			return ErrNilFunc
		}
		attrs := []slog.Attr{slog.String("group", g.opts.name), slog.String("service", name)}
		g.opts.logger.Debug(g.ctx, "service starting", attrs...)
		err := fn(g.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			g.opts.logger.Warn(g.ctx, "service exited with error", append(attrs, xlog.Err(err))...)
		} else {
			g.opts.logger.Debug(g.ctx, "service stopped", attrs...)
		}
		return err
	})
}

// Wait 等待所有服务退出。
//
// 服务因 Group 取消而返回 context.Canceled 时，返回 Cancel 设置的原因
// （如 *SignalError），没有显式原因则返回 nil。
func (g *Group) Wait() error {
	defer g.cancel(nil)

	err := g.eg.Wait()
	if errors.Is(err, context.Canceled) && g.causeCtx.Err() == nil {
		// 服务内部产生的取消，原样返回
		return err
	}
	if err == nil || errors.Is(err, context.Canceled) {
		if g.causeCtx.Err() != nil {
			if cause := context.Cause(g.causeCtx); cause != nil && !errors.Is(cause, context.Canceled) {
				return cause
			}
		}
		return nil
	}
	return err
}

// Cancel 主动取消所有服务，cause 会由 Wait 返回。
func (g *Group) Cancel(cause error) {
	g.cancel(cause)
}

// Context 返回 Group 的 context。
func (g *Group) Context() context.Context {
	return g.ctx
}

// Service 可运行的服务，Run 应阻塞直到 ctx 取消。
type Service interface {
	Run(ctx context.Context) error
}

// ServiceFunc 函数适配为 Service。
type ServiceFunc func(ctx context.Context) error

// Run 实现 Service。
func (f ServiceFunc) Run(ctx context.Context) error { return f(ctx) }

// RunServices 运行服务直到全部退出，默认监听 DefaultSignals。
func RunServices(ctx context.Context, services ...Service) error {
	return RunServicesWithOptions(ctx, nil, services...)
}

// RunServicesWithOptions 与 RunServices 相同，但支持配置选项。
func RunServicesWithOptions(ctx context.Context, opts []Option, services ...Service) error {
	g, _ := NewGroup(ctx, opts...)

	if !g.opts.noSignalHandler {
		signals := g.opts.signals
		if len(signals) == 0 {
			signals = DefaultSignals()
		}
		g.Go(func(ctx context.Context) error {
			return g.waitSignal(ctx, signals)
		})
	}

	for i, svc := range services {
		if svc == nil {
			g.Go(nil)
			continue
		}
		g.GoWithName(serviceName(svc, i), svc.Run)
	}
	return g.Wait()
}

func (g *Group) waitSignal(ctx context.Context, signals []os.Signal) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)
	defer signal.Stop(sigCh)

	var sig os.Signal
	select {
	case sig = <-testSigChan(ctx):
	case sig = <-sigCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	g.opts.logger.Info(ctx, "received signal",
		slog.String("group", g.opts.name), slog.String("signal", sig.String()))
	g.cancel(&SignalError{Signal: sig})
	return nil
}

// Named 服务可选实现，用于日志中的服务名。
type Named interface {
	Name() string
}

func serviceName(svc Service, idx int) string {
	if n, ok := svc.(Named); ok && n.Name() != "" {
		return n.Name()
	}
	return "service-" + strconv.Itoa(idx)
}

type testSigChanKey struct{}

// testSigChan 从 context 获取测试注入的信号通道，生产环境为 nil（永不就绪）。
func testSigChan(ctx context.Context) <-chan os.Signal {
	c, _ := ctx.Value(testSigChanKey{}).(<-chan os.Signal)
	return c
}

func withTestSigChan(ctx context.Context, c <-chan os.Signal) context.Context {
	return context.WithValue(ctx, testSigChanKey{}, c)
}
