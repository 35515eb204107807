package xsched

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/omeyang/xjob/pkg/context/xctx"
	"github.com/omeyang/xjob/pkg/distributed/xjoblock"
	"github.com/omeyang/xjob/pkg/jobs/xjob"
	"github.com/omeyang/xjob/pkg/observability/xlog"
)

type nodeState int

const (
	stateIdle nodeState = iota
	stateRunning
	stateStopped
)

// Node 一个调度节点。
//
// 多个 Node 可以在同一进程内共享协调服务与作业存储，
// 只要节点标识互不相同。节点实例只能启动一次。
type Node struct {
	id       string
	store    xjob.Store
	locker   *xjoblock.Locker
	executor Executor
	opts     *options
	logger   xlog.Logger
	stats    Stats

	pollInterval atomic.Int64
	trigger      chan struct{}
	slots        chan struct{}

	pollMu sync.Mutex
	mu     sync.Mutex
	state  nodeState
	// 本节点认为持有的 jobKey：执行中、终态待写入、获取结果未知
	running   map[string]*execution
	pending   map[string]*pendingTerminal
	ambiguous map[string]struct{}
	// suspect 协调服务曾不可用，恢复派发前需核对锁归属
	suspect bool

	baseCtx    context.Context
	cancelBase context.CancelCauseFunc
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
	execs      sync.WaitGroup
	cron       *cron.Cron
}

// NewNode 创建调度节点。nodeID 在集群内必须唯一，且同一时刻不能被两个进程使用。
func NewNode(nodeID string, store xjob.Store, locker *xjoblock.Locker, executor Executor, opts ...Option) (*Node, error) {
	if nodeID == "" || strings.Contains(nodeID, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNodeID, nodeID)
	}
	if store == nil || locker == nil || executor == nil {
		return nil, fmt.Errorf("%w: store, locker and executor are required", ErrNilDependency)
	}
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.retention < 0 {
		return nil, fmt.Errorf("%w: negative retention", ErrInvalidOption)
	}
	if o.retention > 0 {
		if _, err := cron.ParseStandard(o.maintenanceSpec); err != nil {
			return nil, fmt.Errorf("%w: maintenance spec %q: %w", ErrInvalidOption, o.maintenanceSpec, err)
		}
	}

	n := &Node{
		id:        nodeID,
		store:     store,
		locker:    locker,
		executor:  executor,
		opts:      o,
		logger:    o.logger.With(xlog.Component("xsched"), xlog.NodeID(nodeID)),
		trigger:   make(chan struct{}, 1),
		slots:     make(chan struct{}, o.maxConcurrent),
		running:   make(map[string]*execution),
		pending:   make(map[string]*pendingTerminal),
		ambiguous: make(map[string]struct{}),
	}
	n.pollInterval.Store(int64(o.pollInterval))
	return n, nil
}

// ID 返回节点标识。
func (n *Node) ID() string { return n.id }

// Name 实现 xrun.Named。
func (n *Node) Name() string { return "xsched-node-" + n.id }

// Stats 返回运行统计。
func (n *Node) Stats() StatsSnapshot { return n.stats.Snapshot() }

// Start 确认协调会话可用后启动调度循环，不阻塞。
//
// 无法建立协调会话时返回 ErrCoordinationUnavailable，调用方应视为致命错误。
// 第一次调度在一个调度周期后发生，需要立即调度时调用 Trigger。
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != stateIdle {
		return ErrAlreadyStarted
	}
	if err := n.locker.Ping(ctx); err != nil {
		return fmt.Errorf("%w: node %s: %w", ErrCoordinationUnavailable, n.id, err)
	}

	base, err := xctx.WithNodeID(context.WithoutCancel(ctx), n.id)
	if err != nil {
		return err
	}
	n.baseCtx, n.cancelBase = context.WithCancelCause(base)
	loopCtx, cancelLoop := context.WithCancel(n.baseCtx)
	n.cancelLoop = cancelLoop
	n.loopDone = make(chan struct{})

	if n.opts.retention > 0 {
		n.cron = cron.New()
		if _, err := n.cron.AddFunc(n.opts.maintenanceSpec, func() { n.runMaintenance(loopCtx) }); err != nil {
			cancelLoop()
			n.cancelBase(err)
			return fmt.Errorf("%w: maintenance spec: %w", ErrInvalidOption, err)
		}
		n.cron.Start()
	}

	releases := n.watchReleases(loopCtx)
	n.state = stateRunning
	go n.loop(loopCtx, releases)

	n.logger.Info(ctx, "scheduler node started",
		xlog.Duration(n.PollInterval()), xlog.Path(n.locker.Prefix()))
	return nil
}

// Run 启动节点并阻塞到 ctx 取消，然后关闭节点。实现 xrun.Service。
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(ctx); err != nil {
		return err
	}
	n.Trigger()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.opts.terminalTimeout+n.opts.stopCheckInterval)
	defer cancel()
	return n.Shutdown(shutdownCtx)
}

// Trigger 请求尽快执行一次调度，不阻塞。
func (n *Node) Trigger() {
	select {
	case n.trigger <- struct{}{}:
	default:
	}
}

// SetPollInterval 修改调度周期，下一周期生效。
func (n *Node) SetPollInterval(d time.Duration) {
	if d > 0 {
		n.pollInterval.Store(int64(d))
	}
}

// PollInterval 返回当前调度周期。
func (n *Node) PollInterval() time.Duration { return time.Duration(n.pollInterval.Load()) }

// Owned 返回本节点认为持有锁的 jobKey，按字典序。
func (n *Node) Owned() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ownedLocked()
}

func (n *Node) ownedLocked() []string {
	keys := slices.Collect(maps.Keys(n.running))
	keys = slices.AppendSeq(keys, maps.Keys(n.pending))
	keys = slices.AppendSeq(keys, maps.Keys(n.ambiguous))
	slices.Sort(keys)
	return slices.Compact(keys)
}

func (n *Node) ownsLocked(key string) bool {
	_, r := n.running[key]
	_, p := n.pending[key]
	_, a := n.ambiguous[key]
	return r || p || a
}

func (n *Node) loop(ctx context.Context, releases <-chan string) {
	defer close(n.loopDone)
	timer := time.NewTimer(n.PollInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-n.trigger:
		case key, ok := <-releases:
			if !ok {
				releases = nil
				continue
			}
			n.logger.Debug(ctx, "lock released, polling", xlog.JobKey(key))
		}
		if err := n.PollAndDispatch(ctx); err != nil && ctx.Err() == nil {
			n.logger.Warn(ctx, "poll cycle failed", xlog.Err(err))
		}
		timer.Reset(n.PollInterval())
	}
}

// watchReleases 订阅锁释放事件；后端不支持时只依赖周期轮询。
func (n *Node) watchReleases(ctx context.Context) <-chan string {
	if !n.opts.releaseWatch {
		return nil
	}
	ch, err := n.locker.WatchReleases(ctx)
	if err != nil {
		n.logger.Info(ctx, "lock release watch disabled, relying on polling", xlog.Err(err))
		return nil
	}
	return ch
}

// Shutdown 停止调度并取消执行中的作业，写入终态后尽力释放所有锁。
//
// ctx 到期时仍在执行的作业不释放锁，由会话过期兜底。可重复调用。
func (n *Node) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	if n.state != stateRunning {
		n.mu.Unlock()
		return nil
	}
	n.state = stateStopped
	n.mu.Unlock()

	n.cancelLoop()
	<-n.loopDone
	// 等待手动调用的调度周期结束
	n.pollMu.Lock()
	n.pollMu.Unlock() //nolint:staticcheck // 屏障
	if n.cron != nil {
		<-n.cron.Stop().Done()
	}

	n.cancelBase(errShutdown)
	done := make(chan struct{})
	go func() {
		n.execs.Wait()
		close(done)
	}()
	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("xsched: wait for executions: %w", context.Cause(ctx)))
	}

	errs = append(errs, n.releaseAll(ctx))
	err := errors.Join(errs...)
	n.logger.Info(ctx, "scheduler node stopped", xlog.Err(err))
	return err
}
