package xsched

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/omeyang/xjob/pkg/distributed/xjoblock"
	"github.com/omeyang/xjob/pkg/jobs/xjob"
	"github.com/omeyang/xjob/pkg/observability/xlog"
	"github.com/omeyang/xjob/pkg/observability/xmetrics"
)

// PollAndDispatch 执行一个调度周期，周期之间互斥。
//
// 返回的错误只用于记录，调度循环在下一周期重试。
func (n *Node) PollAndDispatch(ctx context.Context) (err error) {
	n.pollMu.Lock()
	defer n.pollMu.Unlock()
	if !n.isRunning() {
		return ErrNotStarted
	}

	ctx, span := n.startSpan(ctx, "poll")
	defer func() {
		n.stats.recordPoll(n.opts.now(), err)
		span.End(xmetrics.Result{Err: err})
	}()

	n.retryPending(ctx)
	n.reclaimAmbiguous(ctx)
	if err := n.verifyOwnership(ctx); err != nil {
		return err
	}

	ready, err := n.store.ListJobs(ctx, xjob.Filter{Statuses: []xjob.Status{xjob.StatusReady}})
	if err != nil {
		n.stats.storeFailures.Add(1)
		return fmt.Errorf("%w: list ready jobs: %w", ErrStoreFailure, err)
	}

	var errs []error
	for _, key := range keysByAge(ready) {
		if ctx.Err() != nil {
			break
		}
		if err := n.tryDispatch(ctx, key); err != nil {
			errs = append(errs, err)
			if errors.Is(err, ErrCoordinationUnavailable) {
				break
			}
		}
	}
	if n.opts.orphanRecovery && !n.isSuspect() {
		errs = append(errs, n.recoverOrphans(ctx))
	}
	return errors.Join(errs...)
}

// keysByAge 返回去重后的 jobKey，按各自最早作业的顺序。保留 key 被跳过。
func keysByAge(jobs []*xjob.Job) []string {
	jobs = slices.Clone(jobs)
	slices.SortFunc(jobs, xjob.CompareAge)
	seen := make(map[string]struct{}, len(jobs))
	keys := make([]string, 0, len(jobs))
	for _, j := range jobs {
		if xjob.IsReservedKey(j.Key) {
			continue
		}
		if _, ok := seen[j.Key]; ok {
			continue
		}
		seen[j.Key] = struct{}{}
		keys = append(keys, j.Key)
	}
	return keys
}

// tryDispatch 尝试获取 key 的锁并启动其最早的 READY 作业。
// 本节点已持有该 key 时跳过，同一 key 的工作在节点内串行。
func (n *Node) tryDispatch(ctx context.Context, key string) error {
	n.mu.Lock()
	owned := n.ownsLocked(key)
	n.mu.Unlock()
	if owned {
		return nil
	}
	if !n.takeSlot() {
		n.logger.Debug(ctx, "concurrency limit reached, deferring", xlog.JobKey(key))
		return nil
	}

	lease, err := n.locker.TryAcquire(ctx, key, n.id)
	switch {
	case err == nil && lease == nil:
		n.putSlot()
		n.stats.contended.Add(1)
		n.logger.Debug(ctx, "lock held by another node, skipping", xlog.JobKey(key))
		return nil
	case errors.Is(err, xjoblock.ErrAmbiguousAcquisition):
		n.putSlot()
		n.mu.Lock()
		n.ambiguous[key] = struct{}{}
		n.mu.Unlock()
		n.logger.Warn(ctx, "lock acquisition outcome unknown, will reclaim next cycle",
			xlog.JobKey(key), xlog.Err(err))
		return nil
	case err != nil:
		n.putSlot()
		if errors.Is(err, xjoblock.ErrCoordinationUnavailable) {
			n.markSuspect()
			return fmt.Errorf("%w: acquire %s: %w", ErrCoordinationUnavailable, key, err)
		}
		return fmt.Errorf("xsched: acquire %s: %w", key, err)
	}
	return n.startOnLease(ctx, lease)
}

// startOnLease 在持有锁后重新读取 READY 作业，将最早的一个置为 RUNNING 并开始执行。
// 调用方已占用一个执行槽位。
//
// RUNNING 写入返回存储错误时写入可能已生效，锁保留并记为待启动，
// 下一周期由 resumeStart 按存储中的状态继续。
func (n *Node) startOnLease(ctx context.Context, lease *xjoblock.Lease) (err error) {
	key := lease.Key()
	ctx, span := n.startSpan(ctx, "dispatch", xmetrics.String("job_key", key))
	started, kept := false, false
	defer func() {
		if !started {
			n.putSlot()
			if !kept {
				n.abandon(ctx, lease)
			}
		}
		span.End(xmetrics.Result{Err: err, Status: dispatchStatus(started, err)})
	}()

	jobs, err := n.store.ListJobs(ctx, xjob.Filter{Key: key, Statuses: []xjob.Status{xjob.StatusReady}})
	if err != nil {
		n.stats.storeFailures.Add(1)
		return fmt.Errorf("%w: reload %s: %w", ErrStoreFailure, key, err)
	}
	if len(jobs) == 0 {
		return nil
	}
	jobID := slices.MinFunc(jobs, xjob.CompareAge).ID

	job, err := n.store.SetStatus(ctx, jobID, xjob.StatusRunning, xjob.WithNode(n.id))
	switch {
	case errors.Is(err, xjob.ErrInvalidTransition), errors.Is(err, xjob.ErrJobNotFound):
		n.logger.Info(ctx, "job left READY before start", xlog.JobKey(key), xlog.Err(err))
		return nil
	case err != nil:
		n.stats.storeFailures.Add(1)
		n.setPending(&pendingTerminal{key: key, jobID: jobID, lease: lease, written: true, starting: true})
		kept = true
		n.logger.Warn(ctx, "start write failed, keeping lock until job state is known",
			xlog.JobKey(key), xlog.JobID(jobID), xlog.Err(err))
		return fmt.Errorf("%w: start job %s in %s: %w", ErrStoreFailure, jobID, key, err)
	}

	n.launch(job, lease)
	started = true
	return nil
}

// resumeStart 处理 RUNNING 写入结果未知的作业，调用方持有 pollMu，锁仍由本节点持有。
// 本节点已写入 RUNNING 时直接执行；仍为 READY 时重新启动；
// 作业离开这两个状态后才释放锁。
func (n *Node) resumeStart(ctx context.Context, p *pendingTerminal) {
	select {
	case <-p.lease.Lost():
		p.starting = false
		_ = n.complete(ctx, p)
		return
	default:
	}

	job, err := n.store.GetJob(ctx, p.jobID)
	switch {
	case errors.Is(err, xjob.ErrJobNotFound):
	case err != nil:
		n.stats.storeFailures.Add(1)
		n.logger.Warn(ctx, "start still unresolved, keeping lock",
			xlog.JobKey(p.key), xlog.JobID(p.jobID), xlog.Err(err))
		return
	case job.Status == xjob.StatusRunning && job.Node == n.id,
		job.Status == xjob.StatusReady:
		if !n.takeSlot() {
			return
		}
		n.mu.Lock()
		delete(n.pending, p.key)
		n.mu.Unlock()
		if job.Status == xjob.StatusRunning {
			n.logger.Info(ctx, "start write had been applied, resuming", xlog.JobID(job.ID))
			n.launch(job, p.lease)
			return
		}
		if err := n.startOnLease(ctx, p.lease); err != nil {
			n.logger.Warn(ctx, "restart failed", xlog.JobKey(p.key), xlog.Err(err))
		}
		return
	}

	p.starting = false
	if err := n.complete(ctx, p); err != nil {
		n.logger.Warn(ctx, "release after unresolved start failed", xlog.JobKey(p.key), xlog.Err(err))
	}
}

func dispatchStatus(started bool, err error) xmetrics.Status {
	if !started && err == nil {
		return xmetrics.StatusSkipped
	}
	return ""
}

// abandon 释放未用于执行的锁，失败时记为待释放。
func (n *Node) abandon(ctx context.Context, lease *xjoblock.Lease) {
	p := &pendingTerminal{key: lease.Key(), lease: lease, written: true}
	n.mu.Lock()
	n.pending[p.key] = p
	n.mu.Unlock()
	_ = n.complete(ctx, p)
}

// retryPending 重试上一周期未完成的启动、终态写入与锁释放。
func (n *Node) retryPending(ctx context.Context) {
	n.mu.Lock()
	items := slices.Collect(maps.Values(n.pending))
	n.mu.Unlock()
	for _, p := range items {
		if p.starting {
			n.resumeStart(ctx, p)
			continue
		}
		if err := n.complete(ctx, p); err != nil {
			n.logger.Warn(ctx, "pending terminal write still failing",
				xlog.JobKey(p.key), xlog.JobID(p.jobID), xlog.Err(err))
		}
	}
}

// reclaimAmbiguous 对获取结果未知的 key 核对锁数据，属于本节点则接管并派发。
func (n *Node) reclaimAmbiguous(ctx context.Context) {
	n.mu.Lock()
	keys := slices.Sorted(maps.Keys(n.ambiguous))
	n.mu.Unlock()

	for _, key := range keys {
		lease, err := n.locker.Reclaim(ctx, key, n.id)
		if err != nil {
			n.markSuspect()
			n.logger.Warn(ctx, "reclaim failed, keeping key unresolved", xlog.JobKey(key), xlog.Err(err))
			continue
		}
		n.mu.Lock()
		delete(n.ambiguous, key)
		n.mu.Unlock()
		if lease == nil {
			continue
		}
		if !n.takeSlot() {
			n.abandon(ctx, lease)
			continue
		}
		if err := n.startOnLease(ctx, lease); err != nil {
			n.logger.Warn(ctx, "dispatch after reclaim failed", xlog.JobKey(key), xlog.Err(err))
		}
	}
}

// verifyOwnership 协调服务恢复后核对本节点持有的锁，丢失的执行被取消。
//
// 获取结果未知后才生效的创建会留下以本节点标识持有、但未被跟踪的锁，这里一并释放。
func (n *Node) verifyOwnership(ctx context.Context) error {
	if !n.isSuspect() {
		return nil
	}
	holders, err := n.locker.Holders(ctx)
	if err != nil {
		return fmt.Errorf("%w: verify ownership: %w", ErrCoordinationUnavailable, err)
	}

	n.mu.Lock()
	for key, e := range n.running {
		if holders[key] != n.id {
			n.logger.Warn(ctx, "execution lock lost while coordination was unavailable",
				xlog.JobKey(key), xlog.JobID(e.job.ID), xlog.Owner(holders[key]))
			e.cancel(errLeaseLost)
		}
	}
	for key, p := range n.pending {
		if holders[key] != n.id {
			n.logger.Warn(ctx, "lock lost while terminal write pending",
				xlog.JobKey(key), xlog.JobID(p.jobID), xlog.Owner(holders[key]))
		}
	}
	var untracked []string
	for key, owner := range holders {
		// 保留 key 由清理任务在调度周期之外持有
		if owner == n.id && !n.ownsLocked(key) && !xjob.IsReservedKey(key) {
			untracked = append(untracked, key)
		}
	}
	tracked := len(n.running) + len(n.pending)
	n.mu.Unlock()

	for _, key := range untracked {
		if err := n.locker.Release(ctx, key, n.id); err != nil {
			return fmt.Errorf("%w: release untracked %s: %w", ErrCoordinationUnavailable, key, err)
		}
		n.logger.Warn(ctx, "released untracked lock held under own identity", xlog.JobKey(key))
	}

	n.mu.Lock()
	n.suspect = false
	n.mu.Unlock()
	n.logger.Info(ctx, "lock ownership re-verified", xlog.Count(tracked))
	return nil
}

func (n *Node) takeSlot() bool {
	select {
	case n.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (n *Node) putSlot() { <-n.slots }

func (n *Node) isRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state == stateRunning
}

func (n *Node) markSuspect() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.suspect = true
}

func (n *Node) isSuspect() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.suspect
}

func (n *Node) startSpan(ctx context.Context, op string, attrs ...xmetrics.Attr) (context.Context, xmetrics.Span) {
	return xmetrics.Start(ctx, n.opts.observer, xmetrics.SpanOptions{
		Component: "xsched",
		Operation: op,
		Kind:      xmetrics.KindInternal,
		Attrs:     append([]xmetrics.Attr{xmetrics.String("node_id", n.id)}, attrs...),
	})
}
