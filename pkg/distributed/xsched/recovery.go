package xsched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/omeyang/xjob/pkg/jobs/xjob"
	"github.com/omeyang/xjob/pkg/observability/xlog"
	"github.com/omeyang/xjob/pkg/observability/xmetrics"
)

// recoverOrphans 处理执行节点已失去锁的 RUNNING 作业：
// 获取该 key 的锁后将作业置为 ERROR，按配置提交一个 READY 副本。
func (n *Node) recoverOrphans(ctx context.Context) (err error) {
	running, err := n.store.ListJobs(ctx, xjob.Filter{Statuses: []xjob.Status{xjob.StatusRunning}})
	if err != nil {
		n.stats.storeFailures.Add(1)
		return fmt.Errorf("%w: list running jobs: %w", ErrStoreFailure, err)
	}
	if len(running) == 0 {
		return nil
	}
	holders, err := n.locker.Holders(ctx)
	if err != nil {
		n.markSuspect()
		return fmt.Errorf("%w: list lock holders: %w", ErrCoordinationUnavailable, err)
	}

	var errs []error
	for _, job := range running {
		if _, held := holders[job.Key]; held {
			continue
		}
		n.mu.Lock()
		owned := n.ownsLocked(job.Key)
		n.mu.Unlock()
		if owned {
			continue
		}
		if err := n.recoverOrphan(ctx, job); err != nil {
			errs = append(errs, err)
			if errors.Is(err, ErrCoordinationUnavailable) {
				break
			}
		}
	}
	return errors.Join(errs...)
}

func (n *Node) recoverOrphan(ctx context.Context, orphan *xjob.Job) (err error) {
	ctx, span := n.startSpan(ctx, "recover",
		xmetrics.String("job_key", orphan.Key), xmetrics.String("job_id", orphan.ID))
	recovered := false
	defer func() {
		status := xmetrics.Status("")
		if err == nil && !recovered {
			status = xmetrics.StatusSkipped
		}
		span.End(xmetrics.Result{Err: err, Status: status})
	}()

	lease, err := n.locker.TryAcquire(ctx, orphan.Key, n.id)
	switch {
	case err != nil:
		n.markSuspect()
		return fmt.Errorf("%w: acquire %s for recovery: %w", ErrCoordinationUnavailable, orphan.Key, err)
	case lease == nil:
		return nil
	}
	defer func() {
		if rerr := n.release(ctx, lease); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	// 持锁后重新确认，执行节点可能刚刚写入了终态
	job, err := n.store.GetJob(ctx, orphan.ID)
	switch {
	case errors.Is(err, xjob.ErrJobNotFound):
		return nil
	case err != nil:
		n.stats.storeFailures.Add(1)
		return fmt.Errorf("%w: reload orphan %s: %w", ErrStoreFailure, orphan.ID, err)
	case job.Status != xjob.StatusRunning:
		return nil
	}

	msg := fmt.Sprintf("owner %s lost its execution lock; recovered by %s", job.Node, n.id)
	if _, err := n.store.SetStatus(ctx, job.ID, xjob.StatusError, xjob.WithMessage(msg)); err != nil {
		if errors.Is(err, xjob.ErrInvalidTransition) || errors.Is(err, xjob.ErrJobNotFound) {
			return nil
		}
		n.stats.storeFailures.Add(1)
		return fmt.Errorf("%w: mark orphan %s: %w", ErrStoreFailure, job.ID, err)
	}
	recovered = true
	n.stats.orphans.Add(1)
	n.logger.Warn(ctx, "orphaned job recovered",
		xlog.JobID(job.ID), xlog.JobKey(job.Key), xlog.Owner(job.Node))

	if !n.opts.resubmitOrphans {
		return nil
	}
	return n.resubmit(ctx, job)
}

// resubmit 提交孤儿作业的 READY 副本，保留名称、类型与参数。
func (n *Node) resubmit(ctx context.Context, orphan *xjob.Job) error {
	copied, err := xjob.New(orphan.Key,
		xjob.WithName(orphan.Name), xjob.WithType(orphan.Type), xjob.WithParams(orphan.Params))
	if err != nil {
		return err
	}
	if err := n.store.CreateJob(ctx, copied); err != nil {
		n.stats.storeFailures.Add(1)
		return fmt.Errorf("%w: resubmit orphan %s: %w", ErrStoreFailure, orphan.ID, err)
	}
	n.logger.Info(ctx, "orphaned job resubmitted",
		xlog.JobID(copied.ID), xlog.JobKey(copied.Key), slog.String("origin_job_id", orphan.ID))
	return nil
}
