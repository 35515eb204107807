package xsched

import (
	"context"
	"errors"
	"fmt"

	"github.com/omeyang/xjob/pkg/jobs/xjob"
	"github.com/omeyang/xjob/pkg/observability/xlog"
	"github.com/omeyang/xjob/pkg/observability/xmetrics"
)

func (n *Node) runMaintenance(ctx context.Context) {
	cleaned, err := n.Maintain(ctx)
	switch {
	case err != nil:
		n.logger.Warn(ctx, "maintenance failed", xlog.Err(err))
	case cleaned > 0:
		n.logger.Info(ctx, "expired jobs cleaned", xlog.Count(cleaned))
	}
}

// Maintain 删除结束时间早于保留期的终态作业，返回删除数量。
//
// 集群内同一时刻只有一个节点执行清理，通过 MaintenanceKey 互斥；
// 未抢到时返回 0。未配置保留期时不做任何事。
func (n *Node) Maintain(ctx context.Context) (cleaned int, err error) {
	if n.opts.retention <= 0 {
		return 0, nil
	}
	ctx, span := n.startSpan(ctx, "maintenance")
	contended := false
	defer func() {
		status := xmetrics.Status("")
		if contended {
			status = xmetrics.StatusContended
		}
		span.End(xmetrics.Result{Err: err, Status: status, Attrs: []xmetrics.Attr{xmetrics.Int("cleaned", cleaned)}})
	}()

	lease, err := n.locker.TryAcquire(ctx, MaintenanceKey, n.id)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%w: maintenance lock: %w", ErrCoordinationUnavailable, err)
	case lease == nil:
		contended = true
		return 0, nil
	}
	defer func() {
		if rerr := n.release(ctx, lease); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	terminal, err := n.store.ListJobs(ctx, xjob.Filter{Statuses: []xjob.Status{
		xjob.StatusSucceed, xjob.StatusError, xjob.StatusStopped, xjob.StatusDiscarded,
	}})
	if err != nil {
		n.stats.storeFailures.Add(1)
		return 0, fmt.Errorf("%w: list terminal jobs: %w", ErrStoreFailure, err)
	}

	cutoff := n.opts.now().Add(-n.opts.retention)
	var errs []error
	for _, job := range terminal {
		finished := job.FinishedAt
		if finished.IsZero() {
			finished = job.UpdatedAt
		}
		if !finished.Before(cutoff) {
			continue
		}
		switch err := n.store.DeleteJob(ctx, job.ID); {
		case err == nil:
			cleaned++
			n.stats.cleaned.Add(1)
			n.logger.Debug(ctx, "expired job deleted", xlog.JobID(job.ID), xlog.JobKey(job.Key))
		case errors.Is(err, xjob.ErrJobNotFound):
		default:
			n.stats.storeFailures.Add(1)
			errs = append(errs, fmt.Errorf("%w: delete %s: %w", ErrStoreFailure, job.ID, err))
		}
	}
	return cleaned, errors.Join(errs...)
}
