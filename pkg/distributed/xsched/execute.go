package xsched

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xjob/pkg/context/xctx"
	"github.com/omeyang/xjob/pkg/distributed/xjoblock"
	"github.com/omeyang/xjob/pkg/jobs/xjob"
	"github.com/omeyang/xjob/pkg/observability/xlog"
	"github.com/omeyang/xjob/pkg/observability/xmetrics"
)

// releaseRetryDelay 释放锁遇到协调服务不可用时的初始重试间隔。
const releaseRetryDelay = 50 * time.Millisecond

// execution 一个执行中的作业。
type execution struct {
	job    *xjob.Job
	lease  *xjoblock.Lease
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu       sync.Mutex
	reported *outcome
	// final classify 采用的结果，done 关闭后有效
	final outcome
	err   error
}

// pendingTerminal 启动、终态写入或锁释放尚未完成的作业，锁仍由本节点持有。
type pendingTerminal struct {
	key     string
	jobID   string
	lease   *xjoblock.Lease
	status  xjob.Status
	message string
	// written 终态已写入（或无需写入），只剩释放锁
	written bool
	// starting RUNNING 写入结果未知，由 resumeStart 处理
	starting bool
}

// outcome 一次执行的结果。stopped 表示作业已被外部置为终态，不再写入。
type outcome struct {
	status  xjob.Status
	message string
	stopped bool
}

// launch 登记执行并在独立 goroutine 中运行。调用方持有 pollMu，节点处于运行状态。
func (n *Node) launch(job *xjob.Job, lease *xjoblock.Lease) {
	ctx, err := xctx.WithJob(n.baseCtx, job.ID, job.Key)
	if err != nil {
		ctx = n.baseCtx
	}
	ctx, cancel := context.WithCancelCause(ctx)
	e := &execution{job: job, lease: lease, cancel: cancel, done: make(chan struct{})}

	n.mu.Lock()
	n.running[job.Key] = e
	n.mu.Unlock()
	n.stats.dispatched.Add(1)
	n.logger.Info(ctx, "job started", xlog.JobID(job.ID), xlog.JobKey(job.Key))

	n.execs.Add(1)
	go n.execute(ctx, e)
}

func (n *Node) execute(ctx context.Context, e *execution) {
	defer n.execs.Done()
	defer n.putSlot()
	defer close(e.done)
	defer e.cancel(nil)

	execCtx := ctx
	if n.opts.jobTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeoutCause(ctx, n.opts.jobTimeout, errJobTimeout)
		defer cancel()
	}

	stop := make(chan struct{})
	watched := make(chan struct{})
	go n.watchExecution(ctx, e, stop, watched)

	start := time.Now()
	err := safeExecute(execCtx, n.executor, e.job)
	cause := context.Cause(execCtx)
	close(stop)
	<-watched

	out := n.classify(e, err, cause)
	n.stats.recordOutcome(out)
	n.logger.Info(ctx, "job finished",
		xlog.JobID(e.job.ID), xlog.Status(string(out.status)), xlog.Duration(time.Since(start)), xlog.Err(err))

	tctx, cancel := n.terminalContext(ctx)
	defer cancel()
	p := &pendingTerminal{
		key: e.job.Key, jobID: e.job.ID, lease: e.lease,
		status: out.status, message: out.message, written: out.stopped,
	}
	werr := n.complete(tctx, p)
	if werr != nil {
		n.logger.Error(ctx, "terminal write failed, keeping lock until it succeeds",
			xlog.JobID(e.job.ID), xlog.Err(werr))
	}
	e.mu.Lock()
	e.final, e.err = out, werr
	e.mu.Unlock()
}

// watchExecution 执行期间定期检查外部停止与锁归属，必要时取消执行。
func (n *Node) watchExecution(ctx context.Context, e *execution, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(n.opts.stopCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-e.lease.Lost():
			n.logger.Warn(ctx, "execution lock lost, aborting job", xlog.JobID(e.job.ID))
			e.cancel(errLeaseLost)
			return
		case <-ticker.C:
			if cause := n.checkExecution(ctx, e); cause != nil {
				e.cancel(cause)
				return
			}
		}
	}
}

func (n *Node) checkExecution(ctx context.Context, e *execution) error {
	job, err := n.store.GetJob(ctx, e.job.ID)
	switch {
	case errors.Is(err, xjob.ErrJobNotFound):
		n.logger.Warn(ctx, "job deleted while running, aborting", xlog.JobID(e.job.ID))
		return fmt.Errorf("%w: job deleted", errStopRequested)
	case err != nil:
		n.logger.Debug(ctx, "stop check skipped", xlog.JobID(e.job.ID), xlog.Err(err))
	case job.Status == xjob.StatusStopped || job.Status == xjob.StatusDiscarded:
		n.logger.Info(ctx, "job stopped externally, aborting", xlog.JobID(e.job.ID), xlog.Status(string(job.Status)))
		return fmt.Errorf("%w: %s", errStopRequested, job.Status)
	}

	owner, held, err := n.locker.Owner(ctx, e.job.Key)
	switch {
	case err != nil:
		n.markSuspect()
	case !held || owner != n.id:
		n.logger.Warn(ctx, "execution lock taken over, aborting job",
			xlog.JobID(e.job.ID), xlog.Owner(owner))
		return errLeaseLost
	}
	return nil
}

func (o outcome) String() string {
	if o.stopped {
		return "stopped externally"
	}
	return string(o.status)
}

// classify 按优先级映射结果：上报结果、外部停止、丢锁、执行器返回值。
func (n *Node) classify(e *execution, err, cause error) outcome {
	e.mu.Lock()
	reported := e.reported
	e.mu.Unlock()

	switch {
	case reported != nil:
		return *reported
	case errors.Is(cause, errStopRequested):
		return outcome{stopped: true, message: cause.Error()}
	case errors.Is(cause, errLeaseLost):
		return outcome{status: xjob.StatusError, message: errLeaseLost.Error()}
	case err == nil:
		return outcome{status: xjob.StatusSucceed}
	case errors.Is(cause, errJobTimeout):
		return outcome{status: xjob.StatusError, message: fmt.Sprintf("%s after %s", errJobTimeout, n.opts.jobTimeout)}
	case errors.Is(cause, errShutdown):
		return outcome{status: xjob.StatusError, message: errShutdown.Error()}
	default:
		return outcome{status: xjob.StatusError, message: err.Error()}
	}
}

// OnJobTerminal 为本节点持有的作业给出终态：先写入状态，再释放锁。
//
// 作业仍在执行时取消执行并以给定结果结束；执行已先行结束并写入了其他结果时
// 返回 xjob.ErrInvalidTransition。
// 写入失败时作业保持 RUNNING、锁不释放，返回 ErrStoreFailure，调度循环会重试。
func (n *Node) OnJobTerminal(ctx context.Context, jobID string, status xjob.Status, message string) (err error) {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", xjob.ErrInvalidTransition, status)
	}
	ctx, span := n.startSpan(ctx, "terminal", xmetrics.String("job_id", jobID), xmetrics.String("status", string(status)))
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	e, p := n.lookup(jobID)
	switch {
	case e != nil:
		e.mu.Lock()
		e.reported = &outcome{status: status, message: message}
		e.mu.Unlock()
		e.cancel(errOutcomeReported)
		select {
		case <-e.done:
		case <-ctx.Done():
			return context.Cause(ctx)
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.err != nil {
			return e.err
		}
		// 执行器先于上报结束时，写入的是执行器的结果
		if e.final != (outcome{status: status, message: message}) {
			return fmt.Errorf("%w: job %s already finished as %s", xjob.ErrInvalidTransition, jobID, e.final)
		}
		return nil
	case p != nil:
		// 与调度周期中的重试互斥
		n.pollMu.Lock()
		defer n.pollMu.Unlock()
		n.mu.Lock()
		still := n.pending[p.key] == p
		n.mu.Unlock()
		if !still {
			return nil
		}
		p.status, p.message, p.written, p.starting = status, message, false, false
		return n.complete(ctx, p)
	default:
		return fmt.Errorf("%w: %s", ErrJobNotOwned, jobID)
	}
}

func (n *Node) lookup(jobID string) (*execution, *pendingTerminal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.running {
		if e.job.ID == jobID {
			return e, nil
		}
	}
	for _, p := range n.pending {
		if p.jobID != "" && p.jobID == jobID {
			return nil, p
		}
	}
	return nil, nil
}

// complete 写入终态后释放锁；任一步失败都把作业记为待完成，锁保持持有。
func (n *Node) complete(ctx context.Context, p *pendingTerminal) error {
	if !p.written {
		_, err := n.store.SetStatus(ctx, p.jobID, p.status, xjob.WithMessage(p.message))
		switch {
		case err == nil:
		case errors.Is(err, xjob.ErrInvalidTransition), errors.Is(err, xjob.ErrJobNotFound):
			n.logger.Info(ctx, "job already left RUNNING, skipping terminal write",
				xlog.JobID(p.jobID), xlog.Err(err))
		default:
			n.stats.storeFailures.Add(1)
			n.setPending(p)
			return fmt.Errorf("%w: write %s for job %s: %w", ErrStoreFailure, p.status, p.jobID, err)
		}
		p.written = true
	}
	if err := n.release(ctx, p.lease); err != nil {
		n.setPending(p)
		return err
	}
	n.mu.Lock()
	delete(n.running, p.key)
	delete(n.pending, p.key)
	n.mu.Unlock()
	return nil
}

func (n *Node) setPending(p *pendingTerminal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.running, p.key)
	n.pending[p.key] = p
}

// release 释放锁，协调服务不可用时有界重试。锁已丢失视为成功。
func (n *Node) release(ctx context.Context, lease *xjoblock.Lease) error {
	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(n.opts.releaseAttempts),
		retry.Delay(releaseRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, xjoblock.ErrCoordinationUnavailable) }),
	).Do(func() error { return lease.Release(ctx) })
	switch {
	case err == nil:
		return nil
	case errors.Is(err, xjoblock.ErrStaleRelease):
		n.logger.Info(ctx, "lock already lost at release", xlog.JobKey(lease.Key()), xlog.Err(err))
		return nil
	default:
		n.markSuspect()
		return fmt.Errorf("%w: release %s: %w", ErrCoordinationUnavailable, lease.Key(), err)
	}
}

// releaseAll 关闭时对待完成的作业最后尝试一次写入，然后无论结果都释放锁。
// 写入仍失败的作业保持 RUNNING，由其他节点的孤儿恢复处理。
func (n *Node) releaseAll(ctx context.Context) error {
	n.mu.Lock()
	items := slices.Collect(maps.Values(n.pending))
	ambiguous := slices.Collect(maps.Keys(n.ambiguous))
	clear(n.ambiguous)
	n.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(8)
	for _, p := range items {
		g.Go(func() error {
			if err := n.complete(ctx, p); err == nil || p.written {
				return err
			}
			p.written = true
			return n.complete(ctx, p)
		})
	}
	for _, key := range ambiguous {
		g.Go(func() error { return n.locker.Release(ctx, key, n.id) })
	}
	return g.Wait()
}

// terminalContext 终态写入使用的上下文，不随执行或节点关闭取消。
func (n *Node) terminalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), n.opts.terminalTimeout)
}
