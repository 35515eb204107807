package xjoblock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	retry "github.com/avast/retry-go/v5"

	"github.com/omeyang/xjob/pkg/distributed/xcoord"
	"github.com/omeyang/xjob/pkg/observability/xlog"
	"github.com/omeyang/xjob/pkg/observability/xmetrics"
)

// Locker 执行锁。并发安全，多个节点可共享同一个协调服务。
type Locker struct {
	client xcoord.Client
	prefix string // <root>/<namespace>/
	opts   *options
	logger xlog.Logger
}

// New 创建执行锁。
func New(client xcoord.Client, opts ...Option) (*Locker, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Locker{
		client: client,
		prefix: o.root + "/" + o.namespace + "/",
		opts:   o,
		logger: o.logger.With(xlog.Component("xjoblock")),
	}, nil
}

// Path 返回 jobKey 对应的锁路径。
func (l *Locker) Path(jobKey string) string { return l.prefix + jobKey }

// Prefix 返回命名空间下所有锁的公共前缀。
func (l *Locker) Prefix() string { return l.prefix }

// TryAcquire 尝试获取锁，不阻塞也不重试。
//
// 锁被占用返回 (nil, nil)。创建结果未知时核对持有者：
// 是自己则视为成功，确认不是自己返回 ErrCoordinationUnavailable，
// 无法核对返回 ErrAmbiguousAcquisition。
func (l *Locker) TryAcquire(ctx context.Context, jobKey, nodeID string) (lease *Lease, err error) {
	if err := validate(jobKey, nodeID); err != nil {
		return nil, err
	}
	ctx, span := l.startSpan(ctx, "acquire", jobKey, nodeID)
	defer func() {
		result := xmetrics.Result{Err: err}
		if lease == nil && err == nil {
			result.Status = xmetrics.StatusContended
		}
		span.End(result)
	}()

	path := l.Path(jobKey)
	sess, err := l.client.CreateEphemeral(ctx, path, []byte(nodeID))
	switch {
	case err == nil:
		return l.newLease(jobKey, nodeID, sess), nil
	case errors.Is(err, xcoord.ErrNodeExists):
		return nil, nil
	case errors.Is(err, xcoord.ErrClosed):
		return nil, fmt.Errorf("%w: %w", ErrCoordinationUnavailable, err)
	}

	l.logger.Warn(ctx, "lock acquisition outcome unknown, verifying owner",
		xlog.JobKey(jobKey), xlog.NodeID(nodeID), xlog.Err(err))
	return l.verify(ctx, jobKey, nodeID, err)
}

// verify 在创建结果未知后核对持有者。
func (l *Locker) verify(ctx context.Context, jobKey, nodeID string, cause error) (*Lease, error) {
	path := l.Path(jobKey)
	owner, err := retry.NewWithData[[]byte](
		retry.Context(ctx),
		retry.Attempts(l.opts.verifyAttempts),
		retry.Delay(l.opts.verifyDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(xcoord.IsUnavailable),
	).Do(func() ([]byte, error) {
		data, err := l.client.Get(ctx, path)
		if errors.Is(err, xcoord.ErrNoNode) {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrAmbiguousAcquisition, jobKey, errors.Join(cause, err))
	}
	if string(owner) != nodeID {
		return nil, fmt.Errorf("%w: %s: %w", ErrCoordinationUnavailable, jobKey, cause)
	}
	sess, err := l.client.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrAmbiguousAcquisition, jobKey, err)
	}
	return l.newLease(jobKey, nodeID, sess), nil
}

// Acquire 尝试获取锁，返回是否成功。
// 获得的锁只能通过 Release(jobKey, nodeID) 或会话结束释放。
func (l *Locker) Acquire(ctx context.Context, jobKey, nodeID string) (bool, error) {
	lease, err := l.TryAcquire(ctx, jobKey, nodeID)
	return lease != nil, err
}

// Reclaim 认领数据已等于 nodeID 的锁，用于获取结果未知之后。
// 锁不存在或属于其他节点时返回 (nil, nil)。
func (l *Locker) Reclaim(ctx context.Context, jobKey, nodeID string) (*Lease, error) {
	if err := validate(jobKey, nodeID); err != nil {
		return nil, err
	}
	owner, held, err := l.Owner(ctx, jobKey)
	if err != nil {
		return nil, err
	}
	if !held || owner != nodeID {
		return nil, nil
	}
	sess, err := l.client.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCoordinationUnavailable, err)
	}
	l.logger.Info(ctx, "reclaimed lock after ambiguous acquisition", xlog.JobKey(jobKey), xlog.NodeID(nodeID))
	return l.newLease(jobKey, nodeID, sess), nil
}

// Ping 确认能与协调服务建立会话。
func (l *Locker) Ping(ctx context.Context) error {
	if _, err := l.client.Session(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrCoordinationUnavailable, err)
	}
	return nil
}

// Owner 返回当前持有者；held 为 false 表示锁空闲。
func (l *Locker) Owner(ctx context.Context, jobKey string) (owner string, held bool, err error) {
	if err := validateKey(jobKey); err != nil {
		return "", false, err
	}
	data, err := l.client.Get(ctx, l.Path(jobKey))
	switch {
	case errors.Is(err, xcoord.ErrNoNode):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("%w: %w", ErrCoordinationUnavailable, err)
	}
	return string(data), true, nil
}

// Release 仅当 nodeID 是当前持有者时删除锁。非持有者调用是空操作，仅记录日志。
func (l *Locker) Release(ctx context.Context, jobKey, nodeID string) (err error) {
	if err := validate(jobKey, nodeID); err != nil {
		return err
	}
	ctx, span := l.startSpan(ctx, "release", jobKey, nodeID)
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	deleted, err := l.client.CompareAndDelete(ctx, l.Path(jobKey), []byte(nodeID))
	if err != nil {
		return fmt.Errorf("%w: release %s: %w", ErrCoordinationUnavailable, jobKey, err)
	}
	if !deleted {
		l.logger.Info(ctx, "stale lock release ignored", xlog.JobKey(jobKey), xlog.NodeID(nodeID))
	}
	return nil
}

// Holders 返回命名空间下所有被持有的锁：jobKey -> 节点标识。
func (l *Locker) Holders(ctx context.Context) (map[string]string, error) {
	nodes, err := l.client.List(ctx, l.prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCoordinationUnavailable, err)
	}
	holders := make(map[string]string, len(nodes))
	for path, data := range nodes {
		key := strings.TrimPrefix(path, l.prefix)
		if validateKey(key) == nil {
			holders[key] = string(data)
		}
	}
	return holders, nil
}

// WatchReleases 返回锁释放（含会话过期）的 jobKey 流。
// 后端不支持时返回 xcoord.ErrWatchUnsupported。
func (l *Locker) WatchReleases(ctx context.Context) (<-chan string, error) {
	events, err := l.client.Watch(ctx, l.prefix)
	if err != nil {
		if errors.Is(err, xcoord.ErrWatchUnsupported) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrCoordinationUnavailable, err)
	}
	out := make(chan string)
	go func() {
		defer close(out)
		for ev := range events {
			if ev.Type != xcoord.EventDeleted {
				continue
			}
			key := strings.TrimPrefix(ev.Path, l.prefix)
			if validateKey(key) != nil {
				continue
			}
			select {
			case out <- key:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (l *Locker) newLease(jobKey, nodeID string, sess xcoord.Session) *Lease {
	return &Lease{locker: l, key: jobKey, owner: nodeID, session: sess}
}

func (l *Locker) startSpan(ctx context.Context, op, jobKey, nodeID string) (context.Context, xmetrics.Span) {
	return xmetrics.Start(ctx, l.opts.observer, xmetrics.SpanOptions{
		Component: "xjoblock",
		Operation: op,
		Kind:      xmetrics.KindClient,
		Attrs: []xmetrics.Attr{
			xmetrics.String("job_key", jobKey),
			xmetrics.String("node_id", nodeID),
		},
	})
}

func validateKey(jobKey string) error {
	if jobKey == "" || strings.Contains(jobKey, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, jobKey)
	}
	return nil
}

func validate(jobKey, nodeID string) error {
	if err := validateKey(jobKey); err != nil {
		return err
	}
	if nodeID == "" {
		return ErrInvalidNode
	}
	return nil
}
