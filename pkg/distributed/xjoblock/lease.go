package xjoblock

import (
	"context"
	"fmt"
	"sync"

	"github.com/omeyang/xjob/pkg/distributed/xcoord"
	"github.com/omeyang/xjob/pkg/observability/xlog"
	"github.com/omeyang/xjob/pkg/observability/xmetrics"
)

// Lease 一次成功获取的锁。
type Lease struct {
	locker  *Locker
	key     string
	owner   string
	session xcoord.Session

	mu       sync.Mutex
	released bool
}

// Key 返回 jobKey。
func (l *Lease) Key() string { return l.key }

// Owner 返回持有者节点标识。
func (l *Lease) Owner() string { return l.owner }

// Lost 在持有锁的会话结束时关闭，此后锁可能已被其他节点获取。
func (l *Lease) Lost() <-chan struct{} { return l.session.Done() }

// Release 释放锁。已释放时返回 nil；锁已丢失时返回 ErrStaleRelease。
// 协调服务不可用时返回 ErrCoordinationUnavailable，可重试。
func (l *Lease) Release(ctx context.Context) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}

	ctx, span := l.locker.startSpan(ctx, "release", l.key, l.owner)
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	// 会话结束后同一客户端可能已用新会话重新获取同一路径，不能再按数据删除
	select {
	case <-l.session.Done():
		l.released = true
		return fmt.Errorf("%w: %s: session ended", ErrStaleRelease, l.key)
	default:
	}

	deleted, err := l.locker.client.CompareAndDelete(ctx, l.locker.Path(l.key), []byte(l.owner))
	if err != nil {
		return fmt.Errorf("%w: release %s: %w", ErrCoordinationUnavailable, l.key, err)
	}
	l.released = true
	if !deleted {
		l.locker.logger.Warn(ctx, "lock already lost before release",
			xlog.JobKey(l.key), xlog.NodeID(l.owner))
		return fmt.Errorf("%w: %s", ErrStaleRelease, l.key)
	}
	return nil
}
