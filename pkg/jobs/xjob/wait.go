package xjob

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultWaitInterval 默认轮询间隔。
const DefaultWaitInterval = time.Second

// WaitForStatus 轮询直到作业进入 want。
//
// 作业进入 want 之外的终态时返回 ErrStatusUnreachable 与该作业。
// 存储暂不可用时继续轮询，其他错误立即返回。
func WaitForStatus(ctx context.Context, store Getter, id string, want Status, interval time.Duration) (*Job, error) {
	if !want.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, want)
	}
	return poll(ctx, store, id, interval, func(j *Job) (bool, error) {
		switch {
		case j.Status == want:
			return true, nil
		case j.Status.IsTerminal():
			return true, fmt.Errorf("%w: job %s is %s, want %s", ErrStatusUnreachable, id, j.Status, want)
		}
		return false, nil
	})
}

// WaitForTerminal 轮询直到作业进入任一终态。
func WaitForTerminal(ctx context.Context, store Getter, id string, interval time.Duration) (*Job, error) {
	return poll(ctx, store, id, interval, func(j *Job) (bool, error) {
		return j.Status.IsTerminal(), nil
	})
}

func poll(ctx context.Context, store Getter, id string, interval time.Duration, done func(*Job) (bool, error)) (*Job, error) {
	if interval <= 0 {
		interval = DefaultWaitInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := store.GetJob(ctx, id)
		switch {
		case err == nil:
			if ok, err := done(job); ok {
				return job, err
			}
		case !errors.Is(err, ErrStoreUnavailable):
			return nil, err
		}

		select {
		case <-ctx.Done():
			return job, context.Cause(ctx)
		case <-ticker.C:
		}
	}
}
