package xjobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/avast/retry-go/v5"

	"github.com/omeyang/xjob/pkg/jobs/xjob"
)

// withConflictRetry 在写入冲突时重新执行 fn（包含重新读取），耗尽后返回 xjob.ErrConflict。
func withConflictRetry[T any](ctx context.Context, o *options, id string, fn func() (T, error)) (T, error) {
	v, err := retry.NewWithData[T](
		retry.Context(ctx),
		retry.Attempts(o.conflictRetries),
		retry.Delay(o.conflictDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errWriteConflict) }),
	).Do(fn)
	if errors.Is(err, errWriteConflict) {
		var zero T
		return zero, fmt.Errorf("%w: job %s", xjob.ErrConflict, id)
	}
	return v, err
}

// unavailable 将后端错误包装为 xjob.ErrStoreUnavailable，context 错误原样返回。
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("xjobstore: %s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", xjob.ErrStoreUnavailable, op, err)
}

func validateNew(job *xjob.Job) error {
	if job == nil {
		return fmt.Errorf("%w: nil job", xjob.ErrInvalidJob)
	}
	if job.ID == "" {
		return fmt.Errorf("%w: empty id", xjob.ErrInvalidJob)
	}
	if err := xjob.ValidateKey(job.Key); err != nil {
		return err
	}
	if !job.Status.Valid() {
		return fmt.Errorf("%w: %q", xjob.ErrInvalidStatus, job.Status)
	}
	return nil
}

func checkID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", xjob.ErrInvalidJob)
	}
	return nil
}
