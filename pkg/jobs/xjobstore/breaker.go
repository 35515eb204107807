package xjobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/omeyang/xjob/pkg/jobs/xjob"
	"github.com/omeyang/xjob/pkg/observability/xlog"
)

// 熔断默认值。
const (
	DefaultBreakerFailures    uint32 = 5
	DefaultBreakerOpenTimeout        = 30 * time.Second
)

// BreakerConfig 熔断配置。
type BreakerConfig struct {
	// Name 熔断器名称，出现在日志中。
	Name string

	// FailureThreshold 连续失败多少次后打开，默认 5。
	FailureThreshold uint32

	// OpenTimeout 打开后多久进入半开，默认 30s。
	OpenTimeout time.Duration

	// HalfOpenRequests 半开状态允许通过的请求数，默认 1。
	HalfOpenRequests uint32

	Logger xlog.Logger
}

// BreakerStore 为 Store 加上熔断。
//
// 只有后端不可达与超时计为失败；未找到、非法转换、冲突等
// 是后端正常给出的答复，不影响熔断统计。
type BreakerStore struct {
	store xjob.Store
	cb    *gobreaker.CircuitBreaker[any]
}

var _ xjob.Store = (*BreakerStore)(nil)

// WithBreaker 包装 store。
func WithBreaker(store xjob.Store, cfg BreakerConfig) *BreakerStore {
	if cfg.Name == "" {
		cfg.Name = "xjobstore"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerOpenTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = xlog.Default()
	}

	threshold := cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "store breaker state changed",
				xlog.Component(name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	return &BreakerStore{store: store, cb: cb}
}

func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	return !errors.Is(err, xjob.ErrStoreUnavailable) && !errors.Is(err, context.DeadlineExceeded)
}

// State 当前熔断状态。
func (b *BreakerStore) State() gobreaker.State { return b.cb.State() }

// Unwrap 返回被包装的存储。
func (b *BreakerStore) Unwrap() xjob.Store { return b.store }

func execute[T any](b *BreakerStore, fn func() (T, error)) (T, error) {
	v, err := b.cb.Execute(func() (any, error) { return fn() })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, fmt.Errorf("%w: %w", xjob.ErrStoreUnavailable, err)
	}
	out, _ := v.(T)
	return out, err
}

// CreateJob 经熔断调用。
func (b *BreakerStore) CreateJob(ctx context.Context, job *xjob.Job) error {
	_, err := execute(b, func() (struct{}, error) { return struct{}{}, b.store.CreateJob(ctx, job) })
	return err
}

// GetJob 经熔断调用。
func (b *BreakerStore) GetJob(ctx context.Context, id string) (*xjob.Job, error) {
	return execute(b, func() (*xjob.Job, error) { return b.store.GetJob(ctx, id) })
}

// ListJobs 经熔断调用。
func (b *BreakerStore) ListJobs(ctx context.Context, filter xjob.Filter) ([]*xjob.Job, error) {
	return execute(b, func() ([]*xjob.Job, error) { return b.store.ListJobs(ctx, filter) })
}

// SetStatus 经熔断调用。
func (b *BreakerStore) SetStatus(ctx context.Context, id string, status xjob.Status, opts ...xjob.UpdateOption) (*xjob.Job, error) {
	return execute(b, func() (*xjob.Job, error) { return b.store.SetStatus(ctx, id, status, opts...) })
}

// DeleteJob 经熔断调用。
func (b *BreakerStore) DeleteJob(ctx context.Context, id string) error {
	_, err := execute(b, func() (struct{}, error) { return struct{}{}, b.store.DeleteJob(ctx, id) })
	return err
}
