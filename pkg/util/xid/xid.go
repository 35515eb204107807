package xid

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/sony/sonyflake/v2"
)

var (
	// ErrInvalidID ID 非正数或不是合法的 base36 字符串。
	ErrInvalidID = errors.New("xid: invalid id")

	// ErrOverTimeLimit 时间分量溢出，不可恢复。
	ErrOverTimeLimit = errors.New("xid: time component overflow")

	// ErrInvalidConfig 生成器初始化失败（如机器 ID 获取失败）。
	ErrInvalidConfig = errors.New("xid: invalid config")

	// ErrNoPrivateAddress 找不到私有 IPv4 地址。
	ErrNoPrivateAddress = errors.New("xid: no private IP address found")

	// ErrNilContext context 为 nil。
	ErrNilContext = errors.New("xid: nil context")
)

const (
	defaultMaxWait       = 500 * time.Millisecond
	defaultRetryInterval = 10 * time.Millisecond
)

// Sonyflake v2 固定位布局，升级大版本时需核对。
const (
	machineBits  = 16
	sequenceBits = 8
	machineMask  = (1 << machineBits) - 1
	sequenceMask = (1 << sequenceBits) - 1
)

// Components ID 的组成部分。
type Components struct {
	ID       int64
	Time     int64 // 10ms 为单位，自 Sonyflake epoch 起
	Sequence int64
	Machine  int64
}

// Generator 并发安全的 ID 生成器。
type Generator struct {
	next          func() (int64, error)
	maxWait       time.Duration
	retryInterval time.Duration
}

// NewGenerator 创建独立的生成器。
func NewGenerator(opts ...Option) (*Generator, error) {
	o := &options{
		machineID:     DefaultMachineID,
		maxWait:       defaultMaxWait,
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(o)
	}

	sf, err := sonyflake.New(sonyflake.Settings{
		MachineID: func() (int, error) {
			id, err := o.machineID()
			return int(id), err
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &Generator{next: sf.NextID, maxWait: o.maxWait, retryInterval: o.retryInterval}, nil
}

// New 生成一个 ID。
func (g *Generator) New() (int64, error) {
	id, err := g.next()
	if errors.Is(err, sonyflake.ErrOverTimeLimit) {
		return 0, fmt.Errorf("%w: %w", ErrOverTimeLimit, err)
	}
	return id, err
}

// NewString 生成 base36 字符串形式的 ID。
func (g *Generator) NewString() (string, error) {
	id, err := g.New()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 36), nil
}

// NewWithRetry 生成 ID，遇到可恢复错误时按固定间隔重试，总时长不超过 maxWait。
//
// 时间分量溢出不会重试。
func (g *Generator) NewWithRetry(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, ErrNilContext
	}
	ctx, cancel := context.WithTimeout(ctx, g.maxWait)
	defer cancel()

	return retry.NewWithData[int64](
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(g.retryInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrOverTimeLimit)
		}),
	).Do(g.New)
}

var (
	defaultOnce sync.Once
	defaultGen  *Generator
	defaultErr  error
)

func defaultGenerator() (*Generator, error) {
	defaultOnce.Do(func() {
		defaultGen, defaultErr = NewGenerator()
	})
	return defaultGen, defaultErr
}

// New 使用进程默认生成器生成 ID。
func New() (int64, error) {
	g, err := defaultGenerator()
	if err != nil {
		return 0, err
	}
	return g.New()
}

// NewString 使用进程默认生成器生成字符串 ID。
func NewString() (string, error) {
	g, err := defaultGenerator()
	if err != nil {
		return "", err
	}
	return g.NewString()
}

// Parse 解析 base36 字符串 ID。
func Parse(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 36, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidID, err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("%w: must be positive, got %d", ErrInvalidID, id)
	}
	return id, nil
}

// Decompose 拆分 ID，不依赖生成器。
func Decompose(id int64) (Components, error) {
	if id <= 0 {
		return Components{}, fmt.Errorf("%w: must be positive, got %d", ErrInvalidID, id)
	}
	return Components{
		ID:       id,
		Machine:  id & machineMask,
		Sequence: (id >> machineBits) & sequenceMask,
		Time:     id >> (machineBits + sequenceBits),
	}, nil
}
