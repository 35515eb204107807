package xcoord

import (
	"context"
	"time"

	"github.com/omeyang/xjob/pkg/observability/xlog"
)

// Session 协调服务会话。
type Session interface {
	// ID 会话标识，仅用于诊断。
	ID() string
	// Done 会话结束时关闭。
	Done() <-chan struct{}
}

// EventType 节点事件类型。
type EventType int

const (
	// EventCreated 节点创建。
	EventCreated EventType = iota + 1
	// EventDeleted 节点删除（显式删除或会话过期）。
	EventDeleted
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event 节点事件。
type Event struct {
	Type EventType
	Path string
	Data []byte // EventDeleted 时为 nil
}

// Client 协调服务客户端。
//
// 所有实现并发安全。会话过期后 Session 与 CreateEphemeral 会建立新会话，
// 旧会话创建的节点不会迁移。
type Client interface {
	// Session 返回当前存活的会话，必要时新建。
	Session(ctx context.Context) (Session, error)

	// CreateEphemeral 原子创建绑定当前会话的临时节点，返回所属会话。
	// 路径已存在返回 ErrNodeExists。
	CreateEphemeral(ctx context.Context, path string, data []byte) (Session, error)

	// Get 读取节点数据，不存在返回 ErrNoNode。
	Get(ctx context.Context, path string) ([]byte, error)

	// Exists 判断节点是否存在。
	Exists(ctx context.Context, path string) (bool, error)

	// CompareAndDelete 仅当节点数据等于 expected 时删除，返回是否删除。
	// 节点不存在时返回 false, nil。
	CompareAndDelete(ctx context.Context, path string, expected []byte) (bool, error)

	// List 返回前缀下所有节点。
	List(ctx context.Context, prefix string) (map[string][]byte, error)

	// Watch 订阅前缀下的节点事件，ctx 取消或客户端关闭时通道关闭。
	// 不支持时返回 ErrWatchUnsupported。
	Watch(ctx context.Context, prefix string) (<-chan Event, error)

	// Close 结束会话，会话创建的节点随之删除。可重复调用。
	Close(ctx context.Context) error
}

// DefaultSessionTTL 默认会话超时时间。
const DefaultSessionTTL = 10 * time.Second

const watchBufferSize = 64

type options struct {
	logger xlog.Logger
	ttl    time.Duration
}

func defaultOptions() *options {
	return &options{logger: xlog.Default(), ttl: DefaultSessionTTL}
}

// Option 客户端选项。
type Option func(*options)

// WithLogger 设置日志记录器。
func WithLogger(logger xlog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSessionTTL 设置会话超时，即持有者崩溃后其节点最迟被删除的时间。
// MemoryClient 忽略此选项，其会话只能显式过期。
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

func applyOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// doneSession 关闭一次的 Done 通道。
type doneSession struct {
	id     string
	done   chan struct{}
	closed bool
}

func newDoneSession(id string) *doneSession {
	return &doneSession{id: id, done: make(chan struct{})}
}

func (s *doneSession) ID() string            { return s.id }
func (s *doneSession) Done() <-chan struct{} { return s.done }

// expire 关闭 Done，调用方负责同步。
func (s *doneSession) expire() bool {
	if s.closed {
		return false
	}
	s.closed = true
	close(s.done)
	return true
}

func (s *doneSession) alive() bool { return !s.closed }
