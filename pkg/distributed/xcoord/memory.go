package xcoord

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/omeyang/xjob/pkg/observability/xlog"
)

// Op 可注入故障的操作。
type Op string

// 操作类型。
const (
	OpSession Op = "session"
	OpCreate  Op = "create"
	OpGet     Op = "get"
	OpExists  Op = "exists"
	OpDelete  Op = "delete"
	OpList    Op = "list"
	OpWatch   Op = "watch"
)

// MemoryServer 进程内协调服务，多个 MemoryClient 共享同一份节点树。
type MemoryServer struct {
	mu       sync.Mutex
	nodes    map[string]memNode
	watchers map[*memWatch]struct{}
}

type memNode struct {
	data  []byte
	owner *memSession
}

type memSession struct {
	*doneSession
	client *MemoryClient
}

type memWatch struct {
	prefix string
	owner  *MemoryClient
	ch     chan Event
	stop   chan struct{}
}

type fault struct {
	op    Op
	err   error
	apply bool
}

// NewMemoryServer 创建空的进程内协调服务。
func NewMemoryServer() *MemoryServer {
	return &MemoryServer{
		nodes:    make(map[string]memNode),
		watchers: make(map[*memWatch]struct{}),
	}
}

// NewClient 创建连接到此服务的客户端，WithSessionTTL 被忽略。
func (s *MemoryServer) NewClient(opts ...Option) *MemoryClient {
	o := applyOptions(opts)
	return &MemoryClient{srv: s, logger: o.logger}
}

// MemoryClient 进程内协调客户端。状态由 MemoryServer 的锁保护。
type MemoryClient struct {
	srv         *MemoryServer
	logger      xlog.Logger
	session     *memSession
	closed      bool
	unavailable bool
	faults      []fault
}

var _ Client = (*MemoryClient)(nil)

// ExpireSession 模拟进程崩溃或网络分区导致的会话过期：
// 当前会话创建的节点全部删除，Done 关闭。之后的调用建立新会话。
func (c *MemoryClient) ExpireSession() {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.expireLocked()
}

// SetUnavailable 切换持续不可用状态，期间所有操作返回 ErrUnavailable，
// 已有会话与节点保持不变。
func (c *MemoryClient) SetUnavailable(unavailable bool) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.unavailable = unavailable
}

// FailNext 让下一次 op 操作返回 err（nil 时为 ErrUnavailable）。
// apply 为 true 时操作仍然生效，用于模拟"已执行但响应丢失"。
func (c *MemoryClient) FailNext(op Op, err error, apply bool) {
	if err == nil {
		err = ErrUnavailable
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.faults = append(c.faults, fault{op: op, err: err, apply: apply})
}

// enter 执行前置检查并消费注入的故障。
// 返回的 after 需在操作生效后返回给调用方。调用方持有 srv.mu。
func (c *MemoryClient) enter(ctx context.Context, op Op) (after, err error) {
	if c.closed {
		return nil, ErrClosed
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctxErr)
	}
	if c.unavailable {
		return nil, ErrUnavailable
	}
	for i, f := range c.faults {
		if f.op != op {
			continue
		}
		c.faults = slices.Delete(c.faults, i, i+1)
		if f.apply {
			return f.err, nil
		}
		return nil, f.err
	}
	return nil, nil
}

func (c *MemoryClient) sessionLocked() *memSession {
	if c.session == nil || !c.session.alive() {
		c.session = &memSession{doneSession: newDoneSession(uuid.NewString()), client: c}
	}
	return c.session
}

func (c *MemoryClient) expireLocked() {
	sess := c.session
	if sess == nil || !sess.alive() {
		return
	}
	for path, n := range c.srv.nodes {
		if n.owner == sess {
			delete(c.srv.nodes, path)
			c.srv.emitLocked(Event{Type: EventDeleted, Path: path})
		}
	}
	sess.expire()
	c.session = nil
	c.logger.Warn(context.Background(), "coordination session expired", xlog.Component("xcoord"), xlog.Owner(sess.id))
}

// Session 返回当前会话。
func (c *MemoryClient) Session(ctx context.Context) (Session, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	after, err := c.enter(ctx, OpSession)
	if err != nil {
		return nil, err
	}
	sess := c.sessionLocked()
	if after != nil {
		return nil, after
	}
	return sess, nil
}

// CreateEphemeral 创建绑定当前会话的节点。
func (c *MemoryClient) CreateEphemeral(ctx context.Context, path string, data []byte) (Session, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	after, err := c.enter(ctx, OpCreate)
	if err != nil {
		return nil, err
	}
	if _, ok := c.srv.nodes[path]; ok {
		if after != nil {
			return nil, after
		}
		return nil, ErrNodeExists
	}
	sess := c.sessionLocked()
	c.srv.nodes[path] = memNode{data: bytes.Clone(data), owner: sess}
	c.srv.emitLocked(Event{Type: EventCreated, Path: path, Data: bytes.Clone(data)})
	if after != nil {
		return nil, after
	}
	return sess, nil
}

// Get 读取节点。
func (c *MemoryClient) Get(ctx context.Context, path string) ([]byte, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if _, err := c.enter(ctx, OpGet); err != nil {
		return nil, err
	}
	n, ok := c.srv.nodes[path]
	if !ok {
		return nil, ErrNoNode
	}
	return bytes.Clone(n.data), nil
}

// Exists 判断节点是否存在。
func (c *MemoryClient) Exists(ctx context.Context, path string) (bool, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if _, err := c.enter(ctx, OpExists); err != nil {
		return false, err
	}
	_, ok := c.srv.nodes[path]
	return ok, nil
}

// CompareAndDelete 数据匹配时删除节点。
func (c *MemoryClient) CompareAndDelete(ctx context.Context, path string, expected []byte) (bool, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	after, err := c.enter(ctx, OpDelete)
	if err != nil {
		return false, err
	}
	n, ok := c.srv.nodes[path]
	deleted := ok && bytes.Equal(n.data, expected)
	if deleted {
		delete(c.srv.nodes, path)
		c.srv.emitLocked(Event{Type: EventDeleted, Path: path})
	}
	if after != nil {
		return false, after
	}
	return deleted, nil
}

// List 列出前缀下的节点。
func (c *MemoryClient) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if _, err := c.enter(ctx, OpList); err != nil {
		return nil, err
	}
	result := make(map[string][]byte)
	for path, n := range c.srv.nodes {
		if strings.HasPrefix(path, prefix) {
			result[path] = bytes.Clone(n.data)
		}
	}
	return result, nil
}

// Watch 订阅前缀下的事件。消费过慢时事件会被丢弃，调用方应以轮询兜底。
func (c *MemoryClient) Watch(ctx context.Context, prefix string) (<-chan Event, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if _, err := c.enter(ctx, OpWatch); err != nil {
		return nil, err
	}
	w := &memWatch{
		prefix: prefix,
		owner:  c,
		ch:     make(chan Event, watchBufferSize),
		stop:   make(chan struct{}),
	}
	c.srv.watchers[w] = struct{}{}
	go func() {
		select {
		case <-ctx.Done():
			c.srv.mu.Lock()
			c.srv.removeWatchLocked(w)
			c.srv.mu.Unlock()
		case <-w.stop:
		}
	}()
	return w.ch, nil
}

// Close 结束会话并关闭该客户端的所有 Watch。
func (c *MemoryClient) Close(_ context.Context) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if c.closed {
		return nil
	}
	c.expireLocked()
	c.closed = true
	for w := range maps.Clone(c.srv.watchers) {
		if w.owner == c {
			c.srv.removeWatchLocked(w)
		}
	}
	return nil
}

func (s *MemoryServer) emitLocked(ev Event) {
	for w := range s.watchers {
		if !strings.HasPrefix(ev.Path, w.prefix) {
			continue
		}
		select {
		case w.ch <- ev:
		default:
		}
	}
}

func (s *MemoryServer) removeWatchLocked(w *memWatch) {
	if _, ok := s.watchers[w]; !ok {
		return
	}
	delete(s.watchers, w)
	close(w.stop)
	close(w.ch)
}
