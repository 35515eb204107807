package xcoord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/omeyang/xjob/pkg/observability/xlog"
	"github.com/omeyang/xjob/pkg/storage/xetcd"
)

// EtcdClient 基于 etcd 租约的协调客户端。
//
// 会话对应一个 concurrency.Session，临时节点通过 WithLease 绑定租约，
// 租约过期或被撤销时 etcd 删除节点。
type EtcdClient struct {
	kv     *xetcd.Client
	raw    *clientv3.Client
	ttl    int
	logger xlog.Logger

	// keepalive 使用客户端生命周期的 context，不受单次调用取消影响
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	session *concurrency.Session
	closed  bool
}

var _ Client = (*EtcdClient)(nil)

// NewEtcd 创建 etcd 协调客户端。client 的生命周期由调用方管理。
func NewEtcd(client *xetcd.Client, opts ...Option) (*EtcdClient, error) {
	if client == nil || client.RawClient() == nil {
		return nil, ErrNilClient
	}
	o := applyOptions(opts)
	ttl := int(o.ttl.Seconds())
	if ttl < 1 {
		ttl = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdClient{
		kv:     client,
		raw:    client.RawClient(),
		ttl:    ttl,
		logger: o.logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

type etcdSession struct{ s *concurrency.Session }

func (e etcdSession) ID() string            { return strconv.FormatInt(int64(e.s.Lease()), 16) }
func (e etcdSession) Done() <-chan struct{} { return e.s.Done() }

func (c *EtcdClient) currentSession(ctx context.Context) (*concurrency.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.session != nil {
		select {
		case <-c.session.Done():
			c.logger.Warn(ctx, "coordination session expired", xlog.Component("xcoord"),
				xlog.Owner(etcdSession{c.session}.ID()))
			c.session = nil
		default:
			return c.session, nil
		}
	}

	// 先用调用方 ctx 授予租约，保证建立会话的耗时受调用方控制
	lease, err := c.raw.Grant(ctx, int64(c.ttl))
	if err != nil {
		return nil, mapEtcdErr("grant", err)
	}
	s, err := concurrency.NewSession(c.raw, concurrency.WithLease(lease.ID), concurrency.WithContext(c.ctx))
	if err != nil {
		return nil, mapEtcdErr("session", err)
	}
	c.session = s
	return s, nil
}

// dropSession 租约已失效时丢弃会话，下次调用重建。
func (c *EtcdClient) dropSession(s *concurrency.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == s {
		c.session = nil
		s.Orphan()
	}
}

// Session 返回当前会话。
func (c *EtcdClient) Session(ctx context.Context) (Session, error) {
	s, err := c.currentSession(ctx)
	if err != nil {
		return nil, err
	}
	return etcdSession{s}, nil
}

// CreateEphemeral 以事务 CreateRevision==0 创建绑定租约的节点。
func (c *EtcdClient) CreateEphemeral(ctx context.Context, path string, data []byte) (Session, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	s, err := c.currentSession(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.raw.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(path), "=", 0)).
		Then(clientv3.OpPut(path, string(data), clientv3.WithLease(s.Lease()))).
		Commit()
	if err != nil {
		err = mapEtcdErr("create "+path, err)
		if errors.Is(err, ErrSessionExpired) {
			c.dropSession(s)
		}
		return nil, err
	}
	if !resp.Succeeded {
		return nil, ErrNodeExists
	}
	return etcdSession{s}, nil
}

// Get 读取节点。
func (c *EtcdClient) Get(ctx context.Context, path string) ([]byte, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	data, err := c.kv.Get(ctx, path)
	if err != nil {
		if xetcd.IsKeyNotFound(err) {
			return nil, ErrNoNode
		}
		return nil, mapEtcdErr("get "+path, err)
	}
	return data, nil
}

// Exists 判断节点是否存在。
func (c *EtcdClient) Exists(ctx context.Context, path string) (bool, error) {
	if err := c.checkClosed(); err != nil {
		return false, err
	}
	ok, err := c.kv.Exists(ctx, path)
	if err != nil {
		return false, mapEtcdErr("exists "+path, err)
	}
	return ok, nil
}

// CompareAndDelete 以事务 Value==expected 删除节点。
func (c *EtcdClient) CompareAndDelete(ctx context.Context, path string, expected []byte) (bool, error) {
	if err := c.checkClosed(); err != nil {
		return false, err
	}
	resp, err := c.raw.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(path), "=", string(expected))).
		Then(clientv3.OpDelete(path)).
		Commit()
	if err != nil {
		return false, mapEtcdErr("delete "+path, err)
	}
	return resp.Succeeded, nil
}

// List 列出前缀下的节点。
func (c *EtcdClient) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	nodes, err := c.kv.List(ctx, prefix)
	if err != nil {
		return nil, mapEtcdErr("list "+prefix, err)
	}
	return nodes, nil
}

// Watch 订阅前缀下的节点事件。底层 watch 失败时通道关闭。
func (c *EtcdClient) Watch(ctx context.Context, prefix string) (<-chan Event, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	events, err := c.kv.Watch(ctx, prefix, xetcd.WithPrefix(), xetcd.WithBufferSize(watchBufferSize))
	if err != nil {
		return nil, mapEtcdErr("watch "+prefix, err)
	}
	out := make(chan Event, watchBufferSize)
	go func() {
		defer close(out)
		for ev := range events {
			if ev.Error != nil {
				c.logger.Warn(ctx, "coordination watch ended", xlog.Component("xcoord"),
					xlog.Path(prefix), xlog.Err(ev.Error))
				return
			}
			converted := Event{Path: ev.Key}
			switch ev.Type {
			case xetcd.EventPut:
				converted.Type, converted.Data = EventCreated, ev.Value
			case xetcd.EventDelete:
				converted.Type = EventDeleted
			default:
				continue
			}
			select {
			case out <- converted:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close 撤销租约，会话创建的节点随之删除。不关闭底层 etcd 客户端。
func (c *EtcdClient) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var err error
	if c.session != nil {
		if _, revokeErr := c.raw.Revoke(ctx, c.session.Lease()); revokeErr != nil {
			err = mapEtcdErr("revoke", revokeErr)
		}
		c.session = nil
	}
	c.cancel()
	return err
}

func (c *EtcdClient) checkClosed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// mapEtcdErr 将 etcd 与 gRPC 错误归类到 xcoord 错误。
func mapEtcdErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, xetcd.ErrClientClosed):
		return fmt.Errorf("xcoord: %s: %w: %w", op, ErrClosed, err)
	case errors.Is(err, rpctypes.ErrLeaseNotFound), errors.Is(err, concurrency.ErrSessionExpired):
		return fmt.Errorf("xcoord: %s: %w: %w", op, ErrSessionExpired, err)
	}
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("xcoord: %s: %w: %w", op, ErrSessionExpired, err)
	}
	return fmt.Errorf("xcoord: %s: %w: %w", op, ErrUnavailable, err)
}
