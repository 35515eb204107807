package xetcd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// etcdClient xetcd 使用的 etcd 操作子集，*clientv3.Client 实现此接口。
type etcdClient interface {
	clientv3.KV
	clientv3.Watcher
	Close() error
}

var _ etcdClient = (*clientv3.Client)(nil)

// Client etcd 客户端封装，并发安全。
type Client struct {
	client    etcdClient
	rawClient *clientv3.Client
	config    *Config
	closed    atomic.Bool
	closeCh   chan struct{}
	watchWg   sync.WaitGroup
}

// NewClient 创建 etcd 客户端。
func NewClient(config *Config, opts ...Option) (*Client, error) {
	if config == nil {
		return nil, ErrNilConfig
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	cfg := config.applyDefaults()
	tlsConfig, err := cfg.TLS.load()
	if err != nil {
		return nil, err
	}

	// keepalive 参数只通过 DialOptions 设置，以便控制 PermitWithoutStream
	clientConfig := clientv3.Config{
		Endpoints:        cfg.Endpoints,
		DialTimeout:      cfg.DialTimeout,
		Username:         cfg.Username,
		Password:         cfg.Password,
		AutoSyncInterval: cfg.AutoSyncInterval,
		RejectOldCluster: cfg.RejectOldCluster,
		TLS:              tlsConfig,
		DialOptions: []grpc.DialOption{
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                cfg.DialKeepAliveTime,
				Timeout:             cfg.DialKeepAliveTimeout,
				PermitWithoutStream: cfg.PermitWithoutStream,
			}),
		},
	}

	rawClient, err := clientv3.New(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("xetcd: create client: %w", err)
	}

	if o.healthCheck {
		ctx, cancel := context.WithTimeout(o.ctx, o.healthTimeout)
		defer cancel()
		if _, err := rawClient.Get(ctx, o.healthCheckKey); err != nil {
			return nil, errors.Join(fmt.Errorf("xetcd: health check failed: %w", err), rawClient.Close())
		}
	}

	return newClient(rawClient, rawClient, cfg), nil
}

func newClient(client etcdClient, raw *clientv3.Client, cfg *Config) *Client {
	return &Client{client: client, rawClient: raw, config: cfg, closeCh: make(chan struct{})}
}

// RawClient 返回原生 etcd 客户端，用于租约、会话与事务。
func (c *Client) RawClient() *clientv3.Client {
	return c.rawClient
}

// Close 关闭连接并等待所有 Watch goroutine 退出，可重复调用。
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.closeCh)
	c.watchWg.Wait()
	return c.client.Close()
}

func (c *Client) checkPreconditions(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	if c.closed.Load() {
		return ErrClientClosed
	}
	return nil
}
