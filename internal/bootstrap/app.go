package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/omeyang/xjob/pkg/distributed/xcoord"
	"github.com/omeyang/xjob/pkg/distributed/xjoblock"
	"github.com/omeyang/xjob/pkg/distributed/xsched"
	"github.com/omeyang/xjob/pkg/jobs/xjob"
	"github.com/omeyang/xjob/pkg/jobs/xjobstore"
	"github.com/omeyang/xjob/pkg/observability/xlog"
	"github.com/omeyang/xjob/pkg/observability/xmetrics"
	"github.com/omeyang/xjob/pkg/storage/xetcd"
)

// Option 装配选项，主要用于测试注入进程内后端。
type Option func(*buildOptions)

type buildOptions struct {
	memoryServer *xcoord.MemoryServer
	memoryStore  *xjobstore.MemoryStore
	logger       xlog.LoggerWithLevel
	registry     *xsched.Registry
}

// WithMemoryServer memory 协调后端使用给定的服务，多个 App 可共享。
func WithMemoryServer(srv *xcoord.MemoryServer) Option {
	return func(o *buildOptions) { o.memoryServer = srv }
}

// WithMemoryStore memory 存储后端使用给定的存储。
func WithMemoryStore(store *xjobstore.MemoryStore) Option {
	return func(o *buildOptions) { o.memoryStore = store }
}

// WithLogger 使用给定日志器，忽略 log 配置。
func WithLogger(logger xlog.LoggerWithLevel) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithRegistry 使用给定执行器注册表，默认 xsched.DefaultRegistry。
func WithRegistry(r *xsched.Registry) Option {
	return func(o *buildOptions) { o.registry = r }
}

// App 装配完成的组件。Close 释放所有连接。
type App struct {
	Config   Config
	NodeID   string
	Logger   xlog.LoggerWithLevel
	Observer xmetrics.Observer
	Coord    xcoord.Client
	Locker   *xjoblock.Locker
	Store    xjob.Store
	Registry *xsched.Registry

	etcdClients map[string]*xetcd.Client
	closers     []func(context.Context) error
}

// New 按配置创建所有组件。失败时已创建的连接会被关闭。
func New(ctx context.Context, cfg Config, opts ...Option) (app *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &buildOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	a := &App{Config: cfg, NodeID: cfg.Node.ID, etcdClients: make(map[string]*xetcd.Client)}
	if a.NodeID == "" {
		a.NodeID = DefaultNodeID()
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, a.Close(ctx))
		}
	}()

	if err := a.buildLogger(o); err != nil {
		return nil, err
	}
	if err := a.buildObserver(); err != nil {
		return nil, err
	}
	if err := a.buildCoordination(ctx, o); err != nil {
		return nil, err
	}
	if err := a.buildStore(ctx, o); err != nil {
		return nil, err
	}
	a.Registry = o.registry
	if a.Registry == nil {
		a.Registry = xsched.DefaultRegistry()
	}
	return a, nil
}

func (a *App) buildLogger(o *buildOptions) error {
	if o.logger != nil {
		a.Logger = o.logger
		return nil
	}
	b := xlog.New().
		SetLevelString(a.Config.Log.Level).
		SetFormat(a.Config.Log.Format)
	if a.Config.Log.File != "" {
		b.SetRotation(a.Config.Log.File, a.Config.Log.Rotation)
	}
	logger, cleanup, err := b.Build()
	if err != nil {
		return fmt.Errorf("%w: log: %w", ErrInvalidConfig, err)
	}
	a.Logger = logger
	a.onClose(func(context.Context) error { return cleanup() })
	return nil
}

func (a *App) buildObserver() error {
	if !a.Config.Metrics.Enabled {
		a.Observer = xmetrics.NoopObserver{}
		return nil
	}
	obs, err := xmetrics.NewOTelObserver()
	if err != nil {
		return err
	}
	a.Observer = obs
	return nil
}

func (a *App) buildCoordination(ctx context.Context, o *buildOptions) error {
	cc := a.Config.Coordination
	copts := []xcoord.Option{xcoord.WithLogger(a.Logger), xcoord.WithSessionTTL(cc.SessionTTL)}

	switch cc.Backend {
	case BackendEtcd:
		client, err := a.etcd(ctx, cc.Etcd, cc.LockRoot)
		if err != nil {
			return err
		}
		coord, err := xcoord.NewEtcd(client, copts...)
		if err != nil {
			return err
		}
		a.Coord = coord
	case BackendRedis:
		coord, err := xcoord.NewRedis(a.redis(cc.Redis), copts...)
		if err != nil {
			return err
		}
		a.Coord = coord
	case BackendMemory:
		srv := o.memoryServer
		if srv == nil {
			srv = xcoord.NewMemoryServer()
		}
		a.Coord = srv.NewClient(copts...)
	default:
		return fmt.Errorf("%w: coordination %q", ErrUnsupportedBackend, cc.Backend)
	}
	// 先于底层连接关闭，会话节点随之删除
	coord := a.Coord
	a.onClose(coord.Close)

	locker, err := xjoblock.New(a.Coord,
		xjoblock.WithLockRoot(cc.LockRoot),
		xjoblock.WithNamespace(cc.Namespace),
		xjoblock.WithLogger(a.Logger),
		xjoblock.WithObserver(a.Observer),
	)
	if err != nil {
		return err
	}
	a.Locker = locker
	return nil
}

func (a *App) buildStore(ctx context.Context, o *buildOptions) error {
	sc := a.Config.Store
	sopts := []xjobstore.Option{xjobstore.WithLogger(a.Logger)}
	if sc.Prefix != "" {
		sopts = append(sopts, xjobstore.WithPrefix(sc.Prefix))
	}

	var store xjob.Store
	switch sc.Backend {
	case BackendEtcd:
		client, err := a.etcd(ctx, sc.Etcd, "")
		if err != nil {
			return err
		}
		if store, err = xjobstore.NewEtcd(client, sopts...); err != nil {
			return err
		}
	case BackendRedis:
		s, err := xjobstore.NewRedis(a.redis(sc.Redis), sopts...)
		if err != nil {
			return err
		}
		store = s
	case BackendMongo:
		s, err := a.mongo(ctx, sc.Mongo, sopts)
		if err != nil {
			return err
		}
		store = s
	case BackendMemory:
		if o.memoryStore != nil {
			store = o.memoryStore
		} else {
			store = xjobstore.NewMemory(sopts...)
		}
	default:
		return fmt.Errorf("%w: store %q", ErrUnsupportedBackend, sc.Backend)
	}

	if sc.Breaker.Enabled {
		store = xjobstore.WithBreaker(store, xjobstore.BreakerConfig{
			Name:             "xjob-store-" + sc.Backend,
			FailureThreshold: sc.Breaker.FailureThreshold,
			OpenTimeout:      sc.Breaker.OpenTimeout,
			Logger:           a.Logger,
		})
	}
	a.Store = store
	return nil
}

// etcd 返回给定配置的客户端，相同端点与用户共享一个连接。
// 新连接创建后立即读取 healthKey 验证可达，healthKey 为空时使用默认键。
func (a *App) etcd(ctx context.Context, cfg xetcd.Config, healthKey string) (*xetcd.Client, error) {
	key := strings.Join(slices.Sorted(slices.Values(cfg.Endpoints)), ",") + "|" + cfg.Username
	if c, ok := a.etcdClients[key]; ok {
		return c, nil
	}
	c, err := xetcd.NewClient(&cfg,
		xetcd.WithContext(ctx),
		xetcd.WithHealthCheck(true, cfg.DialTimeout),
		xetcd.WithHealthCheckKey(healthKey),
	)
	if err != nil {
		return nil, err
	}
	a.etcdClients[key] = c
	a.onClose(func(context.Context) error { return c.Close() })
	return c, nil
}

func (a *App) redis(cfg RedisConfig) redis.UniversalClient {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      cfg.Addrs,
		Username:   cfg.Username,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MasterName: cfg.MasterName,
	})
	a.onClose(func(context.Context) error { return rdb.Close() })
	return rdb
}

func (a *App) mongo(ctx context.Context, cfg MongoConfig, sopts []xjobstore.Option) (*xjobstore.MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect mongo: %w", err)
	}
	a.onClose(client.Disconnect)

	store, err := xjobstore.NewMongo(client.Database(cfg.Database).Collection(cfg.Collection), sopts...)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap: mongo indexes: %w", err)
	}
	return store, nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// NewNode 按配置创建调度节点，opts 追加在配置项之后。
func (a *App) NewNode(opts ...xsched.Option) (*xsched.Node, error) {
	nc := a.Config.Node
	base := []xsched.Option{
		xsched.WithPollInterval(nc.PollInterval),
		xsched.WithStopCheckInterval(nc.StopCheckInterval),
		xsched.WithJobTimeout(nc.JobTimeout),
		xsched.WithMaxConcurrent(nc.MaxConcurrent),
		xsched.WithOrphanRecovery(nc.OrphanRecovery),
		xsched.WithResubmitOrphans(nc.ResubmitOrphans),
		xsched.WithReleaseWatch(nc.ReleaseWatch),
		xsched.WithLogger(a.Logger),
		xsched.WithObserver(a.Observer),
	}
	if nc.Retention > 0 {
		base = append(base, xsched.WithRetention(nc.Retention, nc.MaintenanceCron))
	}
	return xsched.NewNode(a.NodeID, a.Store, a.Locker, a.Registry, append(base, opts...)...)
}

// Close 按创建的逆序关闭所有连接，可重复调用。
func (a *App) Close(ctx context.Context) error {
	closers := a.closers
	a.closers = nil
	var errs []error
	for _, fn := range slices.Backward(closers) {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}
