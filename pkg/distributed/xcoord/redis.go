package xcoord

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/omeyang/xjob/pkg/observability/xlog"
)

var (
	//go:embed lua/renew.lua
	renewLuaSource string

	//go:embed lua/compare_delete.lua
	compareDeleteLuaSource string

	renewScript         = redis.NewScript(renewLuaSource)
	compareDeleteScript = redis.NewScript(compareDeleteLuaSource)
)

// RedisClient 基于 redis 键过期的协调客户端。
//
// 节点以 SET NX PX 创建，值为节点数据。会话 goroutine 每 TTL/3 对本会话
// 创建的节点执行比较续期；发现已确认的节点丢失或被他人改写，
// 或超过 TTL 没有一次成功续期时，会话过期：Done 关闭，剩余节点被删除。
//
// 写入结果未知的节点记为待确认：续期成功即确认，续期发现不存在则静默移除。
//
// 不支持 Watch。集群模式下 List 遍历所有主节点。
type RedisClient struct {
	rdb      redis.UniversalClient
	ttl      time.Duration
	interval time.Duration
	logger   xlog.Logger

	mu      sync.Mutex
	session *redisSession
	closed  bool
	wg      sync.WaitGroup
}

type redisSession struct {
	*doneSession
	stop  chan struct{}
	nodes map[string]*redisNode
}

type redisNode struct {
	data      []byte
	confirmed bool
}

var _ Client = (*RedisClient)(nil)

// NewRedis 创建 redis 协调客户端。rdb 的生命周期由调用方管理。
func NewRedis(rdb redis.UniversalClient, opts ...Option) (*RedisClient, error) {
	if rdb == nil {
		return nil, ErrNilClient
	}
	o := applyOptions(opts)
	return &RedisClient{
		rdb:      rdb,
		ttl:      o.ttl,
		interval: max(o.ttl/3, time.Millisecond),
		logger:   o.logger,
	}, nil
}

func (c *RedisClient) sessionLocked() *redisSession {
	if c.session != nil && c.session.alive() {
		return c.session
	}
	sess := &redisSession{
		doneSession: newDoneSession(uuid.NewString()),
		stop:        make(chan struct{}),
		nodes:       make(map[string]*redisNode),
	}
	c.session = sess
	c.wg.Go(func() { c.keepalive(sess) })
	return sess
}

func (c *RedisClient) keepalive(sess *redisSession) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	lastOK := time.Now()
	for {
		select {
		case <-sess.stop:
			return
		case <-ticker.C:
		}
		ok, lost := c.renew(sess)
		if ok {
			lastOK = time.Now()
		}
		switch {
		case lost != "":
			c.expire(sess, "node lost: "+lost)
			return
		case time.Since(lastOK) >= c.ttl:
			c.expire(sess, "no successful renewal within ttl")
			return
		}
	}
}

// renew 续期会话的全部节点。ok 表示与 redis 通信成功，lost 为丢失的已确认节点。
func (c *RedisClient) renew(sess *redisSession) (ok bool, lost string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	c.mu.Lock()
	nodes := maps.Clone(sess.nodes)
	c.mu.Unlock()

	if len(nodes) == 0 {
		return c.rdb.Ping(ctx).Err() == nil, ""
	}
	ttl := c.ttl.Milliseconds()
	for path, n := range nodes {
		res, err := renewScript.Run(ctx, c.rdb, []string{path}, n.data, ttl).Int()
		if err != nil {
			return false, ""
		}
		c.mu.Lock()
		switch {
		case res == 1:
			n.confirmed = true
		case n.confirmed:
			lost = path
		default:
			delete(sess.nodes, path)
		}
		c.mu.Unlock()
		if lost != "" {
			return true, lost
		}
	}
	return true, ""
}

// expire 结束会话并尽力删除其剩余节点。
func (c *RedisClient) expire(sess *redisSession, reason string) {
	c.mu.Lock()
	if c.session == sess {
		c.session = nil
	}
	if !sess.expire() {
		c.mu.Unlock()
		return
	}
	nodes := maps.Clone(sess.nodes)
	clear(sess.nodes)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.ttl)
	defer cancel()
	for path, n := range nodes {
		_ = compareDeleteScript.Run(ctx, c.rdb, []string{path}, n.data).Err()
	}
	c.logger.Warn(ctx, "coordination session expired", xlog.Component("xcoord"),
		xlog.Owner(sess.id), slog.String("reason", reason))
}

// Session 返回当前会话，并以 PING 确认 redis 可达。
func (c *RedisClient) Session(ctx context.Context) (Session, error) {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("xcoord: ping: %w: %w", ErrUnavailable, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	return c.sessionLocked(), nil
}

// CreateEphemeral 以 SET NX PX 创建节点并纳入会话续期。
func (c *RedisClient) CreateEphemeral(ctx context.Context, path string, data []byte) (Session, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	sess := c.sessionLocked()
	c.mu.Unlock()

	created, err := c.rdb.SetNX(ctx, path, data, c.ttl).Result()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !sess.alive() {
		return nil, ErrSessionExpired
	}
	switch {
	case err != nil:
		if _, tracked := sess.nodes[path]; !tracked {
			sess.nodes[path] = &redisNode{data: bytes.Clone(data)}
		}
		return nil, fmt.Errorf("xcoord: create %s: %w: %w", path, ErrUnavailable, err)
	case !created:
		return nil, ErrNodeExists
	}
	sess.nodes[path] = &redisNode{data: bytes.Clone(data), confirmed: true}
	return sess, nil
}

// Get 读取节点。
func (c *RedisClient) Get(ctx context.Context, path string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, path).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrNoNode
	case err != nil:
		return nil, fmt.Errorf("xcoord: get %s: %w: %w", path, ErrUnavailable, err)
	}
	return data, nil
}

// Exists 判断节点是否存在。
func (c *RedisClient) Exists(ctx context.Context, path string) (bool, error) {
	n, err := c.rdb.Exists(ctx, path).Result()
	if err != nil {
		return false, fmt.Errorf("xcoord: exists %s: %w: %w", path, ErrUnavailable, err)
	}
	return n > 0, nil
}

// CompareAndDelete 以 Lua 脚本比较并删除节点。
func (c *RedisClient) CompareAndDelete(ctx context.Context, path string, expected []byte) (bool, error) {
	n, err := compareDeleteScript.Run(ctx, c.rdb, []string{path}, expected).Int()
	if err != nil {
		return false, fmt.Errorf("xcoord: delete %s: %w: %w", path, ErrUnavailable, err)
	}
	c.mu.Lock()
	if c.session != nil {
		if node, ok := c.session.nodes[path]; ok && bytes.Equal(node.data, expected) {
			delete(c.session.nodes, path)
		}
	}
	c.mu.Unlock()
	return n == 1, nil
}

// List 遍历前缀下的键。结果不是快照：遍历期间变化的键可能缺失或多出。
func (c *RedisClient) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	var keys []string
	scan := func(ctx context.Context, rdb redis.Cmdable) error {
		iter := rdb.Scan(ctx, 0, escapeGlob(prefix)+"*", 256).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		return iter.Err()
	}

	var err error
	if cc, ok := c.rdb.(*redis.ClusterClient); ok {
		var mu sync.Mutex
		err = cc.ForEachMaster(ctx, func(ctx context.Context, shard *redis.Client) error {
			mu.Lock()
			defer mu.Unlock()
			return scan(ctx, shard)
		})
	} else {
		err = scan(ctx, c.rdb)
	}
	if err != nil {
		return nil, fmt.Errorf("xcoord: list %s: %w: %w", prefix, ErrUnavailable, err)
	}

	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}
	pipe := c.rdb.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(keys))
	for _, key := range keys {
		cmds[key] = pipe.Get(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xcoord: list %s: %w: %w", prefix, ErrUnavailable, err)
	}
	for key, cmd := range cmds {
		if data, err := cmd.Bytes(); err == nil {
			result[key] = data
		}
	}
	return result, nil
}

// Watch 不支持。
func (c *RedisClient) Watch(context.Context, string) (<-chan Event, error) {
	return nil, ErrWatchUnsupported
}

// Close 停止续期并删除会话节点。
func (c *RedisClient) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	if sess != nil {
		close(sess.stop)
	}
	c.wg.Wait()
	if sess == nil {
		return nil
	}

	c.mu.Lock()
	alive := sess.expire()
	nodes := maps.Clone(sess.nodes)
	c.mu.Unlock()
	if !alive {
		return nil
	}

	var errs []error
	for path, n := range nodes {
		if err := compareDeleteScript.Run(ctx, c.rdb, []string{path}, n.data).Err(); err != nil {
			errs = append(errs, fmt.Errorf("xcoord: delete %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// escapeGlob 转义 SCAN MATCH 的通配符。
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
