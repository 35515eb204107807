package xetcd

import (
	"context"
	"errors"
	"fmt"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EventType 事件类型。
type EventType int

const (
	// EventPut 写入事件。
	EventPut EventType = iota
	// EventDelete 删除事件。
	EventDelete
	// EventUnknown 未知事件类型，防止新类型被静默当作 EventPut。
	EventUnknown EventType = -1
)

// String 返回事件类型的字符串表示。
func (e EventType) String() string {
	switch e {
	case EventPut:
		return "PUT"
	case EventDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", e)
	}
}

// Event Watch 事件。
type Event struct {
	Type  EventType
	Key   string
	Value []byte // Delete 事件时为 nil

	// Revision 事件的 ModRevision；错误事件中为最后成功分发的版本。
	Revision int64

	// Error 非 nil 表示 Watch 失败，之后通道关闭。
	Error error
}

// DefaultWatchBufferSize 默认事件通道缓冲区大小。
const DefaultWatchBufferSize = 256

var errNilKv = errors.New("xetcd: watch event without kv")

type watchOptions struct {
	prefix     bool
	revision   int64
	bufferSize int
}

// WatchOption Watch 选项函数。
type WatchOption func(*watchOptions)

// WithPrefix 监听指定前缀下所有键的变化。
func WithPrefix() WatchOption {
	return func(o *watchOptions) { o.prefix = true }
}

// WithRevision 从指定版本开始 Watch。
func WithRevision(rev int64) WatchOption {
	return func(o *watchOptions) { o.revision = rev }
}

// WithBufferSize 设置事件通道缓冲区大小。
func WithBufferSize(size int) WatchOption {
	return func(o *watchOptions) {
		if size > 0 {
			o.bufferSize = size
		}
	}
}

// Watch 监听键值变化，ctx 取消或客户端关闭时通道关闭。
//
// 不自动重连：底层 watch 失败时先发送一个 Error 事件再关闭通道，
// 由调用方决定是否以 WithRevision(Revision+1) 重建。
func (c *Client) Watch(ctx context.Context, key string, opts ...WatchOption) (<-chan Event, error) {
	if err := c.check(ctx, key); err != nil {
		return nil, err
	}
	o := &watchOptions{bufferSize: DefaultWatchBufferSize}
	for _, opt := range opts {
		opt(o)
	}

	var etcdOpts []clientv3.OpOption
	if o.prefix {
		etcdOpts = append(etcdOpts, clientv3.WithPrefix())
	}
	if o.revision > 0 {
		etcdOpts = append(etcdOpts, clientv3.WithRev(o.revision))
	}

	eventCh := make(chan Event, o.bufferSize)
	watchCtx, cancel := context.WithCancel(ctx)
	c.watchWg.Go(func() {
		defer cancel()
		c.runWatchLoop(watchCtx, key, etcdOpts, eventCh)
	})
	return eventCh, nil
}

func (c *Client) runWatchLoop(ctx context.Context, key string, etcdOpts []clientv3.OpOption, eventCh chan<- Event) {
	defer close(eventCh)

	watchCh := c.client.Watch(ctx, key, etcdOpts...)
	var lastRevision int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		case resp, ok := <-watchCh:
			if !ok {
				return
			}
			if err := resp.Err(); err != nil {
				c.send(ctx, eventCh, Event{Error: err, Revision: lastRevision})
				return
			}
			for _, ev := range resp.Events {
				event := convertEvent(ev)
				if !c.send(ctx, eventCh, event) {
					return
				}
				lastRevision = event.Revision
			}
		}
	}
}

func (c *Client) send(ctx context.Context, eventCh chan<- Event, event Event) bool {
	select {
	case eventCh <- event:
		return true
	case <-ctx.Done():
		return false
	case <-c.closeCh:
		return false
	}
}

func convertEvent(ev *clientv3.Event) Event {
	if ev.Kv == nil {
		return Event{Type: EventUnknown, Error: errNilKv}
	}
	event := Event{Key: string(ev.Kv.Key), Revision: ev.Kv.ModRevision}
	switch ev.Type {
	case mvccpb.PUT:
		event.Type = EventPut
		event.Value = ev.Kv.Value
	case mvccpb.DELETE:
		event.Type = EventDelete
	default:
		event.Type = EventUnknown
		event.Value = ev.Kv.Value
	}
	return event
}
