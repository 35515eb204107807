package xetcd

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Get 获取键值，键不存在返回 ErrKeyNotFound。
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	value, _, err := c.GetWithRevision(ctx, key)
	return value, err
}

// GetWithRevision 获取键值和 ModRevision，供 CompareAndSwap 使用。
func (c *Client) GetWithRevision(ctx context.Context, key string) ([]byte, int64, error) {
	if err := c.check(ctx, key); err != nil {
		return nil, 0, err
	}
	resp, err := c.client.Get(ctx, key)
	if err != nil {
		return nil, 0, fmt.Errorf("xetcd: get %q: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, ErrKeyNotFound
	}
	kv := resp.Kvs[0]
	return kv.Value, kv.ModRevision, nil
}

// Put 写入键值。
func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	if err := c.check(ctx, key); err != nil {
		return err
	}
	if _, err := c.client.Put(ctx, key, string(value)); err != nil {
		return fmt.Errorf("xetcd: put %q: %w", key, err)
	}
	return nil
}

// Create 仅当键不存在时写入，已存在返回 ErrKeyExists。
func (c *Client) Create(ctx context.Context, key string, value []byte) error {
	if err := c.check(ctx, key); err != nil {
		return err
	}
	resp, err := c.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(value))).
		Commit()
	if err != nil {
		return fmt.Errorf("xetcd: create %q: %w", key, err)
	}
	if !resp.Succeeded {
		return ErrKeyExists
	}
	return nil
}

// CompareAndSwap 仅当键的 ModRevision 等于 revision 时写入。
//
// 键已被其他写者修改或删除时返回 ErrRevisionMismatch。
func (c *Client) CompareAndSwap(ctx context.Context, key string, value []byte, revision int64) error {
	if err := c.check(ctx, key); err != nil {
		return err
	}
	resp, err := c.client.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(key), "=", revision)).
		Then(clientv3.OpPut(key, string(value))).
		Commit()
	if err != nil {
		return fmt.Errorf("xetcd: cas %q: %w", key, err)
	}
	if !resp.Succeeded {
		return ErrRevisionMismatch
	}
	return nil
}

// Delete 删除键值，键不存在时不返回错误。
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.check(ctx, key); err != nil {
		return err
	}
	if _, err := c.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("xetcd: delete %q: %w", key, err)
	}
	return nil
}

// DeleteIfExists 删除键值，返回是否确实删除了键。
func (c *Client) DeleteIfExists(ctx context.Context, key string) (bool, error) {
	if err := c.check(ctx, key); err != nil {
		return false, err
	}
	resp, err := c.client.Delete(ctx, key)
	if err != nil {
		return false, fmt.Errorf("xetcd: delete %q: %w", key, err)
	}
	return resp.Deleted > 0, nil
}

// List 列出前缀下的全部键值。
//
// 一次性加载到内存，前缀下键数量很大时请使用 RawClient 分页。
func (c *Client) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	if err := c.check(ctx, prefix); err != nil {
		return nil, err
	}
	resp, err := c.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("xetcd: list %q: %w", prefix, err)
	}
	result := make(map[string][]byte, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		result[string(kv.Key)] = kv.Value
	}
	return result, nil
}

// Exists 检查键是否存在。
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if err := c.check(ctx, key); err != nil {
		return false, err
	}
	resp, err := c.client.Get(ctx, key, clientv3.WithCountOnly())
	if err != nil {
		return false, fmt.Errorf("xetcd: exists %q: %w", key, err)
	}
	return resp.Count > 0, nil
}

func (c *Client) check(ctx context.Context, key string) error {
	if err := c.checkPreconditions(ctx); err != nil {
		return err
	}
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}
